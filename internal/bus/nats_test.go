package bus

import (
	"encoding/json"
	"testing"
	"time"

	"predixaai-alert-engine/internal/alert"
)

func TestDecodeAlert(t *testing.T) {
	a, err := DecodeAlert([]byte(`{"name":"High Latency","error_rate":0.08,"metadata":{"region":"eu"}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Name() != "High Latency" {
		t.Fatalf("unexpected name %q", a.Name())
	}
	if v, ok := a.Lookup("metadata.region"); !ok || v != "eu" {
		t.Fatalf("nested field lost: %v", v)
	}
	for _, bad := range []string{`null`, `[1,2]`, `{"name":`, `"text"`} {
		if _, err := DecodeAlert([]byte(bad)); err == nil {
			t.Fatalf("expected error for %s", bad)
		}
	}
}

func TestDecodeAlertKeepsIntegerPrecision(t *testing.T) {
	a, err := DecodeAlert([]byte(`{"sentry_issue_id":9007199254740993}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := a.String("sentry_issue_id"); got != "9007199254740993" {
		t.Fatalf("id lost precision: %s", got)
	}
}

func TestProcessedEventJSON(t *testing.T) {
	evt := ProcessedEvent{
		Name:         "x",
		Silenced:     true,
		MatchedRules: []string{"r1"},
		ProcessedAt:  time.Unix(0, 0).UTC(),
		Alert:        alert.Alert{"name": "x"},
	}
	data, err := json.Marshal(evt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decoded["silenced"] != true || decoded["processed_at"] != "1970-01-01T00:00:00Z" {
		t.Fatalf("unexpected event: %s", data)
	}
}
