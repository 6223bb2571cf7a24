package storage

import (
	"context"
	"os"
	"testing"

	"predixaai-alert-engine/internal/alert"
	"predixaai-alert-engine/internal/rules"
)

func TestLookupDialect(t *testing.T) {
	cases := map[string]string{
		"mysql":      "mysql",
		"MariaDB":    "mysql",
		"postgres":   "postgres",
		"postgresql": "postgres",
		"mssql":      "sqlserver",
		"sqlserver":  "sqlserver",
	}
	for name, driver := range cases {
		d, err := lookupDialect(name)
		if err != nil {
			t.Fatalf("unexpected error for %s: %v", name, err)
		}
		if d.driver != driver {
			t.Fatalf("expected driver %s for %s, got %s", driver, name, d.driver)
		}
	}
	if _, err := lookupDialect(""); err == nil {
		t.Fatalf("expected error for empty driver")
	}
	if _, err := lookupDialect("oracle"); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
}

func TestInsertStatementPlaceholders(t *testing.T) {
	want := map[string]string{
		"mysql":    "INSERT INTO alert_log (ts_utc, name, severity, signature_hash, is_new_error, silenced, payload) VALUES (?, ?, ?, ?, ?, ?, ?)",
		"postgres": "INSERT INTO alert_log (ts_utc, name, severity, signature_hash, is_new_error, silenced, payload) VALUES ($1, $2, $3, $4, $5, $6, $7)",
		"mssql":    "INSERT INTO alert_log (ts_utc, name, severity, signature_hash, is_new_error, silenced, payload) VALUES (@p1, @p2, @p3, @p4, @p5, @p6, @p7)",
	}
	for name, stmt := range want {
		d, err := lookupDialect(name)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := insertStatement(d); got != stmt {
			t.Fatalf("%s: got %q", name, got)
		}
	}
}

func TestDecodeRuleRecordPrefersColumns(t *testing.T) {
	rec := RuleRecord{
		ID:       "db-id",
		Name:     "From column",
		Enabled:  false,
		RuleJSON: []byte(`{"rule_id":"json-id","name":"From json","enabled":true,"conditions":{"field":"severity","operator":"eq","value":"critical"},"actions":[{"type":"suppress"}]}`),
	}
	rule, err := DecodeRuleRecord(rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rule.ID != "db-id" || rule.Name != "From column" || rule.Enabled {
		t.Fatalf("columns must win: %+v", rule)
	}
	if len(rule.Actions) != 1 || rule.Actions[0].Type() != rules.ActionSuppress {
		t.Fatalf("unexpected actions: %+v", rule.Actions)
	}
	if _, err := DecodeRuleRecord(RuleRecord{ID: "bad", RuleJSON: []byte("{")}); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestMemoryAlertLogCopies(t *testing.T) {
	log := &MemoryAlertLog{}
	a := alert.Alert{"name": "x", "metadata": map[string]any{"k": "v"}}
	if err := log.Record(context.Background(), a); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a["metadata"].(map[string]any)["k"] = "changed"
	got := log.Alerts()
	if len(got) != 1 || got[0]["metadata"].(map[string]any)["k"] != "v" {
		t.Fatalf("recorded alert must be a snapshot: %v", got)
	}
}

func TestRuleRepositoryIntegration(t *testing.T) {
	dsn := os.Getenv("ALERTENGINE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("ALERTENGINE_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	store, err := NewStore(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer store.Close()
	repo := NewRuleRepository(store)

	rule := rules.FromMap(map[string]any{
		"rule_id":    "it-rule",
		"name":       "Integration",
		"conditions": map[string]any{"field": "error_rate", "operator": "gt", "value": 0.05},
		"actions":    []any{map[string]any{"type": "suppress"}},
	})
	if err := repo.UpsertRule(ctx, rule, 0); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, err := repo.GetRule(ctx, "it-rule")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !rules.Evaluate(got, alert.Alert{"error_rate": 0.08}).Matched {
		t.Fatalf("stored rule should still match")
	}
	if _, err := repo.GetRule(ctx, "missing-rule"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAlertLogIntegration(t *testing.T) {
	driver := os.Getenv("ALERTENGINE_TEST_ALERT_LOG_DRIVER")
	dsn := os.Getenv("ALERTENGINE_TEST_ALERT_LOG_DSN")
	if driver == "" || dsn == "" {
		t.Skip("ALERTENGINE_TEST_ALERT_LOG_DRIVER/DSN not set")
	}
	log, err := OpenAlertLog(context.Background(), driver, dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer log.Close()
	if err := log.Record(context.Background(), alert.Alert{"name": "it", "severity": "info", "silenced": true}); err != nil {
		t.Fatalf("record: %v", err)
	}
}
