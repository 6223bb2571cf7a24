package alert

import (
	"fmt"
	"strings"
)

// Alert is a normalized alert record. All fields are optional; stages of the
// pipeline add their own keys (signature, silenced flags) in place.
type Alert map[string]any

const (
	FieldName            = "name"
	FieldSeverity        = "severity"
	FieldAlertType       = "alert_type"
	FieldSummary         = "summary"
	FieldTimestamp       = "timestamp"
	FieldMetadata        = "metadata"
	FieldErrorType       = "error_type"
	FieldFile            = "file"
	FieldLine            = "line"
	FieldStackTrace      = "stack_trace"
	FieldSentryIssueID   = "sentry_issue_id"
	FieldSignature       = "error_signature"
	FieldSignatureHash   = "error_signature_hash"
	FieldIsNewError      = "is_new_error"
	FieldSilenced        = "silenced"
	FieldSilencedByRule  = "silenced_by_rule"
	FieldSilencedBy      = "silenced_by"
	FieldSilenceReason   = "silence_reason"
	FieldMatchedRules    = "matched_rules"
	FieldProcessedAtUnix = "processed_at"
)

func (a Alert) Name() string {
	return a.String(FieldName)
}

func (a Alert) Severity() string {
	return a.String(FieldSeverity)
}

// String returns the value at key rendered as a string, or "" when absent or nil.
func (a Alert) String(key string) string {
	v, ok := a[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func (a Alert) Bool(key string) bool {
	v, ok := a[key].(bool)
	return ok && v
}

// Lookup resolves a dotted path ("metadata.region") through nested maps.
func (a Alert) Lookup(path string) (any, bool) {
	if a == nil || path == "" {
		return nil, false
	}
	if v, ok := a[path]; ok {
		return v, true
	}
	parts := strings.Split(path, ".")
	var current any = map[string]any(a)
	for _, part := range parts {
		m, ok := asMap(current)
		if !ok {
			return nil, false
		}
		next, ok := m[part]
		if !ok {
			return nil, false
		}
		current = next
	}
	return current, true
}

// Clone returns a deep copy of the nested maps and slices so that a copy can
// be handed to a background worker without sharing mutable state.
func (a Alert) Clone() Alert {
	if a == nil {
		return nil
	}
	return Alert(cloneMap(a))
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case Alert:
		return m, true
	case map[string]any:
		return m, true
	default:
		return nil, false
	}
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case Alert:
		return Alert(cloneMap(t))
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}
