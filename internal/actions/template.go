package actions

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"predixaai-alert-engine/internal/alert"
	"predixaai-alert-engine/internal/rules"
)

var placeholderRegex = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

const ellipsis = "…"

// TemplateData is the lookup space for placeholders: alert fields plus the
// matched rule's metadata.
type TemplateData struct {
	Alert  alert.Alert
	Result rules.EvaluationResult
}

func (d TemplateData) lookup(key string) (any, bool) {
	switch key {
	case "rule_id":
		return d.Result.RuleID, true
	case "rule_name":
		return d.Result.RuleName, true
	case "triggered_conditions":
		return strings.Join(d.Result.TriggeredConditions, ", "), true
	}
	return d.Alert.Lookup(key)
}

// Render replaces {{field}} placeholders. Unknown placeholders stay as
// written. Values are inserted whole unless maxLen > 0, in which case each
// value longer than maxLen runes is cut and suffixed with an ellipsis.
func Render(tmpl string, data TemplateData, maxLen int) string {
	return placeholderRegex.ReplaceAllStringFunc(tmpl, func(token string) string {
		key := placeholderRegex.FindStringSubmatch(token)[1]
		v, ok := data.lookup(key)
		if !ok {
			return token
		}
		return truncate(formatValue(v), maxLen)
	})
}

// RenderPayload renders every string inside a JSON-like template. A nil
// template produces the default webhook body.
func RenderPayload(tmpl any, data TemplateData) any {
	if tmpl == nil {
		return map[string]any{
			"rule_id":              data.Result.RuleID,
			"rule_name":            data.Result.RuleName,
			"triggered_conditions": data.Result.TriggeredConditions,
			"alert":                map[string]any(data.Alert),
		}
	}
	return renderValue(tmpl, data)
}

func renderValue(v any, data TemplateData) any {
	switch t := v.(type) {
	case string:
		// A template that is exactly one placeholder keeps the value's type.
		if m := placeholderRegex.FindStringSubmatch(t); m != nil && m[0] == strings.TrimSpace(t) {
			if val, ok := data.lookup(m[1]); ok {
				return val
			}
		}
		return Render(t, data, 0)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = renderValue(val, data)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = renderValue(val, data)
		}
		return out
	default:
		return v
	}
}

func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []string:
		return strings.Join(t, ", ")
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			parts = append(parts, formatValue(item))
		}
		return strings.Join(parts, ", ")
	case map[string]any, alert.Alert:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(data)
	default:
		return fmt.Sprint(t)
	}
}

func truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 1 {
		return ellipsis
	}
	return string(runes[:maxLen-1]) + ellipsis
}

// IssueBody builds the markdown body for a created issue: a summary, the
// triggered conditions as a checklist, the rendered custom body and the
// alert details including any stack trace.
func IssueBody(data TemplateData, custom string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Alert:** %s\n", data.Alert.Name())
	if sev := data.Alert.Severity(); sev != "" {
		fmt.Fprintf(&b, "**Severity:** %s\n", sev)
	}
	fmt.Fprintf(&b, "**Rule:** %s (`%s`)\n", data.Result.RuleName, data.Result.RuleID)
	if sig := data.Alert.String(alert.FieldSignatureHash); sig != "" {
		fmt.Fprintf(&b, "**Signature:** `%s`\n", sig)
	}
	b.WriteString("\n### Triggered conditions\n")
	if len(data.Result.TriggeredConditions) == 0 {
		b.WriteString("- (none recorded)\n")
	}
	for _, cond := range data.Result.TriggeredConditions {
		fmt.Fprintf(&b, "- ✅ `%s`\n", cond)
	}
	if custom = strings.TrimSpace(Render(custom, data, 0)); custom != "" {
		b.WriteString("\n")
		b.WriteString(custom)
		b.WriteString("\n")
	}
	if trace := data.Alert.String(alert.FieldStackTrace); trace != "" {
		b.WriteString("\n### Stack trace\n```\n")
		b.WriteString(trace)
		b.WriteString("\n```\n")
	}
	b.WriteString("\n### Details\n")
	keys := make([]string, 0, len(data.Alert))
	for k := range data.Alert {
		if k == alert.FieldStackTrace {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "- **%s:** %s\n", k, formatValue(data.Alert[k]))
	}
	return b.String()
}
