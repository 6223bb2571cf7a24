package signature

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"predixaai-alert-engine/internal/alert"
)

const (
	hashLength       = 16
	stackLineCount   = 3
	pathSuffixLength = 2
	// MaxSearchDepth bounds the walk for sentry ids inside nested payloads.
	MaxSearchDepth = 32
)

var sentryKeys = []string{"sentry_issue_id", "sentryIssueId", "sentry_id"}

var (
	addrRe       = regexp.MustCompile(`(?i)\b0x[0-9a-f]+\b`)
	winPathRe    = regexp.MustCompile(`[A-Za-z]:\\[^\s"'(),]+`)
	unixPathRe   = regexp.MustCompile(`(?:/[^/\s"'(),:]+){2,}`)
	lineWordRe   = regexp.MustCompile(`(?i)\bline\s+\d+`)
	lineSuffixRe = regexp.MustCompile(`(\.[A-Za-z0-9]+):\d+(?::\d+)?`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// Compute returns the 16-hex-char signature for an alert, or "" when the
// alert carries no sentry id and no usable error detail. It never panics on
// malformed input.
func Compute(a alert.Alert) string {
	hash, _ := compute(a)
	return hash
}

// compute also reports whether the sentry id search was cut off at
// MaxSearchDepth.
func compute(a alert.Alert) (string, bool) {
	if a == nil {
		return "", false
	}
	var truncated bool
	if id, ok := findSentryID(map[string]any(a), 0, &truncated); ok {
		return hashString("sentry:" + id), truncated
	}
	errType := strings.TrimSpace(a.String(alert.FieldErrorType))
	file := normalizeFile(a.String(alert.FieldFile))
	frames := stackFrames(a.String(alert.FieldStackTrace))
	parts := append([]string{errType, file}, frames...)
	if errType == "" && file == "" && len(frames) == 0 {
		// The line number alone only says that some error happened; its value
		// is volatile and never part of the hash.
		if strings.TrimSpace(a.String(alert.FieldLine)) == "" {
			return "", truncated
		}
		parts = append(parts, "line")
	}
	return hashString(strings.Join(parts, "|")), truncated
}

// FindSentryID walks nested maps and slices looking for a sentry issue id.
// Whitespace-only values are ignored. The walk stops at MaxSearchDepth.
func FindSentryID(v any) (string, bool) {
	var truncated bool
	return findSentryID(v, 0, &truncated)
}

func findSentryID(v any, depth int, truncated *bool) (string, bool) {
	if depth > MaxSearchDepth {
		*truncated = true
		return "", false
	}
	switch t := v.(type) {
	case alert.Alert:
		return findInMap(t, depth, truncated)
	case map[string]any:
		return findInMap(t, depth, truncated)
	case []any:
		for _, item := range t {
			if id, ok := findSentryID(item, depth+1, truncated); ok {
				return id, true
			}
		}
	case []map[string]any:
		for _, item := range t {
			if id, ok := findSentryID(item, depth+1, truncated); ok {
				return id, true
			}
		}
	}
	return "", false
}

func findInMap(m map[string]any, depth int, truncated *bool) (string, bool) {
	for _, key := range sentryKeys {
		if id, ok := idValue(m[key]); ok {
			return id, true
		}
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch m[k].(type) {
		case alert.Alert, map[string]any, []any, []map[string]any:
			if id, ok := findSentryID(m[k], depth+1, truncated); ok {
				return id, true
			}
		}
	}
	return "", false
}

func idValue(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		s := strings.TrimSpace(t)
		return s, s != ""
	case int, int32, int64, uint, uint32, uint64:
		return fmt.Sprint(t), true
	case json.Number:
		s := strings.TrimSpace(t.String())
		return s, s != ""
	case float64:
		return fmt.Sprintf("%.0f", t), true
	default:
		return "", false
	}
}

// NormalizeStackLine strips memory addresses, collapses absolute paths to a
// stable suffix and drops line numbers.
func NormalizeStackLine(line string) string {
	out := addrRe.ReplaceAllString(line, "0x?")
	out = winPathRe.ReplaceAllStringFunc(out, collapsePath)
	out = unixPathRe.ReplaceAllStringFunc(out, collapsePath)
	out = lineWordRe.ReplaceAllString(out, "line ?")
	out = lineSuffixRe.ReplaceAllString(out, "$1")
	out = whitespaceRe.ReplaceAllString(out, " ")
	return strings.TrimSpace(out)
}

func stackFrames(trace string) []string {
	if strings.TrimSpace(trace) == "" {
		return nil
	}
	frames := make([]string, 0, stackLineCount)
	for _, raw := range strings.Split(trace, "\n") {
		line := NormalizeStackLine(raw)
		if line == "" {
			continue
		}
		frames = append(frames, line)
		if len(frames) == stackLineCount {
			break
		}
	}
	return frames
}

func normalizeFile(file string) string {
	file = strings.TrimSpace(file)
	if file == "" {
		return ""
	}
	file = lineSuffixRe.ReplaceAllString(file, "$1")
	if strings.ContainsAny(file, `/\`) {
		return collapsePath(file)
	}
	return file
}

func collapsePath(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	segments := make([]string, 0, 8)
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	if len(segments) > pathSuffixLength {
		segments = segments[len(segments)-pathSuffixLength:]
	}
	return strings.Join(segments, "/")
}

func hashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:hashLength]
}
