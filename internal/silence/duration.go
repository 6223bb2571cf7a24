package silence

import (
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var durationRegex = regexp.MustCompile(`^(\d+)\s*([smhd])$`)

var unitSeconds = map[string]int64{
	"s": 1,
	"m": 60,
	"h": 3600,
	"d": 86400,
}

// ParseDurationToSeconds parses "<N>s|m|h|d" (case-insensitive, surrounding
// whitespace ignored). Empty, signed, zero and non-numeric input reports
// false. When maxDays > 0 the result is capped to maxDays days.
func ParseDurationToSeconds(text string, maxDays int) (int64, bool) {
	match := durationRegex.FindStringSubmatch(strings.ToLower(strings.TrimSpace(text)))
	if match == nil {
		return 0, false
	}
	unit := unitSeconds[match[2]]
	limit := int64(0)
	if maxDays > 0 {
		limit = int64(maxDays) * unitSeconds["d"]
	}
	n, err := strconv.ParseInt(match[1], 10, 64)
	if errors.Is(err, strconv.ErrRange) || (err == nil && n > math.MaxInt64/unit) {
		if limit > 0 {
			return limit, true
		}
		return 0, false
	}
	if err != nil || n <= 0 {
		return 0, false
	}
	seconds := n * unit
	if limit > 0 && seconds > limit {
		return limit, true
	}
	return seconds, true
}
