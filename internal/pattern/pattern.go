// Package pattern compiles user-supplied regular expressions (silence
// patterns, rule regex leaves) with a match timeout so that a pathological
// expression cannot stall alert processing.
package pattern

import (
	"sync"
	"time"

	"github.com/dlclark/regexp2"
)

const MatchTimeout = 100 * time.Millisecond

var cache sync.Map

// Compile returns a cached, timeout-guarded regexp for expr.
func Compile(expr string) (*regexp2.Regexp, error) {
	if re, ok := cache.Load(expr); ok {
		return re.(*regexp2.Regexp), nil
	}
	re, err := regexp2.Compile(expr, regexp2.None)
	if err != nil {
		return nil, err
	}
	re.MatchTimeout = MatchTimeout
	cache.Store(expr, re)
	return re, nil
}

// Search reports whether expr matches anywhere in s. Invalid expressions and
// timeouts report false.
func Search(expr, s string) bool {
	re, err := Compile(expr)
	if err != nil {
		return false
	}
	ok, err := re.MatchString(s)
	return err == nil && ok
}
