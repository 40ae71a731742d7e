// Package version produces short, monotonic-per-process version suffixes
// used to distinguish successive clones of the same logical model or
// endpoint config object.
package version

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// charset extends past base 36; only the first 36 symbols are reachable at
// the radix Get uses, but the full table lets a caller widen the radix
// without changing the alphabet.
const charset = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz+/"

// encode renders number in the given base, left-padded with '0' to at least
// digits characters. number must be non-negative. Up to base 36 the result
// is lowercased: the suffix ends up inside Kubernetes object-names, which
// must be DNS-1123 and reject uppercase.
func encode(number int64, base int, digits int) string {
	if number == 0 {
		return pad("0", digits)
	}
	buf := make([]byte, 0, digits)
	for number > 0 {
		buf = append(buf, charset[number%int64(base)])
		number /= int64(base)
	}
	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	s := pad(string(buf), digits)
	if base < 37 {
		return strings.ToLower(s)
	}
	return s
}

func pad(s string, digits int) string {
	for len(s) < digits {
		s = "0" + s
	}
	return s
}

var (
	mu        sync.Mutex
	lastSec   int64
	lastMilli int64
)

// clockNow is overridable in tests.
var clockNow = func() time.Time { return time.Now() }

// Get returns "{A}-{B}" where A is the integer wall-clock second encoded in
// base 36 (padded to 4 digits) and B is the millisecond fraction of that
// second, also base 36 (padded to 2 digits). Within a single process,
// successive calls are guaranteed strictly increasing under lexicographic
// order: if two calls land in the same millisecond, the counter is bumped
// (carrying into the second component) so no two calls ever collide.
func Get() string {
	mu.Lock()
	defer mu.Unlock()

	now := clockNow()
	sec := now.Unix()
	milli := int64(now.Nanosecond() / 1_000_000)

	if sec < lastSec || (sec == lastSec && milli <= lastMilli) {
		milli = lastMilli + 1
		sec = lastSec
		if milli >= 1000 {
			milli = 0
			sec++
		}
	}

	lastSec = sec
	lastMilli = milli

	return fmt.Sprintf("%s-%s", encode(sec, 36, 4), encode(milli, 36, 2))
}
