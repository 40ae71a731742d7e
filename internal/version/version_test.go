package version

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetMonotonicSameInstant(t *testing.T) {
	frozen := time.Unix(1_700_000_000, 123_000_000)
	orig := clockNow
	clockNow = func() time.Time { return frozen }
	defer func() { clockNow = orig }()

	lastSec, lastMilli = 0, -1

	first := Get()
	second := Get()
	third := Get()

	require.Less(t, first, second)
	require.Less(t, second, third)
}

// Suffixes end up inside object-names, so they must stay within the
// DNS-1123 alphabet: lowercase alphanumerics only.
func TestGetFormat(t *testing.T) {
	lastSec, lastMilli = 0, -1
	v := Get()
	assert.Regexp(t, `^[0-9a-z]{4,}-[0-9a-z]{2,}$`, v)
}

func TestEncodePadding(t *testing.T) {
	assert.Equal(t, "0000", encode(0, 36, 4))
	assert.Equal(t, "0001", encode(1, 36, 4))
	assert.Equal(t, "0z", encode(35, 36, 2))
}
