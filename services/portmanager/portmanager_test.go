package portmanager

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewParsesSinglePortsAndRanges(t *testing.T) {
	pm := New([]string{"9000", "9010-9012"})
	assert.Equal(t, 4, pm.Size(), "expected 4 ports (9000, 9010, 9011, 9012)")
}

func TestNewSkipsMalformedRanges(t *testing.T) {
	cases := []string{
		"1024",      // must be > 1024
		"80",        // well below 1024
		"notaport",  // non-numeric
		"9020-9010", // reversed range
		"70000",     // exceeds 65535
	}
	for _, spec := range cases {
		pm := New([]string{spec})
		assert.Zero(t, pm.Size(), "spec %q: expected 0 usable ports", spec)
	}
}

func TestNewDedupesOverlappingRanges(t *testing.T) {
	pm := New([]string{"9000-9002", "9002-9004"})
	assert.Equal(t, 5, pm.Size(), "expected 5 distinct ports")
}

func TestLockNextAndUnlock(t *testing.T) {
	pm := New([]string{"9000-9001"})

	first, ok := pm.LockNext()
	require.True(t, ok, "expected a port to be available")
	second, ok := pm.LockNext()
	require.True(t, ok, "expected a second port to be available")
	assert.NotEqual(t, first, second, "LockNext must not hand out the same port twice")

	_, ok = pm.LockNext()
	assert.False(t, ok, "expected the pool to be exhausted")

	pm.Unlock(first)
	third, ok := pm.LockNext()
	require.True(t, ok)
	assert.Equal(t, first, third, "expected unlocking to make the port available again")
}

func TestUnlockUnknownPortIsNoop(t *testing.T) {
	pm := New([]string{"9000"})
	pm.Unlock(12345) // should not panic or affect state
	assert.Equal(t, 1, pm.Size())
}
