package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestClock tests offset handling and timestamp formatting.
func TestClock(t *testing.T) {
	base := time.UnixMilli(1700000000000)
	c := NewClock()
	c.now = func() time.Time { return base }

	ts, err := c.Timestamp()
	require.NoError(t, err)
	assert.Equal(t, "1700000000000", ts)

	c.SetTime(base.Add(90 * time.Second))
	assert.Equal(t, 90*time.Second, c.Offset())
	assert.Equal(t, base.Add(90*time.Second), c.Now())

	c.Reset()
	assert.Equal(t, base, c.Now())
}
