package dm

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clockFunc func() (string, error)

func (f clockFunc) Timestamp() (string, error) { return f() }

// TestIDGenerator_NoClock tests the 24-digit counter-only format.
func TestIDGenerator_NoClock(t *testing.T) {
	g := newIDGenerator(nil)
	g.counter = 41

	id, ts := g.next()

	assert.Equal(t, "000000000000000000000042", id)
	assert.Empty(t, ts)
}

// TestIDGenerator_Clock tests the timestamp prefix and that the timestamp never goes backwards.
func TestIDGenerator_Clock(t *testing.T) {
	stamps := []string{"1700000000100", "1700000000050", "bad", "1700000000200"}
	var failNext bool
	i := 0
	g := newIDGenerator(clockFunc(func() (string, error) {
		if failNext {
			failNext = false
			return "", errors.New("no time")
		}
		s := stamps[i]
		i++
		return s, nil
	}))
	g.counter = 0

	id1, ts1 := g.next()
	id2, ts2 := g.next()
	id3, _ := g.next()
	failNext = true
	id4, _ := g.next()
	id5, ts5 := g.next()

	assert.Equal(t, "170000000010000000000001", id1)
	assert.Equal(t, "1700000000100", ts1)
	assert.Equal(t, "1700000000100", ts2)
	assert.Equal(t, "170000000010000000000002", id2)
	assert.Equal(t, "170000000010000000000003", id3)
	assert.Equal(t, "170000000010000000000004", id4)
	assert.Equal(t, "1700000000200", ts5)
	assert.Equal(t, "170000000020000000000005", id5)
}

// TestIDGenerator_ClockFailureFirst tests the zero timestamp used before any good reading.
func TestIDGenerator_ClockFailureFirst(t *testing.T) {
	g := newIDGenerator(clockFunc(func() (string, error) { return "", errors.New("no time") }))
	g.counter = 9

	id, ts := g.next()

	assert.Equal(t, zeroTimestamp, ts)
	assert.Equal(t, "000000000000000000000010", id)
}

// TestIDGenerator_Concurrent tests that concurrent callers get unique, per-caller increasing ids.
func TestIDGenerator_Concurrent(t *testing.T) {
	var tick atomic.Int64
	tick.Store(1700000000000)
	g := newIDGenerator(clockFunc(func() (string, error) {
		return formatTick(tick.Add(1) / 7), nil
	}))

	const workers, perWorker = 8, 250
	results := make([][]string, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id, _ := g.next()
				results[w] = append(results[w], id)
			}
		}(w)
	}
	wg.Wait()

	seen := make(map[string]struct{}, workers*perWorker)
	for _, ids := range results {
		require.Len(t, ids, perWorker)
		for i, id := range ids {
			assert.Len(t, id, 24)
			if i > 0 {
				assert.Greater(t, id, ids[i-1])
			}
			_, dup := seen[id]
			assert.False(t, dup, id)
			seen[id] = struct{}{}
		}
	}
	assert.Len(t, seen, workers*perWorker)
}

func formatTick(v int64) string {
	s := make([]byte, 13)
	for i := 12; i >= 0; i-- {
		s[i] = byte('0' + v%10)
		v /= 10
	}
	return string(s)
}
