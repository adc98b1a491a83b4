package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameTimes_StartsAtZero(t *testing.T) {
	f := NewFrameTimes(16 * time.Millisecond)
	assert.Equal(t, time.Duration(0), f.Current())
	assert.Equal(t, int64(0), f.Frame())
}

func TestFrameTimes_NextAdvancesByInterval(t *testing.T) {
	f := NewFrameTimes(16 * time.Millisecond)

	assert.Equal(t, 16*time.Millisecond, f.Next())
	assert.Equal(t, 32*time.Millisecond, f.Next())
	assert.Equal(t, 48*time.Millisecond, f.Next())
	assert.Equal(t, 48*time.Millisecond, f.Current())
	assert.Equal(t, int64(3), f.Frame())
}

func TestFrameTimes_Reset(t *testing.T) {
	f := NewFrameTimes(10 * time.Millisecond)
	f.Next()
	f.Next()

	f.Reset()
	assert.Equal(t, time.Duration(0), f.Current())
	assert.Equal(t, 10*time.Millisecond, f.Next())
}

func TestFrameTimes_ThreadSafe(t *testing.T) {
	f := NewFrameTimes(time.Millisecond)
	const goroutines = 50
	const calls = 100

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[time.Duration]bool)

	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < calls; j++ {
				v := f.Next()
				mu.Lock()
				require.False(t, seen[v], "duplicate frame time %s", v)
				seen[v] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, goroutines*calls)
}
