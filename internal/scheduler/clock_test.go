package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFrameClock_Advance(t *testing.T) {
	c := NewFrameClock()
	assert.Equal(t, time.Duration(0), c.Now())

	assert.Equal(t, int64(1), c.Advance(16*time.Millisecond))
	assert.Equal(t, 16*time.Millisecond, c.Now())

	assert.Equal(t, int64(2), c.Advance(32*time.Millisecond))
	assert.Equal(t, int64(2), c.Frame())
}

func TestFrameClock_Monotonic(t *testing.T) {
	c := NewFrameClock()
	c.Advance(50 * time.Millisecond)
	c.Advance(20 * time.Millisecond)

	assert.Equal(t, 50*time.Millisecond, c.Now(), "frame time never goes backwards")
	assert.Equal(t, int64(2), c.Frame())
}

func TestSettleState_String(t *testing.T) {
	assert.Equal(t, "dormant", Dormant.String())
	assert.Equal(t, "active", Active.String())
	assert.Equal(t, "awaiting_recheck", AwaitingRecheck.String())
	assert.Equal(t, "unknown", SettleState(42).String())
}

func TestTickerFrames_DeliversIncreasingTimes(t *testing.T) {
	f := NewTickerFrames(time.Millisecond)
	defer f.Stop()

	var prev time.Duration
	for i := 0; i < 3; i++ {
		select {
		case now := <-f.Frames():
			assert.Greater(t, now, prev)
			prev = now
		case <-time.After(time.Second):
			t.Fatal("no frame delivered")
		}
	}

	f.Stop()
	f.Stop()
}
