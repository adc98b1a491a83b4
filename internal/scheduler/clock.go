package scheduler

import (
	"sync/atomic"
	"time"
)

// FrameClock holds the current frame time, refreshed once per rendering
// frame by the presentation loop.
//
// Frame time is monotonic: an Advance with an earlier time than the current
// one is clamped so the settle gap can never go negative.
//
// Thread-safety: reads are safe from any goroutine (atomic). Only the
// presentation loop calls Advance.
type FrameClock struct {
	now    atomic.Int64
	frames atomic.Int64
}

// NewFrameClock creates a clock at frame 0, time 0.
func NewFrameClock() *FrameClock {
	return &FrameClock{}
}

// Advance publishes the time of a new frame and returns the frame number.
func (c *FrameClock) Advance(now time.Duration) int64 {
	if now < c.Now() {
		now = c.Now()
	}
	c.now.Store(int64(now))
	return c.frames.Add(1)
}

// Now returns the current frame time.
func (c *FrameClock) Now() time.Duration {
	return time.Duration(c.now.Load())
}

// Frame returns the number of frames advanced so far.
func (c *FrameClock) Frame() int64 {
	return c.frames.Load()
}
