package testutil

import (
	"sync"
	"time"
)

// ManualFrames is a scheduler.FrameSource whose frames are pushed by the
// test. Tick blocks until the presentation loop has received the frame, so
// a test knows exactly which frame the loop is on.
type ManualFrames struct {
	times *FrameTimes
	c     chan time.Duration
	done  chan struct{}
	once  sync.Once
}

// NewManualFrames creates a manual frame source with the given interval.
func NewManualFrames(interval time.Duration) *ManualFrames {
	return &ManualFrames{
		times: NewFrameTimes(interval),
		c:     make(chan time.Duration),
		done:  make(chan struct{}),
	}
}

// Frames implements scheduler.FrameSource.
func (m *ManualFrames) Frames() <-chan time.Duration {
	return m.c
}

// Tick delivers the next frame and returns its time. It returns false if
// the source was stopped before the frame was received.
func (m *ManualFrames) Tick() (time.Duration, bool) {
	now := m.times.Next()
	select {
	case m.c <- now:
		return now, true
	case <-m.done:
		return now, false
	}
}

// Stop implements scheduler.FrameSource. Idempotent.
func (m *ManualFrames) Stop() {
	m.once.Do(func() { close(m.done) })
}
