package testutil

import (
	"sync"
	"time"
)

// FrameTimes produces a deterministic sequence of frame times spaced by a
// fixed interval.
//
// Unlike a ticker, FrameTimes can be reset for test reuse. This enables the
// same scenario to run multiple times with identical frame times.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FrameTimes struct {
	mu       sync.Mutex
	interval time.Duration
	frame    int64
}

// NewFrameTimes creates a frame time sequence starting at frame 0.
//
// The first call to Next() returns one interval.
func NewFrameTimes(interval time.Duration) *FrameTimes {
	return &FrameTimes{interval: interval}
}

// Next advances one frame and returns its time.
func (f *FrameTimes) Next() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frame++
	return time.Duration(f.frame) * f.interval
}

// Current returns the time of the current frame without advancing.
func (f *FrameTimes) Current() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return time.Duration(f.frame) * f.interval
}

// Frame returns the current frame number.
func (f *FrameTimes) Frame() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frame
}

// Reset rewinds to frame 0.
func (f *FrameTimes) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frame = 0
}
