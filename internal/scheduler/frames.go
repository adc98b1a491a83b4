package scheduler

import (
	"sync"
	"time"
)

// FrameSource delivers rendering frame boundaries as monotonic frame times.
type FrameSource interface {
	Frames() <-chan time.Duration
	Stop()
}

// TickerFrames is a FrameSource driven by time.Ticker. Frame times are the
// elapsed time since the source was created.
type TickerFrames struct {
	ticker *time.Ticker
	start  time.Time
	out    chan time.Duration
	done   chan struct{}
	once   sync.Once
}

// NewTickerFrames starts a ticker-backed frame source.
func NewTickerFrames(interval time.Duration) *TickerFrames {
	f := &TickerFrames{
		ticker: time.NewTicker(interval),
		start:  time.Now(),
		out:    make(chan time.Duration, 1),
		done:   make(chan struct{}),
	}
	go f.loop()
	return f
}

func (f *TickerFrames) loop() {
	for {
		select {
		case <-f.done:
			return
		case t := <-f.ticker.C:
			// Skip the frame if the consumer is behind; a late frame carries
			// a later time anyway.
			select {
			case f.out <- t.Sub(f.start):
			default:
			}
		}
	}
}

// Frames implements FrameSource.
func (f *TickerFrames) Frames() <-chan time.Duration {
	return f.out
}

// Stop implements FrameSource. Idempotent.
func (f *TickerFrames) Stop() {
	f.once.Do(func() {
		f.ticker.Stop()
		close(f.done)
	})
}
