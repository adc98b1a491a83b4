package testutil

import (
	"sync"
	"time"

	"github.com/roach88/propsync/internal/props"
	"github.com/roach88/propsync/internal/scheduler"
)

// Settle is one recorded settle notification.
type Settle struct {
	Target scheduler.TargetID
	Props  props.Map
	Seq    uint64
}

// Recorder collects settle notifications and drops from any goroutine.
//
// Thread-safety: All methods are safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	settles []Settle
	drops   []scheduler.Drop
	signal  chan struct{}
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{signal: make(chan struct{}, 1)}
}

// Settled implements scheduler.Notifier.
func (r *Recorder) Settled(id scheduler.TargetID, final props.Map, seq uint64) {
	r.mu.Lock()
	r.settles = append(r.settles, Settle{Target: id, Props: final, Seq: seq})
	r.mu.Unlock()
	r.notify()
}

// Dropped is a scheduler.DropHandler.
func (r *Recorder) Dropped(d *scheduler.Drop) {
	r.mu.Lock()
	r.drops = append(r.drops, *d)
	r.mu.Unlock()
	r.notify()
}

func (r *Recorder) notify() {
	select {
	case r.signal <- struct{}{}:
	default:
	}
}

// Settles returns a copy of the recorded settle notifications.
func (r *Recorder) Settles() []Settle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Settle(nil), r.settles...)
}

// Drops returns a copy of the recorded drops.
func (r *Recorder) Drops() []scheduler.Drop {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]scheduler.Drop(nil), r.drops...)
}

// WaitSettles blocks until at least n settle notifications were recorded
// or the timeout expires. It reports whether n was reached.
func (r *Recorder) WaitSettles(n int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		r.mu.Lock()
		got := len(r.settles)
		r.mu.Unlock()
		if got >= n {
			return true
		}
		select {
		case <-r.signal:
		case <-deadline:
			return false
		}
	}
}
