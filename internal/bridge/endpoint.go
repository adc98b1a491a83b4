package bridge

import (
	"github.com/roach88/propsync/internal/props"
	"github.com/roach88/propsync/internal/queue"
	"github.com/roach88/propsync/internal/scheduler"
)

type eventKind uint8

const (
	eventSettled eventKind = iota + 1
	eventDropped
)

// event crosses from the presentation goroutine to the interaction goroutine.
type event struct {
	kind   eventKind
	target scheduler.TargetID
	props  props.Map
	seq    uint64
	drop   scheduler.Drop
}

// Endpoint is the presentation-side end of the backward channel. It
// implements scheduler.Notifier and its Dropped method is a
// scheduler.DropHandler.
//
// Thread-safety: safe for concurrent use. Neither method blocks; the
// backward queue is unbounded.
type Endpoint struct {
	q *queue.Queue[event]
}

// NewEndpoint creates an endpoint with an empty backward queue.
func NewEndpoint() *Endpoint {
	return &Endpoint{q: queue.New[event]()}
}

// Settled implements scheduler.Notifier.
func (e *Endpoint) Settled(id scheduler.TargetID, final props.Map, seq uint64) {
	e.q.Enqueue(event{kind: eventSettled, target: id, props: final, seq: seq})
}

// Dropped forwards a dropped operation to the interaction side.
func (e *Endpoint) Dropped(d *scheduler.Drop) {
	e.q.Enqueue(event{kind: eventDropped, target: d.Target, drop: *d})
}

// Len returns the number of notifications waiting to be pumped.
func (e *Endpoint) Len() int {
	return e.q.Len()
}
