package bridge

import (
	"context"
	"log/slog"
	"sync"

	"github.com/roach88/propsync/internal/props"
	"github.com/roach88/propsync/internal/scheduler"
)

// Submitter is the forward entry point of the presentation runtime.
// *scheduler.Scheduler implements it.
type Submitter interface {
	EnqueueBatch(updates []scheduler.Update) bool
}

// SettledFunc receives the final property map of a settled target.
type SettledFunc func(id scheduler.TargetID, final props.Map)

// DropFunc receives an operation the scheduler skipped.
type DropFunc func(d scheduler.Drop)

// completion is a callback waiting for the settle of update seq, or of any
// later update of the same target.
type completion struct {
	seq uint64
	fn  SettledFunc
}

// Client is the interaction-side handle of the bridge.
//
// Every update is stamped with a per-target sequence number. A settle
// notification carries the sequence of the update it settled on and
// completes exactly the callbacks registered at or before it, so a
// notification still in flight when a new animation starts never reaches
// the new animation's callback.
//
// Thread-safety: Update, UpdateBatch, Forget, OnSettled, OnDrop and Close
// may be called from any goroutine. Callbacks and listeners run on the
// goroutine calling Run or Dispatch.
type Client struct {
	sched    Submitter
	endpoint *Endpoint
	logger   *slog.Logger

	mu        sync.Mutex
	seqs      map[scheduler.TargetID]uint64
	callbacks map[scheduler.TargetID][]completion
	onSettled []SettledFunc
	onDrop    []DropFunc

	buf []event
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// New creates a client that submits to sched and pumps notifications
// delivered to endpoint.
func New(sched Submitter, endpoint *Endpoint, opts ...Option) *Client {
	c := &Client{
		sched:     sched,
		endpoint:  endpoint,
		logger:    slog.Default(),
		seqs:      make(map[scheduler.TargetID]uint64),
		callbacks: make(map[scheduler.TargetID][]completion),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the presentation-side endpoint.
func (c *Client) Endpoint() *Endpoint {
	return c.endpoint
}

// Update submits a property map for a target. Fire-and-forget: per-target
// failures are reported to drop listeners, never here.
//
// If onSettled is non-nil it is called once, with the final map, when the
// target settles on this update or a later one.
//
// Returns scheduler.ErrStopped if the scheduler was torn down.
func (c *Client) Update(id scheduler.TargetID, m props.Map, onSettled SettledFunc) error {
	return c.UpdateBatch([]scheduler.Update{{Target: id, Props: m}}, onSettled)
}

// UpdateBatch submits the updates of one interaction frame. They reach the
// presentation side as a single inbox entry and are applied by the same
// flush. updates is not modified.
//
// If onSettled is non-nil it becomes a completion callback of every target
// in updates, as with Update.
//
// Returns scheduler.ErrStopped if the scheduler was torn down.
func (c *Client) UpdateBatch(updates []scheduler.Update, onSettled SettledFunc) error {
	if len(updates) == 0 {
		return nil
	}
	stamped := make([]scheduler.Update, len(updates))

	// The lock spans the enqueue so sequence order matches inbox order
	// across concurrent senders.
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, u := range updates {
		c.seqs[u.Target]++
		u.Seq = c.seqs[u.Target]
		stamped[i] = u
	}
	if !c.sched.EnqueueBatch(stamped) {
		return scheduler.ErrStopped
	}
	if onSettled == nil {
		return nil
	}
	// One callback per target, bound to its last update in the batch.
	for i := len(stamped) - 1; i >= 0; i-- {
		u := stamped[i]
		if u.Seq != c.seqs[u.Target] {
			continue
		}
		c.callbacks[u.Target] = append(c.callbacks[u.Target], completion{seq: u.Seq, fn: onSettled})
	}
	return nil
}

// Forget discards the completion callbacks of a target, e.g. when the
// animations that supplied them were abandoned.
func (c *Client) Forget(id scheduler.TargetID) {
	c.mu.Lock()
	delete(c.callbacks, id)
	c.mu.Unlock()
}

// OnSettled adds a listener called for every settle notification, after
// the target's own completion callback.
func (c *Client) OnSettled(fn SettledFunc) {
	c.mu.Lock()
	c.onSettled = append(c.onSettled, fn)
	c.mu.Unlock()
}

// OnDrop adds a listener for dropped operations. Drops reach the client
// only when the endpoint is installed as the scheduler's drop handler.
func (c *Client) OnDrop(fn DropFunc) {
	c.mu.Lock()
	c.onDrop = append(c.onDrop, fn)
	c.mu.Unlock()
}

// Dispatch delivers every notification waiting in the backward queue and
// returns how many it delivered.
func (c *Client) Dispatch() int {
	c.buf = c.endpoint.q.DrainTo(c.buf[:0])
	for i, ev := range c.buf {
		c.deliver(ev)
		c.buf[i] = event{}
	}
	return len(c.buf)
}

// Run pumps the backward queue until ctx is cancelled or Close is called.
// Notifications still queued at teardown are lost.
//
// CRITICAL: Must be called from exactly ONE goroutine.
func (c *Client) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.endpoint.q.Wait():
			if c.endpoint.q.Closed() {
				return nil
			}
			c.Dispatch()
		}
	}
}

// Close stops Run. Idempotent.
func (c *Client) Close() {
	c.endpoint.q.Close()
}

// Callbacks returns the number of completion callbacks still waiting.
func (c *Client) Callbacks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, pending := range c.callbacks {
		n += len(pending)
	}
	return n
}

func (c *Client) deliver(ev event) {
	switch ev.kind {
	case eventSettled:
		c.mu.Lock()
		due := c.takeCompleted(ev.target, ev.seq)
		listeners := c.onSettled
		c.mu.Unlock()

		for _, cb := range due {
			cb.fn(ev.target, ev.props)
		}
		for _, fn := range listeners {
			fn(ev.target, ev.props)
		}

	case eventDropped:
		c.mu.Lock()
		listeners := c.onDrop
		c.mu.Unlock()

		if len(listeners) == 0 {
			c.logger.Debug("drop notification without listener", "target", ev.target, "code", ev.drop.Code)
		}
		for _, fn := range listeners {
			fn(ev.drop)
		}

	default:
		c.logger.Error("unknown bridge event", "kind", ev.kind)
	}
}

// takeCompleted removes and returns the callbacks of id registered at or
// before seq. Callers hold c.mu.
func (c *Client) takeCompleted(id scheduler.TargetID, seq uint64) []completion {
	pending := c.callbacks[id]
	n := 0
	for n < len(pending) && pending[n].seq <= seq {
		n++
	}
	if n == 0 {
		return nil
	}
	due := pending[:n:n]
	if n == len(pending) {
		delete(c.callbacks, id)
	} else {
		c.callbacks[id] = append([]completion(nil), pending[n:]...)
	}
	return due
}
