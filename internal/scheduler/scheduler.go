package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/roach88/propsync/internal/props"
	"github.com/roach88/propsync/internal/queue"
)

// DefaultFrameInterval is the nominal rendering frame interval (60fps).
const DefaultFrameInterval = 16 * time.Millisecond

// Update is one (target, property map) pair submitted by the interaction side.
//
// Seq is an opaque per-target sequence number chosen by the submitter. The
// scheduler hands the Seq of the last applied update back with the settle
// notification, so the submitter can tell which of its updates came to
// rest. Zero means the submitter does not track sequences.
type Update struct {
	Target TargetID
	Props  props.Map
	Seq    uint64
}

type commandKind uint8

const (
	cmdUpdate commandKind = iota + 1
	cmdBatch
	cmdPurge
)

// command is an inbox entry. Commands from one sender are processed in the
// order they were enqueued.
type command struct {
	kind    commandKind
	target  TargetID
	props   props.Map
	updates []Update
}

// Scheduler is the presentation-side runtime that owns the registry, the
// batcher and the settle detector.
//
// Thread-safety model:
//   - Register, Unregister, Enqueue, EnqueueBatch, Stop, Stats: any goroutine
//   - Run, AdvanceFrame, Drain, State, LastApplied: the owning goroutine only
//
// Run is the production owner; the harness and tests drive AdvanceFrame and
// Drain directly for deterministic frame stepping.
type Scheduler struct {
	registry *Registry
	clock    *FrameClock
	batcher  *Batcher
	detector *Detector
	inbox    *queue.Queue[command]
	logger   *slog.Logger
	metrics  *Metrics
	stats    *counters

	threshold     time.Duration
	frameInterval time.Duration
	onDrop        DropHandler

	cmdBuf     []command
	microtasks []func()
	frameDue   []TargetID
	frameSpare []TargetID

	running atomic.Bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithSettleThreshold sets the gap after which an idle target is settled.
//
// Default: 36ms (DefaultSettleThreshold)
func WithSettleThreshold(d time.Duration) Option {
	return func(s *Scheduler) {
		s.threshold = d
	}
}

// WithFrameInterval sets the nominal frame interval used by NewTickerFrames
// callers and for threshold validation.
//
// Default: 16ms (DefaultFrameInterval)
func WithFrameInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		s.frameInterval = d
	}
}

// WithDropHandler subscribes to dropped operations. Without a handler,
// drops are only logged and counted.
func WithDropHandler(h DropHandler) Option {
	return func(s *Scheduler) {
		s.onDrop = h
	}
}

// WithMetrics records scheduler activity on m.
func WithMetrics(m *Metrics) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = l
	}
}

// New creates a Scheduler that applies batches with applier and reports
// settled targets to notifier.
//
// A missing applier is a host precondition violation and fails here rather
// than on the first flush.
func New(applier Applier, notifier Notifier, opts ...Option) (*Scheduler, error) {
	if applier == nil {
		return nil, ErrNoApplier
	}
	if notifier == nil {
		notifier = NotifierFunc(func(TargetID, props.Map, uint64) {})
	}

	s := &Scheduler{
		registry:      NewRegistry(),
		clock:         NewFrameClock(),
		inbox:         queue.New[command](),
		logger:        slog.Default(),
		stats:         &counters{},
		threshold:     DefaultSettleThreshold,
		frameInterval: DefaultFrameInterval,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.frameInterval <= 0 {
		return nil, fmt.Errorf("scheduler: frame interval must be positive, got %s", s.frameInterval)
	}
	if s.threshold < s.frameInterval {
		return nil, fmt.Errorf("scheduler: settle threshold %s is shorter than one frame (%s)", s.threshold, s.frameInterval)
	}

	s.detector = &Detector{
		registry:     s.registry,
		clock:        s.clock,
		threshold:    s.threshold,
		notifier:     notifier,
		requestFrame: s.requestFrame,
		logger:       s.logger,
		metrics:      s.metrics,
		stats:        s.stats,
		records:      make(map[TargetID]lastApplied),
		tokens:       make(map[TargetID]struct{}),
	}
	s.batcher = &Batcher{
		registry: s.registry,
		applier:  applier,
		clock:    s.clock,
		detector: s.detector,
		schedule: s.queueMicrotask,
		onDrop:   s.onDrop,
		logger:   s.logger,
		metrics:  s.metrics,
		stats:    s.stats,
		seen:     make(map[TargetID]struct{}),
	}

	return s, nil
}

// Register associates a target with its native handle.
// Thread-safe: may be called from any goroutine.
func (s *Scheduler) Register(id TargetID, h Handle) error {
	return s.registry.Register(id, h)
}

// Unregister removes a target. Once it returns, no later flush applies an
// update to the target's handle and no settle notification fires for it;
// its pending operations, last-applied record and recheck token are purged
// on the presentation goroutine before the next flush.
// Thread-safe: may be called from any goroutine.
func (s *Scheduler) Unregister(id TargetID) bool {
	ok := s.registry.Unregister(id)
	s.inbox.Enqueue(command{kind: cmdPurge, target: id})
	return ok
}

// Enqueue submits an update for the next tick. Fire-and-forget: failures
// local to the target surface at flush time, never here.
// Thread-safe: may be called from any goroutine.
//
// Returns false if the scheduler has been stopped.
func (s *Scheduler) Enqueue(id TargetID, m props.Map) bool {
	return s.inbox.Enqueue(command{kind: cmdUpdate, target: id, props: m})
}

// EnqueueBatch submits several updates as one inbox entry, so they are
// always deposited within the same tick and applied by the same flush.
// Thread-safe: may be called from any goroutine.
func (s *Scheduler) EnqueueBatch(updates []Update) bool {
	if len(updates) == 0 {
		return !s.inbox.Closed()
	}
	return s.inbox.Enqueue(command{kind: cmdBatch, updates: updates})
}

// Stop closes the inbox. Run returns after draining what was already queued.
func (s *Scheduler) Stop() {
	s.inbox.Close()
}

// SettleThreshold returns the configured settle threshold.
func (s *Scheduler) SettleThreshold() time.Duration {
	return s.threshold
}

// FrameInterval returns the configured nominal frame interval.
func (s *Scheduler) FrameInterval() time.Duration {
	return s.frameInterval
}

// Clock returns the frame clock.
func (s *Scheduler) Clock() *FrameClock {
	return s.clock
}

// Stats returns a snapshot of scheduler counters.
// Thread-safe: may be called from any goroutine.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Flushes:    s.stats.flushes.Load(),
		Applied:    s.stats.applied.Load(),
		Elided:     s.stats.elided.Load(),
		Dropped:    s.stats.dropped.Load(),
		Settles:    s.stats.settles.Load(),
		Rechecks:   s.stats.rechecks.Load(),
		Queued:     s.inbox.Len(),
		Registered: s.registry.Len(),
	}
}

// State reports the settle state of a target.
// CRITICAL: owning goroutine only.
func (s *Scheduler) State(id TargetID) SettleState {
	return s.detector.State(id)
}

// LastApplied returns the last-applied map awaiting settle for a target.
// CRITICAL: owning goroutine only.
func (s *Scheduler) LastApplied(id TargetID) (props.Map, bool) {
	return s.detector.LastApplied(id)
}

// Drain ends the current tick: every command waiting in the inbox is
// deposited, then end-of-tick microtasks run, which is where the single
// flush for this tick happens.
// CRITICAL: owning goroutine only.
func (s *Scheduler) Drain() {
	s.cmdBuf = s.inbox.DrainTo(s.cmdBuf[:0])
	for i, cmd := range s.cmdBuf {
		s.dispatch(cmd)
		s.cmdBuf[i] = command{}
	}
	s.runMicrotasks()
}

// AdvanceFrame publishes a new frame time and fires the rechecks that were
// scheduled for this frame boundary.
// CRITICAL: owning goroutine only.
func (s *Scheduler) AdvanceFrame(now time.Duration) {
	s.clock.Advance(now)

	due := s.frameDue
	s.frameDue = s.frameSpare[:0]
	for _, id := range due {
		s.detector.fire(id)
	}
	s.frameSpare = due[:0]

	s.runMicrotasks()
}

// Run is the presentation loop. It advances frames from the frame source
// and drains the inbox whenever updates arrive, until ctx is cancelled or
// Stop is called.
//
// CRITICAL: Must be called from exactly ONE goroutine, which then owns all
// scheduler state.
func (s *Scheduler) Run(ctx context.Context, frames FrameSource) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer s.running.Store(false)
	defer frames.Stop()

	s.logger.Info("scheduler starting",
		"settle_threshold", s.threshold,
		"frame_interval", s.frameInterval,
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping: context cancelled")
			s.inbox.Close()
			return ctx.Err()

		case now, ok := <-frames.Frames():
			if !ok {
				s.logger.Info("scheduler stopping: frame source closed")
				s.inbox.Close()
				return nil
			}
			s.AdvanceFrame(now)

		case <-s.inbox.Wait():
			// The signal channel closes with the inbox; drain what is left.
			s.Drain()
			if s.inbox.Closed() {
				s.logger.Info("scheduler stopping: inbox closed")
				return nil
			}
		}
	}
}

func (s *Scheduler) dispatch(cmd command) {
	switch cmd.kind {
	case cmdUpdate:
		s.batcher.Enqueue(cmd.target, cmd.props, 0)
	case cmdBatch:
		for _, u := range cmd.updates {
			s.batcher.Enqueue(u.Target, u.Props, u.Seq)
		}
	case cmdPurge:
		s.batcher.Purge(cmd.target)
		s.detector.Cancel(cmd.target)
	default:
		s.logger.Error("unknown command", "kind", cmd.kind)
	}
}

// queueMicrotask schedules fn to run at end of the current tick.
func (s *Scheduler) queueMicrotask(fn func()) {
	s.microtasks = append(s.microtasks, fn)
}

// runMicrotasks runs microtasks in FIFO order, including any queued while
// running.
func (s *Scheduler) runMicrotasks() {
	for i := 0; i < len(s.microtasks); i++ {
		s.microtasks[i]()
		s.microtasks[i] = nil
	}
	s.microtasks = s.microtasks[:0]
}

// requestFrame schedules a settle recheck at the next frame boundary.
func (s *Scheduler) requestFrame(id TargetID) {
	s.frameDue = append(s.frameDue, id)
}
