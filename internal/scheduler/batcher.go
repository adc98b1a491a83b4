package scheduler

import (
	"log/slog"

	"github.com/roach88/propsync/internal/props"
)

// pendingOp is a deposited update waiting for the next flush. The native
// handle is resolved at flush time, so an unregister that lands before the
// flush drops the operation whole.
type pendingOp struct {
	target TargetID
	props  props.Map
	seq    uint64
}

// Batcher accumulates the updates of one tick and applies them in a single
// bulk call.
//
// Multiple updates for the same target within a tick are not coalesced on
// deposit; they are applied in arrival order and the native merge yields
// the same final state.
//
// CRITICAL: Called only from the presentation goroutine.
type Batcher struct {
	registry *Registry
	applier  Applier
	clock    *FrameClock
	detector *Detector
	schedule func(func()) // end-of-tick microtask primitive
	onDrop   DropHandler
	logger   *slog.Logger
	metrics  *Metrics
	stats    *counters

	pending   []pendingOp
	spare     []pendingOp // double buffer, swapped on flush
	scheduled bool
	ops       []Operation
	meta      []opMeta
	touched   []TargetID
	seen      map[TargetID]struct{}
}

// opMeta travels alongside ops[i]: what the detector needs once the batch
// was applied.
type opMeta struct {
	gen uint64
	seq uint64
}

// Enqueue deposits an update. The first deposit since the last flush
// schedules exactly one flush at end of tick.
func (b *Batcher) Enqueue(id TargetID, m props.Map, seq uint64) {
	b.pending = append(b.pending, pendingOp{target: id, props: m, seq: seq})
	if !b.scheduled {
		b.scheduled = true
		b.schedule(b.Flush)
	}
}

// Pending returns the number of operations waiting for the next flush.
func (b *Batcher) Pending() int {
	return len(b.pending)
}

// Flush applies every pending operation in FIFO order with one ApplyBatch
// call, then records last-applied state and runs the settle check once for
// each distinct target touched. A flush with nothing pending is a no-op.
func (b *Batcher) Flush() {
	b.scheduled = false
	if len(b.pending) == 0 {
		return
	}

	// Take ownership of the pending slice so the queue is empty before any
	// collaborator code runs.
	batch := b.pending
	b.pending = b.spare[:0]
	defer func() {
		clear(batch)
		b.spare = batch[:0]
	}()

	now := b.clock.Now()
	ops := b.ops[:0]
	meta := b.meta[:0]
	for _, p := range batch {
		reg, err := b.registry.resolve(p.target)
		if err != nil {
			b.drop(newDrop(p.target, p.props, now, err))
			continue
		}
		ops = append(ops, Operation{Target: p.target, Handle: reg.handle, Props: p.props})
		meta = append(meta, opMeta{gen: reg.gen, seq: p.seq})
	}
	b.meta = meta[:0]
	defer func() {
		clear(ops)
		b.ops = ops[:0]
	}()

	if len(ops) == 0 {
		return
	}

	report, err := b.applier.ApplyBatch(ops)
	if err != nil {
		// Log and continue: a failed bulk call must not wedge the loop.
		b.logger.Error("bulk apply failed",
			"operations", len(ops),
			"frame_time", now,
			"error", err,
		)
		b.metrics.applyFailed()
		return
	}

	// Targets the applier skipped are dropped as stale; they get no record
	// and no settle check.
	clear(b.seen)
	for _, id := range report.Skipped {
		b.seen[id] = struct{}{}
	}
	applied := 0
	for _, op := range ops {
		if _, skipped := b.seen[op.Target]; skipped {
			b.drop(&Drop{Code: DropStaleHandle, Target: op.Target, Frame: now, Props: op.Props})
			continue
		}
		applied++
	}

	b.stats.flushes.Add(1)
	b.stats.applied.Add(uint64(applied))
	b.stats.elided.Add(uint64(len(report.Unchanged)))
	b.metrics.flushed(applied, len(report.Unchanged))

	// Later operations overwrite earlier ones, so the record ends up holding
	// the last map applied to each target in this flush.
	b.touched = b.touched[:0]
	for i, op := range ops {
		if _, done := b.seen[op.Target]; done {
			continue
		}
		b.detector.Record(op.Target, op.Props, now, meta[i].gen, meta[i].seq)
	}
	for _, op := range ops {
		if _, done := b.seen[op.Target]; !done {
			b.seen[op.Target] = struct{}{}
			b.touched = append(b.touched, op.Target)
		}
	}
	for _, id := range b.touched {
		b.detector.Check(id)
	}
}

// Purge removes every pending operation for id.
func (b *Batcher) Purge(id TargetID) {
	kept := b.pending[:0]
	for _, p := range b.pending {
		if p.target != id {
			kept = append(kept, p)
		}
	}
	clear(b.pending[len(kept):])
	b.pending = kept
}

func (b *Batcher) drop(d *Drop) {
	b.logger.Debug("dropping update",
		"target", d.Target,
		"code", d.Code,
		"frame_time", d.Frame,
	)
	b.stats.dropped.Add(1)
	b.metrics.dropped(d.Code)
	if b.onDrop != nil {
		b.onDrop(d)
	}
}
