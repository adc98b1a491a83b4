// Package scheduler implements the presentation-side property update
// scheduler.
//
// The scheduler batches per-frame style updates coming from many animating
// targets, applies them to the presentation tree in one bulk call per tick,
// and detects when a target has settled so the interaction side is told
// once instead of every frame.
//
// ARCHITECTURE:
//
// Single-Writer Loop:
// All scheduler state (pending operations, last-applied records, recheck
// tokens) is owned by one goroutine, the presentation loop. Other goroutines
// talk to it only through Enqueue (in) and the Notifier (out). This ensures:
//   - Flush is the sole writer of native properties
//   - Updates from one sender apply in arrival order
//   - No locks on the hot path of a flush
//
// Tick Flow:
//  1. Enqueue deposits an update command into the inbox (any goroutine)
//  2. Drain moves every waiting command into the batcher; the first
//     deposit of a tick schedules exactly one flush as a microtask
//  3. Microtasks run at end of tick: flush resolves handles, makes one
//     ApplyBatch call, records last-applied state and checks each touched
//     target for settle
//  4. AdvanceFrame publishes the new frame time and fires due rechecks
//
// Settle Detection:
// A target is settled once the gap between the current frame time and the
// frame time of its last applied update reaches the settle threshold
// (36ms by default, about two frames at 60fps). Until then one recheck per
// target is scheduled for the next frame boundary; a target never holds
// more than one outstanding recheck.
//
// Failure Policy:
// An operation whose target is unknown or whose handle went stale is
// dropped on its own; the rest of the batch is still applied. Drops are
// logged at debug level and reported only to a subscribed DropHandler.
package scheduler
