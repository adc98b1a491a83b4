// Package harness runs deterministic scheduler scenarios.
//
// A scenario registers targets, then steps the scheduler frame by frame,
// enqueueing updates and tearing targets down at chosen frames. The runner
// records every apply, settle and drop into a trace, evaluates assertions
// against it and can compare it with a golden file.
//
// # Scenario Format
//
// Scenarios are YAML (or CUE, with the same field names):
//
//	name: same_tick_last_writer_wins
//	description: "Two updates in one tick apply once, last writer wins"
//	frame_interval_ms: 16
//	settle_threshold_ms: 36
//	targets: [1]
//	frames:
//	  - frame: 1
//	    steps:
//	      - enqueue: { target: 1, props: { width: 0 } }
//	      - enqueue: { target: 1, props: { width: 50 } }
//	run_frames: 6
//	assertions:
//	  - type: apply_calls
//	    count: 1
//	  - type: settled_with
//	    target: 1
//	    props: { width: 50 }
//
// Step kinds: enqueue, register, unregister, destroy (the view is destroyed
// out-of-band while the target stays registered).
//
// # Assertion Types
//
//   - settle_count: number of settle notifications (optionally for one target)
//   - settled_with: the last settle of a target carried exactly props
//   - applied_state: the final view state of a target equals props
//   - apply_calls: number of bulk apply calls
//   - no_settle_before: no settle for target before frame
//   - no_apply_after: no apply for target after frame
//   - drop_count: number of drops (optionally by target and code)
//
// # Deterministic Testing
//
// Frame n happens at n * frame_interval. Within a frame the runner first
// advances the scheduler clock (firing due rechecks), then performs the
// frame's steps in order, then ends the tick. No wall-clock time is
// involved, so the same scenario always yields the same trace.
package harness
