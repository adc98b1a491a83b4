package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/roach88/propsync/internal/props"
)

var (
	// ErrNoApplier is returned by New when the bulk-apply primitive is missing.
	ErrNoApplier = errors.New("scheduler: bulk-apply primitive is required")

	// ErrUnknownTarget indicates an update references an unregistered target.
	ErrUnknownTarget = errors.New("unknown target")

	// ErrStaleHandle indicates a registered target's view was destroyed out-of-band.
	ErrStaleHandle = errors.New("stale handle")

	// ErrDuplicateTarget is returned when registering an id that is already registered.
	ErrDuplicateTarget = errors.New("target already registered")

	// ErrAlreadyRunning is returned when Run is called twice.
	ErrAlreadyRunning = errors.New("scheduler: already running")

	// ErrStopped is returned by submitters once the scheduler was torn down.
	ErrStopped = errors.New("scheduler: stopped")
)

// DropCode categorizes a dropped operation.
type DropCode string

const (
	// DropUnknownTarget: the target was not registered at flush time.
	DropUnknownTarget DropCode = "UNKNOWN_TARGET"

	// DropStaleHandle: the target was registered but its view is gone.
	DropStaleHandle DropCode = "STALE_HANDLE"
)

// Drop describes one pending operation that was skipped during a flush.
// It implements error and unwraps to ErrUnknownTarget or ErrStaleHandle.
type Drop struct {
	Code   DropCode
	Target TargetID
	Frame  time.Duration
	Props  props.Map
}

// Error implements the error interface.
func (d *Drop) Error() string {
	return fmt.Sprintf("%s: update for target %d dropped at frame time %s", d.Code, d.Target, d.Frame)
}

// Unwrap returns the sentinel error matching Code.
func (d *Drop) Unwrap() error {
	if d.Code == DropStaleHandle {
		return ErrStaleHandle
	}
	return ErrUnknownTarget
}

// DropHandler is notified of every dropped operation. It runs on the
// presentation goroutine and must not block.
type DropHandler func(d *Drop)

// IsUnknownTarget returns true if err is or wraps an unknown-target failure.
func IsUnknownTarget(err error) bool {
	return errors.Is(err, ErrUnknownTarget)
}

// IsStaleHandle returns true if err is or wraps a stale-handle failure.
func IsStaleHandle(err error) bool {
	return errors.Is(err, ErrStaleHandle)
}

// newDrop classifies a Resolve error.
func newDrop(id TargetID, m props.Map, frame time.Duration, err error) *Drop {
	code := DropUnknownTarget
	if IsStaleHandle(err) {
		code = DropStaleHandle
	}
	return &Drop{Code: code, Target: id, Frame: frame, Props: m}
}
