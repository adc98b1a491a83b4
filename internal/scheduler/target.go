package scheduler

import (
	"fmt"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/roach88/propsync/internal/props"
)

// TargetID identifies one node of the presentation tree. It is stable for
// the node's lifetime and never reused while the node is registered.
type TargetID int64

// Handle is the native reference needed to mutate a target.
type Handle interface {
	// Valid reports whether the underlying view still exists. A registered
	// target whose handle is no longer valid was destroyed out-of-band.
	Valid() bool
}

// Operation is one resolved update handed to the bulk-apply primitive.
type Operation struct {
	Target TargetID
	Handle Handle
	Props  props.Map
}

// ApplyReport describes the outcome of one ApplyBatch call.
type ApplyReport struct {
	// Unchanged lists targets whose native state already held every
	// property in their update; nothing visible changed for them.
	Unchanged []TargetID

	// Skipped lists targets whose operations the applier could not apply
	// because their handle does not resolve to a live view. The rest of the
	// batch is still applied; skipped targets are reported as stale drops.
	Skipped []TargetID
}

// Applier is the bulk-apply primitive: it applies an ordered list of
// operations to the presentation tree in one call. Operations for the same
// target arrive in FIFO order and merge onto the native state.
type Applier interface {
	ApplyBatch(ops []Operation) (ApplyReport, error)
}

// ApplierFunc adapts a function to the Applier interface.
type ApplierFunc func(ops []Operation) (ApplyReport, error)

// ApplyBatch implements Applier.
func (f ApplierFunc) ApplyBatch(ops []Operation) (ApplyReport, error) {
	return f(ops)
}

// Notifier receives settle notifications on the presentation goroutine.
// seq is the Update.Seq of the update that produced final.
// Implementations must not block; the bridge endpoint forwards them to the
// interaction side through a queue.
type Notifier interface {
	Settled(id TargetID, final props.Map, seq uint64)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(id TargetID, final props.Map, seq uint64)

// Settled implements Notifier.
func (f NotifierFunc) Settled(id TargetID, final props.Map, seq uint64) {
	f(id, final, seq)
}

// Registry maps target identifiers to native handles.
//
// Thread-safety: all methods are safe for concurrent use. Register and
// Unregister may run on any goroutine while the presentation loop resolves
// handles during a flush; a resolve sees either the old or the new
// association, never a partial one.
//
// Every registration gets a fresh generation, so state recorded for an id
// before it was unregistered is never mistaken for state of a later
// registration under the same id.
type Registry struct {
	handles *xsync.MapOf[TargetID, registration]
	gen     atomic.Uint64
}

type registration struct {
	handle Handle
	gen    uint64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handles: xsync.NewMapOf[TargetID, registration]()}
}

// Register associates id with h.
// Returns ErrDuplicateTarget if id is already registered.
func (r *Registry) Register(id TargetID, h Handle) error {
	if h == nil {
		return fmt.Errorf("target %d: nil handle", id)
	}
	reg := registration{handle: h, gen: r.gen.Add(1)}
	if _, loaded := r.handles.LoadOrStore(id, reg); loaded {
		return fmt.Errorf("target %d: %w", id, ErrDuplicateTarget)
	}
	return nil
}

// Resolve returns the handle for id.
// Returns ErrUnknownTarget if id is not registered and ErrStaleHandle if the
// handle no longer refers to a live view.
func (r *Registry) Resolve(id TargetID) (Handle, error) {
	reg, err := r.resolve(id)
	return reg.handle, err
}

func (r *Registry) resolve(id TargetID) (registration, error) {
	reg, ok := r.handles.Load(id)
	if !ok {
		return registration{}, fmt.Errorf("target %d: %w", id, ErrUnknownTarget)
	}
	if !reg.handle.Valid() {
		return registration{}, fmt.Errorf("target %d: %w", id, ErrStaleHandle)
	}
	return reg, nil
}

// generation returns the current registration generation of id.
func (r *Registry) generation(id TargetID) (uint64, bool) {
	reg, ok := r.handles.Load(id)
	return reg.gen, ok
}

// Contains reports whether id is registered.
func (r *Registry) Contains(id TargetID) bool {
	_, ok := r.handles.Load(id)
	return ok
}

// Unregister removes id. Returns false if it was not registered.
func (r *Registry) Unregister(id TargetID) bool {
	_, ok := r.handles.LoadAndDelete(id)
	return ok
}

// Len returns the number of registered targets.
func (r *Registry) Len() int {
	return r.handles.Size()
}
