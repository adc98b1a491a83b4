// Package view is an in-memory presentation tree: the native side that the
// scheduler mutates through its bulk-apply primitive.
//
// Nodes are created by the host and registered with the scheduler as
// handles. Tree.ApplyBatch is the only writer of node state.
package view

import (
	"fmt"
	"slices"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/roach88/propsync/internal/props"
	"github.com/roach88/propsync/internal/scheduler"
)

// Node is one view in the tree. It implements scheduler.Handle.
type Node struct {
	id        scheduler.TargetID
	tree      *Tree
	destroyed atomic.Bool
}

// ID returns the node's target identifier.
func (n *Node) ID() scheduler.TargetID {
	return n.id
}

// Valid implements scheduler.Handle.
func (n *Node) Valid() bool {
	return !n.destroyed.Load()
}

// Destroy removes the node from its tree out-of-band. A registered handle
// for a destroyed node is stale.
func (n *Node) Destroy() {
	if n.destroyed.Swap(true) {
		return
	}
	n.tree.mu.Lock()
	delete(n.tree.index, n.id)
	n.tree.mu.Unlock()
}

// Tree is the presentation tree. It implements scheduler.Applier.
//
// Thread-safety: All methods are safe for concurrent use. ApplyBatch holds
// the tree lock for the whole batch, so readers never observe half of it.
type Tree struct {
	mu    sync.RWMutex
	index map[scheduler.TargetID]*Node
	state map[scheduler.TargetID]props.Map
	calls int
}

// NewTree creates an empty tree.
func NewTree() *Tree {
	return &Tree{
		index: make(map[scheduler.TargetID]*Node),
		state: make(map[scheduler.TargetID]props.Map),
	}
}

// CreateNode adds a node with the given id. Returns an error if a live node
// with that id already exists.
func (t *Tree) CreateNode(id scheduler.TargetID) (*Node, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.index[id]; ok {
		return nil, fmt.Errorf("view: node %d already exists", id)
	}
	n := &Node{id: id, tree: t}
	t.index[id] = n
	delete(t.state, id)
	return n, nil
}

// ApplyBatch implements scheduler.Applier. Operations merge onto node state
// in order. An operation whose handle is not a live node of this tree is
// skipped and its target reported in ApplyReport.Skipped; the rest of the
// batch is applied.
func (t *Tree) ApplyBatch(ops []scheduler.Operation) (scheduler.ApplyReport, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.calls++

	var report scheduler.ApplyReport
	for _, op := range ops {
		n, ok := op.Handle.(*Node)
		if !ok || n.tree != t || !n.Valid() {
			if !slices.Contains(report.Skipped, op.Target) {
				report.Skipped = append(report.Skipped, op.Target)
			}
			continue
		}
		current := t.state[n.id]
		if !op.Props.IsEmpty() && current.Contains(op.Props) {
			report.Unchanged = append(report.Unchanged, op.Target)
			continue
		}
		t.state[n.id] = current.Merge(op.Props)
	}
	return report, nil
}

// State returns the current property map of a live node.
func (t *Tree) State(id scheduler.TargetID) (props.Map, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if _, ok := t.index[id]; !ok {
		return props.Map{}, false
	}
	return t.state[id], true
}

// ApplyCalls returns the number of ApplyBatch calls that were applied.
func (t *Tree) ApplyCalls() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.calls
}

// Nodes returns the ids of live nodes in ascending order.
func (t *Tree) Nodes() []scheduler.TargetID {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]scheduler.TargetID, 0, len(t.index))
	for id := range t.index {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
