package store

import (
	"errors"
	"time"

	"github.com/roach88/propsync/internal/props"
	"github.com/roach88/propsync/internal/scheduler"
)

// ErrSessionNotFound is returned when a session id is not in the journal.
var ErrSessionNotFound = errors.New("session not found")

// EventKind is the type of a journal event.
type EventKind string

const (
	// KindApply: an update was applied by a flush.
	KindApply EventKind = "apply"
	// KindSettle: a target was reported settled.
	KindSettle EventKind = "settle"
	// KindDrop: an update was dropped during a flush.
	KindDrop EventKind = "drop"
)

// Session describes one journaled run.
type Session struct {
	ID              string
	Name            string
	FrameInterval   time.Duration
	SettleThreshold time.Duration
}

// Event is one journal row.
type Event struct {
	SessionID string
	Seq       int64
	Kind      EventKind
	Target    scheduler.TargetID
	FrameTime time.Duration
	Code      string // drop code, empty for other kinds
	Props     props.Map
}
