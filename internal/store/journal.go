package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/propsync/internal/props"
	"github.com/roach88/propsync/internal/scheduler"
)

// SessionIDGenerator creates session ids.
type SessionIDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 session ids.
//
// UUIDv7 embeds a timestamp in the most significant bits, so sessions sort
// by creation time, which LatestSession relies on.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
//
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Journal appends the events of one session, assigning seq numbers.
//
// Thread-safety: All methods are safe for concurrent use. Writes block on
// SQLite, so Journal must not be called from the presentation goroutine;
// feed it from bridge listeners instead.
type Journal struct {
	store   *Store
	session Session

	mu  sync.Mutex
	seq int64
}

// BeginSession creates a session and returns its journal.
func (s *Store) BeginSession(ctx context.Context, gen SessionIDGenerator, name string, frameInterval, threshold time.Duration) (*Journal, error) {
	sess := Session{
		ID:              gen.Generate(),
		Name:            name,
		FrameInterval:   frameInterval,
		SettleThreshold: threshold,
	}
	if err := s.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	return &Journal{store: s, session: sess}, nil
}

// Session returns the journal's session.
func (j *Journal) Session() Session {
	return j.session
}

// Append writes events, filling in session id and seq.
func (j *Journal) Append(ctx context.Context, events ...Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	batch := make([]Event, len(events))
	for i, ev := range events {
		ev.SessionID = j.session.ID
		ev.Seq = j.seq + int64(i) + 1
		batch[i] = ev
	}
	if err := j.store.WriteEvents(ctx, batch); err != nil {
		return fmt.Errorf("journal %s: %w", j.session.ID, err)
	}
	j.seq += int64(len(batch))
	return nil
}

// Settled records a settle notification.
func (j *Journal) Settled(ctx context.Context, id scheduler.TargetID, frame time.Duration, final props.Map) error {
	return j.Append(ctx, Event{Kind: KindSettle, Target: id, FrameTime: frame, Props: final})
}

// Dropped records a dropped operation.
func (j *Journal) Dropped(ctx context.Context, d scheduler.Drop) error {
	return j.Append(ctx, Event{Kind: KindDrop, Target: d.Target, FrameTime: d.Frame, Code: string(d.Code), Props: d.Props})
}
