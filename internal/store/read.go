package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/propsync/internal/scheduler"
)

// ReadSession returns one session.
// Returns ErrSessionNotFound if id is unknown.
func (s *Store) ReadSession(ctx context.Context, id string) (Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, frame_interval_us, settle_threshold_us
		FROM sessions
		WHERE id = ?
	`, id)

	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("read session %s: %w", id, ErrSessionNotFound)
	}
	if err != nil {
		return Session{}, fmt.Errorf("read session %s: %w", id, err)
	}
	return sess, nil
}

// LatestSession returns the most recently created session. Session ids are
// UUIDv7, so lexical order is creation order.
// Returns ErrSessionNotFound if the journal is empty.
func (s *Store) LatestSession(ctx context.Context) (Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, frame_interval_us, settle_threshold_us
		FROM sessions
		ORDER BY id DESC
		LIMIT 1
	`)

	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("latest session: %w", err)
	}
	return sess, nil
}

// ListSessions returns every session in creation order.
func (s *Store) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, frame_interval_us, settle_threshold_us
		FROM sessions
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// ReadEvents returns every event of a session in seq order.
func (s *Store) ReadEvents(ctx context.Context, sessionID string) ([]Event, error) {
	return s.queryEvents(ctx, `
		SELECT session_id, seq, kind, target, frame_time_us, code, props
		FROM events
		WHERE session_id = ?
		ORDER BY seq ASC
	`, sessionID)
}

// ReadEventsByKind returns the events of one kind in seq order.
func (s *Store) ReadEventsByKind(ctx context.Context, sessionID string, kind EventKind) ([]Event, error) {
	return s.queryEvents(ctx, `
		SELECT session_id, seq, kind, target, frame_time_us, code, props
		FROM events
		WHERE session_id = ? AND kind = ?
		ORDER BY seq ASC
	`, sessionID, string(kind))
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			ev        Event
			kind      string
			target    int64
			frameTime int64
			propsJSON string
		)
		if err := rows.Scan(&ev.SessionID, &ev.Seq, &kind, &target, &frameTime, &ev.Code, &propsJSON); err != nil {
			return nil, fmt.Errorf("read events: scan: %w", err)
		}
		ev.Kind = EventKind(kind)
		ev.Target = scheduler.TargetID(target)
		ev.FrameTime = time.Duration(frameTime) * time.Microsecond
		if ev.Props, err = unmarshalProps(propsJSON); err != nil {
			return nil, fmt.Errorf("read events: seq %d: %w", ev.Seq, err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return events, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var (
		sess      Session
		interval  int64
		threshold int64
	)
	if err := row.Scan(&sess.ID, &sess.Name, &interval, &threshold); err != nil {
		return Session{}, err
	}
	sess.FrameInterval = time.Duration(interval) * time.Microsecond
	sess.SettleThreshold = time.Duration(threshold) * time.Microsecond
	return sess, nil
}
