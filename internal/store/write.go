package store

import (
	"context"
	"fmt"

	"github.com/roach88/propsync/internal/props"
)

// CreateSession inserts a session record.
// Uses ON CONFLICT(id) DO NOTHING for idempotency.
func (s *Store) CreateSession(ctx context.Context, sess Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, name, frame_interval_us, settle_threshold_us)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		sess.ID,
		sess.Name,
		sess.FrameInterval.Microseconds(),
		sess.SettleThreshold.Microseconds(),
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// WriteEvents inserts events in one transaction.
// Duplicate (session_id, seq) pairs are silently ignored.
//
// Note: The session referenced by each event must exist (foreign key constraint).
func (s *Store) WriteEvents(ctx context.Context, events []Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write events: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (session_id, seq, kind, target, frame_time_us, code, props)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("write events: prepare: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		propsJSON, err := marshalProps(ev.Props)
		if err != nil {
			return fmt.Errorf("write events: seq %d: %w", ev.Seq, err)
		}
		if _, err := stmt.ExecContext(ctx,
			ev.SessionID,
			ev.Seq,
			string(ev.Kind),
			int64(ev.Target),
			ev.FrameTime.Microseconds(),
			ev.Code,
			propsJSON,
		); err != nil {
			return fmt.Errorf("write events: seq %d: %w", ev.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write events: commit: %w", err)
	}
	return nil
}

// marshalProps converts a property map to canonical JSON TEXT for storage.
func marshalProps(m props.Map) (string, error) {
	data, err := props.MarshalCanonical(m)
	if err != nil {
		return "", fmt.Errorf("marshal props: %w", err)
	}
	return string(data), nil
}

// unmarshalProps parses canonical JSON TEXT back into a property map.
func unmarshalProps(data string) (props.Map, error) {
	var m props.Map
	if data == "" || data == "{}" {
		return m, nil
	}
	if err := m.UnmarshalJSON([]byte(data)); err != nil {
		return props.Map{}, fmt.Errorf("unmarshal props: %w", err)
	}
	return m, nil
}
