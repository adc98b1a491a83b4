package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/propsync/internal/props"
)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestSession creates a session with default timing.
func createTestSession(id string) Session {
	return Session{
		ID:              id,
		Name:            "test",
		FrameInterval:   16 * time.Millisecond,
		SettleThreshold: 36 * time.Millisecond,
	}
}

type fixedIDs struct {
	ids []string
}

func (g *fixedIDs) Generate() string {
	id := g.ids[0]
	g.ids = g.ids[1:]
	return id
}

func widthProps(v float64) props.Map {
	return props.New(props.P("width", props.Number(v)))
}
