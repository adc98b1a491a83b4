package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/propsync/internal/animate"
	"github.com/roach88/propsync/internal/config"
	"github.com/roach88/propsync/internal/store"
	"github.com/roach88/propsync/internal/testutil"
)

const shortRunConfig = `
targets: 2
animation:
  duration: 64ms
  stagger: 0s
  easing: linear
`

func TestRun_SettlesAndJournals(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "propsync.yaml")
	dbPath := filepath.Join(dir, "journal.db")
	writeFile(t, cfgPath, shortRunConfig)

	buf := &bytes.Buffer{}
	opts := &RunOptions{
		RootOptions:      &RootOptions{Format: "json"},
		ConfigPath:       cfgPath,
		Journal:          dbPath,
		Duration:         10 * time.Second,
		SessionGenerator: testutil.NewFixedSessionGenerator("run-1"),
	}
	cmd := NewRunCommand(opts.RootOptions)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	cmd.SetContext(ctx)

	require.NoError(t, runLive(opts, cmd))

	var resp struct {
		Status string     `json:"status"`
		Data   RunSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Complete)
	assert.Equal(t, 1, resp.Data.Cycles)
	assert.Equal(t, "run-1", resp.Data.Session)
	assert.GreaterOrEqual(t, resp.Data.Stats.Settles, uint64(2))
	assert.Zero(t, resp.Data.Stats.Dropped)
	// Both targets animate in every frame and a frame is never split across
	// flushes.
	assert.GreaterOrEqual(t, resp.Data.Stats.Applied, 2*resp.Data.Stats.Flushes)
	assert.Zero(t, resp.Data.Stats.Applied%2)

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	settles, err := st.ReadEventsByKind(t.Context(), "run-1", store.KindSettle)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(settles), 2)

	// The last settle of each target carries the end state of the animation.
	spec := animationSpec(config.Default().Animation)
	spec.Duration = 64 * time.Millisecond
	spec.Easing = "linear"
	anim, err := animate.New(spec, nil, 0)
	require.NoError(t, err)
	final := anim.FinalProps()

	last := map[int64]string{}
	for _, ev := range settles {
		last[int64(ev.Target)] = ev.Props.String()
	}
	assert.Equal(t, map[int64]string{1: final.String(), 2: final.String()}, last)
}

func TestRun_DurationLimit(t *testing.T) {
	opts := &RunOptions{
		RootOptions: &RootOptions{Format: "text"},
		Duration:    50 * time.Millisecond,
	}
	cmd := NewRunCommand(opts.RootOptions)
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})

	require.NoError(t, runLive(opts, cmd))
	assert.Contains(t, buf.String(), "complete: false")
}

func TestRun_InvalidConfig(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "bad.yaml")
	writeFile(t, cfgPath, "frame_intervall: 16ms\n")

	_, err := executeCommand(t, NewRunCommand(&RootOptions{Format: "text"}), "--config", cfgPath)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRun_ContextCancel(t *testing.T) {
	opts := &RunOptions{RootOptions: &RootOptions{Format: "text"}}
	cfgPath := filepath.Join(t.TempDir(), "loop.yaml")
	writeFile(t, cfgPath, "animation:\n  loop: true\n")
	opts.ConfigPath = cfgPath

	cmd := NewRunCommand(opts.RootOptions)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	cmd.SetContext(ctx)

	done := make(chan error, 1)
	go func() { done <- runLive(opts, cmd) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after context cancellation")
	}
}

func TestReversed(t *testing.T) {
	spec := animate.Spec{From: "#000000", To: "#ffffff", WidthFrom: 0, WidthTo: 100}
	r := reversed(spec)
	assert.Equal(t, "#ffffff", r.From)
	assert.Equal(t, "#000000", r.To)
	assert.Equal(t, 100.0, r.WidthFrom)
	assert.Equal(t, 0.0, r.WidthTo)
}
