package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/propsync/internal/store"
	"github.com/roach88/propsync/internal/testutil"
)

func TestSimulate_Text(t *testing.T) {
	out, err := executeCommand(t, NewSimulateCommand(&RootOptions{Format: "text"}),
		scenarioPath("unregister_mid_tick.yaml"))
	require.NoError(t, err)

	assert.Contains(t, out, "Scenario: unregister_mid_tick")
	assert.Contains(t, out, `apply  target=2 {"opacity":0.5} batch=1`)
	assert.Contains(t, out, "drop   target=1")
	assert.Contains(t, out, "code=UNKNOWN_TARGET")
	assert.Contains(t, out, "✓ All assertions passed")
}

func TestSimulate_JSON(t *testing.T) {
	out, err := executeCommand(t, NewSimulateCommand(&RootOptions{Format: "json"}),
		scenarioPath("continuous_then_settle.cue"))
	require.NoError(t, err)

	var resp struct {
		Status string         `json:"status"`
		Data   SimulateResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Pass)
	require.Len(t, resp.Data.Trace, 11)
	assert.Equal(t, "settle", resp.Data.Trace[10].Type)
	assert.Equal(t, int64(208), resp.Data.Trace[10].TimeMS)
}

func TestSimulate_Journal(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "journal.db")

	opts := &SimulateOptions{
		RootOptions:      &RootOptions{Format: "text"},
		Database:         dbPath,
		SessionGenerator: testutil.NewFixedSessionGenerator("sim-1"),
	}
	cmd := NewSimulateCommand(opts.RootOptions)
	cmd.SetOut(&bytes.Buffer{})
	require.NoError(t, runSimulate(opts, scenarioPath("unregister_mid_tick.yaml"), cmd))

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	sess, err := st.ReadSession(t.Context(), "sim-1")
	require.NoError(t, err)
	assert.Equal(t, "unregister_mid_tick", sess.Name)

	events, err := st.ReadEvents(t.Context(), "sim-1")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, store.KindApply, events[0].Kind)
	assert.Equal(t, store.KindDrop, events[1].Kind)
	assert.Equal(t, "UNKNOWN_TARGET", events[1].Code)
	assert.Equal(t, store.KindSettle, events[2].Kind)
	assert.Equal(t, int64(3), events[2].Seq)
}

func TestSimulate_FailingScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "failing.yaml")
	writeFile(t, path, `
name: failing
targets: [1]
frames:
  - frame: 1
    steps:
      - enqueue: { target: 1, props: { width: 1 } }
run_frames: 5
assertions:
  - type: settle_count
    count: 0
`)

	out, err := executeCommand(t, NewSimulateCommand(&RootOptions{Format: "text"}), path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Assertion failed: settle_count")
	assert.Contains(t, out, "Error [E_ASSERTION]")
}

func TestSimulate_MissingScenario(t *testing.T) {
	_, err := executeCommand(t, NewSimulateCommand(&RootOptions{Format: "text"}),
		filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
