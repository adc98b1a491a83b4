package cli

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/propsync/internal/harness"
	"github.com/roach88/propsync/internal/store"
)

// SimulateOptions holds flags for the simulate command.
type SimulateOptions struct {
	*RootOptions
	Database string

	// SessionGenerator allows overriding the journal session id generator
	// (for testing). If nil, defaults to UUIDv7Generator.
	SessionGenerator store.SessionIDGenerator
}

// SimulateResult is the JSON payload of the simulate command.
type SimulateResult struct {
	Scenario string               `json:"scenario"`
	Pass     bool                 `json:"pass"`
	Session  string               `json:"session,omitempty"`
	Trace    []harness.TraceEvent `json:"trace"`
	Errors   []string             `json:"errors,omitempty"`
}

// NewSimulateCommand creates the simulate command.
func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SimulateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "simulate <scenario>",
		Short: "Step one scenario frame by frame and print its trace",
		Long: `Run a YAML or CUE scenario against the scheduler with deterministic frame
stepping and print every apply, settle and drop it produced.

With --db the trace is also journaled as a new session, which the trace
command can read back.

Exit codes:
  0 - All assertions held
  1 - One or more assertions failed
  2 - Command error (scenario not found or invalid, journal unavailable)

Examples:
  propsync simulate ./scenarios/unregister_mid_tick.yaml
  propsync simulate ./scenarios/ramp.cue --db ./propsync.db
  propsync simulate ./scenarios/ramp.cue --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "journal the trace to this SQLite database")

	return cmd
}

func runSimulate(opts *SimulateOptions, path string, cmd *cobra.Command) error {
	logger := newLogger(cmd.ErrOrStderr(), slog.LevelWarn, opts.Verbose)

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}

	var journaled []store.Event
	result, err := harness.Run(scenario,
		harness.WithLogger(logger),
		harness.WithObserver(func(ev harness.TraceEvent) {
			journaled = append(journaled, journalEvent(ev))
		}),
	)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to run scenario", err)
	}

	out := SimulateResult{
		Scenario: scenario.Name,
		Pass:     result.Pass,
		Trace:    result.Trace,
		Errors:   result.Errors,
	}

	if opts.Database != "" {
		session, err := journalTrace(cmd, opts, scenario, journaled)
		if err != nil {
			return err
		}
		out.Session = session
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	text := func(w io.Writer) { writeSimulateText(w, out) }

	if !result.Pass {
		if err := formatter.Failure("E_ASSERTION", fmt.Sprintf("%d assertion(s) failed", len(result.Errors)), out, text); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("scenario %s failed", scenario.Name))
	}
	return formatter.Success(out, text)
}

// journalTrace writes the trace as a new session and returns its id.
func journalTrace(cmd *cobra.Command, opts *SimulateOptions, scenario *harness.Scenario, events []store.Event) (string, error) {
	st, err := store.Open(opts.Database)
	if err != nil {
		return "", WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer st.Close()

	gen := opts.SessionGenerator
	if gen == nil {
		gen = store.UUIDv7Generator{}
	}

	ctx := cmd.Context()
	journal, err := st.BeginSession(ctx, gen, scenario.Name,
		time.Duration(scenario.FrameIntervalMS)*time.Millisecond,
		time.Duration(scenario.SettleThresholdMS)*time.Millisecond,
	)
	if err != nil {
		return "", WrapExitError(ExitFailure, "failed to start journal session", err)
	}
	if len(events) > 0 {
		if err := journal.Append(ctx, events...); err != nil {
			return "", WrapExitError(ExitFailure, "failed to journal trace", err)
		}
	}
	return journal.Session().ID, nil
}

// journalEvent converts a trace event into a journal row.
func journalEvent(ev harness.TraceEvent) store.Event {
	kind := store.KindApply
	switch ev.Type {
	case harness.EventSettle:
		kind = store.KindSettle
	case harness.EventDrop:
		kind = store.KindDrop
	}
	return store.Event{
		Kind:      kind,
		Target:    ev.Target,
		FrameTime: time.Duration(ev.TimeMS) * time.Millisecond,
		Code:      ev.Code,
		Props:     ev.Props,
	}
}

func writeSimulateText(w io.Writer, out SimulateResult) {
	fmt.Fprintf(w, "Scenario: %s\n\n", out.Scenario)
	for _, ev := range out.Trace {
		fmt.Fprintf(w, "[frame %3d %5dms] %-6s target=%d %s", ev.Frame, ev.TimeMS, ev.Type, ev.Target, ev.Props)
		if ev.Batch != 0 {
			fmt.Fprintf(w, " batch=%d", ev.Batch)
		}
		if ev.Code != "" {
			fmt.Fprintf(w, " code=%s", ev.Code)
		}
		fmt.Fprintln(w)
	}
	if out.Session != "" {
		fmt.Fprintf(w, "\nJournaled as session %s\n", out.Session)
	}
	for _, e := range out.Errors {
		fmt.Fprintf(w, "\n%s", e)
	}
	if out.Pass {
		fmt.Fprintln(w, "\n✓ All assertions passed")
	}
}
