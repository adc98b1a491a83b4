package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/propsync/internal/scheduler"
	"github.com/roach88/propsync/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Session  string // optional - defaults to the latest session
	Kind     string // optional - filter to one event kind
	Target   int64  // optional - filter to one target (0 = all)
	List     bool
}

// TraceEvent is a single journal event in the trace timeline.
type TraceEvent struct {
	Seq         int64  `json:"seq"`
	Kind        string `json:"kind"`
	Target      int64  `json:"target"`
	FrameTimeMS int64  `json:"frame_time_ms"`
	Code        string `json:"code,omitempty"`
	Props       string `json:"props"`
}

// TraceStats holds summary statistics for a session.
type TraceStats struct {
	TotalEvents int `json:"total_events"`
	Applies     int `json:"applies"`
	Settles     int `json:"settles"`
	Drops       int `json:"drops"`
	Targets     int `json:"targets"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Session           string       `json:"session"`
	Name              string       `json:"name"`
	FrameIntervalMS   int64        `json:"frame_interval_ms"`
	SettleThresholdMS int64        `json:"settle_threshold_ms"`
	Timeline          []TraceEvent `json:"timeline"`
	Stats             TraceStats   `json:"stats"`
}

// SessionSummary is one row of --list output.
type SessionSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show journaled events of a session",
		Long: `Read a session back from the SQLite journal written by run or
simulate --db.

Without --session the most recent session is shown. Use --list to see
every session in the journal.

Examples:
  propsync trace --db ./propsync.db
  propsync trace --db ./propsync.db --list
  propsync trace --db ./propsync.db --session <id> --kind settle
  propsync trace --db ./propsync.db --target 3 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (required)")
	cmd.Flags().StringVar(&opts.Session, "session", "", "session id (default: latest)")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "filter by event kind (apply|settle|drop)")
	cmd.Flags().Int64Var(&opts.Target, "target", 0, "filter by target id")
	cmd.Flags().BoolVar(&opts.List, "list", false, "list sessions instead of showing one")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	kind := store.EventKind(opts.Kind)
	switch kind {
	case "", store.KindApply, store.KindSettle, store.KindDrop:
	default:
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid kind %q: must be apply, settle or drop", opts.Kind))
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	if opts.List {
		return listSessions(ctx, st, formatter)
	}

	var session store.Session
	if opts.Session != "" {
		session, err = st.ReadSession(ctx, opts.Session)
	} else {
		session, err = st.LatestSession(ctx)
	}
	if errors.Is(err, store.ErrSessionNotFound) {
		return WrapExitError(ExitCommandError, "session not found", err)
	}
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read session", err)
	}

	var events []store.Event
	if kind != "" {
		events, err = st.ReadEventsByKind(ctx, session.ID, kind)
	} else {
		events, err = st.ReadEvents(ctx, session.ID)
	}
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read events", err)
	}

	result := buildTraceResult(session, events, scheduler.TargetID(opts.Target))
	return formatter.Success(result, func(w io.Writer) { writeTraceText(w, result) })
}

func listSessions(ctx context.Context, st *store.Store, formatter *OutputFormatter) error {
	sessions, err := st.ListSessions(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to list sessions", err)
	}

	rows := make([]SessionSummary, len(sessions))
	for i, s := range sessions {
		rows[i] = SessionSummary{ID: s.ID, Name: s.Name}
	}
	return formatter.Success(rows, func(w io.Writer) {
		if len(rows) == 0 {
			fmt.Fprintln(w, "No sessions.")
			return
		}
		for _, r := range rows {
			fmt.Fprintf(w, "%s  %s\n", r.ID, r.Name)
		}
	})
}

// buildTraceResult converts journal rows into the timeline, keeping only
// events of target when target is non-zero.
func buildTraceResult(session store.Session, events []store.Event, target scheduler.TargetID) TraceResult {
	result := TraceResult{
		Session:           session.ID,
		Name:              session.Name,
		FrameIntervalMS:   session.FrameInterval.Milliseconds(),
		SettleThresholdMS: session.SettleThreshold.Milliseconds(),
		Timeline:          make([]TraceEvent, 0, len(events)),
	}

	targets := make(map[scheduler.TargetID]struct{})
	for _, ev := range events {
		if target != 0 && ev.Target != target {
			continue
		}
		result.Timeline = append(result.Timeline, TraceEvent{
			Seq:         ev.Seq,
			Kind:        string(ev.Kind),
			Target:      int64(ev.Target),
			FrameTimeMS: ev.FrameTime.Milliseconds(),
			Code:        ev.Code,
			Props:       ev.Props.String(),
		})
		targets[ev.Target] = struct{}{}

		switch ev.Kind {
		case store.KindApply:
			result.Stats.Applies++
		case store.KindSettle:
			result.Stats.Settles++
		case store.KindDrop:
			result.Stats.Drops++
		}
	}
	result.Stats.TotalEvents = len(result.Timeline)
	result.Stats.Targets = len(targets)
	return result
}

func writeTraceText(w io.Writer, r TraceResult) {
	fmt.Fprintf(w, "Session: %s (%s)\n", r.Session, r.Name)
	fmt.Fprintf(w, "Frame interval: %dms, settle threshold: %dms\n\n", r.FrameIntervalMS, r.SettleThresholdMS)

	if len(r.Timeline) == 0 {
		fmt.Fprintln(w, "No events.")
	}
	for _, ev := range r.Timeline {
		fmt.Fprintf(w, "%4d %6dms %-6s target=%d %s", ev.Seq, ev.FrameTimeMS, ev.Kind, ev.Target, ev.Props)
		if ev.Code != "" {
			fmt.Fprintf(w, " code=%s", ev.Code)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "\nEvents: %d (apply %d, settle %d, drop %d) across %d target(s)\n",
		r.Stats.TotalEvents, r.Stats.Applies, r.Stats.Settles, r.Stats.Drops, r.Stats.Targets)
}
