package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/roach88/propsync/internal/animate"
	"github.com/roach88/propsync/internal/bridge"
	"github.com/roach88/propsync/internal/config"
	"github.com/roach88/propsync/internal/props"
	"github.com/roach88/propsync/internal/scheduler"
	"github.com/roach88/propsync/internal/sink"
	"github.com/roach88/propsync/internal/store"
	"github.com/roach88/propsync/internal/view"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	ConfigPath  string
	Duration    time.Duration
	Journal     string
	MetricsAddr string

	// SessionGenerator allows overriding the journal session id generator
	// (for testing). If nil, defaults to UUIDv7Generator.
	SessionGenerator store.SessionIDGenerator
}

// RunSummary is the outcome of a live run.
type RunSummary struct {
	Targets  int             `json:"targets"`
	Cycles   int             `json:"cycles"`
	Complete bool            `json:"complete"`
	Session  string          `json:"session,omitempty"`
	Stats    scheduler.Stats `json:"stats"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the live scheduler with the demo animator",
		Long: `Start the presentation loop on real frame ticks and drive it with the
demo animator from the interaction side.

Batches are applied to an in-memory view tree, or published to an MQTT
broker when mqtt.url is configured. Settle and drop notifications are
journaled to SQLite when a journal path is set, and scheduler metrics are
served on /metrics when metrics_addr is set.

The command exits once every target settled on its final value (unless
animation.loop is set), after --duration, or on Ctrl-C.

Examples:
  propsync run
  propsync run --config ./propsync.yaml --journal ./propsync.db
  propsync run --duration 10s --metrics-addr :9090 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLive(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config (defaults apply when omitted)")
	cmd.Flags().DurationVar(&opts.Duration, "duration", 0, "stop after this long (0 = until settled or interrupted)")
	cmd.Flags().StringVar(&opts.Journal, "journal", "", "path to SQLite journal (overrides config)")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (overrides config)")

	return cmd
}

func loadRunConfig(opts *RunOptions) (*config.Config, error) {
	cfg := config.Default()
	if opts.ConfigPath != "" {
		loaded, err := config.Load(opts.ConfigPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if opts.Journal != "" {
		cfg.Journal = opts.Journal
	}
	if opts.MetricsAddr != "" {
		cfg.MetricsAddr = opts.MetricsAddr
	}
	return cfg, nil
}

func runLive(opts *RunOptions, cmd *cobra.Command) error {
	cfg, err := loadRunConfig(opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	level, err := cfg.SlogLevel()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	logger := newLogger(cmd.ErrOrStderr(), level, opts.Verbose)

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	reg := prometheus.NewRegistry()
	metrics, err := scheduler.NewMetrics(reg)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to register metrics", err)
	}

	targets := make([]scheduler.TargetID, cfg.Targets)
	for i := range targets {
		targets[i] = scheduler.TargetID(i + 1)
	}

	pres, err := newPresentation(cfg, targets, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to set up presentation", err)
	}
	defer pres.close()

	endpoint := bridge.NewEndpoint()
	sched, err := scheduler.New(pres.applier, endpoint,
		scheduler.WithFrameInterval(cfg.FrameInterval),
		scheduler.WithSettleThreshold(cfg.SettleThreshold),
		scheduler.WithDropHandler(endpoint.Dropped),
		scheduler.WithMetrics(metrics),
		scheduler.WithLogger(logger),
	)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create scheduler", err)
	}
	for i, id := range targets {
		if err := sched.Register(id, pres.handles[i]); err != nil {
			return WrapExitError(ExitFailure, "failed to register target", err)
		}
	}

	client := bridge.New(sched, endpoint, bridge.WithLogger(logger))
	defer client.Close()

	summary := RunSummary{Targets: len(targets)}

	if cfg.Journal != "" {
		st, err := store.Open(cfg.Journal)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing journal", "error", closeErr)
			}
		}()

		gen := opts.SessionGenerator
		if gen == nil {
			gen = store.UUIDv7Generator{}
		}
		journal, err := st.BeginSession(ctx, gen, "run", cfg.FrameInterval, cfg.SettleThreshold)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to start journal session", err)
		}
		attachJournal(client, journal, sched.Clock(), logger)
		summary.Session = journal.Session().ID
		logger.Info("journaling", "path", cfg.Journal, "session", summary.Session)
	}

	if cfg.MetricsAddr != "" {
		stop := serveMetrics(cfg.MetricsAddr, reg, logger)
		defer stop()
	}

	schedDone := make(chan error, 1)
	go func() {
		schedDone <- sched.Run(ctx, scheduler.NewTickerFrames(cfg.FrameInterval))
	}()

	loop := &interactionLoop{
		client:  client,
		targets: targets,
		spec:    animationSpec(cfg.Animation),
		loop:    cfg.Animation.Loop,
		logger:  logger,
	}
	cycles, complete, err := loop.run(ctx, cfg.FrameInterval, opts.Duration)

	cancel()
	if schedErr := <-schedDone; schedErr != nil && !errors.Is(schedErr, context.Canceled) && !errors.Is(schedErr, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "scheduler error", schedErr)
	}
	if err != nil {
		return WrapExitError(ExitFailure, "animation error", err)
	}

	// Deliver notifications that arrived while shutting down.
	client.Dispatch()

	summary.Cycles = cycles
	summary.Complete = complete
	summary.Stats = sched.Stats()
	logger.Info("scheduler stopped", "cycles", cycles, "settles", summary.Stats.Settles)

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return out.Success(summary, func(w io.Writer) {
		fmt.Fprintf(w, "Targets: %d, cycles: %d, complete: %t\n", summary.Targets, summary.Cycles, summary.Complete)
		fmt.Fprintf(w, "Flushes: %d, applied: %d, unchanged: %d, dropped: %d, settles: %d\n",
			summary.Stats.Flushes, summary.Stats.Applied, summary.Stats.Elided, summary.Stats.Dropped, summary.Stats.Settles)
		if summary.Session != "" {
			fmt.Fprintf(w, "Session: %s\n", summary.Session)
		}
	})
}

// presentation is the native side the scheduler applies to.
type presentation struct {
	applier scheduler.Applier
	handles []scheduler.Handle
	close   func()
}

// newPresentation creates an in-memory view tree, or an MQTT sink when the
// broker is configured.
func newPresentation(cfg *config.Config, targets []scheduler.TargetID, logger *slog.Logger) (*presentation, error) {
	handles := make([]scheduler.Handle, len(targets))

	if !cfg.MQTT.Enabled() {
		tree := view.NewTree()
		for i, id := range targets {
			node, err := tree.CreateNode(id)
			if err != nil {
				return nil, err
			}
			handles[i] = node
		}
		return &presentation{applier: tree, handles: handles, close: func() {}}, nil
	}

	client, err := sink.Connect(sink.ClientConfig{
		URL:      cfg.MQTT.URL,
		Username: cfg.MQTT.Username,
		Password: cfg.MQTT.Password,
		ClientID: cfg.MQTT.ClientID,
	}, logger)
	if err != nil {
		return nil, err
	}
	enc, err := sink.ParseEncoding(cfg.MQTT.Encoding)
	if err != nil {
		client.Disconnect(250)
		return nil, err
	}
	s, err := sink.New(client, cfg.MQTT.Topic,
		sink.WithQoS(byte(cfg.MQTT.QoS)),
		sink.WithEncoding(enc),
		sink.WithLogger(logger),
	)
	if err != nil {
		client.Disconnect(250)
		return nil, err
	}
	for i, id := range targets {
		handles[i] = sink.NewRemoteNode(id)
	}
	return &presentation{
		applier: s,
		handles: handles,
		close:   func() { client.Disconnect(250) },
	}, nil
}

// attachJournal records settle and drop notifications. Listeners run on
// the interaction goroutine, so SQLite writes never block the presentation
// loop.
func attachJournal(client *bridge.Client, journal *store.Journal, clock *scheduler.FrameClock, logger *slog.Logger) {
	// Journal writes outlive the run context so shutdown notifications land.
	ctx := context.Background()

	client.OnSettled(func(id scheduler.TargetID, final props.Map) {
		if err := journal.Settled(ctx, id, clock.Now(), final); err != nil {
			logger.Error("journal settle failed", "target", id, "error", err)
		}
	})
	client.OnDrop(func(d scheduler.Drop) {
		if err := journal.Dropped(ctx, d); err != nil {
			logger.Error("journal drop failed", "target", d.Target, "error", err)
		}
	})
}

// serveMetrics exposes reg on /metrics and returns a shutdown function.
func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("metrics server shutdown", "error", err)
		}
	}
}

func animationSpec(a config.Animation) animate.Spec {
	return animate.Spec{
		Duration:  a.Duration,
		Easing:    a.Easing,
		From:      a.From,
		To:        a.To,
		WidthFrom: a.WidthFrom,
		WidthTo:   a.WidthTo,
		Stagger:   a.Stagger,
	}
}

// reversed returns spec running from its end state back to its start.
func reversed(spec animate.Spec) animate.Spec {
	spec.From, spec.To = spec.To, spec.From
	spec.WidthFrom, spec.WidthTo = spec.WidthTo, spec.WidthFrom
	return spec
}

// interactionLoop is the interaction side of the live run: it samples the
// animator on its own frame ticks and submits through the bridge.
//
// CRITICAL: run owns the animator and the settle listener; everything
// happens on the calling goroutine. run must be called at most once.
type interactionLoop struct {
	client  *bridge.Client
	targets []scheduler.TargetID
	spec    animate.Spec
	loop    bool
	logger  *slog.Logger

	// unsettled holds targets whose last submitted map has not settled yet.
	unsettled map[scheduler.TargetID]props.Map
}

// run returns the number of started cycles and whether the last one
// completed (every target settled after its final frame).
func (l *interactionLoop) run(ctx context.Context, interval, limit time.Duration) (int, bool, error) {
	start := time.Now()
	anim, err := animate.New(l.spec, l.targets, 0)
	if err != nil {
		return 0, false, err
	}
	cycles := 1
	l.unsettled = make(map[scheduler.TargetID]props.Map, len(l.targets))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var deadline <-chan time.Time
	if limit > 0 {
		timer := time.NewTimer(limit)
		defer timer.Stop()
		deadline = timer.C
	}

	// A settle may report an earlier map if frames stalled mid-animation;
	// only the last submitted map completes the target.
	l.client.OnSettled(func(id scheduler.TargetID, final props.Map) {
		if sent, ok := l.unsettled[id]; ok && sent.Equal(final) {
			delete(l.unsettled, id)
		}
		l.logger.Debug("target settled", "target", id, "props", final)
	})

	for {
		select {
		case <-ctx.Done():
			return cycles, false, nil
		case <-deadline:
			return cycles, false, nil
		case <-ticker.C:
		}

		l.client.Dispatch()
		now := time.Since(start)

		if anim.Done() && len(l.unsettled) == 0 {
			l.logger.Info("animation cycle complete", "cycle", cycles, "elapsed", now)
			if !l.loop {
				return cycles, true, nil
			}
			l.spec = reversed(l.spec)
			if anim, err = animate.New(l.spec, l.targets, now); err != nil {
				return cycles, false, err
			}
			cycles++
		}

		// One batch per frame: the whole frame lands in a single flush.
		frame := anim.Frame(now)
		for _, u := range frame {
			l.unsettled[u.Target] = u.Props
		}
		if err := l.client.UpdateBatch(frame, nil); err != nil {
			if errors.Is(err, scheduler.ErrStopped) {
				return cycles, false, nil
			}
			return cycles, false, err
		}
	}
}
