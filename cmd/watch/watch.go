// Package watch provides the watch command, the console front-end of a
// backup session.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/leefowlercu/atlas-archive/internal/cmdutil"
	"github.com/leefowlercu/atlas-archive/internal/config"
	"github.com/leefowlercu/atlas-archive/internal/controller"
	"github.com/leefowlercu/atlas-archive/internal/events"
	"github.com/leefowlercu/atlas-archive/internal/logging"
	"github.com/leefowlercu/atlas-archive/internal/metrics"
	"github.com/leefowlercu/atlas-archive/internal/status"
)

// shutdownTimeout bounds how long an in-flight backup may delay exit.
const shutdownTimeout = 2 * time.Minute

var (
	watchFlags WatchFlags
)

// WatchFlags are the watch command's flags.
type WatchFlags struct {
	cmdutil.WatchFlags
	Verbose  bool
	Debounce time.Duration
}

// WatchCmd runs a backup session in the foreground.
var WatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch a save folder and back it up after each save",
	Long: "Watch a save folder and back it up after each save.\n\n" +
		"Runs in the foreground until interrupted. Every change under the source folder is classified; " +
		"once changes stop for the debounce window, one archive is written to the destination and the " +
		"oldest archives beyond the retention limit are deleted. An interrupt lets an in-progress backup finish.\n\n" +
		"Send SIGHUP to re-read the config file. A changed watch section restarts the session.",
	Example: `  # Watch using the paths from the config file
  atlas watch

  # Watch an explicit folder, keeping 20 archives
  atlas watch --source ~/Saves/Hades --dest ~/Backups/Hades -n 20

  # Report every change as it happens
  atlas watch --verbose`,
	PreRunE: validateWatch,
	RunE:    runWatch,
}

func init() {
	watchFlags.Register(WatchCmd)
	WatchCmd.Flags().BoolVarP(&watchFlags.Verbose, "verbose", "v", false, "Report every detected change (overrides watch.verbose)")
	WatchCmd.Flags().DurationVar(&watchFlags.Debounce, "debounce", 0, "Quiet period before a backup (overrides watch.debounce_ms)")
}

func validateWatch(cmd *cobra.Command, args []string) error {
	if cmd.Flags().Changed("debounce") && watchFlags.Debounce < time.Millisecond {
		return fmt.Errorf("--debounce must be at least 1ms")
	}
	if err := cmdutil.CheckMaxBackupsFlag(cmd, watchFlags.MaxBackups); err != nil {
		return err
	}

	// All errors after this are runtime errors
	cmd.SilenceUsage = true
	return nil
}

// apply layers the watch-only flags over cfg.
func (f *WatchFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	f.WatchFlags.Apply(cmd, cfg)
	if cmd.Flags().Changed("verbose") {
		cfg.Watch.Verbose = f.Verbose
	}
	if cmd.Flags().Changed("debounce") {
		cfg.Watch.DebounceMs = int(f.Debounce / time.Millisecond)
	}
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Current()
	if err != nil {
		return err
	}
	watchFlags.apply(cmd, cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := newRunner(cmd, slog.Default())
	defer r.close()

	reloads := make(chan *config.Config, 1)
	config.SetupSignalHandler(func(next *config.Config) {
		watchFlags.apply(cmd, next)
		// Only the newest reload matters
		select {
		case <-reloads:
		default:
		}
		reloads <- next
	})
	defer config.StopSignalHandler()

	return r.run(ctx, cfg, reloads)
}

// runner owns the front-end of one watch command: the console renderer,
// the event bus, the metrics listener and the current controller.
type runner struct {
	logger   *slog.Logger
	console  *status.ConsoleSink
	stream   *status.ChanSink
	sink     status.Sink
	bus      *events.EventBus
	notifier *notifier
	metrics  *metrics.Server

	renderDone chan struct{}
	quit       chan struct{}
	unsubs     []func()
}

func newRunner(cmd *cobra.Command, logger *slog.Logger) *runner {
	r := &runner{
		logger:     logger,
		console:    status.NewConsoleSink(cmd.OutOrStdout()),
		stream:     status.NewChanSink(256),
		bus:        events.NewBus(events.WithLogger(logger)),
		notifier:   newNotifier(logger),
		renderDone: make(chan struct{}),
		quit:       make(chan struct{}),
	}
	r.sink = status.Multi{r.stream, status.NewLogSink(logger)}

	go r.render()
	r.subscribe()
	return r
}

// render copies the status stream to the console until quit, then drains
// whatever is still buffered.
func (r *runner) render() {
	defer close(r.renderDone)
	for {
		select {
		case msg := <-r.stream.Messages():
			r.console.Report(msg)
		case <-r.quit:
			for {
				select {
				case msg := <-r.stream.Messages():
					r.console.Report(msg)
				default:
					return
				}
			}
		}
	}
}

// subscribe keeps the systemd status line current.
func (r *runner) subscribe() {
	r.unsubs = append(r.unsubs,
		r.bus.Subscribe(func(e events.Event) {
			b, ok := e.Payload.(*events.BackupEvent)
			if !ok {
				return
			}
			if e.Type == events.BackupFailed {
				r.notifier.Status("Last backup failed: " + b.Error)
				return
			}
			r.notifier.Status(fmt.Sprintf("Last backup %s (%s, %s)",
				e.Timestamp.Format(time.TimeOnly), b.Tag, humanize.Bytes(uint64(b.Size))))
		}, events.BackupCompleted, events.BackupFailed),
	)
}

func (r *runner) close() {
	for _, unsub := range r.unsubs {
		unsub()
	}
	if err := r.bus.Close(); err != nil {
		r.logger.Debug("event bus close failed", "error", err)
	}
	if r.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.metrics.Stop(ctx); err != nil {
			r.logger.Warn("failed to stop metrics server", "error", err)
		}
	}
	close(r.quit)
	<-r.renderDone
	if dropped := r.stream.Dropped(); dropped > 0 {
		r.logger.Warn("status messages dropped", "count", dropped)
	}
}

// run starts the first session and then reacts to signals, reloads and
// session failure until one of them ends the command.
func (r *runner) run(ctx context.Context, cfg *config.Config, reloads <-chan *config.Config) error {
	if err := r.startMetrics(cfg); err != nil {
		return err
	}

	ctrl, err := r.start(ctx, cfg)
	if err != nil {
		return err
	}
	r.notifier.StartWatchdog()
	defer r.notifier.StopWatchdog()

	for {
		select {
		case <-ctx.Done():
			r.notifier.Stopping()
			status.Infof(r.sink, "Stopping; waiting for any backup in progress")
			return r.shutdown(ctrl)

		case <-ctrl.Done():
			if ctx.Err() != nil {
				// The session saw the signal first
				r.notifier.Stopping()
			}
			return ctrl.Err()

		case next := <-reloads:
			ctrl, err = r.reload(ctx, ctrl, cfg, next)
			if err != nil {
				return err
			}
			cfg = next
		}
	}
}

// start validates cfg and starts a controller for it.
func (r *runner) start(ctx context.Context, cfg *config.Config) (*controller.Controller, error) {
	wc, err := cmdutil.ResolveWatchConfig(cfg)
	if err != nil {
		return nil, err
	}

	opts := append(cmdutil.PipelineOptions(cfg),
		controller.WithSink(r.sink),
		controller.WithLogger(r.logger),
		controller.WithBus(r.bus),
	)
	ctrl := controller.New(wc, opts...)
	if err := ctrl.Start(ctx); err != nil {
		return nil, err
	}

	r.notifier.Ready(fmt.Sprintf("Watching %s", wc.SourcePath))
	return ctrl, nil
}

// reload applies a re-read config. Log level changes apply in place; a
// changed watch section replaces the session. An unusable new config keeps
// the current session running.
func (r *runner) reload(ctx context.Context, ctrl *controller.Controller, prev, next *config.Config) (*controller.Controller, error) {
	changed := config.ChangedSections(prev, next)
	r.logger.Info("config reloaded", "changed", changed)

	if level, ok := logging.ParseLevel(next.LogLevel); ok && next.LogLevel != prev.LogLevel {
		if m := logging.Default(); m != nil {
			m.SetLevel(level)
		}
	}
	if next.Metrics != prev.Metrics {
		status.Warnf(r.sink, "Metrics settings changed; restart atlas to apply them")
	}

	if !config.WatchChanged(prev, next) {
		return ctrl, nil
	}

	wc, err := cmdutil.ResolveWatchConfig(next)
	if err == nil {
		err = wc.Validate()
	}
	if err != nil {
		status.Errorf(r.sink, "Ignoring reloaded config: %v", err)
		return ctrl, nil
	}

	status.Infof(r.sink, "Configuration changed; restarting the watch")
	if err := r.shutdown(ctrl); err != nil {
		return nil, err
	}
	return r.start(ctx, next)
}

// shutdown stops ctrl, letting an in-flight backup finish.
func (r *runner) shutdown(ctrl *controller.Controller) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := ctrl.Shutdown(ctx); err != nil {
		return err
	}
	if err := ctrl.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (r *runner) startMetrics(cfg *config.Config) error {
	if !cfg.Metrics.Enabled {
		return nil
	}
	r.metrics = metrics.NewServer(cfg.Metrics.Listen, r.logger)
	if err := r.metrics.Start(); err != nil {
		r.metrics = nil
		return fmt.Errorf("failed to start metrics listener; %w", err)
	}
	status.Infof(r.sink, "Metrics available at http://%s/metrics", r.metrics.Addr())
	return nil
}
