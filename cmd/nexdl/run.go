package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mmcdole/nexdl/internal/adapter"
	"github.com/mmcdole/nexdl/internal/collection"
	"github.com/mmcdole/nexdl/internal/domain"
	"github.com/mmcdole/nexdl/internal/service"
	"github.com/mmcdole/nexdl/internal/store"
	"github.com/mmcdole/nexdl/internal/tui"
	"github.com/mmcdole/nexdl/internal/vision"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// eventBuffer is the dashboard channel capacity
const eventBuffer = 256

type runOptions struct {
	yes           bool
	resetProgress bool
}

func newRunCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Download every pending file of the collection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDownload(cmd, opts)
		},
	}
	addRunFlags(cmd.Flags())
	cmd.Flags().BoolVarP(&opts.yes, "yes", "y", false, "skip the confirmation prompt")
	cmd.Flags().BoolVar(&opts.resetProgress, "reset-progress", false, "delete the progress file before starting")
	return cmd
}

func runDownload(cmd *cobra.Command, opts runOptions) error {
	out := cmd.OutOrStdout()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, closeLog := setupLogger(cmd, cfg)
	defer closeLog()
	logger.Info("starting nexdl", "version", Version, "collection", cfg.Collection, "game", cfg.Game)

	if opts.resetProgress {
		removed, err := store.Reset(cfg.Progress.File)
		if err != nil {
			return err
		}
		if removed {
			fmt.Fprintf(out, "Progress reset: deleted %s\n", cfg.Progress.File)
		}
	}

	items, err := collection.Load(cfg.Collection, logger)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Fprintln(out, "No mods found in the collection.")
		return nil
	}

	progress, err := store.Open(cfg.Progress.File)
	if err != nil {
		return err
	}
	defer progress.Close()

	entries, err := progress.Load()
	if err != nil {
		return err
	}
	stats := store.Summarize(entries, items)
	printStats(out, stats)
	if stats.Remaining == 0 {
		fmt.Fprintln(out, "All mods are already downloaded.")
		return nil
	}

	// Templates are checked before the browser starts.
	var templates vision.TemplateSet
	if cfg.PositionMode() == domain.PositionAuto {
		templates, err = vision.LoadTemplates(cfg.Detection.Template)
		if err != nil {
			return &domain.ConfigError{
				Field:  "detection.template",
				Reason: fmt.Sprintf("%v (create one with \"nexdl calibrate\")", err),
			}
		}
	}

	printPlan(out, cfg)
	if !opts.yes {
		if err := waitForEnter(cmd.InOrStdin(), out, "Press ENTER to continue (Ctrl+C to cancel)..."); err != nil {
			return err
		}
	}

	b, err := newBrowser(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			logger.Warn("failed to close browser", "error", err)
		}
	}()

	var positions *service.PositionSource
	if cfg.PositionMode() == domain.PositionAuto {
		detector := vision.NewDetector(cfg.Detection.Confidence, cfg.Detection.SearchScale)
		positions = service.NewAutoPositions(b, detector, templates, logger)
	} else {
		positions = service.NewManualPositions(cfg.ClickPreset(), logger)
	}

	svc, err := service.NewDownloadService(b, progress, positions, downloadConfig(cfg), logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	stop := &service.StopFlag{}
	go watchSignals(ctx, stop, cancel, logger)

	var summary service.RunSummary
	var runErr error
	if useDashboard(cfg.UI.Dashboard) {
		summary, runErr = runWithDashboard(ctx, cancel, svc, items, stop, cfg.Game, logger)
	} else {
		fmt.Fprintln(out, "Press Ctrl+C to stop after the current mod.")
		summary, runErr = svc.Run(ctx, items, stop, plainObserver{out: out})
	}

	printSummary(out, summary)
	switch {
	case errors.Is(runErr, context.Canceled) && stop.Requested():
		return errStopped
	case runErr != nil:
		return runErr
	case summary.Stopped:
		return errStopped
	case summary.Failed > 0:
		return fmt.Errorf("%w: %d of %d", errItemsFailed, summary.Failed, summary.Processed())
	}
	return nil
}

// downloadConfig converts the validated config into service settings
func downloadConfig(cfg *adapter.Config) service.DownloadConfig {
	d := cfg.Download
	return service.DownloadConfig{
		Game:             cfg.Game,
		ModManager:       d.ModManager,
		DelayBeforeClick: d.DelayBeforeClick,
		DelayForDownload: d.DelayForDownload,
		DelayBetweenMods: d.DelayBetweenMods,
		AutoClose:        d.AutoClose,
		BatchSize:        d.BatchSize,
		TabCloseDelay:    d.TabCloseDelay,
		Retry: service.RetryPolicy{
			MaxAttempts: d.MaxAttempts,
			BaseDelay:   d.RetryBaseDelay,
		},
	}
}

// watchSignals turns the first SIGINT or SIGTERM into a stop request and a
// second one into cancellation.
func watchSignals(ctx context.Context, stop *service.StopFlag, cancel context.CancelFunc, logger *slog.Logger) {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigs:
			if stop.Request() {
				logger.Info("stop requested", "signal", sig.String())
				fmt.Fprintln(os.Stderr, "\nStopping after the current mod. Press Ctrl+C again to quit now.")
				continue
			}
			logger.Warn("forced stop", "signal", sig.String())
			cancel()
			return
		}
	}
}

// useDashboard resolves the dashboard mode against the terminal
func useDashboard(mode adapter.DashboardMode) bool {
	switch mode {
	case adapter.DashboardOn:
		return true
	case adapter.DashboardOff:
		return false
	default:
		return term.IsTerminal(int(os.Stdout.Fd()))
	}
}

// runWithDashboard runs the download in the background while the dashboard
// owns the terminal. The event channel is closed when Run returns, which ends
// the dashboard.
func runWithDashboard(
	ctx context.Context,
	cancel context.CancelFunc,
	svc *service.DownloadService,
	items []domain.WorkItem,
	stop *service.StopFlag,
	game string,
	logger *slog.Logger,
) (service.RunSummary, error) {
	events := make(chan domain.RunEvent, eventBuffer)

	var summary service.RunSummary
	var runErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer close(events)
		summary, runErr = svc.Run(ctx, items, stop, tui.NewChannelObserver(events))
	}()

	model := tui.NewModel("nexdl · "+game, events, func() { stop.Request() })
	p := tea.NewProgram(model, tea.WithAltScreen())

	logger.Info("starting dashboard")
	final, err := p.Run()
	if err != nil {
		logger.Error("dashboard error", "error", err)
		cancel()
	}
	if m, ok := final.(tui.Model); ok && m.Forced() {
		cancel()
	}

	<-done
	return summary, runErr
}

// plainObserver prints one line per finished item when there is no dashboard
type plainObserver struct {
	out io.Writer
}

func (o plainObserver) OnEvent(ev domain.RunEvent) {
	switch ev.Kind {
	case domain.EventItemStarted:
		fmt.Fprintf(o.out, "[%d/%d] %s\n", ev.Index, ev.Total, ev.Item)
	case domain.EventAwaitingClick:
		fmt.Fprintln(o.out, "        Click the \"Slow download\" button in the browser; the position is reused for every other mod.")
	case domain.EventItemFinished:
		if ev.Outcome == domain.StatusCompleted {
			fmt.Fprintf(o.out, "        done at %s (%d/%d)\n", ev.Position, ev.Done, ev.Total)
		} else {
			fmt.Fprintf(o.out, "        failed after %d attempt(s): %v\n", ev.Attempts, ev.Err)
		}
	case domain.EventBatchFlushed:
		fmt.Fprintf(o.out, "Closed %d tab(s)\n", ev.Closed)
	case domain.EventStopRequested:
		fmt.Fprintf(o.out, "Stopped with %d mod(s) left.\n", ev.Pending)
	}
}

func printStats(out io.Writer, stats store.Stats) {
	fmt.Fprintf(out, "Total mods:         %d\n", stats.Total)
	fmt.Fprintf(out, "Already downloaded: %d\n", stats.Completed)
	if stats.Failed > 0 {
		fmt.Fprintf(out, "Previously failed:  %d\n", stats.Failed)
	}
	fmt.Fprintf(out, "Remaining:          %d\n", stats.Remaining)
}

func printPlan(out io.Writer, cfg *adapter.Config) {
	fmt.Fprintln(out)
	if cfg.Download.AutoClose {
		fmt.Fprintln(out, "Mode: standard (each tab is closed after its download starts)")
	} else {
		fmt.Fprintf(out, "Mode: fast (tabs are closed in batches of %d)\n", cfg.Download.BatchSize)
	}
	switch {
	case cfg.PositionMode() == domain.PositionAuto:
		fmt.Fprintf(out, "Button: detected from %s (confidence %.2f)\n", cfg.Detection.Template, cfg.Detection.Confidence)
	case cfg.ClickPreset() != nil:
		fmt.Fprintf(out, "Button: fixed position %s\n", cfg.ClickPreset())
	default:
		fmt.Fprintln(out, "Button: click \"Slow download\" on the first page; that position is reused")
	}
	if cfg.Browser.Provider == adapter.ProviderDryRun {
		fmt.Fprintln(out, "Browser: dry run, nothing is opened")
	}
	fmt.Fprintln(out)
}

func printSummary(out io.Writer, s service.RunSummary) {
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Completed: %d  Failed: %d  Skipped: %d  Tabs closed: %d  (%s)\n",
		s.Completed, s.Failed, s.Skipped, s.TabsClosed, s.Duration.Round(time.Second))
	for _, item := range s.FailedItems {
		fmt.Fprintf(out, "  failed: %s\n", item)
	}
}
