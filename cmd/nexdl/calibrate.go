package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mmcdole/nexdl/internal/adapter"
	"github.com/mmcdole/nexdl/internal/collection"
	"github.com/mmcdole/nexdl/internal/domain"
	"github.com/mmcdole/nexdl/internal/service"
	"github.com/mmcdole/nexdl/internal/vision"
	"github.com/spf13/cobra"
)

func newCalibrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Capture download button templates from one real click",
		Long: `Opens the first pending mod, waits for you to click "Slow download" and saves
the button as it looked before the click (normal) and under the pointer (hover).
Existing templates are never overwritten.`,
		Args: cobra.NoArgs,
		RunE: runCalibrate,
	}
	addCollectionFlags(cmd.Flags())
	cmd.Flags().String("template", "", "normal-state button template image to write")
	cmd.Flags().Duration("delay-click", 0, "wait after opening the page before capturing it")
	cmd.Flags().String("browser", "", "browser provider (must be playwright)")
	return cmd
}

func runCalibrate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Browser.Provider != adapter.ProviderPlaywright {
		return &domain.ConfigError{Field: "browser.provider", Reason: "calibration needs a real browser"}
	}
	logger, closeLog := setupLogger(cmd, cfg)
	defer closeLog()

	normalPath := cfg.Detection.Template
	hoverPath := vision.HoverPath(normalPath)
	if fileExists(normalPath) && fileExists(hoverPath) {
		fmt.Fprintf(out, "Templates already exist: %s, %s\nDelete them to calibrate again.\n", normalPath, hoverPath)
		return nil
	}

	items, err := collection.Load(cfg.Collection, logger)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return errors.New("the collection has no mods to calibrate with")
	}
	entries, err := loadEntries(cfg.Progress.File)
	if err != nil {
		return err
	}
	item := items[0]
	for _, candidate := range items {
		if entries[candidate].Status != domain.StatusCompleted {
			item = candidate
			break
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
	recorder, ok := b.(domain.ClickRecorder)
	if !ok {
		return fmt.Errorf("record click: %w", domain.ErrUnsupported)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pos, written, err := calibrate(ctx, b, recorder, service.TimerSleeper{}, calibration{
		url:        service.ModFileURL(cfg.Game, item, cfg.Download.ModManager),
		delay:      cfg.Download.DelayBeforeClick,
		width:      cfg.Detection.TemplateWidth,
		height:     cfg.Detection.TemplateHeight,
		normalPath: normalPath,
		hoverPath:  hoverPath,
		onReady: func() {
			fmt.Fprintf(out, "Opened %s\nClick the \"Slow download\" button in the browser.\n", item)
		},
	})
	if err != nil {
		return err
	}

	logger.Info("calibrated", "key", item.Key(), "x", pos.X, "y", pos.Y, "written", written)
	fmt.Fprintf(out, "Clicked at %s\n", pos)
	for _, path := range written {
		fmt.Fprintf(out, "Saved %s\n", path)
	}
	fmt.Fprintln(out, "Enable detection with --auto-detect or detection.enabled: true.")
	return nil
}

// calibration describes one template capture
type calibration struct {
	url        string
	delay      time.Duration
	width      int
	height     int
	normalPath string
	hoverPath  string
	onReady    func()
}

// calibrate opens c.url, captures the page before and after the user's click,
// and writes the templates that do not exist yet. The tab is always closed.
func calibrate(
	ctx context.Context,
	b domain.Browser,
	recorder domain.ClickRecorder,
	sleeper service.Sleeper,
	c calibration,
) (pos domain.ClickPosition, written []string, err error) {
	if err := b.OpenURL(ctx, c.url); err != nil {
		return pos, nil, &domain.ActionError{Op: "open url", Err: err}
	}
	defer func() {
		if cerr := b.CloseTab(context.WithoutCancel(ctx)); cerr != nil && err == nil {
			err = &domain.ActionError{Op: "close tab", Err: cerr}
		}
	}()

	if err := sleeper.Sleep(ctx, c.delay); err != nil {
		return pos, nil, err
	}
	before, err := b.Screenshot(ctx)
	if err != nil {
		return pos, nil, &domain.ActionError{Op: "screenshot", Err: err}
	}
	if c.onReady != nil {
		c.onReady()
	}

	pos, err = recorder.RecordClick(ctx)
	if err != nil {
		return pos, nil, &domain.ActionError{Op: "record click", Err: err}
	}
	after, err := b.Screenshot(ctx)
	if err != nil {
		return pos, nil, &domain.ActionError{Op: "screenshot", Err: err}
	}

	captures := []struct {
		path string
		img  image.Image
	}{
		{c.normalPath, before},
		{c.hoverPath, after},
	}
	for _, capture := range captures {
		ok, err := vision.CaptureTemplate(capture.img, pos, c.width, c.height, capture.path)
		if err != nil {
			return pos, written, err
		}
		if ok {
			written = append(written, capture.path)
		}
	}
	return pos, written, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
