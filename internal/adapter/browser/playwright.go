// Package browser provides implementations of the domain.Browser capability.
package browser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mmcdole/nexdl/internal/domain"
	"github.com/playwright-community/playwright-go"
)

// Default timeouts in milliseconds, the unit playwright uses
const (
	defaultNavigationTimeout = 30000
	downloadSaveTimeout      = 2 * time.Minute
)

// clickListenerJS resolves with the viewport coordinate of the next left
// button press anywhere in the page.
const clickListenerJS = `() => new Promise(resolve => {
	document.addEventListener('mousedown', e => {
		if (e.button === 0) resolve({x: Math.round(e.clientX), y: Math.round(e.clientY)});
	}, {capture: true, once: true});
})`

// Options configures the playwright browser
type Options struct {
	UserDataDir  string // persistent profile, keeps the Nexus login
	DownloadsDir string
	Headless     bool
	Channel      string // "" for bundled chromium, or "chrome", "msedge"
	Width        int
	Height       int
}

// Playwright drives a persistent Chromium profile. Every OpenURL creates a
// new page, and CloseTab closes the most recently opened one that is still open.
type Playwright struct {
	pw           *playwright.Playwright
	context      playwright.BrowserContext
	pages        []playwright.Page
	downloadsDir string
	saves        sync.WaitGroup
	logger       *slog.Logger
}

// NewPlaywright installs the driver if needed and launches the browser.
func NewPlaywright(opts Options, logger *slog.Logger) (*Playwright, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// Discard driver output so it does not interfere with the TUI
	runOpts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}
	if err := playwright.Install(runOpts); err != nil {
		return nil, fmt.Errorf("failed to install playwright: %w", err)
	}
	pw, err := playwright.Run(runOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	if err := os.MkdirAll(opts.UserDataDir, 0755); err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to create browser profile directory: %w", err)
	}
	if err := os.MkdirAll(opts.DownloadsDir, 0755); err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to create downloads directory: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchPersistentContextOptions{
		Headless:        playwright.Bool(opts.Headless),
		AcceptDownloads: playwright.Bool(true),
		DownloadsPath:   playwright.String(opts.DownloadsDir),
		Viewport: &playwright.Size{
			Width:  opts.Width,
			Height: opts.Height,
		},
	}
	if opts.Channel != "" {
		launchOpts.Channel = playwright.String(opts.Channel)
	}

	bctx, err := pw.Chromium.LaunchPersistentContext(opts.UserDataDir, launchOpts)
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	bctx.SetDefaultNavigationTimeout(defaultNavigationTimeout)

	logger.Info("browser launched",
		"profile", opts.UserDataDir,
		"downloads", opts.DownloadsDir,
		"headless", opts.Headless,
		"channel", opts.Channel,
	)
	return &Playwright{
		pw:           pw,
		context:      bctx,
		downloadsDir: opts.DownloadsDir,
		logger:       logger,
	}, nil
}

func (b *Playwright) active() (playwright.Page, error) {
	if len(b.pages) == 0 {
		return nil, errors.New("no tab open")
	}
	return b.pages[len(b.pages)-1], nil
}

// OpenURL opens url in a new tab. A tab whose navigation fails is closed
// again, so a failed OpenURL never leaves a tab behind.
func (b *Playwright) OpenURL(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	page, err := b.context.NewPage()
	if err != nil {
		return fmt.Errorf("failed to open tab: %w", err)
	}
	page.OnDownload(b.saveDownload)

	if err := navigate(page, url); err != nil {
		if cerr := page.Close(); cerr != nil {
			b.logger.Warn("failed to close tab after navigation error", "url", url, "error", cerr)
		}
		return err
	}
	b.pages = append(b.pages, page)
	return nil
}

func navigate(page playwright.Page, url string) error {
	if _, err := page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	}); err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	if err := page.BringToFront(); err != nil {
		return fmt.Errorf("failed to focus tab: %w", err)
	}
	return nil
}

func (b *Playwright) Screenshot(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	page, err := b.active()
	if err != nil {
		return nil, err
	}
	data, err := page.Screenshot()
	if err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	return decodeScreenshot(data)
}

func (b *Playwright) Click(ctx context.Context, x, y int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	page, err := b.active()
	if err != nil {
		return err
	}
	if err := page.Mouse().Click(float64(x), float64(y)); err != nil {
		return fmt.Errorf("click failed: %w", err)
	}
	return nil
}

func (b *Playwright) CloseTab(ctx context.Context) error {
	page, err := b.active()
	if err != nil {
		return err
	}
	b.pages = b.pages[:len(b.pages)-1]
	if err := page.Close(); err != nil {
		return fmt.Errorf("failed to close tab: %w", err)
	}
	return nil
}

// RecordClick waits for the user to click in the active tab and returns the
// viewport coordinate of that click.
func (b *Playwright) RecordClick(ctx context.Context) (domain.ClickPosition, error) {
	page, err := b.active()
	if err != nil {
		return domain.ClickPosition{}, err
	}

	type result struct {
		value any
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := page.Evaluate(clickListenerJS)
		done <- result{value: v, err: err}
	}()

	select {
	case <-ctx.Done():
		return domain.ClickPosition{}, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return domain.ClickPosition{}, fmt.Errorf("waiting for click failed: %w", r.err)
		}
		return parseClick(r.value)
	}
}

// OpenTabs returns how many tabs opened by OpenURL are still open.
func (b *Playwright) OpenTabs() int { return len(b.pages) }

// Close waits briefly for pending downloads to be saved, then shuts the browser down.
func (b *Playwright) Close() error {
	saved := make(chan struct{})
	go func() {
		b.saves.Wait()
		close(saved)
	}()
	select {
	case <-saved:
	case <-time.After(downloadSaveTimeout):
		b.logger.Warn("gave up waiting for downloads to finish")
	}

	var errs []error
	if err := b.context.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
	}
	if err := b.pw.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
	}
	return errors.Join(errs...)
}

func (b *Playwright) saveDownload(d playwright.Download) {
	b.saves.Add(1)
	go func() {
		defer b.saves.Done()
		path := filepath.Join(b.downloadsDir, filepath.Base(d.SuggestedFilename()))
		if err := d.SaveAs(path); err != nil {
			b.logger.Warn("failed to save download", "url", d.URL(), "error", err)
			return
		}
		b.logger.Info("download saved", "path", path)
	}()
}

func decodeScreenshot(data []byte) (image.Image, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode screenshot: %w", err)
	}
	return img, nil
}

// parseClick converts the evaluated {x, y} object into a position.
func parseClick(v any) (domain.ClickPosition, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return domain.ClickPosition{}, fmt.Errorf("unexpected click result %T", v)
	}
	x, okX := number(m["x"])
	y, okY := number(m["y"])
	if !okX || !okY {
		return domain.ClickPosition{}, fmt.Errorf("click result missing coordinates: %v", m)
	}
	return domain.ClickPosition{X: x, Y: y}, nil
}

func number(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
