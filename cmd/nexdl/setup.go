package main

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/mmcdole/nexdl/internal/adapter"
	"github.com/mmcdole/nexdl/internal/adapter/browser"
	"github.com/mmcdole/nexdl/internal/domain"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// closableBrowser is a browser the command owns and must shut down
type closableBrowser interface {
	domain.Browser
	Close() error
}

// addCollectionFlags registers the flags every command that reads progress needs
func addCollectionFlags(fs *pflag.FlagSet) {
	fs.StringP("collection", "c", "", "collection manifest (collection.json)")
	fs.StringP("progress", "p", "", "progress file (.txt, .json or .db)")
	fs.StringP("game", "g", "", "Nexus Mods game domain, e.g. cyberpunk2077")
}

// addRunFlags registers the flags that tune a download run
func addRunFlags(fs *pflag.FlagSet) {
	addCollectionFlags(fs)
	fs.Bool("auto-detect", false, "locate the download button by template matching")
	fs.Float64("confidence", 0, "template match threshold in (0, 1]")
	fs.String("template", "", "normal-state button template image")
	fs.Bool("fast", false, "keep tabs open and close them in batches")
	fs.Int("batch-size", 0, "tabs to keep open in fast mode before closing them")
	fs.Duration("delay-click", 0, "wait after opening a page before clicking")
	fs.Duration("delay-download", 0, "wait after clicking for the download to start")
	fs.Duration("delay-between", 0, "pause between items")
	fs.Int("max-attempts", 0, "attempts per item before it is recorded failed")
	fs.Int("click-x", 0, "fixed click x coordinate in manual mode")
	fs.Int("click-y", 0, "fixed click y coordinate in manual mode")
	fs.String("browser", "", "browser provider: playwright or dry-run")
	fs.Bool("headless", false, "run the browser without a window")
	fs.String("log-level", "", "log level: DEBUG, INFO, WARN or ERROR")
	fs.String("dashboard", "", "live dashboard: auto, on or off")
}

// loadConfig loads and validates configuration for cmd. Every failure is a
// *domain.ConfigError so the process exits with the config status.
func loadConfig(cmd *cobra.Command) (*adapter.Config, error) {
	cfg, err := adapter.LoadConfig(cfgFile, cmd.Flags())
	if err != nil {
		return nil, &domain.ConfigError{Field: "file", Reason: err.Error()}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if suggestion, ok := adapter.SuggestGame(cfg.Game); ok {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: unknown game %q, did you mean %q?\n", cfg.Game, suggestion)
	}
	return cfg, nil
}

// setupLogger returns the file logger, or a discarding one when the log file
// cannot be opened. The returned func releases the file.
func setupLogger(cmd *cobra.Command, cfg *adapter.Config) (*slog.Logger, func()) {
	logger, closer, err := adapter.SetupLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: logging disabled: %v\n", err)
		logger = adapter.NullLogger()
		slog.SetDefault(logger)
		return logger, func() {}
	}
	slog.SetDefault(logger)
	return logger, func() { closer.Close() }
}

// newBrowser starts the configured browser provider
func newBrowser(cfg *adapter.Config, logger *slog.Logger) (closableBrowser, error) {
	switch cfg.Browser.Provider {
	case adapter.ProviderDryRun:
		return browser.NewDryRun(cfg.Browser.Width, cfg.Browser.Height, logger), nil
	default:
		b, err := browser.NewPlaywright(browser.Options{
			UserDataDir:  cfg.Browser.UserDataDir,
			DownloadsDir: cfg.Browser.DownloadsDir,
			Headless:     cfg.Browser.Headless,
			Channel:      cfg.Browser.Channel,
			Width:        cfg.Browser.Width,
			Height:       cfg.Browser.Height,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to start browser: %w", err)
		}
		return b, nil
	}
}

// confirm asks a yes/no question; an empty answer accepts
func confirm(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s [Y/n]: ", question)
	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && answer == "" {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "" || answer == "y" || answer == "yes"
}

// waitForEnter blocks until the user presses ENTER. It fails on closed input.
func waitForEnter(in io.Reader, out io.Writer, prompt string) error {
	fmt.Fprint(out, prompt)
	if _, err := bufio.NewReader(in).ReadString('\n'); err != nil {
		return fmt.Errorf("no confirmation on input: %w", err)
	}
	return nil
}
