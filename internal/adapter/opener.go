package adapter

import (
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"time"
)

// Opener hands URLs to the system default browser.
type Opener struct {
	delay  time.Duration // pause between URLs so the browser keeps their order
	run    func(name string, args ...string) error
	logger *slog.Logger
}

// NewOpener creates an opener that waits delay between consecutive URLs.
func NewOpener(delay time.Duration, logger *slog.Logger) *Opener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Opener{
		delay: delay,
		run: func(name string, args ...string) error {
			return exec.Command(name, args...).Start()
		},
		logger: logger,
	}
}

// openCommand returns the platform command that opens url with the default handler
func openCommand(goos, url string) (string, []string) {
	switch goos {
	case "darwin":
		return "open", []string{url}
	case "windows":
		return "cmd", []string{"/c", "start", "", url}
	default:
		// Linux and other Unix-like systems
		return "xdg-open", []string{url}
	}
}

// Open opens one URL.
func (o *Opener) Open(url string) error {
	name, args := openCommand(runtime.GOOS, url)
	o.logger.Info("opening with system default", "os", runtime.GOOS, "url", url)
	if err := o.run(name, args...); err != nil {
		return fmt.Errorf("failed to open %s: %w", url, err)
	}
	return nil
}

// OpenAll opens every URL in order and returns how many were opened. It stops
// at the first failure.
func (o *Opener) OpenAll(urls []string) (int, error) {
	for i, url := range urls {
		if i > 0 && o.delay > 0 {
			time.Sleep(o.delay)
		}
		if err := o.Open(url); err != nil {
			return i, err
		}
	}
	return len(urls), nil
}
