package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/mmcdole/nexdl/internal/domain"
)

const nexusBaseURL = "https://www.nexusmods.com"

// ModFileURL builds the files-tab URL that offers the download for item.
// modManager adds nmm=1, which makes the page offer the mod-manager download.
func ModFileURL(game string, item domain.WorkItem, modManager bool) string {
	url := fmt.Sprintf("%s/%s/mods/%d?tab=files&file_id=%d", nexusBaseURL, game, item.ModID, item.FileID)
	if modManager {
		url += "&nmm=1"
	}
	return url
}

// Sleeper blocks for a duration. It returns early with ctx.Err() when ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts a function to Sleeper.
type SleeperFunc func(ctx context.Context, d time.Duration) error

func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error { return f(ctx, d) }

// TimerSleeper sleeps on a real timer.
type TimerSleeper struct{}

func (TimerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// StopFlag is a cooperative stop request. It is safe to set from any goroutine;
// the run only polls it between items.
type StopFlag struct {
	requested atomic.Bool
}

// Request sets the flag. It reports whether this call was the first request.
func (f *StopFlag) Request() bool {
	return !f.requested.Swap(true)
}

// Requested reports whether a stop has been requested.
func (f *StopFlag) Requested() bool {
	return f != nil && f.requested.Load()
}
