package service

import (
	"context"
	"errors"
	"time"

	"github.com/mmcdole/nexdl/internal/domain"
)

// TabCloser closes the active browser tab
type TabCloser interface {
	CloseTab(ctx context.Context) error
}

// TabBatch counts tabs opened since the last flush and closes exactly that many.
type TabBatch struct {
	open       int
	size       int
	closeDelay time.Duration
	sleeper    Sleeper
}

// NewTabBatch creates a batch that asks to be flushed after size opened tabs.
func NewTabBatch(size int, closeDelay time.Duration, sleeper Sleeper) (*TabBatch, error) {
	if size <= 0 {
		return nil, &domain.ConfigError{Field: "download.batch_size", Reason: "must be positive"}
	}
	if sleeper == nil {
		sleeper = TimerSleeper{}
	}
	return &TabBatch{size: size, closeDelay: closeDelay, sleeper: sleeper}, nil
}

// NoteOpened records one tab that is now open.
func (b *TabBatch) NoteOpened() { b.open++ }

// Open returns the number of tabs opened since the last flush.
func (b *TabBatch) Open() int { return b.open }

// ShouldFlush reports whether the batch is full.
func (b *TabBatch) ShouldFlush() bool { return b.open >= b.size }

// Flush issues one close per open tab, then resets the count. Every close is
// attempted even if some fail; the count is reset regardless, and closed
// reports how many close actions were issued.
func (b *TabBatch) Flush(ctx context.Context, closer TabCloser) (closed int, err error) {
	n := b.open
	b.open = 0

	var errs []error
	for i := 0; i < n; i++ {
		if i > 0 && b.closeDelay > 0 {
			_ = b.sleeper.Sleep(ctx, b.closeDelay)
		}
		if cerr := closer.CloseTab(ctx); cerr != nil {
			errs = append(errs, cerr)
		}
		closed++
	}
	return closed, errors.Join(errs...)
}
