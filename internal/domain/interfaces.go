package domain

import (
	"context"
	"image"
)

// Browser is the capability boundary the downloader drives. Implementations
// own the pointer, keyboard and display; callers never use them concurrently.
type Browser interface {
	// OpenURL opens url in a new tab and makes it the active one
	OpenURL(ctx context.Context, url string) error

	// Screenshot captures what is currently displayed
	Screenshot(ctx context.Context) (image.Image, error)

	// Click performs a left click at the given coordinate
	Click(ctx context.Context, x, y int) error

	// CloseTab closes the active tab
	CloseTab(ctx context.Context) error
}

// ClickRecorder is implemented by browsers that can wait for a human click
// and report where it happened.
type ClickRecorder interface {
	RecordClick(ctx context.Context) (ClickPosition, error)
}

// ProgressStore is the durable mapping from work item to completion state.
// It is the single writer of ProgressEntry records.
type ProgressStore interface {
	// IsCompleted reports whether item is recorded as completed
	IsCompleted(item WorkItem) bool

	// Record stores one attempt outcome. The write is durable when Record returns.
	Record(item WorkItem, success bool) error

	// Load returns every known entry, reading durable state
	Load() (map[WorkItem]ProgressEntry, error)

	Close() error
}
