package service

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"

	"github.com/mmcdole/nexdl/internal/domain"
)

// fakeBrowser records every capability call in order.
type fakeBrowser struct {
	mu       sync.Mutex
	ops      []string
	urls     []string
	clicks   []domain.ClickPosition
	open     int // tabs currently open
	opened   int
	closed   int
	capture  image.Image
	openErr  []error // consumed one per OpenURL call; the last entry repeats
	clickErr []error // consumed one per Click call; nil entries succeed
}

func (b *fakeBrowser) OpenURL(_ context.Context, url string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.openErr) > 0 {
		err := b.openErr[0]
		if len(b.openErr) > 1 {
			b.openErr = b.openErr[1:]
		}
		if err != nil {
			b.ops = append(b.ops, "open-failed")
			return err
		}
	}
	b.ops = append(b.ops, "open")
	b.urls = append(b.urls, url)
	b.open++
	b.opened++
	return nil
}

func (b *fakeBrowser) Screenshot(context.Context) (image.Image, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ops = append(b.ops, "screenshot")
	if b.capture == nil {
		return nil, errors.New("no display")
	}
	return b.capture, nil
}

func (b *fakeBrowser) Click(_ context.Context, x, y int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ops = append(b.ops, "click")
	if len(b.clickErr) > 0 {
		err := b.clickErr[0]
		b.clickErr = b.clickErr[1:]
		if err != nil {
			return err
		}
	}
	b.clicks = append(b.clicks, domain.ClickPosition{X: x, Y: y})
	return nil
}

func (b *fakeBrowser) CloseTab(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ops = append(b.ops, "close")
	if b.open == 0 {
		return errors.New("no tab to close")
	}
	b.open--
	b.closed++
	return nil
}

// recordingBrowser also reports a human click.
type recordingBrowser struct {
	fakeBrowser
	pos      domain.ClickPosition
	err      error
	recorded int
}

func (b *recordingBrowser) RecordClick(context.Context) (domain.ClickPosition, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ops = append(b.ops, "record")
	b.recorded++
	if b.err != nil {
		return domain.ClickPosition{}, b.err
	}
	return b.pos, nil
}

// fakeSleeper returns immediately and remembers requested durations.
type fakeSleeper struct {
	mu    sync.Mutex
	slept []time.Duration
}

func (s *fakeSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.slept = append(s.slept, d)
	s.mu.Unlock()
	return ctx.Err()
}

// failingStore fails every Record after the first ok calls.
type failingStore struct {
	ok      int
	records int
}

func (s *failingStore) IsCompleted(domain.WorkItem) bool { return false }

func (s *failingStore) Record(domain.WorkItem, bool) error {
	s.records++
	if s.records > s.ok {
		return &domain.PersistenceError{Op: "record", Err: errors.New("disk full")}
	}
	return nil
}

func (s *failingStore) Load() (map[domain.WorkItem]domain.ProgressEntry, error) {
	return map[domain.WorkItem]domain.ProgressEntry{}, nil
}

func (s *failingStore) Close() error { return nil }

// eventLog collects run events.
type eventLog struct {
	events []domain.RunEvent
	onItem func(domain.RunEvent)
}

func (l *eventLog) OnEvent(e domain.RunEvent) {
	l.events = append(l.events, e)
	if l.onItem != nil && e.Kind == domain.EventItemFinished {
		l.onItem(e)
	}
}

func (l *eventLog) kinds(kind domain.EventKind) []domain.RunEvent {
	var out []domain.RunEvent
	for _, e := range l.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}
