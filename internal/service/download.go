package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mmcdole/nexdl/internal/domain"
)

// finalFlushTimeout bounds the end-of-run flush, which runs even after the
// run context was cancelled.
const finalFlushTimeout = 30 * time.Second

// DownloadConfig holds the already validated settings of a run.
type DownloadConfig struct {
	Game             string
	ModManager       bool
	DelayBeforeClick time.Duration
	DelayForDownload time.Duration
	DelayBetweenMods time.Duration
	AutoClose        bool // close each tab right away instead of batching
	BatchSize        int
	TabCloseDelay    time.Duration
	Retry            RetryPolicy
}

// RunSummary reports what a run did.
type RunSummary struct {
	RunID       string
	Total       int // items in the collection
	Skipped     int // already completed before the run
	Completed   int
	Failed      int
	FailedItems []domain.WorkItem
	TabsClosed  int
	Stopped     bool
	Duration    time.Duration
}

// Processed returns how many items reached a terminal outcome in this run.
func (s RunSummary) Processed() int { return s.Completed + s.Failed }

// DownloadService drives the open, click and wait cycle for every pending item.
// It owns the tab batch and the position source; one goroutine calls Run.
type DownloadService struct {
	browser   domain.Browser
	store     domain.ProgressStore
	positions *PositionSource
	batch     *TabBatch
	cfg       DownloadConfig
	sleeper   Sleeper
	now       func() time.Time
	logger    *slog.Logger
}

// Option customizes a DownloadService.
type Option func(*DownloadService)

// WithSleeper replaces the real-time sleeper.
func WithSleeper(s Sleeper) Option {
	return func(d *DownloadService) { d.sleeper = s }
}

// WithClock replaces time.Now for event timestamps and durations.
func WithClock(now func() time.Time) Option {
	return func(d *DownloadService) { d.now = now }
}

// NewDownloadService creates a download service.
func NewDownloadService(
	browser domain.Browser,
	store domain.ProgressStore,
	positions *PositionSource,
	cfg DownloadConfig,
	logger *slog.Logger,
	opts ...Option,
) (*DownloadService, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &DownloadService{
		browser:   browser,
		store:     store,
		positions: positions,
		cfg:       cfg,
		sleeper:   TimerSleeper{},
		now:       time.Now,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	batch, err := NewTabBatch(cfg.BatchSize, cfg.TabCloseDelay, s.sleeper)
	if err != nil {
		return nil, err
	}
	s.batch = batch
	return s, nil
}

// Pending returns the items not yet completed, in collection order.
func (s *DownloadService) Pending(items []domain.WorkItem) []domain.WorkItem {
	pending := make([]domain.WorkItem, 0, len(items))
	for _, item := range items {
		if !s.store.IsCompleted(item) {
			pending = append(pending, item)
		}
	}
	return pending
}

// runState is the bookkeeping of one Run call.
type runState struct {
	summary  RunSummary
	index    map[domain.WorkItem]int
	done     int
	observer domain.RunObserver
	logger   *slog.Logger
}

// Run processes items strictly in order. stop is polled between items only,
// so an item in flight always reaches completed or failed. Tabs still open
// are closed when the run ends, however it ends.
//
// The returned error is non-nil for a persistence failure or a cancelled ctx;
// a requested stop is reported through RunSummary.Stopped.
func (s *DownloadService) Run(ctx context.Context, items []domain.WorkItem, stop *StopFlag, observer domain.RunObserver) (RunSummary, error) {
	if observer == nil {
		observer = domain.NoOpObserver{}
	}
	started := s.now()

	st := &runState{
		summary:  RunSummary{RunID: uuid.NewString(), Total: len(items)},
		index:    make(map[domain.WorkItem]int, len(items)),
		observer: observer,
	}
	st.logger = s.logger.With("run_id", st.summary.RunID)
	for i, item := range items {
		st.index[item] = i + 1
	}

	pending := s.Pending(items)
	st.summary.Skipped = len(items) - len(pending)
	st.done = st.summary.Skipped

	st.logger.Info("run started",
		"total", len(items),
		"completed", st.done,
		"pending", len(pending),
		"mode", s.positions.Mode(),
		"batched", !s.cfg.AutoClose,
	)
	s.emit(st, domain.RunEvent{Kind: domain.EventRunStarted, Pending: len(pending)})

	runErr := s.loop(ctx, st, pending, stop)

	// The final flush must run even when ctx was cancelled.
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalFlushTimeout)
	s.flush(flushCtx, st)
	cancel()

	st.summary.Duration = s.now().Sub(started)
	s.emit(st, domain.RunEvent{Kind: domain.EventRunFinished, Err: runErr})
	st.logger.Info("run finished",
		"completed", st.summary.Completed,
		"failed", st.summary.Failed,
		"stopped", st.summary.Stopped,
		"tabs_closed", st.summary.TabsClosed,
		"duration", st.summary.Duration,
	)
	return st.summary, runErr
}

func (s *DownloadService) loop(ctx context.Context, st *runState, pending []domain.WorkItem, stop *StopFlag) error {
	for i, item := range pending {
		if stop.Requested() {
			st.summary.Stopped = true
			st.logger.Info("stop requested, draining", "remaining", len(pending)-i)
			s.emit(st, domain.RunEvent{Kind: domain.EventStopRequested, Pending: len(pending) - i})
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		s.emit(st, domain.RunEvent{Kind: domain.EventItemStarted, Item: item, Pending: len(pending) - i})
		attempts, pos, err := s.process(ctx, st, item)
		success := err == nil

		if perr := s.store.Record(item, success); perr != nil {
			st.logger.Error("failed to record progress", "key", item.Key(), "error", perr)
			return perr
		}

		ev := domain.RunEvent{Kind: domain.EventItemFinished, Item: item, Attempts: attempts, Pending: len(pending) - i - 1}
		if success {
			st.summary.Completed++
			st.done++
			ev.Outcome = domain.StatusCompleted
			ev.Position = &pos
			st.logger.Info("item completed", "key", item.Key(), "attempts", attempts, "x", pos.X, "y", pos.Y)
		} else {
			st.summary.Failed++
			st.summary.FailedItems = append(st.summary.FailedItems, item)
			ev.Outcome = domain.StatusFailed
			ev.Err = err
			st.logger.Warn("item failed", "key", item.Key(), "attempts", attempts, "error", err)
		}
		s.emit(st, ev)

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if i < len(pending)-1 {
			if err := s.sleeper.Sleep(ctx, s.cfg.DelayBetweenMods); err != nil {
				return err
			}
		}

		if !s.cfg.AutoClose && s.batch.ShouldFlush() {
			s.flush(ctx, st)
		}
	}
	return nil
}

// process runs the item's actions with retries. It returns the attempts made
// and the coordinate clicked.
func (s *DownloadService) process(ctx context.Context, st *runState, item domain.WorkItem) (int, domain.ClickPosition, error) {
	url := ModFileURL(s.cfg.Game, item, s.cfg.ModManager)

	var clicked domain.ClickPosition
	attempts, err := Retry(ctx, s.sleeper, s.cfg.Retry, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			st.logger.Debug("retrying item", "key", item.Key(), "attempt", attempt)
		}
		pos, err := s.attempt(ctx, st, item, url)
		if err != nil {
			return err
		}
		clicked = pos
		return nil
	})
	return attempts, clicked, err
}

// attempt performs one open, click and wait cycle. Resolution failures are
// returned as Permanent so the retry loop gives up on the item.
func (s *DownloadService) attempt(ctx context.Context, st *runState, item domain.WorkItem, url string) (pos domain.ClickPosition, err error) {
	manual := s.positions.Mode() == domain.PositionManual
	recorder, canRecord := s.browser.(domain.ClickRecorder)
	recording := manual && !s.positions.HasPosition() && canRecord

	if manual && !recording {
		pos, err = s.positions.Resolve(ctx)
		if err != nil {
			return pos, Permanent(&domain.ResolutionError{Item: item, Err: err})
		}
	}

	if err := s.browser.OpenURL(ctx, url); err != nil {
		return pos, &domain.ActionError{Op: "open url", Err: err}
	}
	defer func() {
		s.releaseTab(ctx, st, err == nil)
	}()

	if err := s.sleeper.Sleep(ctx, s.cfg.DelayBeforeClick); err != nil {
		return pos, err
	}

	if recording {
		s.emit(st, domain.RunEvent{Kind: domain.EventAwaitingClick, Item: item})
		st.logger.Info("waiting for the download click", "key", item.Key())
		pos, err = recorder.RecordClick(ctx)
		if err != nil {
			return pos, Permanent(&domain.ActionError{Op: "record click", Err: err})
		}
		s.positions.Record(pos)
	} else {
		if !manual {
			pos, err = s.positions.Resolve(ctx)
			var actionErr *domain.ActionError
			if errors.As(err, &actionErr) {
				return pos, err
			}
			if err != nil {
				return pos, Permanent(&domain.ResolutionError{Item: item, Err: err})
			}
		}
		if err := s.browser.Click(ctx, pos.X, pos.Y); err != nil {
			return pos, &domain.ActionError{Op: "click", Err: err}
		}
	}

	if err := s.sleeper.Sleep(ctx, s.cfg.DelayForDownload); err != nil {
		return pos, err
	}
	return pos, nil
}

// releaseTab accounts for a tab opened by attempt: closed right away in
// standard mode, counted towards the next flush in batched mode.
func (s *DownloadService) releaseTab(ctx context.Context, st *runState, success bool) {
	if !s.cfg.AutoClose {
		s.batch.NoteOpened()
		return
	}
	if ctx.Err() != nil {
		// Leave the tab to the final flush, which runs on a live context.
		s.batch.NoteOpened()
		return
	}
	if err := s.browser.CloseTab(ctx); err != nil {
		st.logger.Warn("failed to close tab", "success", success, "error", err)
		return
	}
	st.summary.TabsClosed++
}

func (s *DownloadService) flush(ctx context.Context, st *runState) {
	open := s.batch.Open()
	if open == 0 {
		return
	}
	closed, err := s.batch.Flush(ctx, s.browser)
	st.summary.TabsClosed += closed
	if err != nil {
		st.logger.Warn("some tabs failed to close", "closed", closed, "error", err)
	}
	st.logger.Info("batch flushed", "closed", closed)
	s.emit(st, domain.RunEvent{Kind: domain.EventBatchFlushed, Closed: closed, Err: err})
}

// emit stamps the run counters on ev and hands it to the observer.
func (s *DownloadService) emit(st *runState, ev domain.RunEvent) {
	ev.Time = s.now()
	ev.Total = st.summary.Total
	ev.Done = st.done
	ev.Failed = st.summary.Failed
	if ev.Item != (domain.WorkItem{}) {
		ev.Index = st.index[ev.Item]
	}
	st.observer.OnEvent(ev)
}
