package domain

import "time"

// EventKind identifies a run event.
type EventKind int

const (
	EventRunStarted EventKind = iota
	EventItemStarted
	EventAwaitingClick
	EventItemFinished
	EventBatchFlushed
	EventStopRequested
	EventRunFinished
)

// RunEvent reports progress during a download run. Values are copied to
// observers, so they can be handed to another goroutine safely.
type RunEvent struct {
	Kind     EventKind
	Time     time.Time
	Item     WorkItem
	Index    int // 1-based position within the whole collection
	Total    int // items in the collection
	Done     int // completed items, including those from earlier runs
	Failed   int // items failed in this run
	Pending  int // items left to act on in this run
	Attempts int
	Outcome  Status
	Position *ClickPosition
	Closed   int // tabs closed by a batch flush
	Err      error
}

// RunObserver receives events from a download run.
type RunObserver interface {
	OnEvent(event RunEvent)
}

// ObserverFunc adapts a function to RunObserver.
type ObserverFunc func(RunEvent)

func (f ObserverFunc) OnEvent(e RunEvent) { f(e) }

// NoOpObserver discards events (for testing/batch operations).
type NoOpObserver struct{}

func (NoOpObserver) OnEvent(RunEvent) {}
