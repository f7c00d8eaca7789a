package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// WorkItem identifies one mod file to download. Identity is the (ModID, FileID) pair.
type WorkItem struct {
	ModID  int
	FileID int
}

// Key returns the persisted identity, "modId:fileId".
func (w WorkItem) Key() string {
	return strconv.Itoa(w.ModID) + ":" + strconv.Itoa(w.FileID)
}

func (w WorkItem) String() string {
	return fmt.Sprintf("mod %d (file %d)", w.ModID, w.FileID)
}

// ParseKey parses a "modId:fileId" key back into a WorkItem.
func ParseKey(key string) (WorkItem, error) {
	modPart, filePart, ok := strings.Cut(strings.TrimSpace(key), ":")
	if !ok {
		return WorkItem{}, fmt.Errorf("invalid progress key %q: missing ':'", key)
	}
	modID, err := strconv.Atoi(modPart)
	if err != nil {
		return WorkItem{}, fmt.Errorf("invalid mod id in key %q: %w", key, err)
	}
	fileID, err := strconv.Atoi(filePart)
	if err != nil {
		return WorkItem{}, fmt.Errorf("invalid file id in key %q: %w", key, err)
	}
	return WorkItem{ModID: modID, FileID: fileID}, nil
}

// Status is the persisted state of a work item
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// IsTerminal reports whether no further transition is allowed.
// Only completed is terminal; failed items are retried on the next run.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted
}

// ProgressEntry is the durable record kept for each work item.
type ProgressEntry struct {
	Status          Status     `json:"status"`
	Attempts        int        `json:"attempts"`
	LastAttemptTime *time.Time `json:"last_attempt_time"`
}

// Apply returns the entry after recording one attempt outcome at the given time.
// Completed entries are returned unchanged.
func (e ProgressEntry) Apply(success bool, at time.Time) ProgressEntry {
	if e.Status.IsTerminal() {
		return e
	}
	next := e
	next.Attempts++
	t := at
	next.LastAttemptTime = &t
	if success {
		next.Status = StatusCompleted
	} else {
		next.Status = StatusFailed
	}
	return next
}

// ClickPosition is a screen (viewport) coordinate.
type ClickPosition struct {
	X int
	Y int
}

func (p ClickPosition) String() string {
	return fmt.Sprintf("(%d, %d)", p.X, p.Y)
}

// IsZero reports whether the position is unset.
func (p ClickPosition) IsZero() bool {
	return p.X == 0 && p.Y == 0
}

// PositionMode selects how click coordinates are obtained.
type PositionMode string

const (
	// PositionManual replays one coordinate recorded from the user's first click.
	PositionManual PositionMode = "manual"
	// PositionAuto locates the button by template matching for every item.
	PositionAuto PositionMode = "auto"
)
