package store

import (
	"fmt"

	"github.com/mmcdole/nexdl/internal/domain"
)

// replacer is implemented by stores that can be overwritten wholesale.
type replacer interface {
	domain.ProgressStore
	Replace(entries map[domain.WorkItem]domain.ProgressEntry) error
}

// MigrateLines converts a line-oriented progress file into a structured store
// at dst. Every listed key becomes completed with one attempt and no
// timestamp. Entries already in dst are kept; a listed key that dst knows as
// failed becomes completed without losing its attempt count. It returns the number of migrated keys.
func MigrateLines(src, dst string) (int, error) {
	items, err := readLines(src)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", src, err)
	}

	format, err := DetectFormat(dst)
	if err != nil {
		return 0, err
	}
	if format == FormatLines {
		return 0, fmt.Errorf("migration target %s must be a structured format (.json or .db)", dst)
	}

	target, err := OpenFormat(dst, format)
	if err != nil {
		return 0, err
	}
	defer target.Close()

	r, ok := target.(replacer)
	if !ok {
		return 0, fmt.Errorf("progress format %s cannot be replaced", format)
	}

	entries, err := r.Load()
	if err != nil {
		return 0, err
	}
	for _, item := range items {
		prev, exists := entries[item]
		if prev.Status == domain.StatusCompleted {
			continue
		}
		entry := migratedEntry()
		if exists && prev.Attempts > entry.Attempts {
			entry.Attempts = prev.Attempts
			entry.LastAttemptTime = prev.LastAttemptTime
		}
		entries[item] = entry
	}

	if err := r.Replace(entries); err != nil {
		return 0, err
	}
	return len(items), nil
}
