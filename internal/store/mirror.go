package store

import (
	"cmp"
	"slices"
	"time"

	"github.com/mmcdole/nexdl/internal/domain"
)

// mirror is the in-memory copy of durable progress shared by every backend.
// Backends mutate it only after the durable write succeeded.
type mirror struct {
	entries map[domain.WorkItem]domain.ProgressEntry
	order   []domain.WorkItem // first-seen order, used by the line format
	now     func() time.Time
}

func newMirror() mirror {
	return mirror{
		entries: make(map[domain.WorkItem]domain.ProgressEntry),
		now:     time.Now,
	}
}

func (m *mirror) reset() {
	m.entries = make(map[domain.WorkItem]domain.ProgressEntry)
	m.order = nil
}

func (m *mirror) put(item domain.WorkItem, entry domain.ProgressEntry) {
	if _, ok := m.entries[item]; !ok {
		m.order = append(m.order, item)
	}
	m.entries[item] = entry
}

func (m *mirror) isCompleted(item domain.WorkItem) bool {
	return m.entries[item].Status == domain.StatusCompleted
}

// next computes the entry that recording an outcome would produce.
// changed is false when the item is already completed.
func (m *mirror) next(item domain.WorkItem, success bool) (domain.ProgressEntry, bool) {
	cur, ok := m.entries[item]
	if !ok {
		cur = domain.ProgressEntry{Status: domain.StatusPending}
	}
	if cur.Status.IsTerminal() {
		return cur, false
	}
	return cur.Apply(success, m.now().UTC()), true
}

// snapshot returns a copy of every entry.
func (m *mirror) snapshot() map[domain.WorkItem]domain.ProgressEntry {
	out := make(map[domain.WorkItem]domain.ProgressEntry, len(m.entries))
	for k, v := range m.entries {
		out[k] = v
	}
	return out
}

// completed returns completed items in first-seen order.
func (m *mirror) completed() []domain.WorkItem {
	var items []domain.WorkItem
	for _, item := range m.order {
		if m.entries[item].Status == domain.StatusCompleted {
			items = append(items, item)
		}
	}
	return items
}

// Stats summarizes progress against a collection.
type Stats struct {
	Total     int
	Completed int
	Failed    int
	Remaining int
}

// Summarize counts entries for the given collection. Entries for items not in
// the collection are ignored.
func Summarize(entries map[domain.WorkItem]domain.ProgressEntry, items []domain.WorkItem) Stats {
	stats := Stats{Total: len(items)}
	for _, item := range items {
		switch entries[item].Status {
		case domain.StatusCompleted:
			stats.Completed++
		case domain.StatusFailed:
			stats.Failed++
		}
	}
	stats.Remaining = stats.Total - stats.Completed
	return stats
}

// sortedItems returns the keys of entries ordered by mod id, then file id.
func sortedItems(entries map[domain.WorkItem]domain.ProgressEntry) []domain.WorkItem {
	items := make([]domain.WorkItem, 0, len(entries))
	for item := range entries {
		items = append(items, item)
	}
	slices.SortFunc(items, func(a, b domain.WorkItem) int {
		if c := cmp.Compare(a.ModID, b.ModID); c != 0 {
			return c
		}
		return cmp.Compare(a.FileID, b.FileID)
	})
	return items
}
