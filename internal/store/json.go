package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/mmcdole/nexdl/internal/domain"
)

// JSONStore keeps structured progress records in a JSON object keyed by
// "modId:fileId". Every mutation rewrites the whole file atomically.
type JSONStore struct {
	path string
	mirror
}

// NewJSONStore opens (or creates on first write) a structured progress file.
func NewJSONStore(path string) (*JSONStore, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	s := &JSONStore{path: path, mirror: newMirror()}
	if _, err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the backing file path
func (s *JSONStore) Path() string { return s.path }

func (s *JSONStore) IsCompleted(item domain.WorkItem) bool {
	return s.isCompleted(item)
}

func (s *JSONStore) Record(item domain.WorkItem, success bool) error {
	entry, changed := s.next(item, success)
	if !changed {
		return nil
	}

	state := s.snapshot()
	state[item] = entry
	if err := s.write(state); err != nil {
		return &domain.PersistenceError{Op: "record " + item.Key(), Err: err}
	}
	s.put(item, entry)
	return nil
}

func (s *JSONStore) Load() (map[domain.WorkItem]domain.ProgressEntry, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.reset()
		return s.snapshot(), nil
	}
	if err != nil {
		return nil, &domain.PersistenceError{Op: "load", Err: err}
	}

	entries, err := decodeJSON(data)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "load " + s.path, Err: err}
	}

	s.reset()
	for _, e := range entries {
		s.put(e.item, e.entry)
	}
	return s.snapshot(), nil
}

func (s *JSONStore) Close() error { return nil }

// Replace overwrites the whole file with entries. Used by migration.
func (s *JSONStore) Replace(entries map[domain.WorkItem]domain.ProgressEntry) error {
	if err := s.write(entries); err != nil {
		return &domain.PersistenceError{Op: "replace", Err: err}
	}
	s.reset()
	for _, item := range sortedItems(entries) {
		s.put(item, entries[item])
	}
	return nil
}

func (s *JSONStore) write(entries map[domain.WorkItem]domain.ProgressEntry) error {
	data, err := encodeJSON(entries)
	if err != nil {
		return err
	}
	return writeFileAtomic(s.path, data)
}

type keyedEntry struct {
	item  domain.WorkItem
	entry domain.ProgressEntry
}

func encodeJSON(entries map[domain.WorkItem]domain.ProgressEntry) ([]byte, error) {
	byKey := make(map[string]domain.ProgressEntry, len(entries))
	for item, entry := range entries {
		byKey[item.Key()] = entry
	}
	data, err := json.MarshalIndent(byKey, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode progress: %w", err)
	}
	return append(data, '\n'), nil
}

func decodeJSON(data []byte) ([]keyedEntry, error) {
	var byKey map[string]domain.ProgressEntry
	if err := json.Unmarshal(data, &byKey); err != nil {
		return nil, fmt.Errorf("decode progress: %w", err)
	}

	entries := make(map[domain.WorkItem]domain.ProgressEntry, len(byKey))
	for key, entry := range byKey {
		item, err := domain.ParseKey(key)
		if err != nil {
			return nil, err
		}
		if err := validateEntry(key, entry); err != nil {
			return nil, err
		}
		entries[item] = entry
	}

	out := make([]keyedEntry, 0, len(entries))
	for _, item := range sortedItems(entries) {
		out = append(out, keyedEntry{item: item, entry: entries[item]})
	}
	return out, nil
}

func validateEntry(key string, entry domain.ProgressEntry) error {
	switch entry.Status {
	case domain.StatusPending, domain.StatusCompleted, domain.StatusFailed:
	default:
		return fmt.Errorf("entry %s: unknown status %q", key, entry.Status)
	}
	if entry.Attempts < 0 {
		return fmt.Errorf("entry %s: negative attempts %d", key, entry.Attempts)
	}
	return nil
}
