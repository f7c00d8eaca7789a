package store

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/mmcdole/nexdl/internal/domain"
)

// LineStore keeps the legacy progress format: one "modId:fileId" line per
// completed item. The format cannot represent failures, so failed outcomes
// live only in memory for the current run.
type LineStore struct {
	path string
	mirror
}

// NewLineStore opens (or creates on first write) a line-oriented progress file.
func NewLineStore(path string) (*LineStore, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	s := &LineStore{path: path, mirror: newMirror()}
	if _, err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the backing file path
func (s *LineStore) Path() string { return s.path }

func (s *LineStore) IsCompleted(item domain.WorkItem) bool {
	return s.isCompleted(item)
}

func (s *LineStore) Record(item domain.WorkItem, success bool) error {
	entry, changed := s.next(item, success)
	if !changed {
		return nil
	}
	if !success {
		s.put(item, entry)
		return nil
	}

	completed := append(s.completed(), item)
	if err := writeFileAtomic(s.path, encodeLines(completed)); err != nil {
		return &domain.PersistenceError{Op: "record " + item.Key(), Err: err}
	}
	s.put(item, entry)
	return nil
}

// Load reads completed keys from disk. Failed outcomes recorded earlier in
// this process are kept, since the file never held them.
func (s *LineStore) Load() (map[domain.WorkItem]domain.ProgressEntry, error) {
	items, err := readLines(s.path)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "load " + s.path, Err: err}
	}

	failed := make(map[domain.WorkItem]domain.ProgressEntry)
	for item, entry := range s.entries {
		if entry.Status == domain.StatusFailed {
			failed[item] = entry
		}
	}

	s.reset()
	for _, item := range items {
		s.put(item, migratedEntry())
	}
	for item, entry := range failed {
		if !s.isCompleted(item) {
			s.put(item, entry)
		}
	}
	return s.snapshot(), nil
}

func (s *LineStore) Close() error { return nil }

// migratedEntry is the structured form of a bare completed key: the line
// format records neither attempt counts nor times.
func migratedEntry() domain.ProgressEntry {
	return domain.ProgressEntry{Status: domain.StatusCompleted, Attempts: 1}
}

// readLines parses a line-oriented progress file. A missing file is empty.
// Duplicate keys collapse to their first occurrence.
func readLines(path string) ([]domain.WorkItem, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var items []domain.WorkItem
	seen := make(map[domain.WorkItem]bool)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		item, err := domain.ParseKey(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if seen[item] {
			continue
		}
		seen[item] = true
		items = append(items, item)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func encodeLines(items []domain.WorkItem) []byte {
	var b bytes.Buffer
	for _, item := range items {
		b.WriteString(item.Key())
		b.WriteByte('\n')
	}
	return b.Bytes()
}
