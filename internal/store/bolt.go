package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mmcdole/nexdl/internal/domain"
	bolt "go.etcd.io/bbolt"
)

// Bucket names
var (
	bucketProgress = []byte("progress")
	bucketMeta     = []byte("meta")
)

// BoltStore implements domain.ProgressStore using BoltDB. Values are the
// JSON-encoded structured entries keyed by "modId:fileId"; each mutation is a
// single fsynced transaction.
type BoltStore struct {
	db   *bolt.DB
	path string
	mirror
}

// NewBoltStore opens the progress database, creating it when missing.
func NewBoltStore(path string) (*BoltStore, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketProgress, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &BoltStore{db: db, path: path, mirror: newMirror()}
	if _, err := s.Load(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database file path
func (s *BoltStore) Path() string { return s.path }

func (s *BoltStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *BoltStore) IsCompleted(item domain.WorkItem) bool {
	return s.isCompleted(item)
}

func (s *BoltStore) Record(item domain.WorkItem, success bool) error {
	var result domain.ProgressEntry

	// Read-modify-write inside one transaction so the durable record, not the
	// mirror, decides whether the item is already completed.
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProgress)
		cur := domain.ProgressEntry{Status: domain.StatusPending}
		if v := b.Get([]byte(item.Key())); v != nil {
			if err := json.Unmarshal(v, &cur); err != nil {
				return fmt.Errorf("decode %s: %w", item.Key(), err)
			}
		}
		if cur.Status.IsTerminal() {
			result = cur
			return nil
		}
		result = cur.Apply(success, s.now().UTC())

		data, err := json.Marshal(result)
		if err != nil {
			return err
		}
		return b.Put([]byte(item.Key()), data)
	})
	if err != nil {
		return &domain.PersistenceError{Op: "record " + item.Key(), Err: err}
	}

	s.put(item, result)
	return nil
}

func (s *BoltStore) Load() (map[domain.WorkItem]domain.ProgressEntry, error) {
	entries := make(map[domain.WorkItem]domain.ProgressEntry)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProgress)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			item, err := domain.ParseKey(string(k))
			if err != nil {
				return err
			}
			var entry domain.ProgressEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("decode %s: %w", k, err)
			}
			if err := validateEntry(string(k), entry); err != nil {
				return err
			}
			entries[item] = entry
			return nil
		})
	})
	if err != nil {
		return nil, &domain.PersistenceError{Op: "load " + s.path, Err: err}
	}

	s.reset()
	for _, item := range sortedItems(entries) {
		s.put(item, entries[item])
	}
	return s.snapshot(), nil
}

// Replace swaps the whole progress bucket for entries in one transaction.
func (s *BoltStore) Replace(entries map[domain.WorkItem]domain.ProgressEntry) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketProgress); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}
		b, err := tx.CreateBucket(bucketProgress)
		if err != nil {
			return err
		}
		for item, entry := range entries {
			data, err := json.Marshal(entry)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(item.Key()), data); err != nil {
				return err
			}
		}
		return tx.Bucket(bucketMeta).Put([]byte("replaced_at"), []byte(s.now().UTC().Format(time.RFC3339)))
	})
	if err != nil {
		return &domain.PersistenceError{Op: "replace", Err: err}
	}

	s.reset()
	for _, item := range sortedItems(entries) {
		s.put(item, entries[item])
	}
	return nil
}
