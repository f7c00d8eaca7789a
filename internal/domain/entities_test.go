package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKey(t *testing.T) {
	item, err := ParseKey(" 123:456 ")
	require.NoError(t, err)
	assert.Equal(t, WorkItem{ModID: 123, FileID: 456}, item)
	assert.Equal(t, "123:456", item.Key())

	for _, bad := range []string{"", "123", "abc:1", "1:abc", "1:2:3"} {
		_, err := ParseKey(bad)
		assert.Error(t, err, bad)
	}
}

func TestProgressEntry_Apply(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	var entry ProgressEntry
	entry = entry.Apply(false, at)
	assert.Equal(t, StatusFailed, entry.Status)
	assert.Equal(t, 1, entry.Attempts)
	require.NotNil(t, entry.LastAttemptTime)
	assert.True(t, entry.LastAttemptTime.Equal(at))

	entry = entry.Apply(true, at.Add(time.Minute))
	assert.Equal(t, StatusCompleted, entry.Status)
	assert.Equal(t, 2, entry.Attempts)

	again := entry.Apply(false, at.Add(time.Hour))
	assert.Equal(t, entry, again, "completed entries never change")
}

func TestStatus_IsTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.IsTerminal())
	assert.False(t, StatusFailed.IsTerminal())
	assert.False(t, StatusPending.IsTerminal())
}

func TestErrorTaxonomy(t *testing.T) {
	res := &ResolutionError{Item: WorkItem{ModID: 1, FileID: 2}, Err: ErrButtonNotFound}
	assert.True(t, errors.Is(res, ErrButtonNotFound))
	assert.Contains(t, res.Error(), "mod 1 (file 2)")

	wrapped := errors.Join(errors.New("context"), &PersistenceError{Op: "record", Err: errors.New("disk full")})
	assert.True(t, IsPersistenceError(wrapped))
	assert.False(t, IsConfigError(wrapped))

	cfg := &ConfigError{Field: "download.batch_size", Reason: "must be positive"}
	assert.True(t, IsConfigError(cfg))
	assert.Equal(t, "invalid config download.batch_size: must be positive", cfg.Error())
}
