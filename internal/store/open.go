package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mmcdole/nexdl/internal/domain"
)

// Format identifies a progress persistence format
type Format string

const (
	FormatLines Format = "lines" // one "modId:fileId" per completed item
	FormatJSON  Format = "json"  // structured records keyed by "modId:fileId"
	FormatBolt  Format = "bolt"  // structured records in a BoltDB bucket
)

// DetectFormat picks a format from the file extension.
func DetectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".lst", "":
		return FormatLines, nil
	case ".json":
		return FormatJSON, nil
	case ".db", ".bolt":
		return FormatBolt, nil
	default:
		return "", fmt.Errorf("unrecognized progress file extension %q (want .txt, .json or .db)", filepath.Ext(path))
	}
}

// Open opens the progress store at path using the format implied by its extension.
func Open(path string) (domain.ProgressStore, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}
	return OpenFormat(path, format)
}

// OpenFormat opens the progress store at path with an explicit format.
func OpenFormat(path string, format Format) (domain.ProgressStore, error) {
	switch format {
	case FormatLines:
		return NewLineStore(path)
	case FormatJSON:
		return NewJSONStore(path)
	case FormatBolt:
		return NewBoltStore(path)
	default:
		return nil, fmt.Errorf("unknown progress format %q", format)
	}
}

// Reset deletes the progress file. It reports whether a file was removed.
func Reset(path string) (bool, error) {
	err := os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to delete progress file: %w", err)
	}
	return true, nil
}
