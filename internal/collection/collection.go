// Package collection reads the list of mod files to download from a Nexus
// collection manifest.
package collection

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mmcdole/nexdl/internal/domain"
)

// manifest mirrors the subset of the collection JSON that is consumed
type manifest struct {
	Mods []modDTO `json:"mods"`
}

type modDTO struct {
	Name   string     `json:"name"`
	Source *sourceDTO `json:"source"`
}

type sourceDTO struct {
	ModID  *int `json:"modId"`
	FileID *int `json:"fileId"`
}

// Load reads the collection at path. See Parse.
func Load(path string, logger *slog.Logger) ([]domain.WorkItem, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open collection: %w", err)
	}
	defer f.Close()
	return Parse(f, logger)
}

// Parse decodes a collection manifest into work items. Entries without a
// positive mod and file id are skipped with a warning. Duplicates collapse to
// their first occurrence, so the result keeps manifest order.
func Parse(r io.Reader, logger *slog.Logger) ([]domain.WorkItem, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var m manifest
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to decode collection: %w", err)
	}

	items := make([]domain.WorkItem, 0, len(m.Mods))
	seen := make(map[domain.WorkItem]bool, len(m.Mods))
	for i, mod := range m.Mods {
		item, ok := mod.item()
		if !ok {
			logger.Warn("skipping collection entry without valid ids", "index", i, "name", mod.Name)
			continue
		}
		if seen[item] {
			logger.Debug("skipping duplicate collection entry", "index", i, "key", item.Key())
			continue
		}
		seen[item] = true
		items = append(items, item)
	}
	return items, nil
}

func (m modDTO) item() (domain.WorkItem, bool) {
	if m.Source == nil || m.Source.ModID == nil || m.Source.FileID == nil {
		return domain.WorkItem{}, false
	}
	if *m.Source.ModID <= 0 || *m.Source.FileID <= 0 {
		return domain.WorkItem{}, false
	}
	return domain.WorkItem{ModID: *m.Source.ModID, FileID: *m.Source.FileID}, true
}
