package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"

	"crucible/internal/logging"
)

// Export produces the interchange document for the current entry set.
// Entries are sorted by signature so exports are diffable.
func (s *Store) Export(ctx context.Context) (*ExportDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc := &ExportDocument{
		Version:    ExportVersion,
		Entries:    make([]ExportEntry, 0, len(s.entries)),
		ExportedAt: time.Now(),
	}
	for _, e := range s.entries {
		doc.Entries = append(doc.Entries, ExportEntry{
			Signature:   e.Signature,
			Solution:    e.Solution,
			Occurrences: e.Occurrences,
			SuccessRate: e.SuccessRate,
			LastSeen:    e.LastSeen,
			Category:    e.Category,
		})
	}
	sort.Slice(doc.Entries, func(i, j int) bool {
		return doc.Entries[i].Signature < doc.Entries[j].Signature
	})

	logging.Knowledge("Exported %d knowledge entries", len(doc.Entries))
	return doc, nil
}

// Import merges an export document into the store. Existing signatures keep
// whichever side has more occurrences; new signatures are added with fresh
// fingerprints. The merged set is persisted through the backend.
func (s *Store) Import(ctx context.Context, doc *ExportDocument) error {
	if doc == nil {
		return fmt.Errorf("nil import document")
	}
	if doc.Version != ExportVersion {
		return fmt.Errorf("unsupported export version %d (want %d)", doc.Version, ExportVersion)
	}

	s.mu.Lock()
	added, merged := 0, 0
	for _, in := range doc.Entries {
		if in.Signature == "" {
			continue
		}
		if existing, ok := s.entries[in.Signature]; ok {
			if in.Occurrences > existing.Occurrences {
				existing.Occurrences = in.Occurrences
				existing.Solution = in.Solution
				existing.SuccessRate = in.SuccessRate
				if in.LastSeen.After(existing.LastSeen) {
					existing.LastSeen = in.LastSeen
				}
			}
			merged++
			continue
		}

		entry := &KnowledgeEntry{
			ID:          uuid.NewString(),
			Signature:   in.Signature,
			Solution:    in.Solution,
			Occurrences: in.Occurrences,
			SuccessRate: in.SuccessRate,
			LastSeen:    in.LastSeen,
			Category:    in.Category,
		}
		s.indexEntry(entry)
		added++
	}
	snapshot := s.cappedSnapshotLocked()
	s.mu.Unlock()

	if err := s.backend.SaveEntries(ctx, snapshot); err != nil {
		logging.KnowledgeWarn("Import persistence failed (entries remain in memory): %v", err)
	}

	logging.Knowledge("Imported knowledge: %d added, %d merged", added, merged)
	return nil
}

// ExportToFile writes the export document as indented JSON.
func (s *Store) ExportToFile(ctx context.Context, path string) error {
	doc, err := s.Export(ctx)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal export document: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write export document: %w", err)
	}
	return nil
}

// ImportFromFile reads and merges an export document from disk.
func (s *Store) ImportFromFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read import document: %w", err)
	}
	var doc ExportDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse import document: %w", err)
	}
	return s.Import(ctx, &doc)
}
