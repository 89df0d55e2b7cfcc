package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"crucible/internal/logging"
)

// fileBackend persists entries as a JSON document beside the workspace.
// Error records are session-scoped and stay in memory; only learned
// knowledge survives the process.
type fileBackend struct {
	mu      sync.Mutex
	path    string
	records *memoryBackend
}

// fileDocument is the on-disk shape.
type fileDocument struct {
	Version int               `json:"version"`
	Entries []*KnowledgeEntry `json:"entries"`
	SavedAt time.Time         `json:"saved_at"`
}

// NewFileBackend creates a JSON-file backend at path. The parent directory
// is created if missing.
func NewFileBackend(path string) (Backend, error) {
	if path == "" {
		return nil, fmt.Errorf("file backend requires a path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create knowledge directory: %w", err)
	}

	logging.Store("File knowledge backend at %s", path)
	return &fileBackend{
		path:    path,
		records: NewMemoryBackend().(*memoryBackend),
	}, nil
}

func (f *fileBackend) LoadEntries(ctx context.Context) ([]*KnowledgeEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // Fresh store
		}
		return nil, fmt.Errorf("failed to read knowledge file: %w", err)
	}

	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse knowledge file: %w", err)
	}

	logging.StoreDebug("Loaded %d knowledge entries from %s", len(doc.Entries), f.path)
	return doc.Entries, nil
}

func (f *fileBackend) SaveEntries(ctx context.Context, entries []*KnowledgeEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc := fileDocument{
		Version: ExportVersion,
		Entries: entries,
		SavedAt: time.Now(),
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal knowledge entries: %w", err)
	}

	// Write-then-rename so a crash mid-save never corrupts the store.
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write knowledge file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("failed to replace knowledge file: %w", err)
	}

	logging.StoreDebug("Saved %d knowledge entries to %s", len(entries), f.path)
	return nil
}

func (f *fileBackend) PutRecord(ctx context.Context, record *ErrorRecord, ttl time.Duration) error {
	return f.records.PutRecord(ctx, record, ttl)
}

func (f *fileBackend) GetRecord(ctx context.Context, id string) (*ErrorRecord, error) {
	return f.records.GetRecord(ctx, id)
}

func (f *fileBackend) MarkResolved(ctx context.Context, id, solution string) error {
	return f.records.MarkResolved(ctx, id, solution)
}

func (f *fileBackend) Name() string { return "file" }

func (f *fileBackend) Close() error { return nil }
