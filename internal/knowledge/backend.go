package knowledge

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Backend is the pluggable persistence strategy behind the store. One
// interface, multiple implementations: in-memory, JSON file, SQLite, and a
// volatile-cache-plus-durable hybrid. The store selects a backend from
// configuration instead of swapping modules.
type Backend interface {
	// LoadEntries reads all persisted knowledge entries.
	LoadEntries(ctx context.Context) ([]*KnowledgeEntry, error)
	// SaveEntries replaces the persisted entry set.
	SaveEntries(ctx context.Context, entries []*KnowledgeEntry) error
	// PutRecord persists a session-scoped error record with a TTL.
	// Backends without expiration support may ignore the TTL.
	PutRecord(ctx context.Context, record *ErrorRecord, ttl time.Duration) error
	// GetRecord loads one error record by ID.
	GetRecord(ctx context.Context, id string) (*ErrorRecord, error)
	// MarkResolved flips a record to resolved with its confirmed solution.
	MarkResolved(ctx context.Context, id, solution string) error
	// Name identifies the backend for logging.
	Name() string
	// Close releases backend resources.
	Close() error
}

// ErrRecordNotFound is returned by GetRecord when the ID is unknown or the
// record has expired.
var ErrRecordNotFound = fmt.Errorf("error record not found")

// memoryBackend keeps everything in process memory. Used for tests and for
// degraded operation when no durable substrate is available.
type memoryBackend struct {
	mu      sync.RWMutex
	entries []*KnowledgeEntry
	records map[string]*ErrorRecord
	expiry  map[string]time.Time
}

// NewMemoryBackend creates an in-memory backend.
func NewMemoryBackend() Backend {
	return &memoryBackend{
		records: make(map[string]*ErrorRecord),
		expiry:  make(map[string]time.Time),
	}
}

func (m *memoryBackend) LoadEntries(ctx context.Context) ([]*KnowledgeEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*KnowledgeEntry, len(m.entries))
	for i, e := range m.entries {
		clone := *e
		out[i] = &clone
	}
	return out, nil
}

func (m *memoryBackend) SaveEntries(ctx context.Context, entries []*KnowledgeEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = make([]*KnowledgeEntry, len(entries))
	for i, e := range entries {
		clone := *e
		m.entries[i] = &clone
	}
	return nil
}

func (m *memoryBackend) PutRecord(ctx context.Context, record *ErrorRecord, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := *record
	m.records[record.ID] = &clone
	if ttl > 0 {
		m.expiry[record.ID] = time.Now().Add(ttl)
	}
	return nil
}

func (m *memoryBackend) GetRecord(ctx context.Context, id string) (*ErrorRecord, error) {
	m.mu.RLock()
	record, ok := m.records[id]
	deadline, hasTTL := m.expiry[id]
	m.mu.RUnlock()

	if !ok {
		return nil, ErrRecordNotFound
	}
	if hasTTL && time.Now().After(deadline) {
		m.mu.Lock()
		delete(m.records, id)
		delete(m.expiry, id)
		m.mu.Unlock()
		return nil, ErrRecordNotFound
	}

	clone := *record
	return &clone, nil
}

func (m *memoryBackend) MarkResolved(ctx context.Context, id, solution string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[id]
	if !ok {
		return ErrRecordNotFound
	}
	record.Resolved = true
	record.Solution = solution
	return nil
}

func (m *memoryBackend) Name() string { return "memory" }

func (m *memoryBackend) Close() error { return nil }
