package knowledge

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crucible/internal/normalize"
)

func sampleEntries() []*KnowledgeEntry {
	return []*KnowledgeEntry{
		{
			ID:          "entry-1",
			Signature:   "cannot resolve module phaser",
			Solution:    "npm install phaser",
			Occurrences: 3,
			SuccessRate: 0.9,
			LastSeen:    time.Now().Truncate(time.Second),
			Category:    normalize.CategoryDependency,
		},
		{
			ID:          "entry-2",
			Signature:   "connection refused",
			Solution:    "start the backend service",
			Occurrences: 1,
			SuccessRate: 1.0,
			LastSeen:    time.Now().Truncate(time.Second),
			Category:    normalize.CategoryExternalResource,
		},
	}
}

func sampleRecord() *ErrorRecord {
	return &ErrorRecord{
		ID:         "rec-1",
		WorkerID:   "worker-1",
		Timestamp:  time.Now().Truncate(time.Second),
		RawMessage: "Cannot resolve module 'phaser'",
		Signature:  "cannot resolve module phaser",
		Category:   normalize.CategoryDependency,
	}
}

// exerciseBackend runs the shared backend contract.
func exerciseBackend(t *testing.T, b Backend) {
	t.Helper()
	ctx := context.Background()

	// Entries round trip.
	require.NoError(t, b.SaveEntries(ctx, sampleEntries()))
	loaded, err := b.LoadEntries(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	bySig := make(map[string]*KnowledgeEntry)
	for _, e := range loaded {
		bySig[e.Signature] = e
	}
	phaser := bySig["cannot resolve module phaser"]
	require.NotNil(t, phaser)
	assert.Equal(t, "npm install phaser", phaser.Solution)
	assert.Equal(t, 3, phaser.Occurrences)
	assert.Equal(t, normalize.CategoryDependency, phaser.Category)

	// Records round trip and resolve.
	require.NoError(t, b.PutRecord(ctx, sampleRecord(), time.Hour))
	record, err := b.GetRecord(ctx, "rec-1")
	require.NoError(t, err)
	assert.False(t, record.Resolved)

	require.NoError(t, b.MarkResolved(ctx, "rec-1", "npm install phaser"))
	record, err = b.GetRecord(ctx, "rec-1")
	require.NoError(t, err)
	assert.True(t, record.Resolved)
	assert.Equal(t, "npm install phaser", record.Solution)

	// Unknown records surface ErrRecordNotFound.
	_, err = b.GetRecord(ctx, "missing")
	assert.ErrorIs(t, err, ErrRecordNotFound)
	assert.ErrorIs(t, b.MarkResolved(ctx, "missing", "x"), ErrRecordNotFound)
}

func TestMemoryBackendContract(t *testing.T) {
	b := NewMemoryBackend()
	defer b.Close()
	exerciseBackend(t, b)
}

func TestFileBackendContract(t *testing.T) {
	b, err := NewFileBackend(filepath.Join(t.TempDir(), "knowledge.json"))
	require.NoError(t, err)
	defer b.Close()
	exerciseBackend(t, b)
}

func TestSQLiteBackendContract(t *testing.T) {
	b, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "knowledge.db"))
	require.NoError(t, err)
	defer b.Close()
	exerciseBackend(t, b)
}

func TestMemoryBackendRecordExpiry(t *testing.T) {
	b := NewMemoryBackend()
	defer b.Close()
	ctx := context.Background()

	require.NoError(t, b.PutRecord(ctx, sampleRecord(), time.Millisecond))
	time.Sleep(10 * time.Millisecond)

	_, err := b.GetRecord(ctx, "rec-1")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestFileBackendPersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "knowledge.json")
	ctx := context.Background()

	first, err := NewFileBackend(path)
	require.NoError(t, err)
	require.NoError(t, first.SaveEntries(ctx, sampleEntries()))
	require.NoError(t, first.Close())

	second, err := NewFileBackend(path)
	require.NoError(t, err)
	defer second.Close()

	loaded, err := second.LoadEntries(ctx)
	require.NoError(t, err)
	assert.Len(t, loaded, 2)
}

func TestSQLiteBackendPersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "knowledge.db")
	ctx := context.Background()

	first, err := NewSQLiteBackend(path)
	require.NoError(t, err)
	require.NoError(t, first.SaveEntries(ctx, sampleEntries()))
	require.NoError(t, first.Close())

	second, err := NewSQLiteBackend(path)
	require.NoError(t, err)
	defer second.Close()

	loaded, err := second.LoadEntries(ctx)
	require.NoError(t, err)
	assert.Len(t, loaded, 2)
}

// An unreachable redis degrades the hybrid factory to its durable delegate
// instead of failing - learning must never block validation.
func TestHybridBackendDegradesWithoutRedis(t *testing.T) {
	durable, err := NewFileBackend(filepath.Join(t.TempDir(), "knowledge.json"))
	require.NoError(t, err)

	b, err := NewHybridBackend("127.0.0.1:1", durable)
	require.NoError(t, err)
	defer b.Close()

	assert.Equal(t, "file", b.Name())
	exerciseBackend(t, b)
}
