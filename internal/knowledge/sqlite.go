package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"crucible/internal/logging"
	"crucible/internal/normalize"
)

// sqliteBackend stores knowledge entries and error records in a single
// SQLite file. Record TTLs are enforced on read.
type sqliteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens (creating if needed) the knowledge database at path.
func NewSQLiteBackend(path string) (Backend, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite backend requires a path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create knowledge directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open knowledge db: %w", err)
	}

	b := &sqliteBackend{db: db}
	if err := b.initializeSchema(); err != nil {
		db.Close()
		return nil, err
	}

	logging.Store("SQLite knowledge backend at %s", path)
	return b, nil
}

func (b *sqliteBackend) initializeSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS knowledge_entries (
		id TEXT PRIMARY KEY,
		signature TEXT NOT NULL UNIQUE,
		solution TEXT NOT NULL,
		occurrences INTEGER DEFAULT 1,
		success_rate REAL DEFAULT 1.0,
		last_seen TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		category TEXT NOT NULL,
		context_samples TEXT DEFAULT '[]'
	);
	CREATE INDEX IF NOT EXISTS idx_entries_category ON knowledge_entries(category);
	CREATE INDEX IF NOT EXISTS idx_entries_last_seen ON knowledge_entries(last_seen);

	CREATE TABLE IF NOT EXISTS error_records (
		id TEXT PRIMARY KEY,
		worker_id TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		raw_message TEXT NOT NULL,
		signature TEXT NOT NULL,
		category TEXT NOT NULL,
		context TEXT DEFAULT '',
		resolved INTEGER DEFAULT 0,
		solution TEXT DEFAULT '',
		expires_at TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_records_signature ON error_records(signature);
	`
	if _, err := b.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize knowledge schema: %w", err)
	}
	return nil
}

func (b *sqliteBackend) LoadEntries(ctx context.Context) ([]*KnowledgeEntry, error) {
	timer := logging.StartTimer(logging.CategoryStore, "sqlite.LoadEntries")
	defer timer.Stop()

	rows, err := b.db.QueryContext(ctx, `
		SELECT id, signature, solution, occurrences, success_rate, last_seen, category, context_samples
		FROM knowledge_entries
		ORDER BY last_seen DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load knowledge entries: %w", err)
	}
	defer rows.Close()

	var entries []*KnowledgeEntry
	for rows.Next() {
		var e KnowledgeEntry
		var category, samplesJSON string
		if err := rows.Scan(&e.ID, &e.Signature, &e.Solution, &e.Occurrences,
			&e.SuccessRate, &e.LastSeen, &category, &samplesJSON); err != nil {
			continue
		}
		e.Category = normalize.Category(category)
		if err := json.Unmarshal([]byte(samplesJSON), &e.ContextSamples); err != nil {
			e.ContextSamples = nil
		}
		entries = append(entries, &e)
	}

	logging.StoreDebug("Loaded %d knowledge entries from sqlite", len(entries))
	return entries, rows.Err()
}

func (b *sqliteBackend) SaveEntries(ctx context.Context, entries []*KnowledgeEntry) error {
	timer := logging.StartTimer(logging.CategoryStore, "sqlite.SaveEntries")
	defer timer.Stop()

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin save transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM knowledge_entries`); err != nil {
		return fmt.Errorf("failed to clear knowledge entries: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO knowledge_entries
			(id, signature, solution, occurrences, success_rate, last_seen, category, context_samples)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		samples, err := json.Marshal(e.ContextSamples)
		if err != nil {
			samples = []byte("[]")
		}
		if _, err := stmt.ExecContext(ctx, e.ID, e.Signature, e.Solution, e.Occurrences,
			e.SuccessRate, e.LastSeen, string(e.Category), string(samples)); err != nil {
			return fmt.Errorf("failed to insert entry %s: %w", e.Signature, err)
		}
	}

	return tx.Commit()
}

func (b *sqliteBackend) PutRecord(ctx context.Context, record *ErrorRecord, ttl time.Duration) error {
	var expiresAt any
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	_, err := b.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO error_records
			(id, worker_id, timestamp, raw_message, signature, category, context, resolved, solution, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, record.ID, record.WorkerID, record.Timestamp, record.RawMessage, record.Signature,
		string(record.Category), record.Context, boolToInt(record.Resolved), record.Solution, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to persist error record: %w", err)
	}
	return nil
}

func (b *sqliteBackend) GetRecord(ctx context.Context, id string) (*ErrorRecord, error) {
	var r ErrorRecord
	var category string
	var resolved int
	var expiresAt sql.NullTime

	err := b.db.QueryRowContext(ctx, `
		SELECT id, worker_id, timestamp, raw_message, signature, category, context, resolved, solution, expires_at
		FROM error_records WHERE id = ?
	`, id).Scan(&r.ID, &r.WorkerID, &r.Timestamp, &r.RawMessage, &r.Signature,
		&category, &r.Context, &resolved, &r.Solution, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load error record: %w", err)
	}

	if expiresAt.Valid && time.Now().After(expiresAt.Time) {
		b.db.ExecContext(ctx, `DELETE FROM error_records WHERE id = ?`, id)
		return nil, ErrRecordNotFound
	}

	r.Category = normalize.Category(category)
	r.Resolved = resolved != 0
	return &r, nil
}

func (b *sqliteBackend) MarkResolved(ctx context.Context, id, solution string) error {
	result, err := b.db.ExecContext(ctx, `
		UPDATE error_records SET resolved = 1, solution = ? WHERE id = ?
	`, solution, id)
	if err != nil {
		return fmt.Errorf("failed to mark record resolved: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (b *sqliteBackend) Name() string { return "sqlite" }

func (b *sqliteBackend) Close() error {
	return b.db.Close()
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
