package knowledge

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"crucible/internal/logging"
	"crucible/internal/normalize"
	"crucible/internal/similarity"
)

// Option defaults.
const (
	DefaultThreshold          = 80.0 // minimum similarity for a suggestion
	DefaultIdenticalThreshold = 95.0 // similarity treated as the same signature
	DefaultMaxEntries         = 500  // durable entry cap
	DefaultSessionTTL         = 4 * time.Hour
	DefaultRetention          = 30 * 24 * time.Hour
)

// prefilterMinCandidates is the category size below which lookup skips the
// fingerprint prefilter and scores every candidate exactly. Short signatures
// carry few shingles, so their MinHash estimate can land far under the exact
// score; small sets are cheap enough to scan without the approximation.
const prefilterMinCandidates = 64

// Options configures a Store.
type Options struct {
	Backend            string  // memory | file | sqlite | hybrid
	Path               string  // file/sqlite location
	RedisAddr          string  // hybrid cache address
	Threshold          float64 // 0-100
	IdenticalThreshold float64 // 0-100
	MaxEntries         int
	SessionTTL         time.Duration
	Retention          time.Duration // stale-entry pruning window
	HashCount          int
	ShingleWidth       int
}

// DefaultOptions returns the standard store configuration over the given
// backend path.
func DefaultOptions(path string) Options {
	return Options{
		Backend:            "file",
		Path:               path,
		Threshold:          DefaultThreshold,
		IdenticalThreshold: DefaultIdenticalThreshold,
		MaxEntries:         DefaultMaxEntries,
		SessionTTL:         DefaultSessionTTL,
		Retention:          DefaultRetention,
		HashCount:          similarity.DefaultHashCount,
		ShingleWidth:       similarity.DefaultShingleWidth,
	}
}

// Validate fails fast on configuration the store cannot operate with.
func (o Options) Validate() error {
	if o.Threshold < 0 || o.Threshold > 100 {
		return fmt.Errorf("similarity threshold must be in [0,100], got %.1f", o.Threshold)
	}
	if o.IdenticalThreshold < o.Threshold || o.IdenticalThreshold > 100 {
		return fmt.Errorf("identical threshold must be in [threshold,100], got %.1f", o.IdenticalThreshold)
	}
	if o.MaxEntries <= 0 {
		return fmt.Errorf("max entries must be positive, got %d", o.MaxEntries)
	}
	switch o.Backend {
	case "memory", "file", "sqlite", "hybrid":
	default:
		return fmt.Errorf("unknown knowledge backend %q", o.Backend)
	}
	return nil
}

// Store is the learning engine's shared state: session error records plus
// learned signature-to-solution entries, partitioned by category. A Store
// handle is passed explicitly to controllers and the orchestrator; there is
// no process-wide instance.
type Store struct {
	mu      sync.RWMutex
	opts    Options
	backend Backend
	hasher  *similarity.Hasher
	exact   similarity.Matcher

	// In-memory working set. entries is keyed by signature (unique);
	// byCategory and records are per-session indexes. The capture path
	// updates record + category index + fingerprint under one lock
	// acquisition so readers never observe a partially-indexed error.
	entries    map[string]*KnowledgeEntry
	byCategory map[normalize.Category][]*KnowledgeEntry
	records    map[string]*ErrorRecord
}

// NewStore builds a Store over the configured backend and loads the
// persisted entry set. Configuration errors fail here, before any
// validation work runs.
func NewStore(ctx context.Context, opts Options) (*Store, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid knowledge store options: %w", err)
	}

	backend, err := newBackend(opts)
	if err != nil {
		return nil, err
	}

	s := &Store{
		opts:       opts,
		backend:    backend,
		hasher:     similarity.NewHasher(opts.HashCount, opts.ShingleWidth),
		exact:      similarity.Exact{},
		entries:    make(map[string]*KnowledgeEntry),
		byCategory: make(map[normalize.Category][]*KnowledgeEntry),
		records:    make(map[string]*ErrorRecord),
	}

	entries, err := backend.LoadEntries(ctx)
	if err != nil {
		// Degrade to an empty working set; learning is best-effort.
		logging.KnowledgeWarn("Failed to load knowledge entries, starting empty: %v", err)
		entries = nil
	}
	for _, e := range entries {
		s.indexEntry(e)
	}

	logging.Knowledge("Knowledge store ready: backend=%s entries=%d threshold=%.0f",
		backend.Name(), len(s.entries), opts.Threshold)
	return s, nil
}

// newBackend selects the persistence strategy from options.
func newBackend(opts Options) (Backend, error) {
	switch opts.Backend {
	case "memory":
		return NewMemoryBackend(), nil
	case "file":
		return NewFileBackend(opts.Path)
	case "sqlite":
		return NewSQLiteBackend(opts.Path)
	case "hybrid":
		durable, err := NewFileBackend(opts.Path)
		if err != nil {
			return nil, err
		}
		return NewHybridBackend(opts.RedisAddr, durable)
	default:
		return nil, fmt.Errorf("unknown knowledge backend %q", opts.Backend)
	}
}

// indexEntry adds an entry to the working set, computing its fingerprint
// if absent. Caller holds the write lock (or is still single-threaded).
func (s *Store) indexEntry(e *KnowledgeEntry) {
	if len(e.Fingerprint) == 0 {
		e.Fingerprint = s.hasher.Fingerprint(e.Signature)
	}
	if !e.Category.Valid() {
		e.Category = normalize.CategoryOther
	}
	s.entries[e.Signature] = e
	s.byCategory[e.Category] = append(s.byCategory[e.Category], e)
}

// reindex rebuilds the category index after entries change shape.
func (s *Store) reindex() {
	s.byCategory = make(map[normalize.Category][]*KnowledgeEntry)
	for _, e := range s.entries {
		s.byCategory[e.Category] = append(s.byCategory[e.Category], e)
	}
}

// RecordError captures one error occurrence: normalize, fingerprint,
// persist, then look up the best already-solved in-category match. The
// returned suggestion is nil when nothing clears the threshold. Capture
// never mutates existing entries, and persistence failures degrade to a
// logged no-op - the record stays usable in memory.
func (s *Store) RecordError(ctx context.Context, workerID string, input ErrorInput, contextInfo string) (string, *Suggestion) {
	timer := logging.StartTimer(logging.CategoryKnowledge, "RecordError")
	defer timer.Stop()

	record := &ErrorRecord{
		ID:         uuid.NewString(),
		WorkerID:   workerID,
		Timestamp:  time.Now(),
		RawMessage: input.Message,
		Signature:  normalize.Signature(input.Message),
		Category:   normalize.Classify(input.Message),
		Context:    contextInfo,
	}
	record.Fingerprint = s.hasher.Fingerprint(record.Signature)

	// One atomic batch: record + category index + fingerprint all become
	// visible together.
	s.mu.Lock()
	s.records[record.ID] = record
	s.mu.Unlock()

	if err := s.backend.PutRecord(ctx, record, s.opts.SessionTTL); err != nil {
		logging.KnowledgeWarn("Error record persistence failed (continuing in memory): %v", err)
	}

	suggestion := s.lookup(record.Signature, record.Fingerprint, record.Category)
	if suggestion != nil {
		logging.Knowledge("Recognized error for worker=%s: %q matches %q at %.1f",
			workerID, record.Signature, suggestion.Signature, suggestion.Similarity)
	} else {
		logging.KnowledgeDebug("New error signature for worker=%s: %q (category=%s)",
			workerID, record.Signature, record.Category)
	}

	return record.ID, suggestion
}

// lookup finds the best solved entry for a signature within its category.
// Large categories are pre-filtered by fingerprint; the exact matcher
// confirms and scores survivors. Ties break by highest occurrences.
func (s *Store) lookup(signature string, fp similarity.Fingerprint, category normalize.Category) *Suggestion {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// The approximate pass is a heuristic prune with a bar well under the
	// real threshold. It can still misjudge near-matches between short
	// signatures, so it only engages once the category is large enough for
	// the exact scan to be worth avoiding.
	prefilter := s.opts.Threshold / 2
	candidates := s.byCategory[category]
	approximate := len(candidates) >= prefilterMinCandidates

	var best *KnowledgeEntry
	var bestScore float64
	for _, e := range candidates {
		if approximate && e.Signature != signature {
			if similarity.Compare(fp, e.Fingerprint) < prefilter {
				continue
			}
		}
		score := s.exact.Similarity(signature, e.Signature)
		if score < s.opts.Threshold {
			continue
		}
		if best == nil || score > bestScore ||
			(score == bestScore && e.Occurrences > best.Occurrences) {
			best, bestScore = e, score
		}
	}

	if best == nil {
		return nil
	}
	return &Suggestion{
		EntryID:    best.ID,
		Signature:  best.Signature,
		Solution:   best.Solution,
		Similarity: bestScore,
		Confidence: bestScore / 100 * best.SuccessRate,
	}
}

// RecordFix confirms a fix for a previously captured error. A near-identical
// existing entry (similarity at or above the identical threshold) is
// reinforced; otherwise a new entry is created. Durable persistence is
// capped: only the highest-ranked MaxEntries entries survive a save.
func (s *Store) RecordFix(ctx context.Context, errorID, solution, workerID string) (*KnowledgeEntry, error) {
	timer := logging.StartTimer(logging.CategoryKnowledge, "RecordFix")
	defer timer.Stop()

	record, err := s.loadRecord(ctx, errorID)
	if err != nil {
		return nil, fmt.Errorf("cannot record fix: %w", err)
	}

	record.Resolved = true
	record.Solution = solution
	if err := s.backend.MarkResolved(ctx, errorID, solution); err != nil {
		logging.KnowledgeWarn("Failed to persist resolution for %s: %v", errorID, err)
	}

	s.mu.Lock()
	if local, ok := s.records[errorID]; ok {
		local.Resolved = true
		local.Solution = solution
	} else {
		s.records[errorID] = record
	}

	entry := s.mergeEntryLocked(record, solution)
	snapshot := s.cappedSnapshotLocked()
	s.mu.Unlock()

	if err := s.backend.SaveEntries(ctx, snapshot); err != nil {
		logging.KnowledgeWarn("Knowledge persistence failed (entries remain in memory): %v", err)
	}

	logging.Knowledge("Learned fix from worker=%s: %q -> %q (occurrences=%d)",
		workerID, entry.Signature, solution, entry.Occurrences)
	return entry, nil
}

// loadRecord reads a record from memory first, then the backend.
func (s *Store) loadRecord(ctx context.Context, errorID string) (*ErrorRecord, error) {
	s.mu.RLock()
	record, ok := s.records[errorID]
	s.mu.RUnlock()
	if ok {
		return record, nil
	}
	return s.backend.GetRecord(ctx, errorID)
}

// mergeEntryLocked reinforces the closest existing entry or creates a new
// one. Caller holds the write lock.
func (s *Store) mergeEntryLocked(record *ErrorRecord, solution string) *KnowledgeEntry {
	var closest *KnowledgeEntry
	var closestScore float64
	for _, e := range s.byCategory[record.Category] {
		score := s.exact.Similarity(record.Signature, e.Signature)
		if score >= s.opts.IdenticalThreshold && score > closestScore {
			closest, closestScore = e, score
		}
	}

	if closest != nil {
		closest.Occurrences++
		closest.LastSeen = time.Now()
		// A freshly confirmed solution outranks a stored one that has not
		// been fully reliable.
		if solution != "" && closest.SuccessRate < 1.0 {
			closest.Solution = solution
		}
		closest.SuccessRate = minFloat(1.0, closest.SuccessRate+0.1)
		if record.Context != "" && len(closest.ContextSamples) < 5 {
			closest.ContextSamples = append(closest.ContextSamples, record.Context)
		}
		return closest
	}

	entry := &KnowledgeEntry{
		ID:          uuid.NewString(),
		Signature:   record.Signature,
		Solution:    solution,
		Occurrences: 1,
		SuccessRate: 1.0,
		LastSeen:    time.Now(),
		Category:    record.Category,
		Fingerprint: record.Fingerprint,
	}
	if record.Context != "" {
		entry.ContextSamples = []string{record.Context}
	}
	s.indexEntry(entry)
	return entry
}

// cappedSnapshotLocked returns the entries that qualify for durable
// persistence: the MaxEntries highest by rank. Caller holds the lock.
func (s *Store) cappedSnapshotLocked() []*KnowledgeEntry {
	snapshot := make([]*KnowledgeEntry, 0, len(s.entries))
	for _, e := range s.entries {
		snapshot = append(snapshot, e)
	}
	sort.Slice(snapshot, func(i, j int) bool {
		return snapshot[i].rank() > snapshot[j].rank()
	})
	if len(snapshot) > s.opts.MaxEntries {
		snapshot = snapshot[:s.opts.MaxEntries]
	}
	return snapshot
}

// SuggestFix searches solved entries for the best fix for an error message.
// Returns nil when nothing clears the threshold; all failures degrade to nil.
func (s *Store) SuggestFix(ctx context.Context, input ErrorInput) *Suggestion {
	signature := normalize.Signature(input.Message)
	category := normalize.Classify(input.Message)
	return s.lookup(signature, s.hasher.Fingerprint(signature), category)
}

// ReportOutcome feeds back whether an applied suggestion actually helped.
// Success reinforces the entry's success rate; failure decays it, so
// unreliable solutions sink in future confidence scores. Unknown entry IDs
// are a logged no-op.
func (s *Store) ReportOutcome(ctx context.Context, entryID string, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entries {
		if e.ID != entryID {
			continue
		}
		if success {
			e.SuccessRate = minFloat(1.0, e.SuccessRate+0.1)
		} else {
			e.SuccessRate = maxFloat(0.1, e.SuccessRate-0.15)
		}
		logging.KnowledgeDebug("Outcome for %q: success=%v rate=%.2f", e.Signature, success, e.SuccessRate)
		return
	}
	logging.KnowledgeDebug("Outcome reported for unknown entry %s", entryID)
}

// EndSession runs the session-boundary maintenance pass: prune stale
// low-usage entries, apply the durable cap, drop session records. Eviction
// never runs concurrently with in-session reads - callers invoke it after
// all workers have settled.
func (s *Store) EndSession(ctx context.Context) {
	timer := logging.StartTimer(logging.CategoryKnowledge, "EndSession")
	defer timer.Stop()

	s.mu.Lock()
	staleCutoff := time.Now().Add(-s.opts.Retention)
	pruned := 0
	for sig, e := range s.entries {
		if e.LastSeen.Before(staleCutoff) && e.Occurrences < 2 {
			delete(s.entries, sig)
			pruned++
		}
	}
	if pruned > 0 {
		s.reindex()
	}

	snapshot := s.cappedSnapshotLocked()
	evicted := len(s.entries) - len(snapshot)
	if evicted > 0 {
		// The in-memory set shrinks to match what survives persistence.
		s.entries = make(map[string]*KnowledgeEntry, len(snapshot))
		for _, e := range snapshot {
			s.entries[e.Signature] = e
		}
		s.reindex()
	}
	s.records = make(map[string]*ErrorRecord)
	s.mu.Unlock()

	if pruned > 0 || evicted > 0 {
		logging.Knowledge("Session eviction: pruned=%d stale, evicted=%d over cap", pruned, evicted)
	}

	if err := s.backend.SaveEntries(ctx, snapshot); err != nil {
		logging.KnowledgeWarn("Session-end persistence failed: %v", err)
	}
}

// Stats summarizes the working set.
func (s *Store) Stats(ctx context.Context) Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		TotalEntries: len(s.entries),
		TotalRecords: len(s.records),
		ByCategory:   make(map[normalize.Category]int),
	}
	var rateSum float64
	for _, e := range s.entries {
		stats.ByCategory[e.Category]++
		rateSum += e.SuccessRate
	}
	if len(s.entries) > 0 {
		stats.AvgSuccessRate = rateSum / float64(len(s.entries))
	}
	for _, r := range s.records {
		if r.Resolved {
			stats.ResolvedCount++
		}
	}
	return stats
}

// Close releases the backing store.
func (s *Store) Close() error {
	return s.backend.Close()
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
