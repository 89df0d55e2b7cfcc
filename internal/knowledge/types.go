// Package knowledge implements the durable signature-to-solution store.
// Errors captured during validation are normalized, fingerprinted and
// recorded; confirmed fixes become knowledge entries with confidence and
// usage statistics, partitioned by error category so similarity search
// stays bounded. Learning is best-effort throughout: store failures degrade
// to "no match" and never block validation.
package knowledge

import (
	"time"

	"crucible/internal/normalize"
	"crucible/internal/similarity"
)

// ErrorInput is the one accepted shape for reported errors: a message plus
// an optional structured payload. Callers never pass bare strings or loose
// objects around.
type ErrorInput struct {
	Message string         `json:"message"`
	Raw     map[string]any `json:"raw,omitempty"`
}

// ErrorRecord is one captured error occurrence. Records are session-scoped:
// they expire with the session TTL and are never mutated except for the
// resolved/solution transition on a confirmed fix.
type ErrorRecord struct {
	ID          string                 `json:"id"`
	WorkerID    string                 `json:"worker_id"`
	Timestamp   time.Time              `json:"timestamp"`
	RawMessage  string                 `json:"raw_message"`
	Signature   string                 `json:"signature"`
	Category    normalize.Category     `json:"category"`
	Context     string                 `json:"context,omitempty"`
	Fingerprint similarity.Fingerprint `json:"fingerprint,omitempty"`
	Resolved    bool                   `json:"resolved"`
	Solution    string                 `json:"solution,omitempty"`
}

// KnowledgeEntry is one learned signature-to-solution mapping. Entries are
// created on the first confirmed fix and reinforced on repeats; signature
// is unique within the store.
type KnowledgeEntry struct {
	ID             string                 `json:"id"`
	Signature      string                 `json:"signature"`
	Solution       string                 `json:"solution"`
	Occurrences    int                    `json:"occurrences"`
	SuccessRate    float64                `json:"success_rate"`
	LastSeen       time.Time              `json:"last_seen"`
	Category       normalize.Category     `json:"category"`
	ContextSamples []string               `json:"context_samples,omitempty"`
	Fingerprint    similarity.Fingerprint `json:"fingerprint,omitempty"`
}

// rank orders entries for capped persistence: recency times usage.
func (e *KnowledgeEntry) rank() float64 {
	return float64(e.LastSeen.UnixMilli()) * float64(e.Occurrences)
}

// Suggestion is a retrieved fix candidate for an error.
type Suggestion struct {
	EntryID    string  `json:"entry_id"`
	Signature  string  `json:"signature"`
	Solution   string  `json:"solution"`
	Similarity float64 `json:"similarity"` // 0-100 against the query signature
	Confidence float64 `json:"confidence"` // 0-1, similarity weighted by entry success rate
}

// ExportDocument is the interchange format for seeding a fresh session or
// sharing learned fixes between deployments.
type ExportDocument struct {
	Version    int           `json:"version"`
	Entries    []ExportEntry `json:"entries"`
	ExportedAt time.Time     `json:"exported_at"`
}

// ExportEntry is one exported knowledge entry. Fingerprints are not
// exported; importers recompute them so hash parameters stay local.
type ExportEntry struct {
	Signature   string             `json:"signature"`
	Solution    string             `json:"solution"`
	Occurrences int                `json:"occurrences"`
	SuccessRate float64            `json:"success_rate"`
	LastSeen    time.Time          `json:"last_seen"`
	Category    normalize.Category `json:"category"`
}

// ExportVersion is the current export document version.
const ExportVersion = 1

// Stats summarizes store contents.
type Stats struct {
	TotalEntries   int                        `json:"total_entries"`
	TotalRecords   int                        `json:"total_records"`
	ResolvedCount  int                        `json:"resolved_count"`
	AvgSuccessRate float64                    `json:"avg_success_rate"`
	ByCategory     map[normalize.Category]int `json:"by_category"`
}
