package similarity

import (
	"crucible/internal/logging"
)

// Matcher scores the similarity of two signatures on a [0,100] scale.
// Exact and Approximate are interchangeable behind this interface; the
// knowledge store uses Approximate to pre-filter a category and Exact to
// confirm candidates.
type Matcher interface {
	Similarity(a, b string) float64
}

// Exact scores by edit distance over the full signatures. Accurate but
// O(|a|*|b|) per pair - intended for corpora up to a few thousand entries.
type Exact struct{}

// Similarity implements Matcher.
func (Exact) Similarity(a, b string) float64 {
	return Ratio(a, b)
}

// Approximate scores by fingerprint position matches. Constant cost per
// pair once fingerprints exist.
type Approximate struct {
	hasher *Hasher
}

// NewApproximate creates an approximate matcher with the given fingerprint
// parameters (non-positive values use the defaults).
func NewApproximate(hashCount, shingleWidth int) *Approximate {
	return &Approximate{hasher: NewHasher(hashCount, shingleWidth)}
}

// Similarity implements Matcher by fingerprinting both inputs. Callers that
// already hold fingerprints should use Compare directly.
func (m *Approximate) Similarity(a, b string) float64 {
	return Compare(m.hasher.Fingerprint(a), m.hasher.Fingerprint(b))
}

// Hasher exposes the underlying fingerprint hasher so stores can persist
// fingerprints instead of recomputing them per query.
func (m *Approximate) Hasher() *Hasher {
	return m.hasher
}

// Candidate pairs a signature with its bookkeeping needed for tie-breaks.
type Candidate struct {
	Signature   string
	Occurrences int
}

// Match is a scored candidate.
type Match struct {
	Candidate
	Score float64
}

// BestMatch returns the single best candidate scoring at or above threshold,
// or nil if none qualifies. Ties break by highest occurrences, not by
// position in the candidate list.
func BestMatch(m Matcher, query string, candidates []Candidate, threshold float64) *Match {
	timer := logging.StartTimer(logging.CategorySimilarity, "BestMatch")
	defer timer.Stop()

	var best *Match
	for _, c := range candidates {
		score := m.Similarity(query, c.Signature)
		if score < threshold {
			continue
		}
		if best == nil || score > best.Score ||
			(score == best.Score && c.Occurrences > best.Occurrences) {
			best = &Match{Candidate: c, Score: score}
		}
	}

	if best != nil {
		logging.SimilarityDebug("BestMatch: query matched %q at %.1f (threshold %.1f)",
			best.Signature, best.Score, threshold)
	}
	return best
}
