package similarity

import (
	"hash/fnv"
	"strings"
)

// Fingerprint defaults.
const (
	DefaultHashCount    = 64 // positions per fingerprint
	DefaultShingleWidth = 3  // words per shingle
)

// Fingerprint is a fixed-width MinHash vector over the word-shingles of a
// signature. Immutable once computed. Comparing two fingerprints costs
// O(hash count) regardless of signature length, which is what makes it
// usable as a pre-filter before any exact comparison.
type Fingerprint []uint64

// Hasher computes fingerprints with a fixed hash count and shingle width.
// The zero-value defaults make fingerprints from independent sessions
// comparable, which the knowledge export/import path relies on.
type Hasher struct {
	hashCount    int
	shingleWidth int
}

// NewHasher creates a fingerprint hasher. Non-positive parameters fall back
// to the defaults.
func NewHasher(hashCount, shingleWidth int) *Hasher {
	if hashCount <= 0 {
		hashCount = DefaultHashCount
	}
	if shingleWidth <= 0 {
		shingleWidth = DefaultShingleWidth
	}
	return &Hasher{hashCount: hashCount, shingleWidth: shingleWidth}
}

// Fingerprint computes the MinHash vector for a signature: for each of the
// k seeded hash functions, the minimum hash over all shingles. A signature
// shorter than the shingle width collapses to a single whole-string shingle.
func (h *Hasher) Fingerprint(signature string) Fingerprint {
	shingles := h.shingles(signature)
	fp := make(Fingerprint, h.hashCount)

	for i := 0; i < h.hashCount; i++ {
		minHash := ^uint64(0)
		for _, shingle := range shingles {
			hv := seededHash(shingle, uint64(i))
			if hv < minHash {
				minHash = hv
			}
		}
		fp[i] = minHash
	}

	return fp
}

// shingles splits a signature into overlapping word windows.
func (h *Hasher) shingles(signature string) []string {
	words := strings.Fields(signature)
	if len(words) == 0 {
		return []string{""}
	}
	if len(words) <= h.shingleWidth {
		return []string{strings.Join(words, " ")}
	}

	out := make([]string, 0, len(words)-h.shingleWidth+1)
	for i := 0; i+h.shingleWidth <= len(words); i++ {
		out = append(out, strings.Join(words[i:i+h.shingleWidth], " "))
	}
	return out
}

// Compare returns the fraction of matching positions between two
// fingerprints, scaled to [0,100]. Mismatched widths score 0.
func Compare(a, b Fingerprint) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	matches := 0
	for i := range a {
		if a[i] == b[i] {
			matches++
		}
	}
	return float64(matches) / float64(len(a)) * 100
}

// seededHash is FNV-1a over the shingle with the seed folded in first.
// Distinct seeds give k independent hash functions over the same shingle set.
func seededHash(s string, seed uint64) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(seed >> (8 * i))
	}
	h.Write(buf[:])
	h.Write([]byte(s))
	return h.Sum64()
}
