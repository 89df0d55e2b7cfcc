// Package similarity implements the two signature-comparison strategies:
// exact edit-distance ratios for small corpora and fixed-width MinHash
// fingerprints for cheap pre-filtering inside a category.
package similarity

// Levenshtein computes the edit distance between two strings over runes.
// Two-row dynamic programming, O(len(a)*len(b)) time, O(min) space.
func Levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}
	if len(rb) < len(ra) {
		ra, rb = rb, ra
	}

	prev := make([]int, len(ra)+1)
	curr := make([]int, len(ra)+1)
	for i := range prev {
		prev[i] = i
	}

	for j := 1; j <= len(rb); j++ {
		curr[0] = j
		for i := 1; i <= len(ra); i++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[i] = min3(prev[i]+1, curr[i-1]+1, prev[i-1]+cost)
		}
		prev, curr = curr, prev
	}

	return prev[len(ra)]
}

// Ratio converts edit distance into a similarity score in [0,100].
// Both empty scores 100; exactly one empty scores 0.
func Ratio(a, b string) float64 {
	la, lb := len([]rune(a)), len([]rune(b))
	if la == 0 && lb == 0 {
		return 100
	}
	if la == 0 || lb == 0 {
		return 0
	}

	longest := la
	if lb > longest {
		longest = lb
	}
	dist := Levenshtein(a, b)
	return float64(longest-dist) / float64(longest) * 100
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
