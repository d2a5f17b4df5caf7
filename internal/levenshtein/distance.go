// Package levenshtein computes edit distances for domain typo suggestions.
package levenshtein

// Distance computes the Levenshtein edit distance between two strings.
func Distance(s, t string) int {
	d, _ := Within(s, t, -1)
	return d
}

// Within computes the edit distance between s and t, giving up as soon as
// every cell of a row exceeds limit. A negative limit means no limit.
// The second return value reports whether the distance is <= limit.
func Within(s, t string, limit int) (int, bool) {
	a, b := []rune(s), []rune(t)
	if len(a) > len(b) {
		a, b = b, a
	}
	if limit >= 0 && len(b)-len(a) > limit {
		return len(b) - len(a), false
	}

	row := make([]int, len(a)+1)
	for i := range row {
		row[i] = i
	}

	for j := 1; j <= len(b); j++ {
		diag := row[0]
		row[0] = j
		best := row[0]
		for i := 1; i <= len(a); i++ {
			up := row[i]
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			row[i] = min(row[i-1]+1, up+1, diag+cost)
			diag = up
			best = min(best, row[i])
		}
		if limit >= 0 && best > limit {
			return best, false
		}
	}

	d := row[len(a)]
	return d, limit < 0 || d <= limit
}
