package keyword

import "sort"

// suggestQuery replaces each term missing from dict with the closest known
// term (smallest edit distance, then highest frequency, then lexical). It
// returns "" when nothing was replaced.
func suggestQuery(terms []string, dict map[string]uint64, maxDistance int) string {
	known := make([]string, 0, len(dict))
	for t := range dict {
		known = append(known, t)
	}
	sort.Strings(known)

	changed := false
	out := make([]string, len(terms))
	for i, term := range terms {
		out[i] = term
		if _, ok := dict[term]; ok {
			continue
		}
		best, bestDist := "", maxDistance+1
		for _, cand := range known {
			if abs(len(cand)-len(term)) > maxDistance {
				continue
			}
			d := editDistance(term, cand)
			if d < bestDist || (d == bestDist && best != "" && dict[cand] > dict[best]) {
				best, bestDist = cand, d
			}
		}
		if best != "" {
			out[i] = best
			changed = true
		}
	}
	if !changed {
		return ""
	}
	result := out[0]
	for _, t := range out[1:] {
		result += " " + t
	}
	return result
}

// editDistance is the Levenshtein distance between a and b, over runes.
func editDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
