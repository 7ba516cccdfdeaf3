package dedupe

import (
	"math"

	"github.com/agext/levenshtein"
)

// PartialRatio scores how well the shorter string matches its best-aligned
// substring of the longer one, on a 0 to 100 scale. Each alignment is scored
// by insert/delete edit distance, so a single substitution costs two edits.
// Either string being empty scores 0.
func PartialRatio(a, b string) float64 {
	return partialRatio([]rune(a), []rune(b), 0)
}

// partialRatio stops scoring an alignment once it cannot reach floor. It
// returns the best score found, which is below floor when none reached it.
func partialRatio(a, b []rune, floor float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if len(a) > len(b) {
		a, b = b, a
	}

	total := 2 * len(a)
	maxCost := 0
	if floor > 0 {
		maxCost = int(math.Floor((1 - floor/100) * float64(total)))
		if maxCost == 0 {
			// Calculate treats zero as unbounded; one edit is the tightest bound.
			maxCost = 1
		}
	}

	best := 0.0
	for i := 0; i+len(a) <= len(b); i++ {
		dist, _, _ := levenshtein.Calculate(a, b[i:i+len(a)], maxCost, 1, 2, 1)
		score := 100 * float64(total-dist) / float64(total)
		if score > best {
			best = score
			if best == 100 {
				break
			}
		}
	}
	return best
}
