package match

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"github.com/starford/treesync/internal/models"
	"github.com/starford/treesync/internal/names"
)

// stringSimilarity is 1 - editDistance/maxLen over runes, in [0,1].
func stringSimilarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	maxLen := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	d := levenshtein.ComputeDistance(a, b)
	if d >= maxLen {
		return 0
	}
	return 1 - float64(d)/float64(maxLen)
}

// tokenOverlap is the Jaccard index of the space separated tokens.
func tokenOverlap(a, b string) float64 {
	ta, tb := strings.Fields(a), strings.Fields(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(ta))
	for _, t := range ta {
		set[t] = struct{}{}
	}
	inter := 0
	union := len(set)
	seen := make(map[string]struct{}, len(tb))
	for _, t := range tb {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := set[t]; ok {
			inter++
		} else {
			union++
		}
	}
	return float64(inter) / float64(union)
}

func firstToken(s string) string {
	if i := strings.IndexByte(s, ' '); i >= 0 {
		return s[:i]
	}
	return s
}

// placeSimilarity compares free-form place strings. Matching leading
// components ("Boston, MA" vs "Boston, Suffolk, Massachusetts") score high.
func placeSimilarity(a, b string) (float64, string) {
	fa, fb := names.Fold(a), names.Fold(b)
	if fa == "" || fb == "" {
		return 0, "missing"
	}
	if fa == fb {
		return 1, "exact"
	}
	ca := names.Fold(strings.Split(a, ",")[0])
	cb := names.Fold(strings.Split(b, ",")[0])
	if ca != "" && ca == cb {
		return 0.9, "same locality"
	}
	sim := max(stringSimilarity(fa, fb), tokenOverlap(fa, fb))
	if sim < 0.4 {
		return 0, "different places"
	}
	return sim, fmt.Sprintf("similar (%.2f)", sim)
}

// dateSimilarity grades two partial dates. Missing years are neutral (0).
// Approximate dates get two years of slack before the difference counts.
func dateSimilarity(a, b *models.DateInfo, maxYearDiff int) (float64, string) {
	if !a.HasYear() || !b.HasYear() {
		return 0, "missing"
	}
	diff := a.Year - b.Year
	if diff < 0 {
		diff = -diff
	}
	if a.IsApproximate() || b.IsApproximate() {
		diff = max(0, diff-2)
	}
	if diff == 0 {
		switch {
		case a.Month != 0 && b.Month != 0 && a.Month != b.Month:
			return 0.75, "same year, different month"
		case a.Month != 0 && a.Month == b.Month && a.Day != 0 && a.Day == b.Day:
			return 1, "exact"
		case a.Month != 0 && a.Month == b.Month && a.Day != 0 && b.Day != 0:
			return 0.85, "same year and month, different day"
		case a.Month != 0 && a.Month == b.Month:
			return 0.9, "same year and month"
		default:
			return 0.8, "same year"
		}
	}
	if maxYearDiff > 0 && diff <= maxYearDiff {
		s := 0.7 * (1 - float64(diff-1)/float64(maxYearDiff))
		return s, fmt.Sprintf("within %d years", diff)
	}
	return 0, fmt.Sprintf("years differ by %d", diff)
}
