// Package match resolves player-typed names against catalog entries.
package match

import (
	"github.com/agnivade/levenshtein"

	"github.com/kaironbot/economy/internal/economy/catalog"
)

// Outcome is either an exact hit or the closest suggestion.
type Outcome struct {
	Entry catalog.Entry
	Exact bool
}

// Resolve picks the entry whose name matches input, or the nearest one
// by edit distance. Equally distant candidates tie-break on the lowest
// catalog id, keeping suggestions deterministic across loads. The
// second return is false only for an empty catalog.
func Resolve(input string, entries []catalog.Entry) (Outcome, bool) {
	if len(entries) == 0 {
		return Outcome{}, false
	}

	best := -1
	bestDist := 0
	for i, e := range entries {
		if e.Name == input {
			return Outcome{Entry: e, Exact: true}, true
		}
		d := levenshtein.ComputeDistance(input, e.Name)
		switch {
		case best < 0 || d < bestDist:
			best, bestDist = i, d
		case d == bestDist && e.ID < entries[best].ID:
			best = i
		}
	}
	return Outcome{Entry: entries[best]}, true
}
