package match

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/starford/treesync/internal/models"
)

// ChildPair is an accepted source/destination child assignment.
type ChildPair struct {
	SourceID      string    `json:"source_id"`
	DestinationID string    `json:"destination_id"`
	Score         int       `json:"score"`
	Candidate     Candidate `json:"candidate"`
}

// ChildDecision records why a pair was accepted or not.
type ChildDecision struct {
	SourceID      string `json:"source_id"`
	DestinationID string `json:"destination_id"`
	Score         int    `json:"score"`
	Threshold     int    `json:"threshold"`
	Accepted      bool   `json:"accepted"`
	Reason        string `json:"reason"`
}

// ChildMatchResult is the outcome of matching two child lists.
type ChildMatchResult struct {
	Pairs                []ChildPair     `json:"pairs"`
	Decisions            []ChildDecision `json:"decisions"`
	UnmatchedSource      []string        `json:"unmatched_source"`
	UnmatchedDestination []string        `json:"unmatched_destination"`

	matrix map[string][]Candidate
}

// Remaining returns the scored candidates for an unmatched source child
// among the still unmatched destination children, best first.
func (r ChildMatchResult) Remaining(sourceID string) []Candidate {
	free := make(map[string]bool, len(r.UnmatchedDestination))
	for _, id := range r.UnmatchedDestination {
		free[id] = true
	}
	var out []Candidate
	for _, c := range r.matrix[sourceID] {
		if free[c.ID] {
			out = append(out, c)
		}
	}
	return out
}

// MatchChildren assigns source children to destination children greedily
// by global best score: the highest scoring pair over all remaining
// children is accepted first, then the next highest among those left, until
// no pair reaches threshold. Ties go to the lowest source id, then the
// lowest destination id.
func MatchChildren(c Comparer, src, dst []*models.PersonRecord, threshold int) ChildMatchResult {
	res := ChildMatchResult{matrix: make(map[string][]Candidate, len(src))}

	type cell struct {
		src  string
		cand Candidate
	}
	var cells []cell
	for _, s := range src {
		row := make([]Candidate, 0, len(dst))
		for _, d := range dst {
			cand := c.Compare(s, d)
			row = append(row, cand)
			cells = append(cells, cell{src: s.ID, cand: cand})
		}
		SortCandidates(row)
		res.matrix[s.ID] = row
	}
	slices.SortStableFunc(cells, func(a, b cell) int {
		if a.cand.Score != b.cand.Score {
			return cmp.Compare(b.cand.Score, a.cand.Score)
		}
		if a.src != b.src {
			return cmp.Compare(a.src, b.src)
		}
		return cmp.Compare(a.cand.ID, b.cand.ID)
	})

	usedSrc := make(map[string]bool, len(src))
	usedDst := make(map[string]bool, len(dst))
	for _, x := range cells {
		if usedSrc[x.src] || usedDst[x.cand.ID] {
			continue
		}
		if x.cand.Score < threshold {
			break
		}
		usedSrc[x.src], usedDst[x.cand.ID] = true, true
		res.Pairs = append(res.Pairs, ChildPair{SourceID: x.src, DestinationID: x.cand.ID, Score: x.cand.Score, Candidate: x.cand})
		res.Decisions = append(res.Decisions, ChildDecision{
			SourceID: x.src, DestinationID: x.cand.ID, Score: x.cand.Score, Threshold: threshold,
			Accepted: true, Reason: "best remaining pair",
		})
	}

	for _, d := range dst {
		if !usedDst[d.ID] {
			res.UnmatchedDestination = append(res.UnmatchedDestination, d.ID)
		}
	}
	for _, s := range src {
		if usedSrc[s.ID] {
			continue
		}
		res.UnmatchedSource = append(res.UnmatchedSource, s.ID)
		if rest := res.Remaining(s.ID); len(rest) > 0 {
			res.Decisions = append(res.Decisions, ChildDecision{
				SourceID: s.ID, DestinationID: rest[0].ID, Score: rest[0].Score, Threshold: threshold,
				Reason: fmt.Sprintf("best remaining score %d below %d", rest[0].Score, threshold),
			})
		} else {
			res.Decisions = append(res.Decisions, ChildDecision{
				SourceID: s.ID, Threshold: threshold, Reason: "no destination child left",
			})
		}
	}
	return res
}
