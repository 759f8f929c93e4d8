package match

import (
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"

	"github.com/starford/treesync/internal/models"
)

// MappingView exposes the mappings accumulated so far in both directions.
type MappingView interface {
	DestinationOf(sourceID string) (string, bool)
	SourceOf(destinationID string) (string, bool)
}

// ScoreComponent is one line of a structural score breakdown.
type ScoreComponent struct {
	Name      string  `json:"name"`
	Points    float64 `json:"points"`
	Rationale string  `json:"rationale"`
}

// FamilyScore is the structural evaluation of one candidate family.
type FamilyScore struct {
	FamilyID       string           `json:"family_id"`
	Score          int              `json:"score"`
	Conflict       bool             `json:"conflict,omitempty"`
	ConflictReason string           `json:"conflict_reason,omitempty"`
	Components     []ScoreComponent `json:"components"`
}

// FamilyOutcome is the result kind of a family selection.
type FamilyOutcome string

const (
	FamilyMatched      FamilyOutcome = "matched"
	FamilyNoMatch      FamilyOutcome = "no_match"
	FamilyNoCandidates FamilyOutcome = "no_candidates"
)

// FamilyMatch is the outcome of selecting a destination family.
type FamilyMatch struct {
	Outcome   FamilyOutcome `json:"outcome"`
	Best      *FamilyScore  `json:"best,omitempty"`
	Scores    []FamilyScore `json:"scores"`
	Tie       bool          `json:"tie,omitempty"`
	Threshold int           `json:"threshold"`
}

// Structural point budget. Slots and children add up to 100.
const (
	slotMappedPoints    = 25.0
	slotAbsentPoints    = 10.0
	mappedChildPoints   = 20.0
	mappedChildrenCap   = 40.0
	childCountMaxPoints = 10.0
)

// FamilyMatcher scores candidate family pairs by shape.
type FamilyMatcher struct {
	persons Comparer
	logger  *slog.Logger
}

// NewFamilyMatcher creates a FamilyMatcher that uses persons to compare
// spouses that are not mapped yet.
func NewFamilyMatcher(persons Comparer, logger *slog.Logger) *FamilyMatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &FamilyMatcher{persons: persons, logger: logger}
}

// Score evaluates dst as the counterpart of src given the current mappings.
func (fm *FamilyMatcher) Score(src, dst *models.FamilyRecord, srcDir, dstDir Directory, mv MappingView) FamilyScore {
	fs := FamilyScore{FamilyID: dst.ID}
	var total float64
	conflict := func(reason string) {
		if !fs.Conflict {
			fs.Conflict = true
			fs.ConflictReason = reason
		}
	}
	addComponent := func(name string, pts float64, rationale string) {
		total += pts
		fs.Components = append(fs.Components, ScoreComponent{Name: name, Points: round2(pts), Rationale: rationale})
	}

	for _, slot := range []struct {
		name     string
		src, dst string
	}{
		{"husband", src.HusbandID, dst.HusbandID},
		{"wife", src.WifeID, dst.WifeID},
	} {
		pts, why, clash := fm.scoreSlot(slot.name, slot.src, slot.dst, srcDir, dstDir, mv)
		if clash != "" {
			conflict(clash)
		}
		addComponent(slot.name, pts, why)
	}

	overlap := 0
	for _, c := range src.ChildrenIDs {
		dc, ok := mv.DestinationOf(c)
		if !ok {
			continue
		}
		if dst.HasChild(dc) {
			overlap++
		} else {
			conflict(fmt.Sprintf("source child %s is mapped to %s, who is not a child of %s", c, dc, dst.ID))
		}
	}
	for _, dc := range dst.ChildrenIDs {
		if sc, ok := mv.SourceOf(dc); ok && !src.HasChild(sc) {
			conflict(fmt.Sprintf("destination child %s is mapped from %s, who is not a child of %s", dc, sc, src.ID))
		}
	}
	addComponent("mapped_children", math.Min(mappedChildrenCap, mappedChildPoints*float64(overlap)),
		fmt.Sprintf("%d already-mapped children present in both families", overlap))

	ns, nd := len(src.ChildrenIDs), len(dst.ChildrenIDs)
	if ns == 0 && nd == 0 {
		addComponent("child_count", childCountMaxPoints, "no children on either side")
	} else {
		diff := math.Abs(float64(ns - nd))
		addComponent("child_count", childCountMaxPoints*(1-diff/float64(max(ns, nd))),
			fmt.Sprintf("%d source children vs %d destination children", ns, nd))
	}

	fs.Score = clampScore(int(math.Round(total)))
	return fs
}

func (fm *FamilyMatcher) scoreSlot(name, srcID, dstID string, srcDir, dstDir Directory, mv MappingView) (float64, string, string) {
	switch {
	case srcID == "" && dstID == "":
		return slotAbsentPoints, name + " absent in both families", ""
	case srcID == "" || dstID == "":
		return 0, name + " present in one family only", ""
	}
	if mapped, ok := mv.DestinationOf(srcID); ok {
		if mapped == dstID {
			return slotMappedPoints, name + " already mapped to this spouse", ""
		}
		return 0, name + " mapped elsewhere", fmt.Sprintf("%s %s is already mapped to %s, not %s", name, srcID, mapped, dstID)
	}
	if other, ok := mv.SourceOf(dstID); ok && other != srcID {
		return 0, name + " bound to another person", fmt.Sprintf("destination %s %s is already mapped from %s", name, dstID, other)
	}
	sp, dp := srcDir.Person(srcID), dstDir.Person(dstID)
	if sp == nil || dp == nil {
		return 0, name + " reference unresolved", ""
	}
	c := fm.persons.Compare(sp, dp)
	return slotMappedPoints * float64(c.Score) / 100, fmt.Sprintf("%s attribute similarity %d", name, c.Score), ""
}

// Select picks the best non-conflicting candidate at or above threshold.
// Candidates are evaluated in ascending id order; on an exact tie the lowest
// id wins and a warning is logged.
func (fm *FamilyMatcher) Select(src *models.FamilyRecord, candidates []*models.FamilyRecord, threshold int, srcDir, dstDir Directory, mv MappingView) FamilyMatch {
	res := FamilyMatch{Outcome: FamilyNoCandidates, Threshold: threshold}
	if len(candidates) == 0 {
		return res
	}
	sorted := slices.Clone(candidates)
	slices.SortFunc(sorted, func(a, b *models.FamilyRecord) int { return strings.Compare(a.ID, b.ID) })

	bestIdx, runnerUp := -1, -1
	for _, dst := range sorted {
		s := fm.Score(src, dst, srcDir, dstDir, mv)
		res.Scores = append(res.Scores, s)
		if s.Conflict {
			continue
		}
		i := len(res.Scores) - 1
		switch {
		case bestIdx < 0 || s.Score > res.Scores[bestIdx].Score:
			runnerUp, bestIdx = bestIdx, i
		case runnerUp < 0 || s.Score > res.Scores[runnerUp].Score:
			runnerUp = i
		}
	}

	res.Outcome = FamilyNoMatch
	if bestIdx < 0 || res.Scores[bestIdx].Score < threshold {
		return res
	}
	best := res.Scores[bestIdx]
	if runnerUp >= 0 && res.Scores[runnerUp].Score == best.Score {
		res.Tie = true
		fm.logger.Warn("family match tie, picking lowest family id",
			slog.String("source_family", src.ID),
			slog.String("picked", best.FamilyID),
			slog.String("tied_with", res.Scores[runnerUp].FamilyID),
			slog.Int("score", best.Score))
	}
	res.Outcome = FamilyMatched
	res.Best = &best
	return res
}
