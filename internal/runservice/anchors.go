package runservice

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/starford/treesync/internal/apperr"
	"github.com/starford/treesync/internal/match"
	"github.com/starford/treesync/internal/models"
	"github.com/starford/treesync/internal/tree"
)

// AnchorQuery asks which destination persons could be the counterpart of
// one source person.
type AnchorQuery struct {
	SourceFile      string
	DestinationFile string
	PersonID        string
	MinScore        int
	Limit           int
}

// AnchorSuggestion is one destination person ranked for an AnchorQuery.
type AnchorSuggestion struct {
	match.Candidate
	Label    string `json:"label"`
	Families int    `json:"families"`
}

// SuggestAnchors ranks destination persons for q.PersonID, best first.
// Only persons sharing the normalized surname or born within the birth-year
// window are scored; a person with neither is compared against everyone.
func (s *Service) SuggestAnchors(ctx context.Context, q AnchorQuery) ([]AnchorSuggestion, error) {
	if q.SourceFile == "" || q.DestinationFile == "" || q.PersonID == "" {
		return nil, fmt.Errorf("%w: source and destination files and a person are required", apperr.ErrInvalidOptions)
	}
	if _, _, err := fileSums(q.SourceFile, q.DestinationFile); err != nil {
		return nil, err
	}
	in, err := s.load(ctx, q.SourceFile, q.DestinationFile)
	if err != nil {
		return nil, err
	}
	sp := in.src.Person(q.PersonID)
	if sp == nil {
		return nil, fmt.Errorf("%w: source person %q", apperr.ErrAnchorNotFound, q.PersonID)
	}

	ids := anchorPool(in.dst, sp, s.settings.MaxBirthYearDiff)
	pool := make([]*models.PersonRecord, 0, len(ids))
	for _, id := range ids {
		pool = append(pool, in.dst.Person(id))
	}
	cands := s.matcher().FindMatchesInContext(sp, pool, q.MinScore, in.src, in.dst)
	if q.Limit > 0 && len(cands) > q.Limit {
		cands = cands[:q.Limit]
	}

	out := make([]AnchorSuggestion, 0, len(cands))
	for _, c := range cands {
		n := 0
		for range tree.AllFamilies(in.dst, c.ID) {
			n++
		}
		out = append(out, AnchorSuggestion{Candidate: c, Label: c.Person.Label(), Families: n})
	}
	s.logger.Info("anchor candidates ranked",
		slog.String("person", sp.Label()),
		slog.Int("pool", len(pool)),
		slog.Int("candidates", len(out)))
	return out, nil
}

// anchorPool narrows g to persons that could plausibly be p.
func anchorPool(g *tree.Graph, p *models.PersonRecord, window int) []string {
	var ids []string
	if y := p.BirthYear(); y != 0 {
		ids = append(ids, g.CandidatesByBirthYear(y, window)...)
	}
	if p.NormalizedLastName != "" {
		ids = append(ids, g.PersonsByNormalizedLastName[p.NormalizedLastName]...)
	}
	if len(ids) == 0 {
		return g.PersonIDs()
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}
