// Package report projects a wave result into update and add proposals.
package report

import (
	"cmp"
	"slices"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/treesync/internal/models"
	"github.com/starford/treesync/internal/tree"
	"github.com/starford/treesync/internal/wave"
)

// Config filters what goes into a report.
type Config struct {
	// MinMatchScore excludes mapped pairs scoring below it from updates.
	MinMatchScore int `yaml:"min_match_score" json:"min_match_score"`
	// NewNodeDepth is how many hops away from a mapped person an unmatched
	// source person may be to be proposed for addition.
	NewNodeDepth int `yaml:"new_node_depth" json:"new_node_depth"`
}

// DefaultConfig returns a minimum score of 70 and a depth of 1.
func DefaultConfig() Config {
	return Config{MinMatchScore: 70, NewNodeDepth: 1}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.MinMatchScore, validation.Min(0), validation.Max(100)),
		validation.Field(&c.NewNodeDepth, validation.Min(0)),
	)
}

// Relation names as written in the report. They describe the new or
// updated person relative to the referenced person.
const (
	relParent  = "parent"
	relSpouse  = "spouse"
	relChild   = "child"
	relSibling = "sibling"
)

func relationName(k models.RelationKind) string {
	switch k {
	case models.RelationParent:
		return relParent
	case models.RelationSpouse:
		return relSpouse
	case models.RelationChild:
		return relChild
	case models.RelationSibling:
		return relSibling
	}
	return string(k)
}

// NodeToUpdate is a mapped pair with at least one actionable field diff.
type NodeToUpdate struct {
	SourceID      string      `json:"source_id"`
	DestinationID string      `json:"destination_id"`
	Label         string      `json:"label"`
	MatchScore    int         `json:"match_score"`
	Level         int         `json:"level"`
	FoundVia      string      `json:"found_via"`
	Diffs         []FieldDiff `json:"diffs"`
}

// RelationRef attaches a new person to someone. DestinationID is empty when
// the referenced person is itself proposed for addition in the same report.
type RelationRef struct {
	Relation            string `json:"relation"`
	SourceID            string `json:"source_id"`
	DestinationID       string `json:"destination_id,omitempty"`
	SourceFamilyID      string `json:"source_family_id,omitempty"`
	DestinationFamilyID string `json:"destination_family_id,omitempty"`
}

// NodeToAdd is an unmatched source person close enough to the mapped part
// of the tree to be created in the destination.
type NodeToAdd struct {
	SourceID            string               `json:"source_id"`
	Label               string               `json:"label"`
	Depth               int                  `json:"depth"`
	Reason              wave.UnmatchedReason `json:"reason"`
	Person              *models.PersonRecord `json:"person"`
	PrimaryRelation     RelationRef          `json:"primary_relation"`
	AdditionalRelations []RelationRef        `json:"additional_relations,omitempty"`
}

// Individuals groups the per-person proposals.
type Individuals struct {
	NodesToUpdate []NodeToUpdate `json:"nodes_to_update"`
	NodesToAdd    []NodeToAdd    `json:"nodes_to_add"`
}

// Summary counts what was included and what was filtered out.
type Summary struct {
	Mapped           int `json:"mapped"`
	Updates          int `json:"updates"`
	Additions        int `json:"additions"`
	SkippedLowScore  int `json:"skipped_low_score"`
	SkippedHighIssue int `json:"skipped_high_issue"`
	NothingToUpdate  int `json:"nothing_to_update"`
	// DeferredAdditions counts unmatched persons left out of NodesToAdd
	// because the reviewer skipped them.
	DeferredAdditions int `json:"deferred_additions"`
}

// WaveHighConfidenceReport is the document handed to update/add executors.
type WaveHighConfidenceReport struct {
	SourceFile      string           `json:"source_file,omitempty"`
	DestinationFile string           `json:"destination_file,omitempty"`
	Anchor          wave.AnchorInfo  `json:"anchor"`
	Termination     wave.Termination `json:"termination"`
	GeneratedAt     time.Time        `json:"generated_at"`
	Config          Config           `json:"config"`
	Summary         Summary          `json:"summary"`
	Individuals     Individuals      `json:"individuals"`
}

// Builder produces reports. It does no matching of its own.
type Builder struct {
	src, dst *tree.Graph
	cfg      Config
	now      func() time.Time
}

// NewBuilder creates a Builder over the graphs a result was computed from.
func NewBuilder(src, dst *tree.Graph, cfg Config) *Builder {
	return &Builder{src: src, dst: dst, cfg: cfg, now: time.Now}
}

// WithClock sets the time source for GeneratedAt.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build projects res. Pairs touched by a High severity validation issue are
// left out of the updates.
func (b *Builder) Build(res *wave.WaveCompareResult) *WaveHighConfidenceReport {
	rep := &WaveHighConfidenceReport{
		SourceFile:      res.SourceFile,
		DestinationFile: res.DestinationFile,
		Anchor:          res.Anchor,
		Termination:     res.Termination,
		GeneratedAt:     b.now(),
		Config:          b.cfg,
		Individuals: Individuals{
			NodesToUpdate: []NodeToUpdate{},
			NodesToAdd:    []NodeToAdd{},
		},
	}

	flagged := make(map[string]struct{})
	for _, i := range res.ValidationIssues {
		if i.Severity != models.SeverityHigh {
			continue
		}
		if i.SourceID != "" {
			flagged["s|"+i.SourceID] = struct{}{}
		}
		if i.DestinationID != "" {
			flagged["d|"+i.DestinationID] = struct{}{}
		}
	}

	srcToDst := make(map[string]string, len(res.Mappings))
	for _, m := range res.Mappings {
		srcToDst[m.SourceID] = m.DestinationID
		rep.Summary.Mapped++

		if m.MatchScore < b.cfg.MinMatchScore {
			rep.Summary.SkippedLowScore++
			continue
		}
		_, fs := flagged["s|"+m.SourceID]
		_, fd := flagged["d|"+m.DestinationID]
		if fs || fd {
			rep.Summary.SkippedHighIssue++
			continue
		}
		sp, dp := b.src.Person(m.SourceID), b.dst.Person(m.DestinationID)
		if sp == nil || dp == nil {
			continue
		}
		diffs := Diff(sp, dp)
		if !actionable(diffs) {
			rep.Summary.NothingToUpdate++
			continue
		}
		rep.Individuals.NodesToUpdate = append(rep.Individuals.NodesToUpdate, NodeToUpdate{
			SourceID:      m.SourceID,
			DestinationID: m.DestinationID,
			Label:         sp.Label(),
			MatchScore:    m.MatchScore,
			Level:         m.Level,
			FoundVia:      string(m.FoundVia),
			Diffs:         diffs,
		})
	}
	slices.SortFunc(rep.Individuals.NodesToUpdate, func(a, b NodeToUpdate) int {
		return cmp.Or(cmp.Compare(a.Level, b.Level), cmp.Compare(a.SourceID, b.SourceID))
	})

	rep.Individuals.NodesToAdd, rep.Summary.DeferredAdditions = b.additions(res, srcToDst)
	rep.Summary.Updates = len(rep.Individuals.NodesToUpdate)
	rep.Summary.Additions = len(rep.Individuals.NodesToAdd)
	return rep
}

// additions walks outwards from every mapped source person, breadth first,
// through unmapped relatives up to NewNodeDepth hops. Persons whose decision
// was deferred are counted, not proposed, and the walk stops at them.
func (b *Builder) additions(res *wave.WaveCompareResult, srcToDst map[string]string) ([]NodeToAdd, int) {
	out := []NodeToAdd{}
	if b.cfg.NewNodeDepth < 1 {
		return out, 0
	}
	deferred := 0
	reasons := make(map[string]wave.UnmatchedReason, len(res.UnmatchedSource))
	for _, u := range res.UnmatchedSource {
		reasons[u.ID] = u.Reason
	}

	type hop struct {
		id    string
		depth int
	}
	queue := make([]hop, 0, len(srcToDst))
	for _, id := range b.src.PersonIDs() {
		if _, ok := srcToDst[id]; ok {
			queue = append(queue, hop{id: id})
		}
	}
	seen := make(map[string]struct{})

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= b.cfg.NewNodeDepth {
			continue
		}
		for rel := range tree.ImmediateRelatives(b.src, cur.id) {
			id := rel.Person.ID
			if _, mapped := srcToDst[id]; mapped {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			if reasons[id] == wave.ReasonSkipped {
				deferred++
				continue
			}
			node := NodeToAdd{
				SourceID: id,
				Label:    rel.Person.Label(),
				Depth:    cur.depth + 1,
				Reason:   reasons[id],
				Person:   rel.Person,
				PrimaryRelation: RelationRef{
					Relation:       relationName(rel.Relation),
					SourceID:       cur.id,
					DestinationID:  srcToDst[cur.id],
					SourceFamilyID: rel.FamilyID,
				},
			}
			b.attachUnion(&node, srcToDst)
			out = append(out, node)
			queue = append(queue, hop{id: id, depth: cur.depth + 1})
		}
	}

	slices.SortFunc(out, func(a, b NodeToAdd) int {
		return cmp.Or(cmp.Compare(a.Depth, b.Depth), cmp.Compare(a.SourceID, b.SourceID))
	})
	return out, deferred
}

// attachUnion handles a new child whose two parents are both mapped: the
// primary relation points at one parent and AdditionalRelations at the other,
// both carrying the destination family the parents share when there is one.
func (b *Builder) attachUnion(n *NodeToAdd, srcToDst map[string]string) {
	for f := range tree.FamiliesAsChild(b.src, n.SourceID) {
		dh, hOK := srcToDst[f.HusbandID]
		dw, wOK := srcToDst[f.WifeID]
		if !hOK || !wOK {
			continue
		}
		dstFamily := b.sharedFamily(dh, dw)
		n.PrimaryRelation = RelationRef{
			Relation: relChild, SourceID: f.HusbandID, DestinationID: dh,
			SourceFamilyID: f.ID, DestinationFamilyID: dstFamily,
		}
		n.AdditionalRelations = []RelationRef{{
			Relation: relChild, SourceID: f.WifeID, DestinationID: dw,
			SourceFamilyID: f.ID, DestinationFamilyID: dstFamily,
		}}
		return
	}
}

func (b *Builder) sharedFamily(a, c string) string {
	for f := range tree.FamiliesAsSpouse(b.dst, a) {
		if f.IsSpouse(c) {
			return f.ID
		}
	}
	return ""
}
