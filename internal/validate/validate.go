// Package validate checks a finished mapping set for contradictions.
package validate

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/treesync/internal/models"
	"github.com/starford/treesync/internal/tree"
)

// Config holds validator thresholds.
type Config struct {
	// YearTolerance is the allowed birth/death year difference. Beyond it
	// an issue is Medium, beyond twice it High.
	YearTolerance int `yaml:"year_tolerance" json:"year_tolerance"`
	// SuspiciousScore flags accepted mappings scoring below it.
	SuspiciousScore int `yaml:"suspicious_score" json:"suspicious_score"`
}

// DefaultConfig returns a five year tolerance and a suspicious floor of 60.
func DefaultConfig() Config {
	return Config{YearTolerance: 5, SuspiciousScore: 60}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.YearTolerance, validation.Min(0)),
		validation.Field(&c.SuspiciousScore, validation.Min(0), validation.Max(100)),
	)
}

// lowScoreBand separates Low from Medium low-score issues.
const lowScoreBand = 10

// Validator is a pure second pass over mappings. It never changes them.
type Validator struct {
	src, dst *tree.Graph
	cfg      Config
	logger   *slog.Logger
}

// Option configures a Validator.
type Option func(*Validator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(v *Validator) { v.logger = l }
}

// New creates a Validator over the two graphs the mappings refer to.
func New(src, dst *tree.Graph, cfg Config, opts ...Option) *Validator {
	v := &Validator{src: src, dst: dst, cfg: cfg, logger: slog.Default()}
	for _, o := range opts {
		o(v)
	}
	return v
}

type issueSet struct {
	seen   map[string]struct{}
	issues []models.ValidationIssue
}

func (s *issueSet) add(sev models.Severity, typ models.IssueType, src, dst, msg string) {
	key := string(typ) + "|" + src + "|" + dst + "|" + msg
	if _, ok := s.seen[key]; ok {
		return
	}
	s.seen[key] = struct{}{}
	s.issues = append(s.issues, models.ValidationIssue{Severity: sev, Type: typ, SourceID: src, DestinationID: dst, Message: msg})
}

// Validate checks mappings and converts engine anomalies into issues. The
// output is sorted by severity (highest first), type, then ids, so equal
// input always yields an equal list.
func (v *Validator) Validate(mappings []models.PersonMapping, anomalies []models.Anomaly) []models.ValidationIssue {
	set := &issueSet{seen: make(map[string]struct{})}

	srcToDst := make(map[string]string, len(mappings))
	for _, m := range mappings {
		if _, dup := srcToDst[m.SourceID]; !dup {
			srcToDst[m.SourceID] = m.DestinationID
		}
	}

	v.checkDuplicates(set, mappings)
	for _, m := range mappings {
		sp, dp := v.src.Person(m.SourceID), v.dst.Person(m.DestinationID)
		if sp == nil {
			set.add(models.SeverityHigh, models.IssueInvalidSourceID, m.SourceID, m.DestinationID,
				fmt.Sprintf("source person %s does not exist", m.SourceID))
		}
		if dp == nil {
			set.add(models.SeverityHigh, models.IssueInvalidDestID, m.SourceID, m.DestinationID,
				fmt.Sprintf("destination person %s does not exist", m.DestinationID))
		}
		if sp == nil || dp == nil {
			continue
		}
		v.checkAttributes(set, m, sp, dp)
		v.checkGenerations(set, m, srcToDst)
		v.checkScore(set, m)
	}
	v.checkFamilies(set, srcToDst)
	convertAnomalies(set, anomalies)

	slices.SortFunc(set.issues, compareIssues)
	v.logger.Info("validation finished",
		slog.Int("mappings", len(mappings)),
		slog.Int("issues", len(set.issues)))
	return set.issues
}

func (v *Validator) checkDuplicates(set *issueSet, mappings []models.PersonMapping) {
	bySrc := make(map[string][]string)
	byDst := make(map[string][]string)
	for _, m := range mappings {
		if !slices.Contains(bySrc[m.SourceID], m.DestinationID) {
			bySrc[m.SourceID] = append(bySrc[m.SourceID], m.DestinationID)
		}
		if !slices.Contains(byDst[m.DestinationID], m.SourceID) {
			byDst[m.DestinationID] = append(byDst[m.DestinationID], m.SourceID)
		}
	}
	for s, ds := range bySrc {
		if len(ds) > 1 {
			slices.Sort(ds)
			set.add(models.SeverityHigh, models.IssueDuplicateMapping, s, "",
				fmt.Sprintf("source %s is mapped to %d destinations: %v", s, len(ds), ds))
		}
	}
	for d, ss := range byDst {
		if len(ss) > 1 {
			slices.Sort(ss)
			set.add(models.SeverityHigh, models.IssueDuplicateMapping, "", d,
				fmt.Sprintf("destination %s is mapped from %d sources: %v", d, len(ss), ss))
		}
	}
}

func (v *Validator) checkAttributes(set *issueSet, m models.PersonMapping, sp, dp *models.PersonRecord) {
	if sp.Gender != models.GenderUnknown && dp.Gender != models.GenderUnknown && sp.Gender != dp.Gender {
		set.add(models.SeverityHigh, models.IssueGenderMismatch, m.SourceID, m.DestinationID,
			fmt.Sprintf("gender %s vs %s", sp.Gender, dp.Gender))
	}
	v.checkYear(set, m, models.IssueBirthYearMismatch, "birth", sp.BirthYear(), dp.BirthYear())
	v.checkYear(set, m, models.IssueDeathYearMismatch, "death", sp.DeathYear(), dp.DeathYear())
}

func (v *Validator) checkYear(set *issueSet, m models.PersonMapping, typ models.IssueType, what string, a, b int) {
	if a == 0 || b == 0 {
		return
	}
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	if diff <= v.cfg.YearTolerance {
		return
	}
	sev := models.SeverityMedium
	if diff > 2*v.cfg.YearTolerance {
		sev = models.SeverityHigh
	}
	set.add(sev, typ, m.SourceID, m.DestinationID,
		fmt.Sprintf("%s year %d vs %d differs by %d", what, a, b, diff))
}

// checkGenerations flags a mapped person whose relatives land on the wrong
// side of the generation line in the destination tree.
func (v *Validator) checkGenerations(set *issueSet, m models.PersonMapping, srcToDst map[string]string) {
	mappedSet := func(seq func(func(*models.PersonRecord) bool)) map[string]string {
		out := make(map[string]string)
		for r := range seq {
			if d, ok := srcToDst[r.ID]; ok {
				out[d] = r.ID
			}
		}
		return out
	}
	parents := mappedSet(tree.Parents(v.src, m.SourceID))
	children := mappedSet(tree.Children(v.src, m.SourceID))

	for d, s := range parents {
		if c, ok := children[d]; ok {
			set.add(models.SeverityHigh, models.IssueGenerationalInconsistency, m.SourceID, d,
				fmt.Sprintf("destination %s is mapped from both parent %s and child %s of %s", d, s, c, m.SourceID))
		}
	}

	dstChildren := make(map[string]struct{})
	for c := range tree.Children(v.dst, m.DestinationID) {
		dstChildren[c.ID] = struct{}{}
	}
	dstParents := make(map[string]struct{})
	for p := range tree.Parents(v.dst, m.DestinationID) {
		dstParents[p.ID] = struct{}{}
	}
	for _, d := range sortedKeys(parents) {
		if _, ok := dstChildren[d]; ok {
			set.add(models.SeverityHigh, models.IssueGenerationalInconsistency, m.SourceID, m.DestinationID,
				fmt.Sprintf("parent %s of %s is mapped to %s, a child of %s", parents[d], m.SourceID, d, m.DestinationID))
		}
	}
	for _, d := range sortedKeys(children) {
		if _, ok := dstParents[d]; ok {
			set.add(models.SeverityHigh, models.IssueGenerationalInconsistency, m.SourceID, m.DestinationID,
				fmt.Sprintf("child %s of %s is mapped to %s, a parent of %s", children[d], m.SourceID, d, m.DestinationID))
		}
	}
}

func (v *Validator) checkScore(set *issueSet, m models.PersonMapping) {
	if m.FoundVia == models.RelationAnchor || m.MatchScore >= v.cfg.SuspiciousScore {
		return
	}
	sev := models.SeverityLow
	if v.cfg.SuspiciousScore-m.MatchScore > lowScoreBand {
		sev = models.SeverityMedium
	}
	set.add(sev, models.IssueLowMatchScore, m.SourceID, m.DestinationID,
		fmt.Sprintf("accepted with score %d, below %d", m.MatchScore, v.cfg.SuspiciousScore))
}

// checkFamilies verifies that mapped spouses stay spouses and mapped
// parents stay parents of mapped children on the destination side.
func (v *Validator) checkFamilies(set *issueSet, srcToDst map[string]string) {
	for _, fid := range sortedKeys(v.src.FamiliesByID) {
		f := v.src.FamiliesByID[fid]
		dh, hOK := srcToDst[f.HusbandID]
		dw, wOK := srcToDst[f.WifeID]
		if hOK && wOK && !v.spouses(dh, dw) {
			set.add(models.SeverityMedium, models.IssueFamilyInconsistency, f.HusbandID, dh,
				fmt.Sprintf("spouses %s and %s of family %s map to %s and %s, who share no family", f.HusbandID, f.WifeID, fid, dh, dw))
		}
		for _, c := range f.ChildrenIDs {
			dc, ok := srcToDst[c]
			if !ok {
				continue
			}
			for _, parent := range []string{f.HusbandID, f.WifeID} {
				dp, ok := srcToDst[parent]
				if !ok || v.isParent(dp, dc) {
					continue
				}
				set.add(models.SeverityMedium, models.IssueFamilyInconsistency, c, dc,
					fmt.Sprintf("parent %s of %s maps to %s, who is not a parent of %s", parent, c, dp, dc))
			}
		}
	}
}

func (v *Validator) spouses(a, b string) bool {
	for f := range tree.FamiliesAsSpouse(v.dst, a) {
		if f.IsSpouse(b) {
			return true
		}
	}
	return false
}

func (v *Validator) isParent(parent, child string) bool {
	for p := range tree.Parents(v.dst, child) {
		if p.ID == parent {
			return true
		}
	}
	return false
}

func convertAnomalies(set *issueSet, anomalies []models.Anomaly) {
	for _, a := range anomalies {
		switch a.Kind {
		case models.AnomalyMissingSourcePerson, models.AnomalyMissingSourceFamily:
			set.add(models.SeverityMedium, models.IssueInvalidSourceID, a.SourceID, a.DestinationID, a.Message)
		case models.AnomalyMissingDestPerson, models.AnomalyMissingDestFamily:
			set.add(models.SeverityMedium, models.IssueInvalidDestID, a.SourceID, a.DestinationID, a.Message)
		case models.AnomalySlotConflict:
			set.add(models.SeverityMedium, models.IssueFamilyInconsistency, a.SourceID, a.DestinationID, a.Message)
		}
	}
}

func compareIssues(a, b models.ValidationIssue) int {
	return cmp.Or(
		cmp.Compare(b.Severity.Rank(), a.Severity.Rank()),
		cmp.Compare(a.Type, b.Type),
		cmp.Compare(a.SourceID, b.SourceID),
		cmp.Compare(a.DestinationID, b.DestinationID),
		cmp.Compare(a.Message, b.Message),
	)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
