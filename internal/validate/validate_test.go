package validate

import (
	"io"
	"log/slog"
	"reflect"
	"slices"
	"testing"

	"github.com/starford/treesync/internal/models"
	"github.com/starford/treesync/internal/tree"
)

func newValidator(src, dst *tree.Graph) *Validator {
	return New(src, dst, DefaultConfig(), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func person(id string, g models.Gender, birth, death int) *models.PersonRecord {
	return &models.PersonRecord{
		ID:        id,
		Gender:    g,
		BirthDate: models.NewDate(birth, 0, 0, "", ""),
		DeathDate: models.NewDate(death, 0, 0, "", ""),
	}
}

func mapping(src, dst string, score, level int, via models.RelationKind) models.PersonMapping {
	return models.PersonMapping{SourceID: src, DestinationID: dst, MatchScore: score, Level: level, FoundVia: via}
}

func find(issues []models.ValidationIssue, typ models.IssueType, src string) []models.ValidationIssue {
	var out []models.ValidationIssue
	for _, i := range issues {
		if i.Type == typ && (src == "" || i.SourceID == src) {
			out = append(out, i)
		}
	}
	return out
}

func TestValidate_GenerationalInconsistency(t *testing.T) {
	// Source: P is the parent of S. Destination: DP is a child of DS.
	src := tree.Build(
		[]*models.PersonRecord{{ID: "P"}, {ID: "S"}},
		[]*models.FamilyRecord{{ID: "FA", HusbandID: "P", ChildrenIDs: []string{"S"}}},
	)
	dst := tree.Build(
		[]*models.PersonRecord{{ID: "DP"}, {ID: "DS"}},
		[]*models.FamilyRecord{{ID: "DFA", HusbandID: "DS", ChildrenIDs: []string{"DP"}}},
	)
	issues := newValidator(src, dst).Validate([]models.PersonMapping{
		mapping("S", "DS", 100, 0, models.RelationAnchor),
		mapping("P", "DP", 90, 1, models.RelationParent),
	}, nil)

	gen := find(issues, models.IssueGenerationalInconsistency, "")
	if len(gen) == 0 {
		t.Fatalf("no generational issue in %+v", issues)
	}
	for _, i := range gen {
		if i.Severity != models.SeverityHigh {
			t.Errorf("severity = %s, want high", i.Severity)
		}
	}
	if issues[0].Severity != models.SeverityHigh {
		t.Errorf("issues not sorted by severity: %+v", issues)
	}
	if len(find(issues, models.IssueFamilyInconsistency, "S")) != 1 {
		t.Errorf("expected a family inconsistency for S: %+v", issues)
	}
}

func TestValidate_SameDestinationAsParentAndChild(t *testing.T) {
	src := tree.Build(
		[]*models.PersonRecord{{ID: "P"}, {ID: "S"}, {ID: "C"}},
		[]*models.FamilyRecord{
			{ID: "FA", HusbandID: "P", ChildrenIDs: []string{"S"}},
			{ID: "FB", HusbandID: "S", ChildrenIDs: []string{"C"}},
		},
	)
	dst := tree.Build([]*models.PersonRecord{{ID: "DS"}, {ID: "DX"}}, nil)
	issues := newValidator(src, dst).Validate([]models.PersonMapping{
		mapping("S", "DS", 100, 0, models.RelationAnchor),
		mapping("P", "DX", 80, 1, models.RelationParent),
		mapping("C", "DX", 80, 1, models.RelationChild),
	}, nil)

	gen := find(issues, models.IssueGenerationalInconsistency, "S")
	if len(gen) != 1 || gen[0].DestinationID != "DX" || gen[0].Severity != models.SeverityHigh {
		t.Errorf("generational issues = %+v", gen)
	}
	dups := find(issues, models.IssueDuplicateMapping, "")
	if len(dups) != 1 || dups[0].DestinationID != "DX" {
		t.Errorf("duplicate issues = %+v", dups)
	}
}

func TestValidate_AttributeChecks(t *testing.T) {
	src := tree.Build([]*models.PersonRecord{
		person("A", models.GenderMale, 1900, 0),
		person("B", models.GenderFemale, 1900, 1970),
		person("C", models.GenderFemale, 1900, 1970),
		person("E", models.GenderUnknown, 1900, 0),
	}, nil)
	dst := tree.Build([]*models.PersonRecord{
		person("DA", models.GenderFemale, 1900, 0),
		person("DB", models.GenderFemale, 1907, 1970),
		person("DC", models.GenderFemale, 1900, 1982),
		person("DE", models.GenderMale, 1904, 0),
	}, nil)
	issues := newValidator(src, dst).Validate([]models.PersonMapping{
		mapping("A", "DA", 90, 1, models.RelationSpouse),
		mapping("B", "DB", 90, 1, models.RelationChild),
		mapping("C", "DC", 90, 1, models.RelationChild),
		mapping("E", "DE", 90, 1, models.RelationChild),
	}, nil)

	if got := find(issues, models.IssueGenderMismatch, "A"); len(got) != 1 || got[0].Severity != models.SeverityHigh {
		t.Errorf("gender issues = %+v", got)
	}
	if got := find(issues, models.IssueBirthYearMismatch, "B"); len(got) != 1 || got[0].Severity != models.SeverityMedium {
		t.Errorf("birth issues = %+v", got)
	}
	if got := find(issues, models.IssueDeathYearMismatch, "C"); len(got) != 1 || got[0].Severity != models.SeverityHigh {
		t.Errorf("death issues = %+v", got)
	}
	for _, i := range issues {
		if i.SourceID == "E" {
			t.Errorf("unexpected issue for E: %+v", i)
		}
	}
}

func TestValidate_LowScores(t *testing.T) {
	src := tree.Build([]*models.PersonRecord{{ID: "A"}, {ID: "B"}, {ID: "C"}}, nil)
	dst := tree.Build([]*models.PersonRecord{{ID: "DA"}, {ID: "DB"}, {ID: "DC"}}, nil)
	issues := newValidator(src, dst).Validate([]models.PersonMapping{
		mapping("A", "DA", 10, 0, models.RelationAnchor),
		mapping("B", "DB", 55, 1, models.RelationSpouse),
		mapping("C", "DC", 40, 1, models.RelationChild),
	}, nil)

	if got := find(issues, models.IssueLowMatchScore, "A"); len(got) != 0 {
		t.Errorf("anchor flagged: %+v", got)
	}
	if got := find(issues, models.IssueLowMatchScore, "B"); len(got) != 1 || got[0].Severity != models.SeverityLow {
		t.Errorf("B issues = %+v", got)
	}
	if got := find(issues, models.IssueLowMatchScore, "C"); len(got) != 1 || got[0].Severity != models.SeverityMedium {
		t.Errorf("C issues = %+v", got)
	}
}

func TestValidate_InvalidIDsAndAnomalies(t *testing.T) {
	src := tree.Build([]*models.PersonRecord{{ID: "A"}}, nil)
	dst := tree.Build([]*models.PersonRecord{{ID: "DA"}}, nil)
	issues := newValidator(src, dst).Validate(
		[]models.PersonMapping{
			mapping("A", "GONE", 90, 1, models.RelationChild),
			mapping("LOST", "DA", 90, 1, models.RelationChild),
		},
		[]models.Anomaly{
			{Kind: models.AnomalyMissingSourcePerson, SourceID: "X", Message: "family F references unknown person X"},
			{Kind: models.AnomalyMissingDestFamily, FamilyID: "DF", Message: "paired destination family DF not found"},
			{Kind: models.AnomalySlotConflict, SourceID: "Y", DestinationID: "DY", Message: "destination DY is already mapped from Z"},
		},
	)
	if got := find(issues, models.IssueInvalidDestID, "A"); len(got) != 1 || got[0].Severity != models.SeverityHigh {
		t.Errorf("invalid dest = %+v", got)
	}
	if got := find(issues, models.IssueInvalidSourceID, "LOST"); len(got) != 1 {
		t.Errorf("invalid source = %+v", got)
	}
	if got := find(issues, models.IssueInvalidSourceID, "X"); len(got) != 1 || got[0].Severity != models.SeverityMedium {
		t.Errorf("anomaly X = %+v", got)
	}
	if got := find(issues, models.IssueInvalidDestID, ""); len(got) != 2 {
		t.Errorf("invalid dest ids = %+v", got)
	}
	if got := find(issues, models.IssueFamilyInconsistency, "Y"); len(got) != 1 {
		t.Errorf("slot conflict = %+v", got)
	}
}

func TestValidate_Idempotent(t *testing.T) {
	src := tree.Build([]*models.PersonRecord{
		person("A", models.GenderMale, 1900, 0),
		person("B", models.GenderMale, 1920, 0),
	}, []*models.FamilyRecord{{ID: "F", HusbandID: "A", ChildrenIDs: []string{"B"}}})
	dst := tree.Build([]*models.PersonRecord{
		person("DA", models.GenderFemale, 1930, 0),
		person("DB", models.GenderMale, 1900, 0),
	}, nil)
	ms := []models.PersonMapping{
		mapping("A", "DA", 100, 0, models.RelationAnchor),
		mapping("B", "DB", 45, 1, models.RelationChild),
		mapping("B", "DA", 45, 1, models.RelationChild),
	}
	v := newValidator(src, dst)
	first := v.Validate(ms, nil)
	second := v.Validate(ms, nil)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("validation not idempotent:\n%+v\n%+v", first, second)
	}
	reversed := slices.Clone(ms)
	slices.Reverse(reversed)
	third := v.Validate(reversed, nil)
	if len(third) != len(first) {
		t.Errorf("input order changed issue count: %d vs %d", len(third), len(first))
	}
	if len(first) == 0 {
		t.Fatal("expected issues")
	}
}

func TestConfigValidate(t *testing.T) {
	c := DefaultConfig()
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	c.SuspiciousScore = 150
	if err := c.Validate(); err == nil {
		t.Error("expected error for score above 100")
	}
}
