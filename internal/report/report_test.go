package report

import (
	"reflect"
	"testing"
	"time"

	"github.com/starford/treesync/internal/models"
	"github.com/starford/treesync/internal/tree"
	"github.com/starford/treesync/internal/wave"
)

func fixture() (*tree.Graph, *tree.Graph, *wave.WaveCompareResult) {
	src := tree.Build(
		[]*models.PersonRecord{
			{ID: "S1", FirstName: "Ivan", LastName: "Petrov", Gender: models.GenderMale,
				BirthDate: models.NewDate(1900, 0, 0, "", ""), Occupation: "smith", PhotoURL: "p.jpg"},
			{ID: "S2", FirstName: "Anna", Gender: models.GenderFemale},
			{ID: "S3", FirstName: "Oleg", Gender: models.GenderMale},
			{ID: "S4", FirstName: "Vera", Gender: models.GenderFemale},
			{ID: "S5", FirstName: "Pavel"},
			{ID: "S6", FirstName: "Nina"},
			{ID: "S8", FirstName: "Lev", PhotoURL: "lev.jpg"},
			{ID: "SC", FirstName: "Olga"},
		},
		[]*models.FamilyRecord{
			{ID: "F1", HusbandID: "S1", WifeID: "S2", ChildrenIDs: []string{"S3", "SC"}},
			{ID: "F2", HusbandID: "S3", WifeID: "S4", ChildrenIDs: []string{"S5"}},
			{ID: "F3", WifeID: "S4", ChildrenIDs: []string{"S6"}},
		},
	)
	dst := tree.Build(
		[]*models.PersonRecord{
			{ID: "D1", FirstName: "Ivan", LastName: "Petrov", Gender: models.GenderMale, PhotoURL: "p.jpg"},
			{ID: "D2", FirstName: "Anna", Gender: models.GenderFemale},
			{ID: "D3", FirstName: "Oleg"},
			{ID: "D8", FirstName: "Lev", PhotoURL: "lev.jpg"},
		},
		[]*models.FamilyRecord{
			{ID: "DF", HusbandID: "D1", WifeID: "D2", ChildrenIDs: []string{"D3"}},
		},
	)
	res := &wave.WaveCompareResult{
		Anchor:      wave.AnchorInfo{SourceID: "S1", DestinationID: "D1"},
		Termination: wave.TerminationCompleted,
		Mappings: []models.PersonMapping{
			{SourceID: "S1", DestinationID: "D1", MatchScore: 100, FoundVia: models.RelationAnchor},
			{SourceID: "S2", DestinationID: "D2", MatchScore: 60, Level: 1, FoundVia: models.RelationSpouse},
			{SourceID: "S3", DestinationID: "D3", MatchScore: 95, Level: 1, FoundVia: models.RelationChild},
			{SourceID: "S8", DestinationID: "D8", MatchScore: 85, Level: 2, FoundVia: models.RelationSibling},
		},
		UnmatchedSource: []wave.UnmatchedPerson{
			{ID: "SC", Reason: wave.ReasonRejected},
		},
		ValidationIssues: []models.ValidationIssue{
			{Severity: models.SeverityHigh, Type: models.IssueGenderMismatch, SourceID: "S3", DestinationID: "D3"},
			{Severity: models.SeverityMedium, Type: models.IssueLowMatchScore, SourceID: "S1", DestinationID: "D1"},
		},
	}
	return src, dst, res
}

func TestBuild_NodesToUpdate(t *testing.T) {
	src, dst, res := fixture()
	fixed := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	rep := NewBuilder(src, dst, DefaultConfig()).WithClock(func() time.Time { return fixed }).Build(res)

	if !rep.GeneratedAt.Equal(fixed) {
		t.Errorf("GeneratedAt = %v", rep.GeneratedAt)
	}
	upd := rep.Individuals.NodesToUpdate
	if len(upd) != 1 || upd[0].SourceID != "S1" {
		t.Fatalf("NodesToUpdate = %+v", upd)
	}
	want := []FieldDiff{
		{Field: "birth_date", Action: ActionAdd, SourceValue: "1900"},
		{Field: "occupation", Action: ActionAdd, SourceValue: "smith"},
		{Field: "photo", Action: ActionPhotoMatch, SourceValue: "p.jpg", DestinationValue: "p.jpg"},
	}
	if !reflect.DeepEqual(upd[0].Diffs, want) {
		t.Errorf("diffs = %+v, want %+v", upd[0].Diffs, want)
	}

	s := rep.Summary
	if s.Mapped != 4 || s.SkippedLowScore != 1 || s.SkippedHighIssue != 1 || s.NothingToUpdate != 1 || s.Updates != 1 {
		t.Errorf("summary = %+v", s)
	}
}

func TestBuild_NodesToAdd(t *testing.T) {
	src, dst, res := fixture()
	rep := NewBuilder(src, dst, DefaultConfig()).Build(res)

	add := rep.Individuals.NodesToAdd
	var ids []string
	for _, n := range add {
		ids = append(ids, n.SourceID)
	}
	if !reflect.DeepEqual(ids, []string{"S4", "S5", "SC"}) {
		t.Fatalf("NodesToAdd ids = %v", ids)
	}

	s4 := add[0]
	if s4.PrimaryRelation.Relation != relSpouse || s4.PrimaryRelation.SourceID != "S3" || s4.PrimaryRelation.DestinationID != "D3" {
		t.Errorf("S4 relation = %+v", s4.PrimaryRelation)
	}
	if s5 := add[1]; s5.PrimaryRelation.Relation != relChild || len(s5.AdditionalRelations) != 0 {
		t.Errorf("S5 = %+v", s5)
	}

	sc := add[2]
	if sc.Reason != wave.ReasonRejected {
		t.Errorf("SC reason = %q", sc.Reason)
	}
	wantPrimary := RelationRef{Relation: relChild, SourceID: "S1", DestinationID: "D1", SourceFamilyID: "F1", DestinationFamilyID: "DF"}
	if sc.PrimaryRelation != wantPrimary {
		t.Errorf("SC primary = %+v", sc.PrimaryRelation)
	}
	wantExtra := []RelationRef{{Relation: relChild, SourceID: "S2", DestinationID: "D2", SourceFamilyID: "F1", DestinationFamilyID: "DF"}}
	if !reflect.DeepEqual(sc.AdditionalRelations, wantExtra) {
		t.Errorf("SC additional = %+v", sc.AdditionalRelations)
	}
}

func TestBuild_SkippedPersonsAreNotProposed(t *testing.T) {
	src, dst, res := fixture()
	res.UnmatchedSource[0].Reason = wave.ReasonSkipped
	rep := NewBuilder(src, dst, DefaultConfig()).Build(res)

	for _, n := range rep.Individuals.NodesToAdd {
		if n.SourceID == "SC" {
			t.Errorf("deferred person proposed for addition: %+v", n)
		}
	}
	if rep.Summary.DeferredAdditions != 1 || rep.Summary.Additions != 2 {
		t.Errorf("summary = %+v", rep.Summary)
	}
}

func TestBuild_DepthTwo(t *testing.T) {
	src, dst, res := fixture()
	cfg := DefaultConfig()
	cfg.NewNodeDepth = 2
	rep := NewBuilder(src, dst, cfg).Build(res)

	var s6 *NodeToAdd
	for i, n := range rep.Individuals.NodesToAdd {
		if n.SourceID == "S6" {
			s6 = &rep.Individuals.NodesToAdd[i]
		}
	}
	if s6 == nil {
		t.Fatalf("S6 missing from %+v", rep.Individuals.NodesToAdd)
	}
	if s6.Depth != 2 || s6.PrimaryRelation.SourceID != "S4" || s6.PrimaryRelation.DestinationID != "" {
		t.Errorf("S6 = %+v", s6)
	}

	cfg.NewNodeDepth = 0
	if got := NewBuilder(src, dst, cfg).Build(res).Individuals.NodesToAdd; len(got) != 0 {
		t.Errorf("depth 0 still proposes additions: %+v", got)
	}
}

func TestBuild_Deterministic(t *testing.T) {
	src, dst, res := fixture()
	clock := func() time.Time { return time.Unix(0, 0) }
	a := NewBuilder(src, dst, DefaultConfig()).WithClock(clock).Build(res)
	b := NewBuilder(src, dst, DefaultConfig()).WithClock(clock).Build(res)
	if !reflect.DeepEqual(a, b) {
		t.Error("two builds over the same result differ")
	}
}

func TestDiff(t *testing.T) {
	tests := []struct {
		name string
		src  *models.PersonRecord
		dst  *models.PersonRecord
		want []FieldDiff
	}{
		{
			name: "empty source adds nothing",
			src:  &models.PersonRecord{},
			dst:  &models.PersonRecord{FirstName: "X", PhotoURL: "x.jpg"},
		},
		{
			name: "case-insensitive names",
			src:  &models.PersonRecord{FirstName: "IVAN"},
			dst:  &models.PersonRecord{FirstName: "ivan"},
		},
		{
			name: "update name and photo",
			src:  &models.PersonRecord{LastName: "Petrova", PhotoURL: "a.jpg"},
			dst:  &models.PersonRecord{LastName: "Petrov", PhotoURL: "b.jpg"},
			want: []FieldDiff{
				{Field: "last_name", Action: ActionUpdate, SourceValue: "Petrova", DestinationValue: "Petrov"},
				{Field: "photo", Action: ActionUpdatePhoto, SourceValue: "a.jpg", DestinationValue: "b.jpg"},
			},
		},
		{
			name: "less precise source date is kept",
			src:  &models.PersonRecord{BirthDate: models.NewDate(1900, 0, 0, models.DateAbout, "ABT 1900")},
			dst:  &models.PersonRecord{BirthDate: models.NewDate(1900, 5, 1, "", "")},
		},
		{
			name: "more precise source date updates",
			src:  &models.PersonRecord{DeathDate: models.NewDate(1950, 5, 1, "", "")},
			dst:  &models.PersonRecord{DeathDate: models.NewDate(1950, 0, 0, "", "")},
			want: []FieldDiff{
				{Field: "death_date", Action: ActionUpdate, SourceValue: "1950-05-01", DestinationValue: "1950"},
			},
		},
		{
			name: "gender only added when unknown",
			src:  &models.PersonRecord{Gender: models.GenderFemale},
			dst:  &models.PersonRecord{},
			want: []FieldDiff{{Field: "gender", Action: ActionAdd, SourceValue: "F"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Diff(tt.src, tt.dst)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Diff = %+v, want %+v", got, tt.want)
			}
		})
	}
}
