package models

import "time"

// RelationKind is the single relation tag shared by the navigator, the wave
// engine and the report builder. It describes how a person relates to the
// person it was reached from.
type RelationKind string

const (
	RelationAnchor  RelationKind = "anchor"
	RelationParent  RelationKind = "parent"
	RelationSpouse  RelationKind = "spouse"
	RelationChild   RelationKind = "child"
	RelationSibling RelationKind = "sibling"
)

// PersonMapping links a source person to a destination person.
type PersonMapping struct {
	SourceID      string       `json:"source_id"`
	DestinationID string       `json:"destination_id"`
	MatchScore    int          `json:"match_score"`
	Level         int          `json:"level"`
	FoundVia      RelationKind `json:"found_via"`
	FromFamilyID  string       `json:"from_family_id,omitempty"`
	FromPersonID  string       `json:"from_person_id,omitempty"`
	Confirmed     bool         `json:"confirmed,omitempty"`
	MappedAt      time.Time    `json:"mapped_at"`
}

// Severity of a validation issue.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Rank orders severities from Low (1) to High (3).
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// IssueType classifies a validation issue.
type IssueType string

const (
	IssueGenderMismatch            IssueType = "gender_mismatch"
	IssueBirthYearMismatch         IssueType = "birth_year_mismatch"
	IssueDeathYearMismatch         IssueType = "death_year_mismatch"
	IssueDuplicateMapping          IssueType = "duplicate_mapping"
	IssueFamilyInconsistency       IssueType = "family_inconsistency"
	IssueGenerationalInconsistency IssueType = "generational_inconsistency"
	IssueLowMatchScore             IssueType = "low_match_score"
	IssueInvalidSourceID           IssueType = "invalid_source_id"
	IssueInvalidDestID             IssueType = "invalid_dest_id"
)

// ValidationIssue is produced by the mapping validator.
type ValidationIssue struct {
	Severity      Severity  `json:"severity"`
	Type          IssueType `json:"type"`
	SourceID      string    `json:"source_id,omitempty"`
	DestinationID string    `json:"destination_id,omitempty"`
	Message       string    `json:"message"`
}

// AnomalyKind classifies what the engine ran into while propagating.
type AnomalyKind string

const (
	AnomalyMissingSourcePerson AnomalyKind = "missing_source_person"
	AnomalyMissingDestPerson   AnomalyKind = "missing_dest_person"
	AnomalyMissingSourceFamily AnomalyKind = "missing_source_family"
	AnomalyMissingDestFamily   AnomalyKind = "missing_dest_family"
	AnomalySlotConflict        AnomalyKind = "slot_conflict"
)

// Anomaly is a structural problem detected during propagation. The engine
// only records anomalies; the validator turns them into issues.
type Anomaly struct {
	Kind          AnomalyKind `json:"kind"`
	Level         int         `json:"level"`
	SourceID      string      `json:"source_id,omitempty"`
	DestinationID string      `json:"destination_id,omitempty"`
	FamilyID      string      `json:"family_id,omitempty"`
	Message       string      `json:"message"`
}
