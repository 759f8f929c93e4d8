package wave

import (
	"time"

	"github.com/starford/treesync/internal/match"
	"github.com/starford/treesync/internal/models"
)

// Termination tells why a run stopped.
type Termination string

const (
	TerminationCompleted       Termination = "completed"
	TerminationMaxLevelReached Termination = "max_level_reached"
	TerminationCancelled       Termination = "cancelled"
	TerminationUserAborted     Termination = "user_aborted"
)

// UnmatchedReason tells why a person ended up without a mapping.
type UnmatchedReason string

const (
	ReasonNotReached   UnmatchedReason = "not_reached"
	ReasonRejected     UnmatchedReason = "rejected"
	ReasonSkipped      UnmatchedReason = "skipped"
	ReasonNoMatch      UnmatchedReason = "no_match"
	ReasonNoCandidates UnmatchedReason = "no_candidates"
)

// AnchorInfo identifies the human-confirmed starting pair.
type AnchorInfo struct {
	SourceID         string `json:"source_id"`
	DestinationID    string `json:"destination_id"`
	SourceLabel      string `json:"source_label,omitempty"`
	DestinationLabel string `json:"destination_label,omitempty"`
}

// LevelStats describes the expansion of every person at Level.
type LevelStats struct {
	Level            int           `json:"level"`
	PersonsProcessed int           `json:"persons_processed"`
	NewMappings      int           `json:"new_mappings"`
	FamiliesExamined int           `json:"families_examined"`
	Prompts          int           `json:"prompts"`
	Duration         time.Duration `json:"duration_ns"`
}

// Statistics aggregates a whole run.
type Statistics struct {
	TotalSource          int           `json:"total_source"`
	TotalDestination     int           `json:"total_destination"`
	Mapped               int           `json:"mapped"`
	UnmatchedSource      int           `json:"unmatched_source"`
	UnmatchedDestination int           `json:"unmatched_destination"`
	Levels               int           `json:"levels"`
	Prompts              int           `json:"prompts"`
	Anomalies            int           `json:"anomalies"`
	Duration             time.Duration `json:"duration_ns"`
}

// UnmatchedPerson is a person left without a counterpart, annotated with
// the closest point where propagation came near it.
type UnmatchedPerson struct {
	ID              string          `json:"id"`
	Label           string          `json:"label"`
	Reason          UnmatchedReason `json:"reason"`
	NearestPersonID string          `json:"nearest_person_id,omitempty"`
	NearestLevel    int             `json:"nearest_level"`
}

// TraceEntry records one matching decision for audit.
type TraceEntry struct {
	Level          int                   `json:"level"`
	Step           string                `json:"step"`
	Relation       models.RelationKind   `json:"relation,omitempty"`
	SourceID       string                `json:"source_id,omitempty"`
	SourceFamilyID string                `json:"source_family_id,omitempty"`
	DestinationID  string                `json:"destination_id,omitempty"`
	Score          int                   `json:"score,omitempty"`
	Threshold      int                   `json:"threshold,omitempty"`
	Outcome        string                `json:"outcome"`
	Family         *match.FamilyMatch    `json:"family,omitempty"`
	Children       []match.ChildDecision `json:"children,omitempty"`
	Candidates     []match.Candidate     `json:"candidates,omitempty"`
}

// Trace steps.
const (
	StepFamily   = "family"
	StepPerson   = "person"
	StepChildren = "children"
	StepConfirm  = "confirm"
)

// WaveCompareResult is everything a run produced. Validation issues are
// filled in by the validator after the run.
type WaveCompareResult struct {
	SourceFile      string     `json:"source_file,omitempty"`
	DestinationFile string     `json:"destination_file,omitempty"`
	Anchor          AnchorInfo `json:"anchor"`
	Options         Options    `json:"options"`

	Mappings             []models.PersonMapping   `json:"mappings"`
	UnmatchedSource      []UnmatchedPerson        `json:"unmatched_source"`
	UnmatchedDestination []UnmatchedPerson        `json:"unmatched_destination"`
	ValidationIssues     []models.ValidationIssue `json:"validation_issues"`
	Anomalies            []models.Anomaly         `json:"anomalies"`

	Levels      []LevelStats `json:"levels"`
	Statistics  Statistics   `json:"statistics"`
	Termination Termination  `json:"termination"`

	// Decisions holds the human decisions made during this run, for the
	// caller to persist.
	Decisions Decisions    `json:"decisions,omitempty"`
	Trace     []TraceEntry `json:"trace,omitempty"`

	// Checkpoint is set when the run stopped before the queue was drained.
	Checkpoint *State `json:"checkpoint,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// MappingFor returns the mapping for a source id.
func (r *WaveCompareResult) MappingFor(sourceID string) (models.PersonMapping, bool) {
	for _, m := range r.Mappings {
		if m.SourceID == sourceID {
			return m, true
		}
	}
	return models.PersonMapping{}, false
}

// Partial reports whether the run stopped early.
func (r *WaveCompareResult) Partial() bool {
	return r.Termination == TerminationCancelled || r.Termination == TerminationUserAborted
}
