package store

import (
	"time"

	"github.com/starford/treesync/internal/models"
	"github.com/starford/treesync/internal/report"
	"github.com/starford/treesync/internal/wave"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Unmatched sides.
const (
	SideSource      = "source"
	SideDestination = "destination"
)

// Run is the summary row of one wave run.
type Run struct {
	ID                  string           `json:"id"`
	Status              string           `json:"status"`
	Termination         wave.Termination `json:"termination,omitempty"`
	SourceFile          string           `json:"source_file"`
	DestinationFile     string           `json:"destination_file"`
	SourceChecksum      string           `json:"source_checksum,omitempty"`
	DestinationChecksum string           `json:"destination_checksum,omitempty"`
	SourceAnchor        string           `json:"source_anchor"`
	DestinationAnchor   string           `json:"destination_anchor"`
	Options             wave.Options     `json:"options"`
	Statistics          wave.Statistics  `json:"statistics"`
	OutputDir           string           `json:"output_dir,omitempty"`
	Error               string           `json:"error,omitempty"`
	StartedAt           time.Time        `json:"started_at"`
	FinishedAt          *time.Time       `json:"finished_at,omitempty"`
}

// RunStore defines the persistence operations for runs and decisions.
// Consumers should depend on this interface rather than the concrete *DB.
type RunStore interface {
	CreateRun(r Run) error
	SaveResult(runID string, res *wave.WaveCompareResult, rep *report.WaveHighConfidenceReport) error
	FailRun(runID string, cause error, at time.Time) error
	GetRun(id string) (*Run, error)
	ListRuns(limit, offset int) ([]Run, int, error)
	Mappings(runID string) ([]models.PersonMapping, error)
	LookupMapping(runID, sourceID string) (*models.PersonMapping, error)
	Unmatched(runID, side string) ([]wave.UnmatchedPerson, error)
	Issues(runID string, minSeverity models.Severity) ([]models.ValidationIssue, error)
	ReplaceIssues(runID string, issues []models.ValidationIssue) error
	Report(runID string) (*report.WaveHighConfidenceReport, error)
	SaveDecisions(runID string, d wave.Decisions, at time.Time) error
	PutDecision(sourceID string, d wave.StoredDecision, at time.Time) error
	LoadDecisions() (wave.Decisions, error)
	Ping() error
	Close() error
}

// Verify *DB satisfies RunStore at compile time.
var _ RunStore = (*DB)(nil)
