package api

import (
	"github.com/starford/treesync/internal/models"
	"github.com/starford/treesync/internal/store"
	"github.com/starford/treesync/internal/wave"
)

// CompareRunRequest is the request body for starting a run.
type CompareRunRequest struct {
	SourceFile        string        `json:"source_file" example:"trees/family.ged" validate:"required"`
	DestinationFile   string        `json:"destination_file" example:"trees/remote.json" validate:"required"`
	SourceAnchor      string        `json:"source_anchor" example:"@I1@" validate:"required"`
	DestinationAnchor string        `json:"destination_anchor" example:"P-1001" validate:"required"`
	Options           *wave.Options `json:"options,omitempty"`
}

// Run is a run summary (aliased from the store layer).
type Run = store.Run

// RunListResponse wraps paginated run listings.
type RunListResponse struct {
	Runs  []Run `json:"runs" validate:"required"`
	Total int   `json:"total" example:"42" validate:"required"`
}

// MappingListResponse wraps the mappings of a run.
type MappingListResponse struct {
	Mappings []models.PersonMapping `json:"mappings" validate:"required"`
}

// UnmatchedListResponse wraps the unmatched persons of a run.
type UnmatchedListResponse struct {
	Unmatched []wave.UnmatchedPerson `json:"unmatched" validate:"required"`
}

// IssueListResponse wraps validation issues.
type IssueListResponse struct {
	Issues []models.ValidationIssue `json:"issues" validate:"required"`
}

// DecisionsResponse wraps every remembered decision.
type DecisionsResponse struct {
	Decisions wave.Decisions `json:"decisions" validate:"required"`
}
