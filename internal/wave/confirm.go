package wave

import (
	"context"

	"github.com/starford/treesync/internal/match"
	"github.com/starford/treesync/internal/models"
)

// Decision is a reviewer's answer to a confirmation request.
type Decision string

const (
	DecisionConfirmed Decision = "confirmed"
	DecisionRejected  Decision = "rejected"
	DecisionSkipped   Decision = "skipped"
	// DecisionAborted stops the whole run; the partial result is returned.
	DecisionAborted Decision = "aborted"
)

// Request describes a plausible but uncertain match awaiting review.
type Request struct {
	Person        *models.PersonRecord `json:"person"`
	Candidates    []match.Candidate    `json:"candidates"`
	FoundVia      models.RelationKind  `json:"found_via"`
	FromPersonID  string               `json:"from_person_id,omitempty"`
	FromFamilyID  string               `json:"from_family_id,omitempty"`
	Level         int                  `json:"level"`
	MaxCandidates int                  `json:"max_candidates"`
}

// Response is the reviewer's decision. SelectedID names the chosen
// candidate when Decision is DecisionConfirmed.
type Response struct {
	Decision   Decision `json:"decision"`
	SelectedID string   `json:"selected_id,omitempty"`
}

// Confirmer resolves review requests. The engine calls it synchronously
// and waits for the answer.
type Confirmer interface {
	Confirm(ctx context.Context, req Request) (Response, error)
}

// ConfirmerFunc adapts a function to the Confirmer interface.
type ConfirmerFunc func(ctx context.Context, req Request) (Response, error)

// Confirm calls f(ctx, req).
func (f ConfirmerFunc) Confirm(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// StoredDecision is a remembered human decision for one source person.
type StoredDecision struct {
	Decision      Decision `yaml:"decision" json:"decision"`
	DestinationID string   `yaml:"destination_id,omitempty" json:"destination_id,omitempty"`
}

// Decisions maps source person ids to remembered decisions.
type Decisions map[string]StoredDecision
