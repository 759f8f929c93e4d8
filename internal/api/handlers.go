package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/starford/treesync/internal/models"
	"github.com/starford/treesync/internal/runservice"
	"github.com/starford/treesync/internal/store"
	"github.com/starford/treesync/internal/wave"
)

// Runner starts and revalidates runs. *runservice.Service satisfies it.
type Runner interface {
	Start(ctx context.Context, req runservice.CompareRequest) (*store.Run, error)
	Revalidate(ctx context.Context, runID string) ([]models.ValidationIssue, error)
}

// Handler holds API route handlers.
type Handler struct {
	runner Runner
	db     store.RunStore
	now    func() time.Time
}

// NewHandler creates a new Handler.
func NewHandler(runner Runner, db store.RunStore) *Handler {
	return &Handler{runner: runner, db: db, now: time.Now}
}

// urlParam returns a path parameter, decoding escaped characters such as
// the "@" of GEDCOM ids.
func urlParam(r *http.Request, key string) string {
	raw := chi.URLParam(r, key)
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// run loads the run named in the path, writing the error response when it
// cannot.
func (h *Handler) run(w http.ResponseWriter, r *http.Request) (*store.Run, bool) {
	run, err := h.db.GetRun(urlParam(r, "runID"))
	if err != nil {
		writeError(w, "get run", err)
		return nil, false
	}
	return run, true
}

// ListRuns handles GET /api/runs.
//
//	@Summary		List runs, newest first
//	@Tags			runs
//	@Produce		json
//	@Param			limit	query		int	false	"Page size"
//	@Param			offset	query		int	false	"Page offset"
//	@Success		200		{object}	RunListResponse
//	@Security		BearerAuth
//	@Router			/runs [get]
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	runs, total, err := h.db.ListRuns(limit, offset)
	if err != nil {
		writeError(w, "list runs", err)
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	writeJSON(w, http.StatusOK, RunListResponse{Runs: runs, Total: total})
}

// StartRun handles POST /api/runs. The run is non-interactive and executes
// in the background; progress is published on /events.
//
//	@Summary		Start a comparison run
//	@Tags			runs
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CompareRunRequest	true	"Run to start"
//	@Success		202		{object}	Run
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/runs [post]
func (h *Handler) StartRun(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req CompareRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.SourceFile == "" || req.DestinationFile == "" || req.SourceAnchor == "" || req.DestinationAnchor == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("source_file, destination_file, source_anchor and destination_anchor are required"))
		return
	}
	run, err := h.runner.Start(r.Context(), runservice.CompareRequest{
		SourceFile:        req.SourceFile,
		DestinationFile:   req.DestinationFile,
		SourceAnchor:      req.SourceAnchor,
		DestinationAnchor: req.DestinationAnchor,
		Options:           req.Options,
	})
	if err != nil {
		writeError(w, "start run", err)
		return
	}
	writeJSON(w, http.StatusAccepted, run)
}

// GetRun handles GET /api/runs/{runID}.
//
//	@Summary		Get a run
//	@Tags			runs
//	@Produce		json
//	@Param			runID	path		string	true	"Run id"
//	@Success		200		{object}	Run
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/runs/{runID} [get]
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := h.run(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// ListMappings handles GET /api/runs/{runID}/mappings.
//
//	@Summary		List the mappings of a run in creation order
//	@Tags			runs
//	@Produce		json
//	@Param			runID	path		string	true	"Run id"
//	@Success		200		{object}	MappingListResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/runs/{runID}/mappings [get]
func (h *Handler) ListMappings(w http.ResponseWriter, r *http.Request) {
	run, ok := h.run(w, r)
	if !ok {
		return
	}
	ms, err := h.db.Mappings(run.ID)
	if err != nil {
		writeError(w, "list mappings", err)
		return
	}
	if ms == nil {
		ms = []models.PersonMapping{}
	}
	writeJSON(w, http.StatusOK, MappingListResponse{Mappings: ms})
}

// GetMapping handles GET /api/runs/{runID}/mappings/{sourceID}.
//
//	@Summary		Get the mapping of one source person
//	@Tags			runs
//	@Produce		json
//	@Param			runID		path		string	true	"Run id"
//	@Param			sourceID	path		string	true	"Source person id (URL-encoded)"
//	@Success		200			{object}	models.PersonMapping
//	@Failure		404			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/runs/{runID}/mappings/{sourceID} [get]
func (h *Handler) GetMapping(w http.ResponseWriter, r *http.Request) {
	run, ok := h.run(w, r)
	if !ok {
		return
	}
	m, err := h.db.LookupMapping(run.ID, urlParam(r, "sourceID"))
	if err != nil {
		writeError(w, "lookup mapping", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// ListUnmatched handles GET /api/runs/{runID}/unmatched.
//
//	@Summary		List persons left without a counterpart
//	@Tags			runs
//	@Produce		json
//	@Param			runID	path		string	true	"Run id"
//	@Param			side	query		string	false	"Tree side"	Enums(source, destination)
//	@Success		200		{object}	UnmatchedListResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/runs/{runID}/unmatched [get]
func (h *Handler) ListUnmatched(w http.ResponseWriter, r *http.Request) {
	side := r.URL.Query().Get("side")
	if side != "" && side != store.SideSource && side != store.SideDestination {
		writeJSON(w, http.StatusBadRequest, errorBody("side must be source or destination"))
		return
	}
	run, ok := h.run(w, r)
	if !ok {
		return
	}
	us, err := h.db.Unmatched(run.ID, side)
	if err != nil {
		writeError(w, "list unmatched", err)
		return
	}
	if us == nil {
		us = []wave.UnmatchedPerson{}
	}
	writeJSON(w, http.StatusOK, UnmatchedListResponse{Unmatched: us})
}

// ListIssues handles GET /api/runs/{runID}/issues.
//
//	@Summary		List validation issues of a run
//	@Tags			runs
//	@Produce		json
//	@Param			runID			path		string	true	"Run id"
//	@Param			min_severity	query		string	false	"Minimum severity"	Enums(low, medium, high)
//	@Success		200				{object}	IssueListResponse
//	@Failure		400				{object}	errResponse
//	@Failure		404				{object}	errResponse
//	@Security		BearerAuth
//	@Router			/runs/{runID}/issues [get]
func (h *Handler) ListIssues(w http.ResponseWriter, r *http.Request) {
	sev := models.Severity(r.URL.Query().Get("min_severity"))
	if sev != "" && sev.Rank() == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("min_severity must be low, medium or high"))
		return
	}
	run, ok := h.run(w, r)
	if !ok {
		return
	}
	issues, err := h.db.Issues(run.ID, sev)
	if err != nil {
		writeError(w, "list issues", err)
		return
	}
	writeJSON(w, http.StatusOK, IssueListResponse{Issues: nonNilIssues(issues)})
}

// Revalidate handles POST /api/runs/{runID}/revalidate.
//
//	@Summary		Re-run the validator against the current input files
//	@Tags			runs
//	@Produce		json
//	@Param			runID	path		string	true	"Run id"
//	@Success		200		{object}	IssueListResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/runs/{runID}/revalidate [post]
func (h *Handler) Revalidate(w http.ResponseWriter, r *http.Request) {
	issues, err := h.runner.Revalidate(r.Context(), urlParam(r, "runID"))
	if err != nil {
		writeError(w, "revalidate", err)
		return
	}
	writeJSON(w, http.StatusOK, IssueListResponse{Issues: nonNilIssues(issues)})
}

// GetReport handles GET /api/runs/{runID}/report.
//
//	@Summary		Get the high-confidence report of a run
//	@Tags			runs
//	@Produce		json
//	@Param			runID	path		string	true	"Run id"
//	@Success		200		{object}	report.WaveHighConfidenceReport
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/runs/{runID}/report [get]
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	rep, err := h.db.Report(urlParam(r, "runID"))
	if err != nil {
		writeError(w, "get report", err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// ListDecisions handles GET /api/decisions.
//
//	@Summary		List remembered reviewer decisions
//	@Tags			decisions
//	@Produce		json
//	@Success		200	{object}	DecisionsResponse
//	@Security		BearerAuth
//	@Router			/decisions [get]
func (h *Handler) ListDecisions(w http.ResponseWriter, r *http.Request) {
	d, err := h.db.LoadDecisions()
	if err != nil {
		writeError(w, "list decisions", err)
		return
	}
	writeJSON(w, http.StatusOK, DecisionsResponse{Decisions: d})
}

// PutDecision handles PUT /api/decisions/{sourceID}.
//
//	@Summary		Remember a decision for a source person
//	@Tags			decisions
//	@Accept			json
//	@Produce		json
//	@Param			sourceID	path		string				true	"Source person id (URL-encoded)"
//	@Param			body		body		wave.StoredDecision	true	"Decision"
//	@Success		200			{object}	wave.StoredDecision
//	@Failure		400			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/decisions/{sourceID} [put]
func (h *Handler) PutDecision(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	var d wave.StoredDecision
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	switch d.Decision {
	case wave.DecisionConfirmed:
		if d.DestinationID == "" {
			writeJSON(w, http.StatusBadRequest, errorBody("destination_id is required for a confirmation"))
			return
		}
	case wave.DecisionRejected:
		d.DestinationID = ""
	default:
		writeJSON(w, http.StatusBadRequest, errorBody("decision must be confirmed or rejected"))
		return
	}
	if err := h.db.PutDecision(urlParam(r, "sourceID"), d, h.now()); err != nil {
		writeError(w, "put decision", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func nonNilIssues(issues []models.ValidationIssue) []models.ValidationIssue {
	if issues == nil {
		return []models.ValidationIssue{}
	}
	return issues
}
