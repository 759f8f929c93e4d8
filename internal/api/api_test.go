package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/treesync/internal/runservice"
	"github.com/starford/treesync/internal/store"
	"github.com/starford/treesync/internal/testutil"
	"github.com/starford/treesync/internal/wave"
)

type testEnv struct {
	svc    *runservice.Service
	db     *store.DB
	router http.Handler
	srcDir string
}

// newTestEnv sets up a temp SQLite DB, output dir, run service and router
// with a small pair of trees on disk. An empty token disables auth.
func newTestEnv(t *testing.T, token string) *testEnv {
	t.Helper()
	return newTestEnvWithSSE(t, token, nil)
}

func newTestEnvWithSSE(t *testing.T, token string, sseHandler http.Handler) *testEnv {
	t.Helper()
	db := testutil.TestDB(t)
	_, out := testutil.TestOutput(t)

	src, dst := testutil.ThreeGenerations()
	dir := t.TempDir()
	testutil.WriteSnapshot(t, dir, "source.json", src)
	testutil.WriteSnapshot(t, dir, "destination.json", dst)

	svc := runservice.New(db, out, runservice.DefaultSettings(),
		runservice.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	return &testEnv{
		svc:    svc,
		db:     db,
		router: NewRouter(svc, db, token != "", token, sseHandler),
		srcDir: dir,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) compareRequest() CompareRunRequest {
	return CompareRunRequest{
		SourceFile:        filepath.Join(e.srcDir, "source.json"),
		DestinationFile:   filepath.Join(e.srcDir, "destination.json"),
		SourceAnchor:      "@I1",
		DestinationAnchor: "@DI1",
	}
}

// startRun starts a run over HTTP and waits for it to finish.
func (e *testEnv) startRun(t *testing.T) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/runs", e.compareRequest(), "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("start status = %d, body = %s", w.Code, w.Body.String())
	}
	var run Run
	if err := json.NewDecoder(w.Body).Decode(&run); err != nil {
		t.Fatal(err)
	}
	e.svc.Wait()
	return run.ID
}

func TestStartAndGetRun(t *testing.T) {
	e := newTestEnv(t, "")
	id := e.startRun(t)

	w := e.do(t, http.MethodGet, "/runs/"+id, nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var run Run
	json.NewDecoder(w.Body).Decode(&run)
	if run.Status != store.StatusCompleted {
		t.Errorf("status = %q, error = %q", run.Status, run.Error)
	}
	if run.Termination != wave.TerminationCompleted {
		t.Errorf("termination = %q", run.Termination)
	}

	w = e.do(t, http.MethodGet, "/runs", nil, "")
	var list RunListResponse
	json.NewDecoder(w.Body).Decode(&list)
	if list.Total != 1 || len(list.Runs) != 1 || list.Runs[0].ID != id {
		t.Errorf("list = %+v", list)
	}
}

func TestStartRun_BadRequest(t *testing.T) {
	e := newTestEnv(t, "")

	req := httptest.NewRequest(http.MethodPost, "/runs", bytes.NewReader([]byte("{not json")))
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad JSON = %d, want 400", w.Code)
	}

	body := e.compareRequest()
	body.SourceAnchor = ""
	if w := e.do(t, http.MethodPost, "/runs", body, ""); w.Code != http.StatusBadRequest {
		t.Errorf("no anchor = %d, want 400", w.Code)
	}

	body = e.compareRequest()
	body.SourceFile = filepath.Join(e.srcDir, "missing.json")
	if w := e.do(t, http.MethodPost, "/runs", body, ""); w.Code != http.StatusBadRequest {
		t.Errorf("missing file = %d, want 400", w.Code)
	}
}

func TestMappingsAndLookup(t *testing.T) {
	e := newTestEnv(t, "")
	id := e.startRun(t)

	w := e.do(t, http.MethodGet, "/runs/"+id+"/mappings", nil, "")
	var list MappingListResponse
	json.NewDecoder(w.Body).Decode(&list)
	if len(list.Mappings) != 5 {
		t.Fatalf("mappings = %d, want 5", len(list.Mappings))
	}
	if list.Mappings[0].SourceID != "@I1" || list.Mappings[0].DestinationID != "@DI1" {
		t.Errorf("first mapping = %+v, want the anchor", list.Mappings[0])
	}

	// GEDCOM ids carry "@", which clients escape.
	w = e.do(t, http.MethodGet, "/runs/"+id+"/mappings/%40I3", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("lookup status = %d", w.Code)
	}
	var m struct {
		DestinationID string `json:"destination_id"`
	}
	json.NewDecoder(w.Body).Decode(&m)
	if m.DestinationID != "@DI3" {
		t.Errorf("@I3 -> %q, want @DI3", m.DestinationID)
	}

	if w := e.do(t, http.MethodGet, "/runs/"+id+"/mappings/%40I6", nil, ""); w.Code != http.StatusNotFound {
		t.Errorf("unmapped person = %d, want 404", w.Code)
	}
}

func TestUnmatchedAndIssues(t *testing.T) {
	e := newTestEnv(t, "")
	id := e.startRun(t)

	w := e.do(t, http.MethodGet, "/runs/"+id+"/unmatched?side=source", nil, "")
	var un UnmatchedListResponse
	json.NewDecoder(w.Body).Decode(&un)
	if len(un.Unmatched) != 1 || un.Unmatched[0].ID != "@I6" {
		t.Errorf("unmatched source = %+v", un.Unmatched)
	}

	if w := e.do(t, http.MethodGet, "/runs/"+id+"/unmatched?side=left", nil, ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad side = %d, want 400", w.Code)
	}
	if w := e.do(t, http.MethodGet, "/runs/"+id+"/issues?min_severity=urgent", nil, ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad severity = %d, want 400", w.Code)
	}

	w = e.do(t, http.MethodGet, "/runs/"+id+"/issues?min_severity=high", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("issues status = %d", w.Code)
	}
	var issues IssueListResponse
	json.NewDecoder(w.Body).Decode(&issues)
	if issues.Issues == nil {
		t.Error("issues must encode as an empty list, not null")
	}

	w = e.do(t, http.MethodPost, "/runs/"+id+"/revalidate", nil, "")
	if w.Code != http.StatusOK {
		t.Errorf("revalidate status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestGetReport(t *testing.T) {
	e := newTestEnv(t, "")
	id := e.startRun(t)

	w := e.do(t, http.MethodGet, "/runs/"+id+"/report", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("report status = %d", w.Code)
	}
	var rep struct {
		Individuals struct {
			NodesToAdd []struct {
				SourceID string `json:"source_id"`
			} `json:"nodes_to_add"`
		} `json:"individuals"`
	}
	json.NewDecoder(w.Body).Decode(&rep)
	if len(rep.Individuals.NodesToAdd) != 1 || rep.Individuals.NodesToAdd[0].SourceID != "@I6" {
		t.Errorf("nodes to add = %+v", rep.Individuals.NodesToAdd)
	}
}

func TestRun_NotFound(t *testing.T) {
	e := newTestEnv(t, "")

	for _, p := range []string{"/runs/nope", "/runs/nope/mappings", "/runs/nope/unmatched", "/runs/nope/issues", "/runs/nope/report"} {
		if w := e.do(t, http.MethodGet, p, nil, ""); w.Code != http.StatusNotFound {
			t.Errorf("GET %s = %d, want 404", p, w.Code)
		}
	}
	if w := e.do(t, http.MethodPost, "/runs/nope/revalidate", nil, ""); w.Code != http.StatusNotFound {
		t.Errorf("revalidate missing = %d, want 404", w.Code)
	}
}

func TestDecisions(t *testing.T) {
	e := newTestEnv(t, "")

	w := e.do(t, http.MethodPut, "/decisions/%40I3", wave.StoredDecision{Decision: wave.DecisionRejected}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("put status = %d, body = %s", w.Code, w.Body.String())
	}
	w = e.do(t, http.MethodPut, "/decisions/%40I4", wave.StoredDecision{Decision: wave.DecisionConfirmed}, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("confirm without destination = %d, want 400", w.Code)
	}
	w = e.do(t, http.MethodPut, "/decisions/%40I4", wave.StoredDecision{Decision: wave.DecisionSkipped}, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("skipped = %d, want 400", w.Code)
	}

	w = e.do(t, http.MethodGet, "/decisions", nil, "")
	var got DecisionsResponse
	json.NewDecoder(w.Body).Decode(&got)
	if len(got.Decisions) != 1 || got.Decisions["@I3"].Decision != wave.DecisionRejected {
		t.Errorf("decisions = %+v", got.Decisions)
	}

	// The next run honours the rejection.
	id := e.startRun(t)
	if w := e.do(t, http.MethodGet, "/runs/"+id+"/mappings/%40I3", nil, ""); w.Code != http.StatusNotFound {
		t.Errorf("rejected person lookup = %d, want 404", w.Code)
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	e := newTestEnv(t, "secret123")

	if w := e.do(t, http.MethodGet, "/runs", nil, "secret123"); w.Code != http.StatusOK {
		t.Errorf("authed list = %d, want 200", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	e := newTestEnv(t, "secret123")

	if w := e.do(t, http.MethodGet, "/runs", nil, ""); w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	e := newTestEnv(t, "secret123")

	if w := e.do(t, http.MethodGet, "/runs", nil, "wrong"); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	e := newTestEnv(t, "")

	if w := e.do(t, http.MethodGet, "/runs", nil, ""); w.Code != http.StatusOK {
		t.Errorf("no auth = %d, want 200", w.Code)
	}
}

// SSE endpoint auth tests.

// blockingSSE writes headers and blocks until the request is done.
var blockingSSE = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	<-r.Context().Done()
})

func TestSSEEvents_AuthProtected(t *testing.T) {
	e := newTestEnvWithSSE(t, "secret", blockingSSE)

	if w := e.do(t, http.MethodGet, "/events", nil, ""); w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
}

func TestSSEEvents_ValidToken(t *testing.T) {
	e := newTestEnvWithSSE(t, "tok", blockingSSE)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("SSE with valid token = %d, want 200", w.Code)
	}
}

func TestSSEEvents_QueryToken(t *testing.T) {
	e := newTestEnvWithSSE(t, "tok", blockingSSE)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events?access_token=tok", nil).WithContext(ctx)
	req.Header.Set("Accept", "text/event-stream")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("SSE with query token = %d, want 200", w.Code)
	}

	// The query parameter is not accepted outside event streams.
	if w := e.do(t, http.MethodGet, "/runs?access_token=tok", nil, ""); w.Code != http.StatusUnauthorized {
		t.Errorf("query token on /runs = %d, want 401", w.Code)
	}
}
