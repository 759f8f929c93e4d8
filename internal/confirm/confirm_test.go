package confirm

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/starford/treesync/internal/match"
	"github.com/starford/treesync/internal/models"
	"github.com/starford/treesync/internal/wave"
)

func request() wave.Request {
	return wave.Request{
		Person: &models.PersonRecord{ID: "@I7@", FirstName: "Bob"},
		Candidates: []match.Candidate{
			{ID: "D1", Score: 65, Reasons: []match.Reason{{Field: "first_name", Points: 20, Detail: "variant"}}},
			{ID: "D2", Score: 60},
		},
		FoundVia: models.RelationChild,
		Level:    2,
	}
}

func TestTerminal_Answers(t *testing.T) {
	tests := []struct {
		input string
		want  wave.Response
	}{
		{"2\n", wave.Response{Decision: wave.DecisionConfirmed, SelectedID: "D2"}},
		{"n\n", wave.Response{Decision: wave.DecisionRejected}},
		{"\n", wave.Response{Decision: wave.DecisionSkipped}},
		{"q\n", wave.Response{Decision: wave.DecisionAborted}},
		{"7\nmaybe\n1\n", wave.Response{Decision: wave.DecisionConfirmed, SelectedID: "D1"}},
	}
	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.input), func(t *testing.T) {
			var out bytes.Buffer
			term := NewTerminal(strings.NewReader(tt.input), &out)
			got, err := term.Confirm(context.Background(), request())
			if err != nil {
				t.Fatalf("Confirm: %v", err)
			}
			if got != tt.want {
				t.Errorf("Confirm = %+v, want %+v", got, tt.want)
			}
			if !strings.Contains(out.String(), "Bob [@I7@]") || !strings.Contains(out.String(), "score 65") {
				t.Errorf("prompt = %q", out.String())
			}
		})
	}
}

func TestTerminal_EOFAndCancel(t *testing.T) {
	term := NewTerminal(strings.NewReader(""), io.Discard)
	if _, err := term.Confirm(context.Background(), request()); !errors.Is(err, ErrInputClosed) {
		t.Errorf("err = %v, want ErrInputClosed", err)
	}

	pr, pw := io.Pipe()
	defer pw.Close()
	term = NewTerminal(pr, io.Discard)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := term.Confirm(ctx, request()); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestTerminal_CloseReleasesReader(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	term := NewTerminal(pr, io.Discard)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := term.Confirm(ctx, request()); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if err := term.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := term.Confirm(context.Background(), request()); !errors.Is(err, ErrInputClosed) {
		t.Errorf("Confirm after Close: err = %v, want ErrInputClosed", err)
	}

	// The line the reader was blocked on is consumed and the reader exits.
	go func() { _, _ = pw.Write([]byte("1\n")) }()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-term.lines:
			if !ok {
				return
			}
		case <-timeout:
			t.Fatal("reader still running after Close")
		}
	}
}

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

func TestInbox_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	inbox, err := NewInbox(dir, logger)
	if err != nil {
		t.Fatalf("NewInbox: %v", err)
	}

	type result struct {
		resp wave.Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := inbox.Confirm(context.Background(), request())
		done <- result{resp, err}
	}()

	reqPath := filepath.Join(dir, "I7"+requestSuffix)
	eventually(t, 5*time.Second, 20*time.Millisecond, func() bool {
		_, err := os.Stat(reqPath)
		return err == nil
	}, "request file not written")

	data, _ := os.ReadFile(reqPath)
	if !strings.Contains(string(data), `"label": "Bob [@I7@]"`) && !strings.Contains(string(data), `"person": "Bob [@I7@]"`) {
		t.Errorf("request = %s", data)
	}

	respPath := filepath.Join(dir, "I7"+responseSuffix)
	if err := os.WriteFile(respPath, []byte(`{"decision":"confirmed","selected_id":"D1"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case r := <-done:
		if r.err != nil {
			t.Fatalf("Confirm: %v", r.err)
		}
		if r.resp.Decision != wave.DecisionConfirmed || r.resp.SelectedID != "D1" {
			t.Errorf("resp = %+v", r.resp)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("inbox did not pick up the response")
	}
	if _, err := os.Stat(reqPath); !os.IsNotExist(err) {
		t.Error("request file not cleaned up")
	}
	answered, _ := filepath.Glob(filepath.Join(dir, answeredDir, "*-I7.*.json"))
	if len(answered) != 2 {
		t.Errorf("answered = %v, want the request and its response", answered)
	}
}

func TestInbox_IgnoresStaleResponses(t *testing.T) {
	dir := t.TempDir()
	stale := []byte(`{"decision":"confirmed","selected_id":"D2"}`)
	respPath := filepath.Join(dir, "I7"+responseSuffix)

	// Left over from an earlier run.
	if err := os.WriteFile(respPath, stale, 0o644); err != nil {
		t.Fatal(err)
	}
	inbox, err := NewInbox(dir, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewInbox: %v", err)
	}
	if _, err := os.Stat(respPath); !os.IsNotExist(err) {
		t.Error("leftover response still in the inbox")
	}
	if moved, _ := filepath.Glob(filepath.Join(dir, staleDir, "*-I7"+responseSuffix)); len(moved) != 1 {
		t.Errorf("stale = %v", moved)
	}

	// Written before the question was asked.
	if err := os.WriteFile(respPath, stale, 0o644); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	resp, err := inbox.Confirm(ctx, request())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Confirm = %+v, %v; want to keep waiting for a fresh answer", resp, err)
	}
	if _, err := os.Stat(respPath); !os.IsNotExist(err) {
		t.Error("stale response not dropped")
	}

	pending, err := inbox.Pending()
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 1 || pending[0].Path != "I7"+requestSuffix {
		t.Errorf("pending = %+v", pending)
	}
}

func TestInbox_Cancel(t *testing.T) {
	inbox, err := NewInbox(filepath.Join(t.TempDir(), "inbox"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewInbox: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := inbox.Confirm(ctx, request()); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestDecisionsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "decisions.yaml")

	empty, err := LoadDecisionsFile(path)
	if err != nil || len(empty) != 0 {
		t.Fatalf("missing file: %v %v", empty, err)
	}

	d := wave.Decisions{
		"@I1@": {Decision: wave.DecisionConfirmed, DestinationID: "D1"},
		"@I2@": {Decision: wave.DecisionRejected},
		"@I3@": {Decision: wave.DecisionSkipped},
	}
	if err := SaveDecisionsFile(path, d); err != nil {
		t.Fatalf("SaveDecisionsFile: %v", err)
	}
	got, err := LoadDecisionsFile(path)
	if err != nil {
		t.Fatalf("LoadDecisionsFile: %v", err)
	}
	if len(got) != 2 || got["@I1@"].DestinationID != "D1" || got["@I2@"].Decision != wave.DecisionRejected {
		t.Errorf("decisions = %+v", got)
	}

	if err := os.WriteFile(path, []byte("decisions: [oops"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadDecisionsFile(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestMerge(t *testing.T) {
	base := wave.Decisions{"a": {Decision: wave.DecisionRejected}}
	merged := Merge(base, wave.Decisions{"a": {Decision: wave.DecisionConfirmed, DestinationID: "x"}, "b": {Decision: wave.DecisionRejected}})
	if len(merged) != 2 || merged["a"].Decision != wave.DecisionConfirmed {
		t.Errorf("merged = %+v", merged)
	}
	if base["a"].Decision != wave.DecisionRejected {
		t.Error("Merge modified its input")
	}
}

func TestStatic(t *testing.T) {
	s := &Static{Responses: map[string]wave.Response{"@I7@": {Decision: wave.DecisionRejected}}}
	resp, _ := s.Confirm(context.Background(), request())
	if resp.Decision != wave.DecisionRejected {
		t.Errorf("resp = %+v", resp)
	}
	other := request()
	other.Person = &models.PersonRecord{ID: "@I8@"}
	resp, _ = s.Confirm(context.Background(), other)
	if resp.Decision != wave.DecisionSkipped {
		t.Errorf("default resp = %+v", resp)
	}
	if len(s.Requests()) != 2 {
		t.Errorf("requests = %d", len(s.Requests()))
	}
}

func TestFileKey(t *testing.T) {
	if got := FileKey("@I12@"); got != "I12" {
		t.Errorf("FileKey = %q", got)
	}
	if got := FileKey("a/b c"); got != "a_b_c" {
		t.Errorf("FileKey = %q", got)
	}
}
