package internal

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/starford/treesync/internal/confirm"
	"github.com/starford/treesync/internal/testutil"
	"github.com/starford/treesync/internal/wave"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	dir := t.TempDir()
	cfg := NewDefaultConfig()
	cfg.SQLite.Path = filepath.Join(dir, "treesync.db")
	cfg.Output.Dir = filepath.Join(dir, "runs")
	return cfg
}

func testParams(t *testing.T) CompareParams {
	t.Helper()
	src, dst := testutil.ThreeGenerations()
	dir := t.TempDir()
	return CompareParams{
		SourceFile:        testutil.WriteSnapshot(t, dir, "source.json", src),
		DestinationFile:   testutil.WriteSnapshot(t, dir, "destination.json", dst),
		SourceAnchor:      "@I1",
		DestinationAnchor: "@DI1",
	}
}

func TestRunCompareThenValidate(t *testing.T) {
	cfg := testConfig(t)
	var stdout, stderr bytes.Buffer

	err := RunCompare(context.Background(), testParams(t),
		WithConfig(cfg), WithIO(strings.NewReader(""), &stdout, &stderr))
	if err != nil {
		t.Fatalf("RunCompare: %v\n%s", err, stderr.String())
	}
	out := stdout.String()
	if !strings.Contains(out, "mapped 5 of 6 source persons") {
		t.Errorf("summary = %q", out)
	}
	if !strings.Contains(out, "1 additions") {
		t.Errorf("summary = %q", out)
	}

	// "run <id>: completed"
	first := strings.Fields(strings.SplitN(out, "\n", 2)[0])
	if len(first) != 3 || first[2] != string(wave.TerminationCompleted) {
		t.Fatalf("first line = %v", first)
	}
	runID := strings.TrimSuffix(first[1], ":")

	stdout.Reset()
	if err := RunValidate(context.Background(), runID, WithConfig(cfg), WithIO(nil, &stdout, &stderr)); err != nil {
		t.Fatalf("RunValidate: %v", err)
	}
	if stdout.Len() == 0 {
		t.Error("validate printed nothing")
	}

	if err := RunValidate(context.Background(), "nope", WithConfig(cfg), WithIO(nil, &stdout, &stderr)); err == nil {
		t.Error("expected error for unknown run")
	}
}

func TestRunCompare_TerminalReviewRemembersDecisions(t *testing.T) {
	cfg := testConfig(t)
	cfg.Wave.Interactive = true
	cfg.Wave.Strategy = wave.StrategyFixed
	cfg.Wave.LowConfidenceThreshold = 99
	cfg.Wave.MinConfidenceThreshold = 10
	cfg.Confirm.DecisionsFile = filepath.Join(t.TempDir(), "decisions.yaml")

	answers := strings.NewReader(strings.Repeat("n\n", 20))
	var stdout, stderr bytes.Buffer
	if err := RunCompare(context.Background(), testParams(t),
		WithConfig(cfg), WithIO(answers, &stdout, &stderr)); err != nil {
		t.Fatalf("RunCompare: %v\n%s", err, stderr.String())
	}
	if !strings.Contains(stdout.String(), "choice [1-") {
		t.Error("the reviewer was never prompted")
	}

	d, err := confirm.LoadDecisionsFile(cfg.Confirm.DecisionsFile)
	if err != nil {
		t.Fatalf("LoadDecisionsFile: %v", err)
	}
	if len(d) == 0 {
		t.Fatal("no decisions saved")
	}
	for id, sd := range d {
		if sd.Decision != wave.DecisionRejected {
			t.Errorf("%s: %+v, want rejected", id, sd)
		}
	}
}

func TestRunCompare_MissingAnchor(t *testing.T) {
	cfg := testConfig(t)
	p := testParams(t)
	p.DestinationAnchor = "@DI404"
	var stdout, stderr bytes.Buffer
	if err := RunCompare(context.Background(), p, WithConfig(cfg), WithIO(nil, &stdout, &stderr)); err == nil {
		t.Error("expected error for a missing anchor")
	}
}

func TestRunCompare_QuitThenResume(t *testing.T) {
	cfg := testConfig(t)
	cfg.Wave.Interactive = true
	cfg.Wave.Strategy = wave.StrategyFixed
	cfg.Wave.LowConfidenceThreshold = 99
	cfg.Wave.MinConfidenceThreshold = 10

	var stdout, stderr bytes.Buffer
	p := testParams(t)
	if err := RunCompare(context.Background(), p,
		WithConfig(cfg), WithIO(strings.NewReader("q\n"), &stdout, &stderr)); err != nil {
		t.Fatalf("RunCompare: %v\n%s", err, stderr.String())
	}
	out := stdout.String()
	if !strings.Contains(out, string(wave.TerminationUserAborted)) {
		t.Fatalf("summary = %q", out)
	}
	_, rest, ok := strings.Cut(out, "--resume ")
	if !ok {
		t.Fatalf("no resume hint in %q", out)
	}
	checkpoint, _, _ := strings.Cut(rest, ")")

	cfg.Wave.Interactive = false
	stdout.Reset()
	resume := CompareParams{SourceFile: p.SourceFile, DestinationFile: p.DestinationFile, ResumeFile: checkpoint}
	if err := RunCompare(context.Background(), resume,
		WithConfig(cfg), WithIO(nil, &stdout, &stderr)); err != nil {
		t.Fatalf("resumed RunCompare: %v\n%s", err, stderr.String())
	}
	if out := stdout.String(); !strings.Contains(out, string(wave.TerminationCompleted)) || strings.Contains(out, "--resume") {
		t.Errorf("resumed summary = %q", out)
	}
}

func TestRunAnchors(t *testing.T) {
	cfg := testConfig(t)
	p := testParams(t)
	var stdout, stderr bytes.Buffer
	err := RunAnchors(context.Background(), AnchorParams{
		SourceFile: p.SourceFile, DestinationFile: p.DestinationFile, PersonID: "@I3", MinScore: 50, Limit: 3,
	}, WithConfig(cfg), WithIO(nil, &stdout, &stderr))
	if err != nil {
		t.Fatalf("RunAnchors: %v\n%s", err, stderr.String())
	}
	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	if len(lines) < 2 || !strings.HasPrefix(lines[0], "SCORE") || !strings.Contains(lines[1], "@DI3") {
		t.Errorf("output = %q", stdout.String())
	}
}
