package internal

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/starford/treesync/internal/confirm"
	"github.com/starford/treesync/internal/mcpserver"
	"github.com/starford/treesync/internal/models"
	"github.com/starford/treesync/internal/runservice"
	"github.com/starford/treesync/internal/wave"
)

// CompareParams names the inputs of one compare. Matching options come
// from Config.Wave.
type CompareParams struct {
	SourceFile        string
	DestinationFile   string
	SourceAnchor      string
	DestinationAnchor string
	// ResumeFile is a checkpoint written by an interrupted compare.
	ResumeFile string
}

// RunCompare runs one comparison in the foreground and prints a summary.
// Interactive runs ask the reviewer selected by Config.Confirm.
func RunCompare(ctx context.Context, p CompareParams, opts ...Option) error {
	app := newApplication(opts)
	if app.config == nil {
		return fmt.Errorf("config is required")
	}
	cfg := app.config
	logger := app.newLogger(app.stderr)

	d, err := app.open()
	if err != nil {
		return err
	}
	defer d.close()

	req := runservice.CompareRequest{
		SourceFile:        p.SourceFile,
		DestinationFile:   p.DestinationFile,
		SourceAnchor:      p.SourceAnchor,
		DestinationAnchor: p.DestinationAnchor,
	}
	if cfg.Wave.Interactive {
		req.Confirmer, err = app.confirmer(logger)
		if err != nil {
			return err
		}
		if c, ok := req.Confirmer.(io.Closer); ok {
			defer c.Close()
		}
	}
	if cfg.Confirm.DecisionsFile != "" {
		req.Decisions, err = confirm.LoadDecisionsFile(cfg.Confirm.DecisionsFile)
		if err != nil {
			return err
		}
	}
	if p.ResumeFile != "" {
		req.Resume, err = readCheckpoint(p.ResumeFile)
		if err != nil {
			return err
		}
		logger.Info("resuming from checkpoint",
			slog.String("path", p.ResumeFile),
			slog.Int("mappings", len(req.Resume.Mappings)))
	}

	out, err := app.newService(d, logger).Compare(ctx, req)
	if err != nil {
		return fmt.Errorf("compare: %w", err)
	}

	if cfg.Confirm.DecisionsFile != "" && len(out.Result.Decisions) > 0 {
		merged := confirm.Merge(req.Decisions, out.Result.Decisions)
		if err := confirm.SaveDecisionsFile(cfg.Confirm.DecisionsFile, merged); err != nil {
			return err
		}
		logger.Info("decisions saved",
			slog.String("path", cfg.Confirm.DecisionsFile),
			slog.Int("new", len(out.Result.Decisions)))
	}

	st := out.Result.Statistics
	fmt.Fprintf(app.stdout, "run %s: %s\n", out.Run.ID, out.Result.Termination)
	fmt.Fprintf(app.stdout, "  mapped %d of %d source persons over %d levels\n", st.Mapped, st.TotalSource, st.Levels)
	fmt.Fprintf(app.stdout, "  unmatched: %d source, %d destination\n", st.UnmatchedSource, st.UnmatchedDestination)
	fmt.Fprintf(app.stdout, "  issues: %d\n", len(out.Result.ValidationIssues))
	fmt.Fprintf(app.stdout, "  report: %d updates, %d additions\n", out.Report.Summary.Updates, out.Report.Summary.Additions)
	fmt.Fprintf(app.stdout, "  files: %s, %s (under %s)\n", out.ResultPath, out.ReportPath, d.out.Root())
	if out.CheckpointPath != "" {
		fmt.Fprintf(app.stdout, "  checkpoint: %s (continue with --resume %s)\n",
			out.CheckpointPath, filepath.Join(d.out.Root(), out.CheckpointPath))
	}
	return nil
}

func readCheckpoint(path string) (*wave.State, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint: %w", err)
	}
	defer f.Close()
	return runservice.ReadCheckpoint(f)
}

func (a *application) confirmer(logger *slog.Logger) (wave.Confirmer, error) {
	if a.config.Confirm.Mode == ConfirmModeInbox {
		inbox, err := confirm.NewInbox(a.config.Confirm.InboxDir, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("waiting for reviews in inbox", slog.String("dir", inbox.Dir()))
		return inbox, nil
	}
	return confirm.NewTerminal(a.stdin, a.stdout), nil
}

// RunValidate re-runs the validator over a stored run and prints the
// issues, most severe first.
func RunValidate(ctx context.Context, runID string, opts ...Option) error {
	app := newApplication(opts)
	if app.config == nil {
		return fmt.Errorf("config is required")
	}
	logger := app.newLogger(app.stderr)

	d, err := app.open()
	if err != nil {
		return err
	}
	defer d.close()

	issues, err := app.newService(d, logger).Revalidate(ctx, runID)
	if err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	printIssues(app, issues)
	return nil
}

func printIssues(app *application, issues []models.ValidationIssue) {
	if len(issues) == 0 {
		fmt.Fprintln(app.stdout, "no issues found")
		return
	}
	tw := tabwriter.NewWriter(app.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEVERITY\tTYPE\tSOURCE\tDESTINATION\tMESSAGE")
	for _, is := range issues {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", is.Severity, is.Type, is.SourceID, is.DestinationID, is.Message)
	}
	tw.Flush()
}

// AnchorParams names the inputs of an anchor lookup.
type AnchorParams struct {
	SourceFile      string
	DestinationFile string
	PersonID        string
	MinScore        int
	Limit           int
}

// RunAnchors prints the destination persons that best match one source
// person, to help pick the anchor pair for compare.
func RunAnchors(ctx context.Context, p AnchorParams, opts ...Option) error {
	app := newApplication(opts)
	if app.config == nil {
		return fmt.Errorf("config is required")
	}
	logger := app.newLogger(app.stderr)

	d, err := app.open()
	if err != nil {
		return err
	}
	defer d.close()

	got, err := app.newService(d, logger).SuggestAnchors(ctx, runservice.AnchorQuery{
		SourceFile:      p.SourceFile,
		DestinationFile: p.DestinationFile,
		PersonID:        p.PersonID,
		MinScore:        p.MinScore,
		Limit:           p.Limit,
	})
	if err != nil {
		return fmt.Errorf("anchors: %w", err)
	}
	if len(got) == 0 {
		fmt.Fprintln(app.stdout, "no candidates found")
		return nil
	}
	tw := tabwriter.NewWriter(app.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SCORE\tID\tPERSON\tFAMILIES")
	for _, c := range got {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\n", c.Score, c.ID, c.Label, c.Families)
	}
	return tw.Flush()
}

// RunMCP serves the run inspection tools on stdin/stdout. Logs go to
// stderr so they never mix with the protocol stream.
func RunMCP(ctx context.Context, opts ...Option) error {
	app := newApplication(opts)
	if app.config == nil {
		return fmt.Errorf("config is required")
	}
	logger := app.newLogger(app.stderr)

	d, err := app.open()
	if err != nil {
		return err
	}
	defer d.close()

	logger.Info("Starting MCP server on stdio", slog.String("sqlite_path", app.config.SQLite.Path))
	return mcpserver.New(d.db).ServeStdio()
}
