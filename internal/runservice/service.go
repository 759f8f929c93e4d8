// Package runservice orchestrates one comparison: it loads both trees,
// propagates mappings from the anchor, validates them, builds the
// high-confidence report and persists everything.
package runservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/starford/treesync/internal/apperr"
	"github.com/starford/treesync/internal/checksum"
	"github.com/starford/treesync/internal/confirm"
	"github.com/starford/treesync/internal/loader"
	"github.com/starford/treesync/internal/match"
	"github.com/starford/treesync/internal/models"
	"github.com/starford/treesync/internal/names"
	"github.com/starford/treesync/internal/report"
	"github.com/starford/treesync/internal/sse"
	"github.com/starford/treesync/internal/storage"
	"github.com/starford/treesync/internal/store"
	"github.com/starford/treesync/internal/tree"
	"github.com/starford/treesync/internal/validate"
	"github.com/starford/treesync/internal/wave"
)

// Output file names, relative to the run directory.
const (
	ResultFile     = "result.json"
	ReportFile     = "report.json"
	CheckpointFile = "checkpoint.json"
)

// Publisher receives progress events. *sse.Broker satisfies it.
type Publisher interface {
	Publish(event sse.Event)
	PublishProgress(p sse.Progress)
}

// Settings are the tunables shared by every run of a Service.
type Settings struct {
	Wave             wave.Options
	Weights          match.Weights
	MaxBirthYearDiff int
	Validation       validate.Config
	Report           report.Config
}

// DefaultSettings mirrors the package defaults.
func DefaultSettings() Settings {
	return Settings{
		Wave:             wave.DefaultOptions(),
		Weights:          match.DefaultWeights(),
		MaxBirthYearDiff: 10,
		Validation:       validate.DefaultConfig(),
		Report:           report.DefaultConfig(),
	}
}

// CompareRequest describes one comparison.
type CompareRequest struct {
	SourceFile        string `json:"source_file"`
	DestinationFile   string `json:"destination_file"`
	SourceAnchor      string `json:"source_anchor"`
	DestinationAnchor string `json:"destination_anchor"`
	// Options replaces the service's wave options when set.
	Options *wave.Options `json:"options,omitempty"`
	// Confirmer answers review requests. Without one the run is
	// non-interactive whatever Options says.
	Confirmer wave.Confirmer `json:"-"`
	// Decisions are laid over the decisions remembered in the store.
	Decisions wave.Decisions `json:"-"`
	// Resume continues an interrupted run from its checkpoint. Empty
	// anchors are taken from it.
	Resume *wave.State `json:"-"`
}

// Outcome is what a finished comparison produced.
type Outcome struct {
	Run        *store.Run
	Result     *wave.WaveCompareResult
	Report     *report.WaveHighConfidenceReport
	ResultPath string
	ReportPath string
	// CheckpointPath is set when the run stopped early.
	CheckpointPath string
}

// Service runs comparisons. It is safe for concurrent use; each run owns
// its own engine.
type Service struct {
	db        store.RunStore
	out       storage.Provider
	names     *names.Service
	settings  Settings
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string

	wg sync.WaitGroup
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher sets the progress publisher.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator replaces the random run id generator.
func WithIDGenerator(f func() string) Option {
	return func(s *Service) { s.newID = f }
}

// WithNames replaces the default name tables.
func WithNames(n *names.Service) Option {
	return func(s *Service) { s.names = n }
}

// New creates a Service writing run outputs to out.
func New(db store.RunStore, out storage.Provider, settings Settings, opts ...Option) *Service {
	s := &Service{
		db:       db,
		out:      out,
		settings: settings,
		logger:   slog.Default(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	if s.names == nil {
		s.names = names.New(names.DefaultTable())
	}
	return s
}

// Settings returns the service settings.
func (s *Service) Settings() Settings {
	return s.settings
}

// Compare runs one comparison synchronously.
func (s *Service) Compare(ctx context.Context, req CompareRequest) (*Outcome, error) {
	run, opts, err := s.begin(req)
	if err != nil {
		return nil, err
	}
	return s.execute(ctx, run, opts, req)
}

// Start records the run and executes it in the background. Runs started
// this way are never interactive. Wait blocks until they are done.
func (s *Service) Start(ctx context.Context, req CompareRequest) (*store.Run, error) {
	req.Confirmer = nil
	run, opts, err := s.begin(req)
	if err != nil {
		return nil, err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.execute(context.WithoutCancel(ctx), run, opts, req); err != nil {
			s.logger.Warn("background run failed", slog.String("run", run.ID), slog.String("error", err.Error()))
		}
	}()
	return run, nil
}

// Wait blocks until every run started with Start has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) begin(req CompareRequest) (*store.Run, wave.Options, error) {
	opts := s.settings.Wave
	if req.Options != nil {
		opts = *req.Options
	}
	if req.Confirmer == nil {
		opts.Interactive = false
	}
	if err := resumeAnchors(&req); err != nil {
		return nil, opts, err
	}
	if err := opts.Validate(); err != nil {
		return nil, opts, fmt.Errorf("%w: %v", apperr.ErrInvalidOptions, err)
	}
	if req.SourceFile == "" || req.DestinationFile == "" || req.SourceAnchor == "" || req.DestinationAnchor == "" {
		return nil, opts, fmt.Errorf("%w: source and destination files and anchors are required", apperr.ErrInvalidOptions)
	}
	srcSum, dstSum, err := fileSums(req.SourceFile, req.DestinationFile)
	if err != nil {
		return nil, opts, err
	}

	run := &store.Run{
		ID:                  s.newID(),
		Status:              store.StatusRunning,
		SourceFile:          req.SourceFile,
		DestinationFile:     req.DestinationFile,
		SourceAnchor:        req.SourceAnchor,
		DestinationAnchor:   req.DestinationAnchor,
		SourceChecksum:      srcSum,
		DestinationChecksum: dstSum,
		Options:             opts,
		StartedAt:           s.now().UTC(),
	}
	run.OutputDir = run.ID
	if err := s.db.CreateRun(*run); err != nil {
		return nil, opts, err
	}
	s.publish(sse.EventRunStarted, sse.RunStatus{RunID: run.ID})
	s.logger.Info("run started",
		slog.String("run", run.ID),
		slog.String("source", req.SourceFile),
		slog.String("destination", req.DestinationFile))
	return run, opts, nil
}

func (s *Service) execute(ctx context.Context, run *store.Run, opts wave.Options, req CompareRequest) (*Outcome, error) {
	out, err := s.compare(ctx, run, opts, req)
	if err != nil {
		if ferr := s.db.FailRun(run.ID, err, s.now()); ferr != nil {
			s.logger.Error("record run failure", slog.String("run", run.ID), slog.String("error", ferr.Error()))
		}
		s.publish(sse.EventRunFailed, sse.RunStatus{RunID: run.ID, Error: err.Error()})
		s.logger.Error("run failed", slog.String("run", run.ID), slog.String("error", err.Error()))
		return nil, err
	}
	return out, nil
}

func (s *Service) compare(ctx context.Context, run *store.Run, opts wave.Options, req CompareRequest) (*Outcome, error) {
	inputs, err := s.load(ctx, req.SourceFile, req.DestinationFile)
	if err != nil {
		return nil, err
	}

	stored, err := s.db.LoadDecisions()
	if err != nil {
		return nil, err
	}
	decisions := confirm.Merge(stored, req.Decisions)

	eopts := []wave.EngineOption{
		wave.WithDecisions(decisions),
		wave.WithObserver(&progress{runID: run.ID, pub: s.publisher}),
		wave.WithLogger(s.logger.With(slog.String("run", run.ID))),
		wave.WithClock(s.now),
	}
	if req.Confirmer != nil {
		eopts = append(eopts, wave.WithConfirmer(req.Confirmer))
	}
	engine, err := wave.NewEngine(inputs.src, inputs.dst, s.matcher().Bind(inputs.src, inputs.dst), opts, eopts...)
	if err != nil {
		return nil, err
	}
	var res *wave.WaveCompareResult
	if req.Resume != nil {
		res, err = engine.Resume(ctx, req.Resume)
	} else {
		res, err = engine.Run(ctx, req.SourceAnchor, req.DestinationAnchor)
	}
	if err != nil {
		return nil, err
	}
	res.SourceFile, res.DestinationFile = req.SourceFile, req.DestinationFile

	v := validate.New(inputs.src, inputs.dst, s.settings.Validation, validate.WithLogger(s.logger))
	res.ValidationIssues = v.Validate(res.Mappings, res.Anomalies)

	rep := report.NewBuilder(inputs.src, inputs.dst, s.settings.Report).WithClock(s.now).Build(res)

	o := &Outcome{
		Run:        run,
		Result:     res,
		Report:     rep,
		ResultPath: path.Join(run.OutputDir, ResultFile),
		ReportPath: path.Join(run.OutputDir, ReportFile),
	}
	if err := storage.WriteJSON(s.out, o.ResultPath, res); err != nil {
		return nil, err
	}
	if err := storage.WriteJSON(s.out, o.ReportPath, rep); err != nil {
		return nil, err
	}
	if res.Checkpoint != nil {
		o.CheckpointPath = path.Join(run.OutputDir, CheckpointFile)
		if err := storage.WriteJSON(s.out, o.CheckpointPath, res.Checkpoint); err != nil {
			return nil, err
		}
	}
	if err := s.db.SaveResult(run.ID, res, rep); err != nil {
		return nil, err
	}
	if err := s.db.SaveDecisions(run.ID, res.Decisions, s.now()); err != nil {
		return nil, err
	}

	if saved, err := s.db.GetRun(run.ID); err == nil {
		o.Run = saved
	}
	if res.Partial() {
		s.logger.Warn("run stopped early",
			slog.String("run", run.ID),
			slog.String("termination", string(res.Termination)),
			slog.String("checkpoint", o.CheckpointPath))
	}
	s.publish(sse.EventRunCompleted, sse.RunStatus{
		RunID:       run.ID,
		Termination: string(res.Termination),
		Mapped:      len(res.Mappings),
	})
	s.logger.Info("run completed",
		slog.String("run", run.ID),
		slog.String("termination", string(res.Termination)),
		slog.Int("mapped", len(res.Mappings)),
		slog.Int("issues", len(res.ValidationIssues)),
		slog.Int("updates", rep.Summary.Updates),
		slog.Int("additions", rep.Summary.Additions))
	return o, nil
}

// resumeAnchors fills the anchors of a resumed request from its checkpoint
// and rejects anchors that contradict it.
func resumeAnchors(req *CompareRequest) error {
	if req.Resume == nil {
		return nil
	}
	a := req.Resume.Anchor
	if a.SourceID == "" || a.DestinationID == "" {
		return fmt.Errorf("%w: checkpoint has no anchor", apperr.ErrInvalidOptions)
	}
	if req.SourceAnchor == "" {
		req.SourceAnchor = a.SourceID
	}
	if req.DestinationAnchor == "" {
		req.DestinationAnchor = a.DestinationID
	}
	if req.SourceAnchor != a.SourceID || req.DestinationAnchor != a.DestinationID {
		return fmt.Errorf("%w: anchors %s/%s differ from the checkpoint's %s/%s", apperr.ErrInvalidOptions,
			req.SourceAnchor, req.DestinationAnchor, a.SourceID, a.DestinationID)
	}
	return nil
}

// ReadCheckpoint decodes a checkpoint written next to a partial result.
func ReadCheckpoint(r io.Reader) (*wave.State, error) {
	var st wave.State
	if err := json.NewDecoder(r).Decode(&st); err != nil {
		return nil, fmt.Errorf("%w: checkpoint: %v", apperr.ErrInvalidOptions, err)
	}
	return &st, nil
}

func (s *Service) matcher() *match.Matcher {
	return match.NewMatcher(s.names,
		match.WithWeights(s.settings.Weights),
		match.WithMaxBirthYearDifference(s.settings.MaxBirthYearDiff))
}

type inputs struct {
	src, dst *tree.Graph
}

// load reads both trees concurrently and indexes them.
func (s *Service) load(ctx context.Context, srcPath, dstPath string) (*inputs, error) {
	var srcDS, dstDS *loader.Dataset
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		srcDS, err = s.loadFile(gctx, srcPath, models.SourceGedcom)
		return err
	})
	g.Go(func() (err error) {
		dstDS, err = s.loadFile(gctx, dstPath, models.SourceRemote)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	in := &inputs{src: srcDS.Graph(), dst: dstDS.Graph()}
	s.logger.Info("trees loaded",
		slog.Int("source_persons", in.src.Len()),
		slog.Int("destination_persons", in.dst.Len()))
	return in, nil
}

func (s *Service) loadFile(ctx context.Context, p string, src models.Source) (*loader.Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ds, err := loader.LoadFile(p, src, s.names)
	if err != nil {
		return nil, err
	}
	for _, w := range ds.Warnings {
		s.logger.Warn("input warning", slog.String("file", p), slog.String("warning", w))
	}
	return ds, nil
}

// fileSums checksums both inputs. A missing file is a rejected request.
func fileSums(srcPath, dstPath string) (string, string, error) {
	var sums [2]string
	for i, p := range []string{srcPath, dstPath} {
		cs, err := checksum.File(p)
		if errors.Is(err, fs.ErrNotExist) {
			return "", "", fmt.Errorf("%w: %s does not exist", apperr.ErrInvalidOptions, p)
		}
		if err != nil {
			return "", "", err
		}
		sums[i] = cs
	}
	return sums[0], sums[1], nil
}

// Revalidate re-runs the validator over the stored mappings of a run,
// against the input files as they are now, and replaces the stored issues.
func (s *Service) Revalidate(ctx context.Context, runID string) ([]models.ValidationIssue, error) {
	run, err := s.db.GetRun(runID)
	if err != nil {
		return nil, err
	}
	srcSum, dstSum, err := fileSums(run.SourceFile, run.DestinationFile)
	if err != nil {
		return nil, err
	}
	if srcSum != run.SourceChecksum || dstSum != run.DestinationChecksum {
		s.logger.Warn("inputs changed since the run", slog.String("run", runID))
	}
	in, err := s.load(ctx, run.SourceFile, run.DestinationFile)
	if err != nil {
		return nil, err
	}
	mappings, err := s.db.Mappings(runID)
	if err != nil {
		return nil, err
	}
	anomalies := s.storedAnomalies(run)

	issues := validate.New(in.src, in.dst, s.settings.Validation, validate.WithLogger(s.logger)).Validate(mappings, anomalies)
	if err := s.db.ReplaceIssues(runID, issues); err != nil {
		return nil, err
	}
	s.logger.Info("run revalidated", slog.String("run", runID), slog.Int("issues", len(issues)))
	return issues, nil
}

// storedAnomalies reads the anomalies from the run's result file. They are
// not kept in the database.
func (s *Service) storedAnomalies(run *store.Run) []models.Anomaly {
	if run.OutputDir == "" {
		return nil
	}
	data, err := s.out.Read(path.Join(run.OutputDir, ResultFile))
	if err != nil {
		s.logger.Warn("result file unavailable", slog.String("run", run.ID), slog.String("error", err.Error()))
		return nil
	}
	var res struct {
		Anomalies []models.Anomaly `json:"anomalies"`
	}
	if err := json.Unmarshal(data, &res); err != nil {
		s.logger.Warn("result file unreadable", slog.String("run", run.ID), slog.String("error", err.Error()))
		return nil
	}
	return res.Anomalies
}

func (s *Service) publish(typ string, data any) {
	if s.publisher != nil {
		s.publisher.Publish(sse.Event{Type: typ, Data: data})
	}
}
