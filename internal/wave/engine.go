// Package wave aligns two family trees by breadth-first propagation from a
// human-confirmed anchor pair.
package wave

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/starford/treesync/internal/apperr"
	"github.com/starford/treesync/internal/match"
	"github.com/starford/treesync/internal/models"
	"github.com/starford/treesync/internal/tree"
)

var (
	errCancelled = errors.New("wave: cancelled")
	errAborted   = errors.New("wave: aborted by reviewer")
)

// Observer is notified about progress. Calls happen on the engine's
// goroutine and must not block for long.
type Observer interface {
	MappingAdded(m models.PersonMapping)
	LevelCompleted(s LevelStats)
}

// Engine runs wave propagation between a source and a destination graph.
// Both graphs are only read. An Engine may be reused for several runs but a
// single run is strictly sequential.
type Engine struct {
	src, dst  *tree.Graph
	persons   match.Comparer
	families  *match.FamilyMatcher
	opts      Options
	confirmer Confirmer
	memo      Decisions
	observer  Observer
	logger    *slog.Logger
	now       func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithConfirmer sets the reviewer consulted in interactive runs.
func WithConfirmer(c Confirmer) EngineOption {
	return func(e *Engine) { e.confirmer = c }
}

// WithDecisions sets previously recorded decisions, consulted before any
// threshold logic. The map is copied.
func WithDecisions(d Decisions) EngineOption {
	return func(e *Engine) { e.memo = maps.Clone(d) }
}

// WithObserver sets a progress observer.
func WithObserver(o Observer) EngineOption {
	return func(e *Engine) { e.observer = o }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithClock sets the time source used for mapping timestamps and durations.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an Engine. persons scores individual pairs; it is
// usually a *match.Matcher bound to both graphs.
func NewEngine(src, dst *tree.Graph, persons match.Comparer, opts Options, eopts ...EngineOption) (*Engine, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidOptions, err)
	}
	e := &Engine{
		src:     src,
		dst:     dst,
		persons: persons,
		opts:    opts,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, o := range eopts {
		o(e)
	}
	if src == nil || dst == nil || persons == nil {
		return nil, fmt.Errorf("%w: graphs and comparer are required", apperr.ErrInvalidOptions)
	}
	if opts.Interactive && e.confirmer == nil {
		return nil, fmt.Errorf("%w: interactive run without a confirmer", apperr.ErrInvalidOptions)
	}
	e.families = match.NewFamilyMatcher(persons, e.logger)
	return e, nil
}

// Options returns the validated options of the engine.
func (e *Engine) Options() Options {
	return e.opts
}

// Run seeds the anchor pair at level 0 and propagates outwards. The only
// error is a missing anchor; anything else is reported in the result. On
// cancellation the partial result is returned with a checkpoint.
func (e *Engine) Run(ctx context.Context, sourceAnchorID, destAnchorID string) (*WaveCompareResult, error) {
	sp, dp, err := e.anchor(sourceAnchorID, destAnchorID)
	if err != nil {
		return nil, err
	}
	r := e.newRun(newRunState(State{Anchor: AnchorInfo{
		SourceID:         sp.ID,
		DestinationID:    dp.ID,
		SourceLabel:      sp.Label(),
		DestinationLabel: dp.Label(),
	}}))
	r.addMapping(models.PersonMapping{
		SourceID:      sp.ID,
		DestinationID: dp.ID,
		MatchScore:    100,
		Level:         0,
		FoundVia:      models.RelationAnchor,
		Confirmed:     true,
	})
	e.logger.Info("anchor seeded",
		slog.String("source", sp.Label()),
		slog.String("destination", dp.Label()),
		slog.String("strategy", string(e.opts.Strategy)),
		slog.Int("max_level", e.opts.MaxLevel))
	return r.execute(ctx), nil
}

// Resume continues a run from a checkpoint.
func (e *Engine) Resume(ctx context.Context, st *State) (*WaveCompareResult, error) {
	if st == nil {
		return nil, fmt.Errorf("%w: nil state", apperr.ErrInvalidOptions)
	}
	if _, _, err := e.anchor(st.Anchor.SourceID, st.Anchor.DestinationID); err != nil {
		return nil, err
	}
	e.logger.Info("resuming run",
		slog.Int("mappings", len(st.Mappings)),
		slog.Int("queued", len(st.Queue)))
	return e.newRun(newRunState(*st)).execute(ctx), nil
}

func (e *Engine) anchor(srcID, dstID string) (*models.PersonRecord, *models.PersonRecord, error) {
	sp := e.src.Person(srcID)
	if sp == nil {
		return nil, nil, fmt.Errorf("%w: source person %q", apperr.ErrAnchorNotFound, srcID)
	}
	dp := e.dst.Person(dstID)
	if dp == nil {
		return nil, nil, fmt.Errorf("%w: destination person %q", apperr.ErrAnchorNotFound, dstID)
	}
	return sp, dp, nil
}

// run is the single-use state of one propagation.
type run struct {
	e           *Engine
	st          *runState
	cur         *LevelStats
	anomalySeen map[string]struct{}
}

func (e *Engine) newRun(st *runState) *run {
	r := &run{e: e, st: st, anomalySeen: make(map[string]struct{}, len(st.Anomalies))}
	for _, a := range st.Anomalies {
		r.anomalySeen[anomalyKey(a)] = struct{}{}
	}
	return r
}

func (r *run) execute(ctx context.Context) *WaveCompareResult {
	started := r.e.now()
	term := r.loop(ctx)
	return r.finish(term, started)
}

// loop drains the queue one level at a time. A level is complete before
// the next one starts.
func (r *run) loop(ctx context.Context) Termination {
	for len(r.st.Queue) > 0 {
		level := r.st.Queue[0].Level
		if ctx.Err() != nil {
			return TerminationCancelled
		}
		if level >= r.e.opts.MaxLevel {
			return TerminationMaxLevelReached
		}

		start := r.e.now()
		r.openLevel(level)
		for len(r.st.Queue) > 0 && r.st.Queue[0].Level == level {
			item := r.st.Queue[0]
			r.st.Queue = r.st.Queue[1:]
			if err := r.expand(ctx, item); err != nil {
				r.st.Queue = slices.Insert(r.st.Queue, 0, item)
				r.closeLevel(start)
				if errors.Is(err, errAborted) {
					return TerminationUserAborted
				}
				return TerminationCancelled
			}
			r.cur.PersonsProcessed++
		}
		r.closeLevel(start)
	}
	return TerminationCompleted
}

// openLevel starts stats for level, continuing a level interrupted by a
// previous checkpoint.
func (r *run) openLevel(level int) {
	if n := len(r.st.Levels); n > 0 && r.st.Levels[n-1].Level == level {
		last := r.st.Levels[n-1]
		r.st.Levels = r.st.Levels[:n-1]
		r.cur = &last
		return
	}
	r.cur = &LevelStats{Level: level}
}

func (r *run) closeLevel(start time.Time) {
	r.cur.Duration += r.e.now().Sub(start)
	stats := *r.cur
	r.st.Levels = append(r.st.Levels, stats)
	r.cur = nil
	if r.e.observer != nil {
		r.e.observer.LevelCompleted(stats)
	}
	r.e.logger.Info("level completed",
		slog.Int("level", stats.Level),
		slog.Int("processed", stats.PersonsProcessed),
		slog.Int("new_mappings", stats.NewMappings),
		slog.Int("families", stats.FamiliesExamined),
		slog.Int("prompts", stats.Prompts),
		slog.Duration("duration", stats.Duration))
}

func (r *run) finish(term Termination, started time.Time) *WaveCompareResult {
	res := &WaveCompareResult{
		Anchor:      r.st.Anchor,
		Options:     r.e.opts,
		Mappings:    slices.Clone(r.st.Mappings),
		Anomalies:   slices.Clone(r.st.Anomalies),
		Levels:      slices.Clone(r.st.Levels),
		Termination: term,
		Decisions:   maps.Clone(r.st.Decisions),
		Trace:       slices.Clone(r.st.Trace),
		StartedAt:   started,
	}
	if res.Mappings == nil {
		res.Mappings = []models.PersonMapping{}
	}

	srcLevel := func(id string) (int, bool) {
		i, ok := r.st.srcToDst[id]
		if !ok {
			return 0, false
		}
		return r.st.Mappings[i].Level, true
	}
	dstLevel := func(id string) (int, bool) {
		s, ok := r.st.dstToSrc[id]
		if !ok {
			return 0, false
		}
		return srcLevel(s)
	}

	res.UnmatchedSource = []UnmatchedPerson{}
	for _, id := range r.e.src.PersonIDs() {
		if _, ok := srcLevel(id); ok {
			continue
		}
		up := UnmatchedPerson{ID: id, Label: r.e.src.Person(id).Label(), Reason: ReasonNotReached, NearestLevel: -1}
		if note, ok := r.st.Unmatched[id]; ok {
			up.Reason, up.NearestPersonID, up.NearestLevel = note.Reason, note.NearPersonID, note.NearLevel
		} else {
			up.NearestPersonID, up.NearestLevel = nearestMapped(r.e.src, id, srcLevel)
		}
		res.UnmatchedSource = append(res.UnmatchedSource, up)
	}
	res.UnmatchedDestination = []UnmatchedPerson{}
	for _, id := range r.e.dst.PersonIDs() {
		if _, ok := dstLevel(id); ok {
			continue
		}
		up := UnmatchedPerson{ID: id, Label: r.e.dst.Person(id).Label(), Reason: ReasonNotReached}
		up.NearestPersonID, up.NearestLevel = nearestMapped(r.e.dst, id, dstLevel)
		res.UnmatchedDestination = append(res.UnmatchedDestination, up)
	}

	if term != TerminationCompleted {
		res.Checkpoint = r.st.snapshot()
	}

	res.FinishedAt = r.e.now()
	res.Statistics = Statistics{
		TotalSource:          r.e.src.Len(),
		TotalDestination:     r.e.dst.Len(),
		Mapped:               len(res.Mappings),
		UnmatchedSource:      len(res.UnmatchedSource),
		UnmatchedDestination: len(res.UnmatchedDestination),
		Levels:               len(res.Levels),
		Anomalies:            len(res.Anomalies),
		Duration:             res.FinishedAt.Sub(started),
	}
	for _, l := range res.Levels {
		res.Statistics.Prompts += l.Prompts
	}

	r.e.logger.Info("wave finished",
		slog.String("termination", string(term)),
		slog.Int("mapped", res.Statistics.Mapped),
		slog.Int("unmatched_source", res.Statistics.UnmatchedSource),
		slog.Int("unmatched_destination", res.Statistics.UnmatchedDestination),
		slog.Int("anomalies", res.Statistics.Anomalies))
	return res
}

// nearestMapped returns the first immediate relative of id that has a
// mapping, with that mapping's level, or ("", -1).
func nearestMapped(g *tree.Graph, id string, level func(string) (int, bool)) (string, int) {
	for rel := range tree.ImmediateRelatives(g, id) {
		if l, ok := level(rel.Person.ID); ok {
			return rel.Person.ID, l
		}
	}
	return "", -1
}
