package wave

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/starford/treesync/internal/match"
	"github.com/starford/treesync/internal/models"
	"github.com/starford/treesync/internal/tree"
)

// origin describes how a relative was reached: from which mapped source
// person, through which source family and relation.
type origin struct {
	from     *models.PersonRecord
	familyID string
	via      models.RelationKind
	level    int
}

func (o origin) newLevel() int { return o.level + 1 }

// expand maps the unmapped relatives of one mapped source person. It only
// returns errCancelled or errAborted.
func (r *run) expand(ctx context.Context, item QueueItem) error {
	p := r.e.src.Person(item.SourceID)
	if p == nil {
		r.anomaly(models.Anomaly{Kind: models.AnomalyMissingSourcePerson, Level: item.Level, SourceID: item.SourceID,
			Message: "queued source person not found"})
		return nil
	}
	dstID, _ := r.st.DestinationOf(p.ID)
	dp := r.e.dst.Person(dstID)
	if dp == nil {
		r.anomaly(models.Anomaly{Kind: models.AnomalyMissingDestPerson, Level: item.Level, SourceID: p.ID, DestinationID: dstID,
			Message: "mapped destination person not found"})
		return nil
	}
	r.checkFamilyLinks(p, item.Level)

	// A checkpoint taken inside this expansion lists the families already
	// done; resuming skips them.
	if r.st.ExpandingID != p.ID {
		r.st.ExpandingID, r.st.ExpandedFamilies = p.ID, nil
	}
	for sf := range tree.FamiliesAsSpouse(r.e.src, p.ID) {
		if err := r.expandFamily(ctx, p, dp, sf, models.RelationSpouse, item.Level); err != nil {
			return err
		}
	}
	for sf := range tree.FamiliesAsChild(r.e.src, p.ID) {
		if err := r.expandFamily(ctx, p, dp, sf, models.RelationChild, item.Level); err != nil {
			return err
		}
	}
	r.st.ExpandingID, r.st.ExpandedFamilies = "", nil
	return nil
}

// expandFamily pairs one family of p and maps the relatives it holds. role
// is p's role in sf.
func (r *run) expandFamily(ctx context.Context, p, dp *models.PersonRecord, sf *models.FamilyRecord, role models.RelationKind, level int) error {
	if slices.Contains(r.st.ExpandedFamilies, sf.ID) {
		return nil
	}
	df, reason := r.pairFamily(sf, dp, role, level)
	switch {
	case df == nil:
		r.stallFamily(p, sf, role, reason, level)
	case role == models.RelationSpouse:
		if err := r.mapSpouse(ctx, p, sf, df, level); err != nil {
			return err
		}
		if err := r.mapChildren(ctx, origin{from: p, familyID: sf.ID, via: models.RelationChild, level: level}, sf, df); err != nil {
			return err
		}
	default:
		if err := r.mapParents(ctx, p, sf, df, level); err != nil {
			return err
		}
		if err := r.mapChildren(ctx, origin{from: p, familyID: sf.ID, via: models.RelationSibling, level: level}, sf, df); err != nil {
			return err
		}
	}
	r.st.ExpandedFamilies = append(r.st.ExpandedFamilies, sf.ID)
	return nil
}

// checkFamilyLinks records family ids on the person record that the graph
// does not know.
func (r *run) checkFamilyLinks(p *models.PersonRecord, level int) {
	for _, ids := range [][]string{p.FamiliesAsSpouse, p.FamiliesAsChild} {
		for _, id := range ids {
			if r.e.src.Family(id) == nil {
				r.anomaly(models.Anomaly{Kind: models.AnomalyMissingSourceFamily, Level: level, SourceID: p.ID, FamilyID: id,
					Message: fmt.Sprintf("person %s references unknown family %s", p.ID, id)})
			}
		}
	}
}

// pairFamily finds the destination counterpart of source family sf, in
// which the mapped counterpart dp plays the same role. Pairs are remembered
// and a destination family is paired at most once.
func (r *run) pairFamily(sf *models.FamilyRecord, dp *models.PersonRecord, role models.RelationKind, level int) (*models.FamilyRecord, UnmatchedReason) {
	if dfID, ok := r.st.FamilyPairs[sf.ID]; ok {
		if df := r.e.dst.Family(dfID); df != nil {
			return df, ""
		}
		r.anomaly(models.Anomaly{Kind: models.AnomalyMissingDestFamily, Level: level, FamilyID: dfID,
			Message: fmt.Sprintf("paired destination family %s not found", dfID)})
		return nil, ReasonNoCandidates
	}

	ids := r.e.dst.PersonToFamiliesAsChild[dp.ID]
	if role == models.RelationSpouse {
		ids = r.e.dst.PersonToFamiliesAsSpouse[dp.ID]
	}
	var cands []*models.FamilyRecord
	for _, id := range ids {
		if _, used := r.st.usedFamily[id]; used {
			continue
		}
		if f := r.e.dst.Family(id); f != nil {
			cands = append(cands, f)
		}
	}

	r.cur.FamiliesExamined++
	threshold := r.e.opts.FamilyThreshold(level + 1)
	fm := r.e.families.Select(sf, cands, threshold, r.e.src, r.e.dst, r.st)
	entry := TraceEntry{
		Level: level + 1, Step: StepFamily, Relation: role, SourceFamilyID: sf.ID,
		Threshold: threshold, Outcome: string(fm.Outcome), Family: &fm,
	}
	if fm.Best != nil {
		entry.DestinationID, entry.Score = fm.Best.FamilyID, fm.Best.Score
	}
	r.trace(entry)

	switch fm.Outcome {
	case match.FamilyMatched:
		r.st.FamilyPairs[sf.ID] = fm.Best.FamilyID
		r.st.usedFamily[fm.Best.FamilyID] = struct{}{}
		return r.e.dst.Family(fm.Best.FamilyID), ""
	case match.FamilyNoCandidates:
		return nil, ReasonNoCandidates
	}
	if allConflict(fm.Scores) {
		r.anomaly(models.Anomaly{Kind: models.AnomalySlotConflict, Level: level + 1, DestinationID: dp.ID, FamilyID: sf.ID,
			Message: fmt.Sprintf("every candidate for family %s conflicts with existing mappings: %s", sf.ID, fm.Scores[0].ConflictReason)})
	}
	return nil, ReasonNoMatch
}

func allConflict(scores []match.FamilyScore) bool {
	if len(scores) == 0 {
		return false
	}
	for _, s := range scores {
		if !s.Conflict {
			return false
		}
	}
	return true
}

// stallFamily notes the relatives behind an unpaired family as unmatched
// near p.
func (r *run) stallFamily(p *models.PersonRecord, sf *models.FamilyRecord, role models.RelationKind, reason UnmatchedReason, level int) {
	o := origin{from: p, familyID: sf.ID, level: level}
	var ids []string
	if role == models.RelationSpouse {
		ids = append(ids, sf.OtherSpouse(p.ID))
	} else {
		ids = append(ids, sf.HusbandID, sf.WifeID)
	}
	ids = append(ids, sf.ChildrenIDs...)
	for _, id := range ids {
		if id == "" || id == p.ID {
			continue
		}
		r.noteUnmatched(id, reason, o)
	}
}

func (r *run) mapSpouse(ctx context.Context, p *models.PersonRecord, sf, df *models.FamilyRecord, level int) error {
	sid := sf.OtherSpouse(p.ID)
	if sid == "" {
		return nil
	}
	did := df.WifeID
	if sf.HusbandID == sid {
		did = df.HusbandID
	}
	return r.mapSlot(ctx, sid, did, origin{from: p, familyID: sf.ID, via: models.RelationSpouse, level: level})
}

func (r *run) mapParents(ctx context.Context, p *models.PersonRecord, sf, df *models.FamilyRecord, level int) error {
	o := origin{from: p, familyID: sf.ID, via: models.RelationParent, level: level}
	if err := r.mapSlot(ctx, sf.HusbandID, df.HusbandID, o); err != nil {
		return err
	}
	return r.mapSlot(ctx, sf.WifeID, df.WifeID, o)
}

// mapSlot tries to map the source person in a husband/wife slot to the
// person in the same slot of the paired destination family.
func (r *run) mapSlot(ctx context.Context, sid, did string, o origin) error {
	if sid == "" || r.isMapped(sid) {
		return nil
	}
	sp := r.e.src.Person(sid)
	if sp == nil {
		r.anomaly(models.Anomaly{Kind: models.AnomalyMissingSourcePerson, Level: o.level, SourceID: sid, FamilyID: o.familyID,
			Message: fmt.Sprintf("family %s references unknown person %s", o.familyID, sid)})
		return nil
	}
	if did == "" {
		r.noteUnmatched(sid, ReasonNoCandidates, o)
		return nil
	}
	if owner, taken := r.st.SourceOf(did); taken {
		r.anomaly(models.Anomaly{Kind: models.AnomalySlotConflict, Level: o.newLevel(), SourceID: sid, DestinationID: did, FamilyID: o.familyID,
			Message: fmt.Sprintf("destination %s is already mapped from %s", did, owner)})
		r.noteUnmatched(sid, ReasonNoMatch, o)
		return nil
	}
	dp := r.e.dst.Person(did)
	if dp == nil {
		r.anomaly(models.Anomaly{Kind: models.AnomalyMissingDestPerson, Level: o.level, DestinationID: did,
			Message: fmt.Sprintf("paired destination family references unknown person %s", did)})
		r.noteUnmatched(sid, ReasonNoCandidates, o)
		return nil
	}
	return r.decide(ctx, sp, []match.Candidate{r.e.persons.Compare(sp, dp)}, o)
}

// mapChildren pairs the unmapped children of sf with the free children of
// df. For sibling expansion o.from is excluded from the source side.
func (r *run) mapChildren(ctx context.Context, o origin, sf, df *models.FamilyRecord) error {
	var srcKids []*models.PersonRecord
	for _, id := range sf.ChildrenIDs {
		if id == o.from.ID || r.isMapped(id) {
			continue
		}
		c := r.e.src.Person(id)
		if c == nil {
			r.anomaly(models.Anomaly{Kind: models.AnomalyMissingSourcePerson, Level: o.level, SourceID: id, FamilyID: sf.ID,
				Message: fmt.Sprintf("family %s references unknown child %s", sf.ID, id)})
			continue
		}
		srcKids = append(srcKids, c)
	}
	if len(srcKids) == 0 {
		return nil
	}

	freeKids := func() []*models.PersonRecord {
		var out []*models.PersonRecord
		for _, id := range df.ChildrenIDs {
			if _, taken := r.st.SourceOf(id); taken {
				continue
			}
			c := r.e.dst.Person(id)
			if c == nil {
				r.anomaly(models.Anomaly{Kind: models.AnomalyMissingDestPerson, Level: o.level, DestinationID: id, FamilyID: df.ID,
					Message: fmt.Sprintf("family %s references unknown child %s", df.ID, id)})
				continue
			}
			out = append(out, c)
		}
		return out
	}

	srcKids = r.applyRemembered(srcKids, freeKids(), o)
	dstKids := freeKids()
	if len(srcKids) == 0 {
		return nil
	}
	if len(dstKids) == 0 {
		for _, c := range srcKids {
			r.noteUnmatched(c.ID, ReasonNoCandidates, o)
		}
		return nil
	}

	accept, _ := r.e.opts.Thresholds(o.newLevel())
	res := match.MatchChildren(r.e.persons, srcKids, dstKids, accept)
	r.trace(TraceEntry{
		Level: o.newLevel(), Step: StepChildren, Relation: o.via, SourceFamilyID: sf.ID, DestinationID: df.ID,
		Threshold: accept, Outcome: fmt.Sprintf("%d of %d paired", len(res.Pairs), len(srcKids)), Children: res.Decisions,
	})
	for _, pair := range res.Pairs {
		r.addMapping(r.mappingFor(pair.SourceID, pair.Candidate, o, false))
	}
	for _, id := range res.UnmatchedSource {
		if err := r.decide(ctx, r.e.src.Person(id), res.Remaining(id), o); err != nil {
			return err
		}
	}
	return nil
}

// applyRemembered settles children that already have a decision and
// returns the rest.
func (r *run) applyRemembered(kids, free []*models.PersonRecord, o origin) []*models.PersonRecord {
	var rest []*models.PersonRecord
	for _, c := range kids {
		var cands []match.Candidate
		for _, d := range free {
			if !r.isTaken(d.ID) {
				cands = append(cands, r.e.persons.Compare(c, d))
			}
		}
		if !r.remembered(c, cands, o) {
			rest = append(rest, c)
		}
	}
	return rest
}

// remembered applies a decision recorded in this run or in an earlier one.
// It reports whether the person is settled.
func (r *run) remembered(sp *models.PersonRecord, cands []match.Candidate, o origin) bool {
	d, ok := r.st.Decisions[sp.ID]
	if !ok {
		d, ok = r.e.memo[sp.ID]
	}
	if !ok {
		return false
	}
	switch d.Decision {
	case DecisionRejected:
		r.noteUnmatched(sp.ID, ReasonRejected, o)
		r.trace(TraceEntry{Level: o.newLevel(), Step: StepPerson, Relation: o.via, SourceID: sp.ID, Outcome: "remembered rejection"})
		return true
	case DecisionConfirmed:
		for _, c := range cands {
			if c.ID == d.DestinationID {
				r.addMapping(r.mappingFor(sp.ID, c, o, true))
				r.trace(TraceEntry{Level: o.newLevel(), Step: StepPerson, Relation: o.via, SourceID: sp.ID,
					DestinationID: c.ID, Score: c.Score, Outcome: "remembered confirmation"})
				return true
			}
		}
	}
	return false
}

// decide applies remembered decisions, then the thresholds, and prompts
// the reviewer for candidates in the review band.
func (r *run) decide(ctx context.Context, sp *models.PersonRecord, cands []match.Candidate, o origin) error {
	var free []match.Candidate
	for _, c := range cands {
		if !r.isTaken(c.ID) {
			free = append(free, c)
		}
	}
	match.SortCandidates(free)

	if r.remembered(sp, free, o) {
		return nil
	}
	accept, review := r.e.opts.Thresholds(o.newLevel())
	entry := TraceEntry{Level: o.newLevel(), Step: StepPerson, Relation: o.via, SourceID: sp.ID,
		SourceFamilyID: o.familyID, Threshold: accept, Candidates: top(free, r.e.opts.MaxCandidates)}
	if len(free) == 0 {
		entry.Outcome = string(ReasonNoCandidates)
		r.trace(entry)
		r.noteUnmatched(sp.ID, ReasonNoCandidates, o)
		return nil
	}

	best := free[0]
	entry.DestinationID, entry.Score = best.ID, best.Score
	switch {
	case best.Score >= accept:
		entry.Outcome = "accepted"
		r.trace(entry)
		r.addMapping(r.mappingFor(sp.ID, best, o, false))
		return nil
	case r.e.opts.Interactive && best.Score >= review:
		entry.Outcome = "review"
		r.trace(entry)
		var shown []match.Candidate
		for _, c := range free {
			if c.Score >= review {
				shown = append(shown, c)
			}
		}
		return r.confirm(ctx, sp, top(shown, r.e.opts.MaxCandidates), o)
	default:
		entry.Outcome = "below threshold"
		r.trace(entry)
		r.noteUnmatched(sp.ID, ReasonNoMatch, o)
		return nil
	}
}

func (r *run) confirm(ctx context.Context, sp *models.PersonRecord, shown []match.Candidate, o origin) error {
	if _, asked := r.st.prompted[sp.ID]; asked {
		r.noteUnmatched(sp.ID, ReasonSkipped, o)
		return nil
	}
	if ctx.Err() != nil {
		return errCancelled
	}

	req := Request{
		Person:        sp,
		Candidates:    shown,
		FoundVia:      o.via,
		FromPersonID:  o.from.ID,
		FromFamilyID:  o.familyID,
		Level:         o.newLevel(),
		MaxCandidates: r.e.opts.MaxCandidates,
	}
	r.st.prompted[sp.ID] = struct{}{}
	r.cur.Prompts++
	resp, err := r.ask(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			delete(r.st.prompted, sp.ID)
			return errCancelled
		}
		r.e.logger.Warn("confirmation failed, skipping",
			slog.String("source", sp.ID),
			slog.String("error", err.Error()))
		resp = Response{Decision: DecisionSkipped}
	}

	entry := TraceEntry{Level: o.newLevel(), Step: StepConfirm, Relation: o.via, SourceID: sp.ID,
		SourceFamilyID: o.familyID, DestinationID: resp.SelectedID, Outcome: string(resp.Decision)}
	switch resp.Decision {
	case DecisionConfirmed:
		for _, c := range shown {
			if c.ID == resp.SelectedID {
				entry.Score = c.Score
				r.trace(entry)
				r.st.Decisions[sp.ID] = StoredDecision{Decision: DecisionConfirmed, DestinationID: c.ID}
				r.addMapping(r.mappingFor(sp.ID, c, o, true))
				return nil
			}
		}
		r.e.logger.Warn("confirmed candidate was not offered, skipping",
			slog.String("source", sp.ID),
			slog.String("selected", resp.SelectedID))
		entry.Outcome = string(DecisionSkipped)
		r.trace(entry)
		r.noteUnmatched(sp.ID, ReasonSkipped, o)
	case DecisionRejected:
		r.trace(entry)
		r.st.Decisions[sp.ID] = StoredDecision{Decision: DecisionRejected}
		r.noteUnmatched(sp.ID, ReasonRejected, o)
	case DecisionAborted:
		r.trace(entry)
		delete(r.st.prompted, sp.ID)
		r.e.logger.Info("run aborted by reviewer", slog.String("source", sp.ID))
		return errAborted
	default:
		entry.Outcome = string(DecisionSkipped)
		r.trace(entry)
		r.noteUnmatched(sp.ID, ReasonSkipped, o)
	}
	return nil
}

// ask calls the confirmer, turning a panic into an error.
func (r *run) ask(ctx context.Context, req Request) (resp Response, err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("confirmer panic: %v", v)
		}
	}()
	return r.e.confirmer.Confirm(ctx, req)
}

func (r *run) mappingFor(sourceID string, c match.Candidate, o origin, confirmed bool) models.PersonMapping {
	return models.PersonMapping{
		SourceID:      sourceID,
		DestinationID: c.ID,
		MatchScore:    c.Score,
		Level:         o.newLevel(),
		FoundVia:      o.via,
		FromFamilyID:  o.familyID,
		FromPersonID:  o.from.ID,
		Confirmed:     confirmed,
	}
}

// addMapping records m and queues its source person. A source or
// destination id is never mapped twice.
func (r *run) addMapping(m models.PersonMapping) bool {
	if r.isMapped(m.SourceID) {
		return false
	}
	if owner, taken := r.st.SourceOf(m.DestinationID); taken {
		r.anomaly(models.Anomaly{Kind: models.AnomalySlotConflict, Level: m.Level, SourceID: m.SourceID, DestinationID: m.DestinationID,
			Message: fmt.Sprintf("destination %s is already mapped from %s", m.DestinationID, owner)})
		return false
	}
	m.MappedAt = r.e.now()
	r.st.srcToDst[m.SourceID] = len(r.st.Mappings)
	r.st.dstToSrc[m.DestinationID] = m.SourceID
	r.st.visited[m.SourceID] = struct{}{}
	r.st.Mappings = append(r.st.Mappings, m)
	r.st.Queue = append(r.st.Queue, QueueItem{SourceID: m.SourceID, Level: m.Level})
	delete(r.st.Unmatched, m.SourceID)
	if r.cur != nil {
		r.cur.NewMappings++
	}
	if r.e.observer != nil {
		r.e.observer.MappingAdded(m)
	}
	return true
}

func (r *run) isMapped(sourceID string) bool {
	_, ok := r.st.srcToDst[sourceID]
	return ok
}

func (r *run) isTaken(destinationID string) bool {
	_, ok := r.st.dstToSrc[destinationID]
	return ok
}

var reasonRank = map[UnmatchedReason]int{
	ReasonNoCandidates: 1,
	ReasonNoMatch:      2,
	ReasonSkipped:      3,
	ReasonRejected:     4,
}

// noteUnmatched remembers why a source person was not mapped. Human
// decisions outrank automatic ones; otherwise the first note wins.
func (r *run) noteUnmatched(sourceID string, reason UnmatchedReason, o origin) {
	if r.isMapped(sourceID) {
		return
	}
	if prev, ok := r.st.Unmatched[sourceID]; ok && reasonRank[prev.Reason] >= reasonRank[reason] {
		return
	}
	note := UnmatchedNote{Reason: reason, NearLevel: o.level}
	if o.from != nil {
		note.NearPersonID = o.from.ID
	}
	r.st.Unmatched[sourceID] = note
}

func (r *run) anomaly(a models.Anomaly) {
	key := anomalyKey(a)
	if _, seen := r.anomalySeen[key]; seen {
		return
	}
	r.anomalySeen[key] = struct{}{}
	r.st.Anomalies = append(r.st.Anomalies, a)
	r.e.logger.Warn("propagation anomaly",
		slog.String("kind", string(a.Kind)),
		slog.String("source", a.SourceID),
		slog.String("destination", a.DestinationID),
		slog.String("family", a.FamilyID),
		slog.String("message", a.Message))
}

func anomalyKey(a models.Anomaly) string {
	return string(a.Kind) + "|" + a.SourceID + "|" + a.DestinationID + "|" + a.FamilyID
}

func (r *run) trace(t TraceEntry) {
	r.st.Trace = append(r.st.Trace, t)
}

func top(cs []match.Candidate, n int) []match.Candidate {
	if n > 0 && len(cs) > n {
		return cs[:n]
	}
	return cs
}
