package wave

import (
	"maps"
	"slices"

	"github.com/starford/treesync/internal/models"
)

// QueueItem is a mapped source person waiting to be expanded.
type QueueItem struct {
	SourceID string `json:"source_id"`
	Level    int    `json:"level"`
}

// UnmatchedNote remembers where and why propagation stalled near a person.
type UnmatchedNote struct {
	Reason       UnmatchedReason `json:"reason"`
	NearPersonID string          `json:"near_person_id,omitempty"`
	NearLevel    int             `json:"near_level"`
}

// State is the engine's complete mutable state as plain values, so a run
// can be checkpointed and resumed.
type State struct {
	Anchor      AnchorInfo               `json:"anchor"`
	Queue       []QueueItem              `json:"queue"`
	Visited     []string                 `json:"visited"`
	Mappings    []models.PersonMapping   `json:"mappings"`
	FamilyPairs map[string]string        `json:"family_pairs"`
	Decisions   Decisions                `json:"decisions,omitempty"`
	Prompted    []string                 `json:"prompted,omitempty"`
	Unmatched   map[string]UnmatchedNote `json:"unmatched,omitempty"`
	Levels      []LevelStats             `json:"levels"`
	Anomalies   []models.Anomaly         `json:"anomalies,omitempty"`
	Trace       []TraceEntry             `json:"trace,omitempty"`

	// ExpandingID is the person whose expansion was interrupted, and
	// ExpandedFamilies the families of that person already processed.
	ExpandingID      string   `json:"expanding_id,omitempty"`
	ExpandedFamilies []string `json:"expanded_families,omitempty"`
}

// runState is State plus the lookup indexes derived from it.
type runState struct {
	State

	srcToDst   map[string]int // source id -> index into Mappings
	dstToSrc   map[string]string
	visited    map[string]struct{}
	usedFamily map[string]struct{} // destination families already paired
	prompted   map[string]struct{}
}

// newRunState takes a private copy of st.
func newRunState(st State) *runState {
	st.Queue = slices.Clone(st.Queue)
	st.Mappings = slices.Clone(st.Mappings)
	st.FamilyPairs = maps.Clone(st.FamilyPairs)
	st.Decisions = maps.Clone(st.Decisions)
	st.Unmatched = maps.Clone(st.Unmatched)
	st.Levels = slices.Clone(st.Levels)
	st.Anomalies = slices.Clone(st.Anomalies)
	st.Trace = slices.Clone(st.Trace)
	st.ExpandedFamilies = slices.Clone(st.ExpandedFamilies)
	rs := &runState{
		State:      st,
		srcToDst:   make(map[string]int, len(st.Mappings)),
		dstToSrc:   make(map[string]string, len(st.Mappings)),
		visited:    make(map[string]struct{}, len(st.Visited)),
		usedFamily: make(map[string]struct{}, len(st.FamilyPairs)),
		prompted:   make(map[string]struct{}, len(st.Prompted)),
	}
	if rs.FamilyPairs == nil {
		rs.FamilyPairs = make(map[string]string)
	}
	if rs.Decisions == nil {
		rs.Decisions = make(Decisions)
	}
	if rs.Unmatched == nil {
		rs.Unmatched = make(map[string]UnmatchedNote)
	}
	for i, m := range st.Mappings {
		rs.srcToDst[m.SourceID] = i
		rs.dstToSrc[m.DestinationID] = m.SourceID
		rs.visited[m.SourceID] = struct{}{}
	}
	for _, id := range st.Visited {
		rs.visited[id] = struct{}{}
	}
	for _, df := range st.FamilyPairs {
		rs.usedFamily[df] = struct{}{}
	}
	for _, id := range st.Prompted {
		rs.prompted[id] = struct{}{}
	}
	return rs
}

// DestinationOf implements match.MappingView.
func (rs *runState) DestinationOf(sourceID string) (string, bool) {
	i, ok := rs.srcToDst[sourceID]
	if !ok {
		return "", false
	}
	return rs.Mappings[i].DestinationID, true
}

// SourceOf implements match.MappingView.
func (rs *runState) SourceOf(destinationID string) (string, bool) {
	s, ok := rs.dstToSrc[destinationID]
	return s, ok
}

// snapshot copies the state so later engine activity cannot change it.
func (rs *runState) snapshot() *State {
	st := State{
		Anchor:      rs.Anchor,
		Queue:       slices.Clone(rs.Queue),
		Visited:     slices.Sorted(maps.Keys(rs.visited)),
		Mappings:    slices.Clone(rs.Mappings),
		FamilyPairs: maps.Clone(rs.FamilyPairs),
		Decisions:   maps.Clone(rs.Decisions),
		Prompted:    slices.Sorted(maps.Keys(rs.prompted)),
		Unmatched:   maps.Clone(rs.Unmatched),
		Levels:      slices.Clone(rs.Levels),
		Anomalies:   slices.Clone(rs.Anomalies),
		Trace:       slices.Clone(rs.Trace),

		ExpandingID:      rs.ExpandingID,
		ExpandedFamilies: slices.Clone(rs.ExpandedFamilies),
	}
	return &st
}
