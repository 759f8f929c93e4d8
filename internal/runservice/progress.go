package runservice

import (
	"github.com/starford/treesync/internal/models"
	"github.com/starford/treesync/internal/sse"
	"github.com/starford/treesync/internal/wave"
)

// LevelEvent is the payload of a level.completed event.
type LevelEvent struct {
	RunID string          `json:"run_id"`
	Stats wave.LevelStats `json:"stats"`
}

// progress forwards engine callbacks to the publisher.
type progress struct {
	runID  string
	pub    Publisher
	mapped int
}

func (p *progress) MappingAdded(m models.PersonMapping) {
	p.mapped++
	if p.pub != nil {
		p.pub.PublishProgress(sse.Progress{RunID: p.runID, Mapped: p.mapped, Level: m.Level})
	}
}

func (p *progress) LevelCompleted(s wave.LevelStats) {
	if p.pub != nil {
		p.pub.Publish(sse.Event{Type: sse.EventLevelCompleted, Data: LevelEvent{RunID: p.runID, Stats: s}})
	}
}
