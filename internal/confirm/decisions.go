package confirm

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/starford/treesync/internal/storage"
	"github.com/starford/treesync/internal/wave"
)

type decisionsFile struct {
	Decisions wave.Decisions `yaml:"decisions"`
}

// LoadDecisionsFile reads remembered decisions. A missing file is an empty
// set.
func LoadDecisionsFile(path string) (wave.Decisions, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return wave.Decisions{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("confirm: read decisions: %w", err)
	}
	var f decisionsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("confirm: parse decisions %s: %w", path, err)
	}
	if f.Decisions == nil {
		f.Decisions = wave.Decisions{}
	}
	return f.Decisions, nil
}

// SaveDecisionsFile writes d atomically. Skipped decisions are not stored.
func SaveDecisionsFile(path string, d wave.Decisions) error {
	keep := wave.Decisions{}
	for id, sd := range d {
		if sd.Decision == wave.DecisionConfirmed || sd.Decision == wave.DecisionRejected {
			keep[id] = sd
		}
	}
	data, err := yaml.Marshal(decisionsFile{Decisions: keep})
	if err != nil {
		return fmt.Errorf("confirm: encode decisions: %w", err)
	}
	dir, name := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	store, err := storage.EnsureFS(dir)
	if err != nil {
		return err
	}
	return store.Write(name, data)
}

// Merge returns base overlaid with newer.
func Merge(base, newer wave.Decisions) wave.Decisions {
	out := maps.Clone(base)
	if out == nil {
		out = wave.Decisions{}
	}
	maps.Copy(out, newer)
	return out
}

// Static answers from a fixed table keyed by source person id, falling
// back to Default. It records the requests it saw.
type Static struct {
	Responses map[string]wave.Response
	Default   wave.Response

	mu   sync.Mutex
	seen []wave.Request
}

// Confirm implements wave.Confirmer.
func (s *Static) Confirm(_ context.Context, req wave.Request) (wave.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, req)
	if r, ok := s.Responses[req.Person.ID]; ok {
		return r, nil
	}
	if s.Default.Decision == "" {
		return wave.Response{Decision: wave.DecisionSkipped}, nil
	}
	return s.Default, nil
}

// Requests returns the requests seen so far.
func (s *Static) Requests() []wave.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]wave.Request(nil), s.seen...)
}
