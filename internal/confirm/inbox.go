package confirm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/treesync/internal/match"
	"github.com/starford/treesync/internal/storage"
	"github.com/starford/treesync/internal/wave"
)

const (
	requestSuffix  = ".request.json"
	responseSuffix = ".response.json"

	// Answered pairs are kept under answeredDir; files found in the inbox
	// before a question was asked go to staleDir.
	answeredDir = "answered"
	staleDir    = "stale"
)

// InboxRequest is the file written for an out-of-process reviewer.
type InboxRequest struct {
	Key        string                `json:"key"`
	Person     string                `json:"person"`
	Request    wave.Request          `json:"request"`
	Candidates []InboxCandidateLabel `json:"candidate_labels"`
	CreatedAt  time.Time             `json:"created_at"`
}

// InboxCandidateLabel names a candidate, which the request itself only
// carries by id.
type InboxCandidateLabel struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Inbox hands requests to another process through a directory: it writes
// <key>.request.json and blocks until <key>.response.json appears. Only a
// response written after the request counts as its answer.
type Inbox struct {
	store  *storage.FS
	logger *slog.Logger
	now    func() time.Time
}

// NewInbox creates the inbox directory when missing and moves files left
// by an earlier run to the stale directory.
func NewInbox(dir string, logger *slog.Logger) (*Inbox, error) {
	fs, err := storage.EnsureFS(dir)
	if err != nil {
		return nil, fmt.Errorf("confirm: inbox: %w", err)
	}
	b := &Inbox{store: fs, logger: logger, now: time.Now}
	left, err := b.Pending()
	if err != nil {
		return nil, fmt.Errorf("confirm: inbox: %w", err)
	}
	for _, fi := range left {
		b.archive(staleDir, fi.Path)
	}
	if len(left) > 0 {
		logger.Warn("inbox: set aside files from an earlier run", slog.Int("files", len(left)), slog.String("dir", staleDir))
	}
	return b, nil
}

// Pending lists the request and response files waiting in the inbox.
func (b *Inbox) Pending() ([]storage.FileInfo, error) {
	all, err := b.store.List("", ".json")
	if err != nil {
		return nil, err
	}
	var out []storage.FileInfo
	for _, fi := range all {
		if filepath.Dir(fi.Path) != "." {
			continue
		}
		if strings.HasSuffix(fi.Path, requestSuffix) || strings.HasSuffix(fi.Path, responseSuffix) {
			out = append(out, fi)
		}
	}
	return out, nil
}

// archive moves name into dir under a time-stamped name so repeated
// questions about one person never collide.
func (b *Inbox) archive(dir, name string) {
	dst := path.Join(dir, b.now().UTC().Format("20060102T150405.000000000")+"-"+name)
	if err := b.store.Move(name, dst); err != nil {
		b.logger.Warn("inbox: archive failed", slog.String("file", name), slog.String("error", err.Error()))
	}
}

// Dir returns the absolute inbox directory.
func (b *Inbox) Dir() string {
	return b.store.Root()
}

// Confirm publishes req and waits for the matching response file or for ctx
// to end. Half-written responses are ignored until they parse.
func (b *Inbox) Confirm(ctx context.Context, req wave.Request) (wave.Response, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return wave.Response{}, fmt.Errorf("confirm: watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(b.store.Root()); err != nil {
		return wave.Response{}, fmt.Errorf("confirm: watch inbox: %w", err)
	}

	key := FileKey(req.Person.ID)
	if _, err := b.store.Read(key + responseSuffix); err == nil {
		b.logger.Warn("inbox: dropping an answer written before the question", slog.String("key", key))
		if err := b.store.Delete(key + responseSuffix); err != nil {
			return wave.Response{}, fmt.Errorf("confirm: drop stale response: %w", err)
		}
	}
	doc := InboxRequest{Key: key, Person: req.Person.Label(), Request: req, CreatedAt: b.now().UTC()}
	for _, c := range req.Candidates {
		doc.Candidates = append(doc.Candidates, InboxCandidateLabel{ID: c.ID, Label: candidateLabel(c)})
	}
	if err := storage.WriteJSON(b.store, key+requestSuffix, doc); err != nil {
		return wave.Response{}, err
	}
	b.logger.Info("inbox: waiting for review", slog.String("key", key), slog.String("person", doc.Person))

	// The reviewer may have answered before the watcher saw anything.
	if resp, ok := b.readResponse(key); ok {
		return resp, nil
	}
	for {
		select {
		case <-ctx.Done():
			return wave.Response{}, ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return wave.Response{}, fmt.Errorf("confirm: inbox watcher closed")
			}
			if filepath.Base(ev.Name) != key+responseSuffix || ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if resp, ok := b.readResponse(key); ok {
				return resp, nil
			}
		case werr, ok := <-w.Errors:
			if !ok {
				return wave.Response{}, fmt.Errorf("confirm: inbox watcher closed")
			}
			b.logger.Warn("inbox: watcher error", slog.String("error", werr.Error()))
		}
	}
}

// readResponse parses the response file and archives both files on success.
func (b *Inbox) readResponse(key string) (wave.Response, bool) {
	data, err := b.store.Read(key + responseSuffix)
	if err != nil {
		return wave.Response{}, false
	}
	var resp wave.Response
	if err := json.Unmarshal(data, &resp); err != nil || resp.Decision == "" {
		return wave.Response{}, false
	}
	for _, name := range []string{key + requestSuffix, key + responseSuffix} {
		b.archive(answeredDir, name)
	}
	b.logger.Info("inbox: decision received", slog.String("key", key), slog.String("decision", string(resp.Decision)))
	return resp, true
}

// FileKey turns a person id such as "@I12@" into a file-name-safe key.
func FileKey(id string) string {
	key := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, id)
	return strings.Trim(key, "_")
}

func candidateLabel(c match.Candidate) string {
	if c.Person != nil {
		return c.Person.Label()
	}
	return c.ID
}
