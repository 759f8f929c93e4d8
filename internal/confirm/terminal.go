// Package confirm provides the reviewers the wave engine consults for
// uncertain matches, and the file that remembers their decisions.
package confirm

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/starford/treesync/internal/wave"
)

// ErrInputClosed is returned once the terminal input reaches EOF.
var ErrInputClosed = errors.New("confirm: input closed")

// Terminal asks on a text stream. Answers: a candidate number confirms it,
// "n" rejects, "s" or an empty line skips, "q" aborts the run.
type Terminal struct {
	out io.Writer

	once  sync.Once
	in    io.Reader
	lines chan string

	done      chan struct{}
	closeOnce sync.Once
}

// NewTerminal creates a Terminal reading answers from in and writing
// prompts to out.
func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	return &Terminal{in: in, out: out, done: make(chan struct{})}
}

// Close stops the background reader. A read already blocked on the input
// ends with the next line or EOF. Confirm fails with ErrInputClosed after
// Close.
func (t *Terminal) Close() error {
	t.closeOnce.Do(func() { close(t.done) })
	return nil
}

// start reads lines in the background so Confirm can honour cancellation
// while waiting for input.
func (t *Terminal) start() {
	t.lines = make(chan string)
	go func() {
		defer close(t.lines)
		sc := bufio.NewScanner(t.in)
		for sc.Scan() {
			select {
			case <-t.done:
				return
			default:
			}
			select {
			case t.lines <- sc.Text():
			case <-t.done:
				return
			}
		}
	}()
}

// Confirm prints the request and waits for a valid answer.
func (t *Terminal) Confirm(ctx context.Context, req wave.Request) (wave.Response, error) {
	t.once.Do(t.start)
	t.render(req)
	for {
		fmt.Fprint(t.out, "choice [1-", len(req.Candidates), ", n=no match, s=skip, q=quit]: ")
		var line string
		select {
		case <-ctx.Done():
			return wave.Response{}, ctx.Err()
		case <-t.done:
			return wave.Response{}, ErrInputClosed
		case l, ok := <-t.lines:
			if !ok {
				return wave.Response{}, ErrInputClosed
			}
			line = l
		}
		if resp, ok := parseAnswer(line, req); ok {
			return resp, nil
		}
		fmt.Fprintf(t.out, "unrecognised answer %q\n", line)
	}
}

func (t *Terminal) render(req wave.Request) {
	p := req.Person
	fmt.Fprintf(t.out, "\nLevel %d: %s (via %s", req.Level, p.Label(), req.FoundVia)
	if req.FromPersonID != "" {
		fmt.Fprintf(t.out, " of %s", req.FromPersonID)
	}
	fmt.Fprintln(t.out, ")")
	for i, c := range req.Candidates {
		label := c.ID
		if c.Person != nil {
			label = c.Person.Label()
		}
		fmt.Fprintf(t.out, "  %d) %s  score %d\n", i+1, label, c.Score)
		for _, r := range c.Reasons {
			if r.Points == 0 && r.Detail == "" {
				continue
			}
			fmt.Fprintf(t.out, "       %-12s %5.1f  %s\n", r.Field, r.Points, r.Detail)
		}
		rel := c.Relations
		fmt.Fprintf(t.out, "       relatives: parents %d/%d, children %d/%d, siblings %d/%d, spouse %t\n",
			rel.Parents, rel.ParentsTotal, rel.Children, rel.ChildrenTotal, rel.Siblings, rel.SiblingsTotal, rel.Spouse)
	}
}

func parseAnswer(line string, req wave.Request) (wave.Response, bool) {
	switch a := strings.ToLower(strings.TrimSpace(line)); a {
	case "", "s", "skip":
		return wave.Response{Decision: wave.DecisionSkipped}, true
	case "n", "no":
		return wave.Response{Decision: wave.DecisionRejected}, true
	case "q", "quit":
		return wave.Response{Decision: wave.DecisionAborted}, true
	default:
		n, err := strconv.Atoi(a)
		if err != nil || n < 1 || n > len(req.Candidates) {
			return wave.Response{}, false
		}
		return wave.Response{Decision: wave.DecisionConfirmed, SelectedID: req.Candidates[n-1].ID}, true
	}
}
