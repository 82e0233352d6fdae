// Package ui provides terminal output for headless tinymem runs.
// This file implements the activity display shown by "tinymem serve --headless".
package ui

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"

	"github.com/tinymem-dev/tinymem/internal/notify"
)

// SessionStatus is the display state of one session.
type SessionStatus int

const (
	StatusActive  SessionStatus = iota
	StatusWaiting               // Blocked on a question
	StatusDone                  // Marked done or reclaimed as stale
)

// SessionState holds the display state of a single session.
type SessionState struct {
	ID       string
	Status   SessionStatus
	Question string
	Since    time.Time // when Status last changed
}

// ActivityDisplay follows notify events and shows each session's state.
// On a terminal it redraws in place; otherwise it prints one line per
// status transition.
type ActivityDisplay struct {
	mu          sync.Mutex
	out         io.Writer
	sessions    []*SessionState
	index       map[string]int
	isTTY       bool
	linesDrawn  int
	lastPrinted map[string]SessionStatus
	now         func() time.Time
}

// NewActivityDisplay creates an ActivityDisplay writing to out. Redrawing is
// enabled only when out is a terminal.
func NewActivityDisplay(out io.Writer) *ActivityDisplay {
	isTTY := false
	if f, ok := out.(*os.File); ok {
		isTTY = term.IsTerminal(int(f.Fd()))
	}
	return &ActivityDisplay{
		out:         out,
		index:       make(map[string]int),
		isTTY:       isTTY,
		lastPrinted: make(map[string]SessionStatus),
		now:         time.Now,
	}
}

// Follow applies events until ctx is done or events is closed.
func (d *ActivityDisplay) Follow(ctx context.Context, events <-chan notify.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			d.Apply(ev)
		}
	}
}

// Apply updates the display for one event. Refresh events are ignored.
func (d *ActivityDisplay) Apply(ev notify.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var (
		status   SessionStatus
		question string
	)
	switch ev.Kind {
	case notify.NewSession, notify.SessionReactivated, notify.QuestionAnswered, notify.QuestionTimeout:
		status = StatusActive
	case notify.NewQuestion:
		status = StatusWaiting
		question = ev.Detail
	case notify.SessionDone, notify.StaleCleaned:
		status = StatusDone
	default:
		return
	}
	if ev.SessionID == "" {
		return
	}

	idx, ok := d.index[ev.SessionID]
	if !ok {
		idx = len(d.sessions)
		d.index[ev.SessionID] = idx
		d.sessions = append(d.sessions, &SessionState{ID: ev.SessionID})
	}
	s := d.sessions[idx]
	if s.Status != status || !ok {
		s.Since = d.now()
	}
	s.Status = status
	s.Question = question

	d.render()
}

// Snapshot returns a copy of the tracked sessions in first-seen order.
func (d *ActivityDisplay) Snapshot() []SessionState {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]SessionState, len(d.sessions))
	for i, s := range d.sessions {
		out[i] = *s
	}
	return out
}

func (d *ActivityDisplay) render() {
	if !d.isTTY {
		d.renderPlain()
		return
	}
	d.renderTTY()
}

// renderTTY redraws every session using ANSI escape codes for in-place updates.
func (d *ActivityDisplay) renderTTY() {
	if d.linesDrawn > 0 {
		fmt.Fprintf(d.out, "\033[%dA", d.linesDrawn)
	}

	var buf strings.Builder
	buf.WriteString("\033[2K\033[1mtinymem sessions\033[0m\n")
	buf.WriteString("\033[2K\n")
	for _, s := range d.sessions {
		buf.WriteString("\033[2K")
		buf.WriteString(formatSessionLine(s, d.now()))
		buf.WriteString("\n")
	}

	fmt.Fprint(d.out, buf.String())
	d.linesDrawn = len(d.sessions) + 2
}

// renderPlain prints only sessions whose status changed since last printed.
func (d *ActivityDisplay) renderPlain() {
	for _, s := range d.sessions {
		if prev, seen := d.lastPrinted[s.ID]; seen && prev == s.Status {
			continue
		}
		fmt.Fprintln(d.out, formatSessionLinePlain(s))
		d.lastPrinted[s.ID] = s.Status
	}
}

func formatSessionLine(s *SessionState, now time.Time) string {
	line := fmt.Sprintf("  %s %s  %s", statusIcon(s.Status), s.ID, statusDetail(s, now))
	if s.Status == StatusWaiting && s.Question != "" {
		q := s.Question
		if len(q) > 60 {
			q = q[:57] + "..."
		}
		line += "  " + q
	}
	return line
}

func formatSessionLinePlain(s *SessionState) string {
	var status string
	switch s.Status {
	case StatusWaiting:
		status = "WAITING"
	case StatusDone:
		status = "DONE"
	default:
		status = "ACTIVE"
	}
	line := fmt.Sprintf("[%s] %s", status, s.ID)
	if s.Status == StatusWaiting && s.Question != "" {
		line += ": " + s.Question
	}
	return line
}

func statusIcon(status SessionStatus) string {
	switch status {
	case StatusWaiting:
		return "\033[31m?\033[0m" // red question mark
	case StatusDone:
		return "\033[90m○\033[0m" // dim circle
	default:
		return "\033[32m●\033[0m" // green dot
	}
}

func statusDetail(s *SessionState, now time.Time) string {
	switch s.Status {
	case StatusWaiting:
		return fmt.Sprintf("\033[31m[waiting %s]\033[0m", formatDuration(now.Sub(s.Since)))
	case StatusDone:
		return "\033[90m[done]\033[0m"
	default:
		return "\033[32m[active]\033[0m"
	}
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh%dm%ds", h, m, s)
}
