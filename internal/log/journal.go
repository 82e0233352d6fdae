// Package log provides operational logging and the session lifecycle journal.
// The journal appends one JSON event per line to a file.
package log

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tinymem-dev/tinymem/internal/notify"
)

// Event type constants.
const (
	EventSessionCreated     = "session_created"
	EventSessionDone        = "session_done"
	EventSessionReactivated = "session_reactivated"
	EventQuestionAsked      = "question_asked"
	EventQuestionAnswered   = "question_answered"
	EventQuestionTimeout    = "question_timeout"
	EventStaleCleaned       = "stale_cleaned"
)

// Event is a single lifecycle entry written to the journal.
type Event struct {
	Time      time.Time `json:"time"`
	Event     string    `json:"event"`
	SessionID string    `json:"session,omitempty"`
	Agent     string    `json:"agent,omitempty"`
	Question  string    `json:"question,omitempty"`
	Answer    string    `json:"answer,omitempty"`
}

// Journal writes append-only JSONL events to a file.
type Journal struct {
	path string
	mu   sync.Mutex
}

// NewJournal creates a Journal writing to path, creating its directory if
// needed. An existing file is appended to, never truncated.
func NewJournal(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	return &Journal{path: path}, nil
}

// Path returns the journal file path.
func (j *Journal) Path() string { return j.path }

// Append writes a single Event as one JSON line.
// If event.Time is the zero value, it is set to time.Now().UTC().
func (j *Journal) Append(event Event) error {
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal journal event: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write journal event: %w", err)
	}

	return nil
}

// ReadAll reads and parses all events from the journal.
// Returns an empty slice (not an error) if the file does not exist.
func (j *Journal) ReadAll() ([]Event, error) {
	f, err := os.Open(j.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Event{}, nil
		}
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var event Event
		if err := json.Unmarshal(line, &event); err != nil {
			return nil, fmt.Errorf("parse journal line %d: %w", lineNum, err)
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}

	return events, nil
}

// FromNotify converts a bus event into a journal entry. Events the journal
// does not record report false.
func FromNotify(ev notify.Event) (Event, bool) {
	out := Event{Time: ev.Time, SessionID: ev.SessionID}
	switch ev.Kind {
	case notify.NewSession:
		out.Event = EventSessionCreated
		out.Agent = ev.Detail
	case notify.SessionDone:
		out.Event = EventSessionDone
	case notify.SessionReactivated:
		out.Event = EventSessionReactivated
	case notify.NewQuestion:
		out.Event = EventQuestionAsked
		out.Question = ev.Detail
	case notify.QuestionAnswered:
		out.Event = EventQuestionAnswered
		out.Answer = ev.Detail
	case notify.QuestionTimeout:
		out.Event = EventQuestionTimeout
		out.Question = ev.Detail
	case notify.StaleCleaned:
		out.Event = EventStaleCleaned
	default:
		return Event{}, false
	}
	return out, true
}

// Record appends journal entries for events received until ctx is done or
// events is closed. Write failures are logged and otherwise ignored.
func (j *Journal) Record(ctx context.Context, events <-chan notify.Event, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			entry, ok := FromNotify(ev)
			if !ok {
				continue
			}
			if err := j.Append(entry); err != nil && logger != nil {
				logger.Warn("journal append failed", "error", err)
			}
		}
	}
}
