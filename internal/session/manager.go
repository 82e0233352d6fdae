// Package session manages the tinymem session lifecycle: creation, activity
// tracking, done/reactivate transitions, stale reclamation and the blocking
// ask/answer rendezvous with a human.
package session

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tinymem-dev/tinymem/internal/notify"
	"github.com/tinymem-dev/tinymem/internal/store"
)

// ErrNotFound is returned by operations that need an existing session.
var ErrNotFound = errors.New("session not found")

// Config tunes the manager. Zero durations fall back to the defaults.
type Config struct {
	PollInterval time.Duration
	AskTimeout   time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
}

const (
	DefaultPollInterval = 500 * time.Millisecond
	DefaultAskTimeout   = 300 * time.Second
)

// Manager drives session state through the entity store.
type Manager struct {
	store  *store.Store
	bus    *notify.Bus
	logger *slog.Logger
	cfg    Config

	mu      sync.Mutex
	waiters map[string]chan struct{}
}

// NewManager returns a Manager. bus and logger may be nil.
func NewManager(st *store.Store, bus *notify.Bus, logger *slog.Logger, cfg Config) *Manager {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.AskTimeout <= 0 {
		cfg.AskTimeout = DefaultAskTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		store:   st,
		bus:     bus,
		logger:  logger,
		cfg:     cfg,
		waiters: make(map[string]chan struct{}),
	}
}

// Store returns the entity store the manager writes through.
func (m *Manager) Store() *store.Store { return m.store }

func (m *Manager) now() int64 { return m.cfg.Now().Unix() }

// Now returns the manager's clock in Unix seconds, the unit stored records use.
func (m *Manager) Now() int64 { return m.now() }

func (m *Manager) publish(kind notify.Kind, id, detail string) {
	m.bus.Publish(notify.Event{Kind: kind, SessionID: id, Detail: detail})
}

// NewID returns a short random session id.
func NewID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:4])
}

// CreateRequest describes a new session. When Name is set it doubles as the id.
type CreateRequest struct {
	Agent string `json:"agent"`
	Name  string `json:"name,omitempty"`
	Cwd   string `json:"cwd"`
}

// Create starts a new Active session.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*store.Session, error) {
	id := req.Name
	if id == "" {
		id = NewID()
	}
	ts := m.now()
	sess := &store.Session{
		ID:           id,
		Name:         req.Name,
		Agent:        req.Agent,
		Cwd:          req.Cwd,
		Status:       store.Active(),
		Created:      ts,
		LastActivity: ts,
	}
	if err := m.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	m.logger.Info("session created", "session", id, "agent", req.Agent)
	m.publish(notify.NewSession, id, req.Agent)
	return sess, nil
}

// Start resolves externalID to a session. A mapped session that still exists
// is touched and returned with reused=true; otherwise a new session is
// created and mapped.
func (m *Manager) Start(ctx context.Context, externalID, agent, cwd string) (sess *store.Session, reused bool, err error) {
	id, ok, err := m.store.Mapping(ctx, externalID)
	if err != nil {
		return nil, false, fmt.Errorf("looking up mapping: %w", err)
	}
	if ok {
		sess, err := m.Touch(ctx, id)
		if err != nil {
			return nil, false, err
		}
		if sess != nil {
			m.publish(notify.Refresh, id, "")
			return sess, true, nil
		}
	}

	sess, err = m.Create(ctx, CreateRequest{Agent: agent, Cwd: cwd})
	if err != nil {
		return nil, false, err
	}
	if err := m.store.SetMapping(ctx, externalID, sess.ID); err != nil {
		return nil, false, fmt.Errorf("storing mapping: %w", err)
	}
	return sess, false, nil
}

// Touch records activity on session id and reactivates it if it was Done.
// It returns nil when the session does not exist.
func (m *Manager) Touch(ctx context.Context, id string) (*store.Session, error) {
	sess, reactivated, err := m.store.Touch(ctx, id, m.now())
	if err != nil {
		return nil, fmt.Errorf("touching session %s: %w", id, err)
	}
	if reactivated {
		m.logger.Info("session reactivated", "session", id)
		m.publish(notify.SessionReactivated, id, "")
	}
	return sess, nil
}

// MarkDone moves session id to history. Missing or already-done sessions are
// left alone.
func (m *Manager) MarkDone(ctx context.Context, id string) error {
	changed, err := m.store.MarkDone(ctx, id)
	if err != nil {
		return fmt.Errorf("marking session %s done: %w", id, err)
	}
	if changed {
		m.logger.Info("session done", "session", id)
		m.publish(notify.SessionDone, id, "")
	}
	return nil
}

// StaleSessions returns the Active sessions idle for longer than
// maxInactive. Waiting sessions are never stale.
func (m *Manager) StaleSessions(ctx context.Context, maxInactive time.Duration) ([]string, error) {
	ids, err := m.store.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing active sessions: %w", err)
	}
	now := m.now()
	limit := int64(maxInactive / time.Second)

	var stale []string
	for _, id := range ids {
		sess, err := m.store.GetSession(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrCorrupt) {
				m.logger.Debug("skipping unreadable session", "session", id, "error", err)
				continue
			}
			return nil, err
		}
		if sess == nil || sess.Status.Type != store.StatusActive {
			continue
		}
		if now-sess.LastActivity > limit {
			stale = append(stale, id)
		}
	}
	return stale, nil
}

// CleanupStale marks done every stale session and returns their ids.
// A touch racing with the sweep may be overridden; the session comes back on
// its next touch.
func (m *Manager) CleanupStale(ctx context.Context, maxInactive time.Duration) ([]string, error) {
	stale, err := m.StaleSessions(ctx, maxInactive)
	if err != nil {
		return nil, err
	}

	var cleaned []string
	for _, id := range stale {
		changed, err := m.store.MarkDone(ctx, id)
		if err != nil {
			return cleaned, fmt.Errorf("marking session %s done: %w", id, err)
		}
		if changed {
			cleaned = append(cleaned, id)
			m.publish(notify.StaleCleaned, id, "")
		}
	}
	if len(cleaned) > 0 {
		m.logger.Info("stale sessions cleaned", "count", len(cleaned))
		m.publish(notify.Refresh, "", "")
	}
	return cleaned, nil
}

// AppendHook records a lifecycle event. A "pre" hook marks its task as the
// session's active tool; any other kind clears it.
func (m *Manager) AppendHook(ctx context.Context, id, kind, task string, meta json.RawMessage) error {
	var err error
	if kind == store.HookKindPre {
		err = m.store.SetActiveTool(ctx, id, task)
	} else {
		err = m.store.ClearActiveTool(ctx, id)
	}
	if err != nil {
		return fmt.Errorf("updating active tool: %w", err)
	}

	hook := store.Hook{TS: m.now(), Kind: kind, Task: task, Meta: meta}
	if err := m.store.AppendHook(ctx, id, hook); err != nil {
		return fmt.Errorf("appending hook: %w", err)
	}
	if _, err := m.Touch(ctx, id); err != nil {
		return err
	}
	m.publish(notify.Refresh, id, "")
	return nil
}

// AppendMessage adds a note to the session log and touches the session.
func (m *Manager) AppendMessage(ctx context.Context, id, role, content string) error {
	msg := store.Message{TS: m.now(), Role: role, Content: content}
	if err := m.store.AppendMessage(ctx, id, msg); err != nil {
		return fmt.Errorf("appending message: %w", err)
	}
	if _, err := m.Touch(ctx, id); err != nil {
		return err
	}
	m.publish(notify.Refresh, id, "")
	return nil
}

// Get returns session id, or nil.
func (m *Manager) Get(ctx context.Context, id string) (*store.Session, error) {
	return m.store.GetSession(ctx, id)
}

// ListActive returns the active session ids.
func (m *Manager) ListActive(ctx context.Context) ([]string, error) {
	return m.store.ListActive(ctx)
}

// ListHistory returns up to limit done session ids, most recent first.
func (m *Manager) ListHistory(ctx context.Context, limit int) ([]string, error) {
	return m.store.ListHistory(ctx, limit)
}
