package tui

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/tinymem-dev/tinymem/internal/score"
	"github.com/tinymem-dev/tinymem/internal/session"
	"github.com/tinymem-dev/tinymem/internal/store"
)

// historyLimit is how many done sessions the History tab shows.
const historyLimit = 20

const (
	hookPreviewRunes = 45
	hookMetaRunes    = 1000
	chainLinkRunes   = 500
	artifactRunes    = 5000
)

// previewKeys are the hook meta fields shown next to the task, in priority order.
var previewKeys = []string{"file_path", "command", "pattern", "query", "url", "skill", "prompt"}

// SessionRow is a session plus the per-session state the dashboard shows.
type SessionRow struct {
	Session    store.Session
	ActiveTool string
	Pending    string
	LastHook   *store.Hook
}

// Waiting reports whether the session has an unanswered question.
func (r SessionRow) Waiting() bool {
	return r.Session.Status.Type == store.StatusWaiting || r.Pending != ""
}

// Question returns the pending question, preferring the live pending key.
func (r SessionRow) Question() string {
	if r.Pending != "" {
		return r.Pending
	}
	return r.Session.Status.Question
}

// Snapshot is everything the dashboard renders, read in one pass.
type Snapshot struct {
	Active    []SessionRow
	History   []SessionRow
	Chains    []store.ChainSummary
	Artifacts []store.Artifact
}

// LoadSnapshot reads the dashboard state. Unreadable sessions are skipped.
func LoadSnapshot(ctx context.Context, mgr *session.Manager) (Snapshot, error) {
	st := mgr.Store()
	var snap Snapshot

	ids, err := mgr.ListActive(ctx)
	if err != nil {
		return snap, fmt.Errorf("listing active sessions: %w", err)
	}
	for _, id := range ids {
		row, ok, err := loadRow(ctx, st, id, true)
		if err != nil {
			return snap, err
		}
		if ok {
			snap.Active = append(snap.Active, row)
		}
	}
	slices.SortFunc(snap.Active, func(a, b SessionRow) int {
		if a.Waiting() != b.Waiting() {
			if a.Waiting() {
				return -1
			}
			return 1
		}
		if c := cmp.Compare(b.Session.LastActivity, a.Session.LastActivity); c != 0 {
			return c
		}
		return cmp.Compare(a.Session.ID, b.Session.ID)
	})

	ids, err = mgr.ListHistory(ctx, historyLimit)
	if err != nil {
		return snap, fmt.Errorf("listing history: %w", err)
	}
	for _, id := range ids {
		row, ok, err := loadRow(ctx, st, id, false)
		if err != nil {
			return snap, err
		}
		if ok {
			snap.History = append(snap.History, row)
		}
	}

	if snap.Chains, err = st.ListChains(ctx); err != nil {
		return snap, fmt.Errorf("listing chains: %w", err)
	}
	if snap.Artifacts, err = st.ListArtifacts(ctx); err != nil {
		return snap, fmt.Errorf("listing artifacts: %w", err)
	}
	return snap, nil
}

func loadRow(ctx context.Context, st *store.Store, id string, live bool) (SessionRow, bool, error) {
	sess, err := st.GetSession(ctx, id)
	if errors.Is(err, store.ErrCorrupt) {
		return SessionRow{}, false, nil
	}
	if err != nil {
		return SessionRow{}, false, fmt.Errorf("reading session %s: %w", id, err)
	}
	if sess == nil {
		return SessionRow{}, false, nil
	}
	row := SessionRow{Session: *sess}

	hooks, err := st.Hooks(ctx, id, 1)
	if err != nil {
		return row, false, fmt.Errorf("reading hooks of %s: %w", id, err)
	}
	if len(hooks) > 0 {
		row.LastHook = &hooks[len(hooks)-1]
	}
	if !live {
		return row, true, nil
	}

	if row.ActiveTool, err = st.ActiveTool(ctx, id); err != nil {
		return row, false, fmt.Errorf("reading active tool of %s: %w", id, err)
	}
	if q, ok, err := st.Pending(ctx, id); err != nil {
		return row, false, fmt.Errorf("reading pending question of %s: %w", id, err)
	} else if ok {
		row.Pending = q
	}
	return row, true, nil
}

// Icon returns the status icon for the row.
func (r SessionRow) Icon() string {
	switch {
	case r.Session.Status.Type == store.StatusDone:
		return IconDone
	case r.Waiting():
		return IconWaiting
	case r.ActiveTool != "":
		return IconRunning
	default:
		return IconActive
	}
}

// hookPreview renders the one-line summary of a hook shown under a session.
func hookPreview(h *store.Hook) string {
	if h == nil {
		return ""
	}
	arrow := "✓"
	if h.Kind == store.HookKindPre {
		arrow = "→"
	}
	line := arrow + " " + h.Task
	if v := metaPreview(h.Meta); v != "" {
		line += " " + v
	}
	return truncate(line, hookPreviewRunes)
}

func metaPreview(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var meta map[string]any
	if err := json.Unmarshal(raw, &meta); err != nil {
		return ""
	}
	for _, k := range previewKeys {
		switch v := meta[k].(type) {
		case string:
			return v
		case nil:
		default:
			return fmt.Sprint(v)
		}
	}
	return ""
}

func truncate(s string, n int) string {
	head := score.Preview(s, n)
	if len(head) < len(s) {
		return head + "…"
	}
	return s
}

func formatTS(ts int64) string {
	return time.Unix(ts, 0).Format("2006-01-02 15:04:05")
}

// sessionDetail renders the detail pane for a session row.
func sessionDetail(r SessionRow) string {
	var b strings.Builder
	s := r.Session
	fmt.Fprintf(&b, "Agent: %s\n", s.Agent)
	if s.Name != "" {
		fmt.Fprintf(&b, "Name: %s\n", s.Name)
	}
	fmt.Fprintf(&b, "CWD: %s\n", s.Cwd)
	fmt.Fprintf(&b, "ID: %s\n", s.ID)
	fmt.Fprintf(&b, "Status: %s\n", s.Status)
	fmt.Fprintf(&b, "Last activity: %s\n", formatTS(s.LastActivity))
	if q := r.Question(); q != "" && r.Waiting() {
		fmt.Fprintf(&b, "\nQUESTION: %s\n", q)
	}
	if r.ActiveTool != "" {
		fmt.Fprintf(&b, "\nRUNNING: %s\n", r.ActiveTool)
	}
	if h := r.LastHook; h != nil {
		fmt.Fprintf(&b, "\nLast hook: %s %s (%s)\n", h.Kind, h.Task, formatTS(h.TS))
		if len(h.Meta) > 0 {
			b.WriteString(truncate(prettyJSON(h.Meta), hookMetaRunes))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func prettyJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}

// ChainMarkdown renders a chain's links, newest first, as markdown.
func ChainMarkdown(name string, links []store.ChainLink) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Chain: %s (%d links)\n\n", name, len(links))
	for i, l := range links {
		fmt.Fprintf(&b, "## [%d] %s (%s)\n\n", i+1, l.Slug, formatTS(l.TS))
		fmt.Fprintf(&b, "Session: `%s`\n\n", l.SessionID)
		b.WriteString(truncate(l.Content, chainLinkRunes))
		b.WriteString("\n\n")
	}
	return b.String()
}

// artifactDetail renders an artifact record and its cached text.
func artifactDetail(a store.Artifact, text string, hasText bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", a.Title)
	fmt.Fprintf(&b, "Type: %s\n", a.FileType)
	fmt.Fprintf(&b, "Path: %s\n", a.FilePath)
	fmt.Fprintf(&b, "Created: %s\n", formatTS(a.TS))
	fmt.Fprintf(&b, "Session: %s\n", a.SessionID)
	if a.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", a.Description)
	}
	b.WriteString("\n")
	if hasText && text != "" {
		b.WriteString("--- Extracted Text ---\n")
		b.WriteString(truncate(text, artifactRunes))
		b.WriteString("\n")
	} else {
		b.WriteString("(no text extracted)\n")
	}
	return b.String()
}
