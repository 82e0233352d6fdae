package tui

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinymem-dev/tinymem/internal/notify"
	"github.com/tinymem-dev/tinymem/internal/session"
	"github.com/tinymem-dev/tinymem/internal/store"
	"github.com/tinymem-dev/tinymem/internal/testutil"
)

func newManager(t *testing.T) *session.Manager {
	t.Helper()
	bus := notify.NewBus()
	t.Cleanup(bus.Close)
	st := store.New(testutil.NewKV(t), nil)
	return session.NewManager(st, bus, nil, session.Config{
		PollInterval: 10 * time.Millisecond,
		AskTimeout:   time.Second,
	})
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	nm, ok := next.(Model)
	require.True(t, ok)
	return nm, cmd
}

func keyRunes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func typeText(t *testing.T, m Model, s string) Model {
	t.Helper()
	for _, r := range s {
		m, _ = update(t, m, keyRunes(string(r)))
	}
	return m
}

// loaded returns a model with a snapshot freshly read from mgr.
func loaded(t *testing.T, mgr *session.Manager) Model {
	t.Helper()
	m := New(context.Background(), mgr, nil)
	msg := loadCmd(context.Background(), mgr)()
	m, _ = update(t, m, msg)
	require.NoError(t, m.err)
	return m
}

// waitingSession creates a session blocked on question.
func waitingSession(t *testing.T, mgr *session.Manager, question string) *store.Session {
	t.Helper()
	ctx := context.Background()
	sess, err := mgr.Create(ctx, session.CreateRequest{Agent: "claude", Cwd: "/repo"})
	require.NoError(t, err)
	_, err = mgr.Store().SetStatus(ctx, sess.ID, store.Waiting(question, mgr.Now()))
	require.NoError(t, err)
	require.NoError(t, mgr.Store().SetPending(ctx, sess.ID, question))
	return sess
}

func TestLoadSnapshot(t *testing.T) {
	ctx := context.Background()
	mgr := newManager(t)
	st := mgr.Store()

	busy, err := mgr.Create(ctx, session.CreateRequest{Agent: "claude", Cwd: "/repo"})
	require.NoError(t, err)
	require.NoError(t, mgr.AppendHook(ctx, busy.ID, store.HookKindPre, "Edit", json.RawMessage(`{"file_path":"/repo/main.go"}`)))
	waiting := waitingSession(t, mgr, "ship it?")
	done, err := mgr.Create(ctx, session.CreateRequest{Agent: "codex"})
	require.NoError(t, err)
	require.NoError(t, mgr.MarkDone(ctx, done.ID))

	_, err = st.SaveChainLink(ctx, &store.ChainLink{ChainName: "release", SessionID: busy.ID, Slug: "cut", Content: "tagged v1", TS: 100})
	require.NoError(t, err)
	dir := testutil.TempFiles(t, testutil.ArtifactFiles())
	require.NoError(t, st.SaveArtifact(ctx, store.NewArtifact(busy.ID, filepath.Join(dir, "notes/design.md"), "Pooling design", "pgbouncer", 200)))

	snap, err := LoadSnapshot(ctx, mgr)
	require.NoError(t, err)

	require.Len(t, snap.Active, 2)
	assert.Equal(t, waiting.ID, snap.Active[0].Session.ID, "waiting sessions sort first")
	assert.Equal(t, "ship it?", snap.Active[0].Question())
	assert.Equal(t, IconWaiting, snap.Active[0].Icon())

	assert.Equal(t, "Edit", snap.Active[1].ActiveTool)
	require.NotNil(t, snap.Active[1].LastHook)
	assert.Equal(t, "→ Edit /repo/main.go", hookPreview(snap.Active[1].LastHook))
	assert.Equal(t, IconRunning, snap.Active[1].Icon())

	require.Len(t, snap.History, 1)
	assert.Equal(t, done.ID, snap.History[0].Session.ID)
	assert.Equal(t, IconDone, snap.History[0].Icon())

	assert.Equal(t, []store.ChainSummary{{Name: "release", Links: 1}}, snap.Chains)
	require.Len(t, snap.Artifacts, 1)
	assert.Equal(t, "Pooling design", snap.Artifacts[0].Title)
}

func TestHookPreview(t *testing.T) {
	tests := []struct {
		name string
		hook *store.Hook
		want string
	}{
		{"nil", nil, ""},
		{"pre with path", &store.Hook{Kind: "pre", Task: "Read", Meta: json.RawMessage(`{"file_path":"a.go"}`)}, "→ Read a.go"},
		{"post", &store.Hook{Kind: "post", Task: "Bash", Meta: json.RawMessage(`{"command":"go test"}`)}, "✓ Bash go test"},
		{"first key wins", &store.Hook{Kind: "pre", Task: "Grep", Meta: json.RawMessage(`{"query":"q","pattern":"p"}`)}, "→ Grep p"},
		{"no known key", &store.Hook{Kind: "pre", Task: "Task", Meta: json.RawMessage(`{"other":1}`)}, "→ Task"},
		{"bad meta", &store.Hook{Kind: "pre", Task: "Task", Meta: json.RawMessage(`[1,2]`)}, "→ Task"},
		{"truncated", &store.Hook{Kind: "pre", Task: "Bash", Meta: json.RawMessage(`{"command":"` + strings.Repeat("x", 60) + `"}`)}, "→ Bash " + strings.Repeat("x", 38) + "…"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, hookPreview(tt.hook))
		})
	}
}

func TestFilterChains(t *testing.T) {
	chains := []store.ChainSummary{{Name: "deploy", Links: 1}, {Name: "refactor-auth", Links: 2}, {Name: "release", Links: 3}}

	assert.Equal(t, chains, filterChains(chains, ""))

	got := filterChains(chains, "release")
	require.NotEmpty(t, got)
	assert.Equal(t, "release", got[0].Name)
	assert.Equal(t, 3, got[0].Links)

	assert.Empty(t, filterChains(chains, "zzzzqqq"))
}

func TestFilterArtifacts(t *testing.T) {
	artifacts := []store.Artifact{
		{ID: "1", Title: "Pooling design", Description: "pgbouncer notes"},
		{ID: "2", Title: "Audit report", Description: "q3 security audit"},
	}
	got := filterArtifacts(artifacts, "audit")
	require.NotEmpty(t, got)
	assert.Equal(t, "2", got[0].ID)
	assert.Len(t, filterArtifacts(artifacts, ""), 2)
}

func TestDetailRendering(t *testing.T) {
	row := SessionRow{
		Session:    store.Session{ID: "abc", Agent: "claude", Cwd: "/repo", Status: store.Active()},
		ActiveTool: "Bash",
		LastHook:   &store.Hook{Kind: "pre", Task: "Bash", Meta: json.RawMessage(`{"command":"ls"}`)},
	}
	d := sessionDetail(row)
	assert.Contains(t, d, "Agent: claude")
	assert.Contains(t, d, "CWD: /repo")
	assert.Contains(t, d, "RUNNING: Bash")
	assert.Contains(t, d, `"command": "ls"`)

	md := ChainMarkdown("release", []store.ChainLink{
		{Slug: "tag", SessionID: "s1", Content: "tagged"},
		{Slug: "cut", SessionID: "s1", Content: strings.Repeat("y", 600)},
	})
	assert.Contains(t, md, "# Chain: release (2 links)")
	assert.Contains(t, md, "## [1] tag")
	assert.Contains(t, md, "## [2] cut")
	assert.NotContains(t, md, strings.Repeat("y", 501))

	a := store.Artifact{Title: "Audit", FileType: "pdf", FilePath: "/x/audit.pdf"}
	assert.Contains(t, artifactDetail(a, "", false), "(no text extracted)")
	assert.Contains(t, artifactDetail(a, "body", true), "--- Extracted Text ---\nbody")
}

func TestModelNavigation(t *testing.T) {
	m := New(context.Background(), nil, nil)
	m, _ = update(t, m, snapshotMsg{snap: Snapshot{
		Active: []SessionRow{
			{Session: store.Session{ID: "a", Agent: "claude", Status: store.Active()}},
			{Session: store.Session{ID: "b", Agent: "claude", Status: store.Active()}},
		},
		Chains: []store.ChainSummary{{Name: "release", Links: 1}},
	}})
	assert.Contains(t, m.View(), "Active (2)")
	assert.Contains(t, m.detail.View(), "ID: a")

	m, _ = update(t, m, keyRunes("j"))
	assert.Equal(t, 1, m.cursors[TabActive])
	assert.Contains(t, m.detail.View(), "ID: b")

	m, _ = update(t, m, keyRunes("j"))
	assert.Equal(t, 1, m.cursors[TabActive], "cursor stops at the last row")

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	assert.Equal(t, TabChains, m.tab)
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyShiftTab})
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyShiftTab})
	assert.Equal(t, TabHistory, m.tab)
	assert.Contains(t, m.View(), "no finished sessions")

	_, cmd := update(t, m, keyRunes("q"))
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestModelFilter(t *testing.T) {
	m := New(context.Background(), nil, nil)
	m, _ = update(t, m, snapshotMsg{snap: Snapshot{
		Chains: []store.ChainSummary{{Name: "deploy"}, {Name: "refactor-auth"}, {Name: "release"}},
	}})

	m, _ = update(t, m, keyRunes("/"))
	assert.Equal(t, modeBrowse, m.mode, "Active tab has no filter")

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	m, _ = update(t, m, keyRunes("/"))
	require.Equal(t, modeFilter, m.mode)
	m = typeText(t, m, "release")
	assert.Equal(t, "release", m.filters[TabChains])
	require.NotEmpty(t, m.visibleChains())
	assert.Equal(t, "release", m.visibleChains()[0].Name)

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, modeBrowse, m.mode)
	assert.Contains(t, m.View(), "filter: release")

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.Empty(t, m.filters[TabChains])
	assert.Len(t, m.visibleChains(), 3)
}

func TestModelAnswersWaitingSession(t *testing.T) {
	ctx := context.Background()
	mgr := newManager(t)
	sess := waitingSession(t, mgr, "which db?")
	m := loaded(t, mgr)

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.Equal(t, modeAnswer, m.mode)
	assert.Equal(t, sess.ID, m.answerTarget)

	m = typeText(t, m, "postgres")
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, modeBrowse, m.mode)
	require.NotNil(t, cmd)

	msg := cmd()
	require.IsType(t, actionMsg{}, msg)
	require.NoError(t, msg.(actionMsg).err)

	answer, ok, err := mgr.Store().Answer(ctx, sess.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "postgres", answer)

	m, _ = update(t, m, msg)
	assert.Equal(t, "answered "+sess.ID, m.status)
}

func TestModelAnswerCancelled(t *testing.T) {
	mgr := newManager(t)
	waitingSession(t, mgr, "which db?")
	m := loaded(t, mgr)

	m, _ = update(t, m, keyRunes("a"))
	require.Equal(t, modeAnswer, m.mode)
	m = typeText(t, m, "nope")
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, modeBrowse, m.mode)
	assert.Nil(t, cmd)
	assert.Empty(t, m.input.Value())
}

func TestModelMarksSessionDone(t *testing.T) {
	ctx := context.Background()
	mgr := newManager(t)
	sess, err := mgr.Create(ctx, session.CreateRequest{Agent: "claude"})
	require.NoError(t, err)
	m := loaded(t, mgr)

	_, cmd := update(t, m, keyRunes("d"))
	require.NotNil(t, cmd)
	require.NoError(t, cmd().(actionMsg).err)

	got, err := mgr.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusDone, got.Status.Type)
}

func TestModelChainDetailAndDelete(t *testing.T) {
	ctx := context.Background()
	mgr := newManager(t)
	for i, slug := range []string{"cut", "tag"} {
		_, err := mgr.Store().SaveChainLink(ctx, &store.ChainLink{ChainName: "release", SessionID: "s1", Slug: slug, Content: "step " + slug, TS: int64(100 + i)})
		require.NoError(t, err)
	}
	m := loaded(t, mgr)
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	require.Equal(t, TabChains, m.tab)

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	msg := cmd()
	require.IsType(t, detailMsg{}, msg)
	d := msg.(detailMsg)
	require.NoError(t, d.err)
	assert.Contains(t, d.content, "# Chain: release (2 links)")
	assert.Contains(t, d.content, "## [1] tag")

	m, _ = update(t, m, d)
	assert.Equal(t, "chain:release", m.detailKey)

	_, cmd = update(t, m, keyRunes("d"))
	require.NotNil(t, cmd)
	require.NoError(t, cmd().(actionMsg).err)
	names, err := mgr.Store().ChainNames(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestModelRefreshesOnEvents(t *testing.T) {
	mgr := newManager(t)
	events := make(chan notify.Event, 1)
	m := New(context.Background(), mgr, events)

	events <- notify.Event{Kind: notify.NewQuestion, SessionID: "s1"}
	msg := waitForEvent(events)()
	require.Equal(t, eventMsg{event: notify.Event{Kind: notify.NewQuestion, SessionID: "s1"}}, msg)

	m, cmd := update(t, m, msg)
	assert.Equal(t, "question from s1", m.status)
	assert.NotNil(t, cmd)

	close(events)
	m, _ = update(t, m, waitForEvent(events)())
	assert.Nil(t, m.events)
	assert.Nil(t, waitForEvent(m.events))
}
