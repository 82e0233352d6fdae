package tui

import (
	"context"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"github.com/tinymem-dev/tinymem/internal/notify"
	"github.com/tinymem-dev/tinymem/internal/session"
	"github.com/tinymem-dev/tinymem/internal/store"
)

// Tab is one of the dashboard's top-level views.
type Tab int

const (
	TabActive Tab = iota
	TabChains
	TabArtifacts
	TabHistory
	tabCount
)

// inputMode says what the text input is editing, if anything.
type inputMode int

const (
	modeBrowse inputMode = iota
	modeFilter
	modeAnswer
)

const (
	defaultWidth  = 100
	defaultHeight = 30
	listWidthPct  = 40
)

// Model is the dashboard's Bubble Tea model.
type Model struct {
	ctx    context.Context
	mgr    *session.Manager
	events <-chan notify.Event
	keys   KeyMap

	snap    Snapshot
	loaded  bool
	tab     Tab
	cursors [tabCount]int
	filters [tabCount]string

	mode         inputMode
	input        textinput.Model
	answerTarget string

	detail    viewport.Model
	detailKey string
	spinner   spinner.Model
	markdown  bool

	status string
	err    error

	width, height int
}

// New builds a dashboard over mgr. events is a notify subscription; a nil
// channel disables event-driven refresh.
func New(ctx context.Context, mgr *session.Manager, events <-chan notify.Event) Model {
	ti := textinput.New()
	ti.CharLimit = 2000

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = WarningStyle

	m := Model{
		ctx:     ctx,
		mgr:     mgr,
		events:  events,
		keys:    DefaultKeyMap,
		input:   ti,
		spinner: sp,
		width:   defaultWidth,
		height:  defaultHeight,
	}
	m.detail = viewport.New(m.detailWidth(), m.bodyHeight())
	return m
}

// Init loads the first snapshot and starts listening for events.
func (m Model) Init() tea.Cmd {
	return tea.Batch(loadCmd(m.ctx, m.mgr), waitForEvent(m.events), tickCmd(), m.spinner.Tick)
}

// Update handles incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.detail.Width = m.detailWidth()
		m.detail.Height = m.bodyHeight()
		m.input.Width = m.width - 20
		return m, nil

	case snapshotMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.snap = msg.snap
		m.loaded = true
		m.err = nil
		m.clampCursor()
		m.syncSessionDetail()
		return m, nil

	case detailMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.setDetail(msg.key, msg.content, m.markdown)
		return m, nil

	case eventMsg:
		if msg.event.Kind == notify.NewQuestion {
			m.status = "question from " + msg.event.SessionID
		}
		return m, tea.Batch(loadCmd(m.ctx, m.mgr), waitForEvent(m.events))

	case busClosedMsg:
		m.events = nil
		return m, nil

	case tickMsg:
		return m, tea.Batch(loadCmd(m.ctx, m.mgr), tickCmd())

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case actionMsg:
		if msg.err != nil {
			m.err = msg.err
		} else {
			m.status = msg.status
			m.err = nil
		}
		return m, loadCmd(m.ctx, m.mgr)

	case tea.KeyMsg:
		switch m.mode {
		case modeAnswer:
			return m.updateAnswer(msg)
		case modeFilter:
			return m.updateFilter(msg)
		default:
			return m.updateBrowse(msg)
		}
	}
	return m, nil
}

func (m Model) updateBrowse(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Tab):
		m.switchTab((m.tab + 1) % tabCount)
		return m, nil

	case key.Matches(msg, m.keys.BackTab):
		m.switchTab((m.tab + tabCount - 1) % tabCount)
		return m, nil

	case key.Matches(msg, m.keys.Up):
		if m.cursors[m.tab] > 0 {
			m.cursors[m.tab]--
			m.syncSessionDetail()
		}
		return m, nil

	case key.Matches(msg, m.keys.Down):
		if m.cursors[m.tab] < m.rowCount()-1 {
			m.cursors[m.tab]++
			m.syncSessionDetail()
		}
		return m, nil

	case key.Matches(msg, m.keys.ScrollUp):
		m.detail.HalfViewUp()
		return m, nil

	case key.Matches(msg, m.keys.ScrollDown):
		m.detail.HalfViewDown()
		return m, nil

	case key.Matches(msg, m.keys.Refresh):
		m.status = "refreshing"
		return m, loadCmd(m.ctx, m.mgr)

	case key.Matches(msg, m.keys.Escape):
		m.filters[m.tab] = ""
		m.clampCursor()
		return m, nil

	case key.Matches(msg, m.keys.Filter):
		if m.tab != TabChains && m.tab != TabArtifacts {
			return m, nil
		}
		m.mode = modeFilter
		m.input.Prompt = "/"
		m.input.Placeholder = "filter"
		m.input.SetValue(m.filters[m.tab])
		m.input.CursorEnd()
		return m, m.input.Focus()

	case key.Matches(msg, m.keys.Answer):
		return m.startAnswer()

	case key.Matches(msg, m.keys.Enter):
		return m.open()

	case key.Matches(msg, m.keys.Delete):
		return m, m.deleteSelected()
	}
	return m, nil
}

func (m Model) updateFilter(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEnter:
		m.mode = modeBrowse
		m.input.Blur()
		return m, nil
	case tea.KeyEsc:
		m.mode = modeBrowse
		m.input.Blur()
		m.filters[m.tab] = ""
		m.clampCursor()
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	m.filters[m.tab] = m.input.Value()
	m.cursors[m.tab] = 0
	return m, cmd
}

func (m Model) updateAnswer(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEnter:
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			return m, nil
		}
		id := m.answerTarget
		m.mode = modeBrowse
		m.answerTarget = ""
		m.input.Blur()
		m.input.Reset()
		return m, answerCmd(m.ctx, m.mgr, id, text)
	case tea.KeyEsc:
		m.mode = modeBrowse
		m.answerTarget = ""
		m.input.Blur()
		m.input.Reset()
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// startAnswer opens the answer input for the selected session if it is
// waiting on a question.
func (m Model) startAnswer() (tea.Model, tea.Cmd) {
	row, ok := m.selectedSession()
	if !ok || m.tab != TabActive || !row.Waiting() {
		return m, nil
	}
	m.mode = modeAnswer
	m.answerTarget = row.Session.ID
	m.input.Prompt = "answer> "
	m.input.Placeholder = row.Question()
	m.input.Reset()
	return m, m.input.Focus()
}

// open answers a waiting session or loads the selected item into the detail pane.
func (m Model) open() (tea.Model, tea.Cmd) {
	switch m.tab {
	case TabActive:
		if row, ok := m.selectedSession(); ok && row.Waiting() {
			return m.startAnswer()
		}
		m.syncSessionDetail()
	case TabHistory:
		m.syncSessionDetail()
	case TabChains:
		chains := m.visibleChains()
		if i := m.cursors[m.tab]; i < len(chains) {
			m.markdown = true
			return m, loadChainCmd(m.ctx, m.mgr, chains[i].Name)
		}
	case TabArtifacts:
		artifacts := m.visibleArtifacts()
		if i := m.cursors[m.tab]; i < len(artifacts) {
			m.markdown = false
			return m, loadArtifactCmd(m.ctx, m.mgr, artifacts[i].ID)
		}
	}
	return m, nil
}

func (m Model) deleteSelected() tea.Cmd {
	i := m.cursors[m.tab]
	switch m.tab {
	case TabActive:
		if row, ok := m.selectedSession(); ok {
			return markDoneCmd(m.ctx, m.mgr, row.Session.ID)
		}
	case TabChains:
		if chains := m.visibleChains(); i < len(chains) {
			return deleteChainCmd(m.ctx, m.mgr, chains[i].Name)
		}
	case TabArtifacts:
		if artifacts := m.visibleArtifacts(); i < len(artifacts) {
			return deleteArtifactCmd(m.ctx, m.mgr, artifacts[i].ID)
		}
	}
	return nil
}

func (m *Model) switchTab(t Tab) {
	m.tab = t
	m.detailKey = ""
	m.detail.SetContent("")
	m.clampCursor()
	m.syncSessionDetail()
}

func (m *Model) clampCursor() {
	n := m.rowCount()
	if m.cursors[m.tab] >= n {
		m.cursors[m.tab] = max(0, n-1)
	}
}

// syncSessionDetail shows the selected session in the detail pane. Session
// tabs render from the snapshot, so they follow the cursor.
func (m *Model) syncSessionDetail() {
	row, ok := m.selectedSession()
	if !ok {
		if m.tab == TabActive || m.tab == TabHistory {
			m.setDetail("", "", false)
		}
		return
	}
	m.setDetail("session:"+row.Session.ID, sessionDetail(row), false)
}

func (m *Model) setDetail(key, content string, markdown bool) {
	if markdown {
		content = RenderMarkdown(content, m.detailWidth())
	}
	if key != m.detailKey {
		m.detail.GotoTop()
	}
	m.detailKey = key
	m.detail.SetContent(content)
}

func (m Model) selectedSession() (SessionRow, bool) {
	var rows []SessionRow
	switch m.tab {
	case TabActive:
		rows = m.snap.Active
	case TabHistory:
		rows = m.snap.History
	default:
		return SessionRow{}, false
	}
	i := m.cursors[m.tab]
	if i >= len(rows) {
		return SessionRow{}, false
	}
	return rows[i], true
}

func (m Model) visibleChains() []store.ChainSummary {
	return filterChains(m.snap.Chains, m.filters[TabChains])
}

func (m Model) visibleArtifacts() []store.Artifact {
	return filterArtifacts(m.snap.Artifacts, m.filters[TabArtifacts])
}

func (m Model) rowCount() int {
	switch m.tab {
	case TabActive:
		return len(m.snap.Active)
	case TabChains:
		return len(m.visibleChains())
	case TabArtifacts:
		return len(m.visibleArtifacts())
	default:
		return len(m.snap.History)
	}
}

func (m Model) listWidth() int {
	return max(30, m.width*listWidthPct/100)
}

func (m Model) detailWidth() int {
	return max(20, m.width-m.listWidth()-4)
}

// bodyHeight leaves room for the tab bar, the input line and the footer.
func (m Model) bodyHeight() int {
	return max(5, m.height-6)
}

// RenderMarkdown renders markdown for the detail pane, falling back to the
// raw text when glamour cannot.
func RenderMarkdown(content string, width int) string {
	if strings.TrimSpace(content) == "" {
		return ""
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return content
	}
	out, err := r.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimRight(out, "\n")
}
