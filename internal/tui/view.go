package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// View renders the dashboard.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(m.renderTabs())
	b.WriteString("\n")

	list := BoxStyle.Width(m.listWidth()).Height(m.bodyHeight()).Render(m.renderList())
	detail := BoxStyle.Width(m.detailWidth()).Height(m.bodyHeight()).Render(m.detail.View())
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, list, detail))
	b.WriteString("\n")

	if m.mode != modeBrowse {
		b.WriteString(m.input.View())
		b.WriteString("\n")
	} else if f := m.filters[m.tab]; f != "" {
		b.WriteString(DimStyle.Render("filter: " + f))
		b.WriteString("\n")
	}
	b.WriteString(m.renderFooter())
	return b.String()
}

func (m Model) tabLabel(t Tab) string {
	switch t {
	case TabActive:
		return fmt.Sprintf("Active (%d)", len(m.snap.Active))
	case TabChains:
		return fmt.Sprintf("Chains (%d)", len(m.snap.Chains))
	case TabArtifacts:
		return fmt.Sprintf("Artifacts (%d)", len(m.snap.Artifacts))
	default:
		return fmt.Sprintf("History (last %d)", historyLimit)
	}
}

func (m Model) renderTabs() string {
	tabs := make([]string, 0, tabCount)
	for t := Tab(0); t < tabCount; t++ {
		style := InactiveTabStyle
		if t == m.tab {
			style = ActiveTabStyle
		}
		tabs = append(tabs, style.Render(m.tabLabel(t)))
	}
	return TitleStyle.Render("tinymem") + "  " + lipgloss.JoinHorizontal(lipgloss.Top, tabs...)
}

func (m Model) renderList() string {
	if !m.loaded {
		return m.spinner.View() + DimStyle.Render(" loading...")
	}
	var lines []string
	cursor := m.cursors[m.tab]
	switch m.tab {
	case TabActive:
		for i, r := range m.snap.Active {
			lines = append(lines, m.sessionLines(r, i == cursor)...)
		}
		if len(lines) == 0 {
			return DimStyle.Render("no active sessions")
		}
	case TabHistory:
		for i, r := range m.snap.History {
			lines = append(lines, m.sessionLines(r, i == cursor)...)
		}
		if len(lines) == 0 {
			return DimStyle.Render("no finished sessions")
		}
	case TabChains:
		for i, c := range m.visibleChains() {
			lines = append(lines, selectLine(fmt.Sprintf("%s (%d)", c.Name, c.Links), i == cursor))
		}
		if len(lines) == 0 {
			return DimStyle.Render("no chains")
		}
	case TabArtifacts:
		for i, a := range m.visibleArtifacts() {
			lines = append(lines, selectLine(fmt.Sprintf("[%s] %s", a.FileType, a.Title), i == cursor))
		}
		if len(lines) == 0 {
			return DimStyle.Render("no artifacts")
		}
	}
	return strings.Join(lines, "\n")
}

func (m Model) sessionLines(r SessionRow, selected bool) []string {
	label := r.Icon() + " " + r.Session.DisplayName()
	if r.ActiveTool != "" {
		label += " " + m.spinner.View() + WarningStyle.Render("["+r.ActiveTool+"]")
	}
	lines := []string{selectLine(label, selected)}
	if r.Waiting() {
		lines = append(lines, "    "+ErrorStyle.Render(truncate(r.Question(), hookPreviewRunes)))
	} else if p := hookPreview(r.LastHook); p != "" {
		lines = append(lines, "    "+DimStyle.Render(p))
	}
	return lines
}

func selectLine(s string, selected bool) string {
	if selected {
		return SelectedStyle.Render("> ") + s
	}
	return "  " + s
}

func (m Model) renderFooter() string {
	var hints []string
	switch m.mode {
	case modeAnswer:
		hints = []string{"enter send", "esc cancel"}
	case modeFilter:
		hints = []string{"enter apply", "esc clear"}
	default:
		hints = []string{"tab switch", "j/k move", "enter open", "pgup/pgdn scroll", "r refresh"}
		switch m.tab {
		case TabActive:
			hints = append(hints, "a answer", "d done")
		case TabChains, TabArtifacts:
			hints = append(hints, "/ filter", "d delete")
		}
		hints = append(hints, "q quit")
	}

	footer := DimStyle.Render(strings.Join(hints, " · "))
	switch {
	case m.err != nil:
		footer = ErrorStyle.Render("error: "+m.err.Error()) + "  " + footer
	case m.status != "":
		footer = SuccessStyle.Render(m.status) + "  " + footer
	}
	return StatusBarStyle.Render(footer)
}
