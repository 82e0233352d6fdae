package tui

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/tinymem-dev/tinymem/internal/notify"
	"github.com/tinymem-dev/tinymem/internal/session"
)

// refreshInterval catches changes made by other processes, which do not
// publish on this process's bus.
const refreshInterval = 5 * time.Second

func loadCmd(ctx context.Context, mgr *session.Manager) tea.Cmd {
	return func() tea.Msg {
		snap, err := LoadSnapshot(ctx, mgr)
		return snapshotMsg{snap: snap, err: err}
	}
}

func waitForEvent(events <-chan notify.Event) tea.Cmd {
	if events == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return busClosedMsg{}
		}
		return eventMsg{event: ev}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(time.Time) tea.Msg { return tickMsg{} })
}

func loadChainCmd(ctx context.Context, mgr *session.Manager, name string) tea.Cmd {
	return func() tea.Msg {
		links, err := mgr.Store().ChainLinks(ctx, name)
		if err != nil {
			return detailMsg{key: chainKey(name), err: fmt.Errorf("loading chain %s: %w", name, err)}
		}
		return detailMsg{
			key:     chainKey(name),
			title:   "Chain " + name,
			content: ChainMarkdown(name, links),
		}
	}
}

func loadArtifactCmd(ctx context.Context, mgr *session.Manager, id string) tea.Cmd {
	return func() tea.Msg {
		st := mgr.Store()
		a, err := st.GetArtifact(ctx, id)
		if err == nil && a == nil {
			err = session.ErrNotFound
		}
		if err != nil {
			return detailMsg{key: artifactKey(id), err: fmt.Errorf("loading artifact %s: %w", id, err)}
		}
		text, ok, err := st.ArtifactText(ctx, id)
		if err != nil {
			return detailMsg{key: artifactKey(id), err: fmt.Errorf("loading artifact text %s: %w", id, err)}
		}
		return detailMsg{
			key:     artifactKey(id),
			title:   a.Title,
			content: artifactDetail(*a, text, ok),
		}
	}
}

func answerCmd(ctx context.Context, mgr *session.Manager, id, text string) tea.Cmd {
	return func() tea.Msg {
		if err := mgr.Answer(ctx, id, text); err != nil {
			return actionMsg{err: err}
		}
		return actionMsg{status: "answered " + id}
	}
}

func markDoneCmd(ctx context.Context, mgr *session.Manager, id string) tea.Cmd {
	return func() tea.Msg {
		if err := mgr.MarkDone(ctx, id); err != nil {
			return actionMsg{err: err}
		}
		return actionMsg{status: "marked " + id + " done"}
	}
}

func deleteChainCmd(ctx context.Context, mgr *session.Manager, name string) tea.Cmd {
	return func() tea.Msg {
		if err := mgr.Store().DeleteChain(ctx, name); err != nil {
			return actionMsg{err: fmt.Errorf("deleting chain %s: %w", name, err)}
		}
		return actionMsg{status: "deleted chain " + name}
	}
}

func deleteArtifactCmd(ctx context.Context, mgr *session.Manager, id string) tea.Cmd {
	return func() tea.Msg {
		if err := mgr.Store().DeleteArtifact(ctx, id); err != nil {
			return actionMsg{err: fmt.Errorf("deleting artifact %s: %w", id, err)}
		}
		return actionMsg{status: "deleted artifact " + id}
	}
}

func chainKey(name string) string  { return "chain:" + name }
func artifactKey(id string) string { return "artifact:" + id }
