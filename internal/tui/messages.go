package tui

import "github.com/tinymem-dev/tinymem/internal/notify"

// snapshotMsg carries a freshly loaded Snapshot.
type snapshotMsg struct {
	snap Snapshot
	err  error
}

// detailMsg fills the detail pane for the item identified by key.
type detailMsg struct {
	key     string
	title   string
	content string
	err     error
}

// eventMsg wraps a notify event from the core.
type eventMsg struct {
	event notify.Event
}

// busClosedMsg signals the event subscription has ended.
type busClosedMsg struct{}

// actionMsg reports the outcome of an answer, done or delete action.
type actionMsg struct {
	status string
	err    error
}

// tickMsg triggers the periodic refresh.
type tickMsg struct{}
