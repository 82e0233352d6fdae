// Package tui implements the tinymem dashboard using Bubble Tea.
package tui

import (
	"context"
	"errors"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"
)

// ErrNotTTY is returned by Run when stdout is not a terminal.
var ErrNotTTY = errors.New("stdout is not a terminal")

// IsTTY returns true if stdout is connected to a terminal.
func IsTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// Run starts the dashboard in alternate screen mode and blocks until the user
// quits or ctx is cancelled. Callers should run headless when it returns
// ErrNotTTY.
func Run(ctx context.Context, m tea.Model) error {
	if !IsTTY() {
		return ErrNotTTY
	}
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
