// list.go implements the read-only operator commands: sessions, chains,
// chain and search.
package cli

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tinymem-dev/tinymem/internal/score"
	"github.com/tinymem-dev/tinymem/internal/tui"
)

const previewRunes = 60

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List active sessions and recent history",
	RunE:  runSessions,
}

var chainsCmd = &cobra.Command{
	Use:   "chains",
	Short: "List chains and their link counts",
	Args:  cobra.NoArgs,
	RunE:  runChains,
}

var chainCmd = &cobra.Command{
	Use:   "chain <name>",
	Short: "Show the links of a chain, newest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runChain,
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search chain links and artifacts",
	Args:  cobra.ExactArgs(1),
	RunE:  runSearch,
}

var (
	historyLimit int
	chainLimit   int
	chainRaw     bool
	searchLimit  int
)

func init() {
	sessionsCmd.Flags().IntVar(&historyLimit, "history", 10, "Number of finished sessions to show (0 hides history)")
	chainCmd.Flags().IntVar(&chainLimit, "limit", 0, "Show only the newest N links (0 = all)")
	chainCmd.Flags().BoolVar(&chainRaw, "raw", false, "Print markdown without rendering")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 25, "Maximum results")
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(tui.DimStyle).
		Headers(headers...)
}

func runSessions(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := openFromFlags(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	snap, err := tui.LoadSnapshot(ctx, rt.mgr)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if len(snap.Active) == 0 {
		fmt.Fprintln(out, "No active sessions.")
	} else {
		t := newTable("ID", "AGENT", "STATUS", "IDLE", "DETAIL")
		now := time.Unix(rt.mgr.Now(), 0)
		for _, r := range snap.Active {
			detail := r.ActiveTool
			if r.Waiting() {
				detail = r.Question()
			}
			idle := now.Sub(time.Unix(r.Session.LastActivity, 0)).Round(time.Second)
			t.Row(r.Session.ID, r.Session.DisplayName(), r.Session.Status.String(), idle.String(), score.Preview(detail, previewRunes))
		}
		fmt.Fprintln(out, t.String())
	}

	if historyLimit <= 0 || len(snap.History) == 0 {
		return nil
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "History:")
	t := newTable("ID", "AGENT", "LAST ACTIVITY")
	for i, r := range snap.History {
		if i == historyLimit {
			break
		}
		t.Row(r.Session.ID, r.Session.DisplayName(), time.Unix(r.Session.LastActivity, 0).Format(time.DateTime))
	}
	fmt.Fprintln(out, t.String())
	return nil
}

func runChains(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := openFromFlags(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	chains, err := rt.mgr.Store().ListChains(ctx)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(chains) == 0 {
		fmt.Fprintln(out, "No chains.")
		return nil
	}
	t := newTable("CHAIN", "LINKS")
	for _, c := range chains {
		t.Row(c.Name, strconv.Itoa(c.Links))
	}
	fmt.Fprintln(out, t.String())
	return nil
}

func runChain(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := openFromFlags(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	name := args[0]
	links, err := rt.mgr.Store().ChainLinks(ctx, name)
	if err != nil {
		return err
	}
	if len(links) == 0 {
		return fmt.Errorf("chain %s not found", name)
	}
	if chainLimit > 0 && len(links) > chainLimit {
		links = links[:chainLimit]
	}

	md := tui.ChainMarkdown(name, links)
	if chainRaw || !tui.IsTTY() {
		fmt.Fprint(cmd.OutOrStdout(), md)
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), tui.RenderMarkdown(md, terminalWidth()))
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := openFromFlags(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	if searchLimit <= 0 {
		return errors.New("--limit must be positive")
	}
	results, err := rt.mgr.Store().GlobalSearch(ctx, args[0], searchLimit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(results) == 0 {
		fmt.Fprintln(out, "No matches.")
		return nil
	}
	t := newTable("SCORE", "ID", "TITLE", "PREVIEW")
	for _, r := range results {
		t.Row(strconv.FormatFloat(r.Score, 'f', 2, 64), r.ID, r.Title, score.Preview(r.Preview, previewRunes))
	}
	fmt.Fprintln(out, t.String())
	return nil
}

func terminalWidth() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return w
	}
	return 100
}
