// clean.go implements "tinymem clean" for a manual stale-session sweep.
package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tinymem-dev/tinymem/internal/cleanup"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Mark idle sessions done",
	Long: `Mark done every active session idle for longer than
cleanup.max_inactive_seconds (default 120s). Waiting sessions are never
touched. Use --dry-run to preview what would be closed.`,
	Args: cobra.NoArgs,
	RunE: runClean,
}

var (
	cleanDryRun      bool
	cleanMaxInactive time.Duration
)

func init() {
	cleanCmd.Flags().BoolVar(&cleanDryRun, "dry-run", false, "Preview what would be closed without changing anything")
	cleanCmd.Flags().DurationVar(&cleanMaxInactive, "max-inactive", 0, "Idle threshold (default from config)")
}

func runClean(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := openFromFlags(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	maxInactive := rt.cfg.MaxInactive()
	if cleanMaxInactive > 0 {
		maxInactive = cleanMaxInactive
	}
	sweeper := cleanup.NewSweeper(rt.mgr, rt.cfg.CleanupInterval(), maxInactive, rt.logger)
	ids, err := sweeper.Sweep(ctx, cleanDryRun)
	if err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(ids) == 0 {
		fmt.Fprintln(out, "No idle sessions.")
		return nil
	}

	verb := "Closed"
	if cleanDryRun {
		verb = "Would close"
	}
	for _, id := range ids {
		fmt.Fprintf(out, "  %s %s\n", verb, id)
	}
	fmt.Fprintf(out, "%s %d session(s).\n", verb, len(ids))
	return nil
}
