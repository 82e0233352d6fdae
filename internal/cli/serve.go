// serve.go implements "tinymem serve": the HTTP coordinator, the stale
// session sweeper, the lifecycle journal and the dashboard.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tinymem-dev/tinymem/internal/cleanup"
	"github.com/tinymem-dev/tinymem/internal/config"
	"github.com/tinymem-dev/tinymem/internal/coordinator"
	tmlog "github.com/tinymem-dev/tinymem/internal/log"
	"github.com/tinymem-dev/tinymem/internal/tui"
	"github.com/tinymem-dev/tinymem/internal/ui"
)

const (
	shutdownTimeout = 5 * time.Second
	eventBuffer     = 64
	dashboardLog    = "tinymem.log"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the tinymem server",
	Long: `Run the HTTP server agents talk to, the background sweeper that
closes idle sessions, and, on a terminal, the dashboard used to answer
agent questions.

With --headless, or when stdout is not a terminal, session activity is
printed line by line instead and the server runs until interrupted.`,
	RunE: runServe,
}

var (
	serveHeadless bool
	servePort     int
	serveHost     string
	serveRedis    string
	serveToken    string
	serveBackend  string
)

func init() {
	serveCmd.Flags().BoolVar(&serveHeadless, "headless", false, "Run without the dashboard")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (overrides TINYMEM_PORT and server.port)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (overrides server.host)")
	serveCmd.Flags().StringVar(&serveRedis, "redis", "", "Redis URL (overrides TINYMEM_REDIS and store.redis_url)")
	serveCmd.Flags().StringVar(&serveToken, "token", "", "Bearer token agents must send (overrides TINYMEM_TOKEN)")
	serveCmd.Flags().StringVar(&serveBackend, "backend", "", "Store backend: redis or sqlite")
}

// applyServeFlags copies explicitly set flags over cfg.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Server.Port = servePort
	}
	if flags.Changed("host") {
		cfg.Server.Host = serveHost
	}
	if flags.Changed("redis") {
		cfg.Store.RedisURL = serveRedis
	}
	if flags.Changed("token") {
		cfg.Server.Token = serveToken
	}
	if flags.Changed("backend") {
		cfg.Store.Backend = serveBackend
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, dir, err := loadConfig()
	if err != nil {
		return err
	}
	applyServeFlags(cmd, cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The dashboard owns the terminal, so logs go to a file while it runs.
	dashboard := !serveHeadless && tui.IsTTY()
	var logOut io.Writer = os.Stderr
	if dashboard {
		f, err := openDashboardLog(dir)
		if err != nil {
			return err
		}
		defer f.Close()
		logOut = f
	}

	rt, err := openRuntime(ctx, cfg, dir, logOut)
	if err != nil {
		return err
	}
	defer rt.Close()
	logger := rt.logger

	srv, err := coordinator.NewServer(cfg.ListenAddr(), rt.mgr, coordinator.Options{
		Token:  cfg.Server.Token,
		Logger: tmlog.Component(logger, "http"),
	})
	if err != nil {
		return err
	}
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Start() }()
	logger.Info("tinymem listening",
		"addr", srv.Addr(),
		"backend", cfg.Store.Backend,
		"auth", cfg.Server.Token != "",
	)

	cleanup.NewSweeper(rt.mgr, cfg.CleanupInterval(), cfg.MaxInactive(), tmlog.Component(logger, "cleanup")).Start(ctx)

	if cfg.Log.Journal != "" {
		journal, err := tmlog.NewJournal(config.ResolvePath(dir, cfg.Log.Journal))
		if err != nil {
			return err
		}
		events, cancel := rt.bus.Subscribe(eventBuffer)
		defer cancel()
		go journal.Record(ctx, events, tmlog.Component(logger, "journal"))
	}

	events, cancel := rt.bus.Subscribe(eventBuffer)
	defer cancel()

	var runErr error
	if dashboard {
		runErr = tui.Run(ctx, tui.New(ctx, rt.mgr, events))
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "tinymem listening on %s\n", srv.Addr())
		go ui.NewActivityDisplay(cmd.OutOrStdout()).Follow(ctx, events)
		select {
		case <-ctx.Done():
		case runErr = <-serveErr:
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancelShutdown()
	if err := srv.Stop(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		logger.Warn("server shutdown", "error", err)
	}
	logger.Info("tinymem stopped")
	return runErr
}

func openDashboardLog(dir string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}
	path := filepath.Join(dir, dashboardLog)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	return f, nil
}
