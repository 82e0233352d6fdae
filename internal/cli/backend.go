package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/tinymem-dev/tinymem/internal/config"
	"github.com/tinymem-dev/tinymem/internal/kv"
	tmlog "github.com/tinymem-dev/tinymem/internal/log"
	"github.com/tinymem-dev/tinymem/internal/notify"
	"github.com/tinymem-dev/tinymem/internal/session"
	"github.com/tinymem-dev/tinymem/internal/store"
)

// openBackend connects the key-value backend cfg selects.
func openBackend(ctx context.Context, cfg *config.Config, dir string) (kv.Store, error) {
	switch cfg.Store.Backend {
	case config.BackendRedis:
		backend, err := kv.NewRedisStore(ctx, cfg.Store.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		return backend, nil
	case config.BackendSQLite:
		backend, err := kv.NewSQLiteStore(config.ResolvePath(dir, cfg.Store.SQLitePath))
		if err != nil {
			return nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		return backend, nil
	}
	return nil, fmt.Errorf("unknown store.backend %q", cfg.Store.Backend)
}

// runtime is the wired core shared by the commands that touch the store.
type runtime struct {
	cfg     *config.Config
	dir     string
	logger  *slog.Logger
	backend kv.Store
	bus     *notify.Bus
	mgr     *session.Manager
}

// openRuntime validates cfg and builds the store, bus and session manager.
// Logs go to logOut. Callers must Close the result.
func openRuntime(ctx context.Context, cfg *config.Config, dir string, logOut io.Writer) (*runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger, err := newLogger(cfg, logOut)
	if err != nil {
		return nil, err
	}
	backend, err := openBackend(ctx, cfg, dir)
	if err != nil {
		return nil, err
	}

	bus := notify.NewBus()
	st := store.New(backend, tmlog.Component(logger, "store"))
	mgr := session.NewManager(st, bus, tmlog.Component(logger, "session"), session.Config{
		PollInterval: cfg.PollInterval(),
		AskTimeout:   cfg.AskTimeout(),
	})
	return &runtime{cfg: cfg, dir: dir, logger: logger, backend: backend, bus: bus, mgr: mgr}, nil
}

func (r *runtime) Close() error {
	r.bus.Close()
	return r.backend.Close()
}

// openFromFlags loads config and opens the runtime in one step for the
// operator commands.
func openFromFlags(ctx context.Context) (*runtime, error) {
	cfg, dir, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return openRuntime(ctx, cfg, dir, os.Stderr)
}
