// Package testutil provides test helper utilities for tinymem tests.
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/tinymem-dev/tinymem/internal/kv"
)

// NewKV starts an in-process Redis server and returns a store connected to it.
// Both are shut down when the test finishes.
func NewKV(t *testing.T) *kv.RedisStore {
	t.Helper()
	store, _ := NewKVServer(t)
	return store
}

// NewKVServer is NewKV that also returns the server, for tests that need to
// inspect raw keys or simulate an outage.
func NewKVServer(t *testing.T) (*kv.RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := kv.NewRedisStore(context.Background(), "redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("connecting to miniredis: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

// TempFiles creates a temporary directory with the given files and returns its path.
// Files is a map of relative path -> content. Directories are created as needed.
// The directory is automatically cleaned up when the test finishes.
func TempFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()

	for relPath, content := range files {
		absPath := filepath.Join(dir, relPath)
		if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
			t.Fatalf("creating directory for %s: %v", relPath, err)
		}
		if err := os.WriteFile(absPath, []byte(content), 0644); err != nil {
			t.Fatalf("writing %s: %v", relPath, err)
		}
	}

	return dir
}

// ArtifactFiles returns a small set of files of the kinds artifacts point at.
func ArtifactFiles() map[string]string {
	return map[string]string{
		"notes/design.md":    "# Connection pooling\n\nUse pgbouncer in transaction mode.",
		"notes/todo.txt":     "rotate jwt signing keys\nadd rate limiting",
		"configs/app.yaml":   "pool:\n  size: 20\n",
		"reports/audit.pdf":  "%PDF-1.4 binary",
		"images/diagram.png": "\x89PNG",
	}
}
