package kv

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	ctx := context.Background()

	mr := miniredis.RunT(t)
	rs, err := NewRedisStore(ctx, "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rs.Close() })

	ss, err := NewSQLiteStore(filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	return map[string]Store{"redis": rs, "sqlite": ss}
}

func TestStrings(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, ok, err := s.Get(ctx, "missing")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.Set(ctx, "k", "v1"))
			require.NoError(t, s.Set(ctx, "k", "v2"))
			v, ok, err := s.Get(ctx, "k")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "v2", v)

			require.NoError(t, s.Delete(ctx, "k", "never-existed"))
			_, ok, err = s.Get(ctx, "k")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestSets(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			members, err := s.Members(ctx, "empty")
			require.NoError(t, err)
			assert.Empty(t, members)

			require.NoError(t, s.AddToSet(ctx, "set", "a"))
			require.NoError(t, s.AddToSet(ctx, "set", "b"))
			require.NoError(t, s.AddToSet(ctx, "set", "a"))
			members, err = s.Members(ctx, "set")
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"a", "b"}, members)

			require.NoError(t, s.RemoveFromSet(ctx, "set", "a"))
			members, err = s.Members(ctx, "set")
			require.NoError(t, err)
			assert.Equal(t, []string{"b"}, members)
		})
	}
}

func TestListsRange(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, v := range []string{"a", "b", "c", "d"} {
				require.NoError(t, s.Append(ctx, "list", v))
			}

			tests := []struct {
				start, stop int64
				want        []string
			}{
				{0, -1, []string{"a", "b", "c", "d"}},
				{0, 1, []string{"a", "b"}},
				{-2, -1, []string{"c", "d"}},
				{-10, 1, []string{"a", "b"}},
				{2, 100, []string{"c", "d"}},
				{3, 1, []string{}},
				{10, 20, []string{}},
			}
			for _, tt := range tests {
				got, err := s.Range(ctx, "list", tt.start, tt.stop)
				require.NoError(t, err)
				if len(tt.want) == 0 {
					assert.Empty(t, got, "range %d..%d", tt.start, tt.stop)
					continue
				}
				assert.Equal(t, tt.want, got, "range %d..%d", tt.start, tt.stop)
			}

			got, err := s.Range(ctx, "no-such-list", 0, -1)
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestAtomicBatch(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, s.Atomic(ctx,
				Set("sessions:x", "{}"),
				SetAdd("active", "x"),
				PushHead("history", "y"),
				PushHead("history", "x"),
				PushTail("history", "x"),
			))

			v, ok, err := s.Get(ctx, "sessions:x")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "{}", v)

			members, err := s.Members(ctx, "active")
			require.NoError(t, err)
			assert.Equal(t, []string{"x"}, members)

			hist, err := s.Range(ctx, "history", 0, -1)
			require.NoError(t, err)
			assert.Equal(t, []string{"x", "y", "x"}, hist)

			// LREM count 1 removes only the head-most occurrence.
			require.NoError(t, s.Atomic(ctx, ListRemove("history", 1, "x"), SetRemove("active", "x")))
			hist, err = s.Range(ctx, "history", 0, -1)
			require.NoError(t, err)
			assert.Equal(t, []string{"y", "x"}, hist)

			require.NoError(t, s.Atomic(ctx, PushTail("history", "x"), ListRemove("history", -1, "x")))
			hist, err = s.Range(ctx, "history", 0, -1)
			require.NoError(t, err)
			assert.Equal(t, []string{"y", "x"}, hist)

			require.NoError(t, s.Atomic(ctx, ListRemove("history", 0, "x")))
			hist, err = s.Range(ctx, "history", 0, -1)
			require.NoError(t, err)
			assert.Equal(t, []string{"y"}, hist)

			require.NoError(t, s.Atomic(ctx, Delete("history"), Delete("active"), Delete("sessions:x")))
			hist, err = s.Range(ctx, "history", 0, -1)
			require.NoError(t, err)
			assert.Empty(t, hist)
			members, err = s.Members(ctx, "active")
			require.NoError(t, err)
			assert.Empty(t, members)
		})
	}
}

func TestConcurrentAppend(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if err := s.Append(ctx, "hooks", "h"); err != nil {
						t.Errorf("append: %v", err)
					}
				}()
			}
			wg.Wait()

			items, err := s.Range(ctx, "hooks", 0, -1)
			require.NoError(t, err)
			assert.Len(t, items, 20)
		})
	}
}

func TestBackendErrorIsWrapped(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rs, err := NewRedisStore(ctx, "redis://"+mr.Addr())
	require.NoError(t, err)
	defer func() { _ = rs.Close() }()

	mr.Close()
	_, _, err = rs.Get(ctx, "k")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBackend))
}

func TestNormalizeRange(t *testing.T) {
	_, _, ok := normalizeRange(0, -1, 0)
	assert.False(t, ok)

	start, stop, ok := normalizeRange(-3, -1, 5)
	assert.True(t, ok)
	assert.Equal(t, int64(2), start)
	assert.Equal(t, int64(4), stop)
}
