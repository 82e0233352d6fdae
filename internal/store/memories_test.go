package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinymem-dev/tinymem/internal/store"
)

func TestMemoryOverwriteAndDelete(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveMemory(ctx, &store.Memory{Key: "k", SessionID: "a1", Content: "v1", TS: 1}))
	require.NoError(t, s.SaveMemory(ctx, &store.Memory{Key: "k", SessionID: "a2", Content: "v2", Kind: "code", TS: 2}))

	mem, err := s.GetMemory(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, mem)
	assert.Equal(t, "v2", mem.Content)
	assert.Equal(t, "code", mem.Kind)

	keys, err := s.MemoryKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"k"}, keys)

	require.NoError(t, s.DeleteMemory(ctx, "k"))
	mem, err = s.GetMemory(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, mem)
	keys, err = s.MemoryKeys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestMemoryDefaultKind(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveMemory(ctx, &store.Memory{Key: "k", Content: "v"}))
	mem, err := s.GetMemory(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, store.DefaultMemoryKind, mem.Kind)
}

func TestSearchMemory(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	keys := []string{
		"postgres_connection_pool_config",
		"react_useeffect_async_cleanup",
		"auth_jwt_token_refresh_flow",
		"api_rate_limiting_middleware",
		"error_handling_retry_logic",
	}
	for _, k := range keys {
		require.NoError(t, s.SaveMemory(ctx, &store.Memory{Key: k, Content: "x"}))
	}

	all, err := s.SearchMemory(ctx, "postgres", 25)
	require.NoError(t, err)
	// No floor: every key is returned when the limit allows it.
	assert.Len(t, all, len(keys))
	assert.Equal(t, "postgres_connection_pool_config", all[0].Name)
	for i := 1; i < len(all); i++ {
		assert.GreaterOrEqual(t, all[i-1].Score, all[i].Score)
	}

	two, err := s.SearchMemory(ctx, "postgres", 2)
	require.NoError(t, err)
	assert.Len(t, two, 2)
}
