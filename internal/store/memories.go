package store

import (
	"context"
	"slices"

	"github.com/tinymem-dev/tinymem/internal/kv"
	"github.com/tinymem-dev/tinymem/internal/score"
)

// SaveMemory writes mem under its key, replacing any earlier memory with the
// same key. An empty Kind becomes "insight".
func (s *Store) SaveMemory(ctx context.Context, mem *Memory) error {
	if mem.Kind == "" {
		mem.Kind = DefaultMemoryKind
	}
	raw, err := encode(mem)
	if err != nil {
		return err
	}
	return s.kv.Atomic(ctx,
		kv.Set(memoryKey(mem.Key), raw),
		kv.SetAdd(memoryKeys, mem.Key),
	)
}

func (s *Store) GetMemory(ctx context.Context, key string) (*Memory, error) {
	return getJSON[Memory](ctx, s, memoryKey(key))
}

func (s *Store) DeleteMemory(ctx context.Context, key string) error {
	return s.kv.Atomic(ctx,
		kv.Delete(memoryKey(key)),
		kv.SetRemove(memoryKeys, key),
	)
}

// MemoryKeys returns all memory keys, sorted.
func (s *Store) MemoryKeys(ctx context.Context) ([]string, error) {
	keys, err := s.kv.Members(ctx, memoryKeys)
	if err != nil {
		return nil, err
	}
	slices.Sort(keys)
	return keys, nil
}

// SearchMemory ranks every memory key against query and returns the best
// limit of them. No score floor is applied.
func (s *Store) SearchMemory(ctx context.Context, query string, limit int) ([]score.Match, error) {
	keys, err := s.MemoryKeys(ctx)
	if err != nil {
		return nil, err
	}
	return score.RankNames(keys, query, score.MemoryKeyBoost, score.NoFloor, limit), nil
}
