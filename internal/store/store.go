// Package store provides typed persistence for tinymem entities on top of a
// kv.Store: sessions, hooks, messages, chain links, memories and artifacts.
//
// Every entity lives under a namespaced key and is listed through an index set
// or list that is updated in the same atomic batch as the entity itself.
// Lookups that find nothing return a nil value and a nil error.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tinymem-dev/tinymem/internal/kv"
)

// ErrCorrupt is returned when a value fetched by its exact key cannot be decoded.
var ErrCorrupt = errors.New("corrupt record")

// Store is the entity repository.
type Store struct {
	kv     kv.Store
	logger *slog.Logger
}

// New wraps backend. A nil logger discards skip diagnostics.
func New(backend kv.Store, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{kv: backend, logger: logger}
}

// KV exposes the underlying key-value store.
func (s *Store) KV() kv.Store { return s.kv }

func encode(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding record: %w", err)
	}
	return string(b), nil
}

// getJSON loads key into a new T. It returns nil when the key is absent and
// ErrCorrupt when the value does not decode.
func getJSON[T any](ctx context.Context, s *Store, key string) (*T, error) {
	raw, ok, err := s.kv.Get(ctx, key)
	if err != nil || !ok {
		return nil, err
	}
	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, key, err)
	}
	return &v, nil
}

// loadAll fetches every key and decodes it into T. Missing keys and values
// that fail to decode are skipped; backend errors abort the listing.
func loadAll[T any](ctx context.Context, s *Store, keys []string) ([]T, error) {
	out := make([]T, 0, len(keys))
	for _, key := range keys {
		v, err := getJSON[T](ctx, s, key)
		if errors.Is(err, ErrCorrupt) {
			s.logger.Debug("skipping undecodable record", "key", key, "error", err)
			continue
		}
		if err != nil {
			return nil, err
		}
		if v != nil {
			out = append(out, *v)
		}
	}
	return out, nil
}

// decodeAll decodes raw list items, skipping the ones that fail.
func decodeAll[T any](s *Store, list string, items []string) []T {
	out := make([]T, 0, len(items))
	for _, raw := range items {
		var v T
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			s.logger.Debug("skipping undecodable list item", "list", list, "error", err)
			continue
		}
		out = append(out, v)
	}
	return out
}
