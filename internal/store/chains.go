package store

import (
	"cmp"
	"context"
	"slices"
	"strconv"

	"github.com/tinymem-dev/tinymem/internal/kv"
	"github.com/tinymem-dev/tinymem/internal/score"
)

// SaveChainLink stores link and indexes it under its chain. It returns the
// link's key. Two links saved to one chain within the same second share a key
// and the later one wins.
func (s *Store) SaveChainLink(ctx context.Context, link *ChainLink) (string, error) {
	raw, err := encode(link)
	if err != nil {
		return "", err
	}
	key := chainLinkKey(link.ChainName, link.TS)
	err = s.kv.Atomic(ctx,
		kv.Set(key, raw),
		kv.SetAdd(chainNames, link.ChainName),
		kv.SetAdd(chainLinksKey(link.ChainName), key),
	)
	if err != nil {
		return "", err
	}
	return key, nil
}

// ChainLinks returns every link of chain name, newest first.
func (s *Store) ChainLinks(ctx context.Context, name string) ([]ChainLink, error) {
	keys, err := s.kv.Members(ctx, chainLinksKey(name))
	if err != nil {
		return nil, err
	}
	links, err := loadAll[ChainLink](ctx, s, keys)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(links, func(a, b ChainLink) int {
		return cmp.Compare(b.TS, a.TS)
	})
	return links, nil
}

// ChainLink finds a link of chain name by slug, or failing that by its
// decimal timestamp. When several links share a slug the newest wins.
func (s *Store) ChainLink(ctx context.Context, name, identifier string) (*ChainLink, error) {
	links, err := s.ChainLinks(ctx, name)
	if err != nil {
		return nil, err
	}
	for i := range links {
		if links[i].Slug == identifier {
			return &links[i], nil
		}
	}
	for i := range links {
		if strconv.FormatInt(links[i].TS, 10) == identifier {
			return &links[i], nil
		}
	}
	return nil, nil
}

// ChainNames returns the names of all chains, sorted.
func (s *Store) ChainNames(ctx context.Context) ([]string, error) {
	names, err := s.kv.Members(ctx, chainNames)
	if err != nil {
		return nil, err
	}
	slices.Sort(names)
	return names, nil
}

// ListChains returns every chain with its link count.
func (s *Store) ListChains(ctx context.Context) ([]ChainSummary, error) {
	names, err := s.ChainNames(ctx)
	if err != nil {
		return nil, err
	}
	chains := make([]ChainSummary, 0, len(names))
	for _, name := range names {
		links, err := s.ChainLinks(ctx, name)
		if err != nil {
			return nil, err
		}
		chains = append(chains, ChainSummary{Name: name, Links: len(links)})
	}
	return chains, nil
}

// SearchChains ranks chain names against query, keeping scores above 0.4.
func (s *Store) SearchChains(ctx context.Context, query string, limit int) ([]score.Match, error) {
	names, err := s.ChainNames(ctx)
	if err != nil {
		return nil, err
	}
	return score.RankNames(names, query, score.ChainNameBoost, score.ChainNameFloor, limit), nil
}

// DeleteChain removes every link of chain name and its index entries in one batch.
func (s *Store) DeleteChain(ctx context.Context, name string) error {
	keys, err := s.kv.Members(ctx, chainLinksKey(name))
	if err != nil {
		return err
	}
	ops := make([]kv.Op, 0, len(keys)+2)
	for _, key := range keys {
		ops = append(ops, kv.Delete(key))
	}
	ops = append(ops,
		kv.Delete(chainLinksKey(name)),
		kv.SetRemove(chainNames, name),
	)
	return s.kv.Atomic(ctx, ops...)
}
