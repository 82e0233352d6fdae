package store

import (
	"context"
	"strings"

	"github.com/tinymem-dev/tinymem/internal/score"
)

const previewLen = 200

// Composite id prefixes understood by GlobalGet.
const (
	chainPrefix    = "chain:"
	artifactPrefix = "artifact:"
)

// ChainLinkRef returns the composite id of a chain link.
func ChainLinkRef(name, slug string) string { return chainPrefix + name + ":" + slug }

// ArtifactRef returns the composite id of an artifact.
func ArtifactRef(id string) string { return artifactPrefix + id }

// GlobalSearch scores every chain link and artifact against query, keeps hits
// above 0.3 and returns the best limit of them.
func (s *Store) GlobalSearch(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	var results []SearchResult

	names, err := s.ChainNames(ctx)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		links, err := s.ChainLinks(ctx, name)
		if err != nil {
			return nil, err
		}
		for _, link := range links {
			sc := score.Relevance(name+" "+link.Slug+" "+link.Content, query)
			if sc <= score.GlobalFloor {
				continue
			}
			results = append(results, SearchResult{
				Type:    ResultChainLink,
				ID:      ChainLinkRef(name, link.Slug),
				Title:   name + "/" + link.Slug,
				Score:   sc,
				Preview: score.Preview(link.Content, previewLen),
			})
		}
	}

	artifacts, err := s.ListArtifacts(ctx)
	if err != nil {
		return nil, err
	}
	for _, a := range artifacts {
		text, _, err := s.ArtifactText(ctx, a.ID)
		if err != nil {
			return nil, err
		}
		sc := score.Relevance(a.Title+" "+a.Description+" "+text, query)
		if sc <= score.GlobalFloor {
			continue
		}
		preview := a.Description
		if text != "" {
			preview = text
		}
		results = append(results, SearchResult{
			Type:    ResultArtifact,
			ID:      ArtifactRef(a.ID),
			Title:   a.Title,
			Score:   sc,
			Preview: score.Preview(preview, previewLen),
		})
	}

	score.SortDesc(results, func(r SearchResult) float64 { return r.Score })
	if limit >= 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// GlobalGet dereferences a composite id of the form "chain:<name>:<slug>" or
// "artifact:<id>". Unknown prefixes and missing entities return nil.
func (s *Store) GlobalGet(ctx context.Context, ref string) (*Entity, error) {
	switch {
	case strings.HasPrefix(ref, chainPrefix):
		name, ident, ok := strings.Cut(strings.TrimPrefix(ref, chainPrefix), ":")
		if !ok {
			return nil, nil
		}
		link, err := s.ChainLink(ctx, name, ident)
		if err != nil || link == nil {
			return nil, err
		}
		return &Entity{Type: ResultChainLink, ChainLink: link, Text: link.Content}, nil

	case strings.HasPrefix(ref, artifactPrefix):
		id := strings.TrimPrefix(ref, artifactPrefix)
		a, err := s.GetArtifact(ctx, id)
		if err != nil || a == nil {
			return nil, err
		}
		text, _, err := s.ArtifactText(ctx, id)
		if err != nil {
			return nil, err
		}
		return &Entity{Type: ResultArtifact, Artifact: a, Text: text}, nil
	}
	return nil, nil
}
