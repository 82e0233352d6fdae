package tui

import (
	"github.com/tinymem-dev/tinymem/internal/score"
	"github.com/tinymem-dev/tinymem/internal/store"
)

// filterChains keeps the chains whose name matches query, best first.
// An empty query keeps everything in its original order.
func filterChains(chains []store.ChainSummary, query string) []store.ChainSummary {
	if query == "" {
		return chains
	}
	byName := make(map[string]store.ChainSummary, len(chains))
	names := make([]string, 0, len(chains))
	for _, c := range chains {
		byName[c.Name] = c
		names = append(names, c.Name)
	}
	matches := score.RankNames(names, query, score.ChainNameBoost, score.ChainNameFloor, -1)
	out := make([]store.ChainSummary, 0, len(matches))
	for _, m := range matches {
		out = append(out, byName[m.Name])
	}
	return out
}

// filterArtifacts scores "title description" the way chain names are scored.
func filterArtifacts(artifacts []store.Artifact, query string) []store.Artifact {
	if query == "" {
		return artifacts
	}
	type scored struct {
		a store.Artifact
		s float64
	}
	var hits []scored
	for _, a := range artifacts {
		s := score.Name(a.Title+" "+a.Description, query, score.ChainNameBoost)
		if s > score.ChainNameFloor {
			hits = append(hits, scored{a, s})
		}
	}
	score.SortDesc(hits, func(h scored) float64 { return h.s })
	out := make([]store.Artifact, len(hits))
	for i, h := range hits {
		out[i] = h.a
	}
	return out
}
