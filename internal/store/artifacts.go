package store

import (
	"cmp"
	"context"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/tinymem-dev/tinymem/internal/kv"
)

const maxIDTitle = 40

// ArtifactID derives an artifact id from its creation time and title.
func ArtifactID(ts int64, title string) string {
	var b strings.Builder
	underscore := false
	for _, r := range strings.ToLower(title) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore && b.Len() > 0 {
			b.WriteByte('_')
			underscore = true
		}
	}
	slug := strings.TrimRight(b.String(), "_")
	if len(slug) > maxIDTitle {
		slug = strings.TrimRight(slug[:maxIDTitle], "_")
	}
	if slug == "" {
		slug = "artifact"
	}
	return strconv.FormatInt(ts, 10) + "_" + slug
}

// FileType returns the lower-cased extension of path without the dot.
func FileType(path string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
}

// NewArtifact builds an artifact record for path. The caller is responsible
// for checking the file exists and for resolving path to an absolute one.
func NewArtifact(sessionID, path, title, description string, ts int64) *Artifact {
	return &Artifact{
		ID:          ArtifactID(ts, title),
		FilePath:    path,
		Title:       title,
		Description: description,
		SessionID:   sessionID,
		FileType:    FileType(path),
		TS:          ts,
	}
}

// SaveArtifact stores a and indexes its id.
func (s *Store) SaveArtifact(ctx context.Context, a *Artifact) error {
	raw, err := encode(a)
	if err != nil {
		return err
	}
	return s.kv.Atomic(ctx,
		kv.Set(artifactKey(a.ID), raw),
		kv.SetAdd(artifactIDs, a.ID),
	)
}

func (s *Store) GetArtifact(ctx context.Context, id string) (*Artifact, error) {
	return getJSON[Artifact](ctx, s, artifactKey(id))
}

// ListArtifacts returns all artifacts, newest first.
func (s *Store) ListArtifacts(ctx context.Context) ([]Artifact, error) {
	ids, err := s.kv.Members(ctx, artifactIDs)
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = artifactKey(id)
	}
	artifacts, err := loadAll[Artifact](ctx, s, keys)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(artifacts, func(a, b Artifact) int {
		if c := cmp.Compare(b.TS, a.TS); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return artifacts, nil
}

// DeleteArtifact removes the record, its index entry and any cached text.
func (s *Store) DeleteArtifact(ctx context.Context, id string) error {
	return s.kv.Atomic(ctx,
		kv.Delete(artifactKey(id)),
		kv.SetRemove(artifactIDs, id),
		kv.Delete(artifactTextKey(id)),
	)
}

// SetArtifactText caches extracted text for artifact id. The cache is
// independent of the artifact record.
func (s *Store) SetArtifactText(ctx context.Context, id, text string) error {
	return s.kv.Set(ctx, artifactTextKey(id), text)
}

// ArtifactText returns the cached text for artifact id.
func (s *Store) ArtifactText(ctx context.Context, id string) (string, bool, error) {
	return s.kv.Get(ctx, artifactTextKey(id))
}
