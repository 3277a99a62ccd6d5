package assetservice

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/starford/assetgraph/internal/checksum"
	"github.com/starford/assetgraph/internal/graph"
	"github.com/starford/assetgraph/internal/index"
)

var _ index.Handler = (*Service)(nil)

// FileChanged implements index.Handler. A file whose bytes equal the
// loaded content is ignored, which absorbs the events caused by write-back.
func (s *Service) FileChanged(ctx context.Context, rel string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.store.Read(rel)
	if err != nil {
		return false, err
	}
	if a, ok := s.g.AssetByURL(s.files.URL(rel)); ok && a.IsLoaded() && bytes.Equal(a.Raw(), data) {
		return false, nil
	}
	_, created, err := s.apply(ctx, rel, data)
	return created, err
}

// FileRemoved implements index.Handler. Assets still referenced by other
// assets stay in the graph with their last content.
func (s *Service) FileRemoved(_ context.Context, rel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.removeFile(rel); err != nil {
		return err
	}
	return index.Sync(s.db, s.g, s.logger)
}

func (s *Service) removeFile(rel string) error {
	a, ok := s.g.AssetByURL(s.files.URL(rel))
	if !ok {
		return nil
	}
	err := s.g.RemoveAsset(a, false)
	if errors.Is(err, graph.ErrAssetReferenced) {
		s.logger.Info("service: removed file is still referenced", slog.String("url", a.URL()))
		return nil
	}
	return err
}

// Reconcile implements index.Handler: file: assets whose file is gone are
// removed, files that are new or differ from the loaded content are applied.
func (s *Service) Reconcile(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	files, err := s.store.List("")
	if err != nil {
		return err
	}
	onDisk := make(map[string]string, len(files))
	for _, f := range files {
		onDisk[s.files.URL(f.Path)] = f.Checksum
	}

	for _, a := range s.g.Assets() {
		if !a.IsLoaded() || a.IsInline() || a.URL() == "" {
			continue
		}
		rel, err := s.files.Path(a.URL())
		if err != nil {
			continue
		}
		if _, ok := onDisk[a.URL()]; ok {
			continue
		}
		if err := s.removeFile(rel); err != nil {
			return err
		}
	}

	for _, f := range files {
		a, ok := s.g.AssetByURL(s.files.URL(f.Path))
		if ok && a.IsLoaded() && checksum.Sum(a.Raw()) == f.Checksum {
			continue
		}
		data, err := s.store.Read(f.Path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return err
		}
		if _, _, err := s.apply(ctx, f.Path, data); err != nil {
			s.logger.Warn("service: reconcile failed",
				slog.String("path", f.Path),
				slog.String("error", err.Error()))
		}
	}
	return index.Sync(s.db, s.g, s.logger)
}
