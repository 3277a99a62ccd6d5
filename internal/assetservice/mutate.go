package assetservice

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"regexp"

	"github.com/starford/assetgraph/internal/apperr"
	"github.com/starford/assetgraph/internal/checksum"
	"github.com/starford/assetgraph/internal/graph"
	"github.com/starford/assetgraph/internal/index"
	"github.com/starford/assetgraph/internal/models"
	"github.com/starford/assetgraph/internal/query"
	"github.com/starford/assetgraph/internal/storage"
)

// RelationPatch lists the relation fields to change. Nil fields are kept.
type RelationPatch struct {
	HrefType  *string `json:"href_type,omitempty"`
	Canonical *bool   `json:"canonical,omitempty"`
	To        *string `json:"to,omitempty"`
}

// Load adds the entry URLs to the graph, loads them and populates. With
// no entries every file of the store is loaded.
func (s *Service) Load(ctx context.Context, entries ...string) (*PopulateSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	urls := make([]string, 0, len(entries))
	for _, e := range entries {
		urls = append(urls, s.resolve(e))
	}
	if len(urls) == 0 {
		files, err := s.store.List("")
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			urls = append(urls, s.files.URL(f.Path))
		}
	}
	if len(urls) == 0 {
		return summarize(nil, nil), nil
	}

	loaded, err := s.g.LoadAssets(ctx, urls...)
	failed := loadErrors(err)
	for _, f := range failed {
		s.logger.Warn("service: entry load failed",
			slog.String("url", f.URL),
			slog.String("error", f.Err.Error()))
	}
	sum, perr := s.populate(ctx, nil)
	if sum == nil {
		return nil, perr
	}
	entry := summarize(loaded, failed)
	sum.Loaded = append(entry.Loaded, sum.Loaded...)
	sum.Failed = append(entry.Failed, sum.Failed...)
	return sum, perr
}

// Populate expands the graph. follow overrides the default follow
// predicate when non-empty.
func (s *Service) Populate(ctx context.Context, follow query.Query) (*PopulateSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var f any
	if len(follow) > 0 {
		f = follow
	}
	sum, err := s.populate(ctx, f)
	if err != nil {
		return sum, err
	}
	for _, u := range sum.Loaded {
		s.publish(EventCreated, u)
	}
	return sum, nil
}

// UpdateAsset replaces the content of a loaded asset with optimistic
// concurrency: a non-empty ifMatch must name the current content digest.
func (s *Service) UpdateAsset(ctx context.Context, u string, content []byte, ifMatch string) (*AssetDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, err := s.lookup(u)
	if err != nil {
		return nil, err
	}
	if !a.IsLoaded() {
		return nil, fmt.Errorf("service: update %s: %w", a.URL(), graph.ErrNotLoaded)
	}
	if ifMatch != "" && !checksum.MatchETag(ifMatch, rawChecksum(a)) {
		return nil, apperr.ErrPreconditionFailed
	}
	before := s.capture()
	if err := a.SetRaw(content); err != nil {
		return nil, err
	}
	if err := s.commit(ctx, before); err != nil {
		return nil, err
	}
	// New references in the content.
	if _, err := s.populate(ctx, nil); err != nil {
		return nil, err
	}
	s.publish(EventUpdated, a.URL())
	return detail(a), nil
}

// MoveAsset changes the URL of an asset. Relations pointing at it are
// re-rendered; with write-back the file is moved in the store.
func (s *Service) MoveAsset(ctx context.Context, u, to string) (*AssetDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, err := s.lookup(u)
	if err != nil {
		return nil, err
	}
	target := s.resolve(to)
	if other, ok := s.g.AssetByURL(target); ok && other != a {
		return nil, apperr.ErrAlreadyExists
	}
	before := s.capture()
	old := a.URL()
	if err := a.SetURL(target); err != nil {
		return nil, err
	}
	if err := s.commit(ctx, before); err != nil {
		return nil, err
	}
	s.publish(EventDeleted, old)
	s.publish(EventCreated, a.URL())
	return detail(a), nil
}

// RemoveAsset removes an asset from the graph. References from other
// assets are detached from their content when detachIncoming is set.
func (s *Service) RemoveAsset(ctx context.Context, u string, detachIncoming bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, err := s.lookup(u)
	if err != nil {
		return err
	}
	before := s.capture()
	if err := s.g.RemoveAsset(a, detachIncoming); err != nil {
		if errors.Is(err, graph.ErrAssetReferenced) {
			return fmt.Errorf("%w: %w", apperr.ErrConflict, err)
		}
		return err
	}
	if err := s.commit(ctx, before); err != nil {
		return err
	}
	s.publish(EventDeleted, u)
	return nil
}

// UpdateRelation applies p to the relation with the given id.
func (s *Service) UpdateRelation(ctx context.Context, id string, p RelationPatch) (*models.Relation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.relationByID(id)
	if err != nil {
		return nil, err
	}
	before := s.capture()
	if p.To != nil {
		target := *p.To
		if a, ok := s.g.AssetByURL(s.resolve(target)); ok {
			err = r.SetTo(a)
		} else {
			err = r.SetTo(target)
		}
		if err != nil {
			return nil, err
		}
	}
	if p.HrefType != nil {
		if err := r.SetHrefType(graph.HrefType(*p.HrefType)); err != nil {
			return nil, err
		}
	}
	if p.Canonical != nil {
		if err := r.SetCanonical(*p.Canonical); err != nil {
			return nil, err
		}
	}
	if err := s.commit(ctx, before); err != nil {
		return nil, err
	}
	s.publish(EventUpdated, r.From().URL())
	rec := index.RelationRecord(r)
	return &rec, nil
}

// DetachRelation removes the reference from its source content and the
// relation from the graph.
func (s *Service) DetachRelation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.relationByID(id)
	if err != nil {
		return err
	}
	from := r.From()
	before := s.capture()
	if err := r.Detach(); err != nil {
		return err
	}
	if err := s.commit(ctx, before); err != nil {
		return err
	}
	s.publish(EventUpdated, from.URL())
	return nil
}

// AddFile stores data at a path relative to the site root and adds it to
// the graph, replacing the content of an asset already at that URL.
func (s *Service) AddFile(ctx context.Context, rel string, data []byte) (*AssetDetail, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.Write(rel, data); err != nil {
		return nil, false, err
	}
	a, created, err := s.apply(ctx, rel, data)
	if err != nil {
		return nil, false, err
	}
	kind := EventUpdated
	if created {
		kind = EventCreated
	}
	s.publish(kind, a.URL())
	return detail(a), created, nil
}

// WriteAll writes every loaded file: asset under the site root to the
// store and returns how many were written.
func (s *Service) WriteAll(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := query.Query{"url": regexp.MustCompile("^" + regexp.QuoteMeta(s.files.RootURL()))}
	return s.g.WriteAssets(ctx, s.files, q)
}

type fileState struct {
	url string
	sum string
}

// capture records the URL and content digest of every file: asset that
// write-back could touch.
func (s *Service) capture() map[*graph.Asset]fileState {
	if !s.writeBack {
		return nil
	}
	states := make(map[*graph.Asset]fileState)
	for _, a := range s.g.Assets() {
		if a.IsLoaded() && !a.IsInline() && a.URL() != "" {
			states[a] = fileState{url: a.URL(), sum: rawChecksum(a)}
		}
	}
	return states
}

// commit writes the assets changed since before, moves renamed files and
// refreshes the snapshot.
func (s *Service) commit(ctx context.Context, before map[*graph.Asset]fileState) error {
	if s.writeBack {
		if err := s.persist(ctx, before); err != nil {
			return err
		}
	}
	return index.Sync(s.db, s.g, s.logger)
}

func (s *Service) persist(ctx context.Context, before map[*graph.Asset]fileState) error {
	for _, a := range s.g.Assets() {
		if !a.IsLoaded() || a.IsInline() || a.URL() == "" {
			continue
		}
		rel, err := s.files.Path(a.URL())
		if err != nil {
			// Not under the site root.
			continue
		}
		st, known := before[a]
		moved := false
		if known && st.url != a.URL() {
			if oldRel, err := s.files.Path(st.url); err == nil {
				err := s.store.Move(oldRel, rel)
				switch {
				case err == nil:
					moved = true
					s.logger.Debug("service: moved asset", slog.String("from", oldRel), slog.String("to", rel))
				case errors.Is(err, fs.ErrExist):
					// The target file is overwritten below; drop the old one.
					if err := s.store.Delete(oldRel); err != nil && !errors.Is(err, fs.ErrNotExist) {
						return err
					}
				case !errors.Is(err, fs.ErrNotExist):
					return err
				}
			}
		}
		if known && st.sum == checksum.Sum(a.Raw()) && (st.url == a.URL() || moved) {
			continue
		}
		if err := s.files.Write(ctx, a.URL(), a.Raw()); err != nil {
			return err
		}
		s.logger.Debug("service: wrote asset", slog.String("path", rel))
	}
	return nil
}

// apply brings the asset at rel in line with data. created reports
// whether the asset was new to the graph.
func (s *Service) apply(ctx context.Context, rel string, data []byte) (*graph.Asset, bool, error) {
	u := s.files.URL(rel)
	a, ok := s.g.AssetByURL(u)
	switch {
	case !ok:
		added, err := s.g.AddAsset(graph.AssetConfig{
			URL:         u,
			Raw:         data,
			ContentType: storage.ContentTypeFor(rel),
		})
		if err != nil {
			return nil, false, err
		}
		a = added
	case a.IsLoaded():
		if err := a.SetRaw(data); err != nil {
			return nil, false, err
		}
	default:
		if _, err := s.g.LoadAssets(ctx, u); err != nil {
			return nil, false, err
		}
	}
	if _, err := s.populate(ctx, nil); err != nil {
		return nil, false, err
	}
	return a, !ok, nil
}
