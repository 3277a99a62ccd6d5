// Package assetservice serialises access to one asset graph for the HTTP
// API, the MCP server and the file watcher, and keeps the snapshot index
// in step with every mutation.
package assetservice

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/starford/assetgraph/internal/apperr"
	"github.com/starford/assetgraph/internal/checksum"
	"github.com/starford/assetgraph/internal/graph"
	"github.com/starford/assetgraph/internal/index"
	"github.com/starford/assetgraph/internal/models"
	"github.com/starford/assetgraph/internal/query"
	"github.com/starford/assetgraph/internal/storage"
	"github.com/starford/assetgraph/internal/urlutil"
)

// Event kinds passed to the Notifier.
const (
	EventCreated = "created"
	EventUpdated = "updated"
	EventDeleted = "deleted"
)

// Notifier receives asset change events. sse.Broker implements it.
type Notifier interface {
	PublishAssetEvent(kind, url string)
}

// AssetDetail is the full representation of an asset.
type AssetDetail struct {
	models.Asset
	// ETag is the digest of the raw content, matched against If-Match.
	ETag     string            `json:"etag,omitempty"`
	Text     string            `json:"text,omitempty"`
	Outgoing []models.Relation `json:"outgoing"`
	Incoming []models.Relation `json:"incoming"`
}

// PopulateSummary reports the outcome of a Load or Populate call.
type PopulateSummary struct {
	Loaded    []string     `json:"loaded"`
	Relations int          `json:"relations"`
	Failed    []FailedLoad `json:"failed"`
}

// FailedLoad is one asset that could not be loaded.
type FailedLoad struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

// Service coordinates graph, storage and index operations.
type Service struct {
	mu sync.Mutex

	g      *graph.Graph
	store  storage.Provider
	files  *storage.FileLoader
	db     index.AssetIndex
	logger *slog.Logger
	notify Notifier

	follow      any
	concurrency int
	writeBack   bool
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithNotifier sets the receiver of change events.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notify = n }
}

// WithFollow sets the default follow predicate for Populate: a query.Query
// or a func(*graph.Relation) bool.
func WithFollow(f any) Option {
	return func(s *Service) { s.follow = f }
}

// WithConcurrency bounds the loads in flight during Populate.
func WithConcurrency(n int) Option {
	return func(s *Service) { s.concurrency = n }
}

// WithWriteBack makes mutations write changed file: assets to the store.
func WithWriteBack(enabled bool) Option {
	return func(s *Service) { s.writeBack = enabled }
}

// New creates a service around g. Files of store are addressed by the
// file: URLs of its root; g is expected to load them through the same root.
func New(g *graph.Graph, store storage.Provider, db index.AssetIndex, opts ...Option) *Service {
	s := &Service{
		g:      g,
		store:  store,
		files:  storage.NewFileLoader(store),
		db:     db,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Graph returns the underlying graph. Callers must not use it concurrently
// with the service.
func (s *Service) Graph() *graph.Graph { return s.g }

// FindAssets returns the assets matching q.
func (s *Service) FindAssets(_ context.Context, q query.Query) ([]models.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	assets, err := s.g.FindAssets(q)
	if err != nil {
		return nil, err
	}
	out := make([]models.Asset, len(assets))
	for i, a := range assets {
		out[i] = index.AssetRecord(a)
	}
	return out, nil
}

// FindRelations returns the relations matching q.
func (s *Service) FindRelations(_ context.Context, q query.Query) ([]models.Relation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rels, err := s.g.FindRelations(q)
	if err != nil {
		return nil, err
	}
	return relationRecords(rels), nil
}

// GetAsset returns an asset with its text and its live relations. u is an
// absolute URL or a path relative to the site root.
func (s *Service) GetAsset(_ context.Context, u string) (*AssetDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, err := s.lookup(u)
	if err != nil {
		return nil, err
	}
	return detail(a), nil
}

// Raw returns the current bytes and content type of a loaded asset.
func (s *Service) Raw(_ context.Context, u string) ([]byte, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, err := s.lookup(u)
	if err != nil {
		return nil, "", err
	}
	if !a.IsLoaded() {
		return nil, "", apperr.ErrNotFound
	}
	return append([]byte(nil), a.Raw()...), a.ContentType(), nil
}

// Incoming returns the relations pointing at u from the snapshot index.
func (s *Service) Incoming(_ context.Context, u string) ([]models.Relation, error) {
	rels, err := s.db.Incoming(s.resolve(u))
	if err != nil {
		return nil, err
	}
	return nonNilSlice(rels), nil
}

// ListAssets returns a page of snapshot rows with an optional type filter.
func (s *Service) ListAssets(_ context.Context, limit, offset int, typ, sort string) ([]models.Asset, int, error) {
	rows, total, err := s.db.ListAssets(limit, offset, typ, sort)
	if err != nil {
		return nil, 0, err
	}
	return nonNilSlice(rows), total, nil
}

// Search delegates full-text search to the index.
func (s *Service) Search(_ context.Context, q string, limit int) ([]index.SearchResult, error) {
	res, err := s.db.Search(q, limit)
	if err != nil {
		return nil, err
	}
	return nonNilSlice(res), nil
}

// GraphDump returns all nodes and links of the snapshot.
func (s *Service) GraphDump(_ context.Context) ([]index.GraphNode, []index.GraphLink, error) {
	return s.db.Graph()
}

// Counts returns the number of assets and relations in the live graph.
func (s *Service) Counts() (assets, relations int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.g.Assets()), len(s.g.Relations())
}

// Sync writes the current graph into the snapshot index.
func (s *Service) Sync(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return index.Sync(s.db, s.g, s.logger)
}

// resolve turns a root-relative path into a file: URL under the site root.
func (s *Service) resolve(u string) string {
	if urlutil.HasScheme(u) {
		return u
	}
	return s.files.URL(strings.TrimPrefix(u, "/"))
}

func (s *Service) lookup(u string) (*graph.Asset, error) {
	a, ok := s.g.AssetByURL(s.resolve(u))
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return a, nil
}

func (s *Service) relationByID(id string) (*graph.Relation, error) {
	rels, err := s.g.FindRelations(query.Query{"id": id})
	if err != nil {
		return nil, err
	}
	if len(rels) == 0 {
		return nil, apperr.ErrNotFound
	}
	return rels[0], nil
}

func (s *Service) publish(kind, url string) {
	if s.notify != nil && url != "" {
		s.notify.PublishAssetEvent(kind, url)
	}
}

// populate expands the graph with the default follow predicate and
// refreshes the snapshot.
func (s *Service) populate(ctx context.Context, follow any) (*PopulateSummary, error) {
	if follow == nil {
		follow = s.follow
	}
	report, err := s.g.Populate(ctx, graph.PopulateOptions{
		FollowRelations: follow,
		Concurrency:     s.concurrency,
	})
	if report == nil {
		return nil, err
	}
	sum := summarize(report.Loaded, report.Failed)
	sum.Relations = report.Relations
	if err := index.Sync(s.db, s.g, s.logger); err != nil {
		return sum, err
	}
	return sum, nil
}

func summarize(loaded []*graph.Asset, failed []*graph.LoadError) *PopulateSummary {
	sum := &PopulateSummary{Loaded: []string{}, Failed: []FailedLoad{}}
	for _, a := range loaded {
		sum.Loaded = append(sum.Loaded, a.URL())
	}
	for _, f := range failed {
		sum.Failed = append(sum.Failed, FailedLoad{URL: f.URL, Error: f.Err.Error()})
	}
	return sum
}

func loadErrors(err error) []*graph.LoadError {
	if err == nil {
		return nil
	}
	var out []*graph.LoadError
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			out = append(out, loadErrors(e)...)
		}
		return out
	}
	var le *graph.LoadError
	if errors.As(err, &le) {
		return []*graph.LoadError{le}
	}
	return []*graph.LoadError{{Err: err}}
}

func detail(a *graph.Asset) *AssetDetail {
	d := &AssetDetail{
		Asset:    index.AssetRecord(a),
		Outgoing: relationRecords(a.Outgoing()),
		Incoming: relationRecords(a.Incoming()),
	}
	if a.IsLoaded() {
		d.ETag = rawChecksum(a)
		if a.IsText() {
			d.Text = a.Text()
		}
	}
	return d
}

func relationRecords(rels []*graph.Relation) []models.Relation {
	out := make([]models.Relation, len(rels))
	for i, r := range rels {
		out[i] = index.RelationRecord(r)
	}
	return out
}

// rawChecksum is the If-Match token of an asset's content.
func rawChecksum(a *graph.Asset) string {
	return checksum.Sum(a.Raw())
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
