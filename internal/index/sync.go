package index

import (
	"log/slog"

	"github.com/starford/assetgraph/internal/checksum"
	"github.com/starford/assetgraph/internal/graph"
	"github.com/starford/assetgraph/internal/models"
)

// Sync brings the snapshot up to date with g:
//   - new/changed assets are upserted with their outgoing relations
//   - assets no longer in the graph are deleted
func Sync(db AssetIndex, g *graph.Graph, logger *slog.Logger) error {
	checksums, err := db.AllChecksums()
	if err != nil {
		return err
	}

	live := make(map[string]struct{})
	upserted := 0
	for _, a := range g.Assets() {
		live[a.ID()] = struct{}{}
		rec := AssetRecord(a)
		if checksums[rec.ID] == rec.Checksum {
			continue
		}
		if err := upsert(db, a, rec); err != nil {
			logger.Warn("sync: index failed", slog.String("asset", a.String()), slog.String("error", err.Error()))
			continue
		}
		upserted++
	}

	removed := 0
	for id := range checksums {
		if _, ok := live[id]; ok {
			continue
		}
		if err := db.DeleteAsset(id); err != nil {
			logger.Warn("sync: delete failed", slog.String("id", id), slog.String("error", err.Error()))
			continue
		}
		removed++
	}

	logger.Debug("sync: done", slog.Int("upserted", upserted), slog.Int("removed", removed))
	return nil
}

// SyncAsset upserts a single asset.
func SyncAsset(db AssetIndex, a *graph.Asset) error {
	return upsert(db, a, AssetRecord(a))
}

func upsert(db AssetIndex, a *graph.Asset, rec models.Asset) error {
	body := ""
	if a.IsLoaded() && a.IsText() {
		body = a.Text()
	}
	out := a.Outgoing()
	rels := make([]models.Relation, len(out))
	for i, r := range out {
		rels[i] = RelationRecord(r)
	}
	return db.UpsertAsset(rec, body, rels)
}

// AssetRecord flattens a graph asset into its snapshot record.
func AssetRecord(a *graph.Asset) models.Asset {
	extras := a.Extras()
	title, _ := extras["title"].(string)
	if len(extras) == 0 {
		extras = nil
	}
	return models.Asset{
		ID:          a.ID(),
		URL:         a.URL(),
		Type:        a.Type(),
		ContentType: a.ContentType(),
		FileName:    a.FileName(),
		IsInline:    a.IsInline(),
		IsLoaded:    a.IsLoaded(),
		IsPopulated: a.IsPopulated(),
		Checksum:    assetChecksum(a),
		Title:       title,
		Attrs:       extras,
	}
}

// RelationRecord flattens a graph relation into its snapshot record.
// Inline hrefs are not stored; the embedded asset has its own row.
func RelationRecord(r *graph.Relation) models.Relation {
	rec := models.Relation{
		ID:          r.ID(),
		Type:        r.Type(),
		HrefType:    string(r.HrefType()),
		Fragment:    r.Fragment(),
		Canonical:   r.Canonical(),
		Crossorigin: r.Crossorigin(),
	}
	if r.HrefType() != graph.HrefInline {
		rec.Href = r.Href()
	}
	if from := r.From(); from != nil {
		rec.From = from.ID()
		rec.FromURL = from.URL()
	}
	if to := r.To(); to != nil {
		rec.To = to.ID()
		rec.ToURL = to.URL()
	}
	return rec
}

// assetChecksum digests everything a snapshot row is built from: identity,
// state flags, content and the outgoing relation targets.
func assetChecksum(a *graph.Asset) string {
	d := checksum.New().
		String(a.URL()).
		String(a.Type()).
		String(a.ContentType()).
		Bool(a.IsInline()).
		Bool(a.IsLoaded()).
		Bool(a.IsPopulated()).
		Bytes(a.Raw())
	for _, r := range a.Outgoing() {
		d.String(r.ID())
		if to := r.To(); to != nil {
			d.String(to.ID()).String(to.URL())
		}
		d.String(string(r.HrefType())).Bool(r.Canonical()).Bool(r.Crossorigin())
	}
	return d.Hex()
}
