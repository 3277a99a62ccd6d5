package index

import "github.com/starford/assetgraph/internal/models"

// AssetIndex defines the snapshot operations consumers depend on.
// Depend on this interface rather than *DB to test with fakes.
type AssetIndex interface {
	UpsertAsset(a models.Asset, body string, rels []models.Relation) error
	DeleteAsset(id string) error
	GetChecksum(id string) (string, error)
	GetAsset(url string) (*models.Asset, error)
	ListAssets(limit, offset int, typ, sort string) ([]models.Asset, int, error)
	Search(query string, limit int) ([]SearchResult, error)
	Graph() ([]GraphNode, []GraphLink, error)
	Incoming(url string) ([]models.Relation, error)
	AllChecksums() (map[string]string, error)
	Counts() (assets, relations int, err error)
	Close() error
}

// Verify *DB satisfies AssetIndex at compile time.
var _ AssetIndex = (*DB)(nil)
