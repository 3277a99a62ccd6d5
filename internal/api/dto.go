package api

import (
	"encoding/json"

	"github.com/starford/assetgraph/internal/assetservice"
	"github.com/starford/assetgraph/internal/index"
	"github.com/starford/assetgraph/internal/models"
)

// UpdateAssetRequest is the request body for replacing asset content.
type UpdateAssetRequest struct {
	Content string `json:"content" example:"body { color: red; }" validate:"required"`
}

// MoveAssetRequest is the request body for moving an asset.
type MoveAssetRequest struct {
	URL string `json:"url" example:"css/main.css" validate:"required"`
}

// UpdateRelationRequest lists the relation fields to change.
type UpdateRelationRequest = assetservice.RelationPatch

// PopulateRequest optionally overrides the follow predicate.
type PopulateRequest struct {
	Follow json.RawMessage `json:"follow,omitempty" swaggertype:"object"`
}

// AssetDetail is the full asset response type (aliased from the domain layer).
type AssetDetail = assetservice.AssetDetail

// PopulateResponse reports a populate run (aliased from the domain layer).
type PopulateResponse = assetservice.PopulateSummary

// AssetsResponse wraps a find result.
type AssetsResponse struct {
	Assets []models.Asset `json:"assets" validate:"required"`
}

// RelationsResponse wraps a find or incoming result.
type RelationsResponse struct {
	Relations []models.Relation `json:"relations" validate:"required"`
}

// AssetListResponse wraps paginated snapshot listings.
type AssetListResponse struct {
	Assets []models.Asset `json:"assets" validate:"required"`
	Total  int            `json:"total" example:"42" validate:"required"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []index.SearchResult `json:"results" validate:"required"`
}

// GraphResponse wraps the snapshot graph.
type GraphResponse struct {
	Nodes []index.GraphNode `json:"nodes" validate:"required"`
	Links []index.GraphLink `json:"links" validate:"required"`
}

// WriteResponse is returned after writing assets to the site.
type WriteResponse struct {
	Written int `json:"written" example:"12" validate:"required"`
}

// FileUploadResponse is returned after a successful file upload.
type FileUploadResponse struct {
	URL     string `json:"url" example:"file:///site/img/logo.png" validate:"required"`
	Type    string `json:"type" example:"Png"`
	Size    int    `json:"size" example:"12345" validate:"required"`
	Created bool   `json:"created"`
}
