package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/assetgraph/internal/assetservice"
	"github.com/starford/assetgraph/internal/checksum"
	"github.com/starford/assetgraph/internal/query"
	"github.com/starford/assetgraph/internal/urlutil"
)

const maxBodyBytes = 10 << 20

// Handler holds API route handlers.
type Handler struct {
	svc *assetservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *assetservice.Service) *Handler {
	return &Handler{svc: svc}
}

// assetPath extracts the asset path from the URL (everything after the
// route prefix). Supports encoded slashes from OpenAPI clients
// (e.g. css%2Fmain.css) and absolute URLs (e.g. https%3A%2F%2Fcdn...).
func assetPath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// valuesQuery builds a query from the URL parameters, ignoring the auth
// token parameter.
func valuesQuery(r *http.Request) (query.Query, error) {
	values := r.URL.Query()
	values.Del(tokenParam)
	return query.FromValues(values)
}

// decodeQuery reads a JSON query object from the body. An empty body is
// the empty query.
func decodeQuery(w http.ResponseWriter, r *http.Request) (query.Query, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read body"))
		return nil, false
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return query.Query{}, true
	}
	q, err := query.FromJSON(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return nil, false
	}
	return q, true
}

// FindAssets handles GET /api/assets.
//
//	@Summary		Find assets in the live graph
//	@Description	Every query parameter is a matcher: "~re" regexp, "!v" negation, "*" defined, "-" undefined; dotted keys nest.
//	@Tags			assets
//	@Produce		json
//	@Param			type	query		string	false	"Asset type"	example(Css)
//	@Success		200		{object}	AssetsResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/assets [get]
func (h *Handler) FindAssets(w http.ResponseWriter, r *http.Request) {
	q, err := valuesQuery(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	h.findAssets(w, r, q)
}

// QueryAssets handles POST /api/assets/query.
//
//	@Summary		Find assets with a JSON query
//	@Tags			assets
//	@Accept			json
//	@Produce		json
//	@Success		200	{object}	AssetsResponse
//	@Failure		400	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/assets/query [post]
func (h *Handler) QueryAssets(w http.ResponseWriter, r *http.Request) {
	q, ok := decodeQuery(w, r)
	if !ok {
		return
	}
	h.findAssets(w, r, q)
}

func (h *Handler) findAssets(w http.ResponseWriter, r *http.Request, q query.Query) {
	assets, err := h.svc.FindAssets(r.Context(), q)
	if err != nil {
		writeError(w, "find assets", err)
		return
	}
	writeJSON(w, http.StatusOK, AssetsResponse{Assets: nonNil(assets)})
}

// GetAsset handles GET /api/assets/*.
//
//	@Summary		Get a single asset by path or URL
//	@Tags			assets
//	@Produce		json
//	@Param			path	path		string	true	"Asset path relative to the site root, or an absolute URL"
//	@Success		200		{object}	AssetDetail
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/assets/{path} [get]
func (h *Handler) GetAsset(w http.ResponseWriter, r *http.Request) {
	path := assetPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	asset, err := h.svc.GetAsset(r.Context(), path)
	if err != nil {
		writeError(w, "get asset", err, slog.String("path", path))
		return
	}
	if asset.ETag != "" {
		w.Header().Set("ETag", checksum.ETag(asset.ETag))
	}
	writeJSON(w, http.StatusOK, asset)
}

// UpdateAsset handles PUT /api/assets/*.
//
//	@Summary		Replace asset content with optimistic concurrency
//	@Tags			assets
//	@Accept			json
//	@Produce		json
//	@Param			path		path		string				true	"Asset path"
//	@Param			If-Match	header		string				false	"Content digest from the ETag header"
//	@Param			body		body		UpdateAssetRequest	true	"Updated content"
//	@Success		200			{object}	AssetDetail
//	@Failure		400			{object}	errResponse
//	@Failure		404			{object}	errResponse
//	@Failure		409			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/assets/{path} [put]
func (h *Handler) UpdateAsset(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	path := assetPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	var req UpdateAssetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}

	asset, err := h.svc.UpdateAsset(r.Context(), path, []byte(req.Content), r.Header.Get("If-Match"))
	if err != nil {
		writeError(w, "update asset", err, slog.String("path", path))
		return
	}
	writeJSON(w, http.StatusOK, asset)
}

// MoveAsset handles PATCH /api/assets/*.
//
//	@Summary		Move an asset to another URL
//	@Description	Every relation pointing at the asset is re-rendered.
//	@Tags			assets
//	@Accept			json
//	@Produce		json
//	@Param			path	path		string				true	"Asset path"
//	@Param			body	body		MoveAssetRequest	true	"New URL or path"
//	@Success		200		{object}	AssetDetail
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/assets/{path} [patch]
func (h *Handler) MoveAsset(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	path := assetPath(r)
	var req MoveAssetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if path == "" || req.URL == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path and url are required"))
		return
	}
	asset, err := h.svc.MoveAsset(r.Context(), path, req.URL)
	if err != nil {
		writeError(w, "move asset", err, slog.String("path", path), slog.String("to", req.URL))
		return
	}
	writeJSON(w, http.StatusOK, asset)
}

// RemoveAsset handles DELETE /api/assets/*.
//
//	@Summary		Remove an asset from the graph
//	@Tags			assets
//	@Param			path	path	string	true	"Asset path"
//	@Param			detach	query	bool	false	"Detach references from other assets"
//	@Success		204		"Asset removed"
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/assets/{path} [delete]
func (h *Handler) RemoveAsset(w http.ResponseWriter, r *http.Request) {
	path := assetPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	detach, _ := strconv.ParseBool(r.URL.Query().Get("detach"))
	if err := h.svc.RemoveAsset(r.Context(), path, detach); err != nil {
		writeError(w, "remove asset", err, slog.String("path", path))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// FindRelations handles GET /api/relations.
//
//	@Summary		Find relations in the live graph
//	@Description	Same parameter syntax as /assets; "from.*" and "to.*" match the endpoint assets.
//	@Tags			relations
//	@Produce		json
//	@Param			type	query		string	false	"Relation type"	example(HtmlAnchor)
//	@Success		200		{object}	RelationsResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/relations [get]
func (h *Handler) FindRelations(w http.ResponseWriter, r *http.Request) {
	q, err := valuesQuery(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	h.findRelations(w, r, q)
}

// QueryRelations handles POST /api/relations/query.
//
//	@Summary		Find relations with a JSON query
//	@Tags			relations
//	@Accept			json
//	@Produce		json
//	@Success		200	{object}	RelationsResponse
//	@Failure		400	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/relations/query [post]
func (h *Handler) QueryRelations(w http.ResponseWriter, r *http.Request) {
	q, ok := decodeQuery(w, r)
	if !ok {
		return
	}
	h.findRelations(w, r, q)
}

func (h *Handler) findRelations(w http.ResponseWriter, r *http.Request, q query.Query) {
	rels, err := h.svc.FindRelations(r.Context(), q)
	if err != nil {
		writeError(w, "find relations", err)
		return
	}
	writeJSON(w, http.StatusOK, RelationsResponse{Relations: nonNil(rels)})
}

// UpdateRelation handles PATCH /api/relations/{id}.
//
//	@Summary		Retarget a relation or change how its href renders
//	@Tags			relations
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string					true	"Relation id"
//	@Param			body	body		UpdateRelationRequest	true	"Fields to change"
//	@Success		200		{object}	models.Relation
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/relations/{id} [patch]
func (h *Handler) UpdateRelation(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	id := chi.URLParam(r, "id")
	var req UpdateRelationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.HrefType != nil && !urlutil.HrefType(*req.HrefType).Valid() {
		writeJSON(w, http.StatusBadRequest, errorBody("unknown href_type "+strconv.Quote(*req.HrefType)))
		return
	}
	rel, err := h.svc.UpdateRelation(r.Context(), id, req)
	if err != nil {
		writeError(w, "update relation", err, slog.String("id", id))
		return
	}
	writeJSON(w, http.StatusOK, rel)
}

// DetachRelation handles DELETE /api/relations/{id}.
//
//	@Summary		Remove a reference from its source content
//	@Tags			relations
//	@Param			id	path	string	true	"Relation id"
//	@Success		204	"Relation detached"
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/relations/{id} [delete]
func (h *Handler) DetachRelation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.DetachRelation(r.Context(), id); err != nil {
		writeError(w, "detach relation", err, slog.String("id", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Populate handles POST /api/populate.
//
//	@Summary		Load and expand referenced assets to a fixed point
//	@Tags			graph
//	@Accept			json
//	@Produce		json
//	@Param			body	body		PopulateRequest	false	"Follow predicate as a JSON query"
//	@Success		200		{object}	PopulateResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/populate [post]
func (h *Handler) Populate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req PopulateRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
			writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
			return
		}
	}
	var follow query.Query
	if len(req.Follow) > 0 {
		q, err := query.FromJSON(req.Follow)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
			return
		}
		follow = q
	}
	sum, err := h.svc.Populate(r.Context(), follow)
	if err != nil {
		writeError(w, "populate", err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// WriteAll handles POST /api/write.
//
//	@Summary		Write every loaded site asset back to disk
//	@Tags			graph
//	@Produce		json
//	@Success		200	{object}	WriteResponse
//	@Security		BearerAuth
//	@Router			/write [post]
func (h *Handler) WriteAll(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.WriteAll(r.Context())
	if err != nil {
		writeError(w, "write assets", err)
		return
	}
	writeJSON(w, http.StatusOK, WriteResponse{Written: n})
}

// ListAssets handles GET /api/index/assets.
//
//	@Summary		List snapshot rows with pagination
//	@Tags			index
//	@Produce		json
//	@Param			limit	query		int		false	"Page size"
//	@Param			offset	query		int		false	"Page offset"
//	@Param			type	query		string	false	"Filter by asset type"
//	@Param			sort	query		string	false	"Sort field"	Enums(url, type, updated_at)
//	@Success		200		{object}	AssetListResponse
//	@Security		BearerAuth
//	@Router			/index/assets [get]
func (h *Handler) ListAssets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	items, total, err := h.svc.ListAssets(r.Context(), limit, offset, q.Get("type"), q.Get("sort"))
	if err != nil {
		writeError(w, "list assets", err)
		return
	}
	writeJSON(w, http.StatusOK, AssetListResponse{Assets: items, Total: total})
}

// Incoming handles GET /api/incoming/*.
//
//	@Summary		Relations pointing at an asset
//	@Tags			index
//	@Produce		json
//	@Param			path	path		string	true	"Asset path or URL"
//	@Success		200		{object}	RelationsResponse
//	@Security		BearerAuth
//	@Router			/incoming/{path} [get]
func (h *Handler) Incoming(w http.ResponseWriter, r *http.Request) {
	path := assetPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	rels, err := h.svc.Incoming(r.Context(), path)
	if err != nil {
		writeError(w, "incoming", err, slog.String("path", path))
		return
	}
	writeJSON(w, http.StatusOK, RelationsResponse{Relations: rels})
}

// Search handles GET /api/search.
//
//	@Summary		Full-text search across asset text
//	@Tags			index
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.svc.Search(r.Context(), q, limit)
	if err != nil {
		writeError(w, "search", err, slog.String("query", q))
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}

// Graph handles GET /api/graph.
//
//	@Summary		Get the asset graph snapshot
//	@Tags			index
//	@Produce		json
//	@Success		200	{object}	GraphResponse
//	@Security		BearerAuth
//	@Router			/graph [get]
func (h *Handler) Graph(w http.ResponseWriter, r *http.Request) {
	nodes, links, err := h.svc.GraphDump(r.Context())
	if err != nil {
		writeError(w, "graph", err)
		return
	}
	writeJSON(w, http.StatusOK, GraphResponse{Nodes: nonNil(nodes), Links: nonNil(links)})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
