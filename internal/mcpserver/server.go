// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the asset graph to LLM clients via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/assetgraph/internal/apperr"
	"github.com/starford/assetgraph/internal/assetservice"
	"github.com/starford/assetgraph/internal/graph"
	"github.com/starford/assetgraph/internal/query"
	"github.com/starford/assetgraph/internal/storage"
)

const (
	queryLanguageURI = "assetgraph://query-language"
	defaultLimit     = 20
)

// Server wraps the MCP server with asset graph tools.
type Server struct {
	mcp    *server.MCPServer
	svc    *assetservice.Service
	fetch  graph.Loader
	logger *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithFetcher sets the loader used by add_asset for http(s) sources.
func WithFetcher(l graph.Loader) Option {
	return func(s *Server) { s.fetch = l }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates a new MCP server with all tools registered.
func New(svc *assetservice.Service, opts ...Option) *Server {
	s := &Server{svc: svc, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	if s.fetch == nil {
		s.fetch = storage.NewHTTPLoader(storage.WithBlockPrivate(true))
	}

	s.mcp = server.NewMCPServer(
		"AssetGraph",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("find_assets",
		mcp.WithDescription("Find assets in the graph matching a JSON query. "+
			"Read the query language via the get_query_language tool first."),
		mcp.WithString("query", mcp.Description(`JSON query object, e.g. {"type":"Css","isLoaded":true}. Empty matches all`)),
	), s.findAssets)

	s.mcp.AddTool(mcp.NewTool("find_relations",
		mcp.WithDescription("Find relations in the graph matching a JSON query."),
		mcp.WithString("query", mcp.Description(`JSON query object, e.g. {"type":"HtmlImage","to":{"isLoaded":false}}`)),
	), s.findRelations)

	s.mcp.AddTool(mcp.NewTool("get_asset",
		mcp.WithDescription("Get one asset with its text content and its outgoing and incoming relations."),
		mcp.WithString("url", mcp.Required(), mcp.Description("Asset URL or path relative to the site root")),
	), s.getAsset)

	s.mcp.AddTool(mcp.NewTool("get_incoming",
		mcp.WithDescription("List the relations pointing at an asset, from the snapshot index."),
		mcp.WithString("url", mcp.Required(), mcp.Description("Asset URL or path relative to the site root")),
	), s.getIncoming)

	s.mcp.AddTool(mcp.NewTool("search_assets",
		mcp.WithDescription("Full-text search through the text of loaded assets."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 20)")),
	), s.searchAssets)

	s.mcp.AddTool(mcp.NewTool("populate",
		mcp.WithDescription("Load every unloaded asset reachable through relations matching the follow query."),
		mcp.WithString("follow", mcp.Description("JSON relation query. Empty uses the configured follow policy")),
	), s.populate)

	s.mcp.AddTool(mcp.NewTool("add_asset",
		mcp.WithDescription("Save a file into the site and add it to the graph. "+
			"The source is a base64 data: URI or an http(s) URL."),
		mcp.WithString("source", mcp.Required(), mcp.Description("data: URI or http(s) URL")),
		mcp.WithString("path", mcp.Description("Target path relative to the site root. Defaults to assets/<name>")),
	), s.addAsset)

	s.mcp.AddTool(mcp.NewTool("get_query_language",
		mcp.WithDescription("Returns the query language reference used by find_assets, find_relations and populate."),
	), s.getQueryLanguage)

	s.mcp.AddResource(
		mcp.NewResource(queryLanguageURI, "Query Language",
			mcp.WithResourceDescription("Reference for the JSON query language over assets and relations."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readQueryLanguageResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func parseQuery(raw string) (query.Query, error) {
	if raw == "" {
		return nil, nil
	}
	return query.FromJSON([]byte(raw))
}

func jsonResult(v any) *mcp.CallToolResult {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(string(out))
}

func (s *Server) errorResult(tool string, err error) *mcp.CallToolResult {
	if errors.Is(err, apperr.ErrNotFound) {
		return mcp.NewToolResultError("not found")
	}
	if !errors.Is(err, query.ErrMalformed) {
		s.logger.Warn("mcp tool failed", slog.String("tool", tool), slog.String("error", err.Error()))
	}
	return mcp.NewToolResultError(err.Error())
}

func (s *Server) findAssets(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q, err := parseQuery(req.GetString("query", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	assets, err := s.svc.FindAssets(ctx, q)
	if err != nil {
		return s.errorResult("find_assets", err), nil
	}
	return jsonResult(assets), nil
}

func (s *Server) findRelations(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q, err := parseQuery(req.GetString("query", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rels, err := s.svc.FindRelations(ctx, q)
	if err != nil {
		return s.errorResult("find_relations", err), nil
	}
	return jsonResult(rels), nil
}

func (s *Server) getAsset(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	u, err := req.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	d, err := s.svc.GetAsset(ctx, u)
	if err != nil {
		return s.errorResult("get_asset", err), nil
	}
	return jsonResult(d), nil
}

func (s *Server) getIncoming(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	u, err := req.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rels, err := s.svc.Incoming(ctx, u)
	if err != nil {
		return s.errorResult("get_incoming", err), nil
	}
	if len(rels) == 0 {
		return mcp.NewToolResultText("no incoming relations found"), nil
	}
	return jsonResult(rels), nil
}

func (s *Server) searchAssets(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	limit := req.GetInt("limit", defaultLimit)
	if limit <= 0 || limit > 100 {
		limit = defaultLimit
	}
	results, err := s.svc.Search(ctx, q, limit)
	if err != nil {
		return s.errorResult("search_assets", err), nil
	}
	return jsonResult(results), nil
}

func (s *Server) populate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	follow, err := parseQuery(req.GetString("follow", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sum, err := s.svc.Populate(ctx, follow)
	if err != nil {
		return s.errorResult("populate", err), nil
	}
	return jsonResult(sum), nil
}

func (s *Server) getQueryLanguage(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(QueryLanguage), nil
}

func (s *Server) readQueryLanguageResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      queryLanguageURI,
			MIMEType: "text/markdown",
			Text:     QueryLanguage,
		},
	}, nil
}
