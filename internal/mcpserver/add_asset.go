package mcpserver

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/vincent-petithory/dataurl"

	"github.com/starford/assetgraph/internal/storage"
	"github.com/starford/assetgraph/internal/urlutil"
)

const (
	maxAssetSize = 10 << 20 // 10 MB
	assetsDir    = "assets"
)

var (
	mimeToExt = map[string]string{
		"image/png":              ".png",
		"image/jpeg":             ".jpg",
		"image/gif":              ".gif",
		"image/webp":             ".webp",
		"image/svg+xml":          ".svg",
		"image/x-icon":           ".ico",
		"text/css":               ".css",
		"text/html":              ".html",
		"text/plain":             ".txt",
		"text/markdown":          ".md",
		"application/javascript": ".js",
		"text/javascript":        ".js",
		"application/json":       ".json",
		"font/woff":              ".woff",
		"font/woff2":             ".woff2",
	}

	// binaryExts are checked against the sniffed content type.
	binaryExts = map[string]string{
		".png":  "image/png",
		".jpg":  "image/jpeg",
		".jpeg": "image/jpeg",
		".gif":  "image/gif",
		".webp": "image/webp",
	}

	safeSegmentRe = regexp.MustCompile(`[^a-zA-Z0-9._-]`)
)

type addResult struct {
	URL     string `json:"url"`
	Type    string `json:"type"`
	Size    int    `json:"size"`
	Created bool   `json:"created"`
	// Outgoing counts the relations found in the new asset.
	Outgoing int `json:"outgoing"`
}

func (s *Server) addAsset(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	source, err := req.RequireString("source")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	target := req.GetString("path", "")

	var data []byte
	var detectedExt string
	if strings.HasPrefix(source, "data:") {
		data, detectedExt, err = decodeDataURI(source)
	} else {
		data, detectedExt, err = s.fetchHTTP(ctx, source)
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(data) > maxAssetSize {
		return mcp.NewToolResultError(fmt.Sprintf("file too large: %d bytes (max %d)", len(data), maxAssetSize)), nil
	}

	if target == "" {
		target = path.Join(assetsDir, filenameFromSource(source, detectedExt))
	}
	rel, err := sanitizePath(target)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := validateMagicBytes(data, strings.ToLower(path.Ext(rel))); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	d, created, err := s.svc.AddFile(ctx, rel, data)
	if err != nil {
		return s.errorResult("add_asset", err), nil
	}
	return jsonResult(addResult{
		URL:      d.URL,
		Type:     d.Type,
		Size:     len(data),
		Created:  created,
		Outgoing: len(d.Outgoing),
	}), nil
}

// decodeDataURI parses a data: URI and returns its bytes and the file
// extension matching its media type.
func decodeDataURI(uri string) ([]byte, string, error) {
	du, err := dataurl.DecodeString(uri)
	if err != nil {
		return nil, "", fmt.Errorf("invalid data URI: %w", err)
	}
	mt := du.MediaType.ContentType()
	ext := mimeToExt[mt]
	if ext == "" {
		return nil, "", fmt.Errorf("unsupported MIME type in data URI: %s", mt)
	}
	return du.Data, ext, nil
}

// fetchHTTP downloads source through the configured loader.
func (s *Server) fetchHTTP(ctx context.Context, source string) ([]byte, string, error) {
	parsed, err := url.Parse(source)
	if err != nil {
		return nil, "", fmt.Errorf("invalid URL: %w", err)
	}
	if !urlutil.IsHTTPScheme(parsed.Scheme) {
		return nil, "", fmt.Errorf("unsupported scheme: %s (only http/https)", parsed.Scheme)
	}
	res, err := s.fetch.Load(ctx, source)
	if err != nil {
		return nil, "", fmt.Errorf("download failed: %w", err)
	}
	ext := mimeToExt[res.ContentType]
	if ext == "" {
		ext = path.Ext(parsed.Path)
	}
	return res.Data, ext, nil
}

// filenameFromSource extracts a file name from an http(s) URL, falling
// back to a random name with the detected extension.
func filenameFromSource(source, fallbackExt string) string {
	if !strings.HasPrefix(source, "data:") {
		if parsed, err := url.Parse(source); err == nil {
			base := path.Base(parsed.Path)
			if base != "" && base != "." && base != "/" && strings.Contains(base, ".") {
				return base
			}
		}
	}
	if fallbackExt == "" {
		fallbackExt = ".bin"
	}
	return uuid.New().String() + fallbackExt
}

// sanitizePath cleans a slash separated site path, replacing unsafe
// characters in each segment. Leading ".." is dropped and hidden
// segments are rejected.
func sanitizePath(p string) (string, error) {
	cleaned := path.Clean("/" + strings.ReplaceAll(p, `\`, "/"))[1:]
	if cleaned == "" {
		return "", fmt.Errorf("invalid path: %q", p)
	}
	segs := strings.Split(cleaned, "/")
	for i, seg := range segs {
		if storage.Hidden(seg) {
			return "", fmt.Errorf("hidden path segment in %q", p)
		}
		segs[i] = safeSegmentRe.ReplaceAllString(seg, "_")
	}
	return strings.Join(segs, "/"), nil
}

// validateMagicBytes verifies binary content matches its extension.
func validateMagicBytes(data []byte, ext string) error {
	if ext == ".svg" {
		prefix := data
		if len(prefix) > 1024 {
			prefix = prefix[:1024]
		}
		if !bytes.Contains(prefix, []byte("<svg")) {
			return fmt.Errorf("content does not appear to be a valid SVG (missing <svg tag)")
		}
		return nil
	}
	want, ok := binaryExts[ext]
	if !ok {
		return nil
	}
	detected := http.DetectContentType(data)
	if strings.Split(detected, ";")[0] != want {
		return fmt.Errorf("content does not match extension %s (detected: %s)", ext, detected)
	}
	return nil
}
