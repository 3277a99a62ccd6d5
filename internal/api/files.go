package api

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/starford/assetgraph/internal/assetservice"
)

const maxUploadBytes = 50 << 20 // 50 MB

// FileHandler accepts uploads into the site and serves asset bytes.
type FileHandler struct {
	svc *assetservice.Service
}

// NewFileHandler creates a handler backed by svc.
func NewFileHandler(svc *assetservice.Service) *FileHandler {
	return &FileHandler{svc: svc}
}

// safePath validates a slash separated path relative to the site root.
func safePath(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("path is required")
	}
	cleaned := path.Clean(strings.TrimPrefix(p, "/"))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("invalid path: %s", p)
	}
	for _, seg := range strings.Split(cleaned, "/") {
		if strings.HasPrefix(seg, ".") {
			return "", fmt.Errorf("hidden path segment in %s", p)
		}
	}
	return cleaned, nil
}

// Raw handles GET /api/raw/*.
//
//	@Summary		Serve the current bytes of a loaded asset
//	@Tags			files
//	@Param			path	path	string	true	"Asset path or URL"
//	@Success		200		"Asset content"
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/raw/{path} [get]
func (h *FileHandler) Raw(w http.ResponseWriter, r *http.Request) {
	p := assetPath(r)
	if p == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	data, contentType, err := h.svc.Raw(r.Context(), p)
	if err != nil {
		writeError(w, "raw asset", err, slog.String("path", p))
		return
	}
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// Upload handles POST /api/files (multipart/form-data, field "file",
// optional field "path" relative to the site root).
//
//	@Summary		Upload a file into the site and add it to the graph
//	@Tags			files
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			file	formData	file	true	"File content"
//	@Param			path	formData	string	false	"Target path, defaults to the file name"
//	@Success		201		{object}	FileUploadResponse
//	@Success		200		{object}	FileUploadResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/files [post]
func (h *FileHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("file too large or invalid multipart"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("missing 'file' field in multipart form"))
		return
	}
	defer file.Close()

	target := r.FormValue("path")
	if target == "" {
		target = header.Filename
	}
	rel, err := safePath(target)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read file"))
		return
	}

	asset, created, err := h.svc.AddFile(r.Context(), rel, data)
	if err != nil {
		writeError(w, "upload file", err, slog.String("path", rel))
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, FileUploadResponse{
		URL:     asset.URL,
		Type:    asset.Type,
		Size:    len(data),
		Created: created,
	})
}
