// Package models defines the flat records exchanged between storage, the
// snapshot index and the API surfaces.
package models

import "time"

// FileMetadata is a lightweight representation returned by list operations.
type FileMetadata struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Asset is a snapshot of one graph asset.
type Asset struct {
	ID          string         `json:"id"`
	URL         string         `json:"url,omitempty"`
	Type        string         `json:"type"`
	ContentType string         `json:"content_type,omitempty"`
	FileName    string         `json:"file_name,omitempty"`
	IsInline    bool           `json:"is_inline"`
	IsLoaded    bool           `json:"is_loaded"`
	IsPopulated bool           `json:"is_populated"`
	Checksum    string         `json:"checksum,omitempty"`
	Title       string         `json:"title,omitempty"`
	Attrs       map[string]any `json:"attrs,omitempty"`
}

// Relation is a snapshot of one graph relation.
type Relation struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	From        string `json:"from"`
	FromURL     string `json:"from_url,omitempty"`
	To          string `json:"to,omitempty"`
	ToURL       string `json:"to_url,omitempty"`
	Href        string `json:"href"`
	HrefType    string `json:"href_type"`
	Fragment    string `json:"fragment,omitempty"`
	Canonical   bool   `json:"canonical"`
	Crossorigin bool   `json:"crossorigin"`
}
