package graph

import (
	"errors"
	"fmt"
)

// Structural errors. They are returned wrapped; match with errors.Is.
var (
	ErrDanglingFrom    = errors.New("graph: relation source is not a member of the graph")
	ErrNotInGraph      = errors.New("graph: entity is not a member of the graph")
	ErrInlineOwned     = errors.New("graph: inline asset already has an embedding relation")
	ErrAssetReferenced = errors.New("graph: asset is still referenced")
	ErrDuplicateURL    = errors.New("graph: url already taken by another asset")
	ErrNotLoaded       = errors.New("graph: asset is not loaded")
	ErrNoCodec         = errors.New("graph: asset type has no codec")
	ErrAlreadyInline   = errors.New("graph: relation is already inline")
	ErrNotInline       = errors.New("graph: relation is not inline")
	ErrNoURL           = errors.New("graph: asset has no url")
	ErrNoLoader        = errors.New("graph: no loader configured")
)

// LoadError reports a failed fetch or parse of one asset.
type LoadError struct {
	URL string
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("graph: load %s: %v", e.URL, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}
