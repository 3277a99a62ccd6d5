// Package apperr holds the errors the service layer reports to its callers.
package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")

	// ErrPreconditionFailed means an If-Match digest no longer names the content.
	ErrPreconditionFailed = errors.New("precondition failed")
)
