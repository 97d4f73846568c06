// Package domain holds the entities mirrored from the upstream financial data
// provider and the error values shared by the sync components.
package domain

import "errors"

var (
	// ErrUnauthorized indicates that access to the upstream provider has not been granted.
	ErrUnauthorized = errors.New("unauthorized: access to financial data has not been granted")
	// ErrNotFound indicates an update or delete for an entity unknown to the local store.
	ErrNotFound = errors.New("not found")
	// ErrDecodeFailure indicates a persisted blob that could not be decoded.
	ErrDecodeFailure = errors.New("decode failure")
	// ErrFeedFailure indicates that an upstream change feed errored out.
	ErrFeedFailure = errors.New("feed failure")
)
