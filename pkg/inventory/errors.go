package inventory

import "errors"

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrDuplicateEntry = errors.New("book already stocked by this store")
	ErrNotFound       = errors.New("not found")
	ErrInvalidPrice   = errors.New("price must be a finite non-negative number")
	// ErrRemote wraps a failed exchange with the backing source: a rejected
	// write-through or a collection that could not be loaded.
	ErrRemote = errors.New("data source unavailable")
)
