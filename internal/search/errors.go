package search

import "errors"

var (
	// ErrUnavailable is returned when the engine cannot be reached
	ErrUnavailable = errors.New("search engine unavailable")
	// ErrIndexNotFound is returned for operations on a missing index
	ErrIndexNotFound = errors.New("index not found")
	// ErrIndexExists is returned when creating an index that is already present
	ErrIndexExists = errors.New("index already exists")
	// ErrCursorExpired is returned for cursors that were closed or outlived their keep-alive
	ErrCursorExpired = errors.New("cursor expired")
)
