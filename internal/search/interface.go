package search

import (
	"context"
	"time"
)

// Engine is the connection to a full-text search backend. Implementations
// must be safe for concurrent use; one handle is shared by the indexer and the
// query service.
type Engine interface {
	// Ping checks that the backend is reachable
	Ping(ctx context.Context) error

	// Index management. CreateIndex returns ErrIndexExists when the index is
	// already present, DeleteIndex returns ErrIndexNotFound when it is absent.
	CreateIndex(ctx context.Context, index string, schema Schema) error
	DeleteIndex(ctx context.Context, index string) error
	Refresh(ctx context.Context, index string) error
	Count(ctx context.Context, index string) (uint64, error)

	// IndexDocument stores doc under an engine assigned id and returns the id
	IndexDocument(ctx context.Context, index string, doc Document) (string, error)

	// Search runs a single query and returns hits ordered by score
	Search(ctx context.Context, index string, req SearchRequest) ([]Hit, error)

	// Cursor pagination over every document of an index. An unknown or
	// expired cursor returns ErrCursorExpired.
	OpenCursor(ctx context.Context, index string, size int, keepAlive time.Duration) (Page, error)
	NextPage(ctx context.Context, cursorID string, keepAlive time.Duration) (Page, error)
	CloseCursor(ctx context.Context, cursorID string) error

	// Lifecycle
	Close() error
}

// Dialer creates a new, not yet verified, engine handle
type Dialer func(ctx context.Context) (Engine, error)

// Document is the source document stored in and returned by the engine
type Document = map[string]any

// Hit is one search result
type Hit struct {
	ID     string   `json:"_id"`
	Score  float64  `json:"_score"`
	Source Document `json:"_source"`
}

// SearchRequest is a query with a result limit. Size 0 means the engine default.
type SearchRequest struct {
	Query Query
	Size  int
}

// Page is one batch of a cursor scan. An empty Hits slice marks the end.
type Page struct {
	CursorID string
	Hits     []Hit
}
