package query

import (
	"context"
	"iter"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/davidschrooten/training-search/internal/catalog"
	"github.com/davidschrooten/training-search/internal/metrics"
	"github.com/davidschrooten/training-search/internal/search"
)

// Operation names carried by Error
const (
	OpSearch  = "search"
	OpSuggest = "suggest"
	OpExport  = "export"
)

const (
	defaultMaxHits   = 1000
	defaultPageSize  = 1000
	defaultKeepAlive = 2 * time.Minute
)

// RankedFields are the fields of a ranked search with their weights
var RankedFields = []search.FieldBoost{
	{Field: catalog.FieldName, Boost: 3},
	{Field: catalog.FieldDescription, Boost: 1},
	{Field: catalog.FieldTags, Boost: 1},
	{Field: catalog.FieldAuthors, Boost: 1},
	{Field: catalog.FieldType, Boost: 1},
	{Field: catalog.FieldLicense, Boost: 1},
}

// SuggestFields are matched by prefix for autocompletion
var SuggestFields = []string{catalog.FieldName, catalog.FieldDescription}

// TagCount is the number of documents carrying a tag
type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// Service answers read queries against one index
type Service struct {
	engine    search.Engine
	index     string
	maxHits   int
	pageSize  int
	keepAlive time.Duration
	logger    *zap.Logger
}

// Option configures a Service
type Option func(*Service)

// WithMaxHits limits the hits of exact and ranked searches
func WithMaxHits(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxHits = n
		}
	}
}

// WithPageSize sets the export page size
func WithPageSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithKeepAlive sets how long an export cursor survives between pages
func WithKeepAlive(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.keepAlive = d
		}
	}
}

// WithLogger sets the service logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a query service over the index
func New(engine search.Engine, index string, opts ...Option) *Service {
	s := &Service{
		engine:    engine,
		index:     index,
		maxHits:   defaultMaxHits,
		pageSize:  defaultPageSize,
		keepAlive: defaultKeepAlive,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Search runs an exact phrase search on the name, or a ranked search over
// every text field. The query is sanitized first.
func (s *Service) Search(ctx context.Context, q string, exact bool) ([]search.Hit, error) {
	text := Sanitize(q)

	var query search.Query
	if exact {
		query = search.PhraseQuery{Field: catalog.FieldName, Text: text}
	} else {
		query = search.MultiMatchQuery{Text: text, Fields: RankedFields}
	}

	hits, err := s.engine.Search(ctx, s.index, search.SearchRequest{Query: query, Size: s.maxHits})
	if err != nil {
		return nil, s.fail(OpSearch, err)
	}
	if hits == nil {
		hits = []search.Hit{}
	}
	return hits, nil
}

// Suggest returns documents whose name or description starts with the
// terms typed so far. The raw query is used and the engine picks the size.
func (s *Service) Suggest(ctx context.Context, q string) ([]search.Document, error) {
	hits, err := s.engine.Search(ctx, s.index, search.SearchRequest{
		Query: search.PrefixQuery{Text: q, Fields: SuggestFields},
	})
	if err != nil {
		return nil, s.fail(OpSuggest, err)
	}
	return sources(hits), nil
}

// Pages scans every document of the index page by page. The sequence is
// lazy and can be ranged over again to start a new scan. Stopping early
// releases the cursor.
func (s *Service) Pages(ctx context.Context) iter.Seq2[[]search.Document, error] {
	return func(yield func([]search.Document, error) bool) {
		page, err := s.engine.OpenCursor(ctx, s.index, s.pageSize, s.keepAlive)
		if err != nil {
			yield(nil, s.fail(OpExport, err))
			return
		}

		cursorID := page.CursorID
		defer func() {
			if cursorID == "" {
				return
			}
			if err := s.engine.CloseCursor(context.WithoutCancel(ctx), cursorID); err != nil {
				s.logger.Warn("Failed to close cursor", zap.Error(err))
			}
		}()

		for len(page.Hits) > 0 {
			if !yield(sources(page.Hits), nil) {
				return
			}

			page, err = s.engine.NextPage(ctx, cursorID, s.keepAlive)
			if err != nil {
				yield(nil, s.fail(OpExport, err))
				return
			}
			if page.CursorID != "" {
				cursorID = page.CursorID
			}
		}
	}
}

// Export returns every document of the index
func (s *Service) Export(ctx context.Context) ([]search.Document, error) {
	docs := []search.Document{}
	for page, err := range s.Pages(ctx) {
		if err != nil {
			return nil, err
		}
		docs = append(docs, page...)
	}
	return docs, nil
}

// TagCounts counts tag occurrences over the whole index, most frequent
// first and alphabetical among equals
func (s *Service) TagCounts(ctx context.Context) ([]TagCount, error) {
	counts := make(map[string]int)
	for page, err := range s.Pages(ctx) {
		if err != nil {
			return nil, err
		}
		for _, doc := range page {
			for _, tag := range stringValues(doc[catalog.FieldTags]) {
				counts[tag]++
			}
		}
	}

	result := make([]TagCount, 0, len(counts))
	for tag, n := range counts {
		result = append(result, TagCount{Tag: tag, Count: n})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Tag < result[j].Tag
	})
	return result, nil
}

func (s *Service) fail(op string, err error) error {
	metrics.QueryErrors.WithLabelValues(op).Inc()
	s.logger.Error("Query failed", zap.String("op", op), zap.String("index", s.index), zap.Error(err))
	return &Error{Op: op, Err: err}
}

func sources(hits []search.Hit) []search.Document {
	docs := make([]search.Document, 0, len(hits))
	for _, h := range hits {
		docs = append(docs, h.Source)
	}
	return docs
}

// stringValues normalizes a source field that may hold a string or a list
func stringValues(v any) []string {
	switch v := v.(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
