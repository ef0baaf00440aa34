package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/analysis/token/edgengram"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	unicodetokenizer "github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davidschrooten/training-search/config"
)

const (
	// sourceField holds the JSON encoded source document
	sourceField = "raw_source"
	// prefixSuffix names the edge n-gram companion of an as-you-type field
	prefixSuffix = "_prefix"

	asYouTypeAnalyzer = "as_you_type"
	edgeNgramFilter   = "edge_ngram_1_20"
	maxGram           = 20
)

// BleveEngine is an embedded Engine storing one bleve index per directory
// below indexPath
type BleveEngine struct {
	indexPath string
	logger    *zap.Logger
	now       func() time.Time

	mutex   sync.RWMutex
	indexes map[string]bleve.Index
	closed  bool

	cursorMutex sync.Mutex
	cursors     map[string]*cursor
}

// cursor is the position of an open scan. after is the sort key of the last
// hit returned; nil after the first page means the scan is exhausted.
type cursor struct {
	index   string
	size    int
	after   []string
	started bool
	expires time.Time
}

var _ Engine = (*BleveEngine)(nil)

// NewBleveEngine creates an embedded engine rooted at cfg.IndexPath
func NewBleveEngine(cfg config.EngineConfig, logger *zap.Logger) (*BleveEngine, error) {
	if err := os.MkdirAll(cfg.IndexPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &BleveEngine{
		indexPath: cfg.IndexPath,
		logger:    logger,
		now:       time.Now,
		indexes:   make(map[string]bleve.Index),
		cursors:   make(map[string]*cursor),
	}, nil
}

// NewBleveDialer returns a Dialer creating embedded engines
func NewBleveDialer(cfg config.EngineConfig, logger *zap.Logger) Dialer {
	return func(ctx context.Context) (Engine, error) {
		return NewBleveEngine(cfg, logger)
	}
}

// Ping checks that the engine is open and its directory is reachable
func (e *BleveEngine) Ping(ctx context.Context) error {
	e.mutex.RLock()
	closed := e.closed
	e.mutex.RUnlock()
	if closed {
		return fmt.Errorf("%w: engine closed", ErrUnavailable)
	}

	if _, err := os.Stat(e.indexPath); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return ctx.Err()
}

// CreateIndex creates a new index with the given schema. An index already on
// disk is opened and ErrIndexExists returned.
func (e *BleveEngine) CreateIndex(ctx context.Context, indexName string, schema Schema) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if _, exists := e.indexes[indexName]; exists {
		return ErrIndexExists
	}

	indexPath := filepath.Join(e.indexPath, indexName)

	// Try to open existing index first
	index, err := bleve.Open(indexPath)
	if err == nil {
		e.indexes[indexName] = index
		return ErrIndexExists
	}
	if !errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		return fmt.Errorf("failed to open index %s: %w", indexName, err)
	}

	indexMapping, err := buildMapping(schema)
	if err != nil {
		return fmt.Errorf("failed to build mapping for %s: %w", indexName, err)
	}

	index, err = bleve.New(indexPath, indexMapping)
	if err != nil {
		return fmt.Errorf("failed to create index %s: %w", indexName, err)
	}

	e.indexes[indexName] = index
	e.logger.Debug("Created index", zap.String("index", indexName), zap.Int("fields", len(schema.Fields)))
	return nil
}

// DeleteIndex closes the index and removes it from disk
func (e *BleveEngine) DeleteIndex(ctx context.Context, indexName string) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	indexPath := filepath.Join(e.indexPath, indexName)

	index, open := e.indexes[indexName]
	if open {
		if err := index.Close(); err != nil {
			return fmt.Errorf("failed to close index %s: %w", indexName, err)
		}
		delete(e.indexes, indexName)
	} else if _, err := os.Stat(indexPath); errors.Is(err, os.ErrNotExist) {
		return ErrIndexNotFound
	}

	e.dropCursors(indexName)

	if err := os.RemoveAll(indexPath); err != nil {
		return fmt.Errorf("failed to remove index directory %s: %w", indexPath, err)
	}
	return nil
}

// Refresh is a no-op apart from checking the index exists: bleve batches are
// searchable as soon as they are applied
func (e *BleveEngine) Refresh(ctx context.Context, indexName string) error {
	_, err := e.getIndex(indexName)
	return err
}

// Count returns the number of documents in the index
func (e *BleveEngine) Count(ctx context.Context, indexName string) (uint64, error) {
	index, err := e.getIndex(indexName)
	if err != nil {
		return 0, err
	}
	return index.DocCount()
}

// IndexDocument indexes doc under a fresh id
func (e *BleveEngine) IndexDocument(ctx context.Context, indexName string, doc Document) (string, error) {
	index, err := e.getIndex(indexName)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to encode document: %w", err)
	}

	fields := make(map[string]interface{}, len(doc)+1)
	for k, v := range doc {
		fields[k] = v
	}
	fields[sourceField] = string(raw)

	docID := uuid.NewString()
	if err := index.Index(docID, fields); err != nil {
		return "", fmt.Errorf("failed to index document: %w", err)
	}
	return docID, nil
}

// Search performs a search query
func (e *BleveEngine) Search(ctx context.Context, indexName string, req SearchRequest) ([]Hit, error) {
	index, err := e.getIndex(indexName)
	if err != nil {
		return nil, err
	}

	bleveQuery, ok, err := convertQuery(req.Query)
	if err != nil {
		return nil, fmt.Errorf("failed to convert query: %w", err)
	}
	if !ok {
		return []Hit{}, nil
	}

	searchReq := bleve.NewSearchRequest(bleveQuery)
	if req.Size > 0 {
		searchReq.Size = req.Size
	}
	searchReq.Fields = []string{sourceField}

	result, err := index.SearchInContext(ctx, searchReq)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	return convertHits(result)
}

// OpenCursor starts a scan over every document ordered by id and returns
// the first page
func (e *BleveEngine) OpenCursor(ctx context.Context, indexName string, size int, keepAlive time.Duration) (Page, error) {
	if _, err := e.getIndex(indexName); err != nil {
		return Page{}, err
	}
	if size <= 0 {
		return Page{}, fmt.Errorf("invalid page size %d", size)
	}

	c := &cursor{index: indexName, size: size, expires: e.now().Add(keepAlive)}
	cursorID := uuid.NewString()

	e.cursorMutex.Lock()
	e.pruneCursors()
	e.cursors[cursorID] = c
	e.cursorMutex.Unlock()

	hits, err := e.scan(ctx, c)
	if err != nil {
		_ = e.CloseCursor(ctx, cursorID)
		return Page{}, err
	}
	return Page{CursorID: cursorID, Hits: hits}, nil
}

// NextPage returns the page after the previous one and extends the keep-alive
func (e *BleveEngine) NextPage(ctx context.Context, cursorID string, keepAlive time.Duration) (Page, error) {
	e.cursorMutex.Lock()
	c, exists := e.cursors[cursorID]
	if exists && e.now().After(c.expires) {
		delete(e.cursors, cursorID)
		exists = false
	}
	if exists {
		c.expires = e.now().Add(keepAlive)
	}
	e.cursorMutex.Unlock()

	if !exists {
		return Page{}, ErrCursorExpired
	}

	hits, err := e.scan(ctx, c)
	if err != nil {
		return Page{}, err
	}
	return Page{CursorID: cursorID, Hits: hits}, nil
}

// CloseCursor releases a cursor. Unknown cursors are ignored.
func (e *BleveEngine) CloseCursor(ctx context.Context, cursorID string) error {
	e.cursorMutex.Lock()
	delete(e.cursors, cursorID)
	e.cursorMutex.Unlock()
	return nil
}

// Close closes all indexes
func (e *BleveEngine) Close() error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	var errs []error
	for name, index := range e.indexes {
		if err := index.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close index %s: %w", name, err))
		}
	}
	e.indexes = make(map[string]bleve.Index)
	e.closed = true

	e.cursorMutex.Lock()
	e.cursors = make(map[string]*cursor)
	e.cursorMutex.Unlock()

	return errors.Join(errs...)
}

// getIndex returns an open index, opening it from disk if needed
func (e *BleveEngine) getIndex(indexName string) (bleve.Index, error) {
	e.mutex.RLock()
	index, exists := e.indexes[indexName]
	closed := e.closed
	e.mutex.RUnlock()

	if closed {
		return nil, fmt.Errorf("%w: engine closed", ErrUnavailable)
	}
	if exists {
		return index, nil
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()

	if index, exists := e.indexes[indexName]; exists {
		return index, nil
	}

	index, err := bleve.Open(filepath.Join(e.indexPath, indexName))
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, indexName)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open index %s: %w", indexName, err)
	}

	e.indexes[indexName] = index
	return index, nil
}

// scan fetches the next page of c and advances it
func (e *BleveEngine) scan(ctx context.Context, c *cursor) ([]Hit, error) {
	e.cursorMutex.Lock()
	if c.started && c.after == nil {
		e.cursorMutex.Unlock()
		return []Hit{}, nil
	}
	after := c.after
	e.cursorMutex.Unlock()

	index, err := e.getIndex(c.index)
	if err != nil {
		return nil, err
	}

	searchReq := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), c.size, 0, false)
	searchReq.Fields = []string{sourceField}
	searchReq.SortBy([]string{"_id"})
	if after != nil {
		searchReq.SetSearchAfter(after)
	}

	result, err := index.SearchInContext(ctx, searchReq)
	if err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	hits, err := convertHits(result)
	if err != nil {
		return nil, err
	}

	e.cursorMutex.Lock()
	c.started = true
	if len(result.Hits) == 0 {
		c.after = nil
	} else {
		c.after = result.Hits[len(result.Hits)-1].Sort
	}
	e.cursorMutex.Unlock()

	return hits, nil
}

// dropCursors removes the cursors of a deleted index
func (e *BleveEngine) dropCursors(indexName string) {
	e.cursorMutex.Lock()
	defer e.cursorMutex.Unlock()
	for id, c := range e.cursors {
		if c.index == indexName {
			delete(e.cursors, id)
		}
	}
}

// pruneCursors removes expired cursors. Caller holds cursorMutex.
func (e *BleveEngine) pruneCursors() {
	now := e.now()
	for id, c := range e.cursors {
		if now.After(c.expires) {
			delete(e.cursors, id)
		}
	}
}

// buildMapping creates a static bleve mapping from the schema. As-you-type
// fields get a second field named <field>_prefix analyzed into edge n-grams.
func buildMapping(schema Schema) (mapping.IndexMapping, error) {
	indexMapping := bleve.NewIndexMapping()

	err := indexMapping.AddCustomTokenFilter(edgeNgramFilter, map[string]interface{}{
		"type": edgengram.Name,
		"back": false,
		"min":  1.0,
		"max":  float64(maxGram),
	})
	if err != nil {
		return nil, err
	}

	err = indexMapping.AddCustomAnalyzer(asYouTypeAnalyzer, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     unicodetokenizer.Name,
		"token_filters": []string{lowercase.Name, edgeNgramFilter},
	})
	if err != nil {
		return nil, err
	}

	docMapping := bleve.NewDocumentStaticMapping()

	for _, field := range schema.Fields {
		text := bleve.NewTextFieldMapping()
		text.Analyzer = standard.Name
		text.Store = false
		text.IncludeInAll = false

		switch field.Kind {
		case FieldText:
			docMapping.AddFieldMappingsAt(field.Name, text)
		case FieldAsYouType:
			prefix := bleve.NewTextFieldMapping()
			prefix.Name = field.Name + prefixSuffix
			prefix.Analyzer = asYouTypeAnalyzer
			prefix.Store = false
			prefix.IncludeInAll = false
			prefix.IncludeTermVectors = false
			docMapping.AddFieldMappingsAt(field.Name, text, prefix)
		default:
			return nil, fmt.Errorf("field %s: unsupported kind %v", field.Name, field.Kind)
		}
	}

	source := bleve.NewTextFieldMapping()
	source.Index = false
	source.Store = true
	source.IncludeInAll = false
	source.IncludeTermVectors = false
	source.DocValues = false
	docMapping.AddFieldMappingsAt(sourceField, source)

	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = standard.Name
	return indexMapping, nil
}

// convertQuery converts a Query to a bleve query. ok is false when the query
// cannot match anything, e.g. a prefix query without terms.
func convertQuery(q Query) (query.Query, bool, error) {
	switch q := q.(type) {
	case nil, MatchAllQuery:
		return bleve.NewMatchAllQuery(), true, nil

	case PhraseQuery:
		phrase := bleve.NewMatchPhraseQuery(q.Text)
		phrase.SetField(q.Field)
		return phrase, true, nil

	case MultiMatchQuery:
		if len(q.Fields) == 0 {
			return nil, false, errors.New("multi match query without fields")
		}
		disjuncts := make([]query.Query, 0, len(q.Fields))
		for _, f := range q.Fields {
			match := bleve.NewMatchQuery(q.Text)
			match.SetField(f.Field)
			if f.Boost > 0 {
				match.SetBoost(f.Boost)
			}
			disjuncts = append(disjuncts, match)
		}
		return bleve.NewDisjunctionQuery(disjuncts...), true, nil

	case PrefixQuery:
		terms := splitTerms(q.Text)
		if len(terms) == 0 || len(q.Fields) == 0 {
			return nil, false, nil
		}
		last := terms[len(terms)-1]
		disjuncts := make([]query.Query, 0, len(q.Fields)*len(terms))
		for _, field := range q.Fields {
			for _, term := range terms[:len(terms)-1] {
				match := bleve.NewMatchQuery(term)
				match.SetField(field)
				disjuncts = append(disjuncts, match)
			}
			disjuncts = append(disjuncts, prefixClause(field, last))
		}
		return bleve.NewDisjunctionQuery(disjuncts...), true, nil

	default:
		return nil, false, fmt.Errorf("unsupported query type %T", q)
	}
}

// prefixClause matches the edge n-gram field, falling back to a prefix scan
// for terms longer than the largest gram
func prefixClause(field, term string) query.Query {
	if len([]rune(term)) > maxGram {
		prefix := bleve.NewPrefixQuery(term)
		prefix.SetField(field)
		return prefix
	}
	gram := bleve.NewTermQuery(term)
	gram.SetField(field + prefixSuffix)
	return gram
}

// splitTerms lowercases text and splits it the way the unicode tokenizer does
// for plain words
func splitTerms(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// convertHits decodes the stored source of each hit
func convertHits(result *bleve.SearchResult) ([]Hit, error) {
	hits := make([]Hit, 0, len(result.Hits))
	for _, hit := range result.Hits {
		source := make(Document)
		if raw, ok := hit.Fields[sourceField].(string); ok {
			if err := json.Unmarshal([]byte(raw), &source); err != nil {
				return nil, fmt.Errorf("failed to decode document %s: %w", hit.ID, err)
			}
		}
		hits = append(hits, Hit{ID: hit.ID, Score: hit.Score, Source: source})
	}
	return hits, nil
}
