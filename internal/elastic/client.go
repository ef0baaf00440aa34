package elastic

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/elastic/go-elasticsearch/v8/esutil"
	"go.uber.org/zap"

	"github.com/davidschrooten/training-search/config"
	"github.com/davidschrooten/training-search/internal/search"
)

// Client is a search.Engine backed by a remote Elasticsearch cluster
type Client struct {
	es        *elasticsearch.Client
	transport *http.Transport
	timeout   time.Duration
	logger    *zap.Logger
}

var _ search.Engine = (*Client)(nil)

// NewClient creates a client for the configured address. No request is made;
// use Ping to check the cluster is reachable.
func NewClient(cfg config.EngineConfig, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.Address()},
		Transport: transport,
		// Connection retries are owned by search.ConnectWithRetry
		DisableRetry: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}

	return &Client{
		es:        es,
		transport: transport,
		timeout:   cfg.Timeout(),
		logger:    logger.With(zap.String("address", cfg.Address())),
	}, nil
}

// NewDialer returns a Dialer creating Elasticsearch clients
func NewDialer(cfg config.EngineConfig, logger *zap.Logger) search.Dialer {
	return func(ctx context.Context) (search.Engine, error) {
		return NewClient(cfg, logger)
	}
}

// Ping checks that the cluster answers
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	res, err := c.es.Ping(c.es.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	defer closeBody(res)

	if res.IsError() {
		return decodeError(res)
	}
	return nil
}

// CreateIndex creates the index with mappings for the schema
func (c *Client) CreateIndex(ctx context.Context, index string, schema search.Schema) error {
	body, err := translateSchema(schema)
	if err != nil {
		return err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	res, err := c.es.Indices.Create(index,
		c.es.Indices.Create.WithBody(esutil.NewJSONReader(body)),
		c.es.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("create index %s: %w", index, err)
	}
	defer closeBody(res)

	if res.IsError() {
		return decodeError(res)
	}
	c.logger.Debug("Created index", zap.String("index", index))
	return nil
}

// DeleteIndex deletes the index
func (c *Client) DeleteIndex(ctx context.Context, index string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	res, err := c.es.Indices.Delete([]string{index}, c.es.Indices.Delete.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("delete index %s: %w", index, err)
	}
	defer closeBody(res)

	if res.IsError() {
		e := decodeError(res)
		if res.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %v", search.ErrIndexNotFound, e)
		}
		return e
	}
	return nil
}

// Refresh makes every indexed document visible to search
func (c *Client) Refresh(ctx context.Context, index string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	res, err := c.es.Indices.Refresh(
		c.es.Indices.Refresh.WithIndex(index),
		c.es.Indices.Refresh.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("refresh %s: %w", index, err)
	}
	defer closeBody(res)

	if res.IsError() {
		return decodeError(res)
	}
	return nil
}

// Count returns the number of documents in the index
func (c *Client) Count(ctx context.Context, index string) (uint64, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	res, err := c.es.Count(
		c.es.Count.WithIndex(index),
		c.es.Count.WithContext(ctx),
	)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", index, err)
	}
	defer closeBody(res)

	if res.IsError() {
		return 0, decodeError(res)
	}

	var body struct {
		Count uint64 `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("decode count response: %w", err)
	}
	return body.Count, nil
}

// IndexDocument indexes doc and returns the id assigned by the cluster
func (c *Client) IndexDocument(ctx context.Context, index string, doc search.Document) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	res, err := c.es.Index(index, esutil.NewJSONReader(doc), c.es.Index.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("index document: %w", err)
	}
	defer closeBody(res)

	if res.IsError() {
		return "", decodeError(res)
	}

	var body struct {
		ID string `json:"_id"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode index response: %w", err)
	}
	return body.ID, nil
}

// Search runs a single query
func (c *Client) Search(ctx context.Context, index string, req search.SearchRequest) ([]search.Hit, error) {
	q, err := translateQuery(req.Query)
	if err != nil {
		return nil, err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	opts := []func(*esapi.SearchRequest){
		c.es.Search.WithIndex(index),
		c.es.Search.WithBody(esutil.NewJSONReader(map[string]any{"query": q})),
		c.es.Search.WithContext(ctx),
	}
	if req.Size > 0 {
		opts = append(opts, c.es.Search.WithSize(req.Size))
	}

	res, err := c.es.Search(opts...)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", index, err)
	}
	defer closeBody(res)

	if res.IsError() {
		return nil, decodeError(res)
	}

	page, err := decodeSearch(res.Body)
	if err != nil {
		return nil, err
	}
	return page.Hits, nil
}

// OpenCursor starts a scroll over every document of the index
func (c *Client) OpenCursor(ctx context.Context, index string, size int, keepAlive time.Duration) (search.Page, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	body := map[string]any{
		"query": map[string]any{"match_all": map[string]any{}},
		"sort":  []string{"_doc"},
	}

	res, err := c.es.Search(
		c.es.Search.WithIndex(index),
		c.es.Search.WithBody(esutil.NewJSONReader(body)),
		c.es.Search.WithSize(size),
		c.es.Search.WithScroll(keepAlive),
		c.es.Search.WithContext(ctx),
	)
	if err != nil {
		return search.Page{}, fmt.Errorf("open scroll on %s: %w", index, err)
	}
	defer closeBody(res)

	if res.IsError() {
		return search.Page{}, decodeError(res)
	}
	return decodeSearch(res.Body)
}

// NextPage continues a scroll
func (c *Client) NextPage(ctx context.Context, cursorID string, keepAlive time.Duration) (search.Page, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	body := map[string]any{
		"scroll":    fmt.Sprintf("%dms", keepAlive.Milliseconds()),
		"scroll_id": cursorID,
	}

	res, err := c.es.Scroll(
		c.es.Scroll.WithBody(esutil.NewJSONReader(body)),
		c.es.Scroll.WithContext(ctx),
	)
	if err != nil {
		return search.Page{}, fmt.Errorf("scroll: %w", err)
	}
	defer closeBody(res)

	if res.IsError() {
		e := decodeError(res)
		if res.StatusCode == http.StatusNotFound {
			return search.Page{}, fmt.Errorf("%w: %v", search.ErrCursorExpired, e)
		}
		return search.Page{}, e
	}
	return decodeSearch(res.Body)
}

// CloseCursor releases a scroll. Unknown scrolls are ignored.
func (c *Client) CloseCursor(ctx context.Context, cursorID string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	body := map[string]any{"scroll_id": []string{cursorID}}

	res, err := c.es.ClearScroll(
		c.es.ClearScroll.WithBody(esutil.NewJSONReader(body)),
		c.es.ClearScroll.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("clear scroll: %w", err)
	}
	defer closeBody(res)

	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return decodeError(res)
	}
	return nil
}

// Close releases idle connections
func (c *Client) Close() error {
	c.transport.CloseIdleConnections()
	return nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

type searchResponse struct {
	ScrollID string `json:"_scroll_id"`
	Hits     struct {
		Hits []struct {
			ID     string          `json:"_id"`
			Score  *float64        `json:"_score"`
			Source search.Document `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func decodeSearch(r io.Reader) (search.Page, error) {
	var body searchResponse
	if err := json.NewDecoder(r).Decode(&body); err != nil {
		return search.Page{}, fmt.Errorf("decode search response: %w", err)
	}

	hits := make([]search.Hit, 0, len(body.Hits.Hits))
	for _, h := range body.Hits.Hits {
		hit := search.Hit{ID: h.ID, Source: h.Source}
		if h.Score != nil {
			hit.Score = *h.Score
		}
		if hit.Source == nil {
			hit.Source = search.Document{}
		}
		hits = append(hits, hit)
	}
	return search.Page{CursorID: body.ScrollID, Hits: hits}, nil
}

func closeBody(res *esapi.Response) {
	if res != nil && res.Body != nil {
		_, _ = io.Copy(io.Discard, res.Body)
		_ = res.Body.Close()
	}
}
