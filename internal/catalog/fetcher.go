package catalog

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/davidschrooten/training-search/config"
)

// resourcesKey is the top-level key holding the list of records
const resourcesKey = "resources"

// Fetcher downloads and parses the catalog document. Every call re-fetches;
// there is no caching and no retry at this layer.
type Fetcher struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

// NewFetcher creates a fetcher for the configured catalog URL
func NewFetcher(cfg config.CatalogConfig, logger *zap.Logger) *Fetcher {
	return NewFetcherWithClient(cfg.URL, &http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second}, logger)
}

// NewFetcherWithClient creates a fetcher using the given HTTP client
func NewFetcherWithClient(url string, client *http.Client, logger *zap.Logger) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{url: url, client: client, logger: logger}
}

// URL returns the catalog location
func (f *Fetcher) URL() string {
	return f.url
}

// Fetch downloads the catalog and returns its records.
// Transport failures and non-2xx responses are NetworkError; a body that is not
// YAML is ParseError.
func (f *Fetcher) Fetch(ctx context.Context) ([]Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, &FetchError{Kind: NetworkError, URL: f.url, Err: err}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{Kind: NetworkError, URL: f.url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{
			Kind: NetworkError,
			URL:  f.url,
			Err:  fmt.Errorf("%w: %s", ErrUnexpectedStatus, resp.Status),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{Kind: NetworkError, URL: f.url, Err: fmt.Errorf("read body: %w", err)}
	}

	records, err := Parse(body, f.logger)
	if err != nil {
		return nil, &FetchError{Kind: ParseError, URL: f.url, Err: err}
	}

	f.logger.Info("Downloaded catalog", zap.String("url", f.url), zap.Int("records", len(records)))
	return records, nil
}

// Parse decodes a catalog document. A missing or malformed resources key
// yields no records rather than an error, so a broken upstream document
// degrades the index instead of stopping the service. Entries that are not
// mappings or cannot be decoded are skipped and logged.
func Parse(data []byte, logger *zap.Logger) ([]Record, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}

	doc := &root
	if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
		doc = doc.Content[0]
	}
	if doc.Kind != yaml.MappingNode {
		logger.Warn("Catalog document is not a mapping, no records loaded")
		return []Record{}, nil
	}

	var resources *yaml.Node
	for i := 0; i+1 < len(doc.Content); i += 2 {
		if doc.Content[i].Value == resourcesKey {
			resources = doc.Content[i+1]
			break
		}
	}
	if resources == nil {
		logger.Warn("Catalog document has no resources key, no records loaded")
		return []Record{}, nil
	}
	if resources.Kind == yaml.AliasNode {
		resources = resources.Alias
	}
	if resources.Kind != yaml.SequenceNode {
		logger.Warn("Catalog resources is not a list, no records loaded", zap.Int("line", resources.Line))
		return []Record{}, nil
	}

	records := make([]Record, 0, len(resources.Content))
	for i, item := range resources.Content {
		if item.Kind == yaml.AliasNode {
			item = item.Alias
		}
		if item.Kind != yaml.MappingNode {
			logger.Warn("Rejected catalog entry: not a mapping",
				zap.Int("position", i), zap.Int("line", item.Line), zap.String("value", item.Value))
			continue
		}

		rec, err := decodeRecord(item)
		if err != nil {
			logger.Warn("Rejected catalog entry", zap.Int("position", i), zap.Int("line", item.Line), zap.Error(err))
			continue
		}
		records = append(records, rec)
	}

	return records, nil
}
