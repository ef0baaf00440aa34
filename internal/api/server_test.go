package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/davidschrooten/training-search/internal/indexer"
	"github.com/davidschrooten/training-search/internal/query"
	"github.com/davidschrooten/training-search/internal/search"
)

// mockQuerier records the last query and returns canned results
type mockQuerier struct {
	hits      []search.Hit
	docs      []search.Document
	tags      []query.TagCount
	err       error
	lastQuery string
	lastExact bool
	panicking bool
}

func (m *mockQuerier) Search(ctx context.Context, q string, exact bool) ([]search.Hit, error) {
	if m.panicking {
		panic("boom")
	}
	m.lastQuery = q
	m.lastExact = exact
	return m.hits, m.err
}

func (m *mockQuerier) Suggest(ctx context.Context, q string) ([]search.Document, error) {
	m.lastQuery = q
	return m.docs, m.err
}

func (m *mockQuerier) Export(ctx context.Context) ([]search.Document, error) {
	return m.docs, m.err
}

func (m *mockQuerier) TagCounts(ctx context.Context) ([]query.TagCount, error) {
	return m.tags, m.err
}

type mockReindexer struct {
	summary  indexer.Summary
	err      error
	status   indexer.Status
	triggers []string
}

func (m *mockReindexer) Reindex(ctx context.Context, trigger string) (indexer.Summary, error) {
	m.triggers = append(m.triggers, trigger)
	return m.summary, m.err
}

func (m *mockReindexer) Status(ctx context.Context) indexer.Status {
	return m.status
}

type mockPinger struct {
	err error
}

func (m *mockPinger) Ping(ctx context.Context) error {
	return m.err
}

func newTestServer(q *mockQuerier, r *mockReindexer, p Pinger) *Server {
	if q == nil {
		q = &mockQuerier{}
	}
	if r == nil {
		r = &mockReindexer{}
	}
	return NewServer(q, r, p, time.Second, nil)
}

func serve(s *Server, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func TestServer_handleHealth(t *testing.T) {
	server := newTestServer(nil, nil, &mockPinger{})

	w := serve(server, http.MethodGet, "/health")

	if w.Code != http.StatusOK {
		t.Errorf("Expected status code %d, got %d", http.StatusOK, w.Code)
	}

	var resp map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if resp["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got %v", resp["status"])
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected Content-Type application/json, got %q", ct)
	}
}

func TestServer_handleReady(t *testing.T) {
	tests := []struct {
		name       string
		pinger     Pinger
		wantStatus int
	}{
		{name: "engine up", pinger: &mockPinger{}, wantStatus: http.StatusOK},
		{name: "engine down", pinger: &mockPinger{err: search.ErrUnavailable}, wantStatus: http.StatusServiceUnavailable},
		{name: "no engine", pinger: nil, wantStatus: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newTestServer(nil, nil, tt.pinger)
			w := serve(server, http.MethodGet, "/ready")

			if w.Code != tt.wantStatus {
				t.Errorf("Expected status code %d, got %d", tt.wantStatus, w.Code)
			}
		})
	}
}

func TestServer_handleSearch(t *testing.T) {
	hits := []search.Hit{{ID: "a", Score: 1.5, Source: search.Document{"name": []any{"Fiji intro"}}}}

	tests := []struct {
		name       string
		target     string
		wantStatus int
		wantQuery  string
		wantExact  bool
	}{
		{name: "ranked", target: "/api/search?q=fiji", wantStatus: http.StatusOK, wantQuery: "fiji"},
		{name: "exact", target: "/api/search?q=Bio-Formats&exact_match=true", wantStatus: http.StatusOK, wantQuery: "Bio-Formats", wantExact: true},
		{name: "exact false", target: "/api/search?q=fiji&exact_match=false", wantStatus: http.StatusOK, wantQuery: "fiji"},
		{name: "missing q", target: "/api/search", wantStatus: http.StatusOK},
		{name: "exact upper case", target: "/api/search?q=Fiji&exact_match=TRUE", wantStatus: http.StatusOK, wantQuery: "Fiji", wantExact: true},
		{name: "numeric is not true", target: "/api/search?q=fiji&exact_match=1", wantStatus: http.StatusOK, wantQuery: "fiji"},
		{name: "unknown value is ranked", target: "/api/search?q=fiji&exact_match=maybe", wantStatus: http.StatusOK, wantQuery: "fiji"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &mockQuerier{hits: hits}
			server := newTestServer(q, nil, &mockPinger{})

			w := serve(server, http.MethodGet, tt.target)

			if w.Code != tt.wantStatus {
				t.Fatalf("Expected status code %d, got %d", tt.wantStatus, w.Code)
			}
			if q.lastQuery != tt.wantQuery {
				t.Errorf("Expected query %q, got %q", tt.wantQuery, q.lastQuery)
			}
			if q.lastExact != tt.wantExact {
				t.Errorf("Expected exact %v, got %v", tt.wantExact, q.lastExact)
			}

			var resp []search.Hit
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}
			if len(resp) != 1 || resp[0].ID != "a" || resp[0].Score != 1.5 {
				t.Errorf("Unexpected hits: %+v", resp)
			}
		})
	}
}

func TestServer_handleSearchWireFormat(t *testing.T) {
	q := &mockQuerier{hits: []search.Hit{{ID: "a", Score: 2, Source: search.Document{"name": []any{"x"}}}}}
	server := newTestServer(q, nil, &mockPinger{})

	w := serve(server, http.MethodGet, "/api/search?q=x")

	var resp []map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(resp) != 1 {
		t.Fatalf("Expected 1 hit, got %d", len(resp))
	}
	for _, key := range []string{"_id", "_score", "_source"} {
		if _, ok := resp[0][key]; !ok {
			t.Errorf("Expected key %s in hit, got %v", key, resp[0])
		}
	}
}

func TestServer_handleSearchError(t *testing.T) {
	q := &mockQuerier{err: &query.Error{Op: query.OpSearch, Err: search.ErrUnavailable}}
	server := newTestServer(q, nil, &mockPinger{})

	w := serve(server, http.MethodGet, "/api/search?q=fiji")

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status code %d, got %d", http.StatusInternalServerError, w.Code)
	}

	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp["error"] == "" {
		t.Error("Expected error message in response")
	}
}

func TestServer_handleSuggest(t *testing.T) {
	q := &mockQuerier{docs: []search.Document{}}
	server := newTestServer(q, nil, &mockPinger{})

	w := serve(server, http.MethodGet, "/api/suggest?q=dec")

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status code %d, got %d", http.StatusOK, w.Code)
	}
	if q.lastQuery != "dec" {
		t.Errorf("Expected query 'dec', got %q", q.lastQuery)
	}
	if body := w.Body.String(); body != "[]\n" {
		t.Errorf("Expected empty JSON array, got %q", body)
	}
}

func TestServer_handleMaterials(t *testing.T) {
	q := &mockQuerier{docs: []search.Document{
		{"name": []any{"A"}},
		{"name": []any{"B"}},
	}}
	server := newTestServer(q, nil, &mockPinger{})

	w := serve(server, http.MethodGet, "/api/materials")

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status code %d, got %d", http.StatusOK, w.Code)
	}

	var resp []map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(resp) != 2 {
		t.Errorf("Expected 2 materials, got %d", len(resp))
	}
}

func TestServer_handleMaterialsError(t *testing.T) {
	q := &mockQuerier{err: &query.Error{Op: query.OpExport, Err: search.ErrCursorExpired}}
	server := newTestServer(q, nil, &mockPinger{})

	w := serve(server, http.MethodGet, "/api/materials")

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status code %d, got %d", http.StatusInternalServerError, w.Code)
	}
}

func TestServer_handleTags(t *testing.T) {
	q := &mockQuerier{tags: []query.TagCount{{Tag: "fiji", Count: 3}, {Tag: "napari", Count: 1}}}
	server := newTestServer(q, nil, &mockPinger{})

	w := serve(server, http.MethodGet, "/api/tags")

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status code %d, got %d", http.StatusOK, w.Code)
	}

	var resp []query.TagCount
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(resp) != 2 || resp[0].Tag != "fiji" || resp[0].Count != 3 {
		t.Errorf("Unexpected tag counts: %+v", resp)
	}
}

func TestServer_handleReindex(t *testing.T) {
	r := &mockReindexer{summary: indexer.Summary{Index: "idx", Fetched: 3, Indexed: 2, Rejected: 1}}
	server := newTestServer(nil, r, &mockPinger{})

	w := serve(server, http.MethodPost, "/api/reindex")

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status code %d, got %d", http.StatusOK, w.Code)
	}
	if len(r.triggers) != 1 || r.triggers[0] != indexer.TriggerAPI {
		t.Errorf("Expected one reindex triggered by api, got %v", r.triggers)
	}

	var resp indexer.Summary
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Indexed != 2 || resp.Rejected != 1 {
		t.Errorf("Unexpected summary: %+v", resp)
	}
}

func TestServer_handleReindexConflict(t *testing.T) {
	r := &mockReindexer{err: indexer.ErrReindexInProgress}
	server := newTestServer(nil, r, &mockPinger{})

	w := serve(server, http.MethodPost, "/api/reindex")

	if w.Code != http.StatusConflict {
		t.Errorf("Expected status code %d, got %d", http.StatusConflict, w.Code)
	}
}

func TestServer_handleReindexFailure(t *testing.T) {
	r := &mockReindexer{err: errors.New("cancelled")}
	server := newTestServer(nil, r, &mockPinger{})

	w := serve(server, http.MethodPost, "/api/reindex")

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status code %d, got %d", http.StatusInternalServerError, w.Code)
	}
}

func TestServer_handleReindexMethod(t *testing.T) {
	server := newTestServer(nil, nil, &mockPinger{})

	w := serve(server, http.MethodGet, "/api/reindex")

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status code %d, got %d", http.StatusMethodNotAllowed, w.Code)
	}
}

func TestServer_handleStatus(t *testing.T) {
	count := uint64(42)
	r := &mockReindexer{status: indexer.Status{Index: "idx", DocumentCount: &count}}
	server := newTestServer(nil, r, &mockPinger{})

	w := serve(server, http.MethodGet, "/api/status")

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status code %d, got %d", http.StatusOK, w.Code)
	}

	var resp struct {
		Status string         `json:"status"`
		Index  indexer.Status `json:"index"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Status != "running" {
		t.Errorf("Expected status 'running', got %q", resp.Status)
	}
	if resp.Index.DocumentCount == nil || *resp.Index.DocumentCount != 42 {
		t.Errorf("Expected document count 42, got %v", resp.Index.DocumentCount)
	}
}

func TestServer_CORS(t *testing.T) {
	server := newTestServer(&mockQuerier{docs: []search.Document{}}, nil, &mockPinger{})

	req := httptest.NewRequest(http.MethodGet, "/api/materials", nil)
	req.Header.Set("Origin", "http://frontend.local")
	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Expected Access-Control-Allow-Origin '*', got %q", got)
	}
}

func TestServer_RequestID(t *testing.T) {
	server := newTestServer(nil, nil, &mockPinger{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "req-123" {
		t.Errorf("Expected X-Request-ID 'req-123', got %q", got)
	}
}

func TestServer_Recoverer(t *testing.T) {
	server := newTestServer(&mockQuerier{panicking: true}, nil, &mockPinger{})

	w := serve(server, http.MethodGet, "/api/search?q=x")

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("Expected status code %d, got %d", http.StatusInternalServerError, w.Code)
	}

	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp["error"] != "internal error" {
		t.Errorf("Expected 'internal error', got %q", resp["error"])
	}
}

func TestServer_Metrics(t *testing.T) {
	server := newTestServer(nil, nil, &mockPinger{})

	w := serve(server, http.MethodGet, "/metrics")

	if w.Code != http.StatusOK {
		t.Errorf("Expected status code %d, got %d", http.StatusOK, w.Code)
	}
}
