package query

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidschrooten/training-search/config"
	"github.com/davidschrooten/training-search/internal/search"
)

// fakeEngine serves canned hits and pages a fixed corpus
type fakeEngine struct {
	search.Engine

	hits      []search.Hit
	searchErr error
	requests  []search.SearchRequest

	corpus      []search.Document
	nextErr     error
	pageFetches int
	opened      int
	open        map[string]int
	sizes       map[string]int
	closed      []string
	keepAlives  []time.Duration
}

func (f *fakeEngine) Search(ctx context.Context, index string, req search.SearchRequest) ([]search.Hit, error) {
	f.requests = append(f.requests, req)
	return f.hits, f.searchErr
}

func (f *fakeEngine) OpenCursor(ctx context.Context, index string, size int, keepAlive time.Duration) (search.Page, error) {
	if f.open == nil {
		f.open = make(map[string]int)
		f.sizes = make(map[string]int)
	}
	f.opened++
	id := fmt.Sprintf("cursor-%d", f.opened)
	f.open[id] = 0
	f.sizes[id] = size
	f.keepAlives = append(f.keepAlives, keepAlive)
	return f.page(id), nil
}

func (f *fakeEngine) NextPage(ctx context.Context, cursorID string, keepAlive time.Duration) (search.Page, error) {
	if f.nextErr != nil {
		return search.Page{}, f.nextErr
	}
	if _, ok := f.open[cursorID]; !ok {
		return search.Page{}, search.ErrCursorExpired
	}
	return f.page(cursorID), nil
}

func (f *fakeEngine) CloseCursor(ctx context.Context, cursorID string) error {
	delete(f.open, cursorID)
	f.closed = append(f.closed, cursorID)
	return nil
}

// page returns the next slice of the corpus for the cursor
func (f *fakeEngine) page(id string) search.Page {
	f.pageFetches++

	offset := f.open[id]
	end := offset + f.sizes[id]
	if end > len(f.corpus) {
		end = len(f.corpus)
	}
	hits := make([]search.Hit, 0, end-offset)
	for i := offset; i < end; i++ {
		hits = append(hits, search.Hit{ID: fmt.Sprint(i), Source: f.corpus[i]})
	}
	f.open[id] = end
	return search.Page{CursorID: id, Hits: hits}
}

func corpus(n int) []search.Document {
	docs := make([]search.Document, n)
	for i := range docs {
		docs[i] = search.Document{"name": fmt.Sprintf("Material %d", i)}
	}
	return docs
}

func TestService_SearchExact(t *testing.T) {
	engine := &fakeEngine{hits: []search.Hit{{ID: "1", Score: 2, Source: search.Document{"name": "Bio-Formats"}}}}
	svc := New(engine, "idx")

	hits, err := svc.Search(context.Background(), "Bio-Formats", true)
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	require.Len(t, engine.requests, 1)
	assert.Equal(t, search.PhraseQuery{Field: "name", Text: "Bio-Formats"}, engine.requests[0].Query)
	assert.Equal(t, 1000, engine.requests[0].Size)
}

func TestService_SearchRankedSanitizes(t *testing.T) {
	engine := &fakeEngine{}
	svc := New(engine, "idx", WithMaxHits(50))

	hits, err := svc.Search(context.Background(), "a+b:c", false)
	require.NoError(t, err)
	assert.NotNil(t, hits)
	assert.Empty(t, hits)

	require.Len(t, engine.requests, 1)
	q, ok := engine.requests[0].Query.(search.MultiMatchQuery)
	require.True(t, ok, "expected multi match, got %T", engine.requests[0].Query)
	assert.Equal(t, "a b c", q.Text)
	assert.Equal(t, RankedFields, q.Fields)
	assert.Equal(t, 50, engine.requests[0].Size)
}

func TestService_SearchEmptyQueryIsRanked(t *testing.T) {
	engine := &fakeEngine{}
	svc := New(engine, "idx")

	_, err := svc.Search(context.Background(), "", false)
	require.NoError(t, err)
	assert.IsType(t, search.MultiMatchQuery{}, engine.requests[0].Query)
}

func TestService_SearchError(t *testing.T) {
	engine := &fakeEngine{searchErr: search.ErrIndexNotFound}
	svc := New(engine, "idx")

	_, err := svc.Search(context.Background(), "x", false)
	require.Error(t, err)

	var qerr *Error
	require.ErrorAs(t, err, &qerr)
	assert.Equal(t, OpSearch, qerr.Op)
	assert.ErrorIs(t, err, search.ErrIndexNotFound)
}

func TestService_Suggest(t *testing.T) {
	engine := &fakeEngine{hits: []search.Hit{
		{ID: "1", Source: search.Document{"name": "Napari basics"}},
		{ID: "2", Source: search.Document{"name": "Napari plugins"}},
	}}
	svc := New(engine, "idx")

	docs, err := svc.Suggest(context.Background(), "nap+")
	require.NoError(t, err)
	assert.Equal(t, []search.Document{{"name": "Napari basics"}, {"name": "Napari plugins"}}, docs)

	// Suggestions use the raw query and the engine default size
	assert.Equal(t, search.PrefixQuery{Text: "nap+", Fields: []string{"name", "description"}}, engine.requests[0].Query)
	assert.Zero(t, engine.requests[0].Size)
}

func TestService_SuggestNoMatches(t *testing.T) {
	svc := New(&fakeEngine{}, "idx")

	docs, err := svc.Suggest(context.Background(), "zzz")
	require.NoError(t, err)
	assert.NotNil(t, docs)
	assert.Empty(t, docs)
}

func TestService_SuggestError(t *testing.T) {
	svc := New(&fakeEngine{searchErr: errors.New("boom")}, "idx")

	_, err := svc.Suggest(context.Background(), "x")
	var qerr *Error
	require.ErrorAs(t, err, &qerr)
	assert.Equal(t, OpSuggest, qerr.Op)
}

func TestService_Export(t *testing.T) {
	engine := &fakeEngine{corpus: corpus(2500)}
	svc := New(engine, "idx")

	docs, err := svc.Export(context.Background())
	require.NoError(t, err)
	assert.Len(t, docs, 2500)

	unique := make(map[string]bool)
	for _, d := range docs {
		unique[d["name"].(string)] = true
	}
	assert.Len(t, unique, 2500)

	// Three non-empty pages plus the empty page that ends the scan
	assert.Equal(t, 4, engine.pageFetches)
	assert.Equal(t, []time.Duration{2 * time.Minute}, engine.keepAlives)
	assert.Empty(t, engine.open)
	assert.Equal(t, []string{"cursor-1"}, engine.closed)
}

func TestService_PagesSizes(t *testing.T) {
	svc := New(&fakeEngine{corpus: corpus(2500)}, "idx")

	var sizes []int
	for page, err := range svc.Pages(context.Background()) {
		require.NoError(t, err)
		sizes = append(sizes, len(page))
	}
	assert.Equal(t, []int{1000, 1000, 500}, sizes)
}

func TestService_PagesIsRestartable(t *testing.T) {
	engine := &fakeEngine{corpus: corpus(30)}
	svc := New(engine, "idx", WithPageSize(10))
	pages := svc.Pages(context.Background())

	for run := 0; run < 2; run++ {
		total := 0
		for page, err := range pages {
			require.NoError(t, err)
			total += len(page)
		}
		assert.Equal(t, 30, total, "run %d", run)
	}
	assert.Len(t, engine.closed, 2)
}

func TestService_PagesBreakClosesCursor(t *testing.T) {
	engine := &fakeEngine{corpus: corpus(30)}
	svc := New(engine, "idx", WithPageSize(10))

	for page, err := range svc.Pages(context.Background()) {
		require.NoError(t, err)
		assert.Len(t, page, 10)
		break
	}

	assert.Equal(t, 1, engine.pageFetches)
	assert.Equal(t, []string{"cursor-1"}, engine.closed)
	assert.Empty(t, engine.open)
}

func TestService_ExportCursorExpired(t *testing.T) {
	engine := &fakeEngine{corpus: corpus(30), nextErr: search.ErrCursorExpired}
	svc := New(engine, "idx", WithPageSize(10))

	_, err := svc.Export(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, search.ErrCursorExpired)

	var qerr *Error
	require.ErrorAs(t, err, &qerr)
	assert.Equal(t, OpExport, qerr.Op)
	assert.Equal(t, []string{"cursor-1"}, engine.closed)
}

func TestService_ExportEmptyIndex(t *testing.T) {
	svc := New(&fakeEngine{}, "idx")

	docs, err := svc.Export(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, docs)
	assert.Empty(t, docs)
}

func TestService_TagCounts(t *testing.T) {
	engine := &fakeEngine{corpus: []search.Document{
		{"name": "a", "tags": []any{"napari", "python"}},
		{"name": "b", "tags": []any{"python"}},
		{"name": "c", "tags": "fiji"},
		{"name": "d", "tags": []string{"napari", "fiji"}},
		{"name": "e"},
	}}
	svc := New(engine, "idx", WithPageSize(2))

	counts, err := svc.TagCounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []TagCount{
		{Tag: "fiji", Count: 2},
		{Tag: "napari", Count: 2},
		{Tag: "python", Count: 2},
	}, counts)
}

func newBleveService(t *testing.T, docs ...search.Document) *Service {
	t.Helper()
	ctx := context.Background()

	engine, err := search.NewBleveEngine(config.EngineConfig{IndexPath: t.TempDir()}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	schema := search.Schema{Fields: []search.FieldSpec{
		{Name: "name", Kind: search.FieldAsYouType},
		{Name: "description", Kind: search.FieldAsYouType},
		{Name: "tags", Kind: search.FieldText},
		{Name: "authors", Kind: search.FieldText},
		{Name: "type", Kind: search.FieldText},
		{Name: "license", Kind: search.FieldText},
	}}
	require.NoError(t, engine.CreateIndex(ctx, "idx", schema))
	for _, doc := range docs {
		_, err := engine.IndexDocument(ctx, "idx", doc)
		require.NoError(t, err)
	}
	require.NoError(t, engine.Refresh(ctx, "idx"))

	return New(engine, "idx", WithPageSize(2))
}

func hitNames(hits []search.Hit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i], _ = h.Source["name"].(string)
	}
	return out
}

func TestService_Bleve_ExactVersusRanked(t *testing.T) {
	svc := newBleveService(t,
		search.Document{"name": "Bio-Formats", "tags": []string{"io"}},
		search.Document{"name": "Formats for bio images"},
		search.Document{"name": "Image analysis", "description": "A tutorial about segmentation"},
		search.Document{"name": "Bioformats basics"},
		search.Document{"name": "Cell tracking", "description": "Follow cells over time"},
	)
	ctx := context.Background()

	exact, err := svc.Search(ctx, "Bio-Formats", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"Bio-Formats"}, hitNames(exact))

	ranked, err := svc.Search(ctx, "bioformats tutorial", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"Bioformats basics", "Image analysis"}, hitNames(ranked))
}

func TestService_Bleve_SuggestAndExport(t *testing.T) {
	svc := newBleveService(t,
		search.Document{"name": "Napari basics", "tags": []string{"napari"}},
		search.Document{"name": "Napari plugins", "tags": []string{"napari", "python"}},
		search.Document{"name": "Fiji macros", "tags": []string{"fiji"}},
	)
	ctx := context.Background()

	suggestions, err := svc.Suggest(ctx, "napa")
	require.NoError(t, err)
	assert.Len(t, suggestions, 2)

	docs, err := svc.Export(ctx)
	require.NoError(t, err)
	assert.Len(t, docs, 3)

	counts, err := svc.TagCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, TagCount{Tag: "napari", Count: 2}, counts[0])
	assert.Len(t, counts, 3)
}
