package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/davidschrooten/training-search/internal/catalog"
	"github.com/davidschrooten/training-search/internal/metrics"
	"github.com/davidschrooten/training-search/internal/search"
	syncstate "github.com/davidschrooten/training-search/internal/sync"
)

// ErrReindexInProgress is returned when a reindex is requested while one is running
var ErrReindexInProgress = errors.New("reindex already in progress")

// Reindex triggers recorded in the run state
const (
	TriggerStartup = "startup"
	TriggerAPI     = "api"
	TriggerCLI     = "cli"
)

// Source provides the records to index
type Source interface {
	Fetch(ctx context.Context) ([]catalog.Record, error)
	URL() string
}

// Summary reports the outcome of a bulk load or a full reindex
type Summary struct {
	Index      string        `json:"index"`
	Fetched    int           `json:"fetched"`
	Indexed    int           `json:"indexed"`
	Failed     int           `json:"failed"`
	Rejected   int           `json:"rejected"`
	FetchError string        `json:"fetchError,omitempty"`
	Duration   time.Duration `json:"-"`
	DurationMs int64         `json:"durationMs"`
}

// Status is the reindex state of the index together with its size
type Status struct {
	Index         string              `json:"index"`
	DocumentCount *uint64             `json:"documentCount,omitempty"`
	CountError    string              `json:"countError,omitempty"`
	Reindexing    bool                `json:"reindexing"`
	LastRun       *syncstate.RunState `json:"lastRun,omitempty"`
	Progress      float64             `json:"progress"`
	// Runs holds the last run of every index in the state file, including
	// indexes reindexed under a previous index name
	Runs map[string]*syncstate.RunState `json:"runs"`
}

// Schema returns the searchable fields of a catalog index
func Schema() search.Schema {
	return search.Schema{Fields: []search.FieldSpec{
		{Name: catalog.FieldName, Kind: search.FieldAsYouType},
		{Name: catalog.FieldDescription, Kind: search.FieldAsYouType},
		{Name: catalog.FieldTags, Kind: search.FieldText},
		{Name: catalog.FieldAuthors, Kind: search.FieldText},
		{Name: catalog.FieldType, Kind: search.FieldText},
		{Name: catalog.FieldLicense, Kind: search.FieldText},
		{Name: catalog.FieldURL, Kind: search.FieldText},
	}}
}

// Service manages the lifecycle of the search index
type Service struct {
	engine    search.Engine
	source    Source
	indexName string
	state     *syncstate.StateManager
	logger    *zap.Logger

	reindexMutex sync.Mutex
}

// NewService creates a new indexer service
func NewService(engine search.Engine, source Source, indexName string, state *syncstate.StateManager, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if state == nil {
		state = syncstate.NewStateManager("", logger)
	}
	return &Service{
		engine:    engine,
		source:    source,
		indexName: indexName,
		state:     state,
		logger:    logger,
	}
}

// IndexName returns the managed index
func (s *Service) IndexName() string {
	return s.indexName
}

// DropIndex deletes the index. A missing index is not an error and other
// failures are logged only; the following create reports real problems.
func (s *Service) DropIndex(ctx context.Context, name string) {
	err := s.engine.DeleteIndex(ctx, name)
	switch {
	case err == nil:
		s.logger.Info("Deleted index", zap.String("index", name))
	case errors.Is(err, search.ErrIndexNotFound):
		s.logger.Debug("Index did not exist", zap.String("index", name))
	default:
		s.logger.Warn("Failed to delete index", zap.String("index", name), zap.Error(err))
	}
}

// EnsureSchema creates the index. An existing index is kept as is and other
// failures are logged only.
func (s *Service) EnsureSchema(ctx context.Context, name string, schema search.Schema) {
	err := s.engine.CreateIndex(ctx, name, schema)
	switch {
	case err == nil:
		s.logger.Info("Created index", zap.String("index", name), zap.Int("fields", len(schema.Fields)))
	case errors.Is(err, search.ErrIndexExists):
		s.logger.Info("Index already exists", zap.String("index", name))
	default:
		s.logger.Error("Failed to create index", zap.String("index", name), zap.Error(err))
	}
}

// BulkLoad submits records one by one and refreshes the index. A record that
// fails validation or indexing is logged and skipped.
func (s *Service) BulkLoad(ctx context.Context, name string, records []catalog.Record) Summary {
	summary := Summary{Index: name, Fetched: len(records)}

	for i := range records {
		rec := &records[i]

		if err := rec.Validate(); err != nil {
			summary.Rejected++
			metrics.DocumentsIndexed.WithLabelValues("rejected").Inc()
			s.state.IncrementDocumentsRejected(name, 1)
			s.logger.Warn("Rejected record", zap.Int("position", i), zap.Error(err))
			continue
		}

		if _, err := s.engine.IndexDocument(ctx, name, rec.Document()); err != nil {
			summary.Failed++
			metrics.DocumentsIndexed.WithLabelValues("failed").Inc()
			s.state.IncrementDocumentsFailed(name, 1)
			s.logger.Warn("Failed to index record",
				zap.Int("position", i),
				zap.String("name", rec.Name),
				zap.Error(err))
			continue
		}

		summary.Indexed++
		metrics.DocumentsIndexed.WithLabelValues("ok").Inc()
		s.state.IncrementDocumentsIndexed(name, 1)
	}

	if err := s.engine.Refresh(ctx, name); err != nil {
		s.logger.Warn("Failed to refresh index", zap.String("index", name), zap.Error(err))
	}

	s.logger.Info("Bulk load completed",
		zap.String("index", name),
		zap.Int("indexed", summary.Indexed),
		zap.Int("failed", summary.Failed),
		zap.Int("rejected", summary.Rejected))
	return summary
}

// Reindex drops the index, recreates it and loads a fresh copy of the
// catalog. A catalog that cannot be fetched leaves an empty index. Only one
// reindex runs at a time; concurrent calls get ErrReindexInProgress.
func (s *Service) Reindex(ctx context.Context, trigger string) (Summary, error) {
	if !s.reindexMutex.TryLock() {
		return Summary{}, ErrReindexInProgress
	}
	defer s.reindexMutex.Unlock()

	start := time.Now()
	name := s.indexName

	s.state.Begin(name, trigger, s.source.URL())
	s.saveState()

	logger := s.logger.With(zap.String("index", name), zap.String("trigger", trigger))
	logger.Info("Starting full reindex")

	s.DropIndex(ctx, name)
	s.EnsureSchema(ctx, name, Schema())

	var fetchErr string
	records, err := s.source.Fetch(ctx)
	if err != nil {
		fetchErr = err.Error()
		logger.Error("Failed to fetch catalog, indexing an empty dataset", zap.Error(err))
		records = nil
	}
	s.state.SetRecordsFetched(name, len(records))

	summary := s.BulkLoad(ctx, name, records)
	summary.FetchError = fetchErr
	summary.Duration = time.Since(start)
	summary.DurationMs = summary.Duration.Milliseconds()
	metrics.ReindexDuration.Observe(summary.Duration.Seconds())

	runErr := ctx.Err()
	if runErr != nil {
		runErr = fmt.Errorf("reindex interrupted: %w", runErr)
	}
	s.state.Finish(name, runErr)
	s.saveState()

	if runErr != nil {
		logger.Error("Reindex interrupted", zap.Error(runErr))
		return summary, runErr
	}

	logger.Info("Reindex completed",
		zap.Int("fetched", summary.Fetched),
		zap.Int("indexed", summary.Indexed),
		zap.Int("failed", summary.Failed),
		zap.Int("rejected", summary.Rejected),
		zap.Duration("duration", summary.Duration))
	return summary, nil
}

// Reindexing reports whether a reindex is running
func (s *Service) Reindexing() bool {
	if s.reindexMutex.TryLock() {
		s.reindexMutex.Unlock()
		return false
	}
	return true
}

// Status returns the last reindex run and the current document count
func (s *Service) Status(ctx context.Context) Status {
	status := Status{
		Index:      s.indexName,
		Reindexing: s.Reindexing(),
		LastRun:    s.state.GetRunState(s.indexName),
		Runs:       s.state.GetAllRunStates(),
	}
	if status.LastRun != nil {
		status.Progress = status.LastRun.Progress()
	}

	count, err := s.engine.Count(ctx, s.indexName)
	if err != nil {
		status.CountError = err.Error()
	} else {
		status.DocumentCount = &count
	}
	return status
}

func (s *Service) saveState() {
	if err := s.state.Save(); err != nil {
		s.logger.Warn("Failed to save reindex state", zap.Error(err))
	}
}
