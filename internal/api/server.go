package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/davidschrooten/training-search/internal/indexer"
	logpkg "github.com/davidschrooten/training-search/internal/logger"
	"github.com/davidschrooten/training-search/internal/metrics"
	"github.com/davidschrooten/training-search/internal/query"
	"github.com/davidschrooten/training-search/internal/search"
)

// Querier answers read queries
type Querier interface {
	Search(ctx context.Context, q string, exact bool) ([]search.Hit, error)
	Suggest(ctx context.Context, q string) ([]search.Document, error)
	Export(ctx context.Context) ([]search.Document, error)
	TagCounts(ctx context.Context) ([]query.TagCount, error)
}

// Reindexer rebuilds the index on request
type Reindexer interface {
	Reindex(ctx context.Context, trigger string) (indexer.Summary, error)
	Status(ctx context.Context) indexer.Status
}

// Pinger checks the search engine
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server represents the API server
type Server struct {
	queries      Querier
	reindexer    Reindexer
	engine       Pinger
	logger       *zap.Logger
	queryTimeout time.Duration
}

// NewServer creates a new API server. queryTimeout bounds search and suggest
// calls; zero means no bound.
func NewServer(queries Querier, reindexer Reindexer, engine Pinger, queryTimeout time.Duration, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		queries:      queries,
		reindexer:    reindexer,
		engine:       engine,
		logger:       logger,
		queryTimeout: queryTimeout,
	}
}

// Router setups the API routes
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(jsonRecoverer(s.logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))
	r.Use(requestLogger(s.logger))
	r.Use(metrics.Middleware())

	r.Route("/api", func(r chi.Router) {
		r.Get("/materials", s.handleMaterials)
		r.Get("/search", s.handleSearch)
		r.Get("/suggest", s.handleSuggest)
		r.Get("/tags", s.handleTags)
		r.Get("/status", s.handleStatus)
		r.Post("/reindex", s.handleReindex)
	})

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

func (s *Server) handleMaterials(w http.ResponseWriter, r *http.Request) {
	docs, err := s.queries.Export(engineContext(r))
	if err != nil {
		s.queryError(w, r, err)
		return
	}
	response(w, http.StatusOK, docs)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")

	// Anything but "true" in any case is a ranked search
	exact := strings.EqualFold(r.URL.Query().Get("exact_match"), "true")

	ctx, cancel := s.queryContext(r)
	defer cancel()

	hits, err := s.queries.Search(ctx, q, exact)
	if err != nil {
		s.queryError(w, r, err)
		return
	}
	response(w, http.StatusOK, hits)
}

func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.queryContext(r)
	defer cancel()

	docs, err := s.queries.Suggest(ctx, r.URL.Query().Get("q"))
	if err != nil {
		s.queryError(w, r, err)
		return
	}
	response(w, http.StatusOK, docs)
}

func (s *Server) handleTags(w http.ResponseWriter, r *http.Request) {
	counts, err := s.queries.TagCounts(engineContext(r))
	if err != nil {
		s.queryError(w, r, err)
		return
	}
	response(w, http.StatusOK, counts)
}

func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	summary, err := s.reindexer.Reindex(engineContext(r), indexer.TriggerAPI)
	if errors.Is(err, indexer.ErrReindexInProgress) {
		errorResponse(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		logpkg.FromContext(r.Context(), s.logger).Error("Reindex failed", zap.Error(err))
		errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	response(w, http.StatusOK, summary)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.queryContext(r)
	defer cancel()

	response(w, http.StatusOK, map[string]interface{}{
		"service": "training-search",
		"status":  "running",
		"index":   s.reindexer.Status(ctx),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	// Simple health check
	response(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		errorResponse(w, http.StatusServiceUnavailable, "search engine not initialized")
		return
	}

	ctx, cancel := s.queryContext(r)
	defer cancel()

	if err := s.engine.Ping(ctx); err != nil {
		logpkg.FromContext(r.Context(), s.logger).Warn("Readiness check failed", zap.Error(err))
		errorResponse(w, http.StatusServiceUnavailable, "search engine not ready")
		return
	}

	response(w, http.StatusOK, map[string]interface{}{
		"status": "ready",
		"checks": map[string]string{
			"searchEngine": "ok",
		},
	})
}

// queryError reports a failed query as 500 with the error message
func (s *Server) queryError(w http.ResponseWriter, r *http.Request, err error) {
	logpkg.FromContext(r.Context(), s.logger).Error("Query failed", zap.Error(err))
	errorResponse(w, http.StatusInternalServerError, err.Error())
}

// engineContext detaches engine calls from the client connection so a
// disconnect does not abort them half way
func engineContext(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

func (s *Server) queryContext(r *http.Request) (context.Context, context.CancelFunc) {
	ctx := engineContext(r)
	if s.queryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.queryTimeout)
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	response(w, status, map[string]string{"error": message})
}

func response(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Error("Unable to encode response", zap.Error(err))
	}
}
