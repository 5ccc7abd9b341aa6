// Package server provides the HTTP API for relnotes.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/config"
	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/metrics"
	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/similarity"
	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/storage"
	"github.com/mrboxtobox/obsidian-related-notes-sub001/pkg/utils"
)

// Server is the HTTP server for the relnotes API.
type Server struct {
	engine   *similarity.Engine
	docs     *storage.SQLiteStorage
	config   *config.Config
	logger   *zap.Logger
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	server   *http.Server

	// Background reindex runs use runCtx so that Stop can cancel them.
	runCtx    context.Context
	runCancel context.CancelFunc
	runs      sync.WaitGroup

	lastMu  sync.Mutex
	lastRun *similarity.Report
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics instruments requests with m and serves gatherer on /metrics.
func WithMetrics(m *metrics.Metrics, gatherer prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = gatherer
	}
}

// NewServer creates a server with the given dependencies. docs may be nil, in
// which case API-ingested documents live only in the index.
func NewServer(
	engine *similarity.Engine,
	docs *storage.SQLiteStorage,
	cfg *config.Config,
	logger *zap.Logger,
	opts ...Option,
) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		engine:    engine,
		docs:      docs,
		config:    cfg,
		logger:    utils.OrNop(logger),
		runCtx:    ctx,
		runCancel: cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router returns the API routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(metrics.Middleware(s.metrics))
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Get("/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/stats", s.handleStats)
		r.Get("/related", s.handleRelated)
		r.Get("/similarity", s.handleSimilarity)
		r.Post("/documents", s.handleIndexDocument)
		r.Delete("/documents", s.handleDeleteDocument)
		r.Post("/reindex", s.handleReindex)
		r.Delete("/reindex", s.handleCancelReindex)
	})
	if s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(s.gatherer))
	}
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	host, port := "localhost", 8484
	if s.config != nil {
		host, port = s.config.Server.Host, s.config.Server.Port
	}
	addr := fmt.Sprintf("%s:%d", host, port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server and cancels any reindex it started.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}
	s.runCancel()
	s.runs.Wait()
	return err
}

// LastRun returns the report of the most recent reindex started through the API.
func (s *Server) LastRun() *similarity.Report {
	s.lastMu.Lock()
	defer s.lastMu.Unlock()
	return s.lastRun
}

func (s *Server) setLastRun(rep *similarity.Report) {
	s.lastMu.Lock()
	s.lastRun = rep
	s.lastMu.Unlock()
}
