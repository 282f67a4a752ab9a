// Package server provides the HTTP API for the symphony service.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/symphony/internal/database"
	"github.com/aristath/symphony/internal/domain"
	"github.com/aristath/symphony/internal/metrics"
	"github.com/aristath/symphony/internal/modules/artifacts"
	"github.com/aristath/symphony/internal/modules/cycle"
	"github.com/aristath/symphony/internal/modules/marketdata"
	"github.com/aristath/symphony/internal/modules/rebalancing"
	"github.com/aristath/symphony/internal/modules/strategies"
	"github.com/aristath/symphony/internal/scheduler"
)

// Config holds server configuration. Importer, Coverage, Metrics and
// Scheduler are optional; their routes answer 503 when unset.
type Config struct {
	Log     zerolog.Logger
	Port    int
	DevMode bool
	DataDir string

	Runner     *cycle.Runner
	Strategies strategies.Source
	Holdings   domain.HoldingsProvider
	Planner    *rebalancing.Planner
	Cycles     artifacts.Repository
	Importer   *marketdata.Importer
	Coverage   *marketdata.HistoryRepository
	Databases  map[string]*database.DB
	Metrics    *metrics.Metrics
	Scheduler  *scheduler.Scheduler
	Jobs       []scheduler.Job
}

// Server represents the HTTP server
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger
	cfg    Config

	system     *SystemHandlers
	strategies *StrategyHandlers
	cycles     *CycleHandlers
	bars       *BarHandlers
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		log:    cfg.Log.With().Str("component", "server").Logger(),
		cfg:    cfg,
	}

	s.system = NewSystemHandlers(cfg.DataDir, cfg.Databases, cfg.Scheduler, cfg.Jobs, cfg.Cycles, cfg.Log)
	s.strategies = NewStrategyHandlers(cfg.Strategies, cfg.Runner, cfg.Log)
	s.cycles = NewCycleHandlers(cfg.Runner, cfg.Cycles, cfg.Planner, cfg.Holdings, cfg.Log)
	s.bars = NewBarHandlers(cfg.Importer, cfg.Coverage, cfg.Log)

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute, // cycles run inside the request
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(90 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	if s.cfg.Metrics != nil {
		s.router.Method(http.MethodGet, "/metrics", s.cfg.Metrics.Handler())
	}

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/system", func(r chi.Router) {
			r.Get("/status", s.system.HandleSystemStatus)
			r.Get("/jobs", s.system.HandleJobs)
			r.Post("/jobs/{name}", s.system.HandleRunJob)
		})

		r.Route("/strategies", func(r chi.Router) {
			r.Get("/", s.strategies.HandleList)
			r.Post("/{id}/evaluate", s.strategies.HandleEvaluate)
		})
		r.Post("/symphonies/parse", s.strategies.HandleParse)

		r.Route("/cycles", func(r chi.Router) {
			r.Get("/", s.cycles.HandleList)
			r.Post("/", s.cycles.HandleRun)
			r.Get("/latest", s.cycles.HandleLatest)
			r.Get("/{id}", s.cycles.HandleGet)
		})
		r.Post("/rebalance/plan", s.cycles.HandlePlan)

		r.Route("/bars", func(r chi.Router) {
			r.Get("/", s.bars.HandleCoverage)
			r.Post("/{symbol}", s.bars.HandleImport)
		})
	})
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
