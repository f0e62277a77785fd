// Package server provides the engine's thin HTTP status surface:
// health, per-bot staleness, the decision-log query, a deviation
// summary, and the on-demand reconciliation trigger. The full
// configuration CRUD REST layer is an external collaborator and is not
// built here.
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

	"github.com/coinrebalancer/engine/internal/domain"
	"github.com/coinrebalancer/engine/internal/reconcile"
	"github.com/coinrebalancer/engine/internal/store/sqlite"
)

// BotResetter triggers a bot reset: baselines deleted, peak cleared,
// audit row written.
type BotResetter interface {
	Reset(ctx context.Context, botID, reason string) error
}

// Config holds server configuration
type Config struct {
	Port       int
	Log        zerolog.Logger
	DB         *sqlite.DB
	Store      domain.Store
	Reconciler *reconcile.Reconciler
	Resetter   BotResetter
	DevMode    bool
}

// Server represents the HTTP server
type Server struct {
	router     *chi.Mux
	server     *http.Server
	log        zerolog.Logger
	db         *sqlite.DB
	store      domain.Store
	reconciler *reconcile.Reconciler
	resetter   BotResetter
	startedAt  time.Time
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		log:        cfg.Log.With().Str("component", "server").Logger(),
		db:         cfg.DB,
		store:      cfg.Store,
		reconciler: cfg.Reconciler,
		resetter:   cfg.Resetter,
		startedAt:  time.Now(),
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/system/status", s.handleSystemStatus)
		r.Get("/bots/{botID}/decision-log", s.handleDecisionLog)
		r.Get("/bots/{botID}/deviations/summary", s.handleDeviationSummary)
		r.Post("/bots/{botID}/reset", s.handleBotReset)
		r.Post("/reconciliation/run", s.handleReconciliation)
	})
}

// loggingMiddleware logs each request at debug level with its duration.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

// Start begins listening. It blocks until the server exits.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("http server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Router exposes the mux for tests.
func (s *Server) Router() http.Handler { return s.router }
