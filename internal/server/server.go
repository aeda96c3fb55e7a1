// Package server provides the HTTP API for the valuation service.
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

	"github.com/aristath/fairvalue/internal/config"
	"github.com/aristath/fairvalue/internal/database"
	"github.com/aristath/fairvalue/internal/events"
	"github.com/aristath/fairvalue/internal/modules/curves"
	"github.com/aristath/fairvalue/internal/modules/discountspec"
	"github.com/aristath/fairvalue/internal/modules/fx"
	"github.com/aristath/fairvalue/internal/modules/runs"
	"github.com/aristath/fairvalue/internal/modules/securities"
	"github.com/aristath/fairvalue/internal/modules/valuation"
)

// Deps carries everything the API surfaces.
type Deps struct {
	Config       *config.Config
	Log          zerolog.Logger
	MasterDB     *database.DB
	RunsDB       *database.DB
	CacheDB      *database.DB
	Securities   *securities.Repository
	DiscountSpec *discountspec.Repository
	Curves       *curves.Repository
	FxService    *fx.Service
	FxRepo       *fx.Repository
	Runs         *runs.Repository
	Orchestrator *valuation.Orchestrator
	Bus          *events.Bus
}

// Server is the HTTP server.
type Server struct {
	router *chi.Mux
	server *http.Server
	deps   Deps
	log    zerolog.Logger
}

// New creates the server with routes and middleware installed.
func New(deps Deps) *Server {
	s := &Server{
		router: chi.NewRouter(),
		deps:   deps,
		log:    deps.Log.With().Str("component", "server").Logger(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", deps.Config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)

	if s.deps.Config.DevMode {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
			MaxAge:         300,
		}))
	}
}

func (s *Server) setupRoutes() {
	sys := NewSystemHandlers(s.deps.Config.DataDir, map[string]*database.DB{
		"master": s.deps.MasterDB,
		"runs":   s.deps.RunsDB,
		"cache":  s.deps.CacheDB,
	}, s.log)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/system/status", sys.HandleStatus)

		r.Route("/valuations", func(r chi.Router) {
			r.Post("/run", s.handleStartRun)
			r.Get("/runs/{runID}", s.handleGetRun)
			r.Get("/runs/{runID}/results", s.handleListResults)
			r.Get("/runs/{runID}/securities/{securityID}/steps", s.handleListSteps)
			r.Get("/stream", s.handleEventStream)
			r.Get("/events", s.handleRecentEvents)
		})

		r.Route("/curves", func(r chi.Router) {
			r.Post("/", s.handleSaveCurve)
			r.Get("/{name}", s.handleGetCurve)
		})

		r.Route("/fx", func(r chi.Router) {
			r.Post("/", s.handleSaveFxRate)
			r.Get("/{from}/{to}", s.handleResolveFxRate)
		})

		r.Route("/securities", func(r chi.Router) {
			r.Post("/", s.handleCreateSecurity)
			r.Get("/{securityID}", s.handleGetSecurity)
			r.Route("/{securityID}/discount-spec", func(r chi.Router) {
				r.Get("/", s.handleGetDiscountSpec)
				r.Put("/", s.handlePutDiscountSpec)
				r.Delete("/", s.handleDeleteDiscountSpec)
			})
		})
	})
}

// Start begins serving. Blocks until the listener fails or closes.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
