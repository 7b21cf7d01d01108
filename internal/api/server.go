package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/snarg/speacher/internal/config"
	"github.com/snarg/speacher/internal/events"
	"github.com/snarg/speacher/internal/history"
	"github.com/snarg/speacher/internal/jobs"
	"github.com/snarg/speacher/internal/metrics"
	"github.com/snarg/speacher/internal/pipeline"
	"github.com/snarg/speacher/internal/provider"
)

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

// Deps carries everything the HTTP layer needs. DB and MQTT may be nil.
type Deps struct {
	Store    *jobs.Store
	Registry *provider.Registry
	Pipeline *pipeline.Pipeline
	DB       *history.Store
	MQTT     *events.Publisher
	Version  string
}

func NewServer(ctx context.Context, cfg *config.Config, deps Deps, log zerolog.Logger) *Server {
	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(log))
	r.Use(metrics.InstrumentHandler)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Health endpoint — no auth
		health := NewHealthHandler(deps.DB, deps.MQTT, deps.Registry, deps.Version, time.Now())
		r.Get("/health", health.ServeHTTP)

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(BearerAuth(cfg.AuthToken))
			r.Use(OwnerIdentity)

			transcribe := NewTranscribeHandler(deps.Pipeline, deps.Store, ctx,
				cfg.UploadDir, cfg.MinDuration.Seconds(), cfg.MaxDuration.Seconds(), log)
			transcribe.Routes(r)

			NewJobsHandler(deps.Store, log).Routes(r)
			NewProvidersHandler(deps.Registry).Routes(r)
			NewTranscriptionsHandler(deps.DB, log).Routes(r)
		})
	})

	return &Server{
		http: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: log,
	}
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}
