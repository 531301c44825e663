// Package server provides the HTTP service for roboprep.
package server

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/slyderc/roboprep-sub000/internal/config"
	"github.com/slyderc/roboprep-sub000/internal/db"
	"github.com/slyderc/roboprep-sub000/internal/importer"
	"github.com/slyderc/roboprep-sub000/internal/lifecycle"
	"github.com/slyderc/roboprep-sub000/internal/syncer"
)

// Service is the HTTP service tying the lifecycle engine, reconciler and
// importer together behind a chi router.
type Service struct {
	version string
	cfg     *config.Config
	store   *db.Store

	engine     *lifecycle.Engine
	reconciler *syncer.Reconciler
	importer   *importer.Importer
	prompts    *db.PromptStore
	settings   *db.SettingStore

	router    chi.Router
	ready     atomic.Bool
	startTime time.Time
}

// NewService wires a Service over an opened store. The caller is responsible
// for running the lifecycle engine's Initialize before marking the service
// ready; until then every store-touching endpoint answers 503.
func NewService(version string, cfg *config.Config, store *db.Store) *Service {
	svc := &Service{
		version:    version,
		cfg:        cfg,
		store:      store,
		engine:     lifecycle.NewEngine(store, cfg.BackupDir),
		reconciler: syncer.NewReconciler(store),
		importer:   importer.NewImporter(store),
		prompts:    db.NewPromptStore(store),
		settings:   db.NewSettingStore(store),
		router:     chi.NewRouter(),
		startTime:  time.Now(),
	}
	svc.setupRoutes()
	return svc
}

// Engine returns the lifecycle engine, for startup wiring.
func (s *Service) Engine() *lifecycle.Engine {
	return s.engine
}

// SetReady marks the service as ready to serve store-touching traffic.
func (s *Service) SetReady(ready bool) {
	s.ready.Store(ready)
}

// Router returns the HTTP handler.
func (s *Service) Router() http.Handler {
	return s.router
}

// setupRoutes registers middleware and routes.
func (s *Service) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(requestLogger)
	s.router.Use(middleware.Recoverer)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/db/version", s.handleDBVersion)
		r.Post("/db/upgrade", s.handleDBUpgrade)

		// Everything below touches collections and waits for migrations.
		r.Group(func(r chi.Router) {
			r.Use(s.requireReady)

			r.Route("/sync", func(r chi.Router) {
				r.Post("/user-prompts", s.handleSyncUserPrompts)
				r.Post("/core-prompts", s.handleSyncCorePrompts)
				r.Post("/user-categories", s.handleSyncUserCategories)
				r.Post("/favorites", s.handleSyncFavorites)
				r.Post("/recently-used", s.handleSyncRecentlyUsed)
				r.Post("/responses", s.handleSyncResponses)
			})

			r.Post("/import", s.handleImport)
			r.Get("/export", s.handleExport)

			r.Get("/prompts", s.handleListPrompts)
			r.Post("/prompts/{id}/use", s.handleUsePrompt)

			r.Get("/settings/{key}", s.handleGetSetting)
			r.Put("/settings/{key}", s.handlePutSetting)
		})
	})
}

// requireReady rejects store-touching requests until migrations have run.
func (s *Service) requireReady(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			writeError(w, http.StatusServiceUnavailable, "database not initialized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestLogger logs one line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request")
	})
}
