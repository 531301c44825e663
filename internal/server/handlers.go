package server

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/slyderc/roboprep-sub000/internal/importer"
	"github.com/slyderc/roboprep-sub000/internal/lifecycle"
	"github.com/slyderc/roboprep-sub000/internal/syncer"
	"github.com/slyderc/roboprep-sub000/pkg/models"
)

// maxImportBytes caps import uploads.
const maxImportBytes = 32 << 20 // 32 MiB

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"version": s.version,
		"ready":   s.ready.Load(),
		"uptime":  time.Since(s.startTime).Round(time.Second).String(),
	})
}

func (s *Service) handleDBVersion(w http.ResponseWriter, r *http.Request) {
	status, err := s.engine.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Service) handleDBUpgrade(w http.ResponseWriter, r *http.Request) {
	status, err := s.engine.Upgrade(r.Context())
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, lifecycle.ErrNoUpgradePath) {
			code = http.StatusConflict
		}
		writeJSON(w, code, map[string]interface{}{
			"success": false,
			"error":   err.Error(),
		})
		return
	}
	s.ready.Store(true)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "database at version " + status.CurrentVersion,
	})
}

func (s *Service) handleSyncUserPrompts(w http.ResponseWriter, r *http.Request) {
	var items []models.Prompt
	if !readJSON(w, r, &items) {
		return
	}
	s.runSync(w, r, "user prompts", func() error {
		return s.reconciler.StoreUserPrompts(r.Context(), items)
	})
}

func (s *Service) handleSyncCorePrompts(w http.ResponseWriter, r *http.Request) {
	var items []models.Prompt
	if !readJSON(w, r, &items) {
		return
	}
	s.runSync(w, r, "core prompts", func() error {
		return s.reconciler.StoreCorePrompts(r.Context(), items)
	})
}

func (s *Service) handleSyncUserCategories(w http.ResponseWriter, r *http.Request) {
	var items []models.Category
	if !readJSON(w, r, &items) {
		return
	}
	s.runSync(w, r, "user categories", func() error {
		return s.reconciler.StoreUserCategories(r.Context(), items)
	})
}

func (s *Service) handleSyncFavorites(w http.ResponseWriter, r *http.Request) {
	var promptIDs []string
	if !readJSON(w, r, &promptIDs) {
		return
	}
	s.runSync(w, r, "favorites", func() error {
		return s.reconciler.StoreFavorites(r.Context(), promptIDs)
	})
}

func (s *Service) handleSyncRecentlyUsed(w http.ResponseWriter, r *http.Request) {
	var items []models.RecentlyUsed
	if !readJSON(w, r, &items) {
		return
	}
	s.runSync(w, r, "recently used", func() error {
		return s.reconciler.StoreRecentlyUsed(r.Context(), items)
	})
}

func (s *Service) handleSyncResponses(w http.ResponseWriter, r *http.Request) {
	var items []models.Response
	if !readJSON(w, r, &items) {
		return
	}
	s.runSync(w, r, "responses", func() error {
		return s.reconciler.StoreResponses(r.Context(), items)
	})
}

// runSync executes one reconcile call and reports the outcome.
func (s *Service) runSync(w http.ResponseWriter, r *http.Request, kind string, fn func() error) {
	if err := fn(); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, syncer.ErrScopeCollision) {
			code = http.StatusConflict
		}
		log.Error().Err(err).Str("kind", kind).Msg("Reconcile failed")
		writeJSON(w, code, map[string]interface{}{
			"success": false,
			"error":   err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Service) handleImport(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImportBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}

	doc, err := importer.ParseExport(body)
	if err != nil {
		if errors.Is(err, importer.ErrStructural) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	report, err := s.importer.MergeImport(r.Context(), doc)
	if err != nil {
		log.Error().Err(err).Msg("Merge import failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Service) handleExport(w http.ResponseWriter, r *http.Request) {
	doc, err := s.importer.Export(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Service) handleListPrompts(w http.ResponseWriter, r *http.Request) {
	userOnly := r.URL.Query().Get("userOnly") == "true"
	prompts, err := s.prompts.ListPrompts(r.Context(), userOnly)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"prompts": prompts})
}

func (s *Service) handleUsePrompt(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.prompts.RecordUsage(r.Context(), id)
	if err == gorm.ErrRecordNotFound {
		writeError(w, http.StatusNotFound, "prompt not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Service) handleGetSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	value, err := s.settings.Get(r.Context(), key)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if value == "" {
		writeError(w, http.StatusNotFound, "setting not found")
		return
	}

	// Values are stored as JSON blobs, pass them through verbatim.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(value))
}

func (s *Service) handlePutSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	if !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "setting value must be valid JSON")
		return
	}

	if err := s.settings.Put(r.Context(), key, string(body)); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Encode response failed")
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// readJSON decodes the request body, answering 400 on failure.
func readJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "decode body: "+err.Error())
		return false
	}
	return true
}
