package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/snarg/speacher/internal/history"
)

// TranscriptionsHandler serves the persisted transcription archive. The
// store is nil when no database is configured; every endpoint then answers
// 503 so callers can tell the feature apart from an empty archive.
type TranscriptionsHandler struct {
	store *history.Store
	log   zerolog.Logger
}

func NewTranscriptionsHandler(store *history.Store, log zerolog.Logger) *TranscriptionsHandler {
	return &TranscriptionsHandler{
		store: store,
		log:   log.With().Str("handler", "transcriptions").Logger(),
	}
}

func (h *TranscriptionsHandler) Routes(r chi.Router) {
	r.Get("/transcriptions", h.List)
	r.Get("/transcriptions/stats", h.Stats)
	r.Get("/transcriptions/{id}", h.Get)
	r.Delete("/transcriptions/{id}", h.Delete)
}

func (h *TranscriptionsHandler) available(w http.ResponseWriter) bool {
	if h.store == nil {
		WriteError(w, http.StatusServiceUnavailable, "transcription history is not configured")
		return false
	}
	return true
}

// List handles GET /api/v1/transcriptions.
func (h *TranscriptionsHandler) List(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}

	p, err := ParsePagination(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	rows, err := h.store.History(r.Context(), Owner(r), p.Limit, p.Offset)
	if err != nil {
		h.log.Error().Err(err).Msg("history query failed")
		WriteError(w, http.StatusInternalServerError, "failed to query history")
		return
	}
	if rows == nil {
		rows = []*history.Row{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"transcriptions": rows})
}

// Get handles GET /api/v1/transcriptions/{id}.
func (h *TranscriptionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}

	row, err := h.store.GetByID(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, history.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "transcription not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("history lookup failed")
		WriteError(w, http.StatusInternalServerError, "failed to query history")
		return
	}
	if row.OwnerID != Owner(r) {
		WriteError(w, http.StatusNotFound, "transcription not found")
		return
	}
	WriteJSON(w, http.StatusOK, row)
}

// Delete handles DELETE /api/v1/transcriptions/{id}.
func (h *TranscriptionsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}

	id := chi.URLParam(r, "id")
	row, err := h.store.GetByID(r.Context(), id)
	if errors.Is(err, history.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "transcription not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("history lookup failed")
		WriteError(w, http.StatusInternalServerError, "failed to query history")
		return
	}
	if row.OwnerID != Owner(r) {
		WriteError(w, http.StatusNotFound, "transcription not found")
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil && !errors.Is(err, history.ErrNotFound) {
		h.log.Error().Err(err).Msg("history delete failed")
		WriteError(w, http.StatusInternalServerError, "failed to delete transcription")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Stats handles GET /api/v1/transcriptions/stats.
func (h *TranscriptionsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}

	stats, err := h.store.GetStats(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("stats query failed")
		WriteError(w, http.StatusInternalServerError, "failed to query stats")
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}
