package api

import (
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/snarg/speacher/internal/jobs"
)

// JobsHandler serves the in-flight job records.
type JobsHandler struct {
	store *jobs.Store
	log   zerolog.Logger
}

func NewJobsHandler(store *jobs.Store, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		store: store,
		log:   log.With().Str("handler", "jobs").Logger(),
	}
}

func (h *JobsHandler) Routes(r chi.Router) {
	r.Get("/jobs", h.List)
	r.Get("/jobs/{jobID}", h.Get)
	r.Delete("/jobs/{jobID}", h.Delete)
}

// List handles GET /api/v1/jobs. Only the caller's jobs are returned,
// newest first.
func (h *JobsHandler) List(w http.ResponseWriter, r *http.Request) {
	records := h.store.ListByOwner(Owner(r))
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	if records == nil {
		records = []*jobs.Record{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"jobs": records})
}

// Get handles GET /api/v1/jobs/{jobID}.
func (h *JobsHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec := h.store.Get(chi.URLParam(r, "jobID"))
	if rec == nil || rec.OwnerID != Owner(r) {
		WriteError(w, http.StatusNotFound, "job not found")
		return
	}
	WriteJSON(w, http.StatusOK, rec)
}

// Delete handles DELETE /api/v1/jobs/{jobID}. Deleting an unknown job is
// a no-op; both cases answer 204.
func (h *JobsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	if rec := h.store.Get(id); rec != nil && rec.OwnerID != Owner(r) {
		WriteError(w, http.StatusNotFound, "job not found")
		return
	}
	h.store.Delete(id)
	w.WriteHeader(http.StatusNoContent)
}
