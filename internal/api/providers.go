package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/snarg/speacher/internal/pricing"
	"github.com/snarg/speacher/internal/provider"
)

// ProvidersHandler lists the configured transcription providers.
type ProvidersHandler struct {
	registry *provider.Registry
}

func NewProvidersHandler(registry *provider.Registry) *ProvidersHandler {
	return &ProvidersHandler{registry: registry}
}

func (h *ProvidersHandler) Routes(r chi.Router) {
	r.Get("/providers", h.List)
}

// ProviderInfo describes one configured provider.
type ProviderInfo struct {
	Name          string  `json:"name"`
	RatePerMinute float64 `json:"rate_per_minute_usd"`
}

// List handles GET /api/v1/providers.
func (h *ProvidersHandler) List(w http.ResponseWriter, r *http.Request) {
	names := h.registry.Names()
	out := make([]ProviderInfo, 0, len(names))
	for _, name := range names {
		out = append(out, ProviderInfo{
			Name:          name,
			RatePerMinute: pricing.RatePerMinute(name),
		})
	}
	WriteJSON(w, http.StatusOK, map[string]any{"providers": out})
}
