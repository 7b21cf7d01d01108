package api

import (
	"net/http"
	"time"

	"github.com/snarg/speacher/internal/events"
	"github.com/snarg/speacher/internal/history"
	"github.com/snarg/speacher/internal/provider"
)

type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Providers     []string          `json:"providers"`
	Checks        map[string]string `json:"checks"`
}

type HealthHandler struct {
	db        *history.Store
	mqtt      *events.Publisher
	registry  *provider.Registry
	version   string
	startTime time.Time
}

func NewHealthHandler(db *history.Store, mqtt *events.Publisher, registry *provider.Registry, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		db:        db,
		mqtt:      mqtt,
		registry:  registry,
		version:   version,
		startTime: startTime,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	// Database check
	if h.db != nil {
		if err := h.db.HealthCheck(r.Context()); err != nil {
			checks["database"] = "error"
			status = "degraded"
		} else {
			checks["database"] = "ok"
		}
	} else {
		checks["database"] = "not_configured"
	}

	// MQTT check
	if h.mqtt != nil {
		if h.mqtt.IsConnected() {
			checks["mqtt"] = "ok"
		} else {
			checks["mqtt"] = "disconnected"
			if status == "healthy" {
				status = "degraded"
			}
		}
	} else {
		checks["mqtt"] = "not_configured"
	}

	// At least one provider must be configured to accept work
	providers := h.registry.Names()
	if len(providers) == 0 {
		checks["providers"] = "none_configured"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["providers"] = "ok"
	}

	WriteJSON(w, httpStatus, HealthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Providers:     providers,
		Checks:        checks,
	})
}
