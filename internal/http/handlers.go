package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/pws-dashboard/internal/client"
	"github.com/kjstillabower/pws-dashboard/internal/display"
	"github.com/kjstillabower/pws-dashboard/internal/lifecycle"
	"github.com/kjstillabower/pws-dashboard/internal/models"
	"github.com/kjstillabower/pws-dashboard/internal/observability"
	"github.com/kjstillabower/pws-dashboard/internal/service"
	"github.com/kjstillabower/pws-dashboard/internal/traffic"
	"github.com/kjstillabower/pws-dashboard/internal/units"
	"github.com/kjstillabower/pws-dashboard/internal/validation"
)

const (
	cacheControlOK    = "public, max-age=30, stale-while-revalidate=15"
	cacheControlError = "no-store"

	statusHealthy      = "healthy"
	statusDegraded     = "degraded"
	statusShuttingDown = "shutting-down"
)

// Version is reported by /health. Overridden at build time with -ldflags.
var Version = "dev"

// HealthConfig holds the error-rate thresholds for the health handler.
type HealthConfig struct {
	DegradedWindow      time.Duration
	DegradedErrorPct    int
	DegradedMinRequests int
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	weatherService   *service.WeatherService
	healthConfig     *HealthConfig
	logger           *zap.Logger
	now              func() time.Time
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. healthConfig may be nil, which disables the
// error-rate check.
func NewHandler(weatherService *service.WeatherService, healthConfig *HealthConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		weatherService: weatherService,
		healthConfig:   healthConfig,
		logger:         logger,
		now:            time.Now,
	}
}

// GetLatest handles GET /weather/latest.
func (h *Handler) GetLatest(w http.ResponseWriter, r *http.Request) {
	latest, err := h.weatherService.GetLatest(r.Context())
	if err != nil {
		writeServiceError(w, r, service.ResourceLatest, err)
		return
	}
	traffic.RecordSuccess()
	writeJSON(w, http.StatusOK, latest)
}

// GetHistory handles GET /weather/history.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.weatherService.GetHistory(r.Context())
	if err != nil {
		writeServiceError(w, r, service.ResourceHistory, err)
		return
	}
	if history.Points == nil {
		history.Points = []models.HistoryPoint{}
	}
	traffic.RecordSuccess()
	writeJSON(w, http.StatusOK, history)
}

// summaryResponse is the card-ready view of the latest observation.
type summaryResponse struct {
	StationName string             `json:"station_name"`
	Timestamp   *string            `json:"timestamp,omitempty"`
	Mode        string             `json:"mode"`
	Units       units.System       `json:"units"`
	Display     display.Display    `json:"display"`
	Conditions  display.Conditions `json:"conditions"`
}

// GetSummary handles GET /weather/summary?units=metric|imperial. It shares the latest
// observation cache with GetLatest.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	system, err := validation.ValidateUnits(r.URL.Query().Get("units"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	latest, err := h.weatherService.GetLatest(r.Context())
	if err != nil {
		writeServiceError(w, r, service.ResourceLatest, err)
		return
	}
	traffic.RecordSuccess()
	observability.SummaryRequestsTotal.WithLabelValues(string(system)).Inc()

	now := h.now()
	writeJSON(w, http.StatusOK, summaryResponse{
		StationName: latest.StationName,
		Timestamp:   latest.Timestamp,
		Mode:        h.weatherService.Mode(),
		Units:       system,
		Display:     display.Format(latest, system, now),
		Conditions:  display.Derive(latest, now),
	})
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

type cacheHealth struct {
	Populated  bool    `json:"populated"`
	Fresh      bool    `json:"fresh"`
	AgeSeconds float64 `json:"age_seconds,omitempty"`
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := map[string]string{"weatherApi": "healthy"}
	if result.status == statusDegraded {
		checks["weatherApi"] = "unhealthy"
	}

	caches := make(map[string]cacheHealth)
	for name, st := range h.weatherService.CacheStatus() {
		ch := cacheHealth{Populated: st.Populated, Fresh: st.Fresh}
		if st.Populated {
			ch.AgeSeconds = st.Age.Seconds()
		}
		caches[name] = ch
	}

	now := h.now()
	resp := map[string]interface{}{
		"status":         result.status,
		"service":        observability.ServiceName,
		"version":        Version,
		"mode":           h.weatherService.Mode(),
		"checks":         checks,
		"cache":          caches,
		"uptime_seconds": int64(lifecycle.Uptime(now).Seconds()),
		"timestamp":      now.UTC().Format(time.RFC3339),
	}
	if result.reason != "" {
		resp["reason"] = result.reason
	}
	w.Header().Set("Cache-Control", cacheControlError)
	writeJSON(w, result.statusCode, resp)
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > not configured > error rate > healthy.
func (h *Handler) computeHealthStatus() healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{statusShuttingDown, http.StatusServiceUnavailable, "signal"}
	}
	if h.weatherService.Mode() == service.ModeUnconfigured {
		return healthResult{statusDegraded, http.StatusServiceUnavailable, "not_configured"}
	}
	if h.healthConfig != nil && h.healthConfig.DegradedWindow > 0 && h.healthConfig.DegradedErrorPct > 0 {
		if traffic.IsDegraded(h.healthConfig.DegradedWindow, float64(h.healthConfig.DegradedErrorPct), h.healthConfig.DegradedMinRequests) {
			return healthResult{statusDegraded, http.StatusServiceUnavailable, "error_rate_breach"}
		}
	}
	return healthResult{statusHealthy, http.StatusOK, ""}
}

// writeJSON writes a JSON response with the specified HTTP status code. Success
// responses are cacheable by the browser and any CDN in front of the service.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	if w.Header().Get("Cache-Control") == "" {
		if status >= 200 && status < 300 {
			w.Header().Set("Cache-Control", cacheControlOK)
		} else {
			w.Header().Set("Cache-Control", cacheControlError)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes {"error": message}.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError maps a gateway error to 500 (not configured) or 502 (upstream).
// The vendor error itself can carry the request URL, and with it the API key, so only
// its category reaches the client.
func writeServiceError(w http.ResponseWriter, r *http.Request, resource string, err error) {
	logger, _ := r.Context().Value("logger").(*zap.Logger)

	if errors.Is(err, service.ErrNotConfigured) {
		writeError(w, http.StatusInternalServerError, service.ErrNotConfigured.Error())
		return
	}

	// A client that went away is not an upstream failure.
	if !errors.Is(r.Context().Err(), context.Canceled) {
		traffic.RecordError()
	}
	category := client.CategorizeError(err)
	if logger != nil {
		logger.Warn("weather request failed",
			zap.String("resource", resource),
			zap.String("category", string(category)),
			zap.Error(err))
	}
	writeError(w, http.StatusBadGateway, service.ErrUpstream.Error()+": "+string(category))
}
