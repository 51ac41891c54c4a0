package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/pws-dashboard/internal/client"
	"github.com/kjstillabower/pws-dashboard/internal/lifecycle"
	"github.com/kjstillabower/pws-dashboard/internal/models"
	"github.com/kjstillabower/pws-dashboard/internal/service"
	"github.com/kjstillabower/pws-dashboard/internal/traffic"
)

// stubSource returns canned values and counts calls.
type stubSource struct {
	mode       string
	latest     models.LatestWeather
	history    models.HistoryPayload
	latestErr  error
	historyErr error
	calls      atomic.Int32
}

func (s *stubSource) Mode() string {
	if s.mode == "" {
		return service.ModeLive
	}
	return s.mode
}

func (s *stubSource) Latest(context.Context) (models.LatestWeather, error) {
	s.calls.Add(1)
	return s.latest, s.latestErr
}

func (s *stubSource) History(context.Context) (models.HistoryPayload, error) {
	s.calls.Add(1)
	return s.history, s.historyErr
}

func f64(v float64) *float64 { return &v }
func str(s string) *string    { return &s }

func sampleLatest() models.LatestWeather {
	return models.LatestWeather{
		StationName:  "KTEST1",
		Timestamp:    str("2024-05-01T12:00:00.000Z"),
		TemperatureC: f64(22.3),
		HumidityPct:  f64(55),
		PressureHPa:  f64(1013.5),
		WindSpeedMS:  f64(1.8),
		WindGustMS:   f64(3.2),
		WindDirDeg:   f64(180),
		RainRateMMH:  f64(0),
		UVIndex:      f64(5),
		SolarWM2:     f64(600),
	}
}

// resetGlobals clears the package-level health inputs before and after a test.
func resetGlobals(t *testing.T) {
	t.Helper()
	traffic.Reset()
	lifecycle.SetShuttingDown(false)
	t.Cleanup(func() {
		traffic.Reset()
		lifecycle.SetShuttingDown(false)
	})
}

func newTestHandler(src service.Source, healthConfig *HealthConfig, logger *zap.Logger) *Handler {
	svc := service.NewWeatherService(src, service.DefaultTTL)
	return NewHandler(svc, healthConfig, logger)
}

func doRequest(t *testing.T, h *Handler, path string, logger *zap.Logger) *httptest.ResponseRecorder {
	t.Helper()
	if logger == nil {
		logger = zap.NewNop()
	}
	router := NewRouter(h, logger, 5*time.Second)
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeMap(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestHandler_GetLatest_Success(t *testing.T) {
	resetGlobals(t)
	src := &stubSource{latest: sampleLatest()}
	h := newTestHandler(src, nil, nil)

	w := doRequest(t, h, "/weather/latest", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := w.Header().Get("Cache-Control"); got != cacheControlOK {
		t.Errorf("Cache-Control = %q, want %q", got, cacheControlOK)
	}
	if got := w.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q", got)
	}
	var got models.LatestWeather
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.StationName != "KTEST1" || got.TemperatureC == nil || *got.TemperatureC != 22.3 {
		t.Errorf("body = %+v", got)
	}
	if got.AQI != nil {
		t.Errorf("AQI = %v, want absent", *got.AQI)
	}
}

func TestHandler_GetLatest_SecondCallServedFromCache(t *testing.T) {
	resetGlobals(t)
	src := &stubSource{latest: sampleLatest()}
	h := newTestHandler(src, nil, nil)

	first := doRequest(t, h, "/weather/latest", nil)
	second := doRequest(t, h, "/weather/latest", nil)

	if first.Body.String() != second.Body.String() {
		t.Errorf("bodies differ:\n%s\n%s", first.Body.String(), second.Body.String())
	}
	if got := src.calls.Load(); got != 1 {
		t.Errorf("source calls = %d, want 1", got)
	}
}

func TestHandler_GetLatest_NotConfigured(t *testing.T) {
	resetGlobals(t)
	h := newTestHandler(service.UnconfiguredSource{}, nil, nil)

	w := doRequest(t, h, "/weather/latest", nil)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if got := w.Header().Get("Cache-Control"); got != cacheControlError {
		t.Errorf("Cache-Control = %q, want no-store", got)
	}
	body := decodeMap(t, w)
	if body["error"] != service.ErrNotConfigured.Error() {
		t.Errorf("error = %v, want %q", body["error"], service.ErrNotConfigured.Error())
	}
	if _, total := traffic.ErrorRate(time.Minute); total != 0 {
		t.Errorf("not-configured responses should not feed the error rate; total = %d", total)
	}
}

func TestHandler_GetLatest_UpstreamError(t *testing.T) {
	resetGlobals(t)
	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)
	src := &stubSource{
		latestErr: fmt.Errorf("%w: current observation: %w", service.ErrUpstream,
			fmt.Errorf("%w: HTTP 429 for https://api.weather.com/v2?apiKey=secret", client.ErrRateLimited)),
	}
	h := newTestHandler(src, nil, logger)

	w := doRequest(t, h, "/weather/latest", logger)

	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}
	if got := w.Header().Get("Cache-Control"); got != cacheControlError {
		t.Errorf("Cache-Control = %q, want no-store", got)
	}
	if strings.Contains(w.Body.String(), "secret") {
		t.Errorf("error body leaks upstream detail: %s", w.Body.String())
	}
	body := decodeMap(t, w)
	if body["error"] != "upstream fetch failed: rate_limited" {
		t.Errorf("error = %v", body["error"])
	}
	if errs, _ := traffic.ErrorRate(time.Minute); errs != 1 {
		t.Errorf("recorded errors = %d, want 1", errs)
	}
	entries := logs.FilterMessage("weather request failed").All()
	if len(entries) != 1 {
		t.Fatalf("want 1 failure log, got %d", len(entries))
	}
	if entries[0].ContextMap()["category"] != "rate_limited" {
		t.Errorf("category field = %v", entries[0].ContextMap()["category"])
	}
}

func TestHandler_GetLatest_ErrorNotCached(t *testing.T) {
	resetGlobals(t)
	src := &stubSource{latestErr: fmt.Errorf("%w: boom", service.ErrUpstream)}
	h := newTestHandler(src, nil, nil)

	if w := doRequest(t, h, "/weather/latest", nil); w.Code != http.StatusBadGateway {
		t.Fatalf("first status = %d, want 502", w.Code)
	}
	src.latestErr = nil
	src.latest = sampleLatest()
	if w := doRequest(t, h, "/weather/latest", nil); w.Code != http.StatusOK {
		t.Fatalf("second status = %d, want 200", w.Code)
	}
	if got := src.calls.Load(); got != 2 {
		t.Errorf("source calls = %d, want 2", got)
	}
}

func TestHandler_GetHistory_Success(t *testing.T) {
	resetGlobals(t)
	src := &stubSource{history: models.HistoryPayload{Points: []models.HistoryPoint{
		{T: "2024-05-01T10:00:00.000Z", TemperatureC: f64(18)},
		{T: "2024-05-01T11:00:00.000Z", PressureHPa: f64(1012.4)},
	}}}
	h := newTestHandler(src, nil, nil)

	w := doRequest(t, h, "/weather/history", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var got models.HistoryPayload
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Points) != 2 || got.Points[0].T != "2024-05-01T10:00:00.000Z" {
		t.Errorf("points = %+v", got.Points)
	}
	if got.Points[1].TemperatureC != nil {
		t.Errorf("absent temperature decoded as %v", *got.Points[1].TemperatureC)
	}
}

func TestHandler_GetHistory_EmptyIsArray(t *testing.T) {
	resetGlobals(t)
	h := newTestHandler(&stubSource{}, nil, nil)

	w := doRequest(t, h, "/weather/history", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := strings.TrimSpace(w.Body.String()); got != `{"points":[]}` {
		t.Errorf("body = %s, want {\"points\":[]}", got)
	}
}

func TestHandler_GetHistory_BothWindowsFailed(t *testing.T) {
	resetGlobals(t)
	src := &stubSource{historyErr: fmt.Errorf("%w: history yesterday: %w; today: %w",
		service.ErrUpstream, client.ErrUpstreamFailure, client.ErrUpstreamFailure)}
	h := newTestHandler(src, nil, nil)

	w := doRequest(t, h, "/weather/history", nil)

	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}
	body := decodeMap(t, w)
	if body["error"] != "upstream fetch failed: upstream_status" {
		t.Errorf("error = %v", body["error"])
	}
	if st := h.weatherService.CacheStatus()[service.ResourceHistory]; st.Populated {
		t.Error("history cache populated after failure")
	}
}

func TestHandler_GetSummary(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		wantUnits string
		wantTemp  string
		wantPress string
		wantWind  string
	}{
		{"default metric", "", "metric", "22.3°C", "1013.5 hPa", "6.5 km/h"},
		{"explicit metric", "?units=metric", "metric", "22.3°C", "1013.5 hPa", "6.5 km/h"},
		{"imperial mixed case", "?units=Imperial", "imperial", "72.1°F", "29.93 inHg", "4.0 mph"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetGlobals(t)
			h := newTestHandler(&stubSource{latest: sampleLatest()}, nil, nil)
			h.now = func() time.Time { return time.Date(2024, 5, 1, 12, 1, 0, 0, time.UTC) }

			w := doRequest(t, h, "/weather/summary"+tt.query, nil)

			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200; body %s", w.Code, w.Body.String())
			}
			var got summaryResponse
			if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if string(got.Units) != tt.wantUnits {
				t.Errorf("units = %q, want %q", got.Units, tt.wantUnits)
			}
			if got.Display.Temperature != tt.wantTemp {
				t.Errorf("temperature = %q, want %q", got.Display.Temperature, tt.wantTemp)
			}
			if got.Display.Pressure != tt.wantPress {
				t.Errorf("pressure = %q, want %q", got.Display.Pressure, tt.wantPress)
			}
			if got.Display.WindSpeed != tt.wantWind {
				t.Errorf("wind = %q, want %q", got.Display.WindSpeed, tt.wantWind)
			}
			if got.Display.WindDir != "S" {
				t.Errorf("wind dir = %q, want S", got.Display.WindDir)
			}
			if got.StationName != "KTEST1" || got.Mode != service.ModeLive {
				t.Errorf("station/mode = %q/%q", got.StationName, got.Mode)
			}
			if !got.Conditions.Online || got.Conditions.IsNight || got.Conditions.IsRaining {
				t.Errorf("conditions = %+v", got.Conditions)
			}
			if got.Display.Updated != "1m ago" {
				t.Errorf("updated = %q, want 1m ago", got.Display.Updated)
			}
		})
	}
}

func TestHandler_GetSummary_InvalidUnits(t *testing.T) {
	resetGlobals(t)
	src := &stubSource{latest: sampleLatest()}
	h := newTestHandler(src, nil, nil)

	w := doRequest(t, h, "/weather/summary?units=kelvin", nil)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	body := decodeMap(t, w)
	if msg, _ := body["error"].(string); !strings.Contains(msg, "units must be metric or imperial") {
		t.Errorf("error = %v", body["error"])
	}
	if got := src.calls.Load(); got != 0 {
		t.Errorf("source calls = %d, want 0 for a rejected query", got)
	}
}

func TestHandler_GetSummary_SharesLatestCache(t *testing.T) {
	resetGlobals(t)
	src := &stubSource{latest: sampleLatest()}
	h := newTestHandler(src, nil, nil)

	doRequest(t, h, "/weather/latest", nil)
	doRequest(t, h, "/weather/summary", nil)
	doRequest(t, h, "/weather/summary?units=imperial", nil)

	if got := src.calls.Load(); got != 1 {
		t.Errorf("source calls = %d, want 1", got)
	}
}

func TestHandler_GetHealth_Healthy(t *testing.T) {
	resetGlobals(t)
	lifecycle.MarkStarted(time.Now().Add(-time.Minute))
	h := newTestHandler(&stubSource{latest: sampleLatest()}, nil, nil)
	doRequest(t, h, "/weather/latest", nil)

	w := doRequest(t, h, "/health", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := w.Header().Get("Cache-Control"); got != cacheControlError {
		t.Errorf("Cache-Control = %q, want no-store", got)
	}
	health := decodeMap(t, w)
	if health["status"] != statusHealthy {
		t.Errorf("status = %v, want healthy", health["status"])
	}
	if health["service"] != "pws-dashboard" {
		t.Errorf("service = %v", health["service"])
	}
	if health["mode"] != service.ModeLive {
		t.Errorf("mode = %v", health["mode"])
	}
	if up, _ := health["uptime_seconds"].(float64); up < 59 {
		t.Errorf("uptime_seconds = %v, want >= 59", health["uptime_seconds"])
	}
	caches, ok := health["cache"].(map[string]interface{})
	if !ok {
		t.Fatalf("cache section missing: %v", health)
	}
	latest, _ := caches[service.ResourceLatest].(map[string]interface{})
	if latest["populated"] != true || latest["fresh"] != true {
		t.Errorf("latest cache = %v, want populated and fresh", latest)
	}
	history, _ := caches[service.ResourceHistory].(map[string]interface{})
	if history["populated"] != false {
		t.Errorf("history cache = %v, want empty", history)
	}
}

func TestHandler_GetHealth_ShuttingDown(t *testing.T) {
	resetGlobals(t)
	lifecycle.SetShuttingDown(true)
	h := newTestHandler(&stubSource{}, nil, nil)

	w := doRequest(t, h, "/health", nil)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	health := decodeMap(t, w)
	if health["status"] != statusShuttingDown {
		t.Errorf("status = %v, want shutting-down", health["status"])
	}
}

func TestHandler_GetHealth_NotConfigured(t *testing.T) {
	resetGlobals(t)
	h := newTestHandler(service.UnconfiguredSource{}, nil, nil)

	w := doRequest(t, h, "/health", nil)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	health := decodeMap(t, w)
	if health["status"] != statusDegraded || health["reason"] != "not_configured" {
		t.Errorf("health = %v", health)
	}
	if health["mode"] != service.ModeUnconfigured {
		t.Errorf("mode = %v", health["mode"])
	}
}

func TestHandler_GetHealth_ErrorRate(t *testing.T) {
	cfg := &HealthConfig{DegradedWindow: time.Minute, DegradedErrorPct: 50, DegradedMinRequests: 4}
	tests := []struct {
		name      string
		successes int
		errors    int
		want      string
	}{
		{"no traffic", 0, 0, statusHealthy},
		{"below min samples", 0, 3, statusHealthy},
		{"below threshold", 3, 1, statusHealthy},
		{"at threshold", 2, 2, statusDegraded},
		{"above threshold", 1, 4, statusDegraded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetGlobals(t)
			for i := 0; i < tt.successes; i++ {
				traffic.RecordSuccess()
			}
			for i := 0; i < tt.errors; i++ {
				traffic.RecordError()
			}
			h := newTestHandler(&stubSource{}, cfg, nil)

			w := doRequest(t, h, "/health", nil)

			health := decodeMap(t, w)
			if health["status"] != tt.want {
				t.Errorf("status = %v, want %s", health["status"], tt.want)
			}
			wantCode := http.StatusOK
			if tt.want == statusDegraded {
				wantCode = http.StatusServiceUnavailable
			}
			if w.Code != wantCode {
				t.Errorf("code = %d, want %d", w.Code, wantCode)
			}
		})
	}
}

func TestHandler_GetHealth_LogsTransition(t *testing.T) {
	resetGlobals(t)
	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)
	cfg := &HealthConfig{DegradedWindow: time.Minute, DegradedErrorPct: 50, DegradedMinRequests: 1}
	h := newTestHandler(&stubSource{}, cfg, logger)

	traffic.RecordSuccess()
	traffic.RecordSuccess()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	h.GetHealth(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("first GetHealth status = %d, want 200", w.Code)
	}
	if logs.Len() != 0 {
		t.Fatalf("first call should not log transition; got %d logs", logs.Len())
	}

	traffic.RecordError()
	traffic.RecordError()
	w2 := httptest.NewRecorder()
	h.GetHealth(w2, req)
	if w2.Code != http.StatusServiceUnavailable {
		t.Fatalf("second GetHealth status = %d, want 503", w2.Code)
	}

	entries := logs.FilterMessage("health status transition").All()
	if len(entries) != 1 {
		t.Fatalf("want 1 transition log, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["previous_status"] != statusHealthy || fields["current_status"] != statusDegraded {
		t.Errorf("transition fields = %v", fields)
	}
	if fields["reason"] != "error_rate_breach" {
		t.Errorf("reason = %v, want error_rate_breach", fields["reason"])
	}

	w3 := httptest.NewRecorder()
	h.GetHealth(w3, req)
	if logs.Len() != 1 {
		t.Errorf("unchanged status should not log; total logs = %d, want 1", logs.Len())
	}
}

func TestWriteServiceError_ClientGoneNotCounted(t *testing.T) {
	resetGlobals(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/weather/latest", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	writeServiceError(w, req, service.ResourceLatest, context.Canceled)

	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", w.Code)
	}
	if _, total := traffic.ErrorRate(time.Minute); total != 0 {
		t.Errorf("recorded outcomes = %d, want 0", total)
	}
}

func TestWriteJSON_KeepsExplicitCacheControl(t *testing.T) {
	w := httptest.NewRecorder()
	w.Header().Set("Cache-Control", "private")
	writeJSON(w, http.StatusOK, map[string]string{"ok": "yes"})
	if got := w.Header().Get("Cache-Control"); got != "private" {
		t.Errorf("Cache-Control = %q, want private", got)
	}
}

func TestNewHandler_NilLogger(t *testing.T) {
	h := NewHandler(service.NewWeatherService(&stubSource{}, time.Second), nil, nil)
	if h.logger == nil {
		t.Fatal("logger should default to a no-op logger")
	}
}
