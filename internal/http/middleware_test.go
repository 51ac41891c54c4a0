package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/pws-dashboard/internal/models"
	"github.com/kjstillabower/pws-dashboard/internal/service"
)

// blockingSource holds Latest open until release is closed or ctx ends.
type blockingSource struct {
	stubSource
	release chan struct{}
}

func (b *blockingSource) Latest(ctx context.Context) (models.LatestWeather, error) {
	select {
	case <-b.release:
		return b.stubSource.Latest(ctx)
	case <-ctx.Done():
		return models.LatestWeather{}, ctx.Err()
	}
}

func TestMiddleware_CorrelationIDGenerated(t *testing.T) {
	resetGlobals(t)
	h := newTestHandler(&stubSource{latest: sampleLatest()}, nil, nil)

	w := doRequest(t, h, "/weather/latest", nil)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if w.Header().Get("X-Correlation-ID") == "" {
		t.Error("X-Correlation-ID header missing")
	}
}

func TestMiddleware_CorrelationIDPropagated(t *testing.T) {
	var gotCorrID string
	var gotLogger bool

	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(zap.NewNop()))
	router.HandleFunc("/probe", func(w http.ResponseWriter, r *http.Request) {
		gotCorrID, _ = r.Context().Value("correlation_id").(string)
		_, gotLogger = r.Context().Value("logger").(*zap.Logger)
		w.WriteHeader(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set("X-Correlation-ID", "client-provided-id")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Correlation-ID"); got != "client-provided-id" {
		t.Errorf("X-Correlation-ID = %q, want client-provided-id", got)
	}
	if gotCorrID != "client-provided-id" {
		t.Errorf("context correlation_id = %q", gotCorrID)
	}
	if !gotLogger {
		t.Error("request-scoped logger missing from context")
	}
}

func TestMiddleware_MetricsRecordsStatusClass(t *testing.T) {
	resetGlobals(t)
	h := newTestHandler(service.UnconfiguredSource{}, nil, nil)

	w := doRequest(t, h, "/weather/latest", nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}

	metrics := doRequest(t, h, "/metrics", nil)
	body := metrics.Body.String()
	want := `httpRequestsTotal{method="GET",route="/weather/latest",statusCode="5xx"}`
	if !strings.Contains(body, want) {
		t.Errorf("metrics output missing %s", want)
	}
}

func TestMiddleware_InFlightTrackedDuringRequest(t *testing.T) {
	var during int64
	router := mux.NewRouter()
	router.Use(MetricsMiddleware)
	router.HandleFunc("/probe", func(w http.ResponseWriter, r *http.Request) {
		during = InFlightCount()
		w.WriteHeader(http.StatusOK)
	})

	before := InFlightCount()
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/probe", nil))

	if during != before+1 {
		t.Errorf("in-flight during request = %d, want %d", during, before+1)
	}
	if after := InFlightCount(); after != before {
		t.Errorf("in-flight after request = %d, want %d", after, before)
	}
}

func TestGetRoute(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/health", "/health"},
		{"/metrics", "/metrics"},
		{"/weather/latest", "/weather/latest"},
		{"/weather/history", "/weather/history"},
		{"/weather/summary", "/weather/summary"},
		{"/weather/KTEST1", "other"},
		{"/favicon.ico", "other"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, tt.path, nil)
		if got := getRoute(req); got != tt.want {
			t.Errorf("getRoute(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestStatusCodeString(t *testing.T) {
	for code, want := range map[int]string{200: "2xx", 204: "2xx", 400: "4xx", 502: "5xx"} {
		if got := statusCodeString(code); got != want {
			t.Errorf("statusCodeString(%d) = %q, want %q", code, got, want)
		}
	}
}

// TestTimeoutMiddleware_AbandonsSlowFetch verifies a caller gives up at the deadline
// while the shared fetch keeps running and later fills the cache.
func TestTimeoutMiddleware_AbandonsSlowFetch(t *testing.T) {
	resetGlobals(t)
	src := &blockingSource{stubSource: stubSource{latest: sampleLatest()}, release: make(chan struct{})}
	svc := service.NewWeatherService(src, service.DefaultTTL)
	h := NewHandler(svc, nil, zap.NewNop())
	router := NewRouter(h, zap.NewNop(), 50*time.Millisecond)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/weather/latest", nil))

	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}
	if !strings.Contains(w.Body.String(), "timeout") {
		t.Errorf("body = %s, want timeout category", w.Body.String())
	}

	close(src.release)
	deadline := time.Now().Add(2 * time.Second)
	for !svc.CacheStatus()[service.ResourceLatest].Populated {
		if time.Now().After(deadline) {
			t.Fatal("detached fetch never populated the cache")
		}
		time.Sleep(5 * time.Millisecond)
	}

	w2 := httptest.NewRecorder()
	router.ServeHTTP(w2, httptest.NewRequest(http.MethodGet, "/weather/latest", nil))
	if w2.Code != http.StatusOK {
		t.Errorf("status after fetch completed = %d, want 200", w2.Code)
	}
	if got := src.calls.Load(); got != 1 {
		t.Errorf("source calls = %d, want 1", got)
	}
}

func TestTimeoutMiddleware_SetsDeadline(t *testing.T) {
	var hasDeadline bool
	handler := TimeoutMiddleware(time.Second)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hasDeadline = r.Context().Deadline()
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/weather/latest", nil))
	if !hasDeadline {
		t.Error("request context has no deadline")
	}
}

func TestRouter_MethodAndPathMatching(t *testing.T) {
	resetGlobals(t)
	h := newTestHandler(&stubSource{latest: sampleLatest()}, nil, nil)
	router := NewRouter(h, zap.NewNop(), time.Second)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/weather/latest", http.StatusOK},
		{http.MethodGet, "/weather/history", http.StatusOK},
		{http.MethodGet, "/weather/summary", http.StatusOK},
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodPost, "/weather/latest", http.StatusMethodNotAllowed},
		{http.MethodGet, "/weather/unknown", http.StatusNotFound},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))
		if w.Code != tt.want {
			t.Errorf("%s %s = %d, want %d", tt.method, tt.path, w.Code, tt.want)
		}
	}
}
