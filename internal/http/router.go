package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/pws-dashboard/internal/observability"
)

// NewRouter wires the dashboard routes. /weather routes get a per-request timeout;
// /health and /metrics do not. Routes sit on the root router so a wrong method
// answers 405 rather than 404.
func NewRouter(handler *Handler, logger *zap.Logger, requestTimeout time.Duration) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.HandleFunc("/health", handler.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler())

	withTimeout := func(h http.HandlerFunc) http.Handler {
		if requestTimeout <= 0 {
			return h
		}
		return TimeoutMiddleware(requestTimeout)(h)
	}
	router.Handle("/weather/latest", withTimeout(handler.GetLatest)).Methods(http.MethodGet)
	router.Handle("/weather/history", withTimeout(handler.GetHistory)).Methods(http.MethodGet)
	router.Handle("/weather/summary", withTimeout(handler.GetSummary)).Methods(http.MethodGet)
	return router
}
