package main

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/pws-dashboard/internal/cache"
	"github.com/kjstillabower/pws-dashboard/internal/client"
	"github.com/kjstillabower/pws-dashboard/internal/config"
	"github.com/kjstillabower/pws-dashboard/internal/observability"
	"github.com/kjstillabower/pws-dashboard/internal/service"
)

const breakerName = "weather_api"

// buildClient returns the vendor client, or nil when credentials are missing so that
// SelectSource falls back to synthetic or unconfigured.
func buildClient(cfg *config.Config, logger *zap.Logger) (client.PWSClient, error) {
	if !cfg.HasCredentials() {
		return nil, nil
	}

	opts := client.Options{Timeout: cfg.WeatherAPITimeout}
	if cfg.RateLimitRPS > 0 {
		opts.Limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	if cfg.CircuitBreakerEnabled {
		opts.Breaker = newBreaker(cfg, logger)
		observability.CircuitBreakerState.Set(0)
		logger.Info("circuit breaker enabled",
			zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold),
			zap.Duration("timeout", cfg.CircuitBreakerTimeout))
	}

	cl, err := client.NewWeatherCompanyClient(cfg.WUAPIKey, cfg.WUStationID, cfg.WeatherAPIURL, opts)
	if err != nil {
		return nil, err
	}
	return cl, nil
}

// newBreaker trips after FailureThreshold consecutive failures and probes again after Timeout.
func newBreaker(cfg *config.Config, logger *zap.Logger) *gobreaker.CircuitBreaker {
	threshold := uint32(cfg.CircuitBreakerFailureThreshold)
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Timeout:     cfg.CircuitBreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			observability.CircuitBreakerState.Set(breakerStateValue(to))
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// warmTargets points the cache warmer at the gateway so warm runs fill the slots
// requests read from.
func warmTargets(svc *service.WeatherService) []cache.Target {
	return []cache.Target{
		{Name: service.ResourceLatest, Fetch: func(ctx context.Context) error {
			_, err := svc.GetLatest(ctx)
			return err
		}},
		{Name: service.ResourceHistory, Fetch: func(ctx context.Context) error {
			_, err := svc.GetHistory(ctx)
			return err
		}},
	}
}

// warmTimeout bounds one warm run: both resources plus the history fan-out.
func warmTimeout(cfg *config.Config) time.Duration {
	return 2*cfg.WeatherAPITimeout + time.Second
}
