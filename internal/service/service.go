package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kjstillabower/pws-dashboard/internal/cache"
	"github.com/kjstillabower/pws-dashboard/internal/client"
	"github.com/kjstillabower/pws-dashboard/internal/models"
	"github.com/kjstillabower/pws-dashboard/internal/observability"
)

// Resource names used for cache slots, metrics labels and health output.
const (
	ResourceLatest  = "latest"
	ResourceHistory = "history"
)

// DefaultTTL is how long a cached payload is served without asking the source again.
const DefaultTTL = 30 * time.Second

// WeatherService is the fetch-cache gateway. Each resource has one cache slot and at most
// one fetch in flight; concurrent misses share that fetch.
type WeatherService struct {
	source  Source
	ttl     time.Duration
	now     func() time.Time
	latest  *resource[models.LatestWeather]
	history *resource[models.HistoryPayload]
}

// Option configures a WeatherService.
type Option func(*WeatherService)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *WeatherService) { s.now = now }
}

// NewWeatherService creates a gateway over source. ttl <= 0 selects DefaultTTL.
func NewWeatherService(source Source, ttl time.Duration, opts ...Option) *WeatherService {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &WeatherService{source: source, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.latest = &resource[models.LatestWeather]{name: ResourceLatest, fetch: source.Latest, svc: s}
	s.history = &resource[models.HistoryPayload]{name: ResourceHistory, fetch: source.History, svc: s}
	return s
}

// loggerFromContext extracts a zap.Logger from request context if present.
// Returns nil if logger is not found or context is invalid.
func loggerFromContext(ctx context.Context) *zap.Logger {
	if v := ctx.Value("logger"); v != nil {
		if l, ok := v.(*zap.Logger); ok && l != nil {
			return l
		}
	}
	return nil
}

// Mode reports which source backs the gateway.
func (s *WeatherService) Mode() string {
	return s.source.Mode()
}

// GetLatest returns the current observation, cached for the TTL.
func (s *WeatherService) GetLatest(ctx context.Context) (models.LatestWeather, error) {
	return s.latest.get(ctx)
}

// GetHistory returns the trailing 24h history, cached for the TTL.
func (s *WeatherService) GetHistory(ctx context.Context) (models.HistoryPayload, error) {
	return s.history.get(ctx)
}

// CacheStatus describes one resource's slot for the health endpoint.
type CacheStatus struct {
	Populated bool
	Fresh     bool
	Age       time.Duration
}

// CacheStatus reports every resource's slot at the current time.
func (s *WeatherService) CacheStatus() map[string]CacheStatus {
	now := s.now()
	return map[string]CacheStatus{
		ResourceLatest:  s.latest.status(now),
		ResourceHistory: s.history.status(now),
	}
}

// RegisterMetrics exposes per-resource cache age gauges.
func (s *WeatherService) RegisterMetrics() {
	for name := range s.CacheStatus() {
		observability.RegisterCacheAgeGauge(name, func() (float64, bool) {
			st := s.CacheStatus()[name]
			return st.Age.Seconds(), st.Populated
		})
	}
}

type resource[T any] struct {
	name  string
	slot  cache.Slot[T]
	group singleflight.Group
	fetch func(ctx context.Context) (T, error)
	svc   *WeatherService
}

func (r *resource[T]) status(now time.Time) CacheStatus {
	e := r.slot.Load()
	if e == nil {
		return CacheStatus{}
	}
	return CacheStatus{Populated: true, Fresh: e.Fresh(now, r.svc.ttl), Age: e.Age(now)}
}

// get serves a fresh entry or joins the resource's single flight. The flight runs on a
// context detached from the caller, so a caller that gives up does not cancel the fetch
// and the result still lands in the slot for the next reader.
func (r *resource[T]) get(ctx context.Context) (T, error) {
	var zero T
	logger := loggerFromContext(ctx)

	if e, ok := r.slot.Fresh(r.svc.now(), r.svc.ttl); ok {
		observability.CacheHitsTotal.WithLabelValues(r.name).Inc()
		if logger != nil {
			logger.Debug("cache hit", zap.String("resource", r.name), zap.Duration("age", e.Age(r.svc.now())))
		}
		return e.Value, nil
	}
	observability.CacheMissesTotal.WithLabelValues(r.name).Inc()

	// Only the caller whose function runs sets started; the send on ch orders the write.
	started := false
	ch := r.group.DoChan(r.name, func() (interface{}, error) {
		started = true
		// A flight that finished just before this one may have refilled the slot.
		if e, ok := r.slot.Fresh(r.svc.now(), r.svc.ttl); ok {
			return e.Value, nil
		}
		start := time.Now()
		v, err := r.fetch(context.WithoutCancel(ctx))
		if err != nil {
			if !errors.Is(err, ErrNotConfigured) {
				observability.UpstreamErrorsTotal.WithLabelValues(r.name, string(client.CategorizeError(err))).Inc()
			}
			if logger != nil {
				logger.Warn("fetch failed", zap.String("resource", r.name), zap.Error(err))
			}
			return nil, err
		}
		r.slot.Store(v, r.svc.now())
		if logger != nil {
			logger.Debug("cache refreshed", zap.String("resource", r.name), zap.Duration("duration", time.Since(start)))
		}
		return v, nil
	})

	select {
	case res := <-ch:
		if !started {
			observability.CoalescedRequestsTotal.WithLabelValues(r.name).Inc()
		}
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
