package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/kjstillabower/pws-dashboard/internal/client"
	"github.com/kjstillabower/pws-dashboard/internal/models"
)

var (
	// ErrNotConfigured means the vendor credentials are missing in production mode.
	ErrNotConfigured = errors.New("missing WU_API_KEY or WU_STATION_ID environment variables")
	// ErrUpstream wraps every failure to obtain data from the vendor.
	ErrUpstream = errors.New("upstream fetch failed")
)

// Source modes reported by Source.Mode and the health endpoint.
const (
	ModeLive         = "live"
	ModeSynthetic    = "synthetic"
	ModeUnconfigured = "unconfigured"
)

// Source produces uncached weather payloads. The gateway owns caching and de-duplication.
type Source interface {
	Mode() string
	Latest(ctx context.Context) (models.LatestWeather, error)
	History(ctx context.Context) (models.HistoryPayload, error)
}

// SelectSource picks the data source once at startup. cl is nil when credentials are
// missing; production then refuses to serve instead of inventing data.
func SelectSource(cl client.PWSClient, production bool, logger *zap.Logger) Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch {
	case cl != nil:
		logger.Info("using live PWS source", zap.String("station_id", cl.StationID()))
		return NewLiveSource(cl, nil)
	case production:
		logger.Error("PWS credentials missing in production; weather endpoints will return 500")
		return UnconfiguredSource{}
	default:
		logger.Warn("PWS credentials missing; serving synthetic sample data")
		return NewSyntheticSource(nil, nil)
	}
}

// UnconfiguredSource fails every call with ErrNotConfigured.
type UnconfiguredSource struct{}

func (UnconfiguredSource) Mode() string { return ModeUnconfigured }

func (UnconfiguredSource) Latest(context.Context) (models.LatestWeather, error) {
	return models.LatestWeather{}, ErrNotConfigured
}

func (UnconfiguredSource) History(context.Context) (models.HistoryPayload, error) {
	return models.HistoryPayload{}, ErrNotConfigured
}
