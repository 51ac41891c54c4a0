package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/pws-dashboard/internal/client"
	"github.com/kjstillabower/pws-dashboard/internal/models"
	"github.com/kjstillabower/pws-dashboard/internal/normalize"
	"github.com/kjstillabower/pws-dashboard/internal/observability"
)

// LiveSource reads the vendor API and normalizes the result.
type LiveSource struct {
	client client.PWSClient
	now    func() time.Time
}

// NewLiveSource creates a LiveSource. now defaults to time.Now.
func NewLiveSource(cl client.PWSClient, now func() time.Time) *LiveSource {
	if now == nil {
		now = time.Now
	}
	return &LiveSource{client: cl, now: now}
}

func (s *LiveSource) Mode() string { return ModeLive }

// Latest fetches and normalizes the current observation.
func (s *LiveSource) Latest(ctx context.Context) (models.LatestWeather, error) {
	rec, err := s.client.CurrentObservation(ctx)
	if err != nil {
		return models.LatestWeather{}, fmt.Errorf("%w: current observation: %w", ErrUpstream, err)
	}
	return normalize.Current(rec, s.client.StationID()), nil
}

// History covers the trailing 24 hours. The vendor only serves whole UTC days, so the
// yesterday and today windows are fetched together. One failed window is tolerated.
func (s *LiveSource) History(ctx context.Context) (models.HistoryPayload, error) {
	now := s.now().UTC()
	yesterday := now.Add(-normalize.HistoryWindow)

	var (
		wg           sync.WaitGroup
		yRows, tRows []normalize.Record
		yErr, tErr   error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		yRows, yErr = s.client.HistoryDay(ctx, yesterday)
	}()
	go func() {
		defer wg.Done()
		tRows, tErr = s.client.HistoryDay(ctx, now)
	}()
	wg.Wait()

	if yErr != nil && tErr != nil {
		return models.HistoryPayload{}, fmt.Errorf("%w: history yesterday: %w; today: %w", ErrUpstream, yErr, tErr)
	}

	logger := loggerFromContext(ctx)
	for _, w := range []struct {
		name string
		err  error
	}{{"yesterday", yErr}, {"today", tErr}} {
		if w.err == nil {
			continue
		}
		observability.HistoryWindowFailuresTotal.WithLabelValues(w.name).Inc()
		if logger != nil {
			logger.Warn("history window failed; serving partial history",
				zap.String("window", w.name),
				zap.String("category", string(client.CategorizeError(w.err))),
				zap.Error(w.err),
			)
		}
	}

	points, dropped := normalize.MergeHistory(yRows, tRows, now)
	if dropped > 0 {
		observability.NormalizeDroppedRowsTotal.Add(float64(dropped))
		if logger != nil {
			logger.Debug("dropped history rows without epoch", zap.Int("dropped", dropped))
		}
	}
	return models.HistoryPayload{Points: points}, nil
}
