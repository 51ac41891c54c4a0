package service

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/kjstillabower/pws-dashboard/internal/models"
	"github.com/kjstillabower/pws-dashboard/internal/normalize"
	"github.com/kjstillabower/pws-dashboard/internal/observability"
)

const syntheticHours = 24

// SyntheticSource generates plausible sample payloads for local development without
// credentials. The random spread is not a fixture; inject rng for repeatable output.
type SyntheticSource struct {
	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
}

// NewSyntheticSource creates a SyntheticSource. A nil rng is seeded randomly and a nil
// now defaults to time.Now.
func NewSyntheticSource(rng *rand.Rand, now func() time.Time) *SyntheticSource {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if now == nil {
		now = time.Now
	}
	return &SyntheticSource{rng: rng, now: now}
}

func (s *SyntheticSource) Mode() string { return ModeSynthetic }

func (s *SyntheticSource) Latest(context.Context) (models.LatestWeather, error) {
	observability.SyntheticServesTotal.WithLabelValues(ResourceLatest).Inc()
	ts := normalize.FormatTimestamp(s.now())
	return models.LatestWeather{
		StationName: "Sample Station",
		Location: &models.Location{
			Name: models.String("Local Dev"),
			Lat:  models.Float(0),
			Lon:  models.Float(0),
		},
		Timestamp:    &ts,
		TemperatureC: models.Float(22.3),
		HumidityPct:  models.Float(55),
		PressureHPa:  models.Float(1013.5),
		WindSpeedMS:  models.Float(1.8),
		WindGustMS:   models.Float(3.2),
		WindDirDeg:   models.Float(180),
		RainRateMMH:  models.Float(0),
		RainDailyMM:  models.Float(0.2),
		UVIndex:      models.Float(5),
		SolarWM2:     models.Float(600),
	}, nil
}

// History returns one point per hour for the last 24 hours, oldest first, with a daily
// temperature and humidity cycle, slow pressure drift and accumulating rain.
func (s *SyntheticSource) History(context.Context) (models.HistoryPayload, error) {
	observability.SyntheticServesTotal.WithLabelValues(ResourceHistory).Inc()
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	points := make([]models.HistoryPoint, 0, syntheticHours)
	for hAgo := syntheticHours; hAgo >= 1; hAgo-- {
		h := float64(hAgo)
		phase := h / syntheticHours * 2 * math.Pi
		uv := math.Max(0, round(math.Sin((syntheticHours-h-6)/syntheticHours*math.Pi)*7, 1))
		points = append(points, models.HistoryPoint{
			T:            normalize.FormatTimestamp(now.Add(-time.Duration(hAgo) * time.Hour)),
			TemperatureC: models.Float(round(20+math.Sin(phase)*4, 1)),
			HumidityPct:  models.Float(math.Round(50 + math.Cos(phase)*10)),
			PressureHPa:  models.Float(round(1014+math.Sin(h/8)*1.5, 1)),
			WindSpeedMS:  models.Float(round(1+s.rng.Float64()*2, 1)),
			WindGustMS:   models.Float(round(2+s.rng.Float64()*3, 1)),
			RainRateMMH:  models.Float(0),
			RainDailyMM:  models.Float(round((syntheticHours-h)*0.02, 2)),
			UVIndex:      models.Float(uv),
		})
	}
	return models.HistoryPayload{Points: points}, nil
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
