package display

import (
	"time"

	"github.com/kjstillabower/pws-dashboard/internal/models"
	"github.com/kjstillabower/pws-dashboard/internal/normalize"
)

// Cloudiness levels estimated from solar radiation and UV.
const (
	CloudLow  = "low"
	CloudMed  = "med"
	CloudHigh = "high"
)

// OnlineWindow is how recent the last observation must be for the station to count as online.
const OnlineWindow = 5 * time.Minute

// Conditions are the sky and activity flags derived from one observation.
type Conditions struct {
	IsNight    bool   `json:"is_night"`
	IsRaining  bool   `json:"is_raining"`
	IsWindy    bool   `json:"is_windy"`
	Cloudiness string `json:"cloudiness"`
	Online     bool   `json:"online"`
}

// Derive estimates the conditions for latest at now. Night prefers the light sensors and
// falls back to the observation hour (UTC) when neither solar nor UV is reported.
func Derive(latest models.LatestWeather, now time.Time) Conditions {
	solar, uv := latest.SolarWM2, latest.UVIndex
	obsTime, hasTime := observedAt(latest)

	var night bool
	switch {
	case solar != nil && uv != nil:
		night = *solar < 50 && *uv < 1
	case solar != nil:
		night = *solar < 50
	case uv != nil:
		night = *uv < 1
	default:
		hourOf := now
		if hasTime {
			hourOf = obsTime
		}
		h := hourOf.UTC().Hour()
		night = h < 6 || h > 18
	}

	c := Conditions{
		IsNight:    night,
		IsRaining:  value(latest.RainRateMMH) > 0.05,
		IsWindy:    value(latest.WindGustMS) > 6 || value(latest.WindSpeedMS) > 4,
		Cloudiness: CloudMed,
		Online:     hasTime && now.Sub(obsTime) < OnlineWindow,
	}
	if !night {
		switch {
		case (solar != nil && *solar < 150) || (uv != nil && *uv < 2):
			c.Cloudiness = CloudHigh
		case (solar != nil && *solar < 350) || (uv != nil && *uv < 4):
			c.Cloudiness = CloudMed
		default:
			c.Cloudiness = CloudLow
		}
	}
	return c
}

func observedAt(latest models.LatestWeather) (time.Time, bool) {
	if latest.Timestamp == nil {
		return time.Time{}, false
	}
	t, err := normalize.ParseTimestamp(*latest.Timestamp)
	return t, err == nil
}

func value(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
