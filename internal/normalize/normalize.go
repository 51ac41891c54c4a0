// Package normalize maps vendor PWS observations onto LatestWeather and HistoryPoint.
//
// The vendor is inconsistent about field names (windspeedAvg vs windSpeedAvg) and omits
// sensors freely, so every internal field is resolved through an ordered chain of candidate
// paths. Wind is reported in km/h with units=m and stored internally in m/s.
package normalize

import (
	"math"
	"sort"
	"time"

	"github.com/kjstillabower/pws-dashboard/internal/models"
	"github.com/kjstillabower/pws-dashboard/internal/units"
)

// HistoryWindow is how far back the trend view reaches.
const HistoryWindow = 24 * time.Hour

const isoLayout = "2006-01-02T15:04:05.000Z"

// maxEpochMillis is 9999-12-31T23:59:59.999Z, the last instant isoLayout can render.
const maxEpochMillis = 253402300799999

var (
	stationNameChain = chain{p("neighborhood"), p("stationID")}

	currentTemperature = chain{p("metric", "temp")}
	currentHumidity    = chain{p("humidity")}
	currentPressure    = chain{p("metric", "pressure")}
	currentWindSpeed   = chain{p("metric", "windSpeed"), p("metric", "windspeed")}
	currentWindGust    = chain{p("metric", "windGust"), p("metric", "windgust")}
	currentWindDir     = chain{p("winddir")}
	currentRainRate    = chain{p("metric", "precipRate")}
	currentRainDaily   = chain{p("metric", "precipTotal")}
	currentUV          = chain{p("uv")}
	currentSolar       = chain{p("solarRadiation")}

	historyTemperature = chain{p("metric", "tempAvg")}
	historyHumidity    = chain{p("humidityAvg")}
	historyPressure    = chain{
		p("metric", "pressureMean"),
		p("metric", "pressureAvg"),
		p("metric", "pressureMax"),
		p("metric", "pressureMin"),
	}
	historyWindSpeed = chain{p("metric", "windspeedAvg"), p("metric", "windSpeedAvg")}
	historyWindGust  = chain{p("metric", "windgustHigh"), p("metric", "windGustHigh")}
	historyRainRate  = chain{p("metric", "precipRate")}
	historyRainDaily = chain{p("metric", "precipTotal")}
	historyUV        = chain{p("uvHigh")}
	historySolar     = chain{p("solarRadiationHigh")}
)

// FormatTimestamp renders t as ISO-8601 in UTC with millisecond precision.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(isoLayout)
}

// ParseTimestamp parses an RFC 3339 timestamp such as the ones FormatTimestamp produces.
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// epochToTime converts vendor epoch seconds. ok is false for non-positive epochs and for
// epochs past year 9999.
func epochToTime(sec float64) (time.Time, bool) {
	ms := math.Round(sec * 1000)
	if !(ms > 0) || ms > maxEpochMillis {
		return time.Time{}, false
	}
	return time.UnixMilli(int64(ms)).UTC(), true
}

// Current maps a current-conditions record. stationID is the id used for the request and
// names the station when the record carries no better name.
func Current(r Record, stationID string) models.LatestWeather {
	out := models.LatestWeather{
		StationName:  stationID,
		Timestamp:    currentTimestamp(r),
		TemperatureC: currentTemperature.resolve(r),
		HumidityPct:  currentHumidity.resolve(r),
		PressureHPa:  currentPressure.resolve(r),
		WindSpeedMS:  units.KPHToMS(currentWindSpeed.resolve(r)),
		WindGustMS:   units.KPHToMS(currentWindGust.resolve(r)),
		WindDirDeg:   currentWindDir.resolve(r),
		RainRateMMH:  currentRainRate.resolve(r),
		RainDailyMM:  currentRainDaily.resolve(r),
		UVIndex:      currentUV.resolve(r),
		SolarWM2:     currentSolar.resolve(r),
		AQI:          nil,
	}
	if name, ok := stationNameChain.resolveText(r); ok {
		out.StationName = name
	}

	loc := models.Location{
		Lat: chain{p("lat")}.resolve(r),
		Lon: chain{p("lon")}.resolve(r),
	}
	if name, ok := r.text(p("neighborhood")); ok {
		loc.Name = &name
	}
	if loc.Name != nil || loc.Lat != nil || loc.Lon != nil {
		out.Location = &loc
	}
	return out
}

func currentTimestamp(r Record) *string {
	if s, ok := r.text(p("obsTimeUtc")); ok {
		if t, err := ParseTimestamp(s); err == nil {
			ts := FormatTimestamp(t)
			return &ts
		}
	}
	if sec, ok := r.number(p("epoch")); ok {
		if t, ok := epochToTime(sec); ok {
			ts := FormatTimestamp(t)
			return &ts
		}
	}
	return nil
}

// HistoryRow maps one history row. ok is false when the row has no usable epoch and
// therefore cannot be placed on the timeline.
func HistoryRow(r Record) (point models.HistoryPoint, at time.Time, ok bool) {
	sec, found := r.number(p("epoch"))
	if !found {
		return models.HistoryPoint{}, time.Time{}, false
	}
	at, ok = epochToTime(sec)
	if !ok {
		return models.HistoryPoint{}, time.Time{}, false
	}
	point = models.HistoryPoint{
		T:            FormatTimestamp(at),
		TemperatureC: historyTemperature.resolve(r),
		HumidityPct:  historyHumidity.resolve(r),
		PressureHPa:  historyPressure.resolve(r),
		WindSpeedMS:  units.KPHToMS(historyWindSpeed.resolve(r)),
		WindGustMS:   units.KPHToMS(historyWindGust.resolve(r)),
		RainRateMMH:  historyRainRate.resolve(r),
		RainDailyMM:  historyRainDaily.resolve(r),
		UVIndex:      historyUV.resolve(r),
		SolarWM2:     historySolar.resolve(r),
	}
	return point, at, true
}

type timedPoint struct {
	at    time.Time
	point models.HistoryPoint
}

// MergeHistory joins the yesterday and today day-windows into the trailing 24h timeline
// ending at now. Yesterday's rows go first so equal timestamps keep day order. When no row
// falls inside the window the full merged set is returned instead of an empty chart.
// dropped counts rows discarded for lacking an epoch.
func MergeHistory(yesterday, today []Record, now time.Time) (points []models.HistoryPoint, dropped int) {
	merged := make([]timedPoint, 0, len(yesterday)+len(today))
	for _, rows := range [][]Record{yesterday, today} {
		for _, row := range rows {
			point, at, ok := HistoryRow(row)
			if !ok {
				dropped++
				continue
			}
			merged = append(merged, timedPoint{at: at, point: point})
		}
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].at.Before(merged[j].at)
	})

	cutoff := now.Add(-HistoryWindow)
	recent := make([]models.HistoryPoint, 0, len(merged))
	for _, tp := range merged {
		if !tp.at.Before(cutoff) {
			recent = append(recent, tp.point)
		}
	}
	if len(recent) > 0 {
		return recent, dropped
	}

	all := make([]models.HistoryPoint, 0, len(merged))
	for _, tp := range merged {
		all = append(all, tp.point)
	}
	return all, dropped
}
