// Package display renders a LatestWeather for the dashboard: unit-converted strings and
// the derived conditions that drive the animated background.
package display

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/kjstillabower/pws-dashboard/internal/models"
	"github.com/kjstillabower/pws-dashboard/internal/normalize"
	"github.com/kjstillabower/pws-dashboard/internal/units"
)

// Missing is rendered for any value the station did not report.
const Missing = "—"

// Display holds the formatted strings shown on the sensor cards.
type Display struct {
	Temperature string `json:"temperature"`
	Humidity    string `json:"humidity"`
	Pressure    string `json:"pressure"`
	WindSpeed   string `json:"wind_speed"`
	WindGust    string `json:"wind_gust"`
	WindDir     string `json:"wind_dir"`
	RainRate    string `json:"rain_rate"`
	RainDaily   string `json:"rain_daily"`
	UV          string `json:"uv"`
	UVCategory  string `json:"uv_category"`
	Solar       string `json:"solar"`
	AQI         string `json:"aqi"`
	AQICategory string `json:"aqi_category"`
	Updated     string `json:"updated"`
}

// Format converts and formats latest for the given unit system. now anchors the
// relative "updated" string.
func Format(latest models.LatestWeather, system units.System, now time.Time) Display {
	metric := system != units.Imperial

	d := Display{
		Humidity:    plain(latest.HumidityPct, "%"),
		WindDir:     Compass(latest.WindDirDeg),
		UV:          fixed(latest.UVIndex, 1, ""),
		UVCategory:  UVCategory(latest.UVIndex),
		Solar:       plain(latest.SolarWM2, " W/m²"),
		AQI:         plain(latest.AQI, ""),
		AQICategory: AQICategory(latest.AQI),
		Updated:     Relative(latest.Timestamp, now),
	}
	if metric {
		d.Temperature = fixed(latest.TemperatureC, 1, "°C")
		d.Pressure = fixed(latest.PressureHPa, 1, " hPa")
		d.WindSpeed = fixed(units.MSToKPH(latest.WindSpeedMS), 1, " km/h")
		d.WindGust = fixed(units.MSToKPH(latest.WindGustMS), 1, " km/h")
		d.RainRate = fixed(latest.RainRateMMH, 1, " mm/h")
		d.RainDaily = fixed(latest.RainDailyMM, 1, " mm")
	} else {
		d.Temperature = fixed(units.CelsiusToFahrenheit(latest.TemperatureC), 1, "°F")
		d.Pressure = fixed(units.HPaToInHg(latest.PressureHPa), 2, " inHg")
		d.WindSpeed = fixed(units.MSToMPH(latest.WindSpeedMS), 1, " mph")
		d.WindGust = fixed(units.MSToMPH(latest.WindGustMS), 1, " mph")
		d.RainRate = fixed(units.MMToInch(latest.RainRateMMH), 2, " in/h")
		d.RainDaily = fixed(units.MMToInch(latest.RainDailyMM), 2, " in")
	}
	return d
}

func fixed(v *float64, places int, suffix string) string {
	if v == nil {
		return Missing
	}
	return strconv.FormatFloat(*v, 'f', places, 64) + suffix
}

func plain(v *float64, suffix string) string {
	if v == nil {
		return Missing
	}
	return strconv.FormatFloat(*v, 'f', -1, 64) + suffix
}

var compassPoints = [16]string{
	"N", "NNE", "NE", "ENE", "E", "ESE", "SE", "SSE",
	"S", "SSW", "SW", "WSW", "W", "WNW", "NW", "NNW",
}

// Compass maps a bearing in degrees to a 16-point compass direction.
func Compass(deg *float64) string {
	if deg == nil {
		return Missing
	}
	d := math.Mod(*deg, 360)
	if d < 0 {
		d += 360
	}
	return compassPoints[int(math.Round(d/22.5))%16]
}

// UVCategory buckets a UV index into the WHO exposure categories.
func UVCategory(uv *float64) string {
	if uv == nil {
		return Missing
	}
	switch v := *uv; {
	case v < 3:
		return "Low"
	case v < 6:
		return "Moderate"
	case v < 8:
		return "High"
	case v < 11:
		return "Very High"
	default:
		return "Extreme"
	}
}

// AQICategory buckets a US AQI value.
func AQICategory(aqi *float64) string {
	if aqi == nil {
		return Missing
	}
	switch v := *aqi; {
	case v <= 50:
		return "Good"
	case v <= 100:
		return "Moderate"
	case v <= 150:
		return "Sensitive"
	case v <= 200:
		return "Unhealthy"
	case v <= 300:
		return "Very Unhealthy"
	default:
		return "Hazardous"
	}
}

// Relative renders how long ago ts was, e.g. "42s ago", "5m ago", "3h ago". Older
// timestamps are shown as a date.
func Relative(ts *string, now time.Time) string {
	if ts == nil {
		return Missing
	}
	t, err := normalize.ParseTimestamp(*ts)
	if err != nil {
		return Missing
	}
	diff := int(math.Round(now.Sub(t).Seconds()))
	switch {
	case diff < 60:
		return fmt.Sprintf("%ds ago", diff)
	case diff < 3600:
		return fmt.Sprintf("%dm ago", diff/60)
	case diff < 86400:
		return fmt.Sprintf("%dh ago", diff/3600)
	default:
		return t.UTC().Format("2006-01-02 15:04 UTC")
	}
}
