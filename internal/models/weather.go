package models

// Location describes where the station sits. All fields are optional.
type Location struct {
	Name *string  `json:"name,omitempty"`
	Lat  *float64 `json:"lat,omitempty"`
	Lon  *float64 `json:"lon,omitempty"`
}

// LatestWeather is the most recent observation from the station.
// Measurement fields are nil when the station did not report them; nil is never zero.
type LatestWeather struct {
	StationName string    `json:"station_name,omitempty"`
	Location    *Location `json:"location,omitempty"`
	Timestamp   *string   `json:"timestamp,omitempty"` // ISO-8601 UTC

	TemperatureC *float64 `json:"temperature_c,omitempty"`
	HumidityPct  *float64 `json:"humidity_pct,omitempty"`
	PressureHPa  *float64 `json:"pressure_hpa,omitempty"`
	WindSpeedMS  *float64 `json:"wind_speed_ms,omitempty"`
	WindGustMS   *float64 `json:"wind_gust_ms,omitempty"`
	WindDirDeg   *float64 `json:"wind_dir_deg,omitempty"`
	RainRateMMH  *float64 `json:"rain_rate_mm_h,omitempty"`
	RainDailyMM  *float64 `json:"rain_daily_mm,omitempty"`
	UVIndex      *float64 `json:"uv_index,omitempty"`
	SolarWM2     *float64 `json:"solar_w_m2,omitempty"`
	AQI          *float64 `json:"aqi,omitempty"`
}

// HistoryPoint is one sample on the 24h trend timeline.
type HistoryPoint struct {
	T string `json:"t"`

	TemperatureC *float64 `json:"temperature_c,omitempty"`
	HumidityPct  *float64 `json:"humidity_pct,omitempty"`
	PressureHPa  *float64 `json:"pressure_hpa,omitempty"`
	WindSpeedMS  *float64 `json:"wind_speed_ms,omitempty"`
	WindGustMS   *float64 `json:"wind_gust_ms,omitempty"`
	RainRateMMH  *float64 `json:"rain_rate_mm_h,omitempty"`
	RainDailyMM  *float64 `json:"rain_daily_mm,omitempty"`
	UVIndex      *float64 `json:"uv_index,omitempty"`
	SolarWM2     *float64 `json:"solar_w_m2,omitempty"`
}

// HistoryPayload is the body served by GET /weather/history.
type HistoryPayload struct {
	Points []HistoryPoint `json:"points"`
}

// Float returns a pointer to v. Handy for building fixtures and synthetic payloads.
func Float(v float64) *float64 {
	return &v
}

// String returns a pointer to s.
func String(s string) *string {
	return &s
}
