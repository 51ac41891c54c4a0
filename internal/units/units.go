// Package units converts the internal SI measurements into the units shown on the dashboard.
// Every function takes and returns an optional value: nil in, nil out. Nothing is rounded here.
package units

import (
	"fmt"
	"strings"
)

// System selects which unit family a display uses.
type System string

const (
	Metric   System = "metric"
	Imperial System = "imperial"
)

const (
	mphPerMS   = 2.236936
	kphPerMS   = 3.6
	inHgPerHPa = 0.0295299830714
	mmPerInch  = 25.4
)

// ParseSystem maps a user supplied unit name to a System. Empty input selects Metric.
func ParseSystem(s string) (System, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(Metric):
		return Metric, nil
	case string(Imperial):
		return Imperial, nil
	default:
		return "", fmt.Errorf("unknown unit system %q", s)
	}
}

// CelsiusToFahrenheit converts °C to °F.
func CelsiusToFahrenheit(c *float64) *float64 {
	if c == nil {
		return nil
	}
	f := *c*9/5 + 32
	return &f
}

// MSToMPH converts metres per second to miles per hour.
func MSToMPH(ms *float64) *float64 {
	if ms == nil {
		return nil
	}
	v := *ms * mphPerMS
	return &v
}

// MSToKPH converts metres per second to kilometres per hour.
func MSToKPH(ms *float64) *float64 {
	if ms == nil {
		return nil
	}
	v := *ms * kphPerMS
	return &v
}

// KPHToMS converts the vendor's native km/h into the internal m/s.
func KPHToMS(kph *float64) *float64 {
	if kph == nil {
		return nil
	}
	v := *kph / kphPerMS
	return &v
}

// HPaToInHg converts hectopascals to inches of mercury.
func HPaToInHg(hpa *float64) *float64 {
	if hpa == nil {
		return nil
	}
	v := *hpa * inHgPerHPa
	return &v
}

// MMToInch converts millimetres to inches.
func MMToInch(mm *float64) *float64 {
	if mm == nil {
		return nil
	}
	v := *mm / mmPerInch
	return &v
}
