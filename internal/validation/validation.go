package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/kjstillabower/pws-dashboard/internal/units"
)

// ErrUnitsInvalid is returned when the units query parameter names no known unit system.
var ErrUnitsInvalid = errors.New("units must be metric or imperial")

// ErrStationIDEmpty is returned when the station id is empty or whitespace-only after trim.
var ErrStationIDEmpty = errors.New("station id is required")

// ErrStationIDTooLong is returned when the station id exceeds the maximum length.
var ErrStationIDTooLong = errors.New("station id too long")

// ErrStationIDInvalidChars is returned when the station id contains anything but letters and digits.
var ErrStationIDInvalidChars = errors.New("station id contains invalid characters")

const maxStationIDLen = 32

var validate = validator.New(validator.WithRequiredStructEnabled())

// SummaryQuery is the query string accepted by the summary endpoint.
type SummaryQuery struct {
	Units string `validate:"omitempty,oneof=metric imperial"`
}

// ValidateUnits trims and lowercases the units parameter and resolves it to a unit
// system. Empty selects metric. Returns ErrUnitsInvalid for 400 responses.
func ValidateUnits(input string) (units.System, error) {
	q := SummaryQuery{Units: strings.ToLower(strings.TrimSpace(input))}
	if err := validate.Struct(q); err != nil {
		return "", fmt.Errorf("%w: got %q", ErrUnitsInvalid, input)
	}
	return units.ParseSystem(q.Units)
}

// ValidateStationID trims the input and restricts it to letters and digits, the shape of
// vendor PWS ids such as KCASANFR123.
func ValidateStationID(input string) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	if len(r) == 0 {
		return "", ErrStationIDEmpty
	}
	if len(r) > maxStationIDLen {
		return "", ErrStationIDTooLong
	}
	for _, c := range r {
		if !unicode.IsLetter(c) && !unicode.IsDigit(c) {
			return "", ErrStationIDInvalidChars
		}
	}
	return s, nil
}
