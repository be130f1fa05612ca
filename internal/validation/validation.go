// Package validation holds the acceptance rules applied to location records
// and the field checks applied to inbound request parameters.
package validation

import (
	"errors"
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/kisansaathi/farmdata-service/internal/apperr"
	"github.com/kisansaathi/farmdata-service/internal/models"
)

// ErrFieldEmpty is returned when a field is empty or whitespace-only after trim.
var ErrFieldEmpty = errors.New("field is required")

// ErrFieldTooShort is returned when a field's length is below the minimum.
var ErrFieldTooShort = errors.New("field too short")

// ErrFieldTooLong is returned when a field's length exceeds the maximum.
var ErrFieldTooLong = errors.New("field too long")

// ErrFieldInvalidChars is returned when a field contains disallowed characters.
var ErrFieldInvalidChars = errors.New("field contains invalid characters")

// ErrCoordinatesOutOfRange is returned for latitudes outside [-90, 90] or
// longitudes outside [-180, 180].
var ErrCoordinatesOutOfRange = errors.New("coordinates out of range")

// DefaultBlockedCities are IP-derived cities that usually mean the lookup
// resolved to an ISP gateway rather than the farmer.
var DefaultBlockedCities = []string{"Delhi", "New Delhi"}

// DefaultManualMaxAge is how long a saved manual location stays usable.
const DefaultManualMaxAge = 7 * 24 * time.Hour

// Rules controls AcceptLocation. BlockedCities is only consulted when
// CheckBlockList is set.
type Rules struct {
	CheckBlockList bool
	BlockedCities  []string
}

// IPRules are the rules used for IP-derived records.
func IPRules(blocked []string) Rules {
	if blocked == nil {
		blocked = DefaultBlockedCities
	}
	return Rules{CheckBlockList: true, BlockedCities: blocked}
}

// AcceptLocation returns nil if rec is usable, or an error wrapping
// apperr.ErrValidationRejected naming the first failed rule.
func AcceptLocation(rec models.LocationRecord, rules Rules) error {
	if strings.TrimSpace(rec.City) == "" {
		return apperr.Rejected("empty city")
	}
	if strings.TrimSpace(rec.State) == "" {
		return apperr.Rejected("empty state")
	}
	if !finite(rec.Lat) || !finite(rec.Lon) {
		return apperr.Rejected("non-finite coordinates")
	}
	if rec.Lat == 0 && rec.Lon == 0 {
		return apperr.Rejected("null island coordinates")
	}
	if rules.CheckBlockList && Blocked(rec.City, rules.BlockedCities) {
		return apperr.Rejected("city %q is block-listed", strings.TrimSpace(rec.City))
	}
	return nil
}

// Blocked reports whether city matches an entry of list, ignoring case and
// surrounding space.
func Blocked(city string, list []string) bool {
	c := strings.TrimSpace(city)
	for _, b := range list {
		if strings.EqualFold(c, strings.TrimSpace(b)) {
			return true
		}
	}
	return false
}

// Stale rejects a saved entry older than maxAge. A zero savedAt is stale.
func Stale(savedAt time.Time, maxAge time.Duration, now time.Time) error {
	if savedAt.IsZero() {
		return apperr.Rejected("manual location has no save time")
	}
	if maxAge <= 0 {
		maxAge = DefaultManualMaxAge
	}
	if age := now.Sub(savedAt); age > maxAge {
		return apperr.Rejected("manual location is %s old, limit %s", age.Truncate(time.Minute), maxAge)
	}
	return nil
}

// ValidateCoordinates checks WGS84 bounds and finiteness.
func ValidateCoordinates(lat, lon float64) error {
	if !finite(lat) || !finite(lon) || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return ErrCoordinatesOutOfRange
	}
	return nil
}

// ValidateName trims the input, enforces length bounds (minLen, maxLen in
// runes) and restricts characters to letters, digits, space and , - . ( ) /.
// It serves crop, state, market and city fields.
func ValidateName(input string, minLen, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	n := len(r)
	if n == 0 {
		return "", ErrFieldEmpty
	}
	if minLen > 0 && n < minLen {
		return "", ErrFieldTooShort
	}
	if maxLen > 0 && n > maxLen {
		return "", ErrFieldTooLong
	}
	for _, c := range r {
		if !isAllowedNameRune(c) {
			return "", ErrFieldInvalidChars
		}
	}
	return s, nil
}

// ValidateOptionalName is ValidateName that lets an empty input through.
func ValidateOptionalName(input string, minLen, maxLen int) (string, error) {
	if strings.TrimSpace(input) == "" {
		return "", nil
	}
	return ValidateName(input, minLen, maxLen)
}

func isAllowedNameRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.IsMark(r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '.', '(', ')', '/':
		return true
	}
	return false
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
