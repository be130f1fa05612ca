package validation

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/kisansaathi/farmdata-service/internal/apperr"
	"github.com/kisansaathi/farmdata-service/internal/models"
)

func validRecord() models.LocationRecord {
	return models.LocationRecord{City: "Nashik", State: "Maharashtra", Country: "India", Lat: 19.99, Lon: 73.79}
}

func TestAcceptLocation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*models.LocationRecord)
		rules   Rules
		wantErr bool
	}{
		{"valid", func(r *models.LocationRecord) {}, Rules{}, false},
		{"empty city", func(r *models.LocationRecord) { r.City = "  " }, Rules{}, true},
		{"empty state", func(r *models.LocationRecord) { r.State = "" }, Rules{}, true},
		{"null island", func(r *models.LocationRecord) { r.Lat, r.Lon = 0, 0 }, Rules{}, true},
		{"zero lat only", func(r *models.LocationRecord) { r.Lat = 0 }, Rules{}, false},
		{"NaN", func(r *models.LocationRecord) { r.Lat = math.NaN() }, Rules{}, true},
		{"Inf", func(r *models.LocationRecord) { r.Lon = math.Inf(1) }, Rules{}, true},
		{"Delhi ignored without block-list", func(r *models.LocationRecord) { r.City = "Delhi" }, Rules{}, false},
		{"Delhi blocked", func(r *models.LocationRecord) { r.City = "Delhi" }, IPRules(nil), true},
		{"new delhi blocked case-insensitively", func(r *models.LocationRecord) { r.City = " new delhi " }, IPRules(nil), true},
		{"custom list", func(r *models.LocationRecord) { r.City = "Mumbai" }, IPRules([]string{"Mumbai"}), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := validRecord()
			tt.mutate(&rec)
			err := AcceptLocation(rec, tt.rules)
			if (err != nil) != tt.wantErr {
				t.Fatalf("AcceptLocation() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, apperr.ErrValidationRejected) {
				t.Errorf("error = %v, want ErrValidationRejected", err)
			}
		})
	}
}

func TestStale(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		savedAt time.Time
		wantErr bool
	}{
		{"fresh", now.Add(-time.Hour), false},
		{"six days", now.Add(-6 * 24 * time.Hour), false},
		{"eight days", now.Add(-8 * 24 * time.Hour), true},
		{"zero", time.Time{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Stale(tt.savedAt, DefaultManualMaxAge, now)
			if (err != nil) != tt.wantErr {
				t.Errorf("Stale() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateCoordinates(t *testing.T) {
	tests := []struct {
		lat, lon float64
		wantErr  bool
	}{
		{21.14, 79.08, false},
		{-90, 180, false},
		{91, 0, true},
		{0, -181, true},
		{math.NaN(), 0, true},
	}
	for _, tt := range tests {
		if err := ValidateCoordinates(tt.lat, tt.lon); (err != nil) != tt.wantErr {
			t.Errorf("ValidateCoordinates(%v, %v) error = %v, wantErr %v", tt.lat, tt.lon, err, tt.wantErr)
		}
	}
}

func TestValidateName_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"empty", "", ErrFieldEmpty},
		{"spaces", "   ", ErrFieldEmpty},
		{"too short", "x", ErrFieldTooShort},
		{"too long", strings.Repeat("a", 65), ErrFieldTooLong},
		{"question", "Rice?", ErrFieldInvalidChars},
		{"semicolon", "Rice;DROP", ErrFieldInvalidChars},
		{"control", "Ri\x00ce", ErrFieldInvalidChars},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ValidateName(tc.input, 2, 64)
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("ValidateName(%q) error = %v, want %v", tc.input, err, tc.wantErr)
			}
		})
	}
}

func TestValidateName_Valid(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Rice", "Rice"},
		{"  Uttar Pradesh ", "Uttar Pradesh"},
		{"Bengal Gram(Gram)(Whole)", "Bengal Gram(Gram)(Whole)"},
		{"Arhar (Tur/Red Gram)", "Arhar (Tur/Red Gram)"},
		{"Jammu and Kashmir", "Jammu and Kashmir"},
		{"नागपुर", "नागपुर"},
		{"St. Thomas Mount", "St. Thomas Mount"},
	}
	for _, tc := range tests {
		got, err := ValidateName(tc.input, 2, 64)
		if err != nil {
			t.Errorf("ValidateName(%q) unexpected error: %v", tc.input, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ValidateName(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestValidateOptionalName(t *testing.T) {
	if got, err := ValidateOptionalName("  ", 2, 64); err != nil || got != "" {
		t.Errorf("ValidateOptionalName(blank) = %q, %v", got, err)
	}
	if _, err := ValidateOptionalName("a?", 2, 64); !errors.Is(err, ErrFieldInvalidChars) {
		t.Errorf("ValidateOptionalName(bad) error = %v", err)
	}
}
