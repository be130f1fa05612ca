package models

import "time"

// LocationSource identifies which cascade stage produced a LocationRecord.
type LocationSource string

const (
	SourceGPS       LocationSource = "gps"
	SourceIPLookup  LocationSource = "ip_lookup"
	SourceManual    LocationSource = "manual"
	SourceHeuristic LocationSource = "heuristic"
	SourceFallback  LocationSource = "fallback"
)

// Accuracy units. The accuracy value is whatever the source declares and is
// not comparable across sources; Confidence is the normalized 0-100 score.
const (
	AccuracyMeters       = "meters"
	AccuracyIPRadius     = "typical_ip_radius_m"
	AccuracyConfidencePc = "confidence_pct"
)

// DefaultCountry is used when a provider omits the country.
const DefaultCountry = "India"

type LocationRecord struct {
	City         string         `json:"city"`
	State        string         `json:"state"`
	Country      string         `json:"country"`
	Lat          float64        `json:"lat"`
	Lon          float64        `json:"lon"`
	Accuracy     float64        `json:"accuracy"`
	AccuracyUnit string         `json:"accuracyUnit,omitempty"`
	Confidence   int            `json:"confidence"`
	Source       LocationSource `json:"source"`
	Provider     string         `json:"provider,omitempty"`
	Timestamp    int64          `json:"timestamp"` // epoch millis
}

// Age returns how long ago the record was produced relative to now.
func (r LocationRecord) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(r.Timestamp))
}
