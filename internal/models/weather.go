package models

import "time"

// DataSource tags weather and soil payloads.
type DataSource string

const (
	DataSourceLive     DataSource = "live"
	DataSourceCache    DataSource = "cache"
	DataSourceFallback DataSource = "fallback-data"
)

type WeatherData struct {
	Lat         float64    `json:"lat"`
	Lon         float64    `json:"lon"`
	Location    string     `json:"location"`
	Temperature float64    `json:"temperature"`
	Conditions  string     `json:"conditions"`
	Humidity    int        `json:"humidity"`
	WindSpeed   float64    `json:"windSpeed"`
	RainfallMM  float64    `json:"rainfallMm"`
	Timestamp   time.Time  `json:"timestamp"`
	Source      DataSource `json:"source"`
}

type SoilProfile struct {
	Lat           float64    `json:"lat"`
	Lon           float64    `json:"lon"`
	SoilType      string     `json:"soilType"`
	PH            float64    `json:"ph"`
	OrganicCarbon float64    `json:"organicCarbon"` // g/kg
	ClayPct       float64    `json:"clayPct"`
	SandPct       float64    `json:"sandPct"`
	Timestamp     time.Time  `json:"timestamp"`
	Source        DataSource `json:"source"`
}
