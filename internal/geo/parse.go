package geo

import (
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/kisansaathi/farmdata-service/internal/models"
)

// Parsers turn a provider body into a partial LocationRecord (city, state,
// country and coordinates when the provider has them). A false return means
// "no result"; missing or null fields never panic.

// ParseIPInfo reads an ipinfo.io /json body. loc is "lat,lon".
func ParseIPInfo(body []byte) (models.LocationRecord, bool) {
	if !gjson.ValidBytes(body) {
		return models.LocationRecord{}, false
	}
	res := gjson.ParseBytes(body)
	if res.Get("bogon").Bool() || res.Get("error").Exists() {
		return models.LocationRecord{}, false
	}
	rec := models.LocationRecord{
		City:    strings.TrimSpace(res.Get("city").String()),
		State:   strings.TrimSpace(res.Get("region").String()),
		Country: countryName(res.Get("country").String()),
	}
	lat, lon, ok := splitLatLon(res.Get("loc").String())
	if !ok {
		return models.LocationRecord{}, false
	}
	rec.Lat, rec.Lon = lat, lon
	return rec, rec.City != "" || rec.State != ""
}

// ParseIPAPI reads an ip-api.com /json body. Only status "success" counts.
func ParseIPAPI(body []byte) (models.LocationRecord, bool) {
	if !gjson.ValidBytes(body) {
		return models.LocationRecord{}, false
	}
	res := gjson.ParseBytes(body)
	if res.Get("status").String() != "success" {
		return models.LocationRecord{}, false
	}
	lat, lon := res.Get("lat"), res.Get("lon")
	if lat.Type != gjson.Number || lon.Type != gjson.Number {
		return models.LocationRecord{}, false
	}
	rec := models.LocationRecord{
		City:    strings.TrimSpace(res.Get("city").String()),
		State:   strings.TrimSpace(res.Get("regionName").String()),
		Country: countryName(res.Get("country").String()),
		Lat:     lat.Float(),
		Lon:     lon.Float(),
	}
	return rec, rec.City != "" || rec.State != ""
}

// ParseIPGeolocation reads an ipgeolocation.io /ipgeo body, whose
// coordinates are strings.
func ParseIPGeolocation(body []byte) (models.LocationRecord, bool) {
	if !gjson.ValidBytes(body) {
		return models.LocationRecord{}, false
	}
	res := gjson.ParseBytes(body)
	if res.Get("message").Exists() && !res.Get("ip").Exists() {
		return models.LocationRecord{}, false
	}
	lat, err1 := strconv.ParseFloat(strings.TrimSpace(res.Get("latitude").String()), 64)
	lon, err2 := strconv.ParseFloat(strings.TrimSpace(res.Get("longitude").String()), 64)
	if err1 != nil || err2 != nil {
		return models.LocationRecord{}, false
	}
	rec := models.LocationRecord{
		City:    strings.TrimSpace(res.Get("city").String()),
		State:   strings.TrimSpace(res.Get("state_prov").String()),
		Country: countryName(res.Get("country_name").String()),
		Lat:     lat,
		Lon:     lon,
	}
	return rec, rec.City != "" || rec.State != ""
}

// ParseNominatim reads a Nominatim /reverse?format=json body. The city is
// the first present of city, town, village, county, state_district.
func ParseNominatim(body []byte) (models.LocationRecord, bool) {
	if !gjson.ValidBytes(body) {
		return models.LocationRecord{}, false
	}
	res := gjson.ParseBytes(body)
	if res.Get("error").Exists() {
		return models.LocationRecord{}, false
	}
	addr := res.Get("address")
	if !addr.IsObject() {
		return models.LocationRecord{}, false
	}
	rec := models.LocationRecord{
		City:    firstOf(addr, "city", "town", "village", "county", "state_district"),
		State:   strings.TrimSpace(addr.Get("state").String()),
		Country: countryName(addr.Get("country").String()),
	}
	return rec, rec.City != "" || rec.State != ""
}

// ParseBigDataCloud reads a reverse-geocode-client body.
func ParseBigDataCloud(body []byte) (models.LocationRecord, bool) {
	if !gjson.ValidBytes(body) {
		return models.LocationRecord{}, false
	}
	res := gjson.ParseBytes(body)
	rec := models.LocationRecord{
		City:    firstOf(res, "city", "locality"),
		State:   strings.TrimSpace(res.Get("principalSubdivision").String()),
		Country: countryName(res.Get("countryName").String()),
	}
	return rec, rec.City != "" || rec.State != ""
}

func firstOf(res gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := strings.TrimSpace(res.Get(p).String()); v != "" {
			return v
		}
	}
	return ""
}

func splitLatLon(loc string) (float64, float64, bool) {
	parts := strings.Split(loc, ",")
	if len(parts) != 2 {
		return 0, 0, false
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, false
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, false
	}
	return lat, lon, true
}

// countryName expands the ISO code ipinfo returns for India and defaults an
// empty country.
func countryName(c string) string {
	c = strings.TrimSpace(c)
	switch {
	case c == "":
		return models.DefaultCountry
	case strings.EqualFold(c, "IN"):
		return "India"
	default:
		return c
	}
}
