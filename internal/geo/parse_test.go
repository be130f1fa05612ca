package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIPInfo(t *testing.T) {
	rec, ok := ParseIPInfo([]byte(`{"ip":"49.36.1.1","city":"Pune","region":"Maharashtra","country":"IN","loc":"18.5196,73.8553"}`))
	require.True(t, ok)
	assert.Equal(t, "Pune", rec.City)
	assert.Equal(t, "Maharashtra", rec.State)
	assert.Equal(t, "India", rec.Country)
	assert.InDelta(t, 18.5196, rec.Lat, 1e-9)
	assert.InDelta(t, 73.8553, rec.Lon, 1e-9)
}

func TestParseIPInfo_NoResult(t *testing.T) {
	cases := map[string]string{
		"bogon":       `{"ip":"10.0.0.1","bogon":true}`,
		"missing loc": `{"city":"Pune","region":"Maharashtra"}`,
		"bad loc":     `{"city":"Pune","region":"Maharashtra","loc":"abc"}`,
		"nulls":       `{"city":null,"region":null,"loc":"18.5,73.8"}`,
		"not json":    `<html>`,
		"error":       `{"error":{"title":"Wrong ip"}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, ok := ParseIPInfo([]byte(body))
			assert.False(t, ok)
		})
	}
}

func TestParseIPAPI(t *testing.T) {
	rec, ok := ParseIPAPI([]byte(`{"status":"success","country":"India","regionName":"Punjab","city":"Ludhiana","lat":30.9,"lon":75.85}`))
	require.True(t, ok)
	assert.Equal(t, "Ludhiana", rec.City)
	assert.Equal(t, "Punjab", rec.State)
	assert.InDelta(t, 75.85, rec.Lon, 1e-9)

	_, ok = ParseIPAPI([]byte(`{"status":"fail","message":"private range"}`))
	assert.False(t, ok)
	_, ok = ParseIPAPI([]byte(`{"status":"success","city":"X","regionName":"Y","lat":null,"lon":1}`))
	assert.False(t, ok)
}

func TestParseIPGeolocation(t *testing.T) {
	rec, ok := ParseIPGeolocation([]byte(`{"ip":"1.2.3.4","country_name":"India","state_prov":"Karnataka","city":"Mysuru","latitude":"12.29581","longitude":"76.63938"}`))
	require.True(t, ok)
	assert.Equal(t, "Karnataka", rec.State)
	assert.InDelta(t, 12.29581, rec.Lat, 1e-9)

	_, ok = ParseIPGeolocation([]byte(`{"message":"Provided API key is not valid."}`))
	assert.False(t, ok)
	_, ok = ParseIPGeolocation([]byte(`{"ip":"1.2.3.4","city":"Mysuru","state_prov":"Karnataka","latitude":"","longitude":"76.6"}`))
	assert.False(t, ok)
}

func TestParseNominatim_CityFallbackOrder(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"city", `{"address":{"city":"Nagpur","state":"Maharashtra","country":"India"}}`, "Nagpur"},
		{"town", `{"address":{"town":"Wardha","state":"Maharashtra"}}`, "Wardha"},
		{"village", `{"address":{"village":"Seloo","county":"Wardha","state":"Maharashtra"}}`, "Seloo"},
		{"county", `{"address":{"county":"Wardha","state":"Maharashtra"}}`, "Wardha"},
		{"state_district", `{"address":{"state_district":"Nagpur District","state":"Maharashtra"}}`, "Nagpur District"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, ok := ParseNominatim([]byte(tt.body))
			require.True(t, ok)
			assert.Equal(t, tt.want, rec.City)
			assert.Equal(t, "Maharashtra", rec.State)
			assert.Equal(t, "India", rec.Country)
		})
	}

	_, ok := ParseNominatim([]byte(`{"error":"Unable to geocode"}`))
	assert.False(t, ok)
}

func TestParseBigDataCloud(t *testing.T) {
	rec, ok := ParseBigDataCloud([]byte(`{"city":"","locality":"Hingna","principalSubdivision":"Maharashtra","countryName":"India"}`))
	require.True(t, ok)
	assert.Equal(t, "Hingna", rec.City)
	assert.Equal(t, "Maharashtra", rec.State)

	_, ok = ParseBigDataCloud([]byte(`{}`))
	assert.False(t, ok)
}
