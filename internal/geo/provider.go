// Package geo talks to IP-geolocation and reverse-geocoding providers and
// parses their responses into location records.
package geo

import (
	"context"
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kisansaathi/farmdata-service/internal/apperr"
	"github.com/kisansaathi/farmdata-service/internal/fetch"
	"github.com/kisansaathi/farmdata-service/internal/models"
)

const (
	// IPAccuracyMeters is the typical radius of a city-level IP fix.
	IPAccuracyMeters = 5000

	DefaultIPInfoURL        = "https://ipinfo.io"
	DefaultIPAPIURL         = "http://ip-api.com"
	DefaultIPGeolocationURL = "https://api.ipgeolocation.io"
	DefaultNominatimURL     = "https://nominatim.openstreetmap.org"
	DefaultBigDataCloudURL  = "https://api.bigdatacloud.net"
)

// IPProvider resolves a public IP to a location.
type IPProvider interface {
	Name() string
	Lookup(ctx context.Context, ip string) (models.LocationRecord, error)
}

// ReverseGeocoder names the place at a coordinate.
type ReverseGeocoder interface {
	Name() string
	Reverse(ctx context.Context, lat, lon float64) (models.LocationRecord, error)
}

type ipProvider struct {
	name       string
	confidence int
	client     *fetch.Client
	requestFor func(ip string) (string, url.Values)
	parse      func([]byte) (models.LocationRecord, bool)
	credential string
	needsCred  bool
	now        func() time.Time
}

func (p *ipProvider) Name() string { return p.name }

func (p *ipProvider) Lookup(ctx context.Context, ip string) (models.LocationRecord, error) {
	if p.needsCred && p.credential == "" {
		return models.LocationRecord{}, fmt.Errorf("%s: %w", p.name, apperr.ErrCredentialMissing)
	}
	rawURL, query := p.requestFor(ip)
	resp, err := p.client.Get(ctx, rawURL, query, nil)
	if err != nil {
		return models.LocationRecord{}, err
	}
	rec, ok := p.parse(resp.Body)
	if !ok {
		return models.LocationRecord{}, fmt.Errorf("%s: %w: unusable response", p.name, apperr.ErrParse)
	}
	rec.Source = models.SourceIPLookup
	rec.Provider = p.name
	rec.Accuracy = IPAccuracyMeters
	rec.AccuracyUnit = models.AccuracyIPRadius
	rec.Confidence = p.confidence
	rec.Timestamp = p.now().UnixMilli()
	return rec, nil
}

// NewIPInfo queries ipinfo.io. The token is optional (free tier works
// without one at a lower quota).
func NewIPInfo(client *fetch.Client, baseURL, token string) IPProvider {
	baseURL = strings.TrimRight(orDefault(baseURL, DefaultIPInfoURL), "/")
	return &ipProvider{
		name:       "ipinfo",
		confidence: 65,
		client:     client,
		parse:      ParseIPInfo,
		now:        time.Now,
		requestFor: func(ip string) (string, url.Values) {
			q := url.Values{}
			if token != "" {
				q.Set("token", token)
			}
			return baseURL + "/" + url.PathEscape(ip) + "/json", q
		},
	}
}

// NewIPAPI queries ip-api.com.
func NewIPAPI(client *fetch.Client, baseURL string) IPProvider {
	baseURL = strings.TrimRight(orDefault(baseURL, DefaultIPAPIURL), "/")
	return &ipProvider{
		name:       "ip-api",
		confidence: 60,
		client:     client,
		parse:      ParseIPAPI,
		now:        time.Now,
		requestFor: func(ip string) (string, url.Values) {
			return baseURL + "/json/" + url.PathEscape(ip), url.Values{"fields": {"status,message,country,regionName,city,lat,lon"}}
		},
	}
}

// NewIPGeolocation queries ipgeolocation.io, which requires an API key.
// Without one every lookup fails with apperr.ErrCredentialMissing.
func NewIPGeolocation(client *fetch.Client, baseURL, apiKey string) IPProvider {
	baseURL = strings.TrimRight(orDefault(baseURL, DefaultIPGeolocationURL), "/")
	return &ipProvider{
		name:       "ipgeolocation",
		confidence: 65,
		client:     client,
		parse:      ParseIPGeolocation,
		credential: apiKey,
		needsCred:  true,
		now:        time.Now,
		requestFor: func(ip string) (string, url.Values) {
			return baseURL + "/ipgeo", url.Values{"apiKey": {apiKey}, "ip": {ip}}
		},
	}
}

type reverseGeocoder struct {
	name       string
	client     *fetch.Client
	requestFor func(lat, lon float64) (string, url.Values)
	header     http.Header
	parse      func([]byte) (models.LocationRecord, bool)
}

func (g *reverseGeocoder) Name() string { return g.name }

// Reverse returns a record with city, state and country filled and the
// query coordinates carried through; the caller sets source and accuracy.
func (g *reverseGeocoder) Reverse(ctx context.Context, lat, lon float64) (models.LocationRecord, error) {
	rawURL, query := g.requestFor(lat, lon)
	resp, err := g.client.Get(ctx, rawURL, query, g.header)
	if err != nil {
		return models.LocationRecord{}, err
	}
	rec, ok := g.parse(resp.Body)
	if !ok {
		return models.LocationRecord{}, fmt.Errorf("%s: %w: no address", g.name, apperr.ErrParse)
	}
	rec.Lat, rec.Lon = lat, lon
	rec.Provider = g.name
	return rec, nil
}

// NewNominatim uses the OpenStreetMap reverse endpoint. Its usage policy
// asks for an identifying User-Agent, which fetch sets.
func NewNominatim(client *fetch.Client, baseURL string) ReverseGeocoder {
	baseURL = strings.TrimRight(orDefault(baseURL, DefaultNominatimURL), "/")
	return &reverseGeocoder{
		name:   "nominatim",
		client: client,
		parse:  ParseNominatim,
		header: http.Header{"Accept-Language": {"en"}},
		requestFor: func(lat, lon float64) (string, url.Values) {
			return baseURL + "/reverse", url.Values{
				"format":         {"json"},
				"lat":            {formatCoord(lat)},
				"lon":            {formatCoord(lon)},
				"zoom":           {"10"},
				"addressdetails": {"1"},
			}
		},
	}
}

// NewBigDataCloud uses the keyless client-side reverse geocoder.
func NewBigDataCloud(client *fetch.Client, baseURL string) ReverseGeocoder {
	baseURL = strings.TrimRight(orDefault(baseURL, DefaultBigDataCloudURL), "/")
	return &reverseGeocoder{
		name:   "bigdatacloud",
		client: client,
		parse:  ParseBigDataCloud,
		requestFor: func(lat, lon float64) (string, url.Values) {
			return baseURL + "/data/reverse-geocode-client", url.Values{
				"latitude":         {formatCoord(lat)},
				"longitude":        {formatCoord(lon)},
				"localityLanguage": {"en"},
			}
		},
	}
}

// PublicIP reports whether ip is a routable address worth looking up.
// Private, loopback, link-local and unspecified addresses are not.
func PublicIP(ip string) bool {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	return !(addr.IsPrivate() || addr.IsLoopback() || addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() || addr.IsUnspecified() || addr.IsMulticast())
}

func formatCoord(f float64) string {
	return strconv.FormatFloat(f, 'f', 6, 64)
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
