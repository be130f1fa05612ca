package weather

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/kisansaathi/farmdata-service/internal/apperr"
	"github.com/kisansaathi/farmdata-service/internal/fetch"
	"github.com/kisansaathi/farmdata-service/internal/models"
)

const DefaultSoilGridsURL = "https://rest.isric.org/soilgrids/v2.0/properties/query"

// SoilClient returns topsoil properties for a coordinate.
type SoilClient interface {
	GetSoilProfile(ctx context.Context, lat, lon float64) (models.SoilProfile, error)
}

// SoilGridsClient queries the ISRIC SoilGrids properties API for the
// 0-5 cm layer.
type SoilGridsClient struct {
	apiURL string
	client *fetch.Client
	now    func() time.Time
}

// NewSoilGridsClient returns a keyless SoilGrids client.
func NewSoilGridsClient(client *fetch.Client, apiURL string) *SoilGridsClient {
	if strings.TrimSpace(apiURL) == "" {
		apiURL = DefaultSoilGridsURL
	}
	return &SoilGridsClient{apiURL: apiURL, client: client, now: time.Now}
}

// GetSoilProfile fetches pH, organic carbon, clay and sand. Points with no
// data (water, urban cover) return apperr.ErrNoData.
func (c *SoilGridsClient) GetSoilProfile(ctx context.Context, lat, lon float64) (models.SoilProfile, error) {
	params := url.Values{
		"lat":      {strconv.FormatFloat(lat, 'f', 4, 64)},
		"lon":      {strconv.FormatFloat(lon, 'f', 4, 64)},
		"property": {"phh2o", "soc", "clay", "sand"},
		"depth":    {"0-5cm"},
		"value":    {"mean"},
	}
	resp, err := c.client.Get(ctx, c.apiURL, params, nil)
	if err != nil {
		return models.SoilProfile{}, err
	}
	props, err := ParseSoilGrids(resp.Body)
	if err != nil {
		return models.SoilProfile{}, err
	}
	return models.SoilProfile{
		Lat:           lat,
		Lon:           lon,
		SoilType:      TextureClass(props["clay"], props["sand"]),
		PH:            props["phh2o"],
		OrganicCarbon: props["soc"],
		ClayPct:       props["clay"],
		SandPct:       props["sand"],
		Timestamp:     c.now(),
		Source:        models.DataSourceLive,
	}, nil
}

// ParseSoilGrids returns the mean of each requested property in its
// conventional unit: the raw value divided by the layer's d_factor.
func ParseSoilGrids(body []byte) (map[string]float64, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("soilgrids: %w: invalid JSON", apperr.ErrParse)
	}
	out := make(map[string]float64)
	for _, layer := range gjson.GetBytes(body, "properties.layers").Array() {
		name := layer.Get("name").String()
		mean := layer.Get("depths.0.values.mean")
		if name == "" || mean.Type != gjson.Number {
			continue
		}
		factor := layer.Get("unit_measure.d_factor").Float()
		if factor <= 0 {
			factor = 1
		}
		out[name] = mean.Float() / factor
	}
	for _, required := range []string{"phh2o", "clay", "sand"} {
		if _, ok := out[required]; !ok {
			return nil, fmt.Errorf("soilgrids: %w: %s missing", apperr.ErrNoData, required)
		}
	}
	return out, nil
}

// TextureClass is a coarse USDA-style texture name from clay and sand %.
func TextureClass(clayPct, sandPct float64) string {
	switch {
	case clayPct >= 40:
		return "Clay"
	case sandPct >= 70:
		return "Sandy"
	case clayPct >= 27:
		return "Clay loam"
	case sandPct >= 50:
		return "Sandy loam"
	default:
		return "Loam"
	}
}
