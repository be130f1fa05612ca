// Package weather fetches current conditions from OpenWeather and soil
// properties from ISRIC SoilGrids for a coordinate.
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kisansaathi/farmdata-service/internal/apperr"
	"github.com/kisansaathi/farmdata-service/internal/fetch"
	"github.com/kisansaathi/farmdata-service/internal/models"
)

const DefaultOpenWeatherURL = "https://api.openweathermap.org/data/2.5/weather"

// Client returns current weather for a coordinate.
type Client interface {
	GetCurrentWeather(ctx context.Context, lat, lon float64) (models.WeatherData, error)
	Configured() bool
}

// OpenWeatherClient calls the OpenWeather current-weather endpoint.
type OpenWeatherClient struct {
	apiKey string
	apiURL string
	client *fetch.Client
	now    func() time.Time
}

// NewOpenWeatherClient returns a client. An empty apiKey is allowed; every
// call then fails with apperr.ErrCredentialMissing.
func NewOpenWeatherClient(client *fetch.Client, apiURL, apiKey string) *OpenWeatherClient {
	if strings.TrimSpace(apiURL) == "" {
		apiURL = DefaultOpenWeatherURL
	}
	return &OpenWeatherClient{apiKey: strings.TrimSpace(apiKey), apiURL: apiURL, client: client, now: time.Now}
}

// Configured reports whether an API key is set.
func (c *OpenWeatherClient) Configured() bool {
	return c.apiKey != ""
}

type openWeatherResponse struct {
	Main struct {
		Temp     float64 `json:"temp"`
		Humidity int     `json:"humidity"`
	} `json:"main"`
	Weather []struct {
		Main        string `json:"main"`
		Description string `json:"description"`
	} `json:"weather"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
	Rain struct {
		OneHour float64 `json:"1h"`
	} `json:"rain"`
	Name string `json:"name"`
}

// GetCurrentWeather fetches conditions at (lat, lon). A rejected key (401)
// is reported as apperr.ErrCredentialMissing like an absent one.
func (c *OpenWeatherClient) GetCurrentWeather(ctx context.Context, lat, lon float64) (models.WeatherData, error) {
	if !c.Configured() {
		return models.WeatherData{}, fmt.Errorf("openweather: %w: WEATHER_API_KEY not set", apperr.ErrCredentialMissing)
	}
	params := url.Values{}
	params.Set("lat", strconv.FormatFloat(lat, 'f', 4, 64))
	params.Set("lon", strconv.FormatFloat(lon, 'f', 4, 64))
	params.Set("appid", c.apiKey)
	params.Set("units", "metric")

	resp, err := c.client.Get(ctx, c.apiURL, params, http.Header{"Accept": {"application/json"}})
	if err != nil {
		var statusErr *apperr.HTTPStatusError
		if errors.As(err, &statusErr) && statusErr.Status == http.StatusUnauthorized {
			return models.WeatherData{}, fmt.Errorf("openweather: %w: key rejected", apperr.ErrCredentialMissing)
		}
		return models.WeatherData{}, err
	}

	var apiResp openWeatherResponse
	if err := json.Unmarshal(resp.Body, &apiResp); err != nil {
		return models.WeatherData{}, fmt.Errorf("openweather: %w: %v", apperr.ErrParse, err)
	}
	return c.mapResponse(apiResp, lat, lon), nil
}

// ValidateAPIKey makes one request to confirm the key works. Used at startup.
func (c *OpenWeatherClient) ValidateAPIKey(ctx context.Context) error {
	_, err := c.GetCurrentWeather(ctx, 21.1458, 79.0882)
	return err
}

func (c *OpenWeatherClient) mapResponse(apiResp openWeatherResponse, lat, lon float64) models.WeatherData {
	conditions := ""
	if len(apiResp.Weather) > 0 {
		conditions = apiResp.Weather[0].Main
		if apiResp.Weather[0].Description != "" {
			conditions = apiResp.Weather[0].Description
		}
	}
	return models.WeatherData{
		Lat:         lat,
		Lon:         lon,
		Location:    apiResp.Name,
		Temperature: apiResp.Main.Temp,
		Conditions:  conditions,
		Humidity:    apiResp.Main.Humidity,
		WindSpeed:   apiResp.Wind.Speed,
		RainfallMM:  apiResp.Rain.OneHour,
		Timestamp:   c.now(),
		Source:      models.DataSourceLive,
	}
}
