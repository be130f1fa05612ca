// Package fallback synthesizes clearly tagged stand-in records when every
// live source has failed. The randomness is seeded so tests can pin it.
package fallback

import (
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kisansaathi/farmdata-service/internal/models"
)

// Reference point used when no location source succeeds: Nagpur, near the
// geographic centre of India.
const (
	DefaultCity  = "Nagpur"
	DefaultState = "Maharashtra"
	DefaultLat   = 21.1458
	DefaultLon   = 79.0882

	locationConfidence = 30
	maxChangeRatio     = 0.10
	seasonalAmplitude  = 0.15
	marketJitter       = 0.03
	gridDateLayout     = "02 Jan 2006"
)

// Generator produces fallback records. It is safe for concurrent use.
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
}

// New returns a Generator. A zero seed seeds from the clock; a nil now uses
// time.Now.
func New(seed int64, now func() time.Time) *Generator {
	if now == nil {
		now = time.Now
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Generator{rng: rand.New(rand.NewSource(seed)), now: now}
}

func (g *Generator) float() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rng.Float64()
}

// between returns a uniform value in [lo, hi].
func (g *Generator) between(lo, hi float64) float64 {
	return lo + (hi-lo)*g.float()
}

// Prices returns one synthetic row per market for q: the requested market,
// else up to three known markets of the state, else "<State> Mandi".
// Every row satisfies MinPrice <= ModalPrice <= MaxPrice.
func (g *Generator) Prices(q models.PriceQuery) []models.MarketPriceRecord {
	band, ok := basePrices[strings.ToLower(strings.TrimSpace(q.Commodity))]
	if !ok {
		band = genericPrice
		band.name = strings.TrimSpace(q.Commodity)
	}
	now := g.now()
	state := strings.TrimSpace(q.State)

	markets := []string{strings.TrimSpace(q.Market)}
	if markets[0] == "" {
		markets = stateMarkets[stateKey(state)]
		if len(markets) == 0 {
			markets = []string{state + " Mandi"}
		}
	}

	base := decimal.NewFromFloat(SeasonalFactor(now.Month())).
		Mul(decimal.NewFromFloat(RegionalFactor(state)))

	records := make([]models.MarketPriceRecord, 0, len(markets))
	for _, market := range markets {
		factor := base.Mul(decimal.NewFromFloat(g.between(1-marketJitter, 1+marketJitter)))
		minP := scale(band.min, factor)
		maxP := scale(band.max, factor)
		modal := scale(band.modal, factor)
		modal = decimal.Max(minP, decimal.Min(modal, maxP))

		ratio := decimal.NewFromFloat(g.between(-maxChangeRatio, maxChangeRatio))
		prev := modal.Div(decimal.NewFromInt(1).Add(ratio)).Round(0)
		change := modal.Sub(prev)

		records = append(records, models.MarketPriceRecord{
			Commodity:   band.name,
			Market:      market,
			State:       state,
			MinPrice:    minP.InexactFloat64(),
			MaxPrice:    maxP.InexactFloat64(),
			ModalPrice:  modal.InexactFloat64(),
			PriceChange: change.InexactFloat64(),
			Unit:        models.PriceUnit,
			Date:        now.Format(gridDateLayout),
			Trend:       models.TrendBetween(prev.InexactFloat64(), modal.InexactFloat64()),
			Source:      models.PriceSourceFallback,
		})
	}
	return records
}

func scale(v int64, factor decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(v).Mul(factor).Round(0)
}

// SeasonalFactor peaks in July, the lean month before the kharif harvest,
// and bottoms out in January. The result lies in [0.85, 1.15].
func SeasonalFactor(m time.Month) float64 {
	return 1 + seasonalAmplitude*math.Cos(2*math.Pi*float64(int(m)-7)/12)
}

// RegionalFactor returns the price multiplier for a state, 1.0 if unknown.
func RegionalFactor(state string) float64 {
	if f, ok := regionalFactors[stateKey(state)]; ok {
		return f
	}
	return 1.0
}

// Location returns the fixed reference point tagged as a fallback.
func (g *Generator) Location() models.LocationRecord {
	return models.LocationRecord{
		City:         DefaultCity,
		State:        DefaultState,
		Country:      models.DefaultCountry,
		Lat:          DefaultLat,
		Lon:          DefaultLon,
		Accuracy:     locationConfidence,
		AccuracyUnit: models.AccuracyConfidencePc,
		Confidence:   locationConfidence,
		Source:       models.SourceFallback,
		Provider:     "default",
		Timestamp:    g.now().UnixMilli(),
	}
}

type seasonWeather struct {
	temp       float64
	humidity   int
	rainfallMM float64
	conditions string
}

func season(m time.Month) seasonWeather {
	switch m {
	case time.December, time.January, time.February:
		return seasonWeather{20, 55, 0, "Clear"}
	case time.March, time.April, time.May:
		return seasonWeather{34, 35, 0, "Hot and dry"}
	case time.June, time.July, time.August, time.September:
		return seasonWeather{29, 82, 8, "Rain"}
	default:
		return seasonWeather{26, 65, 1, "Partly cloudy"}
	}
}

// Weather returns per-state seasonal defaults for the coordinate.
func (g *Generator) Weather(lat, lon float64, state string) models.WeatherData {
	now := g.now()
	s := season(now.Month())
	temp := s.temp
	switch stateClimate[stateKey(state)] {
	case climateNorthern:
		if s.temp < 25 {
			temp -= 5
		} else {
			temp += 3
		}
	case climateSouthern:
		if s.temp < 25 {
			temp += 5
		} else {
			temp -= 3
		}
	case climateArid:
		temp += 4
		s.humidity -= 15
		s.rainfallMM /= 4
	}
	temp += g.between(-1.5, 1.5)
	location := strings.TrimSpace(state)
	if location == "" {
		location = DefaultState
	}
	return models.WeatherData{
		Lat:         lat,
		Lon:         lon,
		Location:    location,
		Temperature: math.Round(temp*10) / 10,
		Conditions:  s.conditions,
		Humidity:    s.humidity,
		WindSpeed:   math.Round(g.between(1.5, 4.5)*10) / 10,
		RainfallMM:  s.rainfallMM,
		Timestamp:   now,
		Source:      models.DataSourceFallback,
	}
}

// Soil returns the dominant soil profile of the state.
func (g *Generator) Soil(lat, lon float64, state string) models.SoilProfile {
	d, ok := stateSoils[stateKey(state)]
	if !ok {
		d = defaultSoil
	}
	return models.SoilProfile{
		Lat:           lat,
		Lon:           lon,
		SoilType:      d.soilType,
		PH:            d.ph,
		OrganicCarbon: d.organicCarbon,
		ClayPct:       d.clay,
		SandPct:       d.sand,
		Timestamp:     g.now(),
		Source:        models.DataSourceFallback,
	}
}
