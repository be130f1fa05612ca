package models

type PriceSource string

const (
	PriceSourceScraped  PriceSource = "scraped"
	PriceSourceCache    PriceSource = "cache"
	PriceSourceFallback PriceSource = "fallback"
)

type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

// PriceUnit is the unit Agmarknet reports prices in.
const PriceUnit = "Rs/Quintal"

// MarketPriceRecord is one commodity price row for a market. Scraped rows are
// trusted as-is; only fallback rows guarantee MinPrice <= ModalPrice <= MaxPrice.
type MarketPriceRecord struct {
	Commodity   string      `json:"commodity"`
	Variety     string      `json:"variety,omitempty"`
	Market      string      `json:"market"`
	District    string      `json:"district,omitempty"`
	State       string      `json:"state"`
	MinPrice    float64     `json:"minPrice"`
	MaxPrice    float64     `json:"maxPrice"`
	ModalPrice  float64     `json:"modalPrice"`
	PriceChange float64     `json:"priceChange"`
	Unit        string      `json:"unit"`
	Date        string      `json:"date"`
	Trend       Trend       `json:"trend"`
	Source      PriceSource `json:"source"`
}

// PriceQuery identifies a market-price lookup.
type PriceQuery struct {
	Commodity string `json:"cropType"`
	State     string `json:"state"`
	Market    string `json:"market,omitempty"`
}

// TrendThreshold is the relative modal-price move that counts as a trend.
const TrendThreshold = 0.02

// TrendBetween classifies a move from prev to cur. A non-positive prev is
// treated as stable.
func TrendBetween(prev, cur float64) Trend {
	if prev <= 0 {
		return TrendStable
	}
	ratio := (cur - prev) / prev
	switch {
	case ratio >= TrendThreshold:
		return TrendIncreasing
	case ratio <= -TrendThreshold:
		return TrendDecreasing
	default:
		return TrendStable
	}
}
