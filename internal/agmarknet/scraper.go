// Package agmarknet scrapes daily mandi prices from the Agmarknet portal's
// ASP.NET search form.
package agmarknet

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kisansaathi/farmdata-service/internal/apperr"
	"github.com/kisansaathi/farmdata-service/internal/fetch"
	"github.com/kisansaathi/farmdata-service/internal/models"
	"github.com/kisansaathi/farmdata-service/internal/observability"
)

const (
	DefaultBaseURL  = "https://agmarknet.gov.in"
	DefaultFormPath = "/SearchCmmMkt.aspx"
	DefaultGridID   = "GridPriceData"
	DefaultLookback = 7 * 24 * time.Hour

	commoditySelect = "ddlCommodity"
	stateSelect     = "ddlState"
	formDateLayout  = "02-Jan-2006"
)

// gridDateLayouts are the formats the grid has used for its date column.
var gridDateLayouts = []string{"02 Jan 2006", "02-Jan-2006", "02/01/2006", "2006-01-02"}

// Options configures a Scraper.
type Options struct {
	BaseURL  string
	FormPath string
	GridID   string
	Lookback time.Duration
	Now      func() time.Time
}

// Scraper runs the two-step form protocol: GET the search page for its
// tokens and option values, then POST the filled form in the same session.
type Scraper struct {
	client   *fetch.Client
	formURL  string
	gridID   string
	lookback time.Duration
	now      func() time.Time
}

// New returns a Scraper using client for both requests. The client's
// timeout bounds each request separately.
func New(client *fetch.Client, opts Options) *Scraper {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	path := opts.FormPath
	if path == "" {
		path = DefaultFormPath
	}
	if opts.GridID == "" {
		opts.GridID = DefaultGridID
	}
	if opts.Lookback <= 0 {
		opts.Lookback = DefaultLookback
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scraper{
		client:   client,
		formURL:  base + path,
		gridID:   opts.GridID,
		lookback: opts.Lookback,
		now:      opts.Now,
	}
}

// Scrape returns the price rows for q. Failures are typed: token extraction
// gives apperr.ErrParse (and no POST is made), an unknown commodity or state
// or an empty grid gives apperr.ErrNoData, transport problems come from
// fetch unchanged.
func (s *Scraper) Scrape(ctx context.Context, q models.PriceQuery) ([]models.MarketPriceRecord, error) {
	logger := observability.LoggerFromContext(ctx)
	session := s.client.Session()

	page, err := session.Get(ctx, s.formURL, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("agmarknet form: %w", err)
	}
	form, err := ParseForm(page.Body)
	if err != nil {
		return nil, fmt.Errorf("agmarknet form: %w", err)
	}

	commodityField, commodityOpts, ok := form.SelectNamed(commoditySelect)
	if !ok {
		return nil, fmt.Errorf("agmarknet form: %w: commodity select missing", apperr.ErrParse)
	}
	stateField, stateOpts, ok := form.SelectNamed(stateSelect)
	if !ok {
		return nil, fmt.Errorf("agmarknet form: %w: state select missing", apperr.ErrParse)
	}
	commodity, ok := MatchOption(commodityOpts, q.Commodity)
	if !ok {
		return nil, fmt.Errorf("agmarknet: %w: commodity %q not offered", apperr.ErrNoData, q.Commodity)
	}
	state, ok := MatchOption(stateOpts, q.State)
	if !ok {
		return nil, fmt.Errorf("agmarknet: %w: state %q not offered", apperr.ErrNoData, q.State)
	}

	values := s.postValues(form, commodityField, commodity.Value, stateField, state.Value)
	result, err := session.Do(ctx, fetch.Request{URL: s.formURL, Form: values})
	if err != nil {
		return nil, fmt.Errorf("agmarknet search: %w", err)
	}
	rows, err := ParseGrid(result.Body, s.gridID)
	if err != nil {
		return nil, fmt.Errorf("agmarknet search: %w", err)
	}
	if q.Market != "" {
		rows = filterMarket(rows, q.Market)
		if len(rows) == 0 {
			return nil, fmt.Errorf("agmarknet: %w: market %q has no rows", apperr.ErrNoData, q.Market)
		}
	}

	records := toRecords(rows, commodity.Label, state.Label)
	logger.Debug("Agmarknet scrape parsed",
		zap.String("commodity", commodity.Label),
		zap.String("state", state.Label),
		zap.Int("rows", len(records)),
	)
	return records, nil
}

func (s *Scraper) postValues(form Form, commodityField, commodityValue, stateField, stateValue string) url.Values {
	v := url.Values{}
	for name, val := range form.Hidden {
		v.Set(name, val)
	}
	// The "Go" button's postback is what triggers the search.
	v.Set("__EVENTTARGET", "")
	v.Set("__EVENTARGUMENT", "")
	prefix := strings.TrimSuffix(commodityField, commoditySelect)
	v.Set(commodityField, commodityValue)
	v.Set(stateField, stateValue)
	v.Set(prefix+"ddlArrivalPrice", "0")
	v.Set(prefix+"ddlDistrict", "0")
	v.Set(prefix+"ddlMarket", "0")
	now := s.now()
	v.Set(prefix+"txtDate", now.Add(-s.lookback).Format(formDateLayout))
	v.Set(prefix+"txtDateTo", now.Format(formDateLayout))
	v.Set(prefix+"btnGo", "Go")
	return v
}

func filterMarket(rows []Row, market string) []Row {
	want := strings.ToLower(strings.TrimSpace(market))
	out := rows[:0:0]
	for _, r := range rows {
		if strings.Contains(strings.ToLower(r.Market), want) {
			out = append(out, r)
		}
	}
	return out
}

// toRecords converts grid rows and derives trend from consecutive dates of
// the same market and variety. A row with no earlier row is stable.
func toRecords(rows []Row, commodity, state string) []models.MarketPriceRecord {
	records := make([]models.MarketPriceRecord, len(rows))
	type dated struct {
		idx  int
		when time.Time
	}
	groups := make(map[string][]dated)
	for i, r := range rows {
		name := r.Commodity
		if name == "" {
			name = commodity
		}
		records[i] = models.MarketPriceRecord{
			Commodity:  name,
			Variety:    r.Variety,
			Market:     r.Market,
			District:   r.District,
			State:      state,
			MinPrice:   r.MinPrice,
			MaxPrice:   r.MaxPrice,
			ModalPrice: r.ModalPrice,
			Unit:       models.PriceUnit,
			Date:       r.Date,
			Trend:      models.TrendStable,
			Source:     models.PriceSourceScraped,
		}
		if when, ok := parseGridDate(r.Date); ok {
			key := strings.ToLower(r.Market + "|" + r.Variety)
			groups[key] = append(groups[key], dated{idx: i, when: when})
		}
	}
	for _, g := range groups {
		sort.SliceStable(g, func(a, b int) bool { return g[a].when.Before(g[b].when) })
		for k := 1; k < len(g); k++ {
			prev := records[g[k-1].idx].ModalPrice
			cur := &records[g[k].idx]
			cur.PriceChange = cur.ModalPrice - prev
			cur.Trend = models.TrendBetween(prev, cur.ModalPrice)
		}
	}
	return records
}

func parseGridDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range gridDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
