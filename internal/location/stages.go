package location

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kisansaathi/farmdata-service/internal/apperr"
	"github.com/kisansaathi/farmdata-service/internal/fallback"
	"github.com/kisansaathi/farmdata-service/internal/geo"
	"github.com/kisansaathi/farmdata-service/internal/models"
	"github.com/kisansaathi/farmdata-service/internal/store"
	"github.com/kisansaathi/farmdata-service/internal/validation"
)

const (
	manualConfidence    = 90
	manualAccuracy      = 95
	heuristicConfidence = 40

	DefaultGPSMaxAccuracy = 100.0
	DefaultGPSAttempts    = 3
	DefaultGPSRetryDelay  = time.Second
)

// ManualStore looks up saved manual locations.
type ManualStore interface {
	Get(ctx context.Context, userID string) (store.ManualLocation, bool, error)
}

// ManualStage uses a location the farmer typed in: the one on the request,
// else the one saved for the user if it is recent enough.
type ManualStage struct {
	store  ManualStore
	maxAge time.Duration
	now    func() time.Time
}

// NewManualStage returns the manual stage. store may be nil.
func NewManualStage(s ManualStore, maxAge time.Duration, now func() time.Time) *ManualStage {
	if maxAge <= 0 {
		maxAge = validation.DefaultManualMaxAge
	}
	if now == nil {
		now = time.Now
	}
	return &ManualStage{store: s, maxAge: maxAge, now: now}
}

func (s *ManualStage) Name() string { return string(models.SourceManual) }

func (s *ManualStage) Resolve(ctx context.Context, sig Signals) (models.LocationRecord, error) {
	var rec models.LocationRecord
	switch {
	case sig.Manual != nil:
		rec = *sig.Manual
		rec.Provider = "request"
		rec.Timestamp = s.now().UnixMilli()
	case sig.UserID != "" && s.store != nil:
		saved, ok, err := s.store.Get(ctx, sig.UserID)
		if err != nil {
			return models.LocationRecord{}, fmt.Errorf("manual store: %w", err)
		}
		if !ok {
			return models.LocationRecord{}, noData("no saved location for user")
		}
		if err := validation.Stale(saved.SavedAt, s.maxAge, s.now()); err != nil {
			return models.LocationRecord{}, err
		}
		rec = saved.Record()
	default:
		return models.LocationRecord{}, noData("no manual location")
	}
	if rec.Country == "" {
		rec.Country = models.DefaultCountry
	}
	rec.Source = models.SourceManual
	rec.Confidence = manualConfidence
	rec.Accuracy = manualAccuracy
	rec.AccuracyUnit = models.AccuracyConfidencePc
	return rec, validation.AcceptLocation(rec, validation.Rules{})
}

// GPSStage takes caller-supplied fixes, keeps the first precise one and
// names it through the reverse geocoders in order.
type GPSStage struct {
	geocoders   []geo.ReverseGeocoder
	maxAccuracy float64
	attempts    int
	retryDelay  time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
	now         func() time.Time
}

// GPSOptions tunes the GPS stage. Zero values take the defaults.
type GPSOptions struct {
	MaxAccuracy float64
	Attempts    int
	RetryDelay  time.Duration
}

// NewGPSStage returns the GPS stage over geocoders (Nominatim first).
func NewGPSStage(opts GPSOptions, geocoders ...geo.ReverseGeocoder) *GPSStage {
	if opts.MaxAccuracy <= 0 {
		opts.MaxAccuracy = DefaultGPSMaxAccuracy
	}
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultGPSAttempts
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = 0
	}
	return &GPSStage{
		geocoders:   geocoders,
		maxAccuracy: opts.MaxAccuracy,
		attempts:    opts.Attempts,
		retryDelay:  opts.RetryDelay,
		sleep:       sleepCtx,
		now:         time.Now,
	}
}

func (s *GPSStage) Name() string { return string(models.SourceGPS) }

func (s *GPSStage) Resolve(ctx context.Context, sig Signals) (models.LocationRecord, error) {
	if sig.GPS == nil {
		return models.LocationRecord{}, noData("no GPS fixes")
	}
	fix, err := s.acquire(ctx, sig.GPS)
	if err != nil {
		return models.LocationRecord{}, err
	}

	var errs []error
	for _, g := range s.geocoders {
		rec, err := g.Reverse(ctx, fix.Lat, fix.Lon)
		if err == nil {
			rec.Lat, rec.Lon = fix.Lat, fix.Lon
			err = validation.AcceptLocation(rec, validation.Rules{})
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", g.Name(), err))
			continue
		}
		if rec.Country == "" {
			rec.Country = models.DefaultCountry
		}
		rec.Source = models.SourceGPS
		rec.Accuracy = fix.Accuracy
		rec.AccuracyUnit = models.AccuracyMeters
		rec.Confidence = GPSConfidence(fix.Accuracy)
		rec.Timestamp = s.now().UnixMilli()
		return rec, nil
	}
	if len(errs) == 0 {
		return models.LocationRecord{}, noData("no reverse geocoder configured")
	}
	return models.LocationRecord{}, errors.Join(errs...)
}

// acquire reads up to s.attempts fixes, waiting retryDelay*attempt between
// them, and returns the first within maxAccuracy.
func (s *GPSStage) acquire(ctx context.Context, src FixSource) (Fix, error) {
	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		fix, err := src.NextFix(ctx)
		if errors.Is(err, ErrNoMoreFixes) {
			break
		}
		if err == nil {
			err = s.checkFix(fix)
		}
		if err == nil {
			return fix, nil
		}
		lastErr = err
		if attempt < s.attempts && s.retryDelay > 0 {
			if err := s.sleep(ctx, s.retryDelay*time.Duration(attempt)); err != nil {
				return Fix{}, fmt.Errorf("%w: %w", apperr.ErrTimeout, err)
			}
		}
	}
	if lastErr == nil {
		return Fix{}, noData("no GPS fixes")
	}
	return Fix{}, lastErr
}

func (s *GPSStage) checkFix(f Fix) error {
	if err := validation.ValidateCoordinates(f.Lat, f.Lon); err != nil {
		return apperr.Rejected("GPS fix %v,%v: %v", f.Lat, f.Lon, err)
	}
	if f.Lat == 0 && f.Lon == 0 {
		return apperr.Rejected("GPS fix at null island")
	}
	if math.IsNaN(f.Accuracy) || f.Accuracy <= 0 || f.Accuracy > s.maxAccuracy {
		return apperr.Rejected("GPS accuracy %.0fm exceeds %.0fm", f.Accuracy, s.maxAccuracy)
	}
	return nil
}

// GPSConfidence maps a fix radius to a 0-100 confidence.
func GPSConfidence(accuracyM float64) int {
	switch {
	case accuracyM <= 20:
		return 95
	case accuracyM <= 50:
		return 90
	default:
		return 85
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IPStage asks IP geolocation providers in priority order. Records whose
// city is block-listed are rejected and the next provider is tried.
type IPStage struct {
	providers []geo.IPProvider
	rules     validation.Rules
	parallel  bool
	logger    *zap.Logger
}

// NewIPStage returns the IP stage. In parallel mode every provider is
// queried at once; the highest-priority accepted answer still wins, and the
// lookups behind it are cancelled as soon as it is known.
func NewIPStage(rules validation.Rules, parallel bool, logger *zap.Logger, providers ...geo.IPProvider) *IPStage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IPStage{providers: providers, rules: rules, parallel: parallel, logger: logger}
}

func (s *IPStage) Name() string { return string(models.SourceIPLookup) }

func (s *IPStage) Resolve(ctx context.Context, sig Signals) (models.LocationRecord, error) {
	ip := strings.TrimSpace(sig.IPAddress)
	if !geo.PublicIP(ip) {
		return models.LocationRecord{}, noData("no public IP address")
	}
	if len(s.providers) == 0 {
		return models.LocationRecord{}, noData("no IP providers configured")
	}

	type answer struct {
		rec models.LocationRecord
		err error
	}
	answers := make([]answer, len(s.providers))
	lookup := func(ctx context.Context, i int) answer {
		p := s.providers[i]
		rec, err := p.Lookup(ctx, ip)
		if err == nil {
			err = validation.AcceptLocation(rec, s.rules)
		}
		if err != nil {
			s.logger.Debug("IP provider did not resolve", zap.String("provider", p.Name()), zap.Error(err))
			return answer{err: fmt.Errorf("%s: %w", p.Name(), err)}
		}
		return answer{rec: rec}
	}

	if s.parallel {
		// settled[i] is set once provider i has answered. As soon as every
		// provider ahead of an accepted one has failed, that answer wins and
		// the remaining lookups are cancelled.
		var mu sync.Mutex
		settled := make([]bool, len(s.providers))
		g, gctx := errgroup.WithContext(ctx)
		for i := range s.providers {
			g.Go(func() error {
				a := lookup(gctx, i)
				mu.Lock()
				defer mu.Unlock()
				answers[i], settled[i] = a, true
				for j := range settled {
					if !settled[j] {
						return nil
					}
					if answers[j].err == nil {
						return errIPResolved
					}
				}
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i := range s.providers {
			answers[i] = lookup(ctx, i)
			if answers[i].err == nil {
				return answers[i].rec, nil
			}
		}
	}

	var errs []error
	for _, a := range answers {
		if a.err == nil {
			return a.rec, nil
		}
		errs = append(errs, a.err)
	}
	return models.LocationRecord{}, errors.Join(errs...)
}

// errIPResolved stops the parallel lookup group once a winner is known.
var errIPResolved = errors.New("ip lookup resolved")

type zoneGuess struct {
	city, state, country string
	lat, lon             float64
}

// singleZoneTimezones name countries that use one zone everywhere, where a
// timezone says nothing about the region.
var singleZoneTimezones = map[string]bool{
	"Asia/Kolkata":  true,
	"Asia/Calcutta": true,
}

var zoneTable = map[string]zoneGuess{
	"Asia/Kathmandu": {"Kathmandu", "Bagmati", "Nepal", 27.7172, 85.3240},
	"Asia/Katmandu":  {"Kathmandu", "Bagmati", "Nepal", 27.7172, 85.3240},
	"Asia/Dhaka":     {"Dhaka", "Dhaka Division", "Bangladesh", 23.8103, 90.4125},
	"Asia/Thimphu":   {"Thimphu", "Thimphu", "Bhutan", 27.4728, 89.6390},
	"Asia/Colombo":   {"Colombo", "Western Province", "Sri Lanka", 6.9271, 79.8612},
	"Asia/Karachi":   {"Karachi", "Sindh", "Pakistan", 24.8607, 67.0011},
}

// HeuristicStage guesses a region from the browser timezone. For a
// single-zone country it deliberately returns nothing.
type HeuristicStage struct {
	now func() time.Time
}

// NewHeuristicStage returns the timezone heuristic stage.
func NewHeuristicStage() *HeuristicStage {
	return &HeuristicStage{now: time.Now}
}

func (s *HeuristicStage) Name() string { return string(models.SourceHeuristic) }

func (s *HeuristicStage) Resolve(ctx context.Context, sig Signals) (models.LocationRecord, error) {
	tz := strings.TrimSpace(sig.TimeZone)
	if tz == "" {
		return models.LocationRecord{}, noData("no timezone")
	}
	if singleZoneTimezones[tz] {
		return models.LocationRecord{}, noData("timezone %s covers the whole country", tz)
	}
	g, ok := zoneTable[tz]
	if !ok {
		return models.LocationRecord{}, noData("timezone %s not in zone table", tz)
	}
	return models.LocationRecord{
		City:         g.city,
		State:        g.state,
		Country:      g.country,
		Lat:          g.lat,
		Lon:          g.lon,
		Accuracy:     heuristicConfidence,
		AccuracyUnit: models.AccuracyConfidencePc,
		Confidence:   heuristicConfidence,
		Source:       models.SourceHeuristic,
		Provider:     "timezone",
		Timestamp:    s.now().UnixMilli(),
	}, nil
}

// FallbackStage always answers with the generator's reference point.
type FallbackStage struct {
	gen *fallback.Generator
}

// NewFallbackStage returns the terminal stage.
func NewFallbackStage(gen *fallback.Generator) *FallbackStage {
	return &FallbackStage{gen: gen}
}

func (s *FallbackStage) Name() string { return string(models.SourceFallback) }

func (s *FallbackStage) Resolve(ctx context.Context, sig Signals) (models.LocationRecord, error) {
	return s.gen.Location(), nil
}
