package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kisansaathi/farmdata-service/internal/apperr"
	"github.com/kisansaathi/farmdata-service/internal/cache"
	"github.com/kisansaathi/farmdata-service/internal/fallback"
	"github.com/kisansaathi/farmdata-service/internal/location"
	"github.com/kisansaathi/farmdata-service/internal/models"
	"github.com/kisansaathi/farmdata-service/internal/observability"
	"github.com/kisansaathi/farmdata-service/internal/store"
	"github.com/kisansaathi/farmdata-service/internal/traffic"
	"github.com/kisansaathi/farmdata-service/internal/validation"
)

const locationKind = "location"

// ErrStoreUnavailable is returned by manual-entry operations when no store
// is configured.
var ErrStoreUnavailable = errors.New("manual location store not configured")

// Resolver runs the location cascade.
type Resolver interface {
	Run(ctx context.Context, sig location.Signals) (location.Resolution, error)
}

// ManualStore persists manual entries per user.
type ManualStore interface {
	Save(ctx context.Context, loc store.ManualLocation) (store.ManualLocation, error)
	Delete(ctx context.Context, userID string) (bool, error)
}

// LocationOptions tunes a LocationService. Zero values use package defaults.
type LocationOptions struct {
	TTL             time.Duration
	CoalesceTimeout time.Duration
}

// LocationService resolves locations through the cascade with a short-lived
// per-subject cache, and manages saved manual entries.
type LocationService struct {
	resolver  Resolver
	cache     cache.Cache[location.Resolution]
	store     ManualStore
	fallback  *fallback.Generator
	ttl       time.Duration
	coalescer *requestCoalescer[location.Resolution]
	stampede  *stampedeTracker
	logger    *zap.Logger
}

// NewLocationService wires a location service. st may be nil, in which case
// SaveManual and DeleteManual return ErrStoreUnavailable.
func NewLocationService(resolver Resolver, c cache.Cache[location.Resolution], st ManualStore, gen *fallback.Generator, logger *zap.Logger, opts LocationOptions) *LocationService {
	if opts.TTL <= 0 {
		opts.TTL = cache.LocationTTL
	}
	return &LocationService{
		resolver:  resolver,
		cache:     c,
		store:     st,
		fallback:  gen,
		ttl:       opts.TTL,
		coalescer: newRequestCoalescer[location.Resolution](orTimeout(opts.CoalesceTimeout)),
		stampede:  newStampedeTracker(locationKind),
		logger:    orNop(logger),
	}
}

// cacheSubject is the user id, else the IP. Requests carrying GPS fixes or a
// manual entry describe where the farmer is right now and are never cached.
func cacheSubject(sig location.Signals) string {
	if sig.GPS != nil || sig.Manual != nil {
		return ""
	}
	if s := strings.TrimSpace(sig.UserID); s != "" {
		return "user:" + s
	}
	if s := strings.TrimSpace(sig.IPAddress); s != "" {
		return "ip:" + s
	}
	return ""
}

// Resolve always yields a record. If the cascade is exhausted the fixed
// reference point is returned.
func (s *LocationService) Resolve(ctx context.Context, sig location.Signals) location.Resolution {
	logger := observability.LoggerOr(ctx, s.logger)
	subject := cacheSubject(sig)
	if subject == "" {
		return s.finish(s.run(ctx, sig))
	}

	key := cache.LocationKey(subject)
	if res, ok := lookup(ctx, s.cache, locationKind, key, logger); ok {
		traffic.Record(traffic.OutcomeLive)
		return res
	}

	s.stampede.RecordMiss(key)
	defer s.stampede.Done(key)
	res, shared, err := s.coalescer.GetOrDo(ctx, key, func(ctx context.Context) (location.Resolution, error) {
		res := s.run(ctx, sig)
		if res.Source != models.SourceFallback {
			remember(ctx, s.cache, locationKind, key, res, s.ttl, observability.LoggerOr(ctx, s.logger))
		}
		return res, nil
	})
	if shared {
		observability.CoalescedRequestsTotal.WithLabelValues(locationKind).Inc()
	}
	if err != nil {
		// Only the wait can fail; resolve without sharing.
		logger.Warn("Coalesced location wait failed", zap.String("key", key), zap.Error(err))
		res = s.run(ctx, sig)
	}
	return s.finish(res)
}

func (s *LocationService) run(ctx context.Context, sig location.Signals) location.Resolution {
	res, err := s.resolver.Run(ctx, sig)
	if err == nil {
		return res
	}
	observability.LoggerOr(ctx, s.logger).Warn("Location cascade exhausted, using reference point",
		zap.String("category", string(apperr.Categorize(err))),
		zap.Error(err),
	)
	rec := s.fallback.Location()
	res.LocationRecord = rec
	note := fmt.Sprintf("no stage resolved; using reference point %s, %s", rec.City, rec.State)
	if res.Reasoning != "" {
		res.Reasoning += "; " + note
	} else {
		res.Reasoning = note
	}
	res.Attempts = append(res.Attempts, location.Attempt{Stage: string(models.SourceFallback), Outcome: location.OutcomeAccepted})
	return res
}

func (s *LocationService) finish(res location.Resolution) location.Resolution {
	if res.Source == models.SourceFallback {
		servedFallback(locationKind)
	} else {
		traffic.Record(traffic.OutcomeLive)
	}
	return res
}

// SaveManual validates and stores a farmer's manual entry, and drops any
// cached resolution for that user.
func (s *LocationService) SaveManual(ctx context.Context, userID string, rec models.LocationRecord) (store.ManualLocation, error) {
	if s.store == nil {
		return store.ManualLocation{}, ErrStoreUnavailable
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return store.ManualLocation{}, apperr.Rejected("userId is required")
	}
	if err := validation.AcceptLocation(rec, validation.Rules{}); err != nil {
		return store.ManualLocation{}, err
	}
	if err := validation.ValidateCoordinates(rec.Lat, rec.Lon); err != nil {
		return store.ManualLocation{}, apperr.Rejected("%v", err)
	}
	saved, err := s.store.Save(ctx, store.ManualLocation{
		UserID:  userID,
		City:    strings.TrimSpace(rec.City),
		State:   strings.TrimSpace(rec.State),
		Country: strings.TrimSpace(rec.Country),
		Lat:     rec.Lat,
		Lon:     rec.Lon,
	})
	if err != nil {
		return store.ManualLocation{}, fmt.Errorf("save manual location: %w", err)
	}
	forget(ctx, s.cache, locationKind, cache.LocationKey("user:"+userID), observability.LoggerOr(ctx, s.logger))
	return saved, nil
}

// DeleteManual forgets a user's saved entry. It reports whether one existed.
func (s *LocationService) DeleteManual(ctx context.Context, userID string) (bool, error) {
	if s.store == nil {
		return false, ErrStoreUnavailable
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false, apperr.Rejected("userId is required")
	}
	existed, err := s.store.Delete(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("delete manual location: %w", err)
	}
	forget(ctx, s.cache, locationKind, cache.LocationKey("user:"+userID), observability.LoggerOr(ctx, s.logger))
	return existed, nil
}
