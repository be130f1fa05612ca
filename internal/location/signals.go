package location

import (
	"context"
	"errors"
	"sync"

	"github.com/kisansaathi/farmdata-service/internal/models"
)

// Signals is everything the client told us about where it might be.
type Signals struct {
	UserID      string
	IPAddress   string
	UserAgent   string
	TimeZone    string
	Language    string
	NetworkInfo string
	GPS         FixSource
	Manual      *models.LocationRecord
}

// Fix is one GPS reading. Accuracy is the reported radius in meters.
type Fix struct {
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Accuracy float64 `json:"accuracy"`
}

// ErrNoMoreFixes is returned by a FixSource that has nothing further to offer.
var ErrNoMoreFixes = errors.New("no more GPS fixes")

// FixSource yields successive GPS readings, one per attempt.
type FixSource interface {
	NextFix(ctx context.Context) (Fix, error)
}

// SliceFixes serves fixes the client collected before calling us, in order.
type SliceFixes struct {
	mu    sync.Mutex
	fixes []Fix
}

// NewSliceFixes returns a FixSource over fixes, or nil if there are none.
func NewSliceFixes(fixes []Fix) FixSource {
	if len(fixes) == 0 {
		return nil
	}
	return &SliceFixes{fixes: append([]Fix(nil), fixes...)}
}

// NextFix pops the next fix.
func (s *SliceFixes) NextFix(ctx context.Context) (Fix, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.fixes) == 0 {
		return Fix{}, ErrNoMoreFixes
	}
	f := s.fixes[0]
	s.fixes = s.fixes[1:]
	return f, nil
}
