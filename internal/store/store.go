// Package store persists farmer-entered manual locations in SQLite.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/kisansaathi/farmdata-service/internal/models"
)

// ManualLocation is a location a farmer entered by hand, keyed by user id.
type ManualLocation struct {
	UserID    string    `gorm:"primaryKey;size:128"`
	City      string    `gorm:"size:128;not null"`
	State     string    `gorm:"size:128;not null"`
	Country   string    `gorm:"size:64"`
	Lat       float64   `gorm:"not null"`
	Lon       float64   `gorm:"not null"`
	SavedAt   time.Time `gorm:"index;not null"`
	UpdatedAt time.Time
}

// Record converts the entry into a manual-sourced LocationRecord.
func (m ManualLocation) Record() models.LocationRecord {
	country := m.Country
	if country == "" {
		country = models.DefaultCountry
	}
	return models.LocationRecord{
		City:      m.City,
		State:     m.State,
		Country:   country,
		Lat:       m.Lat,
		Lon:       m.Lon,
		Source:    models.SourceManual,
		Provider:  "saved",
		Timestamp: m.SavedAt.UnixMilli(),
	}
}

// Store is the SQLite-backed manual location table.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path and migrates it.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create DB directory: %w", err)
		}
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.AutoMigrate(&ManualLocation{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Save creates or replaces the entry for loc.UserID, stamping SavedAt.
func (s *Store) Save(ctx context.Context, loc ManualLocation) (ManualLocation, error) {
	if strings.TrimSpace(loc.UserID) == "" {
		return ManualLocation{}, errors.New("user id is required")
	}
	loc.SavedAt = s.now()
	if err := s.db.WithContext(ctx).Save(&loc).Error; err != nil {
		return ManualLocation{}, err
	}
	return loc, nil
}

// Get returns the entry for userID. Not found is (zero, false, nil).
func (s *Store) Get(ctx context.Context, userID string) (ManualLocation, bool, error) {
	var loc ManualLocation
	err := s.db.WithContext(ctx).First(&loc, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ManualLocation{}, false, nil
	}
	if err != nil {
		return ManualLocation{}, false, err
	}
	return loc, true, nil
}

// Delete removes the entry for userID and reports whether one existed.
func (s *Store) Delete(ctx context.Context, userID string) (bool, error) {
	res := s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&ManualLocation{})
	return res.RowsAffected > 0, res.Error
}

// PruneOlderThan deletes entries saved before now-maxAge and returns the
// number removed.
func (s *Store) PruneOlderThan(ctx context.Context, maxAge time.Duration) (int64, error) {
	res := s.db.WithContext(ctx).Where("saved_at < ?", s.now().Add(-maxAge)).Delete(&ManualLocation{})
	return res.RowsAffected, res.Error
}

// Ping checks the database connection. Used for health checks.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
