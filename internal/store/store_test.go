package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/kisansaathi/farmdata-service/internal/models"
)

func setupTestStore(t *testing.T) (*Store, *time.Time) {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "data", "manual.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	now := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	return s, &now
}

func TestSaveAndGet(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	saved, err := s.Save(ctx, ManualLocation{UserID: "farmer-1", City: "Wardha", State: "Maharashtra", Lat: 20.74, Lon: 78.6})
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if saved.SavedAt.IsZero() {
		t.Error("Save() did not stamp SavedAt")
	}

	got, ok, err := s.Get(ctx, "farmer-1")
	if err != nil || !ok {
		t.Fatalf("Get() = %v, %v", ok, err)
	}
	if got.City != "Wardha" || got.Lat != 20.74 {
		t.Errorf("Get() = %+v", got)
	}

	rec := got.Record()
	if rec.Source != models.SourceManual || rec.Country != "India" {
		t.Errorf("Record() = %+v", rec)
	}
}

func TestSaveReplaces(t *testing.T) {
	s, now := setupTestStore(t)
	ctx := context.Background()

	_, _ = s.Save(ctx, ManualLocation{UserID: "u", City: "Wardha", State: "Maharashtra", Lat: 20.7, Lon: 78.6})
	*now = now.Add(time.Hour)
	_, _ = s.Save(ctx, ManualLocation{UserID: "u", City: "Akola", State: "Maharashtra", Lat: 20.7, Lon: 77.0})

	got, _, _ := s.Get(ctx, "u")
	if got.City != "Akola" {
		t.Errorf("City = %q, want Akola", got.City)
	}
	if !got.SavedAt.Equal(*now) {
		t.Errorf("SavedAt = %v, want %v", got.SavedAt, *now)
	}
}

func TestGetMissing(t *testing.T) {
	s, _ := setupTestStore(t)
	_, ok, err := s.Get(context.Background(), "nobody")
	if err != nil || ok {
		t.Errorf("Get() = %v, %v; want false, nil", ok, err)
	}
}

func TestDelete(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()
	_, _ = s.Save(ctx, ManualLocation{UserID: "u", City: "Wardha", State: "Maharashtra", Lat: 20.7, Lon: 78.6})

	existed, err := s.Delete(ctx, "u")
	if err != nil || !existed {
		t.Fatalf("Delete() = %v, %v", existed, err)
	}
	existed, _ = s.Delete(ctx, "u")
	if existed {
		t.Error("second Delete() existed = true")
	}
}

func TestPruneOlderThan(t *testing.T) {
	s, now := setupTestStore(t)
	ctx := context.Background()
	_, _ = s.Save(ctx, ManualLocation{UserID: "old", City: "A", State: "B", Lat: 1, Lon: 1})
	*now = now.Add(8 * 24 * time.Hour)
	_, _ = s.Save(ctx, ManualLocation{UserID: "new", City: "A", State: "B", Lat: 1, Lon: 1})

	n, err := s.PruneOlderThan(ctx, 7*24*time.Hour)
	if err != nil || n != 1 {
		t.Fatalf("PruneOlderThan() = %d, %v; want 1", n, err)
	}
	if _, ok, _ := s.Get(ctx, "new"); !ok {
		t.Error("recent entry pruned")
	}
}

func TestSaveRequiresUserID(t *testing.T) {
	s, _ := setupTestStore(t)
	if _, err := s.Save(context.Background(), ManualLocation{City: "A", State: "B"}); err == nil {
		t.Error("Save() without user id error = nil")
	}
}
