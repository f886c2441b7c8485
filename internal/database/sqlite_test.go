package database

import (
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/creatorlab/socialstudio/backend/internal/calendar"
)

func TestOpenSQLiteMigratesSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "studio.db")

	db, err := OpenSQLite(path, zap.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	for _, table := range []string{
		"users", "video_assets", "caption_assets", "thumbnail_assets",
		"metadata_records", "calendar_events", "db_migrations",
	} {
		if !db.Migrator().HasTable(table) {
			t.Fatalf("missing table %q", table)
		}
	}
}

func TestOpenSQLiteRequiresPath(t *testing.T) {
	if _, err := OpenSQLite("", zap.NewNop()); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestTruncateEventDatesRepairsLegacyRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "studio.db")

	db, err := OpenSQLite(path, zap.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	// Simulate a row written before date normalization existed.
	legacy := calendar.Event{
		ID:    "legacy-1",
		Owner: "user-1",
		Title: "old event",
		Date:  "2025-03-04T23:50:00Z",
	}
	if err := db.Create(&legacy).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := truncateEventDates(db); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	var repaired calendar.Event
	if err := db.Where("id = ?", "legacy-1").First(&repaired).Error; err != nil {
		t.Fatalf("query: %v", err)
	}
	if repaired.Date != "2025-03-04" {
		t.Fatalf("expected truncated date, got %q", repaired.Date)
	}
}

func TestMigrationsApplyOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "studio.db")

	db, err := OpenSQLite(path, zap.NewNop())
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if err := sqlDB.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := OpenSQLite(path, zap.NewNop())
	if err != nil {
		t.Fatalf("second open: %v", err)
	}

	var count int64
	if err := reopened.Table("db_migrations").
		Where("name = ?", migrationTruncateEventDates).
		Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("migration ledger must record the migration exactly once, got %d", count)
	}
}
