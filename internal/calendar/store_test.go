package calendar

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/creatorlab/socialstudio/backend/internal/pipeline"
)

func mustOpenDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("database handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Event{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func mustStore(t *testing.T, db *gorm.DB) *Store {
	t.Helper()
	store, err := NewStore(StoreConfig{
		Database:   db,
		IDProvider: NewUUIDProvider(),
		Clock:      func() time.Time { return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	return store
}

func TestNormalizeDate(t *testing.T) {
	testCases := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "bare date stored as-is", input: "2025-03-04", want: "2025-03-04"},
		{name: "utc before midnight", input: "2025-03-04T23:50:00Z", want: "2025-03-04"},
		{name: "utc after midnight", input: "2025-03-05T00:10:00Z", want: "2025-03-05"},
		{name: "offset crosses the date line", input: "2025-03-04T20:10:00-08:00", want: "2025-03-05"},
		{name: "blank", input: "   ", wantErr: true},
		{name: "garbage", input: "next tuesday", wantErr: true},
		{name: "malformed date", input: "2025-13-99", wantErr: true},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			got, err := NormalizeDate(testCase.input)
			if testCase.wantErr {
				var validationErr *pipeline.ValidationError
				if !errors.As(err, &validationErr) {
					t.Fatalf("expected ValidationError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != testCase.want {
				t.Fatalf("NormalizeDate(%q) = %q, want %q", testCase.input, got, testCase.want)
			}
		})
	}
}

func TestAddStoresNormalizedDate(t *testing.T) {
	store := mustStore(t, mustOpenDatabase(t))

	event, err := store.Add(context.Background(), "user-1", "Launch teaser", "first reel", "2025-03-04T23:50:00Z")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if event.Date != "2025-03-04" {
		t.Fatalf("expected normalized date, got %q", event.Date)
	}
	if len(event.Date) > 10 {
		t.Fatalf("stored date must never exceed 10 characters: %q", event.Date)
	}
}

func TestAddRejectsBlankTitle(t *testing.T) {
	store := mustStore(t, mustOpenDatabase(t))
	_, err := store.Add(context.Background(), "user-1", "  ", "", "2025-03-04")
	var validationErr *pipeline.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestListOrdersByDate(t *testing.T) {
	store := mustStore(t, mustOpenDatabase(t))
	ctx := context.Background()

	for _, date := range []string{"2026-09-03", "2026-09-01", "2026-09-02"} {
		if _, err := store.Add(ctx, "user-1", "post "+date, "", date); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	events, err := store.List(ctx, "user-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i-1].Date > events[i].Date {
			t.Fatalf("events out of order: %q before %q", events[i-1].Date, events[i].Date)
		}
	}
}

func TestUpdateIsOwnerScoped(t *testing.T) {
	store := mustStore(t, mustOpenDatabase(t))
	ctx := context.Background()

	event, err := store.Add(ctx, "user-1", "original", "", "2026-09-01")
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	title := "renamed"
	if _, err := store.Update(ctx, "user-2", event.ID, Patch{Title: &title}); !errors.Is(err, ErrEventNotFound) {
		t.Fatalf("foreign owner must see not-found, got %v", err)
	}

	updated, err := store.Update(ctx, "user-1", event.ID, Patch{Title: &title})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Title != "renamed" {
		t.Fatalf("unexpected title %q", updated.Title)
	}
	if updated.Date != "2026-09-01" {
		t.Fatalf("unpatched fields must persist, got date %q", updated.Date)
	}
}

func TestUpdateNormalizesPatchedDate(t *testing.T) {
	store := mustStore(t, mustOpenDatabase(t))
	ctx := context.Background()

	event, err := store.Add(ctx, "user-1", "post", "", "2026-09-01")
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	date := "2025-03-05T00:10:00Z"
	updated, err := store.Update(ctx, "user-1", event.ID, Patch{Date: &date})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Date != "2025-03-05" {
		t.Fatalf("expected normalized date, got %q", updated.Date)
	}
}

func TestRemoveIsOwnerScoped(t *testing.T) {
	store := mustStore(t, mustOpenDatabase(t))
	ctx := context.Background()

	event, err := store.Add(ctx, "user-1", "post", "", "2026-09-01")
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	if err := store.Remove(ctx, "user-2", event.ID); !errors.Is(err, ErrEventNotFound) {
		t.Fatalf("foreign owner must see not-found, got %v", err)
	}
	if err := store.Remove(ctx, "user-1", event.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := store.Remove(ctx, "user-1", event.ID); !errors.Is(err, ErrEventNotFound) {
		t.Fatalf("second remove must report not-found, got %v", err)
	}
}
