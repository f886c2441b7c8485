package users

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
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
	if err := db.AutoMigrate(&User{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func mustService(t *testing.T, db *gorm.DB) *Service {
	t.Helper()
	service, err := NewService(ServiceConfig{
		Database:   db,
		IDProvider: NewUUIDProvider(),
		Clock:      time.Now,
	})
	if err != nil {
		t.Fatalf("create service: %v", err)
	}
	return service
}

func TestResolveOrCreateIsIdempotent(t *testing.T) {
	db := mustOpenDatabase(t)
	service := mustService(t, db)
	ctx := context.Background()

	first, err := service.ResolveOrCreate(ctx, "Maker@Example.com", "Maker")
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	second, err := service.ResolveOrCreate(ctx, "maker@example.com", "Different Name")
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("same email must resolve to the same account: %q vs %q", first.ID, second.ID)
	}
	if second.Name != "Maker" {
		t.Fatalf("existing rows must not be updated, got name %q", second.Name)
	}

	var count int64
	if err := db.Model(&User{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one user row, got %d", count)
	}
}

func TestResolveOrCreateNormalizesEmail(t *testing.T) {
	service := mustService(t, mustOpenDatabase(t))

	user, err := service.ResolveOrCreate(context.Background(), "  Studio@Example.COM ", "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if user.Email != "studio@example.com" {
		t.Fatalf("email not normalized: %q", user.Email)
	}
}

func TestResolveOrCreateRejectsInvalidEmail(t *testing.T) {
	service := mustService(t, mustOpenDatabase(t))

	for _, email := range []string{"", "   ", "not-an-email"} {
		if _, err := service.ResolveOrCreate(context.Background(), email, ""); !errors.Is(err, ErrInvalidEmail) {
			t.Fatalf("expected ErrInvalidEmail for %q, got %v", email, err)
		}
	}
}

func TestGetReturnsExistingUser(t *testing.T) {
	service := mustService(t, mustOpenDatabase(t))
	ctx := context.Background()

	created, err := service.ResolveOrCreate(ctx, "maker@example.com", "Maker")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	fetched, err := service.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if fetched.Email != "maker@example.com" {
		t.Fatalf("unexpected user: %#v", fetched)
	}
}
