package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"
)

var (
	// ErrInvalidEmail indicates the supplied email is empty or unusable.
	ErrInvalidEmail = errors.New("users: invalid email")
	errMissingDB    = errors.New("users: database connection required")
)

// IDProvider issues identifiers for newly created users.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies required for account resolution.
type ServiceConfig struct {
	Database   *gorm.DB
	IDProvider IDProvider
	Clock      func() time.Time
}

// Service resolves the owner id for a session, creating the account row on
// first sight.
type Service struct {
	db    *gorm.DB
	ids   IDProvider
	now   func() time.Time
	cache sync.Map
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDB
	}
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("users: id provider required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		db:  cfg.Database,
		ids: cfg.IDProvider,
		now: clock,
	}, nil
}

// ResolveOrCreate returns the user row for the given email, creating it when
// the email has not been seen before. Existing rows are never updated.
func (s *Service) ResolveOrCreate(ctx context.Context, email, name string) (User, error) {
	key := normalizeEmail(email)
	if key == "" || !strings.Contains(key, "@") {
		return User{}, fmt.Errorf("%w: %q", ErrInvalidEmail, email)
	}

	if cached, ok := s.cache.Load(key); ok {
		if user, ok := cached.(User); ok {
			return user, nil
		}
	}

	var user User
	err := s.db.WithContext(ctx).Where("email = ?", key).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		id, idErr := s.ids.NewID()
		if idErr != nil {
			return User{}, idErr
		}
		user = User{
			ID:               id,
			Email:            key,
			Name:             strings.TrimSpace(name),
			CreatedAtSeconds: s.now().UTC().Unix(),
		}
		if createErr := s.db.WithContext(ctx).Create(&user).Error; createErr != nil {
			return User{}, createErr
		}
	} else if err != nil {
		return User{}, err
	}

	s.cache.Store(key, user)
	return user, nil
}

// Get returns the user row for the given id.
func (s *Service) Get(ctx context.Context, id string) (User, error) {
	var user User
	if err := s.db.WithContext(ctx).Where("id = ?", strings.TrimSpace(id)).First(&user).Error; err != nil {
		return User{}, err
	}
	return user, nil
}
