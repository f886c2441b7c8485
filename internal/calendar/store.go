// Package calendar manages the owner-scoped content planning calendar.
package calendar

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/creatorlab/socialstudio/backend/internal/pipeline"
)

const dateLayout = "2006-01-02"

var (
	errMissingDatabase   = errors.New("calendar: database handle is required")
	errMissingIDProvider = errors.New("calendar: id provider is required")

	// ErrEventNotFound is returned when an event does not exist or belongs
	// to a different owner. The two cases are deliberately indistinguishable.
	ErrEventNotFound = errors.New("calendar: event not found")
)

// IDProvider issues identifiers for calendar events.
type IDProvider interface {
	NewID() (string, error)
}

// StoreConfig describes the dependencies of the calendar store.
type StoreConfig struct {
	Database   *gorm.DB
	IDProvider IDProvider
	Clock      func() time.Time
}

// Store persists calendar events.
type Store struct {
	db    *gorm.DB
	ids   IDProvider
	clock func() time.Time
}

// NewStore constructs the calendar store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Store{db: cfg.Database, ids: cfg.IDProvider, clock: clock}, nil
}

// NormalizeDate reduces a date input to its YYYY-MM-DD calendar date.
// A bare calendar date is stored exactly as given. A timestamp (with or
// without a zone offset) is converted to UTC first, so "2025-03-04T23:50:00Z"
// lands on 2025-03-04 while "2025-03-05T00:10:00Z" lands on 2025-03-05.
func NormalizeDate(input string) (string, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "", pipeline.NewValidationError("date", "must not be blank")
	}
	if len(trimmed) == len(dateLayout) {
		if _, err := time.Parse(dateLayout, trimmed); err != nil {
			return "", pipeline.NewValidationError("date", "not a valid calendar date")
		}
		return trimmed, nil
	}
	parsed, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return "", pipeline.NewValidationError("date", "not a valid date or timestamp")
	}
	return parsed.UTC().Format(dateLayout), nil
}

// List returns the owner's events ordered by date, then creation time.
func (s *Store) List(ctx context.Context, owner string) ([]Event, error) {
	var events []Event
	err := s.db.WithContext(ctx).
		Where("owner = ?", owner).
		Order("date ASC, created_at_s ASC").
		Find(&events).Error
	if err != nil {
		return nil, &pipeline.StorageError{Op: "calendar.list", Err: err}
	}
	return events, nil
}

// Add creates one event for the owner.
func (s *Store) Add(ctx context.Context, owner, title, note, date string) (Event, error) {
	if strings.TrimSpace(title) == "" {
		return Event{}, pipeline.NewValidationError("title", "must not be blank")
	}
	normalizedDate, err := NormalizeDate(date)
	if err != nil {
		return Event{}, err
	}
	id, err := s.ids.NewID()
	if err != nil {
		return Event{}, &pipeline.StorageError{Op: "calendar.new_id", Err: err}
	}
	event := Event{
		ID:               id,
		Owner:            owner,
		Title:            strings.TrimSpace(title),
		Note:             strings.TrimSpace(note),
		Date:             normalizedDate,
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&event).Error; err != nil {
		return Event{}, &pipeline.StorageError{Op: "calendar.add", Err: err}
	}
	return event, nil
}

// Patch carries the updatable event fields. Nil means "leave unchanged".
type Patch struct {
	Title *string
	Note  *string
	Date  *string
}

// Update applies a patch to the owner's event. Events belonging to another
// owner are reported as not found.
func (s *Store) Update(ctx context.Context, owner, id string, patch Patch) (Event, error) {
	event, err := s.get(ctx, owner, id)
	if err != nil {
		return Event{}, err
	}

	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" {
			return Event{}, pipeline.NewValidationError("title", "must not be blank")
		}
		event.Title = title
	}
	if patch.Note != nil {
		event.Note = strings.TrimSpace(*patch.Note)
	}
	if patch.Date != nil {
		normalizedDate, err := NormalizeDate(*patch.Date)
		if err != nil {
			return Event{}, err
		}
		event.Date = normalizedDate
	}

	if err := s.db.WithContext(ctx).Save(&event).Error; err != nil {
		return Event{}, &pipeline.StorageError{Op: "calendar.update", Err: err}
	}
	return event, nil
}

// Remove deletes the owner's event.
func (s *Store) Remove(ctx context.Context, owner, id string) error {
	result := s.db.WithContext(ctx).
		Where("id = ? AND owner = ?", id, owner).
		Delete(&Event{})
	if result.Error != nil {
		return &pipeline.StorageError{Op: "calendar.remove", Err: result.Error}
	}
	if result.RowsAffected == 0 {
		return ErrEventNotFound
	}
	return nil
}

func (s *Store) get(ctx context.Context, owner, id string) (Event, error) {
	var event Event
	err := s.db.WithContext(ctx).
		Where("id = ? AND owner = ?", id, owner).
		First(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Event{}, ErrEventNotFound
	}
	if err != nil {
		return Event{}, &pipeline.StorageError{Op: "calendar.get", Err: err}
	}
	return event, nil
}
