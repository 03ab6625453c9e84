// Package store is the Local Record Store adapter: GORM-backed CRUD over the
// calendar_events, clients, products and client_products tables of the
// Supabase Postgres database. Events are addressed by their textual event_id
// only; every other table uses its numeric row id.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"agendasync/internal/models"
)

// ErrNotFound is returned when an addressed row does not exist.
var ErrNotFound = errors.New("store: record not found")

// Store wraps the database handle. All methods fail loudly on connectivity
// problems; callers treat store errors as fatal to the operation.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open connects to the Postgres database behind dsn and runs migrations.
func Open(dsn string, logger *slog.Logger) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to record store: %w", err)
	}
	s := New(db, logger)
	if err := s.AutoMigrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// New wraps an existing database handle. Tests use this with SQLite.
func New(db *gorm.DB, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// AutoMigrate creates or updates the four tables.
func (s *Store) AutoMigrate() error {
	err := s.db.AutoMigrate(
		&models.Client{},
		&models.Event{},
		&models.Product{},
		&models.Purchase{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate record store: %w", err)
	}
	return nil
}

// ilike adds a case-insensitive partial match. LOWER/LIKE instead of the
// Postgres ILIKE operator so the same query runs on SQLite in tests.
func ilike(q *gorm.DB, column, value string) *gorm.DB {
	return q.Where("LOWER("+column+") LIKE ?", "%"+strings.ToLower(value)+"%")
}

// EventFilter is a conjunctive event query: every set field narrows the
// result. Name and summary fields match case-insensitive substrings;
// TimeMin/TimeMax bound start_iso inclusively.
type EventFilter struct {
	EventID     string
	Summary     string
	CompanyName string
	PersonName  string
	ClientID    *int64
	TimeMin     string
	TimeMax     string
}

// ListEvents returns all events matching the filter, ordered by start time.
func (s *Store) ListEvents(ctx context.Context, f EventFilter) ([]models.Event, error) {
	q := s.db.WithContext(ctx).Model(&models.Event{})
	if f.EventID != "" {
		q = q.Where("event_id = ?", f.EventID)
	}
	if f.Summary != "" {
		q = ilike(q, "summary", f.Summary)
	}
	if f.CompanyName != "" {
		q = ilike(q, "company_name", f.CompanyName)
	}
	if f.PersonName != "" {
		q = ilike(q, "person_name", f.PersonName)
	}
	if f.ClientID != nil {
		q = q.Where("client_id = ?", *f.ClientID)
	}
	if f.TimeMin != "" {
		q = q.Where("start_iso >= ?", f.TimeMin)
	}
	if f.TimeMax != "" {
		q = q.Where("start_iso <= ?", f.TimeMax)
	}

	var events []models.Event
	if err := q.Order("start_iso").Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return events, nil
}

// GetEvent fetches a single event by its textual id.
func (s *Store) GetEvent(ctx context.Context, eventID string) (*models.Event, error) {
	var ev models.Event
	err := s.db.WithContext(ctx).Where("event_id = ?", eventID).First(&ev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event %s: %w", eventID, err)
	}
	return &ev, nil
}

// UpsertEvent inserts the event or, when a row with the same event_id
// already exists, overwrites its fields.
func (s *Store) UpsertEvent(ctx context.Context, ev *models.Event) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		UpdateAll: true,
	}).Create(ev).Error
	if err != nil {
		return fmt.Errorf("failed to upsert event %s: %w", ev.EventID, err)
	}
	return nil
}

// UpdateEventFields applies a partial update to the event addressed by
// eventID and reports how many rows changed.
func (s *Store) UpdateEventFields(ctx context.Context, eventID string, updates map[string]any) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.Event{}).
		Where("event_id = ?", eventID).
		Updates(updates)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to update event %s: %w", eventID, res.Error)
	}
	return res.RowsAffected, nil
}

// DeleteEvent removes the event addressed by eventID and reports how many
// rows were removed.
func (s *Store) DeleteEvent(ctx context.Context, eventID string) (int64, error) {
	res := s.db.WithContext(ctx).Where("event_id = ?", eventID).Delete(&models.Event{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete event %s: %w", eventID, res.Error)
	}
	return res.RowsAffected, nil
}
