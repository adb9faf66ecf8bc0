package schedule

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nexauth/nexauth-core/internal/infrastructure/database"
)

// Schedule is the singleton service window configuration. The row is
// created from config seed values on first start and mutated only by
// admin operations and automatic override expiry.
type Schedule struct {
	OpeningHour    int    `json:"opening_hour"`
	OpeningMinute  int    `json:"opening_minute"`
	ClosingHour    int    `json:"closing_hour"`
	ClosingMinute  int    `json:"closing_minute"`
	WarningMinutes int    `json:"warning_minutes"`
	Timezone       string `json:"timezone"`

	OverrideActive    bool       `json:"override_active"`
	OverrideOpen      bool       `json:"override_open"`
	OverrideReason    string     `json:"override_reason,omitempty"`
	OverrideExpiresAt *time.Time `json:"override_expires_at,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Repository stores the singleton schedule row.
type Repository struct {
	db *database.DB
}

// NewRepository creates a schedule repository.
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

// EnsureSeed creates the schedule row from seed values if it does not
// exist yet. Safe to call on every start.
func (r *Repository) EnsureSeed(ctx context.Context, seed Schedule) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO system_schedule
			(id, opening_hour, opening_minute, closing_hour, closing_minute,
			 warning_minutes, timezone, override_active, override_open,
			 override_reason, override_expires_at, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, 0, 0, '', NULL, ?)
	`,
		seed.OpeningHour, seed.OpeningMinute, seed.ClosingHour, seed.ClosingMinute,
		seed.WarningMinutes, seed.Timezone,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("seeding schedule: %w", err)
	}
	return nil
}

// Get returns the schedule row.
func (r *Repository) Get(ctx context.Context) (*Schedule, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT opening_hour, opening_minute, closing_hour, closing_minute,
			warning_minutes, timezone, override_active, override_open,
			override_reason, override_expires_at, updated_at
		FROM system_schedule WHERE id = 1
	`)
	return scanSchedule(row)
}

// SaveTx writes the full schedule row inside the caller's transaction,
// so the audit entry for a mutation commits atomically with it.
func (r *Repository) SaveTx(ctx context.Context, tx *sql.Tx, s *Schedule, at time.Time) error {
	s.UpdatedAt = at.UTC()

	var overrideExpires any
	if s.OverrideExpiresAt != nil {
		overrideExpires = s.OverrideExpiresAt.UTC().Format(time.RFC3339)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE system_schedule
		SET opening_hour = ?, opening_minute = ?, closing_hour = ?, closing_minute = ?,
			warning_minutes = ?, timezone = ?, override_active = ?, override_open = ?,
			override_reason = ?, override_expires_at = ?, updated_at = ?
		WHERE id = 1
	`,
		s.OpeningHour, s.OpeningMinute, s.ClosingHour, s.ClosingMinute,
		s.WarningMinutes, s.Timezone,
		btoi(s.OverrideActive), btoi(s.OverrideOpen),
		s.OverrideReason, overrideExpires, s.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving schedule: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking schedule save: %w", err)
	}
	if affected == 0 {
		return errors.New("schedule row missing")
	}
	return nil
}

func scanSchedule(row *sql.Row) (*Schedule, error) {
	var (
		s               Schedule
		overrideActive  int
		overrideOpen    int
		overrideExpires sql.NullString
		updatedAt       string
	)
	err := row.Scan(&s.OpeningHour, &s.OpeningMinute, &s.ClosingHour, &s.ClosingMinute,
		&s.WarningMinutes, &s.Timezone, &overrideActive, &overrideOpen,
		&s.OverrideReason, &overrideExpires, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("schedule row not seeded")
	}
	if err != nil {
		return nil, fmt.Errorf("getting schedule: %w", err)
	}

	s.OverrideActive = overrideActive == 1
	s.OverrideOpen = overrideOpen == 1
	if overrideExpires.Valid && overrideExpires.String != "" {
		t, _ := time.Parse(time.RFC3339, overrideExpires.String) //nolint:errcheck // Format is controlled
		s.OverrideExpiresAt = &t
	}
	s.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // Format is controlled
	return &s, nil
}

func btoi(b bool) int {
	if b {
		return 1
	}
	return 0
}
