package auth

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nexauth/nexauth-core/internal/infrastructure/database"
)

// ServiceRepository manages registered relying services.
type ServiceRepository interface {
	// Create inserts a new service. ID and APIKey are generated when empty.
	Create(ctx context.Context, svc *Service) error

	// GetByID returns a service by ID. Returns ErrNotFound when missing.
	GetByID(ctx context.Context, id string) (*Service, error)

	// List returns all services, newest first.
	List(ctx context.Context) ([]*Service, error)

	// Deactivate marks a service inactive. Idempotent.
	Deactivate(ctx context.Context, id string) error

	// Authenticate checks id + API key against an active service.
	// Returns ErrInvalidService on any mismatch.
	Authenticate(ctx context.Context, id, apiKey string) (*Service, error)
}

// SQLiteServiceRepository implements ServiceRepository using SQLite.
type SQLiteServiceRepository struct {
	db *database.DB
}

// NewSQLiteServiceRepository creates a service repository.
func NewSQLiteServiceRepository(db *database.DB) *SQLiteServiceRepository {
	return &SQLiteServiceRepository{db: db}
}

// Create inserts a new service.
func (r *SQLiteServiceRepository) Create(ctx context.Context, svc *Service) error {
	if svc.ID == "" {
		svc.ID = "svc-" + uuid.NewString()[:8]
	}
	if svc.APIKey == "" {
		key, err := NewAPIKey()
		if err != nil {
			return err
		}
		svc.APIKey = key
	}
	if svc.CreatedAt.IsZero() {
		svc.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO registered_services (id, name, api_key, redirect_url, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		svc.ID, svc.Name, svc.APIKey, nullString(svc.RedirectURL),
		boolToInt(svc.IsActive), formatTime(svc.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("service %s already exists: %w", svc.ID, err)
		}
		return fmt.Errorf("creating service: %w", err)
	}
	return nil
}

// GetByID returns a service by ID.
func (r *SQLiteServiceRepository) GetByID(ctx context.Context, id string) (*Service, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, api_key, redirect_url, is_active, created_at
		FROM registered_services WHERE id = ?
	`, id)

	svc, err := scanServiceFrom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting service: %w", err)
	}
	return svc, nil
}

// List returns all services, newest first.
func (r *SQLiteServiceRepository) List(ctx context.Context) ([]*Service, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, api_key, redirect_url, is_active, created_at
		FROM registered_services ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("listing services: %w", err)
	}
	defer rows.Close()

	var services []*Service
	for rows.Next() {
		svc, err := scanServiceFrom(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning service: %w", err)
		}
		services = append(services, svc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating services: %w", err)
	}
	return services, nil
}

// Deactivate marks a service inactive.
func (r *SQLiteServiceRepository) Deactivate(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE registered_services SET is_active = 0 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deactivating service: %w", err)
	}
	return nil
}

// Authenticate checks id + API key against an active service.
//
// The key comparison is constant-time. The unknown-service, bad-key and
// inactive cases all collapse to ErrInvalidService so callers cannot
// probe which services exist.
func (r *SQLiteServiceRepository) Authenticate(ctx context.Context, id, apiKey string) (*Service, error) {
	svc, err := r.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidService
	}
	if err != nil {
		return nil, err
	}

	if subtle.ConstantTimeCompare([]byte(svc.APIKey), []byte(apiKey)) != 1 {
		return nil, ErrInvalidService
	}
	if !svc.IsActive {
		return nil, ErrInvalidService
	}
	return svc, nil
}

// scanServiceFrom scans a service row from a Row or Rows.
func scanServiceFrom(s scanner) (*Service, error) {
	var (
		svc         Service
		redirectURL sql.NullString
		isActive    int
		createdAt   string
	)
	if err := s.Scan(&svc.ID, &svc.Name, &svc.APIKey, &redirectURL, &isActive, &createdAt); err != nil {
		return nil, err
	}
	svc.RedirectURL = redirectURL.String
	svc.IsActive = isActive == 1
	svc.CreatedAt = parseTime(createdAt)
	return &svc, nil
}
