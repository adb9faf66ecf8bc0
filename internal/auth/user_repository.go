package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nexauth/nexauth-core/internal/infrastructure/database"
)

// UserRepository manages active end users.
type UserRepository interface {
	// Create inserts a new user. ID and AuthKey are generated when empty.
	Create(ctx context.Context, user *User) error

	// GetByID returns a user by ID. Returns ErrNotFound when missing.
	GetByID(ctx context.Context, id string) (*User, error)

	// GetByAuthKey returns the active user holding the auth key.
	// Returns ErrInvalidUser for unknown or deactivated keys.
	GetByAuthKey(ctx context.Context, authKey string) (*User, error)

	// UpdateLastLogin stamps last_login.
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
}

// SQLiteUserRepository implements UserRepository using SQLite.
type SQLiteUserRepository struct {
	db *database.DB
}

// NewSQLiteUserRepository creates a user repository.
func NewSQLiteUserRepository(db *database.DB) *SQLiteUserRepository {
	return &SQLiteUserRepository{db: db}
}

// Create inserts a new user.
func (r *SQLiteUserRepository) Create(ctx context.Context, user *User) error {
	if user.ID == "" {
		user.ID = "usr-" + uuid.NewString()[:8]
	}
	if user.AuthKey == "" {
		key, err := NewAuthKey()
		if err != nil {
			return err
		}
		user.AuthKey = key
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO active_users (id, username, email, auth_key, is_active, created_at, last_login)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		user.ID, user.Username, user.Email, user.AuthKey,
		boolToInt(user.IsActive), formatTime(user.CreatedAt), nullTimeString(user.LastLogin),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("user %s already exists: %w", user.Username, err)
		}
		return fmt.Errorf("creating user: %w", err)
	}
	return nil
}

// GetByID returns a user by ID.
func (r *SQLiteUserRepository) GetByID(ctx context.Context, id string) (*User, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, username, email, auth_key, is_active, created_at, last_login
		FROM active_users WHERE id = ?
	`, id)

	user, err := scanUserFrom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting user: %w", err)
	}
	return user, nil
}

// GetByAuthKey returns the active user holding the auth key.
// Unknown key and deactivated user both return ErrInvalidUser.
func (r *SQLiteUserRepository) GetByAuthKey(ctx context.Context, authKey string) (*User, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, username, email, auth_key, is_active, created_at, last_login
		FROM active_users WHERE auth_key = ?
	`, authKey)

	user, err := scanUserFrom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidUser
	}
	if err != nil {
		return nil, fmt.Errorf("getting user by auth key: %w", err)
	}
	if !user.IsActive {
		return nil, ErrInvalidUser
	}
	return user, nil
}

// UpdateLastLogin stamps last_login.
func (r *SQLiteUserRepository) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE active_users SET last_login = ? WHERE id = ?",
		formatTime(at), id)
	if err != nil {
		return fmt.Errorf("updating last login: %w", err)
	}
	return nil
}

// scanUserFrom scans a user row from a Row or Rows.
func scanUserFrom(s scanner) (*User, error) {
	var (
		user      User
		isActive  int
		createdAt string
		lastLogin sql.NullString
	)
	if err := s.Scan(&user.ID, &user.Username, &user.Email, &user.AuthKey,
		&isActive, &createdAt, &lastLogin); err != nil {
		return nil, err
	}
	user.IsActive = isActive == 1
	user.CreatedAt = parseTime(createdAt)
	user.LastLogin = parseNullTime(lastLogin)
	return &user, nil
}
