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

// LoginRepository manages login_history rows backing bearer sessions.
type LoginRepository interface {
	// CreateTx inserts a login record inside the caller's transaction.
	// ID is generated when empty.
	CreateTx(ctx context.Context, tx *sql.Tx, record *LoginRecord) error

	// GetBySessionToken returns the record for a bearer token.
	// Returns ErrInvalidSession when missing.
	GetBySessionToken(ctx context.Context, token string) (*LoginRecord, error)

	// MarkLogout sets logout_at if not already set. Idempotent: a
	// second logout of the same token is a no-op, not an error.
	MarkLogout(ctx context.Context, token string, at time.Time) error

	// DeleteOlderThan removes records whose login_at is before cutoff,
	// returning the number deleted.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// SQLiteLoginRepository implements LoginRepository using SQLite.
type SQLiteLoginRepository struct {
	db *database.DB
}

// NewSQLiteLoginRepository creates a login history repository.
func NewSQLiteLoginRepository(db *database.DB) *SQLiteLoginRepository {
	return &SQLiteLoginRepository{db: db}
}

// CreateTx inserts a login record inside tx.
func (r *SQLiteLoginRepository) CreateTx(ctx context.Context, tx *sql.Tx, record *LoginRecord) error {
	if record.ID == "" {
		record.ID = "log-" + uuid.NewString()[:8]
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO login_history (id, user_id, service_id, session_token, login_at, expires_at, logout_at)
		VALUES (?, ?, ?, ?, ?, ?, NULL)
	`,
		record.ID, record.UserID, record.ServiceID, record.SessionToken,
		formatTime(record.LoginAt), formatTime(record.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("creating login record: %w", err)
	}
	return nil
}

// GetBySessionToken returns the record for a bearer token.
func (r *SQLiteLoginRepository) GetBySessionToken(ctx context.Context, token string) (*LoginRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, service_id, session_token, login_at, expires_at, logout_at
		FROM login_history WHERE session_token = ?
	`, token)

	var (
		record   LoginRecord
		loginAt  string
		expires  string
		logoutAt sql.NullString
	)
	err := row.Scan(&record.ID, &record.UserID, &record.ServiceID, &record.SessionToken,
		&loginAt, &expires, &logoutAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidSession
	}
	if err != nil {
		return nil, fmt.Errorf("getting login record: %w", err)
	}
	record.LoginAt = parseTime(loginAt)
	record.ExpiresAt = parseTime(expires)
	record.LogoutAt = parseNullTime(logoutAt)
	return &record, nil
}

// MarkLogout sets logout_at if not already set.
func (r *SQLiteLoginRepository) MarkLogout(ctx context.Context, token string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE login_history SET logout_at = ?
		WHERE session_token = ? AND logout_at IS NULL
	`, formatTime(at), token)
	if err != nil {
		return fmt.Errorf("marking logout: %w", err)
	}
	return nil
}

// DeleteOlderThan removes records whose login_at is before cutoff.
func (r *SQLiteLoginRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM login_history WHERE login_at < ?", formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("deleting old login records: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting deleted login records: %w", err)
	}
	return n, nil
}
