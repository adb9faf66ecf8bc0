package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nexauth/nexauth-core/internal/infrastructure/database"
)

// QRSessionRepository manages QR challenge sessions.
//
// MarkScanned and MarkVerified use conditional updates so that when
// two callers race on the same token, exactly one observes an affected
// row and wins.
type QRSessionRepository interface {
	// Create inserts a new session in the created state.
	Create(ctx context.Context, session *QRSession) error

	// GetByToken returns a session. Returns ErrUnknownToken when missing.
	GetByToken(ctx context.Context, token string) (*QRSession, error)

	// MarkScanned transitions created -> scanned, recording the auth
	// key and PIN. Returns ErrAlreadyScanned if the session was
	// already consumed.
	MarkScanned(ctx context.Context, token, authKey, pin string, at time.Time) error

	// MarkVerified transitions scanned -> verified inside the caller's
	// transaction, so the login_history insert commits atomically with
	// it. Returns ErrAlreadyVerified if another verify won.
	MarkVerified(ctx context.Context, tx *sql.Tx, token string, at time.Time) error

	// DeleteExpiredBefore removes sessions whose expiry is before
	// cutoff, returning the number deleted. Live rows are untouched.
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SQLiteQRSessionRepository implements QRSessionRepository using SQLite.
type SQLiteQRSessionRepository struct {
	db *database.DB
}

// NewSQLiteQRSessionRepository creates a QR session repository.
func NewSQLiteQRSessionRepository(db *database.DB) *SQLiteQRSessionRepository {
	return &SQLiteQRSessionRepository{db: db}
}

// Create inserts a new session in the created state.
func (r *SQLiteQRSessionRepository) Create(ctx context.Context, session *QRSession) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO qr_sessions (token, service_id, user_auth_key, pin, is_used, is_verified,
			created_at, scanned_at, verified_at, expires_at)
		VALUES (?, ?, NULL, NULL, 0, 0, ?, NULL, NULL, ?)
	`,
		session.Token, session.ServiceID,
		formatTime(session.CreatedAt), formatTime(session.ExpiresAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("qr token collision: %w", err)
		}
		return fmt.Errorf("creating qr session: %w", err)
	}
	return nil
}

// GetByToken returns a session by token.
func (r *SQLiteQRSessionRepository) GetByToken(ctx context.Context, token string) (*QRSession, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT token, service_id, user_auth_key, pin, is_used, is_verified,
			created_at, scanned_at, verified_at, expires_at
		FROM qr_sessions WHERE token = ?
	`, token)

	session, err := scanQRSessionFrom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUnknownToken
	}
	if err != nil {
		return nil, fmt.Errorf("getting qr session: %w", err)
	}
	return session, nil
}

// MarkScanned transitions created -> scanned.
//
// The WHERE clause does the arbitration: of two concurrent scans, the
// loser matches zero rows and gets ErrAlreadyScanned. Expiry and user
// checks happen in the orchestrator before this call; a session that
// expired between the check and the update is still safe because the
// verify path re-checks expiry.
func (r *SQLiteQRSessionRepository) MarkScanned(ctx context.Context, token, authKey, pin string, at time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE qr_sessions
		SET user_auth_key = ?, pin = ?, scanned_at = ?, is_used = 1
		WHERE token = ? AND is_used = 0
	`, authKey, pin, formatTime(at), token)
	if err != nil {
		return fmt.Errorf("marking qr session scanned: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking scan result: %w", err)
	}
	if affected == 0 {
		return ErrAlreadyScanned
	}
	return nil
}

// MarkVerified transitions scanned -> verified within tx.
func (r *SQLiteQRSessionRepository) MarkVerified(ctx context.Context, tx *sql.Tx, token string, at time.Time) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE qr_sessions
		SET is_verified = 1, verified_at = ?
		WHERE token = ? AND is_verified = 0
	`, formatTime(at), token)
	if err != nil {
		return fmt.Errorf("marking qr session verified: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking verify result: %w", err)
	}
	if affected == 0 {
		return ErrAlreadyVerified
	}
	return nil
}

// DeleteExpiredBefore removes sessions whose expiry is before cutoff.
func (r *SQLiteQRSessionRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM qr_sessions WHERE expires_at < ?", formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("deleting expired qr sessions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting deleted qr sessions: %w", err)
	}
	return n, nil
}

// scanQRSessionFrom scans a qr_sessions row from a Row or Rows.
func scanQRSessionFrom(s scanner) (*QRSession, error) {
	var (
		session     QRSession
		userAuthKey sql.NullString
		pin         sql.NullString
		isUsed      int
		isVerified  int
		createdAt   string
		scannedAt   sql.NullString
		verifiedAt  sql.NullString
		expiresAt   string
	)
	if err := s.Scan(&session.Token, &session.ServiceID, &userAuthKey, &pin,
		&isUsed, &isVerified, &createdAt, &scannedAt, &verifiedAt, &expiresAt); err != nil {
		return nil, err
	}
	session.UserAuthKey = userAuthKey.String
	session.PIN = pin.String
	session.IsUsed = isUsed == 1
	session.IsVerified = isVerified == 1
	session.CreatedAt = parseTime(createdAt)
	session.ScannedAt = parseNullTime(scannedAt)
	session.VerifiedAt = parseNullTime(verifiedAt)
	session.ExpiresAt = parseTime(expiresAt)
	return &session, nil
}
