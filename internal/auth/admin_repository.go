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

// AdminRepository manages broker operator accounts.
type AdminRepository interface {
	// Create inserts a new admin. ID is generated when empty.
	Create(ctx context.Context, admin *Admin) error

	// GetByUsername returns an admin by username.
	// Returns ErrNotFound when missing.
	GetByUsername(ctx context.Context, username string) (*Admin, error)

	// Count returns the number of admin rows.
	Count(ctx context.Context) (int, error)

	// UpdateLastLogin stamps last_login.
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
}

// SQLiteAdminRepository implements AdminRepository using SQLite.
type SQLiteAdminRepository struct {
	db *database.DB
}

// NewSQLiteAdminRepository creates an admin repository.
func NewSQLiteAdminRepository(db *database.DB) *SQLiteAdminRepository {
	return &SQLiteAdminRepository{db: db}
}

// Create inserts a new admin.
func (r *SQLiteAdminRepository) Create(ctx context.Context, admin *Admin) error {
	if admin.ID == "" {
		admin.ID = "adm-" + uuid.NewString()[:8]
	}
	if admin.Role == "" {
		admin.Role = RoleAdmin
	}
	if admin.CreatedAt.IsZero() {
		admin.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO admins (id, username, password_hash, role, is_active, created_at, last_login)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		admin.ID, admin.Username, admin.PasswordHash, admin.Role,
		boolToInt(admin.IsActive), formatTime(admin.CreatedAt), nullTimeString(admin.LastLogin),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("admin %s already exists: %w", admin.Username, err)
		}
		return fmt.Errorf("creating admin: %w", err)
	}
	return nil
}

// GetByUsername returns an admin by username.
func (r *SQLiteAdminRepository) GetByUsername(ctx context.Context, username string) (*Admin, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, role, is_active, created_at, last_login
		FROM admins WHERE username = ?
	`, username)

	var (
		admin     Admin
		isActive  int
		createdAt string
		lastLogin sql.NullString
	)
	err := row.Scan(&admin.ID, &admin.Username, &admin.PasswordHash, &admin.Role,
		&isActive, &createdAt, &lastLogin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting admin: %w", err)
	}
	admin.IsActive = isActive == 1
	admin.CreatedAt = parseTime(createdAt)
	admin.LastLogin = parseNullTime(lastLogin)
	return &admin, nil
}

// Count returns the number of admin rows.
func (r *SQLiteAdminRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM admins").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting admins: %w", err)
	}
	return n, nil
}

// UpdateLastLogin stamps last_login.
func (r *SQLiteAdminRepository) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE admins SET last_login = ? WHERE id = ?",
		formatTime(at), id)
	if err != nil {
		return fmt.Errorf("updating admin last login: %w", err)
	}
	return nil
}

// Authenticate verifies an admin username/password pair. Unknown
// username, bad password and deactivated account all return
// ErrInvalidCredentials.
func Authenticate(ctx context.Context, repo AdminRepository, username, password string) (*Admin, error) {
	admin, err := repo.GetByUsername(ctx, username)
	if errors.Is(err, ErrNotFound) {
		// Burn a hash anyway so missing accounts take as long as
		// wrong passwords.
		_, _ = VerifyPassword(password, dummyHash) //nolint:errcheck // Timing equalisation only
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	ok, err := VerifyPassword(password, admin.PasswordHash)
	if err != nil || !ok {
		return nil, ErrInvalidCredentials
	}
	if !admin.IsActive {
		return nil, ErrInvalidCredentials
	}
	return admin, nil
}

// dummyHash is a valid Argon2id PHC string for timing equalisation.
const dummyHash = "$argon2id$v=19$m=65536,t=3,p=1$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
