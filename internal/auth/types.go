package auth

import (
	"errors"
	"time"
)

// Admin roles.
const (
	// RoleAdmin can view schedule state and the audit log.
	RoleAdmin = "admin"

	// RoleSuperAdmin can additionally mutate operating hours and
	// manual overrides.
	RoleSuperAdmin = "super_admin"
)

// Service is a relying service registered with the broker. Services
// authenticate QR generation requests with their API key.
type Service struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	APIKey      string    `json:"-"` // Never expose in API responses
	RedirectURL string    `json:"redirect_url,omitempty"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

// User is an end user identified by the auth key held on their mobile
// agent.
type User struct {
	ID        string     `json:"id"`
	Username  string     `json:"username"`
	Email     string     `json:"email"`
	AuthKey   string     `json:"-"` // Never expose in API responses
	IsActive  bool       `json:"is_active"`
	CreatedAt time.Time  `json:"created_at"`
	LastLogin *time.Time `json:"last_login,omitempty"`
}

// Admin is a broker operator account.
type Admin struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"-"` // Argon2id PHC string
	Role         string     `json:"role"`
	IsActive     bool       `json:"is_active"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
}

// QRSession is one QR challenge. Lifecycle: created (IsUsed false) ->
// scanned (IsUsed true, PIN and UserAuthKey set) -> verified
// (IsVerified true). A session past ExpiresAt is dead in any state.
type QRSession struct {
	Token       string     `json:"token"`
	ServiceID   string     `json:"service_id"`
	UserAuthKey string     `json:"-"`
	PIN         string     `json:"-"`
	IsUsed      bool       `json:"is_used"`
	IsVerified  bool       `json:"is_verified"`
	CreatedAt   time.Time  `json:"created_at"`
	ScannedAt   *time.Time `json:"scanned_at,omitempty"`
	VerifiedAt  *time.Time `json:"verified_at,omitempty"`
	ExpiresAt   time.Time  `json:"expires_at"`
}

// LoginRecord is one issued bearer session in login_history.
type LoginRecord struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	ServiceID    string     `json:"service_id"`
	SessionToken string     `json:"-"`
	LoginAt      time.Time  `json:"login_at"`
	ExpiresAt    time.Time  `json:"expires_at"`
	LogoutAt     *time.Time `json:"logout_at,omitempty"`
}

// Sentinel errors for authentication operations. The HTTP boundary
// maps these to status codes with errors.Is.
var (
	// ErrInvalidService indicates an unknown, inactive or
	// wrong-API-key relying service.
	ErrInvalidService = errors.New("invalid service credentials")

	// ErrServiceClosed indicates the service window is closed.
	ErrServiceClosed = errors.New("service window is closed")

	// ErrRateLimited indicates the caller exceeded a request class limit.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrInvalidUser indicates an unknown or deactivated auth key.
	ErrInvalidUser = errors.New("invalid user auth key")

	// ErrUnknownToken indicates a QR token with no matching session.
	ErrUnknownToken = errors.New("unknown qr token")

	// ErrTokenExpired indicates the QR session passed its deadline.
	ErrTokenExpired = errors.New("qr token expired")

	// ErrAlreadyScanned indicates the QR session was already consumed
	// by a scan.
	ErrAlreadyScanned = errors.New("qr token already scanned")

	// ErrNotYetScanned indicates a verify attempt before any scan.
	ErrNotYetScanned = errors.New("qr token not yet scanned")

	// ErrAlreadyVerified indicates the QR session already produced a
	// bearer session.
	ErrAlreadyVerified = errors.New("qr token already verified")

	// ErrInvalidPin indicates a PIN mismatch on verify.
	ErrInvalidPin = errors.New("invalid pin")

	// ErrInvalidSession indicates a bearer session that is unknown,
	// logged out, or bound to a deactivated user.
	ErrInvalidSession = errors.New("invalid session")

	// ErrSessionExpired indicates a bearer session past its expiry.
	ErrSessionExpired = errors.New("session expired")

	// ErrInvalidCredentials indicates a failed admin login.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrNotFound indicates a missing row where one was expected.
	ErrNotFound = errors.New("not found")
)
