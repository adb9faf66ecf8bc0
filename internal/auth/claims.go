package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SessionClaims are the JWT claims behind a bearer session token.
// Subject is the user ID; AuthKey and ServiceID bind the session to
// the scanning agent and the requesting relying service.
type SessionClaims struct {
	jwt.RegisteredClaims
	AuthKey   string `json:"auth_key"`
	ServiceID string `json:"service_id"`
}

// AdminClaims are the JWT claims behind an admin token.
type AdminClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// GenerateSessionToken creates a signed bearer session JWT for a user
// that completed PIN verification. The login_history row keyed by this
// token carries the authoritative expiry and logout state; the JWT
// expiry mirrors it so stale tokens fail fast without a DB hit.
func GenerateSessionToken(user *User, serviceID, secret string, ttl time.Duration, now time.Time) (string, error) {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}

	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		AuthKey:   user.AuthKey,
		ServiceID: serviceID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing session token: %w", err)
	}
	return signed, nil
}

// ParseSessionToken validates and parses a bearer session JWT.
// It checks the signature, expiry, and required fields.
func ParseSessionToken(tokenString, secret string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrSessionExpired
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidSession, err)
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidSession
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidSession)
	}
	if claims.ServiceID == "" {
		return nil, fmt.Errorf("%w: missing service", ErrInvalidSession)
	}

	return claims, nil
}

// GenerateAdminToken creates a signed admin JWT carrying the role claim.
func GenerateAdminToken(admin *Admin, secret string, ttl time.Duration, now time.Time) (string, error) {
	if ttl <= 0 {
		ttl = time.Hour
	}

	claims := AdminClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   admin.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		Role: admin.Role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing admin token: %w", err)
	}
	return signed, nil
}

// ParseAdminToken validates and parses an admin JWT.
func ParseAdminToken(tokenString, secret string) (*AdminClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AdminClaims{}, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
	}

	claims, ok := token.Claims.(*AdminClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidCredentials
	}

	if claims.Subject == "" || claims.Role == "" {
		return nil, fmt.Errorf("%w: incomplete claims", ErrInvalidCredentials)
	}

	return claims, nil
}
