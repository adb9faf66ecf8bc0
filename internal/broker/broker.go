// Package broker orchestrates the QR + PIN authentication flow:
// generate a QR challenge for a relying service, accept the mobile
// agent's scan, exchange the PIN for a bearer session, and validate or
// revoke issued sessions.
//
// The broker composes the window controller, repositories and token
// generation; it never touches HTTP types. The boundary maps its
// sentinel errors to status codes.
package broker

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/nexauth/nexauth-core/internal/auth"
	"github.com/nexauth/nexauth-core/internal/clock"
	"github.com/nexauth/nexauth-core/internal/infrastructure/database"
	"github.com/nexauth/nexauth-core/internal/infrastructure/logging"
	"github.com/nexauth/nexauth-core/internal/infrastructure/telemetry"
	"github.com/nexauth/nexauth-core/internal/schedule"
)

// Config holds the broker's tunables.
type Config struct {
	// QRTTL is how long a QR session stays scannable and verifiable.
	QRTTL time.Duration

	// PINLength is the number of decimal digits in a scan PIN.
	PINLength int

	// SessionTTL is the bearer session lifetime.
	SessionTTL time.Duration

	// JWTSecret signs session tokens.
	JWTSecret string
}

// Deps are the broker's collaborators. Telemetry may be nil.
type Deps struct {
	DB        *database.DB
	Services  auth.ServiceRepository
	Users     auth.UserRepository
	QRStore   auth.QRSessionRepository
	Logins    auth.LoginRepository
	Window    *schedule.Controller
	Clock     clock.Clock
	Logger    *logging.Logger
	Telemetry *telemetry.Writer
}

// Broker implements the auth flows.
type Broker struct {
	cfg  Config
	deps Deps
	log  *logging.Logger
}

// New creates a Broker after validating its dependencies.
func New(cfg Config, deps Deps) (*Broker, error) {
	switch {
	case deps.DB == nil:
		return nil, errors.New("broker: database is required")
	case deps.Services == nil || deps.Users == nil || deps.QRStore == nil || deps.Logins == nil:
		return nil, errors.New("broker: repositories are required")
	case deps.Window == nil:
		return nil, errors.New("broker: window controller is required")
	case deps.Clock == nil:
		return nil, errors.New("broker: clock is required")
	case deps.Logger == nil:
		return nil, errors.New("broker: logger is required")
	}
	if cfg.QRTTL <= 0 {
		cfg.QRTTL = 2 * time.Minute
	}
	if cfg.PINLength <= 0 {
		cfg.PINLength = 6
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 30 * time.Minute
	}

	return &Broker{
		cfg:  cfg,
		deps: deps,
		log:  deps.Logger.With("component", "broker"),
	}, nil
}

// scanMessage tells the user what to do with the freshly minted PIN.
const scanMessage = "QR code scanned successfully. Enter this PIN on the service."

// QRGrant is the result of a successful GenerateQR.
type QRGrant struct {
	Token       string `json:"qr_token"`
	QRImage     string `json:"qr_image"` // PNG data URI
	ServiceName string `json:"service_name"`
	ExpiresIn   int    `json:"expires_in_seconds"`

	ExpiresAt time.Time `json:"-"`
}

// ScanResult is the result of a successful Scan.
type ScanResult struct {
	Success bool   `json:"success"`
	PIN     string `json:"pin"`
	Message string `json:"message"`

	ExpiresAt time.Time `json:"-"`
}

// UserInfo identifies the authenticated user in verify and validate
// responses.
type UserInfo struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// SessionGrant is the result of a successful Verify.
type SessionGrant struct {
	Success      bool     `json:"success"`
	SessionToken string   `json:"session_token"`
	User         UserInfo `json:"user_info"`
	ExpiresIn    int      `json:"expires_in_seconds"`
	RedirectURL  string   `json:"redirect_url,omitempty"`

	ServiceID string    `json:"-"`
	ExpiresAt time.Time `json:"-"`
}

// SessionInfo is the result of a successful ValidateSession.
type SessionInfo struct {
	Valid     bool      `json:"valid"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	ServiceID string    `json:"service_id"`
	LoginAt   time.Time `json:"login_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// GenerateQR starts an auth flow for a relying service. The service
// window must be open and the service credentials valid.
func (b *Broker) GenerateQR(ctx context.Context, serviceID, apiKey string) (*QRGrant, error) {
	if err := b.requireOpen(ctx, serviceID); err != nil {
		return nil, err
	}

	svc, err := b.deps.Services.Authenticate(ctx, serviceID, apiKey)
	if err != nil {
		return nil, err
	}

	token, err := auth.NewToken()
	if err != nil {
		return nil, err
	}

	now := b.deps.Clock.Now()
	session := &auth.QRSession{
		Token:     token,
		ServiceID: svc.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(b.cfg.QRTTL),
	}
	if err := b.deps.QRStore.Create(ctx, session); err != nil {
		return nil, err
	}

	image, err := RenderDataURI(token)
	if err != nil {
		return nil, fmt.Errorf("rendering qr image: %w", err)
	}

	b.record(telemetry.EventQRGenerated, svc.ID)
	b.log.Info("qr session created", "service_id", svc.ID)

	return &QRGrant{
		Token:       token,
		QRImage:     image,
		ServiceName: svc.Name,
		ExpiresIn:   int(b.cfg.QRTTL.Seconds()),
		ExpiresAt:   session.ExpiresAt,
	}, nil
}

// Scan consumes a QR challenge on behalf of a mobile agent, binding
// the agent's auth key and minting the PIN the user will type into
// the relying service.
func (b *Broker) Scan(ctx context.Context, token, authKey string) (*ScanResult, error) {
	if err := b.requireOpen(ctx, ""); err != nil {
		return nil, err
	}

	session, err := b.deps.QRStore.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}

	now := b.deps.Clock.Now()
	if !now.Before(session.ExpiresAt) {
		return nil, auth.ErrTokenExpired
	}
	if session.IsUsed {
		return nil, auth.ErrAlreadyScanned
	}

	user, err := b.deps.Users.GetByAuthKey(ctx, authKey)
	if err != nil {
		return nil, err
	}

	pin, err := auth.NewPIN(b.cfg.PINLength)
	if err != nil {
		return nil, err
	}

	// Conditional update arbitrates concurrent scans of the same token.
	if err := b.deps.QRStore.MarkScanned(ctx, token, user.AuthKey, pin, now); err != nil {
		return nil, err
	}

	b.record(telemetry.EventQRScanned, session.ServiceID)
	b.log.Info("qr session scanned", "service_id", session.ServiceID, "user_id", user.ID)

	return &ScanResult{
		Success:   true,
		PIN:       pin,
		Message:   scanMessage,
		ExpiresAt: session.ExpiresAt,
	}, nil
}

// Verify exchanges a correct PIN for a bearer session. The verified
// transition and the login_history row commit in one transaction, so
// of two racing verifies at most one session is issued.
func (b *Broker) Verify(ctx context.Context, token, pin string) (*SessionGrant, error) {
	if err := b.requireOpen(ctx, ""); err != nil {
		return nil, err
	}

	session, err := b.deps.QRStore.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}

	now := b.deps.Clock.Now()
	if !now.Before(session.ExpiresAt) {
		return nil, auth.ErrTokenExpired
	}
	if !session.IsUsed {
		return nil, auth.ErrNotYetScanned
	}
	if session.IsVerified {
		return nil, auth.ErrAlreadyVerified
	}

	if subtle.ConstantTimeCompare([]byte(session.PIN), []byte(pin)) != 1 {
		b.record(telemetry.EventPINRejected, session.ServiceID)
		return nil, auth.ErrInvalidPin
	}

	user, err := b.deps.Users.GetByAuthKey(ctx, session.UserAuthKey)
	if err != nil {
		return nil, err
	}

	sessionToken, err := auth.GenerateSessionToken(user, session.ServiceID, b.cfg.JWTSecret, b.cfg.SessionTTL, now)
	if err != nil {
		return nil, err
	}
	expiresAt := now.Add(b.cfg.SessionTTL)

	tx, err := b.deps.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if err := b.deps.QRStore.MarkVerified(ctx, tx, token, now); err != nil {
		return nil, err
	}
	if err := b.deps.Logins.CreateTx(ctx, tx, &auth.LoginRecord{
		UserID:       user.ID,
		ServiceID:    session.ServiceID,
		SessionToken: sessionToken,
		LoginAt:      now,
		ExpiresAt:    expiresAt,
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing session issue: %w", err)
	}

	// Best effort; the session is already issued.
	if err := b.deps.Users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		b.log.Warn("updating last login failed", "user_id", user.ID, "error", err)
	}

	grant := &SessionGrant{
		Success:      true,
		SessionToken: sessionToken,
		User: UserInfo{
			UserID:   user.ID,
			Username: user.Username,
			Email:    user.Email,
		},
		ExpiresIn: int(b.cfg.SessionTTL.Seconds()),
		ServiceID: session.ServiceID,
		ExpiresAt: expiresAt,
	}
	if svc, err := b.deps.Services.GetByID(ctx, session.ServiceID); err == nil {
		grant.RedirectURL = svc.RedirectURL
	}

	b.record(telemetry.EventPINVerified, session.ServiceID)
	b.log.Info("session issued", "service_id", session.ServiceID, "user_id", user.ID)
	return grant, nil
}

// ValidateSession checks a bearer session token: signature, history
// row, expiry, logout state and user activity.
func (b *Broker) ValidateSession(ctx context.Context, token string) (*SessionInfo, error) {
	claims, err := auth.ParseSessionToken(token, b.cfg.JWTSecret)
	if err != nil {
		return nil, err
	}

	record, err := b.deps.Logins.GetBySessionToken(ctx, token)
	if err != nil {
		return nil, err
	}

	now := b.deps.Clock.Now()
	if !now.Before(record.ExpiresAt) {
		return nil, auth.ErrSessionExpired
	}
	// Logged-out sessions are dead even before their expiry.
	if record.LogoutAt != nil {
		return nil, auth.ErrInvalidSession
	}

	user, err := b.deps.Users.GetByID(ctx, record.UserID)
	if err != nil {
		return nil, auth.ErrInvalidSession
	}
	if !user.IsActive {
		return nil, auth.ErrInvalidSession
	}
	if claims.Subject != user.ID {
		return nil, auth.ErrInvalidSession
	}

	b.record(telemetry.EventSessionValidated, record.ServiceID)

	return &SessionInfo{
		Valid:     true,
		UserID:    user.ID,
		Username:  user.Username,
		ServiceID: record.ServiceID,
		LoginAt:   record.LoginAt,
		ExpiresAt: record.ExpiresAt,
	}, nil
}

// Logout revokes a bearer session. Idempotent: revoking an already
// logged-out or unknown token succeeds quietly.
func (b *Broker) Logout(ctx context.Context, token string) error {
	now := b.deps.Clock.Now()
	if err := b.deps.Logins.MarkLogout(ctx, token, now); err != nil {
		return err
	}
	b.record(telemetry.EventLogout, "")
	return nil
}

// requireOpen maps a closed window to ErrServiceClosed.
func (b *Broker) requireOpen(ctx context.Context, serviceID string) error {
	open, err := b.deps.Window.IsOpen(ctx)
	if err != nil {
		return fmt.Errorf("checking service window: %w", err)
	}
	if !open {
		b.record(telemetry.EventWindowClosed, serviceID)
		return auth.ErrServiceClosed
	}
	return nil
}

func (b *Broker) record(event, serviceID string) {
	if b.deps.Telemetry == nil {
		return
	}
	b.deps.Telemetry.RecordAuthEvent(event, serviceID, b.deps.Clock.Now())
}
