package broker

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nexauth/nexauth-core/internal/audit"
	"github.com/nexauth/nexauth-core/internal/auth"
	"github.com/nexauth/nexauth-core/internal/clock"
	"github.com/nexauth/nexauth-core/internal/infrastructure/database"
	"github.com/nexauth/nexauth-core/internal/infrastructure/logging"
	"github.com/nexauth/nexauth-core/internal/schedule"

	// Register embedded SQL migrations.
	_ "github.com/nexauth/nexauth-core/migrations"
)

const testJWTSecret = "broker-test-secret-32-characters-x"

type testEnv struct {
	broker  *Broker
	clk     *clock.Fixed
	db      *database.DB
	service *auth.Service
	user    *auth.User
	window  *schedule.Controller
}

// newTestEnv wires a broker over a temp database with one active
// service and user. The clock starts at midday inside the seeded
// 08:00-22:00 UTC window.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "broker-test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("applying migrations: %v", err)
	}

	scheduleRepo := schedule.NewRepository(db)
	if err := scheduleRepo.EnsureSeed(context.Background(), schedule.Schedule{
		OpeningHour:    8,
		ClosingHour:    22,
		WarningMinutes: 15,
		Timezone:       "UTC",
	}); err != nil {
		t.Fatalf("seeding schedule: %v", err)
	}

	clk := &clock.Fixed{T: time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)}
	logger := logging.Default()
	window := schedule.NewController(db, scheduleRepo, audit.NewRepository(db), clk, logger)

	services := auth.NewSQLiteServiceRepository(db)
	svc := &auth.Service{
		Name:        "portal",
		RedirectURL: "https://portal.example.com/callback",
		IsActive:    true,
	}
	if err := services.Create(context.Background(), svc); err != nil {
		t.Fatalf("seeding service: %v", err)
	}

	users := auth.NewSQLiteUserRepository(db)
	user := &auth.User{
		Username: "alice",
		Email:    "alice@example.com",
		IsActive: true,
	}
	if err := users.Create(context.Background(), user); err != nil {
		t.Fatalf("seeding user: %v", err)
	}

	b, err := New(Config{
		QRTTL:      2 * time.Minute,
		PINLength:  6,
		SessionTTL: 30 * time.Minute,
		JWTSecret:  testJWTSecret,
	}, Deps{
		DB:       db,
		Services: services,
		Users:    users,
		QRStore:  auth.NewSQLiteQRSessionRepository(db),
		Logins:   auth.NewSQLiteLoginRepository(db),
		Window:   window,
		Clock:    clk,
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	return &testEnv{broker: b, clk: clk, db: db, service: svc, user: user, window: window}
}

func TestFullAuthFlow(t *testing.T) {
	env := newTestEnv(t)

	grant, err := env.broker.GenerateQR(context.Background(), env.service.ID, env.service.APIKey)
	if err != nil {
		t.Fatalf("GenerateQR: %v", err)
	}
	if grant.Token == "" {
		t.Fatal("no token issued")
	}
	if !strings.HasPrefix(grant.QRImage, "data:image/png;base64,") {
		t.Errorf("qr_image is not a PNG data URI: %.40s", grant.QRImage)
	}
	if grant.ServiceName != "portal" {
		t.Errorf("service_name = %q, want portal", grant.ServiceName)
	}

	if grant.ExpiresIn != 120 {
		t.Errorf("expires_in_seconds = %d, want 120", grant.ExpiresIn)
	}

	scan, err := env.broker.Scan(context.Background(), grant.Token, env.user.AuthKey)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(scan.PIN) != 6 {
		t.Errorf("pin = %q, want 6 digits", scan.PIN)
	}
	if !scan.Success || scan.Message == "" {
		t.Errorf("scan result = %+v, want success with message", scan)
	}

	session, err := env.broker.Verify(context.Background(), grant.Token, scan.PIN)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if session.User.UserID != env.user.ID || session.User.Username != "alice" {
		t.Errorf("session grant = %+v, wrong user", session)
	}
	if !session.Success || session.ExpiresIn != 1800 {
		t.Errorf("session grant = %+v, want success with 1800s expiry", session)
	}
	if session.RedirectURL != env.service.RedirectURL {
		t.Errorf("redirect_url = %q, want %q", session.RedirectURL, env.service.RedirectURL)
	}

	info, err := env.broker.ValidateSession(context.Background(), session.SessionToken)
	if err != nil {
		t.Fatalf("ValidateSession: %v", err)
	}
	if !info.Valid || info.UserID != env.user.ID || info.ServiceID != env.service.ID {
		t.Errorf("session info = %+v, wrong binding", info)
	}

	if err := env.broker.Logout(context.Background(), session.SessionToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	_, err = env.broker.ValidateSession(context.Background(), session.SessionToken)
	if !errors.Is(err, auth.ErrInvalidSession) {
		t.Errorf("post-logout validate error = %v, want ErrInvalidSession", err)
	}

	// Logout is idempotent.
	if err := env.broker.Logout(context.Background(), session.SessionToken); err != nil {
		t.Errorf("second Logout: %v", err)
	}
}

func TestGenerateQRInvalidService(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.broker.GenerateQR(context.Background(), env.service.ID, "wrong-key")
	if !errors.Is(err, auth.ErrInvalidService) {
		t.Errorf("error = %v, want ErrInvalidService", err)
	}
}

func TestGenerateQRClosedWindow(t *testing.T) {
	env := newTestEnv(t)
	env.clk.T = time.Date(2026, 3, 2, 23, 0, 0, 0, time.UTC)

	_, err := env.broker.GenerateQR(context.Background(), env.service.ID, env.service.APIKey)
	if !errors.Is(err, auth.ErrServiceClosed) {
		t.Errorf("error = %v, want ErrServiceClosed", err)
	}
}

func TestScanClosedWindow(t *testing.T) {
	env := newTestEnv(t)

	grant, err := env.broker.GenerateQR(context.Background(), env.service.ID, env.service.APIKey)
	if err != nil {
		t.Fatalf("GenerateQR: %v", err)
	}

	env.clk.T = time.Date(2026, 3, 2, 23, 0, 0, 0, time.UTC)
	_, err = env.broker.Scan(context.Background(), grant.Token, env.user.AuthKey)
	if !errors.Is(err, auth.ErrServiceClosed) {
		t.Errorf("error = %v, want ErrServiceClosed", err)
	}
}

func TestScanUnknownAuthKey(t *testing.T) {
	env := newTestEnv(t)

	grant, err := env.broker.GenerateQR(context.Background(), env.service.ID, env.service.APIKey)
	if err != nil {
		t.Fatalf("GenerateQR: %v", err)
	}

	_, err = env.broker.Scan(context.Background(), grant.Token, "ffffffffffffffffffffffffffffffff")
	if !errors.Is(err, auth.ErrInvalidUser) {
		t.Errorf("error = %v, want ErrInvalidUser", err)
	}

	// A failed scan does not consume the token.
	if _, err := env.broker.Scan(context.Background(), grant.Token, env.user.AuthKey); err != nil {
		t.Errorf("scan after failed attempt: %v", err)
	}
}

func TestScanExpiredToken(t *testing.T) {
	env := newTestEnv(t)

	grant, err := env.broker.GenerateQR(context.Background(), env.service.ID, env.service.APIKey)
	if err != nil {
		t.Fatalf("GenerateQR: %v", err)
	}

	env.clk.Advance(3 * time.Minute)
	_, err = env.broker.Scan(context.Background(), grant.Token, env.user.AuthKey)
	if !errors.Is(err, auth.ErrTokenExpired) {
		t.Errorf("error = %v, want ErrTokenExpired", err)
	}
}

func TestScanUnknownToken(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.broker.Scan(context.Background(), "never-issued", env.user.AuthKey)
	if !errors.Is(err, auth.ErrUnknownToken) {
		t.Errorf("error = %v, want ErrUnknownToken", err)
	}
}

func TestDoubleScan(t *testing.T) {
	env := newTestEnv(t)

	grant, err := env.broker.GenerateQR(context.Background(), env.service.ID, env.service.APIKey)
	if err != nil {
		t.Fatalf("GenerateQR: %v", err)
	}
	if _, err := env.broker.Scan(context.Background(), grant.Token, env.user.AuthKey); err != nil {
		t.Fatalf("first Scan: %v", err)
	}

	_, err = env.broker.Scan(context.Background(), grant.Token, env.user.AuthKey)
	if !errors.Is(err, auth.ErrAlreadyScanned) {
		t.Errorf("second scan error = %v, want ErrAlreadyScanned", err)
	}
}

func TestConcurrentScansSingleWinner(t *testing.T) {
	env := newTestEnv(t)

	grant, err := env.broker.GenerateQR(context.Background(), env.service.ID, env.service.APIKey)
	if err != nil {
		t.Fatalf("GenerateQR: %v", err)
	}

	const attempts = 6
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.broker.Scan(context.Background(), grant.Token, env.user.AuthKey)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, auth.ErrAlreadyScanned):
			default:
				t.Errorf("unexpected scan error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("winning scans = %d, want exactly 1", wins)
	}
}

func TestVerifyBeforeScan(t *testing.T) {
	env := newTestEnv(t)

	grant, err := env.broker.GenerateQR(context.Background(), env.service.ID, env.service.APIKey)
	if err != nil {
		t.Fatalf("GenerateQR: %v", err)
	}

	_, err = env.broker.Verify(context.Background(), grant.Token, "123456")
	if !errors.Is(err, auth.ErrNotYetScanned) {
		t.Errorf("error = %v, want ErrNotYetScanned", err)
	}
}

func TestVerifyWrongPIN(t *testing.T) {
	env := newTestEnv(t)

	grant, err := env.broker.GenerateQR(context.Background(), env.service.ID, env.service.APIKey)
	if err != nil {
		t.Fatalf("GenerateQR: %v", err)
	}
	scan, err := env.broker.Scan(context.Background(), grant.Token, env.user.AuthKey)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	wrong := "000000"
	if wrong == scan.PIN {
		wrong = "000001"
	}
	_, err = env.broker.Verify(context.Background(), grant.Token, wrong)
	if !errors.Is(err, auth.ErrInvalidPin) {
		t.Errorf("error = %v, want ErrInvalidPin", err)
	}

	// A wrong PIN does not burn the session; the right PIN still works.
	if _, err := env.broker.Verify(context.Background(), grant.Token, scan.PIN); err != nil {
		t.Errorf("verify with correct pin after wrong attempt: %v", err)
	}
}

func TestVerifyExpiredToken(t *testing.T) {
	env := newTestEnv(t)

	grant, err := env.broker.GenerateQR(context.Background(), env.service.ID, env.service.APIKey)
	if err != nil {
		t.Fatalf("GenerateQR: %v", err)
	}
	scan, err := env.broker.Scan(context.Background(), grant.Token, env.user.AuthKey)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	env.clk.Advance(3 * time.Minute)
	_, err = env.broker.Verify(context.Background(), grant.Token, scan.PIN)
	if !errors.Is(err, auth.ErrTokenExpired) {
		t.Errorf("error = %v, want ErrTokenExpired", err)
	}
}

func TestDoubleVerify(t *testing.T) {
	env := newTestEnv(t)

	grant, err := env.broker.GenerateQR(context.Background(), env.service.ID, env.service.APIKey)
	if err != nil {
		t.Fatalf("GenerateQR: %v", err)
	}
	scan, err := env.broker.Scan(context.Background(), grant.Token, env.user.AuthKey)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if _, err := env.broker.Verify(context.Background(), grant.Token, scan.PIN); err != nil {
		t.Fatalf("first Verify: %v", err)
	}

	_, err = env.broker.Verify(context.Background(), grant.Token, scan.PIN)
	if !errors.Is(err, auth.ErrAlreadyVerified) {
		t.Errorf("second verify error = %v, want ErrAlreadyVerified", err)
	}
}

func TestValidateExpiredSession(t *testing.T) {
	env := newTestEnv(t)

	grant, err := env.broker.GenerateQR(context.Background(), env.service.ID, env.service.APIKey)
	if err != nil {
		t.Fatalf("GenerateQR: %v", err)
	}
	scan, err := env.broker.Scan(context.Background(), grant.Token, env.user.AuthKey)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	session, err := env.broker.Verify(context.Background(), grant.Token, scan.PIN)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}

	env.clk.Advance(31 * time.Minute)
	_, err = env.broker.ValidateSession(context.Background(), session.SessionToken)
	if !errors.Is(err, auth.ErrSessionExpired) {
		t.Errorf("error = %v, want ErrSessionExpired", err)
	}
}

func TestValidateDeactivatedUser(t *testing.T) {
	env := newTestEnv(t)

	grant, err := env.broker.GenerateQR(context.Background(), env.service.ID, env.service.APIKey)
	if err != nil {
		t.Fatalf("GenerateQR: %v", err)
	}
	scan, err := env.broker.Scan(context.Background(), grant.Token, env.user.AuthKey)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	session, err := env.broker.Verify(context.Background(), grant.Token, scan.PIN)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}

	if _, err := env.db.ExecContext(context.Background(),
		"UPDATE active_users SET is_active = 0 WHERE id = ?", env.user.ID); err != nil {
		t.Fatalf("deactivating user: %v", err)
	}

	_, err = env.broker.ValidateSession(context.Background(), session.SessionToken)
	if !errors.Is(err, auth.ErrInvalidSession) {
		t.Errorf("error = %v, want ErrInvalidSession", err)
	}
}

func TestValidateGarbageToken(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.broker.ValidateSession(context.Background(), "not-a-jwt")
	if !errors.Is(err, auth.ErrInvalidSession) {
		t.Errorf("error = %v, want ErrInvalidSession", err)
	}
}

func TestSweepKeepsRecentExpiredSessions(t *testing.T) {
	env := newTestEnv(t)

	grant, err := env.broker.GenerateQR(context.Background(), env.service.ID, env.service.APIKey)
	if err != nil {
		t.Fatalf("GenerateQR: %v", err)
	}

	// Expired but inside the retention hour: the row stays so a late
	// verify still sees TokenExpired.
	env.clk.Advance(10 * time.Minute)
	if err := env.broker.sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	_, err = env.broker.Verify(context.Background(), grant.Token, "123456")
	if !errors.Is(err, auth.ErrTokenExpired) {
		t.Errorf("post-sweep verify error = %v, want ErrTokenExpired", err)
	}

	// Past the retention hour the row is gone.
	env.clk.Advance(2 * time.Hour)
	if err := env.broker.sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	_, err = env.broker.Verify(context.Background(), grant.Token, "123456")
	if !errors.Is(err, auth.ErrUnknownToken) {
		t.Errorf("post-retention verify error = %v, want ErrUnknownToken", err)
	}
}

func TestVerifyClosedWindow(t *testing.T) {
	env := newTestEnv(t)

	grant, err := env.broker.GenerateQR(context.Background(), env.service.ID, env.service.APIKey)
	if err != nil {
		t.Fatalf("GenerateQR: %v", err)
	}
	scan, err := env.broker.Scan(context.Background(), grant.Token, env.user.AuthKey)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	// The window closes between scan and verify. Verify is gated like
	// generate and scan, so the exchange is refused.
	if _, err := env.window.SetOverride(context.Background(), "adm-test", false, "maintenance", 0); err != nil {
		t.Fatalf("SetOverride: %v", err)
	}

	_, err = env.broker.Verify(context.Background(), grant.Token, scan.PIN)
	if !errors.Is(err, auth.ErrServiceClosed) {
		t.Errorf("verify error = %v, want ErrServiceClosed", err)
	}

	// Reopening lets the exchange complete with the same PIN.
	if _, err := env.window.ClearOverride(context.Background(), "adm-test", ""); err != nil {
		t.Fatalf("ClearOverride: %v", err)
	}
	if _, err := env.broker.Verify(context.Background(), grant.Token, scan.PIN); err != nil {
		t.Errorf("verify after reopening: %v", err)
	}
}
