// Command nexauth runs the QR/PIN central authentication broker.
//
// Startup order: configuration, logging, database + migrations, seed
// data, window controller, broker, API server. Shutdown is the
// reverse, triggered by SIGINT/SIGTERM.
//
// Exit codes:
//
//	0  normal shutdown
//	1  fatal configuration error
//	2  database unreachable at startup
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nexauth/nexauth-core/internal/api"
	"github.com/nexauth/nexauth-core/internal/audit"
	"github.com/nexauth/nexauth-core/internal/auth"
	"github.com/nexauth/nexauth-core/internal/broker"
	"github.com/nexauth/nexauth-core/internal/clock"
	"github.com/nexauth/nexauth-core/internal/infrastructure/config"
	"github.com/nexauth/nexauth-core/internal/infrastructure/database"
	"github.com/nexauth/nexauth-core/internal/infrastructure/logging"
	"github.com/nexauth/nexauth-core/internal/infrastructure/mqtt"
	"github.com/nexauth/nexauth-core/internal/infrastructure/telemetry"
	"github.com/nexauth/nexauth-core/internal/ratelimit"
	"github.com/nexauth/nexauth-core/internal/schedule"

	// Register embedded SQL migrations.
	_ "github.com/nexauth/nexauth-core/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

const (
	exitOK           = 0
	exitConfigError  = 1
	exitDatabaseDown = 2

	startupDBTimeout = 10 * time.Second
)

func main() {
	os.Exit(run())
}

func run() int {
	bootLog := logging.Default()

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		bootLog.Error("configuration failed", "error", err)
		return exitConfigError
	}

	logger := logging.New(cfg.Logging, version)
	logger.Info("starting nexauth broker", "version", version)

	// Signal-driven shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		logger.Error("database unreachable", "path", cfg.Database.Path, "error", err)
		return exitDatabaseDown
	}
	defer db.Close() //nolint:errcheck // Best-effort close on shutdown

	migrateCtx, cancelMigrate := context.WithTimeout(ctx, startupDBTimeout)
	defer cancelMigrate()
	if err := db.Migrate(migrateCtx); err != nil {
		logger.Error("migrations failed", "error", err)
		return exitDatabaseDown
	}

	if code := serve(ctx, cfg, logger, db); code != exitOK {
		return code
	}

	logger.Info("shutdown complete")
	return exitOK
}

// serve wires the components and blocks until the context is cancelled.
func serve(ctx context.Context, cfg *config.Config, logger *logging.Logger, db *database.DB) int {
	clk := clock.System{}

	// Repositories.
	services := auth.NewSQLiteServiceRepository(db)
	users := auth.NewSQLiteUserRepository(db)
	admins := auth.NewSQLiteAdminRepository(db)
	qrStore := auth.NewSQLiteQRSessionRepository(db)
	logins := auth.NewSQLiteLoginRepository(db)
	auditRepo := audit.NewRepository(db)
	scheduleRepo := schedule.NewRepository(db)

	// Seed data: schedule row and bootstrap admin.
	if err := scheduleRepo.EnsureSeed(ctx, schedule.Schedule{
		OpeningHour:    cfg.Schedule.OpeningHour,
		OpeningMinute:  cfg.Schedule.OpeningMinute,
		ClosingHour:    cfg.Schedule.ClosingHour,
		ClosingMinute:  cfg.Schedule.ClosingMinute,
		WarningMinutes: cfg.Schedule.WarningMinutes,
		Timezone:       cfg.Schedule.Timezone,
	}); err != nil {
		logger.Error("seeding schedule failed", "error", err)
		return exitDatabaseDown
	}
	created, err := auth.EnsureAdmin(ctx, admins,
		cfg.Security.BootstrapAdmin.Username, cfg.Security.BootstrapAdmin.Password)
	if err != nil {
		logger.Error("seeding admin failed", "error", err)
		return exitDatabaseDown
	}
	if created {
		logger.Info("bootstrap admin created", "username", cfg.Security.BootstrapAdmin.Username)
	}

	window := schedule.NewController(db, scheduleRepo, auditRepo, clk, logger)

	// Optional integrations.
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT, logger)
		if err != nil {
			// Status fan-out is best effort; the broker runs without it.
			logger.Warn("mqtt unavailable, continuing without status fan-out", "error", err)
			mqttClient = nil
		} else {
			defer mqttClient.Close()
		}
	}

	var telemetryWriter *telemetry.Writer
	if cfg.Telemetry.Enabled {
		telemetryWriter, err = telemetry.New(cfg.Telemetry, logger)
		if err != nil {
			logger.Warn("telemetry unavailable, continuing without metrics", "error", err)
			telemetryWriter = nil
		} else {
			defer telemetryWriter.Close()
		}
	}

	limits := ratelimit.NewRegistry(map[ratelimit.Class]ratelimit.ClassConfig{
		ratelimit.ClassLogin:            classConfig(cfg.RateLimit.Login),
		ratelimit.ClassRegister:         classConfig(cfg.RateLimit.Register),
		ratelimit.ClassQR:               classConfig(cfg.RateLimit.QR),
		ratelimit.ClassInvitationVerify: classConfig(cfg.RateLimit.InvitationVerify),
		ratelimit.ClassInterestSubmit:   classConfig(cfg.RateLimit.InterestSubmit),
	}, clk)
	go limits.Run(ctx)

	authBroker, err := broker.New(broker.Config{
		QRTTL:      cfg.GetQRTTL(),
		PINLength:  cfg.Security.PINLength,
		SessionTTL: cfg.GetSessionTTL(),
		JWTSecret:  cfg.Security.JWT.Secret,
	}, broker.Deps{
		DB:        db,
		Services:  services,
		Users:     users,
		QRStore:   qrStore,
		Logins:    logins,
		Window:    window,
		Clock:     clk,
		Logger:    logger,
		Telemetry: telemetryWriter,
	})
	if err != nil {
		logger.Error("broker setup failed", "error", err)
		return exitConfigError
	}
	go authBroker.RunSweeper(ctx)

	server, err := api.New(api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		JWTSecret: cfg.Security.JWT.Secret,
		AdminTTL:  cfg.GetAdminTTL(),
		Logger:    logger,
		Broker:    authBroker,
		Window:    window,
		Audit:     auditRepo,
		Admins:    admins,
		DB:        db,
		Limits:    limits,
		MQTT:      mqttClient,
		Telemetry: telemetryWriter,
		Version:   version,
	})
	if err != nil {
		logger.Error("api setup failed", "error", err)
		return exitConfigError
	}
	if err := server.Start(ctx); err != nil {
		logger.Error("api start failed", "error", err)
		return exitConfigError
	}
	defer func() {
		if err := server.Close(); err != nil {
			logger.Error("api shutdown error", "error", err)
		}
	}()

	logger.Info("broker ready", "address", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port))

	<-ctx.Done()
	logger.Info("shutdown signal received")
	return exitOK
}

func classConfig(c config.RateLimitClass) ratelimit.ClassConfig {
	return ratelimit.ClassConfig{
		MaxRequests: c.MaxRequests,
		Window:      time.Duration(c.WindowSeconds) * time.Second,
	}
}

// getConfigPath returns the config file path, honouring NEXAUTH_CONFIG.
func getConfigPath() string {
	if path := os.Getenv("NEXAUTH_CONFIG"); path != "" {
		return path
	}
	return "configs/config.yaml"
}
