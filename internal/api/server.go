// Package api provides the HTTP REST API and WebSocket status feed for
// the Nexauth broker.
//
// It exposes the QR auth flow to relying services and mobile agents,
// the window status endpoints, and the admin schedule operations.
//
// The server follows the same lifecycle pattern as the other
// infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nexauth/nexauth-core/internal/audit"
	"github.com/nexauth/nexauth-core/internal/auth"
	"github.com/nexauth/nexauth-core/internal/broker"
	"github.com/nexauth/nexauth-core/internal/infrastructure/config"
	"github.com/nexauth/nexauth-core/internal/infrastructure/database"
	"github.com/nexauth/nexauth-core/internal/infrastructure/logging"
	"github.com/nexauth/nexauth-core/internal/infrastructure/mqtt"
	"github.com/nexauth/nexauth-core/internal/infrastructure/telemetry"
	"github.com/nexauth/nexauth-core/internal/ratelimit"
	"github.com/nexauth/nexauth-core/internal/schedule"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight
// requests to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
// MQTT and Telemetry are optional.
type Deps struct {
	Config    config.APIConfig
	WS        config.WebSocketConfig
	JWTSecret string
	AdminTTL  time.Duration
	Logger    *logging.Logger
	Broker    *broker.Broker
	Window    *schedule.Controller
	Audit     *audit.Repository
	Admins    auth.AdminRepository
	DB        *database.DB
	Limits    *ratelimit.Registry
	MQTT      *mqtt.Client
	Telemetry *telemetry.Writer
	Version   string
}

// Server is the HTTP API server for the Nexauth broker.
//
// It manages the HTTP listener, routes, middleware, and the WebSocket
// status hub. The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	jwtSecret string
	adminTTL  time.Duration
	logger    *logging.Logger
	broker    *broker.Broker
	window    *schedule.Controller
	audit     *audit.Repository
	admins    auth.AdminRepository
	db        *database.DB
	limits    *ratelimit.Registry
	mqtt      *mqtt.Client
	telemetry *telemetry.Writer
	version   string

	server *http.Server
	hub    *Hub
	cancel context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Broker == nil {
		return nil, fmt.Errorf("broker is required")
	}
	if deps.Window == nil {
		return nil, fmt.Errorf("window controller is required")
	}
	if deps.Admins == nil {
		return nil, fmt.Errorf("admin repository is required")
	}
	if deps.DB == nil {
		return nil, fmt.Errorf("database is required")
	}
	if deps.Limits == nil {
		return nil, fmt.Errorf("rate limit registry is required")
	}
	if deps.JWTSecret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}

	return &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		jwtSecret: deps.JWTSecret,
		adminTTL:  deps.AdminTTL,
		logger:    deps.Logger,
		broker:    deps.Broker,
		window:    deps.Window,
		audit:     deps.Audit,
		admins:    deps.Admins,
		db:        deps.DB,
		limits:    deps.Limits,
		mqtt:      deps.MQTT,
		telemetry: deps.Telemetry,
		version:   deps.Version,
	}, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, wires the window controller's change
// callback to the status broadcast, and launches the HTTP listener in
// a background goroutine. The server is stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	// Internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.hub = NewHub(s.wsCfg, s.logger)
	go s.hub.Run(srvCtx)

	// Every committed window change, including automatic override
	// expiry, pushes the fresh status document to all subscribers.
	s.window.SetOnChange(s.broadcastStatus)

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// broadcastStatus fans a status document out to WebSocket clients and,
// when configured, the retained MQTT topic.
func (s *Server) broadcastStatus(status *schedule.Status) {
	payload, err := json.Marshal(statusEnvelope{Type: "system_status", Data: status})
	if err != nil {
		s.logger.Error("marshalling status broadcast", "error", err)
		return
	}

	s.hub.Broadcast(payload)

	if s.mqtt != nil {
		if err := s.mqtt.PublishStatus(payload); err != nil {
			s.logger.Warn("mqtt status publish failed", "error", err)
		}
	}
}

// statusEnvelope frames WebSocket status pushes.
type statusEnvelope struct {
	Type string           `json:"type"`
	Data *schedule.Status `json:"data"`
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
