package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Nexauth broker.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Broker    BrokerConfig    `yaml:"broker"`
	Database  DatabaseConfig  `yaml:"database"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Security  SecurityConfig  `yaml:"security"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	SMTP      SMTPConfig      `yaml:"smtp"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// BrokerConfig contains broker-wide settings.
type BrokerConfig struct {
	Name       string `yaml:"name"`
	Production bool   `yaml:"production"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`

	// TrustedProxyHeader names a single forwarded-for style header
	// (e.g. "X-Forwarded-For") whose first entry is taken as the
	// client IP. Empty means the TCP peer address is used. Only set
	// this when a reverse proxy you control strips the header from
	// inbound traffic.
	TrustedProxyHeader string `yaml:"trusted_proxy_header"`

	// RequestTimeout is the per-request deadline in seconds.
	RequestTimeout int `yaml:"request_timeout"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
// AllowedOrigins is a closed allow-list; an empty list rejects all
// cross-origin browser requests.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains status broadcaster settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// SecurityConfig contains token and credential settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`

	// QRTTL is how long a QR session stays scannable and verifiable,
	// in seconds.
	QRTTL int `yaml:"qr_ttl"`

	// PINLength is the number of decimal digits in a scan PIN.
	PINLength int `yaml:"pin_length"`

	// BootstrapAdmin is the seed admin account, only consulted when
	// the admins table is empty.
	BootstrapAdmin BootstrapAdminConfig `yaml:"bootstrap_admin"`
}

// JWTConfig contains session token signing settings.
type JWTConfig struct {
	Secret string `yaml:"secret"`

	// SessionTTL is the bearer session lifetime in minutes.
	SessionTTL int `yaml:"session_ttl"`

	// AdminTTL is the admin token lifetime in minutes.
	AdminTTL int `yaml:"admin_ttl"`
}

// BootstrapAdminConfig contains the seed admin credentials.
type BootstrapAdminConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// ScheduleConfig seeds the service window on first start. The runtime
// schedule lives in the database; these values only create the
// initial row.
type ScheduleConfig struct {
	OpeningHour    int    `yaml:"opening_hour"`
	OpeningMinute  int    `yaml:"opening_minute"`
	ClosingHour    int    `yaml:"closing_hour"`
	ClosingMinute  int    `yaml:"closing_minute"`
	WarningMinutes int    `yaml:"warning_minutes"`
	Timezone       string `yaml:"timezone"`
}

// RateLimitConfig contains the per-endpoint-class limiter sizes.
type RateLimitConfig struct {
	Login            RateLimitClass `yaml:"login"`
	Register         RateLimitClass `yaml:"register"`
	QR               RateLimitClass `yaml:"qr"`
	InvitationVerify RateLimitClass `yaml:"invitation_verify"`
	InterestSubmit   RateLimitClass `yaml:"interest_submit"`
}

// RateLimitClass is one sliding-window limiter configuration.
type RateLimitClass struct {
	MaxRequests   int `yaml:"max_requests"`
	WindowSeconds int `yaml:"window_seconds"`
}

// MQTTConfig contains the optional status fan-out settings. When
// enabled, window status changes are published retained to an MQTT
// topic alongside the WebSocket broadcast.
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	QoS      int    `yaml:"qos"`
}

// TelemetryConfig contains the optional InfluxDB auth-event metrics settings.
type TelemetryConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// SMTPConfig contains credentials for the notification dispatcher.
// The core never sends mail itself; these values are passed through
// to the dispatch service.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: NEXAUTH_SECTION_KEY
// For example: NEXAUTH_DATABASE_PATH, NEXAUTH_JWT_SECRET
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults. Rate limit
// sizes match the published per-class limits.
func defaultConfig() *Config {
	return &Config{
		Broker: BrokerConfig{
			Name: "nexauth",
		},
		Database: DatabaseConfig{
			Path:        "./data/nexauth.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			RequestTimeout: 5,
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 4096,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				SessionTTL: 30,
				AdminTTL:   60,
			},
			QRTTL:     120,
			PINLength: 6,
		},
		Schedule: ScheduleConfig{
			OpeningHour:    8,
			OpeningMinute:  0,
			ClosingHour:    22,
			ClosingMinute:  0,
			WarningMinutes: 15,
			Timezone:       "UTC",
		},
		RateLimit: RateLimitConfig{
			Login:            RateLimitClass{MaxRequests: 5, WindowSeconds: 60},
			Register:         RateLimitClass{MaxRequests: 3, WindowSeconds: 300},
			QR:               RateLimitClass{MaxRequests: 20, WindowSeconds: 60},
			InvitationVerify: RateLimitClass{MaxRequests: 5, WindowSeconds: 60},
			InterestSubmit:   RateLimitClass{MaxRequests: 3, WindowSeconds: 3600},
		},
		MQTT: MQTTConfig{
			Host:     "localhost",
			Port:     1883,
			ClientID: "nexauth-core",
			QoS:      1,
		},
		Telemetry: TelemetryConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: NEXAUTH_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("NEXAUTH_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// API
	if v := os.Getenv("NEXAUTH_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("NEXAUTH_API_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = n
		}
	}

	// Security - JWT secret (IMPORTANT: always override in production)
	if v := os.Getenv("NEXAUTH_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
	if v := os.Getenv("NEXAUTH_BOOTSTRAP_ADMIN_PASSWORD"); v != "" {
		cfg.Security.BootstrapAdmin.Password = v
	}

	// MQTT
	if v := os.Getenv("NEXAUTH_MQTT_HOST"); v != "" {
		cfg.MQTT.Host = v
	}
	if v := os.Getenv("NEXAUTH_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv("NEXAUTH_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}

	// Telemetry
	if v := os.Getenv("NEXAUTH_TELEMETRY_TOKEN"); v != "" {
		cfg.Telemetry.Token = v
	}

	// SMTP
	if v := os.Getenv("NEXAUTH_SMTP_PASSWORD"); v != "" {
		cfg.SMTP.Password = v
	}
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Security validation - JWT secret is REQUIRED
	// The signing secret authenticates every bearer session a relying
	// service trusts; a forged token is an account takeover.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set NEXAUTH_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}

	if c.Security.QRTTL <= 0 {
		errs = append(errs, "security.qr_ttl must be positive")
	}
	if c.Security.PINLength < 4 || c.Security.PINLength > 9 {
		errs = append(errs, "security.pin_length must be between 4 and 9")
	}
	if c.Security.JWT.SessionTTL <= 0 {
		errs = append(errs, "security.jwt.session_ttl must be positive")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// Schedule seed validation
	if err := validateScheduleSeed(c.Schedule); err != nil {
		errs = append(errs, err.Error())
	}

	// Rate limit validation
	classes := []struct {
		name  string
		class RateLimitClass
	}{
		{"login", c.RateLimit.Login},
		{"register", c.RateLimit.Register},
		{"qr", c.RateLimit.QR},
		{"invitation_verify", c.RateLimit.InvitationVerify},
		{"interest_submit", c.RateLimit.InterestSubmit},
	}
	for _, rc := range classes {
		if rc.class.MaxRequests <= 0 || rc.class.WindowSeconds <= 0 {
			errs = append(errs, fmt.Sprintf("rate_limit.%s requires positive max_requests and window_seconds", rc.name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// validateScheduleSeed checks the seed operating hours. Overnight
// windows (closing before opening) are not supported.
func validateScheduleSeed(s ScheduleConfig) error {
	if s.OpeningHour < 0 || s.OpeningHour > 23 || s.ClosingHour < 0 || s.ClosingHour > 23 {
		return fmt.Errorf("schedule hours must be between 0 and 23")
	}
	if s.OpeningMinute < 0 || s.OpeningMinute > 59 || s.ClosingMinute < 0 || s.ClosingMinute > 59 {
		return fmt.Errorf("schedule minutes must be between 0 and 59")
	}
	if s.WarningMinutes < 0 {
		return fmt.Errorf("schedule.warning_minutes must not be negative")
	}
	opening := s.OpeningHour*60 + s.OpeningMinute
	closing := s.ClosingHour*60 + s.ClosingMinute
	if opening >= closing {
		return fmt.Errorf("schedule opening time must be before closing time")
	}
	if s.Timezone != "" {
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			return fmt.Errorf("schedule.timezone: %w", err)
		}
	}
	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// GetRequestTimeout returns the per-request deadline as a Duration.
func (c *Config) GetRequestTimeout() time.Duration {
	if c.API.RequestTimeout <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.API.RequestTimeout) * time.Second
}

// GetQRTTL returns the QR session lifetime as a Duration.
func (c *Config) GetQRTTL() time.Duration {
	return time.Duration(c.Security.QRTTL) * time.Second
}

// GetSessionTTL returns the bearer session lifetime as a Duration.
func (c *Config) GetSessionTTL() time.Duration {
	return time.Duration(c.Security.JWT.SessionTTL) * time.Minute
}

// GetAdminTTL returns the admin token lifetime as a Duration.
func (c *Config) GetAdminTTL() time.Duration {
	return time.Duration(c.Security.JWT.AdminTTL) * time.Minute
}
