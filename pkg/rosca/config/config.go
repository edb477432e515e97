package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// DefaultJWTSecret is only meant for local development.
const DefaultJWTSecret = "rosca-dev-secret-change-in-production"

// Config holds all runtime settings, read from the environment.
type Config struct {
	Env     string `env:"ROSCA_ENV" envDefault:"development"`
	Port    string `env:"PORT" envDefault:"8080"`
	BaseURL string `env:"ROSCA_BASE_URL" envDefault:"http://localhost:8080"`

	Database Database
	Auth     Auth
	Log      Log
	Otel     Otel

	DefaultCycleDays    int    `env:"DEFAULT_CYCLE_DAYS" envDefault:"30"`
	MetricsEnabled      bool   `env:"METRICS_ENABLED" envDefault:"true"`
	BootstrapAdminPhone string `env:"BOOTSTRAP_ADMIN_PHONE"`
}

// Database selects the GORM dialector and its DSN.
type Database struct {
	Driver     string `env:"DATABASE_DRIVER" envDefault:"sqlite"`
	DSN        string `env:"DATABASE_DSN" envDefault:"rosca.db"`
	LogQueries bool   `env:"DATABASE_LOG_QUERIES" envDefault:"false"`
}

// Auth configures one-time codes and sessions.
type Auth struct {
	JWTSecret     string        `env:"JWT_SECRET" envDefault:"rosca-dev-secret-change-in-production"`
	SessionTTL    time.Duration `env:"SESSION_TTL" envDefault:"168h"`
	OTPTTL        time.Duration `env:"OTP_TTL" envDefault:"5m"`
	OTPMaxPerHour int           `env:"OTP_MAX_PER_HOUR" envDefault:"5"`
	OTPDevEcho    bool          `env:"OTP_DEV_ECHO" envDefault:"false"`
}

// Log configures the slog handler.
type Log struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"text"`
}

// Otel configures trace export. Tracing stays off without an endpoint.
type Otel struct {
	Enabled     bool   `env:"OTEL_ENABLED" envDefault:"true"`
	Endpoint    string `env:"OTEL_ENDPOINT"`
	ServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"rosca"`
}

var (
	ErrUnknownDriver     = errors.New("unknown database driver")
	ErrInsecureJWTSecret = errors.New("JWT_SECRET must be set outside development")
)

// IsProduction reports whether the service runs with production settings.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks cross-field constraints the env tags cannot express.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDriver, c.Database.Driver)
	}
	if c.IsProduction() && c.Auth.JWTSecret == DefaultJWTSecret {
		return ErrInsecureJWTSecret
	}
	if c.DefaultCycleDays <= 0 {
		return fmt.Errorf("DEFAULT_CYCLE_DAYS must be positive, got %d", c.DefaultCycleDays)
	}
	return nil
}

// Load reads an optional .env file (the first of envFiles that exists, or
// ./.env) and then parses the environment into a Config.
func Load(envFiles ...string) (*Config, error) {
	logger := slog.Default()

	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, path := range envFiles {
		if err := godotenv.Load(path); err != nil {
			logger.Debug("Environment file not loaded", "path", path, "error", err)
			continue
		}
		logger.Info("Loaded environment file", "path", path)
		break
	}

	return Parse()
}

// Parse builds a Config from the current process environment only.
func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LogValue masks secrets so the config can be logged at startup.
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("env", c.Env),
		slog.String("port", c.Port),
		slog.String("db_driver", c.Database.Driver),
		slog.String("db_dsn", maskValue(c.Database.DSN)),
		slog.String("jwt_secret", maskValue(c.Auth.JWTSecret)),
		slog.Duration("session_ttl", c.Auth.SessionTTL),
		slog.Duration("otp_ttl", c.Auth.OTPTTL),
		slog.Int("default_cycle_days", c.DefaultCycleDays),
		slog.Bool("metrics", c.MetricsEnabled),
		slog.String("otel_endpoint", c.Otel.Endpoint),
	)
}

func maskValue(v string) string {
	if len(v) <= 6 {
		return "****"
	}
	return v[:2] + "****" + v[len(v)-4:]
}
