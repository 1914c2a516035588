package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// MinJWTSecretLength is the shortest accepted HS256 signing key, in bytes.
const MinJWTSecretLength = 32

type JWTConfig struct {
	Secret string        `envconfig:"SECRET" required:"true"`
	Expiry time.Duration `envconfig:"EXPIRY" default:"24h"`
	Issuer string        `envconfig:"ISSUER" default:"payments-portal"`
}

type LockoutConfig struct {
	MaxAttempts int           `envconfig:"MAX_ATTEMPTS" default:"5"`
	Duration    time.Duration `envconfig:"DURATION" default:"15m"`
}

type RedisConfig struct {
	Addr     string `envconfig:"ADDR"`
	Password string `envconfig:"PASSWORD"`
	DB       int    `envconfig:"DB" default:"0"`
}

type Config struct {
	Env        string `envconfig:"APP_ENV" default:"production"`
	ServerPort string `envconfig:"SERVER_PORT" default:"8080"`

	DatabaseURL string        `envconfig:"DATABASE_URL"`
	DBHost      string        `envconfig:"DB_HOST" default:"localhost"`
	DBPort      string        `envconfig:"DB_PORT" default:"5432"`
	DBUser      string        `envconfig:"DB_USER" default:"postgres"`
	DBPassword  string        `envconfig:"DB_PASSWORD" default:"password"`
	DBName      string        `envconfig:"DB_NAME" default:"payments_portal"`
	DBTimeout   time.Duration `envconfig:"DATABASE_TIMEOUT" default:"5s"`

	JWT     JWTConfig     `envconfig:"JWT"`
	Lockout LockoutConfig `envconfig:"LOCKOUT"`
	Redis   RedisConfig   `envconfig:"REDIS"`

	DashboardCacheTTL  time.Duration `envconfig:"DASHBOARD_CACHE_TTL" default:"10s"`
	PaginationMaxLimit int           `envconfig:"PAGINATION_MAX_LIMIT" default:"100"`
}

// Load reads an optional .env file and then the process environment.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil {
		slog.Warn("No .env file found, relying on system environment variables")
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	// envconfig's required only checks presence; JWT_SECRET= would pass.
	if len(strings.TrimSpace(cfg.JWT.Secret)) < MinJWTSecretLength {
		return nil, fmt.Errorf("load config: JWT_SECRET must be at least %d bytes", MinJWTSecretLength)
	}

	slog.Info("Config loaded",
		"env", cfg.Env,
		"server_port", cfg.ServerPort,
		"db", maskValue(cfg.GetDBConnectionString()),
		"jwt_secret", maskValue(cfg.JWT.Secret),
		"jwt_expiry", cfg.JWT.Expiry,
		"lockout_max_attempts", cfg.Lockout.MaxAttempts,
		"lockout_duration", cfg.Lockout.Duration,
		"redis_enabled", cfg.Redis.Addr != "",
	)
	return &cfg, nil
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// GetDBConnectionString prefers DATABASE_URL over the discrete DB_* settings.
func (c *Config) GetDBConnectionString() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName)
}

func maskValue(v string) string {
	if len(v) <= 6 {
		return "****"
	}
	return v[:2] + "****" + v[len(v)-4:]
}
