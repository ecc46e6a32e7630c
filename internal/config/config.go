package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/marketplace-kit/session-service/internal/auth"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App       AppConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	Logger    LoggerConfig
	Auth      AuthConfig
	OTP       OTPConfig
	Reaper    ReaperConfig
	RateLimit RateLimitConfig
	Delivery  DeliveryConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior. Format is "json" or
// "console"; anything else fails NewLogger.
type LoggerConfig struct {
	Level  string
	Format string
}

// AuthConfig defines authentication parameters. Token TTLs arrive from
// the environment as strings ("7d", "30m" or bare seconds) and are
// validated into durations at load time.
type AuthConfig struct {
	JWTSecret            string
	AccessTokenTTL       time.Duration
	VerifyTokenTTL       time.Duration
	BcryptCost           int
	SessionTouchInterval time.Duration
}

// OTPConfig governs phone verification codes and resend cooldowns.
type OTPConfig struct {
	CodeTTL        time.Duration
	ResendCooldown time.Duration
	MaxAttempts    int
}

// ReaperConfig controls the background session sweep.
type ReaperConfig struct {
	Interval time.Duration
}

// RateLimitConfig bounds unauthenticated endpoint traffic per client IP.
type RateLimitConfig struct {
	PerMinute int
	Burst     int
}

// DeliveryConfig holds stub delivery endpoints for OTP and email sends.
type DeliveryConfig struct {
	EmailFrom      string
	SMSFrom        string
	VerifyLinkBase string
}

// Load reads configuration from environment variables, applying defaults
// where possible. The JWT secret has no default outside development.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	accessTTL, err := auth.ParseTTL(getEnv("AUTH_ACCESS_TOKEN_TTL", "7d"))
	if err != nil {
		return nil, fmt.Errorf("invalid AUTH_ACCESS_TOKEN_TTL: %w", err)
	}
	verifyTTL, err := auth.ParseTTL(getEnv("AUTH_VERIFY_TOKEN_TTL", "24h"))
	if err != nil {
		return nil, fmt.Errorf("invalid AUTH_VERIFY_TOKEN_TTL: %w", err)
	}

	env := getEnv("APP_ENV", "development")
	secret := os.Getenv("AUTH_JWT_SECRET")
	if secret == "" {
		if env != "development" {
			return nil, fmt.Errorf("AUTH_JWT_SECRET is required")
		}
		secret = "dev-secret"
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "session-service"),
			Env:                   env,
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Auth: AuthConfig{
			JWTSecret:            secret,
			AccessTokenTTL:       accessTTL,
			VerifyTokenTTL:       verifyTTL,
			BcryptCost:           getEnvAsInt("AUTH_BCRYPT_COST", 12),
			SessionTouchInterval: getEnvAsDuration("AUTH_SESSION_TOUCH_INTERVAL", 30*time.Second),
		},
		OTP: OTPConfig{
			CodeTTL:        getEnvAsDuration("OTP_CODE_TTL", 10*time.Minute),
			ResendCooldown: getEnvAsDuration("OTP_RESEND_COOLDOWN", 45*time.Second),
			MaxAttempts:    getEnvAsInt("OTP_MAX_ATTEMPTS", 5),
		},
		Reaper: ReaperConfig{
			Interval: getEnvAsDuration("SESSION_REAPER_INTERVAL", time.Minute),
		},
		RateLimit: RateLimitConfig{
			PerMinute: getEnvAsInt("RATE_LIMIT_PER_MINUTE", 30),
			Burst:     getEnvAsInt("RATE_LIMIT_BURST", 10),
		},
		Delivery: DeliveryConfig{
			EmailFrom:      getEnv("DELIVERY_EMAIL_FROM", "noreply@example.com"),
			SMSFrom:        getEnv("DELIVERY_SMS_FROM", ""),
			VerifyLinkBase: getEnv("DELIVERY_VERIFY_LINK_BASE", "http://localhost:3000/verify-email"),
		},
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return parsed
}
