package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Security SecurityConfig
	Email    EmailConfig
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
	TrustedProxies []string
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// RedisConfig selects the session backend. An empty Addr means the in-memory
// backend; set REDIS_ADDR for multi-instance deployments.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AuthConfig struct {
	JWTSecret         string
	AccessTokenExpiry time.Duration
	SessionTTL        time.Duration
	TOTPEncryptionKey string // 32 bytes for AES-256
	TOTPIssuer        string
	OTPCodeValidity   time.Duration
	CleanupInterval   time.Duration
}

// SecurityConfig carries the limiter and guard thresholds. Defaults follow
// the marketplace policy: general traffic 100 req / 15 min, OTP traffic
// 20 req / 10 min; login lockout after 5 failures for 15 min, OTP lockout
// after 10 failures for 5 min.
type SecurityConfig struct {
	APIRequestLimit   int
	APIRequestWindow  time.Duration
	OTPRequestLimit   int
	OTPRequestWindow  time.Duration
	LoginMaxAttempts  int
	LoginLockout      time.Duration
	OTPMaxAttempts    int
	OTPLockout        time.Duration
	InactivityTimeout time.Duration
	InactivityGrace   time.Duration
	ActivityRetention time.Duration
}

type EmailConfig struct {
	AWSRegion   string
	FromAddress string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")
	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	totpKey := getEnv("TOTP_ENCRYPTION_KEY", "")
	if totpKey != "" && len(totpKey) != 32 {
		return nil, fmt.Errorf("TOTP_ENCRYPTION_KEY must be exactly 32 bytes (got %d)", len(totpKey))
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: parseList(getEnv("ALLOWED_ORIGINS", "")),
			TrustedProxies: parseList(getEnv("TRUSTED_PROXIES", "")),
		},
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "sentinel"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Auth: AuthConfig{
			JWTSecret:         jwtSecret,
			AccessTokenExpiry: getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 15*time.Minute),
			SessionTTL:        getEnvAsDuration("SESSION_TTL", 120*time.Minute),
			TOTPEncryptionKey: totpKey,
			TOTPIssuer:        getEnv("TOTP_ISSUER", "Tradepost"),
			OTPCodeValidity:   getEnvAsDuration("OTP_CODE_VALIDITY", 5*time.Minute),
			CleanupInterval:   getEnvAsDuration("CLEANUP_INTERVAL", 10*time.Minute),
		},
		Security: SecurityConfig{
			APIRequestLimit:   getEnvAsInt("API_REQUEST_LIMIT", 100),
			APIRequestWindow:  getEnvAsDuration("API_REQUEST_WINDOW", 15*time.Minute),
			OTPRequestLimit:   getEnvAsInt("OTP_REQUEST_LIMIT", 20),
			OTPRequestWindow:  getEnvAsDuration("OTP_REQUEST_WINDOW", 10*time.Minute),
			LoginMaxAttempts:  getEnvAsInt("LOGIN_MAX_ATTEMPTS", 5),
			LoginLockout:      getEnvAsDuration("LOGIN_LOCKOUT_DURATION", 15*time.Minute),
			OTPMaxAttempts:    getEnvAsInt("OTP_MAX_ATTEMPTS", 10),
			OTPLockout:        getEnvAsDuration("OTP_LOCKOUT_DURATION", 5*time.Minute),
			InactivityTimeout: getEnvAsDuration("INACTIVITY_TIMEOUT", 120*time.Minute),
			InactivityGrace:   getEnvAsDuration("INACTIVITY_GRACE", 30*time.Second),
			ActivityRetention: getEnvAsDuration("ACTIVITY_RETENTION", 90*24*time.Hour),
		},
		Email: EmailConfig{
			AWSRegion:   getEnv("AWS_REGION", "us-east-1"),
			FromAddress: getEnv("EMAIL_FROM_ADDRESS", "no-reply@tradepost.example"),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	return cfg, nil
}

// validateJWTSecret enforces minimum strength for the signing secret.
func validateJWTSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}
	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}
	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}
	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func parseList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
