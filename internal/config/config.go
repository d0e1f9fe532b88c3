package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds service configuration.
type Config struct {
	ServerAddr    string
	DatabaseURL   string
	MigrationsDir string

	JWTSecret            string
	JWTSigningKeys       []string
	JWTDefaultKeyID      string
	OperatorTokenTTL     time.Duration
	OperatorUsername     string
	OperatorPasswordHash string

	SessionIdleTimeout time.Duration
	RelayThrottle      time.Duration
	AlertRules         []string
	CORSOrigins        []string
}

// Load reads configuration from the environment. A .env file in the working
// directory is picked up when present. DATABASE_URL left empty selects the
// in-memory store.
func Load() (*Config, error) {
	_ = godotenv.Load()

	return &Config{
		ServerAddr:           getenv("SERVER_ADDR", "0.0.0.0:8080"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		MigrationsDir:        getenv("MIGRATIONS_DIR", "internal/migrations"),
		JWTSecret:            getenv("JWT_SECRET", "dev-secret-change-me"),
		JWTSigningKeys:       splitList(os.Getenv("JWT_SIGNING_KEYS"), ","),
		JWTDefaultKeyID:      os.Getenv("JWT_DEFAULT_KEY_ID"),
		OperatorTokenTTL:     parseDuration(os.Getenv("OPERATOR_TOKEN_TTL"), 12*time.Hour),
		OperatorUsername:     getenv("OPERATOR_USERNAME", "operator"),
		OperatorPasswordHash: os.Getenv("OPERATOR_PASSWORD_HASH"),
		SessionIdleTimeout:   parseDuration(os.Getenv("SESSION_IDLE_TIMEOUT"), 0),
		RelayThrottle:        parseDuration(os.Getenv("RELAY_THROTTLE"), 250*time.Millisecond),
		AlertRules:           splitList(os.Getenv("ALERT_RULES"), ";"),
		CORSOrigins:          splitList(getenv("CORS_ORIGINS", "*"), ","),
	}, nil
}

func getenv(key, def string) string {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	return val
}

func parseDuration(val string, def time.Duration) time.Duration {
	if val == "" {
		return def
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return def
	}
	return d
}

func splitList(val, sep string) []string {
	parts := strings.Split(val, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
