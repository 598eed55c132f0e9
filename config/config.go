package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

type Config struct {
	Port           string
	DatabaseURL    string
	StorageBackend string
	JWTSecret      string
	LogLevel       string
	MaxUploadBytes int64
	CORSOrigin     string
}

// Load reads an optional .env file and then the process environment.
// A missing .env is not an error; variables already set in the OS win.
func Load() (*Config, error) {
	envLoaded := godotenv.Load() == nil

	cfg := &Config{
		Port:           envOr("PORT", "8080"),
		StorageBackend: strings.ToLower(envOr("STORAGE_BACKEND", BackendPostgres)),
		JWTSecret:      envOr("JWT_SECRET", env("SUPABASE_JWT_SECRET")),
		LogLevel:       envOr("LOG_LEVEL", "info"),
		CORSOrigin:     envOr("CORS_ORIGIN", "*"),
	}
	cfg.DatabaseURL = databaseURL()

	maxMB, err := strconv.ParseInt(envOr("MAX_UPLOAD_MB", "25"), 10, 64)
	if err != nil || maxMB <= 0 {
		return nil, fmt.Errorf("invalid MAX_UPLOAD_MB %q", env("MAX_UPLOAD_MB"))
	}
	cfg.MaxUploadBytes = maxMB << 20

	if err := cfg.Validate(); err != nil {
		if !envLoaded {
			return nil, fmt.Errorf("%w (no .env file found, using OS environment only)", err)
		}
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.StorageBackend {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("postgres backend requires DATABASE_URL or host/dbname variables")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend)
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET (or SUPABASE_JWT_SECRET) must be set")
	}
	return nil
}

// databaseURL prefers DATABASE_URL and otherwise assembles one from the
// individual user/password/host/port/dbname variables.
func databaseURL() string {
	if url := env("DATABASE_URL"); url != "" {
		return url
	}
	host, name := env("host"), env("dbname")
	if host == "" || name == "" {
		return ""
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		env("user"), env("password"), host, envOr("port", "5432"), name, envOr("DB_SSLMODE", "require"))
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func envOr(key, fallback string) string {
	if v := env(key); v != "" {
		return v
	}
	return fallback
}
