package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Checkpoint store backends
const (
	CheckpointStoreFile     = "file"
	CheckpointStorePostgres = "postgres"
)

// Config holds all application configuration
type Config struct {
	Backend       BackendConfig
	Import        ImportConfig
	Checkpoint    CheckpointConfig
	Database      DatabaseConfig
	Notify        NotifyConfig
	Observability ObservabilityConfig
	Log           LogConfig
}

type BackendConfig struct {
	BaseURL       string
	Token         string
	JWTSecret     string
	JWTSubject    string
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
	MaxRetries    int
}

type ImportConfig struct {
	ChunkSize            int
	TransactionChunkSize int
	Concurrency          int
	// Dialect is "auto", "us" or "eu"
	Dialect string
}

type CheckpointConfig struct {
	Store           string
	Dir             string
	Namespace       string
	TTL             time.Duration
	JanitorSchedule string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

type NotifyConfig struct {
	ResendAPIKey string
	From         string
	To           []string
}

type ObservabilityConfig struct {
	MetricsAddr string
}

type LogConfig struct {
	Level  string
	Format string
}

// Load reads configuration from environment variables, after loading a .env
// file from the working directory when one exists.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{
		Backend: BackendConfig{
			BaseURL:       getEnv("BACKEND_URL", "http://localhost:3000"),
			Token:         getEnv("BACKEND_TOKEN", ""),
			JWTSecret:     getEnv("BACKEND_JWT_SECRET", ""),
			JWTSubject:    getEnv("BACKEND_JWT_SUBJECT", "tenoris-import"),
			Timeout:       getEnvAsDuration("BACKEND_TIMEOUT", 30*time.Second),
			RatePerSecond: getEnvAsFloat("BACKEND_RATE_LIMIT_PER_SECOND", 10),
			Burst:         getEnvAsInt("BACKEND_RATE_LIMIT_BURST", 3),
			MaxRetries:    getEnvAsInt("BACKEND_MAX_RETRIES", 3),
		},
		Import: ImportConfig{
			ChunkSize:            getEnvAsInt("IMPORT_CHUNK_SIZE", 50),
			TransactionChunkSize: getEnvAsInt("IMPORT_TRANSACTION_CHUNK_SIZE", 100),
			Concurrency:          getEnvAsInt("IMPORT_CONCURRENCY", 3),
			Dialect:              strings.ToLower(getEnv("IMPORT_NUMBER_DIALECT", "auto")),
		},
		Checkpoint: CheckpointConfig{
			Store:           strings.ToLower(getEnv("CHECKPOINT_STORE", CheckpointStoreFile)),
			Dir:             getEnv("CHECKPOINT_DIR", ".tenoris-import"),
			Namespace:       getEnv("CHECKPOINT_NAMESPACE", "default"),
			TTL:             getEnvAsDuration("CHECKPOINT_TTL", 24*time.Hour),
			JanitorSchedule: getEnv("CHECKPOINT_JANITOR_SCHEDULE", "@hourly"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnvAsInt("POSTGRES_PORT", 5432),
			User:     getEnv("POSTGRES_USER", "postgres"),
			Password: getEnv("POSTGRES_PASSWORD", "postgres"),
			Database: getEnv("POSTGRES_DB", "tenoris360"),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		},
		Notify: NotifyConfig{
			ResendAPIKey: getEnv("RESEND_API_KEY", ""),
			From:         getEnv("RESEND_FROM_EMAIL", ""),
			To:           getEnvAsList("IMPORT_NOTIFY_EMAILS"),
		},
		Observability: ObservabilityConfig{
			MetricsAddr: getEnv("METRICS_ADDR", ":9090"),
		},
		Log: LogConfig{
			Level:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
			Format: strings.ToLower(getEnv("LOG_FORMAT", "text")),
		},
	}

	switch cfg.Checkpoint.Store {
	case CheckpointStoreFile, CheckpointStorePostgres:
	default:
		return nil, fmt.Errorf("CHECKPOINT_STORE must be %q or %q, got %q",
			CheckpointStoreFile, CheckpointStorePostgres, cfg.Checkpoint.Store)
	}

	switch cfg.Import.Dialect {
	case "auto", "us", "eu":
	default:
		return nil, fmt.Errorf("IMPORT_NUMBER_DIALECT must be auto, us or eu, got %q", cfg.Import.Dialect)
	}

	if cfg.Import.ChunkSize <= 0 || cfg.Import.TransactionChunkSize <= 0 {
		return nil, errors.New("import chunk sizes must be positive")
	}

	return cfg, nil
}

// RequireBackend checks the settings needed to talk to the backend
func (c *Config) RequireBackend() error {
	if c.Backend.BaseURL == "" {
		return errors.New("BACKEND_URL is required")
	}
	if c.Backend.Token == "" && c.Backend.JWTSecret == "" {
		return errors.New("BACKEND_TOKEN or BACKEND_JWT_SECRET is required")
	}
	return nil
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// SlogLevel maps the configured level name to a slog level
func (c LogConfig) SlogLevel() slog.Level {
	switch c.Level {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated variable, dropping empty items
func getEnvAsList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
