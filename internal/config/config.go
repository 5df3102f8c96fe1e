package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Server holds all configuration for the blastio server process.
type Server struct {
	// Network
	BindAddress string `yaml:"bind_address"`
	Port        int    `yaml:"port"`

	// Per-connection write queue / timeouts
	SendQueueSize   int           `yaml:"send_queue_size"`  // per-connection outbox capacity (default: 256)
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // graceful drain window (default: 10s)

	// Auth
	Auth AuthConfig `yaml:"auth"`

	// Cache
	Redis RedisConfig `yaml:"redis"`

	// Database
	Database DatabaseConfig `yaml:"database"`

	// Cluster relay (optional; empty URL disables)
	NATS NATSConfig `yaml:"nats"`

	// Logging
	Log LogConfig `yaml:"log"`
}

// AuthConfig holds token-signing parameters.
type AuthConfig struct {
	Secret   string        `yaml:"secret"`
	TokenTTL time.Duration `yaml:"token_ttl"`
}

// RedisConfig holds cache connection parameters.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// NATSConfig holds relay connection parameters.
type NATSConfig struct {
	URL string `yaml:"url"`
}

// LogConfig holds logging output parameters.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// DefaultServer returns Server config with sensible defaults.
func DefaultServer() Server {
	return Server{
		BindAddress:     "0.0.0.0",
		Port:            8080,
		SendQueueSize:   256,
		ShutdownTimeout: 10 * time.Second,
		Auth: AuthConfig{
			Secret:   "dev-secret-change-me",
			TokenTTL: 24 * time.Hour,
		},
		Redis: RedisConfig{
			Addr: "127.0.0.1:6379",
			DB:   0,
		},
		Database: DatabaseConfig{
			Host:     "127.0.0.1",
			Port:     5432,
			User:     "blastio",
			Password: "blastio",
			DBName:   "blastio",
			SSLMode:  "disable",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadServer loads server config from a YAML file, then applies
// BLASTIO_* environment overrides on top. If the file doesn't exist,
// the defaults are used as the base.
func LoadServer(path string) (Server, error) {
	cfg := DefaultServer()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.applyEnv()

	return cfg, nil
}

// applyEnv overrides config fields from BLASTIO_* environment variables.
// Environment always wins over file values.
func (c *Server) applyEnv() {
	envStr("BLASTIO_BIND_ADDRESS", &c.BindAddress)
	envInt("BLASTIO_PORT", &c.Port)

	envStr("BLASTIO_JWT_SECRET", &c.Auth.Secret)

	envStr("BLASTIO_REDIS_ADDR", &c.Redis.Addr)
	envStr("BLASTIO_REDIS_PASSWORD", &c.Redis.Password)
	envInt("BLASTIO_REDIS_DB", &c.Redis.DB)

	envStr("BLASTIO_DB_HOST", &c.Database.Host)
	envInt("BLASTIO_DB_PORT", &c.Database.Port)
	envStr("BLASTIO_DB_USER", &c.Database.User)
	envStr("BLASTIO_DB_PASSWORD", &c.Database.Password)
	envStr("BLASTIO_DB_NAME", &c.Database.DBName)
	envStr("BLASTIO_DB_SSLMODE", &c.Database.SSLMode)

	envStr("BLASTIO_NATS_URL", &c.NATS.URL)

	envStr("BLASTIO_LOG_LEVEL", &c.Log.Level)
	envStr("BLASTIO_LOG_FORMAT", &c.Log.Format)
}

func envStr(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
