package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServer_MissingFile(t *testing.T) {
	cfg, err := LoadServer(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, DefaultServer(), cfg)
}

func TestLoadServer_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	data := []byte(`
port: 9090
send_queue_size: 64
auth:
  secret: file-secret
  token_ttl: 1h
redis:
  addr: redis.local:6380
database:
  host: db.local
  dbname: blastio_prod
log:
  level: debug
  format: json
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := LoadServer(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 64, cfg.SendQueueSize)
	assert.Equal(t, "file-secret", cfg.Auth.Secret)
	assert.Equal(t, time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, "redis.local:6380", cfg.Redis.Addr)
	assert.Equal(t, "db.local", cfg.Database.Host)
	assert.Equal(t, "blastio_prod", cfg.Database.DBName)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	// Fields absent from the file keep their defaults.
	assert.Equal(t, "0.0.0.0", cfg.BindAddress)
	assert.Equal(t, 5432, cfg.Database.Port)
}

func TestLoadServer_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 9090\n"), 0o644))

	t.Setenv("BLASTIO_PORT", "7070")
	t.Setenv("BLASTIO_JWT_SECRET", "env-secret")
	t.Setenv("BLASTIO_REDIS_DB", "3")
	t.Setenv("BLASTIO_LOG_FORMAT", "json")

	cfg, err := LoadServer(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Port)
	assert.Equal(t, "env-secret", cfg.Auth.Secret)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadServer_MalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: [not a number\n"), 0o644))

	_, err := LoadServer(path)
	assert.Error(t, err)
}

func TestLoadServer_BadEnvIntIgnored(t *testing.T) {
	t.Setenv("BLASTIO_PORT", "not-a-port")

	cfg, err := LoadServer(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, DefaultServer().Port, cfg.Port)
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DatabaseConfig{
		Host:     "localhost",
		Port:     5433,
		User:     "app",
		Password: "pw",
		DBName:   "blastio",
		SSLMode:  "disable",
	}

	assert.Equal(t, "postgres://app:pw@localhost:5433/blastio?sslmode=disable", d.DSN())
}
