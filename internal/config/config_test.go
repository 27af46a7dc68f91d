package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/poolswitch/internal/backend"
	"github.com/dreamware/poolswitch/internal/pool"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "poolswitch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DefaultListenAddr, cfg.ListenAddr)
	assert.Equal(t, DefaultDrainTimeout, cfg.DrainTimeout.Std())
	assert.Equal(t, DefaultPollInterval, cfg.PollInterval.Std())
	assert.Equal(t, DefaultValidationQuery, cfg.ValidationQuery())

	pc, err := cfg.PoolConfig(backend.Primary)
	require.NoError(t, err)
	assert.Equal(t, "pool-primary", pc.Name)
	assert.Equal(t, pool.DriverSQLite, pc.Driver)
	assert.Equal(t, DefaultAcquireTimeout, pc.AcquireTimeout)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
listen_addr: ":9090"
default_backend: SECONDARY
drain_timeout: 90s
poll_interval: 50ms
health:
  validation_query: "SELECT 2"
log:
  level: debug
  json: true
backends:
  primary:
    pool_name: Pool-Primary
    driver: pgx
    dsn: postgres://app@db1/app
    max_open_conns: 10
    conn_max_lifetime: 30m
    acquire_timeout: 10s
  Secondary:
    pool_name: Pool-Secondary
    driver: postgres
    dsn: postgres://app@db2/app?sslmode=disable
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, "SECONDARY", cfg.DefaultBackend)
	assert.Equal(t, 90*time.Second, cfg.DrainTimeout.Std())
	assert.Equal(t, 50*time.Millisecond, cfg.PollInterval.Std())
	assert.Equal(t, "SELECT 2", cfg.ValidationQuery())
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.JSON)
	assert.Len(t, cfg.Backends, 2, "file backends replace the defaults")

	primary, err := cfg.PoolConfig(backend.Primary)
	require.NoError(t, err)
	assert.Equal(t, pool.Config{
		Name:            "Pool-Primary",
		Driver:          pool.DriverPGX,
		DSN:             "postgres://app@db1/app",
		MaxOpenConns:    10,
		ConnMaxLifetime: 30 * time.Minute,
		AcquireTimeout:  10 * time.Second,
	}, primary)

	secondary, err := cfg.PoolConfig(backend.Secondary)
	require.NoError(t, err)
	assert.Equal(t, "Pool-Secondary", secondary.Name)
	assert.Equal(t, DefaultAcquireTimeout, secondary.AcquireTimeout)
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Backends, cfg.Backends)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errLike string
	}{
		{name: "unknown field", content: "listen: ':1'", errLike: "failed to parse"},
		{name: "bad duration", content: "drain_timeout: soon", errLike: "failed to parse"},
		{name: "negative duration", content: "drain_timeout: -1s", errLike: "drain_timeout"},
		{name: "bad log level", content: "log: {level: loud}", errLike: "log level"},
		{name: "unknown backend", content: "backends: {tertiary: {driver: sqlite, dsn: x}}", errLike: "unknown backend"},
		{name: "missing backend", content: "backends: {primary: {driver: sqlite, dsn: x}}", errLike: "secondary is not configured"},
		{name: "unsupported driver", content: "backends: {primary: {driver: oracle, dsn: x}, secondary: {driver: sqlite, dsn: y}}", errLike: "unsupported driver"},
		{name: "missing dsn", content: "backends: {primary: {driver: sqlite}, secondary: {driver: sqlite, dsn: y}}", errLike: "dsn"},
		{name: "duplicate backend", content: "backends: {primary: {driver: sqlite, dsn: x}, PRIMARY: {driver: sqlite, dsn: x}, secondary: {driver: sqlite, dsn: y}}", errLike: "more than once"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.errLike), "error %q does not mention %q", err, tt.errLike)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestInvalidDefaultBackendIsAccepted(t *testing.T) {
	cfg, err := Load(writeConfig(t, "default_backend: tertiary"))
	require.NoError(t, err)
	assert.Equal(t, "tertiary", cfg.DefaultBackend)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvAddr:           ":7070",
		EnvDefaultBackend: "secondary",
		EnvLogLevel:       "warn",
	}

	cfg := Default()
	cfg.applyEnv(func(k string) string { return env[k] })

	assert.Equal(t, ":7070", cfg.ListenAddr)
	assert.Equal(t, "secondary", cfg.DefaultBackend)
	assert.Equal(t, "warn", cfg.Log.Level)

	cfg = Default()
	cfg.applyEnv(func(string) string { return "" })
	assert.Equal(t, DefaultListenAddr, cfg.ListenAddr)
}

func TestLoadAppliesEnv(t *testing.T) {
	t.Setenv(EnvAddr, ":6060")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":6060", cfg.ListenAddr)
}
