package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/poolswitch/internal/backend"
	"github.com/dreamware/poolswitch/internal/config"
	"github.com/dreamware/poolswitch/internal/pool"
)

// TestGetenv tests the getenv utility function
func TestGetenv(t *testing.T) {
	t.Setenv("POOLSWITCH_TEST_SET", "value")
	t.Setenv("POOLSWITCH_TEST_EMPTY", "")

	assert.Equal(t, "value", getenv("POOLSWITCH_TEST_SET", "default"))
	assert.Equal(t, "default", getenv("POOLSWITCH_TEST_EMPTY", "default"))
	assert.Equal(t, "fallback", getenv("POOLSWITCH_TEST_UNSET", "fallback"))
}

func TestNewLogger(t *testing.T) {
	logger, err := newLogger(config.LogConfig{Level: "debug", JSON: true})
	require.NoError(t, err)
	assert.Equal(t, log.DebugLevel, logger.GetLevel())
	assert.IsType(t, &log.JSONFormatter{}, logger.Formatter)

	logger, err = newLogger(config.LogConfig{Level: "info"})
	require.NoError(t, err)
	assert.IsType(t, &log.TextFormatter{}, logger.Formatter)

	_, err = newLogger(config.LogConfig{Level: "loud"})
	assert.Error(t, err)
}

func sqliteConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.ListenAddr = freeAddr(t)
	cfg.DrainTimeout = config.Duration(time.Second)
	cfg.Backends = map[string]config.BackendConfig{
		"primary":   {PoolName: "Pool-Primary", Driver: pool.DriverSQLite, DSN: "file:" + filepath.Join(dir, "primary.db")},
		"secondary": {PoolName: "Pool-Secondary", Driver: pool.DriverSQLite, DSN: "file:" + filepath.Join(dir, "secondary.db")},
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestOpenRegistry(t *testing.T) {
	logger := log.New()
	logger.SetOutput(os.Stderr)

	registry, err := openRegistry(sqliteConfig(t), logger)
	require.NoError(t, err)

	entries := registry.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, backend.Primary, entries[0].ID)
	assert.Equal(t, "Pool-Primary", entries[0].Name)
	assert.Equal(t, "Pool-Secondary", entries[1].Pool.Name())

	for _, e := range entries {
		require.NoError(t, e.Pool.Close())
	}
}

func TestServe(t *testing.T) {
	cfg := sqliteConfig(t)
	logger := log.New()
	logger.SetOutput(os.Stderr)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg, logger, nil) }()

	base := "http://" + cfg.ListenAddr
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	rootCmd.SetArgs([]string{"migrate", "secondary", "--server", base})
	require.NoError(t, rootCmd.Execute())

	rootCmd.SetArgs([]string{"status", "--server", base, "--table"})
	require.NoError(t, rootCmd.Execute())

	rootCmd.SetArgs([]string{"migrate", "secondary", "--server", base})
	assert.Error(t, rootCmd.Execute(), "migrating to the active backend is declined")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestStatusCommandJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"active":"primary","backends":[{"id":"primary","is_active":true,"name":"Pool-Primary","state":"ACTIVE"}]}`)
	}))
	defer server.Close()

	rootCmd.SetArgs([]string{"status", "--server", server.URL})
	require.NoError(t, rootCmd.Execute())
}

func TestMigrateCommandServerDown(t *testing.T) {
	rootCmd.SetArgs([]string{"migrate", "secondary", "--server", "http://" + freeAddr(t), "--timeout", "1s"})
	assert.Error(t, rootCmd.Execute())
}
