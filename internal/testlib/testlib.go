// Package testlib holds helpers shared by the package tests.
package testlib

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/poolswitch/internal/pool"
)

type testingWriter struct {
	tb testing.TB
}

func (tw *testingWriter) Write(b []byte) (int, error) {
	tw.tb.Helper()
	tw.tb.Log(strings.TrimSpace(string(b)))
	return len(b), nil
}

// MakeLogger creates a logger that writes through tb.Log, so output only
// shows for failing or verbose tests.
func MakeLogger(tb testing.TB) log.FieldLogger {
	logger := log.New()
	logger.SetOutput(&testingWriter{tb})
	logger.SetLevel(log.TraceLevel)
	return logger
}

// SQLitePoolConfig returns the configuration of a sqlite pool backed by a
// fresh file in a temporary directory. A file is used rather than
// ":memory:" because every database/sql connection would otherwise see its
// own empty database.
func SQLitePoolConfig(tb testing.TB, name string) pool.Config {
	path := filepath.Join(tb.TempDir(), name+".db")
	return pool.Config{
		Name:           name,
		Driver:         pool.DriverSQLite,
		DSN:            fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_txlock=immediate", path),
		MaxOpenConns:   4,
		AcquireTimeout: 5 * time.Second,
	}
}

// OpenSQLitePool opens a sqlite pool that is closed when the test ends.
func OpenSQLitePool(tb testing.TB, name string, logger log.FieldLogger) *pool.SQLPool {
	p, err := pool.Open(SQLitePoolConfig(tb, name), logger)
	require.NoError(tb, err)
	tb.Cleanup(func() { p.Close() })
	return p
}
