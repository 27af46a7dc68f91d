// Package config loads the server configuration from a YAML file and the
// environment.
package config

import (
	"bytes"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/dreamware/poolswitch/internal/backend"
	"github.com/dreamware/poolswitch/internal/pool"
)

// Environment variables that override file settings.
const (
	EnvConfig         = "POOLSWITCH_CONFIG"
	EnvAddr           = "POOLSWITCH_ADDR"
	EnvDefaultBackend = "POOLSWITCH_DEFAULT_BACKEND"
	EnvLogLevel       = "POOLSWITCH_LOG_LEVEL"
)

// Defaults.
const (
	DefaultListenAddr      = ":8080"
	DefaultDrainTimeout    = 5 * time.Minute
	DefaultPollInterval    = 100 * time.Millisecond
	DefaultValidationQuery = "SELECT 1"
	DefaultAcquireTimeout  = 30 * time.Second
)

// Duration is a time.Duration written as a Go duration string ("90s").
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return errors.Wrapf(err, "line %d", value.Line)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// BackendConfig configures the pool of one backend.
type BackendConfig struct {
	PoolName        string   `yaml:"pool_name"`
	Driver          string   `yaml:"driver"`
	DSN             string   `yaml:"dsn"`
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
	AcquireTimeout  Duration `yaml:"acquire_timeout"`
}

// HealthConfig configures the health endpoint.
type HealthConfig struct {
	ValidationQuery string `yaml:"validation_query"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Config is the complete server configuration.
type Config struct {
	ListenAddr     string                   `yaml:"listen_addr"`
	DefaultBackend string                   `yaml:"default_backend"`
	DrainTimeout   Duration                 `yaml:"drain_timeout"`
	PollInterval   Duration                 `yaml:"poll_interval"`
	Health         HealthConfig             `yaml:"health"`
	Log            LogConfig                `yaml:"log"`
	Backends       map[string]BackendConfig `yaml:"backends"`
}

// Default returns a configuration that runs both backends on local sqlite
// files.
func Default() *Config {
	return &Config{
		ListenAddr:     DefaultListenAddr,
		DefaultBackend: backend.Primary.String(),
		DrainTimeout:   Duration(DefaultDrainTimeout),
		PollInterval:   Duration(DefaultPollInterval),
		Health:         HealthConfig{ValidationQuery: DefaultValidationQuery},
		Log:            LogConfig{Level: "info"},
		Backends: map[string]BackendConfig{
			backend.Primary.String():   {Driver: pool.DriverSQLite, DSN: "file:primary.db"},
			backend.Secondary.String(): {Driver: pool.DriverSQLite, DSN: "file:secondary.db"},
		},
	}
}

// Load reads the file at path on top of Default, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read config %s", path)
		}
		if err := cfg.decode(bytes.NewReader(data)); err != nil {
			return nil, errors.Wrapf(err, "failed to parse config %s", path)
		}
	}

	cfg.applyEnv(os.Getenv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode overlays r on c. A backends section in r replaces the default
// backends as a whole rather than merging with them.
func (c *Config) decode(r io.Reader) error {
	defaults := c.Backends
	c.Backends = nil

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && err != io.EOF {
		return err
	}

	if c.Backends == nil {
		c.Backends = defaults
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv(EnvAddr); v != "" {
		c.ListenAddr = v
	}
	if v := getenv(EnvDefaultBackend); v != "" {
		c.DefaultBackend = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
}

// Validate checks that every backend is configured with a supported driver.
// The default backend is not checked: an invalid one falls back to the
// primary backend at startup.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		return errors.New("listen_addr must not be empty")
	}
	if c.DrainTimeout < 0 {
		return errors.New("drain_timeout must not be negative")
	}
	if c.PollInterval < 0 {
		return errors.New("poll_interval must not be negative")
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrap(err, "invalid log level")
	}

	seen := make(map[backend.ID]bool, len(c.Backends))
	for key, bc := range c.Backends {
		id, err := backend.ParseID(key)
		if err != nil {
			return errors.Wrap(err, "invalid backend in config")
		}
		if seen[id] {
			return errors.Errorf("backend %s configured more than once", id)
		}
		seen[id] = true

		if !pool.SupportedDriver(bc.Driver) {
			return errors.Errorf("backend %s: unsupported driver %q", id, bc.Driver)
		}
		if strings.TrimSpace(bc.DSN) == "" {
			return errors.Errorf("backend %s: dsn must not be empty", id)
		}
		if bc.AcquireTimeout < 0 || bc.ConnMaxLifetime < 0 {
			return errors.Errorf("backend %s: durations must not be negative", id)
		}
	}
	for _, id := range backend.All() {
		if !seen[id] {
			return errors.Errorf("backend %s is not configured", id)
		}
	}
	return nil
}

// PoolConfig returns the pool configuration of id with defaults applied.
func (c *Config) PoolConfig(id backend.ID) (pool.Config, error) {
	for key, bc := range c.Backends {
		if parsed, err := backend.ParseID(key); err != nil || parsed != id {
			continue
		}

		name := bc.PoolName
		if name == "" {
			name = "pool-" + id.String()
		}
		acquireTimeout := bc.AcquireTimeout.Std()
		if acquireTimeout == 0 {
			acquireTimeout = DefaultAcquireTimeout
		}
		return pool.Config{
			Name:            name,
			Driver:          bc.Driver,
			DSN:             bc.DSN,
			MaxOpenConns:    bc.MaxOpenConns,
			MaxIdleConns:    bc.MaxIdleConns,
			ConnMaxLifetime: bc.ConnMaxLifetime.Std(),
			AcquireTimeout:  acquireTimeout,
		}, nil
	}
	return pool.Config{}, errors.Wrapf(backend.ErrUnknownBackend, "%s is not configured", id)
}

// ValidationQuery returns the health query, defaulting to SELECT 1.
func (c *Config) ValidationQuery() string {
	if q := strings.TrimSpace(c.Health.ValidationQuery); q != "" {
		return q
	}
	return DefaultValidationQuery
}
