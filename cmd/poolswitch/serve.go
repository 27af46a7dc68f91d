package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dreamware/poolswitch/internal/api"
	"github.com/dreamware/poolswitch/internal/backend"
	"github.com/dreamware/poolswitch/internal/config"
	"github.com/dreamware/poolswitch/internal/migration"
	"github.com/dreamware/poolswitch/internal/pool"
	"github.com/dreamware/poolswitch/internal/quiesce"
	"github.com/dreamware/poolswitch/internal/records"
	"github.com/dreamware/poolswitch/internal/router"
	"github.com/dreamware/poolswitch/internal/state"
)

const shutdownTimeout = 5 * time.Second

func init() {
	serveCmd.Flags().String("config", getenv(config.EnvConfig, ""), "Path to the YAML configuration file.")
	serveCmd.Flags().String("listen", "", "The interface and port on which to listen. Overrides the config.")
	serveCmd.Flags().String("default-backend", "", "The backend that is active at startup. Overrides the config.")
	serveCmd.Flags().Bool("access-log", true, "Whether to write an HTTP access log to stdout.")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the server.",
	RunE: func(command *cobra.Command, args []string) error {
		command.SilenceUsage = true

		configPath, _ := command.Flags().GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if listen, _ := command.Flags().GetString("listen"); listen != "" {
			cfg.ListenAddr = listen
		}
		if def, _ := command.Flags().GetString("default-backend"); def != "" {
			cfg.DefaultBackend = def
		}

		logger, err := newLogger(cfg.Log)
		if err != nil {
			return err
		}

		var accessLog io.Writer
		if enabled, _ := command.Flags().GetBool("access-log"); enabled {
			accessLog = os.Stdout
		}

		ctx, stop := signal.NotifyContext(command.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return serve(ctx, cfg, logger, accessLog)
	},
}

// openRegistry opens one pool per backend. Pools opened before a failure
// are closed again.
func openRegistry(cfg *config.Config, logger log.FieldLogger) (*backend.Registry, error) {
	var entries []backend.Entry
	closeAll := func() {
		for _, e := range entries {
			e.Pool.Close()
		}
	}

	for _, id := range backend.All() {
		poolConfig, err := cfg.PoolConfig(id)
		if err != nil {
			closeAll()
			return nil, err
		}
		p, err := pool.Open(poolConfig, logger.WithField("backend", id))
		if err != nil {
			closeAll()
			return nil, errors.Wrapf(err, "failed to open pool for %s", id)
		}
		entries = append(entries, backend.Entry{ID: id, Name: poolConfig.Name, Pool: p})
	}

	registry, err := backend.NewRegistry(entries...)
	if err != nil {
		closeAll()
		return nil, err
	}
	return registry, nil
}

// serve runs the server until ctx ends.
func serve(ctx context.Context, cfg *config.Config, logger *log.Logger, accessLog io.Writer) error {
	registry, err := openRegistry(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		for _, e := range registry.Entries() {
			if err := e.Pool.Close(); err != nil {
				logger.WithError(err).WithField("pool", e.Name).Warn("Failed to close pool")
			}
		}
	}()

	active := state.New(cfg.DefaultBackend, logger)
	controller := migration.New(migration.Params{
		Registry:     registry,
		State:        active,
		Waiter:       quiesce.New(cfg.PollInterval.Std(), logger),
		DrainTimeout: cfg.DrainTimeout.Std(),
		Logger:       logger,
	})

	controller.Prepare(ctx)

	rtr := router.New(registry, active)
	apiContext := &api.Context{
		Service:         api.NewService(controller, active),
		Registry:        registry,
		Router:          rtr,
		Records:         records.NewStore(rtr, logger),
		ValidationQuery: cfg.ValidationQuery(),
		Logger:          logger,
	}

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.NewHandler(apiContext, accessLog),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		logger.WithFields(log.Fields{
			"addr":    cfg.ListenAddr,
			"active":  active.LookupKey(),
			"drain":   controller.DrainTimeout(),
			"default": cfg.DefaultBackend,
		}).Info("Server listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errs <- err
		}
		close(errs)
	}()

	select {
	case err := <-errs:
		return errors.Wrap(err, "failed to listen")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Server did not shut down cleanly")
	}
	logger.Info("Server stopped")
	return nil
}
