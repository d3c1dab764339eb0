package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/l0p7/uriguard/internal/config"
	"github.com/l0p7/uriguard/internal/logging"
	"github.com/l0p7/uriguard/internal/metrics"
	"github.com/l0p7/uriguard/internal/reload"
	"github.com/l0p7/uriguard/internal/runtime"
	"github.com/l0p7/uriguard/internal/server"
	"github.com/l0p7/uriguard/internal/store"
	"github.com/l0p7/uriguard/internal/version"
)

type configLoader interface {
	Load(context.Context) (config.Config, error)
}

type runnableServer interface {
	Run(context.Context) error
}

var (
	newConfigLoader = func(envPrefix, file string) configLoader {
		return config.NewLoader(envPrefix, file)
	}
	newHTTPServer = func(cfg config.Config, logger *slog.Logger, handler http.Handler) (runnableServer, error) {
		return server.New(cfg, logger, handler)
	}
)

func main() {
	var (
		configFile = flag.String("config", "", "path to server configuration file")
		envPrefix  = flag.String("env-prefix", "URIGUARD", "environment variable prefix")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *envPrefix, *configFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, envPrefix, configFile string) error {
	cfg, err := newConfigLoader(envPrefix, configFile).Load(ctx)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger, err := logging.New(cfg.Server.Logging)
	if err != nil {
		return fmt.Errorf("configure logger: %w", err)
	}

	recorder := metrics.NewRecorder(nil)

	st, err := buildStore(ctx, logger, cfg.Store)
	if err != nil {
		logger.Error("policy store initialization failed", slog.Any("error", err))
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("policy store close failed", slog.Any("error", err))
		}
	}()

	rt, err := runtime.New(logger, runtime.Options{
		CircuitSource:   store.CircuitBreakerSource(st),
		BlacklistSource: store.BlacklistSource(st),
		MaxEntries:      cfg.Cache.MaxEntries,
		Shards:          cfg.Cache.Shards,
		Build:           cfg.Patterns.BuildOptions(),
		ReloadTimeout:   cfg.Reload.TimeoutDuration(),
		Metrics:         recorder,
		Version:         version.String(),
	})
	if err != nil {
		return err
	}

	if err := rt.ReloadAll(ctx); err != nil {
		return fmt.Errorf("initial policy load: %w", err)
	}

	if cfg.Reload.Schedule != "" {
		scheduler, err := reload.NewScheduler(cfg.Reload.Schedule, rt.ReloadAll, rt.ReloadBudget(cfg.Reload.TimeoutDuration()), logger)
		if err != nil {
			return fmt.Errorf("reload scheduler: %w", err)
		}
		if err := scheduler.Start(ctx); err != nil {
			return fmt.Errorf("reload scheduler: %w", err)
		}
		defer scheduler.Stop()
	}

	if cfg.Reload.Watch {
		watcher, err := config.WatchFile(ctx, cfg.Store.File.Path, func(ctx context.Context) {
			if err := rt.ReloadAll(ctx); err != nil {
				logger.Warn("policy file reload failed", slog.Any("error", err))
			}
		}, func(err error) {
			if err != nil {
				logger.Error("policy file watcher error", slog.Any("error", err))
			}
		})
		if err != nil {
			logger.Error("policy file watcher setup failed", slog.Any("error", err))
		} else {
			defer watcher.Stop()
		}
	}

	handler := rt.Instrument(server.NewAdminHandler(rt, recorder.Handler()))
	srv, err := newHTTPServer(cfg, logger, handler)
	if err != nil {
		logger.Error("unable to construct server", slog.Any("error", err))
		return err
	}

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server terminated unexpectedly", slog.Any("error", err))
		return err
	}

	logger.Info("server shutdown complete")
	return nil
}

func buildStore(ctx context.Context, logger *slog.Logger, cfg config.StoreConfig) (store.Store, error) {
	backend := cfg.NormalizedBackend()
	switch backend {
	case config.BackendFile:
		fileStore, err := store.NewFile(cfg.File.Path)
		if err != nil {
			return nil, err
		}
		logger.Info("using file policy store", slog.String("path", fileStore.Path()))
		return fileStore, nil
	case config.BackendSQLite:
		db, err := store.OpenSQLite(cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		logger.Info("using sqlite policy store", slog.String("path", cfg.SQLite.Path))
		return db, nil
	case config.BackendRedis:
		redisStore, err := store.NewRedis(store.RedisConfig{
			Address:   cfg.Redis.Address,
			Username:  cfg.Redis.Username,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
			TLS: store.RedisTLSConfig{
				Enabled: cfg.Redis.TLS.Enabled,
				CAFile:  cfg.Redis.TLS.CAFile,
			},
		})
		if err != nil {
			return nil, err
		}
		logger.Info("using redis policy store", slog.String("address", cfg.Redis.Address))
		return redisStore, nil
	default:
		return nil, fmt.Errorf("unsupported store backend %q", cfg.Backend)
	}
}
