// Command pfserver runs the provably-fair outcome engine HTTP service.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/MJE43/pf-outcome-engine/internal/api"
	"github.com/MJE43/pf-outcome-engine/internal/bets"
	"github.com/MJE43/pf-outcome-engine/internal/config"
	"github.com/MJE43/pf-outcome-engine/internal/games"
	"github.com/MJE43/pf-outcome-engine/internal/livefeed"
	"github.com/MJE43/pf-outcome-engine/internal/logging"
	"github.com/MJE43/pf-outcome-engine/internal/scan"
	"github.com/MJE43/pf-outcome-engine/internal/seeds"
	"github.com/MJE43/pf-outcome-engine/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// pfserver migrate applies migrations and exits.
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		err = migrate(ctx, cfg, log)
	} else {
		err = run(ctx, cfg, log)
	}
	if err != nil {
		log.WithError(err).Fatal("pfserver_failed")
	}
}

func openStore(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (store.Store, error) {
	if cfg.DBDriver == config.DriverPostgres {
		pg, err := store.NewPostgres(ctx, cfg.PostgresURL, log)
		if err != nil {
			return nil, err
		}
		return pg, nil
	}
	sqlite, err := store.NewSQLite(cfg.SQLitePath, log)
	if err != nil {
		return nil, err
	}
	return sqlite, nil
}

func migrate(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (err error) {
	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, st.Close()) }()
	return st.Migrate(ctx)
}

func loadCatalog(cfg config.Config) (*games.Catalog, error) {
	catalog, err := games.LoadCatalog(cfg.TablesPath)
	if err != nil {
		return nil, err
	}
	if cfg.RotationThreshold > 0 {
		catalog.RotationThreshold = cfg.RotationThreshold
	}
	return catalog, nil
}

func newLocker(cfg config.Config, log logrus.FieldLogger) (seeds.Locker, func() error) {
	if cfg.RedisAddr == "" {
		return seeds.NewLocalLocker(cfg.LockTimeout), func() error { return nil }
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return seeds.NewRedisLocker(client, cfg.LockTTL, cfg.LockTimeout, log), client.Close
}

func run(ctx context.Context, cfg config.Config, log *logrus.Logger) (err error) {
	catalog, err := loadCatalog(cfg)
	if err != nil {
		return fmt.Errorf("load tables: %w", err)
	}

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { err = multierr.Append(err, st.Close()) }()
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	locker, closeLocker := newLocker(cfg, log)
	defer func() { err = multierr.Append(err, closeLocker()) }()

	hub := livefeed.NewHub(cfg.LiveBacklog, log)
	defer hub.Close()

	resolver := games.NewResolver(catalog)
	lifecycle := seeds.NewLifecycle(st, locker, seeds.WithLogger(log))
	coordinator := bets.NewCoordinator(lifecycle, st, resolver,
		bets.WithEventSink(hub),
		bets.WithRotationThreshold(catalog.RotationThreshold),
		bets.WithLogger(log),
	)

	server := api.NewServer(api.Deps{
		Store:       st,
		Coordinator: coordinator,
		Scanner:     scan.NewScanner(resolver, log),
		Hub:         hub,
		Auth:        api.NewAuthenticator(cfg.JWTSecret, cfg.JWTIssuer),
		Logger:      log,
	})

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	server.SecurityLogger().LogSystemStartup(cfg.HTTPAddr, map[string]any{
		"env":                cfg.Env,
		"db_driver":          cfg.DBDriver,
		"redis_lock":         cfg.RedisAddr != "",
		"tables":             catalog.VersionNames(),
		"current_tables":     catalog.Current,
		"rotation_threshold": catalog.RotationThreshold,
		"auth":               cfg.JWTSecret != "",
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen %s: %w", cfg.HTTPAddr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		hub.Close()
		server.SecurityLogger().LogSystemShutdown("signal", time.Since(server.StartTime()))
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
