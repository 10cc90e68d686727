// Command authd serves the marketplace authentication API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/tcgemporium/authcore"
	"github.com/tcgemporium/authcore/internal/config"
	"github.com/tcgemporium/authcore/internal/httpapi"
	"github.com/tcgemporium/authcore/internal/logging"
	otelexport "github.com/tcgemporium/authcore/metrics/export/otel"
	"github.com/tcgemporium/authcore/middleware"
	"github.com/tcgemporium/authcore/store/postgres"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "authd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("AUTHD_CONFIG"))
	if err != nil {
		return err
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(ctx, cfg.Database.URL, postgres.Options{
		MaxOpenConns: cfg.Database.MaxConns,
		MaxIdleConns: cfg.Database.MaxConns,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.Database.Migrate {
		if err := postgres.RunMigrations(ctx, db); err != nil {
			return err
		}
		logger.Info("database migrations applied")
	}

	authCfg := authcore.DefaultConfig()
	authCfg.JWT.Issuer = cfg.JWT.Issuer

	builder := authcore.New().
		WithConfig(authCfg).
		WithSigningKey([]byte(cfg.JWT.Secret)).
		WithUserRepository(postgres.NewUserRepository(db)).
		WithAdminRepository(postgres.NewAdminRepository(db)).
		WithBackupCodeRepository(postgres.NewBackupCodeRepository(db)).
		WithLogger(logger)

	if cfg.Redis.Addr != "" {
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.Redis.Addr},
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		builder = builder.WithRedis(rdb)
	} else {
		logger.Warn("redis not configured; token revocation and mfa attempt limiting are disabled")
	}

	engine, err := builder.Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	provider := sdkmetric.NewMeterProvider()
	defer func() { _ = provider.Shutdown(context.Background()) }()
	exporter, err := otelexport.NewExporter(provider.Meter("authd"), engine)
	if err != nil {
		return err
	}
	defer func() { _ = exporter.Close() }()

	handler := httpapi.NewHandler(engine, middleware.CookieConfig{
		Name:   cfg.Cookie.Name,
		Domain: cfg.Cookie.Domain,
		Secure: cfg.Cookie.Secure,
	}, logger.Named("http"))

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
