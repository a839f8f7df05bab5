package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"

	"github.com/angelmondragon/licensegate/api/routes"
	"github.com/angelmondragon/licensegate/internal/activation"
	"github.com/angelmondragon/licensegate/internal/artifacts"
	"github.com/angelmondragon/licensegate/internal/heartbeat"
	"github.com/angelmondragon/licensegate/internal/store"
	"github.com/angelmondragon/licensegate/internal/usage"
	"github.com/angelmondragon/licensegate/pkg/config"
	"github.com/angelmondragon/licensegate/pkg/credential"
	"github.com/angelmondragon/licensegate/pkg/db"
	"github.com/angelmondragon/licensegate/pkg/instance"
	"github.com/angelmondragon/licensegate/pkg/logger"
	"github.com/angelmondragon/licensegate/pkg/metrics"
	"github.com/angelmondragon/licensegate/pkg/migrate"
	"github.com/angelmondragon/licensegate/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.Open(ctx, cfg, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}

	if err := migrate.MaybeRun(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run migrations", err)
		os.Exit(1)
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient, err = redis.New(ctx, cfg.Redis, logg)
		if err != nil {
			logg.Error(ctx, "failed to bootstrap redis", err)
			os.Exit(1)
		}
	} else {
		logg.Warn(ctx, "redis not configured, activation rate limiting disabled")
	}

	issuer, err := credential.New(cfg.Credential)
	if err != nil {
		logg.Error(ctx, "failed to create credential issuer", err)
		os.Exit(1)
	}
	if cfg.Credential.NormalizedMode() == config.CredentialModeLegacy {
		logg.Warn(ctx, "legacy credential mode: session tokens are not tamper-evident")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	authMetrics := metrics.NewAuthorizationMetrics(reg)

	repo := store.NewRepository(dbClient, cfg.Licensing.StoreTimeout)
	recorder := usage.NewRecorder(repo, logg, cfg.Licensing.UsageTimeout, authMetrics)

	activationService, err := activation.NewService(activation.ServiceParams{
		Store:   repo,
		Issuer:  issuer,
		Usage:   recorder,
		Metrics: authMetrics,
		Logger:  logg,
	})
	if err != nil {
		logg.Error(ctx, "failed to create activation service", err)
		os.Exit(1)
	}

	heartbeatService, err := heartbeat.NewService(heartbeat.ServiceParams{
		Store:   repo,
		Issuer:  issuer,
		Metrics: authMetrics,
		Logger:  logg,
	})
	if err != nil {
		logg.Error(ctx, "failed to create heartbeat service", err)
		os.Exit(1)
	}

	artifactService, err := artifacts.NewService(artifacts.ServiceParams{
		Store:            repo,
		Decoder:          issuer,
		Usage:            recorder,
		Metrics:          authMetrics,
		Logger:           logg,
		CheckDeviceBlock: cfg.Licensing.ArtifactCheckDeviceBlk,
	})
	if err != nil {
		logg.Error(ctx, "failed to create artifact service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	logCtx := logg.WithFields(ctx, map[string]any{
		"env":             cfg.App.Env,
		"addr":            addr,
		"instance":        instance.ID(),
		"credential_mode": cfg.Credential.NormalizedMode(),
		"db_dialect":      dbClient.Dialect(),
	})
	logg.Info(logCtx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Dependencies{
			Config:     cfg,
			Logger:     logg,
			DB:         dbClient,
			Redis:      redisClient,
			Metrics:    reg,
			Activation: activationService,
			Heartbeat:  heartbeatService,
			Artifacts:  artifactService,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()

	exitCode := 0
	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(logCtx, "api server stopped unexpectedly", err)
			exitCode = 1
		}
	case <-ctx.Done():
		logg.Info(logCtx, "shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		shutdownErr = multierr.Append(shutdownErr, err)
	}
	recorder.Wait()
	if redisClient != nil {
		shutdownErr = multierr.Append(shutdownErr, redisClient.Close())
	}
	shutdownErr = multierr.Append(shutdownErr, dbClient.Close())

	if shutdownErr != nil {
		logg.Error(logCtx, "shutdown completed with errors", shutdownErr)
		exitCode = 1
	} else {
		logg.Info(logCtx, "api server stopped")
	}
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}
