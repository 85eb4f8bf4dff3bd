package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/geocoder89/learnhub/internal/auth"
	"github.com/geocoder89/learnhub/internal/config"
	"github.com/geocoder89/learnhub/internal/db"
	"github.com/geocoder89/learnhub/internal/domain/content"
	httpx "github.com/geocoder89/learnhub/internal/http"
	"github.com/geocoder89/learnhub/internal/http/handlers"
	"github.com/geocoder89/learnhub/internal/moderation"
	"github.com/geocoder89/learnhub/internal/notifications"
	"github.com/geocoder89/learnhub/internal/observability"
	"github.com/geocoder89/learnhub/internal/ratelimit"
	"github.com/geocoder89/learnhub/internal/redisclient"
	"github.com/geocoder89/learnhub/internal/repo/postgres"
	"github.com/geocoder89/learnhub/internal/storage/blob"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const serviceName = "learnhub-api"

func main() {
	if err := run(); err != nil {
		slog.Error("api exited", "err", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()

	log := observability.NewLogger(cfg.Env, serviceName)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, serviceName, cfg.Env, cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer func() {
		tctx, cancel := config.WithTimeout(5 * time.Second)
		defer cancel()
		_ = shutdownTracer(tctx)
	}()

	// database
	pool, err := db.NewPool(ctx, cfg.DBURL)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		return err
	}
	if err := db.SeedCatalog(ctx, pool); err != nil {
		return err
	}
	if err := db.EnsureAdminUser(ctx, pool, cfg); err != nil {
		return err
	}

	// metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom := observability.NewProm(reg)

	checks := []handlers.Check{{Name: "postgres", Run: pool.Ping}}

	// rate limiting: shared through redis when configured
	var uploadLimiter ratelimit.Limiter = ratelimit.NewMemory(cfg.UploadRateLimit, cfg.UploadRateWindow)
	redisCfg := redisclient.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	if redisCfg.Enabled() {
		rdb, err := redisclient.Open(ctx, redisCfg)
		if err != nil {
			return err
		}
		defer rdb.Close()

		uploadLimiter = ratelimit.NewRedis(rdb, "upload", cfg.UploadRateLimit, cfg.UploadRateWindow)
		checks = append(checks, handlers.Check{Name: "redis", Run: redisclient.Ping(rdb)})
	}

	// blob storage
	var blobs blob.Store
	switch cfg.BlobDriver {
	case "memory":
		log.Warn("using in-memory blob store; uploads are lost on restart")
		blobs = blob.NewMemoryStore(fmt.Sprintf("http://localhost:%d/blobs", cfg.Port))
	default:
		s3Store, err := blob.NewS3Store(ctx, blob.S3Options{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretKey,
		})
		if err != nil {
			return fmt.Errorf("s3: %w", err)
		}
		blobs = s3Store
		checks = append(checks, handlers.Check{Name: "s3", Run: s3Store.Ping})
	}

	notifier := notifications.NewProtectedNotifier(notifications.NewLogNotifier(log), notifications.ProtectedNotifierConfig{
		Timeout:          3 * time.Second,
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		HalfOpenMaxCalls: 1,
	})

	modulesRepo := postgres.NewModulesRepo(pool, prom)
	svc := moderation.NewService(modulesRepo, blobs, content.NewGate(cfg.AllowedFileTypes, cfg.MaxFileSize), moderation.Options{
		PresignTTL: cfg.PresignTTL,
		Notifier:   notifier,
		Recorder:   prom,
		Logger:     log,
	})

	router, err := httpx.NewRouter(httpx.Deps{
		Config:        cfg,
		Prom:          prom,
		Gatherer:      reg,
		JWT:           auth.NewManager(cfg.JWTAccessSecret, cfg.JWTRefreshSecret, cfg.AccessTTL(), cfg.RefreshTTL()),
		Users:         postgres.NewUsersRepo(pool, prom),
		Roles:         postgres.NewRolesRepo(pool, prom),
		Refresh:       postgres.NewRefreshTokensRepo(pool, prom),
		Modules:       svc,
		Hierarchy:     postgres.NewHierarchyRepo(pool, prom),
		Ratings:       postgres.NewRatingsRepo(pool, prom),
		UploadLimiter: uploadLimiter,
		Checks:        checks,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", "port", cfg.Port, "env", cfg.Env, "blob_driver", cfg.BlobDriver)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	// graceful shutdown
	log.Info("server shutting down")

	shutdownCtx, cancel := config.WithTimeout(10 * time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "err", err)
		return err
	}

	log.Info("shutdown complete")
	return nil
}
