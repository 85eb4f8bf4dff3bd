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

	"github.com/geocoder89/learnhub/internal/config"
	"github.com/geocoder89/learnhub/internal/db"
	"github.com/geocoder89/learnhub/internal/observability"
	"github.com/geocoder89/learnhub/internal/repo/postgres"
	"github.com/geocoder89/learnhub/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
)

const serviceName = "learnhub-sweeper"

func main() {
	cfg := config.Load()

	log := observability.NewLogger(cfg.Env, serviceName)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DBURL)
	if err != nil {
		log.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	reg := prometheus.NewRegistry()
	prom := observability.NewProm(reg)

	roles := postgres.NewRolesRepo(pool, prom)
	refresh := postgres.NewRefreshTokensRepo(pool, prom)

	w := worker.New(worker.Config{
		Interval:    cfg.SweepInterval,
		TaskTimeout: 30 * time.Second,
		Logger:      log,
	}, prom,
		worker.Task{Name: "role_grants", Run: roles.SweepExpired},
		worker.Task{Name: "refresh_tokens", Run: func(ctx context.Context, now time.Time) (int64, error) {
			return refresh.PurgeStale(ctx, now.Add(-cfg.RefreshRetention))
		}},
	)

	healthAddr := fmt.Sprintf(":%d", cfg.SweeperPort)
	srv := &http.Server{
		Addr:              healthAddr,
		Handler:           w.HealthHandler(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("sweeper health server starting", "addr", healthAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("health server failed", "err", err)
		}
	}()

	if err := w.Run(ctx); err != nil {
		log.Error("sweeper stopped with error", "err", err)
	}

	shutdownCtx, cancel := config.WithTimeout(5 * time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	log.Info("sweeper shutdown complete")
}
