package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cashforge/internal/app"
	"cashforge/internal/config"
	"cashforge/internal/scheduler"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWorkerFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	rt, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "err", err)
		os.Exit(1)
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Error("shutdown", "err", err)
		}
	}()

	sched := scheduler.New(ctx, rt.Game, logger)
	if cfg.WorkerRunOnce {
		sched.RunRollover()
		logger.Info("worker run-once completed")
		return
	}
	if err := sched.Register(cfg.RolloverCron); err != nil {
		logger.Error("schedule rollover", "err", err)
		return
	}

	sched.Start()
	logger.Info("worker started", "rollover", cfg.RolloverCron)
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sched.Stop(stopCtx)
	logger.Info("worker shutdown")
}
