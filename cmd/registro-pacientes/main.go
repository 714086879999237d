package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	logpkg "registro-pacientes/common/logger"
	"registro-pacientes/internal/config"
	httpapi "registro-pacientes/internal/http"
	"registro-pacientes/internal/metrics"
	"registro-pacientes/internal/service"

	"go.uber.org/zap"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	log, err := logpkg.NewLogger(cfg.Log.Level, cfg.Log.Format, "registro-pacientes")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting registro-pacientes service",
		zap.String("tracker_id", cfg.Tracker.ID),
		zap.Int("task_types", len(cfg.Tracker.TaskTypes)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New(nil)

	// 打开本地/远端存储
	deps, err := service.OpenBackends(ctx, cfg, m, log)
	if err != nil {
		log.Fatal("Failed to open storage backends", zap.Error(err))
	}

	svc, err := service.NewTrackerService(cfg, deps, log)
	if err != nil {
		log.Fatal("Failed to create tracker service", zap.Error(err))
	}
	if err := svc.Start(ctx); err != nil {
		log.Fatal("Failed to start tracker service", zap.Error(err))
	}

	router := httpapi.NewRouter(log, m)
	router.RegisterTrackerRoutes(httpapi.NewTrackerHandler(svc, log))
	router.RegisterOpsRoutes()

	srv := service.NewServer(cfg.HTTP.Addr, router, log)

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errChan <- err
		}
	}()

	// 等待信号或错误
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-errChan:
		log.Error("HTTP server error", zap.Error(err))
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Error("Error stopping HTTP server", zap.Error(err))
	}
	if err := svc.Stop(shutdownCtx); err != nil {
		log.Error("Error stopping service", zap.Error(err))
	}

	log.Info("Service stopped")
}
