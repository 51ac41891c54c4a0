package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/pws-dashboard/internal/cache"
	"github.com/kjstillabower/pws-dashboard/internal/config"
	httphandler "github.com/kjstillabower/pws-dashboard/internal/http"
	"github.com/kjstillabower/pws-dashboard/internal/lifecycle"
	"github.com/kjstillabower/pws-dashboard/internal/observability"
	"github.com/kjstillabower/pws-dashboard/internal/service"
)

const inFlightCheckInterval = 100 * time.Millisecond

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}
	logger.Info("config loaded",
		zap.String("env", cfg.EnvName),
		zap.Bool("production", cfg.Production),
		zap.Bool("credentials", cfg.HasCredentials()),
		zap.Duration("cache_ttl", cfg.CacheTTL))

	pwsClient, err := buildClient(cfg, logger)
	if err != nil {
		logger.Fatal("weather client", zap.Error(err))
	}

	source := service.SelectSource(pwsClient, cfg.Production, logger)
	weatherService := service.NewWeatherService(source, cfg.CacheTTL)
	weatherService.RegisterMetrics()

	warmer := cache.NewCacheWarmer(logger, warmTimeout(cfg), warmTargets(weatherService)...)
	if cfg.RefreshSchedule != "" && source.Mode() != service.ModeUnconfigured {
		if err := warmer.Warm(context.Background()); err != nil {
			logger.Warn("initial cache warm failed", zap.Error(err))
		}
		if err := warmer.Start(cfg.RefreshSchedule); err != nil {
			logger.Fatal("cache warmer", zap.Error(err))
		}
	}

	handler := httphandler.NewHandler(weatherService, &httphandler.HealthConfig{
		DegradedWindow:      cfg.DegradedWindow,
		DegradedErrorPct:    cfg.DegradedErrorPct,
		DegradedMinRequests: cfg.DegradedMinRequests,
	}, logger)
	router := httphandler.NewRouter(handler, logger, cfg.RequestTimeout)

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr), zap.String("mode", source.Mode()))
		lifecycle.MarkStarted(time.Now())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	warmer.Stop(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	inFlight := httphandler.InFlightCount()
	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.InFlightTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, inFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
