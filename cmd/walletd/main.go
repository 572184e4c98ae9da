// Package main implements walletd, the wallet session and payment
// orchestration daemon for the payroll platform.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/paystream-labs/walletcore/internal/app"
	"github.com/paystream-labs/walletcore/internal/config"
	"github.com/paystream-labs/walletcore/internal/httpapi"
	"github.com/paystream-labs/walletcore/internal/metrics"
	"github.com/paystream-labs/walletcore/internal/middleware"
	"github.com/paystream-labs/walletcore/internal/storage/redisstore"
	"github.com/paystream-labs/walletcore/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "Path to walletd.yaml (defaults to config/walletd.yaml)")
	addr := flag.String("addr", "", "Listen address override")
	flag.Parse()

	log := logger.NewDefault("walletd")

	var cfg *config.Config
	if *configPath != "" {
		loaded, err := config.LoadFromPath(*configPath)
		if err != nil {
			log.WithError(err).Error("load config")
			os.Exit(1)
		}
		cfg = loaded
	} else {
		cfg = config.LoadOrDefault()
	}
	if *addr != "" {
		cfg.Server.ListenAddr = *addr
	}

	stores := app.Stores{}
	if cfg.Redis.Addr != "" {
		store, err := redisstore.New(context.Background(), redisstore.Config{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
			MarkerTTL: cfg.Redis.MarkerTTL,
		})
		if err != nil {
			log.WithError(err).Error("connect redis")
			os.Exit(1)
		}
		defer store.Close()
		stores.Markers = store
	} else {
		log.Warn("redis not configured; sessions will not survive a restart")
	}

	application, err := app.New(cfg, stores, log)
	if err != nil {
		log.WithError(err).Error("initialise application")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		log.WithError(err).Error("start application")
		os.Exit(1)
	}

	rateLimiter := middleware.NewRateLimiter(cfg.Server.RequestsPerSecond, cfg.Server.Burst, log)
	stopCleanup := rateLimiter.StartCleanup(10 * time.Minute)
	defer stopCleanup()
	cors := middleware.NewCORS(cfg.Server.AllowedOrigins)

	var handler http.Handler = httpapi.NewHandler(application.Wallet, log)
	handler = rateLimiter.Handler()(handler)
	handler = middleware.Logging(log)(handler)
	handler = cors.Handler(handler)
	handler = metrics.InstrumentHandler(handler)

	server := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.Server.ListenAddr).Info("walletd listening")
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.WithError(err).Error("server error")
			cancel()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("shutting down")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("server shutdown")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("application stop")
	}
	log.Info("walletd stopped")
}
