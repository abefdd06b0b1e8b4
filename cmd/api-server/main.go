package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/infinity086/labtasker/internal/admin"
	"github.com/infinity086/labtasker/internal/clock"
	"github.com/infinity086/labtasker/internal/config"
	"github.com/infinity086/labtasker/internal/dispatch"
	"github.com/infinity086/labtasker/internal/events"
	"github.com/infinity086/labtasker/internal/labtasklog"
	"github.com/infinity086/labtasker/internal/store"
	"github.com/infinity086/labtasker/internal/store/redisstore"
	"github.com/infinity086/labtasker/internal/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	labtasklog.Init(cfg.LogLevel, os.Getenv("ENV") != "production")
	log := labtasklog.WithComponent("api-server")
	log.Info().Msg("starting api server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := redisstore.New(ctx, redisstore.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		MaxRetries:   cfg.Redis.MaxRetries,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to connect to redis")
		os.Exit(2)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close store")
		}
	}()

	var locker store.Locker = st
	bus := events.NewBus(clock.Real())
	engine := dispatch.New(st, bus, clock.Real(), dispatch.Config{
		MaxCASAttempts: cfg.Dispatch.MaxCASAttempts,
		FetchScanLimit: cfg.Dispatch.FetchScanLimit,
	})
	a := admin.New(engine)
	server := transport.NewServer(cfg, engine, a)

	scheduler := dispatch.NewScheduler(engine, locker, cfg.Reaper.SweepInterval)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	server.Start(ctx)
	scheduler.Start(ctx)

	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down api server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	scheduler.Stop()
	server.Stop()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	log.Info().Msg("api server stopped")
}
