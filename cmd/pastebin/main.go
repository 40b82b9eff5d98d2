package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pastebin/cfg"
	"pastebin/svc/api"
	"pastebin/svc/cache"
	"pastebin/svc/db"
	"pastebin/svc/svc"
	"pastebin/svc/util"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "-health" {
		os.Exit(healthCheck())
	}

	util.InitLog("info", false)
	c, err := cfg.Load()
	if err != nil {
		util.Fatal().Err(err).Msg("failed to load configuration")
	}
	if err := cfg.Validate(c); err != nil {
		util.Fatal().Err(err).Msg("invalid configuration")
	}
	defer c.Wipe()
	util.InitLog(c.LogLevel, c.Environment == "development")
	util.Info().Msg("starting pastebin API")

	store, err := db.Open(c.DB)
	if err != nil {
		util.Fatal().Err(err).Str("driver", c.DB.Driver).Msg("failed to initialize database")
	}
	defer store.Close()
	util.Info().
		Str("driver", c.DB.Driver).
		Int("max_open_conns", c.DB.MaxOpenConns).
		Msg("database initialized")

	var rdb *db.Redis
	if c.RedisURL != "" {
		rdb, err = db.NewRedis(c.RedisURL, c)
		if err != nil {
			if c.Environment == "production" {
				util.Fatal().Err(err).Msg("CRITICAL: Redis configured but unreachable")
			}
			util.Warn().Err(err).Msg("redis unavailable, continuing without shared cache")
			rdb = nil
		} else {
			util.Info().Msg("redis connected")
			defer rdb.Close()
		}
	}

	lruCache, err := cache.NewLRU(c.LRUCacheSize)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to create LRU cache")
	}
	util.Info().Int("size", c.LRUCacheSize).Msg("LRU cache initialized")

	pasteSvc := svc.NewPaste(store, lruCache, rdb, c)
	util.Info().
		Int("workers", c.WorkerPoolSize).
		Int("queue", c.ClickQueueSize).
		Msg("paste service initialized")

	server := api.NewServer(c, pasteSvc, store, rdb)

	quitWAL := make(chan struct{})
	walDone := make(chan struct{})
	go func() {
		defer close(walDone)
		db.StartWALMaintenance(store, 0, quitWAL)
	}()

	util.Info().Str("addr", c.Addr()).Str("environment", c.Environment).Msg("server starting")
	go func() {
		if err := server.Start(); err != nil {
			util.Fatal().Err(err).Msg("server failed")
		}
	}()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	util.Info().Msg("shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), c.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		util.Error().Err(err).Msg("server shutdown error")
	}
	pasteSvc.Shutdown()
	close(quitWAL)
	select {
	case <-walDone:
		util.Info().Msg("WAL maintenance stopped")
	case <-time.After(6 * time.Second):
		util.Warn().Msg("WAL maintenance did not stop gracefully")
	}
	util.Info().Msg("Shutdown complete")
}

// healthCheck opens the configured store and pings it. Used as a container
// probe, so it prints nothing.
func healthCheck() int {
	c, err := cfg.Load()
	if err != nil {
		return 1
	}
	store, err := db.Open(c.DB)
	if err != nil {
		return 1
	}
	defer store.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := store.Ping(ctx); err != nil {
		return 1
	}
	return 0
}
