package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/axololly/paste/cfg"
	"github.com/axololly/paste/svc/api"
	"github.com/axololly/paste/svc/cache"
	"github.com/axololly/paste/svc/db"
	"github.com/axololly/paste/svc/lim"
	"github.com/axololly/paste/svc/svc"
	"github.com/axololly/paste/svc/util"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	_ = godotenv.Load()
	// Bootstrap logging so config failures are visible; re-initialized with
	// the configured level below.
	util.InitLog("info", true)

	c, err := cfg.Load()
	if err != nil {
		util.Fatal().Err(err).Msg("failed to load configuration")
		os.Exit(1)
	}
	if err := cfg.Validate(c); err != nil {
		util.Fatal().Err(err).Msg("invalid configuration")
		os.Exit(1)
	}
	defer c.Wipe()
	util.InitLog(c.LogLevel, c.Environment == "development")
	util.Info().Msg("starting paste API")

	sqlDB, err := db.NewSQLiteWithConfig(c.DatabasePath, c.DBMaxOpenConns, c.DBMaxIdleConns, c.DBQueryTimeout)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to initialize database")
		os.Exit(1)
	}
	defer sqlDB.Close()
	util.Info().Str("path", c.DatabasePath).Msg("database initialized")

	var rdb *db.Redis
	if c.RedisURL != "" {
		rdb, err = db.NewRedis(c.RedisURL, c)
		if err != nil {
			if c.Environment == "production" {
				util.Fatal().Err(err).Msg("CRITICAL: Redis required in production")
				os.Exit(1)
			}
			util.Warn().Err(err).Msg("redis unavailable (dev mode)")
		} else {
			util.Info().Msg("redis connected")
		}
	}
	if rdb != nil {
		defer rdb.Close()
	}

	lruCache, err := cache.NewLRU(c.LRUCacheSize)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to create LRU cache")
		os.Exit(1)
	}
	util.Info().Int("size", c.LRUCacheSize).Msg("LRU cache initialized")

	pasteSvc := svc.NewPaste(sqlDB, lruCache, rdb, c)
	util.Info().
		Int("id_length", c.IDLength).
		Int("removal_key_length", c.RemovalKeyLength).
		Int64("max_entries", c.MaxEntries).
		Int64("max_paste_size", c.MaxPasteSize).
		Msg("paste service initialized")

	limiter := lim.New(c.RateLimit, rdb)
	defer limiter.Stop()

	server := api.NewServer(c, pasteSvc, limiter, sqlDB, rdb)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return pasteSvc.Reaper().Run(gctx)
	})
	g.Go(func() error {
		quitWAL := make(chan struct{})
		go func() {
			<-gctx.Done()
			close(quitWAL)
		}()
		db.StartWALMaintenance(sqlDB.DB(), quitWAL)
		return nil
	})

	util.Info().Str("port", c.Port).Str("environment", c.Environment).Msg("server running")
	if err := g.Wait(); err != nil {
		util.Error().Err(err).Msg("shutdown with error")
	}
	pasteSvc.Shutdown()
	util.Info().Msg("shutdown complete")
}
