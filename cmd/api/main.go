package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"greenroom/api/internal/analytics"
	"greenroom/api/internal/app"
	"greenroom/api/internal/cache"
	"greenroom/api/internal/config"
	"greenroom/api/internal/export"
	"greenroom/api/internal/logger"
	"greenroom/api/internal/notify"
	"greenroom/api/internal/quota"
	"greenroom/api/internal/scope"
	"greenroom/api/internal/search"
	"greenroom/api/internal/store"
	"greenroom/api/internal/syncer"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		OutputPath: cfg.LogPath,
		MaxSizeMB:  100,
		MaxBackups: 5,
		MaxAgeDays: 30,
	})
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database connection failed", logger.ErrorField(err))
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		logger.Fatal("migrations failed", logger.ErrorField(err))
	}

	dataStore := store.NewPostgresStore(db)

	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisURL) != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal("invalid redis url", logger.ErrorField(err))
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, continuing with local cache only", logger.ErrorField(err))
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	reportCache := cache.New(redisClient, "greenroom:")
	feed := notify.NewFeed(redisClient)
	analyzer := analytics.NewAnalyzer(dataStore, reportCache, analytics.Config{
		DailyCap:  cfg.DailyListenCap,
		LoadTTL:   cfg.LoadCacheTTL,
		HealthTTL: cfg.HealthCacheTTL,
	})
	limiter := quota.NewLimiter(dataStore)
	resolver := scope.NewResolver(dataStore)
	coordinator := syncer.NewCoordinator(dataStore, feed, cfg.ResumeCooldown)
	defer coordinator.Close()

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts)
	searchService.ReindexAllFromPG(ctx)

	exportService := export.NewService(dataStore)

	service := app.New(dataStore, resolver, analyzer, limiter, feed,
		coordinator, searchService, exportService)

	// Release sweep heartbeat. Per-iteration errors are logged inside the
	// sweep; the ticker never dies.
	sweepCtx, cancelSweep := context.WithCancel(ctx)
	defer cancelSweep()
	go func() {
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				if moved := service.ReleaseSweep(sweepCtx); moved > 0 {
					logger.Info("release sweep moved tracks to vault", logger.Int("moved", moved))
				}
			}
		}
	}()

	httpServer := app.NewHTTPServer(service, app.ParseStaticTokens(cfg.APITokens), cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("greenroom api listening", logger.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", logger.ErrorField(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", logger.ErrorField(err))
	}
}
