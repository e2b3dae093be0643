package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Monthlyaway/shortlinkd/config"
	"github.com/Monthlyaway/shortlinkd/internal/auth"
	"github.com/Monthlyaway/shortlinkd/internal/cache"
	"github.com/Monthlyaway/shortlinkd/internal/filter"
	"github.com/Monthlyaway/shortlinkd/internal/handler"
	"github.com/Monthlyaway/shortlinkd/internal/logger"
	"github.com/Monthlyaway/shortlinkd/internal/middleware"
	"github.com/Monthlyaway/shortlinkd/internal/quota"
	"github.com/Monthlyaway/shortlinkd/internal/repository"
	"github.com/Monthlyaway/shortlinkd/internal/service"
	"github.com/Monthlyaway/shortlinkd/internal/utils"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	if err := utils.InitSnowflake(cfg.Snowflake.DatacenterID, cfg.Snowflake.WorkerID); err != nil {
		return fmt.Errorf("failed to initialize snowflake: %w", err)
	}
	utils.Reserve(cfg.Links.Reserved...)

	store, err := repository.Open(repository.Options{
		Driver:       cfg.Database.Driver,
		DSN:          cfg.Database.DSN(),
		MaxIdleConns: cfg.Database.MaxIdleConns,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		OpTimeout:    cfg.Database.OpTimeoutDuration(),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize link store: %w", err)
	}
	defer store.Close()
	log.Info("link store ready", zap.String("driver", cfg.Database.Driver))

	tokens, err := auth.NewTokenManager(cfg.Auth.JWTSecret)
	if err != nil {
		return err
	}

	guard := quota.NewGuard(store, quota.Config{
		Limit:          cfg.Quota.Limit,
		AnonymousLimit: *cfg.Quota.AnonymousLimit,
		Window:         cfg.Quota.WindowDuration(),
	})

	opts := []service.Option{}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisCache, err := cache.NewRedisCache(
			cfg.Redis.Addr(),
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			cfg.Redis.CacheTTLDuration(),
		)
		if err != nil {
			return fmt.Errorf("failed to initialize redis cache: %w", err)
		}
		defer redisCache.Close()
		redisClient = redisCache.GetClient()
		opts = append(opts, service.WithCache(redisCache))
		log.Info("redis cache enabled", zap.String("addr", cfg.Redis.Addr()))
	}

	var codeFilter service.CodeFilter
	if cfg.BloomFilter.Enabled {
		codeFilter = filter.NewBloomFilter(cfg.BloomFilter.Capacity, cfg.BloomFilter.FalsePositiveRate)
		opts = append(opts, service.WithBloomFilter(codeFilter))
	}

	linkService := service.NewLinkService(store, guard, service.Config{
		CodeLength:   cfg.Links.CodeLength,
		MaxAttempts:  cfg.Links.MaxAttempts,
		TTL:          cfg.Links.TTLDuration(),
		ClickTimeout: cfg.Links.ClickTimeoutDuration(),
	}, log, opts...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if codeFilter != nil {
		initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		if err := linkService.InitBloomFilter(initCtx); err != nil {
			log.Warn("failed to initialize bloom filter", zap.Error(err))
		}
		cancel()
	}

	sweeper := service.NewSweeper(store, codeFilter, cfg.Sweep.IntervalDuration(), log)
	go sweeper.Run(ctx)

	gin.SetMode(cfg.Server.Mode)
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(log), middleware.Metrics())
	router.Use(cors.New(corsConfig(cfg.Server.CORSOrigins)))
	if cfg.RateLimit.Enabled {
		for _, mw := range rateLimiters(ctx, cfg, redisClient, log) {
			router.Use(mw)
		}
	}
	router.Use(middleware.Identity(tokens, log))

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handler.NewLinkHandler(linkService, store, cfg.Server.BaseURL, log).Register(router)

	srv := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", zap.Int("port", cfg.Server.Port), zap.String("base_url", cfg.Server.BaseURL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("failed to start server: %w", err)
	case <-ctx.Done():
	}
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server exited")
	return nil
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Content-Type", "Authorization", middleware.RequestIDHeader},
		ExposeHeaders: []string{"Content-Length", "Retry-After", middleware.RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	return cfg
}

// rateLimiters builds the global limiter plus one per configured endpoint.
// Endpoint limiters use their own key space so they do not share counters
// with the global limiter.
func rateLimiters(ctx context.Context, cfg *config.Config, redisClient *redis.Client, log *zap.Logger) []gin.HandlerFunc {
	strategy := middleware.RateLimitStrategy(cfg.RateLimit.Strategy)
	build := func(rc *middleware.RateLimitConfig) gin.HandlerFunc {
		if strategy == middleware.Local || redisClient == nil {
			l := middleware.NewLocalRateLimiter(rc, log)
			go l.Cleanup(ctx)
			return l.Middleware()
		}
		return middleware.NewRateLimiter(redisClient, rc, log).Middleware()
	}

	limiters := []gin.HandlerFunc{build(&middleware.RateLimitConfig{
		Strategy: strategy,
		Limit:    cfg.RateLimit.Global.Limit,
		Window:   cfg.RateLimit.Global.WindowDuration(),
		KeyFunc:  middleware.IPBasedKey,
		SkipFunc: middleware.SkipHealthCheck,
	})}

	for _, ep := range cfg.RateLimit.Endpoints {
		limiters = append(limiters, build(&middleware.RateLimitConfig{
			Strategy: strategy,
			Limit:    ep.Limit,
			Window:   ep.WindowDuration(),
			KeyFunc: func(c *gin.Context) string {
				return "rate_limit:ep:" + middleware.IPAndPathKey(c)
			},
			SkipFunc: middleware.SkipUnlessPath(ep.Path),
		}))
		log.Info("endpoint rate limit", zap.String("path", ep.Path), zap.Int("limit", ep.Limit), zap.Int("window_seconds", ep.Window))
	}

	log.Info("rate limiting enabled", zap.String("strategy", string(strategy)), zap.Int("endpoints", len(cfg.RateLimit.Endpoints)))
	return limiters
}
