package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"admission-gateway/middleware/admission"
	"admission-gateway/middleware/admission/adminapi"
	"admission-gateway/middleware/admission/application"
	"admission-gateway/middleware/admission/domain"
	"admission-gateway/middleware/admission/infra"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := loadConfig()
	if err != nil {
		logger.Fatal("config error", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var rdb *redis.Client
	if cfg.CacheBackend == "redis" || cfg.RulesBackend == "redis" || cfg.ViolationsBackend == "redis" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer func() { _ = rdb.Close() }()

		pingCtx, pingCancel := context.WithTimeout(ctx, 2*time.Second)
		err := rdb.Ping(pingCtx).Err()
		pingCancel()
		if err != nil {
			logger.Fatal("redis ping error", zap.Error(err))
		}
	}

	var cache domain.CacheStore
	switch cfg.CacheBackend {
	case "redis":
		cache = infra.NewRedisCache(rdb)
	default:
		mem := infra.NewMemoryCache()
		mem.StartJanitor(ctx)
		cache = mem
	}

	var source domain.RuleSource
	switch cfg.RulesBackend {
	case "sql":
		driver := cfg.DBDriver
		if driver == "postgres" {
			driver = "pgx"
		}
		db, err := sql.Open(driver, cfg.DBDSN)
		if err != nil {
			logger.Fatal("opening rules database", zap.Error(err))
		}
		defer func() { _ = db.Close() }()

		sqlSource, err := infra.NewSQLRuleSource(db, cfg.DBDriver)
		if err != nil {
			logger.Fatal("creating sql rule source", zap.Error(err))
		}
		if err := sqlSource.Migrate(ctx); err != nil {
			logger.Fatal("migrating rules schema", zap.Error(err))
		}
		source = sqlSource
	case "redis":
		source = infra.NewRedisRuleSource(rdb)
	default:
		source = infra.NewMemoryRuleSource()
	}

	if cfg.SeedDefaultRule {
		if err := seedDefaultRule(ctx, source, cfg); err != nil {
			logger.Fatal("seeding default rule", zap.Error(err))
		}
	}

	rules := application.NewRuleStore(source, logger,
		application.WithRefreshEvery(cfg.RuleRefreshEvery))
	windows := application.NewWindowTracker(cache, rules.ActiveRouteTypes, logger)
	blocks := application.NewBlockList(cache, windows, logger,
		application.WithSweepEvery(cfg.BlockSweepEvery))
	metrics := application.NewMetricsAggregator(
		application.WithMetricsCacheTTL(cfg.MetricsCacheTTL))

	engineOpts := []application.EngineOption{}
	switch cfg.ViolationsBackend {
	case "redis":
		engineOpts = append(engineOpts, application.WithViolationSink(
			infra.NewRedisViolationSink(rdb, infra.WithViolationTTL(cfg.ViolationsTTL))))
	case "memory":
		engineOpts = append(engineOpts, application.WithViolationSink(infra.NewMemoryViolationSink()))
	}
	if cfg.AutoBlockThreshold > 0 {
		engineOpts = append(engineOpts, application.WithAutoBlock(
			cfg.AutoBlockThreshold, time.Duration(cfg.AutoBlockMinutes)*time.Minute))
	}

	engine := application.NewEngine(rules, windows, blocks, metrics, logger, engineOpts...)
	engine.Start(ctx)

	target, _ := url.Parse(cfg.UpstreamURL)
	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Warn("proxy error", zap.String("path", r.URL.Path), zap.Error(err))
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}

	decisionMetrics := infra.NewDecisionMetrics()

	h := http.Handler(proxy)
	h = admission.ConcurrencyMiddleware(admission.ConcurrencyOptions{
		Max:            cfg.ConcurrencyMax,
		RejectStatus:   http.StatusServiceUnavailable,
		AcquireTimeout: cfg.ConcurrencyTimeout,
	})(h)
	h = admission.Middleware(admission.Options{
		Engine:              engine,
		Observer:            decisionMetrics,
		KeyHeader:           cfg.KeyHeader,
		TrustXForwardedFor:  cfg.TrustXFF,
		RetryAfter:          cfg.RetryAfter,
		AddRateLimitHeaders: cfg.AddRateLimitHeaders,
	})(h)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	guard := infra.NewAdminGuard(cfg.AdminGuardRPS, cfg.AdminGuardBurst)
	guard.StartJanitor(ctx)

	adminOpts := []adminapi.Option{
		adminapi.WithGuard(guard),
		adminapi.WithLogger(logger),
	}
	if cfg.AdminToken != "" {
		adminOpts = append(adminOpts, adminapi.WithBearerToken(cfg.AdminToken))
	}
	api := adminapi.New(engine, adminOpts...)

	adminMux := http.NewServeMux()
	adminMux.Handle("/admin/", api.Routes())
	adminMux.Handle("/metrics", promhttp.Handler())

	adminSrv := &http.Server{
		Addr:              cfg.AdminAddr,
		Handler:           adminMux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = adminSrv.Shutdown(shutdownCtx)
	}()

	go func() {
		logger.Info("admin API listening", zap.String("addr", cfg.AdminAddr))
		if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("admin server error", zap.Error(err))
			cancel()
		}
	}()

	logger.Info("gateway listening",
		zap.String("addr", cfg.ListenAddr),
		zap.String("upstream", cfg.UpstreamURL),
		zap.String("cache", cfg.CacheBackend),
		zap.String("rules", cfg.RulesBackend),
		zap.Int("auto_block_threshold", cfg.AutoBlockThreshold),
		zap.Int("concurrency_max", cfg.ConcurrencyMax))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", zap.Error(err))
	}
}

// seedDefaultRule garante uma regra "default" quando a fonte está vazia, para
// o gateway subir protegido sem passo manual de provisionamento.
func seedDefaultRule(ctx context.Context, source domain.RuleSource, cfg config) error {
	existing, err := source.List(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	now := time.Now()
	return source.Upsert(ctx, domain.RateLimitRule{
		ID:            "default-seed",
		RouteType:     domain.DefaultRouteType,
		MaxRequests:   cfg.DefaultMaxReqs,
		WindowMinutes: cfg.DefaultWindowMins,
		Enabled:       true,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
}
