package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"delayboard/internal/cache"
	"delayboard/internal/config"
	"delayboard/internal/delays"
	"delayboard/internal/handler"
	"delayboard/internal/hub"
	"delayboard/internal/metrics"
	"delayboard/internal/middleware"
	"delayboard/internal/notify"
	"delayboard/internal/refresher"
	"delayboard/internal/source"
	"delayboard/internal/source/elastic"
	"delayboard/internal/source/sqlstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("starting delayboard server",
		"log_level", cfg.LogLevel.String(),
		"http_addr", cfg.HTTPAddr,
		"backend", cfg.Backend,
		"cache_enabled", cfg.CacheEnabled,
		"redis_enabled", cfg.RedisEnabled,
		"nats_enabled", cfg.NATSEnabled,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mcol *metrics.Collector
	if cfg.MetricsEnabled {
		mcol = metrics.NewCollector(cfg.RefreshInterval)
	}

	backend, loaded, closeBackend, err := openBackend(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open backend", "backend", cfg.Backend, "error", err)
		os.Exit(1)
	}
	defer closeBackend()

	var src source.Source = backend
	if mcol != nil {
		src = mcol.InstrumentSource(src)
	}

	var cached *cache.Source
	if cfg.CacheEnabled {
		var store cache.Store = cache.NewMemoryStore(cfg.CacheSize)
		if cfg.RedisEnabled {
			redisStore, err := cache.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, logger)
			if err != nil {
				logger.Warn("redis unavailable, using in-process cache", "error", err)
			} else {
				defer redisStore.Close()
				store = redisStore
				logger.Info("redis cache connected", "addr", cfg.RedisAddr)
			}
		}
		cached = cache.NewSource(src, store, ttlsFromConfig(cfg), logger)
		if mcol != nil {
			cached.SetRecorder(mcol)
		}
		src = cached
	}

	windows := delays.Windows{
		Trip:       cfg.TripWindow,
		History:    cfg.HistoryWindow,
		Departures: cfg.DeparturesWindow,
		Routes:     cfg.RoutesWindow,
		Freshness:  cfg.FreshnessWindow,
	}
	board := delays.NewBoard(src, windows, logger)
	catalog := delays.NewCatalog(src, windows, logger)
	if mcol != nil {
		board.SetRecorder(mcol)
	}

	wsHub := hub.NewHub(logger)
	if mcol != nil {
		wsHub.SetObserver(mcol)
	}

	ref := refresher.New(board, wsHub, cfg.RefreshInterval, logger)
	if loaded != nil {
		ref.RequireLoaded(loaded)
	}

	var sub *notify.Subscriber
	if cfg.NATSEnabled {
		var nm notify.Metrics
		if mcol != nil {
			nm = mcol
		}
		nc, err := notify.Connect(cfg.NATSURL, nm, logger)
		if err != nil {
			logger.Warn("nats unavailable, live views refresh on interval only", "url", cfg.NATSURL, "error", err)
		} else {
			var inv notify.Invalidator
			if cached != nil {
				inv = cached
			}
			sub = notify.NewSubscriber(nc, cfg.NATSSubject, inv, ref, nm, logger)
			if err := sub.Start(); err != nil {
				logger.Error("failed to subscribe to trip notifications", "error", err)
			}
			defer sub.Close()
		}
	}

	httpHandler := handler.NewHTTPHandler(board, catalog, logger)
	wsHandler := handler.NewWSHandler(wsHub, board, logger)
	healthHandler := handler.NewHealthHandler(ref)

	api := http.NewServeMux()
	api.HandleFunc("GET /v1/routes", httpHandler.ListRoutes)
	api.HandleFunc("GET /v1/directions", httpHandler.ListDirections)
	api.HandleFunc("GET /v1/stops", httpHandler.ListStops)
	api.HandleFunc("GET /v1/departures", httpHandler.ListDepartures)
	api.HandleFunc("GET /v1/trips/resolve", httpHandler.ResolveTrip)
	api.HandleFunc("GET /v1/trips/{tripID}/stops", httpHandler.GetTripStops)
	api.HandleFunc("GET /v1/view", httpHandler.GetView)
	api.HandleFunc("GET /v1/freshness", httpHandler.GetFreshness)

	limiter := middleware.NewRateLimiter(ctx, cfg.RateLimitPerWindow, cfg.RateLimitWindow, cfg.RateLimitWhitelist, logger)
	if mcol != nil {
		limiter.OnLimit(mcol.RateLimitedInc)
	}

	var apiHandler http.Handler = api
	apiHandler = handler.GzipMiddleware(apiHandler)
	apiHandler = limiter.Middleware(apiHandler)
	apiHandler = handler.CORSMiddleware(apiHandler)
	apiHandler = handler.RequestLogMiddleware(logger)(apiHandler)

	mux := http.NewServeMux()
	mux.Handle("/v1/", apiHandler)
	mux.HandleFunc("/v1/ws", wsHandler.ServeWS)
	mux.HandleFunc("GET /healthz", healthHandler.Healthz)
	mux.HandleFunc("GET /readyz", healthHandler.Readyz)
	if mcol != nil {
		mux.Handle("GET /metrics", mcol.Handler())
	}

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go wsHub.Run(ctx)

	go ref.Run(ctx)

	if cfg.CacheWarmOnStart && cached != nil {
		warmer := cache.NewWarmer(catalog, logger)
		go func() {
			if err := warmer.WarmAll(ctx); err != nil {
				logger.Warn("initial cache warming failed", "error", err)
			}
			warmer.Run(ctx, cfg.TTLRoutes)
		}()
	}

	go func() {
		logger.Info("starting HTTP server", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case <-ctx.Done():
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
}

// openBackend returns the configured observation source. loaded is non-nil
// for backends that fill in the background.
func openBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (src source.Source, loaded func() bool, closeFn func(), err error) {
	switch cfg.Backend {
	case config.BackendSnapshot:
		snap := source.NewSnapshotSource(cfg.SnapshotPath, cfg.SnapshotReload, logger)
		if err := snap.Load(ctx); err != nil {
			logger.Error("initial snapshot load failed, retrying on reload interval", "location", cfg.SnapshotPath, "error", err)
		}
		go snap.Run(ctx)
		return snap, snap.IsReady, func() {}, nil

	case config.BackendSQLite:
		db, err := sqlstore.OpenSQLite(cfg.SQLitePath, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		return db, nil, func() { db.Close() }, nil

	case config.BackendPostgres:
		db, err := sqlstore.OpenPostgres(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		return db, nil, db.Close, nil

	case config.BackendElastic:
		es, err := elastic.New(ctx, elastic.Config{
			Addresses: cfg.ElasticHosts,
			APIKey:    cfg.ElasticAPIKey,
			Index:     cfg.ElasticIndex,
		}, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		return es, nil, func() {}, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func ttlsFromConfig(cfg *config.Config) cache.TTLs {
	return cache.TTLs{
		Observations: cfg.TTLHistory,
		TripIDs:      cfg.TTLTrip,
		Routes:       cfg.TTLRoutes,
		Directions:   cfg.TTLDirections,
		Stops:        cfg.TTLStops,
		Departures:   cfg.TTLDepartures,
		Latest:       cfg.TTLFreshness,
	}
}
