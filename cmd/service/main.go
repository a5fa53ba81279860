package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/weatherdash/weather-dashboard/internal/background"
	"github.com/weatherdash/weather-dashboard/internal/cache"
	"github.com/weatherdash/weather-dashboard/internal/config"
	"github.com/weatherdash/weather-dashboard/internal/favorites"
	"github.com/weatherdash/weather-dashboard/internal/history"
	"github.com/weatherdash/weather-dashboard/internal/httpapi"
	"github.com/weatherdash/weather-dashboard/internal/lifecycle"
	"github.com/weatherdash/weather-dashboard/internal/observability"
	"github.com/weatherdash/weather-dashboard/internal/provider"
	"github.com/weatherdash/weather-dashboard/internal/service"
	"github.com/weatherdash/weather-dashboard/internal/store"
)

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

	var records store.RecordStore
	switch cfg.StoreBackend {
	case "sqlite":
		s, err := store.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			logger.Fatal("sqlite store", zap.Error(err))
		}
		records = s
		logger.Info("store backend: sqlite", zap.String("path", cfg.SQLitePath))
	default:
		records = store.NewMemoryStore()
		logger.Info("store backend: memory")
	}

	weatherProvider, err := provider.NewOpenWeatherClient(cfg.WeatherAPIKey, cfg.WeatherAPIURL, provider.Options{
		Timeout:            cfg.WeatherAPITimeout,
		RetryAttempts:      cfg.RetryAttempts,
		RetryBaseDelay:     cfg.RetryBaseDelay,
		RetryMaxDelay:      cfg.RetryMaxDelay,
		BreakerEnabled:     cfg.BreakerEnabled,
		BreakerMaxFailures: uint32(cfg.BreakerMaxFailures),
		BreakerTimeout:     cfg.BreakerTimeout,
	})
	if err != nil {
		logger.Fatal("weather provider", zap.Error(err))
	}
	if cfg.BreakerEnabled {
		logger.Info("circuit breaker enabled",
			zap.Int("max_failures", cfg.BreakerMaxFailures),
			zap.Duration("timeout", cfg.BreakerTimeout))
	}

	cacheManager := cache.NewManager(records, logger)
	weatherService := service.NewWeatherService(weatherProvider, cacheManager, logger)
	favoritesService := favorites.NewService(records, cfg.GeocoderAPIKey, logger)
	historyService := history.NewService(records)

	scheduler := background.NewGocronScheduler(logger, cfg.RefreshBudget)
	refresher := background.NewRefresher(scheduler, weatherProvider, cacheManager, records, cfg.RefreshInterval, logger)
	if err := refresher.Start(); err != nil {
		logger.Fatal("background refresher", zap.Error(err))
	}
	logger.Info("background refresh scheduled", zap.Duration("interval", cfg.RefreshInterval))

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	handler := httpapi.NewHandler(
		weatherService,
		favoritesService,
		historyService,
		cacheManager,
		refresher,
		records.Ping,
		logger,
		cfg.CityMinLength,
		cfg.CityMaxLength,
	)

	router := mux.NewRouter()
	router.Use(httpapi.CorrelationIDMiddleware(logger))
	router.Use(httpapi.MetricsMiddleware)
	router.HandleFunc("/health", handler.GetHealth).Methods("GET")
	router.Handle("/metrics", observability.MetricsHandler())

	api := router.PathPrefix("/").Subrouter()
	api.Use(httpapi.RateLimitMiddleware(limiter))
	api.Use(httpapi.TimeoutMiddleware(cfg.RequestTimeout))
	api.HandleFunc("/weather/{city}", handler.GetWeather).Methods("GET")
	api.HandleFunc("/favorites", handler.ListFavorites).Methods("GET")
	api.HandleFunc("/favorites", handler.AddFavorite).Methods("POST")
	api.HandleFunc("/favorites/{id}", handler.RemoveFavorite).Methods("DELETE")
	api.HandleFunc("/history", handler.GetHistory).Methods("GET")
	api.HandleFunc("/history", handler.ClearHistory).Methods("DELETE")
	api.HandleFunc("/cache", handler.ClearCache).Methods("DELETE")
	api.HandleFunc("/status/background", handler.GetBackgroundStatus).Methods("GET")

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	inFlight := httpapi.InFlightCount()
	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := httpapi.WaitForInFlight(waitCtx, cfg.ShutdownInFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httpapi.InFlightCount()))
	}

	if err := observability.FlushTelemetry(logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}

	if err := records.Close(); err != nil {
		logger.Error("store close", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
