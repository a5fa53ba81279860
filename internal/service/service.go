// Package service orchestrates weather retrieval across the live upstream and
// the local cache.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/weatherdash/weather-dashboard/internal/models"
	"github.com/weatherdash/weather-dashboard/internal/observability"
	"github.com/weatherdash/weather-dashboard/internal/provider"
)

// CacheStore is the slice of the cache manager the service needs.
type CacheStore interface {
	Get(ctx context.Context, cityName string) (models.WeatherCacheEntry, bool, error)
	Save(ctx context.Context, entry models.WeatherCacheEntry) error
}

// Result is one resolved weather request. FromCache marks results served from
// the local cache rather than a live fetch; AgeMinutes is meaningful only then.
type Result struct {
	Current    models.WeatherSnapshot   `json:"current"`
	Forecast   *models.ForecastSnapshot `json:"forecast,omitempty"`
	FromCache  bool                     `json:"fromCache"`
	AgeMinutes int                      `json:"ageMinutes,omitempty"`
}

// FetchOptions controls one GetWeather call.
type FetchOptions struct {
	// IncludeForecast also fetches the multi-day forecast, concurrently with
	// current conditions.
	IncludeForecast bool
	// OnCached, when set, receives the provisional cached result (if any)
	// before the live fetch resolves, so callers can display instantly.
	OnCached func(Result)
}

// WeatherService implements the fetch-with-fallback protocol: provisional
// cache read for instant display, live fetch, cache write-back, and cache
// fallback when the network is unreachable.
type WeatherService struct {
	provider provider.Provider
	cache    CacheStore
	coalesce *fetchCoalescer
	logger   *zap.Logger
}

// NewWeatherService creates a WeatherService.
func NewWeatherService(p provider.Provider, cache CacheStore, logger *zap.Logger) *WeatherService {
	return &WeatherService{provider: p, cache: cache, coalesce: newFetchCoalescer(), logger: logger}
}

// GetWeather resolves weather for city.
//
// A cache hit never satisfies the request on its own: the live fetch is always
// attempted, and a live success replaces the cached payloads. The fallback
// rule is deliberately asymmetric: only an offline failure is masked by
// previously cached data; city-not-found, server, and unknown failures win
// over stale data.
func (s *WeatherService) GetWeather(ctx context.Context, city string, opts FetchOptions) (Result, error) {
	cached, haveCache := s.readCache(ctx, city, opts)

	// Concurrent requests for the same city share one live fetch. The key
	// includes the forecast flag so a current-only caller never strips the
	// forecast from a caller that asked for it.
	key := models.CityKey(city)
	if opts.IncludeForecast {
		key += "+forecast"
	}
	live, joined, err := s.coalesce.do(ctx, key, func() (Result, error) {
		result, err := s.fetchLive(ctx, city, opts.IncludeForecast)
		if err == nil {
			s.writeBack(ctx, city, result)
		}
		return result, err
	})
	if joined {
		observability.CoalescedFetchesTotal.Inc()
	}
	if err != nil {
		if provider.IsOffline(err) && haveCache {
			observability.OfflineFallbackServesTotal.Inc()
			observability.OfflineFallbackAgeMinutes.Observe(float64(cached.AgeMinutes))
			if s.logger != nil {
				s.logger.Info("serving cached weather, upstream unreachable",
					zap.String("city", models.CityKey(city)),
					zap.Int("age_minutes", cached.AgeMinutes))
			}
			return cached, nil
		}
		return Result{}, fmt.Errorf("fetch weather for %s: %w", models.CityKey(city), err)
	}
	return live, nil
}

// readCache surfaces the provisional cached result, if any. Storage failures
// and undecodable payloads degrade to a miss.
func (s *WeatherService) readCache(ctx context.Context, city string, opts FetchOptions) (Result, bool) {
	entry, ok, err := s.cache.Get(ctx, city)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("cache read failed, treating as miss",
				zap.String("city", models.CityKey(city)), zap.Error(err))
		}
		return Result{}, false
	}
	if !ok {
		return Result{}, false
	}

	current, err := entry.DecodeCurrent()
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("cached payload undecodable, treating as miss",
				zap.String("city", entry.CityKey), zap.Error(err))
		}
		return Result{}, false
	}
	result := Result{
		Current:    current,
		FromCache:  true,
		AgeMinutes: entry.AgeMinutes(),
	}
	if opts.IncludeForecast {
		if forecast, err := entry.DecodeForecast(); err == nil {
			result.Forecast = forecast
		}
	}
	if opts.OnCached != nil {
		opts.OnCached(result)
	}
	return result, true
}

// fetchLive issues the current-conditions fetch and, when requested, the
// forecast fetch concurrently, and joins them. Either sub-fetch failing fails
// the live step.
func (s *WeatherService) fetchLive(ctx context.Context, city string, includeForecast bool) (Result, error) {
	var (
		wg          sync.WaitGroup
		current     models.WeatherSnapshot
		currentErr  error
		forecast    models.ForecastSnapshot
		forecastErr error
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		current, currentErr = s.provider.FetchCurrent(ctx, city)
	}()
	if includeForecast {
		wg.Add(1)
		go func() {
			defer wg.Done()
			forecast, forecastErr = s.provider.FetchForecast(ctx, city)
		}()
	}
	wg.Wait()

	if currentErr != nil {
		return Result{}, currentErr
	}
	if forecastErr != nil {
		return Result{}, forecastErr
	}

	result := Result{Current: current}
	if includeForecast {
		result.Forecast = &forecast
	}
	return result, nil
}

// writeBack persists a live result. A cache-write failure must never fail an
// otherwise-successful fetch; it is logged and swallowed.
func (s *WeatherService) writeBack(ctx context.Context, city string, live Result) {
	entry, err := models.NewCacheEntry(uuid.New().String(), city, live.Current, live.Forecast, time.Now().UTC())
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("cache entry encode failed", zap.String("city", models.CityKey(city)), zap.Error(err))
		}
		return
	}
	if err := s.cache.Save(ctx, entry); err != nil {
		if s.logger != nil {
			s.logger.Warn("cache write failed", zap.String("city", models.CityKey(city)), zap.Error(err))
		}
	}
}
