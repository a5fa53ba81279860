package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/sony/gobreaker"

	"github.com/weatherdash/weather-dashboard/internal/models"
	"github.com/weatherdash/weather-dashboard/internal/observability"
)

// ForecastDays is how many days of forecast we aggregate from the upstream's
// 3-hourly feed.
const ForecastDays = 5

const errorBodyLimit = 512

// OpenWeatherClient implements Provider against the OpenWeatherMap API.
type OpenWeatherClient struct {
	apiKey         string
	baseURL        string
	client         *http.Client
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	breaker        *gobreaker.CircuitBreaker
}

var _ Provider = (*OpenWeatherClient)(nil)

// Options tunes retry and circuit-breaker behavior. Zero values pick defaults.
type Options struct {
	Timeout        time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	// BreakerEnabled wraps every upstream call in a circuit breaker that opens
	// after consecutive failures and probes half-open after BreakerTimeout.
	BreakerEnabled      bool
	BreakerMaxFailures  uint32
	BreakerTimeout      time.Duration
	OnBreakerTransition func(from, to string)
}

// NewOpenWeatherClient validates the key and builds a client. baseURL is the
// API root (e.g. https://api.openweathermap.org/data/2.5).
func NewOpenWeatherClient(apiKey, baseURL string, opts Options) (*OpenWeatherClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	if len(apiKey) < 10 {
		return nil, fmt.Errorf("%w: API key appears invalid (too short)", ErrInvalidAPIKey)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 3
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = 100 * time.Millisecond
	}
	if opts.RetryMaxDelay <= 0 {
		opts.RetryMaxDelay = 2 * time.Second
	}

	c := &OpenWeatherClient{
		apiKey:         apiKey,
		baseURL:        baseURL,
		client:         &http.Client{Timeout: opts.Timeout},
		retryAttempts:  opts.RetryAttempts,
		retryBaseDelay: opts.RetryBaseDelay,
		retryMaxDelay:  opts.RetryMaxDelay,
	}
	if opts.BreakerEnabled {
		maxFailures := opts.BreakerMaxFailures
		if maxFailures == 0 {
			maxFailures = 5
		}
		breakerTimeout := opts.BreakerTimeout
		if breakerTimeout <= 0 {
			breakerTimeout = 30 * time.Second
		}
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "weather_api",
			Timeout: breakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= maxFailures
			},
			OnStateChange: func(_ string, from, to gobreaker.State) {
				observability.BreakerTransitionsTotal.WithLabelValues(from.String(), to.String()).Inc()
				if opts.OnBreakerTransition != nil {
					opts.OnBreakerTransition(from.String(), to.String())
				}
			},
			IsSuccessful: func(err error) bool {
				// Only infrastructure failures should trip the breaker; a bad
				// city name says nothing about upstream health.
				return err == nil || errors.Is(err, ErrCityNotFound) || errors.Is(err, ErrInvalidAPIKey)
			},
		})
	}
	return c, nil
}

type currentResponse struct {
	Main struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		Humidity  int     `json:"humidity"`
	} `json:"main"`
	Weather []struct {
		Main        string `json:"main"`
		Description string `json:"description"`
		Icon        string `json:"icon"`
	} `json:"weather"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
	Sys struct {
		Country string `json:"country"`
	} `json:"sys"`
	Name string `json:"name"`
}

type forecastResponse struct {
	List []struct {
		Dt   int64 `json:"dt"`
		Main struct {
			TempMin  float64 `json:"temp_min"`
			TempMax  float64 `json:"temp_max"`
			Humidity int     `json:"humidity"`
		} `json:"main"`
		Weather []struct {
			Main        string `json:"main"`
			Description string `json:"description"`
			Icon        string `json:"icon"`
		} `json:"weather"`
		Wind struct {
			Speed float64 `json:"speed"`
		} `json:"wind"`
	} `json:"list"`
	City struct {
		Name    string `json:"name"`
		Country string `json:"country"`
	} `json:"city"`
}

// FetchCurrent fetches current conditions by city name.
func (c *OpenWeatherClient) FetchCurrent(ctx context.Context, city string) (models.WeatherSnapshot, error) {
	params := url.Values{}
	params.Set("q", city)
	body, err := c.fetchWithRetry(ctx, "/weather", params)
	if err != nil {
		return models.WeatherSnapshot{}, err
	}
	return c.decodeCurrent(body, city)
}

// FetchCurrentByCoords fetches current conditions by coordinates. Used by the
// background refresher, which has stable coordinates per favorite.
func (c *OpenWeatherClient) FetchCurrentByCoords(ctx context.Context, lat, lon float64) (models.WeatherSnapshot, error) {
	params := url.Values{}
	params.Set("lat", strconv.FormatFloat(lat, 'f', 4, 64))
	params.Set("lon", strconv.FormatFloat(lon, 'f', 4, 64))
	body, err := c.fetchWithRetry(ctx, "/weather", params)
	if err != nil {
		return models.WeatherSnapshot{}, err
	}
	return c.decodeCurrent(body, "")
}

// FetchForecast fetches the 3-hourly feed and aggregates it into ForecastDays
// daily buckets.
func (c *OpenWeatherClient) FetchForecast(ctx context.Context, city string) (models.ForecastSnapshot, error) {
	params := url.Values{}
	params.Set("q", city)
	body, err := c.fetchWithRetry(ctx, "/forecast", params)
	if err != nil {
		return models.ForecastSnapshot{}, err
	}

	var resp forecastResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return models.ForecastSnapshot{}, fmt.Errorf("parse forecast response: %w", err)
	}
	return aggregateForecast(resp, city), nil
}

func (c *OpenWeatherClient) decodeCurrent(body []byte, requested string) (models.WeatherSnapshot, error) {
	var resp currentResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return models.WeatherSnapshot{}, fmt.Errorf("parse weather response: %w", err)
	}

	conditions := ""
	icon := ""
	if len(resp.Weather) > 0 {
		conditions = resp.Weather[0].Main
		if resp.Weather[0].Description != "" {
			conditions = resp.Weather[0].Description
		}
		icon = resp.Weather[0].Icon
	}
	name := resp.Name
	if name == "" {
		name = requested
	}
	return models.WeatherSnapshot{
		City:        name,
		Country:     resp.Sys.Country,
		Temperature: resp.Main.Temp,
		FeelsLike:   resp.Main.FeelsLike,
		Conditions:  conditions,
		Humidity:    resp.Main.Humidity,
		WindSpeed:   resp.Wind.Speed,
		Icon:        icon,
		Timestamp:   time.Now().UTC(),
	}, nil
}

// fetchWithRetry issues the request with exponential backoff. City-not-found
// and credential errors are never retried; the next scheduled or user-driven
// fetch is the retry path for everything the backoff gives up on.
func (c *OpenWeatherClient) fetchWithRetry(ctx context.Context, path string, params url.Values) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.WeatherAPIRetriesTotal.Inc()
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrOffline, ctx.Err())
			case <-time.After(c.backoff(attempt)):
			}
		}

		body, err := c.call(ctx, path, params)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("exhausted retries: %w", lastErr)
}

func retryable(err error) bool {
	if errors.Is(err, ErrCityNotFound) || errors.Is(err, ErrInvalidAPIKey) {
		return false
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	return IsServerError(err) || IsOffline(err)
}

func (c *OpenWeatherClient) backoff(attempt int) time.Duration {
	delay := float64(c.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.retryMaxDelay) {
		delay = float64(c.retryMaxDelay)
	}
	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func (c *OpenWeatherClient) call(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if c.breaker == nil {
		return c.doCall(ctx, path, params)
	}
	body, err := c.breaker.Execute(func() (any, error) {
		return c.doCall(ctx, path, params)
	})
	if err != nil {
		return nil, err
	}
	return body.([]byte), nil
}

func (c *OpenWeatherClient) doCall(ctx context.Context, path string, params url.Values) ([]byte, error) {
	start := time.Now()

	base, err := url.Parse(c.baseURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}
	params.Set("appid", c.apiKey)
	params.Set("units", "metric")
	base.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	duration := time.Since(start).Seconds()
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		observability.WeatherAPIDuration.WithLabelValues("error").Observe(duration)
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrOffline, err)
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.WeatherAPICallsTotal.WithLabelValues(status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(status).Observe(duration)

	if err := classifyStatus(resp); err != nil {
		return nil, err
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return body, nil
}

func classifyStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return ErrCityNotFound
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrInvalidAPIKey
	case resp.StatusCode >= 500:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return &ServerError{Code: resp.StatusCode, Body: string(body)}
	default:
		return fmt.Errorf("%w: HTTP %d", ErrUnknown, resp.StatusCode)
	}
}

func statusLabel(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "success"
	case code == http.StatusNotFound:
		return "not_found"
	case code >= 400 && code < 500:
		return "client_error"
	case code >= 500:
		return "server_error"
	default:
		return "error"
	}
}

// aggregateForecast buckets 3-hourly readings by UTC day: min/max temperature
// over the day, humidity and wind averaged, conditions taken from the reading
// closest to noon.
func aggregateForecast(resp forecastResponse, requested string) models.ForecastSnapshot {
	type bucket struct {
		date        time.Time
		tempMin     float64
		tempMax     float64
		humiditySum int
		windSum     float64
		windCount   int
		conditions  string
		icon        string
		noonDelta   time.Duration
	}
	buckets := make(map[string]*bucket)

	for _, item := range resp.List {
		ts := time.Unix(item.Dt, 0).UTC()
		day := ts.Format("2006-01-02")
		b, ok := buckets[day]
		if !ok {
			b = &bucket{
				date:      time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC),
				tempMin:   item.Main.TempMin,
				tempMax:   item.Main.TempMax,
				noonDelta: time.Duration(math.MaxInt64),
			}
			buckets[day] = b
		}
		if item.Main.TempMin < b.tempMin {
			b.tempMin = item.Main.TempMin
		}
		if item.Main.TempMax > b.tempMax {
			b.tempMax = item.Main.TempMax
		}
		b.humiditySum += item.Main.Humidity
		b.windSum += item.Wind.Speed
		b.windCount++

		noon := b.date.Add(12 * time.Hour)
		delta := ts.Sub(noon)
		if delta < 0 {
			delta = -delta
		}
		if delta < b.noonDelta && len(item.Weather) > 0 {
			b.noonDelta = delta
			b.conditions = item.Weather[0].Description
			if b.conditions == "" {
				b.conditions = item.Weather[0].Main
			}
			b.icon = item.Weather[0].Icon
		}
	}

	days := make([]string, 0, len(buckets))
	for day := range buckets {
		days = append(days, day)
	}
	sort.Strings(days)
	if len(days) > ForecastDays {
		days = days[:ForecastDays]
	}

	name := resp.City.Name
	if name == "" {
		name = requested
	}
	out := models.ForecastSnapshot{City: name, FetchedAt: time.Now().UTC()}
	for _, day := range days {
		b := buckets[day]
		fd := models.ForecastDay{
			Date:       b.date,
			TempMin:    b.tempMin,
			TempMax:    b.tempMax,
			Conditions: b.conditions,
			Icon:       b.icon,
		}
		if b.windCount > 0 {
			fd.Humidity = b.humiditySum / b.windCount
			fd.WindSpeed = b.windSum / float64(b.windCount)
		}
		out.Days = append(out.Days, fd)
	}
	return out
}
