// Package provider talks to the upstream weather API and normalizes its
// responses and failures.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/sony/gobreaker"

	"github.com/weatherdash/weather-dashboard/internal/models"
)

// Provider is the upstream weather capability consumed by the service layer
// and the background refresher.
type Provider interface {
	FetchCurrent(ctx context.Context, city string) (models.WeatherSnapshot, error)
	FetchForecast(ctx context.Context, city string) (models.ForecastSnapshot, error)
	FetchCurrentByCoords(ctx context.Context, lat, lon float64) (models.WeatherSnapshot, error)
}

var (
	// ErrCityNotFound means the upstream determined the city does not exist.
	// Never masked by stale cache.
	ErrCityNotFound = errors.New("city not found")
	// ErrOffline means the request could not reach the upstream at all
	// (transport error, DNS failure, timeout). The only failure that falls
	// back to cached data.
	ErrOffline = errors.New("offline")
	// ErrInvalidAPIKey means the upstream rejected our credentials.
	ErrInvalidAPIKey = errors.New("invalid API key")
	// ErrUnknown covers responses we cannot classify.
	ErrUnknown = errors.New("unknown weather provider error")
)

// ServerError is a 5xx upstream response, carrying the status code and a
// truncated body for diagnostics.
type ServerError struct {
	Code int
	Body string
}

func (e *ServerError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream server error: HTTP %d", e.Code)
	}
	return fmt.Sprintf("upstream server error: HTTP %d: %s", e.Code, e.Body)
}

// IsServerError reports whether err is (or wraps) a ServerError.
func IsServerError(err error) bool {
	var se *ServerError
	return errors.As(err, &se)
}

// IsOffline reports whether err represents a connectivity failure, including
// transport-level errors that were not pre-classified.
func IsOffline(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrOffline) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// Category is a stable label for error classification in metrics.
type Category string

const (
	CategoryOffline      Category = "offline"
	CategoryCityNotFound Category = "city_not_found"
	CategoryServerError  Category = "server_error"
	CategoryInvalidKey   Category = "invalid_api_key"
	CategoryParsing      Category = "parsing"
	CategoryUnknown      Category = "unknown"
)

// Categorize maps an error to a stable Category for metrics labels.
func Categorize(err error) Category {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCityNotFound):
		return CategoryCityNotFound
	case errors.Is(err, ErrInvalidAPIKey):
		return CategoryInvalidKey
	case IsServerError(err) || errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
		return CategoryServerError
	case IsOffline(err):
		return CategoryOffline
	case strings.Contains(err.Error(), "parse") || strings.Contains(err.Error(), "unmarshal"):
		return CategoryParsing
	default:
		return CategoryUnknown
	}
}
