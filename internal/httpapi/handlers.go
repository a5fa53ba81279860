package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/weatherdash/weather-dashboard/internal/background"
	"github.com/weatherdash/weather-dashboard/internal/cache"
	"github.com/weatherdash/weather-dashboard/internal/favorites"
	"github.com/weatherdash/weather-dashboard/internal/history"
	"github.com/weatherdash/weather-dashboard/internal/lifecycle"
	"github.com/weatherdash/weather-dashboard/internal/provider"
	"github.com/weatherdash/weather-dashboard/internal/service"
	"github.com/weatherdash/weather-dashboard/internal/validation"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	weather    *service.WeatherService
	favorites  *favorites.Service
	history    *history.Service
	cache      *cache.Manager
	refresher  *background.Refresher
	storePing  func() error
	logger     *zap.Logger
	cityMinLen int
	cityMaxLen int
}

// NewHandler returns a new Handler.
func NewHandler(
	weather *service.WeatherService,
	favs *favorites.Service,
	hist *history.Service,
	cacheManager *cache.Manager,
	refresher *background.Refresher,
	storePing func() error,
	logger *zap.Logger,
	cityMinLen, cityMaxLen int,
) *Handler {
	return &Handler{
		weather:    weather,
		favorites:  favs,
		history:    hist,
		cache:      cacheManager,
		refresher:  refresher,
		storePing:  storePing,
		logger:     logger,
		cityMinLen: cityMinLen,
		cityMaxLen: cityMaxLen,
	}
}

// GetWeather handles GET /weather/{city}?forecast=true.
func (h *Handler) GetWeather(w http.ResponseWriter, r *http.Request) {
	city, err := validation.ValidateCityName(mux.Vars(r)["city"], h.cityMinLen, h.cityMaxLen)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_CITY", err.Error())
		return
	}
	includeForecast, _ := strconv.ParseBool(r.URL.Query().Get("forecast"))

	result, err := h.weather.GetWeather(r.Context(), city, service.FetchOptions{
		IncludeForecast: includeForecast,
	})
	if err != nil {
		h.writeWeatherError(w, r, err)
		return
	}

	if err := h.history.Record(r.Context(), city); err != nil && h.logger != nil {
		h.logger.Warn("recording search history failed", zap.String("city", city), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, result)
}

// writeWeatherError maps fetch failures to distinct retryable error states.
func (h *Handler) writeWeatherError(w http.ResponseWriter, r *http.Request, err error) {
	if logger, ok := r.Context().Value("logger").(*zap.Logger); ok && logger != nil {
		logger.Debug("weather fetch failed", zap.Error(err))
	}
	switch {
	case errors.Is(err, provider.ErrCityNotFound):
		writeError(w, r, http.StatusNotFound, "CITY_NOT_FOUND", "No city matches that name")
	case provider.IsOffline(err):
		writeError(w, r, http.StatusServiceUnavailable, "OFFLINE", "Weather service unreachable and no cached data available")
	case provider.IsServerError(err):
		writeError(w, r, http.StatusBadGateway, "UPSTREAM_ERROR", "Weather service returned an error")
	case errors.Is(err, provider.ErrInvalidAPIKey):
		writeError(w, r, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Weather service rejected our credentials")
	default:
		writeError(w, r, http.StatusInternalServerError, "UNKNOWN", "Unable to fetch weather data")
	}
}

type addFavoriteRequest struct {
	Name    string   `json:"name"`
	Country string   `json:"country"`
	Lat     *float64 `json:"lat"`
	Lon     *float64 `json:"lon"`
}

// ListFavorites handles GET /favorites.
func (h *Handler) ListFavorites(w http.ResponseWriter, r *http.Request) {
	favs, err := h.favorites.List(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "STORAGE_FAILURE", "Unable to read favorites")
		return
	}
	writeJSON(w, http.StatusOK, favs)
}

// AddFavorite handles POST /favorites.
func (h *Handler) AddFavorite(w http.ResponseWriter, r *http.Request) {
	var req addFavoriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "Malformed JSON body")
		return
	}
	name, err := validation.ValidateCityName(req.Name, h.cityMinLen, h.cityMaxLen)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_CITY", err.Error())
		return
	}

	fav, err := h.favorites.Add(r.Context(), favorites.AddRequest{
		Name:    name,
		Country: req.Country,
		Lat:     req.Lat,
		Lon:     req.Lon,
	})
	if err != nil {
		if errors.Is(err, favorites.ErrNoCoordinates) {
			writeError(w, r, http.StatusBadRequest, "MISSING_COORDINATES", "Provide lat/lon, or configure geocoding")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "STORAGE_FAILURE", "Unable to save favorite")
		return
	}
	writeJSON(w, http.StatusCreated, fav)
}

// RemoveFavorite handles DELETE /favorites/{id}.
func (h *Handler) RemoveFavorite(w http.ResponseWriter, r *http.Request) {
	if err := h.favorites.Remove(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, r, http.StatusInternalServerError, "STORAGE_FAILURE", "Unable to remove favorite")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetHistory handles GET /history.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	items, err := h.history.List(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "STORAGE_FAILURE", "Unable to read history")
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// ClearHistory handles DELETE /history.
func (h *Handler) ClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := h.history.Clear(r.Context()); err != nil {
		writeError(w, r, http.StatusInternalServerError, "STORAGE_FAILURE", "Unable to clear history")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearCache handles DELETE /cache?olderThanMinutes=N. Without the parameter
// the whole cache is wiped.
func (h *Handler) ClearCache(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("olderThanMinutes")
	if raw == "" {
		if err := h.cache.ClearAll(r.Context()); err != nil {
			writeError(w, r, http.StatusInternalServerError, "STORAGE_FAILURE", "Unable to clear cache")
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}
	minutes, err := strconv.Atoi(raw)
	if err != nil || minutes < 0 {
		writeError(w, r, http.StatusBadRequest, "INVALID_THRESHOLD", "olderThanMinutes must be a non-negative integer")
		return
	}
	deleted, err := h.cache.ClearExpired(r.Context(), time.Duration(minutes)*time.Minute)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "STORAGE_FAILURE", "Unable to clear cache")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}

// GetBackgroundStatus handles GET /status/background.
func (h *Handler) GetBackgroundStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{"lastBackgroundFetchDate": nil}
	if t, ok := h.refresher.LastFetch(r.Context()); ok {
		resp["lastBackgroundFetchDate"] = t.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	statusCode := http.StatusOK
	checks := map[string]string{"store": "healthy"}

	if lifecycle.IsShuttingDown() {
		status = "shutting-down"
		statusCode = http.StatusServiceUnavailable
	} else if h.storePing != nil {
		if err := h.storePing(); err != nil {
			checks["store"] = "unhealthy"
			status = "degraded"
			statusCode = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, statusCode, map[string]interface{}{
		"status":    status,
		"service":   "weather-dashboard",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the standard error envelope with code, message, and the
// request's correlation ID if present.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	corrID := ""
	if v := r.Context().Value("correlation_id"); v != nil {
		corrID = v.(string)
	}
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": corrID,
		},
	})
}
