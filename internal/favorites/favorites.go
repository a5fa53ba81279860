// Package favorites manages the user's saved cities, the input set for
// background refresh.
package favorites

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kelvins/geocoder"
	"go.uber.org/zap"

	"github.com/weatherdash/weather-dashboard/internal/models"
	"github.com/weatherdash/weather-dashboard/internal/store"
)

// ErrNoCoordinates is returned by Add when coordinates are missing and no
// geocoder is configured to resolve them.
var ErrNoCoordinates = errors.New("favorite requires coordinates")

// Service provides favorites CRUD over the record store.
type Service struct {
	records store.RecordStore
	geocode bool
	logger  *zap.Logger
}

// NewService creates a Service. geocoderAPIKey, when non-empty, enables
// resolving coordinates for favorites added by name only.
func NewService(records store.RecordStore, geocoderAPIKey string, logger *zap.Logger) *Service {
	if geocoderAPIKey != "" {
		geocoder.ApiKey = geocoderAPIKey
	}
	return &Service{
		records: records,
		geocode: geocoderAPIKey != "",
		logger:  logger,
	}
}

// AddRequest describes a city to save. Lat/Lon may be nil when the caller
// only knows the name; they are then geocoded if a geocoder is configured.
type AddRequest struct {
	Name    string
	Country string
	Lat     *float64
	Lon     *float64
}

// Add saves a favorite, deduplicating by normalized city name: re-adding an
// existing city refreshes its coordinates instead of duplicating it.
func (s *Service) Add(ctx context.Context, req AddRequest) (models.FavoriteCity, error) {
	fav := models.FavoriteCity{
		ID:      uuid.New().String(),
		Name:    req.Name,
		Country: req.Country,
		AddedAt: time.Now().UTC(),
	}

	switch {
	case req.Lat != nil && req.Lon != nil:
		fav.Lat = *req.Lat
		fav.Lon = *req.Lon
	case s.geocode:
		location, err := geocoder.Geocoding(geocoder.Address{
			City:    req.Name,
			Country: req.Country,
		})
		if err != nil {
			return models.FavoriteCity{}, fmt.Errorf("geocode %s: %w", req.Name, err)
		}
		fav.Lat = location.Latitude
		fav.Lon = location.Longitude
		if s.logger != nil {
			s.logger.Debug("geocoded favorite",
				zap.String("city", req.Name),
				zap.Float64("lat", fav.Lat),
				zap.Float64("lon", fav.Lon))
		}
	default:
		return models.FavoriteCity{}, ErrNoCoordinates
	}

	if err := s.records.PutFavorite(ctx, fav); err != nil {
		return models.FavoriteCity{}, err
	}

	// On a dedupe the store keeps the original row's identity and only
	// refreshes coordinates; read back the surviving row so the caller gets
	// the ID that DELETE actually accepts.
	stored, err := s.stored(ctx, fav.Name)
	if err != nil {
		return models.FavoriteCity{}, err
	}
	return stored, nil
}

// stored returns the persisted favorite matching cityName.
func (s *Service) stored(ctx context.Context, cityName string) (models.FavoriteCity, error) {
	favs, err := s.records.Favorites(ctx)
	if err != nil {
		return models.FavoriteCity{}, err
	}
	key := models.CityKey(cityName)
	for _, fav := range favs {
		if models.CityKey(fav.Name) == key {
			return fav, nil
		}
	}
	return models.FavoriteCity{}, fmt.Errorf("favorite %s not found after save", key)
}

// Remove deletes a favorite by ID. Removing an unknown ID is a no-op.
func (s *Service) Remove(ctx context.Context, id string) error {
	return s.records.DeleteFavorite(ctx, id)
}

// List returns all favorites, oldest first.
func (s *Service) List(ctx context.Context) ([]models.FavoriteCity, error) {
	return s.records.Favorites(ctx)
}

// IsFavorite reports whether a city (any casing) is saved.
func (s *Service) IsFavorite(ctx context.Context, cityName string) (bool, error) {
	favs, err := s.records.Favorites(ctx)
	if err != nil {
		return false, err
	}
	key := models.CityKey(cityName)
	for _, fav := range favs {
		if models.CityKey(fav.Name) == key {
			return true, nil
		}
	}
	return false, nil
}
