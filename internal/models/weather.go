package models

import (
	"strings"
	"time"
)

// WeatherSnapshot is the normalized current-conditions payload served to clients
// and stored in the weather cache.
type WeatherSnapshot struct {
	City        string    `json:"city"`
	Country     string    `json:"country,omitempty"`
	Temperature float64   `json:"temperature"`
	FeelsLike   float64   `json:"feelsLike"`
	Conditions  string    `json:"conditions"`
	Humidity    int       `json:"humidity"`
	WindSpeed   float64   `json:"windSpeed"`
	Icon        string    `json:"icon,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// ForecastDay is one aggregated day within a multi-day forecast.
type ForecastDay struct {
	Date       time.Time `json:"date"`
	TempMin    float64   `json:"tempMin"`
	TempMax    float64   `json:"tempMax"`
	Conditions string    `json:"conditions"`
	Humidity   int       `json:"humidity"`
	WindSpeed  float64   `json:"windSpeed"`
	Icon       string    `json:"icon,omitempty"`
}

// ForecastSnapshot is a multi-day forecast for one city.
type ForecastSnapshot struct {
	City      string        `json:"city"`
	Days      []ForecastDay `json:"days"`
	FetchedAt time.Time     `json:"fetchedAt"`
}

// FavoriteCity is a user-saved city. Favorites drive background refresh:
// the refresher fetches weather by coordinates for every favorite.
type FavoriteCity struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Country string    `json:"country,omitempty"`
	Lat     float64   `json:"lat"`
	Lon     float64   `json:"lon"`
	AddedAt time.Time `json:"addedAt"`
}

// SearchHistoryItem is one remembered city search.
type SearchHistoryItem struct {
	ID         string    `json:"id"`
	Query      string    `json:"query"`
	SearchedAt time.Time `json:"searchedAt"`
}

// CityKey normalizes a city name into the case-insensitive key used for cache
// entries, favorites dedupe, and history dedupe.
func CityKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
