package models

import (
	"encoding/json"
	"time"
)

// WeatherCacheEntry is a per-city snapshot of the last successful fetch.
// Payloads are stored serialized so the cache survives model evolution without
// a schema migration; decode failures are treated as misses by callers.
type WeatherCacheEntry struct {
	ID          string    `json:"id"`
	CityKey     string    `json:"cityKey"`
	Current     []byte    `json:"current"`
	Forecast    []byte    `json:"forecast,omitempty"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// NewCacheEntry builds an entry from live snapshots. forecast may be nil.
func NewCacheEntry(id, cityName string, current WeatherSnapshot, forecast *ForecastSnapshot, now time.Time) (WeatherCacheEntry, error) {
	raw, err := json.Marshal(current)
	if err != nil {
		return WeatherCacheEntry{}, err
	}
	entry := WeatherCacheEntry{
		ID:          id,
		CityKey:     CityKey(cityName),
		Current:     raw,
		LastUpdated: now,
	}
	if forecast != nil {
		fraw, err := json.Marshal(forecast)
		if err != nil {
			return WeatherCacheEntry{}, err
		}
		entry.Forecast = fraw
	}
	return entry, nil
}

// Valid reports whether the entry is younger than ttl.
func (e WeatherCacheEntry) Valid(ttl time.Duration) bool {
	return time.Since(e.LastUpdated) < ttl
}

// AgeMinutes returns the entry age in whole minutes.
func (e WeatherCacheEntry) AgeMinutes() int {
	return int(time.Since(e.LastUpdated).Minutes())
}

// DecodeCurrent unpacks the current-conditions payload.
func (e WeatherCacheEntry) DecodeCurrent() (WeatherSnapshot, error) {
	var snap WeatherSnapshot
	err := json.Unmarshal(e.Current, &snap)
	return snap, err
}

// DecodeForecast unpacks the forecast payload. Returns nil when the entry was
// cached without a forecast.
func (e WeatherCacheEntry) DecodeForecast() (*ForecastSnapshot, error) {
	if len(e.Forecast) == 0 {
		return nil, nil
	}
	var f ForecastSnapshot
	if err := json.Unmarshal(e.Forecast, &f); err != nil {
		return nil, err
	}
	return &f, nil
}
