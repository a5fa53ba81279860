package store

import (
	"context"
	"time"

	"github.com/weatherdash/weather-dashboard/internal/models"
)

// RecordStore is the transactional local store backing cache entries,
// favorites, search history, and small key-value state. Implementations must
// be safe for concurrent use; each call is transactional on its own.
//
// Reads use the (value, ok, err) shape: ok=false means not found, err!=nil
// means the store itself failed. Callers on read paths treat a store failure
// as a miss; callers on write paths treat it as non-fatal.
type RecordStore interface {
	// Weather cache records. PutCacheEntry upserts by CityKey atomically.
	PutCacheEntry(ctx context.Context, entry models.WeatherCacheEntry) error
	CacheEntry(ctx context.Context, cityKey string) (models.WeatherCacheEntry, bool, error)
	CacheEntryCount(ctx context.Context) (int, error)
	// TrimCacheEntries deletes the oldest entries by LastUpdated until at most
	// keep remain. Returns the number deleted.
	TrimCacheEntries(ctx context.Context, keep int) (int, error)
	// DeleteCacheEntriesBefore deletes entries with LastUpdated <= cutoff.
	DeleteCacheEntriesBefore(ctx context.Context, cutoff time.Time) (int, error)
	DeleteAllCacheEntries(ctx context.Context) error

	// Favorites, sorted by AddedAt ascending.
	PutFavorite(ctx context.Context, fav models.FavoriteCity) error
	DeleteFavorite(ctx context.Context, id string) error
	Favorites(ctx context.Context) ([]models.FavoriteCity, error)

	// Search history, newest first.
	PutHistoryItem(ctx context.Context, item models.SearchHistoryItem) error
	DeleteHistoryByQuery(ctx context.Context, queryKey string) error
	History(ctx context.Context, limit int) ([]models.SearchHistoryItem, error)
	TrimHistory(ctx context.Context, keep int) (int, error)
	ClearHistory(ctx context.Context) error

	// Key-value state (e.g. lastBackgroundFetchDate).
	PutValue(ctx context.Context, key, value string) error
	Value(ctx context.Context, key string) (string, bool, error)

	Ping() error
	Close() error
}

// Failure wraps an underlying storage driver error so callers can handle any
// store failure uniformly without inspecting driver-specific errors.
type Failure struct {
	Op  string
	Err error
}

func (f *Failure) Error() string { return "store " + f.Op + ": " + f.Err.Error() }

func (f *Failure) Unwrap() error { return f.Err }

func failure(op string, err error) error {
	return &Failure{Op: op, Err: err}
}
