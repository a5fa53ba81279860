package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/weatherdash/weather-dashboard/internal/models"
	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteStore implements RecordStore on a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

var _ RecordStore = (*SQLiteStore)(nil)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS weather_cache (
	id           TEXT NOT NULL,
	city_key     TEXT PRIMARY KEY,
	current      BLOB NOT NULL,
	forecast     BLOB,
	last_updated INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_weather_cache_last_updated ON weather_cache(last_updated);

CREATE TABLE IF NOT EXISTS favorites (
	id       TEXT PRIMARY KEY,
	name     TEXT NOT NULL,
	name_key TEXT NOT NULL UNIQUE,
	country  TEXT,
	lat      REAL NOT NULL,
	lon      REAL NOT NULL,
	added_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS search_history (
	id          TEXT PRIMARY KEY,
	query       TEXT NOT NULL,
	query_key   TEXT NOT NULL,
	searched_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_search_history_searched_at ON search_history(searched_at);

CREATE TABLE IF NOT EXISTS kv (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// NewSQLiteStore opens (or creates) the database at path and applies the
// schema. A single open connection avoids "database is locked" errors under
// concurrent writers.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite at %q: %w", path, err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// PutCacheEntry upserts by city_key. The single-statement upsert keeps
// concurrent writers for the same key atomic: the row ends up as one full
// payload, never a mix.
func (s *SQLiteStore) PutCacheEntry(ctx context.Context, entry models.WeatherCacheEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO weather_cache (id, city_key, current, forecast, last_updated)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(city_key) DO UPDATE SET
			id = excluded.id,
			current = excluded.current,
			forecast = excluded.forecast,
			last_updated = excluded.last_updated`,
		entry.ID, entry.CityKey, entry.Current, entry.Forecast, entry.LastUpdated.UnixMilli())
	if err != nil {
		return failure("put cache entry", err)
	}
	return nil
}

func (s *SQLiteStore) CacheEntry(ctx context.Context, cityKey string) (models.WeatherCacheEntry, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, city_key, current, forecast, last_updated
		FROM weather_cache WHERE city_key = ?`, cityKey)
	var entry models.WeatherCacheEntry
	var updated int64
	if err := row.Scan(&entry.ID, &entry.CityKey, &entry.Current, &entry.Forecast, &updated); err != nil {
		if err == sql.ErrNoRows {
			return models.WeatherCacheEntry{}, false, nil
		}
		return models.WeatherCacheEntry{}, false, failure("get cache entry", err)
	}
	entry.LastUpdated = time.UnixMilli(updated)
	return entry, true, nil
}

func (s *SQLiteStore) CacheEntryCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM weather_cache`).Scan(&n); err != nil {
		return 0, failure("count cache entries", err)
	}
	return n, nil
}

func (s *SQLiteStore) TrimCacheEntries(ctx context.Context, keep int) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM weather_cache WHERE city_key NOT IN (
			SELECT city_key FROM weather_cache ORDER BY last_updated DESC LIMIT ?
		)`, keep)
	if err != nil {
		return 0, failure("trim cache entries", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) DeleteCacheEntriesBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM weather_cache WHERE last_updated <= ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, failure("delete expired cache entries", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) DeleteAllCacheEntries(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM weather_cache`); err != nil {
		return failure("clear cache entries", err)
	}
	return nil
}

func (s *SQLiteStore) PutFavorite(ctx context.Context, fav models.FavoriteCity) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO favorites (id, name, name_key, country, lat, lon, added_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name_key) DO UPDATE SET
			country = excluded.country,
			lat = excluded.lat,
			lon = excluded.lon`,
		fav.ID, fav.Name, models.CityKey(fav.Name), fav.Country, fav.Lat, fav.Lon, fav.AddedAt.UnixMilli())
	if err != nil {
		return failure("put favorite", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteFavorite(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM favorites WHERE id = ?`, id); err != nil {
		return failure("delete favorite", err)
	}
	return nil
}

func (s *SQLiteStore) Favorites(ctx context.Context) ([]models.FavoriteCity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, country, lat, lon, added_at
		FROM favorites ORDER BY added_at ASC`)
	if err != nil {
		return nil, failure("list favorites", err)
	}
	defer rows.Close()

	var favs []models.FavoriteCity
	for rows.Next() {
		var fav models.FavoriteCity
		var added int64
		var country sql.NullString
		if err := rows.Scan(&fav.ID, &fav.Name, &country, &fav.Lat, &fav.Lon, &added); err != nil {
			return nil, failure("scan favorite", err)
		}
		fav.Country = country.String
		fav.AddedAt = time.UnixMilli(added)
		favs = append(favs, fav)
	}
	if err := rows.Err(); err != nil {
		return nil, failure("list favorites", err)
	}
	return favs, nil
}

func (s *SQLiteStore) PutHistoryItem(ctx context.Context, item models.SearchHistoryItem) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO search_history (id, query, query_key, searched_at)
		VALUES (?, ?, ?, ?)`,
		item.ID, item.Query, models.CityKey(item.Query), item.SearchedAt.UnixMilli())
	if err != nil {
		return failure("put history item", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteHistoryByQuery(ctx context.Context, queryKey string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM search_history WHERE query_key = ?`, queryKey); err != nil {
		return failure("delete history item", err)
	}
	return nil
}

func (s *SQLiteStore) History(ctx context.Context, limit int) ([]models.SearchHistoryItem, error) {
	if limit <= 0 {
		limit = -1 // SQLite: negative LIMIT means no limit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, query, searched_at
		FROM search_history ORDER BY searched_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, failure("list history", err)
	}
	defer rows.Close()

	var items []models.SearchHistoryItem
	for rows.Next() {
		var item models.SearchHistoryItem
		var searched int64
		if err := rows.Scan(&item.ID, &item.Query, &searched); err != nil {
			return nil, failure("scan history item", err)
		}
		item.SearchedAt = time.UnixMilli(searched)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, failure("list history", err)
	}
	return items, nil
}

func (s *SQLiteStore) TrimHistory(ctx context.Context, keep int) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM search_history WHERE id NOT IN (
			SELECT id FROM search_history ORDER BY searched_at DESC LIMIT ?
		)`, keep)
	if err != nil {
		return 0, failure("trim history", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) ClearHistory(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM search_history`); err != nil {
		return failure("clear history", err)
	}
	return nil
}

func (s *SQLiteStore) PutValue(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return failure("put value", err)
	}
	return nil
}

func (s *SQLiteStore) Value(ctx context.Context, key string) (string, bool, error) {
	var v string
	if err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&v); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, failure("get value", err)
	}
	return v, true, nil
}

// Ping checks database reachability. Used for health checks.
func (s *SQLiteStore) Ping() error {
	return s.db.Ping()
}

// Close closes the underlying database. Call during shutdown.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
