package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/weatherdash/weather-dashboard/internal/models"
)

// MemoryStore is a concurrency-safe in-memory RecordStore. Default backend for
// development and tests; nothing survives a restart.
type MemoryStore struct {
	mu        sync.RWMutex
	cache     map[string]models.WeatherCacheEntry
	favorites []models.FavoriteCity
	history   []models.SearchHistoryItem
	kv        map[string]string
}

var _ RecordStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cache: make(map[string]models.WeatherCacheEntry),
		kv:    make(map[string]string),
	}
}

func (s *MemoryStore) PutCacheEntry(ctx context.Context, entry models.WeatherCacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[entry.CityKey] = entry
	return nil
}

func (s *MemoryStore) CacheEntry(ctx context.Context, cityKey string) (models.WeatherCacheEntry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.cache[cityKey]
	return entry, ok, nil
}

func (s *MemoryStore) CacheEntryCount(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache), nil
}

func (s *MemoryStore) TrimCacheEntries(ctx context.Context, keep int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.cache) <= keep {
		return 0, nil
	}
	entries := make([]models.WeatherCacheEntry, 0, len(s.cache))
	for _, e := range s.cache {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LastUpdated.Before(entries[j].LastUpdated)
	})
	deleted := 0
	for _, e := range entries[:len(entries)-keep] {
		delete(s.cache, e.CityKey)
		deleted++
	}
	return deleted, nil
}

func (s *MemoryStore) DeleteCacheEntriesBefore(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for key, e := range s.cache {
		if !e.LastUpdated.After(cutoff) {
			delete(s.cache, key)
			deleted++
		}
	}
	return deleted, nil
}

func (s *MemoryStore) DeleteAllCacheEntries(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string]models.WeatherCacheEntry)
	return nil
}

func (s *MemoryStore) PutFavorite(ctx context.Context, fav models.FavoriteCity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := models.CityKey(fav.Name)
	for i, existing := range s.favorites {
		if models.CityKey(existing.Name) == key {
			// Keep original identity and AddedAt; refresh coordinates.
			existing.Country = fav.Country
			existing.Lat = fav.Lat
			existing.Lon = fav.Lon
			s.favorites[i] = existing
			return nil
		}
	}
	s.favorites = append(s.favorites, fav)
	return nil
}

func (s *MemoryStore) DeleteFavorite(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, fav := range s.favorites {
		if fav.ID == id {
			s.favorites = append(s.favorites[:i], s.favorites[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *MemoryStore) Favorites(ctx context.Context) ([]models.FavoriteCity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.FavoriteCity, len(s.favorites))
	copy(out, s.favorites)
	sort.Slice(out, func(i, j int) bool { return out[i].AddedAt.Before(out[j].AddedAt) })
	return out, nil
}

func (s *MemoryStore) PutHistoryItem(ctx context.Context, item models.SearchHistoryItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, item)
	return nil
}

func (s *MemoryStore) DeleteHistoryByQuery(ctx context.Context, queryKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.history[:0]
	for _, item := range s.history {
		if models.CityKey(item.Query) != queryKey {
			kept = append(kept, item)
		}
	}
	s.history = kept
	return nil
}

func (s *MemoryStore) History(ctx context.Context, limit int) ([]models.SearchHistoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.SearchHistoryItem, len(s.history))
	copy(out, s.history)
	sort.Slice(out, func(i, j int) bool { return out[i].SearchedAt.After(out[j].SearchedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) TrimHistory(ctx context.Context, keep int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.history) <= keep {
		return 0, nil
	}
	sort.Slice(s.history, func(i, j int) bool {
		return s.history[i].SearchedAt.After(s.history[j].SearchedAt)
	})
	deleted := len(s.history) - keep
	s.history = s.history[:keep]
	return deleted, nil
}

func (s *MemoryStore) ClearHistory(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
	return nil
}

func (s *MemoryStore) PutValue(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kv[key] = value
	return nil
}

func (s *MemoryStore) Value(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.kv[key]
	return v, ok, nil
}

func (s *MemoryStore) Ping() error { return nil }

func (s *MemoryStore) Close() error { return nil }
