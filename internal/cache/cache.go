// Package cache implements durable, bounded, expirable storage of per-city
// weather snapshots on top of the record store.
package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/weatherdash/weather-dashboard/internal/models"
	"github.com/weatherdash/weather-dashboard/internal/observability"
	"github.com/weatherdash/weather-dashboard/internal/store"
)

// MaxEntries bounds the number of stored cache entries. Inserting beyond the
// bound evicts the oldest entries by LastUpdated.
const MaxEntries = 50

// DefaultTTL is the freshness window callers normally pass to Valid.
const DefaultTTL = 30 * time.Minute

// Manager owns the WeatherCacheEntry lifecycle. No other component writes
// cache records directly.
type Manager struct {
	records    store.RecordStore
	maxEntries int
	logger     *zap.Logger

	// keyLocks serializes writers per city key so two concurrent saves for the
	// same city resolve to one full payload, never a mix. Different keys are
	// independent records and take independent locks.
	mu       sync.Mutex
	keyLocks map[string]*sync.Mutex
}

// NewManager creates a Manager over the given record store.
func NewManager(records store.RecordStore, logger *zap.Logger) *Manager {
	return &Manager{
		records:    records,
		maxEntries: MaxEntries,
		logger:     logger,
		keyLocks:   make(map[string]*sync.Mutex),
	}
}

func (m *Manager) lockKey(key string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.keyLocks[key]
	if !ok {
		l = &sync.Mutex{}
		m.keyLocks[key] = l
	}
	return l
}

// Save upserts the entry by its normalized city key and silently evicts the
// oldest entries when the store grows past MaxEntries. Idempotent under retry.
func (m *Manager) Save(ctx context.Context, entry models.WeatherCacheEntry) error {
	entry.CityKey = models.CityKey(entry.CityKey)

	l := m.lockKey(entry.CityKey)
	l.Lock()
	defer l.Unlock()

	if err := m.records.PutCacheEntry(ctx, entry); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("save").Inc()
		return err
	}
	observability.CacheWritesTotal.Inc()

	count, err := m.records.CacheEntryCount(ctx)
	if err != nil {
		// Overflow handling is best effort; the write itself succeeded.
		observability.CacheErrorsTotal.WithLabelValues("count").Inc()
		return nil
	}
	if count > m.maxEntries {
		evicted, err := m.records.TrimCacheEntries(ctx, m.maxEntries)
		if err != nil {
			observability.CacheErrorsTotal.WithLabelValues("evict").Inc()
			return nil
		}
		observability.CacheEvictionsTotal.Add(float64(evicted))
		if m.logger != nil {
			m.logger.Debug("evicted oldest cache entries",
				zap.Int("evicted", evicted), zap.Int("max_entries", m.maxEntries))
		}
	}
	return nil
}

// Get looks up the entry for cityName, case-insensitively. It does not judge
// freshness; some callers want stale data for offline display. Returns
// (entry, true, nil) on hit, (zero, false, nil) on miss.
func (m *Manager) Get(ctx context.Context, cityName string) (models.WeatherCacheEntry, bool, error) {
	entry, ok, err := m.records.CacheEntry(ctx, models.CityKey(cityName))
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get").Inc()
		return models.WeatherCacheEntry{}, false, err
	}
	if ok {
		observability.CacheHitsTotal.Inc()
	} else {
		observability.CacheMissesTotal.Inc()
	}
	return entry, ok, nil
}

// ClearExpired deletes every entry older than the given threshold. A zero
// threshold clears everything, since every entry has non-negative age.
func (m *Manager) ClearExpired(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		entries, err := m.records.CacheEntryCount(ctx)
		if err != nil {
			return 0, err
		}
		if err := m.records.DeleteAllCacheEntries(ctx); err != nil {
			return 0, err
		}
		return entries, nil
	}
	return m.records.DeleteCacheEntriesBefore(ctx, time.Now().Add(-olderThan))
}

// ClearAll wipes the cache unconditionally.
func (m *Manager) ClearAll(ctx context.Context) error {
	return m.records.DeleteAllCacheEntries(ctx)
}
