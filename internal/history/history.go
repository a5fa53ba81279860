// Package history keeps the short search-history list.
package history

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/weatherdash/weather-dashboard/internal/models"
	"github.com/weatherdash/weather-dashboard/internal/store"
)

// MaxItems bounds the stored history; adding beyond it trims the oldest.
const MaxItems = 20

// Service provides search-history operations over the record store.
type Service struct {
	records  store.RecordStore
	maxItems int
}

// NewService creates a Service with the default item bound.
func NewService(records store.RecordStore) *Service {
	return &Service{records: records, maxItems: MaxItems}
}

// Record remembers a search. Repeating a query (any casing) moves it to the
// front instead of duplicating it; the list is trimmed to MaxItems.
func (s *Service) Record(ctx context.Context, query string) error {
	if err := s.records.DeleteHistoryByQuery(ctx, models.CityKey(query)); err != nil {
		return err
	}
	item := models.SearchHistoryItem{
		ID:         uuid.New().String(),
		Query:      query,
		SearchedAt: time.Now().UTC(),
	}
	if err := s.records.PutHistoryItem(ctx, item); err != nil {
		return err
	}
	_, err := s.records.TrimHistory(ctx, s.maxItems)
	return err
}

// List returns the history, newest first.
func (s *Service) List(ctx context.Context) ([]models.SearchHistoryItem, error) {
	return s.records.History(ctx, s.maxItems)
}

// Clear wipes the history.
func (s *Service) Clear(ctx context.Context) error {
	return s.records.ClearHistory(ctx)
}
