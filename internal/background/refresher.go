package background

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/weatherdash/weather-dashboard/internal/models"
	"github.com/weatherdash/weather-dashboard/internal/observability"
	"github.com/weatherdash/weather-dashboard/internal/provider"
)

// LastFetchKey is the key-value key holding the ISO-8601 timestamp of the
// last successful background run. UI layers read it to display "last updated".
const LastFetchKey = "lastBackgroundFetchDate"

// CacheSaver is the slice of the cache manager the refresher needs.
type CacheSaver interface {
	Save(ctx context.Context, entry models.WeatherCacheEntry) error
}

// Records is the slice of the record store the refresher needs: the favorites
// to refresh and the key-value slot for the last-fetch timestamp.
type Records interface {
	Favorites(ctx context.Context) ([]models.FavoriteCity, error)
	PutValue(ctx context.Context, key, value string) error
	Value(ctx context.Context, key string) (string, bool, error)
}

// Refresher fetches weather for all favorited cities when a background run
// fires, writing results through the cache manager.
type Refresher struct {
	scheduler TaskScheduler
	provider  provider.Provider
	cache     CacheSaver
	records   Records
	interval  time.Duration
	logger    *zap.Logger
}

// NewRefresher creates a Refresher. interval <= 0 uses MinInterval.
func NewRefresher(scheduler TaskScheduler, p provider.Provider, cache CacheSaver, records Records, interval time.Duration, logger *zap.Logger) *Refresher {
	if interval <= 0 {
		interval = MinInterval
	}
	return &Refresher{
		scheduler: scheduler,
		provider:  p,
		cache:     cache,
		records:   records,
		interval:  interval,
		logger:    logger,
	}
}

// Start registers the job identifier (exactly once per process, at startup)
// and submits the first run. Registration failure is fatal; submission
// failure is a logged diagnostic, since the next foreground launch re-submits.
func (r *Refresher) Start() error {
	if err := r.scheduler.Register(JobIdentifier, r.handle); err != nil {
		return err
	}
	r.ScheduleNext()
	return nil
}

// ScheduleNext submits the next run at now + interval. Returns false when
// submission was refused; the reason is logged and counted, not propagated.
func (r *Refresher) ScheduleNext() bool {
	err := r.scheduler.Submit(Request{
		Identifier:        JobIdentifier,
		EarliestBeginDate: time.Now().Add(r.interval),
	})
	if err == nil {
		return true
	}
	observability.SchedulingFailuresTotal.WithLabelValues(schedulingReason(err)).Inc()
	if r.logger != nil {
		r.logger.Warn("background submission refused", zap.Error(err))
	}
	return false
}

func schedulingReason(err error) string {
	switch {
	case errors.Is(err, ErrNotPermitted):
		return "not_permitted"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, ErrTooManyPending):
		return "too_many_pending"
	default:
		return "other"
	}
}

// handle is the registered executor callback. It reschedules its successor
// before doing any work, so a crash or expiry during the fetch never breaks
// the cadence, then reports exactly one outcome.
func (r *Refresher) handle(job *Job) {
	r.ScheduleNext()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-job.Expired():
			// Abandon in-flight fetches and report failure immediately.
			// Writes that already completed stay valid.
			cancel()
			job.completeExpired()
		case <-ctx.Done():
		}
	}()

	job.Complete(r.RefreshFavorites(ctx))
}

// RefreshFavorites fetches weather for every favorite concurrently and caches
// the successes. Returns true when at least one favorite was refreshed, or
// when there were no favorites to refresh (trivial success). Individual
// failures are logged, never propagated; the next scheduled run is the retry.
func (r *Refresher) RefreshFavorites(ctx context.Context) bool {
	favorites, err := r.records.Favorites(ctx)
	if err != nil {
		if r.logger != nil {
			r.logger.Error("background refresh: reading favorites failed", zap.Error(err))
		}
		return false
	}
	if len(favorites) == 0 {
		if r.logger != nil {
			r.logger.Info("background refresh: no favorites to refresh")
		}
		return true
	}

	// One task per favorite; each succeeds or fails on its own.
	results := make(chan bool, len(favorites))
	for _, fav := range favorites {
		go func(fav models.FavoriteCity) {
			results <- r.refreshOne(ctx, fav)
		}(fav)
	}

	successes := 0
	for range favorites {
		if <-results {
			successes++
		}
	}

	if r.logger != nil {
		r.logger.Info("background refresh finished",
			zap.Int("favorites", len(favorites)),
			zap.Int("refreshed", successes))
	}
	if successes == 0 {
		return false
	}
	r.recordLastFetch(ctx)
	return true
}

func (r *Refresher) refreshOne(ctx context.Context, fav models.FavoriteCity) bool {
	snap, err := r.provider.FetchCurrentByCoords(ctx, fav.Lat, fav.Lon)
	if err != nil {
		observability.BackgroundFetchesTotal.WithLabelValues("failed").Inc()
		if r.logger != nil {
			r.logger.Warn("background fetch failed",
				zap.String("city", fav.Name),
				zap.String("category", string(provider.Categorize(err))),
				zap.Error(err))
		}
		return false
	}
	if ctx.Err() != nil {
		// Expired while the fetch was in flight; do not start a new write.
		return false
	}

	entry, err := models.NewCacheEntry(uuid.New().String(), fav.Name, snap, nil, time.Now().UTC())
	if err != nil {
		observability.BackgroundFetchesTotal.WithLabelValues("failed").Inc()
		return false
	}
	if err := r.cache.Save(ctx, entry); err != nil {
		observability.BackgroundFetchesTotal.WithLabelValues("failed").Inc()
		if r.logger != nil {
			r.logger.Warn("background cache write failed", zap.String("city", fav.Name), zap.Error(err))
		}
		return false
	}
	observability.BackgroundFetchesTotal.WithLabelValues("ok").Inc()
	return true
}

func (r *Refresher) recordLastFetch(ctx context.Context) {
	stamp := time.Now().UTC().Format(time.RFC3339)
	if err := r.records.PutValue(ctx, LastFetchKey, stamp); err != nil && r.logger != nil {
		r.logger.Warn("recording last background fetch failed", zap.Error(err))
	}
}

// LastFetch returns the timestamp of the last successful background run, if
// one has been recorded.
func (r *Refresher) LastFetch(ctx context.Context) (time.Time, bool) {
	raw, ok, err := r.records.Value(ctx, LastFetchKey)
	if err != nil || !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
