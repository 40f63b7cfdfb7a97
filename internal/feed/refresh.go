package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"tickwise/internal/domain"
)

// RecommendationSource is what Documents loads from; *Client satisfies it.
type RecommendationSource interface {
	Snapshot(ctx context.Context) ([]domain.RecommendationRecord, error)
	History(ctx context.Context) ([]domain.RecommendationRecord, error)
}

// Documents keeps the latest snapshot and history in memory and reloads
// them on demand or on a cron schedule.
type Documents struct {
	src RecommendationSource
	log zerolog.Logger

	mu       sync.RWMutex
	snapshot []domain.RecommendationRecord
	history  []domain.RecommendationRecord
	loadedAt time.Time

	cron *cron.Cron
}

// NewDocuments creates an empty Documents over src. Call Refresh to load.
func NewDocuments(src RecommendationSource, log zerolog.Logger) *Documents {
	return &Documents{
		src: src,
		log: log.With().Str("component", "documents").Logger(),
	}
}

// Refresh reloads both documents. On failure the previous copies are kept.
func (d *Documents) Refresh(ctx context.Context) error {
	snap, err := d.src.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("refreshing snapshot: %w", err)
	}
	hist, err := d.src.History(ctx)
	if err != nil {
		return fmt.Errorf("refreshing history: %w", err)
	}

	d.mu.Lock()
	d.snapshot = snap
	d.history = hist
	d.loadedAt = time.Now()
	d.mu.Unlock()

	d.log.Info().Int("snapshot", len(snap)).Int("history", len(hist)).Msg("documents refreshed")
	return nil
}

// Set replaces both documents, as loaded by some other means.
func (d *Documents) Set(snapshot, history []domain.RecommendationRecord) {
	d.mu.Lock()
	d.snapshot = snapshot
	d.history = history
	d.loadedAt = time.Now()
	d.mu.Unlock()
}

// Snapshot returns the current recommendations. The slice is shared and
// must not be modified.
func (d *Documents) Snapshot() []domain.RecommendationRecord {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.snapshot
}

// History returns the recommendation history. The slice is shared and must
// not be modified.
func (d *Documents) History() []domain.RecommendationRecord {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.history
}

// LoadedAt returns when the documents were last replaced.
func (d *Documents) LoadedAt() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.loadedAt
}

// Schedule reloads the documents on a cron spec with a seconds field,
// e.g. "0 30 22 * * MON-FRI". An empty spec schedules nothing.
func (d *Documents) Schedule(spec string, timeout time.Duration) error {
	if spec == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	c := cron.New(cron.WithSeconds())
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := d.Refresh(ctx); err != nil {
			d.log.Error().Err(err).Msg("scheduled refresh failed")
		}
	})
	if err != nil {
		return fmt.Errorf("refresh schedule %q: %w", spec, err)
	}
	d.cron = c
	c.Start()
	d.log.Info().Str("schedule", spec).Msg("refresh scheduled")
	return nil
}

// Stop halts the schedule and waits for a running refresh to finish.
func (d *Documents) Stop() {
	if d.cron == nil {
		return
	}
	<-d.cron.Stop().Done()
}
