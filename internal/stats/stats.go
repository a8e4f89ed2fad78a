// Package stats keeps the lifetime usage counters.
package stats

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/tabcleaner/internal/store"
)

// Persister is the key/value backend the counters are saved into.
type Persister interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	SetMany(ctx context.Context, values map[string]any) error
}

// Snapshot is a point-in-time copy of the counters. Times are Unix milliseconds.
type Snapshot struct {
	TabsRemoved   int   `json:"tabsRemoved"`
	MaxConcurrent int   `json:"maxConcurrentTabs"`
	StartedAt     int64 `json:"statisticsStartDate"`
	InstalledAt   int64 `json:"installedAt"`
}

// Counters tracks closed tabs and the largest tab count seen.
type Counters struct {
	mu            sync.Mutex
	tabsRemoved   int
	maxConcurrent int
	startedAt     time.Time
	installedAt   time.Time
	firstRun      bool

	persister Persister
	now       func() time.Time
	logger    zerolog.Logger
}

// New creates zeroed counters. persister may be nil.
func New(persister Persister, logger zerolog.Logger) *Counters {
	return &Counters{
		persister: persister,
		now:       time.Now,
		logger:    logger.With().Str("component", "stats").Logger(),
	}
}

// WithClock overrides the time source.
func (c *Counters) WithClock(now func() time.Time) *Counters {
	c.now = now
	return c
}

// Load reads the persisted counters. Missing start and install times are
// initialised to now and written back; the install time is never
// overwritten afterwards.
func (c *Counters) Load(ctx context.Context) error {
	if c.persister == nil {
		c.mu.Lock()
		c.initTimesLocked()
		c.mu.Unlock()
		return nil
	}

	var (
		removed, maxSeen         int
		startedMS, installedMS   int64
		hasStarted, hasInstalled bool
		err                      error
	)
	if _, err = c.persister.Get(ctx, store.KeyTabsRemoved, &removed); err != nil {
		return c.loadFailed(err)
	}
	if _, err = c.persister.Get(ctx, store.KeyMaxConcurrent, &maxSeen); err != nil {
		return c.loadFailed(err)
	}
	if hasStarted, err = c.persister.Get(ctx, store.KeyStatsStartedAt, &startedMS); err != nil {
		return c.loadFailed(err)
	}
	if hasInstalled, err = c.persister.Get(ctx, store.KeyInstalledAt, &installedMS); err != nil {
		return c.loadFailed(err)
	}

	c.mu.Lock()
	c.tabsRemoved = removed
	c.maxConcurrent = maxSeen
	if hasStarted && startedMS > 0 {
		c.startedAt = time.UnixMilli(startedMS)
	}
	if hasInstalled && installedMS > 0 {
		c.installedAt = time.UnixMilli(installedMS)
	}
	c.initTimesLocked()
	c.mu.Unlock()

	if !hasStarted || !hasInstalled {
		return c.Persist(ctx)
	}
	return nil
}

func (c *Counters) loadFailed(err error) error {
	c.mu.Lock()
	c.initTimesLocked()
	c.mu.Unlock()
	c.logger.Error().Err(err).Msg("failed to load statistics, starting from zero")
	return fmt.Errorf("load statistics: %w", err)
}

func (c *Counters) initTimesLocked() {
	now := c.now()
	if c.startedAt.IsZero() {
		c.startedAt = now
	}
	if c.installedAt.IsZero() {
		c.installedAt = now
		c.firstRun = true
	}
}

// FirstRun reports whether Load found no install marker.
func (c *Counters) FirstRun() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.firstRun
}

// InstalledAt returns the first-run time.
func (c *Counters) InstalledAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.installedAt
}

// AddRemoved increments the closed tab counter by n.
func (c *Counters) AddRemoved(n int) {
	if n <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tabsRemoved += n
}

// ObserveTabCount raises the max concurrent tab count if n exceeds it.
// It reports whether the maximum changed.
func (c *Counters) ObserveTabCount(n int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n <= c.maxConcurrent {
		return false
	}
	c.maxConcurrent = n
	return true
}

// Reset zeroes the counters and restarts the statistics period at now. The
// install time is kept.
func (c *Counters) Reset(ctx context.Context) error {
	c.mu.Lock()
	c.tabsRemoved = 0
	c.maxConcurrent = 0
	c.startedAt = c.now()
	c.mu.Unlock()

	c.logger.Info().Msg("statistics reset")
	return c.Persist(ctx)
}

func (c *Counters) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Counters) snapshotLocked() Snapshot {
	snap := Snapshot{
		TabsRemoved:   c.tabsRemoved,
		MaxConcurrent: c.maxConcurrent,
	}
	if !c.startedAt.IsZero() {
		snap.StartedAt = c.startedAt.UnixMilli()
	}
	if !c.installedAt.IsZero() {
		snap.InstalledAt = c.installedAt.UnixMilli()
	}
	return snap
}

// Persist writes all counters in one batch. A failure is logged and returned.
func (c *Counters) Persist(ctx context.Context) error {
	if c.persister == nil {
		return nil
	}
	snap := c.Snapshot()

	values := map[string]any{
		store.KeyTabsRemoved:   snap.TabsRemoved,
		store.KeyMaxConcurrent: snap.MaxConcurrent,
	}
	if snap.StartedAt > 0 {
		values[store.KeyStatsStartedAt] = snap.StartedAt
	}
	if snap.InstalledAt > 0 {
		values[store.KeyInstalledAt] = snap.InstalledAt
	}

	if err := c.persister.SetMany(ctx, values); err != nil {
		c.logger.Error().Err(err).Msg("failed to persist statistics")
		return fmt.Errorf("persist statistics: %w", err)
	}
	return nil
}
