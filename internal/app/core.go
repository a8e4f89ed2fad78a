// Package app owns the process-wide tab cleaner state and routes browser
// events, timer ticks and UI messages to the core components.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/tabcleaner/internal/activity"
	"github.com/p-blackswan/tabcleaner/internal/badge"
	"github.com/p-blackswan/tabcleaner/internal/browser"
	"github.com/p-blackswan/tabcleaner/internal/cleanup"
	"github.com/p-blackswan/tabcleaner/internal/config"
	"github.com/p-blackswan/tabcleaner/internal/metrics"
	"github.com/p-blackswan/tabcleaner/internal/reconcile"
	"github.com/p-blackswan/tabcleaner/internal/recovery"
	"github.com/p-blackswan/tabcleaner/internal/scheduler"
	"github.com/p-blackswan/tabcleaner/internal/settings"
	"github.com/p-blackswan/tabcleaner/internal/stats"
	"github.com/p-blackswan/tabcleaner/internal/store"
)

// DefaultKeepaliveInterval matches the host's idle worker timeout.
const DefaultKeepaliveInterval = 4 * time.Minute

// fireTimeout bounds the work done for one timer tick.
const fireTimeout = 2 * time.Minute

// Options configure a Core.
type Options struct {
	Browser   browser.Browser
	Store     *store.Store
	Scheduler scheduler.Scheduler
	Metrics   *metrics.Metrics // optional

	// Settings is the initial settings snapshot.
	Settings settings.Settings
	// SettingsPath, when set, is where UpdateSettings writes the synced file.
	SettingsPath string

	KeepaliveInterval time.Duration
	DiscoveryPolicy   string
	DiscoveryClamp    time.Duration

	// Now overrides the clock of every component. Defaults to time.Now.
	Now func() time.Time
}

// Core is the application state: activity, counters, settings and the pause
// flag, plus the components that act on them.
type Core struct {
	opts   Options
	ctx    context.Context
	now    func() time.Time
	logger zerolog.Logger

	activity   *activity.Store
	reconciler *reconcile.Reconciler
	recovery   *recovery.List
	stats      *stats.Counters
	badge      *badge.Updater
	engine     *cleanup.Engine
	sched      scheduler.Scheduler
	handlers   map[browser.EventKind]EventHandler

	mu       sync.RWMutex
	settings settings.Settings
	paused   bool
}

// New builds a Core and loads the counters and the pause flag. ctx bounds
// the work started by timer ticks.
func New(ctx context.Context, opts Options, logger zerolog.Logger) (*Core, error) {
	if opts.Browser == nil {
		return nil, fmt.Errorf("app: browser is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("app: store is required")
	}
	if opts.Scheduler == nil {
		return nil, fmt.Errorf("app: scheduler is required")
	}
	if opts.KeepaliveInterval <= 0 {
		opts.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if opts.DiscoveryPolicy == "" {
		opts.DiscoveryPolicy = config.DiscoveryNow
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	c := &Core{
		opts:     opts,
		ctx:      ctx,
		now:      now,
		logger:   logger.With().Str("component", "app").Logger(),
		sched:    opts.Scheduler,
		settings: opts.Settings.Normalize(),
		handlers: defaultHandlers(),
	}

	c.stats = stats.New(opts.Store, logger).WithClock(now)
	if err := c.stats.Load(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("statistics unavailable, starting from zero")
	}
	if c.stats.FirstRun() {
		c.logger.Info().Time("installed_at", c.stats.InstalledAt()).Msg("first run")
	}

	if _, err := opts.Store.Get(ctx, store.KeyPaused, &c.paused); err != nil {
		c.logger.Warn().Err(err).Msg("failed to load pause flag, assuming running")
		c.paused = false
	}

	c.activity = activity.NewStore(opts.Store, logger).WithClock(now)
	c.reconciler = reconcile.New(c.activity, c.estimator(), logger).WithClock(now)
	c.recovery = recovery.New(opts.Store, opts.Browser, c.activity, logger).WithClock(now)
	c.badge = badge.NewUpdater(opts.Browser, logger)
	c.engine = cleanup.NewEngine(cleanup.Deps{
		Browser:    opts.Browser,
		Activity:   c.activity,
		Reconciler: c.reconciler,
		Recovery:   c.recovery,
		Stats:      c.stats,
		Badge:      c.badge,
		Metrics:    opts.Metrics,
		Settings:   c.Settings,
		Paused:     c.Paused,
	}, logger).WithClock(now)

	c.sched.OnFire(func(id string) { c.Fire(c.ctx, id) })

	c.logger.Info().
		Str("discovery_policy", c.reconciler.Estimator().Name()).
		Bool("paused", c.paused).
		Int("inactive_minutes", c.settings.InactiveTimeMinutes).
		Int("interval_minutes", c.settings.CheckIntervalMinutes).
		Msg("core created")
	return c, nil
}

// estimator picks the discovery policy once for the life of the process.
func (c *Core) estimator() reconcile.Estimator {
	if c.opts.DiscoveryPolicy == config.DiscoveryInstallClamped {
		return reconcile.InstallClampedEstimator{
			InstalledAt: c.stats.InstalledAt(),
			Clamp:       c.opts.DiscoveryClamp,
			Threshold:   func() time.Duration { return c.Settings().Threshold() },
		}
	}
	return reconcile.NowEstimator{}
}

// Init restores persisted activity, then resyncs with the browser.
func (c *Core) Init(ctx context.Context) error {
	if err := c.activity.Restore(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("activity not restored, all tabs count as new")
	}
	return c.Resync(ctx)
}

// Resync reconciles against the live tab set, (re)creates both timers and
// refreshes the badge. A browser that cannot be queried leaves the store as
// it is; the next sweep reconciles again.
func (c *Core) Resync(ctx context.Context) error {
	if err := c.schedule(); err != nil {
		return err
	}
	if err := c.sched.Schedule(scheduler.JobKeepalive, c.opts.KeepaliveInterval); err != nil {
		return fmt.Errorf("schedule keepalive: %w", err)
	}

	tabs, err := c.opts.Browser.Query(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("resync: cannot query tabs, keeping restored activity")
		return nil
	}
	res := c.reconciler.Reconcile(ctx, browser.IDs(tabs))
	if active, ok, err := c.opts.Browser.ActiveTab(ctx); err == nil && ok {
		c.activity.RecordActivity(active.ID, c.now())
	}
	c.engine.RefreshBadge(ctx)
	c.persist(ctx)

	c.logger.Info().
		Int("live", len(tabs)).
		Int("added", len(res.Added)).
		Int("removed", len(res.Removed)).
		Msg("resynced with browser")
	return nil
}

// schedule clears the cleanup timer and recreates it at the current interval.
func (c *Core) schedule() error {
	interval := c.Settings().Interval()
	c.sched.Cancel(scheduler.JobCleanup)
	if err := c.sched.Schedule(scheduler.JobCleanup, interval); err != nil {
		return fmt.Errorf("schedule cleanup: %w", err)
	}
	c.logger.Debug().Dur("interval", interval).Msg("cleanup timer scheduled")
	return nil
}

// Fire handles a timer tick.
func (c *Core) Fire(ctx context.Context, id string) {
	ctx, cancel := context.WithTimeout(ctx, fireTimeout)
	defer cancel()

	switch id {
	case scheduler.JobCleanup:
		if _, err := c.engine.Sweep(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("scheduled sweep failed")
		}
	case scheduler.JobKeepalive:
		if err := c.opts.Browser.Keepalive(ctx); err != nil {
			c.logger.Debug().Err(err).Msg("keepalive not delivered")
		}
		c.recordDBSize()
	default:
		c.logger.Warn().Str("job", id).Msg("unknown job fired")
	}
}

// Sweep runs one cleanup sweep now.
func (c *Core) Sweep(ctx context.Context) (cleanup.SweepReport, error) {
	return c.engine.SweepReport(ctx)
}

// Settings returns the current settings snapshot.
func (c *Core) Settings() settings.Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings
}

// Paused reports the global pause flag.
func (c *Core) Paused() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.paused
}

// Activity exposes the activity store.
func (c *Core) Activity() *activity.Store { return c.activity }

// Persist writes activity and counters. Failures are logged.
func (c *Core) Persist(ctx context.Context) error {
	var firstErr error
	if err := c.activity.Persist(ctx); err != nil {
		firstErr = err
	}
	if err := c.stats.Persist(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (c *Core) persist(ctx context.Context) {
	if err := c.Persist(ctx); err != nil {
		c.recordError("persist")
	}
	if c.opts.Metrics != nil {
		c.opts.Metrics.SetTracked(c.activity.Len())
	}
}

// Close stops both timers and persists the final state.
func (c *Core) Close(ctx context.Context) error {
	c.sched.Cancel(scheduler.JobCleanup)
	c.sched.Cancel(scheduler.JobKeepalive)
	err := c.Persist(ctx)
	c.logger.Info().Msg("core closed")
	return err
}

func (c *Core) recordDBSize() {
	if c.opts.Metrics == nil {
		return
	}
	size, err := c.opts.Store.DBSizeBytes()
	if err != nil {
		c.logger.Debug().Err(err).Msg("failed to read database size")
		return
	}
	c.opts.Metrics.SetDBSize(size)
}

func (c *Core) recordError(errType string) {
	if c.opts.Metrics != nil {
		c.opts.Metrics.RecordError("app", errType)
	}
}
