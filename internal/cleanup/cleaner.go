// Package cleanup decides which tabs to close and closes them.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/tabcleaner/internal/activity"
	"github.com/p-blackswan/tabcleaner/internal/badge"
	"github.com/p-blackswan/tabcleaner/internal/browser"
	"github.com/p-blackswan/tabcleaner/internal/classify"
	perrors "github.com/p-blackswan/tabcleaner/internal/errors"
	"github.com/p-blackswan/tabcleaner/internal/metrics"
	"github.com/p-blackswan/tabcleaner/internal/reconcile"
	"github.com/p-blackswan/tabcleaner/internal/recovery"
	"github.com/p-blackswan/tabcleaner/internal/settings"
	"github.com/p-blackswan/tabcleaner/internal/stats"
)

// finishTimeout bounds the bookkeeping after tabs were closed. It runs even
// when the sweep's context is already done.
const finishTimeout = 10 * time.Second

// Deps are the collaborators of an Engine. Metrics is optional.
type Deps struct {
	Browser    browser.Browser
	Activity   *activity.Store
	Reconciler *reconcile.Reconciler
	Recovery   *recovery.List
	Stats      *stats.Counters
	Badge      *badge.Updater
	Metrics    *metrics.Metrics

	// Settings returns the snapshot used for one sweep.
	Settings func() settings.Settings
	// Paused reports the global pause flag.
	Paused func() bool
}

// Engine runs cleanup sweeps and manual closes.
type Engine struct {
	deps    Deps
	running atomic.Bool
	now     func() time.Time
	logger  zerolog.Logger
}

// NewEngine creates a new Engine.
func NewEngine(deps Deps, logger zerolog.Logger) *Engine {
	if deps.Paused == nil {
		deps.Paused = func() bool { return false }
	}
	if deps.Settings == nil {
		deps.Settings = settings.Defaults
	}
	return &Engine{
		deps:   deps,
		now:    time.Now,
		logger: logger.With().Str("component", "cleanup").Logger(),
	}
}

// WithClock overrides the time source.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Running reports whether a sweep is in progress.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// Sweep reconciles the activity store and closes every tab that is not
// active, not protected, tracked, and idle for longer than the threshold.
// It returns the number of tabs closed. A sweep requested while another is
// running, or while paused, does nothing.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	report, err := e.SweepReport(ctx)
	return len(report.Closed), err
}

// SweepReport is Sweep with the full outcome.
func (e *Engine) SweepReport(ctx context.Context) (SweepReport, error) {
	start := e.now()

	if e.deps.Paused() {
		e.logger.Debug().Msg("sweep skipped: paused")
		e.recordSweep(ResultPaused, start)
		return SweepReport{Result: ResultPaused}, nil
	}

	if !e.running.CompareAndSwap(false, true) {
		e.logger.Debug().Msg("sweep skipped: already running")
		e.recordSweep(ResultSkipped, start)
		return SweepReport{Result: ResultSkipped}, nil
	}
	defer e.running.Store(false)

	s := e.deps.Settings()
	threshold := s.Threshold()

	tabs, err := e.deps.Browser.Query(ctx)
	if err != nil {
		e.logger.Error().Err(err).Msg("sweep aborted: failed to query tabs")
		e.recordError("query")
		e.recordSweep(ResultError, start)
		return SweepReport{Result: ResultError}, fmt.Errorf("query tabs: %w", err)
	}

	rec := e.deps.Reconciler.Reconcile(ctx, browser.IDs(tabs))
	report := SweepReport{
		Result:  ResultOK,
		Live:    len(tabs),
		Added:   rec.Added,
		Removed: rec.Removed,
	}

	focused := e.FocusedID(ctx)
	now := e.now()
	for _, tab := range tabs {
		if ctx.Err() != nil {
			e.logger.Warn().Err(ctx.Err()).Msg("sweep interrupted")
			break
		}

		inactive, ok := e.eligible(tab, s, now, focused)
		if !ok || inactive <= threshold {
			continue
		}

		if err := e.deps.Browser.Close(ctx, tab.ID); err != nil {
			report.Failures++
			e.logCloseFailure(err, tab)
			continue
		}

		entry := e.deps.Recovery.Entry(tab, recovery.ReasonAutoClosed, inactive)
		report.Closed = append(report.Closed, entry)
		e.deps.Activity.Forget(tab.ID)

		e.logger.Info().
			Int("tab_id", tab.ID).
			Str("title", tab.Title).
			Dur("inactive", inactive).
			Msg("closing inactive tab")
	}

	e.finish(ctx, report.Closed, recovery.ReasonAutoClosed)

	e.logger.Info().
		Int("live", report.Live).
		Int("closed", len(report.Closed)).
		Int("failures", report.Failures).
		Int("added", len(report.Added)).
		Int("removed", len(report.Removed)).
		Msg("sweep completed")

	e.recordSweep(ResultOK, start)
	return report, nil
}

// eligible applies every rule except the threshold and returns the tab's
// inactive duration. Protection is derived here from the tab and settings,
// not from a display view.
func (e *Engine) eligible(tab browser.Tab, s settings.Settings, now time.Time, focused int) (time.Duration, bool) {
	if tab.ID == focused {
		return 0, false
	}
	if protected, _ := classify.Protection(tab, s); protected {
		return 0, false
	}
	return e.deps.Activity.Get(tab.ID).InactiveFor(now)
}

// FocusedID returns the focused tab of the current window, or
// classify.NoActiveTab. The active tabs of other windows do not count. When
// the browser cannot answer, the last tab that received activity is used.
func (e *Engine) FocusedID(ctx context.Context) int {
	active, ok, err := e.deps.Browser.ActiveTab(ctx)
	if err == nil {
		if ok {
			return active.ID
		}
		return classify.NoActiveTab
	}
	if id, ok := e.deps.Activity.LastFocused(); ok {
		return id
	}
	return classify.NoActiveTab
}

// CloseWithTracking closes tabID on user request. Protection rules do not
// apply. The closed tab goes through the same recovery and counter path as
// a sweep, with reason manually-closed.
func (e *Engine) CloseWithTracking(ctx context.Context, tabID int) (recovery.ClosedTab, error) {
	tab, err := e.deps.Browser.Get(ctx, tabID)
	if err != nil {
		return recovery.ClosedTab{}, fmt.Errorf("get tab %d: %w", tabID, err)
	}

	inactive, _ := e.deps.Activity.Get(tabID).InactiveFor(e.now())

	if err := e.deps.Browser.Close(ctx, tabID); err != nil {
		e.recordError("close")
		return recovery.ClosedTab{}, fmt.Errorf("close tab %d: %w", tabID, err)
	}

	entry := e.deps.Recovery.Entry(tab, recovery.ReasonManuallyClosed, inactive)
	e.deps.Activity.Forget(tabID)
	e.finish(ctx, []recovery.ClosedTab{entry}, recovery.ReasonManuallyClosed)

	e.logger.Info().Int("tab_id", tabID).Str("url", tab.URL).Msg("tab closed manually")
	return entry, nil
}

// finish records closed tabs, refreshes the badge and persists activity and
// counters once. Failures are logged; memory stays authoritative. Tabs that
// were closed are recorded even if ctx was cancelled in between.
func (e *Engine) finish(ctx context.Context, closed []recovery.ClosedTab, reason recovery.Reason) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	if len(closed) > 0 {
		if err := e.deps.Recovery.RecordAll(ctx, closed); err != nil {
			e.logger.Error().Err(err).Int("count", len(closed)).Msg("failed to record closed tabs")
			e.recordError("recovery")
		}
		e.deps.Stats.AddRemoved(len(closed))
		if e.deps.Metrics != nil {
			e.deps.Metrics.RecordClosed(string(reason), len(closed))
		}
	}

	e.RefreshBadge(ctx)

	if err := e.deps.Activity.Persist(ctx); err != nil {
		e.recordError("persist")
	}
	if err := e.deps.Stats.Persist(ctx); err != nil {
		e.recordError("persist")
	}

	if e.deps.Metrics != nil {
		e.deps.Metrics.SetTracked(e.deps.Activity.Len())
	}
}

// RefreshBadge updates the badge and the max concurrent tab counter. It
// returns the badge that was set.
func (e *Engine) RefreshBadge(ctx context.Context) badge.Badge {
	b, count, err := e.deps.Badge.Refresh(ctx, e.deps.Paused())
	if err != nil {
		e.recordError("badge")
	}
	if count >= 0 {
		e.deps.Stats.ObserveTabCount(count)
	}
	return b
}

func (e *Engine) logCloseFailure(err error, tab browser.Tab) {
	ev := e.logger.Error()
	errType := "close"
	switch {
	case errors.Is(err, perrors.ErrTabGone):
		ev = e.logger.Debug()
		errType = "tab_gone"
	case perrors.IsTransient(err):
		ev = e.logger.Warn()
	}
	ev.Err(err).Int("tab_id", tab.ID).Msg("failed to close tab, skipping")
	e.recordError(errType)
}

func (e *Engine) recordSweep(result string, start time.Time) {
	if e.deps.Metrics == nil {
		return
	}
	e.deps.Metrics.RecordSweep(result, e.now().Sub(start).Seconds())
}

func (e *Engine) recordError(errType string) {
	if e.deps.Metrics == nil {
		return
	}
	e.deps.Metrics.RecordError("cleanup", errType)
}
