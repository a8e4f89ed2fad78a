package cleanup

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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
	"github.com/p-blackswan/tabcleaner/internal/store"
)

type harness struct {
	store    *store.Store
	engine   *Engine
	browser  *browser.Memory
	activity *activity.Store
	recovery *recovery.List
	stats    *stats.Counters
	metrics  *metrics.Metrics
	settings settings.Settings
	paused   bool
	now      time.Time
}

func newHarness(t *testing.T, b browser.Browser, mem *browser.Memory) *harness {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "cleanup.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	h := &harness{
		store:    st,
		browser:  mem,
		settings: settings.Defaults(),
		metrics:  metrics.New(),
		now:      time.UnixMilli(1_700_000_000_000),
	}
	clock := func() time.Time { return h.now }

	h.activity = activity.NewStore(st, zerolog.Nop())
	h.recovery = recovery.New(st, b, h.activity, zerolog.Nop()).WithClock(clock)
	h.stats = stats.New(st, zerolog.Nop()).WithClock(clock)
	require.NoError(t, h.stats.Load(context.Background()))

	h.engine = NewEngine(Deps{
		Browser:    b,
		Activity:   h.activity,
		Reconciler: reconcile.New(h.activity, nil, zerolog.Nop()).WithClock(clock),
		Recovery:   h.recovery,
		Stats:      h.stats,
		Badge:      badge.NewUpdater(b, zerolog.Nop()),
		Metrics:    h.metrics,
		Settings:   func() settings.Settings { return h.settings },
		Paused:     func() bool { return h.paused },
	}, zerolog.Nop()).WithClock(clock)
	return h
}

func newMemHarness(t *testing.T, tabs ...browser.Tab) *harness {
	mem := browser.NewMemory(tabs...)
	return newHarness(t, mem, mem)
}

func (h *harness) idle(tabID int, d time.Duration) {
	h.activity.Touch(tabID, h.now.Add(-d))
}

func web(id int) browser.Tab {
	return browser.Tab{ID: id, WindowID: 1, Title: "page", URL: "https://example.com"}
}

func TestSweep_ClosesIdleTab(t *testing.T) {
	h := newMemHarness(t, web(1), web(2))
	h.idle(1, 31*time.Minute)
	h.idle(2, 5*time.Minute)
	ctx := context.Background()

	closed, err := h.engine.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, closed)
	assert.Equal(t, []int{1}, h.browser.Closed)

	assert.Equal(t, 1, h.stats.Snapshot().TabsRemoved)
	entries, err := h.recovery.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, recovery.ReasonAutoClosed, entries[0].Reason)
	assert.Equal(t, (31 * time.Minute).Milliseconds(), entries[0].InactiveMS)

	assert.False(t, h.activity.Get(1).IsSet())
	assert.Equal(t, []int{2}, h.activity.IDs())

	assert.Equal(t, browser.Badge{Text: "1", Color: badge.ColorNormal}, h.browser.LastBadge())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.TabsClosedTotal.WithLabelValues("auto-closed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.SweepsTotal.WithLabelValues(ResultOK)))
}

func TestSweep_BelowThresholdIsNotClosed(t *testing.T) {
	h := newMemHarness(t, web(1))
	h.idle(1, 29*time.Minute)

	closed, err := h.engine.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, closed)
	assert.Equal(t, 1, h.browser.Len())
}

func TestSweep_ThresholdIsStrict(t *testing.T) {
	h := newMemHarness(t, web(1), web(2))
	h.idle(1, 30*time.Minute)
	h.idle(2, 30*time.Minute+time.Millisecond)

	closed, err := h.engine.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, closed)
	assert.Equal(t, []int{2}, h.browser.Closed)
}

func TestSweep_ActiveTabNeverClosed(t *testing.T) {
	active := web(1)
	active.Active = true
	h := newMemHarness(t, active)
	h.idle(1, 48*time.Hour)

	closed, err := h.engine.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, closed)
}

// multiWindow reports background as the active tab of another window. The
// focused tab is still the Memory browser's active tab.
type multiWindow struct {
	*browser.Memory
	background int
}

func (b multiWindow) Query(ctx context.Context) ([]browser.Tab, error) {
	tabs, err := b.Memory.Query(ctx)
	for i := range tabs {
		if tabs[i].ID == b.background {
			tabs[i].Active = true
		}
	}
	return tabs, err
}

func TestSweep_BackgroundWindowActiveTabIsClosed(t *testing.T) {
	front := web(1)
	front.Active = true
	back := web(2)
	back.WindowID = 2
	mem := browser.NewMemory(front, back)
	h := newHarness(t, multiWindow{Memory: mem, background: 2}, mem)
	h.idle(1, 31*time.Minute)
	h.idle(2, 31*time.Minute)

	closed, err := h.engine.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, closed)
	assert.Equal(t, []int{2}, mem.Closed)
}

func TestFocusedID_FallsBackToLastFocused(t *testing.T) {
	h := newMemHarness(t, web(1), web(2))
	assert.Equal(t, classify.NoActiveTab, h.engine.FocusedID(context.Background()))

	h.activity.RecordActivity(2, h.now)
	h.browser.QueryErr = errors.New("extension gone")
	assert.Equal(t, 2, h.engine.FocusedID(context.Background()))
}

// cancelAfterClose cancels the sweep's context once the first tab is closed.
type cancelAfterClose struct {
	*browser.Memory
	cancel context.CancelFunc
}

func (b cancelAfterClose) Close(ctx context.Context, id int) error {
	err := b.Memory.Close(ctx, id)
	b.cancel()
	return err
}

func TestSweep_CancelledMidSweepStillRecords(t *testing.T) {
	mem := browser.NewMemory(web(1), web(2), web(3))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t, cancelAfterClose{Memory: mem, cancel: cancel}, mem)
	for _, id := range []int{1, 2, 3} {
		h.idle(id, time.Hour)
	}

	report, err := h.engine.SweepReport(ctx)
	require.NoError(t, err)
	require.Len(t, report.Closed, 1)
	assert.Equal(t, []int{1}, mem.Closed)

	entries, err := h.recovery.List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].TabID)

	reloaded := stats.New(h.store, zerolog.Nop())
	require.NoError(t, reloaded.Load(context.Background()))
	assert.Equal(t, 1, reloaded.Snapshot().TabsRemoved)
}

func TestSweep_ProtectionPrecedence(t *testing.T) {
	pinned := web(1)
	pinned.Pinned = true
	audible := web(2)
	audible.Audible = true
	special := browser.Tab{ID: 3, URL: "chrome://settings"}

	h := newMemHarness(t, pinned, audible, special)
	for _, id := range []int{1, 2, 3} {
		h.idle(id, 365*24*time.Hour)
	}

	closed, err := h.engine.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, closed)

	// With the ignore flags off only the special page survives.
	h.settings.IgnorePinned = false
	h.settings.IgnoreAudible = false
	closed, err = h.engine.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, closed)
	assert.ElementsMatch(t, []int{1, 2}, h.browser.Closed)
}

func TestSweep_NewTabsSurviveFirstSweep(t *testing.T) {
	h := newMemHarness(t, web(1), web(2))

	closed, err := h.engine.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, closed)
	assert.Equal(t, activity.Discovered, h.activity.Get(1).Kind())

	h.now = h.now.Add(31 * time.Minute)
	closed, err = h.engine.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, closed)
}

func TestEligible_UnsetNeverEligible(t *testing.T) {
	h := newMemHarness(t)
	_, ok := h.engine.eligible(web(5), h.settings, h.now, classify.NoActiveTab)
	assert.False(t, ok)
}

func TestSweep_Paused(t *testing.T) {
	h := newMemHarness(t, web(1))
	h.idle(1, time.Hour)
	h.paused = true

	closed, err := h.engine.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, closed)
	assert.Equal(t, 1, h.browser.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.SweepsTotal.WithLabelValues(ResultPaused)))
}

func TestSweep_CloseFailureIsSkipped(t *testing.T) {
	h := newMemHarness(t, web(1), web(2), web(3))
	for _, id := range []int{1, 2, 3} {
		h.idle(id, time.Hour)
	}
	h.browser.CloseErr[2] = perrors.ErrTabGone
	h.browser.CloseErr[3] = errors.New("permission race")

	report, err := h.engine.SweepReport(context.Background())
	require.NoError(t, err)
	assert.Len(t, report.Closed, 1)
	assert.Equal(t, 2, report.Failures)
	assert.Equal(t, 1, h.stats.Snapshot().TabsRemoved)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.ErrorsTotal.WithLabelValues("cleanup", "tab_gone")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.ErrorsTotal.WithLabelValues("cleanup", "close")))
}

func TestSweep_QueryFailure(t *testing.T) {
	h := newMemHarness(t, web(1))
	h.browser.QueryErr = errors.New("extension gone")

	closed, err := h.engine.Sweep(context.Background())
	assert.Error(t, err)
	assert.Zero(t, closed)
}

func TestSweep_ReconcilesBeforeDeciding(t *testing.T) {
	h := newMemHarness(t, web(1))
	h.idle(99, time.Hour) // a tab that no longer exists

	report, err := h.engine.SweepReport(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{99}, report.Removed)
	assert.Equal(t, []int{1}, report.Added)
	assert.Equal(t, []int{1}, h.activity.IDs())
}

func TestSweep_PersistsState(t *testing.T) {
	h := newMemHarness(t, web(1), web(2))
	h.idle(1, time.Hour)
	h.idle(2, time.Hour)

	_, err := h.engine.Sweep(context.Background())
	require.NoError(t, err)

	restored := activity.NewStore(h.store, zerolog.Nop())
	require.NoError(t, restored.Restore(context.Background()))
	assert.Zero(t, restored.Len())
	assert.False(t, h.activity.SavedAt().IsZero())

	reloaded := stats.New(h.store, zerolog.Nop())
	require.NoError(t, reloaded.Load(context.Background()))
	assert.Equal(t, 2, reloaded.Snapshot().TabsRemoved)
}

func TestSweep_ObservesMaxConcurrent(t *testing.T) {
	h := newMemHarness(t, web(1), web(2), web(3))

	_, err := h.engine.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, h.stats.Snapshot().MaxConcurrent)
}

// blockingBrowser blocks Query until released so a second sweep can be
// started while the first is in flight.
type blockingBrowser struct {
	*browser.Memory
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingBrowser) Query(ctx context.Context) ([]browser.Tab, error) {
	b.once.Do(func() {
		close(b.entered)
		<-b.release
	})
	return b.Memory.Query(ctx)
}

func TestSweep_NotReentrant(t *testing.T) {
	mem := browser.NewMemory(web(1))
	bb := &blockingBrowser{Memory: mem, entered: make(chan struct{}), release: make(chan struct{})}
	h := newHarness(t, bb, mem)
	h.idle(1, time.Hour)

	done := make(chan int)
	go func() {
		n, _ := h.engine.Sweep(context.Background())
		done <- n
	}()

	<-bb.entered
	assert.True(t, h.engine.Running())
	report, err := h.engine.SweepReport(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ResultSkipped, report.Result)

	close(bb.release)
	assert.Equal(t, 1, <-done)
	assert.False(t, h.engine.Running())
	assert.Equal(t, []int{1}, mem.Closed)
}

func TestCloseWithTracking_BypassesPinProtection(t *testing.T) {
	pinned := web(7)
	pinned.Pinned = true
	h := newMemHarness(t, pinned)
	h.idle(7, 3*time.Minute)
	ctx := context.Background()

	entry, err := h.engine.CloseWithTracking(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, recovery.ReasonManuallyClosed, entry.Reason)
	assert.Equal(t, (3 * time.Minute).Milliseconds(), entry.InactiveMS)
	assert.Equal(t, []int{7}, h.browser.Closed)

	entries, err := h.recovery.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, recovery.ReasonManuallyClosed, entries[0].Reason)
	assert.Equal(t, 1, h.stats.Snapshot().TabsRemoved)
	assert.False(t, h.activity.Get(7).IsSet())
}

func TestCloseWithTracking_WorksWhilePaused(t *testing.T) {
	h := newMemHarness(t, web(1))
	h.paused = true

	_, err := h.engine.CloseWithTracking(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, badge.ColorPaused, h.browser.LastBadge().Color)
}

func TestCloseWithTracking_UnknownTab(t *testing.T) {
	h := newMemHarness(t)

	_, err := h.engine.CloseWithTracking(context.Background(), 404)
	assert.ErrorIs(t, err, perrors.ErrTabGone)
	assert.Zero(t, h.stats.Snapshot().TabsRemoved)
}
