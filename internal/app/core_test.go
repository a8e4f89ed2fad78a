package app

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/tabcleaner/internal/badge"
	"github.com/p-blackswan/tabcleaner/internal/browser"
	"github.com/p-blackswan/tabcleaner/internal/classify"
	"github.com/p-blackswan/tabcleaner/internal/config"
	perrors "github.com/p-blackswan/tabcleaner/internal/errors"
	"github.com/p-blackswan/tabcleaner/internal/metrics"
	"github.com/p-blackswan/tabcleaner/internal/recovery"
	"github.com/p-blackswan/tabcleaner/internal/scheduler"
	"github.com/p-blackswan/tabcleaner/internal/settings"
	"github.com/p-blackswan/tabcleaner/internal/store"
)

type fixture struct {
	t        *testing.T
	core     *Core
	browser  *browser.Memory
	host     browser.Browser
	sched    *scheduler.Manual
	store    *store.Store
	dir      string
	now      time.Time
	policy   string
	settings settings.Settings
}

func newFixture(t *testing.T, tabs ...browser.Tab) *fixture {
	t.Helper()
	dir := t.TempDir()
	st, err := store.New(filepath.Join(dir, "app.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	f := &fixture{
		t:        t,
		browser:  browser.NewMemory(tabs...),
		store:    st,
		dir:      dir,
		now:      time.UnixMilli(1_700_000_000_000),
		policy:   config.DiscoveryNow,
		settings: settings.Defaults(),
	}
	f.core = f.build()
	return f
}

// build creates a Core over the fixture's browser and store, as a restarted
// process would.
func (f *fixture) build() *Core {
	f.t.Helper()
	f.sched = scheduler.NewManual()
	var host browser.Browser = f.browser
	if f.host != nil {
		host = f.host
	}
	c, err := New(context.Background(), Options{
		Browser:         host,
		Store:           f.store,
		Scheduler:       f.sched,
		Metrics:         metrics.New(),
		Settings:        f.settings,
		SettingsPath:    filepath.Join(f.dir, "settings.yaml"),
		DiscoveryPolicy: f.policy,
		DiscoveryClamp:  10 * time.Minute,
		Now:             func() time.Time { return f.now },
	}, zerolog.Nop())
	require.NoError(f.t, err)
	return c
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func (f *fixture) init() {
	f.t.Helper()
	require.NoError(f.t, f.core.Init(context.Background()))
}

func web(id int) browser.Tab {
	return browser.Tab{ID: id, WindowID: 1, Title: "page", URL: "https://example.com"}
}

func focused(t browser.Tab) browser.Tab {
	t.Active = true
	return t
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(context.Background(), Options{}, zerolog.Nop())
	assert.Error(t, err)
}

func TestInit_SchedulesBothJobs(t *testing.T) {
	f := newFixture(t, focused(web(1)), web(2))
	f.init()

	assert.Equal(t, map[string]time.Duration{
		scheduler.JobCleanup:   5 * time.Minute,
		scheduler.JobKeepalive: 4 * time.Minute,
	}, f.sched.Active())
	assert.Equal(t, []int{1, 2}, f.core.Activity().IDs())

	id, ok := f.core.Activity().LastFocused()
	require.True(t, ok)
	assert.Equal(t, 1, id)
	assert.Equal(t, "2", f.browser.LastBadge().Text)
}

func TestInit_BrowserUnavailableKeepsRestoredState(t *testing.T) {
	f := newFixture(t, web(1))
	f.init()
	require.NoError(t, f.core.Persist(context.Background()))

	f.browser.QueryErr = perrors.ErrNotConnected
	f.core = f.build()
	f.init()

	assert.Equal(t, []int{1}, f.core.Activity().IDs())
	assert.Contains(t, f.sched.Active(), scheduler.JobCleanup)
}

func TestUpdateSettings_ReplacesTimer(t *testing.T) {
	f := newFixture(t, web(1))
	f.init()
	require.Equal(t, 5*time.Minute, f.sched.Active()[scheduler.JobCleanup])

	s := settings.Defaults()
	s.CheckIntervalMinutes = 10
	require.NoError(t, f.core.UpdateSettings(context.Background(), s))

	active := f.sched.Active()
	assert.Len(t, active, 2)
	assert.Equal(t, 10*time.Minute, active[scheduler.JobCleanup])
	assert.Equal(t, 10, f.core.Settings().CheckIntervalMinutes)

	saved, err := settings.Load(filepath.Join(f.dir, "settings.yaml"))
	require.NoError(t, err)
	assert.Equal(t, s, saved)
}

func TestUpdateSettings_InvalidFieldsFallBack(t *testing.T) {
	f := newFixture(t)
	f.init()

	err := f.core.UpdateSettings(context.Background(), settings.Settings{
		InactiveTimeMinutes:  -3,
		CheckIntervalMinutes: 0,
		IgnorePinned:         false,
	})
	require.NoError(t, err)

	s := f.core.Settings()
	assert.Equal(t, settings.DefaultInactiveTimeMinutes, s.InactiveTimeMinutes)
	assert.Equal(t, settings.DefaultCheckIntervalMinutes, s.CheckIntervalMinutes)
	assert.False(t, s.IgnorePinned)
}

func TestApplySettings_SameIntervalKeepsTimer(t *testing.T) {
	f := newFixture(t)
	f.init()
	before := f.sched.Scheduled(scheduler.JobCleanup)

	s := settings.Defaults()
	s.InactiveTimeMinutes = 60
	f.core.ApplySettings(s)
	assert.Equal(t, before, f.sched.Scheduled(scheduler.JobCleanup))
	assert.Equal(t, 60, f.core.Settings().InactiveTimeMinutes)

	s.CheckIntervalMinutes = 15
	f.core.ApplySettings(s)
	assert.Equal(t, before+1, f.sched.Scheduled(scheduler.JobCleanup))
	assert.Equal(t, 15*time.Minute, f.sched.Active()[scheduler.JobCleanup])
}

func TestFire_CleanupClosesIdleTabs(t *testing.T) {
	f := newFixture(t, focused(web(1)), web(2))
	f.init()

	f.advance(29 * time.Minute)
	require.True(t, f.sched.Fire(scheduler.JobCleanup))
	assert.Empty(t, f.browser.Closed)

	f.advance(2 * time.Minute)
	require.True(t, f.sched.Fire(scheduler.JobCleanup))
	assert.Equal(t, []int{2}, f.browser.Closed)

	closed, err := f.core.RecentlyClosed(context.Background())
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, recovery.ReasonAutoClosed, closed[0].Reason)
	assert.Equal(t, 1, f.core.Statistics(context.Background()).TabsRemoved)
}

func TestFire_Keepalive(t *testing.T) {
	f := newFixture(t)
	f.init()

	require.True(t, f.sched.Fire(scheduler.JobKeepalive))
	assert.Equal(t, 1, f.browser.Keepalives)
}

func TestClose_CancelsTimers(t *testing.T) {
	f := newFixture(t, web(1))
	f.init()

	require.NoError(t, f.core.Close(context.Background()))
	assert.Empty(t, f.sched.Active())
	assert.False(t, f.sched.Fire(scheduler.JobCleanup))
}

func TestSetPaused_StopsSweepsAndPersists(t *testing.T) {
	f := newFixture(t, focused(web(1)), web(2))
	f.init()

	require.NoError(t, f.core.SetPaused(context.Background(), true))
	assert.Equal(t, badge.ColorPaused, f.browser.LastBadge().Color)

	f.advance(2 * time.Hour)
	f.sched.Fire(scheduler.JobCleanup)
	assert.Empty(t, f.browser.Closed)

	restarted := f.build()
	assert.True(t, restarted.Paused())

	require.NoError(t, restarted.SetPaused(context.Background(), false))
	assert.Equal(t, badge.ColorNormal, f.browser.LastBadge().Color)
}

func TestEvents_ActivatedRecordsFocus(t *testing.T) {
	f := newFixture(t, focused(web(1)), web(2))
	f.init()

	f.advance(10 * time.Minute)
	f.core.HandleEvent(context.Background(), browser.Event{Kind: browser.EventTabActivated, TabID: 2, At: f.now})

	id, ok := f.core.Activity().LastFocused()
	require.True(t, ok)
	assert.Equal(t, 2, id)
	assert.Equal(t, f.now, f.core.Activity().Get(2).Time())
}

func TestEvents_UpdatedOnlyCountsFocusedTab(t *testing.T) {
	f := newFixture(t, focused(web(1)), web(2))
	f.init()
	start := f.now

	f.advance(5 * time.Minute)
	ctx := context.Background()

	// Background tab finishing a load is not activity.
	f.core.HandleEvent(ctx, browser.Event{Kind: browser.EventTabUpdated, TabID: 2, Status: browser.StatusComplete})
	assert.Equal(t, start, f.core.Activity().Get(2).Time())

	// A loading status on the focused tab is not activity either.
	f.core.HandleEvent(ctx, browser.Event{Kind: browser.EventTabUpdated, TabID: 1, Status: "loading"})
	assert.Equal(t, start, f.core.Activity().Get(1).Time())

	f.core.HandleEvent(ctx, browser.Event{Kind: browser.EventTabUpdated, TabID: 1, URL: "https://example.org"})
	assert.Equal(t, f.now, f.core.Activity().Get(1).Time())

	f.advance(time.Minute)
	f.browser.Activate(2)
	tab := web(2)
	tab.Active = true
	f.core.HandleEvent(ctx, browser.Event{Kind: browser.EventTabUpdated, TabID: 2, Status: browser.StatusComplete, Tab: &tab})
	assert.Equal(t, f.now, f.core.Activity().Get(2).Time())
}

// otherWindow reports background as the active tab of a second window.
type otherWindow struct {
	*browser.Memory
	background int
}

func (b otherWindow) Query(ctx context.Context) ([]browser.Tab, error) {
	tabs, err := b.Memory.Query(ctx)
	for i := range tabs {
		if tabs[i].ID == b.background {
			tabs[i].Active = true
		}
	}
	return tabs, err
}

func TestBackgroundWindowActiveTab_DisplayAndSweepAgree(t *testing.T) {
	back := web(2)
	back.WindowID = 2
	f := newFixture(t, focused(web(1)), back)
	f.host = otherWindow{Memory: f.browser, background: 2}
	f.core = f.build()
	f.init()
	ctx := context.Background()

	f.advance(10 * time.Minute)
	bg := back
	bg.Active = true
	f.core.HandleEvent(ctx, browser.Event{Kind: browser.EventTabUpdated, TabID: 2, Status: browser.StatusComplete, Tab: &bg})
	id, ok := f.core.Activity().LastFocused()
	require.True(t, ok)
	assert.Equal(t, 1, id, "a background window load does not move focus")

	f.advance(21 * time.Minute)
	views, err := f.core.TabsData(ctx, classify.ByStatusPriority)
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, 2, views[0].ID)
	assert.Equal(t, classify.StatusDanger, views[0].Status)

	report, err := f.core.Sweep(ctx)
	require.NoError(t, err)
	require.Len(t, report.Closed, 1)
	assert.Equal(t, 2, report.Closed[0].TabID)
	assert.Equal(t, []int{2}, f.browser.Closed)
}

func TestEvents_CreatedAndRemoved(t *testing.T) {
	f := newFixture(t, focused(web(1)))
	f.init()
	ctx := context.Background()

	f.browser.Add(web(7))
	f.core.HandleEvent(ctx, browser.Event{Kind: browser.EventTabCreated, TabID: 7})
	assert.True(t, f.core.Activity().Get(7).IsSet())
	assert.Equal(t, "2", f.browser.LastBadge().Text)

	f.browser.Remove(7)
	f.core.HandleEvent(ctx, browser.Event{Kind: browser.EventTabRemoved, TabID: 7})
	assert.False(t, f.core.Activity().Get(7).IsSet())
	assert.Equal(t, "1", f.browser.LastBadge().Text)
}

func TestEvents_StartupResyncs(t *testing.T) {
	f := newFixture(t, web(1), web(2))
	f.init()

	f.browser.Remove(1)
	f.browser.Add(web(9))
	f.core.HandleEvent(context.Background(), browser.Event{Kind: browser.EventStartup})

	assert.Equal(t, []int{2, 9}, f.core.Activity().IDs())
}

func TestEvents_UnknownKindIgnored(t *testing.T) {
	f := newFixture(t, web(1))
	f.init()

	f.core.HandleEvent(context.Background(), browser.Event{Kind: "tab.moved", TabID: 1})
	assert.Equal(t, []int{1}, f.core.Activity().IDs())
}

func TestTabsData_FocusedTabIsCurrentlyActive(t *testing.T) {
	f := newFixture(t, focused(web(1)), web(2))
	f.init()

	f.advance(25 * time.Minute)
	views, err := f.core.TabsData(context.Background(), classify.ByStatusPriority)
	require.NoError(t, err)
	require.Len(t, views, 2)

	assert.Equal(t, 2, views[0].ID)
	assert.Equal(t, classify.StatusWarning, views[0].Status)
	assert.Equal(t, 1, views[1].ID)
	assert.Equal(t, classify.StatusSafe, views[1].Status)
	assert.Equal(t, "Currently Active", views[1].StatusText)
}

func TestTabsData_QueryFailure(t *testing.T) {
	f := newFixture(t, web(1))
	f.browser.QueryErr = perrors.ErrNotConnected

	_, err := f.core.TabsData(context.Background(), classify.ByStatusPriority)
	assert.ErrorIs(t, err, perrors.ErrNotConnected)
}

func TestReopen_RoundTrip(t *testing.T) {
	pinned := web(2)
	pinned.Pinned = true
	f := newFixture(t, focused(web(1)), pinned)
	f.init()
	ctx := context.Background()

	entry, err := f.core.CloseWithTracking(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, recovery.ReasonManuallyClosed, entry.Reason)

	res, err := f.core.ReopenResult(ctx, entry.ID)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.NotNil(t, res.NewTab)
	assert.Equal(t, pinned.URL, res.NewTab.URL)
	assert.True(t, f.core.Activity().Get(res.NewTab.ID).IsSet())

	list, err := f.core.RecentlyClosed(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestReopen_UnknownID(t *testing.T) {
	f := newFixture(t)
	f.init()

	res, err := f.core.ReopenResult(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, perrors.ErrNotFound)
	assert.False(t, res.Success)
	assert.Nil(t, res.NewTab)
	assert.Equal(t, "Tab not found in recently closed list", res.Error)
}

func TestStatistics_AndReset(t *testing.T) {
	f := newFixture(t, focused(web(1)), web(2), web(3))
	f.init()
	ctx := context.Background()

	_, err := f.core.CloseWithTracking(ctx, 3)
	require.NoError(t, err)

	st := f.core.Statistics(ctx)
	assert.Equal(t, 1, st.TabsRemoved)
	assert.Equal(t, 3, st.MaxConcurrent)
	assert.Equal(t, 2, st.CurrentTabs)
	assert.Equal(t, 2, st.TrackedTabs)

	f.advance(time.Hour)
	st, err = f.core.ResetStatistics(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.TabsRemoved)
	assert.Equal(t, 2, st.MaxConcurrent)
	assert.Equal(t, f.now.UnixMilli(), st.StartedAt)
}

func TestDiscoveryPolicy_FixedAtConstruction(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, "now", f.core.reconciler.Estimator().Name())

	f.policy = config.DiscoveryInstallClamped
	c := f.build()
	assert.Equal(t, "install-clamped", c.reconciler.Estimator().Name())
}

func dispatch(t *testing.T, c *Core, raw string) (any, error) {
	t.Helper()
	var msg Message
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))
	return c.Dispatch(context.Background(), msg)
}

func TestDispatch_Ping(t *testing.T) {
	f := newFixture(t)
	out, err := dispatch(t, f.core, `{"action":"ping"}`)
	require.NoError(t, err)
	assert.Equal(t, Pong{Action: "pong", Timestamp: f.now.UnixMilli()}, out)
}

func TestDispatch_UnknownAction(t *testing.T) {
	f := newFixture(t)
	_, err := dispatch(t, f.core, `{"action":"explode"}`)
	assert.ErrorIs(t, err, perrors.ErrInvalidInput)
}

func TestDispatch_UpdateSettings(t *testing.T) {
	f := newFixture(t)
	f.init()

	out, err := dispatch(t, f.core, `{"action":"updateSettings","settings":{"inactiveTime":45,"checkInterval":10,"ignorePinned":true,"ignoreAudible":false}}`)
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.Equal(t, 10*time.Minute, f.sched.Active()[scheduler.JobCleanup])
	assert.Equal(t, 45, f.core.Settings().InactiveTimeMinutes)

	_, err = dispatch(t, f.core, `{"action":"updateSettings"}`)
	assert.ErrorIs(t, err, perrors.ErrInvalidInput)
}

func TestDispatch_PartialSettingsKeepProtection(t *testing.T) {
	pinned := web(2)
	pinned.Pinned = true
	f := newFixture(t, focused(web(1)), pinned)
	f.init()

	_, err := dispatch(t, f.core, `{"action":"updateSettings","settings":{"inactiveTime":60}}`)
	require.NoError(t, err)

	s := f.core.Settings()
	assert.Equal(t, 60, s.InactiveTimeMinutes)
	assert.Equal(t, settings.DefaultCheckIntervalMinutes, s.CheckIntervalMinutes)
	assert.True(t, s.IgnorePinned)
	assert.True(t, s.IgnoreAudible)

	f.advance(2 * time.Hour)
	_, err = f.core.Sweep(context.Background())
	require.NoError(t, err)
	assert.Empty(t, f.browser.Closed)
}

func TestDispatch_ReopenAcceptsStringID(t *testing.T) {
	f := newFixture(t)
	f.init()

	out, err := dispatch(t, f.core, `{"action":"reopenTab","tabId":"missing"}`)
	require.NoError(t, err)
	res, ok := out.(ReopenResult)
	require.True(t, ok)
	assert.False(t, res.Success)

	out, err = dispatch(t, f.core, `{"action":"reopenTab"}`)
	require.NoError(t, err)
	assert.False(t, out.(ReopenResult).Success)
}

func TestDispatch_CloseAndList(t *testing.T) {
	f := newFixture(t, focused(web(1)), web(2))
	f.init()

	out, err := dispatch(t, f.core, `{"action":"closeTabWithTracking","tabId":2}`)
	require.NoError(t, err)
	res := out.(CloseResult)
	assert.True(t, res.Success)
	require.NotNil(t, res.Result)
	assert.Equal(t, 2, res.Result.TabID)

	out, err = dispatch(t, f.core, `{"action":"getRecentlyClosedTabs"}`)
	require.NoError(t, err)
	assert.Len(t, out.(RecentlyClosed).Tabs, 1)

	_, err = dispatch(t, f.core, `{"action":"closeTabWithTracking","tabId":"x"}`)
	assert.ErrorIs(t, err, perrors.ErrInvalidInput)
}

func TestDispatch_PauseAndBadge(t *testing.T) {
	f := newFixture(t, web(1))
	f.init()

	_, err := dispatch(t, f.core, `{"action":"pauseStateChanged","paused":true}`)
	require.NoError(t, err)
	assert.True(t, f.core.Paused())

	out, err := dispatch(t, f.core, `{"action":"updateBadge"}`)
	require.NoError(t, err)
	assert.Equal(t, badge.Badge{Text: "1", Color: badge.ColorPaused}, out)

	_, err = dispatch(t, f.core, `{"action":"pauseStateChanged"}`)
	assert.ErrorIs(t, err, perrors.ErrInvalidInput)
}

func TestDispatch_TabsDataOrdering(t *testing.T) {
	pinned := web(3)
	pinned.Pinned = true
	f := newFixture(t, focused(web(1)), web(2), pinned)
	f.init()

	out, err := dispatch(t, f.core, `{"action":"getTabsData","order":"pinned"}`)
	require.NoError(t, err)
	views := out.(TabsData).Tabs
	require.Len(t, views, 3)
	assert.Equal(t, 3, views[0].ID)

	_, err = dispatch(t, f.core, `{"action":"getTabsData","order":"random"}`)
	assert.ErrorIs(t, err, perrors.ErrInvalidInput)
}
