package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/p-blackswan/tabcleaner/internal/badge"
	"github.com/p-blackswan/tabcleaner/internal/browser"
	"github.com/p-blackswan/tabcleaner/internal/classify"
	perrors "github.com/p-blackswan/tabcleaner/internal/errors"
	"github.com/p-blackswan/tabcleaner/internal/recovery"
	"github.com/p-blackswan/tabcleaner/internal/settings"
	"github.com/p-blackswan/tabcleaner/internal/stats"
	"github.com/p-blackswan/tabcleaner/internal/store"
)

// Message actions accepted by Dispatch.
const (
	ActionUpdateSettings       = "updateSettings"
	ActionGetTabsData          = "getTabsData"
	ActionGetRecentlyClosed    = "getRecentlyClosedTabs"
	ActionReopenTab            = "reopenTab"
	ActionCloseTabWithTracking = "closeTabWithTracking"
	ActionPauseStateChanged    = "pauseStateChanged"
	ActionUpdateBadge          = "updateBadge"
	ActionPing                 = "ping"
	ActionGetStatistics        = "getStatistics"
	ActionResetStatistics      = "resetStatistics"
	ActionSweepNow             = "sweepNow"
)

// Message is a request from a UI collaborator. TabID is a closed-tab id for
// reopenTab and a live tab id for closeTabWithTracking.
type Message struct {
	Action   string             `json:"action"`
	Settings *settings.Settings `json:"settings,omitempty"`
	TabID    json.RawMessage    `json:"tabId,omitempty"`
	Paused   *bool              `json:"paused,omitempty"`
	Order    string             `json:"order,omitempty"`
}

// TabsData is the getTabsData response.
type TabsData struct {
	Tabs []classify.View `json:"tabsData"`
}

// RecentlyClosed is the getRecentlyClosedTabs response.
type RecentlyClosed struct {
	Tabs []recovery.ClosedTab `json:"recentlyClosedTabs"`
}

// ReopenResult is the reopenTab response.
type ReopenResult struct {
	Success bool         `json:"success"`
	NewTab  *browser.Tab `json:"newTab,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// CloseResult is the closeTabWithTracking response.
type CloseResult struct {
	Success bool                `json:"success"`
	Result  *recovery.ClosedTab `json:"result,omitempty"`
	Error   string              `json:"error,omitempty"`
}

// Pong answers a ping.
type Pong struct {
	Action    string `json:"action"`
	Timestamp int64  `json:"timestamp"`
}

// Statistics is the counters plus live figures.
type Statistics struct {
	stats.Snapshot
	CurrentTabs int  `json:"currentTabs"`
	TrackedTabs int  `json:"trackedTabs"`
	Paused      bool `json:"paused"`
}

// Dispatch runs msg and returns its response. Actions with no response
// return nil.
func (c *Core) Dispatch(ctx context.Context, msg Message) (any, error) {
	switch msg.Action {
	case ActionUpdateSettings:
		if msg.Settings == nil {
			return nil, fmt.Errorf("%s: settings missing: %w", msg.Action, perrors.ErrInvalidInput)
		}
		return nil, c.UpdateSettings(ctx, *msg.Settings)

	case ActionGetTabsData:
		order, err := classify.ParseOrdering(msg.Order)
		if err != nil {
			return nil, fmt.Errorf("%s: %v: %w", msg.Action, err, perrors.ErrInvalidInput)
		}
		views, err := c.TabsData(ctx, order)
		if err != nil {
			return TabsData{Tabs: []classify.View{}}, err
		}
		return TabsData{Tabs: views}, nil

	case ActionGetRecentlyClosed:
		list, err := c.RecentlyClosed(ctx)
		if err != nil {
			return nil, err
		}
		return RecentlyClosed{Tabs: list}, nil

	case ActionReopenTab:
		id, err := closedID(msg.TabID)
		if err != nil {
			return ReopenResult{Error: err.Error()}, nil
		}
		res, _ := c.ReopenResult(ctx, id)
		return res, nil

	case ActionCloseTabWithTracking:
		var tabID int
		if err := json.Unmarshal(msg.TabID, &tabID); err != nil {
			return nil, fmt.Errorf("%s: tabId must be a number: %w", msg.Action, perrors.ErrInvalidInput)
		}
		entry, err := c.CloseWithTracking(ctx, tabID)
		if err != nil {
			return CloseResult{Error: err.Error()}, err
		}
		return CloseResult{Success: true, Result: &entry}, nil

	case ActionPauseStateChanged:
		if msg.Paused == nil {
			return nil, fmt.Errorf("%s: paused missing: %w", msg.Action, perrors.ErrInvalidInput)
		}
		return nil, c.SetPaused(ctx, *msg.Paused)

	case ActionUpdateBadge:
		return c.UpdateBadge(ctx), nil

	case ActionPing:
		return c.Ping(), nil

	case ActionGetStatistics:
		return c.Statistics(ctx), nil

	case ActionResetStatistics:
		return c.ResetStatistics(ctx)

	case ActionSweepNow:
		return c.Sweep(ctx)
	}
	return nil, fmt.Errorf("unknown action %q: %w", msg.Action, perrors.ErrInvalidInput)
}

// closedID accepts a closed-tab id sent as a string or a number.
func closedID(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && s != "" {
		return s, nil
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return strconv.FormatInt(n, 10), nil
	}
	return "", fmt.Errorf("tabId missing: %w", perrors.ErrInvalidInput)
}

// UpdateSettings validates s field by field, writes the synced file and
// reschedules the cleanup timer. A failed write is returned but the new
// settings stay in effect.
func (c *Core) UpdateSettings(ctx context.Context, s settings.Settings) error {
	if err := s.Validate(); err != nil {
		c.logger.Warn().Err(err).Msg("invalid settings, using defaults for the invalid fields")
	}
	s = c.apply(s)
	if err := c.schedule(); err != nil {
		return err
	}
	if c.opts.SettingsPath == "" {
		return nil
	}
	if err := settings.Save(c.opts.SettingsPath, s); err != nil {
		c.logger.Error().Err(err).Str("path", c.opts.SettingsPath).Msg("failed to save settings")
		c.recordError("settings")
		return err
	}
	return nil
}

// ApplySettings takes settings loaded from the synced file. The timer is
// only recreated when the interval changed.
func (c *Core) ApplySettings(s settings.Settings) {
	prev := c.Settings()
	s = c.apply(s)
	if s.CheckIntervalMinutes == prev.CheckIntervalMinutes {
		return
	}
	if err := c.schedule(); err != nil {
		c.logger.Error().Err(err).Msg("failed to reschedule cleanup")
	}
}

func (c *Core) apply(s settings.Settings) settings.Settings {
	s = s.Normalize()
	c.mu.Lock()
	c.settings = s
	c.mu.Unlock()

	c.logger.Info().
		Int("inactive_minutes", s.InactiveTimeMinutes).
		Int("interval_minutes", s.CheckIntervalMinutes).
		Bool("ignore_pinned", s.IgnorePinned).
		Bool("ignore_audible", s.IgnoreAudible).
		Msg("settings updated")
	return s
}

// TabsData classifies every open tab for display.
func (c *Core) TabsData(ctx context.Context, order classify.Ordering) ([]classify.View, error) {
	tabs, err := c.opts.Browser.Query(ctx)
	if err != nil {
		return nil, fmt.Errorf("query tabs: %w", err)
	}

	activeID := c.engine.FocusedID(ctx)
	s := c.Settings()
	now := c.now()
	views := make([]classify.View, 0, len(tabs))
	for _, tab := range tabs {
		views = append(views, classify.Classify(tab, c.activity.Get(tab.ID), now, s, activeID))
	}
	classify.Sort(views, order)
	return views, nil
}

// RecentlyClosed returns the recovery list, most recent first.
func (c *Core) RecentlyClosed(ctx context.Context) ([]recovery.ClosedTab, error) {
	return c.recovery.List(ctx)
}

// Reopen recreates a closed tab. Unknown ids return errors.ErrNotFound.
func (c *Core) Reopen(ctx context.Context, closedID string) (browser.Tab, error) {
	tab, err := c.recovery.Reopen(ctx, closedID)
	if err != nil {
		return browser.Tab{}, err
	}
	c.engine.RefreshBadge(ctx)
	c.persist(ctx)
	return tab, nil
}

// ReopenResult is Reopen in the reopenTab response shape. The error is
// returned as well so transports can pick a status.
func (c *Core) ReopenResult(ctx context.Context, closedID string) (ReopenResult, error) {
	tab, err := c.Reopen(ctx, closedID)
	if err != nil {
		msg := err.Error()
		if errors.Is(err, perrors.ErrNotFound) {
			msg = "Tab not found in recently closed list"
		}
		return ReopenResult{Error: msg}, err
	}
	return ReopenResult{Success: true, NewTab: &tab}, nil
}

// CloseWithTracking closes a tab on user request, bypassing protection.
func (c *Core) CloseWithTracking(ctx context.Context, tabID int) (recovery.ClosedTab, error) {
	return c.engine.CloseWithTracking(ctx, tabID)
}

// SetPaused sets and persists the pause flag, then refreshes the badge. A
// sweep already running is not interrupted.
func (c *Core) SetPaused(ctx context.Context, paused bool) error {
	c.mu.Lock()
	c.paused = paused
	c.mu.Unlock()

	c.logger.Info().Bool("paused", paused).Msg("pause state changed")
	c.engine.RefreshBadge(ctx)

	if err := c.opts.Store.Set(ctx, store.KeyPaused, paused); err != nil {
		c.logger.Error().Err(err).Msg("failed to persist pause flag")
		c.recordError("persist")
		return fmt.Errorf("persist pause flag: %w", err)
	}
	return nil
}

// UpdateBadge forces a badge refresh.
func (c *Core) UpdateBadge(ctx context.Context) badge.Badge {
	return c.engine.RefreshBadge(ctx)
}

// Ping confirms the core is responsive.
func (c *Core) Ping() Pong {
	return Pong{Action: "pong", Timestamp: c.now().UnixMilli()}
}

// Statistics returns the counters plus the current tab count. The count is
// -1 when the browser cannot be queried.
func (c *Core) Statistics(ctx context.Context) Statistics {
	out := Statistics{
		Snapshot:    c.stats.Snapshot(),
		CurrentTabs: -1,
		TrackedTabs: c.activity.Len(),
		Paused:      c.Paused(),
	}
	if tabs, err := c.opts.Browser.Query(ctx); err == nil {
		out.CurrentTabs = len(tabs)
		c.stats.ObserveTabCount(len(tabs))
		out.MaxConcurrent = c.stats.Snapshot().MaxConcurrent
	}
	return out
}

// ResetStatistics zeroes the counters and starts a new period.
func (c *Core) ResetStatistics(ctx context.Context) (Statistics, error) {
	if err := c.stats.Reset(ctx); err != nil {
		c.recordError("persist")
		return c.Statistics(ctx), err
	}
	return c.Statistics(ctx), nil
}
