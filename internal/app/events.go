package app

import (
	"context"

	"github.com/p-blackswan/tabcleaner/internal/browser"
)

// EventHandler applies one browser event to the core.
type EventHandler func(ctx context.Context, c *Core, ev browser.Event)

func defaultHandlers() map[browser.EventKind]EventHandler {
	return map[browser.EventKind]EventHandler{
		browser.EventTabActivated: onActivated,
		browser.EventTabUpdated:   onUpdated,
		browser.EventTabCreated:   onCreated,
		browser.EventTabRemoved:   onRemoved,
		browser.EventStartup:      onStartup,
	}
}

// HandleEvent dispatches ev to its handler. Unknown kinds are logged and
// dropped.
func (c *Core) HandleEvent(ctx context.Context, ev browser.Event) {
	h, ok := c.handlers[ev.Kind]
	if !ok {
		c.logger.Warn().Str("kind", string(ev.Kind)).Msg("no handler for event")
		return
	}
	if ev.At.IsZero() {
		ev.At = c.now()
	}
	c.logger.Debug().Str("kind", string(ev.Kind)).Int("tab_id", ev.TabID).Msg("event received")
	h(ctx, c, ev)
}

func onActivated(ctx context.Context, c *Core, ev browser.Event) {
	c.activity.RecordActivity(ev.TabID, ev.At)
	c.persist(ctx)
}

// onUpdated counts a finished load or a navigation as activity, but only
// for the focused tab. Background reloads do not keep a tab alive.
func onUpdated(ctx context.Context, c *Core, ev browser.Event) {
	if ev.Status != browser.StatusComplete && ev.URL == "" {
		return
	}
	if !c.isFocused(ctx, ev) {
		return
	}
	c.activity.RecordActivity(ev.TabID, ev.At)
	c.persist(ctx)
}

func onCreated(ctx context.Context, c *Core, ev browser.Event) {
	c.activity.Discover(ev.TabID, ev.At)
	if ev.Tab != nil && ev.Tab.Active {
		c.activity.RecordActivity(ev.TabID, ev.At)
	}
	c.engine.RefreshBadge(ctx)
	c.persist(ctx)
}

func onRemoved(ctx context.Context, c *Core, ev browser.Event) {
	c.activity.Forget(ev.TabID)
	c.engine.RefreshBadge(ctx)
	c.persist(ctx)
}

func onStartup(ctx context.Context, c *Core, _ browser.Event) {
	if err := c.Resync(ctx); err != nil {
		c.logger.Error().Err(err).Msg("startup resync failed")
	}
}

// isFocused reports whether ev's tab is the focused tab of the current
// window. The active tab of a background window is not focused.
func (c *Core) isFocused(ctx context.Context, ev browser.Event) bool {
	if ev.Tab != nil && !ev.Tab.Active {
		return false
	}
	return c.engine.FocusedID(ctx) == ev.TabID
}
