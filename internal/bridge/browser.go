package bridge

import (
	"context"

	"github.com/p-blackswan/tabcleaner/internal/browser"
	"github.com/p-blackswan/tabcleaner/internal/retry"
)

var _ browser.Browser = (*Hub)(nil)

// Query returns every open tab. Retried on timeouts.
func (h *Hub) Query(ctx context.Context) ([]browser.Tab, error) {
	return retry.Value(ctx, h.cfg.Retry, func(ctx context.Context) ([]browser.Tab, error) {
		var tabs []browser.Tab
		if err := h.call(ctx, MethodTabsQuery, nil, &tabs); err != nil {
			return nil, err
		}
		return tabs, nil
	})
}

// ActiveTab returns the focused tab of the current window.
func (h *Hub) ActiveTab(ctx context.Context) (browser.Tab, bool, error) {
	var p activePayload
	err := retry.Do(ctx, h.cfg.Retry, func(ctx context.Context) error {
		p = activePayload{}
		return h.call(ctx, MethodTabsActive, nil, &p)
	})
	if err != nil {
		return browser.Tab{}, false, err
	}
	if p.Tab == nil {
		return browser.Tab{}, false, nil
	}
	tab := *p.Tab
	tab.Active = true
	return tab, true, nil
}

// Get returns a single tab.
func (h *Hub) Get(ctx context.Context, id int) (browser.Tab, error) {
	return retry.Value(ctx, h.cfg.Retry, func(ctx context.Context) (browser.Tab, error) {
		var tab browser.Tab
		err := h.call(ctx, MethodTabsGet, tabIDParams{TabID: id}, &tab)
		return tab, err
	})
}

// Close removes a tab. Never retried.
func (h *Hub) Close(ctx context.Context, id int) error {
	return h.call(ctx, MethodTabsRemove, tabIDParams{TabID: id}, nil)
}

// Create opens a tab. Never retried.
func (h *Hub) Create(ctx context.Context, url string, windowID int) (browser.Tab, error) {
	var tab browser.Tab
	err := h.call(ctx, MethodTabsCreate, createParams{URL: url, WindowID: windowID}, &tab)
	return tab, err
}

func (h *Hub) SetBadge(ctx context.Context, text, color string) error {
	return h.call(ctx, MethodSetBadge, badgeParams{Text: text, Color: color}, nil)
}

func (h *Hub) Keepalive(ctx context.Context) error {
	return h.call(ctx, MethodKeepalive, nil, nil)
}
