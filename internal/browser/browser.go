// Package browser defines the host abstraction the cleanup core drives: the
// live tab set, tab commands and the toolbar badge.
package browser

import "context"

// Tab is a live browser tab as reported by the host.
type Tab struct {
	ID         int    `json:"id"`
	WindowID   int    `json:"windowId"`
	Title      string `json:"title"`
	URL        string `json:"url"`
	FavIconURL string `json:"favIconUrl,omitempty"`
	Pinned     bool   `json:"pinned"`
	Audible    bool   `json:"audible"`
	Active     bool   `json:"active"`
}

// Browser is implemented by hosts that can enumerate and manipulate tabs.
type Browser interface {
	// Query returns every open tab across all windows.
	Query(ctx context.Context) ([]Tab, error)
	// ActiveTab returns the focused tab of the current window, if any.
	ActiveTab(ctx context.Context) (Tab, bool, error)
	// Get returns a single tab. Returns errors.ErrTabGone if it does not exist.
	Get(ctx context.Context, id int) (Tab, error)
	// Close removes a tab.
	Close(ctx context.Context, id int) error
	// Create opens a new tab at url in windowID (0 means the current window).
	Create(ctx context.Context, url string, windowID int) (Tab, error)
	// SetBadge updates the toolbar badge.
	SetBadge(ctx context.Context, text, color string) error
	// Keepalive sends a wake signal to the host. It carries no tracking data.
	Keepalive(ctx context.Context) error
}

// IDs returns the ids of tabs in order.
func IDs(tabs []Tab) []int {
	ids := make([]int, len(tabs))
	for i, t := range tabs {
		ids[i] = t.ID
	}
	return ids
}
