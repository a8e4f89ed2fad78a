package browser

import "time"

// EventKind names a tab lifecycle event forwarded by the host.
type EventKind string

const (
	EventTabActivated EventKind = "tab.activated"
	EventTabUpdated   EventKind = "tab.updated"
	EventTabCreated   EventKind = "tab.created"
	EventTabRemoved   EventKind = "tab.removed"
	EventStartup      EventKind = "runtime.startup"
)

// Load status reported in EventTabUpdated when navigation finishes.
const StatusComplete = "complete"

// Event is a tab lifecycle event.
type Event struct {
	Kind     EventKind `json:"kind"`
	TabID    int       `json:"tabId"`
	WindowID int       `json:"windowId,omitempty"`
	// Status and URL carry the changed fields of an update event.
	Status string `json:"status,omitempty"`
	URL    string `json:"url,omitempty"`
	// Tab is the full tab when the host sends it.
	Tab *Tab      `json:"tab,omitempty"`
	At  time.Time `json:"-"`
}
