package bridge

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/p-blackswan/tabcleaner/internal/browser"
)

// Frame types.
const (
	frameReq   = "req"
	frameRes   = "res"
	frameEvent = "event"
)

// Methods the core calls on the extension.
const (
	MethodTabsQuery  = "tabs.query"
	MethodTabsActive = "tabs.active"
	MethodTabsGet    = "tabs.get"
	MethodTabsRemove = "tabs.remove"
	MethodTabsCreate = "tabs.create"
	MethodSetBadge   = "action.setBadge"
	MethodKeepalive  = "keepalive"

	// MethodPing is called by the extension to probe the core.
	MethodPing = "ping"
)

// frame is a raw protocol frame.
type frame struct {
	Type    string          `json:"type"`              // "req", "res", "event"
	ID      string          `json:"id,omitempty"`      // request/response ID
	Method  string          `json:"method,omitempty"`  // request method
	Params  json.RawMessage `json:"params,omitempty"`  // request params
	OK      *bool           `json:"ok,omitempty"`      // response ok
	Payload json.RawMessage `json:"payload,omitempty"` // response/event payload
	Event   string          `json:"event,omitempty"`   // event name
	Error   *frameError     `json:"error,omitempty"`   // response error
}

type frameError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func okResponse(id string, payload any) (frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return frame{}, err
	}
	ok := true
	return frame{Type: frameRes, ID: id, OK: &ok, Payload: raw}, nil
}

func errorResponse(id, code, message string) frame {
	ok := false
	return frame{Type: frameRes, ID: id, OK: &ok, Error: &frameError{Code: code, Message: message}}
}

// --- Params and payloads ---

type tabIDParams struct {
	TabID int `json:"tabId"`
}

type createParams struct {
	URL      string `json:"url"`
	WindowID int    `json:"windowId,omitempty"`
}

type badgeParams struct {
	Text  string `json:"text"`
	Color string `json:"color"`
}

type activePayload struct {
	Tab *browser.Tab `json:"tab"`
}

// PongPayload answers a ping request.
type PongPayload struct {
	Action    string `json:"action"`
	Timestamp int64  `json:"timestamp"`
}

// eventPayload is the union of all event payloads sent by the extension.
type eventPayload struct {
	TabID      int          `json:"tabId"`
	WindowID   int          `json:"windowId"`
	ChangeInfo *changeInfo  `json:"changeInfo,omitempty"`
	Tab        *browser.Tab `json:"tab,omitempty"`
}

type changeInfo struct {
	Status string `json:"status,omitempty"`
	URL    string `json:"url,omitempty"`
}

func parseEvent(f frame, at time.Time) (browser.Event, error) {
	kind := browser.EventKind(f.Event)
	switch kind {
	case browser.EventTabActivated, browser.EventTabUpdated, browser.EventTabCreated,
		browser.EventTabRemoved, browser.EventStartup:
	default:
		return browser.Event{}, fmt.Errorf("unknown event %q", f.Event)
	}

	var p eventPayload
	if len(f.Payload) > 0 {
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			return browser.Event{}, fmt.Errorf("parsing %s payload: %w", f.Event, err)
		}
	}

	ev := browser.Event{Kind: kind, TabID: p.TabID, WindowID: p.WindowID, Tab: p.Tab, At: at}
	if p.Tab != nil {
		if ev.TabID == 0 {
			ev.TabID = p.Tab.ID
		}
		if ev.WindowID == 0 {
			ev.WindowID = p.Tab.WindowID
		}
	}
	if p.ChangeInfo != nil {
		ev.Status = p.ChangeInfo.Status
		ev.URL = p.ChangeInfo.URL
	}
	if kind != browser.EventStartup && ev.TabID == 0 {
		return browser.Event{}, fmt.Errorf("%s without tab id", f.Event)
	}
	return ev, nil
}
