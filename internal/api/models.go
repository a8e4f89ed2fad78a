package api

import (
	"github.com/p-blackswan/tabcleaner/internal/recovery"
)

// ProblemDetail follows RFC 7807 for error responses.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// ClosedTabView is a recovery entry with a human readable age.
type ClosedTabView struct {
	recovery.ClosedTab
	TimeSince string `json:"timeSince"`
}

// ClosedListResponse is returned by GET /api/v1/closed.
type ClosedListResponse struct {
	Tabs []ClosedTabView `json:"recentlyClosedTabs"`
}

// PauseRequest is the body of PUT /api/v1/pause.
type PauseRequest struct {
	Paused *bool `json:"paused"`
}

// PauseResponse reports the pause flag.
type PauseResponse struct {
	Paused bool `json:"paused"`
}
