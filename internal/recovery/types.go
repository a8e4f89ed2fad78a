package recovery

import (
	"fmt"
	"time"
)

// Reason records why a tab was closed.
type Reason string

const (
	ReasonAutoClosed     Reason = "auto-closed"
	ReasonManuallyClosed Reason = "manually-closed"
)

// Bounds of the list, applied after every append.
const (
	MaxEntries = 50
	MaxAge     = 7 * 24 * time.Hour
)

// ClosedTab is one entry of the recovery list. Times are Unix milliseconds.
type ClosedTab struct {
	ID         string `json:"id"`
	TabID      int    `json:"tabId"`
	WindowID   int    `json:"windowId"`
	Title      string `json:"title"`
	URL        string `json:"url"`
	FavIconURL string `json:"favIconUrl,omitempty"`
	ClosedAt   int64  `json:"closedAt"`
	Reason     Reason `json:"reason"`
	InactiveMS int64  `json:"inactiveTime"`
}

// FormatSince renders how long ago closedAt (Unix ms) was, relative to now.
func FormatSince(closedAt int64, now time.Time) string {
	diff := now.Sub(time.UnixMilli(closedAt))
	days := int(diff / (24 * time.Hour))
	hours := int(diff / time.Hour)
	minutes := int(diff / time.Minute)

	switch {
	case days > 0:
		return plural(days, "day")
	case hours > 0:
		return plural(hours, "hour")
	case minutes > 0:
		return plural(minutes, "minute")
	}
	return "Just now"
}

func plural(n int, unit string) string {
	if n > 1 {
		return fmt.Sprintf("%d %ss ago", n, unit)
	}
	return fmt.Sprintf("%d %s ago", n, unit)
}
