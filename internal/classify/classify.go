// Package classify derives the display status and protection of a tab. Every
// function here is pure.
package classify

import (
	"fmt"
	"strings"
	"time"

	"github.com/p-blackswan/tabcleaner/internal/activity"
	"github.com/p-blackswan/tabcleaner/internal/browser"
	"github.com/p-blackswan/tabcleaner/internal/settings"
)

// NoActiveTab is passed as the active tab id when no tab is focused.
const NoActiveTab = -1

// Status is the inactivity bucket of a tab.
type Status string

const (
	StatusSafe    Status = "safe"
	StatusWarning Status = "warning"
	StatusDanger  Status = "danger"
)

// Fractions of the idle threshold at which a tab turns warning and danger.
const (
	WarningFraction = 0.5
	DangerFraction  = 0.8
)

// Reason explains why a tab is protected from closure.
type Reason string

const (
	ReasonNone        Reason = ""
	ReasonSpecialPage Reason = "special page"
	ReasonPinned      Reason = "pinned"
	ReasonAudible     Reason = "playing audio"
)

// specialSchemes are browser-internal pages that are never closed.
var specialSchemes = []string{
	"chrome://",
	"chrome-extension://",
	"edge://",
	"about:",
	"devtools://",
	"view-source:",
}

// IsSpecialURL reports whether url uses a privileged browser scheme.
func IsSpecialURL(url string) bool {
	lower := strings.ToLower(url)
	for _, scheme := range specialSchemes {
		if strings.HasPrefix(lower, scheme) {
			return true
		}
	}
	return false
}

// Protection reports whether tab is exempt from automatic closure under s.
func Protection(tab browser.Tab, s settings.Settings) (bool, Reason) {
	switch {
	case IsSpecialURL(tab.URL):
		return true, ReasonSpecialPage
	case s.IgnorePinned && tab.Pinned:
		return true, ReasonPinned
	case s.IgnoreAudible && tab.Audible:
		return true, ReasonAudible
	}
	return false, ReasonNone
}

// View is the classified, display-ready form of a tab.
type View struct {
	browser.Tab

	Status          Status  `json:"status"`
	StatusText      string  `json:"statusText"`
	Tracked         bool    `json:"tracked"`
	LastActivity    int64   `json:"lastActivity,omitempty"`
	InactiveMS      int64   `json:"inactiveTime"`
	MinutesInactive int64   `json:"minutesInactive"`
	HoursInactive   float64 `json:"hoursInactive"`
	Protected       bool    `json:"protected"`
	ProtectedReason Reason  `json:"protectedReason"`
}

// Inactive returns the inactive duration of the view.
func (v View) Inactive() time.Duration {
	return time.Duration(v.InactiveMS) * time.Millisecond
}

// Bucket maps an inactive duration to a status for the given threshold.
func Bucket(inactive, threshold time.Duration) Status {
	switch {
	case float64(inactive) > float64(threshold)*DangerFraction:
		return StatusDanger
	case float64(inactive) > float64(threshold)*WarningFraction:
		return StatusWarning
	}
	return StatusSafe
}

// Classify computes the view of tab. The focused tab is always safe and
// "Currently Active"; an untracked tab is always safe and "Not tracked yet".
// Protection overrides the status and text of every other tab.
func Classify(tab browser.Tab, a activity.Activity, now time.Time, s settings.Settings, activeTabID int) View {
	v := View{Tab: tab, Status: StatusSafe}
	v.Active = tab.ID == activeTabID

	inactive, tracked := a.InactiveFor(now)
	if inactive < 0 {
		inactive = 0
	}
	v.Tracked = tracked
	if tracked {
		v.LastActivity = a.Time().UnixMilli()
		v.InactiveMS = inactive.Milliseconds()
		v.MinutesInactive = int64(inactive / time.Minute)
		v.HoursInactive = roundTenth(inactive.Hours())
	}

	switch {
	case v.Active:
		v.StatusText = "Currently Active"
	case !tracked:
		v.StatusText = "Not tracked yet"
	default:
		v.Status = Bucket(inactive, s.Threshold())
		v.StatusText = statusText(v.Status, inactive)
	}

	v.Protected, v.ProtectedReason = Protection(tab, s)
	if v.Protected {
		v.Status = StatusSafe
		if !v.Active {
			v.StatusText = fmt.Sprintf("Protected (%s)", v.ProtectedReason)
		}
	}

	return v
}

func statusText(status Status, inactive time.Duration) string {
	hours := fmt.Sprintf("%.1fh", inactive.Hours())
	switch status {
	case StatusDanger:
		return fmt.Sprintf("Will close soon (%s inactive)", hours)
	case StatusWarning:
		return hours + " inactive"
	}
	minutes := int64(inactive / time.Minute)
	if minutes >= 120 {
		return "Active " + hours + " ago"
	}
	return fmt.Sprintf("Active %dm ago", minutes)
}

func roundTenth(f float64) float64 {
	return float64(int64(f*10+0.5)) / 10
}
