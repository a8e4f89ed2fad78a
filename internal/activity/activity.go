// Package activity tracks when each tab last mattered.
package activity

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind tags an Activity value.
type Kind uint8

const (
	// Unset means the tab has no tracked activity.
	Unset Kind = iota
	// Discovered means the time is an estimate made when the tab was first seen.
	Discovered
	// Observed means the time comes from a real focus or navigation.
	Observed
)

func (k Kind) String() string {
	switch k {
	case Discovered:
		return "discovered"
	case Observed:
		return "observed"
	default:
		return "unset"
	}
}

func parseKind(s string) (Kind, error) {
	switch s {
	case "discovered":
		return Discovered, nil
	case "observed":
		return Observed, nil
	case "unset", "":
		return Unset, nil
	}
	return Unset, fmt.Errorf("unknown activity kind %q", s)
}

// Activity is the last-activity record of one tab. The zero value is Unset.
type Activity struct {
	kind Kind
	at   time.Time
}

// DiscoveredAt returns an estimated activity.
func DiscoveredAt(t time.Time) Activity {
	return Activity{kind: Discovered, at: t}
}

// ObservedAt returns an activity seen on a real event.
func ObservedAt(t time.Time) Activity {
	return Activity{kind: Observed, at: t}
}

func (a Activity) Kind() Kind { return a.kind }

// IsSet reports whether a carries a timestamp.
func (a Activity) IsSet() bool { return a.kind != Unset }

// Time returns the activity timestamp, or the zero time when unset.
func (a Activity) Time() time.Time {
	if !a.IsSet() {
		return time.Time{}
	}
	return a.at
}

// InactiveFor returns how long the tab has been idle at now. It reports false
// for an unset activity.
func (a Activity) InactiveFor(now time.Time) (time.Duration, bool) {
	if !a.IsSet() {
		return 0, false
	}
	return now.Sub(a.at), true
}

func (a Activity) String() string {
	if !a.IsSet() {
		return "unset"
	}
	return fmt.Sprintf("%s@%s", a.kind, a.at.Format(time.RFC3339))
}

type activityJSON struct {
	Kind string `json:"kind"`
	At   int64  `json:"at,omitempty"`
}

// MarshalJSON encodes the variant with a millisecond timestamp.
func (a Activity) MarshalJSON() ([]byte, error) {
	v := activityJSON{Kind: a.kind.String()}
	if a.IsSet() {
		v.At = a.at.UnixMilli()
	}
	return json.Marshal(v)
}

// UnmarshalJSON accepts the tagged form and a bare millisecond number, which
// is decoded as Observed.
func (a *Activity) UnmarshalJSON(data []byte) error {
	var ms int64
	if err := json.Unmarshal(data, &ms); err == nil {
		*a = ObservedAt(time.UnixMilli(ms))
		return nil
	}

	var v activityJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	kind, err := parseKind(v.Kind)
	if err != nil {
		return err
	}
	if kind == Unset {
		*a = Activity{}
		return nil
	}
	*a = Activity{kind: kind, at: time.UnixMilli(v.At)}
	return nil
}
