package classify

import (
	"fmt"
	"sort"
)

// Ordering selects how a list of views is sorted for display.
type Ordering string

const (
	// ByStatusPriority puts danger before warning before safe, most inactive first.
	ByStatusPriority Ordering = "status"
	// PinnedFirst puts pinned tabs first, then the most recently active.
	PinnedFirst Ordering = "pinned"
)

// ParseOrdering maps a name to an Ordering. The empty string selects
// ByStatusPriority.
func ParseOrdering(s string) (Ordering, error) {
	switch Ordering(s) {
	case "", ByStatusPriority:
		return ByStatusPriority, nil
	case PinnedFirst:
		return PinnedFirst, nil
	}
	return "", fmt.Errorf("unknown ordering %q", s)
}

var statusRank = map[Status]int{
	StatusDanger:  0,
	StatusWarning: 1,
	StatusSafe:    2,
}

// Sort orders views in place. Ties are broken by tab id so the result is
// deterministic.
func Sort(views []View, o Ordering) {
	var less func(a, b View) bool
	switch o {
	case PinnedFirst:
		less = func(a, b View) bool {
			if a.Pinned != b.Pinned {
				return a.Pinned
			}
			if a.InactiveMS != b.InactiveMS {
				return a.InactiveMS < b.InactiveMS
			}
			return a.ID < b.ID
		}
	default:
		less = func(a, b View) bool {
			if ra, rb := statusRank[a.Status], statusRank[b.Status]; ra != rb {
				return ra < rb
			}
			if a.InactiveMS != b.InactiveMS {
				return a.InactiveMS > b.InactiveMS
			}
			return a.ID < b.ID
		}
	}

	sort.SliceStable(views, func(i, j int) bool {
		return less(views[i], views[j])
	})
}
