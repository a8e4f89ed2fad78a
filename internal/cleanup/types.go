package cleanup

import (
	"github.com/p-blackswan/tabcleaner/internal/recovery"
)

// Sweep results recorded in metrics.
const (
	ResultOK      = "ok"
	ResultPaused  = "paused"
	ResultSkipped = "skipped"
	ResultError   = "error"
)

// SweepReport describes one sweep.
type SweepReport struct {
	Result   string               `json:"result"`
	Live     int                  `json:"live"`
	Added    []int                `json:"added,omitempty"`
	Removed  []int                `json:"removed,omitempty"`
	Closed   []recovery.ClosedTab `json:"closed"`
	Failures int                  `json:"failures"`
}
