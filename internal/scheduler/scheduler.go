// Package scheduler runs named recurring jobs. Scheduling an id that is
// already active clears the old timer before creating the new one, so each
// id has at most one live timer.
package scheduler

import (
	"fmt"
	"time"
)

// Job ids.
const (
	JobCleanup   = "cleanup"
	JobKeepalive = "keepalive"
)

// MinInterval is the smallest period a job may be scheduled with.
const MinInterval = time.Minute

// Scheduler abstracts recurring timers so that sweep logic can be driven by
// hand in tests.
type Scheduler interface {
	// Schedule (re)creates the job id with the given period.
	Schedule(id string, interval time.Duration) error
	// Cancel stops job id. Unknown ids are ignored.
	Cancel(id string)
	// OnFire registers the function called on every tick.
	OnFire(fn func(id string))
	// Active returns the period of every live job.
	Active() map[string]time.Duration
}

func validate(id string, interval time.Duration, allowSubMinute bool) error {
	if id == "" {
		return fmt.Errorf("job id is required")
	}
	if interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive, got %s", id, interval)
	}
	if !allowSubMinute && interval < MinInterval {
		return fmt.Errorf("job %s: interval %s is below the %s minimum", id, interval, MinInterval)
	}
	return nil
}
