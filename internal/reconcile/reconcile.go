// Package reconcile keeps the activity store in step with the live tab set.
package reconcile

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/tabcleaner/internal/activity"
)

// Estimator picks the activity time for a tab seen for the first time.
type Estimator interface {
	Estimate(now time.Time) time.Time
	Name() string
}

// NowEstimator treats a newly seen tab as active right now. A tab it seeds
// can only be closed after a full idle threshold has passed.
type NowEstimator struct{}

func (NowEstimator) Estimate(now time.Time) time.Time { return now }
func (NowEstimator) Name() string                     { return "now" }

// InstallClampedEstimator backdates a new tab to the install time, but never
// more than Clamp before now. When Threshold is set the clamp is further
// limited to half of the current idle threshold.
type InstallClampedEstimator struct {
	InstalledAt time.Time
	Clamp       time.Duration
	Threshold   func() time.Duration
}

func (e InstallClampedEstimator) Estimate(now time.Time) time.Time {
	clamp := e.Clamp
	if e.Threshold != nil {
		if half := e.Threshold() / 2; half < clamp {
			clamp = half
		}
	}
	floor := now.Add(-clamp)
	if e.InstalledAt.After(floor) {
		if e.InstalledAt.After(now) {
			return now
		}
		return e.InstalledAt
	}
	return floor
}

func (InstallClampedEstimator) Name() string { return "install-clamped" }

// Result lists the ids a Reconcile call changed, ascending.
type Result struct {
	Added   []int
	Removed []int
}

// Changed reports whether the store was modified.
func (r Result) Changed() bool {
	return len(r.Added) > 0 || len(r.Removed) > 0
}

// Reconciler syncs an activity store with the live tab set. Its estimator is
// fixed at construction and used for every call.
type Reconciler struct {
	store     *activity.Store
	estimator Estimator
	now       func() time.Time
	logger    zerolog.Logger
}

// New creates a Reconciler. A nil estimator selects NowEstimator.
func New(store *activity.Store, estimator Estimator, logger zerolog.Logger) *Reconciler {
	if estimator == nil {
		estimator = NowEstimator{}
	}
	return &Reconciler{
		store:     store,
		estimator: estimator,
		now:       time.Now,
		logger:    logger.With().Str("component", "reconciler").Str("estimator", estimator.Name()).Logger(),
	}
}

// WithClock overrides the time source.
func (r *Reconciler) WithClock(now func() time.Time) *Reconciler {
	r.now = now
	return r
}

// Estimator returns the policy this Reconciler applies.
func (r *Reconciler) Estimator() Estimator {
	return r.estimator
}

// Reconcile adds an estimated entry for every live tab that is untracked and
// removes every entry whose tab is gone. The store is persisted only when
// something changed.
func (r *Reconciler) Reconcile(ctx context.Context, live []int) Result {
	now := r.now()
	estimate := r.estimator.Estimate(now)

	liveSet := make(map[int]struct{}, len(live))
	var res Result
	for _, id := range live {
		if _, dup := liveSet[id]; dup {
			continue
		}
		liveSet[id] = struct{}{}
		if r.store.DiscoverIfAbsent(id, estimate) {
			res.Added = append(res.Added, id)
		}
	}
	res.Removed = r.store.Retain(liveSet)

	if !res.Changed() {
		return res
	}

	r.logger.Debug().
		Ints("added", res.Added).
		Ints("removed", res.Removed).
		Msg("activity reconciled")

	// Persist logs its own failure; memory stays authoritative.
	_ = r.store.Persist(ctx)
	return res
}
