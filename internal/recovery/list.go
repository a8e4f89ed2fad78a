// Package recovery keeps a bounded, time-windowed list of closed tabs so
// they can be reopened.
package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/tabcleaner/internal/activity"
	"github.com/p-blackswan/tabcleaner/internal/browser"
	"github.com/p-blackswan/tabcleaner/internal/store"
)

// Pruner applies age and size bounds to the stored records.
type Pruner interface {
	RunRetention(ctx context.Context, now time.Time, maxAge time.Duration, keep int) (int64, error)
}

// List is the recovery list.
type List struct {
	records  *SQLStore
	pruner   Pruner
	browser  browser.Browser
	activity *activity.Store
	now      func() time.Time
	logger   zerolog.Logger
}

// New creates a List backed by the closed_tabs table of st.
func New(st *store.Store, b browser.Browser, acts *activity.Store, logger zerolog.Logger) *List {
	return &List{
		records:  NewSQLStore(st.DB()),
		pruner:   st,
		browser:  b,
		activity: acts,
		now:      time.Now,
		logger:   logger.With().Str("component", "recovery").Logger(),
	}
}

// WithClock overrides the time source.
func (l *List) WithClock(now func() time.Time) *List {
	l.now = now
	return l
}

// Entry builds a record for tab without storing it.
func (l *List) Entry(tab browser.Tab, reason Reason, inactive time.Duration) ClosedTab {
	if inactive < 0 {
		inactive = 0
	}
	return ClosedTab{
		ID:         uuid.New().String(),
		TabID:      tab.ID,
		WindowID:   tab.WindowID,
		Title:      tab.Title,
		URL:        tab.URL,
		FavIconURL: tab.FavIconURL,
		ClosedAt:   l.now().UnixMilli(),
		Reason:     reason,
		InactiveMS: inactive.Milliseconds(),
	}
}

// RecordAll appends entries in one batch, then prunes the list.
func (l *List) RecordAll(ctx context.Context, entries []ClosedTab) error {
	if len(entries) == 0 {
		return nil
	}
	if err := l.records.Insert(ctx, entries...); err != nil {
		return fmt.Errorf("record closed tabs: %w", err)
	}

	pruned, err := l.pruner.RunRetention(ctx, l.now(), MaxAge, MaxEntries)
	if err != nil {
		return fmt.Errorf("prune closed tabs: %w", err)
	}

	l.logger.Debug().Int("recorded", len(entries)).Int64("pruned", pruned).Msg("closed tabs recorded")
	return nil
}

// List returns the recovery list, most recent first.
func (l *List) List(ctx context.Context) ([]ClosedTab, error) {
	return l.records.List(ctx)
}

// Reopen recreates the closed tab at its URL and window, seeds its activity
// and removes the entry. Unknown ids return errors.ErrNotFound. The entry is
// claimed before the tab is created, so concurrent reopens of one id create
// one tab; it is put back if the create fails.
func (l *List) Reopen(ctx context.Context, id string) (browser.Tab, error) {
	entry, err := l.records.Get(ctx, id)
	if err != nil {
		return browser.Tab{}, err
	}
	if err := l.records.Delete(ctx, id); err != nil {
		return browser.Tab{}, err
	}

	tab, err := l.browser.Create(ctx, entry.URL, entry.WindowID)
	if err != nil {
		if rerr := l.records.Insert(context.WithoutCancel(ctx), entry); rerr != nil {
			l.logger.Error().Err(rerr).Str("closed_id", id).Msg("failed to restore entry after reopen failure")
		}
		return browser.Tab{}, fmt.Errorf("reopen %s: %w", entry.URL, err)
	}

	now := l.now()
	if tab.Active {
		l.activity.RecordActivity(tab.ID, now)
	} else {
		l.activity.Touch(tab.ID, now)
	}

	l.logger.Info().Str("closed_id", id).Int("tab_id", tab.ID).Str("url", entry.URL).Msg("tab reopened")
	return tab, nil
}
