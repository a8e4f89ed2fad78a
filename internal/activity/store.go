package activity

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/tabcleaner/internal/store"
)

// Persister is the key/value backend the Store saves into.
type Persister interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	SetMany(ctx context.Context, values map[string]any) error
}

// Store maps tab ids to their last activity. It is safe for concurrent use;
// writes to the same tab are last-write-wins.
type Store struct {
	mu          sync.RWMutex
	entries     map[int]Activity
	lastFocused int
	hasFocused  bool
	savedAt     time.Time

	persister Persister
	now       func() time.Time
	logger    zerolog.Logger
}

// NewStore creates an empty Store. persister may be nil, in which case
// Persist and Restore are no-ops.
func NewStore(persister Persister, logger zerolog.Logger) *Store {
	return &Store{
		entries:   make(map[int]Activity),
		persister: persister,
		now:       time.Now,
		logger:    logger.With().Str("component", "activity").Logger(),
	}
}

// WithClock overrides the time source used for save timestamps.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// RecordActivity stores an observed activity for tabID and marks it as the
// last focused tab.
func (s *Store) RecordActivity(tabID int, ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[tabID] = ObservedAt(ts)
	s.lastFocused = tabID
	s.hasFocused = true
}

// Touch stores an observed activity for tabID without changing focus.
func (s *Store) Touch(tabID int, ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[tabID] = ObservedAt(ts)
}

// Discover stores an estimated activity for tabID, replacing any entry left
// over from an earlier tab with the same id.
func (s *Store) Discover(tabID int, ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[tabID] = DiscoveredAt(ts)
}

// DiscoverIfAbsent stores an estimated activity only when tabID is untracked.
// It reports whether an entry was added.
func (s *Store) DiscoverIfAbsent(tabID int, ts time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[tabID]; ok {
		return false
	}
	s.entries[tabID] = DiscoveredAt(ts)
	return true
}

// Forget removes tabID.
func (s *Store) Forget(tabID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, tabID)
	if s.hasFocused && s.lastFocused == tabID {
		s.hasFocused = false
		s.lastFocused = 0
	}
}

// Retain deletes every entry whose id is not in live and returns the deleted
// ids in ascending order.
func (s *Store) Retain(live map[int]struct{}) []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []int
	for id := range s.entries {
		if _, ok := live[id]; !ok {
			delete(s.entries, id)
			removed = append(removed, id)
		}
	}
	if s.hasFocused {
		if _, ok := live[s.lastFocused]; !ok {
			s.hasFocused = false
			s.lastFocused = 0
		}
	}
	sort.Ints(removed)
	return removed
}

// Get returns the activity of tabID, or Unset when it is not tracked.
func (s *Store) Get(tabID int) Activity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[tabID]
}

// Snapshot returns a copy of all entries.
func (s *Store) Snapshot() map[int]Activity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int]Activity, len(s.entries))
	for id, a := range s.entries {
		out[id] = a
	}
	return out
}

// IDs returns the tracked tab ids in ascending order.
func (s *Store) IDs() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// LastFocused returns the last tab passed to RecordActivity, if it is still tracked.
func (s *Store) LastFocused() (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastFocused, s.hasFocused
}

// SavedAt returns when the map was last persisted or restored.
func (s *Store) SavedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.savedAt
}

// Persist writes the map, the last focused tab and a save timestamp.
// A failure is logged and returned; memory stays authoritative.
func (s *Store) Persist(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}

	s.mu.RLock()
	encoded := make(map[string]Activity, len(s.entries))
	for id, a := range s.entries {
		encoded[strconv.Itoa(id)] = a
	}
	var lastFocused *int
	if s.hasFocused {
		id := s.lastFocused
		lastFocused = &id
	}
	s.mu.RUnlock()

	savedAt := s.now()
	err := s.persister.SetMany(ctx, map[string]any{
		store.KeyActivityMap:     encoded,
		store.KeyLastFocusedTab:  lastFocused,
		store.KeyActivitySavedAt: savedAt.UnixMilli(),
	})
	if err != nil {
		s.logger.Error().Err(err).Int("entries", len(encoded)).Msg("failed to persist activity")
		return fmt.Errorf("persist activity: %w", err)
	}

	s.mu.Lock()
	s.savedAt = savedAt
	s.mu.Unlock()

	s.logger.Debug().Int("entries", len(encoded)).Msg("activity persisted")
	return nil
}

// Restore replaces the in-memory map with the persisted one. On failure the
// Store is left empty so every tab is treated as freshly discovered.
func (s *Store) Restore(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}

	var (
		encoded     map[string]Activity
		lastFocused *int
		savedAtMS   int64
	)

	if _, err := s.persister.Get(ctx, store.KeyActivityMap, &encoded); err != nil {
		s.reset()
		s.logger.Error().Err(err).Msg("failed to restore activity, starting empty")
		return fmt.Errorf("restore activity: %w", err)
	}
	if _, err := s.persister.Get(ctx, store.KeyLastFocusedTab, &lastFocused); err != nil {
		s.logger.Warn().Err(err).Msg("failed to restore last focused tab")
		lastFocused = nil
	}
	if _, err := s.persister.Get(ctx, store.KeyActivitySavedAt, &savedAtMS); err != nil {
		s.logger.Warn().Err(err).Msg("failed to restore activity save time")
		savedAtMS = 0
	}

	entries := make(map[int]Activity, len(encoded))
	for key, a := range encoded {
		id, err := strconv.Atoi(key)
		if err != nil || !a.IsSet() {
			s.logger.Warn().Str("key", key).Msg("skipping malformed activity entry")
			continue
		}
		entries[id] = a
	}

	s.mu.Lock()
	s.entries = entries
	s.hasFocused = false
	s.lastFocused = 0
	if lastFocused != nil {
		if _, ok := entries[*lastFocused]; ok {
			s.lastFocused = *lastFocused
			s.hasFocused = true
		}
	}
	if savedAtMS > 0 {
		s.savedAt = time.UnixMilli(savedAtMS)
	}
	s.mu.Unlock()

	s.logger.Info().Int("entries", len(entries)).Msg("activity restored")
	return nil
}

func (s *Store) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[int]Activity)
	s.hasFocused = false
	s.lastFocused = 0
}
