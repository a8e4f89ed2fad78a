package activity

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/tabcleaner/internal/store"
)

type mockPersister struct {
	mu     sync.Mutex
	data   map[string][]byte
	getErr error
	setErr error
	sets   int
}

func newMockPersister() *mockPersister {
	return &mockPersister{data: make(map[string][]byte)}
}

func (m *mockPersister) Get(_ context.Context, key string, dest any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return false, m.getErr
	}
	raw, ok := m.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dest)
}

func (m *mockPersister) SetMany(_ context.Context, values map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets++
	if m.setErr != nil {
		return m.setErr
	}
	for k, v := range values {
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		m.data[k] = raw
	}
	return nil
}

func TestStore_RecordActivityUpserts(t *testing.T) {
	s := NewStore(nil, zerolog.Nop())
	t0 := time.UnixMilli(1_000)
	t1 := time.UnixMilli(2_000)

	s.Discover(1, t0)
	s.RecordActivity(1, t1)

	a := s.Get(1)
	assert.Equal(t, Observed, a.Kind())
	assert.True(t, a.Time().Equal(t1))

	id, ok := s.LastFocused()
	assert.True(t, ok)
	assert.Equal(t, 1, id)
}

func TestStore_GetUntrackedIsUnset(t *testing.T) {
	s := NewStore(nil, zerolog.Nop())
	assert.False(t, s.Get(42).IsSet())
}

func TestStore_DiscoverIfAbsent(t *testing.T) {
	s := NewStore(nil, zerolog.Nop())
	t0 := time.UnixMilli(1_000)

	s.RecordActivity(1, t0)
	assert.False(t, s.DiscoverIfAbsent(1, time.UnixMilli(5_000)))
	assert.True(t, s.Get(1).Time().Equal(t0))

	assert.True(t, s.DiscoverIfAbsent(2, t0))
	assert.Equal(t, Discovered, s.Get(2).Kind())
}

func TestStore_ForgetClearsLastFocused(t *testing.T) {
	s := NewStore(nil, zerolog.Nop())
	s.RecordActivity(7, time.Now())
	s.Forget(7)

	_, ok := s.LastFocused()
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
}

func TestStore_Retain(t *testing.T) {
	s := NewStore(nil, zerolog.Nop())
	now := time.Now()
	for _, id := range []int{1, 2, 3, 4} {
		s.Discover(id, now)
	}
	s.RecordActivity(3, now)

	removed := s.Retain(map[int]struct{}{1: {}, 2: {}})
	assert.Equal(t, []int{3, 4}, removed)
	assert.Equal(t, []int{1, 2}, s.IDs())

	_, ok := s.LastFocused()
	assert.False(t, ok)
}

func TestStore_SnapshotIsCopy(t *testing.T) {
	s := NewStore(nil, zerolog.Nop())
	s.Discover(1, time.Now())

	snap := s.Snapshot()
	delete(snap, 1)
	assert.Equal(t, 1, s.Len())
}

func TestStore_PersistRestore(t *testing.T) {
	p := newMockPersister()
	ctx := context.Background()
	t0 := time.UnixMilli(1_700_000_000_000)

	s := NewStore(p, zerolog.Nop())
	s.now = func() time.Time { return t0.Add(time.Minute) }
	s.Discover(1, t0)
	s.RecordActivity(2, t0.Add(30*time.Second))
	require.NoError(t, s.Persist(ctx))

	restored := NewStore(p, zerolog.Nop())
	require.NoError(t, restored.Restore(ctx))

	assert.Equal(t, 2, restored.Len())
	assert.Equal(t, Discovered, restored.Get(1).Kind())
	assert.Equal(t, Observed, restored.Get(2).Kind())
	assert.True(t, restored.Get(2).Time().Equal(t0.Add(30*time.Second)))

	id, ok := restored.LastFocused()
	assert.True(t, ok)
	assert.Equal(t, 2, id)
	assert.True(t, restored.SavedAt().Equal(t0.Add(time.Minute)))
}

func TestStore_PersistFailureKeepsMemory(t *testing.T) {
	p := newMockPersister()
	p.setErr = errors.New("disk full")

	s := NewStore(p, zerolog.Nop())
	s.RecordActivity(1, time.Now())

	err := s.Persist(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 1, s.Len())
	assert.True(t, s.SavedAt().IsZero())
}

func TestStore_RestoreFailureStartsEmpty(t *testing.T) {
	p := newMockPersister()
	p.getErr = errors.New("corrupt")

	s := NewStore(p, zerolog.Nop())
	s.RecordActivity(1, time.Now())

	err := s.Restore(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 0, s.Len())
}

func TestStore_RestoreNothingPersisted(t *testing.T) {
	s := NewStore(newMockPersister(), zerolog.Nop())
	require.NoError(t, s.Restore(context.Background()))
	assert.Equal(t, 0, s.Len())
}

func TestStore_RestoreDropsUnknownLastFocused(t *testing.T) {
	p := newMockPersister()
	p.data[store.KeyActivityMap] = []byte(`{"5":{"kind":"observed","at":1000}}`)
	p.data[store.KeyLastFocusedTab] = []byte(`9`)

	s := NewStore(p, zerolog.Nop())
	require.NoError(t, s.Restore(context.Background()))

	_, ok := s.LastFocused()
	assert.False(t, ok)
	assert.Equal(t, []int{5}, s.IDs())
}

func TestStore_PersistWithSQLite(t *testing.T) {
	db, err := store.New(filepath.Join(t.TempDir(), "activity.db"), zerolog.Nop())
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)

	s := NewStore(db, zerolog.Nop())
	s.RecordActivity(11, now)
	require.NoError(t, s.Persist(ctx))

	restored := NewStore(db, zerolog.Nop())
	require.NoError(t, restored.Restore(ctx))
	assert.True(t, restored.Get(11).Time().Equal(now))
}

func TestStore_ConcurrentAccess(t *testing.T) {
	s := NewStore(newMockPersister(), zerolog.Nop())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s.RecordActivity(i, time.Now())
				_ = s.Get(i)
				_ = s.Persist(ctx)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 8, s.Len())
}

func TestStore_TouchKeepsFocus(t *testing.T) {
	s := NewStore(nil, zerolog.Nop())
	s.RecordActivity(1, time.UnixMilli(1_000))
	s.Touch(2, time.UnixMilli(2_000))

	id, _ := s.LastFocused()
	assert.Equal(t, 1, id)
	assert.Equal(t, Observed, s.Get(2).Kind())
}
