package browser

import (
	"context"
	"sort"
	"sync"

	perrors "github.com/p-blackswan/tabcleaner/internal/errors"
)

// Memory is an in-memory Browser used in tests and dry runs.
type Memory struct {
	mu       sync.Mutex
	tabs     map[int]Tab
	activeID int
	nextID   int

	// CloseErr, when set for an id, is returned by Close for that tab.
	CloseErr map[int]error
	// QueryErr, when set, is returned by Query and ActiveTab.
	QueryErr error

	Closed     []int
	Badge      Badge
	Keepalives int
}

// Badge is the last badge set on a Memory browser.
type Badge struct {
	Text  string
	Color string
}

// NewMemory creates a Memory browser holding tabs. The first tab marked
// Active becomes the focused tab.
func NewMemory(tabs ...Tab) *Memory {
	m := &Memory{
		tabs:     make(map[int]Tab, len(tabs)),
		CloseErr: make(map[int]error),
		nextID:   1,
	}
	for _, t := range tabs {
		m.Add(t)
	}
	return m
}

// Add inserts or replaces a tab.
func (m *Memory) Add(t Tab) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tabs[t.ID] = t
	if t.ID >= m.nextID {
		m.nextID = t.ID + 1
	}
	if t.Active && m.activeID == 0 {
		m.activeID = t.ID
	}
}

// Remove deletes a tab without recording a close.
func (m *Memory) Remove(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tabs, id)
	if m.activeID == id {
		m.activeID = 0
	}
}

// Activate focuses a tab.
func (m *Memory) Activate(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeID = id
}

func (m *Memory) Query(_ context.Context) ([]Tab, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.QueryErr != nil {
		return nil, m.QueryErr
	}
	out := make([]Tab, 0, len(m.tabs))
	for _, t := range m.tabs {
		t.Active = t.ID == m.activeID
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ActiveTab(_ context.Context) (Tab, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.QueryErr != nil {
		return Tab{}, false, m.QueryErr
	}
	t, ok := m.tabs[m.activeID]
	if !ok {
		return Tab{}, false, nil
	}
	t.Active = true
	return t, true, nil
}

func (m *Memory) Get(_ context.Context, id int) (Tab, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tabs[id]
	if !ok {
		return Tab{}, perrors.ErrTabGone
	}
	t.Active = t.ID == m.activeID
	return t, nil
}

func (m *Memory) Close(_ context.Context, id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.CloseErr[id]; err != nil {
		return err
	}
	if _, ok := m.tabs[id]; !ok {
		return perrors.ErrTabGone
	}
	delete(m.tabs, id)
	if m.activeID == id {
		m.activeID = 0
	}
	m.Closed = append(m.Closed, id)
	return nil
}

// Create opens a tab and focuses it, as browsers do by default.
func (m *Memory) Create(_ context.Context, url string, windowID int) (Tab, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := Tab{ID: m.nextID, WindowID: windowID, URL: url, Title: url}
	m.nextID++
	m.tabs[t.ID] = t
	m.activeID = t.ID
	t.Active = true
	return t, nil
}

func (m *Memory) SetBadge(_ context.Context, text, color string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Badge = Badge{Text: text, Color: color}
	return nil
}

func (m *Memory) Keepalive(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Keepalives++
	return nil
}

// Len returns the number of open tabs.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tabs)
}

// LastBadge returns the last badge set.
func (m *Memory) LastBadge() Badge {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Badge
}
