package scheduler

import (
	"sync"
	"time"
)

// Manual is a Scheduler whose jobs only fire when Fire is called.
type Manual struct {
	mu        sync.Mutex
	jobs      map[string]time.Duration
	fire      func(id string)
	scheduled map[string]int
}

func NewManual() *Manual {
	return &Manual{
		jobs:      make(map[string]time.Duration),
		scheduled: make(map[string]int),
	}
}

func (m *Manual) Schedule(id string, interval time.Duration) error {
	if err := validate(id, interval, false); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[id] = interval
	m.scheduled[id]++
	return nil
}

func (m *Manual) Cancel(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, id)
}

func (m *Manual) OnFire(fn func(id string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fire = fn
}

func (m *Manual) Active() map[string]time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]time.Duration, len(m.jobs))
	for id, d := range m.jobs {
		out[id] = d
	}
	return out
}

// Fire runs the registered callback for id. It reports false when id is not
// scheduled.
func (m *Manual) Fire(id string) bool {
	m.mu.Lock()
	_, ok := m.jobs[id]
	fire := m.fire
	m.mu.Unlock()

	if !ok || fire == nil {
		return false
	}
	fire(id)
	return true
}

// Scheduled returns how many times id was passed to Schedule.
func (m *Manual) Scheduled(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scheduled[id]
}
