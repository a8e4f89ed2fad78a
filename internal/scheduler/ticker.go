package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type tickerJob struct {
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

// Ticker is a Scheduler backed by one time.Ticker goroutine per job.
type Ticker struct {
	// AllowSubMinute lifts the one minute floor. Tests use it.
	AllowSubMinute bool

	mu     sync.Mutex
	jobs   map[string]*tickerJob
	fire   func(id string)
	ctx    context.Context
	logger zerolog.Logger
}

// NewTicker creates a Ticker whose jobs stop when ctx is cancelled.
func NewTicker(ctx context.Context, logger zerolog.Logger) *Ticker {
	return &Ticker{
		jobs:   make(map[string]*tickerJob),
		ctx:    ctx,
		logger: logger.With().Str("component", "scheduler").Logger(),
	}
}

func (t *Ticker) OnFire(fn func(id string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fire = fn
}

func (t *Ticker) Schedule(id string, interval time.Duration) error {
	if err := validate(id, interval, t.AllowSubMinute); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.cancelLocked(id)

	ctx, cancel := context.WithCancel(t.ctx)
	job := &tickerJob{interval: interval, cancel: cancel, done: make(chan struct{})}
	t.jobs[id] = job
	go t.run(ctx, id, job)

	t.logger.Info().Str("job", id).Dur("interval", interval).Msg("job scheduled")
	return nil
}

func (t *Ticker) Cancel(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelLocked(id) {
		t.logger.Info().Str("job", id).Msg("job cancelled")
	}
}

func (t *Ticker) Active() map[string]time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]time.Duration, len(t.jobs))
	for id, job := range t.jobs {
		out[id] = job.interval
	}
	return out
}

// Stop cancels every job and waits for their goroutines to exit.
func (t *Ticker) Stop() {
	t.mu.Lock()
	jobs := t.jobs
	t.jobs = make(map[string]*tickerJob)
	t.mu.Unlock()

	for _, job := range jobs {
		job.cancel()
		<-job.done
	}
}

func (t *Ticker) cancelLocked(id string) bool {
	job, ok := t.jobs[id]
	if !ok {
		return false
	}
	job.cancel()
	delete(t.jobs, id)
	return true
}

func (t *Ticker) run(ctx context.Context, id string, job *tickerJob) {
	defer close(job.done)

	ticker := time.NewTicker(job.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.logger.Debug().Str("job", id).Msg("job stopped")
			return
		case <-ticker.C:
			t.mu.Lock()
			fire := t.fire
			current := t.jobs[id] == job
			t.mu.Unlock()

			if !current || fire == nil {
				continue
			}
			t.logger.Debug().Str("job", id).Msg("job fired")
			fire(id)
		}
	}
}
