package settings

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounce collapses the burst of events a sync client produces when
// it replaces a file.
const DefaultDebounce = 250 * time.Millisecond

// Watcher reloads the settings file when it changes on disk.
type Watcher struct {
	path     string
	debounce time.Duration
	onChange func(Settings)
	logger   zerolog.Logger
}

// NewWatcher creates a watcher for path. onChange is called with the freshly
// loaded settings after every debounced change.
func NewWatcher(path string, onChange func(Settings), logger zerolog.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	return &Watcher{
		path:     abs,
		debounce: DefaultDebounce,
		onChange: onChange,
		logger:   logger.With().Str("component", "settings_watcher").Logger(),
	}, nil
}

// SetDebounce overrides the debounce window. Must be called before Run.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Run watches until ctx is cancelled. The parent directory is watched rather
// than the file itself so atomic rename-over writes are seen.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("settings: watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("settings: watch %s: %w", filepath.Dir(w.path), err)
	}
	w.logger.Info().Str("path", w.path).Msg("watching settings file")

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	fire := func() {
		s, err := Load(w.path)
		if err != nil {
			w.logger.Warn().Err(err).Msg("settings file unreadable, using defaults")
		}
		w.onChange(s)
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, fire)
			mu.Unlock()
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("settings watcher error")
		}
	}
}
