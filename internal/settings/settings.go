// Package settings holds the user-editable cleanup settings and the synced
// YAML file they are stored in.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults for every field. Invalid values fall back to these.
const (
	DefaultInactiveTimeMinutes  = 30
	DefaultCheckIntervalMinutes = 5
	DefaultIgnorePinned         = true
	DefaultIgnoreAudible        = true

	// MinCheckIntervalMinutes is the smallest schedulable sweep period.
	MinCheckIntervalMinutes = 1
)

// Settings is an immutable snapshot of the cleanup settings.
type Settings struct {
	InactiveTimeMinutes  int  `json:"inactiveTime" yaml:"inactive_time_minutes"`
	CheckIntervalMinutes int  `json:"checkInterval" yaml:"check_interval_minutes"`
	IgnorePinned         bool `json:"ignorePinned" yaml:"ignore_pinned"`
	IgnoreAudible        bool `json:"ignoreAudible" yaml:"ignore_audible"`
}

// Defaults returns the documented default settings.
func Defaults() Settings {
	return Settings{
		InactiveTimeMinutes:  DefaultInactiveTimeMinutes,
		CheckIntervalMinutes: DefaultCheckIntervalMinutes,
		IgnorePinned:         DefaultIgnorePinned,
		IgnoreAudible:        DefaultIgnoreAudible,
	}
}

// Threshold is the inactivity threshold after which a tab is closed.
func (s Settings) Threshold() time.Duration {
	return time.Duration(s.InactiveTimeMinutes) * time.Minute
}

// Interval is the sweep period.
func (s Settings) Interval() time.Duration {
	return time.Duration(s.CheckIntervalMinutes) * time.Minute
}

// Validate reports the first invalid field.
func (s Settings) Validate() error {
	if s.InactiveTimeMinutes <= 0 {
		return fmt.Errorf("inactive time must be > 0 minutes, got %d", s.InactiveTimeMinutes)
	}
	if s.CheckIntervalMinutes < MinCheckIntervalMinutes {
		return fmt.Errorf("check interval must be >= %d minute, got %d", MinCheckIntervalMinutes, s.CheckIntervalMinutes)
	}
	return nil
}

// Normalize replaces invalid numeric fields with their defaults.
func (s Settings) Normalize() Settings {
	if s.InactiveTimeMinutes <= 0 {
		s.InactiveTimeMinutes = DefaultInactiveTimeMinutes
	}
	if s.CheckIntervalMinutes < MinCheckIntervalMinutes {
		s.CheckIntervalMinutes = DefaultCheckIntervalMinutes
	}
	return s
}

// fileSettings mirrors Settings with optional fields so that a missing key
// gets its default instead of a zero value.
type fileSettings struct {
	InactiveTimeMinutes  *int  `json:"inactiveTime" yaml:"inactive_time_minutes"`
	CheckIntervalMinutes *int  `json:"checkInterval" yaml:"check_interval_minutes"`
	IgnorePinned         *bool `json:"ignorePinned" yaml:"ignore_pinned"`
	IgnoreAudible        *bool `json:"ignoreAudible" yaml:"ignore_audible"`
}

func (f fileSettings) merge() Settings {
	s := Defaults()
	if f.InactiveTimeMinutes != nil {
		s.InactiveTimeMinutes = *f.InactiveTimeMinutes
	}
	if f.CheckIntervalMinutes != nil {
		s.CheckIntervalMinutes = *f.CheckIntervalMinutes
	}
	if f.IgnorePinned != nil {
		s.IgnorePinned = *f.IgnorePinned
	}
	if f.IgnoreAudible != nil {
		s.IgnoreAudible = *f.IgnoreAudible
	}
	return s
}

func (f fileSettings) resolve() Settings {
	return f.merge().Normalize()
}

// UnmarshalJSON decodes a settings payload. Absent keys keep their defaults,
// so a partial update never switches protection off. Invalid values are
// kept for Validate and Normalize.
func (s *Settings) UnmarshalJSON(data []byte) error {
	var f fileSettings
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*s = f.merge()
	return nil
}

// Parse decodes settings from YAML. Missing or invalid fields take defaults.
// A document that is not valid YAML returns defaults and the parse error.
func Parse(data []byte) (Settings, error) {
	var f fileSettings
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Defaults(), fmt.Errorf("settings: parse: %w", err)
	}
	return f.resolve(), nil
}

// Load reads settings from path. A missing file yields defaults and no error.
func Load(path string) (Settings, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Defaults(), nil
	}
	if err != nil {
		return Defaults(), fmt.Errorf("settings: read %s: %w", path, err)
	}
	return Parse(raw)
}

// Save writes settings to path atomically (temp file + rename) so a watcher
// on another device never sees a half-written file.
func Save(path string, s Settings) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("settings: marshal: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("settings: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".settings-*.yaml")
	if err != nil {
		return fmt.Errorf("settings: temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("settings: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("settings: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("settings: rename: %w", err)
	}
	return nil
}
