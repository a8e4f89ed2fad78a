// Package badge computes and applies the toolbar badge: the open tab count,
// coloured by pause state and tab load.
package badge

import (
	"context"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/tabcleaner/internal/browser"
)

// Badge colours.
const (
	ColorPaused = "#9E9E9E"
	ColorNormal = "#4CAF50"
	ColorHigh   = "#FF9800"
	ColorMax    = "#F44336"
)

// Tab counts above which the badge turns orange and red.
const (
	HighThreshold = 50
	MaxThreshold  = 100
)

// FallbackText is shown when the tab count cannot be read.
const FallbackText = "?"

// Badge is the text and background colour of the toolbar badge.
type Badge struct {
	Text  string `json:"text"`
	Color string `json:"color"`
}

// Compute returns the badge for tabCount open tabs.
func Compute(tabCount int, paused bool) Badge {
	b := Badge{Text: strconv.Itoa(tabCount), Color: ColorNormal}
	switch {
	case paused:
		b.Color = ColorPaused
	case tabCount > MaxThreshold:
		b.Color = ColorMax
	case tabCount > HighThreshold:
		b.Color = ColorHigh
	}
	return b
}

// Fallback returns the badge used when the count query fails.
func Fallback(paused bool) Badge {
	b := Badge{Text: FallbackText, Color: ColorNormal}
	if paused {
		b.Color = ColorPaused
	}
	return b
}

// Updater pushes the badge to the browser.
type Updater struct {
	browser browser.Browser
	logger  zerolog.Logger
}

func NewUpdater(b browser.Browser, logger zerolog.Logger) *Updater {
	return &Updater{
		browser: b,
		logger:  logger.With().Str("component", "badge").Logger(),
	}
}

// Refresh counts the open tabs and sets the badge. When the count cannot be
// read the fallback badge is set and the query error is returned. The count
// is -1 in that case.
func (u *Updater) Refresh(ctx context.Context, paused bool) (Badge, int, error) {
	tabs, err := u.browser.Query(ctx)
	if err != nil {
		u.logger.Warn().Err(err).Msg("failed to count tabs, setting fallback badge")
		fb := Fallback(paused)
		if setErr := u.browser.SetBadge(ctx, fb.Text, fb.Color); setErr != nil {
			u.logger.Error().Err(setErr).Msg("fallback badge update also failed")
		}
		return fb, -1, err
	}

	b := Compute(len(tabs), paused)
	if err := u.browser.SetBadge(ctx, b.Text, b.Color); err != nil {
		u.logger.Error().Err(err).Str("text", b.Text).Msg("failed to set badge")
		return b, len(tabs), err
	}

	u.logger.Debug().Str("text", b.Text).Str("color", b.Color).Msg("badge updated")
	return b, len(tabs), nil
}
