package badge

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/tabcleaner/internal/browser"
)

func TestCompute(t *testing.T) {
	tests := []struct {
		name   string
		count  int
		paused bool
		want   Badge
	}{
		{"empty", 0, false, Badge{"0", ColorNormal}},
		{"normal", 50, false, Badge{"50", ColorNormal}},
		{"high", 51, false, Badge{"51", ColorHigh}},
		{"still high", 100, false, Badge{"100", ColorHigh}},
		{"max", 101, false, Badge{"101", ColorMax}},
		{"paused wins", 150, true, Badge{"150", ColorPaused}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Compute(tt.count, tt.paused))
		})
	}
}

func TestFallback(t *testing.T) {
	assert.Equal(t, Badge{"?", ColorNormal}, Fallback(false))
	assert.Equal(t, Badge{"?", ColorPaused}, Fallback(true))
}

func TestUpdater_Refresh(t *testing.T) {
	mem := browser.NewMemory(browser.Tab{ID: 1}, browser.Tab{ID: 2})
	u := NewUpdater(mem, zerolog.Nop())

	b, count, err := u.Refresh(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, "2", b.Text)
	assert.Equal(t, browser.Badge{Text: "2", Color: ColorNormal}, mem.LastBadge())
}

func TestUpdater_RefreshFallback(t *testing.T) {
	mem := browser.NewMemory(browser.Tab{ID: 1})
	mem.QueryErr = errors.New("extension busy")
	u := NewUpdater(mem, zerolog.Nop())

	b, count, err := u.Refresh(context.Background(), true)
	assert.Error(t, err)
	assert.Equal(t, -1, count)
	assert.Equal(t, Fallback(true), b)
	assert.Equal(t, browser.Badge{Text: "?", Color: ColorPaused}, mem.LastBadge())
}
