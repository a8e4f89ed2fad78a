package client

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/p-blackswan/tabcleaner/internal/api"
	"github.com/p-blackswan/tabcleaner/internal/app"
	"github.com/p-blackswan/tabcleaner/internal/badge"
	"github.com/p-blackswan/tabcleaner/internal/classify"
	"github.com/p-blackswan/tabcleaner/internal/cleanup"
)

const maxTitleWidth = 48

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	idStyle     = lipgloss.NewStyle().Width(8).Align(lipgloss.Right).Foreground(lipgloss.Color("245"))
	titleStyle  = lipgloss.NewStyle().Width(maxTitleWidth + 2).PaddingLeft(1)
	labelStyle  = lipgloss.NewStyle().Width(22).Foreground(lipgloss.Color("245"))
	boxStyle    = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	statusColors = map[classify.Status]lipgloss.Color{
		classify.StatusSafe:    lipgloss.Color(badge.ColorNormal),
		classify.StatusWarning: lipgloss.Color(badge.ColorHigh),
		classify.StatusDanger:  lipgloss.Color(badge.ColorMax),
	}
	protectedColor = lipgloss.Color(badge.ColorPaused)
)

// RenderTabs renders the classified tab list, one line per tab.
func RenderTabs(views []classify.View) string {
	if len(views) == 0 {
		return mutedStyle.Italic(true).Render("No open tabs")
	}

	counts := map[classify.Status]int{}
	lines := make([]string, 0, len(views)+1)
	for _, v := range views {
		counts[v.Status]++
		lines = append(lines, renderTab(v))
	}

	header := headerStyle.Render(fmt.Sprintf("%d tabs", len(views))) +
		statusCount(classify.StatusDanger, counts) +
		statusCount(classify.StatusWarning, counts) +
		statusCount(classify.StatusSafe, counts)

	return lipgloss.JoinVertical(lipgloss.Left, append([]string{header}, lines...)...)
}

func renderTab(v classify.View) string {
	color := statusColors[v.Status]
	if v.Protected {
		color = protectedColor
	}
	dot := lipgloss.NewStyle().Foreground(color).Render("●")

	title := v.Title
	if title == "" {
		title = v.URL
	}
	title = truncate(title, maxTitleWidth)

	status := lipgloss.NewStyle().Foreground(color).Render(v.StatusText)
	return lipgloss.JoinHorizontal(lipgloss.Top,
		idStyle.Render(fmt.Sprintf("%d", v.ID)), " ", dot,
		titleStyle.Render(title),
		status,
	)
}

func statusCount(s classify.Status, counts map[classify.Status]int) string {
	n := counts[s]
	if n == 0 {
		return ""
	}
	return lipgloss.NewStyle().Foreground(statusColors[s]).Render(fmt.Sprintf("  %d %s", n, s))
}

// RenderClosed renders the recovery list.
func RenderClosed(tabs []api.ClosedTabView) string {
	if len(tabs) == 0 {
		return mutedStyle.Italic(true).Render("No recently closed tabs")
	}

	lines := []string{headerStyle.Render(fmt.Sprintf("%d recently closed", len(tabs)))}
	for _, t := range tabs {
		title := t.Title
		if title == "" {
			title = t.URL
		}
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top,
			titleStyle.Render(truncate(title, maxTitleWidth)),
			mutedStyle.Render(fmt.Sprintf("%-14s %-16s %s", t.TimeSince, t.Reason, t.ID)),
		))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

// RenderStats renders the usage statistics in a box.
func RenderStats(st app.Statistics) string {
	current := "unknown"
	if st.CurrentTabs >= 0 {
		current = fmt.Sprintf("%d", st.CurrentTabs)
	}
	state := lipgloss.NewStyle().Foreground(lipgloss.Color(badge.ColorNormal)).Render("running")
	if st.Paused {
		state = lipgloss.NewStyle().Foreground(protectedColor).Render("paused")
	}

	rows := []string{
		row("Tabs removed", fmt.Sprintf("%d", st.TabsRemoved)),
		row("Max concurrent tabs", fmt.Sprintf("%d", st.MaxConcurrent)),
		row("Open tabs", current),
		row("Tracked tabs", fmt.Sprintf("%d", st.TrackedTabs)),
		row("Tracking since", formatDate(st.StartedAt)),
		row("State", state),
	}
	return boxStyle.Render(strings.Join(rows, "\n"))
}

// RenderSweep summarises one sweep.
func RenderSweep(r cleanup.SweepReport) string {
	switch r.Result {
	case cleanup.ResultPaused:
		return mutedStyle.Render("Cleanup is paused, nothing closed")
	case cleanup.ResultSkipped:
		return mutedStyle.Render("Another sweep is running, skipped")
	}

	lines := []string{headerStyle.Render(fmt.Sprintf("Closed %d of %d tabs", len(r.Closed), r.Live))}
	for _, t := range r.Closed {
		title := t.Title
		if title == "" {
			title = t.URL
		}
		lines = append(lines, titleStyle.Render(truncate(title, maxTitleWidth))+mutedStyle.Render(t.ID))
	}
	if r.Failures > 0 {
		lines = append(lines, lipgloss.NewStyle().Foreground(statusColors[classify.StatusDanger]).
			Render(fmt.Sprintf("%d tabs could not be closed", r.Failures)))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func row(label, value string) string {
	return labelStyle.Render(label) + value
}

func formatDate(ms int64) string {
	if ms <= 0 {
		return "never"
	}
	return time.UnixMilli(ms).Format("2006-01-02 15:04")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
