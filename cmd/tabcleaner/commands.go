package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/p-blackswan/tabcleaner/internal/classify"
	"github.com/p-blackswan/tabcleaner/internal/client"
)

func newTabsCmd() *cobra.Command {
	var order string

	cmd := &cobra.Command{
		Use:   "tabs",
		Short: "Show open tabs with their inactivity status",
		Long: `Show every open tab with how long it has been inactive.

Tabs past 80% of the threshold are marked warning, tabs past the threshold
are marked danger. Pinned, audible and active tabs are shown as protected
when the settings protect them.

Examples:
  tabcleaner tabs                  # Most urgent first
  tabcleaner tabs --order pinned   # Pinned first, then most recent`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ord, err := classify.ParseOrdering(order)
			if err != nil {
				return err
			}
			views, err := newClient().Tabs(cmd.Context(), ord)
			if err != nil {
				return err
			}
			return emit(cmd.OutOrStdout(), views, func() string { return client.RenderTabs(views) })
		},
	}

	cmd.Flags().StringVar(&order, "order", string(classify.ByStatusPriority), "sort order: status or pinned")
	return cmd
}

func newClosedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "closed",
		Short: "Show recently closed tabs",
		RunE: func(cmd *cobra.Command, args []string) error {
			tabs, err := newClient().Closed(cmd.Context())
			if err != nil {
				return err
			}
			return emit(cmd.OutOrStdout(), tabs, func() string { return client.RenderClosed(tabs) })
		},
	}
}

func newReopenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reopen <id>",
		Short: "Reopen a recently closed tab by its recovery id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := newClient().Reopen(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return emit(cmd.OutOrStdout(), res, func() string {
				if res.NewTab == nil {
					return "Reopened"
				}
				return fmt.Sprintf("Reopened as tab %d: %s", res.NewTab.ID, res.NewTab.URL)
			})
		},
	}
}

func newCloseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "close <tabId>",
		Short: "Close a tab now and keep it in the recovery list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tabID, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid tab id %q", args[0])
			}
			res, err := newClient().Close(cmd.Context(), tabID)
			if err != nil {
				return err
			}
			return emit(cmd.OutOrStdout(), res, func() string {
				if res.Result == nil {
					return "Closed"
				}
				return fmt.Sprintf("Closed %q (recovery id %s)", res.Result.Title, res.Result.ID)
			})
		},
	}
}

func newPauseCmd(pause bool) *cobra.Command {
	use, short, done := "resume", "Resume automatic cleanup", "Cleanup resumed"
	if pause {
		use, short, done = "pause", "Pause automatic cleanup", "Cleanup paused"
	}

	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			paused, err := newClient().SetPaused(cmd.Context(), pause)
			if err != nil {
				return err
			}
			return emit(cmd.OutOrStdout(), map[string]bool{"paused": paused}, func() string { return done })
		},
	}
}

func newStatsCmd() *cobra.Command {
	var reset bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cleanup statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			fetch := c.Stats
			if reset {
				fetch = c.ResetStats
			}
			st, err := fetch(cmd.Context())
			if err != nil {
				return err
			}
			return emit(cmd.OutOrStdout(), st, func() string { return client.RenderStats(st) })
		},
	}

	cmd.Flags().BoolVar(&reset, "reset", false, "zero the counters and start a new period")
	return cmd
}

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run a cleanup sweep now",
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := newClient().Sweep(cmd.Context())
			if err != nil {
				return err
			}
			return emit(cmd.OutOrStdout(), report, func() string { return client.RenderSweep(report) })
		},
	}
}

func newPingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the daemon is running",
		RunE: func(cmd *cobra.Command, args []string) error {
			pong, err := newClient().Ping(cmd.Context())
			if err != nil {
				return err
			}
			return emit(cmd.OutOrStdout(), pong, func() string { return "pong" })
		},
	}
}
