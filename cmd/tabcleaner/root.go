package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/p-blackswan/tabcleaner/internal/client"
)

var (
	// Global API address - inherited by all client subcommands
	apiAddr string

	// Global JSON output flag - inherited by all subcommands
	jsonOutput bool

	// Per-call timeout for client subcommands
	apiTimeout time.Duration

	// Build information - set via ldflags
	Version = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "tabcleaner",
	Short: "Close browser tabs that have been inactive for too long",
	Long: `tabcleaner tracks when each browser tab was last focused and closes
tabs that stay inactive past a configurable threshold. Closed tabs are kept
in a recovery list for a day so they can be reopened.

Quick Start:
  tabcleaner serve                 # Run the daemon the extension connects to
  tabcleaner tabs                  # Show open tabs and their status
  tabcleaner closed                # Show recently closed tabs
  tabcleaner reopen <id>           # Reopen a closed tab
  tabcleaner pause                 # Stop automatic cleanup`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	defaultAddr := os.Getenv("API_ADDR")
	if defaultAddr == "" {
		defaultAddr = "127.0.0.1:8788"
	}
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", defaultAddr, "address of the daemon's message API")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().DurationVar(&apiTimeout, "timeout", client.DefaultTimeout, "timeout for one API call")

	rootCmd.AddCommand(
		newServeCmd(),
		newTabsCmd(),
		newClosedCmd(),
		newReopenCmd(),
		newCloseCmd(),
		newPauseCmd(true),
		newPauseCmd(false),
		newStatsCmd(),
		newSweepCmd(),
		newPingCmd(),
	)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func newClient() *client.Client {
	return client.New(apiAddr, apiTimeout)
}

// emit writes v as indented JSON when --json is set, otherwise the rendered
// text.
func emit(w io.Writer, v any, render func() string) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	_, err := fmt.Fprintln(w, render())
	return err
}
