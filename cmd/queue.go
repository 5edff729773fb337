package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/tripsync/internal/daemon"
	"github.com/fakeyudi/tripsync/internal/trip"
	"github.com/fakeyudi/tripsync/internal/tui"
)

var plainOutput bool

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Browse trips waiting to sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		entries, err := a.queue.LoadAll(ctx)
		if err != nil {
			return err
		}
		if plainOutput {
			printQueue(cmd.OutOrStdout(), entries)
			return nil
		}

		status := "daemon not running; 'tripsync sync' uploads in-process"
		if ds, err := daemon.NewClient(a.cfg.DaemonAddr, 2*time.Second).Status(ctx); err == nil {
			status = fmt.Sprintf("daemon running, online=%t syncing=%t", ds.Online, ds.Syncing)
			if ds.Scheduled != "" {
				status += ", pass scheduled by " + ds.Scheduled
			}
		}
		return tui.Run(entries, status, func() ([]trip.PendingEntry, error) {
			return a.queue.LoadAll(context.WithoutCancel(ctx))
		})
	},
}

// printQueue writes a plain-text listing to w.
func printQueue(w io.Writer, entries []trip.PendingEntry) {
	fmt.Fprintf(w, "## Pending trips (%d)\n", len(entries))
	if len(entries) == 0 {
		fmt.Fprintln(w, "  (none)")
		return
	}
	for _, e := range entries {
		state := "new"
		if e.RemoteTripID != "" {
			state = "created " + e.RemoteTripID
		}
		title := ""
		if e.TripData.Title != nil {
			title = *e.TripData.Title
		}
		fmt.Fprintf(w, "  %s  %-8s %6.2f km  photos %d/%d  [%s]  %s\n",
			e.QueuedAt.Local().Format("2006-01-02 15:04"),
			e.TripData.Activity,
			e.TripData.DistanceKm,
			len(e.Photos)-e.PendingPhotos(), len(e.Photos),
			state, title)
		if e.LastError != "" {
			fmt.Fprintf(w, "      attempts %d, last error: %s\n", e.Attempts, e.LastError)
		}
	}
}

func init() {
	queueCmd.Flags().BoolVar(&plainOutput, "plain", false, "print plain text instead of the TUI")
	rootCmd.AddCommand(queueCmd)
}
