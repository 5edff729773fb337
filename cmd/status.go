package cmd

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/tripsync/internal/daemon"
	"github.com/fakeyudi/tripsync/internal/location"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current recording, the pending queue and the daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer a.Close()

		ctrl, ok, err := a.resume(cmd.Context(), location.NewManual(true))
		if err != nil {
			return err
		}
		if !ok {
			cmd.Println("no active recording")
		} else {
			st := ctrl.Stats()
			cmd.Printf("State: %s\n", st.State)
			cmd.Printf("Activity: %s\n", st.Activity)
			cmd.Printf("Started: %s\n", st.StartedAt.Format(time.RFC3339))
			cmd.Printf("Duration: %s\n", st.Elapsed.Round(time.Second))
			cmd.Printf("Samples: %d\n", st.Samples)
			cmd.Printf("Distance: %.2f km\n", st.DistanceKm)
			cmd.Printf("Photos: %d\n", st.Photos)
		}

		n, err := a.queue.Len(cmd.Context())
		if err != nil {
			return err
		}
		cmd.Printf("Pending trips: %d\n", n)

		client := daemon.NewClient(a.cfg.DaemonAddr, 2*time.Second)
		ds, err := client.Status(cmd.Context())
		switch {
		case errors.Is(err, daemon.ErrUnreachable):
			cmd.Println("Daemon: not running")
		case err != nil:
			cmd.Printf("Daemon: %v\n", err)
		default:
			cmd.Printf("Daemon: running (online=%t syncing=%t)\n", ds.Online, ds.Syncing)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
