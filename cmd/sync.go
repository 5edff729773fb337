package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/tripsync/internal/daemon"
	"github.com/fakeyudi/tripsync/internal/syncer"
)

var syncLocal bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Upload queued trips now",
	Long:  "Upload queued trips now. The running daemon does the pass when there is one; otherwise it runs in this process.",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer a.Close()

		var res syncer.Result
		if !syncLocal {
			// No client timeout: a running daemon finishes its pass however
			// long it takes, and only a refused connection means there is none.
			res, err = daemon.NewClient(a.cfg.DaemonAddr, 0).Sync(cmd.Context())
		}
		if syncLocal || errors.Is(err, daemon.ErrUnreachable) {
			sched := syncer.NewScheduler(a.engine(nil), a.queue, a.monitor,
				syncer.WithRecordingGate(a.recording),
				syncer.WithSchedulerLogger(a.log),
			)
			defer sched.Close()
			res, err = sched.Manual(cmd.Context())
		}

		switch {
		case errors.Is(err, syncer.ErrNoPending):
			cmd.Println("Nothing to sync.")
			return nil
		case errors.Is(err, syncer.ErrOffline):
			cmd.Println("Offline; queued trips will sync when the connection is back.")
			return nil
		case errors.Is(err, syncer.ErrAlreadySyncing):
			cmd.Println("A sync is already running.")
			return nil
		case errors.Is(err, syncer.ErrRecording):
			return errors.New("cannot sync while a recording is in progress")
		case err != nil:
			return err
		}

		cmd.Printf("Synced %d of %d trip(s); %d remaining.\n", res.Synced, res.Processed, res.Remaining)
		if res.PhotoFailures > 0 || res.TripFailures > 0 {
			cmd.Printf("Failures: %d trip(s), %d photo(s). They stay queued for the next pass.\n", res.TripFailures, res.PhotoFailures)
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().BoolVar(&syncLocal, "local", false, "sync in this process even if a daemon is running")
	rootCmd.AddCommand(syncCmd)
}
