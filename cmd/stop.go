package cmd

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/tripsync/internal/location"
	"github.com/fakeyudi/tripsync/internal/recorder"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop recording; the trip then waits for 'save' or 'cancel'",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer a.Close()

		ctrl, err := resumeRecording(cmd, a, location.NewManual(true))
		if err != nil {
			return err
		}

		stopErr := ctrl.StopRecording(cmd.Context())
		if err := a.persist(ctrl); err != nil {
			return err
		}
		if errors.Is(stopErr, recorder.ErrTripTooShort) {
			cmd.Println("Trip discarded: at least two samples are needed.")
			return nil
		}
		if stopErr != nil {
			return stopErr
		}

		st := ctrl.Stats()
		cmd.Printf("Recording stopped: %.2f km in %s, %d photo(s).\n", st.DistanceKm, st.Elapsed.Round(time.Second), st.Photos)
		cmd.Println("Run 'tripsync save -t <title>' to keep it or 'tripsync cancel' to discard it.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(stopCmd)
}
