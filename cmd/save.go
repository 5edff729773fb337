package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/tripsync/internal/location"
	"github.com/fakeyudi/tripsync/internal/recorder"
)

var (
	saveTitle string
	saveDesc  string
)

var saveCmd = &cobra.Command{
	Use:   "save",
	Short: "Upload the stopped trip, or queue it when offline",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer a.Close()

		ctrl, err := resumeStopped(cmd, a)
		if err != nil {
			return err
		}

		res, saveErr := ctrl.SaveTripWithDetails(cmd.Context(), saveTitle, saveDesc)
		// A failed save stays awaiting details, with any remote trip id it got.
		if err := a.persist(ctrl); err != nil {
			return err
		}
		if saveErr != nil {
			return saveErr
		}

		if res.Uploaded {
			cmd.Printf("Trip uploaded (id %s).\n", res.RemoteTripID)
		} else {
			cmd.Printf("Trip queued for sync (%s).\n", res.TransactionID)
		}
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Discard the stopped trip",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer a.Close()

		ctrl, err := resumeStopped(cmd, a)
		if err != nil {
			return err
		}
		if err := ctrl.CancelSave(); err != nil {
			return err
		}
		if err := a.persist(ctrl); err != nil {
			return err
		}
		cmd.Println("Trip discarded.")
		return nil
	},
}

// resumeStopped restores the session and requires it to be awaiting details.
func resumeStopped(cmd *cobra.Command, a *app) (*recorder.Controller, error) {
	ctrl, ok, err := a.resume(cmd.Context(), location.NewManual(true))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errNoRecording
	}
	if ctrl.State() != recorder.AwaitingSaveDetails {
		return nil, fmt.Errorf("recording still running; run 'tripsync stop' first")
	}
	return ctrl, nil
}

func init() {
	saveCmd.Flags().StringVarP(&saveTitle, "title", "t", "", "trip title")
	saveCmd.Flags().StringVarP(&saveDesc, "description", "d", "", "trip description")
	rootCmd.AddCommand(saveCmd, cancelCmd)
}
