package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/tripsync/internal/location"
	"github.com/fakeyudi/tripsync/internal/recorder"
	"github.com/fakeyudi/tripsync/internal/session"
	"github.com/fakeyudi/tripsync/internal/trip"
)

var startActivity string

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Begin recording a trip",
	Long:  "Begin recording a trip. Feed positions with 'tripsync sample' and finish with 'tripsync stop' then 'tripsync save'.",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer a.Close()

		s, err := a.sessions.Load()
		if err != nil && !errors.Is(err, session.ErrNoSession) {
			return err
		}
		if s != nil {
			return fmt.Errorf("recording already in progress (started at %s)", s.StartTime.Format(time.RFC3339))
		}

		activity, err := resolveActivity(startActivity)
		if err != nil {
			return err
		}

		ctrl := a.controller(location.NewManual(true), nil)
		if err := ctrl.StartRecording(cmd.Context(), activity); err != nil {
			if errors.Is(err, recorder.ErrNoIdentity) {
				return fmt.Errorf("%w: run 'tripsync setup' or set user_id in the config", err)
			}
			return err
		}
		if err := a.persist(ctrl); err != nil {
			return err
		}

		cmd.Printf("Recording started (%s).\n", activity)
		return nil
	},
}

// resolveActivity falls back to the configured default activity.
func resolveActivity(flag string) (trip.ActivityType, error) {
	if flag == "" {
		flag = GetConfig().DefaultActivity
	}
	if flag == "" {
		return trip.Running, nil
	}
	return trip.ParseActivityType(flag)
}

func init() {
	startCmd.Flags().StringVarP(&startActivity, "activity", "a", "", "activity type (running, walking, cycling, hiking, other)")
	rootCmd.AddCommand(startCmd)
}
