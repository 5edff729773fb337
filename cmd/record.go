package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/tripsync/internal/location"
	"github.com/fakeyudi/tripsync/internal/recorder"
)

var (
	recordGPX      string
	recordActivity string
	recordTitle    string
	recordDesc     string
	recordSpeed    float64
)

var recordCmd = &cobra.Command{
	Use:   "record --gpx <file>",
	Short: "Record a whole trip by replaying a GPX track, then save it",
	RunE: func(cmd *cobra.Command, args []string) error {
		if recordGPX == "" {
			return errors.New("--gpx is required")
		}
		activity, err := resolveActivity(recordActivity)
		if err != nil {
			return err
		}
		src, err := location.OpenGPX(recordGPX, recordSpeed)
		if err != nil {
			return fmt.Errorf("load %s: %w", recordGPX, err)
		}

		a, err := openApp(cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer a.Close()
		if a.recording() {
			return errors.New("recording already in progress")
		}

		ctx := cmd.Context()
		// The trip clock follows the track, so replayed trips keep their
		// recorded duration.
		now := func() time.Time {
			if pos, err := src.CurrentPosition(ctx); err == nil && !pos.Timestamp.IsZero() {
				return pos.Timestamp
			}
			return time.Now()
		}
		ctrl := a.controller(src, now)
		if err := ctrl.StartRecording(ctx, activity); err != nil {
			return err
		}
		if err := a.persist(ctrl); err != nil {
			return err
		}

		select {
		case <-src.Done():
		case <-ctx.Done():
		}

		if err := finishReplay(cmd, ctrl); err != nil {
			_ = a.persist(ctrl)
			return err
		}
		return a.persist(ctrl)
	},
}

func finishReplay(cmd *cobra.Command, ctrl *recorder.Controller) error {
	ctx := context.WithoutCancel(cmd.Context())
	if err := ctrl.StopRecording(ctx); err != nil {
		return err
	}
	st := ctrl.Stats()
	cmd.Printf("Replayed %d fixes: %.2f km in %s.\n", st.Samples, st.DistanceKm, st.Elapsed.Round(time.Second))
	_, err := ctrl.SaveTripWithDetails(ctx, recordTitle, recordDesc)
	return err
}

func init() {
	recordCmd.Flags().StringVar(&recordGPX, "gpx", "", "GPX track to replay")
	recordCmd.Flags().StringVarP(&recordActivity, "activity", "a", "", "activity type")
	recordCmd.Flags().StringVarP(&recordTitle, "title", "t", "", "trip title")
	recordCmd.Flags().StringVarP(&recordDesc, "description", "d", "", "trip description")
	recordCmd.Flags().Float64Var(&recordSpeed, "speed", 0, "replay speed multiplier; 0 replays instantly")
	rootCmd.AddCommand(recordCmd)
}
