package cmd

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/tripsync/internal/location"
	"github.com/fakeyudi/tripsync/internal/recorder"
)

var (
	sampleAltitude float64
	sampleAt       string
	photoDesc      string
)

var sampleCmd = &cobra.Command{
	Use:     "sample <lat> <lon>",
	Short:   "Add a GPS fix to the active recording",
	Example: "  tripsync sample 51.5007 -0.1246\n  tripsync sample --alt 35 -- -33.8568 151.2153",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		lat, err := parseCoord(args[0], 90)
		if err != nil {
			return fmt.Errorf("latitude: %w", err)
		}
		lon, err := parseCoord(args[1], 180)
		if err != nil {
			return fmt.Errorf("longitude: %w", err)
		}
		pos := location.Position{Latitude: lat, Longitude: lon, Timestamp: time.Now()}
		if sampleAt != "" {
			if pos.Timestamp, err = time.Parse(time.RFC3339, sampleAt); err != nil {
				return fmt.Errorf("--at: %w", err)
			}
		}
		if cmd.Flags().Changed("alt") {
			alt := sampleAltitude
			pos.Altitude = &alt
		}

		a, err := openApp(cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer a.Close()

		src := location.NewManual(true)
		ctrl, err := resumeRecording(cmd, a, src)
		if err != nil {
			return err
		}
		src.Push(pos)
		if err := a.persist(ctrl); err != nil {
			return err
		}

		st := ctrl.Stats()
		cmd.Printf("Samples: %d  Distance: %.2f km  Pace: %.1f km/h\n", st.Samples, st.DistanceKm, st.PaceKmH)
		return nil
	},
}

var photoCmd = &cobra.Command{
	Use:   "photo <path>",
	Short: "Attach a photo at the current position",
	Args:  cobra.ExactArgs(1),
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
		photo, err := ctrl.TakePhoto(cmd.Context(), args[0], photoDesc)
		if errors.Is(err, recorder.ErrNoLocation) {
			return fmt.Errorf("%w: add a sample first", err)
		}
		if err != nil {
			return err
		}
		if err := a.persist(ctrl); err != nil {
			return err
		}
		cmd.Printf("Photo attached at %.5f, %.5f.\n", photo.Latitude, photo.Longitude)
		return nil
	},
}

// resumeRecording restores the session and requires it to be recording.
func resumeRecording(cmd *cobra.Command, a *app, src location.Source) (*recorder.Controller, error) {
	ctrl, ok, err := a.resume(cmd.Context(), src)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errNoRecording
	}
	if !ctrl.IsRecording() {
		return nil, fmt.Errorf("recording is stopped; run 'tripsync save' or 'tripsync cancel'")
	}
	return ctrl, nil
}

var errNoRecording = errors.New("no active recording")

func parseCoord(s string, limit float64) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if v < -limit || v > limit {
		return 0, fmt.Errorf("%v out of range", v)
	}
	return v, nil
}

func init() {
	sampleCmd.Flags().Float64Var(&sampleAltitude, "alt", 0, "altitude in meters")
	sampleCmd.Flags().StringVar(&sampleAt, "at", "", "fix time (RFC3339), defaults to now")
	photoCmd.Flags().StringVarP(&photoDesc, "description", "d", "", "photo description")
	rootCmd.AddCommand(sampleCmd, photoCmd)
}
