package cmd

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/fakeyudi/tripsync/internal/config"
	"github.com/fakeyudi/tripsync/internal/session"
	"github.com/fakeyudi/tripsync/internal/trip"
)

// Feature: tripsync, Property 11: Status counts accuracy
func TestStatusCountsAccuracy(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		N := rapid.IntRange(0, 20).Draw(rt, "N") // number of samples
		M := rapid.IntRange(0, 5).Draw(rt, "M")  // number of photos

		env := newTestEnv(t, config.Config{UserID: "u1"})

		start := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
		samples := make([]trip.LocationSample, N)
		for i := 0; i < N; i++ {
			samples[i] = trip.LocationSample{
				Latitude:    51.5 + float64(i)*0.001,
				Longitude:   -0.12,
				TimestampMs: start.Add(time.Duration(i) * time.Minute).UnixMilli(),
			}
		}
		photos := make([]trip.PhotoCapture, M)
		for i := 0; i < M; i++ {
			photos[i] = trip.PhotoCapture{LocalURI: fmt.Sprintf("/photos/%d.jpg", i)}
		}

		s := &session.Session{
			ID:        "test-id",
			State:     "recording",
			UserID:    "u1",
			Activity:  trip.Walking,
			StartTime: start,
			Samples:   samples,
			Photos:    photos,
		}
		if err := env.sessions(t).Save(s); err != nil {
			rt.Fatalf("Save: %v", err)
		}

		// Run the status command and capture output.
		rootCmd.ResetFlags()
		out, err := executeCommand(rootCmd, "status")
		if err != nil {
			rt.Fatalf("status command error: %v", err)
		}

		for _, want := range []string{
			fmt.Sprintf("Samples: %d", N),
			fmt.Sprintf("Photos: %d", M),
			"State: recording",
			"Activity: walking",
			"Pending trips: 0",
			"Daemon: not running",
		} {
			if !strings.Contains(out, want) {
				rt.Errorf("expected output to contain %q, got:\n%s", want, out)
			}
		}
	})
}

func TestStatusWithoutRecording(t *testing.T) {
	newTestEnv(t, config.Config{UserID: "u1"})

	rootCmd.ResetFlags()
	out, err := executeCommand(rootCmd, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "no active recording") {
		t.Errorf("unexpected output: %q", out)
	}
}
