package session

import (
	"time"

	"github.com/fakeyudi/tripsync/internal/elevation"
	"github.com/fakeyudi/tripsync/internal/trip"
)

// Session is the persisted state of a recording between CLI invocations.
type Session struct {
	ID        string            `json:"id"`
	State     string            `json:"state"`
	UserID    string            `json:"user_id"`
	Activity  trip.ActivityType `json:"activity"`
	StartTime time.Time         `json:"start_time"`
	StopTime  *time.Time        `json:"stop_time,omitempty"`
	// Samples keep their timestamps so distance and pace can be rebuilt.
	Samples   []trip.LocationSample `json:"samples"`
	Photos    []trip.PhotoCapture   `json:"photos"`
	Elevation elevation.State       `json:"elevation"`
	// Set once recording stops.
	ElevationGain *float64 `json:"elevation_gain,omitempty"`
	StepCount     *int     `json:"step_count,omitempty"`
	UpwardSteps   *int     `json:"upward_steps,omitempty"`
	// Set when a save reached the service but could not be queued.
	RemoteTripID string `json:"remote_trip_id,omitempty"`
}
