// Package trip defines the records produced by a recording session and the
// entries kept in the offline upload queue.
package trip

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ActivityType is the kind of activity a trip was recorded as.
type ActivityType string

const (
	Running ActivityType = "running"
	Walking ActivityType = "walking"
	Cycling ActivityType = "cycling"
	Hiking  ActivityType = "hiking"
	Other   ActivityType = "other"
)

// ActivityTypes lists every accepted activity in display order.
var ActivityTypes = []ActivityType{Running, Walking, Cycling, Hiking, Other}

// ParseActivityType accepts any casing of a known activity name.
func ParseActivityType(s string) (ActivityType, error) {
	want := ActivityType(strings.ToLower(strings.TrimSpace(s)))
	for _, a := range ActivityTypes {
		if a == want {
			return a, nil
		}
	}
	return "", fmt.Errorf("unknown activity type %q", s)
}

// LocationSample is one fix delivered by the location source.
type LocationSample struct {
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	TimestampMs int64   `json:"timestamp"`
}

// Coordinate is a route point as sent over the wire.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// PhotoCapture is a photo taken during a session. RemoteID is set once the
// upload succeeds and never changes afterwards.
type PhotoCapture struct {
	LocalURI    string  `json:"localUri"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Description string  `json:"description,omitempty"`
	Uploaded    bool    `json:"uploaded"`
	RemoteID    *int    `json:"remoteId,omitempty"`
}

// MarkUploaded flips the photo to uploaded with the server-assigned id.
func (p *PhotoCapture) MarkUploaded(remoteID int) {
	if p.RemoteID == nil {
		id := remoteID
		p.RemoteID = &id
	}
	p.Uploaded = true
}

// Record is a finished trip. Its JSON encoding is the body of POST /trips.
type Record struct {
	UserID          string       `json:"userId"`
	StartedAt       time.Time    `json:"startedAt"`
	EndedAt         time.Time    `json:"endedAt"`
	DistanceKm      float64      `json:"distanceKm"`
	DurationSeconds int          `json:"durationSeconds"`
	AveragePace     float64      `json:"averagePace"`
	Route           []Coordinate `json:"route"`
	Activity        ActivityType `json:"type"`
	Title           *string      `json:"title,omitempty"`
	Description     *string      `json:"info,omitempty"`
	ElevationGain   *float64     `json:"elevationGain,omitempty"`
	StepCount       *int         `json:"stepCount,omitempty"`
	UpwardSteps     *int         `json:"upwardSteps,omitempty"`
}

// RouteFromSamples strips timestamps for the wire format.
func RouteFromSamples(samples []LocationSample) []Coordinate {
	route := make([]Coordinate, len(samples))
	for i, s := range samples {
		route[i] = Coordinate{Latitude: s.Latitude, Longitude: s.Longitude}
	}
	return route
}

// AveragePaceKmH returns distance over duration in km/h, or 0 for an empty
// duration.
func AveragePaceKmH(distanceKm float64, durationSeconds int) float64 {
	if durationSeconds <= 0 {
		return 0
	}
	return distanceKm / (float64(durationSeconds) / 3600)
}

// PendingEntry is a trip waiting in the local queue. The entry, not a fresh
// submission, is what gets retried, so TransactionID stays fixed for its
// whole life.
type PendingEntry struct {
	TripData      Record         `json:"tripData"`
	Photos        []PhotoCapture `json:"photos"`
	RemoteTripID  string         `json:"remoteTripId,omitempty"`
	TransactionID string         `json:"transactionId"`
	QueuedAt      time.Time      `json:"queuedAt"`
	Attempts      int            `json:"attempts,omitempty"`
	LastError     string         `json:"lastError,omitempty"`
}

// PendingPhotos counts photos not yet uploaded.
func (e *PendingEntry) PendingPhotos() int {
	n := 0
	for _, p := range e.Photos {
		if !p.Uploaded {
			n++
		}
	}
	return n
}

// Synced reports whether the trip exists remotely and every photo is uploaded.
func (e *PendingEntry) Synced() bool {
	return e.RemoteTripID != "" && e.PendingPhotos() == 0
}

// NewTransactionID mints a queue token from the wall clock plus a random
// suffix.
func NewTransactionID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%d-%s", now.UnixMilli(), suffix)
}
