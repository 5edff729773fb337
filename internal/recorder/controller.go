// Package recorder drives a trip from the first GPS fix to either an uploaded
// trip or an entry in the pending queue.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fakeyudi/tripsync/internal/elevation"
	"github.com/fakeyudi/tripsync/internal/geo"
	"github.com/fakeyudi/tripsync/internal/identity"
	"github.com/fakeyudi/tripsync/internal/location"
	"github.com/fakeyudi/tripsync/internal/logging"
	"github.com/fakeyudi/tripsync/internal/metrics"
	"github.com/fakeyudi/tripsync/internal/netmon"
	"github.com/fakeyudi/tripsync/internal/notify"
	"github.com/fakeyudi/tripsync/internal/remote"
	"github.com/fakeyudi/tripsync/internal/trip"
)

// State is the controller's lifecycle state.
type State string

const (
	Idle                State = "idle"
	Recording           State = "recording"
	AwaitingSaveDetails State = "awaiting_save_details"
	Uploading           State = "uploading"
)

var (
	ErrNoIdentity       = identity.ErrNoIdentity
	ErrPermissionDenied = location.ErrPermissionDenied
	ErrTripTooShort     = errors.New("trip too short: at least two location samples are needed")
	ErrUploadInProgress = errors.New("upload already in progress")
	ErrNoLocation       = errors.New("no current location")
	ErrInvalidState     = errors.New("operation not allowed in the current state")
)

// Appender is the part of the pending store the controller writes to.
type Appender interface {
	AppendEntry(ctx context.Context, entry trip.PendingEntry) error
}

// Deps are the controller's collaborators. Identity, Location, Queue, API and
// Net are required.
type Deps struct {
	Identity  identity.Provider
	Location  location.Source
	Elevation elevation.Tracker
	Queue     Appender
	API       remote.API
	Net       netmon.Checker
	Notifier  notify.Notifier
	Metrics   *metrics.Registry
	Log       *zap.SugaredLogger
	Now       func() time.Time
	Watch     *location.WatchOptions
}

// Stats is a live view of the current recording.
type Stats struct {
	State      State
	Activity   trip.ActivityType
	StartedAt  time.Time
	Elapsed    time.Duration
	DistanceKm float64
	PaceKmH    float64
	Samples    int
	Photos     int
}

// SaveResult says where a saved trip went.
type SaveResult struct {
	Uploaded      bool
	RemoteTripID  string
	TransactionID string // set when the trip was queued
}

// Controller is the recording state machine. All methods are safe for
// concurrent use.
type Controller struct {
	identity  identity.Provider
	location  location.Source
	elevation elevation.Tracker
	queue     Appender
	api       remote.API
	net       netmon.Checker
	notifier  notify.Notifier
	metrics   *metrics.Registry
	log       *zap.SugaredLogger
	now       func() time.Time
	watch     location.WatchOptions

	mu           sync.Mutex
	state        State
	sessionID    string
	userID       string
	activity     trip.ActivityType
	startedAt    time.Time
	endedAt      time.Time
	sampler      *geo.Sampler
	photos       []trip.PhotoCapture
	reading      elevation.Reading
	remoteTripID string
	sub          location.Subscription
	stopping     bool

	onChange   []func(from, to State)
	onProgress []func()
	changes    []stateChange
}

type stateChange struct{ from, to State }

// New builds an idle controller.
func New(d Deps) *Controller {
	c := &Controller{
		identity:  d.Identity,
		location:  d.Location,
		elevation: d.Elevation,
		queue:     d.Queue,
		api:       d.API,
		net:       d.Net,
		notifier:  d.Notifier,
		metrics:   d.Metrics,
		log:       logging.OrNop(d.Log),
		now:       d.Now,
		watch:     location.DefaultWatchOptions(),
		state:     Idle,
		sampler:   geo.NewSampler(),
	}
	if c.elevation == nil {
		c.elevation = elevation.Nop{}
	}
	if c.notifier == nil {
		c.notifier = notify.Discard
	}
	if c.now == nil {
		c.now = time.Now
	}
	if d.Watch != nil {
		c.watch = *d.Watch
	}
	return c
}

// OnStateChange registers fn for every state transition. fn runs outside
// the controller lock.
func (c *Controller) OnStateChange(fn func(from, to State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = append(c.onChange, fn)
}

// OnUploadProgress registers fn to run after each upload step the service
// accepted: the trip creation and every photo. The controller already holds
// the new remote ids when fn runs, so a snapshot taken there survives a
// crash before the save finishes.
func (c *Controller) OnUploadProgress(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onProgress = append(c.onProgress, fn)
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsRecording reports whether location samples are being collected.
func (c *Controller) IsRecording() bool { return c.State() == Recording }

// Stats returns distance, pace and counts for the current session.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{
		State:      c.state,
		Activity:   c.activity,
		StartedAt:  c.startedAt,
		DistanceKm: c.sampler.DistanceKm(),
		PaceKmH:    c.sampler.PaceKmH(),
		Samples:    c.sampler.Len(),
		Photos:     len(c.photos),
	}
	switch c.state {
	case Recording:
		s.Elapsed = c.now().Sub(c.startedAt)
	case AwaitingSaveDetails, Uploading:
		s.Elapsed = c.endedAt.Sub(c.startedAt)
	}
	return s
}

// StartRecording begins a session for the signed-in user.
func (c *Controller) StartRecording(ctx context.Context, activity trip.ActivityType) error {
	if c.State() != Idle {
		return fmt.Errorf("start recording: %w", ErrInvalidState)
	}

	userID, err := c.identity.UserID(ctx)
	if err != nil || userID == "" {
		if err != nil && !errors.Is(err, ErrNoIdentity) {
			c.log.Warnw("identity lookup failed", "error", err)
		}
		return ErrNoIdentity
	}
	granted, err := c.location.RequestForegroundPermission(ctx)
	if err != nil {
		return fmt.Errorf("request location permission: %w", err)
	}
	if !granted {
		return ErrPermissionDenied
	}

	c.mu.Lock()
	if c.state != Idle {
		c.mu.Unlock()
		return fmt.Errorf("start recording: %w", ErrInvalidState)
	}
	c.clearLocked()
	c.sessionID = uuid.NewString()
	c.userID = userID
	c.activity = activity
	c.startedAt = c.now()
	c.elevation.Start()
	c.setStateLocked(Recording)
	sessionID := c.sessionID
	c.mu.Unlock()
	c.flush()

	if err := c.subscribe(ctx); err != nil {
		c.mu.Lock()
		if c.state == Recording {
			c.elevation.Stop()
			c.clearLocked()
			c.setStateLocked(Idle)
		}
		c.mu.Unlock()
		c.flush()
		return fmt.Errorf("watch location: %w", err)
	}

	c.log.Infow("recording started", "session", sessionID, "activity", activity)
	return nil
}

// StopRecording ends sample collection. A session with fewer than two
// samples is discarded and nothing is persisted.
func (c *Controller) StopRecording(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Recording || c.stopping {
		c.mu.Unlock()
		return fmt.Errorf("stop recording: %w", ErrInvalidState)
	}
	c.stopping = true
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()

	if sub != nil {
		sub.Remove()
	}

	c.mu.Lock()
	c.stopping = false
	reading := c.elevation.Stop()
	if c.sampler.Len() < 2 {
		samples := c.sampler.Len()
		c.clearLocked()
		c.setStateLocked(Idle)
		c.mu.Unlock()
		c.flush()
		c.log.Infow("recording discarded", "samples", samples)
		return ErrTripTooShort
	}
	c.reading = reading
	c.endedAt = c.now()
	c.setStateLocked(AwaitingSaveDetails)
	sessionID, distance := c.sessionID, c.sampler.DistanceKm()
	c.mu.Unlock()
	c.flush()

	c.log.Infow("recording stopped", "session", sessionID, "distance_km", distance)
	return nil
}

// CancelSave discards a stopped session without persisting it.
func (c *Controller) CancelSave() error {
	c.mu.Lock()
	if c.state != AwaitingSaveDetails {
		c.mu.Unlock()
		return fmt.Errorf("cancel save: %w", ErrInvalidState)
	}
	c.clearLocked()
	c.setStateLocked(Idle)
	c.mu.Unlock()
	c.flush()
	return nil
}

// TakePhoto attaches a photo at the current location.
func (c *Controller) TakePhoto(ctx context.Context, localURI, description string) (trip.PhotoCapture, error) {
	c.mu.Lock()
	if c.state != Recording {
		c.mu.Unlock()
		return trip.PhotoCapture{}, fmt.Errorf("take photo: %w", ErrInvalidState)
	}
	last, ok := c.sampler.Last()
	c.mu.Unlock()

	lat, lon := last.Latitude, last.Longitude
	if !ok {
		pos, err := c.location.CurrentPosition(ctx)
		if err != nil {
			return trip.PhotoCapture{}, ErrNoLocation
		}
		lat, lon = pos.Latitude, pos.Longitude
	}

	photo := trip.PhotoCapture{
		LocalURI:    localURI,
		Latitude:    lat,
		Longitude:   lon,
		Description: description,
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Recording {
		return trip.PhotoCapture{}, fmt.Errorf("take photo: %w", ErrInvalidState)
	}
	c.photos = append(c.photos, photo)
	return photo, nil
}

// SaveTripWithDetails uploads the stopped trip, or queues it when offline or
// when any upload step fails. A queued trip is still a successful save.
func (c *Controller) SaveTripWithDetails(ctx context.Context, title, description string) (SaveResult, error) {
	c.mu.Lock()
	switch c.state {
	case AwaitingSaveDetails:
	case Uploading:
		c.mu.Unlock()
		return SaveResult{}, ErrUploadInProgress
	default:
		c.mu.Unlock()
		return SaveResult{}, fmt.Errorf("save trip: %w", ErrInvalidState)
	}
	rec := c.recordLocked(title, description)
	photos := make([]trip.PhotoCapture, len(c.photos))
	copy(photos, c.photos)
	remoteID := c.remoteTripID
	c.setStateLocked(Uploading)
	c.mu.Unlock()
	c.flush()

	reason := "offline"
	var uploadErr error
	if c.net.IsConnected(ctx) {
		remoteID, uploadErr = c.upload(ctx, rec, remoteID, photos)
		if uploadErr == nil {
			c.finish()
			c.notifier.Notify(notify.Notice{Level: notify.Success, Title: "Trip saved"})
			c.log.Infow("trip uploaded", "trip_id", remoteID, "photos", len(photos))
			return SaveResult{Uploaded: true, RemoteTripID: remoteID}, nil
		}
		reason = "upload_failed"
		c.log.Warnw("upload failed, queueing trip", "error", uploadErr, "trip_id", remoteID)
	}

	now := c.now()
	entry := trip.PendingEntry{
		TripData:      rec,
		Photos:        photos,
		RemoteTripID:  remoteID,
		TransactionID: trip.NewTransactionID(now),
		QueuedAt:      now,
	}
	if uploadErr != nil {
		entry.LastError = uploadErr.Error()
	}
	if err := c.queue.AppendEntry(ctx, entry); err != nil {
		c.mu.Lock()
		// Keep what the service already has so a retry never creates the
		// trip twice.
		c.remoteTripID = remoteID
		c.photos = photos
		c.setStateLocked(AwaitingSaveDetails)
		c.mu.Unlock()
		c.flush()
		c.notifier.Notify(notify.Notice{Level: notify.Error, Title: "Could not save trip", Message: err.Error()})
		return SaveResult{}, fmt.Errorf("queue trip: %w", err)
	}

	if c.metrics != nil {
		c.metrics.TripsQueuedTotal.WithLabelValues(reason).Inc()
	}
	c.finish()
	c.notifier.Notify(notify.Notice{
		Level:   notify.Success,
		Title:   "Trip saved offline",
		Message: "it will sync when you are back online",
	})
	c.log.Infow("trip queued", "transaction_id", entry.TransactionID, "reason", reason)
	return SaveResult{RemoteTripID: remoteID, TransactionID: entry.TransactionID}, nil
}

// upload creates the trip unless remoteID is already known, then uploads
// photos in order, marking each in place. It returns the remote id obtained
// so far along with the first error.
func (c *Controller) upload(ctx context.Context, rec trip.Record, remoteID string, photos []trip.PhotoCapture) (string, error) {
	if remoteID == "" {
		id, err := c.api.CreateTrip(ctx, rec)
		if err != nil {
			return "", fmt.Errorf("create trip: %w", err)
		}
		remoteID = id
		c.checkpoint(func() { c.remoteTripID = id })
	}
	for i := range photos {
		if photos[i].Uploaded {
			continue
		}
		photoID, err := c.api.UploadPhoto(ctx, remoteID, photos[i], rec.UserID)
		if err != nil {
			return remoteID, fmt.Errorf("upload photo %s: %w", photos[i].LocalURI, err)
		}
		photos[i].MarkUploaded(photoID)
		done := photos[i]
		c.checkpoint(func() {
			if i < len(c.photos) {
				c.photos[i] = done
			}
		})
	}
	return remoteID, nil
}

// checkpoint applies record under the lock, then runs the progress hooks.
func (c *Controller) checkpoint(record func()) {
	c.mu.Lock()
	record()
	hooks := append([]func(){}, c.onProgress...)
	c.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

func (c *Controller) recordLocked(title, description string) trip.Record {
	duration := int(c.endedAt.Sub(c.startedAt) / time.Second)
	distance := c.sampler.DistanceKm()
	rec := trip.Record{
		UserID:          c.userID,
		StartedAt:       c.startedAt,
		EndedAt:         c.endedAt,
		DistanceKm:      distance,
		DurationSeconds: duration,
		AveragePace:     trip.AveragePaceKmH(distance, duration),
		Route:           trip.RouteFromSamples(c.sampler.Route()),
		Activity:        c.activity,
		ElevationGain:   c.reading.GainMeters,
		StepCount:       c.reading.StepCount,
		UpwardSteps:     c.reading.UpwardSteps,
	}
	if title != "" {
		rec.Title = &title
	}
	if description != "" {
		rec.Description = &description
	}
	return rec
}

func (c *Controller) finish() {
	c.mu.Lock()
	c.clearLocked()
	c.setStateLocked(Idle)
	c.mu.Unlock()
	c.flush()
}

// subscribe starts the location watch for the current recording.
func (c *Controller) subscribe(ctx context.Context) error {
	sub, err := c.location.WatchPosition(ctx, c.watch, c.onPosition)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Recording {
		sub.Remove()
		return nil
	}
	c.sub = sub
	return nil
}

func (c *Controller) onPosition(pos location.Position) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Recording {
		return
	}
	ts := pos.Timestamp
	if ts.IsZero() {
		ts = c.now()
	}
	c.sampler.AddSample(trip.LocationSample{
		Latitude:    pos.Latitude,
		Longitude:   pos.Longitude,
		TimestampMs: ts.UnixMilli(),
	})
	if pos.Altitude != nil {
		if obs, ok := c.elevation.(elevation.AltitudeObserver); ok {
			obs.ObserveAltitude(*pos.Altitude)
		}
	}
}

func (c *Controller) clearLocked() {
	c.sessionID = ""
	c.userID = ""
	c.activity = ""
	c.startedAt = time.Time{}
	c.endedAt = time.Time{}
	c.sampler.Reset()
	c.photos = nil
	c.reading = elevation.Reading{}
	c.remoteTripID = ""
}

func (c *Controller) setStateLocked(to State) {
	if c.state == to {
		return
	}
	c.changes = append(c.changes, stateChange{from: c.state, to: to})
	c.state = to
}

// flush delivers queued transitions to the hooks.
func (c *Controller) flush() {
	c.mu.Lock()
	changes := c.changes
	c.changes = nil
	hooks := append([]func(from, to State){}, c.onChange...)
	c.mu.Unlock()

	for _, ch := range changes {
		for _, fn := range hooks {
			fn(ch.from, ch.to)
		}
	}
}
