package recorder

import (
	"context"
	"fmt"
	"time"

	"github.com/fakeyudi/tripsync/internal/elevation"
	"github.com/fakeyudi/tripsync/internal/geo"
	"github.com/fakeyudi/tripsync/internal/session"
	"github.com/fakeyudi/tripsync/internal/trip"
)

// Snapshot captures the current session. It returns false when idle.
// An Uploading controller is captured as AwaitingSaveDetails so a crashed
// save can be retried.
func (c *Controller) Snapshot() (*session.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Idle {
		return nil, false
	}

	state := c.state
	if state == Uploading {
		state = AwaitingSaveDetails
	}
	s := &session.Session{
		ID:            c.sessionID,
		State:         string(state),
		UserID:        c.userID,
		Activity:      c.activity,
		StartTime:     c.startedAt,
		Samples:       c.sampler.Route(),
		Photos:        append([]trip.PhotoCapture{}, c.photos...),
		ElevationGain: c.reading.GainMeters,
		StepCount:     c.reading.StepCount,
		UpwardSteps:   c.reading.UpwardSteps,
		RemoteTripID:  c.remoteTripID,
	}
	if !c.endedAt.IsZero() {
		end := c.endedAt
		s.StopTime = &end
	}
	if st, ok := c.elevation.(elevation.Stateful); ok && c.state == Recording {
		s.Elevation = st.State()
	}
	return s, true
}

// Restore loads a persisted session into an idle controller. A Recording
// session resumes its location watch.
func (c *Controller) Restore(ctx context.Context, s *session.Session) error {
	state := State(s.State)
	switch state {
	case Recording, AwaitingSaveDetails:
	case Uploading:
		state = AwaitingSaveDetails
	default:
		return fmt.Errorf("restore session %s: unknown state %q", s.ID, s.State)
	}

	c.mu.Lock()
	if c.state != Idle {
		c.mu.Unlock()
		return fmt.Errorf("restore session: %w", ErrInvalidState)
	}
	c.sessionID = s.ID
	c.userID = s.UserID
	c.activity = s.Activity
	c.startedAt = s.StartTime
	c.endedAt = time.Time{}
	if s.StopTime != nil {
		c.endedAt = *s.StopTime
	}
	c.sampler = geo.NewSamplerFrom(s.Samples)
	c.photos = append([]trip.PhotoCapture(nil), s.Photos...)
	c.reading = elevation.Reading{
		GainMeters:  s.ElevationGain,
		StepCount:   s.StepCount,
		UpwardSteps: s.UpwardSteps,
	}
	c.remoteTripID = s.RemoteTripID
	if state == Recording {
		if st, ok := c.elevation.(elevation.Stateful); ok {
			st.Restore(s.Elevation)
		}
	}
	c.setStateLocked(state)
	c.mu.Unlock()
	c.flush()

	if state == Recording {
		if err := c.subscribe(ctx); err != nil {
			return fmt.Errorf("resume location watch: %w", err)
		}
	}
	return nil
}

// SaveTo persists the current session, or removes it when idle.
func (c *Controller) SaveTo(store session.SessionStore) error {
	s, ok := c.Snapshot()
	if !ok {
		return store.Delete()
	}
	return store.Save(s)
}
