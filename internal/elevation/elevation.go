// Package elevation estimates climbing during a session. The recorder treats
// a Tracker as an opaque source started and stopped with the session.
package elevation

import "sync"

// Reading is what a tracker reports when stopped. Nil fields were not
// measured.
type Reading struct {
	GainMeters  *float64
	StepCount   *int
	UpwardSteps *int
}

// Tracker is started with a session and read once when it stops.
type Tracker interface {
	Start()
	Stop() Reading
}

// AltitudeObserver accepts altitude fixes from the location stream.
type AltitudeObserver interface {
	ObserveAltitude(meters float64)
}

// State lets a tracker survive across processes.
type State struct {
	GainMeters float64  `json:"gainMeters"`
	Reference  *float64 `json:"reference,omitempty"`
	Samples    int      `json:"samples"`
}

// Stateful trackers can be saved and restored with the session.
type Stateful interface {
	State() State
	Restore(State)
}

// DefaultThresholdMeters is the climb needed before gain is counted, which
// filters GPS altitude jitter.
const DefaultThresholdMeters = 3.0

// AltitudeTracker sums climbs from GPS altitude with hysteresis: the
// reference altitude only moves once the change exceeds the threshold.
type AltitudeTracker struct {
	threshold float64

	mu    sync.Mutex
	state State
}

// NewAltitudeTracker uses threshold meters of hysteresis, or the default for
// threshold <= 0.
func NewAltitudeTracker(threshold float64) *AltitudeTracker {
	if threshold <= 0 {
		threshold = DefaultThresholdMeters
	}
	return &AltitudeTracker{threshold: threshold}
}

func (a *AltitudeTracker) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = State{}
}

func (a *AltitudeTracker) ObserveAltitude(meters float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state.Samples++
	if a.state.Reference == nil {
		ref := meters
		a.state.Reference = &ref
		return
	}
	delta := meters - *a.state.Reference
	switch {
	case delta >= a.threshold:
		a.state.GainMeters += delta
		*a.state.Reference = meters
	case delta <= -a.threshold:
		*a.state.Reference = meters
	}
}

// Stop reports the gain, or nothing when no altitude was ever observed.
func (a *AltitudeTracker) Stop() Reading {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state.Samples == 0 {
		return Reading{}
	}
	gain := a.state.GainMeters
	return Reading{GainMeters: &gain}
}

func (a *AltitudeTracker) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.state
	if s.Reference != nil {
		ref := *s.Reference
		s.Reference = &ref
	}
	return s
}

func (a *AltitudeTracker) Restore(s State) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = s
	if s.Reference != nil {
		ref := *s.Reference
		a.state.Reference = &ref
	}
}

// Nop measures nothing.
type Nop struct{}

func (Nop) Start()        {}
func (Nop) Stop() Reading { return Reading{} }
