// Package location is the location capability the recorder consumes, plus
// two sources: one fed by hand and one replaying a GPX track.
package location

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrPermissionDenied is returned when foreground location access is refused.
var ErrPermissionDenied = errors.New("location permission denied")

// ErrNoFix means no position is known yet.
var ErrNoFix = errors.New("no location fix")

// Position is one fix.
type Position struct {
	Latitude  float64
	Longitude float64
	Altitude  *float64 // meters, when the source reports it
	Timestamp time.Time
}

// Accuracy hints how precise fixes should be.
type Accuracy int

const (
	AccuracyBalanced Accuracy = iota
	AccuracyHigh
	AccuracyBest
)

// WatchOptions bounds the delivery rate of a watch.
type WatchOptions struct {
	Accuracy          Accuracy
	TimeInterval      time.Duration
	MinDistanceMeters float64
}

// DefaultWatchOptions matches what the recorder asks for while tracking.
func DefaultWatchOptions() WatchOptions {
	return WatchOptions{Accuracy: AccuracyBest, TimeInterval: time.Second, MinDistanceMeters: 1}
}

// Subscription stops a watch.
type Subscription interface {
	Remove()
}

// Source is a location capability.
type Source interface {
	RequestForegroundPermission(ctx context.Context) (bool, error)
	CurrentPosition(ctx context.Context) (Position, error)
	WatchPosition(ctx context.Context, opts WatchOptions, callback func(Position)) (Subscription, error)
}

// Manual is a Source whose fixes are pushed by the caller, one CLI invocation
// at a time.
type Manual struct {
	mu       sync.Mutex
	granted  bool
	last     *Position
	watchers map[int]func(Position)
	next     int
}

// NewManual returns a source with permission granted or not.
func NewManual(granted bool) *Manual {
	return &Manual{granted: granted, watchers: make(map[int]func(Position))}
}

func (m *Manual) RequestForegroundPermission(context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.granted, nil
}

func (m *Manual) CurrentPosition(context.Context) (Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return Position{}, ErrNoFix
	}
	return *m.last, nil
}

// WatchPosition registers callback. Options are ignored; every push is
// delivered.
func (m *Manual) WatchPosition(_ context.Context, _ WatchOptions, callback func(Position)) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.granted {
		return nil, ErrPermissionDenied
	}
	id := m.next
	m.next++
	m.watchers[id] = callback
	return subscriptionFunc(func() {
		m.mu.Lock()
		delete(m.watchers, id)
		m.mu.Unlock()
	}), nil
}

// Push delivers pos to every watcher.
func (m *Manual) Push(pos Position) {
	m.mu.Lock()
	p := pos
	m.last = &p
	callbacks := make([]func(Position), 0, len(m.watchers))
	for _, cb := range m.watchers {
		callbacks = append(callbacks, cb)
	}
	m.mu.Unlock()

	for _, cb := range callbacks {
		cb(pos)
	}
}

type subscriptionFunc func()

func (f subscriptionFunc) Remove() { f() }
