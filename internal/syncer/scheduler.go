package syncer

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fakeyudi/tripsync/internal/logging"
	"github.com/fakeyudi/tripsync/internal/netmon"
)

// DefaultDebounce is the delay between the last trigger and the pass.
const DefaultDebounce = 3 * time.Second

// Timer is the handle returned by Clock.AfterFunc.
type Timer interface {
	Stop() bool
}

// Clock abstracts time for the scheduler.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// RealClock is the wall clock.
var RealClock Clock = realClock{}

// Syncer runs passes. *Engine implements it.
type Syncer interface {
	SyncPendingTrips(ctx context.Context) (Result, error)
	IsSyncing() bool
}

// Counter reports the queue length.
type Counter interface {
	Len(ctx context.Context) (int, error)
}

// Trigger names why a pass was scheduled.
type Trigger string

const (
	TriggerNetwork    Trigger = "network"
	TriggerForeground Trigger = "foreground"
	TriggerStartup    Trigger = "startup"
	TriggerRecording  Trigger = "recording_ended"
	TriggerManual     Trigger = "manual"
)

// Scheduler turns lifecycle events into debounced sync passes.
type Scheduler struct {
	syncer    Syncer
	queue     Counter
	net       netmon.Checker
	recording func() bool
	clock     Clock
	debounce  time.Duration
	log       *zap.SugaredLogger
	onPass    func(Trigger, Result, error)

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	timer   Timer
	gen     uint64
	reason  Trigger
	wasUp   bool
	seenNet bool
	closed  bool
}

// SchedulerOption customises a Scheduler.
type SchedulerOption func(*Scheduler)

// WithClock replaces the wall clock.
func WithClock(c Clock) SchedulerOption {
	return func(s *Scheduler) { s.clock = c }
}

// WithDebounce sets the debounce delay. Non-positive keeps the default.
func WithDebounce(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.debounce = d
		}
	}
}

// WithRecordingGate reports whether a recording session is active.
func WithRecordingGate(fn func() bool) SchedulerOption {
	return func(s *Scheduler) { s.recording = fn }
}

func WithSchedulerLogger(l *zap.SugaredLogger) SchedulerOption {
	return func(s *Scheduler) { s.log = logging.OrNop(l) }
}

// WithPassHook is called after every debounced pass.
func WithPassHook(fn func(Trigger, Result, error)) SchedulerOption {
	return func(s *Scheduler) { s.onPass = fn }
}

// NewScheduler builds a scheduler. Close releases it.
func NewScheduler(syncer Syncer, queue Counter, net netmon.Checker, opts ...SchedulerOption) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		syncer:    syncer,
		queue:     queue,
		net:       net,
		recording: func() bool { return false },
		clock:     RealClock,
		debounce:  DefaultDebounce,
		log:       logging.Nop(),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NetworkChanged schedules a pass on an offline to online edge.
func (s *Scheduler) NetworkChanged(online bool) {
	s.mu.Lock()
	edge := online && (!s.seenNet || !s.wasUp)
	s.wasUp = online
	s.seenNet = true
	s.mu.Unlock()

	if !edge || s.recording() {
		return
	}
	s.schedule(TriggerNetwork)
}

// Foreground schedules a pass when the app returns to the foreground.
func (s *Scheduler) Foreground(ctx context.Context) {
	if s.recording() || s.syncer.IsSyncing() || !s.net.IsConnected(ctx) {
		return
	}
	s.schedule(TriggerForeground)
}

// Startup schedules a pass when entries survived a restart.
func (s *Scheduler) Startup(ctx context.Context) {
	if !s.hasPending(ctx) || !s.net.IsConnected(ctx) {
		return
	}
	s.schedule(TriggerStartup)
}

// RecordingEnded schedules a pass after a recording session ends.
func (s *Scheduler) RecordingEnded(ctx context.Context) {
	if s.syncer.IsSyncing() || !s.hasPending(ctx) || !s.net.IsConnected(ctx) {
		return
	}
	s.schedule(TriggerRecording)
}

// Manual runs a pass now and reports why it did not run.
func (s *Scheduler) Manual(ctx context.Context) (Result, error) {
	if s.recording() {
		return Result{}, ErrRecording
	}
	return s.syncer.SyncPendingTrips(ctx)
}

// Run feeds monitor transitions into NetworkChanged until ctx ends or the
// channel closes.
func (s *Scheduler) Run(ctx context.Context, transitions <-chan netmon.Transition) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case tr, ok := <-transitions:
			if !ok {
				return nil
			}
			s.NetworkChanged(tr.Online)
		}
	}
}

// Pending reports the trigger of the scheduled pass, if any.
func (s *Scheduler) Pending() (Trigger, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason, s.timer != nil
}

// Close drops a scheduled pass. It also cancels a debounced pass in flight,
// so call it only when the process shuts down.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
	s.cancel()
}

func (s *Scheduler) hasPending(ctx context.Context) bool {
	n, err := s.queue.Len(ctx)
	if err != nil {
		s.log.Warnw("could not read pending queue", "error", err)
		return false
	}
	return n > 0
}

// schedule (re)arms the debounce timer. A newer trigger replaces the
// pending one.
func (s *Scheduler) schedule(reason Trigger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.reason = reason
	s.gen++
	gen := s.gen
	s.timer = s.clock.AfterFunc(s.debounce, func() { s.fire(gen) })
	s.log.Debugw("sync scheduled", "trigger", reason, "in", s.debounce)
}

func (s *Scheduler) fire(gen uint64) {
	s.mu.Lock()
	if s.closed || s.gen != gen || s.timer == nil {
		s.mu.Unlock()
		return
	}
	reason := s.reason
	s.timer = nil
	s.reason = ""
	s.mu.Unlock()

	if s.recording() {
		s.log.Debugw("scheduled sync skipped, recording in progress", "trigger", reason)
		return
	}
	res, err := s.syncer.SyncPendingTrips(s.ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrOffline), errors.Is(err, ErrAlreadySyncing), errors.Is(err, ErrNoPending):
		s.log.Debugw("scheduled sync skipped", "trigger", reason, "reason", err)
	default:
		s.log.Errorw("scheduled sync failed", "trigger", reason, "error", err)
	}
	if s.onPass != nil {
		s.onPass(reason, res, err)
	}
}
