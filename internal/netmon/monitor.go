// Package netmon observes connectivity and publishes online/offline edges.
package netmon

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fakeyudi/tripsync/internal/logging"
)

// State is one connectivity observation.
type State struct {
	Connected bool
	CheckedAt time.Time
}

// Transition is an edge between offline and online.
type Transition struct {
	Online bool
	At     time.Time
}

// Prober fetches the current connectivity state.
type Prober interface {
	FetchCurrentState(ctx context.Context) (State, error)
}

// Checker answers whether the device is online right now.
type Checker interface {
	IsConnected(ctx context.Context) bool
}

// HTTPProber treats any HTTP response from URL as connectivity, and a
// transport error as none.
type HTTPProber struct {
	URL    string
	Client *http.Client
}

// NewHTTPProber probes url with a short timeout.
func NewHTTPProber(url string, timeout time.Duration) *HTTPProber {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HTTPProber{URL: url, Client: &http.Client{Timeout: timeout}}
}

func (p *HTTPProber) FetchCurrentState(ctx context.Context) (State, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		return State{}, err
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return State{Connected: false, CheckedAt: time.Now()}, nil
	}
	resp.Body.Close()
	return State{Connected: true, CheckedAt: time.Now()}, nil
}

// Monitor polls a Prober and fans transitions out to subscribers.
type Monitor struct {
	prober   Prober
	interval time.Duration
	log      *zap.SugaredLogger

	mu        sync.Mutex
	known     bool
	connected bool
	subs      map[int]chan Transition
	nextSub   int

	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor returns a stopped monitor.
func NewMonitor(prober Prober, interval time.Duration, log *zap.SugaredLogger) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Monitor{
		prober:   prober,
		interval: interval,
		log:      logging.OrNop(log),
		subs:     make(map[int]chan Transition),
	}
}

// Start takes an initial reading and polls in the background until Stop or
// ctx cancellation.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.mu.Unlock()

	m.IsConnected(ctx)

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.IsConnected(ctx)
			}
		}
	}()
}

// Stop ends polling and waits for the poller to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel = nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// IsConnected probes now rather than returning the cached value. A probe
// error counts as offline.
func (m *Monitor) IsConnected(ctx context.Context) bool {
	state, err := m.prober.FetchCurrentState(ctx)
	if err != nil {
		m.log.Debugw("connectivity probe failed", "error", err)
		state = State{Connected: false, CheckedAt: time.Now()}
	}
	m.Report(state)
	return state.Connected
}

// Current returns the last observed value without probing.
func (m *Monitor) Current() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Report records an observation and publishes an edge if it changed the
// state. The first observation establishes the baseline and only publishes
// when it is online.
func (m *Monitor) Report(state State) {
	m.mu.Lock()
	changed := !m.known || m.connected != state.Connected
	first := !m.known
	m.known = true
	m.connected = state.Connected
	if !changed || (first && !state.Connected) {
		m.mu.Unlock()
		return
	}
	at := state.CheckedAt
	if at.IsZero() {
		at = time.Now()
	}
	tr := Transition{Online: state.Connected, At: at}
	// Sends happen under the lock so an unsubscribe cannot close a channel
	// mid-send. They never block.
	dropped := 0
	for _, ch := range m.subs {
		select {
		case ch <- tr:
		default:
			dropped++
		}
	}
	m.mu.Unlock()

	m.log.Infow("connectivity changed", "online", tr.Online)
	if dropped > 0 {
		m.log.Warnw("dropped connectivity transition for slow subscribers", "online", tr.Online, "subscribers", dropped)
	}
}

// Subscribe returns a channel of transitions and a func that unsubscribes and
// closes it.
func (m *Monitor) Subscribe() (<-chan Transition, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	ch := make(chan Transition, 16)
	m.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
			close(ch)
		})
	}
}
