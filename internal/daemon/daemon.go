// Package daemon keeps the pending queue draining in the background: it
// watches connectivity and the recording session, and serves a small control
// API on localhost.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fakeyudi/tripsync/internal/logging"
	"github.com/fakeyudi/tripsync/internal/metrics"
	"github.com/fakeyudi/tripsync/internal/netmon"
	"github.com/fakeyudi/tripsync/internal/session"
	"github.com/fakeyudi/tripsync/internal/syncer"
)

// Options configure the daemon.
type Options struct {
	Addr     string
	DataDir  string
	Debounce time.Duration
	Clock    syncer.Clock
}

// Deps are the daemon's collaborators.
type Deps struct {
	Engine   syncer.Syncer
	Queue    syncer.Counter
	Monitor  *netmon.Monitor
	Gatherer prometheus.Gatherer
	Metrics  *metrics.Registry
	Log      *zap.SugaredLogger
}

// Daemon owns the scheduler and everything that feeds it.
type Daemon struct {
	opts    Options
	engine  syncer.Syncer
	queue   syncer.Counter
	monitor *netmon.Monitor
	sched   *syncer.Scheduler
	gather  prometheus.Gatherer
	metrics *metrics.Registry
	log     *zap.SugaredLogger

	watchReady chan struct{}
}

// New wires a daemon. Nothing runs until Run.
func New(opts Options, d Deps) *Daemon {
	log := logging.OrNop(d.Log)
	if opts.Clock == nil {
		opts.Clock = syncer.RealClock
	}
	dm := &Daemon{
		opts:       opts,
		engine:     d.Engine,
		queue:      d.Queue,
		monitor:    d.Monitor,
		gather:     d.Gatherer,
		metrics:    d.Metrics,
		log:        log,
		watchReady: make(chan struct{}),
	}
	dm.sched = syncer.NewScheduler(d.Engine, d.Queue, d.Monitor,
		syncer.WithClock(opts.Clock),
		syncer.WithDebounce(opts.Debounce),
		syncer.WithRecordingGate(dm.recording),
		syncer.WithSchedulerLogger(log),
		syncer.WithPassHook(func(tr syncer.Trigger, res syncer.Result, err error) {
			if err == nil {
				log.Infow("background sync finished", "trigger", tr, "synced", res.Synced, "remaining", res.Remaining)
			}
		}),
	)
	return dm
}

// Scheduler exposes the trigger scheduler.
func (d *Daemon) Scheduler() *syncer.Scheduler { return d.sched }

// recording reports whether a session file exists. Any persisted session,
// stopped or not, blocks syncing until it is saved or cancelled.
func (d *Daemon) recording() bool { return session.Exists(d.opts.DataDir) }

// Run serves until ctx is cancelled or a component fails.
func (d *Daemon) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", d.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", d.opts.Addr, err)
	}
	return d.serveOn(ctx, ln)
}

func (d *Daemon) serveOn(ctx context.Context, ln net.Listener) error {
	transitions, unsubscribe := d.monitor.Subscribe()
	defer unsubscribe()
	d.monitor.Start(ctx)
	defer d.monitor.Stop()
	defer d.sched.Close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.sched.Run(ctx, transitions) })
	g.Go(func() error { return d.watchSessions(ctx) })
	g.Go(func() error { return d.serve(ctx, ln) })

	d.log.Infow("daemon started", "addr", ln.Addr().String(), "data_dir", d.opts.DataDir)
	d.sched.Startup(ctx)

	err := g.Wait()
	d.log.Infow("daemon stopped")
	return err
}

func (d *Daemon) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           d.Handler(),
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		d.log.Errorw("control server shutdown failed", "error", err)
	}
	return nil
}

// watchSessions turns removal of the session file into a RecordingEnded
// trigger until ctx is cancelled.
func (d *Daemon) watchSessions(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(d.opts.DataDir); err != nil {
		return fmt.Errorf("watch %s: %w", d.opts.DataDir, err)
	}
	close(d.watchReady)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != session.FileName {
				continue
			}
			switch {
			case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				d.log.Infow("recording session ended")
				d.sched.RecordingEnded(ctx)
			case event.Has(fsnotify.Create):
				d.log.Debugw("recording session present")
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			d.log.Warnw("session watcher error", "error", err)
		}
	}
}
