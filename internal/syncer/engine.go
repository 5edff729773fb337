// Package syncer drains the pending-trip queue against the trip service and
// decides when a pass should run.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fakeyudi/tripsync/internal/logging"
	"github.com/fakeyudi/tripsync/internal/metrics"
	"github.com/fakeyudi/tripsync/internal/netmon"
	"github.com/fakeyudi/tripsync/internal/notify"
	"github.com/fakeyudi/tripsync/internal/remote"
	"github.com/fakeyudi/tripsync/internal/trip"
)

// Reasons a pass did not run. Automatic triggers swallow them; the manual
// trigger reports them.
var (
	ErrOffline        = errors.New("device is offline")
	ErrAlreadySyncing = errors.New("sync already in progress")
	ErrNoPending      = errors.New("no pending trips")
	ErrRecording      = errors.New("a recording is in progress")
)

// Queue is the part of the pending store a pass needs.
type Queue interface {
	LoadAll(ctx context.Context) ([]trip.PendingEntry, error)
	Update(ctx context.Context, fn func([]trip.PendingEntry) []trip.PendingEntry) error
}

// Result summarises one pass.
type Result struct {
	Processed      int `json:"processed"` // entries that needed work
	Synced         int `json:"synced"`    // entries that became fully synced
	Remaining      int `json:"remaining"` // entries left in the queue
	TripFailures   int `json:"tripFailures"`
	PhotosUploaded int `json:"photosUploaded"`
	PhotoFailures  int `json:"photoFailures"`
}

// PassLock keeps passes in different processes apart, such as a *flock.Flock.
type PassLock interface {
	TryLock() (bool, error)
	Unlock() error
}

// Engine runs sync passes. At most one pass runs at a time.
type Engine struct {
	queue    Queue
	api      remote.API
	net      netmon.Checker
	notifier notify.Notifier
	metrics  *metrics.Registry
	log      *zap.SugaredLogger
	passLock PassLock

	syncing atomic.Bool
}

// EngineOption customises an Engine.
type EngineOption func(*Engine)

func WithNotifier(n notify.Notifier) EngineOption {
	return func(e *Engine) { e.notifier = n }
}

func WithMetrics(m *metrics.Registry) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

func WithLogger(l *zap.SugaredLogger) EngineOption {
	return func(e *Engine) { e.log = logging.OrNop(l) }
}

// WithPassLock makes a pass held by another process count as already
// syncing.
func WithPassLock(l PassLock) EngineOption {
	return func(e *Engine) { e.passLock = l }
}

// NewEngine wires a sync engine.
func NewEngine(queue Queue, api remote.API, net netmon.Checker, opts ...EngineOption) *Engine {
	e := &Engine{
		queue:    queue,
		api:      api,
		net:      net,
		notifier: notify.Discard,
		log:      logging.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// IsSyncing reports whether a pass is running.
func (e *Engine) IsSyncing() bool { return e.syncing.Load() }

// SyncPendingTrips runs one pass over a snapshot of the queue. Connectivity
// is checked live at call time. A failure inside one entry never aborts the
// pass; it leaves the entry queued for the next one.
func (e *Engine) SyncPendingTrips(ctx context.Context) (Result, error) {
	if !e.syncing.CompareAndSwap(false, true) {
		e.countPass("busy")
		return Result{}, ErrAlreadySyncing
	}
	defer e.syncing.Store(false)

	if e.passLock != nil {
		locked, err := e.passLock.TryLock()
		if err != nil {
			e.countPass("error")
			return Result{}, fmt.Errorf("lock sync pass: %w", err)
		}
		if !locked {
			e.countPass("busy")
			return Result{}, ErrAlreadySyncing
		}
		defer func() {
			if err := e.passLock.Unlock(); err != nil {
				e.log.Warnw("failed to release sync pass lock", "error", err)
			}
		}()
	}

	if !e.net.IsConnected(ctx) {
		e.countPass("offline")
		return Result{}, ErrOffline
	}

	snapshot, err := e.queue.LoadAll(ctx)
	if err != nil {
		e.countPass("error")
		return Result{}, fmt.Errorf("load pending trips: %w", err)
	}
	if len(snapshot) == 0 {
		e.countPass("empty")
		e.setPending(0)
		return Result{}, ErrNoPending
	}

	start := time.Now()
	e.log.Infow("sync pass started", "pending", len(snapshot))

	var res Result
	keep := make([]trip.PendingEntry, 0, len(snapshot))
	for _, entry := range snapshot {
		if entry.Synced() {
			continue
		}
		res.Processed++
		if e.syncEntry(ctx, &entry, &res) {
			res.Synced++
			continue
		}
		keep = append(keep, entry)
	}

	seen := make(map[string]bool, len(snapshot))
	for _, entry := range snapshot {
		seen[entry.TransactionID] = true
	}
	err = e.queue.Update(ctx, func(current []trip.PendingEntry) []trip.PendingEntry {
		// Entries appended by another writer after the snapshot are kept
		// as they are.
		next := keep
		for _, entry := range current {
			if !seen[entry.TransactionID] {
				next = append(next, entry)
			}
		}
		res.Remaining = len(next)
		return next
	})
	if err != nil {
		e.countPass("error")
		return res, fmt.Errorf("write back pending trips: %w", err)
	}

	e.countPass("completed")
	e.setPending(res.Remaining)
	if e.metrics != nil {
		e.metrics.SyncPassDuration.Observe(time.Since(start).Seconds())
		e.metrics.TripsSyncedTotal.Add(float64(res.Synced))
	}
	e.log.Infow("sync pass finished",
		"synced", res.Synced,
		"remaining", res.Remaining,
		"trip_failures", res.TripFailures,
		"photos_uploaded", res.PhotosUploaded,
		"photo_failures", res.PhotoFailures,
		"duration", time.Since(start),
	)

	if res.Synced > 0 {
		e.notifier.Notify(notify.Notice{
			Level:   notify.Success,
			Title:   "Sync complete",
			Message: fmt.Sprintf("%d trip(s) synced", res.Synced),
		})
	}
	return res, nil
}

// syncEntry advances one entry in place and reports whether it is now fully
// synced.
func (e *Engine) syncEntry(ctx context.Context, entry *trip.PendingEntry, res *Result) bool {
	log := e.log.With("transaction_id", entry.TransactionID)
	entry.Attempts++

	if entry.RemoteTripID == "" {
		id, err := e.api.CreateTrip(ctx, entry.TripData)
		if err != nil {
			res.TripFailures++
			entry.LastError = err.Error()
			e.countCreate("error")
			log.Warnw("trip creation failed, keeping entry", "error", err)
			return false
		}
		e.countCreate("ok")
		entry.RemoteTripID = id
		log.Infow("trip created", "trip_id", id)
		e.recordRemoteID(ctx, entry.TransactionID, id)
	}

	// Photos go up one at a time in capture order.
	failed := false
	photos := make([]trip.PhotoCapture, len(entry.Photos))
	copy(photos, entry.Photos)
	for i := range photos {
		if photos[i].Uploaded {
			continue
		}
		remoteID, err := e.api.UploadPhoto(ctx, entry.RemoteTripID, photos[i], entry.TripData.UserID)
		if err != nil {
			failed = true
			res.PhotoFailures++
			entry.LastError = err.Error()
			e.countPhoto("error")
			log.Warnw("photo upload failed", "photo", photos[i].LocalURI, "error", err)
			continue
		}
		photos[i].MarkUploaded(remoteID)
		res.PhotosUploaded++
		e.countPhoto("ok")
	}
	entry.Photos = photos

	if failed {
		return false
	}
	entry.LastError = ""
	return true
}

// recordRemoteID writes a new remote id into the stored entry straight away,
// so a pass that dies before its write-back never creates the trip again.
func (e *Engine) recordRemoteID(ctx context.Context, txID, remoteID string) {
	err := e.queue.Update(ctx, func(current []trip.PendingEntry) []trip.PendingEntry {
		for i := range current {
			if current[i].TransactionID == txID && current[i].RemoteTripID == "" {
				current[i].RemoteTripID = remoteID
			}
		}
		return current
	})
	if err != nil {
		e.log.Warnw("could not record remote trip id", "transaction_id", txID, "trip_id", remoteID, "error", err)
	}
}

func (e *Engine) countPass(outcome string) {
	if e.metrics != nil {
		e.metrics.SyncPassesTotal.WithLabelValues(outcome).Inc()
	}
}

func (e *Engine) countCreate(result string) {
	if e.metrics != nil {
		e.metrics.TripCreatesTotal.WithLabelValues(result).Inc()
	}
}

func (e *Engine) countPhoto(result string) {
	if e.metrics != nil {
		e.metrics.PhotoUploadsTotal.WithLabelValues(result).Inc()
	}
}

func (e *Engine) setPending(n int) {
	if e.metrics != nil {
		e.metrics.PendingTrips.Set(float64(n))
	}
}
