// Package pending is the durable queue of trips that have not been confirmed
// by the remote service. The whole queue is one JSON array under one key and
// every change rewrites it entirely.
package pending

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fakeyudi/tripsync/internal/kv"
	"github.com/fakeyudi/tripsync/internal/logging"
	"github.com/fakeyudi/tripsync/internal/trip"
)

// QueueKey is the storage key holding the serialized queue.
const QueueKey = "pending_trips"

// corruptKeyPrefix prefixes the key an unreadable queue is moved to.
const corruptKeyPrefix = QueueKey + ".corrupt."

// Locker is an inter-process lock, such as a *flock.Flock.
type Locker interface {
	TryLockContext(ctx context.Context, retryDelay time.Duration) (bool, error)
	Unlock() error
}

// lockRetry is how often a blocked writer polls the file lock.
const lockRetry = 10 * time.Millisecond

// Store owns the persisted collection of pending entries.
type Store struct {
	storage kv.Storage
	log     *zap.SugaredLogger
	now     func() time.Time

	// mu makes each read-modify-write atomic within this process; flock
	// extends that to every process sharing the data directory.
	mu    sync.Mutex
	flock Locker
}

// StoreOption customises a Store.
type StoreOption func(*Store)

// WithLock serialises every queue access on l as well as the in-process
// mutex.
func WithLock(l Locker) StoreOption {
	return func(s *Store) { s.flock = l }
}

// WithClock replaces the clock used to name quarantine keys.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore wraps storage. A nil logger discards log output.
func NewStore(storage kv.Storage, log *zap.SugaredLogger, opts ...StoreOption) *Store {
	s := &Store{storage: storage, log: logging.OrNop(log), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LoadAll returns the queued entries in persisted order. A missing value is
// an empty queue. An undecodable value is copied aside under a quarantine
// key and also reported as an empty queue, so the unsynced trips it may hold
// can still be recovered by hand.
func (s *Store) LoadAll(ctx context.Context) ([]trip.PendingEntry, error) {
	unlock, err := s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return s.loadLocked(ctx)
}

// AppendEntry adds entry to the end of the queue.
func (s *Store) AppendEntry(ctx context.Context, entry trip.PendingEntry) error {
	return s.Update(ctx, func(entries []trip.PendingEntry) []trip.PendingEntry {
		return append(entries, entry)
	})
}

// ReplaceAll overwrites the persisted queue with entries.
func (s *Store) ReplaceAll(ctx context.Context, entries []trip.PendingEntry) error {
	unlock, err := s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	return s.writeLocked(ctx, entries)
}

// Update loads the queue, applies fn and writes the result back, holding the
// store lock for the whole cycle.
func (s *Store) Update(ctx context.Context, fn func([]trip.PendingEntry) []trip.PendingEntry) error {
	unlock, err := s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	entries, err := s.loadLocked(ctx)
	if err != nil {
		return err
	}
	return s.writeLocked(ctx, fn(entries))
}

// Len returns the number of queued entries.
func (s *Store) Len(ctx context.Context) (int, error) {
	entries, err := s.LoadAll(ctx)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

func (s *Store) lock(ctx context.Context) (func(), error) {
	s.mu.Lock()
	if s.flock == nil {
		return s.mu.Unlock, nil
	}
	if _, err := s.flock.TryLockContext(ctx, lockRetry); err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("failed to lock pending queue: %w", err)
	}
	return func() {
		if err := s.flock.Unlock(); err != nil {
			s.log.Warnw("failed to unlock pending queue", "error", err)
		}
		s.mu.Unlock()
	}, nil
}

func (s *Store) loadLocked(ctx context.Context) ([]trip.PendingEntry, error) {
	raw, ok, err := s.storage.GetItem(ctx, QueueKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read pending queue: %w", err)
	}
	if !ok || raw == "" {
		return []trip.PendingEntry{}, nil
	}

	var entries []trip.PendingEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		s.quarantineLocked(ctx, raw, err)
		return []trip.PendingEntry{}, nil
	}
	if entries == nil {
		entries = []trip.PendingEntry{}
	}
	return entries, nil
}

func (s *Store) quarantineLocked(ctx context.Context, raw string, cause error) {
	key := fmt.Sprintf("%s%d", corruptKeyPrefix, s.now().UnixNano())
	// Never overwrite an earlier quarantined value.
	for n := 1; ; n++ {
		_, taken, err := s.storage.GetItem(ctx, key)
		if err != nil || !taken {
			break
		}
		key = fmt.Sprintf("%s%d-%d", corruptKeyPrefix, s.now().UnixNano(), n)
	}
	if err := s.storage.SetItem(ctx, key, raw); err != nil {
		s.log.Errorw("pending queue unreadable and could not be quarantined",
			"error", cause, "quarantine_error", err)
		return
	}
	if err := s.storage.RemoveItem(ctx, QueueKey); err != nil {
		s.log.Warnw("failed to clear corrupt pending queue", "error", err)
	}
	s.log.Warnw("pending queue unreadable, moved aside", "error", cause, "quarantine_key", key)
}

func (s *Store) writeLocked(ctx context.Context, entries []trip.PendingEntry) error {
	if entries == nil {
		entries = []trip.PendingEntry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to encode pending queue: %w", err)
	}
	if err := s.storage.SetItem(ctx, QueueKey, string(data)); err != nil {
		return fmt.Errorf("failed to persist pending queue: %w", err)
	}
	return nil
}
