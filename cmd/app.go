package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/fakeyudi/tripsync/internal/config"
	"github.com/fakeyudi/tripsync/internal/elevation"
	"github.com/fakeyudi/tripsync/internal/identity"
	"github.com/fakeyudi/tripsync/internal/kv"
	"github.com/fakeyudi/tripsync/internal/location"
	"github.com/fakeyudi/tripsync/internal/metrics"
	"github.com/fakeyudi/tripsync/internal/netmon"
	"github.com/fakeyudi/tripsync/internal/notify"
	"github.com/fakeyudi/tripsync/internal/pending"
	"github.com/fakeyudi/tripsync/internal/profile"
	"github.com/fakeyudi/tripsync/internal/recorder"
	"github.com/fakeyudi/tripsync/internal/remote"
	"github.com/fakeyudi/tripsync/internal/session"
	"github.com/fakeyudi/tripsync/internal/syncer"
)

// app is everything a command needs, built from cfg.
type app struct {
	cfg      config.Config
	log      *zap.SugaredLogger
	dataDir  string
	storage  kv.Storage
	queue    *pending.Store
	tokens   identity.TokenFile
	api      *remote.Client
	monitor  *netmon.Monitor
	sessions session.SessionStore
	out      io.Writer
}

// Lock files in the data directory shared by the CLI and the daemon.
const (
	queueLockFile = "queue.lock"
	syncLockFile  = "sync.lock"
)

func openApp(out io.Writer) (*app, error) {
	c := GetConfig()
	log := GetLogger()

	dataDir, err := config.DataDir()
	if err != nil {
		return nil, err
	}
	sessions, err := session.NewSessionStore(dataDir)
	if err != nil {
		return nil, err
	}

	dbPath := c.StoragePath
	if dbPath == "" {
		dbPath = filepath.Join(dataDir, "tripsync.db")
	}
	storage, err := kv.Open(kv.Options{
		Backend:   c.StorageBackend,
		Dir:       filepath.Join(dataDir, "queue"),
		Path:      dbPath,
		RedisAddr: c.RedisAddr,
		KeyPrefix: "tripsync:",
	})
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", c.StorageBackend, err)
	}

	tokenPath := c.TokenPath
	if tokenPath == "" {
		if tokenPath, err = profile.DefaultTokenPath(); err != nil {
			storage.Close()
			return nil, err
		}
	}
	tokens := identity.TokenFile{Path: tokenPath}

	timeout := c.HTTPTimeout.Std()
	api := remote.NewClient(c.APIBaseURL, tokens,
		remote.WithHTTPClient(&http.Client{Timeout: timeout}),
		remote.WithRateLimit(c.RequestsPerSecond, 1),
		remote.WithLogger(log),
	)
	monitor := netmon.NewMonitor(netmon.NewHTTPProber(c.ResolvedProbeURL(), 5*time.Second), c.ProbeInterval.Std(), log)

	return &app{
		cfg:      c,
		log:      log,
		dataDir:  dataDir,
		storage:  storage,
		queue:    pending.NewStore(storage, log, pending.WithLock(flock.New(filepath.Join(dataDir, queueLockFile)))),
		tokens:   tokens,
		api:      api,
		monitor:  monitor,
		sessions: sessions,
		out:      out,
	}, nil
}

func (a *app) Close() error { return a.storage.Close() }

func (a *app) notifier() notify.Notifier { return notify.NewWriter(a.out) }

func (a *app) identityProvider() identity.Provider {
	return identity.Chain{identity.Static(a.cfg.UserID), identity.JWTIdentity{Tokens: a.tokens}}
}

// engine builds a sync engine; m may be nil.
func (a *app) engine(m *metrics.Registry) *syncer.Engine {
	return syncer.NewEngine(a.queue, a.api, a.monitor,
		syncer.WithNotifier(a.notifier()),
		syncer.WithMetrics(m),
		syncer.WithLogger(a.log),
		syncer.WithPassLock(flock.New(filepath.Join(a.dataDir, syncLockFile))),
	)
}

// controller builds a recorder over src. now may be nil.
func (a *app) controller(src location.Source, now func() time.Time) *recorder.Controller {
	if now == nil {
		now = time.Now
	}
	ctrl := recorder.New(recorder.Deps{
		Identity:  a.identityProvider(),
		Location:  src,
		Elevation: elevation.NewAltitudeTracker(elevation.DefaultThresholdMeters),
		Queue:     a.queue,
		API:       a.api,
		Net:       a.monitor,
		Notifier:  a.notifier(),
		Log:       a.log,
		Now:       now,
	})
	ctrl.OnUploadProgress(func() {
		if err := a.persist(ctrl); err != nil {
			a.log.Warnw("could not checkpoint upload progress", "error", err)
		}
	})
	return ctrl
}

// resume restores the persisted session into a controller fed by src. ok is
// false when there is no session.
func (a *app) resume(ctx context.Context, src location.Source) (*recorder.Controller, bool, error) {
	s, err := a.sessions.Load()
	if errors.Is(err, session.ErrNoSession) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	ctrl := a.controller(src, nil)
	if err := ctrl.Restore(ctx, s); err != nil {
		return nil, false, err
	}
	return ctrl, true, nil
}

// persist writes the controller's session back, or removes it when idle.
func (a *app) persist(ctrl *recorder.Controller) error {
	if err := ctrl.SaveTo(a.sessions); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	return nil
}

// recording reports whether a session is on disk.
func (a *app) recording() bool { return session.Exists(a.dataDir) }
