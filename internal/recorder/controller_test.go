package recorder

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/fakeyudi/tripsync/internal/elevation"
	"github.com/fakeyudi/tripsync/internal/geo"
	"github.com/fakeyudi/tripsync/internal/identity"
	"github.com/fakeyudi/tripsync/internal/location"
	"github.com/fakeyudi/tripsync/internal/notify"
	"github.com/fakeyudi/tripsync/internal/session"
	"github.com/fakeyudi/tripsync/internal/trip"
)

type fakeAPI struct {
	mu        sync.Mutex
	createErr error
	photoErr  map[string]error
	creates   []trip.Record
	uploads   []string
}

func (a *fakeAPI) CreateTrip(_ context.Context, rec trip.Record) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.createErr != nil {
		return "", a.createErr
	}
	a.creates = append(a.creates, rec)
	return "remote-1", nil
}

func (a *fakeAPI) UploadPhoto(_ context.Context, tripID string, p trip.PhotoCapture, _ string) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.photoErr[p.LocalURI]; err != nil {
		return 0, err
	}
	a.uploads = append(a.uploads, tripID+":"+p.LocalURI)
	return len(a.uploads), nil
}

type fakeQueue struct {
	mu      sync.Mutex
	err     error
	entries []trip.PendingEntry
}

func (q *fakeQueue) AppendEntry(_ context.Context, e trip.PendingEntry) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.entries = append(q.entries, e)
	return nil
}

type fakeNet bool

func (n fakeNet) IsConnected(context.Context) bool { return bool(n) }

// stepDeg is one kilometre of latitude on the haversine sphere.
var stepDeg = 1 / (geo.EarthRadiusKm * math.Pi / 180)

var t0 = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

type fixture struct {
	ctl     *Controller
	loc     *location.Manual
	api     *fakeAPI
	queue   *fakeQueue
	now     time.Time
	notices []notify.Notice
}

func newFixture(t *testing.T, online bool) *fixture {
	t.Helper()
	f := &fixture{
		loc:   location.NewManual(true),
		api:   &fakeAPI{photoErr: map[string]error{}},
		queue: &fakeQueue{},
		now:   t0,
	}
	f.ctl = New(Deps{
		Identity:  identity.Static("user-1"),
		Location:  f.loc,
		Elevation: elevation.NewAltitudeTracker(0),
		Queue:     f.queue,
		API:       f.api,
		Net:       fakeNet(online),
		Notifier:  notify.Func(func(n notify.Notice) { f.notices = append(f.notices, n) }),
		Now:       func() time.Time { return f.now },
	})
	return f
}

// walk pushes n fixes one kilometre and ten minutes apart.
func (f *fixture) walk(n int) {
	for i := 0; i < n; i++ {
		f.now = t0.Add(time.Duration(i) * 10 * time.Minute)
		f.loc.Push(location.Position{
			Latitude:  float64(i) * stepDeg,
			Longitude: 0,
			Timestamp: f.now,
		})
	}
}

func (f *fixture) recordThreePoints(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	if err := f.ctl.StartRecording(ctx, trip.Running); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.walk(3)
	if err := f.ctl.StopRecording(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestThreePointTrip(t *testing.T) {
	f := newFixture(t, true)
	f.recordThreePoints(t)

	if f.ctl.State() != AwaitingSaveDetails {
		t.Fatalf("state: %s", f.ctl.State())
	}
	if _, err := f.ctl.SaveTripWithDetails(context.Background(), "Morning run", ""); err != nil {
		t.Fatalf("save: %v", err)
	}
	if len(f.api.creates) != 1 {
		t.Fatalf("creates: %d", len(f.api.creates))
	}
	rec := f.api.creates[0]
	if math.Abs(rec.DistanceKm-2.0) > 1e-6 {
		t.Errorf("distance: want ~2.0, got %v", rec.DistanceKm)
	}
	if rec.DurationSeconds != 1200 {
		t.Errorf("duration: want 1200, got %d", rec.DurationSeconds)
	}
	if math.Abs(rec.AveragePace-6.0) > 1e-6 {
		t.Errorf("pace: want ~6.0, got %v", rec.AveragePace)
	}
	if len(rec.Route) != 3 || rec.Activity != trip.Running || rec.UserID != "user-1" {
		t.Errorf("record: %+v", rec)
	}
	if rec.Title == nil || *rec.Title != "Morning run" || rec.Description != nil {
		t.Errorf("title/description: %v %v", rec.Title, rec.Description)
	}
	if len(f.queue.entries) != 0 {
		t.Error("online save should not queue")
	}
	if f.ctl.State() != Idle {
		t.Errorf("state after save: %s", f.ctl.State())
	}
}

func TestOfflineSaveQueuesOnce(t *testing.T) {
	f := newFixture(t, false)
	f.recordThreePoints(t)

	res, err := f.ctl.SaveTripWithDetails(context.Background(), "", "")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if len(f.api.creates) != 0 {
		t.Error("offline save must not call CreateTrip")
	}
	if len(f.queue.entries) != 1 {
		t.Fatalf("queued: want 1, got %d", len(f.queue.entries))
	}
	e := f.queue.entries[0]
	if e.TransactionID == "" || e.TransactionID != res.TransactionID || e.RemoteTripID != "" {
		t.Errorf("entry: %+v", e)
	}
	if f.ctl.State() != Idle {
		t.Errorf("state: %s", f.ctl.State())
	}
	last := f.notices[len(f.notices)-1]
	if last.Level != notify.Success {
		t.Errorf("saving offline is a success, got %+v", last)
	}
}

func TestStopWithTooFewSamples(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	if err := f.ctl.StartRecording(ctx, trip.Walking); err != nil {
		t.Fatal(err)
	}
	f.walk(1)
	if err := f.ctl.StopRecording(ctx); !errors.Is(err, ErrTripTooShort) {
		t.Fatalf("want ErrTripTooShort, got %v", err)
	}
	if f.ctl.State() != Idle {
		t.Errorf("state: %s", f.ctl.State())
	}
	if len(f.queue.entries) != 0 || len(f.api.creates) != 0 {
		t.Error("nothing should be persisted")
	}
}

func TestUploadFailureKeepsRemoteTripID(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	if err := f.ctl.StartRecording(ctx, trip.Hiking); err != nil {
		t.Fatal(err)
	}
	f.walk(2)
	if _, err := f.ctl.TakePhoto(ctx, "file:///a.jpg", "summit"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.ctl.TakePhoto(ctx, "file:///b.jpg", ""); err != nil {
		t.Fatal(err)
	}
	if err := f.ctl.StopRecording(ctx); err != nil {
		t.Fatal(err)
	}
	f.api.photoErr["file:///b.jpg"] = errors.New("timeout")

	res, err := f.ctl.SaveTripWithDetails(ctx, "", "")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if res.Uploaded || res.RemoteTripID != "remote-1" {
		t.Errorf("result: %+v", res)
	}
	if len(f.queue.entries) != 1 {
		t.Fatalf("queued: %d", len(f.queue.entries))
	}
	e := f.queue.entries[0]
	if e.RemoteTripID != "remote-1" {
		t.Errorf("queued entry lost the remote id: %+v", e)
	}
	if !e.Photos[0].Uploaded || e.Photos[1].Uploaded {
		t.Errorf("photo flags: %+v", e.Photos)
	}
	if e.Photos[0].Latitude != stepDeg {
		t.Errorf("photo should be tagged with the last fix, got %v", e.Photos[0].Latitude)
	}
}

func TestCrashMidUploadResumesWithRemoteID(t *testing.T) {
	ctx := context.Background()
	store, err := session.NewSessionStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	first := newFixture(t, true)
	first.ctl.OnUploadProgress(func() {
		if err := first.ctl.SaveTo(store); err != nil {
			t.Errorf("checkpoint: %v", err)
		}
	})
	if err := first.ctl.StartRecording(ctx, trip.Walking); err != nil {
		t.Fatal(err)
	}
	first.walk(2)
	for _, uri := range []string{"file:///a.jpg", "file:///b.jpg"} {
		if _, err := first.ctl.TakePhoto(ctx, uri, ""); err != nil {
			t.Fatal(err)
		}
	}
	if err := first.ctl.StopRecording(ctx); err != nil {
		t.Fatal(err)
	}
	// The process dies while b.jpg is in flight: nothing after the last
	// checkpoint reaches the session file.
	first.api.photoErr["file:///b.jpg"] = errors.New("killed")
	if _, err := first.ctl.SaveTripWithDetails(ctx, "", ""); err != nil {
		t.Fatal(err)
	}

	s, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if s.RemoteTripID != "remote-1" || !s.Photos[0].Uploaded || s.Photos[1].Uploaded {
		t.Fatalf("checkpointed session: remote %q photos %+v", s.RemoteTripID, s.Photos)
	}

	second := newFixture(t, true)
	second.ctl.api = first.api
	if err := second.ctl.Restore(ctx, s); err != nil {
		t.Fatal(err)
	}
	delete(first.api.photoErr, "file:///b.jpg")
	res, err := second.ctl.SaveTripWithDetails(ctx, "", "")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Uploaded || res.RemoteTripID != "remote-1" {
		t.Errorf("retry result: %+v", res)
	}
	if len(first.api.creates) != 1 {
		t.Errorf("trip created %d times", len(first.api.creates))
	}
	want := []string{"remote-1:file:///a.jpg", "remote-1:file:///b.jpg"}
	if len(first.api.uploads) != 2 || first.api.uploads[0] != want[0] || first.api.uploads[1] != want[1] {
		t.Errorf("uploads: want %v, got %v", want, first.api.uploads)
	}
}

func TestQueueFailureStaysAwaitingSave(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	f.recordThreePoints(t)
	f.api.createErr = errors.New("503")
	f.queue.err = errors.New("disk full")

	if _, err := f.ctl.SaveTripWithDetails(ctx, "", ""); err == nil {
		t.Fatal("expected the queue error")
	}
	if f.ctl.State() != AwaitingSaveDetails {
		t.Fatalf("state: %s", f.ctl.State())
	}

	f.queue.err = nil
	if _, err := f.ctl.SaveTripWithDetails(ctx, "", ""); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(f.queue.entries) != 1 {
		t.Errorf("queued: %d", len(f.queue.entries))
	}
}

func TestStartPreconditions(t *testing.T) {
	ctx := context.Background()

	t.Run("no identity", func(t *testing.T) {
		f := newFixture(t, true)
		f.ctl.identity = identity.Chain{}
		if err := f.ctl.StartRecording(ctx, trip.Running); !errors.Is(err, ErrNoIdentity) {
			t.Fatalf("want ErrNoIdentity, got %v", err)
		}
		if f.ctl.State() != Idle {
			t.Error("should stay idle")
		}
	})

	t.Run("permission denied", func(t *testing.T) {
		f := newFixture(t, true)
		f.ctl.location = location.NewManual(false)
		if err := f.ctl.StartRecording(ctx, trip.Running); !errors.Is(err, ErrPermissionDenied) {
			t.Fatalf("want ErrPermissionDenied, got %v", err)
		}
		if f.ctl.State() != Idle {
			t.Error("should stay idle")
		}
	})

	t.Run("already recording", func(t *testing.T) {
		f := newFixture(t, true)
		if err := f.ctl.StartRecording(ctx, trip.Running); err != nil {
			t.Fatal(err)
		}
		if err := f.ctl.StartRecording(ctx, trip.Running); !errors.Is(err, ErrInvalidState) {
			t.Fatalf("want ErrInvalidState, got %v", err)
		}
	})
}

func TestTakePhotoWithoutLocation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	if err := f.ctl.StartRecording(ctx, trip.Running); err != nil {
		t.Fatal(err)
	}
	if _, err := f.ctl.TakePhoto(ctx, "x.jpg", ""); !errors.Is(err, ErrNoLocation) {
		t.Fatalf("want ErrNoLocation, got %v", err)
	}
}

func TestCancelSave(t *testing.T) {
	f := newFixture(t, true)
	f.recordThreePoints(t)
	if err := f.ctl.CancelSave(); err != nil {
		t.Fatal(err)
	}
	if f.ctl.State() != Idle || f.ctl.Stats().Samples != 0 {
		t.Errorf("cancel should clear the session: %+v", f.ctl.Stats())
	}
	if err := f.ctl.CancelSave(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second cancel: %v", err)
	}
}

func TestStateChangeHook(t *testing.T) {
	f := newFixture(t, false)
	var seen []State
	f.ctl.OnStateChange(func(from, to State) {
		if from == Recording {
			seen = append(seen, to)
		}
	})
	f.recordThreePoints(t)
	if len(seen) != 1 || seen[0] != AwaitingSaveDetails {
		t.Fatalf("leaving recording: %v", seen)
	}
}

func TestSnapshotRestoreAcrossProcesses(t *testing.T) {
	ctx := context.Background()
	store, err := session.NewSessionStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	first := newFixture(t, false)
	if err := first.ctl.StartRecording(ctx, trip.Cycling); err != nil {
		t.Fatal(err)
	}
	first.walk(2)
	if err := first.ctl.SaveTo(store); err != nil {
		t.Fatal(err)
	}

	// A later invocation picks the recording up and keeps sampling.
	second := newFixture(t, false)
	s, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if err := second.ctl.Restore(ctx, s); err != nil {
		t.Fatal(err)
	}
	if !second.ctl.IsRecording() {
		t.Fatalf("state: %s", second.ctl.State())
	}
	second.now = t0.Add(20 * time.Minute)
	second.loc.Push(location.Position{Latitude: 2 * stepDeg, Timestamp: second.now})
	if err := second.ctl.StopRecording(ctx); err != nil {
		t.Fatal(err)
	}
	if got := second.ctl.Stats().DistanceKm; math.Abs(got-2.0) > 1e-6 {
		t.Errorf("distance after restore: %v", got)
	}
	if _, err := second.ctl.SaveTripWithDetails(ctx, "", ""); err != nil {
		t.Fatal(err)
	}
	if err := second.ctl.SaveTo(store); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Load(); !errors.Is(err, session.ErrNoSession) {
		t.Errorf("idle controller should delete the session: %v", err)
	}
	if rec := second.queue.entries[0].TripData; rec.DurationSeconds != 1200 || rec.Activity != trip.Cycling {
		t.Errorf("record: %+v", rec)
	}
}

func TestRestoreRejectsUnknownState(t *testing.T) {
	f := newFixture(t, true)
	if err := f.ctl.Restore(context.Background(), &session.Session{State: "bogus"}); err == nil {
		t.Fatal("expected an error")
	}
}
