package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fakeyudi/tripsync/internal/syncer"
)

// Status is the body of GET /status.
type Status struct {
	Online    bool   `json:"online"`
	Syncing   bool   `json:"syncing"`
	Recording bool   `json:"recording"`
	Pending   int    `json:"pending"`
	Scheduled string `json:"scheduled,omitempty"`
}

// SyncResponse is the body of POST /sync. Code names the reason a pass did
// not run.
type SyncResponse struct {
	Result *syncer.Result `json:"result,omitempty"`
	Code   string         `json:"code,omitempty"`
	Error  string         `json:"error,omitempty"`
}

const (
	codeOffline   = "offline"
	codeBusy      = "already_syncing"
	codeEmpty     = "no_pending"
	codeRecording = "recording"
	codeInternal  = "internal"
)

// Handler returns the control API router.
func (d *Daemon) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(d.instrument)

	r.Get("/status", d.handleStatus)
	r.Post("/sync", d.handleSync)
	r.Post("/foreground", d.handleForeground)
	if d.gather != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.gather, promhttp.HandlerOpts{}))
	}
	return r
}

func (d *Daemon) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := Status{
		Online:    d.monitor.Current(),
		Syncing:   d.engine.IsSyncing(),
		Recording: d.recording(),
	}
	if n, err := d.queue.Len(r.Context()); err == nil {
		st.Pending = n
	} else {
		d.log.Warnw("could not read pending queue", "error", err)
	}
	if tr, ok := d.sched.Pending(); ok {
		st.Scheduled = string(tr)
	}
	writeJSON(w, http.StatusOK, st)
}

// handleSync runs the pass detached from the request: a client that stops
// waiting must not abort a pass that has already started.
func (d *Daemon) handleSync(w http.ResponseWriter, r *http.Request) {
	res, err := d.sched.Manual(context.WithoutCancel(r.Context()))
	if err == nil {
		writeJSON(w, http.StatusOK, SyncResponse{Result: &res})
		return
	}

	status, code := http.StatusInternalServerError, codeInternal
	switch {
	case errors.Is(err, syncer.ErrNoPending):
		status, code = http.StatusOK, codeEmpty
	case errors.Is(err, syncer.ErrOffline):
		status, code = http.StatusServiceUnavailable, codeOffline
	case errors.Is(err, syncer.ErrAlreadySyncing):
		status, code = http.StatusConflict, codeBusy
	case errors.Is(err, syncer.ErrRecording):
		status, code = http.StatusConflict, codeRecording
	default:
		d.log.Errorw("manual sync failed", "error", err)
	}
	writeJSON(w, status, SyncResponse{Code: code, Error: err.Error()})
}

func (d *Daemon) handleForeground(w http.ResponseWriter, r *http.Request) {
	d.sched.Foreground(r.Context())
	w.WriteHeader(http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// instrument logs each request and records its metrics by route pattern.
func (d *Daemon) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unknown"
		}
		elapsed := time.Since(start)
		if d.metrics != nil {
			d.metrics.ControlRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(rec.statusCode)).Inc()
			d.metrics.ControlRequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
		}
		d.log.Debugw("control request",
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"route", route,
			"status", rec.statusCode,
			"duration_ms", elapsed.Milliseconds(),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.written {
		r.statusCode = code
		r.written = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.written = true
	return r.ResponseWriter.Write(b)
}
