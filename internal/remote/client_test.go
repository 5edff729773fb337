package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fakeyudi/tripsync/internal/trip"
)

type staticToken string

func (s staticToken) Token(context.Context) (string, error) { return string(s), nil }

func TestCreateTrip(t *testing.T) {
	var got trip.Record
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/trips" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer tok" {
			t.Errorf("Authorization: got %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Write([]byte(`{"success":true,"tripId":"trip-7"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", staticToken("tok"))
	rec := trip.Record{UserID: "u1", DistanceKm: 2, Activity: trip.Running, StartedAt: time.Unix(0, 0).UTC()}
	id, err := c.CreateTrip(context.Background(), rec)
	if err != nil {
		t.Fatalf("CreateTrip: %v", err)
	}
	if id != "trip-7" {
		t.Errorf("trip id: want trip-7, got %q", id)
	}
	if got.UserID != "u1" || got.Activity != trip.Running {
		t.Errorf("server saw %+v", got)
	}
}

func TestCreateTripNumericID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"tripId":42}`))
	}))
	defer srv.Close()

	id, err := NewClient(srv.URL, nil).CreateTrip(context.Background(), trip.Record{})
	if err != nil || id != "42" {
		t.Fatalf("got %q, %v", id, err)
	}
}

func TestCreateTripRejected(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"success false", http.StatusOK, `{"success":false,"error":"bad route"}`},
		{"server error", http.StatusInternalServerError, `{"error":"db down"}`},
		{"unauthorized", http.StatusUnauthorized, ``},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, nil).CreateTrip(context.Background(), trip.Record{})
			if err == nil {
				t.Fatal("expected error")
			}
			if !IsRejected(err) {
				t.Errorf("want *APIError, got %T: %v", err, err)
			}
		})
	}
}

func TestCreateTripTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	_, err := NewClient(srv.URL, nil).CreateTrip(context.Background(), trip.Record{})
	if err == nil {
		t.Fatal("expected transport error")
	}
	if IsRejected(err) {
		t.Error("transport failure must not look like a rejection")
	}
}

func TestUploadPhoto(t *testing.T) {
	dir := t.TempDir()
	photoPath := filepath.Join(dir, "summit.jpg")
	if err := os.WriteFile(photoPath, []byte("jpegbytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/trips/trip-7/photos" {
			t.Errorf("path: got %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
			return
		}
		if r.FormValue("userId") != "u1" || r.FormValue("latitude") != "1.5" || r.FormValue("description") != "view" {
			t.Errorf("form fields: %v", r.MultipartForm.Value)
		}
		f, hdr, err := r.FormFile("photo")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			return
		}
		data, _ := io.ReadAll(f)
		if string(data) != "jpegbytes" || hdr.Filename != "summit.jpg" {
			t.Errorf("file: %q %q", hdr.Filename, data)
		}
		w.Write([]byte(`{"success":true,"photo":{"id":99,"url":"x"}}`))
	}))
	defer srv.Close()

	photo := trip.PhotoCapture{LocalURI: "file://" + photoPath, Latitude: 1.5, Longitude: 2, Description: "view"}
	id, err := NewClient(srv.URL, staticToken("tok")).UploadPhoto(context.Background(), "trip-7", photo, "u1")
	if err != nil {
		t.Fatalf("UploadPhoto: %v", err)
	}
	if id != 99 {
		t.Errorf("photo id: want 99, got %d", id)
	}
}

func TestUploadPhotoMissingFile(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", nil)
	_, err := c.UploadPhoto(context.Background(), "t", trip.PhotoCapture{LocalURI: "/nope/missing.jpg"}, "u")
	if err == nil || !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("want not-exist error, got %v", err)
	}
}

func TestRateLimitHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"tripId":"1"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, WithRateLimit(0.001, 1))
	if _, err := c.CreateTrip(context.Background(), trip.Record{}); err != nil {
		t.Fatalf("first request within burst: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.CreateTrip(ctx, trip.Record{}); err == nil {
		t.Fatal("second request should wait for the limiter and hit the deadline")
	}
}
