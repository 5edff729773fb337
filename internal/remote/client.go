// Package remote is the client for the trip service: trip creation and photo
// upload, authenticated with a bearer token.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fakeyudi/tripsync/internal/logging"
	"github.com/fakeyudi/tripsync/internal/trip"
)

// API is what the recorder and the sync engine need from the trip service.
type API interface {
	CreateTrip(ctx context.Context, rec trip.Record) (string, error)
	UploadPhoto(ctx context.Context, tripID string, photo trip.PhotoCapture, userID string) (int, error)
}

// TokenSource yields the current bearer token.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// APIError is a response the service rejected or a non-2xx status.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("trip service returned status %d", e.Status)
	}
	return fmt.Sprintf("trip service returned status %d: %s", e.Status, e.Message)
}

// Client talks JSON and multipart over HTTP.
type Client struct {
	BaseURL string
	Tokens  TokenSource
	HTTP    *http.Client

	limiter *rate.Limiter
	log     *zap.SugaredLogger
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default client (10s timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.HTTP = hc }
}

// WithRateLimit caps outgoing requests per second. rps <= 0 disables it.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(c *Client) { c.log = logging.OrNop(l) }
}

// NewClient builds a client for baseURL.
func NewClient(baseURL string, tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Tokens:  tokens,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
		log:     logging.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type createTripResponse struct {
	Success bool     `json:"success"`
	TripID  flexible `json:"tripId"`
	Error   string   `json:"error"`
}

type uploadPhotoResponse struct {
	Success bool `json:"success"`
	Photo   *struct {
		ID int `json:"id"`
	} `json:"photo"`
	Error string `json:"error"`
}

// flexible accepts an id sent either as a JSON string or a number.
type flexible string

func (f *flexible) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexible(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("trip id is neither string nor number: %s", b)
	}
	*f = flexible(n.String())
	return nil
}

// CreateTrip posts rec and returns the server-assigned trip id.
func (c *Client) CreateTrip(ctx context.Context, rec trip.Record) (string, error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("encode trip: %w", err)
	}

	var out createTripResponse
	if err := c.do(ctx, http.MethodPost, "/trips", "application/json", bytes.NewReader(body), &out); err != nil {
		return "", err
	}
	if !out.Success || out.TripID == "" {
		return "", &APIError{Status: http.StatusOK, Message: orDefault(out.Error, "trip not created")}
	}
	c.log.Debugw("trip created", "trip_id", string(out.TripID))
	return string(out.TripID), nil
}

// UploadPhoto sends the photo file as multipart form data and returns the
// server-assigned photo id.
func (c *Client) UploadPhoto(ctx context.Context, tripID string, photo trip.PhotoCapture, userID string) (int, error) {
	path := localPath(photo.LocalURI)
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open photo %s: %w", path, err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("photo", filepath.Base(path))
	if err != nil {
		return 0, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return 0, fmt.Errorf("read photo %s: %w", path, err)
	}
	fields := map[string]string{
		"userId":    userID,
		"latitude":  strconv.FormatFloat(photo.Latitude, 'f', -1, 64),
		"longitude": strconv.FormatFloat(photo.Longitude, 'f', -1, 64),
	}
	if photo.Description != "" {
		fields["description"] = photo.Description
	}
	for _, k := range []string{"userId", "latitude", "longitude", "description"} {
		v, ok := fields[k]
		if !ok {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return 0, err
		}
	}
	if err := mw.Close(); err != nil {
		return 0, err
	}

	var out uploadPhotoResponse
	endpoint := "/trips/" + url.PathEscape(tripID) + "/photos"
	if err := c.do(ctx, http.MethodPost, endpoint, mw.FormDataContentType(), &buf, &out); err != nil {
		return 0, err
	}
	if !out.Success || out.Photo == nil {
		return 0, &APIError{Status: http.StatusOK, Message: orDefault(out.Error, "photo not stored")}
	}
	return out.Photo.ID, nil
}

// do sends an authenticated request and decodes the JSON response into out.
func (c *Client) do(ctx context.Context, method, endpoint, contentType string, body io.Reader, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+endpoint, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if c.Tokens != nil {
		token, err := c.Tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("auth token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(data, &e)
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// IsRejected reports whether err is a response from the service rather than
// a transport failure.
func IsRejected(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

// localPath turns a file:// URI into a filesystem path.
func localPath(uri string) string {
	if strings.HasPrefix(uri, "file://") {
		if u, err := url.Parse(uri); err == nil {
			return u.Path
		}
	}
	return uri
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
