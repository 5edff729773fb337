package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/fakeyudi/tripsync/internal/syncer"
)

// ErrUnreachable means nothing accepted a connection at the configured
// address. A daemon that accepted the request and then ran out of time is
// not unreachable: its work may still be running.
var ErrUnreachable = errors.New("daemon not reachable")

// Client talks to a running daemon.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// NewClient targets addr ("host:port" or a full URL). A zero timeout waits
// for as long as ctx allows.
func NewClient(addr string, timeout time.Duration) *Client {
	base := addr
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{
		BaseURL: strings.TrimRight(base, "/"),
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// Status fetches GET /status.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var st Status
	resp, err := c.do(ctx, http.MethodGet, "/status")
	if err != nil {
		return st, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return st, fmt.Errorf("daemon status: unexpected %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return st, fmt.Errorf("decode daemon status: %w", err)
	}
	return st, nil
}

// Sync asks the daemon for a manual pass. The reasons a pass did not run
// come back as the syncer sentinel errors.
func (c *Client) Sync(ctx context.Context) (syncer.Result, error) {
	resp, err := c.do(ctx, http.MethodPost, "/sync")
	if err != nil {
		return syncer.Result{}, err
	}
	defer resp.Body.Close()

	var body SyncResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return syncer.Result{}, fmt.Errorf("decode sync response (%s): %w", resp.Status, err)
	}
	switch body.Code {
	case "":
		if body.Result == nil {
			return syncer.Result{}, nil
		}
		return *body.Result, nil
	case codeEmpty:
		return syncer.Result{}, syncer.ErrNoPending
	case codeOffline:
		return syncer.Result{}, syncer.ErrOffline
	case codeBusy:
		return syncer.Result{}, syncer.ErrAlreadySyncing
	case codeRecording:
		return syncer.Result{}, syncer.ErrRecording
	default:
		return syncer.Result{}, fmt.Errorf("daemon sync failed: %s", body.Error)
	}
}

// Foreground reports that the user came back to the app.
func (c *Client) Foreground(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodPost, "/foreground")
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("daemon foreground: unexpected %s", resp.Status)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	switch {
	case err == nil:
		return resp, nil
	case isDialError(err):
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	default:
		return nil, fmt.Errorf("daemon %s %s: %w", method, path, err)
	}
}

// isDialError reports whether err happened before a connection existed.
func isDialError(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}
