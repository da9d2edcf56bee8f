// Package proxy is the direct HTTP channel to devices.
//
// Devices run a tiny HTTP server exposing GET /state and POST /toggle, /on
// and /off. The Client forwards those calls to http://<ip>/<path> with a
// short timeout so an unreachable device fails fast.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"time"

	"github.com/nerrad567/fleetlink/internal/device"
)

// Errors returned by the Client.
var (
	// ErrInvalidAddress is returned when the device address is not IPv4.
	ErrInvalidAddress = errors.New("proxy: invalid device address")

	// ErrDeviceUnreachable is returned when the device could not be
	// contacted or answered with a non-2xx status.
	ErrDeviceUnreachable = errors.New("proxy: device unreachable")
)

const (
	// DefaultTimeout bounds every device call.
	DefaultTimeout = 2 * time.Second

	// maxResponseBytes caps how much of a device reply is read.
	maxResponseBytes = 64 << 10
)

// Response is a device's reply.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

// Client talks to devices over HTTP.
type Client struct {
	http   *http.Client
	scheme string
}

// New creates a client. A non-positive timeout selects DefaultTimeout and
// an empty scheme selects http.
func New(timeout time.Duration, scheme string) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if scheme == "" {
		scheme = "http"
	}
	return &Client{
		http:   &http.Client{Timeout: timeout},
		scheme: scheme,
	}
}

// NewWithHTTPClient creates a client that sends requests through hc.
func NewWithHTTPClient(hc *http.Client, scheme string) *Client {
	c := New(hc.Timeout, scheme)
	c.http = hc
	return c
}

// ParseAddress accepts a dotted-quad IPv4 address.
func ParseAddress(s string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(s)
	if err != nil || !addr.Is4() {
		return netip.Addr{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return addr, nil
}

// State fetches GET /state from the device.
func (c *Client) State(ctx context.Context, ip string) (*Response, error) {
	return c.do(ctx, http.MethodGet, ip, "state")
}

// Send posts a command to the device at POST /<command>.
func (c *Client) Send(ctx context.Context, ip string, cmd device.Command) (*Response, error) {
	if !cmd.Valid() {
		return nil, fmt.Errorf("%w: %q", device.ErrUnknownCommand, cmd)
	}
	return c.do(ctx, http.MethodPost, ip, string(cmd))
}

func (c *Client) do(ctx context.Context, method, ip, path string) (*Response, error) {
	addr, err := ParseAddress(ip)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s://%s/%s", c.scheme, addr, path)
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", addr, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrDeviceUnreachable, method, addr, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading reply from %s: %w", ErrDeviceUnreachable, addr, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s %s returned %d", ErrDeviceUnreachable, method, addr, resp.StatusCode)
	}

	return &Response{
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}
