package remote

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-version"
)

// ClientConfig holds configuration for the executor client.
type ClientConfig struct {
	// URL is the executor endpoint, e.g. ws://127.0.0.1:9300/jobs.
	URL string

	// KeepAlive reuses one connection across jobs.
	KeepAlive bool

	// HandshakeTimeout bounds dialing (default 10s).
	HandshakeTimeout time.Duration

	// Header is sent with the upgrade request.
	Header http.Header
}

// Client sends jobs to an executor. Calls are serialized.
type Client struct {
	cfg         ClientConfig
	constraints version.Constraints

	// mu serializes Execute; conn is swapped atomically so Close can
	// interrupt a request in flight.
	mu      sync.Mutex
	conn    atomic.Pointer[websocket.Conn]
	waiting atomic.Bool
}

// NewClient creates a client. No connection is made until Execute.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("remote executor URL is required")
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	constraints, err := version.NewConstraint(SupportedProtocols)
	if err != nil {
		return nil, err
	}
	return &Client{cfg: cfg, constraints: constraints}, nil
}

// URL returns the executor endpoint.
func (c *Client) URL() string { return c.cfg.URL }

// Waiting reports whether a request is in flight.
func (c *Client) Waiting() bool { return c.waiting.Load() }

// Execute sends req and waits for the executor's response. Any transport
// error drops the connection so the next call dials afresh.
func (c *Client) Execute(ctx context.Context, req Request) (*Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := c.connLocked(ctx)
	if err != nil {
		return nil, err
	}

	c.waiting.Store(true)
	defer c.waiting.Store(false)

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	// Cancellation closes the connection; the greeting deadline is cleared.
	conn.SetReadDeadline(time.Time{})

	if err := conn.WriteJSON(req); err != nil {
		c.dropLocked()
		return nil, fmt.Errorf("failed to send job: %w", err)
	}
	var resp Response
	if err := conn.ReadJSON(&resp); err != nil {
		c.dropLocked()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if !c.cfg.KeepAlive {
		c.dropLocked()
	}
	return &resp, nil
}

func (c *Client) connLocked(ctx context.Context) (*websocket.Conn, error) {
	if conn := c.conn.Load(); conn != nil {
		return conn, nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, c.cfg.URL, c.cfg.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("executor connection failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("executor connection failed: %w", err)
	}

	var hello Hello
	conn.SetReadDeadline(time.Now().Add(c.cfg.HandshakeTimeout))
	if err := conn.ReadJSON(&hello); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to read executor greeting: %w", err)
	}
	if err := c.checkProtocol(hello.Protocol); err != nil {
		conn.Close()
		return nil, err
	}

	c.conn.Store(conn)
	return conn, nil
}

func (c *Client) checkProtocol(v string) error {
	got, err := version.NewVersion(v)
	if err != nil {
		return fmt.Errorf("executor sent invalid protocol version %q: %w", v, err)
	}
	if !c.constraints.Check(got) {
		return fmt.Errorf("executor protocol %s does not satisfy %s", got, SupportedProtocols)
	}
	return nil
}

func (c *Client) dropLocked() {
	if conn := c.conn.Swap(nil); conn != nil {
		conn.Close()
	}
}

// Close drops the connection. A request in flight fails.
func (c *Client) Close() error {
	if conn := c.conn.Swap(nil); conn != nil {
		return conn.Close()
	}
	return nil
}
