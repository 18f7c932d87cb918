// Package transport is the client end of the room websocket. It keeps one
// connection open, re-dialing with exponential backoff whenever it drops.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"codesync/internal/models"
	"codesync/internal/retry"
	"codesync/internal/utils"
)

const (
	DefaultReconnectDelay    = 5 * time.Second
	DefaultMaxReconnectDelay = time.Minute
	writeWait             = 10 * time.Second
)

var (
	ErrNotConnected     = errors.New("transport: not connected")
	ErrMalformedMessage = errors.New("transport: malformed message")
	ErrClosed           = errors.New("transport: closed")
)

// Handler receives connection lifecycle events and inbound frames. Calls are
// made from the Run goroutine, one at a time.
type Handler interface {
	OnConnected()
	OnDisconnected(err error)
	OnFrame(frame models.InboundFrame)
	OnError(err error)
}

type Options struct {
	URL    string
	Header http.Header
	// ReconnectDelay is the first wait after a lost connection or failed
	// dial. Consecutive failed dials double it up to MaxReconnectDelay.
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	Dialer            *websocket.Dialer
	Log               *utils.Logger
}

type Client struct {
	opts    Options
	backoff retry.Config

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
	done   chan struct{}
}

func New(opts Options) *Client {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.MaxReconnectDelay < opts.ReconnectDelay {
		opts.MaxReconnectDelay = max(DefaultMaxReconnectDelay, opts.ReconnectDelay)
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.Log == nil {
		opts.Log = utils.NewNopLogger()
	}
	return &Client{
		opts: opts,
		backoff: retry.Config{
			InitialWait: opts.ReconnectDelay,
			MaxWait:     opts.MaxReconnectDelay,
			Multiplier:  2,
			Jitter:      0.1,
		},
		done: make(chan struct{}),
	}
}

// Run dials and serves the connection until ctx is cancelled or Close is
// called, reconnecting after every loss.
func (c *Client) Run(ctx context.Context, h Handler) error {
	failures := 0
	for {
		conn, _, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, c.opts.Header)
		if err != nil {
			failures++
			c.opts.Log.Warn("dial failed", "url", c.opts.URL, "attempt", failures, "error", err)
			h.OnError(fmt.Errorf("dial: %w", err))
		} else if c.attach(conn) {
			failures = 0
			h.OnConnected()
			readErr := c.readLoop(conn, h)
			c.detach(conn)
			h.OnDisconnected(readErr)
		} else {
			_ = conn.Close()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return ErrClosed
		case <-time.After(c.backoff.Backoff(failures)):
		}
	}
}

func (c *Client) attach(conn *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.conn = conn
	return true
}

func (c *Client) detach(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close()
}

func (c *Client) readLoop(conn *websocket.Conn, h Handler) error {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var frame models.InboundFrame
		if err := json.Unmarshal(msg, &frame); err != nil || frame.Type == "" {
			if err == nil {
				err = errors.New("missing type")
			}
			h.OnError(fmt.Errorf("%w: %v", ErrMalformedMessage, err))
			continue
		}
		h.OnFrame(frame)
	}
}

// Send writes one frame. It fails fast with ErrNotConnected while no
// connection is up; nothing is queued for later.
func (c *Client) Send(frameType string, data any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(models.WSFrame{Type: frameType, Data: data}); err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	return nil
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Close drops the connection and stops Run from reconnecting.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return conn.Close()
}
