package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"codesync/internal/models"
)

const (
	sendQueueSize = 256
	writeWait     = 10 * time.Second

	// DefaultPingPeriod must stay below the presence TTL: every pong refreshes
	// the participant's last-seen time.
	DefaultPingPeriod = 30 * time.Second
)

var (
	ErrQueueFull    = errors.New("session: send queue full")
	ErrClientClosed = errors.New("session: client closed")
)

// Client is one websocket connection. Frames are queued and written in order
// by WritePump.
type Client struct {
	ID          string
	Participant string
	Conn        *websocket.Conn
	PingPeriod  time.Duration

	mu     sync.Mutex
	hook   func(models.WSFrame)
	queue  chan models.WSFrame
	done   chan struct{}
	closed bool
	file   string
	joined bool
}

func NewClient(conn *websocket.Conn, participant string) *Client {
	return &Client{
		ID:          uuid.New().String(),
		Participant: participant,
		Conn:        conn,
		PingPeriod:  DefaultPingPeriod,
		queue:       make(chan models.WSFrame, sendQueueSize),
		done:        make(chan struct{}),
	}
}

// SetSendHook replaces the websocket writer (used in tests). Frames are
// handed to fn synchronously.
func (c *Client) SetSendHook(fn func(models.WSFrame)) {
	c.mu.Lock()
	c.hook = fn
	c.mu.Unlock()
}

// Send queues frame for writing without blocking.
func (c *Client) Send(frame models.WSFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	if c.hook != nil {
		c.hook(frame)
		return nil
	}
	if c.Conn == nil {
		return nil
	}
	select {
	case c.queue <- frame:
		return nil
	default:
		return ErrQueueFull
	}
}

// WritePump writes queued frames until the client is closed or a write fails.
// Between frames it pings the peer every PingPeriod.
func (c *Client) WritePump() error {
	period := c.PingPeriod
	if period <= 0 {
		period = DefaultPingPeriod
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return nil
		case frame := <-c.queue:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteJSON(frame); err != nil {
				return err
			}
		case <-ticker.C:
			if err := c.Conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return err
			}
		}
	}
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
}

// Subscribe points the client at path, replacing any previous subscription.
// It returns the replaced path.
func (c *Client) Subscribe(path string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.file
	c.file = path
	return prev
}

// Unsubscribe clears the subscription if it is for path.
func (c *Client) Unsubscribe(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.file != path {
		return false
	}
	c.file = ""
	return true
}

func (c *Client) Subscription() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.file
}

// SetJoined records whether the connection announced presence with a join.
func (c *Client) SetJoined(joined bool) {
	c.mu.Lock()
	c.joined = joined
	c.mu.Unlock()
}

func (c *Client) Joined() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joined
}
