// Package chat is the client side of a room's chat channel: history, typing
// indicators and the debounced typing status this participant publishes.
package chat

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"codesync/internal/debounce"
	"codesync/internal/models"
)

const (
	DefaultTypingDebounce = 500 * time.Millisecond
	DefaultTypingTimeout  = 5 * time.Second
	DefaultTypingExpiry   = 5 * time.Second
)

var (
	ErrEmptyMessage = errors.New("chat: message is empty")
	ErrClosed       = errors.New("chat: client closed")
)

// Sender delivers one frame to the broker.
type Sender interface {
	Send(frameType string, data any) error
}

type Options struct {
	TypingDebounce time.Duration
	TypingTimeout  time.Duration
	TypingExpiry   time.Duration
	HistoryLimit   int
	AfterFunc      debounce.AfterFunc
	Now            func() time.Time
	// OnChange runs after the history or the typing set changed.
	OnChange func()
	// OnError receives failures of timer-driven sends.
	OnError func(error)
}

func (o *Options) defaults() {
	if o.TypingDebounce <= 0 {
		o.TypingDebounce = DefaultTypingDebounce
	}
	if o.TypingTimeout <= 0 {
		o.TypingTimeout = DefaultTypingTimeout
	}
	if o.TypingExpiry <= 0 {
		o.TypingExpiry = DefaultTypingExpiry
	}
	if o.AfterFunc == nil {
		o.AfterFunc = debounce.Real
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

type Client struct {
	mu      sync.Mutex
	sc      models.SessionContext
	out     Sender
	opts    Options
	history *History
	typing  *TypingSet
	closed  bool

	typingPublish *debounce.Debouncer
	typingClear   *debounce.Debouncer
	wantTyping    bool
}

func NewClient(sc models.SessionContext, out Sender, opts Options) *Client {
	opts.defaults()
	c := &Client{
		sc:            sc,
		out:           out,
		opts:          opts,
		history:       NewHistory(opts.HistoryLimit),
		typingPublish: debounce.New(opts.TypingDebounce, opts.AfterFunc),
		typingClear:   debounce.New(opts.TypingTimeout, opts.AfterFunc),
	}
	c.typing = NewTypingSet(opts.TypingExpiry, opts.AfterFunc, func(string) { c.changed() })
	return c
}

// Join asks the broker for the room's recent history.
func (c *Client) Join() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return c.out.Send(models.FrameJoinChat, models.JoinChatRequest{UserID: c.sc.ParticipantID})
}

// Send publishes a chat message and then reports this participant as no
// longer typing.
func (c *Client) Send(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	msg := models.ChatMessage{
		UserID:    c.sc.ParticipantID,
		Message:   text,
		Timestamp: c.opts.Now().UnixMilli(),
		RoomID:    c.sc.RoomID(),
	}
	err := c.out.Send(models.FrameChat, msg)
	if err == nil {
		c.typingClear.Cancel()
		c.setTypingLocked(false)
	}
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("send chat message: %w", err)
	}
	return nil
}

// Keystroke marks this participant as typing. The status is published after
// the typing debounce; typing:false follows once keystrokes stop for the
// typing timeout.
func (c *Client) Keystroke() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.setTypingLocked(true)
	c.typingClear.Trigger(c.stopTyping)
}

func (c *Client) setTypingLocked(typing bool) {
	c.wantTyping = typing
	c.typingPublish.Trigger(c.flushTyping)
}

func (c *Client) flushTyping() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	status := models.TypingStatus{UserID: c.sc.ParticipantID, Typing: c.wantTyping}
	err := c.out.Send(models.FrameTyping, status)
	c.mu.Unlock()
	c.report(err)
}

func (c *Client) stopTyping() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.wantTyping = false
	c.typingPublish.Cancel()
	err := c.out.Send(models.FrameTyping, models.TypingStatus{UserID: c.sc.ParticipantID, Typing: false})
	c.mu.Unlock()
	c.report(err)
}

// HandleMessage applies an inbound chat message.
func (c *Client) HandleMessage(m models.ChatMessage) {
	c.mu.Lock()
	added := !c.closed && c.history.Append(m)
	c.mu.Unlock()
	if added {
		c.changed()
	}
}

// HandleHistory replaces the local history with the broker's snapshot.
func (c *Client) HandleHistory(h models.ChatHistory) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.history.Replace(h.Messages)
	c.mu.Unlock()
	c.changed()
}

func (c *Client) HandleTyping(s models.TypingStatus) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed || s.UserID == "" {
		return
	}
	if c.typing.Set(s.UserID, s.Typing) {
		c.changed()
	}
}

func (c *Client) Messages() []models.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.history.Messages()
}

func (c *Client) TypingUsers() []string { return c.typing.Users() }

// Close stops every timer. Later calls fail with ErrClosed.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	c.typingPublish.Cancel()
	c.typingClear.Cancel()
	c.mu.Unlock()
	c.typing.Clear()
}

func (c *Client) changed() {
	if c.opts.OnChange != nil {
		c.opts.OnChange()
	}
}

func (c *Client) report(err error) {
	if err != nil && c.opts.OnError != nil {
		c.opts.OnError(fmt.Errorf("publish typing status: %w", err))
	}
}
