package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"codesync/internal/models"
)

type events struct {
	mu           sync.Mutex
	connected    int
	disconnected int
	frames       []models.InboundFrame
	errs         []error
	notify       chan string
}

func newEvents() *events { return &events{notify: make(chan string, 64)} }

func (e *events) OnConnected() {
	e.mu.Lock()
	e.connected++
	e.mu.Unlock()
	e.notify <- "connected"
}

func (e *events) OnDisconnected(error) {
	e.mu.Lock()
	e.disconnected++
	e.mu.Unlock()
	e.notify <- "disconnected"
}

func (e *events) OnFrame(f models.InboundFrame) {
	e.mu.Lock()
	e.frames = append(e.frames, f)
	e.mu.Unlock()
	e.notify <- "frame"
}

func (e *events) OnError(err error) {
	e.mu.Lock()
	e.errs = append(e.errs, err)
	e.mu.Unlock()
	e.notify <- "error"
}

func (e *events) await(t *testing.T, want string) {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case got := <-e.notify:
			if got == want {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestSendWhileDisconnected(t *testing.T) {
	c := New(Options{URL: "ws://127.0.0.1:1"})
	if err := c.Send(models.FrameEdit, nil); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if c.Connected() {
		t.Fatalf("fresh client is not connected")
	}
}

func TestRoundTripAndMalformedFrames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte("{not json"))
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			_ = conn.WriteMessage(websocket.TextMessage, msg)
		}
	}))
	defer srv.Close()

	c := New(Options{URL: wsURL(srv), ReconnectDelay: 10 * time.Millisecond})
	ev := newEvents()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx, ev) }()

	ev.await(t, "connected")
	ev.await(t, "error")

	if err := c.Send(models.FrameSubscribe, models.SubscribeRequest{FilePath: "main.py"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	ev.await(t, "frame")

	ev.mu.Lock()
	defer ev.mu.Unlock()
	if !errors.Is(ev.errs[0], ErrMalformedMessage) {
		t.Fatalf("expected ErrMalformedMessage, got %v", ev.errs[0])
	}
	var sub models.SubscribeRequest
	if err := json.Unmarshal(ev.frames[0].Data, &sub); err != nil || ev.frames[0].Type != models.FrameSubscribe || sub.FilePath != "main.py" {
		t.Fatalf("unexpected echoed frame %#v", ev.frames[0])
	}
}

func TestReconnectsAfterDrop(t *testing.T) {
	var mu sync.Mutex
	accepted := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		mu.Lock()
		accepted++
		first := accepted == 1
		mu.Unlock()
		if first {
			_ = conn.Close()
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	c := New(Options{URL: wsURL(srv), ReconnectDelay: 10 * time.Millisecond})
	ev := newEvents()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, ev) }()

	ev.await(t, "connected")
	ev.await(t, "disconnected")
	ev.await(t, "connected")
	if !c.Connected() {
		t.Fatalf("expected reconnected client")
	}

	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case err := <-done:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("expected ErrClosed from Run, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("Run did not stop after Close")
	}
	cancel()
	if err := c.Send(models.FrameLeave, nil); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected after close, got %v", err)
	}
}

func TestReconnectBacksOffAfterFailedDials(t *testing.T) {
	c := New(Options{URL: "ws://127.0.0.1:1", ReconnectDelay: 10 * time.Millisecond, MaxReconnectDelay: 40 * time.Millisecond})
	for failures, want := range []time.Duration{10, 10, 20, 40, 40} {
		got := c.backoff.Backoff(failures)
		lo, hi := want*time.Millisecond*9/10, want*time.Millisecond*11/10
		if got < lo || got > hi {
			t.Fatalf("after %d failures expected about %v, got %v", failures, want*time.Millisecond, got)
		}
	}

	if d := New(Options{}); d.backoff.InitialWait != DefaultReconnectDelay || d.backoff.MaxWait != DefaultMaxReconnectDelay {
		t.Fatalf("unexpected default backoff %+v", d.backoff)
	}
}

func TestReconnectsAfterRejectedDials(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		reject := attempts <= 3
		mu.Unlock()
		if reject {
			http.Error(w, "starting", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	c := New(Options{URL: wsURL(srv), ReconnectDelay: 5 * time.Millisecond, MaxReconnectDelay: 20 * time.Millisecond})
	ev := newEvents()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx, ev) }()

	ev.await(t, "connected")
	ev.mu.Lock()
	errs := len(ev.errs)
	ev.mu.Unlock()
	if errs != 3 {
		t.Fatalf("expected 3 failed dials reported, got %d", errs)
	}
	_ = c.Close()
}
