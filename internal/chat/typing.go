package chat

import (
	"slices"
	"sync"
	"time"

	"codesync/internal/debounce"
)

// TypingSet tracks who is typing as seen by the receiver. A user leaves the
// set on typing:false or when no typing:true has arrived for the expiry.
type TypingSet struct {
	mu       sync.Mutex
	after    debounce.AfterFunc
	expiry   time.Duration
	users    []string
	timers   map[string]*debounce.Debouncer
	onExpire func(user string)
}

func NewTypingSet(expiry time.Duration, after debounce.AfterFunc, onExpire func(string)) *TypingSet {
	return &TypingSet{
		after:    after,
		expiry:   expiry,
		timers:   make(map[string]*debounce.Debouncer),
		onExpire: onExpire,
	}
}

// Set records a typing update and reports whether membership changed.
func (s *TypingSet) Set(user string, typing bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !typing {
		return s.remove(user)
	}
	d, ok := s.timers[user]
	if !ok {
		d = debounce.New(s.expiry, s.after)
		s.timers[user] = d
		s.users = append(s.users, user)
	}
	d.Trigger(func() { s.expire(user, d) })
	return !ok
}

func (s *TypingSet) expire(user string, d *debounce.Debouncer) {
	s.mu.Lock()
	if s.timers[user] != d {
		s.mu.Unlock()
		return
	}
	s.remove(user)
	cb := s.onExpire
	s.mu.Unlock()
	if cb != nil {
		cb(user)
	}
}

func (s *TypingSet) remove(user string) bool {
	d, ok := s.timers[user]
	if !ok {
		return false
	}
	d.Cancel()
	delete(s.timers, user)
	s.users = slices.DeleteFunc(s.users, func(u string) bool { return u == user })
	return true
}

// Users lists typing users in the order they started typing.
func (s *TypingSet) Users() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.users)
}

// Clear drops everyone and stops their expiry timers.
func (s *TypingSet) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.timers {
		d.Cancel()
	}
	clear(s.timers)
	s.users = nil
}
