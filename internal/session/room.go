package session

import (
	"sort"
	"sync"

	"codesync/internal/models"
)

// Room holds the connections of one project on this broker instance.
type Room struct {
	ID      string
	mu      sync.Mutex
	clients map[*Client]struct{}
}

func NewRoom(id string) *Room {
	return &Room{ID: id, clients: make(map[*Client]struct{})}
}

func (r *Room) Join(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c] = struct{}{}
}

// Leave removes c and returns the number of clients left.
func (r *Room) Leave(c *Client) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, c)
	return len(r.clients)
}

func (r *Room) GetClientCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// HasParticipant reports whether any local connection belongs to participant.
func (r *Room) HasParticipant(participant string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for c := range r.clients {
		if c.Participant == participant {
			return true
		}
	}
	return false
}

// ParticipantJoined reports whether a joined local connection other than
// except belongs to participant.
func (r *Room) ParticipantJoined(participant string, except *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for c := range r.clients {
		if c != except && c.Participant == participant && c.Joined() {
			return true
		}
	}
	return false
}

// JoinedParticipants lists the distinct participants with a joined local
// connection.
func (r *Room) JoinedParticipants() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]struct{}, len(r.clients))
	out := make([]string, 0, len(r.clients))
	for c := range r.clients {
		if _, ok := seen[c.Participant]; ok || !c.Joined() {
			continue
		}
		seen[c.Participant] = struct{}{}
		out = append(out, c.Participant)
	}
	sort.Strings(out)
	return out
}

// Participants lists the distinct participants connected locally.
func (r *Room) Participants() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]struct{}, len(r.clients))
	out := make([]string, 0, len(r.clients))
	for c := range r.clients {
		if _, ok := seen[c.Participant]; ok {
			continue
		}
		seen[c.Participant] = struct{}{}
		out = append(out, c.Participant)
	}
	sort.Strings(out)
	return out
}

// Broadcast sends frame to every client, the sender included. Clients that
// could not take the frame are returned.
func (r *Room) Broadcast(frame models.WSFrame) []*Client {
	return r.fanOut(frame, func(*Client) bool { return true })
}

// BroadcastFile sends frame to the clients subscribed to path.
func (r *Room) BroadcastFile(path string, frame models.WSFrame) []*Client {
	return r.fanOut(frame, func(c *Client) bool { return c.Subscription() == path })
}

func (r *Room) fanOut(frame models.WSFrame, match func(*Client) bool) []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	var failed []*Client
	for c := range r.clients {
		if !match(c) {
			continue
		}
		if err := c.Send(frame); err != nil {
			failed = append(failed, c)
		}
	}
	return failed
}
