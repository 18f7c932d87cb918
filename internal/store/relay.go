package store

import (
	"context"
	"encoding/json"
	"fmt"

	"codesync/internal/models"
)

// Envelope is a frame forwarded to the other broker instances. FilePath is set
// when only subscribers of that file should receive it.
type Envelope struct {
	InstanceID string         `json:"instanceId"`
	RoomID     string         `json:"roomId"`
	FilePath   string         `json:"filePath,omitempty"`
	Frame      models.WSFrame `json:"frame"`
}

// Publish forwards frame to every other instance serving the room.
func (s *Store) Publish(ctx context.Context, room, filePath string, frame models.WSFrame) error {
	b, err := json.Marshal(Envelope{InstanceID: s.instanceID, RoomID: room, FilePath: filePath, Frame: frame})
	if err != nil {
		return fmt.Errorf("failed to marshal relay envelope: %w", err)
	}
	return s.rdb.Publish(ctx, relayChannel(room), b).Err()
}

// Subscribe delivers envelopes published by other instances until ctx ends.
// It returns once the subscription is confirmed; delivery runs in the
// background and fn is called from a single goroutine.
func (s *Store) Subscribe(ctx context.Context, fn func(Envelope)) error {
	pubsub := s.rdb.PSubscribe(ctx, relayChannel("*"))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("subscribe to relay: %w", err)
	}
	ch := pubsub.Channel()
	s.log.Info("relay subscribed", "instance", s.instanceID)

	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				s.log.Info("relay stopped", "instance", s.instanceID)
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					s.log.Warn("dropping malformed relay message", "channel", msg.Channel, "error", err)
					continue
				}
				if env.InstanceID == s.instanceID {
					continue
				}
				fn(env)
			}
		}
	}()
	return nil
}
