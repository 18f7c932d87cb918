// Package store keeps the broker's shared room state in Redis: presence
// rosters, the current content of every file, chat history and typing sets.
// It also relays frames between broker instances over pub/sub.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"codesync/internal/models"
	"codesync/internal/utils"
)

const (
	CodeTTL   = time.Hour
	ChatTTL   = time.Hour
	TypingTTL = 10 * time.Second

	keyPrefix = "codesync:"
)

func rosterKey(room string) string     { return keyPrefix + "roster:" + room }
func codeKey(room, path string) string { return keyPrefix + "code:" + room + ":" + path }
func chatKey(room string) string       { return keyPrefix + "chat:" + room }
func typingKey(room string) string     { return keyPrefix + "typing:" + room }
func relayChannel(room string) string  { return keyPrefix + "room:" + room }

type Store struct {
	rdb        *redis.Client
	instanceID string
	chatLimit  int64
	log        *utils.Logger
}

func New(rdb *redis.Client, log *utils.Logger) *Store {
	if log == nil {
		log = utils.NewNopLogger()
	}
	return &Store{
		rdb:        rdb,
		instanceID: uuid.New().String(),
		chatLimit:  models.ChatHistoryLimit,
		log:        log,
	}
}

// InstanceID identifies this broker on the relay.
func (s *Store) InstanceID() string { return s.instanceID }

func (s *Store) Ping(ctx context.Context) error { return s.rdb.Ping(ctx).Err() }

/*** Roster ***/

// Touch adds participant to the room's roster or refreshes its last-seen time.
func (s *Store) Touch(ctx context.Context, room, participant string, now time.Time) error {
	return s.rdb.ZAdd(ctx, rosterKey(room), redis.Z{Score: float64(now.Unix()), Member: participant}).Err()
}

// Heartbeat refreshes participant like Touch and reports whether the entry
// had to be re-added, for example after the sweeper dropped it.
func (s *Store) Heartbeat(ctx context.Context, room, participant string, now time.Time) (bool, error) {
	added, err := s.rdb.ZAdd(ctx, rosterKey(room), redis.Z{Score: float64(now.Unix()), Member: participant}).Result()
	if err != nil {
		return false, err
	}
	return added > 0, nil
}

func (s *Store) RemoveParticipant(ctx context.Context, room, participant string) error {
	return s.rdb.ZRem(ctx, rosterKey(room), participant).Err()
}

// Roster lists the room's participants in ascending order.
func (s *Store) Roster(ctx context.Context, room string) ([]string, error) {
	members, err := s.rdb.ZRange(ctx, rosterKey(room), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read roster %s: %w", room, err)
	}
	sort.Strings(members)
	return members, nil
}

// SweepRoster drops participants last seen before cutoff from every room and
// returns what was removed, keyed by room.
func (s *Store) SweepRoster(ctx context.Context, cutoff time.Time) (map[string][]string, error) {
	removed := make(map[string][]string)
	upper := "(" + strconv.FormatInt(cutoff.Unix(), 10)
	iter := s.rdb.Scan(ctx, 0, rosterKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		stale, err := s.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: "-inf", Max: upper}).Result()
		if err != nil {
			return removed, err
		}
		if len(stale) == 0 {
			continue
		}
		members := make([]any, len(stale))
		for i, m := range stale {
			members[i] = m
		}
		if err := s.rdb.ZRem(ctx, key, members...).Err(); err != nil {
			return removed, err
		}
		room := strings.TrimPrefix(key, rosterKey(""))
		removed[room] = stale
	}
	return removed, iter.Err()
}

/*** File content ***/

// SaveCode stores the authoritative content of a file. The TTL restarts on
// every write.
func (s *Store) SaveCode(ctx context.Context, room, path, content string) error {
	return s.rdb.Set(ctx, codeKey(room, path), content, CodeTTL).Err()
}

func (s *Store) LoadCode(ctx context.Context, room, path string) (string, bool, error) {
	content, err := s.rdb.Get(ctx, codeKey(room, path)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return content, true, nil
}

/*** Chat ***/

// AppendChat adds msg to the room's history, keeping the newest messages only.
func (s *Store) AppendChat(ctx context.Context, msg models.ChatMessage) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	key := chatKey(msg.RoomID)
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, b)
		pipe.LTrim(ctx, key, -s.chatLimit, -1)
		pipe.Expire(ctx, key, ChatTTL)
		return nil
	})
	return err
}

func (s *Store) ChatHistory(ctx context.Context, room string) ([]models.ChatMessage, error) {
	raw, err := s.rdb.LRange(ctx, chatKey(room), -s.chatLimit, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]models.ChatMessage, 0, len(raw))
	for _, r := range raw {
		var m models.ChatMessage
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			s.log.Warn("skipping corrupt chat entry", "room", room, "error", err)
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

/*** Typing ***/

func (s *Store) SetTyping(ctx context.Context, room, user string, typing bool) error {
	key := typingKey(room)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if typing {
			pipe.SAdd(ctx, key, user)
		} else {
			pipe.SRem(ctx, key, user)
		}
		pipe.Expire(ctx, key, TypingTTL)
		return nil
	})
	return err
}

func (s *Store) TypingUsers(ctx context.Context, room string) ([]string, error) {
	users, err := s.rdb.SMembers(ctx, typingKey(room)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(users)
	return users, nil
}
