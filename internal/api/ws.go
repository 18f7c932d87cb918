package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"codesync/internal/metrics"
	"codesync/internal/models"
	"codesync/internal/session"
	"codesync/internal/store"
	"codesync/internal/utils"
)

const (
	maxFrameBytes = 1 << 20
	storeTimeout  = 5 * time.Second
)

var errEmptyData = errors.New("frame has no data")

/*** Room WebSocket: presence, file channels and chat ***/
var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// conn is the per-connection state owned by the read loop.
type conn struct {
	roomID string
	room   *session.Room
	client *session.Client
}

func (h *Handlers) RoomWS(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomId")
	participant, status, err := h.authenticate(r, roomID)
	if err != nil {
		utils.JSONError(w, status, err.Error())
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()
	ws.SetReadLimit(maxFrameBytes)

	client := session.NewClient(ws, participant)
	if h.pingPeriod > 0 {
		client.PingPeriod = h.pingPeriod
	}
	c := &conn{roomID: roomID, room: h.hub.Join(roomID, client), client: client}
	ws.SetPongHandler(func(string) error {
		if client.Joined() {
			h.touch(r.Context(), c)
		}
		return nil
	})
	metrics.ActiveConnections.Inc()
	metrics.ActiveRooms.Set(float64(len(h.hub.RoomIDs())))
	h.log.Info("client connected", "room", roomID, "participant", participant, "client", client.ID)

	go func() {
		if err := client.WritePump(); err != nil {
			h.log.Warn("write failed", "client", client.ID, "error", err)
			_ = ws.Close()
		}
	}()
	defer h.disconnect(c)

	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			return
		}
		h.handleFrame(r.Context(), c, msg)
	}
}

// authenticate resolves the participant id for a websocket request. A valid
// room token overrides the participant query parameter.
func (h *Handlers) authenticate(r *http.Request, roomID string) (string, int, error) {
	participant := strings.TrimSpace(r.URL.Query().Get("participant"))

	token := r.URL.Query().Get("token")
	if header := r.Header.Get("Authorization"); header != "" {
		t, err := utils.ExtractTokenFromHeader(header)
		if err != nil {
			return "", http.StatusUnauthorized, err
		}
		token = t
	}

	if token != "" && len(h.jwtSecret) > 0 {
		claims, err := utils.ValidateRoomToken(h.jwtSecret, token)
		if err != nil {
			return "", http.StatusUnauthorized, errors.New("invalid token")
		}
		if err := claims.CheckRoom(roomID); err != nil {
			return "", http.StatusForbidden, err
		}
		if claims.UserId != "" {
			participant = claims.UserId
		}
	} else if h.requireAuth {
		return "", http.StatusUnauthorized, utils.ErrMissingToken
	}

	if participant == "" {
		return "", http.StatusBadRequest, errors.New("participant is required")
	}
	return participant, 0, nil
}

func (h *Handlers) handleFrame(ctx context.Context, c *conn, raw []byte) {
	var frame models.InboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil || frame.Type == "" {
		h.malformed(c, "", err)
		return
	}
	if c.client.Joined() && frame.Type != models.FrameJoin && frame.Type != models.FrameLeave {
		h.touch(ctx, c)
	}

	switch frame.Type {
	case models.FrameJoin:
		c.client.SetJoined(true)
		if _, err := h.store.Heartbeat(ctx, c.roomID, c.client.Participant, h.now()); err != nil {
			h.log.Warn("register presence failed", "room", c.roomID, "error", err)
		}
		h.broadcastRoster(ctx, c.roomID)

	case models.FrameLeave:
		c.client.SetJoined(false)
		if !c.room.ParticipantJoined(c.client.Participant, c.client) {
			h.removePresence(ctx, c.roomID, c.client.Participant)
		}

	case models.FrameSubscribe:
		var req models.SubscribeRequest
		if !h.decode(c, frame, &req) {
			return
		}
		if req.FilePath == "" {
			h.sendError(c, "missing_file_path")
			return
		}
		c.client.Subscribe(req.FilePath)

	case models.FrameUnsubscribe:
		var req models.SubscribeRequest
		if !h.decode(c, frame, &req) {
			return
		}
		c.client.Unsubscribe(req.FilePath)

	case models.FrameEdit:
		var msg models.EditMessage
		if !h.decode(c, frame, &msg) {
			return
		}
		h.handleEdit(ctx, c, msg)

	case models.FrameRequestCurrent:
		var req models.RequestCurrent
		if !h.decode(c, frame, &req) {
			return
		}
		h.handleRequestCurrent(ctx, c, req)

	case models.FrameChat:
		var msg models.ChatMessage
		if !h.decode(c, frame, &msg) {
			return
		}
		h.handleChat(ctx, c, msg)

	case models.FrameTyping:
		var st models.TypingStatus
		if !h.decode(c, frame, &st) {
			return
		}
		if st.UserID == "" {
			st.UserID = c.client.Participant
		}
		if err := h.store.SetTyping(ctx, c.roomID, st.UserID, st.Typing); err != nil {
			h.log.Warn("store typing failed", "room", c.roomID, "error", err)
		}
		h.fanOut(ctx, c.roomID, "", models.WSFrame{Type: models.FrameTyping, Data: st})

	case models.FrameJoinChat:
		messages, err := h.store.ChatHistory(ctx, c.roomID)
		if err != nil {
			h.log.Error("read chat history failed", "room", c.roomID, "error", err)
			h.sendError(c, "store_unavailable")
			return
		}
		h.send(c, models.WSFrame{Type: models.FrameChatHistory, Data: models.ChatHistory{Messages: messages}})

	default:
		metrics.FramesReceived.WithLabelValues("unknown").Inc()
		h.sendError(c, "unknown_type")
		return
	}
	metrics.FramesReceived.WithLabelValues(frame.Type).Inc()
}

func (h *Handlers) handleEdit(ctx context.Context, c *conn, msg models.EditMessage) {
	if msg.FilePath == "" {
		h.sendError(c, "missing_file_path")
		return
	}
	msg.RoomID = c.roomID
	if msg.SenderID == "" {
		msg.SenderID = c.client.Participant
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = h.now().UnixMilli()
	}
	if err := h.store.SaveCode(ctx, c.roomID, msg.FilePath, msg.Content); err != nil {
		h.log.Warn("store code failed", "room", c.roomID, "file", msg.FilePath, "error", err)
	}
	h.fanOut(ctx, c.roomID, msg.FilePath, models.WSFrame{Type: models.FrameEdit, Data: msg})
}

func (h *Handlers) handleRequestCurrent(ctx context.Context, c *conn, req models.RequestCurrent) {
	if req.FilePath == "" {
		h.sendError(c, "missing_file_path")
		return
	}
	content, ok, err := h.store.LoadCode(ctx, c.roomID, req.FilePath)
	if err != nil {
		h.log.Error("load code failed", "room", c.roomID, "file", req.FilePath, "error", err)
		h.sendError(c, "store_unavailable")
		return
	}
	if !ok {
		return
	}
	h.send(c, models.WSFrame{Type: models.FrameEdit, Data: models.EditMessage{
		RoomID:    c.roomID,
		FilePath:  req.FilePath,
		SenderID:  models.SystemSender,
		Content:   content,
		Timestamp: h.now().UnixMilli(),
	}})
}

func (h *Handlers) handleChat(ctx context.Context, c *conn, msg models.ChatMessage) {
	if strings.TrimSpace(msg.Message) == "" {
		h.sendError(c, "empty_message")
		return
	}
	if msg.UserID == "" {
		msg.UserID = c.client.Participant
	}
	msg.RoomID = c.roomID
	msg.Timestamp = h.now().UnixMilli()
	if err := h.store.AppendChat(ctx, msg); err != nil {
		h.log.Warn("store chat failed", "room", c.roomID, "error", err)
	}
	h.fanOut(ctx, c.roomID, "", models.WSFrame{Type: models.FrameChat, Data: msg})
}

func (h *Handlers) decode(c *conn, frame models.InboundFrame, out any) bool {
	if len(frame.Data) == 0 || string(frame.Data) == "null" {
		h.malformed(c, frame.Type, errEmptyData)
		return false
	}
	if err := json.Unmarshal(frame.Data, out); err != nil {
		h.malformed(c, frame.Type, err)
		return false
	}
	return true
}

func (h *Handlers) malformed(c *conn, frameType string, err error) {
	metrics.DecodeFaults.Inc()
	h.log.Warn("dropping malformed frame", "room", c.roomID, "client", c.client.ID, "type", frameType, "error", err)
	h.sendError(c, "malformed_message")
}

// touch refreshes the participant's presence. A participant the sweeper
// already dropped is re-added and the room gets a fresh roster.
func (h *Handlers) touch(ctx context.Context, c *conn) {
	added, err := h.store.Heartbeat(ctx, c.roomID, c.client.Participant, h.now())
	if err != nil {
		h.log.Warn("refresh presence failed", "room", c.roomID, "error", err)
		return
	}
	if added {
		h.broadcastRoster(ctx, c.roomID)
	}
}

// RefreshPresence renews the last-seen time of every participant joined
// through this instance.
func (h *Handlers) RefreshPresence(ctx context.Context) error {
	now := h.now()
	for _, id := range h.hub.RoomIDs() {
		room, ok := h.hub.Get(id)
		if !ok {
			continue
		}
		for _, p := range room.JoinedParticipants() {
			if err := h.store.Touch(ctx, id, p, now); err != nil {
				return fmt.Errorf("refresh presence in %s: %w", id, err)
			}
		}
	}
	return nil
}

func (h *Handlers) send(c *conn, frame models.WSFrame) {
	if err := c.client.Send(frame); err != nil {
		h.evict([]*session.Client{c.client})
	}
}

func (h *Handlers) sendError(c *conn, msg string) {
	h.send(c, errFrame(msg))
}

// fanOut delivers frame to local clients and relays it to the other broker
// instances. A non-empty filePath limits delivery to that file's subscribers.
func (h *Handlers) fanOut(ctx context.Context, roomID, filePath string, frame models.WSFrame) {
	h.deliver(roomID, filePath, frame)
	if err := h.store.Publish(ctx, roomID, filePath, frame); err != nil {
		h.log.Warn("relay publish failed", "room", roomID, "error", err)
		return
	}
	metrics.RelayedFrames.WithLabelValues("out").Inc()
}

func (h *Handlers) deliver(roomID, filePath string, frame models.WSFrame) {
	room, ok := h.hub.Get(roomID)
	if !ok {
		return
	}
	if filePath != "" {
		h.evict(room.BroadcastFile(filePath, frame))
		return
	}
	h.evict(room.Broadcast(frame))
}

func (h *Handlers) broadcastRoster(ctx context.Context, roomID string) {
	participants, err := h.store.Roster(ctx, roomID)
	if err != nil {
		h.log.Error("read roster failed", "room", roomID, "error", err)
		return
	}
	h.fanOut(ctx, roomID, "", models.WSFrame{
		Type: models.FrameRoster,
		Data: models.RosterSnapshot{RoomID: roomID, Participants: participants},
	})
}

func (h *Handlers) removePresence(ctx context.Context, roomID, participant string) {
	if err := h.store.RemoveParticipant(ctx, roomID, participant); err != nil {
		h.log.Warn("remove participant failed", "room", roomID, "error", err)
	}
	h.broadcastRoster(ctx, roomID)
}

// evict closes clients whose send queue overflowed; their read loops then exit
// and run the normal disconnect path.
func (h *Handlers) evict(clients []*session.Client) {
	for _, cl := range clients {
		h.log.Warn("evicting slow client", "client", cl.ID, "participant", cl.Participant)
		cl.Close()
		if cl.Conn != nil {
			_ = cl.Conn.Close()
		}
	}
}

func (h *Handlers) disconnect(c *conn) {
	c.client.Close()
	h.hub.Leave(c.roomID, c.client)
	metrics.ActiveConnections.Dec()
	metrics.ActiveRooms.Set(float64(len(h.hub.RoomIDs())))
	h.log.Info("client disconnected", "room", c.roomID, "participant", c.client.Participant, "client", c.client.ID)

	if c.room.ParticipantJoined(c.client.Participant, nil) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	h.removePresence(ctx, c.roomID, c.client.Participant)
}

// DeliverRelay hands a frame published by another broker instance to the
// local clients of its room.
func (h *Handlers) DeliverRelay(env store.Envelope) {
	metrics.RelayedFrames.WithLabelValues("in").Inc()
	h.deliver(env.RoomID, env.FilePath, env.Frame)
}

// StartRelay subscribes to frames from other broker instances until ctx ends.
func (h *Handlers) StartRelay(ctx context.Context) error {
	return h.store.Subscribe(ctx, h.DeliverRelay)
}

// RosterEvicted is called by the presence sweeper after stale entries were
// removed from a room.
func (h *Handlers) RosterEvicted(roomID string, participants []string) {
	h.log.Info("presence expired", "room", roomID, "participants", participants)
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	h.broadcastRoster(ctx, roomID)
}

func errFrame(msg string) models.WSFrame { return models.WSFrame{Type: models.FrameError, Data: msg} }
