package models

import "encoding/json"

/*** Wire frames ***/

// Frame types exchanged over the room websocket.
const (
	FrameJoin           = "join"
	FrameLeave          = "leave"
	FrameRoster         = "roster"
	FrameSubscribe      = "subscribe"
	FrameUnsubscribe    = "unsubscribe"
	FrameEdit           = "edit"
	FrameRequestCurrent = "request_current"
	FrameChat           = "chat"
	FrameTyping         = "typing"
	FrameJoinChat       = "join_chat"
	FrameChatHistory    = "chat_history"
	FrameError          = "error"
)

// SystemSender is the senderId used when the broker re-emits stored content.
const SystemSender = "system"

// ChatHistoryLimit is the number of chat messages retained per room.
const ChatHistoryLimit = 100

type WSFrame struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// InboundFrame is the decoding side of WSFrame; Data is kept raw until the type is known.
type InboundFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

/*** Presence ***/

type PresenceRequest struct {
	ParticipantID string `json:"participantId"`
}

type RosterSnapshot struct {
	RoomID       string   `json:"roomId"`
	Participants []string `json:"participants"`
}

/*** File sync ***/

type EditMessage struct {
	RoomID    string `json:"roomId"`
	FilePath  string `json:"filePath"`
	SenderID  string `json:"senderId"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"` // unix millis
}

type SubscribeRequest struct {
	FilePath string `json:"filePath"`
}

type RequestCurrent struct {
	FilePath    string `json:"filePath"`
	RequesterID string `json:"requesterId"`
}

/*** Chat ***/

type ChatMessage struct {
	UserID    string `json:"userId"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"` // unix millis, stamped by the broker
	RoomID    string `json:"roomId"`
}

type TypingStatus struct {
	UserID string `json:"userId"`
	Typing bool   `json:"typing"`
}

type JoinChatRequest struct {
	UserID string `json:"userId"`
}

type ChatHistory struct {
	Messages []ChatMessage `json:"messages"`
}

/*** Execution ***/

type RunRequest struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	FilePath string `json:"filePath,omitempty"`
	Language string `json:"language"`
	Code     string `json:"code"`
}

type RunResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exitCode"`
	TimeMs   int64  `json:"timeMs"`
	MemoryKB int64  `json:"memoryKb"`
	TimedOut bool   `json:"timedOut,omitempty"`
}

/*** Identity ***/

// SessionContext carries the caller identity explicitly into every component that needs it.
type SessionContext struct {
	ParticipantID string
	Token         string
	Owner         string
	Repo          string
	Branch        string
}

// RoomID is the project identifier used for presence, file and chat channels.
func (sc SessionContext) RoomID() string { return sc.Repo }
