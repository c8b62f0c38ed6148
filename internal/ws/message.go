package ws

import (
	"time"

	"github.com/chitchat/internal/model"
)

type EventType string

const (
	// Клиент -> сервер.
	EventOpenChat    EventType = "open_chat"
	EventCloseChat   EventType = "close_chat"
	EventNewMessage  EventType = "new_message"
	EventMessageSeen EventType = "message_seen"

	// Сервер -> клиент.
	EventChatState EventType = "chat_state"
	EventPresence  EventType = "presence"
	EventError     EventType = "error"
)

// IncomingMessage is what the client sends to the server.
type IncomingMessage struct {
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Text           string    `json:"text,omitempty"`

	// For file messages
	ContentType model.ContentType `json:"content_type,omitempty"`
	FileURL     string            `json:"file_url,omitempty"`
	FileName    string            `json:"file_name,omitempty"`
}

// OutgoingMessage is what the server sends to the client.
// Payload uses typed structs to avoid heap-heavy map[string]any.
type OutgoingMessage struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// ChatStatePayload carries a full snapshot of an open chat, newest first.
type ChatStatePayload struct {
	ConversationID string          `json:"conversation_id"`
	Messages       []model.Message `json:"messages"`
}

// PresencePayload is broadcast when a user's heartbeat lands.
type PresencePayload struct {
	UserID   string    `json:"user_id"`
	LastSeen time.Time `json:"last_seen"`
	Online   bool      `json:"online"`
}

// ErrorPayload carries a human-readable rejection reason.
type ErrorPayload struct {
	Message string `json:"message"`
}
