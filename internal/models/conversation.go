package models

import (
	"time"

	"github.com/google/uuid"
)

type Conversation struct {
	ID          int       `json:"id"`
	UserID      uuid.UUID `json:"user_id"`
	Title       *string   `json:"title"`
	IsVoiceMode bool      `json:"is_voice_mode"`
	CreatedAt   time.Time `json:"created_at"`
}

// ChatHistoryMessage is one persisted turn of a conversation.
type ChatHistoryMessage struct {
	ID             int64     `json:"id"`
	UserID         uuid.UUID `json:"user_id"`
	ConversationID int       `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	Intent         Intent    `json:"intent"`
	CreatedAt      time.Time `json:"created_at"`
}

// WSMessage is the envelope pushed to web clients over the WebSocket hub.
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// CommandExecutedEvent is pushed when a quick command fires.
type CommandExecutedEvent struct {
	Command  string `json:"command"`
	Response string `json:"response"`
}
