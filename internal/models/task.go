package models

import "github.com/google/uuid"

// MemoryWriteTask is the payload of the background chat-memory queue.
// Either message field may be empty, in which case that turn is skipped.
type MemoryWriteTask struct {
	UserID           uuid.UUID `json:"user_id"`
	ConversationID   int       `json:"conversation_id"`
	Intent           Intent    `json:"intent"`
	UserMessage      string    `json:"user_message,omitempty"`
	AssistantMessage string    `json:"assistant_message,omitempty"`
}
