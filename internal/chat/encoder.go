// Package chat implements the completion pipeline: input normalization,
// quick-command interception, suppression heuristics, conversation
// resolution and SSE chunk assembly.
package chat

import (
	"encoding/json"
	"fmt"
	"time"

	"carpilot-backend/internal/models"
)

// DoneEvent terminates every stream.
const DoneEvent = "data: [DONE]\n\n"

// EncodeChunk frames one chat.completion.chunk as an SSE event.
// The delta object is empty when content is empty; conversationID is
// included only when non-nil and is never implicitly repeated by callers.
func EncodeChunk(chatID, model, content string, finishReason *string, conversationID *int) []byte {
	delta := map[string]string{}
	if content != "" {
		delta["content"] = content
	}

	chunk := models.StreamChunk{
		ID:      chatID,
		Object:  "chat.completion.chunk",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []models.StreamChoice{
			{
				Index:        0,
				Delta:        delta,
				FinishReason: finishReason,
			},
		},
		ConversationID: conversationID,
	}

	data, _ := json.Marshal(chunk)
	return []byte(fmt.Sprintf("data: %s\n\n", data))
}

func strPtr(s string) *string {
	return &s
}
