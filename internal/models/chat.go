package models

// Message is a single entry in the OpenAI-style message list.
type Message struct {
	Role    string `json:"role"` // "system", "user" or "assistant"
	Content string `json:"content"`
}

// ChatCompletionRequest is the payload of the chat completion endpoints.
// The last message is the effective user input. The service always streams,
// so Stream is accepted but ignored.
type ChatCompletionRequest struct {
	Model          string    `json:"model"`
	Messages       []Message `json:"messages"`
	Stream         *bool     `json:"stream,omitempty"`
	ConversationID *int      `json:"conversation_id,omitempty"`
	FromWeb        bool      `json:"from_web,omitempty"`
}

// StreamChunk is one chat.completion.chunk event on the SSE stream.
// Delta is an empty object when there is no content this tick, so clients
// can tell "no content" apart from an empty-string content. ConversationID
// is set only on the single chunk that introduces a newly created web
// conversation.
type StreamChunk struct {
	ID             string         `json:"id"`
	Object         string         `json:"object"`
	Created        int64          `json:"created"`
	Model          string         `json:"model"`
	Choices        []StreamChoice `json:"choices"`
	ConversationID *int           `json:"conversation_id,omitempty"`
}

type StreamChoice struct {
	Index        int               `json:"index"`
	Delta        map[string]string `json:"delta"`
	FinishReason *string           `json:"finish_reason"`
}

// APIError mirrors the OpenAI error envelope.
type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}
