package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"carpilot-backend/internal/chat"
	"carpilot-backend/internal/middleware"
	"carpilot-backend/internal/models"
)

type ChatHandler struct {
	orchestrator *chat.Orchestrator
}

func NewChatHandler(orchestrator *chat.Orchestrator) *ChatHandler {
	return &ChatHandler{orchestrator: orchestrator}
}

// CompletionsV1 serves POST /v1/chat/completions: unfiltered input, no
// suppression, stream ids derived from the persisted message id.
func (h *ChatHandler) CompletionsV1(w http.ResponseWriter, r *http.Request) {
	h.process(w, r, "v1", "channel2")
}

// CompletionsV2 serves POST /v2/chat/completions: the filtered voice
// channel, with input normalization, suppression heuristics and the
// "(stop)" sentinel chunk.
func (h *ChatHandler) CompletionsV2(w http.ResponseWriter, r *http.Request) {
	h.process(w, r, "v2", "channel1")
}

// CompletionsV2Channel2 serves POST /v2/chat/completions/channel2: the v2
// sentinel behavior without the input filter or suppression.
func (h *ChatHandler) CompletionsV2Channel2(w http.ResponseWriter, r *http.Request) {
	h.process(w, r, "v2", "channel2")
}

func (h *ChatHandler) process(w http.ResponseWriter, r *http.Request, version, channel string) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		writeJSON(w, http.StatusUnauthorized, errorResp("Invalid API key", "authentication_error", http.StatusUnauthorized))
		return
	}

	var req models.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("Invalid request body", "invalid_request_error", http.StatusBadRequest))
		return
	}

	if len(req.Messages) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResp("No user message provided", "invalid_request_error", http.StatusBadRequest))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorResp("Streaming unsupported", "internal_error", http.StatusInternalServerError))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	writer := &sseWriter{w: w, flusher: flusher}
	if err := h.orchestrator.Process(r.Context(), user, &req, version, channel, writer); err != nil {
		// The stream is already open; all we can do is log.
		log.Printf("chat %s/%s failed for user %s: %v", version, channel, user.ID, err)
	}
}

// sseWriter flushes each event as it is produced so the client sees deltas
// immediately. A write error means the client disconnected.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (s *sseWriter) WriteEvent(data []byte) error {
	if _, err := s.w.Write(data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Shared helpers

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func errorResp(message, errType string, code int) models.ErrorResponse {
	return models.ErrorResponse{
		Error: models.APIError{
			Message: message,
			Type:    errType,
			Code:    code,
		},
	}
}
