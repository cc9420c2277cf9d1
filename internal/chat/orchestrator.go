package chat

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"carpilot-backend/internal/models"
)

// Exit phrase of the in-car command mode. The turn is answered but never
// written to memory.
const exitPhrase = "退出。"

// historyWindow bounds how far back the intent classifier and the agent see.
const historyWindow = 30 * time.Minute

// Collaborator contracts, scoped to exactly what the pipeline calls.

type CommandGate interface {
	CommandMode(ctx context.Context, userID uuid.UUID) (string, error)
	Execute(ctx context.Context, userID uuid.UUID, input, mode string) (response string, handled bool)
}

type IntentClassifier interface {
	Classify(ctx context.Context, text string, history []models.ChatHistoryMessage) (models.Intent, error)
}

// AskParams carries everything the agent needs for one generation.
type AskParams struct {
	Input          string
	MessageID      int64
	History        []models.ChatHistoryMessage
	Intent         models.Intent
	CommandMode    string
	ConversationID int
}

// AgentDelta is one unit of the agent's streamed output. A non-nil Err is
// terminal for the generation.
type AgentDelta struct {
	Content string
	Err     error
}

type Agent interface {
	Ask(ctx context.Context, p AskParams) (<-chan AgentDelta, error)
}

type HistoryStore interface {
	AddUserMessage(ctx context.Context, userID uuid.UUID, content string, intent models.Intent, conversationID int) (int64, error)
	RecentMessages(ctx context.Context, userID uuid.UUID, window time.Duration) ([]models.ChatHistoryMessage, error)
}

type UsageRecorder interface {
	RecordActive(ctx context.Context, userID uuid.UUID) error
}

type MemoryQueue interface {
	EnqueueMemoryWrite(ctx context.Context, task models.MemoryWriteTask) error
}

type EventPublisher interface {
	PublishCommandExecuted(ctx context.Context, userID uuid.UUID, command, response string)
}

// ChunkWriter is implemented by the transport. WriteEvent delivers one
// already-framed SSE event; an error means the client is gone.
type ChunkWriter interface {
	WriteEvent(data []byte) error
}

// Orchestrator runs the per-request completion pipeline.
type Orchestrator struct {
	resolver *Resolver
	gate     CommandGate
	intents  IntentClassifier
	agent    Agent
	history  HistoryStore
	usage    UsageRecorder
	memory   MemoryQueue
	events   EventPublisher
}

func NewOrchestrator(
	resolver *Resolver,
	gate CommandGate,
	intents IntentClassifier,
	agent Agent,
	history HistoryStore,
	usage UsageRecorder,
	memory MemoryQueue,
	events EventPublisher,
) *Orchestrator {
	return &Orchestrator{
		resolver: resolver,
		gate:     gate,
		intents:  intents,
		agent:    agent,
		history:  history,
		usage:    usage,
		memory:   memory,
		events:   events,
	}
}

// Process handles one chat turn end to end, writing SSE events through w.
// Returning nil with no events written is the "well-formed empty stream"
// outcome (empty input or suppressed turn). Callers have already validated
// that req.Messages is non-empty.
func (o *Orchestrator) Process(ctx context.Context, user *models.User, req *models.ChatCompletionRequest, version, channel string, w ChunkWriter) error {
	input := req.Messages[len(req.Messages)-1].Content
	if channel != "channel2" {
		input = FormatUserInput(input)
		if input == "" {
			return nil
		}
	}

	mode, err := o.gate.CommandMode(ctx, user.ID)
	if err != nil {
		log.Printf("command mode lookup failed for user %s: %v", user.ID, err)
	}

	response, handled := o.gate.Execute(ctx, user.ID, input, mode)

	// DAU is best effort and must never block or fail the turn.
	go func(userID uuid.UUID) {
		if err := o.usage.RecordActive(context.Background(), userID); err != nil {
			log.Printf("DAU record failed for user %s: %v", userID, err)
		}
	}(user.ID)

	if handled {
		return o.streamCommandResponse(ctx, user, req, version, input, response, w)
	}

	return o.streamAIResponse(ctx, user, req, version, channel, input, mode, w)
}

// streamCommandResponse emits the deterministic quick-command reply and
// hands both turns to the background memory queue. The conversation is
// resolved exactly once; the queued task carries the handle by value so a
// new web thread is never created twice for one turn.
func (o *Orchestrator) streamCommandResponse(ctx context.Context, user *models.User, req *models.ChatCompletionRequest, version, input, response string, w ChunkWriter) error {
	handle, err := o.resolver.Resolve(ctx, user.ID, req.FromWeb, req.ConversationID)
	if err != nil {
		return err
	}

	chatID := "chatcmpl-" + uuid.NewString()

	var convID *int
	if req.FromWeb && handle.IsNew {
		convID = &handle.ID
	}
	if err := w.WriteEvent(EncodeChunk(chatID, req.Model, response, nil, convID)); err != nil {
		return fmt.Errorf("write command chunk: %w", err)
	}

	stopContent := ""
	if version == "v2" {
		stopContent = "(stop)"
	}
	if err := w.WriteEvent(EncodeChunk(chatID, req.Model, stopContent, strPtr("stop"), nil)); err != nil {
		return fmt.Errorf("write stop chunk: %w", err)
	}
	if err := w.WriteEvent([]byte(DoneEvent)); err != nil {
		return fmt.Errorf("write done: %w", err)
	}

	if o.events != nil {
		o.events.PublishCommandExecuted(ctx, user.ID, input, response)
	}

	if input != exitPhrase {
		task := models.MemoryWriteTask{
			UserID:           user.ID,
			ConversationID:   handle.ID,
			Intent:           models.IntentControlVehicle,
			UserMessage:      input,
			AssistantMessage: response,
		}
		// The client may have dropped the connection right after [DONE];
		// the handoff to the queue must still happen.
		if err := o.memory.EnqueueMemoryWrite(context.WithoutCancel(ctx), task); err != nil {
			log.Printf("enqueue command memory failed for user %s: %v", user.ID, err)
		}
	}

	return nil
}

func (o *Orchestrator) streamAIResponse(ctx context.Context, user *models.User, req *models.ChatCompletionRequest, version, channel, input, mode string, w ChunkWriter) error {
	handle, err := o.resolver.Resolve(ctx, user.ID, req.FromWeb, req.ConversationID)
	if err != nil {
		return err
	}

	history, err := o.history.RecentMessages(ctx, user.ID, historyWindow)
	if err != nil {
		log.Printf("history fetch failed for user %s: %v", user.ID, err)
		history = nil
	}

	intent, err := o.intents.Classify(ctx, input, history)
	if err != nil {
		log.Printf("intent classification failed for user %s: %v", user.ID, err)
		intent = models.IntentChat
	}

	if version == "v2" && channel == "channel1" && ShouldSuppress(input, intent) {
		log.Printf("skipping input: %s", input)
		return nil
	}

	msgID, err := o.history.AddUserMessage(ctx, user.ID, input, intent, handle.ID)
	if err != nil {
		return fmt.Errorf("persist user message: %w", err)
	}

	chatID := "chatcmpl-" + uuid.NewString()
	if version == "v1" {
		chatID = fmt.Sprintf("chatcmpl-%d", msgID)
	}

	deltas, err := o.agent.Ask(ctx, AskParams{
		Input:          input,
		MessageID:      msgID,
		History:        history,
		Intent:         intent,
		CommandMode:    mode,
		ConversationID: handle.ID,
	})
	if err != nil {
		w.WriteEvent(EncodeChunk(chatID, req.Model, "", strPtr("error"), nil))
		w.WriteEvent([]byte(DoneEvent))
		return fmt.Errorf("agent ask: %w", err)
	}

	firstContentSent := false
	var reply strings.Builder

	for delta := range deltas {
		if delta.Err != nil {
			w.WriteEvent(EncodeChunk(chatID, req.Model, "", strPtr("error"), nil))
			w.WriteEvent([]byte(DoneEvent))
			return fmt.Errorf("agent stream: %w", delta.Err)
		}

		content := delta.Content
		reply.WriteString(content)

		// A new web conversation surfaces its id exactly once, on the
		// first chunk that actually carries content.
		var convID *int
		if req.FromWeb && handle.IsNew && content != "" && !firstContentSent {
			convID = &handle.ID
			firstContentSent = true
		}
		if err := w.WriteEvent(EncodeChunk(chatID, req.Model, content, nil, convID)); err != nil {
			return fmt.Errorf("write chunk: %w", err)
		}
	}

	if version == "v2" {
		if err := w.WriteEvent(EncodeChunk(chatID, req.Model, "(stop)", nil, nil)); err != nil {
			return fmt.Errorf("write sentinel: %w", err)
		}
	}
	if err := w.WriteEvent(EncodeChunk(chatID, req.Model, "", strPtr("stop"), nil)); err != nil {
		return fmt.Errorf("write stop chunk: %w", err)
	}
	if err := w.WriteEvent([]byte(DoneEvent)); err != nil {
		return fmt.Errorf("write done: %w", err)
	}

	if reply.Len() > 0 {
		task := models.MemoryWriteTask{
			UserID:           user.ID,
			ConversationID:   handle.ID,
			Intent:           intent,
			AssistantMessage: reply.String(),
		}
		if err := o.memory.EnqueueMemoryWrite(context.WithoutCancel(ctx), task); err != nil {
			log.Printf("enqueue assistant memory failed for user %s: %v", user.ID, err)
		}
	}

	return nil
}
