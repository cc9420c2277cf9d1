package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"carpilot-backend/internal/models"
)

// ─── Fakes ───

type fakeGate struct {
	mode      string
	responses map[string]string
}

func (f *fakeGate) CommandMode(ctx context.Context, userID uuid.UUID) (string, error) {
	return f.mode, nil
}

func (f *fakeGate) Execute(ctx context.Context, userID uuid.UUID, input, mode string) (string, bool) {
	resp, ok := f.responses[input]
	return resp, ok
}

type fakeClassifier struct {
	intent models.Intent
	err    error
}

func (f *fakeClassifier) Classify(ctx context.Context, text string, history []models.ChatHistoryMessage) (models.Intent, error) {
	return f.intent, f.err
}

type fakeAgent struct {
	deltas    []string
	askErr    error
	streamErr error // emitted after all deltas when non-nil
	lastAsk   AskParams
}

func (f *fakeAgent) Ask(ctx context.Context, p AskParams) (<-chan AgentDelta, error) {
	if f.askErr != nil {
		return nil, f.askErr
	}
	f.lastAsk = p

	ch := make(chan AgentDelta)
	go func() {
		defer close(ch)
		for _, d := range f.deltas {
			ch <- AgentDelta{Content: d}
		}
		if f.streamErr != nil {
			ch <- AgentDelta{Err: f.streamErr}
		}
	}()
	return ch, nil
}

type fakeHistory struct {
	nextID int64
	added  []models.ChatHistoryMessage
	recent []models.ChatHistoryMessage
	addErr error
}

func (f *fakeHistory) AddUserMessage(ctx context.Context, userID uuid.UUID, content string, intent models.Intent, conversationID int) (int64, error) {
	if f.addErr != nil {
		return 0, f.addErr
	}
	f.nextID++
	f.added = append(f.added, models.ChatHistoryMessage{
		ID:             f.nextID,
		UserID:         userID,
		ConversationID: conversationID,
		Role:           "user",
		Content:        content,
		Intent:         intent,
	})
	return f.nextID, nil
}

func (f *fakeHistory) RecentMessages(ctx context.Context, userID uuid.UUID, window time.Duration) ([]models.ChatHistoryMessage, error) {
	return f.recent, nil
}

type fakeUsage struct {
	calls chan struct{}
}

func (f *fakeUsage) RecordActive(ctx context.Context, userID uuid.UUID) error {
	f.calls <- struct{}{}
	return nil
}

func (f *fakeUsage) await(t *testing.T) int {
	t.Helper()
	select {
	case <-f.calls:
	case <-time.After(time.Second):
		t.Fatal("usage counter was never incremented")
	}

	// Allow a beat for any stray duplicate increment to land.
	time.Sleep(20 * time.Millisecond)
	return 1 + len(f.calls)
}

type fakeQueue struct {
	tasks []models.MemoryWriteTask
}

func (f *fakeQueue) EnqueueMemoryWrite(ctx context.Context, task models.MemoryWriteTask) error {
	f.tasks = append(f.tasks, task)
	return nil
}

// ctxBoundQueue refuses writes once the context is dead, the way a real
// Redis client does a pre-flight context check.
type ctxBoundQueue struct {
	tasks []models.MemoryWriteTask
}

func (f *ctxBoundQueue) EnqueueMemoryWrite(ctx context.Context, task models.MemoryWriteTask) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.tasks = append(f.tasks, task)
	return nil
}

type fakeEvents struct {
	published []models.CommandExecutedEvent
}

func (f *fakeEvents) PublishCommandExecuted(ctx context.Context, userID uuid.UUID, command, response string) {
	f.published = append(f.published, models.CommandExecutedEvent{Command: command, Response: response})
}

// eventRecorder captures framed SSE events in order.
type eventRecorder struct {
	events [][]byte
}

func (r *eventRecorder) WriteEvent(data []byte) error {
	buf := make([]byte, len(data))
	copy(buf, data)
	r.events = append(r.events, buf)
	return nil
}

// disconnectingWriter cancels the request context as soon as [DONE] goes
// out, the way net/http tears down r.Context() when the client hangs up.
type disconnectingWriter struct {
	eventRecorder
	cancel context.CancelFunc
}

func (w *disconnectingWriter) WriteEvent(data []byte) error {
	if err := w.eventRecorder.WriteEvent(data); err != nil {
		return err
	}
	if string(data) == DoneEvent {
		w.cancel()
	}
	return nil
}

type pipelineFixture struct {
	store      *fakeConversationStore
	gate       *fakeGate
	classifier *fakeClassifier
	agent      *fakeAgent
	history    *fakeHistory
	usage      *fakeUsage
	queue      *fakeQueue
	events     *fakeEvents
	user       *models.User
}

func newFixture() (*Orchestrator, *pipelineFixture) {
	f := &pipelineFixture{
		store:      &fakeConversationStore{nextID: 100, voiceID: 55},
		gate:       &fakeGate{mode: "full", responses: map[string]string{}},
		classifier: &fakeClassifier{intent: models.IntentChat},
		agent:      &fakeAgent{},
		history:    &fakeHistory{},
		usage:      &fakeUsage{calls: make(chan struct{}, 8)},
		queue:      &fakeQueue{},
		events:     &fakeEvents{},
		user:       &models.User{ID: uuid.New(), IsActive: true},
	}
	o := NewOrchestrator(
		NewResolver(f.store),
		f.gate, f.classifier, f.agent, f.history, f.usage, f.queue, f.events,
	)
	return o, f
}

func request(content string, fromWeb bool, conversationID *int) *models.ChatCompletionRequest {
	return &models.ChatCompletionRequest{
		Model:          "carpilot-v1",
		Messages:       []models.Message{{Role: "user", Content: content}},
		FromWeb:        fromWeb,
		ConversationID: conversationID,
	}
}

// ─── Empty input ───

func TestEmptyNormalizedInputProducesEmptyStream(t *testing.T) {
	o, f := newFixture()
	rec := &eventRecorder{}

	err := o.Process(context.Background(), f.user, request("[noise]", false, nil), "v2", "channel1", rec)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if len(rec.events) != 0 {
		t.Errorf("Expected zero events for empty normalized input, got %d", len(rec.events))
	}
	if len(f.history.added) != 0 {
		t.Errorf("Expected no persistence for empty input")
	}
}

// ─── Command path ───

func TestCommandPathV1Stream(t *testing.T) {
	o, f := newFixture()
	f.gate.responses["锁车"] = "锁车已执行"
	rec := &eventRecorder{}

	err := o.Process(context.Background(), f.user, request("锁车", false, nil), "v1", "channel2", rec)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if len(rec.events) != 3 {
		t.Fatalf("Expected exactly 3 events, got %d", len(rec.events))
	}

	first := decodeEvent(t, rec.events[0])
	if first.Choices[0].Delta["content"] != "锁车已执行" {
		t.Errorf("Expected command response, got %q", first.Choices[0].Delta["content"])
	}
	if first.ConversationID != nil {
		t.Errorf("Voice turn must not surface a conversation id")
	}

	second := decodeEvent(t, rec.events[1])
	if len(second.Choices[0].Delta) != 0 {
		t.Errorf("v1 stop chunk must carry no content, got %v", second.Choices[0].Delta)
	}
	if second.Choices[0].FinishReason == nil || *second.Choices[0].FinishReason != "stop" {
		t.Errorf("Expected finish_reason stop, got %v", second.Choices[0].FinishReason)
	}

	if string(rec.events[2]) != DoneEvent {
		t.Errorf("Expected [DONE] terminator, got %q", rec.events[2])
	}

	if got := f.usage.await(t); got != 1 {
		t.Errorf("Expected usage counter incremented exactly once, got %d", got)
	}
}

func TestCommandPathV2SentinelContent(t *testing.T) {
	o, f := newFixture()
	f.gate.responses["锁车"] = "锁车已执行"
	rec := &eventRecorder{}

	if err := o.Process(context.Background(), f.user, request("锁车", false, nil), "v2", "channel1", rec); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	second := decodeEvent(t, rec.events[1])
	if second.Choices[0].Delta["content"] != "(stop)" {
		t.Errorf("v2 stop chunk must carry the (stop) sentinel, got %v", second.Choices[0].Delta)
	}
}

func TestCommandPathNewWebConversation(t *testing.T) {
	o, f := newFixture()
	f.gate.responses["锁车"] = "锁车已执行"
	rec := &eventRecorder{}

	if err := o.Process(context.Background(), f.user, request("锁车", true, nil), "v1", "channel2", rec); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	first := decodeEvent(t, rec.events[0])
	if first.ConversationID == nil || *first.ConversationID != 101 {
		t.Errorf("First chunk must carry the new conversation id, got %v", first.ConversationID)
	}
	second := decodeEvent(t, rec.events[1])
	if second.ConversationID != nil {
		t.Errorf("Conversation id must never repeat, got %v", second.ConversationID)
	}

	// Exactly one conversation created per turn, shared with the queued
	// persistence task.
	if f.store.created != 1 {
		t.Errorf("Expected exactly one conversation created, got %d", f.store.created)
	}
	if len(f.queue.tasks) != 1 {
		t.Fatalf("Expected one queued memory task, got %d", len(f.queue.tasks))
	}
	task := f.queue.tasks[0]
	if task.ConversationID != 101 {
		t.Errorf("Queued task must reuse the resolved conversation, got %d", task.ConversationID)
	}
	if task.Intent != models.IntentControlVehicle {
		t.Errorf("Command turns are tagged CONTROL_VEHICLE, got %s", task.Intent)
	}
	if task.UserMessage != "锁车" || task.AssistantMessage != "锁车已执行" {
		t.Errorf("Queued task must carry both turns, got %+v", task)
	}
}

func TestCommandPathExistingWebConversation(t *testing.T) {
	o, f := newFixture()
	f.gate.responses["锁车"] = "锁车已执行"
	rec := &eventRecorder{}

	convID := 7
	if err := o.Process(context.Background(), f.user, request("锁车", true, &convID), "v1", "channel2", rec); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	first := decodeEvent(t, rec.events[0])
	if first.ConversationID != nil {
		t.Errorf("Existing conversation id must not be surfaced, got %v", first.ConversationID)
	}
	if f.store.created != 0 {
		t.Errorf("Expected no conversation created, got %d", f.store.created)
	}
	if len(f.queue.tasks) != 1 || f.queue.tasks[0].ConversationID != 7 {
		t.Errorf("Queued task must target the client conversation, got %+v", f.queue.tasks)
	}
}

func TestCommandPathExitPhraseNotPersisted(t *testing.T) {
	o, f := newFixture()
	f.gate.responses["退出。"] = "已退出指令模式"
	rec := &eventRecorder{}

	if err := o.Process(context.Background(), f.user, request("退出。", false, nil), "v2", "channel1", rec); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if len(rec.events) != 3 {
		t.Errorf("Exit phrase still gets a full stream, got %d events", len(rec.events))
	}
	if len(f.queue.tasks) != 0 {
		t.Errorf("Exit phrase must never be written to memory, got %+v", f.queue.tasks)
	}
}

func TestCommandMemoryQueuedAfterClientDisconnect(t *testing.T) {
	_, f := newFixture()
	f.gate.responses["锁车"] = "锁车已执行"
	queue := &ctxBoundQueue{}
	o := NewOrchestrator(
		NewResolver(f.store),
		f.gate, f.classifier, f.agent, f.history, f.usage, queue, f.events,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := &disconnectingWriter{cancel: cancel}

	if err := o.Process(ctx, f.user, request("锁车", false, nil), "v1", "channel2", w); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if len(queue.tasks) != 1 {
		t.Fatalf("Command turn must still be queued after the client hangs up, got %d tasks", len(queue.tasks))
	}
	if queue.tasks[0].UserMessage != "锁车" || queue.tasks[0].AssistantMessage != "锁车已执行" {
		t.Errorf("Unexpected queued task: %+v", queue.tasks[0])
	}
}

func TestCommandPathPublishesEvent(t *testing.T) {
	o, f := newFixture()
	f.gate.responses["锁车"] = "锁车已执行"

	if err := o.Process(context.Background(), f.user, request("锁车", false, nil), "v1", "channel2", &eventRecorder{}); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if len(f.events.published) != 1 || f.events.published[0].Command != "锁车" {
		t.Errorf("Expected one command_executed event, got %+v", f.events.published)
	}
}

// ─── Suppression ───

func TestSuppressedTurnProducesEmptyStream(t *testing.T) {
	o, f := newFixture()
	f.classifier.intent = models.IntentNews
	rec := &eventRecorder{}

	// 30 runes of news, voice origin, filtered channel, no override words.
	input := strings.Repeat("今日要闻油价", 5)
	err := o.Process(context.Background(), f.user, request(input, false, nil), "v2", "channel1", rec)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if len(rec.events) != 0 {
		t.Errorf("Expected empty stream for suppressed turn, got %d events", len(rec.events))
	}
	if len(f.history.added) != 0 {
		t.Errorf("Suppressed turns must not be persisted, got %+v", f.history.added)
	}
	if len(f.queue.tasks) != 0 {
		t.Errorf("Suppressed turns must not be queued, got %+v", f.queue.tasks)
	}
}

func TestNavigationBroadcastSuppressedRegardlessOfIntent(t *testing.T) {
	o, f := newFixture()
	f.classifier.intent = models.IntentNavigation
	rec := &eventRecorder{}

	err := o.Process(context.Background(), f.user, request("前方200米右转进入高架", false, nil), "v2", "channel1", rec)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if len(rec.events) != 0 {
		t.Errorf("Navigation broadcast must be suppressed, got %d events", len(rec.events))
	}
}

func TestNoSuppressionOnUnfilteredChannel(t *testing.T) {
	o, f := newFixture()
	f.classifier.intent = models.IntentNothing
	f.agent.deltas = []string{"好的"}
	rec := &eventRecorder{}

	err := o.Process(context.Background(), f.user, request("嗯嗯那个就这样", false, nil), "v2", "channel2", rec)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if len(rec.events) == 0 {
		t.Error("channel2 must never suppress")
	}
}

// ─── AI path ───

func TestAIPathStreamShape(t *testing.T) {
	o, f := newFixture()
	f.agent.deltas = []string{"", "你好", "呀"}
	rec := &eventRecorder{}

	err := o.Process(context.Background(), f.user, request("讲个笑话", true, nil), "v2", "channel2", rec)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	// 3 deltas + "(stop)" sentinel + stop + DONE
	if len(rec.events) != 6 {
		t.Fatalf("Expected 6 events, got %d", len(rec.events))
	}

	// The empty first delta carries no conversation id; the first chunk
	// with actual content carries it exactly once.
	first := decodeEvent(t, rec.events[0])
	if first.ConversationID != nil {
		t.Errorf("Empty delta must not carry the conversation id")
	}
	second := decodeEvent(t, rec.events[1])
	if second.ConversationID == nil || *second.ConversationID != 101 {
		t.Errorf("First content chunk must carry conversation id 101, got %v", second.ConversationID)
	}
	third := decodeEvent(t, rec.events[2])
	if third.ConversationID != nil {
		t.Errorf("Conversation id must be injected exactly once")
	}

	sentinel := decodeEvent(t, rec.events[3])
	if sentinel.Choices[0].Delta["content"] != "(stop)" {
		t.Errorf("Expected (stop) sentinel on v2, got %v", sentinel.Choices[0].Delta)
	}
	stop := decodeEvent(t, rec.events[4])
	if stop.Choices[0].FinishReason == nil || *stop.Choices[0].FinishReason != "stop" {
		t.Errorf("Expected finish_reason stop, got %v", stop.Choices[0].FinishReason)
	}
	if string(rec.events[5]) != DoneEvent {
		t.Errorf("Expected [DONE] terminator")
	}
}

func TestAIPathPersistsBothTurns(t *testing.T) {
	o, f := newFixture()
	f.agent.deltas = []string{"哈", "哈"}
	rec := &eventRecorder{}

	if err := o.Process(context.Background(), f.user, request("讲个笑话", true, nil), "v1", "channel2", rec); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if len(f.history.added) != 1 {
		t.Fatalf("Expected the user message persisted synchronously, got %d", len(f.history.added))
	}
	if f.history.added[0].Content != "讲个笑话" || f.history.added[0].ConversationID != 101 {
		t.Errorf("Unexpected persisted user message: %+v", f.history.added[0])
	}

	if len(f.queue.tasks) != 1 {
		t.Fatalf("Expected the assistant reply queued, got %d tasks", len(f.queue.tasks))
	}
	task := f.queue.tasks[0]
	if task.AssistantMessage != "哈哈" || task.UserMessage != "" {
		t.Errorf("Queued task must carry only the accumulated reply, got %+v", task)
	}
}

func TestAssistantMemoryQueuedAfterClientDisconnect(t *testing.T) {
	_, f := newFixture()
	f.agent.deltas = []string{"好"}
	queue := &ctxBoundQueue{}
	o := NewOrchestrator(
		NewResolver(f.store),
		f.gate, f.classifier, f.agent, f.history, f.usage, queue, f.events,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := &disconnectingWriter{cancel: cancel}

	if err := o.Process(ctx, f.user, request("讲个笑话", false, nil), "v1", "channel2", w); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if len(queue.tasks) != 1 {
		t.Fatalf("Assistant turn must still be queued after the client hangs up, got %d tasks", len(queue.tasks))
	}
	if queue.tasks[0].AssistantMessage != "好" {
		t.Errorf("Unexpected queued task: %+v", queue.tasks[0])
	}
}

func TestAIPathZeroConversationIDStartsNewThread(t *testing.T) {
	o, f := newFixture()
	f.agent.deltas = []string{"好"}
	rec := &eventRecorder{}

	zero := 0
	if err := o.Process(context.Background(), f.user, request("讲个笑话", true, &zero), "v2", "channel2", rec); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if f.store.created != 1 {
		t.Fatalf("A zero conversation id must create a new thread, got %d created", f.store.created)
	}
	first := decodeEvent(t, rec.events[0])
	if first.ConversationID == nil || *first.ConversationID != 101 {
		t.Errorf("New thread id must be surfaced on the stream, got %v", first.ConversationID)
	}
}

func TestAIPathV1StreamIDFromMessageID(t *testing.T) {
	o, f := newFixture()
	f.agent.deltas = []string{"好"}
	rec := &eventRecorder{}

	if err := o.Process(context.Background(), f.user, request("讲个笑话", false, nil), "v1", "channel2", rec); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	first := decodeEvent(t, rec.events[0])
	if first.ID != "chatcmpl-1" {
		t.Errorf("v1 stream id derives from the message id, got %q", first.ID)
	}
}

func TestAIPathV2StreamIDNotMessageID(t *testing.T) {
	o, f := newFixture()
	f.agent.deltas = []string{"好"}
	rec := &eventRecorder{}

	if err := o.Process(context.Background(), f.user, request("讲个笑话", false, nil), "v2", "channel2", rec); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	first := decodeEvent(t, rec.events[0])
	if first.ID == "chatcmpl-1" {
		t.Error("v2 stream id must not correlate with the message id")
	}
	if !strings.HasPrefix(first.ID, "chatcmpl-") {
		t.Errorf("stream id must carry the chatcmpl prefix, got %q", first.ID)
	}
}

func TestAIPathVoiceNeverSurfacesConversationID(t *testing.T) {
	o, f := newFixture()
	f.agent.deltas = []string{"好"}
	rec := &eventRecorder{}

	if err := o.Process(context.Background(), f.user, request("讲个笑话", false, nil), "v2", "channel2", rec); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	for i, raw := range rec.events[:len(rec.events)-1] {
		if chunk := decodeEvent(t, raw); chunk.ConversationID != nil {
			t.Errorf("event %d surfaced a conversation id on the voice path", i)
		}
	}
}

func TestAIPathAgentStreamFailureClosesStream(t *testing.T) {
	o, f := newFixture()
	f.agent.deltas = []string{"部分"}
	f.agent.streamErr = errors.New("model unavailable")
	rec := &eventRecorder{}

	err := o.Process(context.Background(), f.user, request("讲个笑话", false, nil), "v1", "channel2", rec)
	if err == nil {
		t.Fatal("Expected an error from a failed generation")
	}

	last := rec.events[len(rec.events)-1]
	if string(last) != DoneEvent {
		t.Fatalf("Stream must still terminate with [DONE], got %q", last)
	}
	closing := decodeEvent(t, rec.events[len(rec.events)-2])
	if closing.Choices[0].FinishReason == nil || *closing.Choices[0].FinishReason != "error" {
		t.Errorf("Expected abnormal finish_reason, got %v", closing.Choices[0].FinishReason)
	}
}

func TestAIPathPassesContextToAgent(t *testing.T) {
	o, f := newFixture()
	f.agent.deltas = []string{"好"}
	f.classifier.intent = models.IntentWeather
	f.gate.mode = "restricted"
	f.history.recent = []models.ChatHistoryMessage{{Role: "user", Content: "之前的话"}}

	if err := o.Process(context.Background(), f.user, request("明天下雨吗", false, nil), "v1", "channel2", &eventRecorder{}); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	ask := f.agent.lastAsk
	if ask.Intent != models.IntentWeather {
		t.Errorf("Expected intent passed through, got %s", ask.Intent)
	}
	if ask.CommandMode != "restricted" {
		t.Errorf("Expected command mode passed through, got %q", ask.CommandMode)
	}
	if ask.ConversationID != 55 {
		t.Errorf("Expected the voice conversation id, got %d", ask.ConversationID)
	}
	if ask.MessageID != 1 {
		t.Errorf("Expected the persisted message id, got %d", ask.MessageID)
	}
	if len(ask.History) != 1 {
		t.Errorf("Expected history passed through, got %d entries", len(ask.History))
	}
}
