package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"carpilot-backend/internal/chat"
)

// AgentService wraps the Gemini conversational model behind the pipeline's
// Agent contract.
type AgentService struct {
	client   *genai.Client
	model    *genai.GenerativeModel
	rateChan chan struct{} // Token bucket
}

func NewAgentService(apiKey string, concurrentReqs int) (*AgentService, error) {
	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := client.GenerativeModel("gemini-3-flash-preview")
	model.SetTemperature(0.7)
	model.SetTopP(0.95)

	// Token bucket for concurrency limiting
	rateChan := make(chan struct{}, concurrentReqs)
	for i := 0; i < concurrentReqs; i++ {
		rateChan <- struct{}{}
	}

	return &AgentService{
		client:   client,
		model:    model,
		rateChan: rateChan,
	}, nil
}

func (s *AgentService) Close() {
	s.client.Close()
}

// Client exposes the underlying genai client so sibling services can share
// the connection.
func (s *AgentService) Client() *genai.Client {
	return s.client
}

// acquireRate blocks until a rate slot is available
func (s *AgentService) acquireRate(ctx context.Context) error {
	select {
	case <-s.rateChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Minute):
		return fmt.Errorf("timeout waiting for Gemini rate slot")
	}
}

func (s *AgentService) releaseRate() {
	s.rateChan <- struct{}{}
}

// Ask streams the agent's answer as content deltas. The returned channel is
// closed when generation finishes or ctx is canceled; a delta with a
// non-nil Err terminates the stream.
func (s *AgentService) Ask(ctx context.Context, p chat.AskParams) (<-chan chat.AgentDelta, error) {
	if err := s.acquireRate(ctx); err != nil {
		return nil, err
	}

	prompt := buildAgentPrompt(p)
	iter := s.model.GenerateContentStream(ctx, genai.Text(prompt))

	deltas := make(chan chat.AgentDelta)
	go func() {
		defer close(deltas)
		defer s.releaseRate()

		for {
			resp, err := iter.Next()
			if err == iterator.Done {
				return
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				select {
				case deltas <- chat.AgentDelta{Err: fmt.Errorf("Gemini stream error: %w", err)}:
				case <-ctx.Done():
				}
				return
			}

			content := extractText(resp)
			if content == "" {
				continue
			}
			select {
			case deltas <- chat.AgentDelta{Content: content}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return deltas, nil
}

func buildAgentPrompt(p chat.AskParams) string {
	var b strings.Builder
	b.WriteString("你是车载智能助手,回答要简短、口语化,适合在驾驶场景下朗读。\n")
	b.WriteString(fmt.Sprintf("当前识别的用户意图: %s\n", p.Intent))
	if p.CommandMode != "" {
		b.WriteString(fmt.Sprintf("当前指令模式: %s\n", p.CommandMode))
	}

	if len(p.History) > 0 {
		b.WriteString("\n最近的对话:\n")
		for _, m := range p.History {
			b.WriteString(fmt.Sprintf("%s: %s\n", m.Role, m.Content))
		}
	}

	b.WriteString("\n用户: ")
	b.WriteString(p.Input)
	return b.String()
}

func extractText(resp *genai.GenerateContentResponse) string {
	var text strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if t, ok := part.(genai.Text); ok {
					text.WriteString(string(t))
				}
			}
		}
	}
	return text.String()
}
