package services

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/redis/go-redis/v9"

	"carpilot-backend/internal/models"
)

// IntentService classifies utterances into the assistant's intent taxonomy
// with a small Gemini call, cached in Redis keyed by the input text.
type IntentService struct {
	model *genai.GenerativeModel
	redis *redis.Client
}

func NewIntentService(client *genai.Client, redisClient *redis.Client) *IntentService {
	model := client.GenerativeModel("gemini-3-flash-preview")
	model.SetTemperature(0.0)

	return &IntentService{
		model: model,
		redis: redisClient,
	}
}

func intentCacheKey(text string) string {
	sum := sha1.Sum([]byte(text))
	return "intent:" + hex.EncodeToString(sum[:])
}

func (s *IntentService) Classify(ctx context.Context, text string, history []models.ChatHistoryMessage) (models.Intent, error) {
	key := intentCacheKey(text)
	if cached, err := s.redis.Get(ctx, key).Result(); err == nil {
		return models.Intent(cached), nil
	}

	prompt := buildIntentPrompt(text, historyTail(history, 6))
	resp, err := s.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return models.IntentChat, fmt.Errorf("Gemini API error: %w", err)
	}

	label := strings.ToUpper(strings.TrimSpace(extractText(resp)))
	intent := models.ParseIntent(label)

	if err := s.redis.Set(ctx, key, string(intent), 24*time.Hour).Err(); err != nil {
		// Cache is an optimization only.
		return intent, nil
	}
	return intent, nil
}

// historyTail returns at most n trailing entries of history.
func historyTail(history []models.ChatHistoryMessage, n int) []models.ChatHistoryMessage {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

func buildIntentPrompt(text string, history []models.ChatHistoryMessage) string {
	var b strings.Builder
	b.WriteString("将下面这句车内用户的话分类为以下意图之一,只输出意图标签:\n")
	b.WriteString("CONTROL_VEHICLE, CHAT, NAVIGATION, VEHICLE_STATUS, NEWS, WEATHER, NOTHING\n")
	b.WriteString("NOTHING 表示无意义的噪音、误触发或不需要回应的内容。\n")

	if len(history) > 0 {
		b.WriteString("\n上下文:\n")
		for _, m := range history {
			b.WriteString(fmt.Sprintf("%s: %s\n", m.Role, m.Content))
		}
	}

	b.WriteString("\n用户的话: ")
	b.WriteString(text)
	return b.String()
}
