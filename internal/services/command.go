package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"carpilot-backend/internal/models"
)

// Command modes. "restricted" blocks commands that are unsafe while the
// vehicle is moving; "off" disables quick commands entirely, sending every
// utterance to the agent.
const (
	CommandModeFull       = "full"
	CommandModeRestricted = "restricted"
	CommandModeOff        = "off"
)

// ExitCommandPhrase resets the user's command mode and, by convention
// upstream, is never written to chat memory.
const ExitCommandPhrase = "退出。"

type quickCommand struct {
	response    string
	whileMoving bool // allowed under the restricted mode
}

// Deterministic vehicle controls. Matching is exact on the normalized
// input; anything fuzzier belongs to the agent.
var quickCommands = map[string]quickCommand{
	"锁车":     {response: "锁车已执行", whileMoving: false},
	"解锁车门":   {response: "车门已解锁", whileMoving: false},
	"打开车窗":   {response: "车窗已打开", whileMoving: true},
	"关闭车窗":   {response: "车窗已关闭", whileMoving: true},
	"打开空调":   {response: "空调已打开", whileMoving: true},
	"关闭空调":   {response: "空调已关闭", whileMoving: true},
	"打开后备箱":  {response: "后备箱已打开", whileMoving: false},
	"打开座椅加热": {response: "座椅加热已打开", whileMoving: true},
	"关闭座椅加热": {response: "座椅加热已关闭", whileMoving: true},
	"鸣笛":     {response: "已鸣笛", whileMoving: false},
	"闪灯":     {response: "已闪灯", whileMoving: false},
}

// CommandService is the quick-command gate: it decides whether an utterance
// is a deterministic vehicle control and keeps the per-user command mode in
// Redis. It also fans command events out to the web app via pub/sub.
type CommandService struct {
	redis       *redis.Client
	pubsub      *redis.Client
	defaultMode string
}

func NewCommandService(redisClient, pubsubClient *redis.Client, defaultMode string) *CommandService {
	if defaultMode == "" {
		defaultMode = CommandModeFull
	}
	return &CommandService{
		redis:       redisClient,
		pubsub:      pubsubClient,
		defaultMode: defaultMode,
	}
}

func commandModeKey(userID uuid.UUID) string {
	return fmt.Sprintf("command_mode:%s", userID.String())
}

// CommandMode fetches the user's current mode, falling back to the default
// when unset.
func (s *CommandService) CommandMode(ctx context.Context, userID uuid.UUID) (string, error) {
	mode, err := s.redis.Get(ctx, commandModeKey(userID)).Result()
	if err == redis.Nil {
		return s.defaultMode, nil
	}
	if err != nil {
		return s.defaultMode, fmt.Errorf("get command mode: %w", err)
	}
	return mode, nil
}

// SetCommandMode stores the user's mode with a rolling 24h expiry.
func (s *CommandService) SetCommandMode(ctx context.Context, userID uuid.UUID, mode string) error {
	return s.redis.Set(ctx, commandModeKey(userID), mode, 24*time.Hour).Err()
}

// Execute returns the canned response when the input is a quick command
// permitted under the given mode. A false return means the turn goes to the
// agent.
func (s *CommandService) Execute(ctx context.Context, userID uuid.UUID, input, mode string) (string, bool) {
	if mode == CommandModeOff {
		return "", false
	}

	if input == ExitCommandPhrase {
		if err := s.redis.Del(ctx, commandModeKey(userID)).Err(); err != nil && err != redis.Nil {
			log.Printf("reset command mode for user %s: %v", userID, err)
		}
		return "已退出指令模式", true
	}

	cmd, ok := quickCommands[input]
	if !ok {
		return "", false
	}
	if mode == CommandModeRestricted && !cmd.whileMoving {
		return "", false
	}
	return cmd.response, true
}

// PublishCommandExecuted pushes a command_executed event onto the user's
// update channel; the WebSocket hub delivers it to connected web clients.
func (s *CommandService) PublishCommandExecuted(ctx context.Context, userID uuid.UUID, command, response string) {
	msg := models.WSMessage{
		Type: "command_executed",
		Payload: models.CommandExecutedEvent{
			Command:  command,
			Response: response,
		},
	}
	data, _ := json.Marshal(msg)
	if err := s.pubsub.Publish(ctx, fmt.Sprintf("user_updates:%s", userID.String()), string(data)).Err(); err != nil {
		log.Printf("publish command event for user %s: %v", userID, err)
	}
}
