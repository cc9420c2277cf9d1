// Package worker runs the background chat-memory queue. Producers enqueue
// without blocking the HTTP response; failures here are logged and dropped,
// never surfaced to the client and never retried.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"carpilot-backend/internal/models"
	"carpilot-backend/internal/repository"
)

const memoryQueue = "queue:chat-memory"

type Pool struct {
	redis       *redis.Client
	historyRepo *repository.HistoryRepo
	workerCount int
	stopChan    chan struct{}
}

func NewPool(redisClient *redis.Client, historyRepo *repository.HistoryRepo, workerCount int) *Pool {
	return &Pool{
		redis:       redisClient,
		historyRepo: historyRepo,
		workerCount: workerCount,
		stopChan:    make(chan struct{}),
	}
}

// EnqueueMemoryWrite pushes one memory-write task. It is cheap enough to
// call on the request path; a failed push is the caller's to log and drop.
func (p *Pool) EnqueueMemoryWrite(ctx context.Context, task models.MemoryWriteTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal memory task: %w", err)
	}
	if err := p.redis.LPush(ctx, memoryQueue, data).Err(); err != nil {
		return fmt.Errorf("enqueue memory task: %w", err)
	}
	return nil
}

func (p *Pool) Start() {
	for i := 0; i < p.workerCount; i++ {
		go p.worker(i)
	}
	log.Printf("Started %d memory worker goroutines", p.workerCount)
}

func (p *Pool) Stop() {
	close(p.stopChan)
}

func (p *Pool) worker(id int) {
	for {
		select {
		case <-p.stopChan:
			log.Printf("Memory worker %d shutting down", id)
			return
		default:
		}

		ctx := context.Background()

		result, err := p.redis.BLPop(ctx, 30*time.Second, memoryQueue).Result()
		if err != nil {
			continue // Timeout or error, retry
		}
		if len(result) < 2 {
			continue
		}

		var task models.MemoryWriteTask
		if err := json.Unmarshal([]byte(result[1]), &task); err != nil {
			log.Printf("Memory worker %d: failed to parse task: %v", id, err)
			continue
		}

		if err := p.process(ctx, &task); err != nil {
			log.Printf("Memory worker %d: write failed for user %s conversation %d: %v",
				id, task.UserID, task.ConversationID, err)
		}
	}
}

func (p *Pool) process(ctx context.Context, task *models.MemoryWriteTask) error {
	if task.UserMessage != "" {
		if _, err := p.historyRepo.AddUserMessage(ctx, task.UserID, task.UserMessage, task.Intent, task.ConversationID); err != nil {
			return err
		}
	}
	if task.AssistantMessage != "" {
		if _, err := p.historyRepo.AddAssistantMessage(ctx, task.UserID, task.AssistantMessage, task.Intent, task.ConversationID); err != nil {
			return err
		}
	}
	if task.UserMessage != "" && task.AssistantMessage != "" {
		log.Printf("input: %s\noutput: %s", task.UserMessage, task.AssistantMessage)
	}
	return nil
}
