package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// UsageService tracks daily active LLM users in a per-day Redis set.
type UsageService struct {
	redis *redis.Client
}

func NewUsageService(redisClient *redis.Client) *UsageService {
	return &UsageService{redis: redisClient}
}

// RecordActive marks the user active for today. The set expires after 48h;
// that is enough slack for the nightly metrics export to read it.
func (s *UsageService) RecordActive(ctx context.Context, userID uuid.UUID) error {
	key := fmt.Sprintf("dau:llm:%s", time.Now().UTC().Format("2006-01-02"))

	pipe := s.redis.Pipeline()
	pipe.SAdd(ctx, key, userID.String())
	pipe.Expire(ctx, key, 48*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record DAU: %w", err)
	}
	return nil
}
