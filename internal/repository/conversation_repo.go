package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"carpilot-backend/internal/models"
)

type ConversationRepo struct {
	pool *pgxpool.Pool
}

func NewConversationRepo(pool *pgxpool.Pool) *ConversationRepo {
	return &ConversationRepo{pool: pool}
}

// CreateForFirstMessage creates a fresh web conversation thread. Threads
// are created lazily, only once a turn actually arrives for them.
func (r *ConversationRepo) CreateForFirstMessage(ctx context.Context, userID uuid.UUID) (*models.Conversation, error) {
	conv := &models.Conversation{UserID: userID}
	query := `INSERT INTO conversations (user_id, is_voice_mode)
		VALUES ($1, FALSE) RETURNING id, created_at`

	if err := r.pool.QueryRow(ctx, query, userID).Scan(&conv.ID, &conv.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}
	return conv, nil
}

// VoiceModeConversationID returns the user's standing voice-mode thread,
// creating it on first use. The partial unique index on (user_id) WHERE
// is_voice_mode guarantees at most one per user even under concurrent
// requests.
func (r *ConversationRepo) VoiceModeConversationID(ctx context.Context, userID uuid.UUID) (int, error) {
	var id int
	query := `INSERT INTO conversations (user_id, is_voice_mode)
		VALUES ($1, TRUE)
		ON CONFLICT (user_id) WHERE is_voice_mode DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING id`

	if err := r.pool.QueryRow(ctx, query, userID).Scan(&id); err != nil {
		return 0, fmt.Errorf("voice mode conversation: %w", err)
	}
	return id, nil
}
