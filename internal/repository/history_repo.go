package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"carpilot-backend/internal/models"
)

type HistoryRepo struct {
	pool *pgxpool.Pool
}

func NewHistoryRepo(pool *pgxpool.Pool) *HistoryRepo {
	return &HistoryRepo{pool: pool}
}

func (r *HistoryRepo) AddUserMessage(ctx context.Context, userID uuid.UUID, content string, intent models.Intent, conversationID int) (int64, error) {
	return r.addMessage(ctx, userID, "user", content, intent, conversationID)
}

func (r *HistoryRepo) AddAssistantMessage(ctx context.Context, userID uuid.UUID, content string, intent models.Intent, conversationID int) (int64, error) {
	return r.addMessage(ctx, userID, "assistant", content, intent, conversationID)
}

func (r *HistoryRepo) addMessage(ctx context.Context, userID uuid.UUID, role, content string, intent models.Intent, conversationID int) (int64, error) {
	var id int64
	query := `INSERT INTO chat_history (user_id, conversation_id, role, content, intent)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`

	err := r.pool.QueryRow(ctx, query, userID, conversationID, role, content, string(intent)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert %s message: %w", role, err)
	}
	return id, nil
}

// RecentMessages returns the user's turns inside the lookback window, oldest
// first, across all of their conversations.
func (r *HistoryRepo) RecentMessages(ctx context.Context, userID uuid.UUID, window time.Duration) ([]models.ChatHistoryMessage, error) {
	query := `SELECT id, user_id, conversation_id, role, content, intent, created_at
		FROM chat_history
		WHERE user_id = $1 AND created_at > NOW() - make_interval(secs => $2)
		ORDER BY created_at ASC`

	rows, err := r.pool.Query(ctx, query, userID, window.Seconds())
	if err != nil {
		return nil, fmt.Errorf("query recent messages: %w", err)
	}
	defer rows.Close()

	var messages []models.ChatHistoryMessage
	for rows.Next() {
		var m models.ChatHistoryMessage
		var intent string
		if err := rows.Scan(&m.ID, &m.UserID, &m.ConversationID, &m.Role, &m.Content, &intent, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Intent = models.Intent(intent)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
