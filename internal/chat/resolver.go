package chat

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"carpilot-backend/internal/models"
)

// ConversationStore is the slice of the conversation repository the
// resolver needs.
type ConversationStore interface {
	CreateForFirstMessage(ctx context.Context, userID uuid.UUID) (*models.Conversation, error)
	VoiceModeConversationID(ctx context.Context, userID uuid.UUID) (int, error)
}

// Handle is a resolved conversation: its id and whether this request
// created it. IsNew is only meaningful for web-originated turns; the id is
// never surfaced on the stream for voice turns.
type Handle struct {
	ID    int
	IsNew bool
}

type Resolver struct {
	conversations ConversationStore
}

func NewResolver(conversations ConversationStore) *Resolver {
	return &Resolver{conversations: conversations}
}

// Resolve picks the conversation thread for one turn:
// web with a client-supplied id reuses it verbatim, web without an id
// creates a thread lazily, and voice turns always land on the user's
// standing voice-mode thread regardless of any client id. An id of 0 is
// not a real thread and counts as absent.
//
// Callers must resolve at most once per request and pass the handle by
// value wherever it is needed, so a new web thread is created at most once
// per turn.
func (r *Resolver) Resolve(ctx context.Context, userID uuid.UUID, fromWeb bool, clientID *int) (Handle, error) {
	if fromWeb {
		if clientID != nil && *clientID != 0 {
			return Handle{ID: *clientID}, nil
		}
		conv, err := r.conversations.CreateForFirstMessage(ctx, userID)
		if err != nil {
			return Handle{}, fmt.Errorf("create conversation: %w", err)
		}
		return Handle{ID: conv.ID, IsNew: true}, nil
	}

	id, err := r.conversations.VoiceModeConversationID(ctx, userID)
	if err != nil {
		return Handle{}, fmt.Errorf("voice mode conversation: %w", err)
	}
	return Handle{ID: id}, nil
}
