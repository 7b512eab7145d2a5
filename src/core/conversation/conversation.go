package conversation

import (
	"context"
	"fmt"
	"time"

	"docchat/src/core/failure"
)

// Role tags who produced a turn
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn represents one message in a conversation's history
type Turn struct {
	ConversationID string    `json:"conversationId"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Store is the external conversation history store.
// ListTurns must return turns in insertion order.
type Store interface {
	AppendTurn(ctx context.Context, turn *Turn) error
	ListTurns(ctx context.Context, conversationID string) ([]Turn, error)
}

// Memory appends and reads turn history for a conversation.
//
// Appends from overlapping requests on the same conversation are not
// serialized: two requests may interleave their user/assistant pairs, and a
// failed assistant append leaves the user turn in place.
type Memory struct {
	store Store
	now   func() time.Time
}

func NewMemory(store Store) *Memory {
	return &Memory{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (m *Memory) Append(ctx context.Context, conversationID string, role Role, content string) error {
	turn := &Turn{
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      m.now(),
	}
	if err := m.store.AppendTurn(ctx, turn); err != nil {
		return fmt.Errorf("%w: failed to append %s turn to conversation %s: %w", failure.ErrIO, role, conversationID, err)
	}
	return nil
}

func (m *Memory) History(ctx context.Context, conversationID string) ([]Turn, error) {
	turns, err := m.store.ListTurns(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read history of conversation %s: %w", failure.ErrIO, conversationID, err)
	}
	return turns, nil
}
