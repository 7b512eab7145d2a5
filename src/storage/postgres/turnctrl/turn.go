package turnctrl

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"docchat/src/core/conversation"
)

type Turn struct {
	ID             int64     `gorm:"primaryKey" json:"id"`
	ConversationID string    `gorm:"not null;index;column:conversation_id" json:"conversation_id"`
	Role           string    `gorm:"not null;size:16" json:"role"`
	Content        string    `gorm:"not null;type:text" json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

func (Turn) TableName() string {
	return "conversation_turns"
}

// TurnService stores conversation history. Snowflake ids give insertion order.
type TurnService struct {
	db        *gorm.DB
	snowflake *snowflake.Node
}

var _ conversation.Store = (*TurnService)(nil)

func NewTurnService(db *gorm.DB, nodeID int64) (*TurnService, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node: %w", err)
	}

	return &TurnService{
		db:        db,
		snowflake: node,
	}, nil
}

func (s *TurnService) AppendTurn(ctx context.Context, turn *conversation.Turn) error {
	row := &Turn{
		ID:             s.snowflake.Generate().Int64(),
		ConversationID: turn.ConversationID,
		Role:           string(turn.Role),
		Content:        turn.Content,
		CreatedAt:      turn.CreatedAt,
	}

	result := s.db.WithContext(ctx).Create(row)
	if result.Error != nil {
		return fmt.Errorf("failed to append turn: %w", result.Error)
	}
	return nil
}

func (s *TurnService) ListTurns(ctx context.Context, conversationID string) ([]conversation.Turn, error) {
	var rows []Turn
	result := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("id ASC").
		Find(&rows)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list turns: %w", result.Error)
	}

	turns := make([]conversation.Turn, len(rows))
	for i, row := range rows {
		turns[i] = conversation.Turn{
			ConversationID: row.ConversationID,
			Role:           conversation.Role(row.Role),
			Content:        row.Content,
			CreatedAt:      row.CreatedAt,
		}
	}
	return turns, nil
}
