package model

import (
	"context"
	"time"

	"github.com/cloudwego/eino/schema"
)

type ConversationRepository interface {
	// AddMessage appends a message to the conversation history.
	AddMessage(ctx context.Context, conversationID string, message *schema.Message) error

	// LoadHistory retrieves the conversation history for a conversation.
	LoadHistory(ctx context.Context, conversationID string) (*ConversationHistory, error)

	// ClearHistory removes all conversation history for a conversation.
	ClearHistory(ctx context.Context, conversationID string) error

	// GetMessageCount returns the number of messages in the conversation.
	GetMessageCount(ctx context.Context, conversationID string) (int, error)

	// SaveCheckpoint persists the suspension point of a clarification loop
	// under its resume token.
	SaveCheckpoint(ctx context.Context, token string, cp *Checkpoint) error

	// LoadCheckpoint retrieves a suspended clarification checkpoint, or nil
	// when the token is unknown or expired.
	LoadCheckpoint(ctx context.Context, token string) (*Checkpoint, error)

	// DeleteCheckpoint discards a checkpoint once the conversation resumed or
	// terminated.
	DeleteCheckpoint(ctx context.Context, token string) error
}

// ConversationHistory represents loaded conversation data with metadata.
type ConversationHistory struct {
	ConversationID string
	Messages       []*schema.Message
}

// Checkpoint marks a clarification loop suspended for user input. It is the
// resumable-computation record: everything else needed on resume lives in the
// persisted transcript.
type Checkpoint struct {
	ConversationID string    `json:"conversation_id"`
	ClarifyTurns   int       `json:"clarify_turns"`
	CreatedAt      time.Time `json:"created_at"`
}
