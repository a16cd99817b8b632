package conversations

import (
	"context"

	"github.com/cloudwego/eino/schema"

	"github.com/faturai/server/internal/agent/model"
)

// MessagesManager mediates between the pipeline nodes and the durable
// transcript. Nodes never talk to the repository directly.
type MessagesManager struct {
	conversationRepo model.ConversationRepository
}

func NewMessagesManager(conversationRepo model.ConversationRepository) *MessagesManager {
	return &MessagesManager{conversationRepo: conversationRepo}
}

// AppendUserMessage records one incoming user turn.
func (cm *MessagesManager) AppendUserMessage(ctx context.Context, conversationID string, query string) error {
	return cm.conversationRepo.AddMessage(ctx, conversationID, schema.UserMessage(query))
}

// SaveAssistantReply records one assistant turn shown to the user.
func (cm *MessagesManager) SaveAssistantReply(ctx context.Context, conversationID string, content string) error {
	return cm.conversationRepo.AddMessage(ctx, conversationID, schema.AssistantMessage(content, nil))
}

// BuildClarifyContext assembles the clarifier's context window: the system
// prompt followed by the persisted conversation so the model can see its own
// earlier refinement questions across suspensions.
func (cm *MessagesManager) BuildClarifyContext(ctx context.Context, conversationID string, systemPrompt string) ([]*schema.Message, error) {
	history, err := cm.conversationRepo.LoadHistory(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	messages := []*schema.Message{
		schema.SystemMessage(systemPrompt),
	}
	messages = append(messages, history.Messages...)

	return messages, nil
}

// History returns the persisted transcript of a conversation.
func (cm *MessagesManager) History(ctx context.Context, conversationID string) ([]*schema.Message, error) {
	history, err := cm.conversationRepo.LoadHistory(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return history.Messages, nil
}
