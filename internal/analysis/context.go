package analysis

import (
	"context"
	"fmt"

	"github.com/arviso/client-pulse/internal/model"
	"github.com/arviso/client-pulse/internal/store"
)

// ContextLoader assembles the bounded conversation window and client profile
// every stage receives. The window is rebuilt per request and never persisted.
type ContextLoader struct {
	messages store.MessageStore
	maxTurns int
}

// NewContextLoader creates a loader with the given window bound.
func NewContextLoader(messages store.MessageStore, maxTurns int) *ContextLoader {
	if maxTurns <= 0 {
		maxTurns = 500
	}
	return &ContextLoader{messages: messages, maxTurns: maxTurns}
}

// Load builds the conversation context for a turn. The triggering message
// must already be appended to the store. Failure here is fatal for the turn.
func (l *ContextLoader) Load(ctx context.Context, conversationID string, profile model.ClientProfile) (*model.ConversationContext, error) {
	window, err := l.messages.RecentMessages(ctx, conversationID, l.maxTurns)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContextLoad, err)
	}
	if len(window) == 0 {
		return nil, fmt.Errorf("%w: conversation %s has no messages", ErrContextLoad, conversationID)
	}
	return &model.ConversationContext{
		ConversationID: conversationID,
		Profile:        profile,
		Messages:       window,
	}, nil
}
