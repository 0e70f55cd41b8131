package chatstore

import (
	"context"

	"github.com/go-go-golems/reelchat/pkg/chat"
)

// ConversationRecord summarises a recorded conversation for history listing.
type ConversationRecord struct {
	ConvID         string `json:"conv_id"`
	CreatedAtMs    int64  `json:"created_at_ms"`
	LastActivityMs int64  `json:"last_activity_ms"`
	MessageCount   int    `json:"message_count"`
	LastMessage    string `json:"last_message,omitempty"`
}

// TranscriptStore is the durable record of settled exchanges.
//
// Messages are keyed by (conversation, message id) and keep the order in which
// they were first recorded. Recording a known message again replaces its
// content and payload.
type TranscriptStore interface {
	RecordMessages(ctx context.Context, convID string, msgs []chat.Message) error
	ListMessages(ctx context.Context, convID string, limit int) ([]chat.Message, error)
	ListConversations(ctx context.Context, limit int, sinceMs int64) ([]ConversationRecord, error)
	Close() error
}
