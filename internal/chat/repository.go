// internal/chat/repository.go

package chat

import (
	"context"
	"time"
)

type Repository interface {
	// Messages
	CreateMessage(ctx context.Context, message *Message) error
	GetMessage(ctx context.Context, id string) (*Message, error)
	GetRoomMessages(ctx context.Context, room, forUserID string, limit, offset int) ([]*Message, error)
	UpdateMessageText(ctx context.Context, id, text string, editedAt time.Time) error
	DeleteMessage(ctx context.Context, id string) error
	HideMessage(ctx context.Context, messageID, userID string) error
	DeleteRoomMessages(ctx context.Context, room string) error

	// Receipts (set semantics: re-marking is a no-op)
	MarkDelivered(ctx context.Context, messageID, userID string, at time.Time) error
	MarkRead(ctx context.Context, messageID, userID string, at time.Time) error
	MarkRoomMessagesRead(ctx context.Context, room, userID string, at time.Time) ([]string, error)

	// Reactions
	ToggleReaction(ctx context.Context, messageID, userID, emoji string) (added bool, err error)

	// Conversations
	GetOrCreateConversation(ctx context.Context, userA, userB string) (*Conversation, error)
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	GetUserConversations(ctx context.Context, userID string, limit, offset int) ([]*Conversation, error)
	UpdateConversationLastMessage(ctx context.Context, room string, preview *string, senderID string, at time.Time) error
	IncrementUnreadCount(ctx context.Context, room, userID string) error
	ResetUnreadCount(ctx context.Context, conversationID, userID string) error
	CountUnreadMessages(ctx context.Context, room, userID string) (int, error)
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
	DeleteConversation(ctx context.Context, id string) error
}
