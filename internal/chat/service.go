// internal/chat/service.go

package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/teakonn/teakonn-backend/internal/common/utils"
)

var (
	ErrMessageNotFound      = errors.New("message not found")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrEmptyMessage         = errors.New("message needs text or an attachment")
	ErrNotParticipant       = errors.New("not a participant in this conversation")
)

type Service interface {
	// Messages
	SendMessage(ctx context.Context, senderID string, req *SendMessageRequest) (*Message, error)
	GetMessage(ctx context.Context, messageID string) (*Message, error)
	GetRoomMessages(ctx context.Context, room, userID string, limit, offset int) ([]*Message, error)
	EditMessage(ctx context.Context, userID string, req *EditMessageRequest) (*Message, error)
	HideMessage(ctx context.Context, messageID, userID string) error
	ForceDeleteMessage(ctx context.Context, messageID, userID string) (*Message, error)

	// Message status
	MarkDelivered(ctx context.Context, messageID, userID string) (*Message, error)
	MarkRead(ctx context.Context, messageID, userID string) (*Message, error)

	// Reactions
	ToggleReaction(ctx context.Context, userID string, req *ReactionRequest) (*Message, error)

	// Conversations
	GetOrCreateConversation(ctx context.Context, userID, otherUserID string) (*Conversation, error)
	ListConversations(ctx context.Context, userID string, limit, offset int) ([]*Conversation, error)
	MarkConversationRead(ctx context.Context, conversationID, userID string) ([]*Message, error)
	DeleteConversation(ctx context.Context, conversationID, userID string) error
	ClearConversationMessages(ctx context.Context, conversationID, userID string) error
}

type chatService struct {
	repo     Repository
	presence *PresenceCache
}

func NewService(repo Repository, presence *PresenceCache) Service {
	return &chatService{repo: repo, presence: presence}
}

// SendMessage validates and persists a message, then brings the conversation
// index in step for direct rooms. The caller broadcasts only after this
// returns: clients other than the sender must never see a message that is not
// durably stored.
func (s *chatService) SendMessage(ctx context.Context, senderID string, req *SendMessageRequest) (*Message, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrEmptyMessage, err)
	}
	if req.Text == "" && req.FileURL == "" {
		return nil, ErrEmptyMessage
	}

	createdAt := req.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	message := &Message{
		ID:        uuid.NewString(),
		Room:      req.Room,
		SenderID:  senderID,
		ReplyToID: req.ReplyToID,
		CreatedAt: createdAt,
		Reactions: []*Reaction{},
	}
	if req.Text != "" {
		message.Text = &req.Text
	}
	if req.FileURL != "" {
		message.FileURL = &req.FileURL
	}
	if req.ClientKey != "" {
		message.ClientKey = &req.ClientKey
	}

	start := time.Now()
	if err := s.repo.CreateMessage(ctx, message); err != nil {
		return nil, err
	}
	observeStorageWrite("create_message", time.Since(start))

	s.syncConversation(ctx, message)

	recordMessageSent(message.FileURL != nil)
	return message, nil
}

// syncConversation keeps the per-pair index in step with a direct-room send.
// An index failure after the durable write is tolerated: the list endpoint
// recomputes unread counts from receipts, so the drift heals on next load.
func (s *chatService) syncConversation(ctx context.Context, message *Message) {
	userA, userB, ok := DirectRoomParticipants(message.Room)
	if !ok {
		return
	}

	if _, err := s.repo.GetOrCreateConversation(ctx, userA, userB); err != nil {
		logServiceError("conversation upsert", err)
		return
	}

	preview := message.Text
	if preview == nil {
		p := "Sent an attachment"
		preview = &p
	}
	if err := s.repo.UpdateConversationLastMessage(ctx, message.Room, preview, message.SenderID, message.CreatedAt); err != nil {
		logServiceError("conversation snapshot", err)
	}

	for _, userID := range []string{userA, userB} {
		if userID == message.SenderID {
			continue
		}
		if err := s.repo.IncrementUnreadCount(ctx, message.Room, userID); err != nil {
			logServiceError("unread increment", err)
		}
	}
}

func (s *chatService) GetMessage(ctx context.Context, messageID string) (*Message, error) {
	return s.repo.GetMessage(ctx, messageID)
}

func (s *chatService) GetRoomMessages(ctx context.Context, room, userID string, limit, offset int) ([]*Message, error) {
	return s.repo.GetRoomMessages(ctx, room, userID, limit, offset)
}

// EditMessage overwrites the body. Only the original sender may edit, and the
// check happens here regardless of what the client UI exposes.
func (s *chatService) EditMessage(ctx context.Context, userID string, req *EditMessageRequest) (*Message, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, err
	}

	message, err := s.repo.GetMessage(ctx, req.MessageID)
	if err != nil {
		return nil, err
	}
	if message.SenderID != userID {
		return nil, ErrUnauthorized
	}

	if err := s.repo.UpdateMessageText(ctx, req.MessageID, req.Text, time.Now()); err != nil {
		return nil, err
	}
	return s.repo.GetMessage(ctx, req.MessageID)
}

// HideMessage soft-deletes "for me". Hiding an already-gone message is a
// no-op, not an error: another client may have force-deleted it meanwhile.
func (s *chatService) HideMessage(ctx context.Context, messageID, userID string) error {
	if _, err := s.repo.GetMessage(ctx, messageID); err != nil {
		if errors.Is(err, ErrMessageNotFound) {
			return nil
		}
		return err
	}
	return s.repo.HideMessage(ctx, messageID, userID)
}

// ForceDeleteMessage removes a message for everyone; sender-only privilege.
// Returns the deleted message so the dispatcher can address its room.
func (s *chatService) ForceDeleteMessage(ctx context.Context, messageID, userID string) (*Message, error) {
	message, err := s.repo.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if message.SenderID != userID {
		return nil, ErrUnauthorized
	}

	if err := s.repo.DeleteMessage(ctx, messageID); err != nil {
		return nil, err
	}
	return message, nil
}

// MarkDelivered records a delivery receipt and returns the refreshed message.
// The sender's own ack is ignored; re-acking is idempotent.
func (s *chatService) MarkDelivered(ctx context.Context, messageID, userID string) (*Message, error) {
	message, err := s.repo.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if message.SenderID == userID {
		return message, nil
	}

	if err := s.repo.MarkDelivered(ctx, messageID, userID, time.Now()); err != nil {
		return nil, err
	}
	return s.repo.GetMessage(ctx, messageID)
}

// MarkRead records a read receipt; read implies delivered for display
func (s *chatService) MarkRead(ctx context.Context, messageID, userID string) (*Message, error) {
	message, err := s.repo.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if message.SenderID == userID {
		return message, nil
	}

	if err := s.repo.MarkRead(ctx, messageID, userID, time.Now()); err != nil {
		return nil, err
	}
	return s.repo.GetMessage(ctx, messageID)
}

// ToggleReaction adds the (user, emoji) pair or removes it if present, and
// returns the message with the full updated reaction set
func (s *chatService) ToggleReaction(ctx context.Context, userID string, req *ReactionRequest) (*Message, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, err
	}

	if _, err := s.repo.GetMessage(ctx, req.MessageID); err != nil {
		return nil, err
	}

	if _, err := s.repo.ToggleReaction(ctx, req.MessageID, userID, req.Emoji); err != nil {
		return nil, err
	}
	return s.repo.GetMessage(ctx, req.MessageID)
}

func (s *chatService) GetOrCreateConversation(ctx context.Context, userID, otherUserID string) (*Conversation, error) {
	if otherUserID == "" || otherUserID == userID {
		return nil, fmt.Errorf("%w: invalid conversation partner", ErrConversationNotFound)
	}

	conv, err := s.repo.GetOrCreateConversation(ctx, userID, otherUserID)
	if err != nil {
		return nil, err
	}
	s.attachUnread(ctx, conv, userID)
	return conv, nil
}

// ListConversations returns the caller's conversation index. Unread counts
// are recomputed from receipts on every load (read-repair); the stored
// counter only feeds pushes between loads.
func (s *chatService) ListConversations(ctx context.Context, userID string, limit, offset int) ([]*Conversation, error) {
	conversations, err := s.repo.GetUserConversations(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}

	for _, conv := range conversations {
		s.attachUnread(ctx, conv, userID)
	}
	return conversations, nil
}

func (s *chatService) attachUnread(ctx context.Context, conv *Conversation, userID string) {
	count, err := s.repo.CountUnreadMessages(ctx, conv.Room, userID)
	if err != nil {
		// fall back to the cached counter
		logServiceError("unread read-repair", err)
		for _, p := range conv.Participants {
			if p.UserID == userID {
				conv.UnreadCount = p.UnreadCount
			}
		}
		return
	}
	conv.UnreadCount = count
}

// MarkConversationRead zeroes the caller's unread counter and bulk-reads all
// unread messages in the room. Returns the messages whose receipt state
// changed so the dispatcher can broadcast status updates.
func (s *chatService) MarkConversationRead(ctx context.Context, conversationID, userID string) ([]*Message, error) {
	conv, err := s.requireParticipant(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}

	if err := s.repo.ResetUnreadCount(ctx, conversationID, userID); err != nil {
		return nil, err
	}

	changed, err := s.repo.MarkRoomMessagesRead(ctx, conv.Room, userID, time.Now())
	if err != nil {
		return nil, err
	}

	messages := make([]*Message, 0, len(changed))
	for _, id := range changed {
		message, err := s.repo.GetMessage(ctx, id)
		if err != nil {
			continue
		}
		messages = append(messages, message)
	}
	return messages, nil
}

func (s *chatService) DeleteConversation(ctx context.Context, conversationID, userID string) error {
	conv, err := s.requireParticipant(ctx, conversationID, userID)
	if err != nil {
		return err
	}

	if err := s.repo.DeleteRoomMessages(ctx, conv.Room); err != nil {
		return err
	}
	return s.repo.DeleteConversation(ctx, conversationID)
}

func (s *chatService) ClearConversationMessages(ctx context.Context, conversationID, userID string) error {
	conv, err := s.requireParticipant(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	return s.repo.DeleteRoomMessages(ctx, conv.Room)
}

func (s *chatService) requireParticipant(ctx context.Context, conversationID, userID string) (*Conversation, error) {
	conv, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	ok, err := s.repo.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotParticipant
	}
	return conv, nil
}
