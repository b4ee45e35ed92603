// internal/chat/models.go

package chat

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// Message is a chat message in a room. A room is either a direct-message pair
// id (see DirectRoomID) or an opaque group/event id; no room entity is stored.
type Message struct {
	ID        string     `json:"id" db:"id"`
	Room      string     `json:"room" db:"room"`
	SenderID  string     `json:"sender_id" db:"sender_id"`
	Text      *string    `json:"text,omitempty" db:"text"`
	FileURL   *string    `json:"file_url,omitempty" db:"file_url"`
	ReplyToID *string    `json:"reply_to_id,omitempty" db:"reply_to_id"`
	ClientKey *string    `json:"client_key,omitempty" db:"client_key"`
	IsEdited  bool       `json:"is_edited" db:"is_edited"`
	EditedAt  *time.Time `json:"edited_at,omitempty" db:"edited_at"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`

	// Computed fields
	DeliveredTo []string    `json:"delivered_to"`
	ReadBy      []string    `json:"read_by"`
	Reactions   []*Reaction `json:"reactions"`
	HiddenFor   []string    `json:"-"`
}

// Reaction is one (user, emoji) pair on a message. A user may hold several
// reactions with different emoji; the same pair never appears twice.
type Reaction struct {
	MessageID string    `json:"message_id" db:"message_id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Emoji     string    `json:"emoji" db:"emoji"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Conversation is the denormalized per-pair index over direct-message rooms:
// last-message snapshot plus per-participant unread bookkeeping.
type Conversation struct {
	ID                string     `json:"id" db:"id"`
	Room              string     `json:"room" db:"room"`
	LastMessageText   *string    `json:"last_message_text,omitempty" db:"last_message_text"`
	LastMessageSender *string    `json:"last_message_sender,omitempty" db:"last_message_sender"`
	LastMessageAt     *time.Time `json:"last_message_at,omitempty" db:"last_message_at"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`

	// Computed fields
	Participants []*Participant `json:"participants,omitempty"`
	UnreadCount  int            `json:"unread_count"`
}

// Participant is one side of a direct conversation
type Participant struct {
	ConversationID string     `json:"conversation_id" db:"conversation_id"`
	UserID         string     `json:"user_id" db:"user_id"`
	UnreadCount    int        `json:"unread_count" db:"unread_count"`
	LastReadAt     *time.Time `json:"last_read_at,omitempty" db:"last_read_at"`
}

// UserInfo is the slice of user identity the chat layer needs; the full user
// record belongs to the auth subsystem.
type UserInfo struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

// directRoomPrefix marks room ids that carry a conversation index entry
const directRoomPrefix = "dm:"

// DirectRoomID returns the stable room id for an unordered user pair.
func DirectRoomID(userA, userB string) string {
	pair := []string{userA, userB}
	sort.Strings(pair)
	return directRoomPrefix + pair[0] + ":" + pair[1]
}

// IsDirectRoom reports whether a room id names a direct-message pair
func IsDirectRoom(room string) bool {
	return strings.HasPrefix(room, directRoomPrefix)
}

// DirectRoomParticipants extracts the user pair from a direct room id.
// Returns ok=false for group/event rooms.
func DirectRoomParticipants(room string) (string, string, bool) {
	if !IsDirectRoom(room) {
		return "", "", false
	}
	parts := strings.SplitN(strings.TrimPrefix(room, directRoomPrefix), ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// HasReaction reports whether the (user, emoji) pair is present
func (m *Message) HasReaction(userID, emoji string) bool {
	for _, r := range m.Reactions {
		if r.UserID == userID && r.Emoji == emoji {
			return true
		}
	}
	return false
}

// IsHiddenFor reports whether the message is soft-deleted for the given user
func (m *Message) IsHiddenFor(userID string) bool {
	for _, id := range m.HiddenFor {
		if id == userID {
			return true
		}
	}
	return false
}

// Request DTOs

type SendMessageRequest struct {
	Room      string    `json:"room" validate:"required"`
	Text      string    `json:"text" validate:"required_without=FileURL"`
	FileURL   string    `json:"file_url" validate:"omitempty,url"`
	ReplyToID *string   `json:"reply_to_id,omitempty"`
	ClientKey string    `json:"client_key,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

type EditMessageRequest struct {
	MessageID string `json:"message_id" validate:"required"`
	Text      string `json:"text" validate:"required"`
}

type ReactionRequest struct {
	Room      string `json:"room" validate:"required"`
	MessageID string `json:"message_id" validate:"required"`
	Emoji     string `json:"emoji" validate:"required,max=16"`
}

type TypingRequest struct {
	Room   string    `json:"room" validate:"required"`
	Typing bool      `json:"typing"`
	User   *UserInfo `json:"user,omitempty"`
}

type ReceiptRequest struct {
	MessageID string `json:"message_id" validate:"required"`
}

type CreateConversationRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

// WSMessage is the envelope for every socket frame in both directions
type WSMessage struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}
