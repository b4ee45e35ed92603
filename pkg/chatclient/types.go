// pkg/chatclient/types.go

package chatclient

import (
	"encoding/json"
	"time"
)

// Wire types mirroring the server's socket schema.

// Message is the authoritative server-side message
type Message struct {
	ID        string     `json:"id"`
	Room      string     `json:"room"`
	SenderID  string     `json:"sender_id"`
	Text      *string    `json:"text,omitempty"`
	FileURL   *string    `json:"file_url,omitempty"`
	ReplyToID *string    `json:"reply_to_id,omitempty"`
	ClientKey *string    `json:"client_key,omitempty"`
	IsEdited  bool       `json:"is_edited"`
	EditedAt  *time.Time `json:"edited_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`

	DeliveredTo []string   `json:"delivered_to"`
	ReadBy      []string   `json:"read_by"`
	Reactions   []Reaction `json:"reactions"`
}

// Reaction is one (user, emoji) pair on a message
type Reaction struct {
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
	Emoji     string `json:"emoji"`
}

// UserInfo is the identity slice carried on typing events
type UserInfo struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

// Envelope frames every event in both directions
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// Event names
const (
	EventJoinRoom    = "join_room"
	EventSendMessage = "send_message"
	EventEditMessage = "edit_message"
	EventReact       = "react"
	EventTyping      = "typing"
	EventDelivered   = "message_delivered"
	EventRead        = "message_read"

	EventReceiveMessage = "receive_message"
	EventMessageEdited  = "message_edited"
	EventMessageHidden  = "message_hidden"
	EventMessageDeleted = "message_deleted"
	EventReactionUpdate = "reaction_update"
	EventStatusUpdate   = "message_status_update"
	EventPresenceUpdate = "presence_update"
	EventOnlineUsers    = "online_users_list"
	EventError          = "error"
)

type sendPayload struct {
	Room      string    `json:"room"`
	Text      string    `json:"text,omitempty"`
	FileURL   string    `json:"file_url,omitempty"`
	ReplyToID *string   `json:"reply_to_id,omitempty"`
	ClientKey string    `json:"client_key,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type receiptPayload struct {
	MessageID string `json:"message_id"`
}

type typingPayload struct {
	Room   string    `json:"room"`
	UserID string    `json:"user_id"`
	Typing bool      `json:"typing"`
	User   *UserInfo `json:"user,omitempty"`
}

type presencePayload struct {
	UserID string `json:"user_id"`
	Status string `json:"status"`
}

type onlineUsersPayload struct {
	UserIDs []string `json:"user_ids"`
}

type hiddenPayload struct {
	MessageID string `json:"message_id"`
}

type deletedPayload struct {
	MessageID string `json:"message_id"`
	Room      string `json:"room"`
}
