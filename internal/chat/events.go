// internal/chat/events.go

package chat

import (
	"encoding/json"
	"log"
	"time"
)

// Socket event names. Client-originated and server-originated events share the
// WSMessage envelope; Data carries the payload for the named event.
const (
	// client -> server
	EventJoinRoom    = "join_room"
	EventSendMessage = "send_message"
	EventEditMessage = "edit_message"
	EventReact       = "react"
	EventTyping      = "typing"
	EventDelivered   = "message_delivered"
	EventRead        = "message_read"

	// server -> client
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

// PresencePayload is the body of a presence_update event
type PresencePayload struct {
	UserID string `json:"user_id"`
	Status string `json:"status"` // "online" or "offline"
}

// OnlineUsersPayload is the one-time snapshot sent to a connecting client
type OnlineUsersPayload struct {
	UserIDs []string `json:"user_ids"`
}

// TypingPayload fans a typing signal out to a room, sender excluded
type TypingPayload struct {
	Room   string    `json:"room"`
	UserID string    `json:"user_id"`
	Typing bool      `json:"typing"`
	User   *UserInfo `json:"user,omitempty"`
}

// HiddenPayload tells the hiding user's other connections to drop a message
type HiddenPayload struct {
	MessageID string `json:"message_id"`
}

// DeletedPayload tells a whole room to drop a force-deleted message
type DeletedPayload struct {
	MessageID string `json:"message_id"`
	Room      string `json:"room"`
}

// ErrorPayload reports a rejected client event back to its sender
type ErrorPayload struct {
	Event   string `json:"event"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewEvent wraps a payload in the socket envelope
func NewEvent(eventType string, payload interface{}) WSMessage {
	return WSMessage{
		Type:      eventType,
		Data:      mustMarshal(payload),
		Timestamp: time.Now(),
	}
}

// mustMarshal marshals a payload, degrading to an empty object on failure
func mustMarshal(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("Error marshaling event payload: %v", err)
		return json.RawMessage(`{}`)
	}
	return data
}
