// internal/chat/postgres.go

package chat

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type postgresRepository struct {
	db *sqlx.DB
}

func NewPostgresRepository(db *sqlx.DB) Repository {
	return &postgresRepository{db: db}
}

// Migrate creates the chat schema if it does not exist
func Migrate(db *sqlx.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id          TEXT PRIMARY KEY,
		room        TEXT NOT NULL,
		sender_id   TEXT NOT NULL,
		text        TEXT,
		file_url    TEXT,
		reply_to_id TEXT,
		client_key  TEXT,
		is_edited   BOOLEAN NOT NULL DEFAULT FALSE,
		edited_at   TIMESTAMPTZ,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_messages_room_created ON messages (room, created_at DESC);

	CREATE TABLE IF NOT EXISTS message_receipts (
		message_id   TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
		user_id      TEXT NOT NULL,
		delivered_at TIMESTAMPTZ,
		read_at      TIMESTAMPTZ,
		PRIMARY KEY (message_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS message_reactions (
		message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
		user_id    TEXT NOT NULL,
		emoji      TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (message_id, user_id, emoji)
	);

	CREATE TABLE IF NOT EXISTS message_hidden (
		message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
		user_id    TEXT NOT NULL,
		hidden_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (message_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS conversations (
		id                  TEXT PRIMARY KEY,
		room                TEXT NOT NULL UNIQUE,
		last_message_text   TEXT,
		last_message_sender TEXT,
		last_message_at     TIMESTAMPTZ,
		created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS conversation_participants (
		conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		user_id         TEXT NOT NULL,
		unread_count    INTEGER NOT NULL DEFAULT 0,
		last_read_at    TIMESTAMPTZ,
		PRIMARY KEY (conversation_id, user_id)
	);`

	_, err := db.Exec(schema)
	return err
}

// CreateMessage persists a new message
func (r *postgresRepository) CreateMessage(ctx context.Context, message *Message) error {
	query := `
		INSERT INTO messages (
			id, room, sender_id, text, file_url, reply_to_id, client_key, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.ExecContext(
		ctx, query,
		message.ID, message.Room, message.SenderID, message.Text,
		message.FileURL, message.ReplyToID, message.ClientKey, message.CreatedAt,
	)
	return err
}

// GetMessage loads a message with its receipts, reactions and hidden marks
func (r *postgresRepository) GetMessage(ctx context.Context, id string) (*Message, error) {
	var msg Message
	query := `
		SELECT id, room, sender_id, text, file_url, reply_to_id, client_key,
		       is_edited, edited_at, created_at
		FROM messages WHERE id = $1`

	if err := r.db.GetContext(ctx, &msg, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}

	if err := r.attachComputed(ctx, []*Message{&msg}); err != nil {
		return nil, err
	}
	return &msg, nil
}

// GetRoomMessages returns a page of room history, newest first, omitting
// messages the requesting user has hidden
func (r *postgresRepository) GetRoomMessages(ctx context.Context, room, forUserID string, limit, offset int) ([]*Message, error) {
	query := `
		SELECT m.id, m.room, m.sender_id, m.text, m.file_url, m.reply_to_id,
		       m.client_key, m.is_edited, m.edited_at, m.created_at
		FROM messages m
		WHERE m.room = $1
		  AND NOT EXISTS (
			SELECT 1 FROM message_hidden h
			WHERE h.message_id = m.id AND h.user_id = $2
		  )
		ORDER BY m.created_at DESC
		LIMIT $3 OFFSET $4`

	var messages []*Message
	if err := r.db.SelectContext(ctx, &messages, query, room, forUserID, limit, offset); err != nil {
		return nil, err
	}

	if err := r.attachComputed(ctx, messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// attachComputed loads receipts, reactions and hidden marks for a page of
// messages in three batch queries
func (r *postgresRepository) attachComputed(ctx context.Context, messages []*Message) error {
	if len(messages) == 0 {
		return nil
	}

	byID := make(map[string]*Message, len(messages))
	ids := make([]string, 0, len(messages))
	for _, m := range messages {
		m.DeliveredTo = []string{}
		m.ReadBy = []string{}
		m.Reactions = []*Reaction{}
		byID[m.ID] = m
		ids = append(ids, m.ID)
	}

	receipts, err := r.db.QueryContext(ctx, `
		SELECT message_id, user_id, delivered_at, read_at
		FROM message_receipts WHERE message_id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return err
	}
	defer receipts.Close()

	for receipts.Next() {
		var messageID, userID string
		var deliveredAt, readAt *time.Time
		if err := receipts.Scan(&messageID, &userID, &deliveredAt, &readAt); err != nil {
			return err
		}
		m := byID[messageID]
		if deliveredAt != nil || readAt != nil {
			m.DeliveredTo = append(m.DeliveredTo, userID)
		}
		if readAt != nil {
			m.ReadBy = append(m.ReadBy, userID)
		}
	}
	if err := receipts.Err(); err != nil {
		return err
	}

	reactions, err := r.db.QueryContext(ctx, `
		SELECT message_id, user_id, emoji, created_at
		FROM message_reactions WHERE message_id = ANY($1)
		ORDER BY created_at`, pq.Array(ids))
	if err != nil {
		return err
	}
	defer reactions.Close()

	for reactions.Next() {
		var reaction Reaction
		if err := reactions.Scan(&reaction.MessageID, &reaction.UserID, &reaction.Emoji, &reaction.CreatedAt); err != nil {
			return err
		}
		m := byID[reaction.MessageID]
		m.Reactions = append(m.Reactions, &reaction)
	}
	if err := reactions.Err(); err != nil {
		return err
	}

	hidden, err := r.db.QueryContext(ctx, `
		SELECT message_id, user_id FROM message_hidden
		WHERE message_id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return err
	}
	defer hidden.Close()

	for hidden.Next() {
		var messageID, userID string
		if err := hidden.Scan(&messageID, &userID); err != nil {
			return err
		}
		m := byID[messageID]
		m.HiddenFor = append(m.HiddenFor, userID)
	}
	return hidden.Err()
}

// UpdateMessageText overwrites the body; no edit history is kept
func (r *postgresRepository) UpdateMessageText(ctx context.Context, id, text string, editedAt time.Time) error {
	query := `
		UPDATE messages
		SET text = $1, is_edited = TRUE, edited_at = $2
		WHERE id = $3`

	result, err := r.db.ExecContext(ctx, query, text, editedAt, id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// DeleteMessage removes a message for everyone; receipts, reactions and
// hidden marks cascade
func (r *postgresRepository) DeleteMessage(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// HideMessage soft-deletes a message for one user only
func (r *postgresRepository) HideMessage(ctx context.Context, messageID, userID string) error {
	query := `
		INSERT INTO message_hidden (message_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (message_id, user_id) DO NOTHING`

	_, err := r.db.ExecContext(ctx, query, messageID, userID)
	return err
}

// DeleteRoomMessages clears all messages in a room
func (r *postgresRepository) DeleteRoomMessages(ctx context.Context, room string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE room = $1`, room)
	return err
}

// MarkDelivered records a delivery receipt. Re-marking keeps the first
// timestamp (set semantics).
func (r *postgresRepository) MarkDelivered(ctx context.Context, messageID, userID string, at time.Time) error {
	query := `
		INSERT INTO message_receipts (message_id, user_id, delivered_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (message_id, user_id) DO UPDATE
		SET delivered_at = COALESCE(message_receipts.delivered_at, EXCLUDED.delivered_at)`

	_, err := r.db.ExecContext(ctx, query, messageID, userID, at)
	return err
}

// MarkRead records a read receipt; read implies delivered
func (r *postgresRepository) MarkRead(ctx context.Context, messageID, userID string, at time.Time) error {
	query := `
		INSERT INTO message_receipts (message_id, user_id, delivered_at, read_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (message_id, user_id) DO UPDATE
		SET read_at      = COALESCE(message_receipts.read_at, EXCLUDED.read_at),
		    delivered_at = COALESCE(message_receipts.delivered_at, EXCLUDED.delivered_at)`

	_, err := r.db.ExecContext(ctx, query, messageID, userID, at)
	return err
}

// MarkRoomMessagesRead bulk-reads everything the user has not read yet in a
// room and returns the affected message ids
func (r *postgresRepository) MarkRoomMessagesRead(ctx context.Context, room, userID string, at time.Time) ([]string, error) {
	query := `
		INSERT INTO message_receipts (message_id, user_id, delivered_at, read_at)
		SELECT m.id, $2, $3, $3
		FROM messages m
		WHERE m.room = $1 AND m.sender_id <> $2
		ON CONFLICT (message_id, user_id) DO UPDATE
		SET read_at      = COALESCE(message_receipts.read_at, EXCLUDED.read_at),
		    delivered_at = COALESCE(message_receipts.delivered_at, EXCLUDED.delivered_at)
		WHERE message_receipts.read_at IS NULL
		RETURNING message_id`

	rows, err := r.db.QueryContext(ctx, query, room, userID, at)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ToggleReaction removes the (user, emoji) pair if present, otherwise adds it.
// Delete and insert run in one transaction so a concurrent toggle cannot land
// between them.
func (r *postgresRepository) ToggleReaction(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		DELETE FROM message_reactions
		WHERE message_id = $1 AND user_id = $2 AND emoji = $3`,
		messageID, userID, emoji)
	if err != nil {
		return false, err
	}
	if n, _ := result.RowsAffected(); n > 0 {
		return false, tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO message_reactions (message_id, user_id, emoji)
		VALUES ($1, $2, $3)
		ON CONFLICT (message_id, user_id, emoji) DO NOTHING`,
		messageID, userID, emoji); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

// GetOrCreateConversation returns the single conversation for an unordered
// user pair, creating it on first use
func (r *postgresRepository) GetOrCreateConversation(ctx context.Context, userA, userB string) (*Conversation, error) {
	room := DirectRoomID(userA, userB)

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO conversations (id, room)
		VALUES ($1, $2)
		ON CONFLICT (room) DO NOTHING`,
		uuid.NewString(), room)
	if err != nil {
		return nil, err
	}

	var conv Conversation
	if err := r.db.GetContext(ctx, &conv, `
		SELECT id, room, last_message_text, last_message_sender, last_message_at,
		       created_at, updated_at
		FROM conversations WHERE room = $1`, room); err != nil {
		return nil, err
	}

	for _, userID := range []string{userA, userB} {
		if _, err := r.db.ExecContext(ctx, `
			INSERT INTO conversation_participants (conversation_id, user_id)
			VALUES ($1, $2)
			ON CONFLICT (conversation_id, user_id) DO NOTHING`,
			conv.ID, userID); err != nil {
			return nil, err
		}
	}

	if err := r.loadParticipants(ctx, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// GetConversation loads one conversation with its participants
func (r *postgresRepository) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var conv Conversation
	if err := r.db.GetContext(ctx, &conv, `
		SELECT id, room, last_message_text, last_message_sender, last_message_at,
		       created_at, updated_at
		FROM conversations WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}

	if err := r.loadParticipants(ctx, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (r *postgresRepository) loadParticipants(ctx context.Context, conv *Conversation) error {
	return r.db.SelectContext(ctx, &conv.Participants, `
		SELECT conversation_id, user_id, unread_count, last_read_at
		FROM conversation_participants
		WHERE conversation_id = $1
		ORDER BY user_id`, conv.ID)
}

// GetUserConversations lists the user's conversations, most recent first
func (r *postgresRepository) GetUserConversations(ctx context.Context, userID string, limit, offset int) ([]*Conversation, error) {
	query := `
		SELECT c.id, c.room, c.last_message_text, c.last_message_sender,
		       c.last_message_at, c.created_at, c.updated_at
		FROM conversations c
		JOIN conversation_participants p ON p.conversation_id = c.id
		WHERE p.user_id = $1
		ORDER BY c.updated_at DESC
		LIMIT $2 OFFSET $3`

	var conversations []*Conversation
	if err := r.db.SelectContext(ctx, &conversations, query, userID, limit, offset); err != nil {
		return nil, err
	}

	for _, conv := range conversations {
		if err := r.loadParticipants(ctx, conv); err != nil {
			return nil, err
		}
	}
	return conversations, nil
}

// UpdateConversationLastMessage replaces the last-message snapshot
func (r *postgresRepository) UpdateConversationLastMessage(ctx context.Context, room string, preview *string, senderID string, at time.Time) error {
	query := `
		UPDATE conversations
		SET last_message_text = $1,
		    last_message_sender = $2,
		    last_message_at = $3,
		    updated_at = NOW()
		WHERE room = $4`

	_, err := r.db.ExecContext(ctx, query, preview, senderID, at, room)
	return err
}

// IncrementUnreadCount bumps a participant's unread counter. The increment is
// a single statement so concurrent senders never lose updates.
func (r *postgresRepository) IncrementUnreadCount(ctx context.Context, room, userID string) error {
	query := `
		UPDATE conversation_participants p
		SET unread_count = unread_count + 1
		FROM conversations c
		WHERE c.id = p.conversation_id AND c.room = $1 AND p.user_id = $2`

	_, err := r.db.ExecContext(ctx, query, room, userID)
	return err
}

// ResetUnreadCount zeroes a participant's unread counter
func (r *postgresRepository) ResetUnreadCount(ctx context.Context, conversationID, userID string) error {
	query := `
		UPDATE conversation_participants
		SET unread_count = 0, last_read_at = NOW()
		WHERE conversation_id = $1 AND user_id = $2`

	_, err := r.db.ExecContext(ctx, query, conversationID, userID)
	return err
}

// CountUnreadMessages recomputes the unread count from receipts. This is the
// authoritative figure; the stored counter is only a cached hint.
func (r *postgresRepository) CountUnreadMessages(ctx context.Context, room, userID string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM messages m
		WHERE m.room = $1 AND m.sender_id <> $2
		  AND NOT EXISTS (
			SELECT 1 FROM message_receipts r
			WHERE r.message_id = m.id AND r.user_id = $2 AND r.read_at IS NOT NULL
		  )
		  AND NOT EXISTS (
			SELECT 1 FROM message_hidden h
			WHERE h.message_id = m.id AND h.user_id = $2
		  )`

	var count int
	err := r.db.GetContext(ctx, &count, query, room, userID)
	return count, err
}

// IsParticipant checks conversation membership
func (r *postgresRepository) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM conversation_participants
			WHERE conversation_id = $1 AND user_id = $2
		)`

	var exists bool
	err := r.db.GetContext(ctx, &exists, query, conversationID, userID)
	return exists, err
}

// DeleteConversation removes a conversation; participants cascade
func (r *postgresRepository) DeleteConversation(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrConversationNotFound
	}
	return nil
}
