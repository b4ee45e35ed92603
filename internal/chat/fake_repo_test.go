package chat

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// fakeRepository is an in-memory Repository with the same set semantics as
// the Postgres implementation; shared by the service and hub tests.
type fakeRepository struct {
	mu sync.Mutex

	messages  map[string]*Message
	order     []string // message ids in insertion order
	delivered map[string]map[string]bool // messageID -> userID
	read      map[string]map[string]bool
	reactions map[string]map[string]bool // messageID -> userID+"\x00"+emoji
	hidden    map[string]map[string]bool

	conversations map[string]*Conversation // by id
	byRoom        map[string]string        // room -> conversation id
	unread        map[string]map[string]int
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		messages:      make(map[string]*Message),
		delivered:     make(map[string]map[string]bool),
		read:          make(map[string]map[string]bool),
		reactions:     make(map[string]map[string]bool),
		hidden:        make(map[string]map[string]bool),
		conversations: make(map[string]*Conversation),
		byRoom:        make(map[string]string),
		unread:        make(map[string]map[string]int),
	}
}

func (f *fakeRepository) CreateMessage(ctx context.Context, message *Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *message
	f.messages[message.ID] = &copied
	f.order = append(f.order, message.ID)
	return nil
}

func (f *fakeRepository) GetMessage(ctx context.Context, id string) (*Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buildMessage(id)
}

func (f *fakeRepository) buildMessage(id string) (*Message, error) {
	stored, ok := f.messages[id]
	if !ok {
		return nil, ErrMessageNotFound
	}

	msg := *stored
	msg.DeliveredTo = sortedKeys(f.delivered[id])
	msg.ReadBy = sortedKeys(f.read[id])
	// read implies delivered for display
	for userID := range f.read[id] {
		if f.delivered[id] == nil || !f.delivered[id][userID] {
			msg.DeliveredTo = append(msg.DeliveredTo, userID)
		}
	}
	sort.Strings(msg.DeliveredTo)

	msg.Reactions = []*Reaction{}
	for key := range f.reactions[id] {
		userID, emoji := splitReactionKey(key)
		msg.Reactions = append(msg.Reactions, &Reaction{MessageID: id, UserID: userID, Emoji: emoji})
	}
	sort.Slice(msg.Reactions, func(i, j int) bool {
		if msg.Reactions[i].UserID != msg.Reactions[j].UserID {
			return msg.Reactions[i].UserID < msg.Reactions[j].UserID
		}
		return msg.Reactions[i].Emoji < msg.Reactions[j].Emoji
	})

	msg.HiddenFor = sortedKeys(f.hidden[id])
	return &msg, nil
}

func (f *fakeRepository) GetRoomMessages(ctx context.Context, room, forUserID string, limit, offset int) ([]*Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*Message
	// newest first, like the SQL implementation
	for i := len(f.order) - 1; i >= 0; i-- {
		id := f.order[i]
		stored := f.messages[id]
		if stored == nil || stored.Room != room {
			continue
		}
		if f.hidden[id] != nil && f.hidden[id][forUserID] {
			continue
		}
		msg, _ := f.buildMessage(id)
		out = append(out, msg)
	}

	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRepository) UpdateMessageText(ctx context.Context, id, text string, editedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	stored, ok := f.messages[id]
	if !ok {
		return ErrMessageNotFound
	}
	stored.Text = &text
	stored.IsEdited = true
	stored.EditedAt = &editedAt
	return nil
}

func (f *fakeRepository) DeleteMessage(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.messages[id]; !ok {
		return ErrMessageNotFound
	}
	delete(f.messages, id)
	delete(f.delivered, id)
	delete(f.read, id)
	delete(f.reactions, id)
	delete(f.hidden, id)
	return nil
}

func (f *fakeRepository) HideMessage(ctx context.Context, messageID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.hidden[messageID] == nil {
		f.hidden[messageID] = make(map[string]bool)
	}
	f.hidden[messageID][userID] = true
	return nil
}

func (f *fakeRepository) DeleteRoomMessages(ctx context.Context, room string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for id, msg := range f.messages {
		if msg.Room == room {
			delete(f.messages, id)
			delete(f.delivered, id)
			delete(f.read, id)
			delete(f.reactions, id)
			delete(f.hidden, id)
		}
	}
	return nil
}

func (f *fakeRepository) MarkDelivered(ctx context.Context, messageID, userID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.messages[messageID]; !ok {
		return ErrMessageNotFound
	}
	if f.delivered[messageID] == nil {
		f.delivered[messageID] = make(map[string]bool)
	}
	f.delivered[messageID][userID] = true
	return nil
}

func (f *fakeRepository) MarkRead(ctx context.Context, messageID, userID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.markReadLocked(messageID, userID)
}

func (f *fakeRepository) markReadLocked(messageID, userID string) error {
	if _, ok := f.messages[messageID]; !ok {
		return ErrMessageNotFound
	}
	if f.read[messageID] == nil {
		f.read[messageID] = make(map[string]bool)
	}
	f.read[messageID][userID] = true
	if f.delivered[messageID] == nil {
		f.delivered[messageID] = make(map[string]bool)
	}
	f.delivered[messageID][userID] = true
	return nil
}

func (f *fakeRepository) MarkRoomMessagesRead(ctx context.Context, room, userID string, at time.Time) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var changed []string
	for _, id := range f.order {
		msg, ok := f.messages[id]
		if !ok || msg.Room != room || msg.SenderID == userID {
			continue
		}
		if f.read[id] != nil && f.read[id][userID] {
			continue
		}
		f.markReadLocked(id, userID)
		changed = append(changed, id)
	}
	return changed, nil
}

func (f *fakeRepository) ToggleReaction(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := userID + "\x00" + emoji
	if f.reactions[messageID] != nil && f.reactions[messageID][key] {
		delete(f.reactions[messageID], key)
		return false, nil
	}
	if f.reactions[messageID] == nil {
		f.reactions[messageID] = make(map[string]bool)
	}
	f.reactions[messageID][key] = true
	return true, nil
}

func (f *fakeRepository) GetOrCreateConversation(ctx context.Context, userA, userB string) (*Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	room := DirectRoomID(userA, userB)
	if id, ok := f.byRoom[room]; ok {
		return f.buildConversation(id), nil
	}

	conv := &Conversation{
		ID:        uuid.NewString(),
		Room:      room,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	f.conversations[conv.ID] = conv
	f.byRoom[room] = conv.ID
	f.unread[conv.ID] = map[string]int{userA: 0, userB: 0}
	return f.buildConversation(conv.ID), nil
}

func (f *fakeRepository) buildConversation(id string) *Conversation {
	stored := f.conversations[id]
	conv := *stored
	conv.Participants = nil
	for _, userID := range sortedKeys2(f.unread[id]) {
		conv.Participants = append(conv.Participants, &Participant{
			ConversationID: id,
			UserID:         userID,
			UnreadCount:    f.unread[id][userID],
		})
	}
	return &conv
}

func (f *fakeRepository) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.conversations[id]; !ok {
		return nil, ErrConversationNotFound
	}
	return f.buildConversation(id), nil
}

func (f *fakeRepository) GetUserConversations(ctx context.Context, userID string, limit, offset int) ([]*Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*Conversation
	for id := range f.conversations {
		if _, ok := f.unread[id][userID]; ok {
			out = append(out, f.buildConversation(id))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (f *fakeRepository) UpdateConversationLastMessage(ctx context.Context, room string, preview *string, senderID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	id, ok := f.byRoom[room]
	if !ok {
		return ErrConversationNotFound
	}
	conv := f.conversations[id]
	conv.LastMessageText = preview
	conv.LastMessageSender = &senderID
	conv.LastMessageAt = &at
	conv.UpdatedAt = time.Now()
	return nil
}

func (f *fakeRepository) IncrementUnreadCount(ctx context.Context, room, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	id, ok := f.byRoom[room]
	if !ok {
		return ErrConversationNotFound
	}
	f.unread[id][userID]++
	return nil
}

func (f *fakeRepository) ResetUnreadCount(ctx context.Context, conversationID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.unread[conversationID]; !ok {
		return ErrConversationNotFound
	}
	f.unread[conversationID][userID] = 0
	return nil
}

func (f *fakeRepository) CountUnreadMessages(ctx context.Context, room, userID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	count := 0
	for id, msg := range f.messages {
		if msg.Room != room || msg.SenderID == userID {
			continue
		}
		if f.read[id] != nil && f.read[id][userID] {
			continue
		}
		if f.hidden[id] != nil && f.hidden[id][userID] {
			continue
		}
		count++
	}
	return count, nil
}

func (f *fakeRepository) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	unread, ok := f.unread[conversationID]
	if !ok {
		return false, nil
	}
	_, ok = unread[userID]
	return ok, nil
}

func (f *fakeRepository) DeleteConversation(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	conv, ok := f.conversations[id]
	if !ok {
		return ErrConversationNotFound
	}
	delete(f.byRoom, conv.Room)
	delete(f.conversations, id)
	delete(f.unread, id)
	return nil
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedKeys2(m map[string]int) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func splitReactionKey(key string) (string, string) {
	for i := 0; i < len(key); i++ {
		if key[i] == '\x00' {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}
