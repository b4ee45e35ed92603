// pkg/chatclient/chatclient.go
//
// Session-owned realtime chat client. A Client is constructed with the
// session's auth token and discarded on logout; nothing here is a package
// singleton. Outgoing sends render an optimistic local copy synchronously and
// hit the wire asynchronously; the server echo is the sole authority and
// replaces the optimistic entry on arrival.

package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var ErrClosed = errors.New("chatclient: connection closed")

// Options configures a Client
type Options struct {
	URL    string // ws:// or wss:// endpoint
	Token  string // access token for this session
	UserID string
	User   *UserInfo // identity attached to typing events

	MatchWindow    time.Duration // heuristic reconciliation window
	PendingTimeout time.Duration // optimistic entry -> failed after this
	TypingExpiry   time.Duration // incoming indicator lifetime
	AckRetries     int           // bounded retries for delivered/read acks
	AckBackoff     time.Duration // initial backoff between ack retries

	// Handlers fire on the read loop; keep them fast
	OnMessage  func(*Message)
	OnPresence func(userID, status string)
	OnTyping   func(room, userID string, typing bool)
	OnDeleted  func(room, messageID string)
	OnHidden   func(messageID string)
	OnError    func(event, code, message string)
}

func (o *Options) applyDefaults() {
	if o.MatchWindow == 0 {
		o.MatchWindow = 5 * time.Second
	}
	if o.PendingTimeout == 0 {
		o.PendingTimeout = 10 * time.Second
	}
	if o.TypingExpiry == 0 {
		o.TypingExpiry = 3 * time.Second
	}
	if o.AckRetries == 0 {
		o.AckRetries = 3
	}
	if o.AckBackoff == 0 {
		o.AckBackoff = 500 * time.Millisecond
	}
}

// Client is one live session against the chat server
type Client struct {
	opts Options

	conn    *websocket.Conn
	writeMu sync.Mutex

	mu       sync.Mutex
	byRoom   map[string][]*Message
	seen     map[string]bool
	online   map[string]bool
	room     string // current active room
	closed   bool
	closeCh  chan struct{}

	pending *pendingStore
	typing  *typingTracker

	now func() time.Time
}

// New creates a client without connecting; Dial establishes the session
func New(opts Options) *Client {
	opts.applyDefaults()
	now := time.Now

	return &Client{
		opts:    opts,
		byRoom:  make(map[string][]*Message),
		seen:    make(map[string]bool),
		online:  make(map[string]bool),
		closeCh: make(chan struct{}),
		pending: newPendingStore(opts.MatchWindow, opts.PendingTimeout, now),
		typing:  newTypingTracker(opts.TypingExpiry, now),
		now:     now,
	}
}

// Dial connects and starts the read loop
func (c *Client) Dial(ctx context.Context) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.opts.Token)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.opts.URL, header)
	if err != nil {
		return fmt.Errorf("chatclient: dial: %w", err)
	}
	c.conn = conn

	go c.readLoop()
	go c.expireLoop()
	return nil
}

// Close tears the session down
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.closeCh)
	c.mu.Unlock()

	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// JoinRoom switches the active room; the server leaves the previous one
func (c *Client) JoinRoom(room string) error {
	c.mu.Lock()
	c.room = room
	c.mu.Unlock()
	return c.emit(EventJoinRoom, room)
}

// Send renders an optimistic entry immediately and transmits asynchronously.
// It never blocks on the network; the returned local id identifies the
// pending entry until the server echo replaces it.
func (c *Client) Send(room, text, fileURL string, replyTo *string) (string, error) {
	if text == "" && fileURL == "" {
		return "", errors.New("chatclient: message needs text or an attachment")
	}

	entry := &PendingMessage{
		LocalID:   uuid.NewString(),
		Room:      room,
		SenderID:  c.opts.UserID,
		Text:      text,
		FileURL:   fileURL,
		ClientKey: uuid.NewString(),
		CreatedAt: c.now(),
		Status:    StatusPending,
	}
	c.pending.add(entry)

	// sending implies we stopped typing
	c.StopTyping(room)

	go func() {
		err := c.emit(EventSendMessage, sendPayload{
			Room:      room,
			Text:      text,
			FileURL:   fileURL,
			ReplyToID: replyTo,
			ClientKey: entry.ClientKey,
			CreatedAt: entry.CreatedAt,
		})
		if err != nil {
			log.Printf("chatclient: send failed, entry %s stays pending: %v", entry.LocalID, err)
		}
	}()

	return entry.LocalID, nil
}

// DiscardFailed drops a failed optimistic entry
func (c *Client) DiscardFailed(localID string) bool {
	return c.pending.remove(localID)
}

// Keystroke signals typing activity; only the first keystroke after idle
// emits an event
func (c *Client) Keystroke(room string) {
	if !c.typing.shouldEmitStart(room) {
		return
	}
	c.emitTyping(room, true)
}

// StopTyping signals the end of typing (blur, send, clear)
func (c *Client) StopTyping(room string) {
	if !c.typing.shouldEmitStop(room) {
		return
	}
	c.emitTyping(room, false)
}

func (c *Client) emitTyping(room string, typing bool) {
	err := c.emit(EventTyping, typingPayload{
		Room:   room,
		UserID: c.opts.UserID,
		Typing: typing,
		User:   c.opts.User,
	})
	if err != nil {
		log.Printf("chatclient: typing emit failed: %v", err)
	}
}

// MarkDelivered acks receipt of a message with bounded retry; delivery acks
// are idempotent server-side so retrying is safe
func (c *Client) MarkDelivered(messageID string) {
	go c.ackWithRetry(EventDelivered, messageID)
}

// MarkRead acks a message becoming visible; same retry policy as delivered
func (c *Client) MarkRead(messageID string) {
	go c.ackWithRetry(EventRead, messageID)
}

// React toggles a reaction
func (c *Client) React(room, messageID, emoji string) error {
	return c.emit(EventReact, map[string]string{
		"room":       room,
		"message_id": messageID,
		"emoji":      emoji,
	})
}

// Edit rewrites one of our own messages
func (c *Client) Edit(messageID, text string) error {
	return c.emit(EventEditMessage, map[string]string{
		"message_id": messageID,
		"text":       text,
	})
}

// ackWithRetry retries idempotent acks with doubling backoff. Sends are
// deliberately not retried this way: without the server dedupe they could
// duplicate.
func (c *Client) ackWithRetry(event, messageID string) {
	backoff := c.opts.AckBackoff
	for attempt := 0; attempt <= c.opts.AckRetries; attempt++ {
		if err := c.emit(event, receiptPayload{MessageID: messageID}); err == nil {
			return
		}
		select {
		case <-c.closeCh:
			return
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	log.Printf("chatclient: %s ack for %s gave up after %d attempts", event, messageID, c.opts.AckRetries+1)
}

// Messages returns the room view: confirmed messages in arrival order plus
// optimistic entries rendered after them
func (c *Client) Messages(room string) ([]*Message, []*PendingMessage) {
	c.mu.Lock()
	confirmed := make([]*Message, len(c.byRoom[room]))
	copy(confirmed, c.byRoom[room])
	c.mu.Unlock()

	var pending []*PendingMessage
	for _, entry := range c.pending.snapshot() {
		if entry.Room == room {
			pending = append(pending, entry)
		}
	}
	return confirmed, pending
}

// TypingUsers returns who is typing in a room, local expiry applied
func (c *Client) TypingUsers(room string) []string {
	users := c.typing.activeUsers(room)
	sort.Strings(users)
	return users
}

// IsOnline reports last known presence for a user
func (c *Client) IsOnline(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online[userID]
}

func (c *Client) emit(eventType string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	env := Envelope{Type: eventType, Data: data, Timestamp: c.now()}

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed || c.conn == nil {
		return ErrClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(env)
}

func (c *Client) readLoop() {
	defer c.Close()

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		// the server write pump batches queued envelopes into one frame,
		// newline separated
		for _, raw := range bytes.Split(frame, []byte{'\n'}) {
			if len(bytes.TrimSpace(raw)) == 0 {
				continue
			}
			var env Envelope
			if err := json.Unmarshal(raw, &env); err != nil {
				log.Printf("chatclient: bad frame: %v", err)
				continue
			}
			c.handleEvent(&env)
		}
	}
}

// expireLoop periodically fails stale optimistic entries
func (c *Client) expireLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.closeCh:
			return
		case <-ticker.C:
			c.pending.expireStale()
		}
	}
}

// HandleEvent applies one server event to local state. Exported indirectly
// through the read loop; all events except typing are idempotent by message
// id, so redelivery after a reconnect is harmless.
func (c *Client) handleEvent(env *Envelope) {
	switch env.Type {
	case EventReceiveMessage:
		var msg Message
		if json.Unmarshal(env.Data, &msg) != nil {
			return
		}
		c.applyMessage(&msg)

	case EventMessageEdited, EventReactionUpdate, EventStatusUpdate:
		var msg Message
		if json.Unmarshal(env.Data, &msg) != nil {
			return
		}
		c.replaceMessage(&msg)

	case EventMessageHidden:
		var p hiddenPayload
		if json.Unmarshal(env.Data, &p) != nil {
			return
		}
		c.removeEverywhere(p.MessageID)
		if c.opts.OnHidden != nil {
			c.opts.OnHidden(p.MessageID)
		}

	case EventMessageDeleted:
		var p deletedPayload
		if json.Unmarshal(env.Data, &p) != nil {
			return
		}
		c.removeFromRoom(p.Room, p.MessageID)
		if c.opts.OnDeleted != nil {
			c.opts.OnDeleted(p.Room, p.MessageID)
		}

	case EventTyping:
		var p typingPayload
		if json.Unmarshal(env.Data, &p) != nil {
			return
		}
		c.typing.observe(p.Room, p.UserID, p.Typing)
		if c.opts.OnTyping != nil {
			c.opts.OnTyping(p.Room, p.UserID, p.Typing)
		}

	case EventPresenceUpdate:
		var p presencePayload
		if json.Unmarshal(env.Data, &p) != nil {
			return
		}
		c.mu.Lock()
		c.online[p.UserID] = p.Status == "online"
		c.mu.Unlock()
		if c.opts.OnPresence != nil {
			c.opts.OnPresence(p.UserID, p.Status)
		}

	case EventOnlineUsers:
		var p onlineUsersPayload
		if json.Unmarshal(env.Data, &p) != nil {
			return
		}
		c.mu.Lock()
		c.online = make(map[string]bool, len(p.UserIDs))
		for _, id := range p.UserIDs {
			c.online[id] = true
		}
		c.mu.Unlock()

	case EventError:
		var p struct {
			Event   string `json:"event"`
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(env.Data, &p) != nil {
			return
		}
		if c.opts.OnError != nil {
			c.opts.OnError(p.Event, p.Code, p.Message)
		}
	}
}

// applyMessage reconciles an authoritative message against the optimistic
// list and inserts it exactly once
func (c *Client) applyMessage(msg *Message) {
	c.mu.Lock()
	if c.seen[msg.ID] {
		c.mu.Unlock()
		return
	}
	c.seen[msg.ID] = true
	c.mu.Unlock()

	// drop the matching pending entry before the authoritative insert so the
	// text never renders twice
	c.pending.reconcile(msg)

	c.mu.Lock()
	c.byRoom[msg.Room] = append(c.byRoom[msg.Room], msg)
	room := c.room
	c.mu.Unlock()

	if c.opts.OnMessage != nil {
		c.opts.OnMessage(msg)
	}

	// ack receipt of anything we did not author; read additionally when the
	// message landed in the active view
	if msg.SenderID != c.opts.UserID {
		c.MarkDelivered(msg.ID)
		if msg.Room == room {
			c.MarkRead(msg.ID)
		}
	}
}

func (c *Client) replaceMessage(msg *Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	list := c.byRoom[msg.Room]
	for i, existing := range list {
		if existing.ID == msg.ID {
			list[i] = msg
			return
		}
	}
	// update for a message outside our loaded history; ignore
}

func (c *Client) removeFromRoom(room, messageID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	list := c.byRoom[room]
	for i, existing := range list {
		if existing.ID == messageID {
			c.byRoom[room] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

func (c *Client) removeEverywhere(messageID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for room, list := range c.byRoom {
		for i, existing := range list {
			if existing.ID == messageID {
				c.byRoom[room] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}
}
