// internal/chat/hub.go

package chat

import (
	"context"
	"encoding/json"
	"log"
	"sync"
)

// Hub is the realtime dispatcher. It owns the connection registry, the room
// membership map, and one serial event queue per room: all mutations to a
// room's message state flow through that room's single goroutine, so every
// connection in a room observes events in the same order. There is no
// ordering across rooms, and a slow write in one room never stalls another.
type Hub struct {
	registry *Registry
	rooms    *Rooms
	service  Service
	presence *PresenceCache

	queuesMux  sync.Mutex
	roomQueues map[string]chan func()
	roomBuffer int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewHub(service Service, presence *PresenceCache, roomBuffer int) *Hub {
	ctx, cancel := context.WithCancel(context.Background())

	return &Hub{
		registry:   NewRegistry(),
		rooms:      NewRooms(),
		service:    service,
		presence:   presence,
		roomQueues: make(map[string]chan func()),
		roomBuffer: roomBuffer,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Register adds a freshly authenticated connection. The new connection gets
// the full online snapshot once; everyone else gets a presence diff, and only
// when this is the user's first live connection.
func (h *Hub) Register(c *Client) {
	connID, wasOffline := h.registry.Register(c.userID, c)
	c.connID = connID
	activeConnections.Inc()

	c.enqueue(NewEvent(EventOnlineUsers, OnlineUsersPayload{UserIDs: h.registry.OnlineUsers()}))

	if wasOffline {
		h.presence.SetOnline(h.ctx, c.userID)
		h.broadcastPresence(c.userID, "online", c.connID)
	}

	log.Printf("User %s connected (conn %d). Total connections: %d", c.userID, connID, h.registry.Count())
}

// Unregister drops a connection. The offline diff goes out only when the
// user's last connection is gone, so a two-device user losing one device
// stays online and no spurious offline event is emitted.
func (h *Hub) Unregister(c *Client) {
	h.rooms.Leave(c.connID)

	wentOffline := h.registry.Unregister(c.userID, c.connID)
	activeConnections.Dec()

	if wentOffline {
		h.presence.SetOffline(h.ctx, c.userID)
		h.broadcastPresence(c.userID, "offline", c.connID)
	}

	log.Printf("User %s disconnected (conn %d). Total connections: %d", c.userID, c.connID, h.registry.Count())
}

// IsOnline reports derived presence for a user
func (h *Hub) IsOnline(userID string) bool {
	return h.registry.IsOnline(userID)
}

// OnlineUsers returns the current presence snapshot
func (h *Hub) OnlineUsers() []string {
	return h.registry.OnlineUsers()
}

// ActiveConnections returns the live connection count
func (h *Hub) ActiveConnections() int {
	return h.registry.Count()
}

func (h *Hub) broadcastPresence(userID, status string, excludeConnID int64) {
	env := NewEvent(EventPresenceUpdate, PresencePayload{UserID: userID, Status: status})
	for _, c := range h.registry.All() {
		if c.connID == excludeConnID {
			continue
		}
		c.enqueue(env)
	}
}

// dispatch appends a job to the room's serial queue, creating the queue and
// its worker goroutine on first use
func (h *Hub) dispatch(room string, job func()) {
	h.queuesMux.Lock()
	queue, ok := h.roomQueues[room]
	if !ok {
		queue = make(chan func(), h.roomBuffer)
		h.roomQueues[room] = queue
		h.wg.Add(1)
		go h.runRoom(queue)
	}
	h.queuesMux.Unlock()

	select {
	case queue <- job:
	case <-h.ctx.Done():
	}
}

func (h *Hub) runRoom(queue chan func()) {
	defer h.wg.Done()
	for {
		select {
		case job := <-queue:
			job()
		case <-h.ctx.Done():
			return
		}
	}
}

// broadcastToRoom fans an envelope out to the room's connected sockets.
// Must run inside the room's queue so fan-outs keep their relative order.
func (h *Hub) broadcastToRoom(room string, env WSMessage, excludeUserID string) {
	members := h.rooms.Members(room)
	sent := 0
	for _, c := range members {
		if excludeUserID != "" && c.userID == excludeUserID {
			continue
		}
		c.enqueue(env)
		sent++
	}
	recordFanout(sent)
}

// sendToUser delivers an envelope to every live connection of one user
func (h *Hub) sendToUser(userID string, env WSMessage) {
	for _, c := range h.registry.Connections(userID) {
		c.enqueue(env)
	}
}

// HandleJoin moves a connection into a room, leaving its previous one
func (h *Hub) HandleJoin(c *Client, roomID string) {
	recordEvent(EventJoinRoom)
	h.rooms.Join(c.connID, c, roomID)
}

// HandleSend persists a message and then broadcasts the authoritative copy.
// The write completes before anyone else sees the message: the sender already
// holds its optimistic copy, and nobody else may ever render a message that
// could vanish on reconnect.
func (h *Hub) HandleSend(c *Client, req *SendMessageRequest) {
	recordEvent(EventSendMessage)
	h.dispatch(req.Room, func() {
		message, err := h.service.SendMessage(h.ctx, c.userID, req)
		if err != nil {
			c.sendError(EventSendMessage, err)
			return
		}
		h.broadcastToRoom(req.Room, NewEvent(EventReceiveMessage, message), "")
	})
}

// HandleEdit overwrites a message body and broadcasts the updated message.
// The job is serialized on the message's own room, not the connection's
// current one: an edit issued from another pane must still run on the queue
// whose broadcasts it interleaves with.
func (h *Hub) HandleEdit(c *Client, req *EditMessageRequest) {
	recordEvent(EventEditMessage)
	existing, err := h.service.GetMessage(h.ctx, req.MessageID)
	if err != nil {
		c.sendError(EventEditMessage, err)
		return
	}
	h.dispatch(existing.Room, func() {
		message, err := h.service.EditMessage(h.ctx, c.userID, req)
		if err != nil {
			c.sendError(EventEditMessage, err)
			return
		}
		h.broadcastToRoom(message.Room, NewEvent(EventMessageEdited, message), "")
	})
}

// HandleReact toggles a reaction and broadcasts the full updated reaction
// set, not a delta, so clients render counts without tracking diffs
func (h *Hub) HandleReact(c *Client, req *ReactionRequest) {
	recordEvent(EventReact)
	h.dispatch(req.Room, func() {
		message, err := h.service.ToggleReaction(h.ctx, c.userID, req)
		if err != nil {
			c.sendError(EventReact, err)
			return
		}
		h.broadcastToRoom(req.Room, NewEvent(EventReactionUpdate, message), "")
	})
}

// HandleTyping fans a typing signal to the room, sender excluded. Nothing is
// persisted; receivers expire the indicator locally, so a client that
// disconnects mid-type leaves no stuck indicator behind.
func (h *Hub) HandleTyping(c *Client, req *TypingRequest) {
	recordEvent(EventTyping)
	h.presence.MarkTyping(h.ctx, req.Room, c.userID, req.Typing)

	payload := TypingPayload{
		Room:   req.Room,
		UserID: c.userID,
		Typing: req.Typing,
		User:   req.User,
	}
	h.dispatch(req.Room, func() {
		h.broadcastToRoom(req.Room, NewEvent(EventTyping, payload), c.userID)
	})
}

// HandleDelivered records a delivery receipt and broadcasts the updated
// receipt state so the sender's tick-marks move
func (h *Hub) HandleDelivered(c *Client, req *ReceiptRequest) {
	recordEvent(EventDelivered)
	h.handleReceipt(c, req.MessageID, EventDelivered, h.service.MarkDelivered)
}

// HandleRead records a read receipt; read implies delivered for display
func (h *Hub) HandleRead(c *Client, req *ReceiptRequest) {
	recordEvent(EventRead)
	h.handleReceipt(c, req.MessageID, EventRead, h.service.MarkRead)
}

func (h *Hub) handleReceipt(c *Client, messageID, event string, mark func(context.Context, string, string) (*Message, error)) {
	// acks legitimately arrive after the user navigated elsewhere, so the
	// room is always resolved from the message itself and the job runs on
	// that room's queue
	existing, err := h.service.GetMessage(h.ctx, messageID)
	if err != nil {
		c.sendError(event, err)
		return
	}

	h.dispatch(existing.Room, func() {
		message, err := mark(h.ctx, messageID, c.userID)
		if err != nil {
			c.sendError(event, err)
			return
		}
		h.broadcastToRoom(message.Room, NewEvent(EventStatusUpdate, message), "")
	})
}

// NotifyEdited broadcasts an edit performed over REST
func (h *Hub) NotifyEdited(message *Message) {
	h.dispatch(message.Room, func() {
		h.broadcastToRoom(message.Room, NewEvent(EventMessageEdited, message), "")
	})
}

// NotifyHidden tells the hiding user's other connections to drop a message.
// Scoped to that single user; the room never learns about a hide.
func (h *Hub) NotifyHidden(userID, messageID string) {
	h.sendToUser(userID, NewEvent(EventMessageHidden, HiddenPayload{MessageID: messageID}))
}

// NotifyDeleted tells a whole room to drop a force-deleted message
func (h *Hub) NotifyDeleted(room, messageID string) {
	h.dispatch(room, func() {
		h.broadcastToRoom(room, NewEvent(EventMessageDeleted, DeletedPayload{MessageID: messageID, Room: room}), "")
	})
}

// NotifyStatusUpdates broadcasts receipt changes from a bulk conversation
// read
func (h *Hub) NotifyStatusUpdates(room string, messages []*Message) {
	if len(messages) == 0 {
		return
	}
	h.dispatch(room, func() {
		for _, message := range messages {
			h.broadcastToRoom(room, NewEvent(EventStatusUpdate, message), "")
		}
	})
}

// Shutdown stops the room workers and closes every connection
func (h *Hub) Shutdown() {
	h.cancel()
	h.wg.Wait()

	for _, c := range h.registry.All() {
		c.Close()
	}
}

// decodePayload unmarshals an event payload into its request struct
func decodePayload(data json.RawMessage, v interface{}) error {
	return json.Unmarshal(data, v)
}
