// internal/chat/client.go

package chat

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512 * 1024 // 512KB
)

// Client is one live websocket connection owned by an authenticated user
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID string
	connID int64

	limiter *rate.Limiter

	// sendMu orders enqueue against Close: the room workers, presence
	// broadcasts and REST notifiers all hold *Client references, so the send
	// channel may only be closed while no enqueue is in flight.
	sendMu sync.Mutex
	closed bool
}

func NewClient(hub *Hub, conn *websocket.Conn, userID string, sendBuffer int, eventRate float64, eventBurst int) *Client {
	return &Client{
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		userID:  userID,
		limiter: rate.NewLimiter(rate.Limit(eventRate), eventBurst),
	}
}

// Start launches the read and write pumps
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		if !c.limiter.Allow() {
			c.sendError("rate_limit", errTooManyEvents)
			continue
		}

		c.processMessage(message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Add queued messages to the current websocket frame
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// processMessage routes one client event to its hub handler. Events run
// synchronously here so a single connection's events keep their order before
// entering the per-room queues.
func (c *Client) processMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("Error unmarshaling client event: %v", err)
		return
	}

	switch msg.Type {
	case EventJoinRoom:
		var roomID string
		if err := decodePayload(msg.Data, &roomID); err != nil {
			c.sendError(msg.Type, err)
			return
		}
		c.hub.HandleJoin(c, roomID)

	case EventSendMessage:
		var req SendMessageRequest
		if err := decodePayload(msg.Data, &req); err != nil {
			c.sendError(msg.Type, err)
			return
		}
		c.hub.HandleSend(c, &req)

	case EventEditMessage:
		var req EditMessageRequest
		if err := decodePayload(msg.Data, &req); err != nil {
			c.sendError(msg.Type, err)
			return
		}
		c.hub.HandleEdit(c, &req)

	case EventReact:
		var req ReactionRequest
		if err := decodePayload(msg.Data, &req); err != nil {
			c.sendError(msg.Type, err)
			return
		}
		c.hub.HandleReact(c, &req)

	case EventTyping:
		var req TypingRequest
		if err := decodePayload(msg.Data, &req); err != nil {
			c.sendError(msg.Type, err)
			return
		}
		c.hub.HandleTyping(c, &req)

	case EventDelivered:
		var req ReceiptRequest
		if err := decodePayload(msg.Data, &req); err != nil {
			c.sendError(msg.Type, err)
			return
		}
		c.hub.HandleDelivered(c, &req)

	case EventRead:
		var req ReceiptRequest
		if err := decodePayload(msg.Data, &req); err != nil {
			c.sendError(msg.Type, err)
			return
		}
		c.hub.HandleRead(c, &req)

	default:
		log.Printf("Unknown event type: %s", msg.Type)
	}
}

// enqueue hands an envelope to the write pump. Enqueueing to a closed
// connection is a no-op, and a connection whose buffer is full is dropped
// rather than allowed to stall the dispatcher; the client re-syncs over REST
// on reconnect.
func (c *Client) enqueue(env WSMessage) {
	data, err := json.Marshal(env)
	if err != nil {
		log.Printf("Error marshaling envelope: %v", err)
		return
	}

	c.sendMu.Lock()
	if c.closed {
		c.sendMu.Unlock()
		return
	}

	select {
	case c.send <- data:
		c.sendMu.Unlock()
	default:
		c.sendMu.Unlock()
		droppedEventsTotal.Inc()
		go func() {
			c.hub.Unregister(c)
			c.Close()
		}()
	}
}

// sendError reports a rejected event back to this connection only
func (c *Client) sendError(event string, err error) {
	c.enqueue(NewEvent(EventError, ErrorPayload{
		Event:   event,
		Code:    errorCode(err),
		Message: err.Error(),
	}))
}

// Close shuts the send channel exactly once; the write pump then closes the
// underlying connection. Late enqueues from room workers become no-ops.
func (c *Client) Close() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}
