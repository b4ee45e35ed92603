// internal/chat/rooms.go

package chat

import (
	"sync"
)

// Rooms is the ephemeral membership map from connections to their single
// active room. The chat UI shows one pane at a time, so joining a room
// implicitly leaves the previous one; disconnect leaves implicitly. Nothing
// here survives a restart — clients replay join_room on reconnect.
type Rooms struct {
	mu      sync.RWMutex
	byRoom  map[string]map[int64]*Client
	current map[int64]string
}

// NewRooms creates an empty room membership map
func NewRooms() *Rooms {
	return &Rooms{
		byRoom:  make(map[string]map[int64]*Client),
		current: make(map[int64]string),
	}
}

// Join moves a connection into a room, leaving its previous room if any.
// Rejoining the current room is a no-op.
func (rm *Rooms) Join(connID int64, c *Client, room string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if prev, ok := rm.current[connID]; ok {
		if prev == room {
			return
		}
		rm.removeLocked(connID, prev)
	}

	if rm.byRoom[room] == nil {
		rm.byRoom[room] = make(map[int64]*Client)
	}
	rm.byRoom[room][connID] = c
	rm.current[connID] = room
}

// Leave removes a connection from whatever room it is in
func (rm *Rooms) Leave(connID int64) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if room, ok := rm.current[connID]; ok {
		rm.removeLocked(connID, room)
		delete(rm.current, connID)
	}
}

func (rm *Rooms) removeLocked(connID int64, room string) {
	if members, ok := rm.byRoom[room]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(rm.byRoom, room)
		}
	}
}

// Members returns the connections currently viewing a room
func (rm *Rooms) Members(room string) []*Client {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	out := make([]*Client, 0, len(rm.byRoom[room]))
	for _, c := range rm.byRoom[room] {
		out = append(out, c)
	}
	return out
}

// CurrentRoom returns the room a connection is viewing, if any
func (rm *Rooms) CurrentRoom(connID int64) (string, bool) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	room, ok := rm.current[connID]
	return room, ok
}
