// pkg/chatclient/typing.go

package chatclient

import (
	"sync"
	"time"
)

// typingTracker keeps room-scoped typing indicators on both sides of the
// wire. Incoming indicators expire locally a fixed interval after the last
// signal, whether or not a stop event ever arrives — a peer that disconnects
// mid-type must not leave a stuck indicator. Outgoing signals are
// edge-triggered: only the not-typing -> typing transition and the explicit
// stop are emitted, never one event per keystroke.
type typingTracker struct {
	mu     sync.Mutex
	seen   map[string]time.Time // key: room + "\x00" + user
	typing map[string]bool      // rooms this client is currently typing in
	expiry time.Duration
	now    func() time.Time
}

func newTypingTracker(expiry time.Duration, now func() time.Time) *typingTracker {
	return &typingTracker{
		seen:   make(map[string]time.Time),
		typing: make(map[string]bool),
		expiry: expiry,
		now:    now,
	}
}

func typingKey(room, userID string) string {
	return room + "\x00" + userID
}

// observe records an incoming typing signal
func (t *typingTracker) observe(room, userID string, typing bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := typingKey(room, userID)
	if typing {
		t.seen[key] = t.now()
	} else {
		delete(t.seen, key)
	}
}

// activeUsers returns who is typing in a room right now, dropping expired
// entries as a side effect
func (t *typingTracker) activeUsers(room string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-t.expiry)
	prefix := room + "\x00"

	var users []string
	for key, last := range t.seen {
		if last.Before(cutoff) {
			delete(t.seen, key)
			continue
		}
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			users = append(users, key[len(prefix):])
		}
	}
	return users
}

// shouldEmitStart reports whether a keystroke in a room is a transition that
// warrants a typing=true event, and records the transition
func (t *typingTracker) shouldEmitStart(room string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.typing[room] {
		return false
	}
	t.typing[room] = true
	return true
}

// shouldEmitStop reports whether this client was typing in the room, and
// clears the state
func (t *typingTracker) shouldEmitStop(room string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.typing[room] {
		return false
	}
	delete(t.typing, room)
	return true
}
