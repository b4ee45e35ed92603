package chat

import (
	"testing"
)

func TestRegistry_MultiDevicePresence(t *testing.T) {
	r := NewRegistry()

	phone := &Client{userID: "alice", send: make(chan []byte, 1)}
	laptop := &Client{userID: "alice", send: make(chan []byte, 1)}

	phoneID, wasOffline := r.Register("alice", phone)
	if !wasOffline {
		t.Fatalf("first connection should flip alice online")
	}

	laptopID, wasOffline := r.Register("alice", laptop)
	if wasOffline {
		t.Fatalf("second connection must not report another online transition")
	}

	if !r.IsOnline("alice") {
		t.Fatalf("alice should be online with two connections")
	}

	// one device drops: still online, no offline transition
	if wentOffline := r.Unregister("alice", phoneID); wentOffline {
		t.Fatalf("alice still has a live connection, offline transition is wrong")
	}
	if !r.IsOnline("alice") {
		t.Fatalf("alice should remain online after losing one device")
	}

	// last device drops: exactly one offline transition
	if wentOffline := r.Unregister("alice", laptopID); !wentOffline {
		t.Fatalf("last disconnect should report the offline transition")
	}
	if r.IsOnline("alice") {
		t.Fatalf("alice should be offline with no connections")
	}

	// repeating the unregister is a no-op, not a second transition
	if wentOffline := r.Unregister("alice", laptopID); wentOffline {
		t.Fatalf("duplicate unregister must not report another transition")
	}
}

func TestRegistry_OnlineUsers(t *testing.T) {
	r := NewRegistry()

	r.Register("alice", &Client{userID: "alice", send: make(chan []byte, 1)})
	r.Register("bob", &Client{userID: "bob", send: make(chan []byte, 1)})

	users := r.OnlineUsers()
	if len(users) != 2 {
		t.Fatalf("expected 2 online users, got %d", len(users))
	}

	seen := map[string]bool{}
	for _, u := range users {
		seen[u] = true
	}
	if !seen["alice"] || !seen["bob"] {
		t.Fatalf("snapshot missing users: %v", users)
	}
}

func TestRegistry_ConnectionsAndCount(t *testing.T) {
	r := NewRegistry()

	r.Register("alice", &Client{userID: "alice", send: make(chan []byte, 1)})
	r.Register("alice", &Client{userID: "alice", send: make(chan []byte, 1)})
	r.Register("bob", &Client{userID: "bob", send: make(chan []byte, 1)})

	if got := len(r.Connections("alice")); got != 2 {
		t.Fatalf("expected 2 connections for alice, got %d", got)
	}
	if got := r.Count(); got != 3 {
		t.Fatalf("expected 3 total connections, got %d", got)
	}
	if got := len(r.Connections("nobody")); got != 0 {
		t.Fatalf("expected no connections for unknown user, got %d", got)
	}
}
