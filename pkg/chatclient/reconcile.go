// pkg/chatclient/reconcile.go

package chatclient

import (
	"sync"
	"time"
)

// PendingStatus is the lifecycle state of an optimistic entry
type PendingStatus string

const (
	StatusPending PendingStatus = "pending"
	StatusFailed  PendingStatus = "failed"
)

// PendingMessage is an optimistic local copy of an outgoing message, rendered
// before any server acknowledgment and replaced by the server echo.
type PendingMessage struct {
	LocalID   string
	Room      string
	SenderID  string
	Text      string
	FileURL   string
	ClientKey string
	CreatedAt time.Time
	Status    PendingStatus
}

// pendingStore holds the optimistic entries awaiting their server echo.
// Matching prefers the client key the server echoes back; the
// (sender, text, time-window) heuristic remains as fallback because the key
// is optional on the wire.
type pendingStore struct {
	mu          sync.Mutex
	entries     []*PendingMessage
	matchWindow time.Duration
	timeout     time.Duration
	now         func() time.Time
}

func newPendingStore(matchWindow, timeout time.Duration, now func() time.Time) *pendingStore {
	return &pendingStore{
		matchWindow: matchWindow,
		timeout:     timeout,
		now:         now,
	}
}

// add appends an optimistic entry; runs synchronously on the send path
func (p *pendingStore) add(entry *PendingMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, entry)
}

// reconcile removes the pending entry matched by an incoming authoritative
// message, if any. Exact client-key matches win; otherwise the first entry
// with the same sender and text within the window is taken. Two identical
// texts from the same sender inside the window can collapse onto one entry;
// that approximation is inherent to the fallback.
func (p *pendingStore) reconcile(incoming *Message) *PendingMessage {
	p.mu.Lock()
	defer p.mu.Unlock()

	if incoming.ClientKey != nil && *incoming.ClientKey != "" {
		for i, entry := range p.entries {
			if entry.ClientKey == *incoming.ClientKey {
				p.entries = append(p.entries[:i], p.entries[i+1:]...)
				return entry
			}
		}
	}

	text := ""
	if incoming.Text != nil {
		text = *incoming.Text
	}
	for i, entry := range p.entries {
		if entry.SenderID != incoming.SenderID || entry.Text != text {
			continue
		}
		delta := incoming.CreatedAt.Sub(entry.CreatedAt)
		if delta < 0 {
			delta = -delta
		}
		if delta <= p.matchWindow {
			p.entries = append(p.entries[:i], p.entries[i+1:]...)
			return entry
		}
	}
	return nil
}

// expireStale flips entries older than the timeout to failed and returns
// them. Failed entries stay visible so the user can retry or discard.
func (p *pendingStore) expireStale() []*PendingMessage {
	p.mu.Lock()
	defer p.mu.Unlock()

	var failed []*PendingMessage
	cutoff := p.now().Add(-p.timeout)
	for _, entry := range p.entries {
		if entry.Status == StatusPending && entry.CreatedAt.Before(cutoff) {
			entry.Status = StatusFailed
			failed = append(failed, entry)
		}
	}
	return failed
}

// remove drops an entry by local id (user discarded a failed send)
func (p *pendingStore) remove(localID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, entry := range p.entries {
		if entry.LocalID == localID {
			p.entries = append(p.entries[:i], p.entries[i+1:]...)
			return true
		}
	}
	return false
}

// snapshot returns a copy of the pending list
func (p *pendingStore) snapshot() []*PendingMessage {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*PendingMessage, len(p.entries))
	copy(out, p.entries)
	return out
}
