// internal/chat/presence.go

package chat

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
)

const onlineSetKey = "presence:online"

// PresenceCache mirrors ephemeral presence and typing state into Redis so the
// REST layer (and any future second instance) can read them. The in-process
// Registry stays the source of truth for this instance's connections; the
// mirror is best-effort and every write failure is logged, never propagated.
type PresenceCache struct {
	rdb       *redis.Client
	typingTTL time.Duration
}

// NewPresenceCache creates a presence cache. A nil client disables the
// mirror; every method degrades to a no-op.
func NewPresenceCache(rdb *redis.Client, typingTTL time.Duration) *PresenceCache {
	return &PresenceCache{rdb: rdb, typingTTL: typingTTL}
}

// SetOnline adds a user to the online mirror
func (p *PresenceCache) SetOnline(ctx context.Context, userID string) {
	if p == nil || p.rdb == nil {
		return
	}
	if err := p.rdb.SAdd(ctx, onlineSetKey, userID).Err(); err != nil {
		log.Printf("presence: online mirror failed for %s: %v", userID, err)
	}
}

// SetOffline removes a user from the online mirror
func (p *PresenceCache) SetOffline(ctx context.Context, userID string) {
	if p == nil || p.rdb == nil {
		return
	}
	if err := p.rdb.SRem(ctx, onlineSetKey, userID).Err(); err != nil {
		log.Printf("presence: offline mirror failed for %s: %v", userID, err)
	}
}

// OnlineUsers reads the mirrored online set
func (p *PresenceCache) OnlineUsers(ctx context.Context) ([]string, error) {
	if p == nil || p.rdb == nil {
		return nil, nil
	}
	return p.rdb.SMembers(ctx, onlineSetKey).Result()
}

// Reset clears the mirror; called at startup because presence never survives
// a process restart
func (p *PresenceCache) Reset(ctx context.Context) {
	if p == nil || p.rdb == nil {
		return
	}
	if err := p.rdb.Del(ctx, onlineSetKey).Err(); err != nil {
		log.Printf("presence: reset failed: %v", err)
	}
}

func typingKey(room, userID string) string {
	return fmt.Sprintf("typing:%s:%s", room, userID)
}

// MarkTyping records a typing signal with the fixed expiry; stopping deletes
// the key early. Nothing is ever persisted beyond the TTL.
func (p *PresenceCache) MarkTyping(ctx context.Context, room, userID string, typing bool) {
	if p == nil || p.rdb == nil {
		return
	}

	var err error
	if typing {
		err = p.rdb.Set(ctx, typingKey(room, userID), "1", p.typingTTL).Err()
	} else {
		err = p.rdb.Del(ctx, typingKey(room, userID)).Err()
	}
	if err != nil {
		log.Printf("presence: typing mirror failed for %s in %s: %v", userID, room, err)
	}
}

// TypingUsers lists users currently typing in a room. SCAN rather than KEYS:
// the mirror shares the Redis instance and must not block it.
func (p *PresenceCache) TypingUsers(ctx context.Context, room string) ([]string, error) {
	if p == nil || p.rdb == nil {
		return nil, nil
	}

	prefix := typingKey(room, "")
	var users []string

	iter := p.rdb.Scan(ctx, 0, typingKey(room, "*"), 0).Iterator()
	for iter.Next(ctx) {
		users = append(users, iter.Val()[len(prefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return users, nil
}
