// Package cache 把在線狀態鏡像到 Redis，讓其他實例可查詢最後在線時間.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"chat-relay/internal/constants"

	"github.com/redis/go-redis/v9"
)

// 狀態值.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Status 用戶在線狀態快照.
type Status struct {
	UserID   string
	State    string
	LastSeen time.Time
}

// PresenceMirror 以 Redis hash 保存 status 與 last_seen.
//
// online 記錄帶 TTL，實例崩潰後自然過期；offline 記錄不過期以保留最後在線時間。
type PresenceMirror struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewPresenceMirror 創建在線狀態鏡像.
func NewPresenceMirror(client *redis.Client, prefix string, ttl time.Duration) *PresenceMirror {
	if prefix == "" {
		prefix = constants.DefaultPresenceKeyPrefix
	}
	if ttl <= 0 {
		ttl = constants.DefaultPresenceTTLSeconds * time.Second
	}
	return &PresenceMirror{client: client, prefix: prefix, ttl: ttl, now: time.Now}
}

func (m *PresenceMirror) key(userID string) string {
	return m.prefix + userID
}

// MarkOnline 寫入 online 狀態並設定 TTL.
func (m *PresenceMirror) MarkOnline(ctx context.Context, userID string) error {
	key := m.key(userID)
	_, err := m.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, "status", StatusOnline, "last_seen", m.now().Unix())
		p.Expire(ctx, key, m.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("mark %s online: %w", userID, err)
	}
	return nil
}

// MarkOffline 寫入 offline 狀態並移除 TTL.
func (m *PresenceMirror) MarkOffline(ctx context.Context, userID string) error {
	key := m.key(userID)
	_, err := m.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, "status", StatusOffline, "last_seen", m.now().Unix())
		p.Persist(ctx, key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("mark %s offline: %w", userID, err)
	}
	return nil
}

// Lookup 讀取用戶狀態；從未記錄過時 found 為 false.
func (m *PresenceMirror) Lookup(ctx context.Context, userID string) (status Status, found bool, err error) {
	fields, err := m.client.HGetAll(ctx, m.key(userID)).Result()
	if errors.Is(err, redis.Nil) || (err == nil && len(fields) == 0) {
		return Status{UserID: userID, State: StatusOffline}, false, nil
	}
	if err != nil {
		return Status{}, false, fmt.Errorf("lookup %s: %w", userID, err)
	}

	status = Status{UserID: userID, State: fields["status"]}
	if sec, err := strconv.ParseInt(fields["last_seen"], 10, 64); err == nil {
		status.LastSeen = time.Unix(sec, 0).UTC()
	}
	return status, true, nil
}
