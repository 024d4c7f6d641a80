package presence

import (
	"hash/fnv"
	"sort"
	"sync"

	"chat-relay/internal/event"
)

const defaultShardCount = 32

// Handle 一條活躍連接的句柄
type Handle interface {
	ID() string
	UserID() string
	Push(ev event.Event) error
}

// Registry 用戶 ID -> 活躍連接集合
// 以分片鎖保護，同一用戶的句柄集合永遠在同一分片內修改
type Registry struct {
	shards []*shard
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]map[string]Handle // userID -> handleID -> Handle
}

// NewRegistry 創建在線註冊表
func NewRegistry() *Registry {
	return NewRegistryWithShards(defaultShardCount)
}

// NewRegistryWithShards 指定分片數量創建註冊表
func NewRegistryWithShards(n int) *Registry {
	if n <= 0 {
		n = 1
	}
	r := &Registry{shards: make([]*shard, n)}
	for i := range r.shards {
		r.shards[i] = &shard{entries: make(map[string]map[string]Handle)}
	}
	return r
}

func (r *Registry) shardFor(userID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return r.shards[h.Sum32()%uint32(len(r.shards))]
}

// Register 加入句柄，重複註冊同一句柄不產生變化
// 返回值表示該用戶是否因此從離線轉為在線
func (r *Registry) Register(userID string, h Handle) bool {
	s := r.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	handles, ok := s.entries[userID]
	if !ok {
		handles = make(map[string]Handle)
		s.entries[userID] = handles
	}
	handles[h.ID()] = h
	return !ok
}

// Unregister 移除句柄，集合清空時用戶轉為離線
// 返回值表示該用戶是否因此從在線轉為離線
func (r *Registry) Unregister(userID string, h Handle) bool {
	s := r.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	handles, ok := s.entries[userID]
	if !ok {
		return false
	}
	if _, exists := handles[h.ID()]; !exists {
		return false
	}
	delete(handles, h.ID())
	if len(handles) == 0 {
		delete(s.entries, userID)
		return true
	}
	return false
}

// IsOnline 用戶是否至少持有一條活躍連接
func (r *Registry) IsOnline(userID string) bool {
	s := r.shardFor(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[userID]
	return ok
}

// LiveHandles 用戶當前所有句柄的快照，離線時為空
func (r *Registry) LiveHandles(userID string) []Handle {
	s := r.shardFor(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()

	handles := s.entries[userID]
	out := make([]Handle, 0, len(handles))
	for _, h := range handles {
		out = append(out, h)
	}
	return out
}

// OnlineUsers 在線用戶快照（已排序）
func (r *Registry) OnlineUsers() []string {
	users := make([]string, 0)
	for _, s := range r.shards {
		s.mu.RLock()
		for userID := range s.entries {
			users = append(users, userID)
		}
		s.mu.RUnlock()
	}
	sort.Strings(users)
	return users
}

// AllHandles 所有活躍句柄的快照，用於在線名單廣播
func (r *Registry) AllHandles() []Handle {
	out := make([]Handle, 0)
	for _, s := range r.shards {
		s.mu.RLock()
		for _, handles := range s.entries {
			for _, h := range handles {
				out = append(out, h)
			}
		}
		s.mu.RUnlock()
	}
	return out
}

// ConnectionCount 活躍連接總數
func (r *Registry) ConnectionCount() int {
	n := 0
	for _, s := range r.shards {
		s.mu.RLock()
		for _, handles := range s.entries {
			n += len(handles)
		}
		s.mu.RUnlock()
	}
	return n
}
