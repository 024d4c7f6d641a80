// Package memory 提供行程內的訊息存儲，供測試與單機開發使用.
package memory

import (
	"cmp"
	"context"
	"iter"
	"slices"
	"sync"
	"time"

	"chat-relay/internal/message"

	"go.mongodb.org/mongo-driver/v2/bson"
)

type entry struct {
	mu  sync.Mutex
	msg *message.Message
}

// Store 行程內訊息存儲，每則訊息各自持鎖.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []*entry
	now     func() time.Time
}

// Option 存儲選項.
type Option func(*Store)

// WithClock 注入時鐘.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore 創建行程內訊息存儲.
func NewStore(opts ...Option) *Store {
	s := &Store{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create 建立訊息.
func (s *Store) Create(_ context.Context, d message.Draft) (*message.Message, error) {
	d, err := d.Normalize()
	if err != nil {
		return nil, err
	}

	m := &message.Message{
		ID:            bson.NewObjectID().Hex(),
		SenderID:      d.SenderID,
		ReceiverID:    d.ReceiverID,
		Content:       d.Content,
		AttachmentRef: d.AttachmentRef,
		CreatedAt:     s.now().UTC(),
	}
	e := &entry{msg: m}

	s.mu.Lock()
	s.entries[m.ID] = e
	s.order = append(s.order, e)
	s.mu.Unlock()

	return m.Clone(), nil
}

// Conversation 依 CreatedAt、ID 遞增回傳 viewer 可見的訊息.
func (s *Store) Conversation(ctx context.Context, viewerID, peerID string) iter.Seq2[*message.Message, error] {
	return func(yield func(*message.Message, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(nil, err)
			return
		}
		for _, m := range s.visible(viewerID, peerID) {
			if !yield(m, nil) {
				return
			}
		}
	}
}

// ConversationPage 取 p.Before 之前最新的 p.Limit 則可見訊息.
func (s *Store) ConversationPage(ctx context.Context, viewerID, peerID string, p message.Page) ([]*message.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	all := s.visible(viewerID, peerID)

	end := len(all)
	if p.Before != "" {
		s.mu.RLock()
		e, ok := s.entries[p.Before]
		s.mu.RUnlock()
		if !ok {
			return nil, &message.NotFoundError{MessageID: p.Before}
		}
		e.mu.Lock()
		cursor := e.msg.Clone()
		e.mu.Unlock()
		if !inPair(cursor, viewerID, peerID) {
			return nil, &message.NotFoundError{MessageID: p.Before}
		}
		// 第一個不早於游標的位置
		end, _ = slices.BinarySearchFunc(all, cursor, compareOrder)
	}

	start := max(0, end-p.Limit)
	return all[start:end], nil
}

// visible 依排序取得 viewer 可見訊息的副本
func (s *Store) visible(viewerID, peerID string) []*message.Message {
	s.mu.RLock()
	candidates := slices.Clone(s.order)
	s.mu.RUnlock()

	var out []*message.Message
	for _, e := range candidates {
		e.mu.Lock()
		m := e.msg
		if inPair(m, viewerID, peerID) && !m.HiddenFor(viewerID) {
			out = append(out, m.Clone())
		}
		e.mu.Unlock()
	}
	slices.SortStableFunc(out, compareOrder)
	return out
}

// compareOrder 對話排序：CreatedAt，同時間再比 ID
func compareOrder(a, b *message.Message) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// MarkSeen 標記已讀.
func (s *Store) MarkSeen(_ context.Context, id, actorID string) (*message.Message, error) {
	return s.mutate(id, func(m *message.Message) error {
		_, err := m.ApplySeen(actorID)
		return err
	})
}

// DeleteForMe 對操作者隱藏.
func (s *Store) DeleteForMe(_ context.Context, id, actorID string) error {
	_, err := s.mutate(id, func(m *message.Message) error {
		_, err := m.ApplyDeleteForMe(actorID)
		return err
	})
	return err
}

// DeleteForEveryone 轉為墓碑.
func (s *Store) DeleteForEveryone(_ context.Context, id, actorID string) (*message.Message, error) {
	return s.mutate(id, func(m *message.Message) error {
		_, err := m.ApplyDeleteForEveryone(actorID)
		return err
	})
}

// Len 訊息總數.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

func (s *Store) mutate(id string, fn func(*message.Message) error) (*message.Message, error) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return nil, &message.NotFoundError{MessageID: id}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	// 在副本上套用，失敗時原訊息不變
	next := e.msg.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	e.msg = next
	return next.Clone(), nil
}

func inPair(m *message.Message, a, b string) bool {
	return (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a)
}
