package gateway

import (
	"errors"
	"sync"

	"chat-relay/internal/event"
)

var (
	// ErrUnauthenticated 缺少或無法驗證身份
	ErrUnauthenticated = errors.New("gateway: unauthenticated")
	// ErrConnectionClosed 連接已關閉
	ErrConnectionClosed = errors.New("gateway: connection closed")
	// ErrOutboxFull 連接的發送佇列已滿，視為失效
	ErrOutboxFull = errors.New("gateway: outbox full")
)

// State 連接狀態
type State int

const (
	StateConnecting State = iota
	StateLive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateLive:
		return "live"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Connection 單一客戶端連接
//
// 推送只寫入 outbox，由傳輸層自行取出發送；Push 不會阻塞。
type Connection struct {
	id     string
	userID string
	outbox chan event.Event

	mu         sync.Mutex
	state      State
	registered bool

	brokenOnce sync.Once
	broken     chan struct{}
}

func newConnection(id, userID string, outboxSize int) *Connection {
	return &Connection{
		id:     id,
		userID: userID,
		outbox: make(chan event.Event, outboxSize),
		state:  StateConnecting,
		broken: make(chan struct{}),
	}
}

// ID 連接 ID
func (c *Connection) ID() string { return c.id }

// UserID 已驗證的用戶 ID
func (c *Connection) UserID() string { return c.userID }

// Outbox 待發送事件，連接關閉後 channel 會被關閉
func (c *Connection) Outbox() <-chan event.Event { return c.outbox }

// Broken 發送佇列溢出時關閉，傳輸層應據此斷開連接
func (c *Connection) Broken() <-chan struct{} { return c.broken }

// State 當前狀態
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Push 非阻塞地放入發送佇列
func (c *Connection) Push(ev event.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed {
		return ErrConnectionClosed
	}
	select {
	case c.outbox <- ev:
		return nil
	default:
		c.brokenOnce.Do(func() { close(c.broken) })
		return ErrOutboxFull
	}
}
