package gateway

import (
	"context"
	"fmt"
	"strings"

	"chat-relay/internal/constants"
	"chat-relay/internal/event"
	"chat-relay/internal/platform/logger"
	"chat-relay/internal/platform/metrics"
	"chat-relay/internal/presence"
	"chat-relay/internal/security/audit"

	"github.com/google/uuid"
)

// IdentityVerifier 驗證連接宣稱的身份，回傳可信的用戶 ID
type IdentityVerifier interface {
	VerifyIdentity(ctx context.Context, claimedUserID, token string) (string, error)
}

// Claim 連接時帶來的身份聲明
type Claim struct {
	UserID string
	Token  string
}

// Gateway 管理連接生命週期 Connecting -> Live -> Closed，並廣播在線名單
type Gateway struct {
	registry   *presence.Registry
	verifier   IdentityVerifier
	mirror     presence.Mirror
	audit      *audit.AuditService
	outboxSize int
}

// Option 選項
type Option func(*Gateway)

// WithMirror 設定在線狀態鏡像
func WithMirror(m presence.Mirror) Option {
	return func(g *Gateway) { g.mirror = m }
}

// WithAudit 設定審計服務
func WithAudit(a *audit.AuditService) Option {
	return func(g *Gateway) { g.audit = a }
}

// WithOutboxSize 設定每條連接的發送佇列長度
func WithOutboxSize(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.outboxSize = n
		}
	}
}

// New 創建連接閘道
func New(registry *presence.Registry, verifier IdentityVerifier, opts ...Option) *Gateway {
	g := &Gateway{
		registry:   registry,
		verifier:   verifier,
		mirror:     presence.NopMirror{},
		outboxSize: constants.DefaultOutboxBuffer,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Registry 在線註冊表
func (g *Gateway) Registry() *presence.Registry { return g.registry }

// Open 驗證身份並建立 Connecting 狀態的連接；失敗時連接永遠不會進入 Live
func (g *Gateway) Open(ctx context.Context, claim Claim) (*Connection, error) {
	claimed := strings.TrimSpace(claim.UserID)
	if claimed == "" && claim.Token == "" {
		g.reject(ctx, claimed, "missing identity")
		return nil, ErrUnauthenticated
	}

	userID, err := g.verifier.VerifyIdentity(ctx, claimed, claim.Token)
	if err != nil {
		g.reject(ctx, claimed, err.Error())
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	conn := newConnection(uuid.New().String(), userID, g.outboxSize)
	logger.Debug(ctx, "連接已建立",
		logger.WithUserID(userID),
		logger.WithConnectionID(conn.ID()),
		logger.WithAction("open"))
	return conn, nil
}

// Activate 將連接轉為 Live，註冊到在線表並廣播在線名單
func (g *Gateway) Activate(ctx context.Context, conn *Connection) error {
	conn.mu.Lock()
	if conn.state != StateConnecting {
		conn.mu.Unlock()
		return ErrConnectionClosed
	}
	conn.state = StateLive
	conn.registered = true
	// 在連接鎖內註冊，避免與 Close 交錯留下失效句柄
	becameOnline := g.registry.Register(conn.UserID(), conn)
	conn.mu.Unlock()

	if becameOnline {
		g.markOnline(ctx, conn.UserID())
	}
	g.updateGauges()

	logger.Info(ctx, "用戶連接上線",
		logger.WithUserID(conn.UserID()),
		logger.WithConnectionID(conn.ID()),
		logger.WithAction("activate"))

	g.broadcastOnlineUsers(ctx)
	return nil
}

// Logout 客戶端主動登出：在線狀態上等同斷線，但連接保持開啟
func (g *Gateway) Logout(ctx context.Context, conn *Connection) {
	conn.mu.Lock()
	if conn.state != StateLive || !conn.registered {
		conn.mu.Unlock()
		return
	}
	conn.registered = false
	wentOffline := g.registry.Unregister(conn.UserID(), conn)
	conn.mu.Unlock()

	logger.Info(ctx, "用戶登出",
		logger.WithUserID(conn.UserID()),
		logger.WithConnectionID(conn.ID()),
		logger.WithAction("logout"))
	g.released(ctx, conn.UserID(), wentOffline)
}

// Close 網路層斷線，重複呼叫無副作用
func (g *Gateway) Close(ctx context.Context, conn *Connection) {
	conn.mu.Lock()
	if conn.state == StateClosed {
		conn.mu.Unlock()
		return
	}
	wasRegistered := conn.registered
	wentOffline := false
	if wasRegistered {
		wentOffline = g.registry.Unregister(conn.UserID(), conn)
	}
	conn.registered = false
	conn.state = StateClosed
	close(conn.outbox)
	conn.mu.Unlock()

	logger.Info(ctx, "連接已關閉",
		logger.WithUserID(conn.UserID()),
		logger.WithConnectionID(conn.ID()),
		logger.WithAction("close"))

	if wasRegistered {
		g.released(ctx, conn.UserID(), wentOffline)
	}
}

// released 句柄移除後的狀態同步與廣播，此時不持有任何鎖
func (g *Gateway) released(ctx context.Context, userID string, wentOffline bool) {
	g.updateGauges()
	if !wentOffline {
		return
	}
	g.markOffline(ctx, userID)
	g.broadcastOnlineUsers(ctx)
}

// broadcastOnlineUsers 以快照推送，推送時不持有在線表的鎖
func (g *Gateway) broadcastOnlineUsers(ctx context.Context) {
	ev := event.New(event.GetOnlineUsers, g.registry.OnlineUsers())
	for _, h := range g.registry.AllHandles() {
		if err := h.Push(ev); err != nil {
			metrics.Pushes.WithLabelValues(ev.Name, metrics.ResultDropped).Inc()
			logger.Warning(ctx, "在線名單推送失敗",
				logger.WithUserID(h.UserID()),
				logger.WithConnectionID(h.ID()),
				logger.WithEvent(ev.Name),
				logger.WithError(err))
			continue
		}
		metrics.Pushes.WithLabelValues(ev.Name, metrics.ResultDelivered).Inc()
	}
}

func (g *Gateway) reject(ctx context.Context, claimed, reason string) {
	metrics.ConnectionsRejected.Inc()
	g.audit.LogAuthenticationFailure(ctx, claimed, reason)
	logger.Warning(ctx, "拒絕連接",
		logger.WithUserID(claimed),
		logger.WithAction("open"),
		logger.WithDetails(map[string]interface{}{"reason": reason}))
}

func (g *Gateway) markOnline(ctx context.Context, userID string) {
	if err := g.mirror.MarkOnline(ctx, userID); err != nil {
		logger.Warning(ctx, "同步上線狀態失敗", logger.WithUserID(userID), logger.WithError(err))
	}
}

func (g *Gateway) markOffline(ctx context.Context, userID string) {
	if err := g.mirror.MarkOffline(ctx, userID); err != nil {
		logger.Warning(ctx, "同步離線狀態失敗", logger.WithUserID(userID), logger.WithError(err))
	}
}

func (g *Gateway) updateGauges() {
	metrics.OnlineUsers.Set(float64(len(g.registry.OnlineUsers())))
	metrics.LiveConnections.Set(float64(g.registry.ConnectionCount()))
}
