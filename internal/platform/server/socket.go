package server

import (
	"context"
	"net/http"
	"time"

	"chat-relay/internal/constants"
	"chat-relay/internal/event"
	"chat-relay/internal/gateway"
	"chat-relay/internal/httputil"
	"chat-relay/internal/platform/config"
	"chat-relay/internal/platform/logger"
	"chat-relay/internal/platform/middleware"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// SocketHandler 把 websocket 接到連接閘道.
type SocketHandler struct {
	gw           *gateway.Gateway
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	pongWait     time.Duration
	writeWait    time.Duration
	maxFrame     int64
	frameRate    rate.Limit
	frameBurst   int
}

// NewSocketHandler 依配置建立 websocket 處理器.
func NewSocketHandler(gw *gateway.Gateway, cfg *config.Config) *SocketHandler {
	ws := config.WebSocketLimitsConfig{}
	var origins []string
	if cfg != nil {
		ws = cfg.Limits.WebSocket
		origins = cfg.Server.AllowedOrigins
	}

	h := &SocketHandler{
		gw:           gw,
		pingInterval: seconds(ws.PingIntervalSeconds, constants.DefaultWSPingInterval),
		pongWait:     seconds(ws.PongWaitSeconds, constants.DefaultWSPongWait),
		writeWait:    seconds(ws.WriteWaitSeconds, constants.DefaultWSWriteWait),
		maxFrame:     ws.MaxFrameBytes,
	}
	if h.maxFrame <= 0 {
		h.maxFrame = constants.DefaultWSMaxFrameBytes
	}
	perSec := ws.InboundFramesPerSec
	if perSec <= 0 {
		perSec = constants.DefaultWSInboundFramesPerSec
	}
	h.frameRate = rate.Limit(perSec)
	h.frameBurst = ws.InboundFrameBurst
	if h.frameBurst <= 0 {
		h.frameBurst = constants.DefaultWSInboundFrameBurst
	}
	if h.pingInterval >= h.pongWait {
		h.pingInterval = h.pongWait * 9 / 10
	}

	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			// 非瀏覽器客戶端不帶 Origin
			return origin == "" || middleware.OriginAllowed(origins, origin)
		},
	}
	return h
}

// ServeWS 驗證身份後升級連接，阻塞直到連接結束.
func (h *SocketHandler) ServeWS(c *gin.Context) {
	// 升級後請求 context 會隨 handler 返回而取消，連接期間改用獨立 context
	ctx := context.WithoutCancel(c.Request.Context())

	conn, err := h.gw.Open(ctx, gateway.Claim{
		UserID: c.Query("userId"),
		Token:  middleware.TokenFromRequest(c.Request),
	})
	if err != nil {
		httputil.Unauthorized(c, "")
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 已寫回錯誤
		h.gw.Close(ctx, conn)
		logger.Warning(ctx, "websocket 升級失敗",
			logger.WithUserID(conn.UserID()),
			logger.WithConnectionID(conn.ID()),
			logger.WithError(err))
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writePump(ctx, ws, conn)
	}()

	if err := h.gw.Activate(ctx, conn); err != nil {
		h.gw.Close(ctx, conn)
		<-done
		return
	}

	h.readPump(ctx, ws, conn)
	h.gw.Close(ctx, conn)
	<-done
}

// readPump 讀取上行幀；目前只處理 logout，其他事件記錄後忽略.
// 上行幀超過速率上限時以 1008 關閉連接.
func (h *SocketHandler) readPump(ctx context.Context, ws *websocket.Conn, conn *gateway.Connection) {
	limiter := rate.NewLimiter(h.frameRate, h.frameBurst)
	ws.SetReadLimit(h.maxFrame)
	_ = ws.SetReadDeadline(time.Now().Add(h.pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.pongWait))
	})

	for {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug(ctx, "websocket 讀取結束",
					logger.WithConnectionID(conn.ID()),
					logger.WithError(err))
			}
			return
		}

		if !limiter.Allow() {
			logger.Warning(ctx, "上行幀過於頻繁，關閉連接",
				logger.WithUserID(conn.UserID()),
				logger.WithConnectionID(conn.ID()))
			// WriteControl 可與 writePump 並行呼叫
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "rate limited"),
				time.Now().Add(h.writeWait))
			return
		}

		in, err := event.DecodeInbound(frame)
		if err != nil {
			logger.Debug(ctx, "無法解析上行幀", logger.WithConnectionID(conn.ID()), logger.WithError(err))
			continue
		}
		switch in.Name {
		case event.Logout:
			h.gw.Logout(ctx, conn)
		default:
			logger.Debug(ctx, "忽略上行事件",
				logger.WithConnectionID(conn.ID()),
				logger.WithEvent(in.Name))
		}
	}
}

// writePump 唯一的寫入者：轉發 outbox、發送 ping；outbox 溢出時以 1013 關閉.
func (h *SocketHandler) writePump(ctx context.Context, ws *websocket.Conn, conn *gateway.Connection) {
	ticker := time.NewTicker(h.pingInterval)
	defer func() {
		ticker.Stop()
		_ = ws.Close()
	}()

	for {
		select {
		case ev, ok := <-conn.Outbox():
			_ = ws.SetWriteDeadline(time.Now().Add(h.writeWait))
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			frame, err := ev.Encode()
			if err != nil {
				logger.Error(ctx, "事件編碼失敗", logger.WithEvent(ev.Name), logger.WithError(err))
				continue
			}
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-conn.Broken():
			logger.Warning(ctx, "發送佇列已滿，關閉連接",
				logger.WithUserID(conn.UserID()),
				logger.WithConnectionID(conn.ID()))
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "outbox overflow"),
				time.Now().Add(h.writeWait))
			return
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(h.writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func seconds(v, fallback int) time.Duration {
	if v <= 0 {
		v = fallback
	}
	return time.Duration(v) * time.Second
}
