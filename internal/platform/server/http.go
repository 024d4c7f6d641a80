package server

import (
	"net/http"
	"time"

	"chat-relay/internal/constants"
	"chat-relay/internal/gateway"
	"chat-relay/internal/httputil"
	"chat-relay/internal/message"
	"chat-relay/internal/platform/config"
	"chat-relay/internal/platform/health"
	"chat-relay/internal/platform/middleware"
	"chat-relay/internal/security/audit"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 路由常數.
const (
	APIPrefix        = "/api/v1"
	SocketPath       = "/ws"
	sendMessageRoute = "/messages/send/:user_id"
)

// Deps HTTP 層依賴.
type Deps struct {
	Config   *config.Config
	Gateway  *gateway.Gateway
	Messages *message.Service
	Auth     middleware.TokenParser
	Audit    *audit.AuditService
	Health   *health.Handler
}

// Router 設定路由；stop 關閉後停止限流器的背景清理.
func Router(deps Deps, stop <-chan struct{}) *gin.Engine {
	cfg := deps.Config
	if cfg == nil {
		cfg = &config.Config{}
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.CORS(cfg.Server.AllowedOrigins))
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.RequestMetadataMiddleware())

	rateLimiter := newRateLimiter(cfg, deps.Audit)
	wsLimiter := newWSLimiter(cfg)
	if stop != nil {
		rateLimiter.StartCleanup(constants.RateLimitCleanupIntervalMin*time.Minute, constants.RateLimitCleanupIntervalMin*time.Minute, stop)
		go func() {
			<-stop
			wsLimiter.Stop()
		}()
	}

	if deps.Health != nil {
		r.GET("/health", deps.Health.HealthCheck)
	}
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	socket := NewSocketHandler(deps.Gateway, cfg)
	r.GET(SocketPath, rateLimiter.Middleware(), wsLimiter.Middleware(), socket.ServeWS)

	maxBody := cfg.Limits.Request.MaxBodySize
	if maxBody <= 0 {
		maxBody = constants.DefaultMaxRequestBodySize
	}

	api := r.Group(APIPrefix)
	api.Use(
		middleware.NewJWTMiddleware(deps.Auth).GinMiddleware(),
		rateLimiter.Middleware(),
		middleware.RequestSizeLimiter(maxBody),
	)

	mh := message.NewMessageHandler(deps.Messages)
	api.POST(sendMessageRoute, middleware.UserIDParam("user_id"), mh.Send)
	api.GET("/messages/:user_id", middleware.UserIDParam("user_id"), mh.Conversation)
	api.PUT("/messages/:id/seen", mh.MarkSeen)
	api.DELETE("/messages/:id/me", mh.DeleteForMe)
	api.DELETE("/messages/:id/everyone", mh.DeleteForEveryone)

	api.GET("/users/online", onlineUsers(deps.Gateway))

	return r
}

func onlineUsers(gw *gateway.Gateway) gin.HandlerFunc {
	return func(c *gin.Context) {
		users := gw.Registry().OnlineUsers()
		c.JSON(http.StatusOK, httputil.NewListResponse(httputil.OnlineUsersRetrieved, users))
	}
}

func newRateLimiter(cfg *config.Config, auditSvc *audit.AuditService) *middleware.PerEndpointRateLimiter {
	rl := cfg.Limits.RateLimiting
	defaultLimit := constants.DefaultRateLimitPerMinute
	if rl.DefaultPerMinute > 0 {
		defaultLimit = rl.DefaultPerMinute
	}
	limiter := middleware.NewPerEndpointRateLimiter(defaultLimit, time.Minute)

	if rl.Enabled {
		messages := rl.MessagesPerMin
		if messages <= 0 {
			messages = constants.DefaultMessageRateLimit
		}
		connects := rl.ConnectPerMin
		if connects <= 0 {
			connects = constants.DefaultConnectRateLimit
		}
		limiter.SetLimit(http.MethodPost, APIPrefix+sendMessageRoute, messages, time.Minute)
		limiter.SetLimit(http.MethodGet, SocketPath, connects, time.Minute)
	}

	limiter.OnReject(func(c *gin.Context) {
		auditSvc.LogRateLimitExceeded(c.Request.Context(), c.ClientIP(), c.FullPath())
	})
	return limiter
}

func newWSLimiter(cfg *config.Config) *middleware.WSConnectionLimiter {
	ws := cfg.Limits.WebSocket
	perIP := ws.MaxConnectionsPerIP
	if perIP <= 0 {
		perIP = constants.DefaultWSMaxConnectionsPerIP
	}
	total := ws.MaxTotalConnections
	if total <= 0 {
		total = constants.DefaultWSMaxTotalConnections
	}
	return middleware.NewWSConnectionLimiter(perIP, total, constants.WSConnectionCleanupMin*time.Minute)
}
