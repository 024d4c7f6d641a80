package middleware

import (
	"chat-relay/internal/platform/logger"

	"github.com/gin-gonic/gin"
)

const (
	RequestIDHeader = "X-Request-ID"
	RequestIDKey    = "request_id"

	maxRequestIDLength = 64
)

// RequestIDMiddleware 為每個請求分配 ID，並作為 trace ID 寫入 request context.
// websocket 連接沿用握手請求的 ID，整條連接的日誌可以串起來。
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if !validRequestID(requestID) {
			requestID = logger.NewTraceID()
		}

		c.Set(RequestIDKey, requestID)
		c.Header(RequestIDHeader, requestID)
		c.Request = c.Request.WithContext(logger.WithTraceID(c.Request.Context(), requestID))

		c.Next()
	}
}

// GetRequestID 從 gin.Context 獲取 Request ID
func GetRequestID(c *gin.Context) string {
	if id, ok := c.Get(RequestIDKey); ok {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return ""
}

// validRequestID 客戶端帶來的 ID 會進入日誌，只接受短的英數字串
func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
		default:
			return false
		}
	}
	return true
}
