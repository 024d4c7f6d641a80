package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
)

// RequestMetadata 審計與日誌使用的請求元數據.
type RequestMetadata struct {
	RequestID string
	IPAddress string
	UserAgent string
	// UserID 由認證中間件填入
	UserID string
}

type metadataKey struct{}

// RequestMetadataMiddleware 提取請求元數據並存入 context.
func RequestMetadataMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		meta := &RequestMetadata{
			RequestID: GetRequestID(c),
			// 代理標頭只在 gin 的 trusted proxies 內才會採用，避免偽造 X-Forwarded-For 繞過限流
			IPAddress: c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		}
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), metadataKey{}, meta))
		c.Next()
	}
}

// GetRequestMetadata 從 context 獲取請求元數據；非 HTTP 來源（如 gRPC）回傳 unknown.
func GetRequestMetadata(ctx context.Context) *RequestMetadata {
	if meta, ok := ctx.Value(metadataKey{}).(*RequestMetadata); ok {
		return meta
	}
	return &RequestMetadata{
		IPAddress: "unknown",
		UserAgent: "unknown",
	}
}

func metadataFromGin(c *gin.Context) (*RequestMetadata, bool) {
	meta, ok := c.Request.Context().Value(metadataKey{}).(*RequestMetadata)
	return meta, ok
}
