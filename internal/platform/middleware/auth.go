package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	// UserIDKey gin.Context 中已驗證用戶 ID 的鍵
	UserIDKey = "user_id"
	// DevUserIDHeader 停用 JWT 時用於宣告身份的 header
	DevUserIDHeader = "X-User-ID"
	// TokenCookie 瀏覽器端存放 token 的 cookie 名稱
	TokenCookie = "jwt"
)

type userIDCtxKey struct{}

// TokenParser 驗證 token 並回傳用戶 ID
type TokenParser interface {
	Enabled() bool
	ParseToken(token string) (string, error)
}

// JWTMiddleware JWT 驗證中間件
type JWTMiddleware struct {
	parser TokenParser
}

// NewJWTMiddleware 創建 JWT 中間件
func NewJWTMiddleware(parser TokenParser) *JWTMiddleware {
	return &JWTMiddleware{parser: parser}
}

// GinMiddleware Gin HTTP 中間件
// 使用方式：router.Use(jwtMiddleware.GinMiddleware())
func (m *JWTMiddleware) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := m.authenticate(c.Request)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":      "未授權訪問",
				"success":    false,
				"request_id": GetRequestID(c),
			})
			c.Abort()
			return
		}

		// 將用戶 ID 存入 context
		c.Set(UserIDKey, userID)
		if meta, ok := metadataFromGin(c); ok {
			meta.UserID = userID
		}
		c.Request = c.Request.WithContext(WithUserID(c.Request.Context(), userID))
		c.Next()
	}
}

func (m *JWTMiddleware) authenticate(r *http.Request) (string, bool) {
	// 開發環境：信任 header 宣告的身份
	if !m.parser.Enabled() {
		userID := strings.TrimSpace(r.Header.Get(DevUserIDHeader))
		if ValidateUserID(userID) != nil {
			return "", false
		}
		return userID, true
	}

	userID, err := m.parser.ParseToken(TokenFromRequest(r))
	if err != nil {
		return "", false
	}
	return userID, true
}

// GRPCUnaryInterceptor gRPC 一元 RPC 攔截器
// 使用方式：grpc.NewServer(grpc.UnaryInterceptor(jwtMiddleware.GRPCUnaryInterceptor()))
func (m *JWTMiddleware) GRPCUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		// 健康檢查不需要認證
		if strings.HasPrefix(info.FullMethod, "/grpc.health.v1.Health/") {
			return handler(ctx, req)
		}
		// 如果未啟用，直接放行
		if !m.parser.Enabled() {
			return handler(ctx, req)
		}

		// 從 metadata 獲取 token
		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Errorf(codes.Unauthenticated, "未提供認證信息")
		}

		values := md.Get("authorization")
		if len(values) == 0 {
			return nil, status.Errorf(codes.Unauthenticated, "未提供認證 token")
		}

		userID, err := m.parser.ParseToken(bearerToken(values[0]))
		if err != nil {
			return nil, status.Errorf(codes.Unauthenticated, "認證失敗")
		}

		return handler(WithUserID(ctx, userID), req)
	}
}

// TokenFromRequest 依序從 Authorization header、jwt cookie、token 查詢參數取得 token
func TokenFromRequest(r *http.Request) string {
	if tok := bearerToken(r.Header.Get("Authorization")); tok != "" {
		return tok
	}
	if cookie, err := r.Cookie(TokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return r.URL.Query().Get("token")
}

// bearerToken 解析 Bearer token，格式錯誤時回傳空字串
func bearerToken(header string) string {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// WithUserID 將已驗證的用戶 ID 存入 context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDCtxKey{}, userID)
}

// UserIDFromContext 從 context 取得已驗證的用戶 ID
func UserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userIDCtxKey{}).(string)
	return userID, ok && userID != ""
}

// GetUserID 從 gin.Context 取得已驗證的用戶 ID
func GetUserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}
