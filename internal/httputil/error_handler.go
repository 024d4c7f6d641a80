package httputil

import (
	"net/http"

	"chat-relay/internal/platform/logger"
	"chat-relay/internal/platform/middleware"

	"github.com/gin-gonic/gin"
)

// 錯誤代碼，供客戶端分支處理.
const (
	CodeInvalidRequest = "invalid_request"
	CodeValidation     = "validation_failed"
	CodeUnauthorized   = "unauthorized"
	CodeForbidden      = "forbidden"
	CodeNotFound       = "not_found"
	CodeInternal       = "internal_error"
)

// ErrorResponse 錯誤回應.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Field     string `json:"field,omitempty"`
	Success   bool   `json:"success"`
	RequestID string `json:"request_id,omitempty"`
}

// InternalServerError 記錄真實錯誤，對客戶端只回傳通用訊息
func InternalServerError(c *gin.Context, err error) {
	logger.Error(c.Request.Context(), "API 內部錯誤",
		logger.WithUserID(middleware.GetUserID(c)),
		logger.WithError(err),
		logger.WithDetails(map[string]interface{}{
			"request_id": middleware.GetRequestID(c),
			"path":       c.FullPath(),
			"method":     c.Request.Method,
		}))
	write(c, http.StatusInternalServerError, CodeInternal, "", "服務器內部錯誤，請稍後再試")
}

// BadRequest 請求格式錯誤
func BadRequest(c *gin.Context, message string) {
	write(c, http.StatusBadRequest, CodeInvalidRequest, "", message)
}

// ValidationError 欄位驗證失敗
func ValidationError(c *gin.Context, field, message string) {
	write(c, http.StatusBadRequest, CodeValidation, field, message)
}

// Unauthorized 未認證
func Unauthorized(c *gin.Context, message string) {
	write(c, http.StatusUnauthorized, CodeUnauthorized, "", orDefault(message, "未認證"))
}

// Forbidden 無權操作
func Forbidden(c *gin.Context, message string) {
	write(c, http.StatusForbidden, CodeForbidden, "", orDefault(message, "禁止訪問"))
}

// NotFoundError 資源不存在
func NotFoundError(c *gin.Context, message string) {
	write(c, http.StatusNotFound, CodeNotFound, "", orDefault(message, "資源不存在"))
}

func write(c *gin.Context, status int, code, field, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Error:     message,
		Code:      code,
		Field:     field,
		RequestID: middleware.GetRequestID(c),
	})
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
