package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode"
	"unicode/utf8"

	"chat-relay/internal/constants"
	"chat-relay/internal/platform/config"

	"github.com/gin-gonic/gin"
)

var (
	errEmptyUserID   = errors.New("用戶 ID 不能為空")
	errUserIDTooLong = fmt.Errorf("用戶 ID 超過 %d 字節", constants.MaxUserIDLength)
	errUserIDChars   = errors.New("用戶 ID 包含非法字符")
)

// MaxMessageLength 取得訊息長度上限
func MaxMessageLength() int {
	if cfg := config.Get(); cfg != nil && cfg.Limits.Message.MaxLength > 0 {
		return cfg.Limits.Message.MaxLength
	}
	return constants.DefaultMaxMessageLength
}

// ValidateMessageContent 驗證訊息內容長度，空內容交由呼叫端判斷
func ValidateMessageContent(content string) error {
	if !utf8.ValidString(content) {
		return errors.New("訊息內容不是合法的 UTF-8")
	}
	if maxLength := MaxMessageLength(); utf8.RuneCountInString(content) > maxLength {
		return fmt.Errorf("訊息內容超過最大長度限制 (%d 字符)", maxLength)
	}
	return nil
}

// ValidateUserID 用戶 ID 為不透明字串；拒絕空白、控制字符與查詢運算子字符.
func ValidateUserID(userID string) error {
	if userID == "" {
		return errEmptyUserID
	}
	if len(userID) > constants.MaxUserIDLength {
		return errUserIDTooLong
	}
	for _, r := range userID {
		if unicode.IsSpace(r) || unicode.IsControl(r) || strings.ContainsRune("${}[]", r) {
			return errUserIDChars
		}
	}
	return nil
}

// SanitizeInput 移除控制字符，保留換行與 Tab
func SanitizeInput(input string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' || !unicode.IsControl(r) {
			return r
		}
		return -1
	}, input)
}

// UserIDParam 驗證路徑上的對端用戶 ID，不合法時直接回 400.
func UserIDParam(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := ValidateUserID(c.Param(name)); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":      fmt.Sprintf("%s: %v", name, err),
				"success":    false,
				"request_id": GetRequestID(c),
			})
			return
		}
		c.Next()
	}
}

// RequestSizeLimiter 限制請求體大小
func RequestSizeLimiter(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxSize {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"error":      fmt.Sprintf("請求體過大，最大允許 %d 字節", maxSize),
				"success":    false,
				"request_id": GetRequestID(c),
			})
			return
		}
		// 未宣告長度的請求在讀取時截斷
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}
