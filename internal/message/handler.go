package message

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"chat-relay/internal/constants"
	"chat-relay/internal/httputil"
	"chat-relay/internal/platform/config"
	"chat-relay/internal/platform/middleware"

	"github.com/gin-gonic/gin"
)

// SendRequest 發送訊息請求，text 與 message 擇一.
type SendRequest struct {
	Text    string `json:"text"`
	Message string `json:"message"`
	Image   string `json:"image"` // data URL 或 base64
}

// DeletedResponse deleteForMe 回應.
type DeletedResponse struct {
	ID string `json:"id"`
}

// MessageHandler 訊息 HTTP 處理器.
type MessageHandler struct {
	svc *Service
}

// NewMessageHandler 創建訊息處理器.
func NewMessageHandler(svc *Service) *MessageHandler {
	return &MessageHandler{svc: svc}
}

// Send 發送訊息給 :user_id.
func (h *MessageHandler) Send(c *gin.Context) {
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.BadRequest(c, "Invalid request format")
		return
	}

	content := req.Text
	if content == "" {
		content = req.Message
	}
	in := SendInput{
		SenderID:   middleware.GetUserID(c),
		ReceiverID: c.Param("user_id"),
		Content:    content,
	}
	if req.Image != "" {
		data, contentType, err := decodeImage(req.Image)
		if err != nil {
			writeError(c, err)
			return
		}
		in.Attachment, in.AttachmentType = data, contentType
	}

	m, err := h.svc.Send(c.Request.Context(), in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, httputil.NewSuccessResponse(httputil.MessageSent, m))
}

// Conversation 取得與 :user_id 的對話.
// 不帶分頁參數時回傳完整對話；帶 limit 或 before 時回傳一頁，
// next_cursor 作為下一頁的 before。
func (h *MessageHandler) Conversation(c *gin.Context) {
	viewerID, peerID := middleware.GetUserID(c), c.Param("user_id")

	before, limitRaw := c.Query("before"), c.Query("limit")
	if before != "" || limitRaw != "" {
		h.conversationPage(c, viewerID, peerID, before, limitRaw)
		return
	}

	seq, err := h.svc.Conversation(c.Request.Context(), viewerID, peerID)
	if err != nil {
		writeError(c, err)
		return
	}
	messages := make([]*Message, 0)
	for m, err := range seq {
		if err != nil {
			writeError(c, err)
			return
		}
		messages = append(messages, m)
	}
	c.JSON(http.StatusOK, httputil.NewListResponse(httputil.ConversationFetched, messages))
}

func (h *MessageHandler) conversationPage(c *gin.Context, viewerID, peerID, before, limitRaw string) {
	limit := maxPageSize()
	if limitRaw != "" {
		n, err := strconv.Atoi(limitRaw)
		if err != nil || n <= 0 {
			httputil.ValidationError(c, "limit", "must be a positive integer")
			return
		}
		limit = min(n, limit)
	}

	messages, err := h.svc.ConversationPage(c.Request.Context(), viewerID, peerID, Page{Before: before, Limit: limit})
	if err != nil {
		writeError(c, err)
		return
	}
	// 滿頁表示更早的訊息可能還有
	next := ""
	if len(messages) == limit {
		next = messages[0].ID
	}
	c.JSON(http.StatusOK, httputil.NewPageResponse(httputil.ConversationFetched, messages, next))
}

// MarkSeen 接收者標記已讀.
func (h *MessageHandler) MarkSeen(c *gin.Context) {
	m, err := h.svc.MarkSeen(c.Request.Context(), c.Param("id"), middleware.GetUserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httputil.NewSuccessResponse(httputil.MessageMarkedSeen, m))
}

// DeleteForMe 只對自己隱藏.
func (h *MessageHandler) DeleteForMe(c *gin.Context) {
	id := c.Param("id")
	if err := h.svc.DeleteForMe(c.Request.Context(), id, middleware.GetUserID(c)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httputil.NewSuccessResponse(httputil.MessageHidden, DeletedResponse{ID: id}))
}

// DeleteForEveryone 發送者對雙方刪除.
func (h *MessageHandler) DeleteForEveryone(c *gin.Context) {
	m, err := h.svc.DeleteForEveryone(c.Request.Context(), c.Param("id"), middleware.GetUserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httputil.NewSuccessResponse(httputil.MessageTombstoned, m))
}

// writeError 將領域錯誤轉為 HTTP 回應.
func writeError(c *gin.Context, err error) {
	var (
		ve *ValidationError
		nf *NotFoundError
		fe *ForbiddenError
	)
	switch {
	case errors.As(err, &ve):
		httputil.ValidationError(c, ve.Field, ve.Reason)
	case errors.As(err, &nf):
		httputil.NotFoundError(c, httputil.RecordNotFound)
	case errors.As(err, &fe):
		httputil.Forbidden(c, "")
	default:
		httputil.InternalServerError(c, err)
	}
}

// decodeImage 解析 data URL 或純 base64 圖片.
func decodeImage(raw string) ([]byte, string, error) {
	contentType := ""
	payload := raw
	if rest, ok := strings.CutPrefix(raw, "data:"); ok {
		meta, data, found := strings.Cut(rest, ",")
		if !found || !strings.HasSuffix(meta, ";base64") {
			return nil, "", &ValidationError{Field: "image", Reason: "invalid data URL"}
		}
		contentType = strings.TrimSuffix(meta, ";base64")
		payload = data
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", &ValidationError{Field: "image", Reason: "invalid base64 payload"}
	}
	if len(data) > maxAttachmentBytes() {
		return nil, "", &ValidationError{Field: "image", Reason: httputil.FileTooLarge}
	}

	// 以實際內容判斷類型，不信任客戶端宣告
	sniffed := http.DetectContentType(data)
	if !strings.HasPrefix(sniffed, "image/") {
		return nil, "", &ValidationError{Field: "image", Reason: httputil.InvalidFileFormat}
	}
	if contentType == "" || !strings.HasPrefix(contentType, "image/") {
		contentType = sniffed
	}
	return data, contentType, nil
}

func maxPageSize() int {
	if cfg := config.Get(); cfg != nil && cfg.Limits.Pagination.MaxPageSize > 0 {
		return cfg.Limits.Pagination.MaxPageSize
	}
	return constants.DefaultMaxPageSize
}

func maxAttachmentBytes() int {
	mb := constants.DefaultMaxAttachmentMB
	if cfg := config.Get(); cfg != nil && cfg.Storage.S3.MaxAttachmentMB > 0 {
		mb = cfg.Storage.S3.MaxAttachmentMB
	}
	return mb << 20
}
