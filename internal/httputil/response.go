package httputil

// 成功訊息.
const (
	MessageSent          = "Message sent"
	ConversationFetched  = "Conversation retrieved"
	MessageMarkedSeen    = "Message marked as seen"
	MessageHidden        = "Message deleted for you"
	MessageTombstoned    = "Message deleted for everyone"
	OnlineUsersRetrieved = "Online users retrieved"
)

// 錯誤訊息.
const (
	InvalidFileFormat = "attachment must be an image"
	FileTooLarge      = "attachment too large"
	RecordNotFound    = "message not found"
)

// SuccessResponse 成功回應；列表類回應帶 count.
type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Count   *int        `json:"count,omitempty"`
	// 分頁回應的下一頁游標；已到最早一則時省略
	NextCursor string `json:"next_cursor,omitempty"`
}

// NewSuccessResponse 創建成功回應.
func NewSuccessResponse(message string, data interface{}) *SuccessResponse {
	return &SuccessResponse{Message: message, Data: data}
}

// NewListResponse 創建列表回應；空列表仍回傳 count 0 與 [].
func NewListResponse[T any](message string, items []T) *SuccessResponse {
	if items == nil {
		items = []T{}
	}
	n := len(items)
	return &SuccessResponse{Message: message, Data: items, Count: &n}
}

// NewPageResponse 創建分頁列表回應.
func NewPageResponse[T any](message string, items []T, next string) *SuccessResponse {
	resp := NewListResponse(message, items)
	resp.NextCursor = next
	return resp
}
