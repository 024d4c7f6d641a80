package event

import "encoding/json"

// 推送事件名稱（與前端 socket 事件名一致）
const (
	GetOnlineUsers = "getOnlineUsers"
	NewMessage     = "newMessage"
	MessageSeen    = "messageSeen"
	MessageDeleted = "messageDeleted"

	// Logout 客戶端發出的登出信號
	Logout = "logout"
)

// Event 單一連接上的具名事件
type Event struct {
	Name string      `json:"event"`
	Data interface{} `json:"data,omitempty"`
}

// DeletedPayload messageDeleted 事件內容，只帶訊息 ID
type DeletedPayload struct {
	MessageID string `json:"message_id"`
}

// Inbound 客戶端上行的幀
type Inbound struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// New 創建事件
func New(name string, data interface{}) Event {
	return Event{Name: name, Data: data}
}

// Encode 編碼為 JSON 幀
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeInbound 解析客戶端上行幀
func DecodeInbound(frame []byte) (Inbound, error) {
	var in Inbound
	err := json.Unmarshal(frame, &in)
	return in, err
}
