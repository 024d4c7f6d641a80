package message

import (
	"context"
	"iter"
	"slices"
	"time"
)

// DeleteScope 刪除範圍.
type DeleteScope string

// 刪除範圍常數.
const (
	ScopeMe       DeleteScope = "me"
	ScopeEveryone DeleteScope = "everyone"
)

// Message 一對一訊息.
//
// 建立後 ID、收發雙方與 CreatedAt 不再變動；Seen 與 DeletedForEveryone 只會由 false 轉為 true，
// DeletedFor 只增不減。
type Message struct {
	ID                 string    `json:"id"`
	SenderID           string    `json:"sender_id"`
	ReceiverID         string    `json:"receiver_id"`
	Content            string    `json:"content"`
	AttachmentRef      string    `json:"attachment_ref,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	Seen               bool      `json:"seen"`
	DeletedForEveryone bool      `json:"deleted_for_everyone"`
	DeletedFor         []string  `json:"-"`
}

// Clone 深拷貝.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	c.DeletedFor = slices.Clone(m.DeletedFor)
	return &c
}

// IsParticipant 檢查用戶是否為收發任一方.
func (m *Message) IsParticipant(userID string) bool {
	return userID == m.SenderID || userID == m.ReceiverID
}

// HiddenFor 檢查用戶是否已對自己隱藏此訊息.
func (m *Message) HiddenFor(userID string) bool {
	return slices.Contains(m.DeletedFor, userID)
}

// VisibleTo 對話可見性：參與者且未自行刪除.
func (m *Message) VisibleTo(userID string) bool {
	return m.IsParticipant(userID) && !m.HiddenFor(userID)
}

// ApplySeen 由接收者標記已讀；已讀時不變更.
func (m *Message) ApplySeen(actorID string) (changed bool, err error) {
	if actorID != m.ReceiverID {
		return false, &ForbiddenError{MessageID: m.ID, UserID: actorID, Action: "mark_seen"}
	}
	if m.Seen {
		return false, nil
	}
	m.Seen = true
	return true, nil
}

// ApplyDeleteForMe 將用戶加入 DeletedFor；重複刪除不變更.
func (m *Message) ApplyDeleteForMe(actorID string) (changed bool, err error) {
	if !m.IsParticipant(actorID) {
		return false, &ForbiddenError{MessageID: m.ID, UserID: actorID, Action: "delete_for_me"}
	}
	if m.HiddenFor(actorID) {
		return false, nil
	}
	m.DeletedFor = append(m.DeletedFor, actorID)
	return true, nil
}

// ApplyDeleteForEveryone 由發送者轉為墓碑，清除內容與附件.
func (m *Message) ApplyDeleteForEveryone(actorID string) (changed bool, err error) {
	if actorID != m.SenderID {
		return false, &ForbiddenError{MessageID: m.ID, UserID: actorID, Action: "delete_for_everyone"}
	}
	if m.DeletedForEveryone {
		return false, nil
	}
	m.DeletedForEveryone = true
	m.Content = ""
	m.AttachmentRef = ""
	return true, nil
}

// Draft 待建立的訊息.
type Draft struct {
	SenderID      string
	ReceiverID    string
	Content       string
	AttachmentRef string
}

// Page 對話分頁：取 Before 之前最新的 Limit 則，結果仍依 CreatedAt 遞增.
// Before 為空時從最新一則開始往前取。
type Page struct {
	Before string
	Limit  int
}

// Store 訊息持久化.
//
// 同一訊息 ID 上的所有變更必須可線性化。
type Store interface {
	Create(ctx context.Context, d Draft) (*Message, error)
	// Conversation 回傳 viewer 與 peer 之間、viewer 可見的訊息，依 CreatedAt 遞增。
	// 每次 range 都重新查詢。
	Conversation(ctx context.Context, viewerID, peerID string) iter.Seq2[*Message, error]
	// ConversationPage 回傳一頁可見訊息；Before 不屬於此對話時返回 NotFoundError。
	ConversationPage(ctx context.Context, viewerID, peerID string, p Page) ([]*Message, error)
	MarkSeen(ctx context.Context, id, actorID string) (*Message, error)
	DeleteForMe(ctx context.Context, id, actorID string) error
	DeleteForEveryone(ctx context.Context, id, actorID string) (*Message, error)
}

// Notifier 訊息生命週期事件的推送端.
type Notifier interface {
	NotifyNewMessage(ctx context.Context, m *Message)
	NotifySeen(ctx context.Context, m *Message)
	NotifyDeleted(ctx context.Context, m *Message, scope DeleteScope)
}

// AttachmentUploader 附件存儲，回傳可長期引用的 URL.
type AttachmentUploader interface {
	Upload(ctx context.Context, ownerID string, data []byte, contentType string) (string, error)
}
