package delivery

import (
	"context"

	"chat-relay/internal/event"
	"chat-relay/internal/message"
	"chat-relay/internal/platform/logger"
	"chat-relay/internal/platform/metrics"
	"chat-relay/internal/presence"
)

// HandleLookup 查詢用戶的在線連接
type HandleLookup interface {
	LiveHandles(userID string) []presence.Handle
}

// Dispatcher 將訊息生命週期事件推送到相關用戶的在線連接
//
// 推送為盡力而為：失敗只記錄，不重試，也不回滾存儲。
type Dispatcher struct {
	lookup HandleLookup
}

// NewDispatcher 創建推送器
func NewDispatcher(lookup HandleLookup) *Dispatcher {
	return &Dispatcher{lookup: lookup}
}

// NotifyNewMessage 推送新訊息給接收者
func (d *Dispatcher) NotifyNewMessage(ctx context.Context, m *message.Message) {
	d.fanOut(ctx, event.New(event.NewMessage, m), m.ID, m.ReceiverID)
}

// NotifySeen 推送已讀給發送者
func (d *Dispatcher) NotifySeen(ctx context.Context, m *message.Message) {
	d.fanOut(ctx, event.New(event.MessageSeen, m), m.ID, m.SenderID)
}

// NotifyDeleted 全員刪除時推送訊息 ID 給雙方，僅自己刪除時不推送
func (d *Dispatcher) NotifyDeleted(ctx context.Context, m *message.Message, scope message.DeleteScope) {
	if scope != message.ScopeEveryone {
		return
	}
	ev := event.New(event.MessageDeleted, event.DeletedPayload{MessageID: m.ID})
	if m.SenderID == m.ReceiverID {
		d.fanOut(ctx, ev, m.ID, m.SenderID)
		return
	}
	d.fanOut(ctx, ev, m.ID, m.SenderID, m.ReceiverID)
}

func (d *Dispatcher) fanOut(ctx context.Context, ev event.Event, messageID string, userIDs ...string) {
	for _, userID := range userIDs {
		// LiveHandles 回傳副本，推送時不持有在線表的鎖
		for _, h := range d.lookup.LiveHandles(userID) {
			if err := h.Push(ev); err != nil {
				metrics.Pushes.WithLabelValues(ev.Name, metrics.ResultDropped).Inc()
				logger.Warning(ctx, "推送失敗，已丟棄",
					logger.WithUserID(userID),
					logger.WithConnectionID(h.ID()),
					logger.WithMessageID(messageID),
					logger.WithEvent(ev.Name),
					logger.WithError(err))
				continue
			}
			metrics.Pushes.WithLabelValues(ev.Name, metrics.ResultDelivered).Inc()
		}
	}
}
