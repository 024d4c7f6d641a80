package message

import (
	"context"
	"errors"
	"iter"

	"chat-relay/internal/platform/logger"
	"chat-relay/internal/platform/metrics"
	"chat-relay/internal/security/audit"
)

// SendInput 發送訊息的輸入.
type SendInput struct {
	SenderID       string
	ReceiverID     string
	Content        string
	Attachment     []byte
	AttachmentType string
}

// Service 訊息生命週期：先寫入 Store，再交給 Notifier 推送.
//
// 推送失敗不影響已提交的寫入。
type Service struct {
	store    Store
	notifier Notifier
	uploader AttachmentUploader
	audit    *audit.AuditService
}

// Option 服務選項.
type Option func(*Service)

// WithUploader 設定附件存儲.
func WithUploader(u AttachmentUploader) Option {
	return func(s *Service) { s.uploader = u }
}

// WithAudit 設定審計服務.
func WithAudit(a *audit.AuditService) Option {
	return func(s *Service) { s.audit = a }
}

// NewService 創建訊息服務.
func NewService(store Store, notifier Notifier, opts ...Option) *Service {
	s := &Service{store: store, notifier: notifier}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send 建立訊息並推送給接收者.
func (s *Service) Send(ctx context.Context, in SendInput) (*Message, error) {
	draft, err := Draft{
		SenderID:      in.SenderID,
		ReceiverID:    in.ReceiverID,
		Content:       in.Content,
		AttachmentRef: placeholderIf(len(in.Attachment) > 0),
	}.Normalize()
	if err != nil {
		return nil, err
	}

	draft.AttachmentRef = ""
	if len(in.Attachment) > 0 {
		if s.uploader == nil {
			return nil, &ValidationError{Field: "image", Reason: "attachment storage is not configured"}
		}
		url, err := s.uploader.Upload(ctx, draft.SenderID, in.Attachment, in.AttachmentType)
		if err != nil {
			return nil, err
		}
		draft.AttachmentRef = url
	}

	m, err := s.store.Create(ctx, draft)
	if err != nil {
		return nil, err
	}

	metrics.MessageActions.WithLabelValues(audit.ActionSend).Inc()
	s.audit.LogMessageSent(ctx, m.SenderID, m.ReceiverID, m.ID, m.AttachmentRef != "")
	logger.Info(ctx, "訊息已建立",
		logger.WithUserID(m.SenderID),
		logger.WithPeerID(m.ReceiverID),
		logger.WithMessageID(m.ID),
		logger.WithAction(audit.ActionSend))

	s.notifier.NotifyNewMessage(ctx, m)
	return m, nil
}

// Conversation 回傳 viewer 與 peer 之間的可見訊息.
func (s *Service) Conversation(ctx context.Context, viewerID, peerID string) (iter.Seq2[*Message, error], error) {
	if err := validateActor("user_id", viewerID); err != nil {
		return nil, err
	}
	if err := validateActor("peer_id", peerID); err != nil {
		return nil, err
	}
	return s.store.Conversation(ctx, viewerID, peerID), nil
}

// ConversationPage 回傳一頁可見訊息，供較長的對話逐頁往前讀取.
func (s *Service) ConversationPage(ctx context.Context, viewerID, peerID string, p Page) ([]*Message, error) {
	if err := validateActor("user_id", viewerID); err != nil {
		return nil, err
	}
	if err := validateActor("peer_id", peerID); err != nil {
		return nil, err
	}
	if p.Limit <= 0 {
		return nil, &ValidationError{Field: "limit", Reason: "must be positive"}
	}
	return s.store.ConversationPage(ctx, viewerID, peerID, p)
}

// MarkSeen 接收者標記已讀，並通知發送者.
func (s *Service) MarkSeen(ctx context.Context, id, actorID string) (*Message, error) {
	if err := validateActor("user_id", actorID); err != nil {
		return nil, err
	}
	m, err := s.store.MarkSeen(ctx, id, actorID)
	if err != nil {
		s.auditDenied(ctx, err, audit.ActionMarkSeen)
		return nil, err
	}

	metrics.MessageActions.WithLabelValues(audit.ActionMarkSeen).Inc()
	s.audit.LogMessageSeen(ctx, actorID, m.ID)
	s.notifier.NotifySeen(ctx, m)
	return m, nil
}

// DeleteForMe 對操作者隱藏訊息，不影響對方.
func (s *Service) DeleteForMe(ctx context.Context, id, actorID string) error {
	if err := validateActor("user_id", actorID); err != nil {
		return err
	}
	if err := s.store.DeleteForMe(ctx, id, actorID); err != nil {
		s.auditDenied(ctx, err, audit.ActionDeleteForMe)
		return err
	}

	metrics.MessageActions.WithLabelValues(audit.ActionDeleteForMe).Inc()
	s.audit.LogMessageDeleted(ctx, actorID, id, audit.ActionDeleteForMe)
	s.notifier.NotifyDeleted(ctx, &Message{ID: id}, ScopeMe)
	return nil
}

// DeleteForEveryone 發送者將訊息轉為墓碑，並通知雙方.
func (s *Service) DeleteForEveryone(ctx context.Context, id, actorID string) (*Message, error) {
	if err := validateActor("user_id", actorID); err != nil {
		return nil, err
	}
	m, err := s.store.DeleteForEveryone(ctx, id, actorID)
	if err != nil {
		s.auditDenied(ctx, err, audit.ActionDeleteForEveryone)
		return nil, err
	}

	metrics.MessageActions.WithLabelValues(audit.ActionDeleteForEveryone).Inc()
	s.audit.LogMessageDeleted(ctx, actorID, m.ID, audit.ActionDeleteForEveryone)
	s.notifier.NotifyDeleted(ctx, m, ScopeEveryone)
	return m, nil
}

func (s *Service) auditDenied(ctx context.Context, err error, action string) {
	var forbidden *ForbiddenError
	if errors.As(err, &forbidden) {
		s.audit.LogAccessDenied(ctx, forbidden.UserID, forbidden.MessageID, action)
	}
}

// placeholderIf 讓只有附件的草稿通過空內容檢查，上傳前不產生孤兒檔案
func placeholderIf(hasAttachment bool) string {
	if hasAttachment {
		return "pending"
	}
	return ""
}
