package audit

import (
	"context"
	"time"

	"chat-relay/internal/platform/logger"
	"chat-relay/internal/platform/middleware"
)

// 審計操作
const (
	ActionSend              = "send_message"
	ActionMarkSeen          = "mark_seen"
	ActionDeleteForMe       = "delete_for_me"
	ActionDeleteForEveryone = "delete_for_everyone"
	ActionConnect           = "connect"
	ActionAuthenticate      = "authenticate"
)

// AuditService 審計服務
type AuditService struct {
	enabled bool
	sink    func(ctx context.Context, event AuditEvent)
}

// NewAuditService 創建審計服務
func NewAuditService(enabled bool) *AuditService {
	return &AuditService{
		enabled: enabled,
		sink:    writeToLogger,
	}
}

// AuditEvent 審計事件
type AuditEvent struct {
	Timestamp time.Time              `json:"timestamp"`
	EventType string                 `json:"event_type"`
	UserID    string                 `json:"user_id"`
	PeerID    string                 `json:"peer_id,omitempty"`
	MessageID string                 `json:"message_id,omitempty"`
	Action    string                 `json:"action"`
	Result    string                 `json:"result"` // success, failure, denied
	Details   map[string]interface{} `json:"details,omitempty"`
	IPAddress string                 `json:"ip_address,omitempty"`
	UserAgent string                 `json:"user_agent,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// LogMessageSent 記錄消息發送
func (a *AuditService) LogMessageSent(ctx context.Context, senderID, receiverID, messageID string, hasAttachment bool) {
	a.record(ctx, AuditEvent{
		EventType: "message_sent",
		UserID:    senderID,
		PeerID:    receiverID,
		MessageID: messageID,
		Action:    ActionSend,
		Result:    "success",
		Details:   map[string]interface{}{"has_attachment": hasAttachment},
	})
}

// LogMessageSeen 記錄消息已讀
func (a *AuditService) LogMessageSeen(ctx context.Context, userID, messageID string) {
	a.record(ctx, AuditEvent{
		EventType: "message_seen",
		UserID:    userID,
		MessageID: messageID,
		Action:    ActionMarkSeen,
		Result:    "success",
	})
}

// LogMessageDeleted 記錄消息刪除，action 為 ActionDeleteForMe 或 ActionDeleteForEveryone
func (a *AuditService) LogMessageDeleted(ctx context.Context, userID, messageID, action string) {
	a.record(ctx, AuditEvent{
		EventType: "message_deleted",
		UserID:    userID,
		MessageID: messageID,
		Action:    action,
		Result:    "success",
	})
}

// LogAccessDenied 記錄訪問被拒絕
func (a *AuditService) LogAccessDenied(ctx context.Context, userID, messageID, action string) {
	a.record(ctx, AuditEvent{
		EventType: "access_denied",
		UserID:    userID,
		MessageID: messageID,
		Action:    action,
		Result:    "denied",
	})
}

// LogAuthenticationFailure 記錄認證失敗
func (a *AuditService) LogAuthenticationFailure(ctx context.Context, claimedUserID, reason string) {
	a.record(ctx, AuditEvent{
		EventType: "authentication",
		UserID:    claimedUserID,
		Action:    ActionAuthenticate,
		Result:    "failure",
		Details:   map[string]interface{}{"reason": reason},
	})
}

// LogRateLimitExceeded 記錄速率限制超過
func (a *AuditService) LogRateLimitExceeded(ctx context.Context, ipAddress, endpoint string) {
	a.record(ctx, AuditEvent{
		EventType: "rate_limit",
		Action:    "api_request",
		Result:    "blocked",
		IPAddress: ipAddress,
		Details: map[string]interface{}{
			"endpoint": endpoint,
			"reason":   "rate_limit_exceeded",
		},
	})
}

// IsEnabled 檢查審計是否啟用
func (a *AuditService) IsEnabled() bool {
	return a != nil && a.enabled
}

func (a *AuditService) record(ctx context.Context, event AuditEvent) {
	if !a.IsEnabled() {
		return
	}
	event.Timestamp = time.Now()
	enrichWithMetadata(ctx, &event)
	a.sink(ctx, event)
}

// enrichWithMetadata 從 context 提取請求元數據
func enrichWithMetadata(ctx context.Context, event *AuditEvent) {
	meta := middleware.GetRequestMetadata(ctx)
	if event.IPAddress == "" {
		event.IPAddress = meta.IPAddress
	}
	event.UserAgent = meta.UserAgent
	event.RequestID = meta.RequestID
}

func writeToLogger(ctx context.Context, event AuditEvent) {
	details := map[string]interface{}{
		"audit":      true,
		"event_type": event.EventType,
		"result":     event.Result,
		"ip_address": event.IPAddress,
		"user_agent": event.UserAgent,
		"request_id": event.RequestID,
		"at":         event.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	for k, v := range event.Details {
		details[k] = v
	}

	opts := []logger.LogOption{
		logger.WithAction(event.Action),
		logger.WithDetails(details),
	}
	if event.UserID != "" {
		opts = append(opts, logger.WithUserID(event.UserID))
	}
	if event.PeerID != "" {
		opts = append(opts, logger.WithPeerID(event.PeerID))
	}
	if event.MessageID != "" {
		opts = append(opts, logger.WithMessageID(event.MessageID))
	}

	severity := logger.SeverityNotice
	if event.Result != "success" {
		severity = logger.SeverityWarning
	}
	logger.Log(ctx, severity, "[AUDIT] "+event.EventType, opts...)
}
