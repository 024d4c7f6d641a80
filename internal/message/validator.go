package message

import (
	"strings"

	"chat-relay/internal/platform/middleware"
)

// Normalize 清理並驗證草稿，回傳可寫入的副本.
func (d Draft) Normalize() (Draft, error) {
	if err := middleware.ValidateUserID(d.SenderID); err != nil {
		return d, &ValidationError{Field: "sender_id", Reason: err.Error()}
	}
	if err := middleware.ValidateUserID(d.ReceiverID); err != nil {
		return d, &ValidationError{Field: "receiver_id", Reason: err.Error()}
	}

	d.Content = strings.TrimSpace(middleware.SanitizeInput(d.Content))
	d.AttachmentRef = strings.TrimSpace(d.AttachmentRef)
	if d.Content == "" && d.AttachmentRef == "" {
		return d, &ValidationError{Field: "content", Reason: "message must have content or an attachment"}
	}
	if err := middleware.ValidateMessageContent(d.Content); err != nil {
		return d, &ValidationError{Field: "content", Reason: err.Error()}
	}

	return d, nil
}

// validateActor 驗證操作者 ID.
func validateActor(field, userID string) error {
	if err := middleware.ValidateUserID(userID); err != nil {
		return &ValidationError{Field: field, Reason: err.Error()}
	}
	return nil
}
