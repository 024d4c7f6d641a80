package message

import "fmt"

// ValidationError 輸入不合法.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// NotFoundError 訊息不存在.
type NotFoundError struct {
	MessageID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("message %s not found", e.MessageID)
}

// ForbiddenError 操作者無權執行此操作.
type ForbiddenError struct {
	MessageID string
	UserID    string
	Action    string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("user %s is not allowed to %s message %s", e.UserID, e.Action, e.MessageID)
}
