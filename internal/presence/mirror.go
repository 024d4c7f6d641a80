package presence

import "context"

// Mirror 把在線狀態轉換同步到外部（例如 Redis），供其他實例查詢最後在線時間
type Mirror interface {
	MarkOnline(ctx context.Context, userID string) error
	MarkOffline(ctx context.Context, userID string) error
}

// NopMirror 不做任何同步
type NopMirror struct{}

// MarkOnline 實作 Mirror
func (NopMirror) MarkOnline(context.Context, string) error { return nil }

// MarkOffline 實作 Mirror
func (NopMirror) MarkOffline(context.Context, string) error { return nil }
