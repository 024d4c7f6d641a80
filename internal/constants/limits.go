package constants

// HTTP 請求相關常數
const (
	// 默認值（可被配置覆蓋）
	DefaultMaxRequestBodySize = 10 << 20 // 10MB
	DefaultRequestTimeout     = 30       // 秒
)

// 對話查詢相關常數
const (
	DefaultMaxPageSize = 1000 // 分頁查詢單頁上限
)

// 訊息相關常數
const (
	DefaultMaxMessageLength = 10000
	DefaultOutboxBuffer     = 32
)

// 附件相關常數
const (
	DefaultMaxAttachmentMB  = 5
	DefaultPresignTTLMinute = 60 * 24 * 7
)

// Rate Limiting 默認值
const (
	DefaultRateLimitPerMinute   = 100
	DefaultMessageRateLimit     = 30
	DefaultConnectRateLimit     = 10
	RateLimitCleanupIntervalMin = 10 // 分鐘
)

// WebSocket 連接相關常數
const (
	DefaultWSMaxConnectionsPerIP = 10
	DefaultWSMaxTotalConnections = 10000
	DefaultWSPingInterval        = 25 // 秒
	DefaultWSPongWait            = 60 // 秒
	DefaultWSWriteWait           = 10 // 秒
	DefaultWSMaxFrameBytes       = 64 << 10
	DefaultWSInboundFramesPerSec = 5
	DefaultWSInboundFrameBurst   = 20
	WSConnectionCleanupMin       = 10 // 分鐘
)

// 在線狀態鏡像相關常數
const (
	DefaultPresenceTTLSeconds = 120
	DefaultPresenceKeyPrefix  = "presence:"
)

// 用戶 ID 相關常數
const (
	MaxUserIDLength = 100
)

// 加密相關常數
const (
	MasterKeyLength = 32 // 256 bits
)
