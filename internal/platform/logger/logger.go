package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"chat-relay/internal/platform/config"

	"github.com/google/uuid"
	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
)

// Severity GCP Cloud Logging 嚴重級別
type Severity string

const (
	SeverityDebug    Severity = "DEBUG"
	SeverityInfo     Severity = "INFO"
	SeverityNotice   Severity = "NOTICE"
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// LogEntry GCP Cloud Logging 格式的日誌條目
type LogEntry struct {
	Severity       Severity          `json:"severity"`
	Message        string            `json:"message"`
	Timestamp      string            `json:"timestamp"`       // RFC3339 格式
	TraceID        string            `json:"trace,omitempty"` // projects/[PROJECT_ID]/traces/[TRACE_ID]
	SourceLocation *SourceLocation   `json:"sourceLocation,omitempty"`
	Labels         map[string]string `json:"labels,omitempty"`
	InsertID       string            `json:"insertId,omitempty"` // 用於去重
	// 自定義欄位
	UserID       string                 `json:"userId,omitempty"`
	PeerID       string                 `json:"peerId,omitempty"`
	MessageID    string                 `json:"messageId,omitempty"`
	ConnectionID string                 `json:"connectionId,omitempty"`
	Event        string                 `json:"event,omitempty"`
	Action       string                 `json:"action,omitempty"`
	Error        string                 `json:"error,omitempty"`
	Details      map[string]interface{} `json:"details,omitempty"`
}

// SourceLocation 源代碼位置
type SourceLocation struct {
	File     string `json:"file,omitempty"`
	Line     int64  `json:"line,omitempty"`
	Function string `json:"function,omitempty"`
}

type traceKey struct{}

var (
	mu          sync.Mutex
	logWriter   io.Writer
	projectID   = "local-dev"
	serviceName = "chat-relay"
)

// InitLogger 初始化 GCP 格式日誌系統
func InitLogger() error {
	logDir := os.Getenv("LOG_PATH")
	if logDir == "" {
		logDir = "./logs"
	}
	if v := os.Getenv("GCP_PROJECT_ID"); v != "" {
		projectID = v
	}
	if v := os.Getenv("SERVICE_NAME"); v != "" {
		serviceName = v
	}

	if err := os.MkdirAll(logDir, 0o750); err != nil {
		return err
	}

	// 配置可能尚未載入，使用預設輪轉設定
	rotationTime, maxAge, maxSize := 24, 30, 100
	if cfg := config.Get(); cfg != nil {
		if cfg.Log.RotationTimeHours > 0 {
			rotationTime = cfg.Log.RotationTimeHours
		}
		if cfg.Log.MaxAgeDays > 0 {
			maxAge = cfg.Log.MaxAgeDays
		}
		if cfg.Log.MaxSizeMB > 0 {
			maxSize = cfg.Log.MaxSizeMB
		}
	}

	logFileName := filepath.Join(logDir, "app.log")
	writer, err := rotatelogs.New(
		logFileName+".%Y%m%d",
		rotatelogs.WithLinkName(logFileName),
		rotatelogs.WithRotationTime(time.Duration(rotationTime)*time.Hour),
		rotatelogs.WithMaxAge(time.Duration(maxAge)*24*time.Hour),
		rotatelogs.WithRotationSize(int64(maxSize)*1024*1024),
	)
	if err != nil {
		return err
	}

	mu.Lock()
	logWriter = writer
	mu.Unlock()
	return nil
}

// CloseLogger 關閉日誌檔案
func CloseLogger() {
	mu.Lock()
	defer mu.Unlock()
	if closer, ok := logWriter.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to close logger: %v\n", err)
		}
	}
	logWriter = nil
}

func writeLog(entry *LogEntry) {
	jsonData, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to marshal log entry: %v\n", err)
		return
	}
	line := append(jsonData, '\n')

	mu.Lock()
	defer mu.Unlock()
	if logWriter != nil {
		_, _ = logWriter.Write(line)
	}
	_, _ = os.Stdout.Write(line)
}

func getSourceLocation(skip int) *SourceLocation {
	pc, file, line, ok := runtime.Caller(skip)
	if !ok {
		return nil
	}
	funcName := "unknown"
	if fn := runtime.FuncForPC(pc); fn != nil {
		funcName = fn.Name()
	}
	return &SourceLocation{
		File:     filepath.Base(file),
		Line:     int64(line),
		Function: funcName,
	}
}

// NewTraceID 生成新的 trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID 將 trace ID 添加到 context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

// GetTraceID 從 context 獲取 GCP 格式的 trace ID
func GetTraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	traceID, ok := ctx.Value(traceKey{}).(string)
	if !ok || traceID == "" {
		return ""
	}
	return fmt.Sprintf("projects/%s/traces/%s", projectID, traceID)
}

// LogOption 日誌選項
type LogOption func(*LogEntry)

// WithUserID 添加用戶 ID
func WithUserID(userID string) LogOption {
	return func(e *LogEntry) { e.UserID = userID }
}

// WithPeerID 添加對話對方的用戶 ID
func WithPeerID(peerID string) LogOption {
	return func(e *LogEntry) { e.PeerID = peerID }
}

// WithMessageID 添加消息 ID
func WithMessageID(messageID string) LogOption {
	return func(e *LogEntry) { e.MessageID = messageID }
}

// WithConnectionID 添加連接 ID
func WithConnectionID(connID string) LogOption {
	return func(e *LogEntry) { e.ConnectionID = connID }
}

// WithEvent 添加推送事件名稱
func WithEvent(name string) LogOption {
	return func(e *LogEntry) { e.Event = name }
}

// WithAction 添加操作
func WithAction(action string) LogOption {
	return func(e *LogEntry) { e.Action = action }
}

// WithError 添加錯誤
func WithError(err error) LogOption {
	return func(e *LogEntry) {
		if err != nil {
			e.Error = err.Error()
		}
	}
}

// WithDetails 添加詳細信息
func WithDetails(details map[string]interface{}) LogOption {
	return func(e *LogEntry) { e.Details = details }
}

// WithLabels 添加標籤
func WithLabels(labels map[string]string) LogOption {
	return func(e *LogEntry) {
		if e.Labels == nil {
			e.Labels = make(map[string]string)
		}
		for k, v := range labels {
			e.Labels[k] = v
		}
	}
}

// Log 通用日誌方法
func Log(ctx context.Context, severity Severity, message string, opts ...LogOption) {
	logAt(ctx, 3, severity, message, opts...)
}

func logAt(ctx context.Context, skip int, severity Severity, message string, opts ...LogOption) {
	entry := &LogEntry{
		Severity:       severity,
		Message:        message,
		Timestamp:      time.Now().UTC().Format(time.RFC3339Nano),
		TraceID:        GetTraceID(ctx),
		SourceLocation: getSourceLocation(skip),
		InsertID:       uuid.New().String(),
		Labels:         map[string]string{"service": serviceName},
	}
	for _, opt := range opts {
		opt(entry)
	}
	writeLog(entry)
}

// Debug 記錄 DEBUG 級別日誌
func Debug(ctx context.Context, message string, opts ...LogOption) {
	logAt(ctx, 3, SeverityDebug, message, opts...)
}

// Info 記錄 INFO 級別日誌
func Info(ctx context.Context, message string, opts ...LogOption) {
	logAt(ctx, 3, SeverityInfo, message, opts...)
}

// Notice 記錄 NOTICE 級別日誌
func Notice(ctx context.Context, message string, opts ...LogOption) {
	logAt(ctx, 3, SeverityNotice, message, opts...)
}

// Warning 記錄 WARNING 級別日誌
func Warning(ctx context.Context, message string, opts ...LogOption) {
	logAt(ctx, 3, SeverityWarning, message, opts...)
}

// Error 記錄 ERROR 級別日誌
func Error(ctx context.Context, message string, opts ...LogOption) {
	logAt(ctx, 3, SeverityError, message, opts...)
}

// Critical 記錄 CRITICAL 級別日誌
func Critical(ctx context.Context, message string, opts ...LogOption) {
	logAt(ctx, 3, SeverityCritical, message, opts...)
}

// Infof 格式化 INFO 日誌
func Infof(ctx context.Context, format string, args ...interface{}) {
	logAt(ctx, 3, SeverityInfo, fmt.Sprintf(format, args...))
}

// Warningf 格式化 WARNING 日誌
func Warningf(ctx context.Context, format string, args ...interface{}) {
	logAt(ctx, 3, SeverityWarning, fmt.Sprintf(format, args...))
}

// Errorf 格式化 ERROR 日誌
func Errorf(ctx context.Context, format string, args ...interface{}) {
	logAt(ctx, 3, SeverityError, fmt.Sprintf(format, args...))
}
