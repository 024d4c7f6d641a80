package health

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	"chat-relay/internal/platform/logger"

	"github.com/gin-gonic/gin"
)

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
	statusWarning   = "warning"
	statusDegraded  = "degraded"

	memoryMB        = 1024 * 1024
	memoryThreshold = 1024 // 1GB

	checkTimeout = 5 * time.Second
)

// Check 單一依賴的健康檢查.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

// PresenceStats 在線統計來源.
type PresenceStats interface {
	OnlineUsers() []string
	ConnectionCount() int
}

// Handler 健康檢查處理器.
type Handler struct {
	appName  string
	presence PresenceStats
	checks   []Check
}

// NewHealthHandler 創建新的健康檢查處理器.
func NewHealthHandler(appName string, presence PresenceStats, checks ...Check) *Handler {
	return &Handler{appName: appName, presence: presence, checks: checks}
}

// HealthCheck 健康檢查端點.
//
// 依賴不健康時仍回 200，整體狀態標為 degraded。
func (h *Handler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), checkTimeout)
	defer cancel()

	overall := statusHealthy
	deps := gin.H{}
	for _, check := range h.checks {
		if err := check.Ping(ctx); err != nil {
			overall = statusDegraded
			deps[check.Name] = gin.H{"status": statusUnhealthy, "error": err.Error()}
			logger.Errorf(ctx, "健康檢查 - %s 失敗: %v", check.Name, err)
			continue
		}
		deps[check.Name] = gin.H{"status": statusHealthy}
	}

	appVersion := os.Getenv("APP_VERSION")
	if appVersion == "" {
		appVersion = "NO_VERSION_SET"
	}

	response := gin.H{
		"status":    overall,
		"timestamp": time.Now().Unix(),
		"app": gin.H{
			"name":    h.appName,
			"version": appVersion,
		},
		"dependencies": deps,
		"system":       h.checkSystemResources(),
	}
	if h.presence != nil {
		response["presence"] = gin.H{
			"online_users":     len(h.presence.OnlineUsers()),
			"live_connections": h.presence.ConnectionCount(),
		}
	}

	c.JSON(http.StatusOK, response)
}

// SystemStatus 系統狀態.
type SystemStatus struct {
	Status  string                 `json:"status"`
	Details map[string]interface{} `json:"details"`
	Uptime  string                 `json:"uptime"`
}

func (h *Handler) checkSystemResources() SystemStatus {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	details := map[string]interface{}{
		"goroutines": runtime.NumGoroutine(),
		"memory": gin.H{
			"alloc":  fmt.Sprintf("%.2f MB", float64(m.Alloc)/memoryMB),
			"sys":    fmt.Sprintf("%.2f MB", float64(m.Sys)/memoryMB),
			"num_gc": m.NumGC,
		},
		"num_cpu": runtime.NumCPU(),
	}

	status := statusHealthy
	if m.Sys/memoryMB > memoryThreshold {
		status = statusWarning
		details["memory_warning"] = "Memory usage is high"
	}

	return SystemStatus{Status: status, Details: details, Uptime: time.Since(startTime).String()}
}

var startTime = time.Now()
