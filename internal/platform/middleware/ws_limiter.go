package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// WSConnectionLimiter 長連接數量限制器（每 IP 與全局）
type WSConnectionLimiter struct {
	mu            sync.Mutex
	connections   map[string]int       // IP -> 連接數
	lastConnect   map[string]time.Time // IP -> 最後連接時間
	maxPerIP      int
	maxTotalConns int
	totalConns    int
	stop          chan struct{}
	stopOnce      sync.Once
}

// NewWSConnectionLimiter 創建長連接限制器
func NewWSConnectionLimiter(maxPerIP, maxTotal int, cleanupInterval time.Duration) *WSConnectionLimiter {
	l := &WSConnectionLimiter{
		connections:   make(map[string]int),
		lastConnect:   make(map[string]time.Time),
		maxPerIP:      maxPerIP,
		maxTotalConns: maxTotal,
		stop:          make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go l.cleanup(cleanupInterval)
	}
	return l
}

// Middleware 長連接限制中間件，handler 返回（連接結束）後釋放名額
func (l *WSConnectionLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := c.ClientIP()

		release, ok := l.Acquire(clientIP)
		if !ok {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":      "連接數已達上限，請稍後再試",
				"success":    false,
				"request_id": GetRequestID(c),
			})
			c.Abort()
			return
		}
		defer release()

		c.Next()
	}
}

// Acquire 佔用一個連接名額，返回的 release 可重複呼叫
func (l *WSConnectionLimiter) Acquire(ip string) (release func(), ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.maxTotalConns > 0 && l.totalConns >= l.maxTotalConns {
		return func() {}, false
	}
	if l.maxPerIP > 0 && l.connections[ip] >= l.maxPerIP {
		return func() {}, false
	}

	l.connections[ip]++
	l.totalConns++
	l.lastConnect[ip] = time.Now()

	var once sync.Once
	return func() { once.Do(func() { l.remove(ip) }) }, true
}

func (l *WSConnectionLimiter) remove(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if count, exists := l.connections[ip]; exists {
		if count <= 1 {
			delete(l.connections, ip)
		} else {
			l.connections[ip]--
		}
		l.totalConns--
	}
}

// cleanup 定期清理過期數據
func (l *WSConnectionLimiter) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
		}
		l.mu.Lock()
		now := time.Now()
		for ip, lastTime := range l.lastConnect {
			if now.Sub(lastTime) > 10*time.Minute && l.connections[ip] == 0 {
				delete(l.lastConnect, ip)
			}
		}
		l.mu.Unlock()
	}
}

// Stop 停止清理 goroutine
func (l *WSConnectionLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// Stats 獲取統計信息
func (l *WSConnectionLimiter) Stats() map[string]interface{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	return map[string]interface{}{
		"total_connections": l.totalConns,
		"unique_ips":        len(l.connections),
		"max_total":         l.maxTotalConns,
		"max_per_ip":        l.maxPerIP,
	}
}
