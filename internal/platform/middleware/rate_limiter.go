package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// RateLimiter 固定窗口速率限制器
type RateLimiter struct {
	visitors map[string]*Visitor
	mu       sync.Mutex
	rate     int           // 每個時間窗口允許的請求數
	window   time.Duration // 時間窗口
	now      func() time.Time
}

// Visitor 訪問者信息
type Visitor struct {
	lastSeen  time.Time
	requests  int
	resetTime time.Time
}

// NewRateLimiter 創建新的速率限制器
// rate: 每個時間窗口允許的請求數
// window: 時間窗口（例如：time.Minute）
func NewRateLimiter(rate int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		visitors: make(map[string]*Visitor),
		rate:     rate,
		window:   window,
		now:      time.Now,
	}
}

// Allow 檢查是否允許請求
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	visitor, exists := rl.visitors[key]

	if !exists || now.After(visitor.resetTime) {
		rl.visitors[key] = &Visitor{
			lastSeen:  now,
			requests:  1,
			resetTime: now.Add(rl.window),
		}
		return true
	}

	visitor.lastSeen = now
	if visitor.requests >= rl.rate {
		return false
	}
	visitor.requests++
	return true
}

// sweep 清理超過 idle 沒有活動的訪問者
func (rl *RateLimiter) sweep(idle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, visitor := range rl.visitors {
		if now.Sub(visitor.lastSeen) > idle {
			delete(rl.visitors, key)
		}
	}
}

// PerEndpointRateLimiter 為不同路由設置不同的速率限制
//
// 以路由模板（c.FullPath()）區分端點，路徑參數不影響分組；
// 已驗證的請求以用戶 ID 計數，否則以 IP 計數。
type PerEndpointRateLimiter struct {
	mu       sync.RWMutex
	limiters map[string]*RateLimiter
	fallback *RateLimiter
	onReject func(c *gin.Context)
}

// NewPerEndpointRateLimiter 創建端點級速率限制器
func NewPerEndpointRateLimiter(defaultRate int, defaultWindow time.Duration) *PerEndpointRateLimiter {
	return &PerEndpointRateLimiter{
		limiters: make(map[string]*RateLimiter),
		fallback: NewRateLimiter(defaultRate, defaultWindow),
	}
}

// SetLimit 為特定路由設置限制，key 形如 "POST /api/v1/messages/send/:user_id"
func (p *PerEndpointRateLimiter) SetLimit(method, route string, rate int, window time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.limiters[method+" "+route] = NewRateLimiter(rate, window)
}

// OnReject 設定拒絕時的回呼（例如寫入審計）
func (p *PerEndpointRateLimiter) OnReject(fn func(c *gin.Context)) {
	p.onReject = fn
}

// Middleware 返回 Gin 中間件
func (p *PerEndpointRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		p.mu.RLock()
		limiter, exists := p.limiters[c.Request.Method+" "+c.FullPath()]
		p.mu.RUnlock()
		if !exists {
			limiter = p.fallback
		}

		key := GetUserID(c)
		if key == "" {
			key = c.ClientIP()
		}

		if !limiter.Allow(key) {
			if p.onReject != nil {
				p.onReject(c)
			}
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":      "請求過於頻繁，請稍後再試",
				"success":    false,
				"request_id": GetRequestID(c),
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// StartCleanup 定期清理過期的訪問者記錄，stop 關閉後結束
func (p *PerEndpointRateLimiter) StartCleanup(interval, idle time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
			}
			p.mu.RLock()
			for _, l := range p.limiters {
				l.sweep(idle)
			}
			p.mu.RUnlock()
			p.fallback.sweep(idle)
		}
	}()
}
