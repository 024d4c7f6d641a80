package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chat-relay/internal/platform/logger"

	"github.com/gin-gonic/gin"
)

type fakeParser struct {
	enabled bool
	tokens  map[string]string
}

func (p fakeParser) Enabled() bool { return p.enabled }
func (p fakeParser) ParseToken(tok string) (string, error) {
	if id, ok := p.tokens[tok]; ok {
		return id, nil
	}
	return "", errors.New("invalid")
}

func newAuthRouter(p TokenParser) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestIDMiddleware(), RequestMetadataMiddleware(), NewJWTMiddleware(p).GinMiddleware())
	r.GET("/me", func(c *gin.Context) {
		uid, _ := UserIDFromContext(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"user_id": GetUserID(c), "ctx": uid})
	})
	return r
}

func TestJWTMiddleware(t *testing.T) {
	jwtRouter := newAuthRouter(fakeParser{enabled: true, tokens: map[string]string{"good": "alice"}})
	devRouter := newAuthRouter(fakeParser{enabled: false})

	tests := []struct {
		name   string
		router *gin.Engine
		setup  func(r *http.Request)
		want   int
	}{
		{"Bearer token", jwtRouter, func(r *http.Request) { r.Header.Set("Authorization", "Bearer good") }, http.StatusOK},
		{"Cookie token", jwtRouter, func(r *http.Request) { r.AddCookie(&http.Cookie{Name: TokenCookie, Value: "good"}) }, http.StatusOK},
		{"無效 token", jwtRouter, func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, http.StatusUnauthorized},
		{"缺少 token", jwtRouter, func(*http.Request) {}, http.StatusUnauthorized},
		{"開發模式 header", devRouter, func(r *http.Request) { r.Header.Set(DevUserIDHeader, "alice") }, http.StatusOK},
		{"開發模式缺少 header", devRouter, func(*http.Request) {}, http.StatusUnauthorized},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			tc.setup(req)
			w := httptest.NewRecorder()
			tc.router.ServeHTTP(w, req)
			if w.Code != tc.want {
				t.Fatalf("期望狀態碼 %d，實際為 %d: %s", tc.want, w.Code, w.Body.String())
			}
			if tc.want == http.StatusOK && w.Body.String() != `{"ctx":"alice","user_id":"alice"}` {
				t.Errorf("用戶 ID 未正確寫入 context: %s", w.Body.String())
			}
		})
	}
}

func TestRateLimiterWindow(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	if !rl.Allow("ip") || !rl.Allow("ip") {
		t.Fatal("窗口內前兩次請求應允許")
	}
	if rl.Allow("ip") {
		t.Error("超過限制應拒絕")
	}
	if !rl.Allow("other") {
		t.Error("不同 key 應獨立計數")
	}

	now = now.Add(time.Minute + time.Second)
	if !rl.Allow("ip") {
		t.Error("窗口過期後應重置")
	}

	now = now.Add(time.Hour)
	rl.sweep(10 * time.Minute)
	if len(rl.visitors) != 0 {
		t.Errorf("閒置記錄應被清理，剩餘 %d", len(rl.visitors))
	}
}

func TestPerEndpointRateLimiterUsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	p := NewPerEndpointRateLimiter(100, time.Minute)
	p.SetLimit(http.MethodPost, "/send/:user_id", 1, time.Minute)
	rejected := 0
	p.OnReject(func(*gin.Context) { rejected++ })

	r := gin.New()
	r.Use(p.Middleware())
	r.POST("/send/:user_id", func(c *gin.Context) { c.Status(http.StatusCreated) })

	codes := []int{}
	for _, path := range []string{"/send/bob", "/send/carol"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, nil))
		codes = append(codes, w.Code)
	}
	if codes[0] != http.StatusCreated || codes[1] != http.StatusTooManyRequests {
		t.Errorf("不同路徑參數應共用同一端點限制，實際為 %v", codes)
	}
	if rejected != 1 {
		t.Errorf("期望拒絕回呼 1 次，實際為 %d", rejected)
	}
}

func TestWSConnectionLimiter(t *testing.T) {
	l := NewWSConnectionLimiter(2, 3, 0)
	defer l.Stop()

	r1, ok1 := l.Acquire("a")
	_, ok2 := l.Acquire("a")
	_, ok3 := l.Acquire("a")
	if !ok1 || !ok2 || ok3 {
		t.Fatalf("單一 IP 應限制為 2 條，實際為 %v %v %v", ok1, ok2, ok3)
	}
	_, okB := l.Acquire("b")
	_, okC := l.Acquire("c")
	if !okB || okC {
		t.Fatalf("全局應限制為 3 條，實際為 %v %v", okB, okC)
	}

	r1()
	r1()
	if _, ok := l.Acquire("c"); !ok {
		t.Error("釋放後應可再次連接")
	}
	if got := l.Stats()["total_connections"]; got != 3 {
		t.Errorf("期望 3 條連接，實際為 %v", got)
	}
}

func TestCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS([]string{"http://localhost:5173"}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Header().Get("Access-Control-Allow-Origin") != "http://localhost:5173" {
		t.Error("允許的來源應回傳 CORS header")
	}

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("未允許的來源不應回傳 CORS header")
	}
}

func TestValidationHelpers(t *testing.T) {
	if SanitizeInput("a\x00b\x07c\nd\te") != "abc\nd\te" {
		t.Error("應移除控制字符並保留換行與 Tab")
	}

	tests := []struct {
		id   string
		want error
	}{
		{"bob", nil},
		{"user-42@example.com", nil},
		{"", errEmptyUserID},
		{"a$b", errUserIDChars},
		{"a b", errUserIDChars},
		{"a\x00", errUserIDChars},
		{strings.Repeat("x", 200), errUserIDTooLong},
	}
	for _, tc := range tests {
		if err := ValidateUserID(tc.id); !errors.Is(err, tc.want) {
			t.Errorf("ValidateUserID(%q) = %v，期望 %v", tc.id, err, tc.want)
		}
	}

	if ValidateMessageContent("hi") != nil || ValidateMessageContent("\xff") == nil {
		t.Error("訊息內容驗證錯誤")
	}
}

func TestUserIDParam(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/messages/:user_id", UserIDParam("user_id"), func(c *gin.Context) { c.Status(http.StatusOK) })

	for path, want := range map[string]int{
		"/messages/bob":     http.StatusOK,
		"/messages/a%24b":   http.StatusBadRequest,
		"/messages/a%20b":   http.StatusBadRequest,
		"/messages/%7Bx%7D": http.StatusBadRequest,
	} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != want {
			t.Errorf("%s 期望 %d，實際為 %d", path, want, w.Code)
		}
	}
}

func TestRequestSizeLimiter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/x", RequestSizeLimiter(8), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/x", strings.NewReader("0123456789")))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("超過上限應回傳 413，實際為 %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/x", strings.NewReader("0123")))
	if w.Code != http.StatusOK {
		t.Errorf("未超過上限應通過，實際為 %d", w.Code)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestIDMiddleware(), RequestMetadataMiddleware())
	r.GET("/x", func(c *gin.Context) {
		meta := GetRequestMetadata(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{
			"meta":  meta.RequestID,
			"trace": logger.GetTraceID(c.Request.Context()),
		})
	})

	tests := []struct {
		name   string
		header string
		keep   bool
	}{
		{"沿用合法 ID", "req-123_abc.1", true},
		{"缺少 ID", "", false},
		{"含非法字符", "bad id\n", false},
		{"過長", strings.Repeat("a", maxRequestIDLength+1), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			if tc.header != "" {
				req.Header.Set(RequestIDHeader, tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			got := w.Header().Get(RequestIDHeader)
			if got == "" {
				t.Fatal("回應應帶 Request ID")
			}
			if (got == tc.header) != tc.keep {
				t.Errorf("Request ID 處理錯誤: header=%q got=%q", tc.header, got)
			}
			var body struct {
				Meta  string `json:"meta"`
				Trace string `json:"trace"`
			}
			_ = json.Unmarshal(w.Body.Bytes(), &body)
			if body.Meta != got || !strings.HasSuffix(body.Trace, "/"+got) {
				t.Errorf("元數據與 trace 應使用同一 ID: %+v", body)
			}
		})
	}
}
