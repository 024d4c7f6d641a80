package server_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chat-relay/internal/auth"
	"chat-relay/internal/delivery"
	"chat-relay/internal/event"
	"chat-relay/internal/gateway"
	"chat-relay/internal/message"
	"chat-relay/internal/platform/config"
	"chat-relay/internal/platform/health"
	"chat-relay/internal/platform/middleware"
	"chat-relay/internal/platform/server"
	"chat-relay/internal/presence"
	"chat-relay/internal/security/audit"
	"chat-relay/internal/storage/memory"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type testEnv struct {
	srv      *httptest.Server
	registry *presence.Registry
}

func newTestEnv(t *testing.T, cfgs ...*config.Config) *testEnv {
	t.Helper()
	cfg := &config.Config{}
	if len(cfgs) > 0 {
		cfg = cfgs[0]
	}
	gin.SetMode(gin.TestMode)

	verifier := auth.NewVerifier("", "", false)
	auditSvc := audit.NewAuditService(false)
	registry := presence.NewRegistry()
	gw := gateway.New(registry, verifier, gateway.WithAudit(auditSvc))
	svc := message.NewService(memory.NewStore(), delivery.NewDispatcher(registry), message.WithAudit(auditSvc))

	stop := make(chan struct{})
	router := server.Router(server.Deps{
		Config:   cfg,
		Gateway:  gw,
		Messages: svc,
		Auth:     verifier,
		Audit:    auditSvc,
		Health:   health.NewHealthHandler("chat-relay", registry),
	}, stop)

	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.Close()
		close(stop)
	})
	return &testEnv{srv: srv, registry: registry}
}

func (e *testEnv) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + server.SocketPath + "?userId=" + userID
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("websocket 連接失敗: %v (%v)", err, resp)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

type frame struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

// next 讀取下一個指定名稱的事件，略過其他事件
func next(t *testing.T, ws *websocket.Conn, name string) frame {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		_ = ws.SetReadDeadline(deadline)
		var f frame
		if err := ws.ReadJSON(&f); err != nil {
			t.Fatalf("等待 %s 失敗: %v", name, err)
		}
		if f.Name == name {
			return f
		}
	}
}

// waitOnline 讀到指定在線名單為止
func waitOnline(t *testing.T, ws *websocket.Conn, want ...string) {
	t.Helper()
	for {
		f := next(t, ws, event.GetOnlineUsers)
		var users []string
		_ = json.Unmarshal(f.Data, &users)
		if strings.Join(users, ",") == strings.Join(want, ",") {
			return
		}
	}
}

func (e *testEnv) do(t *testing.T, method, path, userID string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, e.srv.URL+path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(middleware.DevUserIDHeader, userID)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("請求失敗: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestSocketRejectsMissingIdentity(t *testing.T) {
	env := newTestEnv(t)
	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + server.SocketPath
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("缺少身份應拒絕連接")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("期望 401，實際為 %v", resp)
	}
	if len(env.registry.OnlineUsers()) != 0 {
		t.Error("被拒絕的連接不應上線")
	}
}

func TestSocketPresenceAndDelivery(t *testing.T) {
	env := newTestEnv(t)

	alice := env.dial(t, "alice")
	waitOnline(t, alice, "alice")

	bob := env.dial(t, "bob")
	waitOnline(t, alice, "alice", "bob")
	waitOnline(t, bob, "alice", "bob")

	resp := env.do(t, http.MethodGet, "/api/v1/users/online", "alice", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("在線名單查詢失敗: %d", resp.StatusCode)
	}

	resp = env.do(t, http.MethodPost, "/api/v1/messages/send/bob", "alice", map[string]string{"text": "hi"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("發送失敗: %d", resp.StatusCode)
	}
	var created struct {
		Data message.Message `json:"data"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&created)

	f := next(t, bob, event.NewMessage)
	var got message.Message
	if err := json.Unmarshal(f.Data, &got); err != nil || got.ID != created.Data.ID || got.Content != "hi" {
		t.Fatalf("bob 收到的訊息錯誤: %s", f.Data)
	}

	resp = env.do(t, http.MethodPut, "/api/v1/messages/"+got.ID+"/seen", "bob", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("標記已讀失敗: %d", resp.StatusCode)
	}
	next(t, alice, event.MessageSeen)

	resp = env.do(t, http.MethodDelete, "/api/v1/messages/"+got.ID+"/everyone", "alice", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("刪除失敗: %d", resp.StatusCode)
	}
	for _, ws := range []*websocket.Conn{alice, bob} {
		f := next(t, ws, event.MessageDeleted)
		var p event.DeletedPayload
		if err := json.Unmarshal(f.Data, &p); err != nil || p.MessageID != got.ID {
			t.Errorf("messageDeleted 內容錯誤: %s", f.Data)
		}
	}
}

func TestSocketLogoutAndDisconnect(t *testing.T) {
	env := newTestEnv(t)

	alice := env.dial(t, "alice")
	bob := env.dial(t, "bob")
	waitOnline(t, alice, "alice", "bob")

	if err := bob.WriteJSON(map[string]string{"event": event.Logout}); err != nil {
		t.Fatal(err)
	}
	waitOnline(t, alice, "alice")
	if env.registry.IsOnline("bob") {
		t.Error("登出後 bob 不應在線")
	}

	carol := env.dial(t, "carol")
	waitOnline(t, alice, "alice", "carol")

	_ = carol.Close()
	waitOnline(t, alice, "alice")
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/health", "/metrics"} {
		resp := env.do(t, http.MethodGet, path, "", nil)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s 應回傳 200，實際為 %d", path, resp.StatusCode)
		}
	}
}

func TestAPIRequiresIdentity(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodGet, "/api/v1/messages/bob", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("未認證應回傳 401，實際為 %d", resp.StatusCode)
	}
}

func TestSocketClosesOnInboundFlood(t *testing.T) {
	cfg := &config.Config{}
	cfg.Limits.WebSocket.InboundFramesPerSec = 1
	cfg.Limits.WebSocket.InboundFrameBurst = 2
	env := newTestEnv(t, cfg)

	alice := env.dial(t, "alice")
	waitOnline(t, alice, "alice")

	for i := 0; i < 5; i++ {
		if err := alice.WriteJSON(map[string]string{"event": "typing"}); err != nil {
			break
		}
	}

	_ = alice.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := alice.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
				t.Fatalf("期望 1008 關閉，實際為 %v", err)
			}
			break
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for env.registry.IsOnline("alice") {
		if time.Now().After(deadline) {
			t.Fatal("被關閉的連接應下線")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
