package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"chat-relay/internal/event"
	"chat-relay/internal/presence"
)

// trustVerifier 直接信任宣稱的用戶 ID，token 為 "bad" 時拒絕
type trustVerifier struct{}

func (trustVerifier) VerifyIdentity(_ context.Context, claimed, token string) (string, error) {
	if token == "bad" || claimed == "" {
		return "", errors.New("invalid token")
	}
	return claimed, nil
}

type recordingMirror struct {
	mu     sync.Mutex
	events []string
}

func (m *recordingMirror) MarkOnline(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, "online:"+userID)
	return nil
}

func (m *recordingMirror) MarkOffline(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, "offline:"+userID)
	return nil
}

func drain(c *Connection) []event.Event {
	var out []event.Event
	for {
		select {
		case ev, ok := <-c.Outbox():
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func lastOnlineList(t *testing.T, evs []event.Event) []string {
	t.Helper()
	for i := len(evs) - 1; i >= 0; i-- {
		if evs[i].Name == event.GetOnlineUsers {
			return evs[i].Data.([]string)
		}
	}
	t.Fatal("未收到 getOnlineUsers")
	return nil
}

func connect(t *testing.T, g *Gateway, userID string) *Connection {
	t.Helper()
	c, err := g.Open(context.Background(), Claim{UserID: userID, Token: "ok"})
	if err != nil {
		t.Fatalf("開啟連接失敗: %v", err)
	}
	if err := g.Activate(context.Background(), c); err != nil {
		t.Fatalf("啟用連接失敗: %v", err)
	}
	return c
}

func TestOpenRejectsMissingOrInvalidIdentity(t *testing.T) {
	g := New(presence.NewRegistry(), trustVerifier{})

	tests := []struct {
		name  string
		claim Claim
	}{
		{"缺少身份", Claim{}},
		{"無效 token", Claim{UserID: "alice", Token: "bad"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c, err := g.Open(context.Background(), tc.claim)
			if !errors.Is(err, ErrUnauthenticated) {
				t.Fatalf("期望 ErrUnauthenticated，實際為 %v", err)
			}
			if c != nil {
				t.Error("被拒絕的連接不應返回")
			}
		})
	}
	if n := len(g.Registry().OnlineUsers()); n != 0 {
		t.Errorf("被拒絕的連接不應上線，實際在線 %d 人", n)
	}
}

func TestActivateBroadcastsOnlineUsers(t *testing.T) {
	mirror := &recordingMirror{}
	g := New(presence.NewRegistry(), trustVerifier{}, WithMirror(mirror))

	alice := connect(t, g, "alice")
	if alice.State() != StateLive {
		t.Fatalf("期望狀態 live，實際為 %s", alice.State())
	}
	bob := connect(t, g, "bob")

	if got := lastOnlineList(t, drain(alice)); fmt.Sprint(got) != "[alice bob]" {
		t.Errorf("alice 收到的在線名單錯誤: %v", got)
	}
	if got := lastOnlineList(t, drain(bob)); fmt.Sprint(got) != "[alice bob]" {
		t.Errorf("bob 收到的在線名單錯誤: %v", got)
	}
	if fmt.Sprint(mirror.events) != "[online:alice online:bob]" {
		t.Errorf("鏡像事件錯誤: %v", mirror.events)
	}

	if err := g.Activate(context.Background(), alice); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("重複啟用應失敗，實際為 %v", err)
	}
}

func TestCloseBroadcastsOnlyWhenUserGoesOffline(t *testing.T) {
	g := New(presence.NewRegistry(), trustVerifier{})
	ctx := context.Background()

	watcher := connect(t, g, "carol")
	phone := connect(t, g, "alice")
	laptop := connect(t, g, "alice")
	drain(watcher)

	g.Close(ctx, phone)
	if evs := drain(watcher); len(evs) != 0 {
		t.Errorf("alice 仍有裝置在線，不應廣播，實際收到 %d 則", len(evs))
	}
	if !g.Registry().IsOnline("alice") {
		t.Fatal("alice 應仍在線")
	}

	g.Close(ctx, laptop)
	if got := lastOnlineList(t, drain(watcher)); fmt.Sprint(got) != "[carol]" {
		t.Errorf("alice 離線後名單錯誤: %v", got)
	}
	if laptop.State() != StateClosed {
		t.Errorf("期望狀態 closed，實際為 %s", laptop.State())
	}

	g.Close(ctx, laptop)
	if err := laptop.Push(event.New(event.NewMessage, nil)); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("關閉後推送應失敗，實際為 %v", err)
	}
}

func TestLogoutKeepsConnectionOpen(t *testing.T) {
	g := New(presence.NewRegistry(), trustVerifier{})
	ctx := context.Background()

	watcher := connect(t, g, "bob")
	alice := connect(t, g, "alice")
	drain(watcher)
	drain(alice)

	g.Logout(ctx, alice)
	if g.Registry().IsOnline("alice") {
		t.Error("登出後 alice 應離線")
	}
	if alice.State() != StateLive {
		t.Errorf("登出後連接應保持開啟，實際為 %s", alice.State())
	}
	if got := lastOnlineList(t, drain(watcher)); fmt.Sprint(got) != "[bob]" {
		t.Errorf("登出後名單錯誤: %v", got)
	}
	if err := alice.Push(event.New(event.NewMessage, nil)); err != nil {
		t.Errorf("登出後連接仍可接收其他流量，實際為 %v", err)
	}

	// 之後的斷線不應再次廣播
	drain(watcher)
	g.Close(ctx, alice)
	if evs := drain(watcher); len(evs) != 0 {
		t.Errorf("已登出的連接斷線不應再廣播，實際收到 %d 則", len(evs))
	}
}

func TestOutboxOverflowMarksConnectionBroken(t *testing.T) {
	g := New(presence.NewRegistry(), trustVerifier{}, WithOutboxSize(1))
	c, err := g.Open(context.Background(), Claim{UserID: "alice", Token: "ok"})
	if err != nil {
		t.Fatal(err)
	}

	if err := c.Push(event.New(event.NewMessage, nil)); err != nil {
		t.Fatalf("第一次推送不應失敗: %v", err)
	}
	if err := c.Push(event.New(event.NewMessage, nil)); !errors.Is(err, ErrOutboxFull) {
		t.Fatalf("期望 ErrOutboxFull，實際為 %v", err)
	}
	select {
	case <-c.Broken():
	default:
		t.Error("溢出後連接應標記為失效")
	}
}

func TestCloseBeforeActivateNeverGoesLive(t *testing.T) {
	g := New(presence.NewRegistry(), trustVerifier{})
	ctx := context.Background()
	c, _ := g.Open(ctx, Claim{UserID: "alice", Token: "ok"})

	g.Close(ctx, c)
	if err := g.Activate(ctx, c); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("關閉後不可啟用，實際為 %v", err)
	}
	if g.Registry().IsOnline("alice") {
		t.Error("未啟用的連接不應上線")
	}
}

func TestConcurrentConnectDisconnect(t *testing.T) {
	g := New(presence.NewRegistry(), trustVerifier{}, WithOutboxSize(1024))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := g.Open(ctx, Claim{UserID: fmt.Sprintf("u%d", i%4), Token: "ok"})
			if err != nil {
				t.Error(err)
				return
			}
			_ = g.Activate(ctx, c)
			g.Close(ctx, c)
		}(i)
	}
	wg.Wait()

	if users := g.Registry().OnlineUsers(); len(users) != 0 {
		t.Errorf("全部斷線後不應有人在線，實際為 %v", users)
	}
	if n := g.Registry().ConnectionCount(); n != 0 {
		t.Errorf("全部斷線後不應有連接，實際為 %d", n)
	}
}
