package presence

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"

	"chat-relay/internal/event"
)

type fakeHandle struct {
	id     string
	userID string
}

func (h *fakeHandle) ID() string                { return h.id }
func (h *fakeHandle) UserID() string            { return h.userID }
func (h *fakeHandle) Push(ev event.Event) error { return nil }

func TestRegisterAndUnregister(t *testing.T) {
	r := NewRegistry()
	phone := &fakeHandle{id: "c1", userID: "alice"}
	laptop := &fakeHandle{id: "c2", userID: "alice"}

	if !r.Register("alice", phone) {
		t.Fatal("第一條連接應使用戶轉為在線")
	}
	if r.Register("alice", phone) {
		t.Error("重複註冊同一句柄不應再次觸發上線")
	}
	if r.Register("alice", laptop) {
		t.Error("第二台裝置不應再次觸發上線")
	}
	if got := len(r.LiveHandles("alice")); got != 2 {
		t.Fatalf("期望 2 條連接，實際為 %d", got)
	}

	if r.Unregister("alice", phone) {
		t.Error("仍有其他裝置時不應離線")
	}
	if !r.IsOnline("alice") {
		t.Error("alice 應仍在線")
	}
	if !r.Unregister("alice", laptop) {
		t.Error("最後一條連接移除後應離線")
	}
	if r.IsOnline("alice") {
		t.Error("alice 應已離線")
	}
	if got := r.LiveHandles("alice"); len(got) != 0 {
		t.Errorf("離線用戶應返回空集合，實際為 %d", len(got))
	}
	if r.Unregister("alice", laptop) {
		t.Error("重複移除不應再次觸發離線")
	}
}

func TestOnlineUsersSorted(t *testing.T) {
	r := NewRegistry()
	for _, u := range []string{"carol", "alice", "bob"} {
		r.Register(u, &fakeHandle{id: "h-" + u, userID: u})
	}

	got := r.OnlineUsers()
	want := []string{"alice", "bob", "carol"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("期望 %v，實際為 %v", want, got)
	}
	if n := r.ConnectionCount(); n != 3 {
		t.Errorf("期望 3 條連接，實際為 %d", n)
	}
	if n := len(r.AllHandles()); n != 3 {
		t.Errorf("期望 3 個句柄，實際為 %d", n)
	}
}

// 任意順序的註冊/移除後，在線名單必須恰好等於持有至少一條連接的用戶
func TestOnlineUsersMatchesLiveHandlesUnderConcurrency(t *testing.T) {
	r := NewRegistryWithShards(4)
	users := []string{"u1", "u2", "u3", "u4", "u5", "u6"}

	var wg sync.WaitGroup
	for w := 0; w < 16; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < 500; i++ {
				u := users[rng.Intn(len(users))]
				h := &fakeHandle{id: fmt.Sprintf("%s-%d", u, rng.Intn(4)), userID: u}
				if rng.Intn(2) == 0 {
					r.Register(u, h)
				} else {
					r.Unregister(u, h)
				}
				_ = r.OnlineUsers()
			}
		}(int64(w))
	}
	wg.Wait()

	var expected []string
	for _, u := range users {
		if len(r.LiveHandles(u)) > 0 {
			expected = append(expected, u)
		}
	}
	sort.Strings(expected)

	got := r.OnlineUsers()
	if fmt.Sprint(got) != fmt.Sprint(expected) {
		t.Errorf("在線名單不一致：期望 %v，實際為 %v", expected, got)
	}
	for _, u := range users {
		if r.IsOnline(u) != (len(r.LiveHandles(u)) > 0) {
			t.Errorf("%s 的在線狀態與連接集合不一致", u)
		}
	}
}
