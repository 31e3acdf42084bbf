package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var testUpgrader = websocket.Upgrader{}

func newChatServer(t *testing.T, dials *int32, handler func(conn *websocket.Conn)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		atomic.AddInt32(dials, 1)
		handler(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached before timeout")
}

func TestEventsDispatchedInArrivalOrder(t *testing.T) {
	var dials int32
	url := newChatServer(t, &dials, func(conn *websocket.Conn) {
		defer conn.Close()
		frames := []string{
			`{"type":"connected","session_id":"s1","max_turns":10}`,
			`{"type":"stt_result","text":"hello"}`,
			`{"type":"llm_result","text":"hi there"}`,
			`{"type":"turn_count_update","turn_count":1}`,
		}
		for _, frame := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	})

	var mu sync.Mutex
	var got []string
	client := NewClient(Config{ChatWSURL: url, CharacterID: "luna"}, Callbacks{
		OnEvent: func(ev Event) {
			mu.Lock()
			got = append(got, ev.Type)
			mu.Unlock()
		},
	}, nil)
	defer client.Close()

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 4
	})

	want := []string{EventConnected, EventSTTResult, EventLLMResult, EventTurnCountUpdate}
	mu.Lock()
	defer mu.Unlock()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event[%d]=%q, want %q", i, got[i], want[i])
		}
	}
}

func TestUnknownEventTypesIgnored(t *testing.T) {
	var dials int32
	url := newChatServer(t, &dials, func(conn *websocket.Conn) {
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"telemetry","payload":"x"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"status","message":"thinking"}`))
		time.Sleep(100 * time.Millisecond)
	})

	var mu sync.Mutex
	var got []string
	client := NewClient(Config{ChatWSURL: url, CharacterID: "luna"}, Callbacks{
		OnEvent: func(ev Event) {
			mu.Lock()
			got = append(got, ev.Type)
			mu.Unlock()
		},
	}, nil)
	defer client.Close()

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	})

	mu.Lock()
	defer mu.Unlock()
	if got[0] != EventStatus {
		t.Fatalf("event[0]=%q, want %q", got[0], EventStatus)
	}
}

func TestReconnectsOnceAfterDrop(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) > 1 {
			// Make the redial fail outright.
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		conn.Close()
	}))
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	client := NewClient(Config{
		ChatWSURL:      url,
		CharacterID:    "luna",
		ReconnectDelay: 50 * time.Millisecond,
	}, Callbacks{}, nil)
	defer client.Close()

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		return atomic.LoadInt32(&attempts) == 2
	})

	// A failed redial must not arm another attempt.
	time.Sleep(200 * time.Millisecond)
	if got := atomic.LoadInt32(&attempts); got != 2 {
		t.Fatalf("dial attempts=%d, want 2", got)
	}
}

func TestReconnectsAfterEachMidSessionDrop(t *testing.T) {
	var dials int32
	url := newChatServer(t, &dials, func(conn *websocket.Conn) {
		// Hold each connection briefly, then drop it mid-session.
		time.Sleep(30 * time.Millisecond)
		conn.Close()
	})

	client := NewClient(Config{
		ChatWSURL:      url,
		CharacterID:    "luna",
		ReconnectDelay: 30 * time.Millisecond,
	}, Callbacks{}, nil)
	defer client.Close()

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	// A drop after a successful reconnect must be recovered too.
	waitFor(t, 3*time.Second, func() bool {
		return atomic.LoadInt32(&dials) >= 3
	})
}

func TestKeepalivePingsWhileConnected(t *testing.T) {
	var dials int32
	var pings int32
	url := newChatServer(t, &dials, func(conn *websocket.Conn) {
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg struct {
				Type string `json:"type"`
			}
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			if msg.Type == "ping" {
				atomic.AddInt32(&pings, 1)
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"pong"}`))
			}
		}
	})

	client := NewClient(Config{
		ChatWSURL:    url,
		CharacterID:  "luna",
		PingInterval: 20 * time.Millisecond,
	}, Callbacks{}, nil)
	defer client.Close()

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		return atomic.LoadInt32(&pings) >= 2
	})
}

func TestNoReconnectAfterSessionCompleted(t *testing.T) {
	var dials int32
	url := newChatServer(t, &dials, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"session_completed","session_id":"s1"}`))
		time.Sleep(20 * time.Millisecond)
		conn.Close()
	})

	client := NewClient(Config{
		ChatWSURL:      url,
		CharacterID:    "luna",
		ReconnectDelay: 50 * time.Millisecond,
	}, Callbacks{}, nil)
	defer client.Close()

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		return client.Terminal()
	})

	time.Sleep(200 * time.Millisecond)
	if got := atomic.LoadInt32(&dials); got != 1 {
		t.Fatalf("dials=%d, want 1", got)
	}
}

func TestSendAudioRefusedAfterBlocked(t *testing.T) {
	var dials int32
	url := newChatServer(t, &dials, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"blocked","message":"not allowed"}`))
		time.Sleep(200 * time.Millisecond)
		conn.Close()
	})

	client := NewClient(Config{ChatWSURL: url, CharacterID: "luna"}, Callbacks{}, nil)
	defer client.Close()

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		return client.Terminal()
	})

	if err := client.SendAudio(context.Background(), []byte{0x01}); err != ErrSessionEnded {
		t.Fatalf("SendAudio error=%v, want %v", err, ErrSessionEnded)
	}
}

func TestSendBeforeConnectFails(t *testing.T) {
	client := NewClient(Config{ChatWSURL: "ws://127.0.0.1:0", CharacterID: "luna"}, Callbacks{}, nil)
	if err := client.SendInit(context.Background(), "fp", ""); err == nil {
		t.Fatal("SendInit error=nil, want non-nil")
	}
}
