package websocket

import (
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"gridbot/internal/models"
)

// ============================================================
// Unit Tests
// ============================================================

func TestNewHub(t *testing.T) {
	hub := NewHub(zap.NewNop())

	if hub == nil {
		t.Fatal("NewHub returned nil")
	}
	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", hub.ClientCount())
	}
	if hub.DroppedMessages() != 0 {
		t.Errorf("expected 0 dropped messages, got %d", hub.DroppedMessages())
	}
}

func TestOriginChecker_Check(t *testing.T) {
	checker := &OriginChecker{
		allowedOrigins: map[string]struct{}{
			"http://localhost:3000": {},
			"https://example.com":   {},
		},
		allowAll: false,
	}

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},                       // empty origin allowed
		{"http://localhost:3000", true},  // allowed
		{"https://example.com", true},    // allowed
		{"http://evil.com", false},       // not allowed
		{"http://localhost:8080", false}, // not in list
	}

	for _, tt := range tests {
		if got := checker.Check(tt.origin); got != tt.want {
			t.Errorf("Check(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}

func TestOriginChecker_AllowAll(t *testing.T) {
	checker := &OriginChecker{allowAll: true}

	for _, origin := range []string{
		"http://localhost:3000",
		"https://evil.com",
		"http://anything.example.org",
	} {
		if !checker.Check(origin) {
			t.Errorf("allowAll=true but Check(%q) = false", origin)
		}
	}
}

func TestHub_BroadcastToRegisteredClient(t *testing.T) {
	hub := NewHub(zap.NewNop())
	go hub.Run()
	defer hub.Stop()

	client := &Client{hub: hub, send: make(chan []byte, clientSendBufferSize)}
	hub.register <- client

	snap := &models.SessionSnapshot{
		Session: models.Session{
			ID:     "sess-1",
			Symbol: "R_100",
			State:  models.SessionRunning,
		},
		CurrentPrice: 95.5,
	}
	hub.BroadcastSnapshot(snap)

	select {
	case msg := <-client.send:
		payload := string(msg)
		if !strings.Contains(payload, `"type":"sessionUpdate"`) {
			t.Errorf("payload missing type: %s", payload)
		}
		if !strings.Contains(payload, `"session_id":"sess-1"`) {
			t.Errorf("payload missing session_id: %s", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("broadcast did not reach the client")
	}
}

func TestHub_SlowClientDisconnected(t *testing.T) {
	hub := NewHub(zap.NewNop())
	go hub.Run()
	defer hub.Stop()

	// Клиент с буфером в одно сообщение, который никто не вычитывает
	slow := &Client{hub: hub, send: make(chan []byte, 1)}
	hub.register <- slow

	for i := 0; i < 5; i++ {
		hub.BroadcastNotification(&models.Notification{
			Type:     models.NotificationTypeFill,
			Severity: models.SeverityInfo,
			Message:  "fill",
		})
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if hub.ClientCount() == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("slow client must be removed from the hub")
}

func TestHub_BroadcastNonBlocking(t *testing.T) {
	// Run не запущен: канал broadcast переполняется, но Broadcast не виснет
	hub := NewHub(zap.NewNop())

	for i := 0; i < 1000; i++ {
		hub.Broadcast(map[string]int{"i": i})
	}

	if hub.DroppedMessages() == 0 {
		t.Error("expected dropped messages when broadcast queue is full")
	}
}

func TestHub_Stop(t *testing.T) {
	hub := NewHub(zap.NewNop())

	done := make(chan struct{})
	go func() {
		hub.Run()
		close(done)
	}()

	client := &Client{hub: hub, send: make(chan []byte, 1)}
	hub.register <- client

	hub.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Hub.Run() did not exit after Stop()")
	}

	// Каналы клиентов закрыты
	if _, ok := <-client.send; ok {
		t.Error("client send channel must be closed on Stop")
	}
}

func TestHub_ConcurrentOperations(t *testing.T) {
	hub := NewHub(zap.NewNop())
	go hub.Run()
	defer hub.Stop()

	var wg sync.WaitGroup
	const goroutines = 10
	const operations = 500

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < operations; j++ {
				hub.Broadcast(map[string]int{"goroutine": id, "op": j})
			}
		}(i)
	}

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < operations; j++ {
				_ = hub.ClientCount()
			}
		}()
	}

	wg.Wait()
}
