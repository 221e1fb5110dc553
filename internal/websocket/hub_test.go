package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"digitbot/internal/models"
	"digitbot/pkg/utils"
)

// ============================================================
// Unit Tests
// ============================================================

func TestNewHub(t *testing.T) {
	hub := NewHub(utils.NewNopLogger())

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
	checker := NewOriginChecker("http://localhost:3000, https://example.com")

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
		got := checker.Check(tt.origin)
		if got != tt.want {
			t.Errorf("Check(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}

func TestOriginChecker_AllowAll(t *testing.T) {
	for _, env := range []string{"", "*"} {
		checker := NewOriginChecker(env)
		if !checker.Check("https://anything.example.org") {
			t.Errorf("origins=%q must allow all", env)
		}
	}
}

func TestHub_BroadcastNonBlocking(t *testing.T) {
	// Run не запущен: очередь заполняется, остальное отбрасывается
	hub := NewHub(utils.NewNopLogger())

	done := make(chan struct{})
	go func() {
		for i := 0; i < broadcastBufferSize+100; i++ {
			hub.BroadcastTick("R_50", 100.5, 5)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Broadcast blocked on a full queue")
	}

	if hub.DroppedMessages() != 100 {
		t.Errorf("expected 100 dropped messages, got %d", hub.DroppedMessages())
	}
}

func TestHub_Stop(t *testing.T) {
	hub := NewHub(utils.NewNopLogger())

	done := make(chan struct{})
	go func() {
		hub.Run()
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	hub.Stop()
	hub.Stop()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Error("Hub.Run() did not exit after Stop()")
	}
}

func TestHub_DeliversToClient(t *testing.T) {
	hub := NewHub(utils.NewNopLogger())
	go hub.Run()
	defer hub.Stop()

	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for hub.ClientCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if hub.ClientCount() != 1 {
		t.Fatalf("expected 1 client, got %d", hub.ClientCount())
	}

	hub.BroadcastTrade(&models.TradeRecord{ContractID: 42, Result: models.ResultWin, Profit: 0.31})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}

	var msg struct {
		Type string              `json:"type"`
		Data *models.TradeRecord `json:"data"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("bad message %s: %v", data, err)
	}
	if msg.Type != string(MessageTypeTrade) || msg.Data == nil || msg.Data.ContractID != 42 {
		t.Errorf("unexpected message: %s", data)
	}
}

func TestNotificationMessage_Fields(t *testing.T) {
	data, err := json.Marshal(NewNotificationMessage("RISK", "trading halted"))
	if err != nil {
		t.Fatal(err)
	}
	s := string(data)
	for _, want := range []string{`"type":"notification"`, `"kind":"RISK"`, `"message":"trading halted"`, `"timestamp"`} {
		if !strings.Contains(s, want) {
			t.Errorf("expected %s in %s", want, s)
		}
	}
}

// ============================================================
// Benchmarks
// ============================================================

// BenchmarkHub_BroadcastTick тестирует основной поток сообщений
func BenchmarkHub_BroadcastTick(b *testing.B) {
	hub := NewHub(utils.NewNopLogger())
	go hub.Run()
	defer hub.Stop()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		hub.BroadcastTick("R_50", 1234.56, 6)
	}
}

// BenchmarkOriginChecker_Check тестирует скорость проверки origin
func BenchmarkOriginChecker_Check(b *testing.B) {
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		originChecker.Check("http://localhost:3000")
	}
}

// ============================================================
// Parallel Stress Test
// ============================================================

func TestHub_ConcurrentOperations(t *testing.T) {
	hub := NewHub(utils.NewNopLogger())
	go hub.Run()
	defer hub.Stop()

	var wg sync.WaitGroup
	const goroutines = 10
	const operations = 1000

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < operations; j++ {
				hub.BroadcastNotification("SESSION", "op")
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
