package journal

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"digitbot/internal/models"
)

func TestJournal_Lines(t *testing.T) {
	var buf bytes.Buffer
	j := New(&buf)

	now := time.Now()
	j.Tick("R_50", 1234.56, 6)
	j.Trade(&models.TradeRecord{ContractID: 9, Result: models.ResultLoss, Stake: 0.77, Profit: -0.77, PurchasedAt: now, SettledAt: now.Add(2 * time.Second)})
	j.Event("RISK", "profit_target reached", zap.Float64("pnl", 101))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d: %q", len(lines), buf.String())
	}

	checks := [][]string{
		{"[TICK] R_50", `"price": 1234.56`, `"digit": 6`},
		{"[TRADE] LOSS contract 9", `"stake": 0.77`, `"held": "2s"`},
		{"[RISK] profit_target reached", `"pnl": 101`},
	}
	for i, want := range checks {
		for _, w := range want {
			if !strings.Contains(lines[i], w) {
				t.Errorf("line %d %q does not contain %q", i, lines[i], w)
			}
		}
	}

	// строка начинается с метки времени
	if _, err := time.Parse("2006-01-02T15:04:05.000Z0700", strings.Fields(lines[0])[0]); err != nil {
		t.Errorf("line does not start with a timestamp: %q", lines[0])
	}
}

func TestJournal_OpenAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "trades.log")

	for i := 0; i < 2; i++ {
		j, err := Open(path, false)
		if err != nil {
			t.Fatalf("open failed: %v", err)
		}
		j.Event("SESSION", "session started")
		if err := j.Close(); err != nil {
			t.Fatalf("close failed: %v", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(string(data), "[SESSION] session started"); n != 2 {
		t.Errorf("expected 2 appended lines, got %d", n)
	}
}
