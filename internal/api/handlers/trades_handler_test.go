package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"digitbot/internal/models"
	"digitbot/internal/repository"
)

// ============ TradesHandler Tests ============

func TestTradesHandler_GetTrades(t *testing.T) {
	history := &MockTradeHistory{
		trades: []*models.TradeRecord{
			{ID: 2, ContractID: 9001, Symbol: "R_50", Stake: 0.77, Profit: -0.77, Result: models.ResultLoss},
			{ID: 1, ContractID: 9000, Symbol: "R_50", Stake: 0.35, Profit: -0.35, Result: models.ResultLoss},
		},
	}

	tests := []struct {
		name          string
		query         string
		expectedCode  int
		expectedLimit int
		expectedLen   int
	}{
		{"default limit", "", http.StatusOK, repository.DefaultTradeLimit, 2},
		{"explicit limit", "?limit=1", http.StatusOK, 1, 1},
		{"limit capped", "?limit=10000", http.StatusOK, maxTradeLimit, 2},
		{"invalid limit", "?limit=abc", http.StatusBadRequest, 0, 0},
		{"zero limit", "?limit=0", http.StatusBadRequest, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			history.lastLimit = 0
			handler := NewTradesHandler(history)

			req := httptest.NewRequest(http.MethodGet, "/api/v1/trades"+tt.query, nil)
			w := httptest.NewRecorder()

			handler.GetTrades(w, req)

			if w.Code != tt.expectedCode {
				t.Fatalf("expected status %d, got %d", tt.expectedCode, w.Code)
			}
			if tt.expectedCode != http.StatusOK {
				return
			}
			if history.lastLimit != tt.expectedLimit {
				t.Errorf("expected limit %d, got %d", tt.expectedLimit, history.lastLimit)
			}

			var trades []models.TradeRecord
			if err := json.NewDecoder(w.Body).Decode(&trades); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if len(trades) != tt.expectedLen {
				t.Errorf("expected %d trades, got %d", tt.expectedLen, len(trades))
			}
		})
	}
}

func TestTradesHandler_EmptyHistory(t *testing.T) {
	handler := NewTradesHandler(&MockTradeHistory{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/trades", nil)
	w := httptest.NewRecorder()

	handler.GetTrades(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if body := strings.TrimSpace(w.Body.String()); body != "[]" {
		t.Errorf("expected [], got %s", body)
	}
}

func TestTradesHandler_Errors(t *testing.T) {
	t.Run("storage error", func(t *testing.T) {
		handler := NewTradesHandler(&MockTradeHistory{err: ErrMockStorage})

		w := httptest.NewRecorder()
		handler.GetTrades(w, httptest.NewRequest(http.MethodGet, "/api/v1/trades", nil))

		if w.Code != http.StatusInternalServerError {
			t.Errorf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
		}
	})

	t.Run("nil history", func(t *testing.T) {
		handler := &TradesHandler{}

		w := httptest.NewRecorder()
		handler.GetTrades(w, httptest.NewRequest(http.MethodGet, "/api/v1/trades", nil))

		if w.Code != http.StatusInternalServerError {
			t.Errorf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
		}
	})
}
