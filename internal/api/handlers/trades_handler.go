package handlers

import (
	"context"
	"net/http"
	"strconv"

	"digitbot/internal/models"
	"digitbot/internal/repository"
)

// maxTradeLimit - верхняя граница параметра limit
const maxTradeLimit = 500

// TradeHistory - история сделок (repository.TradeRepository или TradeBuffer)
type TradeHistory interface {
	Recent(ctx context.Context, limit int) ([]*models.TradeRecord, error)
}

// TradesHandler обрабатывает запросы истории сделок.
//
// Endpoints:
// - GET /api/v1/trades?limit=50 - последние сделки, новые первыми
type TradesHandler struct {
	history TradeHistory
}

// NewTradesHandler создает TradesHandler
func NewTradesHandler(history TradeHistory) *TradesHandler {
	return &TradesHandler{history: history}
}

// GetTrades возвращает последние рассчитанные сделки.
//
// GET /api/v1/trades?limit=50
//
// Query Parameters:
// - limit (optional): количество сделок (по умолчанию 50, максимум 500)
//
// Response 200 OK:
//
//	[
//	  {"id": 3, "contract_id": 9001, "symbol": "R_50", "stake": 1.69, "profit": 1.52, "result": "WIN", ...},
//	  {"id": 2, "contract_id": 9000, "symbol": "R_50", "stake": 0.77, "profit": -0.77, "result": "LOSS", ...}
//	]
//
// Response 400 Bad Request:
//
//	{"error": "invalid limit", "details": "limit must be a positive integer"}
func (h *TradesHandler) GetTrades(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		respondWithError(w, http.StatusInternalServerError, "trade history not initialized", "", "")
		return
	}

	limit := repository.DefaultTradeLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			respondWithError(w, http.StatusBadRequest, "invalid limit", "", "limit must be a positive integer")
			return
		}
		limit = parsed
		if limit > maxTradeLimit {
			limit = maxTradeLimit
		}
	}

	trades, err := h.history.Recent(r.Context(), limit)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to get trades", "", err.Error())
		return
	}

	// пустой список отдаётся как [], а не null
	if trades == nil {
		trades = []*models.TradeRecord{}
	}

	respondWithJSON(w, http.StatusOK, trades)
}
