package models

import "time"

// Contract представляет купленный контракт до момента расчёта
//
// Живёт от покупки до получения is_sold, затем сворачивается
// в TradingState и TradeRecord.
type Contract struct {
	ContractID  int64     `json:"contract_id"`
	ProposalID  string    `json:"proposal_id"`
	Stake       float64   `json:"stake"`
	Barrier     int       `json:"barrier"`
	BuyPrice    float64   `json:"buy_price"`
	Payout      float64   `json:"payout"`
	PurchasedAt time.Time `json:"purchased_at"`
}

// TradeRecord представляет закрытую сделку (история)
type TradeRecord struct {
	ID          int       `json:"id" db:"id"`
	ContractID  int64     `json:"contract_id" db:"contract_id"`
	Symbol      string    `json:"symbol" db:"symbol"`
	Stake       float64   `json:"stake" db:"stake"`
	Barrier     int       `json:"barrier" db:"barrier"`
	BuyPrice    float64   `json:"buy_price" db:"buy_price"`
	SellPrice   float64   `json:"sell_price" db:"sell_price"`
	Profit      float64   `json:"profit" db:"profit"`
	Result      string    `json:"result" db:"result"` // WIN, LOSS
	PurchasedAt time.Time `json:"purchased_at" db:"purchased_at"`
	SettledAt   time.Time `json:"settled_at" db:"settled_at"`
}

// Settlement - итог контракта по данным площадки
type Settlement struct {
	Profit    float64
	BuyPrice  float64
	SellPrice float64
}

// ClassifyProfit возвращает WIN для положительного profit, иначе LOSS
func ClassifyProfit(profit float64) string {
	if profit > 0 {
		return ResultWin
	}
	return ResultLoss
}
