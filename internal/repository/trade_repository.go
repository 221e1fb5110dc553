package repository

import (
	"context"
	"database/sql"
	"sync"

	"digitbot/internal/models"
)

// DefaultTradeLimit - размер выборки истории по умолчанию
const DefaultTradeLimit = 50

// TradeRepository - работа с таблицей trades
type TradeRepository struct {
	db *sql.DB
}

// NewTradeRepository создает новый экземпляр репозитория
func NewTradeRepository(db *sql.DB) *TradeRepository {
	return &TradeRepository{db: db}
}

// Record сохраняет рассчитанную сделку
func (r *TradeRepository) Record(ctx context.Context, rec *models.TradeRecord) error {
	query := `
		INSERT INTO trades (contract_id, symbol, stake, barrier, buy_price, sell_price, profit, result, purchased_at, settled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`

	return r.db.QueryRowContext(ctx, query,
		rec.ContractID,
		rec.Symbol,
		rec.Stake,
		rec.Barrier,
		rec.BuyPrice,
		rec.SellPrice,
		rec.Profit,
		rec.Result,
		rec.PurchasedAt,
		rec.SettledAt,
	).Scan(&rec.ID)
}

// Recent возвращает последние сделки, новые первыми
func (r *TradeRepository) Recent(ctx context.Context, limit int) ([]*models.TradeRecord, error) {
	if limit <= 0 {
		limit = DefaultTradeLimit
	}

	query := `
		SELECT id, contract_id, symbol, stake, barrier, buy_price, sell_price, profit, result, purchased_at, settled_at
		FROM trades
		ORDER BY settled_at DESC
		LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*models.TradeRecord
	for rows.Next() {
		rec := &models.TradeRecord{}
		err := rows.Scan(
			&rec.ID,
			&rec.ContractID,
			&rec.Symbol,
			&rec.Stake,
			&rec.Barrier,
			&rec.BuyPrice,
			&rec.SellPrice,
			&rec.Profit,
			&rec.Result,
			&rec.PurchasedAt,
			&rec.SettledAt,
		)
		if err != nil {
			return nil, err
		}
		trades = append(trades, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return trades, nil
}

// TradeBuffer - история сделок в памяти процесса (STATE_BACKEND=file)
//
// Хранит последние capacity записей.
type TradeBuffer struct {
	mu       sync.RWMutex
	records  []*models.TradeRecord
	capacity int
	nextID   int
}

// NewTradeBuffer создает буфер; capacity <= 0 заменяется на 500
func NewTradeBuffer(capacity int) *TradeBuffer {
	if capacity <= 0 {
		capacity = 500
	}
	return &TradeBuffer{capacity: capacity}
}

// Record добавляет сделку, вытесняя самую старую
func (b *TradeBuffer) Record(_ context.Context, rec *models.TradeRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	rec.ID = b.nextID

	b.records = append(b.records, rec)
	if len(b.records) > b.capacity {
		b.records = b.records[len(b.records)-b.capacity:]
	}
	return nil
}

// Recent возвращает последние сделки, новые первыми
func (b *TradeBuffer) Recent(_ context.Context, limit int) ([]*models.TradeRecord, error) {
	if limit <= 0 {
		limit = DefaultTradeLimit
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if limit > len(b.records) {
		limit = len(b.records)
	}
	out := make([]*models.TradeRecord, 0, limit)
	for i := len(b.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, b.records[i])
	}
	return out, nil
}
