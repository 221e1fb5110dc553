package repository

import (
	"context"
	"database/sql"
	"errors"

	"digitbot/internal/models"
)

// StateRepository - снапшот TradingState в таблице trading_state
//
// Таблица хранит одну запись (id=1).
type StateRepository struct {
	db *sql.DB
}

// NewStateRepository создает новый экземпляр репозитория
func NewStateRepository(db *sql.DB) *StateRepository {
	return &StateRepository{db: db}
}

// Load возвращает сохраненное состояние
func (r *StateRepository) Load(ctx context.Context) (*models.TradingState, error) {
	query := `
		SELECT initial_balance, last_balance, current_stake, last_result,
			virtual_loss_counter, loss_streak, trade_count, wins, losses,
			realized_profit, last_trade_time, last_price, last_digit, updated_at
		FROM trading_state
		WHERE id = 1`

	var (
		initial, last, price sql.NullFloat64
		lastTrade            sql.NullTime
	)

	state := &models.TradingState{}
	err := r.db.QueryRowContext(ctx, query).Scan(
		&initial,
		&last,
		&state.CurrentStake,
		&state.LastResult,
		&state.VirtualLossCounter,
		&state.LossStreak,
		&state.TradeCount,
		&state.Wins,
		&state.Losses,
		&state.RealizedProfit,
		&lastTrade,
		&price,
		&state.LastDigit,
		&state.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStateNotFound
		}
		return nil, &StateIOError{Op: "load", Path: "trading_state", Err: err}
	}

	state.InitialBalance = fromNullFloat(initial)
	state.LastBalance = fromNullFloat(last)
	state.LastPrice = fromNullFloat(price)
	if lastTrade.Valid {
		state.LastTradeTime = lastTrade.Time
	}

	return state, nil
}

// Save записывает состояние (upsert единственной записи)
func (r *StateRepository) Save(ctx context.Context, state *models.TradingState) error {
	query := `
		INSERT INTO trading_state (id, initial_balance, last_balance, current_stake, last_result,
			virtual_loss_counter, loss_streak, trade_count, wins, losses,
			realized_profit, last_trade_time, last_price, last_digit, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			initial_balance = EXCLUDED.initial_balance,
			last_balance = EXCLUDED.last_balance,
			current_stake = EXCLUDED.current_stake,
			last_result = EXCLUDED.last_result,
			virtual_loss_counter = EXCLUDED.virtual_loss_counter,
			loss_streak = EXCLUDED.loss_streak,
			trade_count = EXCLUDED.trade_count,
			wins = EXCLUDED.wins,
			losses = EXCLUDED.losses,
			realized_profit = EXCLUDED.realized_profit,
			last_trade_time = EXCLUDED.last_trade_time,
			last_price = EXCLUDED.last_price,
			last_digit = EXCLUDED.last_digit,
			updated_at = EXCLUDED.updated_at`

	var lastTrade sql.NullTime
	if !state.LastTradeTime.IsZero() {
		lastTrade = sql.NullTime{Time: state.LastTradeTime, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, query,
		toNullFloat(state.InitialBalance),
		toNullFloat(state.LastBalance),
		state.CurrentStake,
		state.LastResult,
		state.VirtualLossCounter,
		state.LossStreak,
		state.TradeCount,
		state.Wins,
		state.Losses,
		state.RealizedProfit,
		lastTrade,
		toNullFloat(state.LastPrice),
		state.LastDigit,
		state.UpdatedAt,
	)
	if err != nil {
		return &StateIOError{Op: "save", Path: "trading_state", Err: err}
	}

	return nil
}

func toNullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func fromNullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return models.Float(v.Float64)
}
