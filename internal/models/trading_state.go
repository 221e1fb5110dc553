package models

import "time"

// Результат последней сделки
const (
	ResultWin  = "WIN"
	ResultLoss = "LOSS"
	ResultNone = "N/A"
)

// TradingState представляет сохраняемое состояние торговли
//
// Меняется только движком решений (и обновлениями баланса),
// сохраняется после каждого шага цикла и по таймеру.
type TradingState struct {
	InitialBalance     *float64  `json:"initial_balance" db:"initial_balance"` // nil до первой авторизации
	LastBalance        *float64  `json:"last_balance" db:"last_balance"`       // последний подтверждённый баланс
	CurrentStake       float64   `json:"current_stake" db:"current_stake"`     // ставка для следующей сделки
	LastResult         string    `json:"last_result" db:"last_result"`         // WIN, LOSS, N/A
	VirtualLossCounter int       `json:"virtual_loss_counter" db:"virtual_loss_counter"`
	LossStreak         int       `json:"loss_streak" db:"loss_streak"` // подряд проигранных сделок
	TradeCount         int       `json:"trades_today" db:"trade_count"`
	Wins               int       `json:"wins" db:"wins"`
	Losses             int       `json:"losses" db:"losses"`
	RealizedProfit     float64   `json:"realized_profit" db:"realized_profit"` // сумма profit по закрытым контрактам
	LastTradeTime      time.Time `json:"last_trade_time" db:"last_trade_time"`
	LastPrice          *float64  `json:"last_price" db:"last_price"`
	LastDigit          int       `json:"last_digit" db:"last_digit"`
	UpdatedAt          time.Time `json:"updated_at" db:"updated_at"`
}

// NewTradingState создаёт начальное состояние с базовой ставкой
func NewTradingState(baseStake float64) *TradingState {
	return &TradingState{
		CurrentStake: baseStake,
		LastResult:   ResultNone,
	}
}

// PnL возвращает last_balance − initial_balance (0 пока балансы неизвестны)
func (s *TradingState) PnL() float64 {
	if s.InitialBalance == nil || s.LastBalance == nil {
		return 0
	}
	return *s.LastBalance - *s.InitialBalance
}

// HasBalance возвращает true если получен хотя бы один баланс
func (s *TradingState) HasBalance() bool {
	return s.LastBalance != nil
}

// Clone возвращает глубокую копию (для снапшотов и сохранения вне lock'а)
func (s *TradingState) Clone() *TradingState {
	c := *s
	c.InitialBalance = copyFloat(s.InitialBalance)
	c.LastBalance = copyFloat(s.LastBalance)
	c.LastPrice = copyFloat(s.LastPrice)
	return &c
}

// Normalize чинит состояние, загруженное из старого или повреждённого снапшота
func (s *TradingState) Normalize(baseStake float64) {
	if s.CurrentStake <= 0 {
		s.CurrentStake = baseStake
	}
	switch s.LastResult {
	case ResultWin, ResultLoss:
	default:
		s.LastResult = ResultNone
	}
	if s.VirtualLossCounter < 0 {
		s.VirtualLossCounter = 0
	}
}

// Float возвращает указатель на значение (для опциональных полей)
func Float(v float64) *float64 {
	return &v
}

func copyFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
