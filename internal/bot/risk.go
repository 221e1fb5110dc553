package bot

import (
	"time"

	"digitbot/internal/models"
)

// Причины отказа риск-гейта
const (
	ReasonProfitTarget = "profit_target"
	ReasonDrawdown     = "drawdown_limit"
	ReasonPaused       = "paused"
	ReasonCooldown     = "cooldown"
)

// RiskLimits - лимиты риск-гейта
//
// Нулевой ProfitTarget или DrawdownLimit отключает соответствующую проверку.
type RiskLimits struct {
	ProfitTarget  float64
	DrawdownLimit float64
	Cooldown      time.Duration
}

// Decision - решение риск-гейта
type Decision struct {
	Allow  bool
	Stop   bool // сессию нужно остановить (цель или просадка)
	Reason string
	PnL    float64
}

// RunFlag - внешний флаг run/pause
type RunFlag interface {
	ShouldRun() bool
}

// Evaluate - чистая функция риск-гейта
//
// Порядок проверок:
// 1. pnl ≥ цели или pnl ≤ −просадки → отказ + стоп (независимо от флага и cooldown)
// 2. флаг pause → отказ
// 3. с последней сделки прошло меньше cooldown → отказ
func Evaluate(state *models.TradingState, limits RiskLimits, running bool, now time.Time) Decision {
	pnl := state.PnL()

	if limits.ProfitTarget > 0 && pnl >= limits.ProfitTarget {
		return Decision{Stop: true, Reason: ReasonProfitTarget, PnL: pnl}
	}
	if limits.DrawdownLimit > 0 && pnl <= -limits.DrawdownLimit {
		return Decision{Stop: true, Reason: ReasonDrawdown, PnL: pnl}
	}

	if !running {
		return Decision{Reason: ReasonPaused, PnL: pnl}
	}

	if limits.Cooldown > 0 && !state.LastTradeTime.IsZero() && now.Sub(state.LastTradeTime) < limits.Cooldown {
		return Decision{Reason: ReasonCooldown, PnL: pnl}
	}

	return Decision{Allow: true, PnL: pnl}
}

// RiskGate связывает лимиты с внешним флагом run/pause
type RiskGate struct {
	limits RiskLimits
	flag   RunFlag
}

// NewRiskGate создаёт гейт; flag == nil означает "всегда run"
func NewRiskGate(limits RiskLimits, flag RunFlag) *RiskGate {
	return &RiskGate{limits: limits, flag: flag}
}

// Check оценивает состояние с текущим значением флага
func (g *RiskGate) Check(state *models.TradingState, now time.Time) Decision {
	return Evaluate(state, g.limits, g.Running(), now)
}

// Running возвращает текущее значение флага run/pause
func (g *RiskGate) Running() bool {
	if g.flag == nil {
		return true
	}
	return g.flag.ShouldRun()
}

// Limits возвращает лимиты гейта
func (g *RiskGate) Limits() RiskLimits {
	return g.limits
}
