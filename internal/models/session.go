package models

import "time"

// Фазы торгового цикла (state machine движка)
const (
	PhaseIdle               = "IDLE"
	PhaseEvaluating         = "EVALUATING"
	PhaseProposing          = "PROPOSING"
	PhaseBuying             = "BUYING"
	PhaseAwaitingSettlement = "AWAITING_SETTLEMENT"
	PhaseSettled            = "SETTLED"
)

// Статусы сессии
const (
	SessionStopped      = "stopped"
	SessionConnecting   = "connecting"
	SessionRunning      = "running"
	SessionReconnecting = "reconnecting"
	SessionHalted       = "halted" // риск-гейт остановил торговлю, соединение живо
	SessionAuthFailed   = "auth_failed"
)

// SessionStatus - снимок для getStatus()
type SessionStatus struct {
	Status      string        `json:"status"`
	Connected   bool          `json:"connected"`
	Phase       string        `json:"phase"`
	Paused      bool          `json:"paused"`
	HaltReason  string        `json:"halt_reason,omitempty"`
	Market      string        `json:"market"`
	Reconnects  int           `json:"reconnects"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	Pending     int           `json:"pending_requests"`
	DailyPnL    float64       `json:"daily_pnl"`
	State       *TradingState `json:"state"`
	LastTickAge string        `json:"last_tick_age,omitempty"`
	Error       string        `json:"error,omitempty"`
}
