package bot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики торгового цикла и сессии
// ============================================================

// ============ Метрики латентности ============

// RequestLatency - время ответа площадки на коррелируемый запрос
var RequestLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "digitbot",
		Subsystem: "venue",
		Name:      "request_latency_ms",
		Help:      "Latency of correlated venue requests in milliseconds",
		Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
	},
	[]string{"op", "status"}, // status: ok, timeout, rejected, error
)

// SettlementWait - время от покупки до расчёта контракта
var SettlementWait = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "digitbot",
		Subsystem: "trading",
		Name:      "settlement_wait_seconds",
		Help:      "Time from buy confirmation to settlement in seconds",
		Buckets:   []float64{0.5, 1, 2, 3, 5, 10, 30, 60},
	},
)

// ============ Счётчики событий ============

// TicksProcessed - тики по исходу обработки
var TicksProcessed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "digitbot",
		Subsystem: "trading",
		Name:      "ticks_total",
		Help:      "Total number of received ticks",
	},
	[]string{"outcome"}, // cycle, busy, halted, stopped
)

// CycleOutcomes - чем закончились циклы решений
var CycleOutcomes = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "digitbot",
		Subsystem: "trading",
		Name:      "cycles_total",
		Help:      "Total number of decision cycles by outcome",
	},
	[]string{"outcome"},
)

// TradesTotal - рассчитанные сделки
var TradesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "digitbot",
		Subsystem: "trading",
		Name:      "trades_total",
		Help:      "Total number of settled trades",
	},
	[]string{"result"}, // WIN, LOSS
)

// Reconnects - попытки переподключения
var Reconnects = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "digitbot",
		Subsystem: "venue",
		Name:      "reconnect_attempts_total",
		Help:      "Total number of reconnect attempts",
	},
)

// StateSaveErrors - ошибки сохранения состояния
var StateSaveErrors = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "digitbot",
		Subsystem: "state",
		Name:      "save_errors_total",
		Help:      "Total number of failed state snapshots",
	},
)

// ============ Метрики состояния ============

// CurrentStake - ставка для следующей сделки
var CurrentStake = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "digitbot",
		Subsystem: "trading",
		Name:      "current_stake",
		Help:      "Stake for the next trade",
	},
)

// Balance - последний подтверждённый баланс
var Balance = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "digitbot",
		Subsystem: "trading",
		Name:      "balance",
		Help:      "Last confirmed account balance",
	},
)

// PnL - last_balance − initial_balance
var PnL = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "digitbot",
		Subsystem: "trading",
		Name:      "pnl",
		Help:      "Balance change since the initial balance",
	},
)

// VirtualLossCounter - текущее значение счётчика виртуальных проигрышей
var VirtualLossCounter = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "digitbot",
		Subsystem: "trading",
		Name:      "virtual_loss_counter",
		Help:      "Current virtual loss counter",
	},
)

// Connected - 1 если сессия подключена
var Connected = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "digitbot",
		Subsystem: "venue",
		Name:      "connected",
		Help:      "1 if the venue session is connected",
	},
)

// PendingRequests - ожидающие ответа запросы
var PendingRequests = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "digitbot",
		Subsystem: "venue",
		Name:      "pending_requests",
		Help:      "Number of correlated requests awaiting a reply",
	},
)

// ============ Вспомогательные функции ============

// RecordTick записывает исход обработки тика
func RecordTick(outcome string) {
	TicksProcessed.WithLabelValues(outcome).Inc()
}

// RecordCycle записывает исход цикла
func RecordCycle(outcome string) {
	CycleOutcomes.WithLabelValues(outcome).Inc()
}

// RecordRequest записывает латентность запроса
func RecordRequest(op, status string, ms float64) {
	RequestLatency.WithLabelValues(op, status).Observe(ms)
}

// RecordTrade записывает рассчитанную сделку
func RecordTrade(result string) {
	TradesTotal.WithLabelValues(result).Inc()
}

// SetConnected обновляет флаг подключения
func SetConnected(connected bool) {
	if connected {
		Connected.Set(1)
	} else {
		Connected.Set(0)
	}
}
