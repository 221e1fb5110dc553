package bot

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"digitbot/internal/config"
	"digitbot/internal/deriv"
	"digitbot/internal/models"
	"digitbot/internal/repository"
	"digitbot/pkg/utils"
)

// Requester - коррелируемые запросы к площадке (реализуется deriv.Correlator)
type Requester interface {
	Request(ctx context.Context, req deriv.Request, timeout time.Duration) (*deriv.Envelope, error)
}

// StateStore - хранилище снапшота TradingState
type StateStore interface {
	Load(ctx context.Context) (*models.TradingState, error)
	Save(ctx context.Context, state *models.TradingState) error
}

// TradeRecorder - история рассчитанных сделок
type TradeRecorder interface {
	Record(ctx context.Context, rec *models.TradeRecord) error
}

// Journal - журнал событий в человекочитаемом виде (одна строка на событие)
//
// Реализуется пакетом internal/journal.
type Journal interface {
	Tick(symbol string, price float64, digit int)
	Trade(rec *models.TradeRecord)
	Event(kind, message string, fields ...zap.Field)
}

// WebSocketHub - интерфейс для отправки событий клиентам UI
//
// Реализуется пакетом internal/websocket/Hub.
type WebSocketHub interface {
	// BroadcastTick - каждый обработанный тик
	BroadcastTick(symbol string, price float64, digit int)
	// BroadcastTrade - рассчитанная сделка
	BroadcastTrade(rec *models.TradeRecord)
	// BroadcastStatus - смена статуса сессии
	BroadcastStatus(status *models.SessionStatus)
	// BroadcastNotification - события сессии и риск-гейта
	BroadcastNotification(kind, message string)
}

// Виды событий журнала
const (
	EventSession   = "SESSION"
	EventRisk      = "RISK"
	EventSkip      = "SKIP"
	EventError     = "ERROR"
	EventReconnect = "RECONNECT"
	EventBalance   = "BALANCE"
	EventTrade     = "TRADE"
)

// Исходы цикла (метка метрики CycleOutcomes)
const (
	outcomeTraded         = "traded"
	outcomeVirtualLoss    = "virtual_loss"
	outcomeRiskDenied     = "risk_denied"
	outcomeStakeCap       = "stake_cap"
	outcomeProposalFailed = "proposal_failed"
	outcomeBuyFailed      = "buy_failed"
	outcomeAborted        = "aborted"
)

const saveTimeout = 5 * time.Second

// EngineDeps - зависимости движка; всё, кроме Store, опционально
type EngineDeps struct {
	Store   StateStore
	Trades  TradeRecorder
	Flag    RunFlag
	Journal Journal
	Hub     WebSocketHub
	Logger  *utils.Logger
}

// Engine - движок решений: один тик → не более одного цикла
//
// Состояние торговли живёт дольше сессии: новая сессия продолжает
// счётчики и ставку. Цикл запускается в отдельной горутине, чтобы
// горутина чтения транспорта никогда не ждала площадку.
//
// Поток цикла:
// IDLE → EVALUATING → PROPOSING → BUYING → AWAITING_SETTLEMENT → SETTLED → IDLE
type Engine struct {
	cfg            config.TradingConfig
	requestTimeout time.Duration
	stake          StakePolicy
	gate           *RiskGate

	store   StateStore
	trades  TradeRecorder
	journal Journal
	hub     WebSocketHub
	log     *utils.Logger

	state *models.TradingState
	phase string
	mu    sync.Mutex

	// 1 пока цикл в работе; второй тик цикл не запускает
	inFlight int32
	// 1 после стопа риск-гейта
	halted int32

	onHalt   func(reason string, pnl float64)
	onHaltMu sync.RWMutex

	// startMu упорядочивает запуск цикла (wg.Add) относительно Wait
	startMu sync.Mutex
	wg      sync.WaitGroup

	// saveMu: снапшоты пишутся по очереди, старый не перезаписывает новый
	saveMu sync.Mutex

	now func() time.Time
}

// NewEngine создаёт движок с начальным состоянием
func NewEngine(cfg config.TradingConfig, requestTimeout time.Duration, deps EngineDeps) *Engine {
	log := deps.Logger
	if log == nil {
		log = utils.L()
	}
	return &Engine{
		cfg:            cfg,
		requestTimeout: requestTimeout,
		stake: StakePolicy{
			Base:            cfg.BaseStake,
			Factor:          cfg.MartingaleFactor,
			MaxBalanceRatio: cfg.MaxStakeBalanceRatio,
		},
		gate: NewRiskGate(RiskLimits{
			ProfitTarget:  cfg.ProfitTarget,
			DrawdownLimit: cfg.DrawdownLimit,
			Cooldown:      cfg.Cooldown,
		}, deps.Flag),
		store:   deps.Store,
		trades:  deps.Trades,
		journal: deps.Journal,
		hub:     deps.Hub,
		log:     log.WithComponent("engine").WithSymbol(cfg.Market),
		state:   models.NewTradingState(cfg.BaseStake),
		phase:   models.PhaseIdle,
		now:     time.Now,
	}
}

// SetOnHalt устанавливает callback стопа риск-гейта
func (e *Engine) SetOnHalt(handler func(reason string, pnl float64)) {
	e.onHaltMu.Lock()
	e.onHalt = handler
	e.onHaltMu.Unlock()
}

// Restore загружает снапшот из хранилища
//
// Отсутствие снапшота и ошибка чтения не фатальны: движок
// продолжает с начальным состоянием.
func (e *Engine) Restore(ctx context.Context) {
	if e.store == nil {
		return
	}

	loaded, err := e.store.Load(ctx)
	if err != nil {
		if errors.Is(err, repository.ErrStateNotFound) {
			e.log.Info("no saved state, starting fresh")
		} else {
			e.log.Warn("failed to load state, starting fresh", zap.Error(err))
		}
		return
	}

	loaded.Normalize(e.cfg.BaseStake)

	e.mu.Lock()
	e.state = loaded
	e.mu.Unlock()

	e.publishGauges(loaded)
	e.log.Info("state restored",
		utils.Stake(loaded.CurrentStake),
		utils.Result(loaded.LastResult),
		zap.Int("trades", loaded.TradeCount))
}

// Snapshot возвращает копию текущего состояния
func (e *Engine) Snapshot() *models.TradingState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone()
}

// Phase возвращает текущую фазу цикла
func (e *Engine) Phase() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// Busy возвращает true если цикл в работе
func (e *Engine) Busy() bool {
	return atomic.LoadInt32(&e.inFlight) == 1
}

// Halted возвращает true после стопа риск-гейта
func (e *Engine) Halted() bool {
	return atomic.LoadInt32(&e.halted) == 1
}

// Rearm снимает стоп риск-гейта (новая сессия)
func (e *Engine) Rearm() {
	atomic.StoreInt32(&e.halted, 0)
}

// Wait ждёт завершения цикла в работе
//
// Вызывается после отмены контекста сессии: тики, пришедшие позже,
// цикл уже не запускают.
func (e *Engine) Wait() {
	e.startMu.Lock()
	defer e.startMu.Unlock()
	e.wg.Wait()
}

// OnTick обрабатывает тик. Не блокируется.
//
// Пока цикл в работе, тик только обновляет последнюю цену.
// После стопа риск-гейта циклы не запускаются.
func (e *Engine) OnTick(ctx context.Context, req Requester, tick *deriv.Tick) {
	if tick == nil {
		return
	}

	if e.Halted() {
		e.recordPrice(ctx, tick)
		RecordTick("halted")
		return
	}

	if !atomic.CompareAndSwapInt32(&e.inFlight, 0, 1) {
		e.recordPrice(ctx, tick)
		RecordTick("busy")
		return
	}

	e.startMu.Lock()
	if ctx.Err() != nil {
		e.startMu.Unlock()
		atomic.StoreInt32(&e.inFlight, 0)
		RecordTick("stopped")
		return
	}
	e.wg.Add(1)
	e.startMu.Unlock()

	RecordTick("cycle")
	go func() {
		defer e.wg.Done()
		defer atomic.StoreInt32(&e.inFlight, 0)
		e.runCycle(ctx, req, tick)
	}()
}

// OnBalance применяет подтверждённый баланс (authorize или push)
//
// Первый известный баланс становится начальным.
func (e *Engine) OnBalance(ctx context.Context, balance float64) {
	e.mu.Lock()
	e.state.LastBalance = models.Float(balance)
	if e.state.InitialBalance == nil {
		e.state.InitialBalance = models.Float(balance)
		e.log.Info("initial balance recorded", utils.Balance(balance))
	}
	e.state.UpdatedAt = e.now()
	snapshot := e.state.Clone()
	e.mu.Unlock()

	Balance.Set(balance)
	PnL.Set(snapshot.PnL())
	e.persist(ctx)
}

// Persist сохраняет текущее состояние (периодический снапшот)
func (e *Engine) Persist(ctx context.Context) {
	e.persist(ctx)
}

// recordPrice обновляет последнюю цену без запуска цикла
func (e *Engine) recordPrice(ctx context.Context, tick *deriv.Tick) {
	digit := utils.LastDigit(tick.Quote, int(tick.PipSize))
	e.mu.Lock()
	e.state.LastPrice = models.Float(tick.Quote)
	e.state.LastDigit = digit
	e.state.UpdatedAt = e.now()
	e.mu.Unlock()

	e.persist(ctx)
}

// setPhase переводит цикл в новую фазу
func (e *Engine) setPhase(to string) {
	e.mu.Lock()
	from := e.phase
	e.phase = to
	e.mu.Unlock()

	if from != to && !CanTransition(from, to) {
		e.log.Warn("unexpected phase transition", zap.String("from", from), zap.String("to", to))
	}
}

// persist сохраняет текущее состояние; ошибка логируется и не прерывает работу
//
// Снапшот снимается под saveMu, поэтому каждое сохранение не старше
// предыдущего.
func (e *Engine) persist(ctx context.Context) {
	if e.store == nil {
		return
	}

	e.saveMu.Lock()
	defer e.saveMu.Unlock()
	snapshot := e.Snapshot()

	// снапшот пишется и после отмены сессии
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()

	if err := e.store.Save(ctx, snapshot); err != nil {
		StateSaveErrors.Inc()
		e.log.Error("failed to save state", zap.Error(err))
		e.event(EventError, "state save failed: "+err.Error())
	}
}

func (e *Engine) halt(reason string, pnl float64) {
	if !atomic.CompareAndSwapInt32(&e.halted, 0, 1) {
		return
	}

	e.log.Warn("risk gate stop", zap.String("reason", reason), utils.PNL(pnl))

	e.onHaltMu.RLock()
	onHalt := e.onHalt
	e.onHaltMu.RUnlock()

	if onHalt != nil {
		onHalt(reason, pnl)
	}
}

func (e *Engine) event(kind, message string, fields ...zap.Field) {
	if e.journal != nil {
		e.journal.Event(kind, message, fields...)
	}
}

func (e *Engine) publishGauges(s *models.TradingState) {
	CurrentStake.Set(s.CurrentStake)
	VirtualLossCounter.Set(float64(s.VirtualLossCounter))
	PnL.Set(s.PnL())
	if s.LastBalance != nil {
		Balance.Set(*s.LastBalance)
	}
}
