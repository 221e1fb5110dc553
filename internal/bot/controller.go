package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"digitbot/internal/config"
	"digitbot/internal/deriv"
	"digitbot/internal/models"
	"digitbot/pkg/ratelimit"
	"digitbot/pkg/utils"
)

// ErrNoSession - нет активной сессии
var ErrNoSession = errors.New("no active session")

// CredentialStore - хранилище токена для AUTO_RESUME
type CredentialStore interface {
	Save(ctx context.Context, token string) error
	Load(ctx context.Context) (string, error)
	Clear(ctx context.Context) error
}

// ControllerDeps - зависимости контроллера
type ControllerDeps struct {
	Engine      *Engine
	Credentials CredentialStore
	Flag        RunFlag
	Journal     Journal
	Hub         WebSocketHub
	Logger      *utils.Logger
}

// session - одно подключение к площадке со всем, что живёт вместе с ним
type session struct {
	id        string
	transport *deriv.Transport
	corr      *deriv.Correlator
	sched     *Scheduler
	ctx       context.Context
	cancel    context.CancelFunc
	startedAt time.Time
	lastTick  int64 // atomic, unix nano
	log       *utils.Logger
}

func (s *session) touchTick() {
	atomic.StoreInt64(&s.lastTick, time.Now().UnixNano())
}

func (s *session) sinceLastTick() time.Duration {
	return time.Since(time.Unix(0, atomic.LoadInt64(&s.lastTick)))
}

// Controller - верхний уровень: startSession / stopSession / getStatus
//
// Владеет не более чем одной сессией. Новая сессия заменяет старую
// целиком. Движок (и состояние торговли) переживает сессии.
type Controller struct {
	cfg     *config.Config
	engine  *Engine
	creds   CredentialStore
	flag    RunFlag
	journal Journal
	hub     WebSocketHub
	limiter *ratelimit.RateLimiter
	log     *utils.Logger

	// сериализует Start/Stop
	opMu sync.Mutex

	mu         sync.RWMutex
	session    *session
	lastStatus string
	lastError  string
	haltReason string
}

// NewController создаёт контроллер
func NewController(cfg *config.Config, deps ControllerDeps) *Controller {
	log := deps.Logger
	if log == nil {
		log = utils.L()
	}

	c := &Controller{
		cfg:        cfg,
		engine:     deps.Engine,
		creds:      deps.Credentials,
		flag:       deps.Flag,
		journal:    deps.Journal,
		hub:        deps.Hub,
		limiter:    ratelimit.NewRateLimiter(cfg.Deriv.RequestRate, cfg.Deriv.RequestBurst),
		log:        log.WithComponent("controller"),
		lastStatus: models.SessionStopped,
	}
	c.engine.SetOnHalt(c.onHalt)
	return c
}

// Engine возвращает движок решений
func (c *Controller) Engine() *Engine {
	return c.engine
}

// StartSession подключается к площадке с токеном
//
// Пустой токен заменяется токеном из конфигурации. *deriv.AuthError
// возвращается вызывающему, сессия при этом не создаётся. Сетевая
// ошибка не возвращается: сессия живёт и переподключается сама.
func (c *Controller) StartSession(ctx context.Context, token string) error {
	if token == "" {
		token = c.cfg.Deriv.APIToken
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	if old := c.current(); old != nil {
		old.log.Info("replacing active session")
		c.teardown(old)
	}

	c.engine.Rearm()
	s := c.newSession(token)

	c.mu.Lock()
	c.session = s
	c.lastError = ""
	c.haltReason = ""
	c.mu.Unlock()

	err := s.transport.Connect(ctx)
	if err != nil {
		if deriv.IsAuthError(err) {
			c.teardown(s)
			c.setLast(models.SessionAuthFailed, err.Error())
			s.log.Error("authorization failed", zap.Error(err))
			c.event(EventSession, "authorization failed: "+err.Error())
			c.broadcastStatus()
			return err
		}
		s.log.Warn("venue unreachable, session keeps reconnecting", zap.Error(err))
		c.event(EventError, "initial connect failed: "+err.Error())
	}

	c.startScheduler(s)

	if c.creds != nil {
		if err := c.creds.Save(ctx, token); err != nil {
			s.log.Warn("failed to store credential", zap.Error(err))
		}
	}

	s.log.Info("session started", utils.Token(token))
	c.event(EventSession, "session started on "+c.cfg.Trading.Market)
	c.broadcastStatus()
	return nil
}

// StopSession останавливает сессию по команде пользователя
//
// Сохранённый токен удаляется: AUTO_RESUME её не поднимет.
func (c *Controller) StopSession(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	s := c.current()
	if s == nil {
		return ErrNoSession
	}

	c.teardown(s)
	c.setLast(models.SessionStopped, "")

	if c.creds != nil {
		if err := c.creds.Clear(ctx); err != nil {
			c.log.Warn("failed to clear credential", zap.Error(err))
		}
	}

	s.log.Info("session stopped")
	c.event(EventSession, "session stopped")
	c.broadcastStatus()
	return nil
}

// Shutdown останавливает сессию при выходе процесса, токен сохраняется
func (c *Controller) Shutdown(ctx context.Context) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if s := c.current(); s != nil {
		c.teardown(s)
		c.setLast(models.SessionStopped, "")
		c.event(EventSession, "session closed on shutdown")
		return
	}
	c.engine.Persist(ctx)
}

// ResumeSaved поднимает сессию с сохранённым токеном
func (c *Controller) ResumeSaved(ctx context.Context) error {
	if c.creds == nil {
		return ErrNoSession
	}
	token, err := c.creds.Load(ctx)
	if err != nil {
		return fmt.Errorf("load credential: %w", err)
	}
	if token == "" {
		return ErrNoSession
	}
	return c.StartSession(ctx, token)
}

// Status возвращает снимок сессии и состояния торговли
func (c *Controller) Status() *models.SessionStatus {
	c.mu.RLock()
	s := c.session
	lastStatus := c.lastStatus
	lastError := c.lastError
	haltReason := c.haltReason
	c.mu.RUnlock()

	state := c.engine.Snapshot()
	status := &models.SessionStatus{
		Status:     lastStatus,
		Phase:      c.engine.Phase(),
		Paused:     c.flag != nil && !c.flag.ShouldRun(),
		HaltReason: haltReason,
		Market:     c.cfg.Trading.Market,
		DailyPnL:   state.PnL(),
		State:      state,
		Error:      lastError,
	}

	if s == nil {
		return status
	}

	startedAt := s.startedAt
	status.StartedAt = &startedAt
	status.Connected = s.transport.IsConnected()
	status.Reconnects = s.transport.Reconnects()
	status.Pending = s.corr.Pending()
	if atomic.LoadInt64(&s.lastTick) > 0 {
		status.LastTickAge = s.sinceLastTick().Round(time.Millisecond).String()
	}

	switch {
	case c.engine.Halted():
		status.Status = models.SessionHalted
	default:
		switch s.transport.GetState() {
		case deriv.StateConnected:
			status.Status = models.SessionRunning
		case deriv.StateConnecting, deriv.StateDisconnected:
			status.Status = models.SessionConnecting
		case deriv.StateReconnecting:
			status.Status = models.SessionReconnecting
		case deriv.StateAuthFailed:
			status.Status = models.SessionAuthFailed
		default:
			status.Status = models.SessionStopped
		}
	}
	return status
}

// ============================================================
// Сессия
// ============================================================

func (c *Controller) newSession(token string) *session {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()

	s := &session{
		id:        id,
		ctx:       ctx,
		cancel:    cancel,
		startedAt: time.Now(),
		log:       c.log.With(zap.String("session", id[:8])),
	}

	dc := c.cfg.Deriv
	s.transport = deriv.NewTransport(deriv.TransportConfig{
		URL:                dc.URL(),
		Market:             c.cfg.Trading.Market,
		ConnectTimeout:     dc.ConnectTimeout,
		PingInterval:       dc.PingInterval,
		ReconnectBaseDelay: dc.ReconnectBaseDelay,
		ReconnectMaxDelay:  dc.ReconnectMaxDelay,
	}, token)
	s.transport.SetLogger(s.log)

	s.corr = deriv.NewCorrelator(s.transport, c.limiter, dc.RequestTimeout)
	s.corr.SetLogger(s.log)

	s.transport.SetOnMessage(func(raw []byte) { c.dispatch(s, raw) })
	s.transport.SetOnConnect(func(auth *deriv.Authorization) { c.onConnected(s, auth) })
	s.transport.SetOnDisconnect(func(err error) { c.onDisconnected(s, err) })
	s.transport.SetOnAuthFailure(func(err error) { go c.onAuthFailure(s, err) })
	s.transport.SetOnRetry(func(attempt int, delay time.Duration) { c.onRetry(s, attempt, delay) })

	s.sched = NewScheduler(ctx, s.log)
	return s
}

// teardown: стоп-флаг, отказ ожидающим запросам, закрытие транспорта,
// остановка планировщика, ожидание цикла в работе, финальный снапшот
func (c *Controller) teardown(s *session) {
	s.cancel()

	if n := s.corr.RejectAll(deriv.ErrSessionStopped); n > 0 {
		s.log.Info("pending requests rejected", zap.Int("count", n))
	}
	if err := s.transport.Close(); err != nil {
		s.log.Debug("transport close", zap.Error(err))
	}
	s.sched.Stop()
	c.engine.Wait()
	c.engine.Persist(context.Background())

	c.mu.Lock()
	if c.session == s {
		c.session = nil
	}
	c.mu.Unlock()

	SetConnected(false)
	PendingRequests.Set(0)
}

func (c *Controller) startScheduler(s *session) {
	s.touchTick()

	s.sched.Every("state-save", c.cfg.Storage.StateSaveInterval, func(ctx context.Context) {
		c.engine.Persist(ctx)
	})

	s.sched.Every("metrics", 5*time.Second, func(context.Context) {
		PendingRequests.Set(float64(s.corr.Pending()))
	})

	watchdog := c.cfg.Trading.TickWatchdog
	if watchdog > 0 {
		check := watchdog / 2
		if check < time.Second {
			check = time.Second
		}
		s.sched.Every("tick-watchdog", check, func(context.Context) {
			c.checkTickStream(s, watchdog)
		})
	}
}

// checkTickStream переподписывается на тики, если поток молчит дольше limit
func (c *Controller) checkTickStream(s *session, limit time.Duration) {
	if !s.transport.IsConnected() {
		return
	}
	silent := s.sinceLastTick()
	if silent < limit {
		return
	}

	s.log.Warn("tick stream silent, resubscribing", zap.Duration("silent", silent))
	c.event(EventReconnect, fmt.Sprintf("no ticks for %v, resubscribing", silent.Round(time.Second)))

	s.touchTick()
	if err := s.transport.Send(&deriv.TicksRequest{Ticks: c.cfg.Trading.Market, Subscribe: 1}); err != nil {
		s.log.Warn("resubscribe failed", zap.Error(err))
	}
}

// ============================================================
// Обработчики транспорта (горутина чтения / переподключения)
// ============================================================

// dispatch маршрутизирует входящее сообщение. Не блокируется.
func (c *Controller) dispatch(s *session, raw []byte) {
	msg := deriv.Classify(raw)

	switch msg.Kind {
	case deriv.KindCorrelated:
		if !s.corr.Resolve(msg.ClientID, msg.Envelope) {
			s.log.Debug("reply for unknown or expired request dropped", utils.ClientID(msg.ClientID))
		}

	case deriv.KindTick:
		s.touchTick()
		if s.ctx.Err() != nil {
			return
		}
		c.engine.OnTick(s.ctx, s.corr, msg.Envelope.Tick)

	case deriv.KindBalance:
		c.engine.OnBalance(s.ctx, msg.Envelope.Balance.Balance)

	case deriv.KindAuthorize:
		if msg.Envelope.Error != nil {
			s.log.Warn("authorize error push",
				zap.String("code", msg.Envelope.Error.Code),
				zap.String("message", msg.Envelope.Error.Message))
			return
		}
		if msg.Envelope.Authorize != nil {
			c.engine.OnBalance(s.ctx, msg.Envelope.Authorize.Balance)
		}

	default:
		if msg.Envelope != nil && msg.Envelope.Error != nil {
			s.log.Warn("venue error",
				zap.String("msg_type", msg.Envelope.MsgType),
				zap.String("code", msg.Envelope.Error.Code),
				zap.String("message", msg.Envelope.Error.Message))
			c.event(EventError, fmt.Sprintf("venue error on %s: %s", msg.Envelope.MsgType, msg.Envelope.Error.Message))
			return
		}
		if msg.Err != nil {
			s.log.Debug("undecodable message dropped", zap.Error(msg.Err), zap.Int("bytes", len(raw)))
			return
		}
		s.log.Debug("unrecognized message dropped", zap.String("msg_type", msg.Envelope.MsgType))
	}
}

func (c *Controller) onConnected(s *session, auth *deriv.Authorization) {
	SetConnected(true)
	s.touchTick()
	if auth != nil {
		s.log.Info("authorized", zap.String("loginid", auth.LoginID), utils.Balance(auth.Balance))
		c.event(EventSession, fmt.Sprintf("authorized %s balance %.2f %s", auth.LoginID, auth.Balance, auth.Currency))
		c.engine.OnBalance(s.ctx, auth.Balance)
	}
	c.broadcastStatus()
}

func (c *Controller) onDisconnected(s *session, err error) {
	SetConnected(false)
	n := s.corr.RejectAll(deriv.ErrConnectionLost)
	s.log.Warn("connection lost", zap.Error(err), zap.Int("rejected", n))
	c.event(EventReconnect, fmt.Sprintf("connection lost (%d pending rejected): %v", n, err))
	c.broadcastStatus()
}

func (c *Controller) onRetry(s *session, attempt int, delay time.Duration) {
	Reconnects.Inc()
	c.event(EventReconnect, fmt.Sprintf("reconnecting in %v (attempt %d)", delay, attempt))
}

// onAuthFailure - токен отклонён при переподключении: сессия завершается
func (c *Controller) onAuthFailure(s *session, err error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.current() != s {
		return
	}

	c.teardown(s)
	c.setLast(models.SessionAuthFailed, err.Error())
	s.log.Error("session terminated: authorization rejected", zap.Error(err))
	c.event(EventSession, "session terminated: "+err.Error())
	c.broadcastStatus()
}

// onHalt - риск-гейт остановил торговлю; соединение остаётся
func (c *Controller) onHalt(reason string, pnl float64) {
	c.mu.Lock()
	c.haltReason = reason
	c.mu.Unlock()

	msg := fmt.Sprintf("trading halted: %s (pnl %.2f)", reason, pnl)
	c.log.Warn("trading halted", zap.String("reason", reason), utils.PNL(pnl))
	c.event(EventRisk, msg)
	if c.hub != nil {
		c.hub.BroadcastNotification(EventRisk, msg)
	}
	c.broadcastStatus()
}

// ============================================================
// Вспомогательные методы
// ============================================================

func (c *Controller) current() *session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

func (c *Controller) setLast(status, errText string) {
	c.mu.Lock()
	c.lastStatus = status
	c.lastError = errText
	c.mu.Unlock()
}

func (c *Controller) event(kind, message string) {
	if c.journal != nil {
		c.journal.Event(kind, message)
	}
}

func (c *Controller) broadcastStatus() {
	if c.hub != nil {
		c.hub.BroadcastStatus(c.Status())
	}
}
