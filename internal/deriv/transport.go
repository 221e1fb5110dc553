package deriv

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"digitbot/pkg/retry"
	"digitbot/pkg/utils"
)

// TransportConfig конфигурация сессионного транспорта
type TransportConfig struct {
	// Полный URL площадки (с app_id)
	URL string
	// Символ, на тики которого подписываемся после авторизации
	Market string
	// Таймаут dial + authorize
	ConnectTimeout time.Duration
	// Интервал ping для проверки соединения (0 = без ping)
	PingInterval time.Duration
	// Таймаут ожидания pong
	PongTimeout time.Duration
	// Задержка переподключения: base * 1.5^n, не больше max
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration
	// Таймаут записи одного фрейма
	WriteTimeout time.Duration
}

// DefaultTransportConfig возвращает конфигурацию по умолчанию
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		ConnectTimeout:     10 * time.Second,
		PingInterval:       30 * time.Second,
		PongTimeout:        10 * time.Second,
		ReconnectBaseDelay: 2 * time.Second,
		ReconnectMaxDelay:  60 * time.Second,
		WriteTimeout:       5 * time.Second,
	}
}

// ConnState состояние соединения
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateAuthFailed
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateAuthFailed:
		return "auth_failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Transport владеет одним websocket-соединением сессии
//
// Жизненный цикл:
// 1. NewTransport(cfg, token)
// 2. Установить callbacks: SetOnMessage, SetOnConnect, SetOnDisconnect, ...
// 3. Connect(ctx): dial + authorize + подписки на тики и баланс
// 4. Send(v) из любой горутины
// 5. Close(): соединение закрыто, переподключений больше не будет
//
// Транспорт одноразовый: новая сессия создаёт новый транспорт.
// При разрыве сам переподключается с backoff, повторяя authorize
// и подписки. Отказ в авторизации при переподключении фатален.
type Transport struct {
	config TransportConfig
	token  string
	log    *utils.Logger

	conn    *websocket.Conn
	connMu  sync.RWMutex
	writeMu sync.Mutex // gorilla допускает одного писателя

	state      int32 // atomic ConnState
	reconnects int32 // atomic, успешные переподключения

	backoff   *retry.Backoff
	closeChan chan struct{}
	closeOnce sync.Once

	// Callbacks
	onMessage     func([]byte)
	onConnect     func(*Authorization)
	onDisconnect  func(error)
	onAuthFailure func(error)
	onRetry       func(attempt int, delay time.Duration)
	callbackMu    sync.RWMutex
}

// NewTransport создаёт транспорт для токена
func NewTransport(config TransportConfig, token string) *Transport {
	def := DefaultTransportConfig()
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = def.ConnectTimeout
	}
	if config.PongTimeout <= 0 {
		config.PongTimeout = def.PongTimeout
	}
	if config.ReconnectBaseDelay <= 0 {
		config.ReconnectBaseDelay = def.ReconnectBaseDelay
	}
	if config.ReconnectMaxDelay <= 0 {
		config.ReconnectMaxDelay = def.ReconnectMaxDelay
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = def.WriteTimeout
	}

	return &Transport{
		config:    config,
		token:     token,
		log:       utils.L().WithComponent("transport"),
		backoff:   retry.NewBackoff(retry.ReconnectConfig(config.ReconnectBaseDelay, config.ReconnectMaxDelay)),
		closeChan: make(chan struct{}),
	}
}

// SetLogger заменяет логгер
func (t *Transport) SetLogger(l *utils.Logger) {
	t.log = l.WithComponent("transport")
}

// SetOnMessage устанавливает callback для входящих сообщений
//
// Вызывается синхронно из горутины чтения и не должен блокироваться.
func (t *Transport) SetOnMessage(handler func([]byte)) {
	t.callbackMu.Lock()
	t.onMessage = handler
	t.callbackMu.Unlock()
}

// SetOnConnect устанавливает callback успешной авторизации (первой и после переподключения)
func (t *Transport) SetOnConnect(handler func(*Authorization)) {
	t.callbackMu.Lock()
	t.onConnect = handler
	t.callbackMu.Unlock()
}

// SetOnDisconnect устанавливает callback разрыва соединения
func (t *Transport) SetOnDisconnect(handler func(error)) {
	t.callbackMu.Lock()
	t.onDisconnect = handler
	t.callbackMu.Unlock()
}

// SetOnAuthFailure устанавливает callback отказа авторизации при переподключении
func (t *Transport) SetOnAuthFailure(handler func(error)) {
	t.callbackMu.Lock()
	t.onAuthFailure = handler
	t.callbackMu.Unlock()
}

// SetOnRetry устанавливает callback перед каждой попыткой переподключения
func (t *Transport) SetOnRetry(handler func(attempt int, delay time.Duration)) {
	t.callbackMu.Lock()
	t.onRetry = handler
	t.callbackMu.Unlock()
}

// GetState возвращает текущее состояние соединения
func (t *Transport) GetState() ConnState {
	return ConnState(atomic.LoadInt32(&t.state))
}

// IsConnected проверяет, установлено ли соединение
func (t *Transport) IsConnected() bool {
	return t.GetState() == StateConnected
}

// Reconnects возвращает количество успешных переподключений
func (t *Transport) Reconnects() int {
	return int(atomic.LoadInt32(&t.reconnects))
}

// Connect устанавливает соединение: dial, authorize, подписки
//
// *AuthError возвращается сразу и транспорт больше не пытается
// подключиться. Сетевая ошибка возвращается как *ConnectionError,
// но транспорт уже запустил переподключение в фоне.
func (t *Transport) Connect(ctx context.Context) error {
	if t.token == "" {
		atomic.StoreInt32(&t.state, int32(StateAuthFailed))
		return &AuthError{Code: CodeMissingToken, Message: "api token is empty"}
	}
	if !atomic.CompareAndSwapInt32(&t.state, int32(StateDisconnected), int32(StateConnecting)) {
		return fmt.Errorf("transport already started (state: %s)", t.GetState())
	}

	auth, err := t.dial(ctx)
	if err != nil {
		if IsAuthError(err) {
			atomic.StoreInt32(&t.state, int32(StateAuthFailed))
			return err
		}
		if errors.Is(err, ErrTransportClosed) {
			return err
		}

		t.log.Warn("initial connect failed, will retry", zap.Error(err))
		atomic.StoreInt32(&t.state, int32(StateReconnecting))
		go t.reconnectLoop()
		return err
	}

	t.established(auth)
	t.log.Info("connected", zap.String("market", t.config.Market))
	return nil
}

// dial подключается, авторизуется и подписывается на потоки
func (t *Transport) dial(ctx context.Context) (*Authorization, error) {
	ctx, cancel := context.WithTimeout(ctx, t.config.ConnectTimeout)
	defer cancel()

	dialer := websocket.Dialer{
		HandshakeTimeout: t.config.ConnectTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, t.config.URL, nil)
	if err != nil {
		return nil, &ConnectionError{Op: "dial", Err: err}
	}

	auth, err := t.authorize(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, err
	}

	subs := []interface{}{
		&TicksRequest{Ticks: t.config.Market, Subscribe: 1},
		&BalanceRequest{Balance: 1, Subscribe: 1},
	}
	for _, sub := range subs {
		if err := t.writeFrame(conn, sub); err != nil {
			conn.Close()
			return nil, &ConnectionError{Op: "subscribe", Err: err}
		}
	}

	t.armReadDeadline(conn)
	conn.SetPongHandler(func(string) error {
		t.armReadDeadline(conn)
		return nil
	})

	t.connMu.Lock()
	if t.isClosed() {
		t.connMu.Unlock()
		conn.Close()
		return nil, ErrTransportClosed
	}
	t.conn = conn
	t.connMu.Unlock()

	return auth, nil
}

// authorize отправляет токен и ждёт ответ authorize
//
// Сообщения, пришедшие до ответа, пропускаются.
func (t *Transport) authorize(ctx context.Context, conn *websocket.Conn) (*Authorization, error) {
	if err := t.writeFrame(conn, &AuthorizeRequest{Authorize: t.token}); err != nil {
		return nil, &ConnectionError{Op: "authorize", Err: err}
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(t.config.ConnectTimeout)
	}
	conn.SetReadDeadline(deadline)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil, &ConnectionError{Op: "authorize", Err: err}
		}

		env, err := decodeEnvelope(data)
		if err != nil {
			continue
		}
		if env.MsgType != "authorize" && env.Authorize == nil {
			continue
		}
		if env.Error != nil {
			return nil, &AuthError{Code: env.Error.Code, Message: env.Error.Message}
		}
		if env.Authorize == nil {
			return nil, &AuthError{Code: "EmptyResponse", Message: "authorize response without payload"}
		}
		return env.Authorize, nil
	}
}

// established переводит транспорт в Connected и запускает pumps
func (t *Transport) established(auth *Authorization) {
	t.connMu.RLock()
	conn := t.conn
	t.connMu.RUnlock()

	if conn == nil || t.isClosed() {
		return
	}

	atomic.StoreInt32(&t.state, int32(StateConnected))
	t.backoff.Reset()

	t.callbackMu.RLock()
	onConnect := t.onConnect
	t.callbackMu.RUnlock()

	if onConnect != nil {
		onConnect(auth)
	}

	go t.readPump(conn)
	if t.config.PingInterval > 0 {
		go t.pingPump(conn)
	}
}

func (t *Transport) armReadDeadline(conn *websocket.Conn) {
	if t.config.PingInterval <= 0 {
		conn.SetReadDeadline(time.Time{})
		return
	}
	conn.SetReadDeadline(time.Now().Add(t.config.PingInterval + t.config.PongTimeout))
}

// readPump читает сообщения и синхронно отдаёт их в callback
func (t *Transport) readPump(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.handleDisconnect(conn, err)
			return
		}
		t.armReadDeadline(conn)

		t.callbackMu.RLock()
		onMessage := t.onMessage
		t.callbackMu.RUnlock()

		if onMessage != nil {
			onMessage(data)
		}
	}
}

// pingPump отправляет ping для проверки соединения
func (t *Transport) pingPump(conn *websocket.Conn) {
	ticker := time.NewTicker(t.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.closeChan:
			return
		case <-ticker.C:
			if !t.isCurrent(conn) {
				return
			}
			deadline := time.Now().Add(t.config.PongTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				t.log.Warn("ping failed", zap.Error(err))
				t.handleDisconnect(conn, err)
				return
			}
		}
	}
}

// handleDisconnect обрабатывает разрыв соединения
//
// Срабатывает один раз на соединение: повторные вызовы для того же
// или устаревшего conn игнорируются.
func (t *Transport) handleDisconnect(conn *websocket.Conn, err error) {
	t.connMu.Lock()
	if t.conn != conn {
		t.connMu.Unlock()
		return
	}
	t.conn = nil
	t.connMu.Unlock()

	conn.Close()

	if t.isClosed() {
		return
	}

	atomic.StoreInt32(&t.state, int32(StateReconnecting))
	t.log.Warn("connection lost", zap.Error(err))

	t.callbackMu.RLock()
	onDisconnect := t.onDisconnect
	t.callbackMu.RUnlock()

	if onDisconnect != nil {
		onDisconnect(&ConnectionError{Op: "read", Err: err})
	}

	go t.reconnectLoop()
}

// reconnectLoop переподключается с backoff до успеха, Close или отказа в авторизации
func (t *Transport) reconnectLoop() {
	for attempt := 1; ; attempt++ {
		delay := t.backoff.Next()

		t.callbackMu.RLock()
		onRetry := t.onRetry
		t.callbackMu.RUnlock()
		if onRetry != nil {
			onRetry(attempt, delay)
		}

		t.log.Info("reconnecting",
			zap.Duration("delay", delay),
			zap.Int("attempt", attempt))

		timer := time.NewTimer(delay)
		select {
		case <-t.closeChan:
			timer.Stop()
			return
		case <-timer.C:
		}

		auth, err := t.dial(context.Background())
		if err != nil {
			if errors.Is(err, ErrTransportClosed) {
				return
			}
			if IsAuthError(err) {
				atomic.StoreInt32(&t.state, int32(StateAuthFailed))
				t.log.Error("authorization rejected on reconnect", zap.Error(err))

				t.callbackMu.RLock()
				onAuthFailure := t.onAuthFailure
				t.callbackMu.RUnlock()
				if onAuthFailure != nil {
					onAuthFailure(err)
				}
				return
			}

			t.log.Warn("reconnect failed", zap.Error(err), zap.Int("attempt", attempt))
			continue
		}

		atomic.AddInt32(&t.reconnects, 1)
		t.established(auth)
		t.log.Info("reconnected", zap.Int("attempts", attempt))
		return
	}
}

// Send сериализует и отправляет сообщение в текущее соединение
func (t *Transport) Send(v interface{}) error {
	if t.GetState() != StateConnected {
		return &ConnectionError{Op: "write", Err: ErrNotConnected}
	}

	t.connMu.RLock()
	conn := t.conn
	t.connMu.RUnlock()

	if conn == nil {
		return &ConnectionError{Op: "write", Err: ErrNotConnected}
	}

	if err := t.writeFrame(conn, v); err != nil {
		return &ConnectionError{Op: "write", Err: err}
	}
	return nil
}

func (t *Transport) writeFrame(conn *websocket.Conn, v interface{}) error {
	data, err := encode(v)
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(t.config.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Close закрывает соединение и останавливает переподключение
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closeChan)
		atomic.StoreInt32(&t.state, int32(StateClosed))

		t.connMu.Lock()
		conn := t.conn
		t.conn = nil
		t.connMu.Unlock()

		if conn != nil {
			t.writeMu.Lock()
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			t.writeMu.Unlock()
			err = conn.Close()
		}
		t.log.Info("transport closed")
	})
	return err
}

func (t *Transport) isClosed() bool {
	select {
	case <-t.closeChan:
		return true
	default:
		return false
	}
}

func (t *Transport) isCurrent(conn *websocket.Conn) bool {
	t.connMu.RLock()
	defer t.connMu.RUnlock()
	return t.conn == conn
}
