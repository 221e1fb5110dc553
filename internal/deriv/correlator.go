package deriv

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"digitbot/pkg/ratelimit"
	"digitbot/pkg/utils"
)

// DefaultRequestTimeout - таймаут запроса по умолчанию
const DefaultRequestTimeout = 10 * time.Second

// Sender - всё, что умеет отправить сообщение в текущее соединение
type Sender interface {
	Send(v interface{}) error
}

// result - то, чем завершается ожидание запроса
type result struct {
	env *Envelope
	err error
}

// pendingRequest - запрос, ожидающий ответа
type pendingRequest struct {
	op string
	ch chan result // буфер 1: resolve никогда не блокируется
}

// Correlator сопоставляет ответы с запросами по passthrough.client_id
//
// Каждый токен завершается ровно один раз: ответом, таймаутом,
// отменой контекста или RejectAll. Завершённый токен удаляется из
// таблицы, поздний ответ на него отбрасывается.
type Correlator struct {
	sender  Sender
	limiter *ratelimit.RateLimiter
	timeout time.Duration
	log     *utils.Logger

	mu      sync.Mutex
	pending map[string]*pendingRequest
	seq     uint64
}

// NewCorrelator создаёт коррелятор
//
// limiter может быть nil (без ограничения частоты).
func NewCorrelator(sender Sender, limiter *ratelimit.RateLimiter, timeout time.Duration) *Correlator {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Correlator{
		sender:  sender,
		limiter: limiter,
		timeout: timeout,
		log:     utils.L().WithComponent("correlator"),
		pending: make(map[string]*pendingRequest),
	}
}

// SetLogger заменяет логгер
func (c *Correlator) SetLogger(l *utils.Logger) {
	c.log = l.WithComponent("correlator")
}

// nextToken генерирует уникальный в пределах процесса токен
func (c *Correlator) nextToken() string {
	seq := atomic.AddUint64(&c.seq, 1)
	return fmt.Sprintf("c%d_%d_%s", time.Now().UnixMilli(), seq, uuid.NewString()[:8])
}

// Request отправляет запрос и ждёт ответ с тем же client_id
//
// timeout <= 0 означает таймаут по умолчанию. Ответ с полем error
// возвращается как *RequestRejectedError.
func (c *Correlator) Request(ctx context.Context, req Request, timeout time.Duration) (*Envelope, error) {
	if timeout <= 0 {
		timeout = c.timeout
	}
	op := req.operation()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	token := c.nextToken()
	p := &pendingRequest{op: op, ch: make(chan result, 1)}

	c.mu.Lock()
	c.pending[token] = p
	c.mu.Unlock()

	req.attach(&Passthrough{ClientID: token})

	if err := c.sender.Send(req); err != nil {
		c.remove(token)
		return nil, err
	}

	c.log.Debug("request sent", zap.String("op", op), utils.ClientID(token))

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-p.ch:
		return c.complete(op, r)

	case <-timer.C:
		if !c.remove(token) {
			// ответ успел прийти одновременно с таймаутом
			return c.complete(op, <-p.ch)
		}
		c.log.Warn("request timed out",
			zap.String("op", op),
			utils.ClientID(token),
			zap.Duration("timeout", timeout))
		return nil, &RequestTimeoutError{Op: op, ClientID: token, Timeout: timeout}

	case <-ctx.Done():
		if !c.remove(token) {
			return c.complete(op, <-p.ch)
		}
		return nil, ctx.Err()
	}
}

func (c *Correlator) complete(op string, r result) (*Envelope, error) {
	if r.err != nil {
		return nil, r.err
	}
	if r.env.Error != nil {
		return r.env, &RequestRejectedError{Op: op, Code: r.env.Error.Code, Message: r.env.Error.Message}
	}
	return r.env, nil
}

// Resolve завершает ожидание по токену. Возвращает false для
// неизвестного или уже завершённого токена. Не блокируется.
func (c *Correlator) Resolve(token string, env *Envelope) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pending[token]
	if !ok {
		return false
	}
	delete(c.pending, token)
	p.ch <- result{env: env}
	return true
}

// RejectAll завершает все ожидающие запросы ошибкой
//
// Возвращает количество отклонённых запросов.
func (c *Correlator) RejectAll(err error) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.pending)
	for token, p := range c.pending {
		delete(c.pending, token)
		p.ch <- result{err: err}
		c.log.Debug("request rejected", zap.String("op", p.op), utils.ClientID(token), zap.Error(err))
	}
	return n
}

// Pending возвращает количество ожидающих запросов
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Correlator) remove(token string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.pending[token]; !ok {
		return false
	}
	delete(c.pending, token)
	return true
}
