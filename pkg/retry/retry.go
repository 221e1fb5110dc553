package retry

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"
)

// Config конфигурация экспоненциального backoff
//
// delay(attempt) = min(InitialDelay * Multiplier^attempt, MaxDelay) ± jitter
//
// Для переподключения к площадке используется Multiplier = 1.5 и
// JitterFactor = 0, чтобы задержки были неубывающими.
type Config struct {
	// MaxRetries - максимальное количество попыток (включая первую)
	// 0 или отрицательное = бесконечные попытки
	MaxRetries int

	// InitialDelay - задержка перед первой повторной попыткой
	InitialDelay time.Duration

	// MaxDelay - верхняя граница задержки
	MaxDelay time.Duration

	// Multiplier - множитель роста задержки
	Multiplier float64

	// JitterFactor - фактор случайности (0.0 - 1.0)
	JitterFactor float64

	// RetryIf - нужно ли повторять операцию после ошибки
	// По умолчанию: повторяются все ошибки
	RetryIf func(error) bool

	// OnRetry - callback перед каждым повтором (для логирования)
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultConfig возвращает конфигурацию по умолчанию:
// 4 попытки, 100ms, 200ms, 400ms (+ jitter), максимум 30s
func DefaultConfig() Config {
	return Config{
		MaxRetries:   4,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// ReconnectConfig - бесконечные попытки с ростом ×1.5 от base до max
func ReconnectConfig(base, max time.Duration) Config {
	return Config{
		MaxRetries:   0,
		InitialDelay: base,
		MaxDelay:     max,
		Multiplier:   1.5,
		JitterFactor: 0,
	}
}

// validate проверяет и устанавливает значения по умолчанию
func (c *Config) validate() {
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.MaxDelay < c.InitialDelay {
		c.MaxDelay = c.InitialDelay
	}
	if c.Multiplier < 1 {
		c.Multiplier = 2.0
	}
	if c.JitterFactor < 0 {
		c.JitterFactor = 0
	}
	if c.JitterFactor > 1 {
		c.JitterFactor = 1
	}
}

// calculateDelay вычисляет задержку для указанной попытки (с нуля)
func (c *Config) calculateDelay(attempt int) time.Duration {
	delay := float64(c.InitialDelay) * math.Pow(c.Multiplier, float64(attempt))

	if delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}

	if c.JitterFactor > 0 {
		jitter := delay * c.JitterFactor * (rand.Float64()*2 - 1)
		delay += jitter
		if delay > float64(c.MaxDelay) {
			delay = float64(c.MaxDelay)
		}
	}

	if delay < 0 {
		delay = 0
	}

	return time.Duration(delay)
}

// Do выполняет операцию с повторными попытками
//
// Возвращает nil при успехе, иначе последнюю ошибку.
// Отмена ctx прерывает ожидание между попытками.
//
//	err := retry.Do(ctx, func() error {
//	    return db.PingContext(ctx)
//	}, retry.DefaultConfig())
func Do(ctx context.Context, operation func() error, cfg Config) error {
	cfg.validate()

	var lastErr error

	for attempt := 0; cfg.MaxRetries <= 0 || attempt < cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			if lastErr != nil {
				return lastErr
			}
			return ctx.Err()
		default:
		}

		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		if cfg.RetryIf != nil && !cfg.RetryIf(err) {
			return err
		}

		// Последняя попытка - не ждём
		if cfg.MaxRetries > 0 && attempt >= cfg.MaxRetries-1 {
			break
		}

		delay := cfg.calculateDelay(attempt)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		}
	}

	return lastErr
}

// ============================================================
// Backoff - состояние задержек между последовательными неудачами
// ============================================================

// Backoff выдаёт задержки для последовательных неудачных попыток.
// Next() возвращает текущую задержку и увеличивает счётчик,
// Reset() сбрасывает её к InitialDelay после успеха.
//
// Потокобезопасен.
type Backoff struct {
	cfg     Config
	attempt int
	mu      sync.Mutex
}

// NewBackoff создаёт Backoff с указанной конфигурацией
func NewBackoff(cfg Config) *Backoff {
	cfg.validate()
	return &Backoff{cfg: cfg}
}

// Next возвращает задержку перед очередной попыткой
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	delay := b.cfg.calculateDelay(b.attempt)
	// Пока задержка не упёрлась в потолок, продолжаем расти
	if delay < b.cfg.MaxDelay {
		b.attempt++
	}
	return delay
}

// Reset сбрасывает задержку к начальной
func (b *Backoff) Reset() {
	b.mu.Lock()
	b.attempt = 0
	b.mu.Unlock()
}
