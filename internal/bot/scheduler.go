package bot

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"digitbot/pkg/utils"
)

// Scheduler - периодические задачи сессии
//
// Все задачи останавливаются одним Stop() вместе с сессией,
// после Stop() ни одна задача не выполняется.
type Scheduler struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    *utils.Logger
}

// NewScheduler создаёт планировщик, привязанный к родительскому контексту
func NewScheduler(parent context.Context, log *utils.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(parent)
	if log == nil {
		log = utils.L()
	}
	return &Scheduler{
		ctx:    ctx,
		cancel: cancel,
		log:    log.WithComponent("scheduler"),
	}
}

// Every запускает task каждые interval; interval <= 0 отключает задачу
func (s *Scheduler) Every(name string, interval time.Duration, task func(ctx context.Context)) {
	if interval <= 0 {
		s.log.Debug("task disabled", zap.String("task", name))
		return
	}
	if s.ctx.Err() != nil {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.run(name, task)
			}
		}
	}()
}

func (s *Scheduler) run(name string, task func(ctx context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("task panic", zap.String("task", name), zap.Any("panic", r))
		}
	}()
	task(s.ctx)
}

// Stop останавливает все задачи и ждёт их завершения
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}
