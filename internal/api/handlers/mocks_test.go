package handlers

import (
	"context"
	"errors"
	"sync"

	"digitbot/internal/models"
)

var ErrMockStorage = errors.New("mock storage error")

// ============ MockSessionController ============

type MockSessionController struct {
	mu        sync.Mutex
	startErr  error
	stopErr   error
	lastToken string
	starts    int
	status    *models.SessionStatus
}

func NewMockSessionController() *MockSessionController {
	return &MockSessionController{
		status: &models.SessionStatus{Status: models.SessionStopped, Phase: models.PhaseIdle},
	}
}

func (m *MockSessionController) StartSession(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.starts++
	m.lastToken = token
	if m.startErr != nil {
		return m.startErr
	}
	m.status.Status = models.SessionRunning
	m.status.Connected = true
	return nil
}

func (m *MockSessionController) StopSession(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopErr != nil {
		return m.stopErr
	}
	m.status.Status = models.SessionStopped
	m.status.Connected = false
	return nil
}

func (m *MockSessionController) Status() *models.SessionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := *m.status
	return &s
}

// ============ MockPauseSwitch ============

type MockPauseSwitch struct {
	paused bool
	err    error
}

func (m *MockPauseSwitch) Pause() error {
	if m.err != nil {
		return m.err
	}
	m.paused = true
	return nil
}

func (m *MockPauseSwitch) Resume() error {
	if m.err != nil {
		return m.err
	}
	m.paused = false
	return nil
}

func (m *MockPauseSwitch) Paused() bool { return m.paused }

// ============ MockTradeHistory ============

type MockTradeHistory struct {
	trades    []*models.TradeRecord
	err       error
	lastLimit int
}

func (m *MockTradeHistory) Recent(_ context.Context, limit int) ([]*models.TradeRecord, error) {
	m.lastLimit = limit
	if m.err != nil {
		return nil, m.err
	}
	if limit < len(m.trades) {
		return m.trades[:limit], nil
	}
	return m.trades, nil
}
