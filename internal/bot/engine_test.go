package bot

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"digitbot/internal/config"
	"digitbot/internal/deriv"
	"digitbot/internal/models"
	"digitbot/internal/repository"
	"digitbot/pkg/utils"
)

// ============================================================
// Фейки
// ============================================================

// fakeRequester отвечает на запросы синхронно, как площадка без сети
type fakeRequester struct {
	mu           sync.Mutex
	stakes       []float64
	outcomes     []float64
	proposalErr  error
	pollFailures int
	neverSettle  bool
	polls        int
	nextID       int64
	hold         chan struct{}
}

func (f *fakeRequester) Request(ctx context.Context, r deriv.Request, _ time.Duration) (*deriv.Envelope, error) {
	switch req := r.(type) {
	case *deriv.ProposalRequest:
		f.mu.Lock()
		f.stakes = append(f.stakes, req.Amount)
		hold := f.hold
		err := f.proposalErr
		f.mu.Unlock()

		if hold != nil {
			select {
			case <-hold:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if err != nil {
			return nil, err
		}
		return &deriv.Envelope{MsgType: "proposal", Proposal: &deriv.Proposal{
			ID: "prop-1", AskPrice: req.Amount, Payout: req.Amount * 1.9,
		}}, nil

	case *deriv.BuyRequest:
		f.mu.Lock()
		f.nextID++
		id := f.nextID
		f.mu.Unlock()
		return &deriv.Envelope{MsgType: "buy", Buy: &deriv.BuyReceipt{ContractID: id, BuyPrice: req.Price}}, nil

	case *deriv.ContractStatusRequest:
		f.mu.Lock()
		defer f.mu.Unlock()
		f.polls++
		if f.neverSettle {
			return &deriv.Envelope{ProposalOpenContract: &deriv.ContractStatus{ContractID: req.ContractID}}, nil
		}
		if f.pollFailures > 0 {
			f.pollFailures--
			return nil, &deriv.RequestTimeoutError{Op: "proposal_open_contract", Timeout: time.Millisecond}
		}
		profit := 0.31
		if len(f.outcomes) > 0 {
			profit = f.outcomes[0]
			f.outcomes = f.outcomes[1:]
		}
		return &deriv.Envelope{ProposalOpenContract: &deriv.ContractStatus{
			ContractID: req.ContractID, IsSold: true, Profit: &profit,
		}}, nil
	}
	return nil, errors.New("unexpected request")
}

func (f *fakeRequester) Stakes() []float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]float64(nil), f.stakes...)
}

type memoryStore struct {
	mu      sync.Mutex
	state   *models.TradingState
	saves   int
	saveErr error
}

func (m *memoryStore) Load(context.Context) (*models.TradingState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return nil, repository.ErrStateNotFound
	}
	return m.state.Clone(), nil
}

func (m *memoryStore) Save(_ context.Context, s *models.TradingState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.state = s.Clone()
	return nil
}

func (m *memoryStore) Saved() *models.TradingState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return nil
	}
	return m.state.Clone()
}

type tradeLog struct {
	mu      sync.Mutex
	records []*models.TradeRecord
}

func (l *tradeLog) Record(_ context.Context, rec *models.TradeRecord) error {
	l.mu.Lock()
	l.records = append(l.records, rec)
	l.mu.Unlock()
	return nil
}

func testTradingConfig() config.TradingConfig {
	return config.TradingConfig{
		Market:                 "R_50",
		Currency:               "USD",
		ContractType:           "DIGITOVER",
		BaseStake:              0.35,
		MartingaleFactor:       2.2,
		Prediction:             4,
		Duration:               1,
		DurationUnit:           "t",
		VirtualLossLimit:       2,
		ProfitTarget:           100,
		DrawdownLimit:          10999,
		MaxStakeBalanceRatio:   0.9,
		SettlementPollInterval: time.Millisecond,
	}
}

func newTestEngine(t *testing.T, cfg config.TradingConfig, deps EngineDeps) *Engine {
	t.Helper()
	deps.Logger = utils.NewNopLogger()
	return NewEngine(cfg, time.Second, deps)
}

// highTick - последняя цифра 7 (выше барьера 4)
func highTick() *deriv.Tick {
	return &deriv.Tick{Symbol: "R_50", Quote: 100.57, PipSize: 2}
}

// lowTick - последняя цифра 2 (не выше барьера)
func lowTick() *deriv.Tick {
	return &deriv.Tick{Symbol: "R_50", Quote: 100.52, PipSize: 2}
}

func runTick(e *Engine, req Requester, tick *deriv.Tick) {
	e.OnTick(context.Background(), req, tick)
	e.Wait()
}

// ============================================================
// Тесты
// ============================================================

func TestEngine_MartingaleSequence(t *testing.T) {
	store := &memoryStore{}
	trades := &tradeLog{}
	e := newTestEngine(t, testTradingConfig(), EngineDeps{Store: store, Trades: trades})
	e.OnBalance(context.Background(), 1000)

	req := &fakeRequester{outcomes: []float64{-0.35, -0.77, 1.52}}
	for i := 0; i < 4; i++ {
		runTick(e, req, highTick())
	}

	assert.Equal(t, []float64{0.35, 0.77, 1.69, 0.35}, req.Stakes())

	s := e.Snapshot()
	assert.Equal(t, 4, s.TradeCount)
	assert.Equal(t, 2, s.Wins)
	assert.Equal(t, 2, s.Losses)
	assert.Equal(t, models.ResultWin, s.LastResult)
	assert.Equal(t, 0.35, s.CurrentStake)
	assert.InDelta(t, -0.35-0.77+1.52+0.31, s.RealizedProfit, 1e-9)
	assert.False(t, s.LastTradeTime.IsZero())
	assert.Equal(t, models.PhaseIdle, e.Phase())

	require.Len(t, trades.records, 4)
	assert.Equal(t, models.ResultLoss, trades.records[0].Result)
	assert.Equal(t, 0.77, trades.records[1].Stake)
	assert.Equal(t, models.ResultWin, trades.records[2].Result)

	saved := store.Saved()
	require.NotNil(t, saved)
	assert.Equal(t, 4, saved.TradeCount)
}

func TestEngine_VirtualLossSkip(t *testing.T) {
	e := newTestEngine(t, testTradingConfig(), EngineDeps{Store: &memoryStore{}})
	e.OnBalance(context.Background(), 1000)
	req := &fakeRequester{}

	// две низкие цифры: счётчик 1 и 2, сделки идут
	runTick(e, req, lowTick())
	runTick(e, req, lowTick())
	assert.Len(t, req.Stakes(), 2)
	assert.Equal(t, 2, e.Snapshot().VirtualLossCounter)

	// третья превышает лимит: сброс и пропуск
	runTick(e, req, lowTick())
	assert.Len(t, req.Stakes(), 2)
	assert.Equal(t, 0, e.Snapshot().VirtualLossCounter)
	assert.Equal(t, 2, e.Snapshot().LastDigit)

	// высокая цифра обнуляет счётчик
	runTick(e, req, lowTick())
	runTick(e, req, highTick())
	assert.Equal(t, 0, e.Snapshot().VirtualLossCounter)
	assert.Equal(t, 7, e.Snapshot().LastDigit)
}

func TestEngine_StakeCapResetsToBase(t *testing.T) {
	store := &memoryStore{}
	e := newTestEngine(t, testTradingConfig(), EngineDeps{Store: store})
	e.OnBalance(context.Background(), 1)

	req := &fakeRequester{outcomes: []float64{-0.35, -0.77}}
	runTick(e, req, highTick()) // 0.35 → LOSS
	runTick(e, req, highTick()) // 0.77 ≤ 0.9 → LOSS
	require.Equal(t, 1.69, e.Snapshot().CurrentStake)

	runTick(e, req, highTick()) // 1.69 > 0.9 → пропуск, сброс
	assert.Len(t, req.Stakes(), 2)
	assert.Equal(t, 0.35, e.Snapshot().CurrentStake)
	assert.Equal(t, 0.35, store.Saved().CurrentStake)

	runTick(e, req, highTick())
	assert.Equal(t, []float64{0.35, 0.77, 0.35}, req.Stakes())
}

func TestEngine_UnknownBalanceSkips(t *testing.T) {
	e := newTestEngine(t, testTradingConfig(), EngineDeps{})
	req := &fakeRequester{}

	runTick(e, req, highTick())

	assert.Empty(t, req.Stakes())
	s := e.Snapshot()
	assert.Equal(t, 0.35, s.CurrentStake)
	require.NotNil(t, s.LastPrice)
	assert.Equal(t, 100.57, *s.LastPrice)
}

func TestEngine_ProfitTargetHalts(t *testing.T) {
	e := newTestEngine(t, testTradingConfig(), EngineDeps{Store: &memoryStore{}})

	var mu sync.Mutex
	var reasons []string
	e.SetOnHalt(func(reason string, pnl float64) {
		mu.Lock()
		reasons = append(reasons, reason)
		mu.Unlock()
		assert.InDelta(t, 101, pnl, 1e-9)
	})

	e.OnBalance(context.Background(), 1000)
	e.OnBalance(context.Background(), 1101)

	req := &fakeRequester{}
	runTick(e, req, highTick())
	runTick(e, req, highTick())

	assert.Empty(t, req.Stakes())
	assert.True(t, e.Halted())
	mu.Lock()
	assert.Equal(t, []string{ReasonProfitTarget}, reasons)
	mu.Unlock()

	// после Rearm цель всё ещё достигнута: снова стоп
	e.Rearm()
	assert.False(t, e.Halted())
	runTick(e, req, highTick())
	assert.True(t, e.Halted())
	assert.Empty(t, req.Stakes())
}

func TestEngine_PausedFlagDenies(t *testing.T) {
	e := newTestEngine(t, testTradingConfig(), EngineDeps{Flag: staticFlag(false)})
	e.OnBalance(context.Background(), 1000)
	req := &fakeRequester{}

	runTick(e, req, highTick())

	assert.Empty(t, req.Stakes())
	assert.False(t, e.Halted())
}

func TestEngine_CooldownDenies(t *testing.T) {
	cfg := testTradingConfig()
	cfg.Cooldown = time.Hour
	e := newTestEngine(t, cfg, EngineDeps{})
	e.OnBalance(context.Background(), 1000)
	req := &fakeRequester{}

	runTick(e, req, highTick())
	runTick(e, req, highTick())
	assert.Len(t, req.Stakes(), 1)

	e.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	runTick(e, req, highTick())
	assert.Len(t, req.Stakes(), 2)
}

func TestEngine_ProposalRejected(t *testing.T) {
	e := newTestEngine(t, testTradingConfig(), EngineDeps{})
	e.OnBalance(context.Background(), 1000)
	req := &fakeRequester{proposalErr: &deriv.RequestRejectedError{Op: "proposal", Code: "InvalidBarrier", Message: "bad barrier"}}

	runTick(e, req, highTick())

	s := e.Snapshot()
	assert.Equal(t, 0, s.TradeCount)
	assert.Equal(t, 0.35, s.CurrentStake)
	assert.Equal(t, models.ResultNone, s.LastResult)
	assert.Equal(t, models.PhaseIdle, e.Phase())
	assert.False(t, e.Busy())
}

func TestEngine_SingleCycleInFlight(t *testing.T) {
	e := newTestEngine(t, testTradingConfig(), EngineDeps{})
	e.OnBalance(context.Background(), 1000)
	req := &fakeRequester{hold: make(chan struct{})}

	e.OnTick(context.Background(), req, highTick())
	require.Eventually(t, func() bool { return len(req.Stakes()) == 1 }, time.Second, time.Millisecond)
	assert.True(t, e.Busy())

	for i := 0; i < 5; i++ {
		e.OnTick(context.Background(), req, &deriv.Tick{Symbol: "R_50", Quote: 100.51 + float64(i)/100, PipSize: 2})
	}

	s := e.Snapshot()
	require.NotNil(t, s.LastPrice)
	assert.InDelta(t, 100.55, *s.LastPrice, 1e-9)
	assert.Equal(t, 5, s.LastDigit)
	assert.Len(t, req.Stakes(), 1)

	close(req.hold)
	e.Wait()
	assert.False(t, e.Busy())
	assert.Equal(t, 1, e.Snapshot().TradeCount)
}

func TestEngine_PriceOnlyTicksPersist(t *testing.T) {
	store := &memoryStore{}
	e := newTestEngine(t, testTradingConfig(), EngineDeps{Store: store})
	e.OnBalance(context.Background(), 1000)
	req := &fakeRequester{hold: make(chan struct{})}

	e.OnTick(context.Background(), req, highTick())
	require.Eventually(t, func() bool { return len(req.Stakes()) == 1 }, time.Second, time.Millisecond)

	// цикл в работе: тик только обновляет цену, но она сохраняется
	e.OnTick(context.Background(), req, &deriv.Tick{Symbol: "R_50", Quote: 100.53, PipSize: 2})
	saved := store.Saved()
	require.NotNil(t, saved.LastPrice)
	assert.InDelta(t, 100.53, *saved.LastPrice, 1e-9)
	assert.Equal(t, 3, saved.LastDigit)

	close(req.hold)
	e.Wait()
	assert.Equal(t, 1, store.Saved().TradeCount)

	// после стопа тоже
	atomic.StoreInt32(&e.halted, 1)
	e.OnTick(context.Background(), req, &deriv.Tick{Symbol: "R_50", Quote: 100.58, PipSize: 2})
	saved = store.Saved()
	assert.Equal(t, 8, saved.LastDigit)
	assert.Equal(t, 1, saved.TradeCount)
	assert.Len(t, req.Stakes(), 1)
}

func TestEngine_CancelledSessionStartsNoCycle(t *testing.T) {
	e := newTestEngine(t, testTradingConfig(), EngineDeps{})
	e.OnBalance(context.Background(), 1000)
	req := &fakeRequester{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e.OnTick(ctx, req, highTick())
	e.Wait()

	assert.False(t, e.Busy())
	assert.Empty(t, req.Stakes())
	assert.Equal(t, 0, e.Snapshot().TradeCount)

	// тот же движок с живым контекстом торгует
	runTick(e, req, highTick())
	assert.Len(t, req.Stakes(), 1)
}

func TestEngine_WaitRacesWithTicks(t *testing.T) {
	e := newTestEngine(t, testTradingConfig(), EngineDeps{})
	e.OnBalance(context.Background(), 1000)
	req := &fakeRequester{}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				e.OnTick(ctx, req, highTick())
			}
		}()
	}

	time.Sleep(5 * time.Millisecond)
	cancel()
	e.Wait()

	// после Wait новые циклы не стартуют
	stakes := len(req.Stakes())
	wg.Wait()
	e.Wait()
	assert.False(t, e.Busy())
	assert.Len(t, req.Stakes(), stakes)
}

func TestEngine_SettlementPollRetries(t *testing.T) {
	e := newTestEngine(t, testTradingConfig(), EngineDeps{})
	e.OnBalance(context.Background(), 1000)
	req := &fakeRequester{pollFailures: 3, outcomes: []float64{-0.35}}

	runTick(e, req, highTick())

	assert.Equal(t, 4, req.polls)
	s := e.Snapshot()
	assert.Equal(t, 1, s.TradeCount)
	assert.Equal(t, models.ResultLoss, s.LastResult)
	assert.Equal(t, 0.77, s.CurrentStake)
}

func TestEngine_CancelDuringSettlement(t *testing.T) {
	e := newTestEngine(t, testTradingConfig(), EngineDeps{})
	e.OnBalance(context.Background(), 1000)
	req := &fakeRequester{neverSettle: true}

	ctx, cancel := context.WithCancel(context.Background())
	e.OnTick(ctx, req, highTick())
	require.Eventually(t, func() bool { return e.Phase() == models.PhaseAwaitingSettlement }, time.Second, time.Millisecond)

	cancel()
	e.Wait()

	assert.Equal(t, models.PhaseIdle, e.Phase())
	assert.Equal(t, 0, e.Snapshot().TradeCount)
	assert.Equal(t, 0.35, e.Snapshot().CurrentStake)
}

func TestEngine_StoreErrorIsNotFatal(t *testing.T) {
	store := &memoryStore{saveErr: errors.New("disk full")}
	e := newTestEngine(t, testTradingConfig(), EngineDeps{Store: store})
	e.OnBalance(context.Background(), 1000)
	req := &fakeRequester{outcomes: []float64{-0.35}}

	runTick(e, req, highTick())
	runTick(e, req, highTick())

	assert.Equal(t, []float64{0.35, 0.77}, req.Stakes())
	assert.Greater(t, store.saves, 2)
}

func TestEngine_Restore(t *testing.T) {
	saved := models.NewTradingState(0.35)
	saved.CurrentStake = 1.69
	saved.LastResult = models.ResultLoss
	saved.TradeCount = 7
	saved.InitialBalance = models.Float(1000)
	saved.LastBalance = models.Float(990)

	store := &memoryStore{state: saved}
	e := newTestEngine(t, testTradingConfig(), EngineDeps{Store: store})
	e.Restore(context.Background())

	s := e.Snapshot()
	assert.Equal(t, 1.69, s.CurrentStake)
	assert.Equal(t, 7, s.TradeCount)
	assert.InDelta(t, -10, s.PnL(), 1e-9)

	// первый баланс после рестарта не переписывает начальный
	e.OnBalance(context.Background(), 995)
	assert.Equal(t, 1000.0, *e.Snapshot().InitialBalance)
}

func TestEngine_RestoreNormalizes(t *testing.T) {
	broken := &models.TradingState{CurrentStake: 0, LastResult: "???", VirtualLossCounter: -3}
	e := newTestEngine(t, testTradingConfig(), EngineDeps{Store: &memoryStore{state: broken}})
	e.Restore(context.Background())

	s := e.Snapshot()
	assert.Equal(t, 0.35, s.CurrentStake)
	assert.Equal(t, models.ResultNone, s.LastResult)
	assert.Equal(t, 0, s.VirtualLossCounter)
}

func TestEngine_RestoreMissing(t *testing.T) {
	e := newTestEngine(t, testTradingConfig(), EngineDeps{Store: &memoryStore{}})
	e.Restore(context.Background())

	s := e.Snapshot()
	assert.Equal(t, 0.35, s.CurrentStake)
	assert.Nil(t, s.InitialBalance)
}
