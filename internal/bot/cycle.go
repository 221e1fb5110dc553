package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"digitbot/internal/deriv"
	"digitbot/internal/models"
	"digitbot/pkg/utils"
)

// ============================================================
// Цикл решения по одному тику
// ============================================================

// runCycle проводит тик через фазы цикла и всегда возвращает движок в IDLE
func (e *Engine) runCycle(ctx context.Context, req Requester, tick *deriv.Tick) {
	defer e.setPhase(models.PhaseIdle)

	e.setPhase(models.PhaseEvaluating)

	snapshot, virtualLoss := e.evaluate(tick)
	if e.hub != nil {
		e.hub.BroadcastTick(tick.Symbol, tick.Quote, snapshot.LastDigit)
	}
	if e.journal != nil {
		e.journal.Tick(tick.Symbol, tick.Quote, snapshot.LastDigit)
	}

	if virtualLoss {
		RecordCycle(outcomeVirtualLoss)
		e.log.Info("virtual loss limit exceeded, skipping",
			utils.Digit(snapshot.LastDigit),
			zap.Int("limit", e.cfg.VirtualLossLimit))
		e.event(EventSkip, fmt.Sprintf("virtual loss limit %d exceeded on digit %d", e.cfg.VirtualLossLimit, snapshot.LastDigit))
		e.persist(ctx)
		return
	}

	decision := e.gate.Check(snapshot, e.now())
	if !decision.Allow {
		RecordCycle(outcomeRiskDenied)
		e.persist(ctx)
		if decision.Stop {
			e.event(EventRisk, fmt.Sprintf("%s reached, pnl %.2f", decision.Reason, decision.PnL))
			e.halt(decision.Reason, decision.PnL)
			return
		}
		e.log.Debug("risk gate denied", zap.String("reason", decision.Reason))
		return
	}

	stake := snapshot.CurrentStake
	if !e.stake.Affordable(stake, snapshot.LastBalance) {
		RecordCycle(outcomeStakeCap)
		e.mu.Lock()
		e.state.CurrentStake = e.stake.Base
		snapshot = e.state.Clone()
		e.mu.Unlock()

		CurrentStake.Set(snapshot.CurrentStake)
		e.log.Warn("stake exceeds balance cap, reset to base",
			utils.Stake(stake),
			zap.Float64("ratio", e.stake.MaxBalanceRatio))
		e.event(EventSkip, fmt.Sprintf("stake %.2f over %.0f%% of balance, reset to %.2f",
			stake, e.stake.MaxBalanceRatio*100, e.stake.Base))
		e.persist(ctx)
		return
	}

	e.trade(ctx, req, stake)
}

// evaluate записывает цену и цифру, обновляет счётчик виртуальных проигрышей
//
// Возвращает снапшот и true, если счётчик превысил лимит (и был сброшен).
func (e *Engine) evaluate(tick *deriv.Tick) (*models.TradingState, bool) {
	digit := utils.LastDigit(tick.Quote, int(tick.PipSize))

	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.state
	s.LastPrice = models.Float(tick.Quote)
	s.LastDigit = digit

	if digit <= e.cfg.Prediction {
		s.VirtualLossCounter++
	} else {
		s.VirtualLossCounter = 0
	}

	exceeded := false
	if s.VirtualLossCounter > e.cfg.VirtualLossLimit {
		s.VirtualLossCounter = 0
		exceeded = true
	}
	s.UpdatedAt = e.now()

	VirtualLossCounter.Set(float64(s.VirtualLossCounter))
	return s.Clone(), exceeded
}

// trade: котировка → покупка → ожидание расчёта → расчёт
func (e *Engine) trade(ctx context.Context, req Requester, stake float64) {
	e.setPhase(models.PhaseProposing)

	proposalReq := deriv.NewProposalRequest(stake, e.cfg.ContractType, e.cfg.Currency,
		e.cfg.Market, e.cfg.Duration, e.cfg.DurationUnit, e.cfg.Prediction)

	env, err := e.request(ctx, req, proposalReq)
	if err == nil && env.Proposal == nil {
		err = errors.New("proposal response without payload")
	}
	if err != nil {
		RecordCycle(outcomeProposalFailed)
		e.cycleFailed("proposal", stake, err)
		return
	}
	proposal := env.Proposal

	e.setPhase(models.PhaseBuying)

	env, err = e.request(ctx, req, &deriv.BuyRequest{Buy: proposal.ID, Price: stake})
	if err == nil && env.Buy == nil {
		err = errors.New("buy response without payload")
	}
	if err != nil {
		RecordCycle(outcomeBuyFailed)
		e.cycleFailed("buy", stake, err)
		return
	}

	contract := &models.Contract{
		ContractID:  env.Buy.ContractID,
		ProposalID:  proposal.ID,
		Stake:       stake,
		Barrier:     e.cfg.Prediction,
		BuyPrice:    env.Buy.BuyPrice,
		Payout:      proposal.Payout,
		PurchasedAt: e.now(),
	}

	log := e.log.WithContractID(contract.ContractID)
	log.Info("contract bought", utils.Stake(stake), utils.ProposalID(proposal.ID))
	e.event(EventTrade, fmt.Sprintf("bought contract %d stake %.2f barrier %d", contract.ContractID, stake, contract.Barrier))

	e.setPhase(models.PhaseAwaitingSettlement)

	settlement, err := e.awaitSettlement(ctx, req, contract.ContractID)
	if err != nil {
		RecordCycle(outcomeAborted)
		log.Warn("settlement wait aborted", zap.Error(err))
		e.event(EventError, fmt.Sprintf("contract %d left unsettled: %v", contract.ContractID, err))
		return
	}
	SettlementWait.Observe(time.Since(contract.PurchasedAt).Seconds())

	e.setPhase(models.PhaseSettled)
	RecordCycle(outcomeTraded)
	e.settle(ctx, contract, settlement)
}

// awaitSettlement опрашивает контракт с фиксированным интервалом до is_sold
//
// Общего дедлайна нет: ожидание ограничено только контекстом сессии.
// Неудачный опрос (таймаут, разрыв) повторяется на следующем интервале.
func (e *Engine) awaitSettlement(ctx context.Context, req Requester, contractID int64) (*models.Settlement, error) {
	interval := e.cfg.SettlementPollInterval
	if interval <= 0 {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		env, err := e.request(ctx, req, &deriv.ContractStatusRequest{ProposalOpenContract: 1, ContractID: contractID})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			e.log.Debug("settlement poll failed, retrying", utils.ContractID(contractID), zap.Error(err))
			continue
		}

		status := env.ProposalOpenContract
		if status == nil || !bool(status.IsSold) {
			continue
		}

		return &models.Settlement{
			Profit:    status.SettledProfit(),
			BuyPrice:  status.BuyPrice,
			SellPrice: status.SellPrice,
		}, nil
	}
}

// settle сворачивает результат контракта в состояние
func (e *Engine) settle(ctx context.Context, contract *models.Contract, st *models.Settlement) {
	profit := utils.RoundMoney(st.Profit)
	result := models.ClassifyProfit(profit)
	now := e.now()

	e.mu.Lock()
	s := e.state
	s.TradeCount++
	s.LastResult = result
	s.LastTradeTime = now
	s.RealizedProfit = utils.RoundMoney(s.RealizedProfit + profit)
	if result == models.ResultWin {
		s.Wins++
		s.LossStreak = 0
	} else {
		s.Losses++
		s.LossStreak++
	}
	s.CurrentStake = e.stake.Next(contract.Stake, result)
	s.UpdatedAt = now
	snapshot := s.Clone()
	e.mu.Unlock()

	buyPrice := st.BuyPrice
	if buyPrice == 0 {
		buyPrice = contract.BuyPrice
	}
	rec := &models.TradeRecord{
		ContractID:  contract.ContractID,
		Symbol:      e.cfg.Market,
		Stake:       contract.Stake,
		Barrier:     contract.Barrier,
		BuyPrice:    buyPrice,
		SellPrice:   st.SellPrice,
		Profit:      profit,
		Result:      result,
		PurchasedAt: contract.PurchasedAt,
		SettledAt:   now,
	}

	RecordTrade(result)
	e.publishGauges(snapshot)

	e.log.Info("contract settled",
		utils.ContractID(contract.ContractID),
		utils.Result(result),
		zap.Float64("profit", profit),
		zap.Float64("next_stake", snapshot.CurrentStake))

	e.persist(ctx)

	if e.trades != nil {
		if err := e.trades.Record(ctx, rec); err != nil {
			e.log.Error("failed to record trade", utils.ContractID(contract.ContractID), zap.Error(err))
		}
	}
	if e.journal != nil {
		e.journal.Trade(rec)
	}
	if e.hub != nil {
		e.hub.BroadcastTrade(rec)
	}
}

// request выполняет запрос и пишет его латентность
func (e *Engine) request(ctx context.Context, req Requester, r deriv.Request) (*deriv.Envelope, error) {
	start := time.Now()
	env, err := req.Request(ctx, r, e.requestTimeout)

	status := "ok"
	var rejected *deriv.RequestRejectedError
	switch {
	case err == nil:
	case deriv.IsTimeout(err):
		status = "timeout"
	case errors.As(err, &rejected):
		status = "rejected"
	default:
		status = "error"
	}
	op := deriv.OperationOf(r)
	RecordRequest(op, status, float64(time.Since(start).Microseconds())/1000)
	return env, err
}

// cycleFailed логирует прерванный цикл
//
// Таймаут означает неизвестный исход: площадка могла исполнить запрос.
func (e *Engine) cycleFailed(stage string, stake float64, err error) {
	var rejected *deriv.RequestRejectedError
	switch {
	case errors.As(err, &rejected):
		e.log.Warn(stage+" rejected", utils.Stake(stake),
			zap.String("code", rejected.Code),
			zap.String("message", rejected.Message))
	case deriv.IsTimeout(err):
		e.log.Warn(stage+" timed out, outcome unknown", utils.Stake(stake), zap.Error(err))
	default:
		e.log.Warn(stage+" failed", utils.Stake(stake), zap.Error(err))
	}
	e.event(EventError, fmt.Sprintf("%s failed: %v", stage, err))
}
