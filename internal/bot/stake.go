package bot

import (
	"digitbot/internal/models"
	"digitbot/pkg/utils"
)

// StakePolicy - мартингейл: после LOSS ставка умножается на Factor,
// после WIN (и на первой сделке) возвращается к базовой
type StakePolicy struct {
	Base   float64
	Factor float64
	// Доля последнего подтверждённого баланса, выше которой ставка не делается
	MaxBalanceRatio float64
}

// Next возвращает ставку для следующей сделки по результату предыдущей
func (p StakePolicy) Next(prev float64, result string) float64 {
	if result == models.ResultLoss {
		return utils.RoundMoney(prev * p.Factor)
	}
	return p.Base
}

// Affordable проверяет ставку против последнего подтверждённого баланса
//
// Неизвестный баланс означает, что проверить ставку нечем.
func (p StakePolicy) Affordable(stake float64, balance *float64) bool {
	if balance == nil {
		return false
	}
	if p.MaxBalanceRatio <= 0 {
		return true
	}
	return stake <= *balance*p.MaxBalanceRatio
}
