package bot

import "digitbot/internal/models"

// ValidTransitions определяет допустимые переходы между фазами цикла
//
// Любая фаза может вернуться в IDLE: так завершается прерванный цикл
// (отказ риск-гейта, ошибка запроса, остановка сессии).
var ValidTransitions = map[string][]string{
	models.PhaseIdle:               {models.PhaseEvaluating},
	models.PhaseEvaluating:         {models.PhaseProposing, models.PhaseIdle},
	models.PhaseProposing:          {models.PhaseBuying, models.PhaseIdle},
	models.PhaseBuying:             {models.PhaseAwaitingSettlement, models.PhaseIdle},
	models.PhaseAwaitingSettlement: {models.PhaseSettled, models.PhaseIdle},
	models.PhaseSettled:            {models.PhaseIdle},
}

// CanTransition проверяет допустимость перехода
func CanTransition(from, to string) bool {
	allowed, ok := ValidTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// PhaseInfo возвращает описание фазы для UI
func PhaseInfo(s string) string {
	switch s {
	case models.PhaseIdle:
		return "Ожидание тика"
	case models.PhaseEvaluating:
		return "Оценка тика"
	case models.PhaseProposing:
		return "Запрос котировки..."
	case models.PhaseBuying:
		return "Покупка контракта..."
	case models.PhaseAwaitingSettlement:
		return "Контракт открыт, ожидание расчёта"
	case models.PhaseSettled:
		return "Контракт рассчитан"
	default:
		return "Неизвестная фаза"
	}
}

// HasOpenContract возвращает true если куплен и ещё не рассчитан контракт
func HasOpenContract(s string) bool {
	return s == models.PhaseAwaitingSettlement
}

// IsBusy возвращает true если цикл занят запросами к площадке
func IsBusy(s string) bool {
	return s == models.PhaseProposing || s == models.PhaseBuying || s == models.PhaseAwaitingSettlement || s == models.PhaseSettled
}
