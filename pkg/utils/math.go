package utils

import (
	"math"
	"strconv"
)

// math.go - математические утилиты для торговли цифровыми контрактами
//
// Все функции чистые (pure functions) без побочных эффектов.
//
// Функции:
// - RoundTo / RoundMoney: округление денежных сумм
// - LastDigit: последняя десятичная цифра котировки

// RoundTo округляет значение до указанного количества знаков после запятой.
//
// Примеры:
//   - RoundTo(0.77000000001, 2) = 0.77
//   - RoundTo(1.694, 2) = 1.69
//   - RoundTo(1.695, 2) = 1.7 (half away from zero)
func RoundTo(value float64, decimals int) float64 {
	if decimals < 0 {
		return value
	}
	pow := math.Pow(10, float64(decimals))
	return math.Round(value*pow) / pow
}

// RoundMoney округляет сумму до центов
func RoundMoney(value float64) float64 {
	return RoundTo(value, 2)
}

// LastDigit возвращает последнюю десятичную цифру котировки.
//
// pipSize - количество знаков после запятой, с которым площадка
// публикует котировку (поле pip_size тика). Если pipSize <= 0,
// используется кратчайшее представление числа.
//
// Примеры:
//   - LastDigit(1234.50, 2) = 0
//   - LastDigit(1234.57, 2) = 7
//   - LastDigit(987.3, 0) = 3
//   - LastDigit(42, 0) = 2
func LastDigit(price float64, pipSize int) int {
	price = math.Abs(price)

	var s string
	if pipSize > 0 {
		s = strconv.FormatFloat(price, 'f', pipSize, 64)
	} else {
		s = strconv.FormatFloat(price, 'f', -1, 64)
	}

	for i := len(s) - 1; i >= 0; i-- {
		if c := s[i]; c >= '0' && c <= '9' {
			return int(c - '0')
		}
	}
	return 0
}
