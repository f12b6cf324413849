// Package money содержит преобразования денежных сумм между копейками и дробными значениями.
package money

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Cents переводит денежную сумму из дробных единиц в копейки через decimal:
// прямое int64(v*100) теряет копейки на двоичных дробях вида 19.99.
func Cents(v float64) int64 {
	return decimal.NewFromFloat(v).Mul(hundred).Round(0).IntPart()
}

// Float переводит копейки в дробные единицы для JSON-границы сервиса.
func Float(cents int64) float64 {
	f, _ := decimal.NewFromInt(cents).Div(hundred).Float64()
	return f
}

// ProportionalShare возвращает долю total, соответствующую отношению
// part/whole, округлённую до копейки. Используется при вычислении цели
// восстановления для частичного возврата: target = refund * deducted / orderTotal.
func ProportionalShare(refund, part, whole int64) int64 {
	if refund <= 0 || part <= 0 || whole <= 0 {
		return 0
	}
	return decimal.NewFromInt(refund).
		Mul(decimal.NewFromInt(part)).
		Div(decimal.NewFromInt(whole)).
		Round(0).
		IntPart()
}
