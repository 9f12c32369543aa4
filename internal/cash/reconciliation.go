package cash

import (
	"github.com/shopspring/decimal"

	"github.com/erpwoosync/cianbox-pos-sub001/internal/model"
)

// ExpectedAmount возвращает наличные, которые должны быть в кассе:
// начальный фонд + продажи наличными + внесения − изъятия.
func ExpectedAmount(s *model.CashSession) decimal.Decimal {
	return s.OpeningAmount.
		Add(s.Cash).
		Add(s.DepositsTotal).
		Sub(s.WithdrawalsTotal)
}

// Difference возвращает расхождение пересчитанной суммы с ожидаемой и его знак.
func Difference(counted, expected decimal.Decimal) (decimal.Decimal, model.DifferenceType) {
	diff := counted.Sub(expected)
	switch diff.Sign() {
	case 1:
		return diff, model.DifferenceSurplus
	case -1:
		return diff, model.DifferenceShortage
	default:
		return diff, model.DifferenceNone
	}
}

// CheckTenderBalance проверяет, что сумма по способам оплаты совпадает с итогом продаж
// с точностью до epsilon.
func CheckTenderBalance(t model.LedgerTotals, epsilon decimal.Decimal) error {
	if !withinEpsilon(t.TenderTotals.Sum(), t.SalesTotal, epsilon) {
		return validationError("tender totals %s do not match sales total %s", t.TenderTotals.Sum(), t.SalesTotal)
	}
	return nil
}

func withinEpsilon(a, b, epsilon decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(epsilon)
}
