package cash

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/erpwoosync/cianbox-pos-sub001/internal/model"
)

// Ledger накапливает итоги продаж смены по способам оплаты.
// Идемпотентность по идентификатору продажи обеспечивает вызывающая сторона:
// повторная проводка не должна доходить до Ledger.
type Ledger struct {
	// Epsilon — допустимое расхождение суммы по способам оплаты с итогом продажи.
	Epsilon decimal.Decimal
}

// NewLedger создаёт книгу продаж с указанной точностью сверки.
func NewLedger(epsilon decimal.Decimal) Ledger {
	return Ledger{Epsilon: epsilon}
}

// PostSale проводит продажу. Итог продажи в книге равен сумме по способам оплаты.
func (l Ledger) PostSale(s *model.CashSession, saleID string, tenders []model.TenderAmount, total decimal.Decimal, now time.Time) (*model.SalePosting, error) {
	if err := requireOpen(s); err != nil {
		return nil, err
	}
	sum, err := l.validateTenders(saleID, tenders, total)
	if err != nil {
		return nil, err
	}

	for _, t := range tenders {
		s.Add(t.Tender, t.Amount)
	}
	s.SalesCount++
	s.SalesTotal = s.SalesTotal.Add(sum)

	return posting(s, model.PostingSale, saleID, tenders, total, now), nil
}

// PostRefund проводит возврат. Возврат не может увести итог ни по одному способу
// оплаты ниже нуля.
func (l Ledger) PostRefund(s *model.CashSession, refundID string, tenders []model.TenderAmount, total decimal.Decimal, now time.Time) (*model.SalePosting, error) {
	if err := requireOpen(s); err != nil {
		return nil, err
	}
	sum, err := l.validateTenders(refundID, tenders, total)
	if err != nil {
		return nil, err
	}
	if err := reverse(s, tenders, sum); err != nil {
		return nil, err
	}

	s.RefundsCount++
	s.RefundsTotal = s.RefundsTotal.Add(sum)

	return posting(s, model.PostingRefund, refundID, tenders, total, now), nil
}

// PostCancel отменяет ранее проведённую в этой смене продажу, сторнируя её разбивку.
func (l Ledger) PostCancel(s *model.CashSession, sale *model.SalePosting, now time.Time) (*model.SalePosting, error) {
	if err := requireOpen(s); err != nil {
		return nil, err
	}
	if sale == nil || sale.Kind != model.PostingSale || sale.SessionID != s.ID {
		return nil, validationError("only a sale of this session can be cancelled")
	}

	sum := tenderSum(sale.Tenders)
	if err := reverse(s, sale.Tenders, sum); err != nil {
		return nil, err
	}
	s.CancelsCount++

	return posting(s, model.PostingCancel, sale.SaleID, sale.Tenders, sale.Total, now), nil
}

func (l Ledger) validateTenders(id string, tenders []model.TenderAmount, total decimal.Decimal) (decimal.Decimal, error) {
	if strings.TrimSpace(id) == "" {
		return decimal.Zero, validationError("sale id is required")
	}
	if len(tenders) == 0 {
		return decimal.Zero, validationError("tender breakdown is required")
	}
	if !total.IsPositive() {
		return decimal.Zero, validationError("total must be positive")
	}
	for _, t := range tenders {
		if !knownTender(t.Tender) {
			return decimal.Zero, validationError("unknown tender %q", t.Tender)
		}
		if !t.Amount.IsPositive() {
			return decimal.Zero, validationError("tender %s amount must be positive", t.Tender)
		}
	}

	sum := tenderSum(tenders)
	if !withinEpsilon(sum, total, l.Epsilon) {
		return decimal.Zero, validationError("tender breakdown %s does not match total %s", sum, total)
	}
	return sum, nil
}

func reverse(s *model.CashSession, tenders []model.TenderAmount, sum decimal.Decimal) error {
	byTender := make(map[model.Tender]decimal.Decimal, len(tenders))
	for _, t := range tenders {
		byTender[t.Tender] = byTender[t.Tender].Add(t.Amount)
	}
	for tender, amount := range byTender {
		if s.Get(tender).LessThan(amount) {
			return validationError("refund exceeds sales for tender %s", tender)
		}
	}
	if s.SalesTotal.LessThan(sum) {
		return validationError("refund exceeds sales")
	}

	for tender, amount := range byTender {
		s.Add(tender, amount.Neg())
	}
	s.SalesTotal = s.SalesTotal.Sub(sum)
	return nil
}

func requireOpen(s *model.CashSession) error {
	if s.Status.Terminal() {
		return errSessionClosed
	}
	if s.Status != model.SessionStatusOpen {
		return stateError("session is %s", strings.ToLower(string(s.Status)))
	}
	return nil
}

func posting(s *model.CashSession, kind model.PostingKind, id string, tenders []model.TenderAmount, total decimal.Decimal, now time.Time) *model.SalePosting {
	return &model.SalePosting{
		SessionID: s.ID,
		Kind:      kind,
		SaleID:    id,
		Tenders:   tenders,
		Total:     total,
		Result:    s.LedgerTotals,
		PostedAt:  now,
	}
}

func tenderSum(tenders []model.TenderAmount) decimal.Decimal {
	sum := decimal.Zero
	for _, t := range tenders {
		sum = sum.Add(t.Amount)
	}
	return sum
}

func knownTender(t model.Tender) bool {
	for _, known := range model.Tenders {
		if t == known {
			return true
		}
	}
	return false
}
