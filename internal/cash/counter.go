package cash

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/erpwoosync/cianbox-pos-sub001/internal/model"
)

// CountInput описывает данные физического пересчёта.
type CountInput struct {
	Type          model.CountType
	TotalBills    decimal.Decimal
	TotalCoins    decimal.Decimal
	Vouchers      decimal.Decimal
	Checks        decimal.Decimal
	OtherValues   decimal.Decimal
	Denominations []model.Denomination
	Notes         string
	CountedBy     string
}

// RecordCount записывает пересчёт, замораживая в нём текущую ожидаемую сумму.
//
// Закрывающий пересчёт допускается только в состоянии COUNTING и только один раз;
// после записи он связывается со сменой. Промежуточные и аудиторские пересчёты
// состояние смены не меняют.
func RecordCount(s *model.CashSession, in CountInput, now time.Time) (*model.CashCount, error) {
	if s.Status.Terminal() {
		return nil, errSessionClosed
	}

	switch in.Type {
	case model.CountOpening:
		return nil, stateError("opening count is recorded when the session opens")
	case model.CountClosing:
		if s.Status != model.SessionStatusCounting {
			return nil, stateError("closing count requires a counting session, session is %s", strings.ToLower(string(s.Status)))
		}
		if s.ClosingCountID != nil {
			return nil, stateError("closing count already recorded")
		}
	case model.CountPartial, model.CountAudit, model.CountTransfer:
	default:
		return nil, validationError("unknown count type %q", in.Type)
	}

	if strings.TrimSpace(in.CountedBy) == "" {
		return nil, validationError("counted by is required")
	}

	c, err := newCount(s, in, now)
	if err != nil {
		return nil, err
	}

	if c.Type == model.CountClosing {
		id := c.ID
		s.ClosingCountID = &id
	}
	return c, nil
}

func newCount(s *model.CashSession, in CountInput, now time.Time) (*model.CashCount, error) {
	amounts := map[string]decimal.Decimal{
		"bills":        in.TotalBills,
		"coins":        in.TotalCoins,
		"vouchers":     in.Vouchers,
		"checks":       in.Checks,
		"other values": in.OtherValues,
	}
	for name, v := range amounts {
		if v.IsNegative() {
			return nil, validationError("%s must not be negative", name)
		}
	}

	if len(in.Denominations) > 0 {
		if err := checkDenominations(in); err != nil {
			return nil, err
		}
	}

	total := decimal.Sum(in.TotalBills, in.TotalCoins, in.Vouchers, in.Checks, in.OtherValues)
	expected := ExpectedAmount(s)
	diff, diffType := Difference(total, expected)

	return &model.CashCount{
		ID:             uuid.New(),
		SessionID:      s.ID,
		Type:           in.Type,
		TotalBills:     in.TotalBills,
		TotalCoins:     in.TotalCoins,
		Vouchers:       in.Vouchers,
		Checks:         in.Checks,
		OtherValues:    in.OtherValues,
		TotalCounted:   total,
		ExpectedAmount: expected,
		Difference:     diff,
		DifferenceType: diffType,
		Denominations:  in.Denominations,
		Notes:          in.Notes,
		CountedBy:      in.CountedBy,
		CountedAt:      now,
	}, nil
}

// checkDenominations сверяет детализацию по номиналам с итогами купюр и монет.
func checkDenominations(in CountInput) error {
	bills, coins := decimal.Zero, decimal.Zero
	for _, d := range in.Denominations {
		if !d.Value.IsPositive() || d.Quantity < 0 {
			return validationError("invalid denomination %s x %d", d.Value, d.Quantity)
		}
		line := d.Value.Mul(decimal.NewFromInt(int64(d.Quantity)))
		switch d.Kind {
		case model.DenominationBill:
			bills = bills.Add(line)
		case model.DenominationCoin:
			coins = coins.Add(line)
		default:
			return validationError("unknown denomination kind %q", d.Kind)
		}
	}

	if !bills.Equal(in.TotalBills) {
		return validationError("bills breakdown %s does not match total %s", bills, in.TotalBills)
	}
	if !coins.Equal(in.TotalCoins) {
		return validationError("coins breakdown %s does not match total %s", coins, in.TotalCoins)
	}
	return nil
}
