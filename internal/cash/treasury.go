package cash

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/erpwoosync/cianbox-pos-sub001/internal/model"
)

// NewTreasuryPending создаёт запись ожидания банковского подтверждения для движения
// с причиной BANK_DEPOSIT. Такую причину принимают только WITHDRAWAL и TRANSFER_OUT:
// наличные уходят из кассы в банк. Для остальных движений возвращает nil.
func NewTreasuryPending(s *model.CashSession, m *model.CashMovement, now time.Time) *model.TreasuryPending {
	if m == nil || m.Reason != model.ReasonBankDeposit {
		return nil
	}
	return &model.TreasuryPending{
		ID:             uuid.New(),
		MovementID:     m.ID,
		SessionID:      s.ID,
		BranchID:       s.BranchID,
		BankReference:  m.Reference,
		ExpectedAmount: m.Amount,
		Status:         model.TreasuryPendingStatus,
		CreatedAt:      now,
	}
}

// ConfirmTreasury фиксирует поступление в банк: CONFIRMED при совпадении сумм,
// иначе PARTIAL.
func ConfirmTreasury(p *model.TreasuryPending, confirmed decimal.Decimal, notes, by string, now time.Time) error {
	if p.Status != model.TreasuryPendingStatus {
		return stateError("treasury entry is %s", p.Status)
	}
	if confirmed.IsNegative() {
		return validationError("confirmed amount must not be negative")
	}

	p.Status = model.TreasuryConfirmed
	if !confirmed.Equal(p.ExpectedAmount) {
		p.Status = model.TreasuryPartial
	}
	p.ConfirmedAmount = &confirmed
	p.Notes = notes
	p.ResolvedBy = by
	p.ResolvedAt = &now
	return nil
}

// RejectTreasury отклоняет внесение.
func RejectTreasury(p *model.TreasuryPending, notes, by string, now time.Time) error {
	if p.Status != model.TreasuryPendingStatus {
		return stateError("treasury entry is %s", p.Status)
	}
	p.Status = model.TreasuryRejected
	p.Notes = notes
	p.ResolvedBy = by
	p.ResolvedAt = &now
	return nil
}
