package cash

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/erpwoosync/cianbox-pos-sub001/internal/model"
)

// reasons перечисляет допустимые коды причин для каждого типа движения.
var reasons = map[model.MovementType][]model.MovementReason{
	model.MovementDeposit: {
		model.ReasonSafeWithdrawal, model.ReasonLoanReturn, model.ReasonOther,
	},
	model.MovementWithdrawal: {
		model.ReasonBankDeposit, model.ReasonSupplierPayment, model.ReasonExpense,
		model.ReasonSafeDeposit, model.ReasonCashLoan, model.ReasonOther,
	},
	model.MovementAdjustmentIn:  {model.ReasonCountCorrection, model.ReasonOther},
	model.MovementAdjustmentOut: {model.ReasonCountCorrection, model.ReasonOther},
	model.MovementTransferIn:    {model.ReasonShiftTransfer, model.ReasonOther},
	model.MovementTransferOut:   {model.ReasonShiftTransfer, model.ReasonBankDeposit, model.ReasonOther},
	model.MovementChangeFund:    {model.ReasonChangeFund},
}

// ValidReason сообщает, допустим ли код причины для типа движения.
func ValidReason(t model.MovementType, r model.MovementReason) bool {
	for _, known := range reasons[t] {
		if known == r {
			return true
		}
	}
	return false
}

// MovementInput описывает ручное движение денежных средств.
type MovementInput struct {
	Type         model.MovementType
	Amount       decimal.Decimal
	Reason       model.MovementReason
	Description  string
	Reference    string
	Destination  string
	CreatedBy    string
	AuthorizedBy string
	RequestID    string
}

// Journal ведёт журнал ручных движений смены. Итоги внесений и изъятий
// накапливаются в смене при каждой записи, журнал хранится только для аудита.
type Journal struct {
	// Threshold — сумма, выше которой движение требует второго подписанта.
	// Нулевое значение отключает двойной контроль.
	Threshold decimal.Decimal
}

// NewJournal создаёт журнал с порогом двойного контроля.
func NewJournal(threshold decimal.Decimal) Journal {
	return Journal{Threshold: threshold}
}

// Record проверяет и добавляет движение, обновляя накопленные итоги смены.
func (j Journal) Record(s *model.CashSession, in MovementInput, now time.Time) (*model.CashMovement, error) {
	if s.Status.Terminal() {
		return nil, errSessionClosed
	}
	if s.ClosingCountID != nil {
		return nil, stateError("closing count already recorded")
	}

	if _, ok := reasons[in.Type]; !ok {
		return nil, validationError("unknown movement type %q", in.Type)
	}
	if !in.Amount.IsPositive() {
		return nil, validationError("amount must be positive")
	}
	if !ValidReason(in.Type, in.Reason) {
		return nil, validationError("reason %q is not valid for %s", in.Reason, in.Type)
	}
	if strings.TrimSpace(in.CreatedBy) == "" {
		return nil, validationError("creator is required")
	}
	if in.Type == model.MovementChangeFund && !acceptsChangeFund(s) {
		return nil, stateError("change fund is only accepted before the first sale")
	}

	if j.Threshold.IsPositive() && in.Amount.GreaterThan(j.Threshold) {
		if strings.TrimSpace(in.AuthorizedBy) == "" {
			return nil, validationError("authorization required")
		}
		if in.AuthorizedBy == in.CreatedBy {
			return nil, validationError("authorizer must differ from creator")
		}
	}

	if in.Type.Inflow() {
		s.DepositsTotal = s.DepositsTotal.Add(in.Amount)
	} else {
		s.WithdrawalsTotal = s.WithdrawalsTotal.Add(in.Amount)
	}

	return &model.CashMovement{
		ID:           uuid.New(),
		SessionID:    s.ID,
		Type:         in.Type,
		Amount:       in.Amount,
		Reason:       in.Reason,
		Description:  in.Description,
		Reference:    in.Reference,
		Destination:  in.Destination,
		CreatedBy:    in.CreatedBy,
		AuthorizedBy: in.AuthorizedBy,
		RequestID:    in.RequestID,
		CreatedAt:    now,
	}, nil
}

func acceptsChangeFund(s *model.CashSession) bool {
	return s.Status == model.SessionStatusOpen &&
		s.SalesCount == 0 && s.RefundsCount == 0 && s.CancelsCount == 0
}
