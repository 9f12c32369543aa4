package cash

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/erpwoosync/cianbox-pos-sub001/internal/model"
)

// Action описывает переход машины состояний смены.
type Action string

const (
	ActionSuspend    Action = "suspend"
	ActionResume     Action = "resume"
	ActionStartCount Action = "start count"
	ActionClose      Action = "close"
	ActionTransfer   Action = "transfer"
)

// transitions — полная таблица допустимых переходов. Всё, чего нет в таблице, запрещено.
var transitions = map[model.SessionStatus]map[Action]model.SessionStatus{
	model.SessionStatusOpen: {
		ActionSuspend:    model.SessionStatusSuspended,
		ActionStartCount: model.SessionStatusCounting,
		ActionTransfer:   model.SessionStatusTransferred,
	},
	model.SessionStatusSuspended: {
		ActionResume:     model.SessionStatusOpen,
		ActionStartCount: model.SessionStatusCounting,
		ActionTransfer:   model.SessionStatusTransferred,
	},
	model.SessionStatusCounting: {
		ActionResume:   model.SessionStatusOpen,
		ActionClose:    model.SessionStatusClosed,
		ActionTransfer: model.SessionStatusTransferred,
	},
}

// Transition возвращает состояние, в которое переводит действие, или ErrState.
func Transition(from model.SessionStatus, action Action) (model.SessionStatus, error) {
	if from.Terminal() {
		return from, errSessionClosed
	}
	to, ok := transitions[from][action]
	if !ok {
		return from, stateError("cannot %s a %s session", action, strings.ToLower(string(from)))
	}
	return to, nil
}

// EnsureActive возвращает ErrState для закрытой или переданной смены.
func EnsureActive(s *model.CashSession) error {
	if s.Status.Terminal() {
		return errSessionClosed
	}
	return nil
}

// OpenParams описывает параметры открытия смены.
type OpenParams struct {
	ID            uuid.UUID
	BranchID      string
	PointOfSaleID string
	OperatorID    string
	OpeningAmount decimal.Decimal
	// Breakdown — необязательная детализация начального пересчёта. Если не задана,
	// весь фонд считается купюрами. Итог детализации должен совпадать с OpeningAmount.
	Breakdown *CountInput
}

// Open создаёт новую смену в состоянии OPEN вместе с начальным пересчётом.
// Проверку единственности активной смены на кассе выполняет хранилище.
func Open(p OpenParams, now time.Time) (*model.CashSession, *model.CashCount, error) {
	if strings.TrimSpace(p.PointOfSaleID) == "" {
		return nil, nil, validationError("point of sale is required")
	}
	if strings.TrimSpace(p.OperatorID) == "" {
		return nil, nil, validationError("operator is required")
	}
	if p.OpeningAmount.IsNegative() {
		return nil, nil, validationError("opening amount must not be negative")
	}

	id := p.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	s := &model.CashSession{
		ID:            id,
		BranchID:      p.BranchID,
		PointOfSaleID: p.PointOfSaleID,
		OperatorID:    p.OperatorID,
		OpeningAmount: p.OpeningAmount,
		Status:        model.SessionStatusOpen,
		OpenedAt:      now,
	}

	in := CountInput{Type: model.CountOpening, TotalBills: p.OpeningAmount, CountedBy: p.OperatorID}
	if p.Breakdown != nil {
		in = *p.Breakdown
		in.Type = model.CountOpening
		if in.CountedBy == "" {
			in.CountedBy = p.OperatorID
		}
	}

	count, err := newCount(s, in, now)
	if err != nil {
		return nil, nil, err
	}
	if !count.TotalCounted.Equal(p.OpeningAmount) {
		return nil, nil, validationError("opening breakdown %s does not match opening amount %s",
			count.TotalCounted, p.OpeningAmount)
	}
	return s, count, nil
}

// Suspend переводит смену OPEN → SUSPENDED.
func Suspend(s *model.CashSession) error {
	return apply(s, ActionSuspend)
}

// Resume возвращает смену в OPEN из SUSPENDED или прерывает пересчёт (COUNTING),
// пока закрывающий пересчёт не записан.
func Resume(s *model.CashSession) error {
	if s.Status == model.SessionStatusCounting && s.ClosingCountID != nil {
		return stateError("closing count already recorded")
	}
	return apply(s, ActionResume)
}

// StartCount переводит смену в COUNTING. В этом состоянии продажи не принимаются.
func StartCount(s *model.CashSession) error {
	return apply(s, ActionStartCount)
}

// Close закрывает смену по ранее записанному закрывающему пересчёту. Суммы пересчёта
// копируются в смену без пересчёта.
func Close(s *model.CashSession, closing *model.CashCount, now time.Time) error {
	if s.Status.Terminal() {
		return errSessionClosed
	}
	if s.ClosingCountID == nil || closing == nil {
		return stateError("closing count is required")
	}
	if closing.ID != *s.ClosingCountID || closing.Type != model.CountClosing {
		return stateError("closing count does not belong to session")
	}

	to, err := Transition(s.Status, ActionClose)
	if err != nil {
		return err
	}

	closingAmount := closing.TotalCounted
	expected := closing.ExpectedAmount
	diff := closing.Difference

	s.Status = to
	s.ClosedAt = &now
	s.ClosingAmount = &closingAmount
	s.ExpectedAmount = &expected
	s.Difference = &diff
	return nil
}

// TransferParams описывает передачу остатка кассы следующей смене.
type TransferParams struct {
	TargetID         uuid.UUID
	TargetOperatorID string
	// Count — необязательный пересчёт передаваемого фонда.
	Count *CountInput
}

// Transfer переводит смену в TRANSFERRED и открывает на той же кассе новую смену,
// начальный фонд которой равен остатку. Остаток — пересчитанная сумма, если пересчёт
// передан, иначе ожидаемая сумма. После закрывающего пересчёта смену можно только закрыть.
func Transfer(s *model.CashSession, p TransferParams, now time.Time) (*model.CashSession, *model.CashCount, *model.CashCount, error) {
	if _, err := Transition(s.Status, ActionTransfer); err != nil {
		return nil, nil, nil, err
	}
	if s.ClosingCountID != nil {
		return nil, nil, nil, stateError("closing count already recorded")
	}
	if strings.TrimSpace(p.TargetOperatorID) == "" {
		return nil, nil, nil, validationError("target operator is required")
	}

	expected := ExpectedAmount(s)
	remaining := expected

	var transferCount *model.CashCount
	if p.Count != nil {
		in := *p.Count
		in.Type = model.CountTransfer
		c, err := newCount(s, in, now)
		if err != nil {
			return nil, nil, nil, err
		}
		transferCount = c
		remaining = c.TotalCounted
	}
	if remaining.IsNegative() {
		return nil, nil, nil, validationError("remaining float %s is negative", remaining)
	}

	target, opening, err := Open(OpenParams{
		ID:            p.TargetID,
		BranchID:      s.BranchID,
		PointOfSaleID: s.PointOfSaleID,
		OperatorID:    p.TargetOperatorID,
		OpeningAmount: remaining,
	}, now)
	if err != nil {
		return nil, nil, nil, err
	}

	diff, _ := Difference(remaining, expected)
	s.Status = model.SessionStatusTransferred
	s.ClosedAt = &now
	s.ClosingAmount = &remaining
	s.ExpectedAmount = &expected
	s.Difference = &diff
	targetID, sourceID := target.ID, s.ID
	s.TransferredTo = &targetID
	target.TransferredFrom = &sourceID

	return target, opening, transferCount, nil
}

func apply(s *model.CashSession, action Action) error {
	to, err := Transition(s.Status, action)
	if err != nil {
		return err
	}
	s.Status = to
	return nil
}
