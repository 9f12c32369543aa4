// Package model содержит доменные сущности кассового модуля.
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SessionStatus описывает состояние кассовой смены.
type SessionStatus string

const (
	SessionStatusOpen        SessionStatus = "OPEN"
	SessionStatusSuspended   SessionStatus = "SUSPENDED"
	SessionStatusCounting    SessionStatus = "COUNTING"
	SessionStatusClosed      SessionStatus = "CLOSED"
	SessionStatusTransferred SessionStatus = "TRANSFERRED"
)

// Active сообщает, занимает ли смена кассу (OPEN, SUSPENDED или COUNTING).
func (s SessionStatus) Active() bool {
	return s == SessionStatusOpen || s == SessionStatusSuspended || s == SessionStatusCounting
}

// Terminal сообщает, что смена больше не может изменяться.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusClosed || s == SessionStatusTransferred
}

// Tender описывает способ оплаты.
type Tender string

const (
	TenderCash     Tender = "CASH"
	TenderDebit    Tender = "DEBIT"
	TenderCredit   Tender = "CREDIT"
	TenderQR       Tender = "QR"
	TenderMPPoint  Tender = "MP_POINT"
	TenderTransfer Tender = "TRANSFER"
	TenderOther    Tender = "OTHER"
)

// Tenders перечисляет все поддерживаемые способы оплаты.
var Tenders = []Tender{TenderCash, TenderDebit, TenderCredit, TenderQR, TenderMPPoint, TenderTransfer, TenderOther}

// TenderTotals содержит накопленные суммы по способам оплаты.
type TenderTotals struct {
	Cash     decimal.Decimal `json:"totalCash"`
	Debit    decimal.Decimal `json:"totalDebit"`
	Credit   decimal.Decimal `json:"totalCredit"`
	QR       decimal.Decimal `json:"totalQr"`
	MPPoint  decimal.Decimal `json:"totalMpPoint"`
	Transfer decimal.Decimal `json:"totalTransfer"`
	Other    decimal.Decimal `json:"totalOther"`
}

// Get возвращает сумму по указанному способу оплаты.
func (t TenderTotals) Get(tender Tender) decimal.Decimal {
	switch tender {
	case TenderCash:
		return t.Cash
	case TenderDebit:
		return t.Debit
	case TenderCredit:
		return t.Credit
	case TenderQR:
		return t.QR
	case TenderMPPoint:
		return t.MPPoint
	case TenderTransfer:
		return t.Transfer
	default:
		return t.Other
	}
}

// Add прибавляет сумму к указанному способу оплаты.
func (t *TenderTotals) Add(tender Tender, amount decimal.Decimal) {
	switch tender {
	case TenderCash:
		t.Cash = t.Cash.Add(amount)
	case TenderDebit:
		t.Debit = t.Debit.Add(amount)
	case TenderCredit:
		t.Credit = t.Credit.Add(amount)
	case TenderQR:
		t.QR = t.QR.Add(amount)
	case TenderMPPoint:
		t.MPPoint = t.MPPoint.Add(amount)
	case TenderTransfer:
		t.Transfer = t.Transfer.Add(amount)
	default:
		t.Other = t.Other.Add(amount)
	}
}

// Sum возвращает сумму по всем способам оплаты.
func (t TenderTotals) Sum() decimal.Decimal {
	return decimal.Sum(t.Cash, t.Debit, t.Credit, t.QR, t.MPPoint, t.Transfer, t.Other)
}

// LedgerTotals содержит счётчики продаж и возвратов смены.
type LedgerTotals struct {
	TenderTotals
	SalesCount   int             `json:"salesCount"`
	SalesTotal   decimal.Decimal `json:"salesTotal"`
	RefundsCount int             `json:"refundsCount"`
	RefundsTotal decimal.Decimal `json:"refundsTotal"`
	CancelsCount int             `json:"cancelsCount"`
}

// CashSession описывает одну кассовую смену.
type CashSession struct {
	ID            uuid.UUID       `json:"id"`
	BranchID      string          `json:"branchId"`
	PointOfSaleID string          `json:"pointOfSaleId"`
	OperatorID    string          `json:"operatorId"`
	OpeningAmount decimal.Decimal `json:"openingAmount"`
	Status        SessionStatus   `json:"status"`
	OpenedAt      time.Time       `json:"openedAt"`
	ClosedAt      *time.Time      `json:"closedAt,omitempty"`

	LedgerTotals

	DepositsTotal    decimal.Decimal `json:"depositsTotal"`
	WithdrawalsTotal decimal.Decimal `json:"withdrawalsTotal"`

	ClosingAmount  *decimal.Decimal `json:"closingAmount,omitempty"`
	ExpectedAmount *decimal.Decimal `json:"expectedAmount,omitempty"`
	Difference     *decimal.Decimal `json:"difference,omitempty"`

	ClosingCountID  *uuid.UUID `json:"closingCountId,omitempty"`
	TransferredFrom *uuid.UUID `json:"transferredFrom,omitempty"`
	TransferredTo   *uuid.UUID `json:"transferredTo,omitempty"`

	Version int64 `json:"version"`
}

// MovementType описывает тип ручного движения денежных средств.
type MovementType string

const (
	MovementDeposit       MovementType = "DEPOSIT"
	MovementWithdrawal    MovementType = "WITHDRAWAL"
	MovementAdjustmentIn  MovementType = "ADJUSTMENT_IN"
	MovementAdjustmentOut MovementType = "ADJUSTMENT_OUT"
	MovementTransferIn    MovementType = "TRANSFER_IN"
	MovementTransferOut   MovementType = "TRANSFER_OUT"
	MovementChangeFund    MovementType = "CHANGE_FUND"
)

// Inflow сообщает, увеличивает ли движение наличные в кассе.
func (t MovementType) Inflow() bool {
	switch t {
	case MovementDeposit, MovementAdjustmentIn, MovementTransferIn, MovementChangeFund:
		return true
	}
	return false
}

// MovementReason описывает код причины движения.
type MovementReason string

const (
	ReasonBankDeposit     MovementReason = "BANK_DEPOSIT"
	ReasonSupplierPayment MovementReason = "SUPPLIER_PAYMENT"
	ReasonExpense         MovementReason = "EXPENSE"
	ReasonSafeDeposit     MovementReason = "SAFE_DEPOSIT"
	ReasonSafeWithdrawal  MovementReason = "SAFE_WITHDRAWAL"
	ReasonCashLoan        MovementReason = "CASH_LOAN"
	ReasonLoanReturn      MovementReason = "LOAN_RETURN"
	ReasonCountCorrection MovementReason = "COUNT_CORRECTION"
	ReasonShiftTransfer   MovementReason = "SHIFT_TRANSFER"
	ReasonChangeFund      MovementReason = "CHANGE_FUND"
	ReasonOther           MovementReason = "OTHER"
)

// CashMovement описывает неизменяемую запись журнала движений.
type CashMovement struct {
	ID           uuid.UUID       `json:"id"`
	SessionID    uuid.UUID       `json:"sessionId"`
	Type         MovementType    `json:"type"`
	Amount       decimal.Decimal `json:"amount"`
	Reason       MovementReason  `json:"reason"`
	Description  string          `json:"description,omitempty"`
	Reference    string          `json:"reference,omitempty"`
	Destination  string          `json:"destination,omitempty"`
	CreatedBy    string          `json:"createdBy"`
	AuthorizedBy string          `json:"authorizedBy,omitempty"`
	RequestID    string          `json:"requestId,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// CountType описывает вид пересчёта (arqueo).
type CountType string

const (
	CountOpening  CountType = "OPENING"
	CountPartial  CountType = "PARTIAL"
	CountClosing  CountType = "CLOSING"
	CountAudit    CountType = "AUDIT"
	CountTransfer CountType = "TRANSFER"
)

// DifferenceType описывает знак расхождения пересчёта.
type DifferenceType string

const (
	DifferenceNone     DifferenceType = ""
	DifferenceSurplus  DifferenceType = "SURPLUS"
	DifferenceShortage DifferenceType = "SHORTAGE"
)

// DenominationKind отличает купюры от монет.
type DenominationKind string

const (
	DenominationBill DenominationKind = "BILL"
	DenominationCoin DenominationKind = "COIN"
)

// Denomination описывает строку детализации пересчёта.
type Denomination struct {
	Kind     DenominationKind `json:"kind"`
	Value    decimal.Decimal  `json:"value"`
	Quantity int              `json:"quantity"`
}

// CashCount описывает неизменяемый снимок физического пересчёта.
type CashCount struct {
	ID             uuid.UUID       `json:"id"`
	SessionID      uuid.UUID       `json:"sessionId"`
	Type           CountType       `json:"type"`
	TotalBills     decimal.Decimal `json:"totalBills"`
	TotalCoins     decimal.Decimal `json:"totalCoins"`
	Vouchers       decimal.Decimal `json:"vouchers"`
	Checks         decimal.Decimal `json:"checks"`
	OtherValues    decimal.Decimal `json:"otherValues"`
	TotalCounted   decimal.Decimal `json:"totalCounted"`
	ExpectedAmount decimal.Decimal `json:"expectedAmount"`
	Difference     decimal.Decimal `json:"difference"`
	DifferenceType DifferenceType  `json:"differenceType,omitempty"`
	Denominations  []Denomination  `json:"denominations,omitempty"`
	Notes          string          `json:"notes,omitempty"`
	CountedBy      string          `json:"countedBy"`
	CountedAt      time.Time       `json:"countedAt"`
}

// PostingKind описывает вид проводки из подсистемы продаж.
type PostingKind string

const (
	PostingSale   PostingKind = "SALE"
	PostingRefund PostingKind = "REFUND"
	PostingCancel PostingKind = "CANCEL"
)

// TenderAmount описывает сумму по одному способу оплаты.
type TenderAmount struct {
	Tender Tender          `json:"tender"`
	Amount decimal.Decimal `json:"amount"`
}

// SalePosting описывает проводку продажи, возврата или отмены. Result хранит итоги
// смены сразу после проводки и возвращается при повторной доставке.
type SalePosting struct {
	SessionID uuid.UUID       `json:"sessionId"`
	Kind      PostingKind     `json:"kind"`
	SaleID    string          `json:"saleId"`
	Tenders   []TenderAmount  `json:"tenders"`
	Total     decimal.Decimal `json:"total"`
	Result    LedgerTotals    `json:"result"`
	PostedAt  time.Time       `json:"postedAt"`
}

// TreasuryStatus описывает состояние банковского подтверждения.
type TreasuryStatus string

const (
	TreasuryPendingStatus TreasuryStatus = "PENDING"
	TreasuryConfirmed     TreasuryStatus = "CONFIRMED"
	TreasuryPartial       TreasuryStatus = "PARTIAL"
	TreasuryRejected      TreasuryStatus = "REJECTED"
)

// TreasuryPending описывает ожидающее подтверждения банком внесение наличных.
type TreasuryPending struct {
	ID              uuid.UUID        `json:"id"`
	MovementID      uuid.UUID        `json:"movementId"`
	SessionID       uuid.UUID        `json:"sessionId"`
	BranchID        string           `json:"branchId"`
	BankReference   string           `json:"bankReference,omitempty"`
	ExpectedAmount  decimal.Decimal  `json:"expectedAmount"`
	ConfirmedAmount *decimal.Decimal `json:"confirmedAmount,omitempty"`
	Status          TreasuryStatus   `json:"status"`
	Notes           string           `json:"notes,omitempty"`
	ResolvedBy      string           `json:"resolvedBy,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
	ResolvedAt      *time.Time       `json:"resolvedAt,omitempty"`
}

// SessionFilter задаёт условия выборки смен.
type SessionFilter struct {
	BranchID      string
	PointOfSaleID string
	OperatorID    string
	Status        SessionStatus
	From          *time.Time
	To            *time.Time
}

// Pagination задаёт страницу выборки.
type Pagination struct {
	Page  int
	Limit int
}

// Offset возвращает смещение первой записи страницы.
func (p Pagination) Offset() int {
	return (p.Page - 1) * p.Limit
}

// SessionPage содержит страницу смен и общее количество записей.
type SessionPage struct {
	Items []CashSession `json:"items"`
	Total int           `json:"total"`
	Page  int           `json:"page"`
	Limit int           `json:"limit"`
}

// SessionReport объединяет смену со всеми её записями.
type SessionReport struct {
	Session        CashSession       `json:"session"`
	ExpectedAmount decimal.Decimal   `json:"expectedAmount"`
	Movements      []CashMovement    `json:"movements"`
	Counts         []CashCount       `json:"counts"`
	Postings       []SalePosting     `json:"postings"`
	Treasury       []TreasuryPending `json:"treasury"`
}

// DailyReport агрегирует итоги смен за день.
type DailyReport struct {
	Date             string                `json:"date"`
	BranchID         string                `json:"branchId,omitempty"`
	SessionsCount    int                   `json:"sessionsCount"`
	ByStatus         map[SessionStatus]int `json:"byStatus"`
	OpeningTotal     decimal.Decimal       `json:"openingTotal"`
	Tenders          TenderTotals          `json:"tenders"`
	SalesCount       int                   `json:"salesCount"`
	SalesTotal       decimal.Decimal       `json:"salesTotal"`
	RefundsCount     int                   `json:"refundsCount"`
	RefundsTotal     decimal.Decimal       `json:"refundsTotal"`
	CancelsCount     int                   `json:"cancelsCount"`
	DepositsTotal    decimal.Decimal       `json:"depositsTotal"`
	WithdrawalsTotal decimal.Decimal       `json:"withdrawalsTotal"`
	ClosingTotal     decimal.Decimal       `json:"closingTotal"`
	DifferenceTotal  decimal.Decimal       `json:"differenceTotal"`
	Sessions         []CashSession         `json:"sessions"`
}
