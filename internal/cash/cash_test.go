package cash

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erpwoosync/cianbox-pos-sub001/internal/model"
)

var now = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func openSession(t *testing.T, opening string) *model.CashSession {
	t.Helper()

	s, count, err := Open(OpenParams{
		BranchID:      "BR1",
		PointOfSaleID: "POS1",
		OperatorID:    "alice",
		OpeningAmount: dec(opening),
	}, now)
	require.NoError(t, err)
	require.Equal(t, model.CountOpening, count.Type)
	require.True(t, count.TotalCounted.Equal(dec(opening)))
	return s
}

func cashSale(amount string) []model.TenderAmount {
	return []model.TenderAmount{{Tender: model.TenderCash, Amount: dec(amount)}}
}

func assertInvariants(t *testing.T, s *model.CashSession) {
	t.Helper()

	want := s.OpeningAmount.Add(s.Cash).Add(s.DepositsTotal).Sub(s.WithdrawalsTotal)
	assert.True(t, ExpectedAmount(s).Equal(want), "expected amount %s, want %s", ExpectedAmount(s), want)
	assert.NoError(t, CheckTenderBalance(s.LedgerTotals, dec("0.01")))
}

func TestCloseScenario(t *testing.T) {
	ledger := NewLedger(dec("0.01"))
	journal := NewJournal(decimal.Zero)

	s := openSession(t, "1000")

	_, err := ledger.PostSale(s, "S1", cashSale("500"), dec("500"), now)
	require.NoError(t, err)
	assert.True(t, s.Cash.Equal(dec("500")))
	assert.True(t, ExpectedAmount(s).Equal(dec("1500")))
	assertInvariants(t, s)

	_, err = journal.Record(s, MovementInput{
		Type:      model.MovementWithdrawal,
		Amount:    dec("200"),
		Reason:    model.ReasonBankDeposit,
		CreatedBy: "alice",
	}, now)
	require.NoError(t, err)
	assert.True(t, s.WithdrawalsTotal.Equal(dec("200")))
	assert.True(t, ExpectedAmount(s).Equal(dec("1300")))
	assertInvariants(t, s)

	require.NoError(t, StartCount(s))
	assert.Equal(t, model.SessionStatusCounting, s.Status)

	count, err := RecordCount(s, CountInput{
		Type:       model.CountClosing,
		TotalBills: dec("1250"),
		TotalCoins: dec("50"),
		CountedBy:  "alice",
	}, now)
	require.NoError(t, err)
	assert.True(t, count.TotalCounted.Equal(dec("1300")))
	assert.True(t, count.ExpectedAmount.Equal(dec("1300")))
	assert.True(t, count.Difference.IsZero())
	assert.Equal(t, model.DifferenceNone, count.DifferenceType)

	require.NoError(t, Close(s, count, now))
	assert.Equal(t, model.SessionStatusClosed, s.Status)
	assert.True(t, s.ClosingAmount.Equal(dec("1300")))
	assert.True(t, s.ExpectedAmount.Equal(dec("1300")))
	assert.True(t, s.Difference.IsZero())

	_, err = RecordCount(s, CountInput{Type: model.CountClosing, CountedBy: "alice"}, now)
	assert.ErrorIs(t, err, ErrState)

	before := *s
	_, err = journal.Record(s, MovementInput{
		Type:      model.MovementDeposit,
		Amount:    dec("10"),
		Reason:    model.ReasonOther,
		CreatedBy: "alice",
	}, now)
	assert.ErrorIs(t, err, ErrState)
	assert.EqualError(t, err, "invalid state: session is closed")

	_, err = ledger.PostSale(s, "S2", cashSale("10"), dec("10"), now)
	assert.ErrorIs(t, err, ErrState)
	assert.Equal(t, before, *s)
}

func TestCloseWithoutClosingCount(t *testing.T) {
	s := openSession(t, "100")
	require.NoError(t, StartCount(s))

	err := Close(s, nil, now)
	assert.ErrorIs(t, err, ErrState)
	assert.Equal(t, model.SessionStatusCounting, s.Status)
}

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		name    string
		from    model.SessionStatus
		action  Action
		want    model.SessionStatus
		wantErr bool
	}{
		{name: "suspend open", from: model.SessionStatusOpen, action: ActionSuspend, want: model.SessionStatusSuspended},
		{name: "resume suspended", from: model.SessionStatusSuspended, action: ActionResume, want: model.SessionStatusOpen},
		{name: "count suspended", from: model.SessionStatusSuspended, action: ActionStartCount, want: model.SessionStatusCounting},
		{name: "close counting", from: model.SessionStatusCounting, action: ActionClose, want: model.SessionStatusClosed},
		{name: "close open", from: model.SessionStatusOpen, action: ActionClose, wantErr: true},
		{name: "suspend counting", from: model.SessionStatusCounting, action: ActionSuspend, wantErr: true},
		{name: "resume open", from: model.SessionStatusOpen, action: ActionResume, wantErr: true},
		{name: "anything closed", from: model.SessionStatusClosed, action: ActionResume, wantErr: true},
		{name: "anything transferred", from: model.SessionStatusTransferred, action: ActionTransfer, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Transition(tt.from, tt.action)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrState)
				assert.Equal(t, tt.from, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSalesRejectedWhileCounting(t *testing.T) {
	ledger := NewLedger(dec("0.01"))
	s := openSession(t, "0")
	require.NoError(t, StartCount(s))

	_, err := ledger.PostSale(s, "S1", cashSale("10"), dec("10"), now)
	assert.ErrorIs(t, err, ErrState)
	assert.True(t, s.SalesTotal.IsZero())

	require.NoError(t, Resume(s))
	_, err = ledger.PostSale(s, "S1", cashSale("10"), dec("10"), now)
	assert.NoError(t, err)
}

func TestResumeAfterClosingCount(t *testing.T) {
	s := openSession(t, "0")
	require.NoError(t, StartCount(s))
	_, err := RecordCount(s, CountInput{Type: model.CountClosing, CountedBy: "alice"}, now)
	require.NoError(t, err)

	assert.ErrorIs(t, Resume(s), ErrState)
}

func TestPostSaleValidation(t *testing.T) {
	ledger := NewLedger(dec("0.01"))

	tests := []struct {
		name    string
		saleID  string
		tenders []model.TenderAmount
		total   string
	}{
		{name: "empty id", saleID: "", tenders: cashSale("10"), total: "10"},
		{name: "no tenders", saleID: "S1", total: "10"},
		{name: "zero total", saleID: "S1", tenders: cashSale("10"), total: "0"},
		{name: "negative tender", saleID: "S1", tenders: cashSale("-10"), total: "10"},
		{name: "unknown tender", saleID: "S1", tenders: []model.TenderAmount{{Tender: "BITCOIN", Amount: dec("10")}}, total: "10"},
		{name: "breakdown mismatch", saleID: "S1", tenders: cashSale("9.98"), total: "10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := openSession(t, "0")
			_, err := ledger.PostSale(s, tt.saleID, tt.tenders, dec(tt.total), now)
			assert.ErrorIs(t, err, ErrValidation)
			assert.Zero(t, s.SalesCount)
		})
	}
}

func TestPostSaleMixedTenders(t *testing.T) {
	ledger := NewLedger(dec("0.01"))
	s := openSession(t, "100")

	p, err := ledger.PostSale(s, "S1", []model.TenderAmount{
		{Tender: model.TenderCash, Amount: dec("30")},
		{Tender: model.TenderDebit, Amount: dec("50.005")},
		{Tender: model.TenderQR, Amount: dec("20")},
	}, dec("100"), now)
	require.NoError(t, err)

	assert.True(t, s.Debit.Equal(dec("50.005")))
	assert.True(t, s.QR.Equal(dec("20")))
	assert.Equal(t, 1, s.SalesCount)
	assert.True(t, p.Result.SalesTotal.Equal(s.SalesTotal))
	assert.True(t, ExpectedAmount(s).Equal(dec("130")))
	assertInvariants(t, s)
}

func TestRefundAndCancel(t *testing.T) {
	ledger := NewLedger(dec("0.01"))
	s := openSession(t, "0")

	sale, err := ledger.PostSale(s, "S1", cashSale("100"), dec("100"), now)
	require.NoError(t, err)

	_, err = ledger.PostRefund(s, "R1", cashSale("30"), dec("30"), now)
	require.NoError(t, err)
	assert.True(t, s.Cash.Equal(dec("70")))
	assert.True(t, s.RefundsTotal.Equal(dec("30")))
	assert.Equal(t, 1, s.RefundsCount)
	assertInvariants(t, s)

	_, err = ledger.PostRefund(s, "R2", []model.TenderAmount{{Tender: model.TenderDebit, Amount: dec("1")}}, dec("1"), now)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = ledger.PostRefund(s, "R3", cashSale("71"), dec("71"), now)
	assert.ErrorIs(t, err, ErrValidation)
	assert.True(t, s.Cash.Equal(dec("70")))

	// сторно продажи, часть которой уже возвращена, увело бы наличные в минус
	_, err = ledger.PostCancel(s, sale, now)
	assert.ErrorIs(t, err, ErrValidation)

	other, err := ledger.PostSale(s, "S2", cashSale("40"), dec("40"), now)
	require.NoError(t, err)
	_, err = ledger.PostCancel(s, other, now)
	require.NoError(t, err)
	assert.Equal(t, 1, s.CancelsCount)
	assert.True(t, s.Cash.Equal(dec("70")))
	assertInvariants(t, s)
}

func TestJournalValidation(t *testing.T) {
	journal := NewJournal(dec("500"))

	tests := []struct {
		name    string
		in      MovementInput
		wantErr error
		msg     string
	}{
		{
			name:    "zero amount",
			in:      MovementInput{Type: model.MovementDeposit, Amount: decimal.Zero, Reason: model.ReasonOther, CreatedBy: "a"},
			wantErr: ErrValidation,
		},
		{
			name:    "reason not valid for type",
			in:      MovementInput{Type: model.MovementDeposit, Amount: dec("10"), Reason: model.ReasonBankDeposit, CreatedBy: "a"},
			wantErr: ErrValidation,
		},
		{
			name:    "unknown type",
			in:      MovementInput{Type: "LOAN", Amount: dec("10"), Reason: model.ReasonOther, CreatedBy: "a"},
			wantErr: ErrValidation,
		},
		{
			name:    "above threshold without authorizer",
			in:      MovementInput{Type: model.MovementWithdrawal, Amount: dec("500.01"), Reason: model.ReasonExpense, CreatedBy: "a"},
			wantErr: ErrValidation,
			msg:     "validation error: authorization required",
		},
		{
			name:    "self authorization",
			in:      MovementInput{Type: model.MovementWithdrawal, Amount: dec("600"), Reason: model.ReasonExpense, CreatedBy: "a", AuthorizedBy: "a"},
			wantErr: ErrValidation,
		},
		{
			name: "above threshold with authorizer",
			in:   MovementInput{Type: model.MovementWithdrawal, Amount: dec("600"), Reason: model.ReasonExpense, CreatedBy: "a", AuthorizedBy: "b"},
		},
		{
			name: "at threshold",
			in:   MovementInput{Type: model.MovementWithdrawal, Amount: dec("500"), Reason: model.ReasonExpense, CreatedBy: "a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := openSession(t, "1000")
			m, err := journal.Record(s, tt.in, now)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				if tt.msg != "" {
					assert.EqualError(t, err, tt.msg)
				}
				assert.True(t, s.WithdrawalsTotal.IsZero())
				return
			}
			require.NoError(t, err)
			assert.True(t, s.WithdrawalsTotal.Equal(m.Amount))
			assertInvariants(t, s)
		})
	}
}

func TestJournalTotals(t *testing.T) {
	journal := NewJournal(decimal.Zero)
	s := openSession(t, "100")

	inputs := []MovementInput{
		{Type: model.MovementChangeFund, Amount: dec("50"), Reason: model.ReasonChangeFund},
		{Type: model.MovementDeposit, Amount: dec("10"), Reason: model.ReasonLoanReturn},
		{Type: model.MovementAdjustmentIn, Amount: dec("1"), Reason: model.ReasonCountCorrection},
		{Type: model.MovementTransferIn, Amount: dec("4"), Reason: model.ReasonShiftTransfer},
		{Type: model.MovementWithdrawal, Amount: dec("20"), Reason: model.ReasonSupplierPayment},
		{Type: model.MovementAdjustmentOut, Amount: dec("2"), Reason: model.ReasonCountCorrection},
		{Type: model.MovementTransferOut, Amount: dec("3"), Reason: model.ReasonShiftTransfer},
	}
	for _, in := range inputs {
		in.CreatedBy = "alice"
		_, err := journal.Record(s, in, now)
		require.NoError(t, err)
		assertInvariants(t, s)
	}

	assert.True(t, s.DepositsTotal.Equal(dec("65")))
	assert.True(t, s.WithdrawalsTotal.Equal(dec("25")))
	assert.True(t, ExpectedAmount(s).Equal(dec("140")))
}

func TestChangeFundOnlyBeforeFirstSale(t *testing.T) {
	ledger := NewLedger(dec("0.01"))
	journal := NewJournal(decimal.Zero)
	s := openSession(t, "0")

	_, err := ledger.PostSale(s, "S1", cashSale("5"), dec("5"), now)
	require.NoError(t, err)

	_, err = journal.Record(s, MovementInput{
		Type:      model.MovementChangeFund,
		Amount:    dec("50"),
		Reason:    model.ReasonChangeFund,
		CreatedBy: "alice",
	}, now)
	assert.ErrorIs(t, err, ErrState)
}

func TestMovementsRejectedAfterClosingCount(t *testing.T) {
	journal := NewJournal(decimal.Zero)
	s := openSession(t, "0")
	require.NoError(t, StartCount(s))
	_, err := RecordCount(s, CountInput{Type: model.CountClosing, CountedBy: "alice"}, now)
	require.NoError(t, err)

	_, err = journal.Record(s, MovementInput{
		Type:      model.MovementDeposit,
		Amount:    dec("1"),
		Reason:    model.ReasonOther,
		CreatedBy: "alice",
	}, now)
	assert.ErrorIs(t, err, ErrState)
}

func TestRecordCountDifference(t *testing.T) {
	tests := []struct {
		name     string
		bills    string
		wantDiff string
		wantType model.DifferenceType
	}{
		{name: "surplus", bills: "1010", wantDiff: "10", wantType: model.DifferenceSurplus},
		{name: "shortage", bills: "990.5", wantDiff: "-9.5", wantType: model.DifferenceShortage},
		{name: "exact", bills: "1000", wantDiff: "0", wantType: model.DifferenceNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := openSession(t, "1000")
			c, err := RecordCount(s, CountInput{Type: model.CountPartial, TotalBills: dec(tt.bills), CountedBy: "bob"}, now)
			require.NoError(t, err)
			assert.True(t, c.Difference.Equal(dec(tt.wantDiff)), "difference %s", c.Difference)
			assert.Equal(t, tt.wantType, c.DifferenceType)
			assert.Equal(t, model.SessionStatusOpen, s.Status)
			assert.Nil(t, s.ClosingCountID)
		})
	}
}

func TestRecordCountRules(t *testing.T) {
	s := openSession(t, "0")

	_, err := RecordCount(s, CountInput{Type: model.CountOpening, CountedBy: "a"}, now)
	assert.ErrorIs(t, err, ErrState)

	_, err = RecordCount(s, CountInput{Type: model.CountClosing, CountedBy: "a"}, now)
	assert.ErrorIs(t, err, ErrState)

	_, err = RecordCount(s, CountInput{Type: model.CountAudit, TotalCoins: dec("-1"), CountedBy: "a"}, now)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = RecordCount(s, CountInput{Type: model.CountAudit}, now)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRecordCountDenominations(t *testing.T) {
	s := openSession(t, "0")

	in := CountInput{
		Type:       model.CountAudit,
		TotalBills: dec("250"),
		TotalCoins: dec("1.5"),
		Denominations: []model.Denomination{
			{Kind: model.DenominationBill, Value: dec("100"), Quantity: 2},
			{Kind: model.DenominationBill, Value: dec("50"), Quantity: 1},
			{Kind: model.DenominationCoin, Value: dec("0.5"), Quantity: 3},
		},
		CountedBy: "a",
	}
	c, err := RecordCount(s, in, now)
	require.NoError(t, err)
	assert.True(t, c.TotalCounted.Equal(dec("251.5")))

	in.TotalBills = dec("200")
	_, err = RecordCount(s, in, now)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestTransfer(t *testing.T) {
	ledger := NewLedger(dec("0.01"))
	s := openSession(t, "100")
	_, err := ledger.PostSale(s, "S1", cashSale("50"), dec("50"), now)
	require.NoError(t, err)

	target, opening, count, err := Transfer(s, TransferParams{
		TargetOperatorID: "bob",
		Count:            &CountInput{TotalBills: dec("145"), CountedBy: "alice"},
	}, now)
	require.NoError(t, err)

	assert.Equal(t, model.SessionStatusTransferred, s.Status)
	assert.Equal(t, target.ID, *s.TransferredTo)
	assert.True(t, s.Difference.Equal(dec("-5")))
	assert.Equal(t, model.CountTransfer, count.Type)

	assert.Equal(t, model.SessionStatusOpen, target.Status)
	assert.Equal(t, "POS1", target.PointOfSaleID)
	assert.Equal(t, "bob", target.OperatorID)
	assert.True(t, target.OpeningAmount.Equal(dec("145")))
	assert.Equal(t, s.ID, *target.TransferredFrom)
	assert.True(t, opening.TotalCounted.Equal(dec("145")))

	_, _, _, err = Transfer(s, TransferParams{TargetOperatorID: "carol"}, now)
	assert.ErrorIs(t, err, ErrState)
}

func TestTransferUsesExpectedWithoutCount(t *testing.T) {
	s := openSession(t, "80")
	target, _, count, err := Transfer(s, TransferParams{TargetOperatorID: "bob"}, now)
	require.NoError(t, err)
	assert.Nil(t, count)
	assert.True(t, target.OpeningAmount.Equal(dec("80")))
	assert.True(t, s.Difference.IsZero())
}

func TestTransferAfterClosingCount(t *testing.T) {
	s := openSession(t, "1000")
	require.NoError(t, StartCount(s))

	closing, err := RecordCount(s, CountInput{Type: model.CountClosing, TotalBills: dec("900"), CountedBy: "alice"}, now)
	require.NoError(t, err)
	require.True(t, closing.Difference.Equal(dec("-100")))

	target, _, _, err := Transfer(s, TransferParams{TargetOperatorID: "bob"}, now)
	assert.ErrorIs(t, err, ErrState)
	assert.Nil(t, target)
	assert.Equal(t, model.SessionStatusCounting, s.Status)
	assert.Nil(t, s.ClosingAmount)
	assert.Nil(t, s.TransferredTo)

	require.NoError(t, Close(s, closing, now))
	assert.True(t, s.ClosingAmount.Equal(dec("900")))
	assert.True(t, s.Difference.Equal(dec("-100")))
}

func TestOpenBreakdownMustMatchAmount(t *testing.T) {
	p := OpenParams{
		PointOfSaleID: "POS1",
		OperatorID:    "alice",
		OpeningAmount: dec("1000"),
		Breakdown:     &CountInput{TotalBills: dec("500")},
	}
	_, _, err := Open(p, now)
	assert.ErrorIs(t, err, ErrValidation)

	p.Breakdown = &CountInput{TotalBills: dec("950"), TotalCoins: dec("50")}
	s, count, err := Open(p, now)
	require.NoError(t, err)
	assert.True(t, s.OpeningAmount.Equal(dec("1000")))
	assert.True(t, count.TotalCoins.Equal(dec("50")))
	assert.True(t, count.Difference.IsZero())
	assert.Equal(t, model.DifferenceNone, count.DifferenceType)
}

func TestTreasury(t *testing.T) {
	journal := NewJournal(decimal.Zero)
	s := openSession(t, "1000")

	m, err := journal.Record(s, MovementInput{
		Type:      model.MovementWithdrawal,
		Amount:    dec("200"),
		Reason:    model.ReasonBankDeposit,
		Reference: "DEP-1",
		CreatedBy: "alice",
	}, now)
	require.NoError(t, err)

	p := NewTreasuryPending(s, m, now)
	require.NotNil(t, p)
	assert.Equal(t, model.TreasuryPendingStatus, p.Status)
	assert.Equal(t, "DEP-1", p.BankReference)

	require.NoError(t, ConfirmTreasury(p, dec("180"), "bank fee", "treasurer", now))
	assert.Equal(t, model.TreasuryPartial, p.Status)
	assert.ErrorIs(t, RejectTreasury(p, "late", "treasurer", now), ErrState)

	other := NewTreasuryPending(s, m, now)
	require.NoError(t, ConfirmTreasury(other, dec("200"), "", "treasurer", now))
	assert.Equal(t, model.TreasuryConfirmed, other.Status)

	expense, err := journal.Record(s, MovementInput{
		Type:      model.MovementWithdrawal,
		Amount:    dec("5"),
		Reason:    model.ReasonExpense,
		CreatedBy: "alice",
	}, now)
	require.NoError(t, err)
	assert.Nil(t, NewTreasuryPending(s, expense, now))
}

func TestTreasuryOnlyForOutgoingBankDeposits(t *testing.T) {
	journal := NewJournal(decimal.Zero)
	s := openSession(t, "1000")

	_, err := journal.Record(s, MovementInput{
		Type: model.MovementDeposit, Amount: dec("100"), Reason: model.ReasonBankDeposit, CreatedBy: "alice",
	}, now)
	assert.ErrorIs(t, err, ErrValidation)

	m, err := journal.Record(s, MovementInput{
		Type: model.MovementTransferOut, Amount: dec("100"), Reason: model.ReasonBankDeposit, CreatedBy: "alice",
	}, now)
	require.NoError(t, err)
	assert.NotNil(t, NewTreasuryPending(s, m, now))

	m, err = journal.Record(s, MovementInput{
		Type: model.MovementWithdrawal, Amount: dec("50"), Reason: model.ReasonExpense, CreatedBy: "alice",
	}, now)
	require.NoError(t, err)
	assert.Nil(t, NewTreasuryPending(s, m, now))
}
