package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erpwoosync/cianbox-pos-sub001/internal/cash"
	"github.com/erpwoosync/cianbox-pos-sub001/internal/model"
)

var day = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func newSession(pos string, openedAt time.Time) *model.CashSession {
	return &model.CashSession{
		ID:            uuid.New(),
		BranchID:      "b1",
		PointOfSaleID: pos,
		OperatorID:    "op1",
		OpeningAmount: decimal.NewFromInt(1000),
		Status:        model.SessionStatusOpen,
		OpenedAt:      openedAt,
	}
}

func TestMemoryRepository_ApplyAndGet(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	s := newSession("pos1", day)
	require.NoError(t, repo.Apply(ctx, Changeset{Created: []*model.CashSession{s}}))
	assert.Equal(t, int64(1), s.Version)

	got, err := repo.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.OpeningAmount.String(), got.OpeningAmount.String())

	got.Status = model.SessionStatusSuspended
	again, err := repo.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusOpen, again.Status, "returned sessions must be copies")

	_, err = repo.GetSession(ctx, uuid.New())
	assert.ErrorIs(t, err, cash.ErrNotFound)
}

func TestMemoryRepository_SingleActiveSessionPerPOS(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	first := newSession("pos1", day)
	require.NoError(t, repo.Apply(ctx, Changeset{Created: []*model.CashSession{first}}))

	err := repo.Apply(ctx, Changeset{Created: []*model.CashSession{newSession("pos1", day)}})
	assert.ErrorIs(t, err, cash.ErrConflict)

	require.NoError(t, repo.Apply(ctx, Changeset{Created: []*model.CashSession{newSession("pos2", day)}}))

	closed, err := repo.GetSession(ctx, first.ID)
	require.NoError(t, err)
	closed.Status = model.SessionStatusClosed
	require.NoError(t, repo.Apply(ctx, Changeset{Updated: []*model.CashSession{closed}}))

	assert.NoError(t, repo.Apply(ctx, Changeset{Created: []*model.CashSession{newSession("pos1", day)}}))
}

func TestMemoryRepository_TransferFreesPOSInSameChangeset(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	source := newSession("pos1", day)
	require.NoError(t, repo.Apply(ctx, Changeset{Created: []*model.CashSession{source}}))

	source.Status = model.SessionStatusTransferred
	target := newSession("pos1", day.Add(time.Hour))
	require.NoError(t, repo.Apply(ctx, Changeset{
		Updated: []*model.CashSession{source},
		Created: []*model.CashSession{target},
	}))
	assert.Equal(t, int64(2), source.Version)
}

func TestMemoryRepository_VersionMismatch(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	s := newSession("pos1", day)
	require.NoError(t, repo.Apply(ctx, Changeset{Created: []*model.CashSession{s}}))

	a, _ := repo.GetSession(ctx, s.ID)
	b, _ := repo.GetSession(ctx, s.ID)

	a.SalesCount = 1
	require.NoError(t, repo.Apply(ctx, Changeset{Updated: []*model.CashSession{a}}))

	b.SalesCount = 5
	err := repo.Apply(ctx, Changeset{Updated: []*model.CashSession{b}})
	assert.ErrorIs(t, err, cash.ErrConcurrency)

	got, _ := repo.GetSession(ctx, s.ID)
	assert.Equal(t, 1, got.SalesCount)
}

func TestMemoryRepository_TerminalSessionIsFrozen(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	s := newSession("pos1", day)
	require.NoError(t, repo.Apply(ctx, Changeset{Created: []*model.CashSession{s}}))
	s.Status = model.SessionStatusClosed
	require.NoError(t, repo.Apply(ctx, Changeset{Updated: []*model.CashSession{s}}))

	s.Status = model.SessionStatusOpen
	err := repo.Apply(ctx, Changeset{Updated: []*model.CashSession{s}})
	assert.ErrorIs(t, err, cash.ErrConcurrency)
}

func TestMemoryRepository_FailedApplyChangesNothing(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	s := newSession("pos1", day)
	require.NoError(t, repo.Apply(ctx, Changeset{Created: []*model.CashSession{s}}))

	m := &model.CashMovement{
		ID: uuid.New(), SessionID: s.ID, Type: model.MovementDeposit,
		Amount: decimal.NewFromInt(10), Reason: model.ReasonOther, CreatedBy: "op1", RequestID: "r1",
	}
	require.NoError(t, repo.Apply(ctx, Changeset{Updated: []*model.CashSession{s}, Movement: m}))

	stale := *s
	stale.Version = 1
	err := repo.Apply(ctx, Changeset{
		Updated:  []*model.CashSession{&stale},
		Movement: &model.CashMovement{ID: uuid.New(), SessionID: s.ID, RequestID: "r2"},
	})
	require.ErrorIs(t, err, cash.ErrConcurrency)

	_, err = repo.GetMovementByRequest(ctx, s.ID, "r2")
	assert.ErrorIs(t, err, cash.ErrNotFound)

	got, err := repo.GetMovementByRequest(ctx, s.ID, "r1")
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)
}

func TestMemoryRepository_CountRules(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	s := newSession("pos1", day)
	opening := &model.CashCount{ID: uuid.New(), SessionID: s.ID, Type: model.CountOpening}
	require.NoError(t, repo.Apply(ctx, Changeset{Created: []*model.CashSession{s}, Counts: []*model.CashCount{opening}}))

	err := repo.Apply(ctx, Changeset{Counts: []*model.CashCount{{ID: uuid.New(), SessionID: s.ID, Type: model.CountOpening}}})
	assert.ErrorIs(t, err, cash.ErrState)

	err = repo.Apply(ctx, Changeset{Counts: []*model.CashCount{opening}})
	assert.ErrorIs(t, err, errAppendOnly)

	for range 2 {
		require.NoError(t, repo.Apply(ctx, Changeset{Counts: []*model.CashCount{{ID: uuid.New(), SessionID: s.ID, Type: model.CountPartial}}}))
	}

	report, err := repo.GetSessionReport(ctx, s.ID)
	require.NoError(t, err)
	assert.Len(t, report.Counts, 3)
}

func TestMemoryRepository_DuplicatePosting(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	s := newSession("pos1", day)
	require.NoError(t, repo.Apply(ctx, Changeset{Created: []*model.CashSession{s}}))

	p := &model.SalePosting{SessionID: s.ID, Kind: model.PostingSale, SaleID: "sale-1"}
	require.NoError(t, repo.Apply(ctx, Changeset{Posting: p}))
	assert.ErrorIs(t, repo.Apply(ctx, Changeset{Posting: p}), cash.ErrConcurrency)

	// Возврат с тем же номером документа хранится отдельно.
	require.NoError(t, repo.Apply(ctx, Changeset{Posting: &model.SalePosting{SessionID: s.ID, Kind: model.PostingRefund, SaleID: "sale-1"}}))

	_, err := repo.GetPosting(ctx, s.ID, model.PostingCancel, "sale-1")
	assert.ErrorIs(t, err, cash.ErrNotFound)
}

func TestMemoryRepository_ListSessions(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	for i := range 5 {
		s := newSession("pos"+string(rune('a'+i)), day.Add(time.Duration(i)*time.Hour))
		if i%2 == 0 {
			s.BranchID = "b2"
		}
		require.NoError(t, repo.Apply(ctx, Changeset{Created: []*model.CashSession{s}}))
	}

	page, err := repo.ListSessions(ctx, model.SessionFilter{}, model.Pagination{Page: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "pose", page.Items[0].PointOfSaleID)

	page, err = repo.ListSessions(ctx, model.SessionFilter{BranchID: "b2"}, model.Pagination{Page: 2, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "posa", page.Items[0].PointOfSaleID)

	page, err = repo.ListSessions(ctx, model.SessionFilter{}, model.Pagination{Page: 10, Limit: 2})
	require.NoError(t, err)
	assert.Empty(t, page.Items)

	from, to := DayRange(day)
	res, err := repo.SessionsOpenedBetween(ctx, from, to, "b1")
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.True(t, res[0].OpenedAt.Before(res[1].OpenedAt))
}

func TestMemoryRepository_Treasury(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	p := &model.TreasuryPending{
		ID: uuid.New(), MovementID: uuid.New(), SessionID: uuid.New(),
		ExpectedAmount: decimal.NewFromInt(500), Status: model.TreasuryPendingStatus, CreatedAt: day,
	}
	require.NoError(t, repo.Apply(ctx, Changeset{Treasury: p}))

	pending, err := repo.ListTreasury(ctx, model.TreasuryPendingStatus, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	resolved := *p
	resolved.Status = model.TreasuryConfirmed
	require.NoError(t, repo.ResolveTreasury(ctx, &resolved))
	assert.ErrorIs(t, repo.ResolveTreasury(ctx, &resolved), cash.ErrConcurrency)

	pending, err = repo.ListTreasury(ctx, model.TreasuryPendingStatus, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	all, err := repo.ListTreasury(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, model.TreasuryConfirmed, all[0].Status)
}

func TestDayRange(t *testing.T) {
	from, to := DayRange(time.Date(2026, 3, 10, 23, 59, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), from)
	assert.Equal(t, 24*time.Hour, to.Sub(from))
}
