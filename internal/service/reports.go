package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/erpwoosync/cianbox-pos-sub001/internal/model"
	"github.com/erpwoosync/cianbox-pos-sub001/internal/repository"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// NormalizePagination подставляет значения по умолчанию и ограничивает размер страницы.
func NormalizePagination(page, limit int) model.Pagination {
	if page < 1 {
		page = 1
	}
	switch {
	case limit <= 0:
		limit = defaultPageLimit
	case limit > maxPageLimit:
		limit = maxPageLimit
	}
	return model.Pagination{Page: page, Limit: limit}
}

// ListSessions возвращает страницу смен по фильтру.
func (s *Service) ListSessions(ctx context.Context, f model.SessionFilter, page, limit int) (*model.SessionPage, error) {
	return s.repo.ListSessions(ctx, f, NormalizePagination(page, limit))
}

// GetDailyReport агрегирует смены, открытые в указанный день.
func (s *Service) GetDailyReport(ctx context.Context, day time.Time, branchID string) (*model.DailyReport, error) {
	from, to := repository.DayRange(day)

	sessions, err := s.repo.SessionsOpenedBetween(ctx, from, to, branchID)
	if err != nil {
		return nil, err
	}
	return BuildDailyReport(from, branchID, sessions), nil
}

// BuildDailyReport суммирует итоги смен за день.
func BuildDailyReport(day time.Time, branchID string, sessions []model.CashSession) *model.DailyReport {
	r := &model.DailyReport{
		Date:     day.Format(time.DateOnly),
		BranchID: branchID,
		ByStatus: make(map[model.SessionStatus]int),
		Sessions: sessions,
	}
	if r.Sessions == nil {
		r.Sessions = []model.CashSession{}
	}

	for _, sess := range sessions {
		r.SessionsCount++
		r.ByStatus[sess.Status]++
		r.OpeningTotal = r.OpeningTotal.Add(sess.OpeningAmount)
		for _, t := range model.Tenders {
			r.Tenders.Add(t, sess.Get(t))
		}
		r.SalesCount += sess.SalesCount
		r.SalesTotal = r.SalesTotal.Add(sess.SalesTotal)
		r.RefundsCount += sess.RefundsCount
		r.RefundsTotal = r.RefundsTotal.Add(sess.RefundsTotal)
		r.CancelsCount += sess.CancelsCount
		r.DepositsTotal = r.DepositsTotal.Add(sess.DepositsTotal)
		r.WithdrawalsTotal = r.WithdrawalsTotal.Add(sess.WithdrawalsTotal)
		r.ClosingTotal = r.ClosingTotal.Add(valueOrZero(sess.ClosingAmount))
		r.DifferenceTotal = r.DifferenceTotal.Add(valueOrZero(sess.Difference))
	}
	return r
}

func valueOrZero(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}
