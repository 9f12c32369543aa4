package service

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/erpwoosync/cianbox-pos-sub001/internal/cash"
	"github.com/erpwoosync/cianbox-pos-sub001/internal/model"
	"github.com/erpwoosync/cianbox-pos-sub001/internal/treasury"
)

const (
	treasuryBatchSize = 100
	bankResolver      = "bank"
)

// ListTreasury возвращает записи казначейства с указанным статусом.
func (s *Service) ListTreasury(ctx context.Context, status model.TreasuryStatus, limit int) ([]model.TreasuryPending, error) {
	res, err := s.repo.ListTreasury(ctx, status, NormalizePagination(1, limit).Limit)
	if err != nil {
		return nil, err
	}
	if res == nil {
		res = []model.TreasuryPending{}
	}
	return res, nil
}

// ConfirmTreasury подтверждает поступление внесения в банк.
func (s *Service) ConfirmTreasury(ctx context.Context, id uuid.UUID, confirmed decimal.Decimal, notes, by string) (*model.TreasuryPending, error) {
	return s.resolveTreasury(ctx, id, func(p *model.TreasuryPending) error {
		return cash.ConfirmTreasury(p, confirmed, notes, by, s.now())
	})
}

// RejectTreasury отклоняет внесение.
func (s *Service) RejectTreasury(ctx context.Context, id uuid.UUID, notes, by string) (*model.TreasuryPending, error) {
	return s.resolveTreasury(ctx, id, func(p *model.TreasuryPending) error {
		return cash.RejectTreasury(p, notes, by, s.now())
	})
}

func (s *Service) resolveTreasury(ctx context.Context, id uuid.UUID, fn func(p *model.TreasuryPending) error) (*model.TreasuryPending, error) {
	p, err := s.repo.GetTreasury(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(p); err != nil {
		return nil, err
	}
	if err := s.repo.ResolveTreasury(ctx, p); err != nil {
		return nil, err
	}

	s.logger.Info("treasury entry resolved",
		zap.String("treasury_id", p.ID.String()),
		zap.String("session_id", p.SessionID.String()),
		zap.String("status", string(p.Status)),
		zap.String("by", p.ResolvedBy))
	return p, nil
}

// StartTreasuryUpdates запускает фоновую сверку ожидающих внесений с банковским API.
func (s *Service) StartTreasuryUpdates(ctx context.Context, interval time.Duration) {
	if s.bank == nil {
		return
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.processTreasuryBatch(ctx)
			}
		}
	}()
}

func (s *Service) processTreasuryBatch(ctx context.Context) {
	pending, err := s.repo.ListTreasury(ctx, model.TreasuryPendingStatus, treasuryBatchSize)
	if err != nil {
		s.logger.Error("failed to list pending treasury entries", zap.Error(err))
		return
	}

	for _, p := range pending {
		if p.BankReference == "" {
			continue
		}

		dep, statusCode, retryAfter, err := s.bank.GetDeposit(ctx, p.BankReference)
		if err != nil {
			if errors.Is(err, treasury.ErrUnavailable) {
				return
			}
			s.logger.Warn("bank deposit lookup failed", zap.String("reference", p.BankReference), zap.Error(err))
			continue
		}

		if statusCode == http.StatusTooManyRequests {
			if retryAfter > 0 {
				timer := time.NewTimer(retryAfter)
				select {
				case <-ctx.Done():
					timer.Stop()
					return
				case <-timer.C:
				}
			}
			continue
		}

		if dep == nil {
			continue
		}

		switch dep.Status {
		case treasury.DepositCredited:
			amount := p.ExpectedAmount
			if dep.Amount != nil {
				amount = *dep.Amount
			}
			_, err = s.ConfirmTreasury(ctx, p.ID, amount, "confirmed by bank", bankResolver)
		case treasury.DepositRejected:
			_, err = s.RejectTreasury(ctx, p.ID, "rejected by bank", bankResolver)
		default:
			continue
		}
		if err != nil && !errors.Is(err, cash.ErrConcurrency) && !errors.Is(err, cash.ErrState) {
			s.logger.Error("failed to resolve treasury entry", zap.String("treasury_id", p.ID.String()), zap.Error(err))
		}
	}
}
