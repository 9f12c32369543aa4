// Package service реализует сценарии кассового модуля: сериализует изменения по смене,
// применяет правила пакета cash и атомарно сохраняет результат.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/erpwoosync/cianbox-pos-sub001/internal/cash"
	"github.com/erpwoosync/cianbox-pos-sub001/internal/lock"
	"github.com/erpwoosync/cianbox-pos-sub001/internal/model"
	"github.com/erpwoosync/cianbox-pos-sub001/internal/repository"
	"github.com/erpwoosync/cianbox-pos-sub001/internal/treasury"
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	Apply(ctx context.Context, cs repository.Changeset) error
	GetSession(ctx context.Context, id uuid.UUID) (*model.CashSession, error)
	GetCount(ctx context.Context, id uuid.UUID) (*model.CashCount, error)
	GetMovement(ctx context.Context, id uuid.UUID) (*model.CashMovement, error)
	GetMovementByRequest(ctx context.Context, sessionID uuid.UUID, requestID string) (*model.CashMovement, error)
	GetPosting(ctx context.Context, sessionID uuid.UUID, kind model.PostingKind, saleID string) (*model.SalePosting, error)
	GetSessionReport(ctx context.Context, id uuid.UUID) (*model.SessionReport, error)
	ListSessions(ctx context.Context, f model.SessionFilter, p model.Pagination) (*model.SessionPage, error)
	SessionsOpenedBetween(ctx context.Context, from, to time.Time, branchID string) ([]model.CashSession, error)
	GetTreasury(ctx context.Context, id uuid.UUID) (*model.TreasuryPending, error)
	ListTreasury(ctx context.Context, status model.TreasuryStatus, limit int) ([]model.TreasuryPending, error)
	ResolveTreasury(ctx context.Context, p *model.TreasuryPending) error
}

// BankClient описывает обращение к банковскому API за состоянием внесения.
type BankClient interface {
	GetDeposit(ctx context.Context, reference string) (*treasury.Deposit, int, time.Duration, error)
}

// Options задаёт настраиваемые правила кассового модуля.
type Options struct {
	// Epsilon — допустимое расхождение разбивки по способам оплаты с итогом продажи.
	Epsilon decimal.Decimal
	// Threshold — сумма движения, выше которой нужен второй подписант. Ноль отключает проверку.
	Threshold decimal.Decimal
	// Bank — клиент банковского API. Если не задан, фоновая сверка внесений не запускается.
	Bank BankClient
}

// Service содержит бизнес-логику кассового модуля.
type Service struct {
	repo    Repository
	locker  lock.Locker
	ledger  cash.Ledger
	journal cash.Journal
	bank    BankClient
	logger  *zap.Logger
	now     func() time.Time
}

// NewService создаёт сервис поверх хранилища и блокировщика.
func NewService(repo Repository, locker lock.Locker, logger *zap.Logger, opts Options) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:    repo,
		locker:  locker,
		ledger:  cash.NewLedger(opts.Epsilon),
		journal: cash.NewJournal(opts.Threshold),
		bank:    opts.Bank,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

func sessionKey(id uuid.UUID) string { return "session:" + id.String() }

func registerKey(pos string) string { return "pos:" + pos }

// acquire захватывает блокировки по ключам без ожидания. Занятый ключ сразу даёт ErrConcurrency.
func (s *Service) acquire(ctx context.Context, keys ...string) (func(), error) {
	held := make([]lock.Handle, 0, len(keys))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			if err := held[i].Unlock(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("failed to release lock", zap.Error(err))
			}
		}
	}

	for _, key := range keys {
		h, ok, err := s.locker.TryLock(ctx, key)
		if err != nil {
			release()
			return nil, fmt.Errorf("acquire lock: %w", err)
		}
		if !ok {
			release()
			return nil, fmt.Errorf("%w: %s is busy", cash.ErrConcurrency, key)
		}
		held = append(held, h)
	}
	return release, nil
}

// mutate загружает смену под блокировкой, применяет fn и сохраняет результат.
// fn возвращает набор изменений; смена добавляется в него как обновлённая.
func (s *Service) mutate(ctx context.Context, id uuid.UUID, fn func(sess *model.CashSession) (repository.Changeset, error)) (*model.CashSession, error) {
	release, err := s.acquire(ctx, sessionKey(id))
	if err != nil {
		return nil, err
	}
	defer release()

	sess, err := s.repo.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}

	cs, err := fn(sess)
	if err != nil {
		return nil, err
	}
	cs.Updated = append([]*model.CashSession{sess}, cs.Updated...)

	if err := s.repo.Apply(ctx, cs); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Service) logTransition(msg string, sess *model.CashSession, fields ...zap.Field) {
	s.logger.Info(msg, append([]zap.Field{
		zap.String("session_id", sess.ID.String()),
		zap.String("point_of_sale", sess.PointOfSaleID),
		zap.String("operator", sess.OperatorID),
		zap.String("status", string(sess.Status)),
	}, fields...)...)
}

// OpenSession открывает смену на кассе. Повтор с тем же идентификатором смены
// возвращает уже открытую смену.
func (s *Service) OpenSession(ctx context.Context, p cash.OpenParams) (*model.CashSession, error) {
	if p.ID != uuid.Nil {
		existing, err := s.repo.GetSession(ctx, p.ID)
		if err == nil {
			if existing.PointOfSaleID != p.PointOfSaleID {
				return nil, fmt.Errorf("%w: session %s belongs to another point of sale", cash.ErrConflict, p.ID)
			}
			return existing, nil
		}
		if !errors.Is(err, cash.ErrNotFound) {
			return nil, err
		}
	}

	sess, opening, err := cash.Open(p, s.now())
	if err != nil {
		return nil, err
	}

	release, err := s.acquire(ctx, registerKey(p.PointOfSaleID))
	if err != nil {
		return nil, err
	}
	defer release()

	err = s.repo.Apply(ctx, repository.Changeset{
		Created: []*model.CashSession{sess},
		Counts:  []*model.CashCount{opening},
	})
	if err != nil {
		return nil, err
	}

	s.logTransition("cash session opened", sess, zap.String("opening_amount", sess.OpeningAmount.String()))
	return sess, nil
}

// SuspendSession приостанавливает смену.
func (s *Service) SuspendSession(ctx context.Context, id uuid.UUID) (*model.CashSession, error) {
	sess, err := s.mutate(ctx, id, func(sess *model.CashSession) (repository.Changeset, error) {
		return repository.Changeset{}, cash.Suspend(sess)
	})
	if err != nil {
		return nil, err
	}
	s.logTransition("cash session suspended", sess)
	return sess, nil
}

// ResumeSession возвращает смену в OPEN.
func (s *Service) ResumeSession(ctx context.Context, id uuid.UUID) (*model.CashSession, error) {
	sess, err := s.mutate(ctx, id, func(sess *model.CashSession) (repository.Changeset, error) {
		return repository.Changeset{}, cash.Resume(sess)
	})
	if err != nil {
		return nil, err
	}
	s.logTransition("cash session resumed", sess)
	return sess, nil
}

// StartCount переводит смену в COUNTING.
func (s *Service) StartCount(ctx context.Context, id uuid.UUID) (*model.CashSession, error) {
	sess, err := s.mutate(ctx, id, func(sess *model.CashSession) (repository.Changeset, error) {
		return repository.Changeset{}, cash.StartCount(sess)
	})
	if err != nil {
		return nil, err
	}
	s.logTransition("cash session counting", sess)
	return sess, nil
}

// RecordCount записывает пересчёт смены.
func (s *Service) RecordCount(ctx context.Context, id uuid.UUID, in cash.CountInput) (*model.CashCount, error) {
	var count *model.CashCount
	_, err := s.mutate(ctx, id, func(sess *model.CashSession) (repository.Changeset, error) {
		c, err := cash.RecordCount(sess, in, s.now())
		if err != nil {
			return repository.Changeset{}, err
		}
		count = c
		return repository.Changeset{Counts: []*model.CashCount{c}}, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("cash count recorded",
		zap.String("session_id", id.String()),
		zap.String("type", string(count.Type)),
		zap.String("counted", count.TotalCounted.String()),
		zap.String("difference", count.Difference.String()))
	return count, nil
}

// CloseSession закрывает смену по записанному закрывающему пересчёту. При ошибке смена
// остаётся в прежнем состоянии.
func (s *Service) CloseSession(ctx context.Context, id uuid.UUID) (*model.CashSession, error) {
	sess, err := s.mutate(ctx, id, func(sess *model.CashSession) (repository.Changeset, error) {
		var closing *model.CashCount
		if sess.ClosingCountID != nil {
			c, err := s.repo.GetCount(ctx, *sess.ClosingCountID)
			if err != nil {
				return repository.Changeset{}, err
			}
			closing = c
		}
		return repository.Changeset{}, cash.Close(sess, closing, s.now())
	})
	if err != nil {
		return nil, err
	}

	s.logTransition("cash session closed", sess,
		zap.String("closing_amount", sess.ClosingAmount.String()),
		zap.String("difference", sess.Difference.String()))
	return sess, nil
}

// TransferResult содержит обе стороны передачи смены.
type TransferResult struct {
	Source *model.CashSession `json:"source"`
	Target *model.CashSession `json:"target"`
}

// TransferSession передаёт остаток кассы новой смене. Повтор с тем же идентификатором
// целевой смены возвращает результат первой передачи.
func (s *Service) TransferSession(ctx context.Context, id uuid.UUID, p cash.TransferParams) (*TransferResult, error) {
	if p.TargetID != uuid.Nil {
		if res, err := s.findTransfer(ctx, id, p.TargetID); err != nil || res != nil {
			return res, err
		}
	}

	var target *model.CashSession
	source, err := s.mutate(ctx, id, func(sess *model.CashSession) (repository.Changeset, error) {
		release, err := s.acquire(ctx, registerKey(sess.PointOfSaleID))
		if err != nil {
			return repository.Changeset{}, err
		}
		defer release()

		t, opening, transferCount, err := cash.Transfer(sess, p, s.now())
		if err != nil {
			return repository.Changeset{}, err
		}
		target = t

		counts := []*model.CashCount{opening}
		if transferCount != nil {
			counts = append([]*model.CashCount{transferCount}, counts...)
		}
		return repository.Changeset{Created: []*model.CashSession{t}, Counts: counts}, nil
	})
	if err != nil {
		return nil, err
	}

	s.logTransition("cash session transferred", source, zap.String("target_session_id", target.ID.String()))
	s.logTransition("cash session opened", target, zap.String("opening_amount", target.OpeningAmount.String()))
	return &TransferResult{Source: source, Target: target}, nil
}

func (s *Service) findTransfer(ctx context.Context, sourceID, targetID uuid.UUID) (*TransferResult, error) {
	target, err := s.repo.GetSession(ctx, targetID)
	if errors.Is(err, cash.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if target.TransferredFrom == nil || *target.TransferredFrom != sourceID {
		return nil, fmt.Errorf("%w: session %s already exists", cash.ErrConflict, targetID)
	}

	source, err := s.repo.GetSession(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	return &TransferResult{Source: source, Target: target}, nil
}

// RecordMovement добавляет ручное движение в журнал смены. Повтор с тем же
// идентификатором запроса возвращает ранее записанное движение.
func (s *Service) RecordMovement(ctx context.Context, id uuid.UUID, in cash.MovementInput) (*model.CashMovement, error) {
	var (
		movement *model.CashMovement
		pending  *model.TreasuryPending
		replayed bool
	)
	_, err := s.mutate(ctx, id, func(sess *model.CashSession) (repository.Changeset, error) {
		if err := cash.EnsureActive(sess); err != nil {
			return repository.Changeset{}, err
		}

		if in.RequestID != "" {
			m, err := s.repo.GetMovementByRequest(ctx, id, in.RequestID)
			if err == nil {
				movement, replayed = m, true
				return repository.Changeset{}, errReplay
			}
			if !errors.Is(err, cash.ErrNotFound) {
				return repository.Changeset{}, err
			}
		}

		m, err := s.journal.Record(sess, in, s.now())
		if err != nil {
			return repository.Changeset{}, err
		}
		movement = m
		pending = cash.NewTreasuryPending(sess, m, s.now())
		return repository.Changeset{Movement: m, Treasury: pending}, nil
	})
	if replayed {
		return movement, nil
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("cash movement recorded",
		zap.String("session_id", id.String()),
		zap.String("movement_id", movement.ID.String()),
		zap.String("type", string(movement.Type)),
		zap.String("amount", movement.Amount.String()),
		zap.Bool("treasury", pending != nil))
	return movement, nil
}

// errReplay прерывает mutate без сохранения, когда запрос уже был обработан.
var errReplay = errors.New("request already applied")

// PostSale проводит продажу. Повтор с тем же идентификатором продажи возвращает
// сохранённую проводку без изменения итогов.
func (s *Service) PostSale(ctx context.Context, id uuid.UUID, saleID string, tenders []model.TenderAmount, total decimal.Decimal) (*model.SalePosting, error) {
	return s.post(ctx, id, model.PostingSale, saleID, func(sess *model.CashSession) (*model.SalePosting, error) {
		return s.ledger.PostSale(sess, saleID, tenders, total, s.now())
	})
}

// PostRefund проводит возврат. Повтор с тем же идентификатором возврата не меняет итогов.
func (s *Service) PostRefund(ctx context.Context, id uuid.UUID, refundID string, tenders []model.TenderAmount, total decimal.Decimal) (*model.SalePosting, error) {
	return s.post(ctx, id, model.PostingRefund, refundID, func(sess *model.CashSession) (*model.SalePosting, error) {
		return s.ledger.PostRefund(sess, refundID, tenders, total, s.now())
	})
}

// PostCancel отменяет продажу, проведённую в этой смене. Повторная отмена не меняет итогов.
func (s *Service) PostCancel(ctx context.Context, id uuid.UUID, saleID string) (*model.SalePosting, error) {
	return s.post(ctx, id, model.PostingCancel, saleID, func(sess *model.CashSession) (*model.SalePosting, error) {
		sale, err := s.repo.GetPosting(ctx, id, model.PostingSale, saleID)
		if err != nil {
			return nil, err
		}
		return s.ledger.PostCancel(sess, sale, s.now())
	})
}

func (s *Service) post(ctx context.Context, id uuid.UUID, kind model.PostingKind, saleID string, fn func(sess *model.CashSession) (*model.SalePosting, error)) (*model.SalePosting, error) {
	var (
		posting  *model.SalePosting
		replayed bool
	)
	_, err := s.mutate(ctx, id, func(sess *model.CashSession) (repository.Changeset, error) {
		if err := cash.EnsureActive(sess); err != nil {
			return repository.Changeset{}, err
		}

		if saleID != "" {
			p, err := s.repo.GetPosting(ctx, id, kind, saleID)
			if err == nil {
				posting, replayed = p, true
				return repository.Changeset{}, errReplay
			}
			if !errors.Is(err, cash.ErrNotFound) {
				return repository.Changeset{}, err
			}
		}

		p, err := fn(sess)
		if err != nil {
			return repository.Changeset{}, err
		}
		posting = p
		return repository.Changeset{Posting: p}, nil
	})
	if replayed {
		s.logger.Debug("duplicate posting ignored",
			zap.String("session_id", id.String()),
			zap.String("kind", string(kind)),
			zap.String("sale_id", saleID))
		return posting, nil
	}
	if err != nil {
		return nil, err
	}
	return posting, nil
}

// GetSession возвращает смену по идентификатору.
func (s *Service) GetSession(ctx context.Context, id uuid.UUID) (*model.CashSession, error) {
	return s.repo.GetSession(ctx, id)
}

// GetCount возвращает пересчёт по идентификатору.
func (s *Service) GetCount(ctx context.Context, id uuid.UUID) (*model.CashCount, error) {
	return s.repo.GetCount(ctx, id)
}

// GetMovement возвращает движение по идентификатору.
func (s *Service) GetMovement(ctx context.Context, id uuid.UUID) (*model.CashMovement, error) {
	return s.repo.GetMovement(ctx, id)
}

// ExpectedAmount возвращает наличные, которые сейчас должны быть в кассе.
func (s *Service) ExpectedAmount(ctx context.Context, id uuid.UUID) (decimal.Decimal, error) {
	sess, err := s.repo.GetSession(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	return cash.ExpectedAmount(sess), nil
}

// GetSessionReport возвращает смену со всеми записями, прочитанными из одного снимка.
func (s *Service) GetSessionReport(ctx context.Context, id uuid.UUID) (*model.SessionReport, error) {
	report, err := s.repo.GetSessionReport(ctx, id)
	if err != nil {
		return nil, err
	}
	report.ExpectedAmount = cash.ExpectedAmount(&report.Session)
	return report, nil
}
