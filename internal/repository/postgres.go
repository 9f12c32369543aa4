// Package repository содержит реализации хранилища кассовых смен: PostgreSQL
// и хранилище в памяти для разработки и тестов.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/erpwoosync/cianbox-pos-sub001/internal/cash"
	"github.com/erpwoosync/cianbox-pos-sub001/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const activeSessionIndex = "cash_sessions_active_point_of_sale"

// PostgresRepository предоставляет доступ к хранилищу кассовых смен в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет транзакцию при сбоях сериализации и взаимоблокировках.
// Если повторы исчерпаны, возвращает ErrConcurrency.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	b := retry.WithMaxRetries(3, retry.NewExponential(50*time.Millisecond))

	err := retry.Do(ctx, b, func(ctx context.Context) error {
		err := fn(ctx)
		if isTransient(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if isTransient(err) {
		return fmt.Errorf("%w: %v", cash.ErrConcurrency, err)
	}
	return err
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	// Повторять можно только ошибки, случившиеся до отправки запроса на сервер.
	return pgconn.SafeToRetry(err)
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// Apply атомарно сохраняет набор изменений одной операции.
func (r *PostgresRepository) Apply(ctx context.Context, cs Changeset) error {
	err := r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		// Обновления выполняются до вставок: закрытая при передаче смена освобождает
		// кассу для новой.
		for _, s := range cs.Updated {
			if err := updateSession(ctx, tx, s); err != nil {
				return err
			}
		}
		for _, s := range cs.Created {
			if err := insertSession(ctx, tx, s); err != nil {
				return err
			}
		}
		for _, c := range cs.Counts {
			if err := insertCount(ctx, tx, c); err != nil {
				return err
			}
		}
		if cs.Movement != nil {
			if err := insertMovement(ctx, tx, cs.Movement); err != nil {
				return err
			}
		}
		if cs.Posting != nil {
			if err := insertPosting(ctx, tx, cs.Posting); err != nil {
				return err
			}
		}
		if cs.Treasury != nil {
			if err := insertTreasury(ctx, tx, cs.Treasury); err != nil {
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, s := range cs.Updated {
		s.Version++
	}
	for _, s := range cs.Created {
		s.Version = 1
	}
	return nil
}

const sessionColumns = `id, branch_id, point_of_sale_id, operator_id, opening_amount, status,
	opened_at, closed_at, total_cash, total_debit, total_credit, total_qr, total_mp_point,
	total_transfer, total_other, sales_count, sales_total, refunds_count, refunds_total,
	cancels_count, deposits_total, withdrawals_total, closing_amount, expected_amount,
	difference, closing_count_id, transferred_from, transferred_to, version`

func insertSession(ctx context.Context, tx pgx.Tx, s *model.CashSession) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO cash_sessions (`+sessionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
		         $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, 1)`,
		s.ID, s.BranchID, s.PointOfSaleID, s.OperatorID, s.OpeningAmount, string(s.Status),
		s.OpenedAt, s.ClosedAt, s.Cash, s.Debit, s.Credit, s.QR, s.MPPoint,
		s.Transfer, s.Other, s.SalesCount, s.SalesTotal, s.RefundsCount, s.RefundsTotal,
		s.CancelsCount, s.DepositsTotal, s.WithdrawalsTotal, s.ClosingAmount, s.ExpectedAmount,
		s.Difference, s.ClosingCountID, s.TransferredFrom, s.TransferredTo,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation && pgErr.ConstraintName == activeSessionIndex {
			return fmt.Errorf("%w: point of sale %s already has an active session", cash.ErrConflict, s.PointOfSaleID)
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func updateSession(ctx context.Context, tx pgx.Tx, s *model.CashSession) error {
	tag, err := tx.Exec(ctx,
		`UPDATE cash_sessions SET
			status = $3, closed_at = $4, total_cash = $5, total_debit = $6, total_credit = $7,
			total_qr = $8, total_mp_point = $9, total_transfer = $10, total_other = $11,
			sales_count = $12, sales_total = $13, refunds_count = $14, refunds_total = $15,
			cancels_count = $16, deposits_total = $17, withdrawals_total = $18,
			closing_amount = $19, expected_amount = $20, difference = $21,
			closing_count_id = $22, transferred_to = $23, version = version + 1
		 WHERE id = $1 AND version = $2
		   AND status NOT IN ('CLOSED', 'TRANSFERRED')`,
		s.ID, s.Version,
		string(s.Status), s.ClosedAt, s.Cash, s.Debit, s.Credit,
		s.QR, s.MPPoint, s.Transfer, s.Other,
		s.SalesCount, s.SalesTotal, s.RefundsCount, s.RefundsTotal,
		s.CancelsCount, s.DepositsTotal, s.WithdrawalsTotal,
		s.ClosingAmount, s.ExpectedAmount, s.Difference,
		s.ClosingCountID, s.TransferredTo,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: session %s was modified concurrently", cash.ErrConcurrency, s.ID)
	}
	return nil
}

func insertCount(ctx context.Context, tx pgx.Tx, c *model.CashCount) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO cash_counts (id, session_id, type, total_bills, total_coins, vouchers, checks,
			other_values, total_counted, expected_amount, difference, difference_type,
			denominations, notes, counted_by, counted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		c.ID, c.SessionID, string(c.Type), c.TotalBills, c.TotalCoins, c.Vouchers, c.Checks,
		c.OtherValues, c.TotalCounted, c.ExpectedAmount, c.Difference, string(c.DifferenceType),
		c.Denominations, c.Notes, c.CountedBy, c.CountedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s count already recorded", cash.ErrState, strings.ToLower(string(c.Type)))
		}
		return fmt.Errorf("insert count: %w", err)
	}
	return nil
}

func insertMovement(ctx context.Context, tx pgx.Tx, m *model.CashMovement) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO cash_movements (id, session_id, type, amount, reason, description, reference,
			destination, created_by, authorized_by, request_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		m.ID, m.SessionID, string(m.Type), m.Amount, string(m.Reason), m.Description, m.Reference,
		m.Destination, m.CreatedBy, m.AuthorizedBy, m.RequestID, m.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: movement request %s", cash.ErrConcurrency, m.RequestID)
		}
		return fmt.Errorf("insert movement: %w", err)
	}
	return nil
}

func insertPosting(ctx context.Context, tx pgx.Tx, p *model.SalePosting) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO sale_postings (session_id, kind, sale_id, tenders, total, result, posted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.SessionID, string(p.Kind), p.SaleID, p.Tenders, p.Total, p.Result, p.PostedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s %s already posted", cash.ErrConcurrency, strings.ToLower(string(p.Kind)), p.SaleID)
		}
		return fmt.Errorf("insert posting: %w", err)
	}
	return nil
}

func insertTreasury(ctx context.Context, tx pgx.Tx, p *model.TreasuryPending) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO treasury_pendings (id, movement_id, session_id, branch_id, bank_reference,
			expected_amount, confirmed_amount, status, notes, resolved_by, created_at, resolved_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		p.ID, p.MovementID, p.SessionID, p.BranchID, p.BankReference,
		p.ExpectedAmount, p.ConfirmedAmount, string(p.Status), p.Notes, p.ResolvedBy, p.CreatedAt, p.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("insert treasury entry: %w", err)
	}
	return nil
}

func scanSession(row pgx.Row) (*model.CashSession, error) {
	var (
		s      model.CashSession
		status string
	)
	err := row.Scan(
		&s.ID, &s.BranchID, &s.PointOfSaleID, &s.OperatorID, &s.OpeningAmount, &status,
		&s.OpenedAt, &s.ClosedAt, &s.Cash, &s.Debit, &s.Credit, &s.QR, &s.MPPoint,
		&s.Transfer, &s.Other, &s.SalesCount, &s.SalesTotal, &s.RefundsCount, &s.RefundsTotal,
		&s.CancelsCount, &s.DepositsTotal, &s.WithdrawalsTotal, &s.ClosingAmount, &s.ExpectedAmount,
		&s.Difference, &s.ClosingCountID, &s.TransferredFrom, &s.TransferredTo, &s.Version,
	)
	if err != nil {
		return nil, err
	}
	s.Status = model.SessionStatus(status)
	return &s, nil
}

// GetSession возвращает смену по идентификатору.
func (r *PostgresRepository) GetSession(ctx context.Context, id uuid.UUID) (*model.CashSession, error) {
	s, err := scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM cash_sessions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: session %s", cash.ErrNotFound, id)
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return s, nil
}

// querier объединяет пул и транзакцию для функций чтения.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const countColumns = `id, session_id, type, total_bills, total_coins, vouchers, checks, other_values,
	total_counted, expected_amount, difference, difference_type, denominations, notes, counted_by, counted_at`

func scanCount(row pgx.Row) (*model.CashCount, error) {
	var (
		c        model.CashCount
		typ      string
		diffType string
	)
	err := row.Scan(
		&c.ID, &c.SessionID, &typ, &c.TotalBills, &c.TotalCoins, &c.Vouchers, &c.Checks, &c.OtherValues,
		&c.TotalCounted, &c.ExpectedAmount, &c.Difference, &diffType, &c.Denominations, &c.Notes,
		&c.CountedBy, &c.CountedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Type = model.CountType(typ)
	c.DifferenceType = model.DifferenceType(diffType)
	return &c, nil
}

// GetCount возвращает пересчёт по идентификатору.
func (r *PostgresRepository) GetCount(ctx context.Context, id uuid.UUID) (*model.CashCount, error) {
	c, err := scanCount(r.pool.QueryRow(ctx,
		`SELECT `+countColumns+` FROM cash_counts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: count %s", cash.ErrNotFound, id)
		}
		return nil, fmt.Errorf("get count: %w", err)
	}
	return c, nil
}

func listCounts(ctx context.Context, q querier, sessionID uuid.UUID) ([]model.CashCount, error) {
	rows, err := q.Query(ctx,
		`SELECT `+countColumns+` FROM cash_counts WHERE session_id = $1 ORDER BY counted_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("select counts: %w", err)
	}
	defer rows.Close()

	var res []model.CashCount
	for rows.Next() {
		c, err := scanCount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		res = append(res, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

const movementColumns = `id, session_id, type, amount, reason, description, reference, destination,
	created_by, authorized_by, request_id, created_at`

func scanMovement(row pgx.Row) (*model.CashMovement, error) {
	var (
		m      model.CashMovement
		typ    string
		reason string
	)
	err := row.Scan(&m.ID, &m.SessionID, &typ, &m.Amount, &reason, &m.Description, &m.Reference,
		&m.Destination, &m.CreatedBy, &m.AuthorizedBy, &m.RequestID, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	m.Type = model.MovementType(typ)
	m.Reason = model.MovementReason(reason)
	return &m, nil
}

// GetMovement возвращает движение по идентификатору.
func (r *PostgresRepository) GetMovement(ctx context.Context, id uuid.UUID) (*model.CashMovement, error) {
	m, err := scanMovement(r.pool.QueryRow(ctx,
		`SELECT `+movementColumns+` FROM cash_movements WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: movement %s", cash.ErrNotFound, id)
		}
		return nil, fmt.Errorf("get movement: %w", err)
	}
	return m, nil
}

// GetMovementByRequest возвращает движение, ранее записанное с тем же идентификатором запроса.
func (r *PostgresRepository) GetMovementByRequest(ctx context.Context, sessionID uuid.UUID, requestID string) (*model.CashMovement, error) {
	m, err := scanMovement(r.pool.QueryRow(ctx,
		`SELECT `+movementColumns+` FROM cash_movements WHERE session_id = $1 AND request_id = $2`,
		sessionID, requestID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: movement request %s", cash.ErrNotFound, requestID)
		}
		return nil, fmt.Errorf("get movement by request: %w", err)
	}
	return m, nil
}

func listMovements(ctx context.Context, q querier, sessionID uuid.UUID) ([]model.CashMovement, error) {
	rows, err := q.Query(ctx,
		`SELECT `+movementColumns+` FROM cash_movements WHERE session_id = $1 ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("select movements: %w", err)
	}
	defer rows.Close()

	var res []model.CashMovement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, fmt.Errorf("scan movement: %w", err)
		}
		res = append(res, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

const postingColumns = `session_id, kind, sale_id, tenders, total, result, posted_at`

func scanPosting(row pgx.Row) (*model.SalePosting, error) {
	var (
		p    model.SalePosting
		kind string
	)
	if err := row.Scan(&p.SessionID, &kind, &p.SaleID, &p.Tenders, &p.Total, &p.Result, &p.PostedAt); err != nil {
		return nil, err
	}
	p.Kind = model.PostingKind(kind)
	return &p, nil
}

// GetPosting возвращает проводку по идентификатору продажи или возврата.
func (r *PostgresRepository) GetPosting(ctx context.Context, sessionID uuid.UUID, kind model.PostingKind, saleID string) (*model.SalePosting, error) {
	p, err := scanPosting(r.pool.QueryRow(ctx,
		`SELECT `+postingColumns+` FROM sale_postings WHERE session_id = $1 AND kind = $2 AND sale_id = $3`,
		sessionID, string(kind), saleID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s %s", cash.ErrNotFound, strings.ToLower(string(kind)), saleID)
		}
		return nil, fmt.Errorf("get posting: %w", err)
	}
	return p, nil
}

func listPostings(ctx context.Context, q querier, sessionID uuid.UUID) ([]model.SalePosting, error) {
	rows, err := q.Query(ctx,
		`SELECT `+postingColumns+` FROM sale_postings WHERE session_id = $1 ORDER BY posted_at, sale_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("select postings: %w", err)
	}
	defer rows.Close()

	var res []model.SalePosting
	for rows.Next() {
		p, err := scanPosting(rows)
		if err != nil {
			return nil, fmt.Errorf("scan posting: %w", err)
		}
		res = append(res, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// GetSessionReport читает смену со всеми её записями из одного снимка базы.
func (r *PostgresRepository) GetSessionReport(ctx context.Context, id uuid.UUID) (*model.SessionReport, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	s, err := scanSession(tx.QueryRow(ctx, `SELECT `+sessionColumns+` FROM cash_sessions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: session %s", cash.ErrNotFound, id)
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	report := &model.SessionReport{Session: *s}
	if report.Movements, err = listMovements(ctx, tx, id); err != nil {
		return nil, err
	}
	if report.Counts, err = listCounts(ctx, tx, id); err != nil {
		return nil, err
	}
	if report.Postings, err = listPostings(ctx, tx, id); err != nil {
		return nil, err
	}
	if report.Treasury, err = listTreasury(ctx, tx, `WHERE session_id = $1 ORDER BY created_at, id`, id); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return report, nil
}

func sessionWhere(f model.SessionFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.BranchID != "" {
		add("branch_id = $%d", f.BranchID)
	}
	if f.PointOfSaleID != "" {
		add("point_of_sale_id = $%d", f.PointOfSaleID)
	}
	if f.OperatorID != "" {
		add("operator_id = $%d", f.OperatorID)
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.From != nil {
		add("opened_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("opened_at < $%d", *f.To)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// ListSessions возвращает страницу смен по фильтру, от новых к старым.
func (r *PostgresRepository) ListSessions(ctx context.Context, f model.SessionFilter, p model.Pagination) (*model.SessionPage, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	where, args := sessionWhere(f)

	page := &model.SessionPage{Page: p.Page, Limit: p.Limit, Items: []model.CashSession{}}
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM cash_sessions`+where, args...).Scan(&page.Total); err != nil {
		return nil, fmt.Errorf("count sessions: %w", err)
	}

	args = append(args, p.Limit, p.Offset())
	rows, err := tx.Query(ctx,
		fmt.Sprintf(`SELECT `+sessionColumns+` FROM cash_sessions%s ORDER BY opened_at DESC, id LIMIT $%d OFFSET $%d`,
			where, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, fmt.Errorf("select sessions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		page.Items = append(page.Items, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return page, nil
}

// SessionsOpenedBetween возвращает все смены, открытые в интервале [from, to).
func (r *PostgresRepository) SessionsOpenedBetween(ctx context.Context, from, to time.Time, branchID string) ([]model.CashSession, error) {
	where, args := sessionWhere(model.SessionFilter{BranchID: branchID, From: &from, To: &to})

	rows, err := r.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM cash_sessions`+where+` ORDER BY opened_at, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("select sessions: %w", err)
	}
	defer rows.Close()

	var res []model.CashSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		res = append(res, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

const treasuryColumns = `id, movement_id, session_id, branch_id, bank_reference, expected_amount,
	confirmed_amount, status, notes, resolved_by, created_at, resolved_at`

func scanTreasury(row pgx.Row) (*model.TreasuryPending, error) {
	var (
		p      model.TreasuryPending
		status string
	)
	err := row.Scan(&p.ID, &p.MovementID, &p.SessionID, &p.BranchID, &p.BankReference, &p.ExpectedAmount,
		&p.ConfirmedAmount, &status, &p.Notes, &p.ResolvedBy, &p.CreatedAt, &p.ResolvedAt)
	if err != nil {
		return nil, err
	}
	p.Status = model.TreasuryStatus(status)
	return &p, nil
}

func listTreasury(ctx context.Context, q querier, tail string, args ...any) ([]model.TreasuryPending, error) {
	rows, err := q.Query(ctx, `SELECT `+treasuryColumns+` FROM treasury_pendings `+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("select treasury entries: %w", err)
	}
	defer rows.Close()

	var res []model.TreasuryPending
	for rows.Next() {
		p, err := scanTreasury(rows)
		if err != nil {
			return nil, fmt.Errorf("scan treasury entry: %w", err)
		}
		res = append(res, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// GetTreasury возвращает запись казначейства по идентификатору.
func (r *PostgresRepository) GetTreasury(ctx context.Context, id uuid.UUID) (*model.TreasuryPending, error) {
	p, err := scanTreasury(r.pool.QueryRow(ctx,
		`SELECT `+treasuryColumns+` FROM treasury_pendings WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: treasury entry %s", cash.ErrNotFound, id)
		}
		return nil, fmt.Errorf("get treasury entry: %w", err)
	}
	return p, nil
}

// ListTreasury возвращает записи казначейства; пустой статус означает все записи.
func (r *PostgresRepository) ListTreasury(ctx context.Context, status model.TreasuryStatus, limit int) ([]model.TreasuryPending, error) {
	if status == "" {
		return listTreasury(ctx, r.pool, `ORDER BY created_at, id LIMIT $1`, limit)
	}
	return listTreasury(ctx, r.pool, `WHERE status = $1 ORDER BY created_at, id LIMIT $2`, string(status), limit)
}

// ResolveTreasury сохраняет решение по записи, которая всё ещё ожидает подтверждения.
func (r *PostgresRepository) ResolveTreasury(ctx context.Context, p *model.TreasuryPending) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE treasury_pendings
		 SET status = $2, confirmed_amount = $3, notes = $4, resolved_by = $5, resolved_at = $6
		 WHERE id = $1 AND status = $7`,
		p.ID, string(p.Status), p.ConfirmedAmount, p.Notes, p.ResolvedBy, p.ResolvedAt,
		string(model.TreasuryPendingStatus),
	)
	if err != nil {
		return fmt.Errorf("update treasury entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: treasury entry %s was resolved concurrently", cash.ErrConcurrency, p.ID)
	}
	return nil
}
