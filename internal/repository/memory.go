package repository

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/erpwoosync/cianbox-pos-sub001/internal/cash"
	"github.com/erpwoosync/cianbox-pos-sub001/internal/model"
)

type postingKey struct {
	session uuid.UUID
	kind    model.PostingKind
	saleID  string
}

type requestKey struct {
	session uuid.UUID
	request string
}

// MemoryRepository хранит кассовые смены в памяти процесса. Используется, когда
// адрес БД не задан, и в тестах. Наружу отдаются только копии записей.
type MemoryRepository struct {
	mu sync.RWMutex

	sessions       map[uuid.UUID]*model.CashSession
	activeByPOS    map[string]uuid.UUID
	counts         map[uuid.UUID]*model.CashCount
	countsBySess   map[uuid.UUID][]uuid.UUID
	movements      map[uuid.UUID]*model.CashMovement
	movementsBySes map[uuid.UUID][]uuid.UUID
	movementsByReq map[requestKey]uuid.UUID
	postings       map[postingKey]*model.SalePosting
	postingsBySess map[uuid.UUID][]postingKey
	treasury       map[uuid.UUID]*model.TreasuryPending
}

// NewMemoryRepository создаёт пустое хранилище в памяти.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		sessions:       make(map[uuid.UUID]*model.CashSession),
		activeByPOS:    make(map[string]uuid.UUID),
		counts:         make(map[uuid.UUID]*model.CashCount),
		countsBySess:   make(map[uuid.UUID][]uuid.UUID),
		movements:      make(map[uuid.UUID]*model.CashMovement),
		movementsBySes: make(map[uuid.UUID][]uuid.UUID),
		movementsByReq: make(map[requestKey]uuid.UUID),
		postings:       make(map[postingKey]*model.SalePosting),
		postingsBySess: make(map[uuid.UUID][]postingKey),
		treasury:       make(map[uuid.UUID]*model.TreasuryPending),
	}
}

// Close ничего не делает и нужен для совместимости с PostgresRepository.
func (r *MemoryRepository) Close() error {
	return nil
}

// Apply атомарно сохраняет набор изменений. Все проверки выполняются до первой записи.
func (r *MemoryRepository) Apply(_ context.Context, cs Changeset) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.check(cs); err != nil {
		return err
	}

	for _, s := range cs.Updated {
		stored := cloneSession(s)
		stored.Version++
		r.sessions[s.ID] = stored
		if !stored.Status.Active() && r.activeByPOS[stored.PointOfSaleID] == stored.ID {
			delete(r.activeByPOS, stored.PointOfSaleID)
		}
		s.Version = stored.Version
	}
	for _, s := range cs.Created {
		stored := cloneSession(s)
		stored.Version = 1
		r.sessions[s.ID] = stored
		if stored.Status.Active() {
			r.activeByPOS[stored.PointOfSaleID] = stored.ID
		}
		s.Version = 1
	}
	for _, c := range cs.Counts {
		r.counts[c.ID] = cloneCount(c)
		r.countsBySess[c.SessionID] = append(r.countsBySess[c.SessionID], c.ID)
	}
	if m := cs.Movement; m != nil {
		stored := *m
		r.movements[m.ID] = &stored
		r.movementsBySes[m.SessionID] = append(r.movementsBySes[m.SessionID], m.ID)
		if m.RequestID != "" {
			r.movementsByReq[requestKey{m.SessionID, m.RequestID}] = m.ID
		}
	}
	if p := cs.Posting; p != nil {
		key := postingKey{p.SessionID, p.Kind, p.SaleID}
		r.postings[key] = clonePosting(p)
		r.postingsBySess[p.SessionID] = append(r.postingsBySess[p.SessionID], key)
	}
	if t := cs.Treasury; t != nil {
		r.treasury[t.ID] = cloneTreasury(t)
	}

	return nil
}

func (r *MemoryRepository) check(cs Changeset) error {
	freed := make(map[string]bool)
	for _, s := range cs.Updated {
		stored, ok := r.sessions[s.ID]
		if !ok {
			return fmt.Errorf("%w: session %s", cash.ErrNotFound, s.ID)
		}
		if stored.Version != s.Version || stored.Status.Terminal() {
			return fmt.Errorf("%w: session %s was modified concurrently", cash.ErrConcurrency, s.ID)
		}
		if !s.Status.Active() {
			freed[s.PointOfSaleID] = true
		}
	}

	taken := make(map[string]bool)
	for _, s := range cs.Created {
		if _, ok := r.sessions[s.ID]; ok {
			return fmt.Errorf("insert session %s: %w", s.ID, errAppendOnly)
		}
		if !s.Status.Active() {
			continue
		}
		if _, busy := r.activeByPOS[s.PointOfSaleID]; (busy && !freed[s.PointOfSaleID]) || taken[s.PointOfSaleID] {
			return fmt.Errorf("%w: point of sale %s already has an active session", cash.ErrConflict, s.PointOfSaleID)
		}
		taken[s.PointOfSaleID] = true
	}

	for _, c := range cs.Counts {
		if _, ok := r.counts[c.ID]; ok {
			return fmt.Errorf("insert count %s: %w", c.ID, errAppendOnly)
		}
		if c.Type != model.CountOpening && c.Type != model.CountClosing {
			continue
		}
		for _, id := range r.countsBySess[c.SessionID] {
			if r.counts[id].Type == c.Type {
				return fmt.Errorf("%w: %s count already recorded", cash.ErrState, strings.ToLower(string(c.Type)))
			}
		}
	}

	if m := cs.Movement; m != nil {
		if _, ok := r.movements[m.ID]; ok {
			return fmt.Errorf("insert movement %s: %w", m.ID, errAppendOnly)
		}
		if _, ok := r.movementsByReq[requestKey{m.SessionID, m.RequestID}]; ok && m.RequestID != "" {
			return fmt.Errorf("%w: movement request %s", cash.ErrConcurrency, m.RequestID)
		}
	}

	if p := cs.Posting; p != nil {
		if _, ok := r.postings[postingKey{p.SessionID, p.Kind, p.SaleID}]; ok {
			return fmt.Errorf("%w: %s %s already posted", cash.ErrConcurrency, strings.ToLower(string(p.Kind)), p.SaleID)
		}
	}

	if t := cs.Treasury; t != nil {
		if _, ok := r.treasury[t.ID]; ok {
			return fmt.Errorf("insert treasury entry %s: %w", t.ID, errAppendOnly)
		}
	}

	return nil
}

// GetSession возвращает смену по идентификатору.
func (r *MemoryRepository) GetSession(_ context.Context, id uuid.UUID) (*model.CashSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: session %s", cash.ErrNotFound, id)
	}
	return cloneSession(s), nil
}

// GetCount возвращает пересчёт по идентификатору.
func (r *MemoryRepository) GetCount(_ context.Context, id uuid.UUID) (*model.CashCount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.counts[id]
	if !ok {
		return nil, fmt.Errorf("%w: count %s", cash.ErrNotFound, id)
	}
	return cloneCount(c), nil
}

// GetMovement возвращает движение по идентификатору.
func (r *MemoryRepository) GetMovement(_ context.Context, id uuid.UUID) (*model.CashMovement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.movements[id]
	if !ok {
		return nil, fmt.Errorf("%w: movement %s", cash.ErrNotFound, id)
	}
	res := *m
	return &res, nil
}

// GetMovementByRequest возвращает движение, ранее записанное с тем же идентификатором запроса.
func (r *MemoryRepository) GetMovementByRequest(_ context.Context, sessionID uuid.UUID, requestID string) (*model.CashMovement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.movementsByReq[requestKey{sessionID, requestID}]
	if !ok {
		return nil, fmt.Errorf("%w: movement request %s", cash.ErrNotFound, requestID)
	}
	res := *r.movements[id]
	return &res, nil
}

// GetPosting возвращает проводку по идентификатору продажи или возврата.
func (r *MemoryRepository) GetPosting(_ context.Context, sessionID uuid.UUID, kind model.PostingKind, saleID string) (*model.SalePosting, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.postings[postingKey{sessionID, kind, saleID}]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", cash.ErrNotFound, strings.ToLower(string(kind)), saleID)
	}
	return clonePosting(p), nil
}

// GetSessionReport возвращает смену со всеми её записями.
func (r *MemoryRepository) GetSessionReport(_ context.Context, id uuid.UUID) (*model.SessionReport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: session %s", cash.ErrNotFound, id)
	}

	report := &model.SessionReport{Session: *cloneSession(s)}
	for _, mid := range r.movementsBySes[id] {
		report.Movements = append(report.Movements, *r.movements[mid])
	}
	for _, cid := range r.countsBySess[id] {
		report.Counts = append(report.Counts, *cloneCount(r.counts[cid]))
	}
	for _, key := range r.postingsBySess[id] {
		report.Postings = append(report.Postings, *clonePosting(r.postings[key]))
	}
	for _, t := range r.sortedTreasury() {
		if t.SessionID == id {
			report.Treasury = append(report.Treasury, t)
		}
	}
	return report, nil
}

func matchSession(s *model.CashSession, f model.SessionFilter) bool {
	switch {
	case f.BranchID != "" && s.BranchID != f.BranchID:
		return false
	case f.PointOfSaleID != "" && s.PointOfSaleID != f.PointOfSaleID:
		return false
	case f.OperatorID != "" && s.OperatorID != f.OperatorID:
		return false
	case f.Status != "" && s.Status != f.Status:
		return false
	case f.From != nil && s.OpenedAt.Before(*f.From):
		return false
	case f.To != nil && !s.OpenedAt.Before(*f.To):
		return false
	}
	return true
}

func (r *MemoryRepository) filterSessions(f model.SessionFilter) []model.CashSession {
	var res []model.CashSession
	for _, s := range r.sessions {
		if matchSession(s, f) {
			res = append(res, *cloneSession(s))
		}
	}
	return res
}

// ListSessions возвращает страницу смен по фильтру, от новых к старым.
func (r *MemoryRepository) ListSessions(_ context.Context, f model.SessionFilter, p model.Pagination) (*model.SessionPage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := r.filterSessions(f)
	sort.Slice(all, func(i, j int) bool {
		if !all[i].OpenedAt.Equal(all[j].OpenedAt) {
			return all[i].OpenedAt.After(all[j].OpenedAt)
		}
		return all[i].ID.String() < all[j].ID.String()
	})

	page := &model.SessionPage{Total: len(all), Page: p.Page, Limit: p.Limit, Items: []model.CashSession{}}
	from := min(p.Offset(), len(all))
	to := min(from+p.Limit, len(all))
	page.Items = append(page.Items, all[from:to]...)
	return page, nil
}

// SessionsOpenedBetween возвращает все смены, открытые в интервале [from, to).
func (r *MemoryRepository) SessionsOpenedBetween(_ context.Context, from, to time.Time, branchID string) ([]model.CashSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res := r.filterSessions(model.SessionFilter{BranchID: branchID, From: &from, To: &to})
	sort.Slice(res, func(i, j int) bool {
		if !res[i].OpenedAt.Equal(res[j].OpenedAt) {
			return res[i].OpenedAt.Before(res[j].OpenedAt)
		}
		return res[i].ID.String() < res[j].ID.String()
	})
	return res, nil
}

func (r *MemoryRepository) sortedTreasury() []model.TreasuryPending {
	res := make([]model.TreasuryPending, 0, len(r.treasury))
	for _, t := range r.treasury {
		res = append(res, *cloneTreasury(t))
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].CreatedAt.Before(res[j].CreatedAt)
		}
		return res[i].ID.String() < res[j].ID.String()
	})
	return res
}

// GetTreasury возвращает запись казначейства по идентификатору.
func (r *MemoryRepository) GetTreasury(_ context.Context, id uuid.UUID) (*model.TreasuryPending, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.treasury[id]
	if !ok {
		return nil, fmt.Errorf("%w: treasury entry %s", cash.ErrNotFound, id)
	}
	return cloneTreasury(t), nil
}

// ListTreasury возвращает записи казначейства; пустой статус означает все записи.
func (r *MemoryRepository) ListTreasury(_ context.Context, status model.TreasuryStatus, limit int) ([]model.TreasuryPending, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var res []model.TreasuryPending
	for _, t := range r.sortedTreasury() {
		if status != "" && t.Status != status {
			continue
		}
		if len(res) == limit {
			break
		}
		res = append(res, t)
	}
	return res, nil
}

// ResolveTreasury сохраняет решение по записи, которая всё ещё ожидает подтверждения.
func (r *MemoryRepository) ResolveTreasury(_ context.Context, p *model.TreasuryPending) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.treasury[p.ID]
	if !ok {
		return fmt.Errorf("%w: treasury entry %s", cash.ErrNotFound, p.ID)
	}
	if stored.Status != model.TreasuryPendingStatus {
		return fmt.Errorf("%w: treasury entry %s was resolved concurrently", cash.ErrConcurrency, p.ID)
	}
	r.treasury[p.ID] = cloneTreasury(p)
	return nil
}

func cloneDecimal(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}

func cloneUUID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneSession(s *model.CashSession) *model.CashSession {
	c := *s
	c.ClosedAt = cloneTime(s.ClosedAt)
	c.ClosingAmount = cloneDecimal(s.ClosingAmount)
	c.ExpectedAmount = cloneDecimal(s.ExpectedAmount)
	c.Difference = cloneDecimal(s.Difference)
	c.ClosingCountID = cloneUUID(s.ClosingCountID)
	c.TransferredFrom = cloneUUID(s.TransferredFrom)
	c.TransferredTo = cloneUUID(s.TransferredTo)
	return &c
}

func cloneCount(c *model.CashCount) *model.CashCount {
	res := *c
	res.Denominations = slices.Clone(c.Denominations)
	return &res
}

func clonePosting(p *model.SalePosting) *model.SalePosting {
	res := *p
	res.Tenders = slices.Clone(p.Tenders)
	return &res
}

func cloneTreasury(t *model.TreasuryPending) *model.TreasuryPending {
	res := *t
	res.ConfirmedAmount = cloneDecimal(t.ConfirmedAmount)
	res.ResolvedAt = cloneTime(t.ResolvedAt)
	return &res
}
