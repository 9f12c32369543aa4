package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/erpwoosync/cianbox-pos-sub001/internal/cash"
	"github.com/erpwoosync/cianbox-pos-sub001/internal/model"
)

type denominationRequest struct {
	Kind     string          `json:"kind" validate:"required,oneof=BILL COIN"`
	Value    decimal.Decimal `json:"value" validate:"positive_decimal"`
	Quantity int             `json:"quantity" validate:"min=0"`
}

type countBody struct {
	TotalBills    decimal.Decimal       `json:"totalBills" validate:"nonnegative_decimal"`
	TotalCoins    decimal.Decimal       `json:"totalCoins" validate:"nonnegative_decimal"`
	Vouchers      decimal.Decimal       `json:"vouchers" validate:"nonnegative_decimal"`
	Checks        decimal.Decimal       `json:"checks" validate:"nonnegative_decimal"`
	OtherValues   decimal.Decimal       `json:"otherValues" validate:"nonnegative_decimal"`
	Denominations []denominationRequest `json:"denominations" validate:"omitempty,dive"`
	Notes         string                `json:"notes" validate:"max=500"`
}

func (c *countBody) input(t model.CountType, countedBy string) cash.CountInput {
	in := cash.CountInput{
		Type:        t,
		TotalBills:  c.TotalBills,
		TotalCoins:  c.TotalCoins,
		Vouchers:    c.Vouchers,
		Checks:      c.Checks,
		OtherValues: c.OtherValues,
		Notes:       c.Notes,
		CountedBy:   countedBy,
	}
	for _, d := range c.Denominations {
		in.Denominations = append(in.Denominations, model.Denomination{
			Kind:     model.DenominationKind(d.Kind),
			Value:    d.Value,
			Quantity: d.Quantity,
		})
	}
	return in
}

type openSessionRequest struct {
	ID            *uuid.UUID      `json:"id"`
	BranchID      string          `json:"branchId" validate:"max=64"`
	PointOfSaleID string          `json:"pointOfSaleId" validate:"required,max=64"`
	OpeningAmount decimal.Decimal `json:"openingAmount" validate:"nonnegative_decimal"`
	Breakdown     *countBody      `json:"breakdown"`
}

// OpenSession открывает смену на кассе от имени текущего оператора.
func (h *Handler) OpenSession(w http.ResponseWriter, r *http.Request) {
	op, ok := operator(w, r)
	if !ok {
		return
	}

	var req openSessionRequest
	if !h.decode(w, r, &req) {
		return
	}

	p := cash.OpenParams{
		BranchID:      req.BranchID,
		PointOfSaleID: req.PointOfSaleID,
		OperatorID:    op.ID,
		OpeningAmount: req.OpeningAmount,
	}
	if p.BranchID == "" {
		p.BranchID = op.BranchID
	}
	if req.ID != nil {
		p.ID = *req.ID
	}
	if req.Breakdown != nil {
		in := req.Breakdown.input(model.CountOpening, op.ID)
		p.Breakdown = &in
	}

	sess, err := h.service.OpenSession(r.Context(), p)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

// ListSessions возвращает страницу смен по фильтрам из строки запроса.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	f := model.SessionFilter{
		BranchID:      q.Get("branchId"),
		PointOfSaleID: q.Get("pointOfSaleId"),
		OperatorID:    q.Get("operatorId"),
		Status:        model.SessionStatus(strings.ToUpper(q.Get("status"))),
	}

	var err error
	if f.From, err = parseTimeParam(q.Get("from")); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid from", Kind: "validation"})
		return
	}
	if f.To, err = parseTimeParam(q.Get("to")); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid to", Kind: "validation"})
		return
	}

	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))

	res, err := h.service.ListSessions(r.Context(), f, page, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// parseTimeParam принимает дату (YYYY-MM-DD) или момент времени в RFC 3339.
func parseTimeParam(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.DateOnly, v); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetSession возвращает смену.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	sess, err := h.service.GetSession(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// GetExpectedAmount возвращает наличные, которые сейчас должны быть в кассе.
func (h *Handler) GetExpectedAmount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	expected, err := h.service.ExpectedAmount(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"expectedAmount": expected})
}

// GetSessionReport возвращает смену со всеми записями.
func (h *Handler) GetSessionReport(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	report, err := h.service.GetSessionReport(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type transitionFunc func(h *Handler, r *http.Request, id uuid.UUID) (*model.CashSession, error)

func (h *Handler) transition(fn transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		sess, err := fn(h, r, id)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, sess)
	}
}

// SuspendSession приостанавливает смену.
func (h *Handler) SuspendSession(w http.ResponseWriter, r *http.Request) {
	h.transition(func(h *Handler, r *http.Request, id uuid.UUID) (*model.CashSession, error) {
		return h.service.SuspendSession(r.Context(), id)
	})(w, r)
}

// ResumeSession возвращает смену в работу.
func (h *Handler) ResumeSession(w http.ResponseWriter, r *http.Request) {
	h.transition(func(h *Handler, r *http.Request, id uuid.UUID) (*model.CashSession, error) {
		return h.service.ResumeSession(r.Context(), id)
	})(w, r)
}

// StartCount переводит смену в пересчёт.
func (h *Handler) StartCount(w http.ResponseWriter, r *http.Request) {
	h.transition(func(h *Handler, r *http.Request, id uuid.UUID) (*model.CashSession, error) {
		return h.service.StartCount(r.Context(), id)
	})(w, r)
}

// CloseSession закрывает смену.
func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	h.transition(func(h *Handler, r *http.Request, id uuid.UUID) (*model.CashSession, error) {
		return h.service.CloseSession(r.Context(), id)
	})(w, r)
}

type recordCountRequest struct {
	Type string `json:"type" validate:"required,oneof=PARTIAL CLOSING AUDIT"`
	countBody
}

// RecordCount записывает пересчёт, выполненный текущим оператором.
func (h *Handler) RecordCount(w http.ResponseWriter, r *http.Request) {
	op, ok := operator(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req recordCountRequest
	if !h.decode(w, r, &req) {
		return
	}

	count, err := h.service.RecordCount(r.Context(), id, req.input(model.CountType(req.Type), op.ID))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, count)
}

// GetCount возвращает пересчёт.
func (h *Handler) GetCount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	count, err := h.service.GetCount(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, count)
}

type transferRequest struct {
	TargetSessionID  *uuid.UUID `json:"targetSessionId"`
	TargetOperatorID string     `json:"targetOperatorId" validate:"required,max=64"`
	Count            *countBody `json:"count"`
}

// TransferSession передаёт кассу следующему оператору.
func (h *Handler) TransferSession(w http.ResponseWriter, r *http.Request) {
	op, ok := operator(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req transferRequest
	if !h.decode(w, r, &req) {
		return
	}

	p := cash.TransferParams{TargetOperatorID: req.TargetOperatorID}
	if req.TargetSessionID != nil {
		p.TargetID = *req.TargetSessionID
	}
	if req.Count != nil {
		in := req.Count.input(model.CountTransfer, op.ID)
		p.Count = &in
	}

	res, err := h.service.TransferSession(r.Context(), id, p)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

type movementRequest struct {
	Type         string          `json:"type" validate:"required"`
	Amount       decimal.Decimal `json:"amount" validate:"positive_decimal"`
	Reason       string          `json:"reason" validate:"required"`
	Description  string          `json:"description" validate:"max=500"`
	Reference    string          `json:"reference" validate:"max=128"`
	Destination  string          `json:"destination" validate:"max=128"`
	AuthorizedBy string          `json:"authorizedBy" validate:"max=64"`
	RequestID    string          `json:"requestId" validate:"max=128"`
}

// RecordMovement записывает ручное движение наличных. Идентификатор запроса можно
// передать в теле или в заголовке Idempotency-Key.
func (h *Handler) RecordMovement(w http.ResponseWriter, r *http.Request) {
	op, ok := operator(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req movementRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.RequestID == "" {
		req.RequestID = r.Header.Get("Idempotency-Key")
	}

	m, err := h.service.RecordMovement(r.Context(), id, cash.MovementInput{
		Type:         model.MovementType(req.Type),
		Amount:       req.Amount,
		Reason:       model.MovementReason(req.Reason),
		Description:  req.Description,
		Reference:    req.Reference,
		Destination:  req.Destination,
		CreatedBy:    op.ID,
		AuthorizedBy: req.AuthorizedBy,
		RequestID:    req.RequestID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// GetMovement возвращает движение.
func (h *Handler) GetMovement(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	m, err := h.service.GetMovement(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}
