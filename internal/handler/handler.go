// Package handler содержит HTTP-обработчики API кассового сервиса.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/erpwoosync/cianbox-pos-sub001/internal/cash"
	"github.com/erpwoosync/cianbox-pos-sub001/internal/middleware"
	"github.com/erpwoosync/cianbox-pos-sub001/internal/model"
	"github.com/erpwoosync/cianbox-pos-sub001/internal/service"
	"github.com/erpwoosync/cianbox-pos-sub001/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	OpenSession(ctx context.Context, p cash.OpenParams) (*model.CashSession, error)
	SuspendSession(ctx context.Context, id uuid.UUID) (*model.CashSession, error)
	ResumeSession(ctx context.Context, id uuid.UUID) (*model.CashSession, error)
	StartCount(ctx context.Context, id uuid.UUID) (*model.CashSession, error)
	RecordCount(ctx context.Context, id uuid.UUID, in cash.CountInput) (*model.CashCount, error)
	CloseSession(ctx context.Context, id uuid.UUID) (*model.CashSession, error)
	TransferSession(ctx context.Context, id uuid.UUID, p cash.TransferParams) (*service.TransferResult, error)
	RecordMovement(ctx context.Context, id uuid.UUID, in cash.MovementInput) (*model.CashMovement, error)
	PostSale(ctx context.Context, id uuid.UUID, saleID string, tenders []model.TenderAmount, total decimal.Decimal) (*model.SalePosting, error)
	PostRefund(ctx context.Context, id uuid.UUID, refundID string, tenders []model.TenderAmount, total decimal.Decimal) (*model.SalePosting, error)
	PostCancel(ctx context.Context, id uuid.UUID, saleID string) (*model.SalePosting, error)
	GetSession(ctx context.Context, id uuid.UUID) (*model.CashSession, error)
	GetCount(ctx context.Context, id uuid.UUID) (*model.CashCount, error)
	GetMovement(ctx context.Context, id uuid.UUID) (*model.CashMovement, error)
	ExpectedAmount(ctx context.Context, id uuid.UUID) (decimal.Decimal, error)
	GetSessionReport(ctx context.Context, id uuid.UUID) (*model.SessionReport, error)
	ListSessions(ctx context.Context, f model.SessionFilter, page, limit int) (*model.SessionPage, error)
	GetDailyReport(ctx context.Context, day time.Time, branchID string) (*model.DailyReport, error)
	ListTreasury(ctx context.Context, status model.TreasuryStatus, limit int) ([]model.TreasuryPending, error)
	ConfirmTreasury(ctx context.Context, id uuid.UUID, confirmed decimal.Decimal, notes, by string) (*model.TreasuryPending, error)
	RejectTreasury(ctx context.Context, id uuid.UUID, notes, by string) (*model.TreasuryPending, error)
}

// Handler реализует HTTP-обработчики API кассового сервиса.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	allowedOrigins []string
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, allowedOrigins []string) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		allowedOrigins: allowedOrigins,
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// writeError переводит ошибку кассового модуля в HTTP-ответ.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		status int
		kind   string
	)
	switch {
	case errors.Is(err, cash.ErrNotFound):
		status, kind = http.StatusNotFound, "not_found"
	case errors.Is(err, cash.ErrValidation):
		status, kind = http.StatusUnprocessableEntity, "validation"
	case errors.Is(err, cash.ErrState):
		status, kind = http.StatusConflict, "state"
	case errors.Is(err, cash.ErrConflict):
		status, kind = http.StatusConflict, "conflict"
	case errors.Is(err, cash.ErrConcurrency):
		w.Header().Set("Retry-After", "1")
		status, kind = http.StatusConflict, "concurrency"
	default:
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error: http.StatusText(http.StatusInternalServerError),
			Kind:  "internal",
		})
		return
	}

	writeJSON(w, status, errorResponse{Error: err.Error(), Kind: kind})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decode читает JSON-тело запроса и проверяет его по тегам validate.
// При ошибке ответ уже записан и возвращается false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body: " + err.Error(), Kind: "validation"})
		return false
	}
	if err := validation.Struct(dst); err != nil {
		h.writeError(w, r, err)
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid " + name, Kind: "validation"})
		return uuid.Nil, false
	}
	return id, true
}

func operator(w http.ResponseWriter, r *http.Request) (middleware.Operator, bool) {
	op, ok := middleware.GetOperatorFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	}
	return op, ok
}
