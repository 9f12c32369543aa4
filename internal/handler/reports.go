package handler

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/erpwoosync/cianbox-pos-sub001/internal/export"
	"github.com/erpwoosync/cianbox-pos-sub001/internal/model"
)

func (h *Handler) dailyReport(w http.ResponseWriter, r *http.Request) (*model.DailyReport, bool) {
	day := time.Now().UTC()
	if v := r.URL.Query().Get("date"); v != "" {
		parsed, err := time.Parse(time.DateOnly, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "date must be YYYY-MM-DD", Kind: "validation"})
			return nil, false
		}
		day = parsed
	}

	report, err := h.service.GetDailyReport(r.Context(), day, r.URL.Query().Get("branchId"))
	if err != nil {
		h.writeError(w, r, err)
		return nil, false
	}
	return report, true
}

// GetDailyReport возвращает итоги смен за день.
func (h *Handler) GetDailyReport(w http.ResponseWriter, r *http.Request) {
	report, ok := h.dailyReport(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ExportDailyReport отдаёт итоги смен за день в формате XLSX.
func (h *Handler) ExportDailyReport(w http.ResponseWriter, r *http.Request) {
	report, ok := h.dailyReport(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := export.DailyReportXLSX(report, &buf); err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", export.ContentTypeXLSX)
	w.Header().Set("Content-Disposition", `attachment; filename="cash-daily-`+report.Date+`.xlsx"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		h.logger.Warn("write xlsx response", zap.Error(err))
	}
}

// ListTreasury возвращает записи казначейства, по умолчанию ожидающие подтверждения.
func (h *Handler) ListTreasury(w http.ResponseWriter, r *http.Request) {
	status := model.TreasuryStatus(strings.ToUpper(r.URL.Query().Get("status")))
	switch status {
	case "":
		status = model.TreasuryPendingStatus
	case "ALL":
		status = ""
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	res, err := h.service.ListTreasury(r.Context(), status, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type confirmTreasuryRequest struct {
	ConfirmedAmount decimal.Decimal `json:"confirmedAmount" validate:"nonnegative_decimal"`
	Notes           string          `json:"notes" validate:"max=500"`
}

// ConfirmTreasury подтверждает поступление внесения в банк.
func (h *Handler) ConfirmTreasury(w http.ResponseWriter, r *http.Request) {
	op, ok := operator(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req confirmTreasuryRequest
	if !h.decode(w, r, &req) {
		return
	}

	p, err := h.service.ConfirmTreasury(r.Context(), id, req.ConfirmedAmount, req.Notes, op.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type rejectTreasuryRequest struct {
	Notes string `json:"notes" validate:"max=500"`
}

// RejectTreasury отклоняет внесение.
func (h *Handler) RejectTreasury(w http.ResponseWriter, r *http.Request) {
	op, ok := operator(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req rejectTreasuryRequest
	if !h.decode(w, r, &req) {
		return
	}

	p, err := h.service.RejectTreasury(r.Context(), id, req.Notes, op.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
