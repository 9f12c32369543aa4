package handler

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/erpwoosync/cianbox-pos-sub001/internal/model"
)

type tenderLine struct {
	Tender string          `json:"tender" validate:"required"`
	Amount decimal.Decimal `json:"amount" validate:"positive_decimal"`
}

type postingRequest struct {
	SaleID  string          `json:"saleId" validate:"required,max=128"`
	Tenders []tenderLine    `json:"tenders" validate:"required,min=1,dive"`
	Total   decimal.Decimal `json:"total" validate:"positive_decimal"`
}

func (p postingRequest) tenders() []model.TenderAmount {
	res := make([]model.TenderAmount, 0, len(p.Tenders))
	for _, t := range p.Tenders {
		res = append(res, model.TenderAmount{Tender: model.Tender(t.Tender), Amount: t.Amount})
	}
	return res
}

// PostSale проводит продажу, поступившую с терминала.
func (h *Handler) PostSale(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req postingRequest
	if !h.decode(w, r, &req) {
		return
	}

	p, err := h.service.PostSale(r.Context(), id, req.SaleID, req.tenders(), req.Total)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// PostRefund проводит возврат. Поле saleId содержит идентификатор возврата.
func (h *Handler) PostRefund(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req postingRequest
	if !h.decode(w, r, &req) {
		return
	}

	p, err := h.service.PostRefund(r.Context(), id, req.SaleID, req.tenders(), req.Total)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type cancelRequest struct {
	SaleID string `json:"saleId" validate:"required,max=128"`
}

// PostCancel отменяет продажу смены.
func (h *Handler) PostCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req cancelRequest
	if !h.decode(w, r, &req) {
		return
	}

	p, err := h.service.PostCancel(r.Context(), id, req.SaleID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
