package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	custommiddleware "github.com/erpwoosync/cianbox-pos-sub001/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware кассового сервиса.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(custommiddleware.Logger(h.logger))
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: h.allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders: []string{"Retry-After"},
		MaxAge:         300,
	}))

	r.Route("/api/cash", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", h.OpenSession)
			r.Get("/", h.ListSessions)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetSession)
				r.Get("/report", h.GetSessionReport)
				r.Get("/expected", h.GetExpectedAmount)

				r.Post("/suspend", h.SuspendSession)
				r.Post("/resume", h.ResumeSession)
				r.Post("/count", h.StartCount)
				r.Post("/close", h.CloseSession)
				r.Post("/transfer", h.TransferSession)

				r.Post("/counts", h.RecordCount)
				r.Post("/movements", h.RecordMovement)

				r.Post("/sales", h.PostSale)
				r.Post("/refunds", h.PostRefund)
				r.Post("/cancels", h.PostCancel)
			})
		})

		r.Get("/counts/{id}", h.GetCount)
		r.Get("/movements/{id}", h.GetMovement)

		r.Get("/reports/daily", h.GetDailyReport)
		r.Get("/reports/daily.xlsx", h.ExportDailyReport)

		r.Route("/treasury", func(r chi.Router) {
			r.Get("/", h.ListTreasury)

			r.Group(func(r chi.Router) {
				r.Use(custommiddleware.RequireRole(
					custommiddleware.RoleTreasurer,
					custommiddleware.RoleSupervisor,
					custommiddleware.RoleAdmin,
				))
				r.Post("/{id}/confirm", h.ConfirmTreasury)
				r.Post("/{id}/reject", h.RejectTreasury)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
