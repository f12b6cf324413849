package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/nstepanov/giftcards-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса подарочных карт.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Post("/cart/validate", h.ValidateCart)
		r.Get("/cards/{code}", h.GetCard)
		r.Get("/cards/{code}/exists", h.CheckCode)

		r.Group(func(r chi.Router) {
			r.Use(h.signature.Middleware)

			r.Post("/orders/events", h.OrderEvent)
		})

		r.Route("/account", func(r chi.Router) {
			r.Get("/cards", h.GetAccountCards)
			r.Get("/cards/{id}/transactions", h.GetCardTransactions)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/cards", h.CreateCard)
			r.Get("/cards", h.ListCards)
			r.Get("/cards/{id}", h.GetAdminCard)
			r.Get("/cards/{id}/transactions", h.GetCardTransactions)
			r.Patch("/cards/{id}/status", h.SetCardStatus)
			r.Delete("/cards/{id}", h.DeleteCard)
			r.Get("/orders/{orderRef}/cards", h.GetOrderCards)
			r.Get("/stats", h.GetStats)
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
