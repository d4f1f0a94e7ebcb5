package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/helia-care/walletd/internal/query"
)

// RegisterQueryRoutes wires the read-only lookup endpoints.
func RegisterQueryRoutes(r fiber.Router, h *query.Handler) {
	r.Get("/transactions", h.Transactions)
	r.Get("/transactions/:id", h.Transaction)
	r.Get("/account/:userId/summary", h.Summary)
}
