package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/helia-care/walletd/internal/holds"
)

// RegisterHoldRoutes wires the two-phase transfer endpoints.
func RegisterHoldRoutes(r fiber.Router, h *holds.Handler) {
	r.Get("/transfer/pending", h.ListOpen)
	r.Post("/transfer/pending", h.Create)
	r.Post("/transfer/pending/:id/accept", h.Accept)
	r.Post("/transfer/pending/:id/reject", h.Reject)
}
