package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/helia-care/walletd/internal/wallet"
)

// RegisterWalletRoutes wires the balance-mutating endpoints.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler) {
	r.Get("/balance/:userId", h.Balance)
	r.Post("/deposit", h.Deposit)
	r.Post("/withdraw", h.Withdraw)
	r.Post("/debit", h.Debit)
	r.Post("/credit", h.Credit)
	r.Post("/transfer", h.Transfer)
	r.Post("/accounts/create", h.CreateAccount)
}
