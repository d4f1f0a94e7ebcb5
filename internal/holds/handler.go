package holds

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/helia-care/walletd/internal/api"
	"github.com/helia-care/walletd/internal/ledger"
)

// Handler exposes pending transfer endpoints.
type Handler struct {
	manager *Manager
}

// NewHandler builds a pending transfer HTTP handler.
func NewHandler(manager *Manager) *Handler {
	return &Handler{manager: manager}
}

type createRequest struct {
	FromUserID  string          `json:"fromUserId"`
	ToUserID    string          `json:"toUserId"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

// Create opens a held transfer, earmarking funds on the sender.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return api.Error(c, http.StatusBadRequest, api.KindBadRequest, "malformed request body")
	}
	if req.FromUserID == "" || req.ToUserID == "" {
		return api.Error(c, http.StatusBadRequest, api.KindBadRequest, "fromUserId and toUserId are required")
	}
	hold, err := h.manager.Create(c.UserContext(), req.FromUserID, req.ToUserID, req.Amount, req.Description)
	if err != nil {
		return api.DomainError(c, err)
	}
	return c.Status(http.StatusCreated).JSON(hold)
}

// Accept commits a held transfer and returns the resulting transfer receipt.
func (h *Handler) Accept(c *fiber.Ctx) error {
	receipt, err := h.manager.Accept(c.UserContext(), c.Params("id"))
	if err != nil {
		return api.DomainError(c, err)
	}
	return c.Status(http.StatusOK).JSON(receipt)
}

// Reject releases a held transfer with no balance change.
func (h *Handler) Reject(c *fiber.Ctx) error {
	hold, err := h.manager.Reject(c.UserContext(), c.Params("id"))
	if err != nil {
		return api.DomainError(c, err)
	}
	return c.Status(http.StatusOK).JSON(hold)
}

// ListOpen returns held transfers touching the given account.
func (h *Handler) ListOpen(c *fiber.Ctx) error {
	accountID := c.Query("userId")
	if accountID == "" {
		return api.Error(c, http.StatusBadRequest, api.KindBadRequest, "userId query parameter is required")
	}
	open, err := h.manager.ListOpen(c.UserContext(), accountID)
	if err != nil {
		return api.DomainError(c, err)
	}
	if open == nil {
		open = []ledger.PendingTransfer{}
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"pending_transfers": open})
}
