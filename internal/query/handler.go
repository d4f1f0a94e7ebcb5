package query

import (
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/helia-care/walletd/internal/api"
	"github.com/helia-care/walletd/internal/ledger"
)

// Handler exposes read-only lookup endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a query HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Transactions returns an account's history, filtered and newest first.
func (h *Handler) Transactions(c *fiber.Ctx) error {
	accountID := c.Query("userId")
	if accountID == "" {
		return api.Error(c, http.StatusBadRequest, api.KindBadRequest, "userId query parameter is required")
	}

	filter := ledger.EntryFilter{
		Class:  ledger.FilterClass(c.Query("filter", string(ledger.FilterAll))),
		Status: ledger.EntryStatus(c.Query("status")),
	}
	if !filter.Class.Valid() {
		return api.Error(c, http.StatusBadRequest, api.KindBadRequest, "unknown filter class")
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return api.Error(c, http.StatusBadRequest, api.KindBadRequest, "limit must be a non-negative integer")
		}
		filter.Limit = limit
	}

	entries, err := h.service.History(c.UserContext(), accountID, filter)
	if err != nil {
		return api.DomainError(c, err)
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"transactions": entries})
}

// Transaction fetches a single log entry.
func (h *Handler) Transaction(c *fiber.Ctx) error {
	entry, err := h.service.Entry(c.UserContext(), c.Params("id"))
	if err != nil {
		return api.DomainError(c, err)
	}
	return c.Status(http.StatusOK).JSON(entry)
}

// Summary returns aggregate statistics for an account.
func (h *Handler) Summary(c *fiber.Ctx) error {
	summary, err := h.service.Summarize(c.UserContext(), c.Params("userId"))
	if err != nil {
		return api.DomainError(c, err)
	}
	return c.Status(http.StatusOK).JSON(summary)
}
