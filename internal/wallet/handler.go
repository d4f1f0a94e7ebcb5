package wallet

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/helia-care/walletd/internal/api"
	"github.com/helia-care/walletd/internal/ledger"
	"github.com/helia-care/walletd/internal/notification"
)

// Handler exposes the ledger engine over HTTP.
type Handler struct {
	engine   *ledger.Engine
	notifier notification.Notifier
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(engine *ledger.Engine, notifier notification.Notifier) *Handler {
	return &Handler{engine: engine, notifier: notifier}
}

type operationRequest struct {
	UserID      string          `json:"userId"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

type transferRequest struct {
	FromUserID  string          `json:"fromUserId"`
	ToUserID    string          `json:"toUserId"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

type createAccountRequest struct {
	UserID         string          `json:"userId"`
	InitialBalance decimal.Decimal `json:"initialBalance"`
}

// Balance returns the account's balance snapshot.
func (h *Handler) Balance(c *fiber.Ctx) error {
	snapshot, err := h.engine.Balance(c.UserContext(), c.Params("userId"))
	if err != nil {
		return api.DomainError(c, err)
	}
	return c.Status(http.StatusOK).JSON(snapshot)
}

// Deposit credits the account.
func (h *Handler) Deposit(c *fiber.Ctx) error {
	return h.operation(c, h.engine.Deposit)
}

// Withdraw debits the account against its available balance.
func (h *Handler) Withdraw(c *fiber.Ctx) error {
	return h.operation(c, h.engine.Withdraw)
}

// Debit records a payment out of the account.
func (h *Handler) Debit(c *fiber.Ctx) error {
	return h.operation(c, h.engine.Debit)
}

// Credit records a payment into the account.
func (h *Handler) Credit(c *fiber.Ctx) error {
	return h.operation(c, h.engine.Credit)
}

type operationFunc func(ctx context.Context, accountID string, amount decimal.Decimal, description string) (ledger.Receipt, error)

func (h *Handler) operation(c *fiber.Ctx, op operationFunc) error {
	var req operationRequest
	if err := c.BodyParser(&req); err != nil {
		return api.Error(c, http.StatusBadRequest, api.KindBadRequest, "malformed request body")
	}
	if req.UserID == "" {
		return api.Error(c, http.StatusBadRequest, api.KindBadRequest, "userId is required")
	}
	receipt, err := op(c.UserContext(), req.UserID, req.Amount, req.Description)
	if err != nil {
		return api.DomainError(c, err)
	}
	return c.Status(http.StatusCreated).JSON(receipt)
}

// Transfer moves funds between two accounts.
func (h *Handler) Transfer(c *fiber.Ctx) error {
	var req transferRequest
	if err := c.BodyParser(&req); err != nil {
		return api.Error(c, http.StatusBadRequest, api.KindBadRequest, "malformed request body")
	}
	if req.FromUserID == "" || req.ToUserID == "" {
		return api.Error(c, http.StatusBadRequest, api.KindBadRequest, "fromUserId and toUserId are required")
	}
	receipt, err := h.engine.Transfer(c.UserContext(), req.FromUserID, req.ToUserID, req.Amount, req.Description)
	if err != nil {
		return api.DomainError(c, err)
	}

	if h.notifier != nil {
		_ = h.notifier.Send(c.UserContext(), notification.Message{
			Kind:        notification.KindTransferReceived,
			Destination: req.ToUserID,
			Body:        fmt.Sprintf("You received %s from %s", req.Amount, req.FromUserID),
		})
	}
	return c.Status(http.StatusCreated).JSON(receipt)
}

// CreateAccount explicitly provisions an account with an initial balance.
func (h *Handler) CreateAccount(c *fiber.Ctx) error {
	var req createAccountRequest
	if err := c.BodyParser(&req); err != nil {
		return api.Error(c, http.StatusBadRequest, api.KindBadRequest, "malformed request body")
	}
	if req.UserID == "" {
		return api.Error(c, http.StatusBadRequest, api.KindBadRequest, "userId is required")
	}
	acct, err := h.engine.CreateAccount(c.UserContext(), req.UserID, req.InitialBalance)
	if err != nil {
		return api.DomainError(c, err)
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"account_id": acct.ID,
		"balance":    acct.Balance,
		"created_at": acct.CreatedAt,
	})
}
