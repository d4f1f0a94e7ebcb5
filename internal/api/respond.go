package api

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/helia-care/walletd/internal/ledger"
)

// Stable machine-readable error kinds exposed to API consumers. The mobile
// client surfaces Message verbatim, so messages never carry internals.
const (
	KindInvalidAmount     = "invalid_amount"
	KindInvalidTransfer   = "invalid_transfer"
	KindInsufficientFunds = "insufficient_funds"
	KindInvalidState      = "invalid_state"
	KindNotFound          = "not_found"
	KindAccountExists     = "account_exists"
	KindRetryLater        = "retry_later"
	KindTransferFailed    = "transfer_failed"
	KindBadRequest        = "bad_request"
	KindInternal          = "internal"
)

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

// KindForStatus derives a fallback kind for errors raised outside the ledger
// domain, e.g. by middleware.
func KindForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return KindBadRequest
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusConflict:
		return KindInvalidState
	case http.StatusTooManyRequests:
		return KindRetryLater
	case http.StatusServiceUnavailable:
		return KindRetryLater
	default:
		return KindInternal
	}
}

// Error writes a structured error response.
func Error(c *fiber.Ctx, status int, kind, message string) error {
	return c.Status(status).JSON(errorBody{Error: errorDetail{Kind: kind, Message: message}})
}

// DomainError maps ledger errors to HTTP responses. Unknown errors become an
// opaque 500.
func DomainError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount):
		return Error(c, http.StatusBadRequest, KindInvalidAmount, "amount must be a positive number")
	case errors.Is(err, ledger.ErrSameAccount):
		return Error(c, http.StatusBadRequest, KindInvalidTransfer, "source and destination accounts must differ")
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return Error(c, http.StatusUnprocessableEntity, KindInsufficientFunds, "insufficient available balance")
	case errors.Is(err, ledger.ErrInvalidState):
		return Error(c, http.StatusConflict, KindInvalidState, "pending transfer already decided or expired")
	case errors.Is(err, ledger.ErrAccountExists):
		return Error(c, http.StatusConflict, KindAccountExists, "account already exists")
	case errors.Is(err, ledger.ErrNotFound):
		return Error(c, http.StatusNotFound, KindNotFound, "resource not found")
	case errors.Is(err, ledger.ErrRetryExhausted):
		return Error(c, http.StatusServiceUnavailable, KindRetryLater, "operation conflicted with concurrent activity, retry")
	case errors.Is(err, ledger.ErrTransferFailed):
		return Error(c, http.StatusConflict, KindTransferFailed, "transfer could not be completed, hold released")
	default:
		return Error(c, http.StatusInternalServerError, KindInternal, "internal error")
	}
}
