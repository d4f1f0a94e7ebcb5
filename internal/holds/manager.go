package holds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/helia-care/walletd/internal/ledger"
	"github.com/helia-care/walletd/internal/notification"
)

// Manager owns the pending transfer lifecycle: funds are earmarked on
// creation, then committed on accept or released on reject/expiry. Balance
// mutation is always delegated to the ledger engine.
type Manager struct {
	engine   *ledger.Engine
	store    ledger.Store
	notifier notification.Notifier
	logger   *slog.Logger
	ttl      time.Duration
}

// NewManager builds a pending transfer manager. ttl bounds how long a hold
// stays open before the sweeper expires it.
func NewManager(engine *ledger.Engine, notifier notification.Notifier, logger *slog.Logger, ttl time.Duration) *Manager {
	return &Manager{
		engine:   engine,
		store:    engine.Store(),
		notifier: notifier,
		logger:   logger,
		ttl:      ttl,
	}
}

// Create earmarks funds on the source account and opens a held transfer.
// The real balance does not move until Accept.
func (m *Manager) Create(ctx context.Context, fromID, toID string, amount decimal.Decimal, description string) (ledger.PendingTransfer, error) {
	now := time.Now().UTC()
	hold := ledger.PendingTransfer{
		ID:            uuid.NewString(),
		FromAccountID: fromID,
		ToAccountID:   toID,
		Amount:        amount,
		Description:   description,
		State:         ledger.HoldHeld,
		HoldEntryID:   uuid.NewString(),
		CreatedAt:     now,
		ExpiresAt:     now.Add(m.ttl),
	}
	if err := m.engine.PlaceHold(ctx, hold); err != nil {
		return ledger.PendingTransfer{}, err
	}

	if m.notifier != nil {
		_ = m.notifier.Send(ctx, notification.Message{
			Kind:        notification.KindTransferRequested,
			Destination: toID,
			Body:        fmt.Sprintf("Transfer of %s from %s awaits your decision", amount, fromID),
		})
	}
	return hold, nil
}

// Get returns the pending transfer, expiring it lazily when overdue.
func (m *Manager) Get(ctx context.Context, id string) (ledger.PendingTransfer, error) {
	hold, err := m.store.GetHold(ctx, id)
	if err != nil {
		return ledger.PendingTransfer{}, err
	}
	return m.lazyExpire(ctx, hold), nil
}

// Accept commits a held transfer: the hold converts into a real balance move.
// When the underlying commit cannot be applied the hold is released and the
// transfer reported failed, so funds are never left double-held.
func (m *Manager) Accept(ctx context.Context, id string) (ledger.TransferReceipt, error) {
	hold, err := m.Get(ctx, id)
	if err != nil {
		return ledger.TransferReceipt{}, err
	}
	if hold.State != ledger.HoldHeld {
		return ledger.TransferReceipt{}, ledger.ErrInvalidState
	}

	receipt, err := m.engine.CommitHold(ctx, hold)
	if err != nil {
		if errors.Is(err, ledger.ErrInvalidState) {
			// Lost the race against a concurrent reject or expiry.
			return ledger.TransferReceipt{}, ledger.ErrInvalidState
		}
		m.logger.Error("hold commit failed, releasing", "hold_id", hold.ID, "error", err)
		if _, relErr := m.engine.ReleaseHold(ctx, hold, ledger.HoldRejected); relErr != nil && !errors.Is(relErr, ledger.ErrInvalidState) {
			m.logger.Error("hold release after failed commit", "hold_id", hold.ID, "error", relErr)
		}
		return ledger.TransferReceipt{}, fmt.Errorf("%w: %s", ledger.ErrTransferFailed, err)
	}

	if m.notifier != nil {
		_ = m.notifier.Send(ctx, notification.Message{
			Kind:        notification.KindTransferReceived,
			Destination: hold.ToAccountID,
			Body:        fmt.Sprintf("You received %s from %s", hold.Amount, hold.FromAccountID),
		})
	}
	return receipt, nil
}

// Reject releases a held transfer with no balance change.
func (m *Manager) Reject(ctx context.Context, id string) (ledger.PendingTransfer, error) {
	hold, err := m.Get(ctx, id)
	if err != nil {
		return ledger.PendingTransfer{}, err
	}
	if hold.State != ledger.HoldHeld {
		return ledger.PendingTransfer{}, ledger.ErrInvalidState
	}
	if _, err := m.engine.ReleaseHold(ctx, hold, ledger.HoldRejected); err != nil {
		return ledger.PendingTransfer{}, err
	}
	hold.State = ledger.HoldRejected
	return hold, nil
}

// ListOpen returns held transfers where the account is sender or recipient.
func (m *Manager) ListOpen(ctx context.Context, accountID string) ([]ledger.PendingTransfer, error) {
	return m.store.ListOpenHolds(ctx, accountID)
}

// lazyExpire releases an overdue hold on access. A concurrent sweeper or
// decision hitting the same hold is resolved by the store's state CAS; the
// loser simply re-reads.
func (m *Manager) lazyExpire(ctx context.Context, hold ledger.PendingTransfer) ledger.PendingTransfer {
	if hold.State != ledger.HoldHeld || !hold.Expired(time.Now().UTC()) {
		return hold
	}
	if _, err := m.engine.ReleaseHold(ctx, hold, ledger.HoldExpired); err != nil {
		if errors.Is(err, ledger.ErrInvalidState) {
			if fresh, gerr := m.store.GetHold(ctx, hold.ID); gerr == nil {
				return fresh
			}
		} else {
			m.logger.Error("lazy hold expiry", "hold_id", hold.ID, "error", err)
		}
		return hold
	}
	hold.State = ledger.HoldExpired
	return hold
}

// Sweep expires every overdue hold, returning how many were released.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	overdue, err := m.store.ListExpiredHolds(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	released := 0
	for _, hold := range overdue {
		if _, err := m.engine.ReleaseHold(ctx, hold, ledger.HoldExpired); err != nil {
			if errors.Is(err, ledger.ErrInvalidState) {
				continue // decided concurrently
			}
			return released, err
		}
		released++
	}
	return released, nil
}

// Run sweeps on the given interval until the context is canceled.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			released, err := m.Sweep(ctx)
			if err != nil {
				m.logger.Error("hold sweep", "error", err)
				continue
			}
			if released > 0 {
				m.logger.Info("expired holds released", "count", released)
			}
		}
	}
}
