package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	// maxAttempts bounds the optimistic retry loop before a conflict is
	// surfaced to the caller as ErrRetryExhausted.
	maxAttempts = 4

	retryBackoffBase = 5 * time.Millisecond
)

// Receipt is the outcome of a single-account operation.
type Receipt struct {
	Entry   Entry    `json:"transaction"`
	Balance Snapshot `json:"balance"`
}

// TransferReceipt is the outcome of a two-account operation. Entries holds
// one leg per account, linked through RelatedID.
type TransferReceipt struct {
	Entries []Entry  `json:"transactions"`
	From    Snapshot `json:"from_balance"`
	To      Snapshot `json:"to_balance"`
}

// Engine executes balance-mutating operations as atomic commits against the
// store. It owns all write access to accounts and log entries; the pending
// transfer manager composes on top of it.
type Engine struct {
	store  Store
	logger *slog.Logger
}

// NewEngine builds a ledger engine.
func NewEngine(store Store, logger *slog.Logger) *Engine {
	return &Engine{store: store, logger: logger}
}

// Store exposes the underlying store for read-only composition.
func (e *Engine) Store() Store {
	return e.store
}

// CreateAccount explicitly provisions an account with an initial balance.
func (e *Engine) CreateAccount(ctx context.Context, accountID string, initial decimal.Decimal) (Account, error) {
	if accountID == "" {
		return Account{}, fmt.Errorf("%w: account id required", ErrInvalidAmount)
	}
	if initial.IsNegative() {
		return Account{}, fmt.Errorf("%w: initial balance must not be negative", ErrInvalidAmount)
	}
	// The opening balance entry commits with the account row so the log fully
	// reconstructs the account even if the process dies mid-create.
	var opening []Entry
	if initial.IsPositive() {
		opening = append(opening, Entry{
			ID:          uuid.NewString(),
			Type:        EntryDeposit,
			Status:      StatusCompleted,
			AccountID:   accountID,
			Direction:   DirectionIn,
			Amount:      initial,
			Description: "opening balance",
			CreatedAt:   time.Now().UTC(),
		})
	}
	return e.store.CreateAccount(ctx, accountID, initial, opening)
}

// Balance returns the balance snapshot for an account, provisioning it on
// first reference.
func (e *Engine) Balance(ctx context.Context, accountID string) (Snapshot, error) {
	acct, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return Snapshot{}, err
	}
	return SnapshotOf(acct), nil
}

// Deposit credits the account. Cannot fail for insufficient funds.
func (e *Engine) Deposit(ctx context.Context, accountID string, amount decimal.Decimal, description string) (Receipt, error) {
	return e.post(ctx, accountID, EntryDeposit, DirectionIn, amount, description)
}

// Withdraw debits the account against its available (non-held) balance.
func (e *Engine) Withdraw(ctx context.Context, accountID string, amount decimal.Decimal, description string) (Receipt, error) {
	return e.post(ctx, accountID, EntryWithdrawal, DirectionOut, amount, description)
}

// Debit records a payment out. Same mechanics as Withdraw, distinct log type.
func (e *Engine) Debit(ctx context.Context, accountID string, amount decimal.Decimal, description string) (Receipt, error) {
	return e.post(ctx, accountID, EntryDebit, DirectionOut, amount, description)
}

// Credit records a payment in. Same mechanics as Deposit, distinct log type.
func (e *Engine) Credit(ctx context.Context, accountID string, amount decimal.Decimal, description string) (Receipt, error) {
	return e.post(ctx, accountID, EntryCredit, DirectionIn, amount, description)
}

// post applies a single-account delta plus its log entry in one commit.
func (e *Engine) post(ctx context.Context, accountID string, entryType EntryType, dir Direction, amount decimal.Decimal, description string) (Receipt, error) {
	if err := validateAmount(amount); err != nil {
		return Receipt{}, err
	}

	var receipt Receipt
	err := e.withRetry(ctx, func() error {
		acct, err := e.store.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}
		delta := amount
		if dir == DirectionOut {
			if acct.Available().LessThan(amount) {
				return ErrInsufficientFunds
			}
			delta = amount.Neg()
		}
		entry := Entry{
			ID:          uuid.NewString(),
			Type:        entryType,
			Status:      StatusCompleted,
			AccountID:   accountID,
			Direction:   dir,
			Amount:      amount,
			Description: description,
			CreatedAt:   time.Now().UTC(),
		}
		change := Change{
			Mutations: []Mutation{{
				AccountID:       accountID,
				BalanceDelta:    delta,
				ExpectedVersion: acct.Version,
			}},
			Appends: []Entry{entry},
		}
		if err := e.store.Apply(ctx, change); err != nil {
			return err
		}
		acct.Balance = acct.Balance.Add(delta)
		receipt = Receipt{Entry: entry, Balance: SnapshotOf(acct)}
		return nil
	})
	if err != nil {
		return Receipt{}, err
	}
	return receipt, nil
}

// Transfer moves funds between two accounts as a single atomic unit: both
// balance mutations and both log legs commit together or not at all.
func (e *Engine) Transfer(ctx context.Context, fromID, toID string, amount decimal.Decimal, description string) (TransferReceipt, error) {
	if err := validateAmount(amount); err != nil {
		return TransferReceipt{}, err
	}
	if fromID == toID {
		return TransferReceipt{}, ErrSameAccount
	}

	var receipt TransferReceipt
	err := e.withRetry(ctx, func() error {
		from, err := e.store.GetAccount(ctx, fromID)
		if err != nil {
			return err
		}
		to, err := e.store.GetAccount(ctx, toID)
		if err != nil {
			return err
		}
		if from.Available().LessThan(amount) {
			return ErrInsufficientFunds
		}

		now := time.Now().UTC()
		outLeg := Entry{
			ID:             uuid.NewString(),
			Type:           EntryTransfer,
			Status:         StatusCompleted,
			AccountID:      fromID,
			CounterpartyID: toID,
			Direction:      DirectionOut,
			Amount:         amount,
			Description:    description,
			CreatedAt:      now,
		}
		inLeg := Entry{
			ID:             uuid.NewString(),
			Type:           EntryTransfer,
			Status:         StatusCompleted,
			AccountID:      toID,
			CounterpartyID: fromID,
			Direction:      DirectionIn,
			Amount:         amount,
			Description:    description,
			RelatedID:      outLeg.ID,
			CreatedAt:      now,
		}
		outLeg.RelatedID = inLeg.ID

		change := Change{
			Mutations: []Mutation{
				{AccountID: fromID, BalanceDelta: amount.Neg(), ExpectedVersion: from.Version},
				{AccountID: toID, BalanceDelta: amount, ExpectedVersion: to.Version},
			},
			Appends: []Entry{outLeg, inLeg},
		}
		if err := e.store.Apply(ctx, change); err != nil {
			return err
		}
		from.Balance = from.Balance.Sub(amount)
		to.Balance = to.Balance.Add(amount)
		receipt = TransferReceipt{
			Entries: []Entry{outLeg, inLeg},
			From:    SnapshotOf(from),
			To:      SnapshotOf(to),
		}
		return nil
	})
	if err != nil {
		return TransferReceipt{}, err
	}
	return receipt, nil
}

// PlaceHold earmarks funds for a pending transfer: the source's held balance
// rises, a pending hold entry is appended and the hold row is created, all in
// one commit. The real balance does not move.
func (e *Engine) PlaceHold(ctx context.Context, hold PendingTransfer) error {
	if err := validateAmount(hold.Amount); err != nil {
		return err
	}
	if hold.FromAccountID == hold.ToAccountID {
		return ErrSameAccount
	}

	return e.withRetry(ctx, func() error {
		from, err := e.store.GetAccount(ctx, hold.FromAccountID)
		if err != nil {
			return err
		}
		if _, err := e.store.GetAccount(ctx, hold.ToAccountID); err != nil {
			return err
		}
		if from.Available().LessThan(hold.Amount) {
			return ErrInsufficientFunds
		}
		entry := Entry{
			ID:             hold.HoldEntryID,
			Type:           EntryTransferHold,
			Status:         StatusPending,
			AccountID:      hold.FromAccountID,
			CounterpartyID: hold.ToAccountID,
			Direction:      DirectionOut,
			Amount:         hold.Amount,
			Description:    hold.Description,
			RelatedID:      hold.ID,
			CreatedAt:      hold.CreatedAt,
		}
		return e.store.Apply(ctx, Change{
			Mutations: []Mutation{{
				AccountID:       hold.FromAccountID,
				HeldDelta:       hold.Amount,
				ExpectedVersion: from.Version,
			}},
			Appends:     []Entry{entry},
			CreateHolds: []PendingTransfer{hold},
		})
	})
}

// CommitHold converts a held transfer into a real balance move. The state
// transition, hold release, both balance mutations, the hold entry
// finalization and both commit legs land in a single atomic commit, so an
// accept racing a reject or expiry resolves to exactly one terminal state.
func (e *Engine) CommitHold(ctx context.Context, hold PendingTransfer) (TransferReceipt, error) {
	var receipt TransferReceipt
	err := e.withRetry(ctx, func() error {
		from, err := e.store.GetAccount(ctx, hold.FromAccountID)
		if err != nil {
			return err
		}
		to, err := e.store.GetAccount(ctx, hold.ToAccountID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		outLeg := Entry{
			ID:             uuid.NewString(),
			Type:           EntryTransferCommit,
			Status:         StatusCompleted,
			AccountID:      hold.FromAccountID,
			CounterpartyID: hold.ToAccountID,
			Direction:      DirectionOut,
			Amount:         hold.Amount,
			Description:    hold.Description,
			RelatedID:      hold.HoldEntryID,
			CreatedAt:      now,
		}
		inLeg := Entry{
			ID:             uuid.NewString(),
			Type:           EntryTransferCommit,
			Status:         StatusCompleted,
			AccountID:      hold.ToAccountID,
			CounterpartyID: hold.FromAccountID,
			Direction:      DirectionIn,
			Amount:         hold.Amount,
			Description:    hold.Description,
			RelatedID:      outLeg.ID,
			CreatedAt:      now,
		}

		change := Change{
			Transitions: []HoldTransition{{ID: hold.ID, From: HoldHeld, To: HoldAccepted}},
			Mutations: []Mutation{
				{
					AccountID:       hold.FromAccountID,
					BalanceDelta:    hold.Amount.Neg(),
					HeldDelta:       hold.Amount.Neg(),
					ExpectedVersion: from.Version,
				},
				{
					AccountID:       hold.ToAccountID,
					BalanceDelta:    hold.Amount,
					ExpectedVersion: to.Version,
				},
			},
			Finalize: []Finalization{{EntryID: hold.HoldEntryID, Status: StatusCompleted}},
			Appends:  []Entry{outLeg, inLeg},
		}
		if err := e.store.Apply(ctx, change); err != nil {
			return err
		}
		from.Balance = from.Balance.Sub(hold.Amount)
		from.Held = from.Held.Sub(hold.Amount)
		to.Balance = to.Balance.Add(hold.Amount)
		receipt = TransferReceipt{
			Entries: []Entry{outLeg, inLeg},
			From:    SnapshotOf(from),
			To:      SnapshotOf(to),
		}
		return nil
	})
	if err != nil {
		return TransferReceipt{}, err
	}
	return receipt, nil
}

// ReleaseHold drops a held transfer without moving balances: the held amount
// is freed, the hold entry fails and a release entry records the outcome.
func (e *Engine) ReleaseHold(ctx context.Context, hold PendingTransfer, to HoldState) (Entry, error) {
	if to != HoldRejected && to != HoldExpired {
		return Entry{}, ErrInvalidState
	}

	var release Entry
	err := e.withRetry(ctx, func() error {
		from, err := e.store.GetAccount(ctx, hold.FromAccountID)
		if err != nil {
			return err
		}
		release = Entry{
			ID:             uuid.NewString(),
			Type:           EntryTransferRelease,
			Status:         StatusCompleted,
			AccountID:      hold.FromAccountID,
			CounterpartyID: hold.ToAccountID,
			Direction:      DirectionIn,
			Amount:         hold.Amount,
			Description:    hold.Description,
			RelatedID:      hold.HoldEntryID,
			CreatedAt:      time.Now().UTC(),
		}
		return e.store.Apply(ctx, Change{
			Transitions: []HoldTransition{{ID: hold.ID, From: HoldHeld, To: to}},
			Mutations: []Mutation{{
				AccountID:       hold.FromAccountID,
				HeldDelta:       hold.Amount.Neg(),
				ExpectedVersion: from.Version,
			}},
			Finalize: []Finalization{{EntryID: hold.HoldEntryID, Status: StatusFailed}},
			Appends:  []Entry{release},
		})
	})
	if err != nil {
		return Entry{}, err
	}
	return release, nil
}

// withRetry reruns fn while the store reports version conflicts, with
// jittered backoff, up to the attempt budget.
func (e *Engine) withRetry(ctx context.Context, fn func() error) error {
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil || !errors.Is(err, ErrVersionConflict) {
			return err
		}
		if attempt >= maxAttempts {
			e.logger.Warn("optimistic retry budget exhausted", "attempts", attempt)
			return ErrRetryExhausted
		}
		backoff := time.Duration(attempt) * retryBackoffBase
		backoff += time.Duration(rand.Int63n(int64(retryBackoffBase)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}

func validateAmount(amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidAmount
	}
	return nil
}
