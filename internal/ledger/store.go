package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Mutation adjusts one account's balance and held balance. ExpectedVersion
// implements the compare-and-swap: the mutation only applies if the stored
// version still matches, otherwise the commit fails with ErrVersionConflict.
type Mutation struct {
	AccountID       string
	BalanceDelta    decimal.Decimal
	HeldDelta       decimal.Decimal
	ExpectedVersion int64
}

// Finalization moves a pending entry to its terminal status.
type Finalization struct {
	EntryID string
	Status  EntryStatus
}

// HoldTransition moves a pending transfer between states with CAS semantics:
// the transition only applies if the stored state equals From.
type HoldTransition struct {
	ID   string
	From HoldState
	To   HoldState
}

// Change is the atomic commit unit. Every element either applies together or
// nothing applies: balance mutations, entry appends, entry finalizations and
// pending transfer rows all land in one transaction. Implementations must
// reject the whole change when any mutation would drive a balance negative,
// push held above balance, or miss its expected version.
type Change struct {
	Mutations   []Mutation
	Appends     []Entry
	Finalize    []Finalization
	Transitions []HoldTransition
	CreateHolds []PendingTransfer
}

// Store is the persistence contract shared by the engine and the pending
// transfer manager. Backends: Postgres for production, memory for tests and
// development.
type Store interface {
	// GetAccount returns the account, provisioning a zero-balance row on
	// first reference. It never reports an unknown ID.
	GetAccount(ctx context.Context, id string) (Account, error)

	// CreateAccount explicitly provisions an account with an initial balance,
	// returning ErrAccountExists when the ID is already present. The opening
	// entries land in the same commit as the account row, so a created balance
	// is never observable without its log.
	CreateAccount(ctx context.Context, id string, initial decimal.Decimal, opening []Entry) (Account, error)

	// Apply commits a Change atomically.
	Apply(ctx context.Context, change Change) error

	// ListEntries returns an account's log, newest first.
	ListEntries(ctx context.Context, accountID string, filter EntryFilter) ([]Entry, error)

	// GetEntry fetches a single entry by ID.
	GetEntry(ctx context.Context, id string) (Entry, error)

	// GetHold fetches a pending transfer by ID.
	GetHold(ctx context.Context, id string) (PendingTransfer, error)

	// ListOpenHolds returns held transfers where the account is either side.
	ListOpenHolds(ctx context.Context, accountID string) ([]PendingTransfer, error)

	// ListExpiredHolds returns held transfers whose deadline passed at asOf.
	ListExpiredHolds(ctx context.Context, asOf time.Time) ([]PendingTransfer, error)
}
