package ledger

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidAmount occurs when an operation amount is zero, negative or unparsable.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInsufficientFunds occurs when the source account lacks available
	// (non-held) balance to cover a requested posting.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrSameAccount indicates a transfer where source and destination match.
	ErrSameAccount = errors.New("source and destination accounts are the same")

	// ErrAccountExists indicates an explicit provisioning call for an account
	// that already exists.
	ErrAccountExists = errors.New("account already exists")

	// ErrNotFound indicates a missing entry or pending transfer.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState indicates a pending transfer transition from a state
	// other than held, or a finalization of a non-pending entry.
	ErrInvalidState = errors.New("invalid state")

	// ErrVersionConflict indicates a concurrent writer advanced an account
	// version between read and commit. Callers retry.
	ErrVersionConflict = errors.New("version conflict")

	// ErrRetryExhausted surfaces after the optimistic retry budget is spent.
	ErrRetryExhausted = errors.New("retry budget exhausted, try again later")

	// ErrTransferFailed reports a pending transfer whose commit could not be
	// applied; the hold has been released.
	ErrTransferFailed = errors.New("transfer failed")
)

// EntryType categorizes a ledger entry. Direction is derived from the type
// (and, for transfer legs, from the leg itself), never from the amount sign.
type EntryType string

const (
	EntryDeposit         EntryType = "deposit"
	EntryWithdrawal      EntryType = "withdrawal"
	EntryDebit           EntryType = "debit"
	EntryCredit          EntryType = "credit"
	EntryTransfer        EntryType = "transfer"
	EntryTransferHold    EntryType = "transfer_hold"
	EntryTransferCommit  EntryType = "transfer_commit"
	EntryTransferRelease EntryType = "transfer_release"
)

// MovesBalance reports whether entries of this type change the real balance.
// Hold and release entries only affect the held portion.
func (t EntryType) MovesBalance() bool {
	switch t {
	case EntryTransferHold, EntryTransferRelease:
		return false
	}
	return true
}

// EntryStatus tracks the lifecycle of a ledger entry. Completed and failed
// are terminal; only pending entries may be finalized.
type EntryStatus string

const (
	StatusCompleted EntryStatus = "completed"
	StatusPending   EntryStatus = "pending"
	StatusFailed    EntryStatus = "failed"
)

// Direction indicates which way the amount moves for the entry's account.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Account is a balance-holding row keyed by user ID. Version advances on
// every mutation and backs the optimistic concurrency control.
type Account struct {
	ID        string
	Balance   decimal.Decimal
	Held      decimal.Decimal
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Available returns the spendable portion of the balance.
func (a Account) Available() decimal.Decimal {
	return a.Balance.Sub(a.Held)
}

// Snapshot is the balance view returned alongside every operation result.
type Snapshot struct {
	AccountID string          `json:"account_id"`
	Balance   decimal.Decimal `json:"balance"`
	Held      decimal.Decimal `json:"held_balance"`
	Available decimal.Decimal `json:"available"`
	AsOf      time.Time       `json:"as_of"`
}

// SnapshotOf builds a Snapshot from an account row.
func SnapshotOf(a Account) Snapshot {
	return Snapshot{
		AccountID: a.ID,
		Balance:   a.Balance,
		Held:      a.Held,
		Available: a.Available(),
		AsOf:      time.Now().UTC(),
	}
}

// Entry is an immutable transaction log record. Amount is always positive.
type Entry struct {
	ID             string          `json:"id"`
	Type           EntryType       `json:"type"`
	Status         EntryStatus     `json:"status"`
	AccountID      string          `json:"account_id"`
	CounterpartyID string          `json:"counterparty_id,omitempty"`
	Direction      Direction       `json:"direction"`
	Amount         decimal.Decimal `json:"amount"`
	Description    string          `json:"description,omitempty"`
	RelatedID      string          `json:"related_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// HoldState is the pending transfer state machine. Held is the only
// non-terminal state.
type HoldState string

const (
	HoldHeld     HoldState = "held"
	HoldAccepted HoldState = "accepted"
	HoldRejected HoldState = "rejected"
	HoldExpired  HoldState = "expired"
)

// PendingTransfer is a two-phase transfer awaiting an accept or reject
// decision. While held, Amount is reflected in the source account's held
// balance.
type PendingTransfer struct {
	ID            string          `json:"id"`
	FromAccountID string          `json:"from_account_id"`
	ToAccountID   string          `json:"to_account_id"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description,omitempty"`
	State         HoldState       `json:"state"`
	HoldEntryID   string          `json:"hold_entry_id"`
	CreatedAt     time.Time       `json:"created_at"`
	ExpiresAt     time.Time       `json:"expires_at"`
}

// Expired reports whether the hold is past its deadline at the given instant.
func (p PendingTransfer) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// FilterClass selects a slice of an account's history, mirroring the
// wallet client's filter tabs.
type FilterClass string

const (
	FilterAll       FilterClass = "all"
	FilterIncome    FilterClass = "income"
	FilterExpenses  FilterClass = "expenses"
	FilterTopups    FilterClass = "topups"
	FilterTransfers FilterClass = "transfers"
)

// Valid reports whether the class is one of the recognized filter tabs.
func (f FilterClass) Valid() bool {
	switch f {
	case "", FilterAll, FilterIncome, FilterExpenses, FilterTopups, FilterTransfers:
		return true
	}
	return false
}

// EntryFilter narrows ListEntries results.
type EntryFilter struct {
	Class  FilterClass
	Status EntryStatus
	Limit  int
}

// Matches reports whether the entry satisfies the filter.
func (f EntryFilter) Matches(e Entry) bool {
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	switch f.Class {
	case "", FilterAll:
		return true
	case FilterIncome:
		return e.Direction == DirectionIn && e.Status == StatusCompleted && e.Type.MovesBalance()
	case FilterExpenses:
		return e.Direction == DirectionOut && e.Status == StatusCompleted && e.Type.MovesBalance()
	case FilterTopups:
		return e.Type == EntryDeposit
	case FilterTransfers:
		switch e.Type {
		case EntryTransfer, EntryTransferHold, EntryTransferCommit, EntryTransferRelease:
			return true
		}
		return false
	default:
		return false
	}
}
