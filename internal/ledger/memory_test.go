package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestMemoryStoreLazyProvision(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	acct, err := store.GetAccount(ctx, "never-seen")
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if !acct.Balance.IsZero() || acct.Version != 1 {
		t.Fatalf("unexpected fresh account: %+v", acct)
	}
}

func TestMemoryStoreCreateAccountWithOpeningEntry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	opening := Entry{
		ID: uuid.NewString(), Type: EntryDeposit, Status: StatusCompleted,
		AccountID: "alice", Direction: DirectionIn, Amount: dec("25.00"),
		Description: "opening balance",
	}
	acct, err := store.CreateAccount(ctx, "alice", dec("25.00"), []Entry{opening})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	if !acct.Balance.Equal(dec("25.00")) {
		t.Fatalf("balance = %s, want 25.00", acct.Balance)
	}
	entries, err := store.ListEntries(ctx, "alice", EntryFilter{})
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != opening.ID {
		t.Fatalf("opening entry missing from log: %+v", entries)
	}

	// A duplicate create must not add another opening entry.
	if _, err := store.CreateAccount(ctx, "alice", dec("5.00"), []Entry{{
		ID: uuid.NewString(), Type: EntryDeposit, Status: StatusCompleted,
		AccountID: "alice", Direction: DirectionIn, Amount: dec("5.00"),
	}}); !errors.Is(err, ErrAccountExists) {
		t.Fatalf("expected account exists, got %v", err)
	}
	entries, _ = store.ListEntries(ctx, "alice", EntryFilter{})
	if len(entries) != 1 {
		t.Fatalf("duplicate create leaked entries: %d", len(entries))
	}
}

func TestMemoryStoreFailedChangeIsNoOp(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	SeedBalance(store, "a", dec("100.00"))
	SeedBalance(store, "b", dec("10.00"))

	a, _ := store.GetAccount(ctx, "a")
	b, _ := store.GetAccount(ctx, "b")

	// Second mutation drives b negative, so the whole change must roll back
	// even though the first mutation alone would have been fine.
	change := Change{
		Mutations: []Mutation{
			{AccountID: "a", BalanceDelta: dec("50.00"), ExpectedVersion: a.Version},
			{AccountID: "b", BalanceDelta: dec("-20.00"), ExpectedVersion: b.Version},
		},
		Appends: []Entry{{
			ID:        uuid.NewString(),
			Type:      EntryTransfer,
			Status:    StatusCompleted,
			AccountID: "a",
			Direction: DirectionIn,
			Amount:    dec("50.00"),
		}},
	}
	if err := store.Apply(ctx, change); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}

	a2, _ := store.GetAccount(ctx, "a")
	b2, _ := store.GetAccount(ctx, "b")
	if !a2.Balance.Equal(dec("100.00")) || !b2.Balance.Equal(dec("10.00")) {
		t.Fatalf("partial application leaked: a=%s b=%s", a2.Balance, b2.Balance)
	}
	if a2.Version != a.Version || b2.Version != b.Version {
		t.Fatalf("versions advanced on failed change")
	}
	entries, _ := store.ListEntries(ctx, "a", EntryFilter{})
	if len(entries) != 0 {
		t.Fatalf("failed change appended %d entries", len(entries))
	}
}

func TestMemoryStoreVersionConflict(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	SeedBalance(store, "a", dec("100.00"))
	acct, _ := store.GetAccount(ctx, "a")

	good := Change{Mutations: []Mutation{{AccountID: "a", BalanceDelta: dec("1.00"), ExpectedVersion: acct.Version}}}
	if err := store.Apply(ctx, good); err != nil {
		t.Fatalf("apply: %v", err)
	}

	stale := Change{Mutations: []Mutation{{AccountID: "a", BalanceDelta: dec("1.00"), ExpectedVersion: acct.Version}}}
	if err := store.Apply(ctx, stale); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
}

func TestMemoryStoreFinalizeOnlyPending(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	completed := Entry{
		ID: uuid.NewString(), Type: EntryDeposit, Status: StatusCompleted,
		AccountID: "a", Direction: DirectionIn, Amount: dec("5.00"),
	}
	pending := Entry{
		ID: uuid.NewString(), Type: EntryTransferHold, Status: StatusPending,
		AccountID: "a", Direction: DirectionOut, Amount: dec("5.00"),
	}
	if err := store.Apply(ctx, Change{Appends: []Entry{completed, pending}}); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if err := store.Apply(ctx, Change{Finalize: []Finalization{{EntryID: completed.ID, Status: StatusFailed}}}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("completed entry finalized: %v", err)
	}
	if err := store.Apply(ctx, Change{Finalize: []Finalization{{EntryID: pending.ID, Status: StatusCompleted}}}); err != nil {
		t.Fatalf("finalize pending: %v", err)
	}
	// Finalization is exactly-once.
	if err := store.Apply(ctx, Change{Finalize: []Finalization{{EntryID: pending.ID, Status: StatusFailed}}}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("entry finalized twice: %v", err)
	}
}

func TestMemoryStoreFilters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	appendEntry := func(entryType EntryType, dir Direction, status EntryStatus) {
		t.Helper()
		err := store.Apply(ctx, Change{Appends: []Entry{{
			ID: uuid.NewString(), Type: entryType, Status: status,
			AccountID: "a", Direction: dir, Amount: dec("1.00"),
			CreatedAt: time.Now().UTC(),
		}}})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	appendEntry(EntryDeposit, DirectionIn, StatusCompleted)
	appendEntry(EntryCredit, DirectionIn, StatusCompleted)
	appendEntry(EntryWithdrawal, DirectionOut, StatusCompleted)
	appendEntry(EntryDebit, DirectionOut, StatusCompleted)
	appendEntry(EntryTransfer, DirectionOut, StatusCompleted)
	appendEntry(EntryTransferHold, DirectionOut, StatusPending)

	cases := []struct {
		filter EntryFilter
		want   int
	}{
		{EntryFilter{}, 6},
		{EntryFilter{Class: FilterAll}, 6},
		{EntryFilter{Class: FilterIncome}, 2},
		{EntryFilter{Class: FilterExpenses}, 3},
		{EntryFilter{Class: FilterTopups}, 1},
		{EntryFilter{Class: FilterTransfers}, 2},
		{EntryFilter{Status: StatusPending}, 1},
		{EntryFilter{Limit: 3}, 3},
	}
	for _, tc := range cases {
		entries, err := store.ListEntries(ctx, "a", tc.filter)
		if err != nil {
			t.Fatalf("list %+v: %v", tc.filter, err)
		}
		if len(entries) != tc.want {
			t.Fatalf("filter %+v: expected %d entries, got %d", tc.filter, tc.want, len(entries))
		}
	}

	// Newest first.
	all, _ := store.ListEntries(ctx, "a", EntryFilter{})
	for i := 1; i < len(all); i++ {
		if all[i].CreatedAt.After(all[i-1].CreatedAt) {
			t.Fatalf("entries not reverse-chronological")
		}
	}
}

func TestMemoryStoreHoldTransitionCAS(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	hold := PendingTransfer{
		ID: uuid.NewString(), FromAccountID: "a", ToAccountID: "b",
		Amount: dec("5.00"), State: HoldHeld, HoldEntryID: uuid.NewString(),
		CreatedAt: time.Now().UTC(), ExpiresAt: time.Now().UTC().Add(time.Hour),
	}
	if err := store.Apply(ctx, Change{CreateHolds: []PendingTransfer{hold}}); err != nil {
		t.Fatalf("create hold: %v", err)
	}

	accept := Change{Transitions: []HoldTransition{{ID: hold.ID, From: HoldHeld, To: HoldAccepted}}}
	if err := store.Apply(ctx, accept); err != nil {
		t.Fatalf("transition: %v", err)
	}

	expire := Change{Transitions: []HoldTransition{{ID: hold.ID, From: HoldHeld, To: HoldExpired}}}
	if err := store.Apply(ctx, expire); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}

	stored, _ := store.GetHold(ctx, hold.ID)
	if stored.State != HoldAccepted {
		t.Fatalf("terminal state overwritten: %s", stored.State)
	}
}

func TestMemoryStoreTransitionCheckedBeforeMutations(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	SeedBalance(store, "a", dec("10.00"))
	acct, _ := store.GetAccount(ctx, "a")

	hold := PendingTransfer{
		ID: uuid.NewString(), FromAccountID: "a", ToAccountID: "b",
		Amount: dec("5.00"), State: HoldHeld, HoldEntryID: uuid.NewString(),
		CreatedAt: time.Now().UTC(), ExpiresAt: time.Now().UTC().Add(time.Hour),
	}
	if err := store.Apply(ctx, Change{CreateHolds: []PendingTransfer{hold}}); err != nil {
		t.Fatalf("create hold: %v", err)
	}
	decide := Change{Transitions: []HoldTransition{{ID: hold.ID, From: HoldHeld, To: HoldRejected}}}
	if err := store.Apply(ctx, decide); err != nil {
		t.Fatalf("transition: %v", err)
	}

	// A commit attempt against the decided hold carries mutations that would
	// also fail on their own; the decided state must win.
	stale := Change{
		Transitions: []HoldTransition{{ID: hold.ID, From: HoldHeld, To: HoldAccepted}},
		Mutations: []Mutation{{
			AccountID: "a", BalanceDelta: dec("-100.00"), ExpectedVersion: acct.Version,
		}},
	}
	if err := store.Apply(ctx, stale); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
}
