package holds

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/helia-care/walletd/internal/ledger"
	"github.com/helia-care/walletd/internal/logging"
	"github.com/helia-care/walletd/internal/notification"
)

type recordingNotifier struct {
	messages []notification.Message
}

func (n *recordingNotifier) Send(_ context.Context, msg notification.Message) error {
	n.messages = append(n.messages, msg)
	return nil
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newTestManager(ttl time.Duration) (*Manager, ledger.Store, *recordingNotifier) {
	store := ledger.NewMemoryStore()
	engine := ledger.NewEngine(store, logging.Discard())
	notifier := &recordingNotifier{}
	return NewManager(engine, notifier, logging.Discard(), ttl), store, notifier
}

func TestCreateAcceptLifecycle(t *testing.T) {
	mgr, store, notifier := newTestManager(time.Hour)
	ctx := context.Background()
	ledger.SeedBalance(store, "alice", dec("50.00"))

	hold, err := mgr.Create(ctx, "alice", "bob", dec("30.00"), "consultation")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if hold.State != ledger.HoldHeld {
		t.Fatalf("expected held state, got %s", hold.State)
	}
	if len(notifier.messages) != 1 || notifier.messages[0].Kind != notification.KindTransferRequested {
		t.Fatalf("expected transfer request notification, got %+v", notifier.messages)
	}

	alice, _ := store.GetAccount(ctx, "alice")
	if !alice.Held.Equal(dec("30.00")) || !alice.Balance.Equal(dec("50.00")) {
		t.Fatalf("hold not reflected: balance=%s held=%s", alice.Balance, alice.Held)
	}

	receipt, err := mgr.Accept(ctx, hold.ID)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if !receipt.From.Balance.Equal(dec("20.00")) || !receipt.From.Held.Equal(decimal.Zero) {
		t.Fatalf("unexpected sender snapshot: %+v", receipt.From)
	}
	if !receipt.To.Balance.Equal(dec("30.00")) {
		t.Fatalf("unexpected recipient balance: %s", receipt.To.Balance)
	}
	if len(notifier.messages) != 2 || notifier.messages[1].Kind != notification.KindTransferReceived {
		t.Fatalf("expected received notification, got %+v", notifier.messages)
	}

	// Exactly one completed transfer and no residual hold.
	entries, _ := store.ListEntries(ctx, "bob", ledger.EntryFilter{Class: ledger.FilterIncome})
	if len(entries) != 1 || entries[0].Type != ledger.EntryTransferCommit {
		t.Fatalf("expected one commit leg for bob, got %+v", entries)
	}
}

func TestCreateRejectReleasesHold(t *testing.T) {
	mgr, store, _ := newTestManager(time.Hour)
	ctx := context.Background()
	ledger.SeedBalance(store, "alice", dec("50.00"))

	hold, err := mgr.Create(ctx, "alice", "bob", dec("30.00"), "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	rejected, err := mgr.Reject(ctx, hold.ID)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.State != ledger.HoldRejected {
		t.Fatalf("expected rejected, got %s", rejected.State)
	}

	alice, _ := store.GetAccount(ctx, "alice")
	bob, _ := store.GetAccount(ctx, "bob")
	if !alice.Balance.Equal(dec("50.00")) || !alice.Held.IsZero() || !bob.Balance.IsZero() {
		t.Fatalf("reject changed balances: alice=%+v bob=%+v", alice, bob)
	}

	holdEntry, _ := store.GetEntry(ctx, hold.HoldEntryID)
	if holdEntry.Status != ledger.StatusFailed {
		t.Fatalf("hold entry should be failed, got %s", holdEntry.Status)
	}

	if _, err := mgr.Accept(ctx, hold.ID); !errors.Is(err, ledger.ErrInvalidState) {
		t.Fatalf("accept after reject: expected invalid state, got %v", err)
	}
}

func TestCreateInsufficientAvailable(t *testing.T) {
	mgr, store, _ := newTestManager(time.Hour)
	ctx := context.Background()
	ledger.SeedBalance(store, "alice", dec("50.00"))

	if _, err := mgr.Create(ctx, "alice", "bob", dec("40.00"), ""); err != nil {
		t.Fatalf("first hold: %v", err)
	}
	// Only 10.00 available now.
	if _, err := mgr.Create(ctx, "alice", "bob", dec("20.00"), ""); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
}

func TestSweepExpiresOverdueHolds(t *testing.T) {
	mgr, store, _ := newTestManager(-time.Minute) // already expired on creation
	ctx := context.Background()
	ledger.SeedBalance(store, "alice", dec("50.00"))

	hold, err := mgr.Create(ctx, "alice", "bob", dec("30.00"), "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	released, err := mgr.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if released != 1 {
		t.Fatalf("expected 1 released hold, got %d", released)
	}

	stored, _ := store.GetHold(ctx, hold.ID)
	if stored.State != ledger.HoldExpired {
		t.Fatalf("expected expired, got %s", stored.State)
	}
	alice, _ := store.GetAccount(ctx, "alice")
	if !alice.Held.IsZero() {
		t.Fatalf("held balance not released: %s", alice.Held)
	}

	// A late accept must not resurrect the hold.
	if _, err := mgr.Accept(ctx, hold.ID); !errors.Is(err, ledger.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
}

func TestLazyExpiryOnAccess(t *testing.T) {
	mgr, store, _ := newTestManager(-time.Minute)
	ctx := context.Background()
	ledger.SeedBalance(store, "alice", dec("50.00"))

	hold, err := mgr.Create(ctx, "alice", "bob", dec("30.00"), "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	fetched, err := mgr.Get(ctx, hold.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if fetched.State != ledger.HoldExpired {
		t.Fatalf("expected lazy expiry, got %s", fetched.State)
	}
	alice, _ := store.GetAccount(ctx, "alice")
	if !alice.Held.IsZero() {
		t.Fatalf("held balance not released: %s", alice.Held)
	}
}

func TestHeldBalanceMatchesOpenHolds(t *testing.T) {
	mgr, store, _ := newTestManager(time.Hour)
	ctx := context.Background()
	ledger.SeedBalance(store, "alice", dec("100.00"))

	first, err := mgr.Create(ctx, "alice", "bob", dec("25.00"), "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := mgr.Create(ctx, "alice", "carol", dec("10.00"), ""); err != nil {
		t.Fatalf("create: %v", err)
	}

	checkInvariant := func() {
		t.Helper()
		open, err := mgr.ListOpen(ctx, "alice")
		if err != nil {
			t.Fatalf("list open: %v", err)
		}
		sum := decimal.Zero
		for _, h := range open {
			if h.FromAccountID == "alice" {
				sum = sum.Add(h.Amount)
			}
		}
		alice, _ := store.GetAccount(ctx, "alice")
		if !alice.Held.Equal(sum) {
			t.Fatalf("held %s != sum of open holds %s", alice.Held, sum)
		}
	}

	checkInvariant()
	if _, err := mgr.Accept(ctx, first.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	checkInvariant()
}
