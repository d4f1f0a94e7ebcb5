package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

type memoryStore struct {
	mu        sync.Mutex
	accounts  map[string]Account
	entries   map[string]Entry
	byAccount map[string][]string
	holds     map[string]PendingTransfer
}

// NewMemoryStore creates a concurrency-safe in-memory store used by unit
// tests and local development without a database.
func NewMemoryStore() Store {
	return &memoryStore{
		accounts:  make(map[string]Account),
		entries:   make(map[string]Entry),
		byAccount: make(map[string][]string),
		holds:     make(map[string]PendingTransfer),
	}
}

func (s *memoryStore) GetAccount(_ context.Context, id string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.provision(id, decimal.Zero), nil
}

func (s *memoryStore) CreateAccount(_ context.Context, id string, initial decimal.Decimal, opening []Entry) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[id]; exists {
		return Account{}, ErrAccountExists
	}
	acct := s.provision(id, initial)
	for _, e := range opening {
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now().UTC()
		}
		s.entries[e.ID] = e
		s.byAccount[e.AccountID] = append(s.byAccount[e.AccountID], e.ID)
	}
	return acct, nil
}

// provision inserts a fresh account row. Caller holds the lock.
func (s *memoryStore) provision(id string, initial decimal.Decimal) Account {
	if acct, exists := s.accounts[id]; exists {
		return acct
	}
	now := time.Now().UTC()
	acct := Account{
		ID:        id,
		Balance:   initial,
		Held:      decimal.Zero,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.accounts[id] = acct
	return acct
}

func (s *memoryStore) Apply(_ context.Context, change Change) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate everything before touching state so a failed change is a no-op.
	// Hold transitions go first: a change against an already-decided hold must
	// surface ErrInvalidState, not a balance failure.
	for _, t := range change.Transitions {
		hold, ok := s.holds[t.ID]
		if !ok {
			return ErrNotFound
		}
		if hold.State != t.From {
			return ErrInvalidState
		}
	}
	updated := make(map[string]Account, len(change.Mutations))
	for _, m := range change.Mutations {
		acct, ok := s.accounts[m.AccountID]
		if !ok {
			return ErrNotFound
		}
		if acct.Version != m.ExpectedVersion {
			return ErrVersionConflict
		}
		acct.Balance = acct.Balance.Add(m.BalanceDelta)
		acct.Held = acct.Held.Add(m.HeldDelta)
		if acct.Balance.IsNegative() || acct.Held.IsNegative() || acct.Held.GreaterThan(acct.Balance) {
			return ErrInsufficientFunds
		}
		acct.Version++
		acct.UpdatedAt = time.Now().UTC()
		updated[m.AccountID] = acct
	}
	for _, f := range change.Finalize {
		entry, ok := s.entries[f.EntryID]
		if !ok {
			return ErrNotFound
		}
		if entry.Status != StatusPending {
			return ErrInvalidState
		}
	}
	for _, ph := range change.CreateHolds {
		if _, exists := s.holds[ph.ID]; exists {
			return ErrInvalidState
		}
	}

	for id, acct := range updated {
		s.accounts[id] = acct
	}
	for _, e := range change.Appends {
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now().UTC()
		}
		s.entries[e.ID] = e
		s.byAccount[e.AccountID] = append(s.byAccount[e.AccountID], e.ID)
	}
	for _, f := range change.Finalize {
		entry := s.entries[f.EntryID]
		entry.Status = f.Status
		s.entries[f.EntryID] = entry
	}
	for _, t := range change.Transitions {
		hold := s.holds[t.ID]
		hold.State = t.To
		s.holds[t.ID] = hold
	}
	for _, ph := range change.CreateHolds {
		s.holds[ph.ID] = ph
	}
	return nil
}

func (s *memoryStore) ListEntries(_ context.Context, accountID string, filter EntryFilter) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.byAccount[accountID]
	out := make([]Entry, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		entry := s.entries[ids[i]]
		if !filter.Matches(entry) {
			continue
		}
		out = append(out, entry)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *memoryStore) GetEntry(_ context.Context, id string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return entry, nil
}

func (s *memoryStore) GetHold(_ context.Context, id string) (PendingTransfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hold, ok := s.holds[id]
	if !ok {
		return PendingTransfer{}, ErrNotFound
	}
	return hold, nil
}

func (s *memoryStore) ListOpenHolds(_ context.Context, accountID string) ([]PendingTransfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []PendingTransfer
	for _, hold := range s.holds {
		if hold.State != HoldHeld {
			continue
		}
		if hold.FromAccountID == accountID || hold.ToAccountID == accountID {
			out = append(out, hold)
		}
	}
	sortHolds(out)
	return out, nil
}

func (s *memoryStore) ListExpiredHolds(_ context.Context, asOf time.Time) ([]PendingTransfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []PendingTransfer
	for _, hold := range s.holds {
		if hold.State == HoldHeld && hold.Expired(asOf) {
			out = append(out, hold)
		}
	}
	sortHolds(out)
	return out, nil
}

func sortHolds(holds []PendingTransfer) {
	sort.Slice(holds, func(i, j int) bool {
		return holds[i].CreatedAt.Before(holds[j].CreatedAt)
	})
}
