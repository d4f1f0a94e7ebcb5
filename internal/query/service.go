package query

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/helia-care/walletd/internal/ledger"
)

// Service answers read-only balance, history and summary lookups. It never
// mutates the ledger.
type Service struct {
	store ledger.Store
}

// NewService builds a query service over the shared store.
func NewService(store ledger.Store) *Service {
	return &Service{store: store}
}

// Summary aggregates an account's activity for the client's overview screen.
type Summary struct {
	AccountID        string           `json:"account_id"`
	Balance          decimal.Decimal  `json:"balance"`
	Held             decimal.Decimal  `json:"held_balance"`
	Available        decimal.Decimal  `json:"available"`
	TotalIn          decimal.Decimal  `json:"total_in"`
	TotalOut         decimal.Decimal  `json:"total_out"`
	TransactionCount int              `json:"transaction_count"`
	LastActivity     *time.Time       `json:"last_activity,omitempty"`
}

// Balance returns the account's balance snapshot.
func (s *Service) Balance(ctx context.Context, accountID string) (ledger.Snapshot, error) {
	acct, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return ledger.Snapshot{}, err
	}
	return ledger.SnapshotOf(acct), nil
}

// History returns the account's log, newest first, honoring the filter.
func (s *Service) History(ctx context.Context, accountID string, filter ledger.EntryFilter) ([]ledger.Entry, error) {
	return s.store.ListEntries(ctx, accountID, filter)
}

// Entry fetches a single log entry by ID.
func (s *Service) Entry(ctx context.Context, id string) (ledger.Entry, error) {
	return s.store.GetEntry(ctx, id)
}

// Summarize computes aggregate statistics from the account and its log.
func (s *Service) Summarize(ctx context.Context, accountID string) (Summary, error) {
	acct, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return Summary{}, err
	}
	entries, err := s.store.ListEntries(ctx, accountID, ledger.EntryFilter{})
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{
		AccountID:        accountID,
		Balance:          acct.Balance,
		Held:             acct.Held,
		Available:        acct.Available(),
		TotalIn:          decimal.Zero,
		TotalOut:         decimal.Zero,
		TransactionCount: len(entries),
	}
	for _, e := range entries {
		if e.Status != ledger.StatusCompleted || !e.Type.MovesBalance() {
			continue
		}
		switch e.Direction {
		case ledger.DirectionIn:
			summary.TotalIn = summary.TotalIn.Add(e.Amount)
		case ledger.DirectionOut:
			summary.TotalOut = summary.TotalOut.Add(e.Amount)
		}
	}
	if len(entries) > 0 {
		last := entries[0].CreatedAt // newest first
		summary.LastActivity = &last
	}
	return summary, nil
}
