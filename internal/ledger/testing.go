package ledger

import "github.com/shopspring/decimal"

// SeedBalance is a test helper that sets an account balance directly when
// using the in-memory store.
func SeedBalance(s Store, accountID string, balance decimal.Decimal) {
	if mem, ok := s.(*memoryStore); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		acct := mem.provision(accountID, decimal.Zero)
		acct.Balance = balance
		mem.accounts[accountID] = acct
	}
}
