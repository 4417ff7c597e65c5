package ledger

import "math/big"

// SeedEntry is a test helper that sets an account's balances directly when
// using the in-memory tracker.
func SeedEntry(t BalanceTracker, accountID string, clearing, prepaid int64) {
	if mem, ok := t.(*inMemoryTracker); ok {
		st := mem.state(accountID)
		st.mu.Lock()
		defer st.mu.Unlock()
		st.clearing.Set(big.NewInt(clearing))
		st.prepaid.Set(big.NewInt(prepaid))
	}
}
