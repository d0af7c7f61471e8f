package token

// SeedBalance is a test helper that seeds an owner's balance when using the
// in-memory ledger.
func SeedBalance(l Ledger, ownerID string, amount int64) {
	if mem, ok := l.(*inMemoryLedger); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		if account, exists := mem.accounts[ownerID]; exists {
			account.Balance = amount
			return
		}
		mem.accounts[ownerID] = &Account{OwnerID: ownerID, Balance: amount}
	}
}

// FailNext is a test helper that makes the next call of the named operation
// on the in-memory ledger return err.
func FailNext(l Ledger, op string, err error) {
	if mem, ok := l.(*inMemoryLedger); ok {
		mem.failMu.Lock()
		defer mem.failMu.Unlock()
		mem.failures[op] = err
	}
}
