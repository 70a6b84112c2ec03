package ledger

import "fmt"

// SeedBalance sets the balance of code on an in-memory ledger without
// writing entries, creating the account if needed. Tests use it to fund
// wallets. It panics for other implementations.
func SeedBalance(l Ledger, code string, amount int64) {
	mem, ok := l.(*inMemoryLedger)
	if !ok {
		panic(fmt.Sprintf("ledger: SeedBalance needs the in-memory ledger, got %T", l))
	}
	mem.mu.Lock()
	defer mem.mu.Unlock()
	mem.balances[code] = amount
}
