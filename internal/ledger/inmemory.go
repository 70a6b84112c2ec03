package ledger

import (
	"context"
	"sync"
	"time"
)

type inMemoryLedger struct {
	mu           sync.RWMutex
	balances     map[string]int64
	transactions map[string]PostingResult
	entries      []Entry
	now          func() time.Time
}

// NewInMemory creates a concurrency-safe in-memory ledger useful for unit tests.
func NewInMemory() Ledger {
	return &inMemoryLedger{
		balances:     make(map[string]int64),
		transactions: make(map[string]PostingResult),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (l *inMemoryLedger) EnsureAccount(_ context.Context, code string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.balances[code]; !exists {
		l.balances[code] = 0
	}
	return nil
}

func (l *inMemoryLedger) Balance(_ context.Context, code string) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	balance, exists := l.balances[code]
	if !exists {
		if AllowsOverdraft(code) {
			return 0, nil
		}
		return 0, ErrAccountNotFound
	}
	return balance, nil
}

func (l *inMemoryLedger) Transfer(ctx context.Context, fromCode, toCode, kind, clientTxID string, amount int64) (TransactionResult, error) {
	res, err := l.Post(ctx, kind, clientTxID, Leg{From: fromCode, To: toCode, Amount: amount})
	if res.TransactionID == "" {
		return TransactionResult{}, err
	}
	return TransactionResult{
		TransactionID: res.TransactionID,
		FromBalance:   res.Balances[fromCode],
		ToBalance:     res.Balances[toCode],
	}, err
}

func (l *inMemoryLedger) Post(_ context.Context, kind, clientTxID string, legs ...Leg) (PostingResult, error) {
	if err := validateLegs(legs); err != nil {
		return PostingResult{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := kind + ":" + clientTxID
	if res, exists := l.transactions[key]; exists {
		return res, ErrDuplicateTransaction
	}

	codes := accountCodes(legs)
	for _, code := range codes {
		if _, ok := l.balances[code]; !ok {
			if !AllowsOverdraft(code) {
				return PostingResult{}, ErrAccountNotFound
			}
			l.balances[code] = 0
		}
	}

	deltas := netDeltas(legs)
	for code, delta := range deltas {
		if delta < 0 && !AllowsOverdraft(code) && l.balances[code]+delta < 0 {
			return PostingResult{}, ErrInsufficientFunds
		}
	}

	at := l.now()
	for _, leg := range legs {
		l.entries = append(l.entries,
			Entry{TransactionID: key, Kind: kind, Account: leg.From, Counterparty: leg.To, Amount: -leg.Amount, CreatedAt: at},
			Entry{TransactionID: key, Kind: kind, Account: leg.To, Counterparty: leg.From, Amount: leg.Amount, CreatedAt: at},
		)
	}

	res := PostingResult{TransactionID: key, Balances: make(map[string]int64, len(codes))}
	for _, code := range codes {
		l.balances[code] += deltas[code]
		res.Balances[code] = l.balances[code]
	}

	l.transactions[key] = res
	return res, nil
}

func (l *inMemoryLedger) CashIn(ctx context.Context, walletCode, clientTxID string, amount int64) (CashResult, error) {
	return l.cash(ctx, KindCashIn, walletCode, clientTxID, amount)
}

func (l *inMemoryLedger) CashOut(ctx context.Context, walletCode, clientTxID string, amount int64) (CashResult, error) {
	return l.cash(ctx, KindCashOut, walletCode, clientTxID, amount)
}

func (l *inMemoryLedger) cash(ctx context.Context, kind, walletCode, clientTxID string, amount int64) (CashResult, error) {
	res, err := l.Post(ctx, kind, clientTxID, cashLeg(kind, walletCode, amount))
	if res.TransactionID == "" {
		return CashResult{}, err
	}
	return CashResult{TransactionID: res.TransactionID, WalletBalance: res.Balances[walletCode]}, err
}

func (l *inMemoryLedger) History(_ context.Context, code string, limit int) ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, ok := l.balances[code]; !ok {
		return nil, ErrAccountNotFound
	}
	var out []Entry
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].Account != code {
			continue
		}
		out = append(out, l.entries[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
