package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// PostgresLedger persists ledger entries in PostgreSQL ensuring double-entry balance.
type PostgresLedger struct {
	db *pgxpool.Pool
}

// NewPostgresLedger constructs a Postgres-backed ledger implementation.
func NewPostgresLedger(db *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// EnsureAccount guarantees an account exists for the provided code.
func (l *PostgresLedger) EnsureAccount(ctx context.Context, code string) error {
	_, err := l.db.Exec(ctx, `INSERT INTO accounts (id, code) VALUES ($1, $2)
        ON CONFLICT (code) DO NOTHING`, uuid.New(), code)
	return err
}

// Balance returns the summed balance for the specified account code.
func (l *PostgresLedger) Balance(ctx context.Context, code string) (int64, error) {
	const query = `
        SELECT a.id, COALESCE(SUM(e.amount), 0)
        FROM accounts a
        LEFT JOIN entries e ON e.account_id = a.id
        WHERE a.code = $1
        GROUP BY a.id`
	var (
		id      uuid.UUID
		balance int64
	)
	if err := l.db.QueryRow(ctx, query, code).Scan(&id, &balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if AllowsOverdraft(code) {
				return 0, nil
			}
			return 0, fmt.Errorf("account %s: %w", code, ErrAccountNotFound)
		}
		return 0, err
	}
	return balance, nil
}

// Transfer records a balanced posting between two accounts.
func (l *PostgresLedger) Transfer(ctx context.Context, fromCode, toCode, kind, clientTxID string, amount int64) (TransactionResult, error) {
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

// Post records every leg in a single database transaction. Account rows are
// locked in code order; balances are recomputed from entries.
func (l *PostgresLedger) Post(ctx context.Context, kind, clientTxID string, legs ...Leg) (PostingResult, error) {
	if err := validateLegs(legs); err != nil {
		return PostingResult{}, err
	}

	codes := accountCodes(legs)
	for _, code := range codes {
		if AllowsOverdraft(code) {
			if err := l.EnsureAccount(ctx, code); err != nil {
				return PostingResult{}, err
			}
		}
	}

	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return PostingResult{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	ids := make(map[string]uuid.UUID, len(codes))
	for _, code := range codes {
		id, err := accountIDForCode(ctx, tx, code)
		if err != nil {
			return PostingResult{}, err
		}
		ids[code] = id
	}

	const existingTxQuery = `SELECT id FROM transactions WHERE client_tx_id = $1 AND kind = $2`
	var existingTxID uuid.UUID
	if err := tx.QueryRow(ctx, existingTxQuery, clientTxID, kind).Scan(&existingTxID); err == nil {
		balances, err := balancesFor(ctx, tx, ids)
		if err != nil {
			return PostingResult{}, err
		}
		return PostingResult{TransactionID: existingTxID.String(), Balances: balances}, ErrDuplicateTransaction
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return PostingResult{}, err
	}

	deltas := netDeltas(legs)
	for code, delta := range deltas {
		if delta >= 0 || AllowsOverdraft(code) {
			continue
		}
		balance, err := balanceForAccount(ctx, tx, ids[code])
		if err != nil {
			return PostingResult{}, err
		}
		if balance+delta < 0 {
			return PostingResult{}, ErrInsufficientFunds
		}
	}

	txID := uuid.New()
	if _, err := tx.Exec(ctx, `INSERT INTO transactions (id, client_tx_id, kind, status, created_at) VALUES ($1, $2, $3, $4, $5)`,
		txID, clientTxID, kind, "completed", time.Now().UTC()); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return PostingResult{}, ErrDuplicateTransaction
		}
		return PostingResult{}, err
	}

	const insertEntry = `INSERT INTO entries (id, transaction_id, account_id, counterparty, amount) VALUES ($1, $2, $3, $4, $5)`
	for _, leg := range legs {
		if _, err := tx.Exec(ctx, insertEntry, uuid.New(), txID, ids[leg.From], leg.To, -leg.Amount); err != nil {
			return PostingResult{}, err
		}
		if _, err := tx.Exec(ctx, insertEntry, uuid.New(), txID, ids[leg.To], leg.From, leg.Amount); err != nil {
			return PostingResult{}, err
		}
	}

	balances, err := balancesFor(ctx, tx, ids)
	if err != nil {
		return PostingResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return PostingResult{}, err
	}

	return PostingResult{TransactionID: txID.String(), Balances: balances}, nil
}

// CashIn credits a wallet from agent cash suspense.
func (l *PostgresLedger) CashIn(ctx context.Context, walletCode, clientTxID string, amount int64) (CashResult, error) {
	return l.cash(ctx, KindCashIn, walletCode, clientTxID, amount)
}

// CashOut debits a wallet into agent cash suspense.
func (l *PostgresLedger) CashOut(ctx context.Context, walletCode, clientTxID string, amount int64) (CashResult, error) {
	return l.cash(ctx, KindCashOut, walletCode, clientTxID, amount)
}

func (l *PostgresLedger) cash(ctx context.Context, kind, walletCode, clientTxID string, amount int64) (CashResult, error) {
	res, err := l.Post(ctx, kind, clientTxID, cashLeg(kind, walletCode, amount))
	if res.TransactionID == "" {
		return CashResult{}, err
	}
	return CashResult{TransactionID: res.TransactionID, WalletBalance: res.Balances[walletCode]}, err
}

// History lists the newest entries posted to an account.
func (l *PostgresLedger) History(ctx context.Context, code string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
        SELECT t.id, t.kind, e.counterparty, e.amount, t.created_at
        FROM entries e
        INNER JOIN accounts a ON a.id = e.account_id
        INNER JOIN transactions t ON t.id = e.transaction_id
        WHERE a.code = $1
        ORDER BY t.created_at DESC, e.id DESC
        LIMIT $2`
	rows, err := l.db.Query(ctx, query, code, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			txID uuid.UUID
			e    Entry
		)
		if err := rows.Scan(&txID, &e.Kind, &e.Counterparty, &e.Amount, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.TransactionID = txID.String()
		e.Account = code
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func accountIDForCode(ctx context.Context, tx pgx.Tx, code string) (uuid.UUID, error) {
	const query = `SELECT id FROM accounts WHERE code = $1 FOR UPDATE`
	var id uuid.UUID
	if err := tx.QueryRow(ctx, query, code).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, fmt.Errorf("account %s: %w", code, ErrAccountNotFound)
		}
		return uuid.Nil, err
	}
	return id, nil
}

func balanceForAccount(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) (int64, error) {
	const query = `SELECT COALESCE(SUM(amount), 0) FROM entries WHERE account_id = $1`
	var balance int64
	if err := tx.QueryRow(ctx, query, accountID).Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return balance, nil
}

func balancesFor(ctx context.Context, tx pgx.Tx, ids map[string]uuid.UUID) (map[string]int64, error) {
	out := make(map[string]int64, len(ids))
	for code, id := range ids {
		balance, err := balanceForAccount(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		out[code] = balance
	}
	return out, nil
}
