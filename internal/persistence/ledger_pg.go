package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"EscrowCore/internal/ledger"
)

// PostgresLedger is the durable Ledger. Every transfer runs in one
// transaction: balance rows are locked in a deterministic order, guards are
// checked against the locked balances, and the movement is recorded in an
// audit table. Either everything commits or nothing does.
type PostgresLedger struct {
	db *sql.DB
}

func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

func (l *PostgresLedger) Transfer(ctx context.Context, from, to ledger.AccountKey, amount int64, ref string) error {
	if amount <= 0 || from == to {
		return ledger.ErrInvalidTransfer
	}
	return l.TransferBatch(ctx, []ledger.Leg{{From: from, To: to, Amount: amount}}, ref)
}

func (l *PostgresLedger) TransferBatch(ctx context.Context, legs []ledger.Leg, ref string) error {
	if len(legs) == 0 {
		return ledger.ErrInvalidTransfer
	}
	for _, leg := range legs {
		if leg.Amount <= 0 || leg.From == leg.To {
			return ledger.ErrInvalidTransfer
		}
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transfer tx: %w", err)
	}
	defer tx.Rollback()

	balances, err := lockAccounts(ctx, tx, legs)
	if err != nil {
		return err
	}

	// Check and apply against the locked balances so a failing leg aborts
	// the whole batch before any write.
	for _, leg := range legs {
		if leg.From.Scope != ledger.ScopeExternal && balances[leg.From] < leg.Amount {
			return ledger.ErrInsufficientFunds
		}
		balances[leg.From] -= leg.Amount
		balances[leg.To] += leg.Amount
	}

	for key, bal := range balances {
		if _, err := tx.ExecContext(ctx,
			`UPDATE escrow.accounts SET balance = $3 WHERE scope = $1 AND account_id = $2`,
			key.Scope.String(), key.ID, bal,
		); err != nil {
			return fmt.Errorf("update balance %s: %w", key.AccountPath(), err)
		}
	}

	for _, leg := range legs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO escrow.transfers (from_scope, from_id, to_scope, to_id, amount, ref)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			leg.From.Scope.String(), leg.From.ID,
			leg.To.Scope.String(), leg.To.ID,
			leg.Amount, ref,
		); err != nil {
			return fmt.Errorf("record transfer: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transfer: %w", err)
	}
	return nil
}

func (l *PostgresLedger) Balance(ctx context.Context, acct ledger.AccountKey) (int64, error) {
	var bal int64
	err := l.db.QueryRowContext(ctx,
		`SELECT balance FROM escrow.accounts WHERE scope = $1 AND account_id = $2`,
		acct.Scope.String(), acct.ID,
	).Scan(&bal)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read balance %s: %w", acct.AccountPath(), err)
	}
	return bal, nil
}

// lockAccounts ensures a row exists for every account touched by the batch
// and locks the rows in sorted key order so concurrent batches cannot
// deadlock on each other.
func lockAccounts(ctx context.Context, tx *sql.Tx, legs []ledger.Leg) (map[ledger.AccountKey]int64, error) {
	seen := make(map[ledger.AccountKey]struct{}, len(legs)*2)
	keys := make([]ledger.AccountKey, 0, len(legs)*2)
	for _, leg := range legs {
		for _, k := range [2]ledger.AccountKey{leg.From, leg.To} {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				keys = append(keys, k)
			}
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].AccountPath() < keys[j].AccountPath()
	})

	balances := make(map[ledger.AccountKey]int64, len(keys))
	for _, key := range keys {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO escrow.accounts (scope, account_id, balance)
			VALUES ($1, $2, 0)
			ON CONFLICT (scope, account_id) DO NOTHING`,
			key.Scope.String(), key.ID,
		); err != nil {
			return nil, fmt.Errorf("ensure account %s: %w", key.AccountPath(), err)
		}

		var bal int64
		if err := tx.QueryRowContext(ctx,
			`SELECT balance FROM escrow.accounts WHERE scope = $1 AND account_id = $2 FOR UPDATE`,
			key.Scope.String(), key.ID,
		).Scan(&bal); err != nil {
			return nil, fmt.Errorf("lock account %s: %w", key.AccountPath(), err)
		}
		balances[key] = bal
	}
	return balances, nil
}
