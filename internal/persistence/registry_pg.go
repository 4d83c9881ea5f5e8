package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"EscrowCore/internal/escrow"
	"EscrowCore/internal/registry"
)

// PostgresRegistry is the durable Registry. Transition takes a row lock,
// re-checks the expected status under the lock, writes the updated record
// and appends the transition log entry in the same transaction. That makes
// the compare-and-swap exact across processes: whoever commits first wins,
// the loser observes the mismatch and gets ErrConflict.
type PostgresRegistry struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresRegistry(db *sql.DB) *PostgresRegistry {
	return &PostgresRegistry{db: db, now: time.Now}
}

const escrowColumns = `escrow_id, vault_address, buyer, seller, listing_ref,
	gross_amount, fee_basis_points, fee, net_amount, status,
	funding_ref, release_ref, cancel_ref, created_at, updated_at, expires_at`

func (r *PostgresRegistry) Open(ctx context.Context, rec *escrow.Record) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin open tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO escrow.escrows (`+escrowColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		rec.EscrowID, rec.VaultAddress, rec.Buyer, rec.Seller, rec.ListingRef,
		rec.GrossAmount, rec.FeeBasisPoints, rec.Fee, rec.NetAmount, rec.Status.String(),
		rec.FundingRef, rec.ReleaseRef, rec.CancelRef, rec.CreatedAt, rec.UpdatedAt, rec.ExpiresAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return registry.ErrDuplicate
		}
		return fmt.Errorf("insert escrow: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO escrow.transitions (entry_id, escrow_id, from_status, to_status, ref, at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New(), rec.EscrowID, rec.Status.String(), rec.Status.String(), "", r.now(),
	)
	if err != nil {
		return fmt.Errorf("record open transition: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit open: %w", err)
	}
	return nil
}

func (r *PostgresRegistry) Get(ctx context.Context, id uuid.UUID) (*escrow.Record, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+escrowColumns+` FROM escrow.escrows WHERE escrow_id = $1`, id)
	return scanRecord(row)
}

func (r *PostgresRegistry) Transition(ctx context.Context, id uuid.UUID, expected, next escrow.Status,
	mutate func(rec *escrow.Record) error) (*escrow.Record, error) {

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transition tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+escrowColumns+` FROM escrow.escrows WHERE escrow_id = $1 FOR UPDATE`, id)
	rec, err := scanRecord(row)
	if err != nil {
		return nil, err
	}
	if rec.Status != expected {
		return nil, registry.ErrConflict
	}

	rec.Status = next
	at := r.now()
	if at.After(rec.UpdatedAt) {
		rec.UpdatedAt = at
	}
	if mutate != nil {
		if err := mutate(rec); err != nil {
			return nil, err
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE escrow.escrows
		SET status = $2, funding_ref = $3, release_ref = $4, cancel_ref = $5, updated_at = $6
		WHERE escrow_id = $1`,
		id, rec.Status.String(), rec.FundingRef, rec.ReleaseRef, rec.CancelRef, rec.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("update escrow: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO escrow.transitions (entry_id, escrow_id, from_status, to_status, ref, at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New(), id, expected.String(), next.String(), transitionRef(rec, next), rec.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("record transition: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transition: %w", err)
	}
	return rec, nil
}

func (r *PostgresRegistry) ListByBuyer(ctx context.Context, buyer string) ([]*escrow.Record, error) {
	return r.list(ctx, "buyer", buyer)
}

func (r *PostgresRegistry) ListBySeller(ctx context.Context, seller string) ([]*escrow.Record, error) {
	return r.list(ctx, "seller", seller)
}

func (r *PostgresRegistry) list(ctx context.Context, column, party string) ([]*escrow.Record, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+escrowColumns+` FROM escrow.escrows WHERE `+column+` = $1 ORDER BY created_at DESC`,
		party)
	if err != nil {
		return nil, fmt.Errorf("list by %s: %w", column, err)
	}
	defer rows.Close()

	var out []*escrow.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *PostgresRegistry) Log(ctx context.Context, id uuid.UUID) ([]registry.TransitionEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT entry_id, escrow_id, from_status, to_status, ref, at
		FROM escrow.transitions WHERE escrow_id = $1 ORDER BY at, entry_id`, id)
	if err != nil {
		return nil, fmt.Errorf("read transition log: %w", err)
	}
	defer rows.Close()

	var entries []registry.TransitionEntry
	for rows.Next() {
		var e registry.TransitionEntry
		var from, to string
		if err := rows.Scan(&e.EntryID, &e.EscrowID, &from, &to, &e.Ref, &e.At); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		e.From, _ = escrow.ParseStatus(from)
		e.To, _ = escrow.ParseStatus(to)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*escrow.Record, error) {
	var rec escrow.Record
	var status string
	err := row.Scan(
		&rec.EscrowID, &rec.VaultAddress, &rec.Buyer, &rec.Seller, &rec.ListingRef,
		&rec.GrossAmount, &rec.FeeBasisPoints, &rec.Fee, &rec.NetAmount, &status,
		&rec.FundingRef, &rec.ReleaseRef, &rec.CancelRef, &rec.CreatedAt, &rec.UpdatedAt, &rec.ExpiresAt,
	)
	if err == sql.ErrNoRows {
		return nil, registry.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan escrow: %w", err)
	}

	st, ok := escrow.ParseStatus(status)
	if !ok {
		return nil, fmt.Errorf("unknown stored status %q", status)
	}
	rec.Status = st
	return &rec, nil
}

// transitionRef picks the audit reference recorded alongside a transition.
func transitionRef(rec *escrow.Record, to escrow.Status) string {
	switch to {
	case escrow.StatusFunded:
		return rec.FundingRef
	case escrow.StatusReleased:
		return rec.ReleaseRef
	case escrow.StatusCancelled:
		return rec.CancelRef
	default:
		return ""
	}
}
