package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"EscrowCore/internal/escrow"
	"EscrowCore/internal/ledger"
	"EscrowCore/internal/registry"
)

// load reads one escrow and reconciles it against the ledger before any
// caller acts on it. Reconciliation runs on every load:
//
//   - a PendingFunding record whose vault already holds the gross amount
//     is repaired to Funded (the deposit committed but the record write
//     was lost);
//   - a PendingFunding record past its funding window with an empty vault
//     lapses to Failed;
//   - any other divergence between record and vault halts the escrow.
//
// Expiry is lazy: there is no background sweeper, the deadline is enforced
// here on access.
func (o *Orchestrator) load(ctx context.Context, id uuid.UUID) (*escrow.Record, error) {
	if halt := o.haltedErr(id); halt != nil {
		return nil, halt
	}

	rec, err := o.reg.Get(ctx, id)
	if err != nil {
		return nil, o.mapRegistryErr(err)
	}

	bal, err := o.led.Balance(ctx, ledger.VaultAccount(rec.VaultAddress))
	if err != nil {
		return nil, escrow.WrapError(escrow.CodeLedgerFailure, "read vault balance", err)
	}

	switch {
	case rec.Status == escrow.StatusPendingFunding && bal >= rec.GrossAmount:
		return o.repairToFunded(ctx, rec)

	case rec.Status == escrow.StatusPendingFunding && bal > 0:
		return nil, o.haltDivergence(rec, bal, "vault holds a partial deposit")

	case rec.Status == escrow.StatusPendingFunding && escrow.FundingLapsed(rec, o.now()):
		return o.lapse(ctx, rec)

	case rec.Status == escrow.StatusFunded && bal != rec.GrossAmount:
		return o.confirmFundedDivergence(ctx, rec, bal)

	case rec.Status.Terminal() && bal != 0:
		return nil, o.haltDivergence(rec, bal, "terminal escrow left value in the vault")
	}

	return rec, nil
}

// repairToFunded finishes an interrupted funding: the transfer committed,
// the record did not advance.
func (o *Orchestrator) repairToFunded(ctx context.Context, rec *escrow.Record) (*escrow.Record, error) {
	updated, err := o.cas(ctx, rec.EscrowID, escrow.StatusPendingFunding, escrow.StatusFunded,
		func(r *escrow.Record) error {
			if r.FundingRef == "" {
				r.FundingRef = "reconciled"
			}
			return nil
		})
	if err != nil {
		if errors.Is(err, registry.ErrConflict) {
			// Another process repaired it first.
			current, gerr := o.reg.Get(ctx, rec.EscrowID)
			if gerr != nil {
				return nil, o.mapRegistryErr(gerr)
			}
			return current, nil
		}
		return nil, escrow.WrapError(escrow.CodeReconciliation, "repair to funded failed", err)
	}

	if o.metrics != nil {
		o.metrics.ReconcileRepairs.Inc()
	}
	o.log.Warn().
		Str("escrow_id", rec.EscrowID.String()).
		Msg("repaired escrow: deposit committed without a record transition")
	o.emit(EventRepaired, updated, updated.FundingRef)
	return updated, nil
}

// lapse moves an unfunded escrow past its deadline to Failed. Nothing was
// ever held, so no refund leg exists.
func (o *Orchestrator) lapse(ctx context.Context, rec *escrow.Record) (*escrow.Record, error) {
	updated, err := o.cas(ctx, rec.EscrowID, escrow.StatusPendingFunding, escrow.StatusFailed, nil)
	if err != nil {
		if errors.Is(err, registry.ErrConflict) {
			current, gerr := o.reg.Get(ctx, rec.EscrowID)
			if gerr != nil {
				return nil, o.mapRegistryErr(gerr)
			}
			return current, nil
		}
		return nil, escrow.WrapError(escrow.CodeReconciliation, "expire escrow failed", err)
	}

	if o.metrics != nil {
		o.metrics.ExpiredEscrows.Inc()
	}
	o.log.Info().
		Str("escrow_id", rec.EscrowID.String()).
		Time("expired_at", rec.ExpiresAt).
		Msg("escrow funding window lapsed")
	o.emit(EventExpired, updated, "")
	return updated, nil
}

// confirmFundedDivergence re-reads the record before halting a Funded
// escrow whose vault balance is off. A settlement in another process
// empties the vault before its record write commits, so a read taken in
// that window pairs a stale Funded record with an already-drained vault.
// If the status has since advanced the record was stale, not divergent,
// and reconciliation restarts against the current state.
func (o *Orchestrator) confirmFundedDivergence(ctx context.Context, rec *escrow.Record, bal int64) (*escrow.Record, error) {
	current, err := o.reg.Get(ctx, rec.EscrowID)
	if err != nil {
		return nil, o.mapRegistryErr(err)
	}
	if current.Status != escrow.StatusFunded {
		return o.load(ctx, rec.EscrowID)
	}
	return nil, o.haltDivergence(current, bal, "funded vault does not hold the gross amount")
}

func (o *Orchestrator) haltDivergence(rec *escrow.Record, bal int64, what string) error {
	halt := escrow.NewError(escrow.CodeReconciliation,
		fmt.Sprintf("%s (status=%s vault=%d gross=%d); escrow halted", what, rec.Status, bal, rec.GrossAmount))
	o.setHalted(rec.EscrowID, halt)
	o.log.Error().
		Str("escrow_id", rec.EscrowID.String()).
		Str("status", rec.Status.String()).
		Int64("vault_balance", bal).
		Int64("gross", rec.GrossAmount).
		Msg("ledger and registry disagree; escrow halted")
	return halt
}
