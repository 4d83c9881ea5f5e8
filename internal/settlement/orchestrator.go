package settlement

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"EscrowCore/internal/escrow"
	"EscrowCore/internal/ledger"
	"EscrowCore/internal/observability"
	"EscrowCore/internal/registry"
	"EscrowCore/internal/vault"
)

// Orchestrator coordinates the registry, the ledger and the state machine
// so every settlement operation behaves as a single atomic unit. It is the
// only writer of escrow state: registry transitions and ledger transfers
// happen nowhere else.
//
// Within one process a per-escrow lock linearizes operations on the same
// escrow; the registry's compare-and-swap is the backstop against writers
// in other processes.
type Orchestrator struct {
	cfg     Config
	reg     registry.Registry
	led     ledger.Ledger
	log     zerolog.Logger
	metrics *observability.Metrics

	locks *escrowLocks
	feed  chan TransitionEvent
	now   func() time.Time

	// halted holds escrows whose ledger and registry views disagree in a
	// way reconciliation cannot repair. Every operation on a halted
	// escrow fails until an operator clears it.
	haltedMu sync.RWMutex
	halted   map[uuid.UUID]*escrow.Error
}

const defaultFundingWindow = 72 * time.Hour

// New wires an orchestrator. metrics may be nil (tests).
func New(cfg Config, reg registry.Registry, led ledger.Ledger, log zerolog.Logger, metrics *observability.Metrics) *Orchestrator {
	if cfg.FundingWindow <= 0 {
		cfg.FundingWindow = defaultFundingWindow
	}
	if cfg.FeeSinkAddress == "" {
		cfg.FeeSinkAddress = vault.FeeSink()
	}
	if cfg.FeedBuffer <= 0 {
		cfg.FeedBuffer = 1024
	}
	return &Orchestrator{
		cfg:     cfg,
		reg:     reg,
		led:     led,
		log:     log,
		metrics: metrics,
		locks:   newEscrowLocks(),
		feed:    make(chan TransitionEvent, cfg.FeedBuffer),
		now:     time.Now,
	}
}

// SetNowFunc overrides the time source. Intended for tests.
func (o *Orchestrator) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	o.now = now
}

// Feed returns the outbound transition event channel. Events are emitted
// after commit; a slow consumer loses events rather than blocking
// settlement.
func (o *Orchestrator) Feed() <-chan TransitionEvent {
	return o.feed
}

// OpenEscrow creates a new escrow in PendingFunding and derives its vault
// address. No funds move.
func (o *Orchestrator) OpenEscrow(ctx context.Context, req OpenRequest) (*OpenResult, error) {
	done := o.startOp("open")

	id, err := uuid.NewV7()
	if err != nil {
		done("error")
		return nil, escrow.WrapError(escrow.CodeLedgerFailure, "generate escrow id", err)
	}

	rec, err := escrow.NewRecord(escrow.OpenParams{
		EscrowID:      id,
		VaultAddress:  vault.Derive(id),
		Buyer:         req.Buyer,
		Seller:        req.Seller,
		ListingRef:    req.ListingRef,
		GrossAmount:   req.GrossAmount,
		FeeBasisPts:   req.FeeBasisPoints,
		Now:           o.now(),
		FundingWindow: o.cfg.FundingWindow,
	})
	if err != nil {
		done("rejected")
		return nil, err
	}

	if err := o.reg.Open(ctx, rec); err != nil {
		done("error")
		return nil, escrow.WrapError(escrow.CodeLedgerFailure, "persist escrow", err)
	}

	o.log.Info().
		Str("escrow_id", rec.EscrowID.String()).
		Str("vault", rec.VaultAddress).
		Str("buyer", rec.Buyer).
		Str("seller", rec.Seller).
		Int64("gross", rec.GrossAmount).
		Int64("fee_bp", rec.FeeBasisPoints).
		Msg("escrow opened")

	o.emit(EventOpened, rec, "")
	done("ok")
	return &OpenResult{
		EscrowID:     rec.EscrowID,
		VaultAddress: rec.VaultAddress,
		Status:       rec.Status.String(),
		ExpiresAt:    rec.ExpiresAt,
	}, nil
}

// FundEscrow moves the gross amount from the buyer into the vault and
// advances PendingFunding to Funded. Repeating the same funding proof after
// success is a no-op replay; a fresh proof against a Funded escrow is
// rejected.
func (o *Orchestrator) FundEscrow(ctx context.Context, req FundRequest) (*FundResult, error) {
	done := o.startOp("fund")
	release := o.locks.acquire(req.EscrowID)
	defer release()

	if req.FundingProof == "" {
		done("rejected")
		return nil, escrow.NewError(escrow.CodeInvalidAmount, "funding proof is required")
	}

	rec, err := o.load(ctx, req.EscrowID)
	if err != nil {
		done("error")
		return nil, err
	}

	if rec.Status == escrow.StatusFunded && rec.FundingRef == req.FundingProof {
		o.countReplay("fund")
		done("replayed")
		return &FundResult{EscrowID: rec.EscrowID, Status: rec.Status.String(), Replayed: true}, nil
	}

	if err := escrow.ValidateFund(rec, req.Caller); err != nil {
		done("rejected")
		return nil, err
	}

	from := ledger.PartyAccount(rec.Buyer)
	to := ledger.VaultAccount(rec.VaultAddress)
	if err := o.transfer(ctx, from, to, rec.GrossAmount, fundRef(rec, req.FundingProof), "buyer balance below gross amount"); err != nil {
		done("error")
		return nil, err
	}

	updated, err := o.cas(ctx, rec.EscrowID, escrow.StatusPendingFunding, escrow.StatusFunded,
		func(r *escrow.Record) error {
			r.FundingRef = req.FundingProof
			return nil
		})
	if err != nil {
		// The deposit committed but the record did not advance. The next
		// load sees a PendingFunding escrow with a full vault and repairs
		// it, so surface the conflict rather than halting.
		done("conflict")
		return nil, o.mapTransitionErr("fund", rec.EscrowID, err)
	}

	o.log.Info().
		Str("escrow_id", rec.EscrowID.String()).
		Str("funding_ref", req.FundingProof).
		Int64("gross", rec.GrossAmount).
		Msg("escrow funded")

	o.emit(EventFunded, updated, req.FundingProof)
	done("ok")
	return &FundResult{EscrowID: updated.EscrowID, Status: updated.Status.String()}, nil
}

// ReleaseEscrow settles a funded escrow: fee to the fee sink, net to the
// seller, both legs in one atomic transfer, then Funded advances to
// Released.
func (o *Orchestrator) ReleaseEscrow(ctx context.Context, req ReleaseRequest) (*ReleaseResult, error) {
	done := o.startOp("release")
	release := o.locks.acquire(req.EscrowID)
	defer release()

	rec, err := o.load(ctx, req.EscrowID)
	if err != nil {
		done("error")
		return nil, err
	}

	if rec.Status == escrow.StatusReleased && req.IdempotencyKey != "" && rec.ReleaseRef == req.IdempotencyKey {
		o.countReplay("release")
		done("replayed")
		return &ReleaseResult{
			EscrowID: rec.EscrowID,
			Status:   rec.Status.String(),
			FeePaid:  rec.Fee,
			NetPaid:  rec.NetAmount,
			Replayed: true,
		}, nil
	}

	if err := escrow.ValidateRelease(rec, req.Caller, o.cfg.Authority); err != nil {
		done("rejected")
		return nil, err
	}

	ref := req.IdempotencyKey
	if ref == "" {
		ref = uuid.NewString()
	}

	// Either leg may be zero at the fee boundaries (fee_bp 0 or 10000);
	// a zero-amount leg is an invalid transfer, so it is simply omitted.
	from := ledger.VaultAccount(rec.VaultAddress)
	legs := make([]ledger.Leg, 0, 2)
	if rec.NetAmount > 0 {
		legs = append(legs, ledger.Leg{From: from, To: ledger.PartyAccount(rec.Seller), Amount: rec.NetAmount})
	}
	if rec.Fee > 0 {
		legs = append(legs, ledger.Leg{From: from, To: ledger.FeeSinkAccount(o.cfg.FeeSinkAddress), Amount: rec.Fee})
	}
	if err := o.transferBatch(ctx, legs, "release:"+rec.EscrowID.String()+":"+ref, "vault balance below the payout amount"); err != nil {
		done("error")
		return nil, err
	}

	updated, err := o.cas(ctx, rec.EscrowID, escrow.StatusFunded, escrow.StatusReleased,
		func(r *escrow.Record) error {
			r.ReleaseRef = ref
			return nil
		})
	if err != nil {
		done("conflict")
		return nil, o.haltOnLostWrite("release", rec, err)
	}

	o.log.Info().
		Str("escrow_id", rec.EscrowID.String()).
		Str("release_ref", ref).
		Int64("fee", rec.Fee).
		Int64("net", rec.NetAmount).
		Msg("escrow released")

	o.emit(EventReleased, updated, ref)
	done("ok")
	return &ReleaseResult{
		EscrowID: updated.EscrowID,
		Status:   updated.Status.String(),
		FeePaid:  updated.Fee,
		NetPaid:  updated.NetAmount,
	}, nil
}

// CancelEscrow refunds the full gross amount to the buyer and advances
// Funded to Cancelled. No fee is taken on a cancelled trade.
func (o *Orchestrator) CancelEscrow(ctx context.Context, req CancelRequest) (*CancelResult, error) {
	done := o.startOp("cancel")
	release := o.locks.acquire(req.EscrowID)
	defer release()

	rec, err := o.load(ctx, req.EscrowID)
	if err != nil {
		done("error")
		return nil, err
	}

	if rec.Status == escrow.StatusCancelled && req.IdempotencyKey != "" && rec.CancelRef == req.IdempotencyKey {
		o.countReplay("cancel")
		done("replayed")
		return &CancelResult{
			EscrowID: rec.EscrowID,
			Status:   rec.Status.String(),
			Refunded: rec.GrossAmount,
			Replayed: true,
		}, nil
	}

	if err := escrow.ValidateCancel(rec, req.Caller, o.cfg.Authority); err != nil {
		done("rejected")
		return nil, err
	}

	ref := req.IdempotencyKey
	if ref == "" {
		ref = uuid.NewString()
	}

	from := ledger.VaultAccount(rec.VaultAddress)
	to := ledger.PartyAccount(rec.Buyer)
	if err := o.transfer(ctx, from, to, rec.GrossAmount, "cancel:"+rec.EscrowID.String()+":"+ref, "vault balance below the refund amount"); err != nil {
		done("error")
		return nil, err
	}

	updated, err := o.cas(ctx, rec.EscrowID, escrow.StatusFunded, escrow.StatusCancelled,
		func(r *escrow.Record) error {
			r.CancelRef = ref
			return nil
		})
	if err != nil {
		done("conflict")
		return nil, o.haltOnLostWrite("cancel", rec, err)
	}

	o.log.Info().
		Str("escrow_id", rec.EscrowID.String()).
		Str("cancel_ref", ref).
		Int64("refunded", rec.GrossAmount).
		Msg("escrow cancelled")

	o.emit(EventCancelled, updated, ref)
	done("ok")
	return &CancelResult{
		EscrowID: updated.EscrowID,
		Status:   updated.Status.String(),
		Refunded: updated.GrossAmount,
	}, nil
}

// GetEscrow returns the current record, applying lazy expiry and
// reconciliation on the way.
func (o *Orchestrator) GetEscrow(ctx context.Context, id uuid.UUID) (*escrow.Record, error) {
	done := o.startOp("get")
	release := o.locks.acquire(id)
	defer release()

	rec, err := o.load(ctx, id)
	if err != nil {
		done("error")
		return nil, err
	}
	done("ok")
	return rec, nil
}

// ListByBuyer returns the buyer's escrows, newest first. List reads skip
// reconciliation; GetEscrow gives the verified view of one record.
func (o *Orchestrator) ListByBuyer(ctx context.Context, buyer string) ([]*escrow.Record, error) {
	if buyer == "" {
		return nil, escrow.NewError(escrow.CodeInvalidParty, "buyer is required")
	}
	recs, err := o.reg.ListByBuyer(ctx, buyer)
	if err != nil {
		return nil, escrow.WrapError(escrow.CodeLedgerFailure, "list by buyer", err)
	}
	return recs, nil
}

// ListBySeller returns the seller's escrows, newest first.
func (o *Orchestrator) ListBySeller(ctx context.Context, seller string) ([]*escrow.Record, error) {
	if seller == "" {
		return nil, escrow.NewError(escrow.CodeInvalidParty, "seller is required")
	}
	recs, err := o.reg.ListBySeller(ctx, seller)
	if err != nil {
		return nil, escrow.WrapError(escrow.CodeLedgerFailure, "list by seller", err)
	}
	return recs, nil
}

// TransitionLog returns the append-only transition history of one escrow,
// oldest first.
func (o *Orchestrator) TransitionLog(ctx context.Context, id uuid.UUID) ([]registry.TransitionEntry, error) {
	if _, err := o.reg.Get(ctx, id); err != nil {
		return nil, o.mapRegistryErr(err)
	}
	entries, err := o.reg.Log(ctx, id)
	if err != nil {
		return nil, escrow.WrapError(escrow.CodeLedgerFailure, "read transition log", err)
	}
	return entries, nil
}

// ClearHalt lifts the reconciliation halt on an escrow after an operator
// has repaired the divergence out of band.
func (o *Orchestrator) ClearHalt(id uuid.UUID) {
	o.haltedMu.Lock()
	delete(o.halted, id)
	o.haltedMu.Unlock()
	o.log.Warn().Str("escrow_id", id.String()).Msg("reconciliation halt cleared")
}

// --- internals ---

func (o *Orchestrator) startOp(op string) func(result string) {
	start := time.Now()
	return func(result string) {
		if o.metrics == nil {
			return
		}
		o.metrics.OperationsTotal.WithLabelValues(op, result).Inc()
		o.metrics.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

func (o *Orchestrator) countReplay(op string) {
	if o.metrics != nil {
		o.metrics.ReplayHits.WithLabelValues(op).Inc()
	}
}

func (o *Orchestrator) transfer(ctx context.Context, from, to ledger.AccountKey, amount int64, ref, shortfall string) error {
	start := time.Now()
	err := o.led.Transfer(ctx, from, to, amount, ref)
	if o.metrics != nil {
		o.metrics.LedgerTransferDuration.Observe(time.Since(start).Seconds())
	}
	return o.mapLedgerErr(err, shortfall)
}

func (o *Orchestrator) transferBatch(ctx context.Context, legs []ledger.Leg, ref, shortfall string) error {
	start := time.Now()
	err := o.led.TransferBatch(ctx, legs, ref)
	if o.metrics != nil {
		o.metrics.LedgerTransferDuration.Observe(time.Since(start).Seconds())
	}
	return o.mapLedgerErr(err, shortfall)
}

// shortfall names the account that came up short for the caller; the
// underfunded side differs per operation (the buyer on Fund, the vault on
// Release and Cancel).
func (o *Orchestrator) mapLedgerErr(err error, shortfall string) error {
	if err == nil {
		return nil
	}
	if o.metrics != nil {
		reason := "transfer"
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			reason = "insufficient_funds"
		}
		o.metrics.LedgerTransferErrors.WithLabelValues(reason).Inc()
	}
	if errors.Is(err, ledger.ErrInsufficientFunds) {
		return escrow.WrapError(escrow.CodeInsufficientFunds, shortfall, err)
	}
	if errors.Is(err, ledger.ErrInvalidTransfer) {
		return escrow.WrapError(escrow.CodeInvalidAmount, "invalid transfer", err)
	}
	return escrow.WrapError(escrow.CodeLedgerFailure, "ledger transfer failed", err)
}

func (o *Orchestrator) cas(ctx context.Context, id uuid.UUID, expected, next escrow.Status,
	mutate func(*escrow.Record) error) (*escrow.Record, error) {
	start := time.Now()
	rec, err := o.reg.Transition(ctx, id, expected, next, mutate)
	if o.metrics != nil {
		o.metrics.RegistryCASDuration.Observe(time.Since(start).Seconds())
		if errors.Is(err, registry.ErrConflict) {
			o.metrics.RegistryCASConflicts.Inc()
		}
	}
	return rec, err
}

func (o *Orchestrator) mapRegistryErr(err error) error {
	if errors.Is(err, registry.ErrNotFound) {
		return escrow.WrapError(escrow.CodeNotFound, "no such escrow", err)
	}
	return escrow.WrapError(escrow.CodeLedgerFailure, "registry read failed", err)
}

// mapTransitionErr converts a CAS failure on a repairable step (Fund) into
// a state conflict for the caller.
func (o *Orchestrator) mapTransitionErr(op string, id uuid.UUID, err error) error {
	if errors.Is(err, registry.ErrConflict) {
		if o.metrics != nil {
			o.metrics.StateConflicts.WithLabelValues(op).Inc()
		}
		o.log.Warn().Str("op", op).Str("escrow_id", id.String()).Msg("transition lost compare-and-swap")
		return escrow.WrapError(escrow.CodeStateConflict, "concurrent transition won", err)
	}
	if errors.Is(err, registry.ErrNotFound) {
		return escrow.WrapError(escrow.CodeNotFound, "no such escrow", err)
	}
	return escrow.WrapError(escrow.CodeLedgerFailure, "registry transition failed", err)
}

// haltOnLostWrite handles the one unrepairable ordering: a terminal payout
// committed on the ledger but the registry write was lost. The vault is
// empty while the record still says Funded, and nothing on disk says which
// terminal outcome drained it, so the escrow is halted for an operator.
func (o *Orchestrator) haltOnLostWrite(op string, rec *escrow.Record, err error) error {
	if errors.Is(err, registry.ErrConflict) {
		if o.metrics != nil {
			o.metrics.StateConflicts.WithLabelValues(op).Inc()
		}
		return escrow.WrapError(escrow.CodeStateConflict, "concurrent transition won", err)
	}
	halt := escrow.WrapError(escrow.CodeReconciliation,
		"payout committed but record not advanced; escrow halted", err)
	o.setHalted(rec.EscrowID, halt)
	o.log.Error().Err(err).
		Str("op", op).
		Str("escrow_id", rec.EscrowID.String()).
		Msg("registry write lost after payout; escrow halted")
	return halt
}

func (o *Orchestrator) setHalted(id uuid.UUID, err *escrow.Error) {
	o.haltedMu.Lock()
	if o.halted == nil {
		o.halted = make(map[uuid.UUID]*escrow.Error)
	}
	o.halted[id] = err
	o.haltedMu.Unlock()
	if o.metrics != nil {
		o.metrics.ReconcileHalts.Inc()
	}
}

func (o *Orchestrator) haltedErr(id uuid.UUID) *escrow.Error {
	o.haltedMu.RLock()
	defer o.haltedMu.RUnlock()
	return o.halted[id]
}

// emit pushes a transition event onto the feed without blocking. The feed
// is best-effort: the registry log is the durable history.
func (o *Orchestrator) emit(event string, rec *escrow.Record, ref string) {
	ev := TransitionEvent{
		EscrowID:    rec.EscrowID,
		Event:       event,
		Status:      rec.Status.String(),
		Buyer:       rec.Buyer,
		Seller:      rec.Seller,
		GrossAmount: rec.GrossAmount,
		Fee:         rec.Fee,
		NetAmount:   rec.NetAmount,
		Ref:         ref,
		At:          o.now(),
	}
	select {
	case o.feed <- ev:
		if o.metrics != nil {
			o.metrics.TransitionsPublished.WithLabelValues(event).Inc()
		}
	default:
		if o.metrics != nil {
			o.metrics.PublishDrops.Inc()
		}
		o.log.Warn().Str("event", event).Str("escrow_id", rec.EscrowID.String()).Msg("transition feed full, event dropped")
	}
}

func fundRef(rec *escrow.Record, proof string) string {
	return "fund:" + rec.EscrowID.String() + ":" + proof
}
