package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"EscrowCore/internal/escrow"
)

// MemoryRegistry is an in-process Registry for development and tests.
// The CAS in Transition is atomic under a single mutex; per-escrow
// linearization follows from it.
type MemoryRegistry struct {
	mu       sync.Mutex
	records  map[uuid.UUID]*escrow.Record
	log      map[uuid.UUID][]TransitionEntry
	byBuyer  map[string][]uuid.UUID
	bySeller map[string][]uuid.UUID
	now      func() time.Time
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		records:  make(map[uuid.UUID]*escrow.Record),
		log:      make(map[uuid.UUID][]TransitionEntry),
		byBuyer:  make(map[string][]uuid.UUID),
		bySeller: make(map[string][]uuid.UUID),
		now:      time.Now,
	}
}

// SetNowFunc overrides the time source. Intended for tests.
func (r *MemoryRegistry) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	r.now = now
}

func (r *MemoryRegistry) Open(ctx context.Context, rec *escrow.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[rec.EscrowID]; exists {
		return ErrDuplicate
	}

	stored := rec.Clone()
	r.records[rec.EscrowID] = stored
	r.byBuyer[rec.Buyer] = append(r.byBuyer[rec.Buyer], rec.EscrowID)
	r.bySeller[rec.Seller] = append(r.bySeller[rec.Seller], rec.EscrowID)
	r.log[rec.EscrowID] = append(r.log[rec.EscrowID], TransitionEntry{
		EntryID:  uuid.New(),
		EscrowID: rec.EscrowID,
		From:     rec.Status, // Open has no prior status; recorded as created
		To:       rec.Status,
		At:       r.now(),
	})
	return nil
}

func (r *MemoryRegistry) Get(ctx context.Context, id uuid.UUID) (*escrow.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

func (r *MemoryRegistry) Transition(ctx context.Context, id uuid.UUID, expected, next escrow.Status,
	mutate func(rec *escrow.Record) error) (*escrow.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	if stored.Status != expected {
		return nil, ErrConflict
	}

	// Mutate a copy so a failing mutator leaves the stored record intact.
	updated := stored.Clone()
	updated.Status = next
	updated.UpdatedAt = r.now()
	if updated.UpdatedAt.Before(stored.UpdatedAt) {
		updated.UpdatedAt = stored.UpdatedAt // timestamps never go backwards
	}
	if mutate != nil {
		if err := mutate(updated); err != nil {
			return nil, err
		}
	}

	r.records[id] = updated
	r.log[id] = append(r.log[id], TransitionEntry{
		EntryID:  uuid.New(),
		EscrowID: id,
		From:     expected,
		To:       next,
		Ref:      transitionRef(updated, next),
		At:       updated.UpdatedAt,
	})
	return updated.Clone(), nil
}

func (r *MemoryRegistry) ListByBuyer(ctx context.Context, buyer string) ([]*escrow.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.collect(r.byBuyer[buyer]), nil
}

func (r *MemoryRegistry) ListBySeller(ctx context.Context, seller string) ([]*escrow.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.collect(r.bySeller[seller]), nil
}

func (r *MemoryRegistry) Log(ctx context.Context, id uuid.UUID) ([]TransitionEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[id]; !ok {
		return nil, ErrNotFound
	}
	entries := make([]TransitionEntry, len(r.log[id]))
	copy(entries, r.log[id])
	return entries, nil
}

func (r *MemoryRegistry) collect(ids []uuid.UUID) []*escrow.Record {
	out := make([]*escrow.Record, 0, len(ids))
	for _, id := range ids {
		if rec, ok := r.records[id]; ok {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
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
