package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sovmarket/financial-core/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Transactions are serialized by a dedicated mutex and run
// against a private copy of the state, published atomically on commit, so
// readers outside the transaction only ever observe committed state.
// Transactions must not nest.
type MemoryStore struct {
	txMu sync.Mutex // serializes whole transactions
	mu   sync.RWMutex

	// ConflictsToInject makes the next N serializable transactions fail with
	// ErrTxConflict before any work runs. Lets tests exercise the retry path.
	ConflictsToInject int

	products  map[string]*model.Product
	indices   map[string]*model.VolatilityIndex
	relations []model.B2BRelation
	locks     []model.PriceLock
	profiles  map[string]*model.RiskProfile // keyed by profile ID
	events    []model.FinancialEvent
	vouches   []model.ReputationVouch
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products: make(map[string]*model.Product),
		indices:  make(map[string]*model.VolatilityIndex),
		profiles: make(map[string]*model.RiskProfile),
	}
}

type memorySnapshot struct {
	products  map[string]*model.Product
	indices   map[string]*model.VolatilityIndex
	relations []model.B2BRelation
	locks     []model.PriceLock
	profiles  map[string]*model.RiskProfile
	events    []model.FinancialEvent
	vouches   []model.ReputationVouch
}

func (s *MemoryStore) snapshot() memorySnapshot {
	snap := memorySnapshot{
		products:  make(map[string]*model.Product, len(s.products)),
		indices:   make(map[string]*model.VolatilityIndex, len(s.indices)),
		profiles:  make(map[string]*model.RiskProfile, len(s.profiles)),
		relations: append([]model.B2BRelation(nil), s.relations...),
		locks:     append([]model.PriceLock(nil), s.locks...),
		events:    append([]model.FinancialEvent(nil), s.events...),
		vouches:   append([]model.ReputationVouch(nil), s.vouches...),
	}
	for id, p := range s.products {
		cp := *p
		snap.products[id] = &cp
	}
	for id, v := range s.indices {
		cp := *v
		snap.indices[id] = &cp
	}
	for id, p := range s.profiles {
		cp := *p
		snap.profiles[id] = &cp
	}
	return snap
}

func (s *MemoryStore) restore(snap memorySnapshot) {
	s.products = snap.products
	s.indices = snap.indices
	s.relations = snap.relations
	s.locks = snap.locks
	s.profiles = snap.profiles
	s.events = snap.events
	s.vouches = snap.vouches
}

// InTx serializes the transaction against all others and runs fn against a
// private copy of the state. Commit publishes the copy in one step; an error
// discards it. Mid-transaction state is never visible outside fn.
func (s *MemoryStore) InTx(ctx context.Context, opts TxOptions, fn func(tx Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if opts.Isolation == Serializable && s.ConflictsToInject > 0 {
		s.ConflictsToInject--
		s.mu.Unlock()
		return ErrTxConflict
	}
	snap := s.snapshot()
	s.mu.Unlock()

	work := &MemoryStore{}
	work.restore(snap)

	if err := fn(work); err != nil {
		return err
	}

	s.mu.Lock()
	s.restore(work.snapshot())
	s.mu.Unlock()
	return nil
}

// --- Products ---

func (s *MemoryStore) CreateProduct(_ context.Context, p *model.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[p.ID]; ok {
		return fmt.Errorf("product %s already exists", p.ID)
	}
	cp := *p
	s.products[p.ID] = &cp
	return nil
}

func (s *MemoryStore) GetProduct(_ context.Context, id string) (*model.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

// --- Volatility indices ---

func (s *MemoryStore) CreateVolatilityIndex(_ context.Context, v *model.VolatilityIndex) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.indices[v.ID]; ok {
		return fmt.Errorf("volatility index %s already exists", v.ID)
	}
	cp := *v
	s.indices[v.ID] = &cp
	return nil
}

func (s *MemoryStore) GetVolatilityIndex(_ context.Context, id string) (*model.VolatilityIndex, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.indices[id]
	if !ok {
		return nil, nil
	}
	cp := *v
	return &cp, nil
}

func (s *MemoryStore) UpdateVolatilityIndexValue(_ context.Context, v *model.VolatilityIndex) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.indices[v.ID]
	if !ok {
		return fmt.Errorf("volatility index %s not found", v.ID)
	}
	existing.IndexValue = v.IndexValue
	existing.EffectiveFrom = v.EffectiveFrom
	existing.IsActive = v.IsActive
	return nil
}

// --- B2B relations ---

func (s *MemoryStore) CreateB2BRelation(_ context.Context, r *model.B2BRelation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.relations = append(s.relations, *r)
	return nil
}

func (s *MemoryStore) FirstActiveRelationForBuyer(_ context.Context, buyerOrgID string) (*model.B2BRelation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.relations {
		if r.BuyerOrgID == buyerOrgID && r.IsActive {
			cp := r
			return &cp, nil
		}
	}
	return nil, nil
}

// --- Price locks ---

func (s *MemoryStore) DeactivatePriceLocks(_ context.Context, productID, organizationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.locks {
		l := &s.locks[i]
		if l.ProductID == productID && l.OrganizationID == organizationID && l.IsActive {
			l.IsActive = false
		}
	}
	return nil
}

func (s *MemoryStore) InsertPriceLock(_ context.Context, l *model.PriceLock) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.locks = append(s.locks, *l)
	return nil
}

func (s *MemoryStore) GetActivePriceLock(_ context.Context, productID, organizationID string, now time.Time) (*model.PriceLock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var newest *model.PriceLock
	for i := range s.locks {
		l := &s.locks[i]
		if l.ProductID != productID || l.OrganizationID != organizationID {
			continue
		}
		if !l.IsActive || !l.ExpiresAt.After(now) {
			continue
		}
		if newest == nil || l.LockedAt.After(newest.LockedAt) {
			newest = l
		}
	}
	if newest == nil {
		return nil, nil
	}
	cp := *newest
	return &cp, nil
}

func (s *MemoryStore) CountActiveLocks(_ context.Context, productID, organizationID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for i := range s.locks {
		l := &s.locks[i]
		if l.ProductID == productID && l.OrganizationID == organizationID && l.IsActive {
			count++
		}
	}
	return count, nil
}

// --- Risk profiles ---

func (s *MemoryStore) GetRiskProfile(_ context.Context, organizationID string) (*model.RiskProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.profiles {
		if p.OrganizationID == organizationID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) GetRiskProfileByID(_ context.Context, profileID string) (*model.RiskProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[profileID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) InsertRiskProfile(_ context.Context, p *model.RiskProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.profiles[p.ID]; ok {
		return fmt.Errorf("risk profile %s already exists", p.ID)
	}
	cp := *p
	s.profiles[p.ID] = &cp
	return nil
}

func (s *MemoryStore) UpdateRiskProfile(_ context.Context, p *model.RiskProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.profiles[p.ID]; !ok {
		return fmt.Errorf("risk profile %s not found", p.ID)
	}
	cp := *p
	s.profiles[p.ID] = &cp
	return nil
}

// --- Financial events ---

func (s *MemoryStore) InsertFinancialEvent(_ context.Context, e *model.FinancialEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, *e)
	return nil
}

func (s *MemoryStore) ListUnprocessedEvents(_ context.Context, profileID string) ([]model.FinancialEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.FinancialEvent
	for _, e := range s.events {
		if e.ProfileID == profileID && !e.Processed {
			result = append(result, e)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].OccurredAt.Before(result[j].OccurredAt)
	})
	return result, nil
}

func (s *MemoryStore) MarkEventProcessed(_ context.Context, eventID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.events {
		e := &s.events[i]
		if e.ID == eventID && !e.Processed {
			e.Processed = true
			processedAt := at
			e.ProcessedAt = &processedAt
			return nil
		}
	}
	return nil
}

func (s *MemoryStore) ListEventsByProfile(_ context.Context, profileID string) ([]model.FinancialEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.FinancialEvent
	for _, e := range s.events {
		if e.ProfileID == profileID {
			result = append(result, e)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].OccurredAt.Before(result[j].OccurredAt)
	})
	return result, nil
}

// --- Reputation vouches ---

func (s *MemoryStore) InsertVouch(_ context.Context, v *model.ReputationVouch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.vouches = append(s.vouches, *v)
	return nil
}

func (s *MemoryStore) ListActiveVouchesForVouchee(_ context.Context, voucheeProfileID string, now time.Time) ([]model.ReputationVouch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.ReputationVouch
	for _, v := range s.vouches {
		if v.VoucheeProfileID != voucheeProfileID {
			continue
		}
		if !v.IsActive || v.IsDefaulted {
			continue
		}
		if v.ExpiresAt != nil && !v.ExpiresAt.After(now) {
			continue
		}
		result = append(result, v)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemoryStore) MarkVouchDefaulted(_ context.Context, vouchID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.vouches {
		v := &s.vouches[i]
		if v.ID == vouchID && !v.IsDefaulted {
			v.IsActive = false
			v.IsDefaulted = true
			defaultedAt := at
			v.DefaultedAt = &defaultedAt
			return nil
		}
	}
	return nil
}
