// memrepo.go - In-memory repository, the default settlement substrate.
//
// All maps are guarded by one mutex, so every Commit* is trivially atomic
// relative to all other calls. Records are cloned on the way in and out to
// keep callers from mutating stored state.

package pickup

import (
	"context"
	"sync"
)

// MemoryRepository keeps all protocol state in process.
type MemoryRepository struct {
	mu       sync.RWMutex
	packages map[PackageID]*Package
	nulls    *nullifierSet
	sellers  map[Address]*Seller
	stores   map[Address]*StoreInfo
	buyers   map[Address]*BuyerStats
	balances map[Address]uint64
	events   []Event
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		packages: make(map[PackageID]*Package),
		nulls:    newNullifierSet(),
		sellers:  make(map[Address]*Seller),
		stores:   make(map[Address]*StoreInfo),
		buyers:   make(map[Address]*BuyerStats),
		balances: make(map[Address]uint64),
	}
}

func (r *MemoryRepository) Package(ctx context.Context, id PackageID) (*Package, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pkg, ok := r.packages[id]
	if !ok {
		return nil, ErrPackageNotFound
	}
	return pkg.clone(), nil
}

func (r *MemoryRepository) HasPackage(ctx context.Context, id PackageID) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.packages[id]
	return ok, nil
}

func (r *MemoryRepository) NullifierUsed(ctx context.Context, n Nullifier) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.nulls.consumed(n), nil
}

func (r *MemoryRepository) Seller(ctx context.Context, addr Address) (*Seller, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sellers[addr]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (r *MemoryRepository) PutSeller(ctx context.Context, s *Seller) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.sellers[s.Address] = &cp
	return nil
}

func (r *MemoryRepository) StoreInfo(ctx context.Context, addr Address) (*StoreInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stores[addr]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (r *MemoryRepository) PutStoreInfo(ctx context.Context, s *StoreInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.stores[s.Address] = &cp
	return nil
}

func (r *MemoryRepository) BuyerStats(ctx context.Context, ref Address) (*BuyerStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.buyers[ref]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (r *MemoryRepository) Balance(ctx context.Context, account Address) (uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.balances[account], nil
}

func (r *MemoryRepository) AppendEvent(ctx context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *MemoryRepository) Events(ctx context.Context) ([]Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out, nil
}

func (r *MemoryRepository) CommitRegistration(ctx context.Context, c *RegistrationCommit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.packages[c.Pkg.ID]; ok {
		return ErrDuplicatePackage
	}
	r.packages[c.Pkg.ID] = c.Pkg.clone()
	r.balances[EscrowAccount] += c.Pkg.Escrowed
	seller := *c.Seller
	r.sellers[seller.Address] = &seller
	r.events = append(r.events, c.Event)
	return nil
}

func (r *MemoryRepository) CommitPickup(ctx context.Context, c *PickupCommit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.packages[c.Pkg.ID]
	if !ok {
		return ErrPackageNotFound
	}
	if stored.Status != StatusRegistered {
		return ErrAlreadyPickedUp
	}
	if err := r.nulls.consume(c.Nullifier, c.At); err != nil {
		return err
	}
	r.packages[c.Pkg.ID] = c.Pkg.clone()
	r.balances[EscrowAccount] -= c.EscrowDebit
	for _, cr := range c.Credits {
		r.balances[cr.Account] += cr.Amount
	}
	seller := *c.Seller
	r.sellers[seller.Address] = &seller
	store := *c.Store
	r.stores[store.Address] = &store
	if c.Buyer != nil {
		buyer := *c.Buyer
		r.buyers[buyer.Ref] = &buyer
	}
	r.events = append(r.events, c.Events...)
	return nil
}

func (r *MemoryRepository) CommitReclaim(ctx context.Context, c *ReclaimCommit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.packages[c.Pkg.ID]
	if !ok {
		return ErrPackageNotFound
	}
	if stored.Status != StatusRegistered {
		return ErrAlreadyPickedUp
	}
	r.packages[c.Pkg.ID] = c.Pkg.clone()
	r.balances[EscrowAccount] -= c.EscrowRefund.Amount
	r.balances[c.EscrowRefund.Account] += c.EscrowRefund.Amount
	r.events = append(r.events, c.Event)
	return nil
}

var _ Repository = (*MemoryRepository)(nil)
