// repository.go - The owned keyed stores behind the registry.
//
// All authoritative state lives behind this interface: the package table,
// the consumed-nullifier set, role entries, balances, and the event log.
// There is no ambient singleton; the registry is handed a Repository at
// construction. Commit* methods apply one protocol transition as a single
// indivisible unit: if any part fails, nothing persists.

package pickup

import (
	"context"
	"time"
)

// Repository persists protocol state.
type Repository interface {
	// Package returns the stored record or ErrPackageNotFound.
	Package(ctx context.Context, id PackageID) (*Package, error)
	// HasPackage reports identifier occupancy without loading the record.
	HasPackage(ctx context.Context, id PackageID) (bool, error)

	// NullifierUsed reports whether the nullifier has been consumed.
	NullifierUsed(ctx context.Context, n Nullifier) (bool, error)

	Seller(ctx context.Context, addr Address) (*Seller, error)
	PutSeller(ctx context.Context, s *Seller) error
	StoreInfo(ctx context.Context, addr Address) (*StoreInfo, error)
	PutStoreInfo(ctx context.Context, s *StoreInfo) error
	BuyerStats(ctx context.Context, ref Address) (*BuyerStats, error)

	// Balance returns the current balance of an account (zero if unknown).
	Balance(ctx context.Context, account Address) (uint64, error)

	AppendEvent(ctx context.Context, ev Event) error
	Events(ctx context.Context) ([]Event, error)

	CommitRegistration(ctx context.Context, c *RegistrationCommit) error
	CommitPickup(ctx context.Context, c *PickupCommit) error
	CommitReclaim(ctx context.Context, c *ReclaimCommit) error
}

// RegistrationCommit creates a package, escrows its funds, bumps the seller
// counter, and appends the registration event.
type RegistrationCommit struct {
	Pkg    *Package
	Seller *Seller
	Event  Event
}

// PickupCommit finalizes a successful pickup: stores the PickedUp record,
// consumes the nullifier, updates counters, moves escrow into the credited
// balances, and appends the pickup/payment events.
type PickupCommit struct {
	Pkg         *Package
	Nullifier   Nullifier
	At          time.Time
	Seller      *Seller
	Store       *StoreInfo
	Buyer       *BuyerStats // nil when the store supplies no buyer reference
	EscrowDebit uint64
	Credits     []Credit
	Events      []Event
}

// ReclaimCommit marks an expired package reclaimed and refunds its escrow to
// the seller.
type ReclaimCommit struct {
	Pkg          *Package
	EscrowRefund Credit
	Event        Event
}
