// registry.go - Package Registry, pickup state machine, and role surface.
//
// Every mutating operation executes under one mutex, so calls touching the
// same package or nullifier are serialized: the loser of a race observes the
// committed state and fails with the specific conflict error, never a
// double-pay. Verification is side-effect-free and runs after every fast
// precondition.

package pickup

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config fixes registry-wide policy.
type Config struct {
	Owner          Address       // principal allowed to administer stores and rates
	PlatformFeeBps uint32        // capped by MaxPlatformFeeBps
	MaxPickupDays  int           // upper bound for the pickup window
	ProofFreshness time.Duration // max skew between attested and ambient time
}

// Validate enforces the rate caps and the seller-amount safety inequality
// platformFee + maxCommission < FeeDenominator.
func (c Config) Validate() error {
	if c.Owner == "" {
		return fmt.Errorf("config: owner address is required")
	}
	if c.PlatformFeeBps > MaxPlatformFeeBps {
		return fmt.Errorf("%w: platform fee %d bps > %d", ErrInvalidRate, c.PlatformFeeBps, MaxPlatformFeeBps)
	}
	if c.PlatformFeeBps+MaxCommissionBps >= FeeDenominator {
		return fmt.Errorf("%w: platform fee + max commission reaches denominator", ErrInvalidRate)
	}
	if c.MaxPickupDays < 1 {
		return fmt.Errorf("config: max pickup days must be at least 1")
	}
	if c.ProofFreshness <= 0 {
		return fmt.Errorf("config: proof freshness window must be positive")
	}
	return nil
}

// Registry owns the package lifecycle and exposes the full operation surface.
type Registry struct {
	mu       sync.Mutex
	repo     Repository
	verifier ProofVerifier
	cfg      Config
	now      func() time.Time
	log      zerolog.Logger
}

// Option customizes a Registry.
type Option func(*Registry)

// WithClock overrides the ambient time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithLogger attaches a structured logger.
func WithLogger(log zerolog.Logger) Option {
	return func(r *Registry) { r.log = log }
}

// NewRegistry validates the configuration and wires the repository and
// verifier capabilities.
func NewRegistry(repo Repository, verifier ProofVerifier, cfg Config, opts ...Option) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Registry{
		repo:     repo,
		verifier: verifier,
		cfg:      cfg,
		now:      time.Now,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// --- Role administration -------------------------------------------------

// RegisterSeller self-registers the caller as a seller. Idempotent.
func (r *Registry) RegisterSeller(ctx context.Context, caller Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, err := r.repo.Seller(ctx, caller)
	if err != nil {
		return err
	}
	if existing != nil && existing.Registered {
		return nil
	}
	now := r.now()
	if err := r.repo.PutSeller(ctx, &Seller{Address: caller, Registered: true, RegisteredAt: now}); err != nil {
		return err
	}
	if err := r.repo.AppendEvent(ctx, Event{Type: EventSellerRegistered, At: now, Seller: caller}); err != nil {
		return err
	}
	r.log.Info().Str("seller", string(caller)).Msg("seller registered")
	return nil
}

// AuthorizeStore registers a pickup location with its commission rate.
// Owner only.
func (r *Registry) AuthorizeStore(ctx context.Context, caller, store Address, name, location string, commissionBps uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if caller != r.cfg.Owner {
		return ErrNotOwner
	}
	if commissionBps > MaxCommissionBps {
		return fmt.Errorf("%w: commission %d bps > %d", ErrInvalidRate, commissionBps, MaxCommissionBps)
	}
	existing, err := r.repo.StoreInfo(ctx, store)
	if err != nil {
		return err
	}
	info := &StoreInfo{Address: store, Authorized: true, Name: name, Location: location, CommissionBps: commissionBps}
	if existing != nil {
		info.TotalPickups = existing.TotalPickups
	}
	if err := r.repo.PutStoreInfo(ctx, info); err != nil {
		return err
	}
	if err := r.repo.AppendEvent(ctx, Event{Type: EventStoreAuthorized, At: r.now(), Store: store}); err != nil {
		return err
	}
	r.log.Info().Str("store", string(store)).Uint32("commission_bps", commissionBps).Msg("store authorized")
	return nil
}

// DeauthorizeStore revokes a store. Owner only. Existing packages bound to
// the store keep their binding; only new registrations are blocked.
func (r *Registry) DeauthorizeStore(ctx context.Context, caller, store Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if caller != r.cfg.Owner {
		return ErrNotOwner
	}
	info, err := r.repo.StoreInfo(ctx, store)
	if err != nil {
		return err
	}
	if info == nil || !info.Authorized {
		return ErrUnauthorizedStore
	}
	info.Authorized = false
	if err := r.repo.PutStoreInfo(ctx, info); err != nil {
		return err
	}
	return r.repo.AppendEvent(ctx, Event{Type: EventStoreDeauthorized, At: r.now(), Store: store})
}

// SetPlatformFeeRate updates the platform cut. Owner only.
func (r *Registry) SetPlatformFeeRate(ctx context.Context, caller Address, bps uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if caller != r.cfg.Owner {
		return ErrNotOwner
	}
	if bps > MaxPlatformFeeBps {
		return fmt.Errorf("%w: platform fee %d bps > %d", ErrInvalidRate, bps, MaxPlatformFeeBps)
	}
	r.cfg.PlatformFeeBps = bps
	return nil
}

// --- Registration --------------------------------------------------------

// RegisterParams carries one package registration.
type RegisterParams struct {
	PackageID          PackageID
	BuyerCommitment    *big.Int
	Seller             Address // caller; must be a registered seller
	Store              Address // must be an authorized store
	ItemPrice          uint64
	ShippingFee        uint64 // charged to the buyer side when SellerPaysShipping is false
	MinAge             uint32 // 0 disables the age constraint
	SellerPaysShipping bool
	PickupDays         int
	Funds              uint64 // escrowed now
}

// RegisterPackage validates, escrows Funds, and stores a new Registered
// package. The emitted event contains the commitment and no buyer PII.
func (r *Registry) RegisterPackage(ctx context.Context, p RegisterParams) (*Package, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.BuyerCommitment == nil || p.BuyerCommitment.Sign() == 0 {
		return nil, ErrZeroCommitment
	}
	if _, ok := new(big.Int).SetString(string(p.PackageID), 10); !ok {
		return nil, ErrInvalidPackageID
	}
	if p.PickupDays < 1 || p.PickupDays > r.cfg.MaxPickupDays {
		return nil, fmt.Errorf("%w: %d days (max %d)", ErrInvalidWindow, p.PickupDays, r.cfg.MaxPickupDays)
	}

	seller, err := r.repo.Seller(ctx, p.Seller)
	if err != nil {
		return nil, err
	}
	if seller == nil || !seller.Registered {
		return nil, ErrUnauthorizedSeller
	}
	store, err := r.repo.StoreInfo(ctx, p.Store)
	if err != nil {
		return nil, err
	}
	if store == nil || !store.Authorized {
		return nil, ErrUnauthorizedStore
	}
	if exists, err := r.repo.HasPackage(ctx, p.PackageID); err != nil {
		return nil, err
	} else if exists {
		return nil, ErrDuplicatePackage
	}

	// Funding policy. When the seller pays shipping, the actual fee charged
	// is the escrow delta above the price and must be strictly positive;
	// otherwise the buyer side pays the declared fee at pickup.
	shippingFee := p.ShippingFee
	if p.SellerPaysShipping {
		if p.Funds <= p.ItemPrice {
			return nil, fmt.Errorf("%w: funds %d must exceed item price %d when seller pays shipping", ErrInsufficientFunds, p.Funds, p.ItemPrice)
		}
		shippingFee = p.Funds - p.ItemPrice
	} else if p.Funds < p.ItemPrice {
		return nil, fmt.Errorf("%w: funds %d < item price %d", ErrInsufficientFunds, p.Funds, p.ItemPrice)
	}

	now := r.now()
	pkg := &Package{
		ID:                 p.PackageID,
		BuyerCommitment:    p.BuyerCommitment.String(),
		Seller:             p.Seller,
		Store:              p.Store,
		ItemPrice:          p.ItemPrice,
		ShippingFee:        shippingFee,
		Escrowed:           p.Funds,
		CreatedAt:          now,
		ExpiresAt:          now.Add(time.Duration(p.PickupDays) * 24 * time.Hour),
		MinAge:             p.MinAge,
		SellerPaysShipping: p.SellerPaysShipping,
		Status:             StatusRegistered,
	}
	seller.TotalPackages++

	commit := &RegistrationCommit{
		Pkg:    pkg,
		Seller: seller,
		Event: Event{
			Type:       EventPackageRegistered,
			At:         now,
			PackageID:  pkg.ID,
			Seller:     pkg.Seller,
			Store:      pkg.Store,
			Commitment: pkg.BuyerCommitment,
			Amounts: map[string]uint64{
				"item_price":   pkg.ItemPrice,
				"shipping_fee": pkg.ShippingFee,
				"escrowed":     pkg.Escrowed,
			},
		},
	}
	if err := r.repo.CommitRegistration(ctx, commit); err != nil {
		return nil, err
	}
	r.log.Info().
		Str("package", string(pkg.ID)).
		Str("store", string(pkg.Store)).
		Uint64("escrowed", pkg.Escrowed).
		Time("expires_at", pkg.ExpiresAt).
		Msg("package registered")
	return pkg.clone(), nil
}

// --- Pickup --------------------------------------------------------------

// PickupParams carries one pickup attempt by the bound store.
type PickupParams struct {
	PackageID       PackageID
	Caller          Address // submitting store; must equal the stored binding
	Bundle          *ProofBundle
	ShippingPayment uint64  // required when the buyer side pays shipping
	BuyerRef        Address // optional telemetry key supplied by the store
}

// ExecutePickup runs the full authorization pipeline. Precondition order is
// fixed, each a fast fail before the costlier proof verification: exists,
// Registered, not expired, nullifier unused, caller is the bound store,
// shipping payment sufficient. On success the status transition, nullifier
// consumption, counter updates, and settlement commit as one unit.
func (r *Registry) ExecutePickup(ctx context.Context, p PickupParams) (*Split, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.Bundle == nil || len(p.Bundle.Proof) == 0 {
		return nil, fmt.Errorf("%w: missing proof bundle", ErrInvalidBundle)
	}
	nullInt := p.Bundle.NullifierValue()
	if nullInt == nil {
		return nil, fmt.Errorf("%w: bad nullifier encoding", ErrInvalidBundle)
	}
	null := Nullifier(nullInt.String())

	pkg, err := r.repo.Package(ctx, p.PackageID)
	if err != nil {
		return nil, err
	}
	switch pkg.Status {
	case StatusRegistered:
	case StatusPickedUp:
		return nil, ErrAlreadyPickedUp
	default:
		return nil, ErrPackageExpired
	}
	now := r.now()
	if pkg.ExpiredAt(now) {
		return nil, fmt.Errorf("%w: expired at %s", ErrPackageExpired, pkg.ExpiresAt.Format(time.RFC3339))
	}
	if used, err := r.repo.NullifierUsed(ctx, null); err != nil {
		return nil, err
	} else if used {
		return nil, ErrNullifierUsed
	}
	if p.Caller != pkg.Store {
		return nil, ErrWrongStore
	}
	if !pkg.SellerPaysShipping && p.ShippingPayment < pkg.ShippingFee {
		return nil, fmt.Errorf("%w: payment %d < fee %d", ErrInsufficientShipping, p.ShippingPayment, pkg.ShippingFee)
	}

	if err := r.verifyProof(pkg, p.Bundle, nullInt, now); err != nil {
		return nil, err
	}

	store, err := r.repo.StoreInfo(ctx, pkg.Store)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, ErrUnauthorizedStore
	}
	seller, err := r.repo.Seller(ctx, pkg.Seller)
	if err != nil {
		return nil, err
	}
	if seller == nil {
		return nil, ErrUnauthorizedSeller
	}

	plan := planSettlement(pkg, p.ShippingPayment, r.cfg.PlatformFeeBps, store.CommissionBps)

	picked := pkg.clone()
	picked.Status = StatusPickedUp
	seller.SuccessfulDeliveries++
	store.TotalPickups++

	var buyer *BuyerStats
	if p.BuyerRef != "" {
		buyer, err = r.repo.BuyerStats(ctx, p.BuyerRef)
		if err != nil {
			return nil, err
		}
		if buyer == nil {
			buyer = &BuyerStats{Ref: p.BuyerRef}
		}
		buyer.TotalPickups++
		buyer.LastPickup = now
	}

	commit := &PickupCommit{
		Pkg:         picked,
		Nullifier:   null,
		At:          now,
		Seller:      seller,
		Store:       store,
		Buyer:       buyer,
		EscrowDebit: plan.EscrowDebit,
		Credits:     plan.Credits,
		Events: []Event{
			{
				Type:      EventPackagePickedUp,
				At:        now,
				PackageID: picked.ID,
				Store:     picked.Store,
				Nullifier: null,
			},
			{
				Type:      EventPaymentProcessed,
				At:        now,
				PackageID: picked.ID,
				Seller:    picked.Seller,
				Store:     picked.Store,
				Amounts: map[string]uint64{
					"total":            plan.Split.Total,
					"seller_amount":    plan.Split.SellerAmount,
					"store_commission": plan.Split.StoreCommission,
					"platform_fee":     plan.Split.PlatformFee,
				},
			},
		},
	}
	if err := r.repo.CommitPickup(ctx, commit); err != nil {
		return nil, err
	}
	split := plan.Split
	r.log.Info().
		Str("package", string(picked.ID)).
		Str("store", string(picked.Store)).
		Uint64("total", split.Total).
		Uint64("seller_amount", split.SellerAmount).
		Msg("package picked up")
	return &split, nil
}

// verifyProof rebuilds the public-signal tuple from the stored record and
// delegates to the verifier capability. The store identity, commitment, and
// minimum age always come from the package, never from the caller; only the
// attested timestamp comes from the bundle, and it must sit inside the
// freshness window of ambient time.
func (r *Registry) verifyProof(pkg *Package, bundle *ProofBundle, nullifier *big.Int, now time.Time) error {
	attested := bundle.AttestedTime()
	skew := now.Sub(attested)
	if skew < 0 {
		skew = -skew
	}
	if skew > r.cfg.ProofFreshness {
		return fmt.Errorf("%w: attested time %s outside freshness window", ErrInvalidProof, attested.Format(time.RFC3339))
	}
	signals := PublicSignals{
		SignalPackageID:  pkg.IDInt(),
		SignalCommitment: pkg.CommitmentInt(),
		SignalStore:      AddressField(pkg.Store),
		SignalTimestamp:  big.NewInt(attested.Unix()),
		SignalMinAge:     big.NewInt(int64(pkg.MinAge)),
		SignalNullifier:  nullifier,
	}
	ok, err := r.verifier.Verify(bundle.Proof, signals)
	if err != nil || !ok {
		if err != nil {
			r.log.Debug().Err(err).Str("package", string(pkg.ID)).Msg("verifier error")
		}
		return ErrInvalidProof
	}
	return nil
}

// --- Expiry reclaim ------------------------------------------------------

// ReclaimExpired refunds the escrow of an expired, unpicked package to its
// seller and stores the terminal Expired status. Seller only.
func (r *Registry) ReclaimExpired(ctx context.Context, id PackageID, caller Address) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pkg, err := r.repo.Package(ctx, id)
	if err != nil {
		return 0, err
	}
	if pkg.Seller != caller {
		return 0, ErrUnauthorizedSeller
	}
	if pkg.Status != StatusRegistered {
		return 0, ErrAlreadyPickedUp
	}
	now := r.now()
	if !pkg.ExpiredAt(now) {
		return 0, fmt.Errorf("%w: window open until %s", ErrNotExpired, pkg.ExpiresAt.Format(time.RFC3339))
	}

	reclaimed := pkg.clone()
	reclaimed.Status = StatusExpired
	commit := &ReclaimCommit{
		Pkg:          reclaimed,
		EscrowRefund: Credit{Account: pkg.Seller, Amount: pkg.Escrowed},
		Event: Event{
			Type:      EventPackageReclaimed,
			At:        now,
			PackageID: pkg.ID,
			Seller:    pkg.Seller,
			Amounts:   map[string]uint64{"refund": pkg.Escrowed},
		},
	}
	if err := r.repo.CommitReclaim(ctx, commit); err != nil {
		return 0, err
	}
	r.log.Info().Str("package", string(pkg.ID)).Uint64("refund", pkg.Escrowed).Msg("expired package reclaimed")
	return pkg.Escrowed, nil
}

// --- Query surface (read-only, no side effects) --------------------------

// GetPackage returns a projection of the stored record.
func (r *Registry) GetPackage(ctx context.Context, id PackageID) (*Package, error) {
	return r.repo.Package(ctx, id)
}

// CanPickup is true iff the package exists, is Registered, and its window
// has not passed. Expiry is derived here, never stored by this path.
func (r *Registry) CanPickup(ctx context.Context, id PackageID) (bool, error) {
	pkg, err := r.repo.Package(ctx, id)
	if err != nil {
		if errors.Is(err, ErrPackageNotFound) {
			return false, nil
		}
		return false, err
	}
	return pkg.PickupOpenAt(r.now()), nil
}

// GetSellerInfo returns the seller entry, or nil if unknown.
func (r *Registry) GetSellerInfo(ctx context.Context, addr Address) (*Seller, error) {
	return r.repo.Seller(ctx, addr)
}

// GetStoreInfo returns the store entry, or nil if unknown.
func (r *Registry) GetStoreInfo(ctx context.Context, addr Address) (*StoreInfo, error) {
	return r.repo.StoreInfo(ctx, addr)
}

// IsNullifierUsed reports nullifier consumption.
func (r *Registry) IsNullifierUsed(ctx context.Context, n Nullifier) (bool, error) {
	return r.repo.NullifierUsed(ctx, n)
}

// GetBalance returns an account's settled balance.
func (r *Registry) GetBalance(ctx context.Context, account Address) (uint64, error) {
	return r.repo.Balance(ctx, account)
}

// Events returns the append-only event log.
func (r *Registry) Events(ctx context.Context) ([]Event, error) {
	return r.repo.Events(ctx)
}

// PlatformFeeBps returns the current platform fee rate.
func (r *Registry) PlatformFeeBps() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg.PlatformFeeBps
}
