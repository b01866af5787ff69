package pickup

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	testOwner  Address = "owner"
	testSeller Address = "seller-1"
	testStore  Address = "store-1"
)

// fakeClock is a settable time source for driving expiry.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type fixture struct {
	registry *Registry
	repo     *MemoryRepository
	clock    *fakeClock
	ctx      context.Context
}

func newFixture(t *testing.T, verifier ProofVerifier) *fixture {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)}
	repo := NewMemoryRepository()
	registry, err := NewRegistry(repo, verifier, Config{
		Owner:          testOwner,
		PlatformFeeBps: 100,
		MaxPickupDays:  30,
		ProofFreshness: 10 * time.Minute,
	}, WithClock(clock.Now))
	require.NoError(t, err)
	return &fixture{registry: registry, repo: repo, clock: clock, ctx: context.Background()}
}

// setupRoles registers the default seller and authorizes the default store at
// 2% commission.
func (f *fixture) setupRoles(t *testing.T) {
	t.Helper()
	require.NoError(t, f.registry.RegisterSeller(f.ctx, testSeller))
	require.NoError(t, f.registry.AuthorizeStore(f.ctx, testOwner, testStore, "Corner Store", "12 High St", 200))
}

func (f *fixture) registerPackage(t *testing.T, id PackageID, p RegisterParams) *Package {
	t.Helper()
	if p.PackageID == "" {
		p.PackageID = id
	}
	if p.BuyerCommitment == nil {
		p.BuyerCommitment = big.NewInt(777)
	}
	if p.Seller == "" {
		p.Seller = testSeller
	}
	if p.Store == "" {
		p.Store = testStore
	}
	if p.PickupDays == 0 {
		p.PickupDays = 7
	}
	pkg, err := f.registry.RegisterPackage(f.ctx, p)
	require.NoError(t, err)
	return pkg
}

func (f *fixture) bundle(nullifier int64) *ProofBundle {
	return NewProofBundle([]byte{1, 2, 3}, big.NewInt(nullifier), f.clock.Now())
}

func TestConfigValidate(t *testing.T) {
	base := Config{Owner: testOwner, PlatformFeeBps: 100, MaxPickupDays: 30, ProofFreshness: time.Minute}
	require.NoError(t, base.Validate())

	noOwner := base
	noOwner.Owner = ""
	require.Error(t, noOwner.Validate())

	feeTooHigh := base
	feeTooHigh.PlatformFeeBps = MaxPlatformFeeBps + 1
	require.ErrorIs(t, feeTooHigh.Validate(), ErrInvalidRate)

	noWindow := base
	noWindow.MaxPickupDays = 0
	require.Error(t, noWindow.Validate())
}

func TestRegisterSellerIdempotent(t *testing.T) {
	f := newFixture(t, StaticVerifier{Accept: true})
	require.NoError(t, f.registry.RegisterSeller(f.ctx, testSeller))
	require.NoError(t, f.registry.RegisterSeller(f.ctx, testSeller))

	seller, err := f.registry.GetSellerInfo(f.ctx, testSeller)
	require.NoError(t, err)
	require.True(t, seller.Registered)

	events, err := f.registry.Events(f.ctx)
	require.NoError(t, err)
	require.Len(t, events, 1, "re-registering must not emit a second event")
}

func TestAuthorizeStoreOwnerOnly(t *testing.T) {
	f := newFixture(t, StaticVerifier{Accept: true})
	err := f.registry.AuthorizeStore(f.ctx, "mallory", testStore, "Store", "loc", 200)
	require.ErrorIs(t, err, ErrNotOwner)

	err = f.registry.AuthorizeStore(f.ctx, testOwner, testStore, "Store", "loc", MaxCommissionBps+1)
	require.ErrorIs(t, err, ErrInvalidRate)

	require.NoError(t, f.registry.AuthorizeStore(f.ctx, testOwner, testStore, "Store", "loc", 200))
	store, err := f.registry.GetStoreInfo(f.ctx, testStore)
	require.NoError(t, err)
	require.True(t, store.Authorized)
	require.Equal(t, uint32(200), store.CommissionBps)
}

func TestReauthorizeStoreKeepsPickupCount(t *testing.T) {
	f := newFixture(t, StaticVerifier{Accept: true})
	f.setupRoles(t)
	f.registerPackage(t, "101", RegisterParams{ItemPrice: 100, ShippingFee: 10, Funds: 100})
	_, err := f.registry.ExecutePickup(f.ctx, PickupParams{
		PackageID: "101", Caller: testStore, Bundle: f.bundle(9001), ShippingPayment: 10,
	})
	require.NoError(t, err)

	require.NoError(t, f.registry.AuthorizeStore(f.ctx, testOwner, testStore, "Renamed", "loc", 300))
	store, err := f.registry.GetStoreInfo(f.ctx, testStore)
	require.NoError(t, err)
	require.Equal(t, uint64(1), store.TotalPickups)
	require.Equal(t, uint32(300), store.CommissionBps)
}

func TestSetPlatformFeeRate(t *testing.T) {
	f := newFixture(t, StaticVerifier{Accept: true})
	require.ErrorIs(t, f.registry.SetPlatformFeeRate(f.ctx, "mallory", 50), ErrNotOwner)
	require.ErrorIs(t, f.registry.SetPlatformFeeRate(f.ctx, testOwner, MaxPlatformFeeBps+1), ErrInvalidRate)
	require.NoError(t, f.registry.SetPlatformFeeRate(f.ctx, testOwner, 50))
	require.Equal(t, uint32(50), f.registry.PlatformFeeBps())
}

func TestRegisterPackageValidation(t *testing.T) {
	f := newFixture(t, StaticVerifier{Accept: true})
	f.setupRoles(t)

	base := RegisterParams{
		PackageID: "200", BuyerCommitment: big.NewInt(777),
		Seller: testSeller, Store: testStore,
		ItemPrice: 100, ShippingFee: 10, PickupDays: 7, Funds: 100,
	}

	t.Run("zero commitment", func(t *testing.T) {
		p := base
		p.BuyerCommitment = big.NewInt(0)
		_, err := f.registry.RegisterPackage(f.ctx, p)
		require.ErrorIs(t, err, ErrZeroCommitment)
	})
	t.Run("nil commitment", func(t *testing.T) {
		p := base
		p.BuyerCommitment = nil
		_, err := f.registry.RegisterPackage(f.ctx, p)
		require.ErrorIs(t, err, ErrZeroCommitment)
	})
	t.Run("malformed id", func(t *testing.T) {
		p := base
		p.PackageID = "SF-not-a-field-element"
		_, err := f.registry.RegisterPackage(f.ctx, p)
		require.ErrorIs(t, err, ErrInvalidPackageID)
	})
	t.Run("window too long", func(t *testing.T) {
		p := base
		p.PickupDays = 31
		_, err := f.registry.RegisterPackage(f.ctx, p)
		require.ErrorIs(t, err, ErrInvalidWindow)
	})
	t.Run("window zero", func(t *testing.T) {
		p := base
		p.PickupDays = 0
		_, err := f.registry.RegisterPackage(f.ctx, p)
		require.ErrorIs(t, err, ErrInvalidWindow)
	})
	t.Run("unregistered seller", func(t *testing.T) {
		p := base
		p.Seller = "stranger"
		_, err := f.registry.RegisterPackage(f.ctx, p)
		require.ErrorIs(t, err, ErrUnauthorizedSeller)
	})
	t.Run("unauthorized store", func(t *testing.T) {
		p := base
		p.Store = "kiosk"
		_, err := f.registry.RegisterPackage(f.ctx, p)
		require.ErrorIs(t, err, ErrUnauthorizedStore)
	})
	t.Run("underfunded", func(t *testing.T) {
		p := base
		p.Funds = 99
		_, err := f.registry.RegisterPackage(f.ctx, p)
		require.ErrorIs(t, err, ErrInsufficientFunds)
	})
}

func TestRegisterPackageEscrowsAndEmits(t *testing.T) {
	f := newFixture(t, StaticVerifier{Accept: true})
	f.setupRoles(t)

	pkg := f.registerPackage(t, "201", RegisterParams{ItemPrice: 100, ShippingFee: 10, MinAge: 18, Funds: 120})
	require.Equal(t, StatusRegistered, pkg.Status)
	require.Equal(t, uint64(120), pkg.Escrowed)
	require.Equal(t, f.clock.Now().Add(7*24*time.Hour), pkg.ExpiresAt)

	escrow, err := f.registry.GetBalance(f.ctx, EscrowAccount)
	require.NoError(t, err)
	require.Equal(t, uint64(120), escrow)

	seller, err := f.registry.GetSellerInfo(f.ctx, testSeller)
	require.NoError(t, err)
	require.Equal(t, uint64(1), seller.TotalPackages)

	events, err := f.registry.Events(f.ctx)
	require.NoError(t, err)
	last := events[len(events)-1]
	require.Equal(t, EventPackageRegistered, last.Type)
	require.Equal(t, pkg.BuyerCommitment, last.Commitment)
}

func TestRegisterPackageDuplicate(t *testing.T) {
	f := newFixture(t, StaticVerifier{Accept: true})
	f.setupRoles(t)
	f.registerPackage(t, "202", RegisterParams{ItemPrice: 100, Funds: 100})

	_, err := f.registry.RegisterPackage(f.ctx, RegisterParams{
		PackageID: "202", BuyerCommitment: big.NewInt(888),
		Seller: testSeller, Store: testStore,
		ItemPrice: 50, PickupDays: 7, Funds: 50,
	})
	require.ErrorIs(t, err, ErrDuplicatePackage)
}

func TestRegisterPackageSellerPaysShipping(t *testing.T) {
	f := newFixture(t, StaticVerifier{Accept: true})
	f.setupRoles(t)

	// Escrow delta above the price becomes the shipping fee.
	pkg := f.registerPackage(t, "203", RegisterParams{
		ItemPrice: 100, SellerPaysShipping: true, Funds: 115,
	})
	require.Equal(t, uint64(15), pkg.ShippingFee)

	// Exactly the price is not enough: there is nothing left for shipping.
	_, err := f.registry.RegisterPackage(f.ctx, RegisterParams{
		PackageID: "204", BuyerCommitment: big.NewInt(777),
		Seller: testSeller, Store: testStore,
		ItemPrice: 100, SellerPaysShipping: true, PickupDays: 7, Funds: 100,
	})
	require.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestDeauthorizeStoreBlocksNewRegistrations(t *testing.T) {
	f := newFixture(t, StaticVerifier{Accept: true})
	f.setupRoles(t)
	f.registerPackage(t, "205", RegisterParams{ItemPrice: 100, ShippingFee: 10, Funds: 100})

	require.ErrorIs(t, f.registry.DeauthorizeStore(f.ctx, "mallory", testStore), ErrNotOwner)
	require.NoError(t, f.registry.DeauthorizeStore(f.ctx, testOwner, testStore))

	_, err := f.registry.RegisterPackage(f.ctx, RegisterParams{
		PackageID: "206", BuyerCommitment: big.NewInt(777),
		Seller: testSeller, Store: testStore,
		ItemPrice: 100, PickupDays: 7, Funds: 100,
	})
	require.ErrorIs(t, err, ErrUnauthorizedStore)

	// The existing package keeps its binding and can still be picked up.
	_, err = f.registry.ExecutePickup(f.ctx, PickupParams{
		PackageID: "205", Caller: testStore, Bundle: f.bundle(9100), ShippingPayment: 10,
	})
	require.NoError(t, err)
}

func TestExecutePickupSettlement(t *testing.T) {
	f := newFixture(t, StaticVerifier{Accept: true})
	f.setupRoles(t)
	f.registerPackage(t, "300", RegisterParams{ItemPrice: 100, ShippingFee: 10, Funds: 100})

	split, err := f.registry.ExecutePickup(f.ctx, PickupParams{
		PackageID: "300", Caller: testStore, Bundle: f.bundle(9200), ShippingPayment: 10,
	})
	require.NoError(t, err)

	// 110 at 1% platform and 2% commission.
	require.Equal(t, uint64(110), split.Total)
	require.Equal(t, uint64(1), split.PlatformFee)
	require.Equal(t, uint64(2), split.StoreCommission)
	require.Equal(t, uint64(107), split.SellerAmount)

	for account, want := range map[Address]uint64{
		testSeller:      107,
		testStore:       2,
		PlatformAccount: 1,
		EscrowAccount:   0,
	} {
		got, err := f.registry.GetBalance(f.ctx, account)
		require.NoError(t, err)
		require.Equal(t, want, got, "balance of %s", account)
	}

	pkg, err := f.registry.GetPackage(f.ctx, "300")
	require.NoError(t, err)
	require.Equal(t, StatusPickedUp, pkg.Status)

	used, err := f.registry.IsNullifierUsed(f.ctx, "9200")
	require.NoError(t, err)
	require.True(t, used)

	events, err := f.registry.Events(f.ctx)
	require.NoError(t, err)
	require.Equal(t, EventPaymentProcessed, events[len(events)-1].Type)
	require.Equal(t, EventPackagePickedUp, events[len(events)-2].Type)
}

func TestExecutePickupSellerPaidShipping(t *testing.T) {
	f := newFixture(t, StaticVerifier{Accept: true})
	f.setupRoles(t)

	// Seller escrows 110 for a 100 item; shipping is the 10 delta.
	pkg := f.registerPackage(t, "310", RegisterParams{
		ItemPrice: 100, SellerPaysShipping: true, Funds: 110,
	})
	require.Equal(t, uint64(10), pkg.ShippingFee)

	// No payment is needed at the counter.
	split, err := f.registry.ExecutePickup(f.ctx, PickupParams{
		PackageID: "310", Caller: testStore, Bundle: f.bundle(9900),
	})
	require.NoError(t, err)
	require.Equal(t, uint64(110), split.Total)
	require.Equal(t, uint64(107), split.SellerAmount)

	escrow, err := f.registry.GetBalance(f.ctx, EscrowAccount)
	require.NoError(t, err)
	require.Equal(t, uint64(0), escrow)
}

func TestExecutePickupPreconditions(t *testing.T) {
	f := newFixture(t, StaticVerifier{Accept: true})
	f.setupRoles(t)
	f.registerPackage(t, "301", RegisterParams{ItemPrice: 100, ShippingFee: 10, Funds: 100})

	t.Run("missing bundle", func(t *testing.T) {
		_, err := f.registry.ExecutePickup(f.ctx, PickupParams{PackageID: "301", Caller: testStore})
		require.ErrorIs(t, err, ErrInvalidBundle)
	})
	t.Run("unknown package", func(t *testing.T) {
		_, err := f.registry.ExecutePickup(f.ctx, PickupParams{
			PackageID: "999", Caller: testStore, Bundle: f.bundle(1), ShippingPayment: 10,
		})
		require.ErrorIs(t, err, ErrPackageNotFound)
	})
	t.Run("wrong store", func(t *testing.T) {
		_, err := f.registry.ExecutePickup(f.ctx, PickupParams{
			PackageID: "301", Caller: "store-2", Bundle: f.bundle(2), ShippingPayment: 10,
		})
		require.ErrorIs(t, err, ErrWrongStore)
	})
	t.Run("insufficient shipping", func(t *testing.T) {
		_, err := f.registry.ExecutePickup(f.ctx, PickupParams{
			PackageID: "301", Caller: testStore, Bundle: f.bundle(3), ShippingPayment: 9,
		})
		require.ErrorIs(t, err, ErrInsufficientShipping)
	})
}

func TestExecutePickupTwice(t *testing.T) {
	f := newFixture(t, StaticVerifier{Accept: true})
	f.setupRoles(t)
	f.registerPackage(t, "302", RegisterParams{ItemPrice: 100, ShippingFee: 10, Funds: 100})

	_, err := f.registry.ExecutePickup(f.ctx, PickupParams{
		PackageID: "302", Caller: testStore, Bundle: f.bundle(9300), ShippingPayment: 10,
	})
	require.NoError(t, err)

	_, err = f.registry.ExecutePickup(f.ctx, PickupParams{
		PackageID: "302", Caller: testStore, Bundle: f.bundle(9301), ShippingPayment: 10,
	})
	require.ErrorIs(t, err, ErrAlreadyPickedUp)
}

func TestNullifierReplayAcrossPackages(t *testing.T) {
	f := newFixture(t, StaticVerifier{Accept: true})
	f.setupRoles(t)
	f.registerPackage(t, "303", RegisterParams{ItemPrice: 100, ShippingFee: 10, Funds: 100})
	f.registerPackage(t, "304", RegisterParams{ItemPrice: 100, ShippingFee: 10, Funds: 100})

	_, err := f.registry.ExecutePickup(f.ctx, PickupParams{
		PackageID: "303", Caller: testStore, Bundle: f.bundle(9400), ShippingPayment: 10,
	})
	require.NoError(t, err)

	// The same nullifier presented for a different package is rejected before
	// any verification happens.
	_, err = f.registry.ExecutePickup(f.ctx, PickupParams{
		PackageID: "304", Caller: testStore, Bundle: f.bundle(9400), ShippingPayment: 10,
	})
	require.ErrorIs(t, err, ErrNullifierUsed)

	// A fresh nullifier for the second package still works.
	_, err = f.registry.ExecutePickup(f.ctx, PickupParams{
		PackageID: "304", Caller: testStore, Bundle: f.bundle(9401), ShippingPayment: 10,
	})
	require.NoError(t, err)
}

func TestExecutePickupExpired(t *testing.T) {
	f := newFixture(t, StaticVerifier{Accept: true})
	f.setupRoles(t)
	f.registerPackage(t, "305", RegisterParams{ItemPrice: 100, ShippingFee: 10, PickupDays: 7, Funds: 100})

	f.clock.Advance(7*24*time.Hour + time.Second)
	_, err := f.registry.ExecutePickup(f.ctx, PickupParams{
		PackageID: "305", Caller: testStore, Bundle: f.bundle(9500), ShippingPayment: 10,
	})
	require.ErrorIs(t, err, ErrPackageExpired)

	ok, err := f.registry.CanPickup(f.ctx, "305")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestExecutePickupRejectedProofLeavesNoTrace(t *testing.T) {
	f := newFixture(t, StaticVerifier{Accept: false})
	f.setupRoles(t)
	f.registerPackage(t, "306", RegisterParams{ItemPrice: 100, ShippingFee: 10, Funds: 100})

	_, err := f.registry.ExecutePickup(f.ctx, PickupParams{
		PackageID: "306", Caller: testStore, Bundle: f.bundle(9600), ShippingPayment: 10,
	})
	require.ErrorIs(t, err, ErrInvalidProof)

	// Nothing changed: the nullifier stays fresh, the package stays open,
	// escrow stays put.
	used, err := f.registry.IsNullifierUsed(f.ctx, "9600")
	require.NoError(t, err)
	require.False(t, used)

	pkg, err := f.registry.GetPackage(f.ctx, "306")
	require.NoError(t, err)
	require.Equal(t, StatusRegistered, pkg.Status)

	escrow, err := f.registry.GetBalance(f.ctx, EscrowAccount)
	require.NoError(t, err)
	require.Equal(t, uint64(100), escrow)
}

func TestExecutePickupStaleAttestation(t *testing.T) {
	f := newFixture(t, StaticVerifier{Accept: true})
	f.setupRoles(t)
	f.registerPackage(t, "307", RegisterParams{ItemPrice: 100, ShippingFee: 10, Funds: 100})

	stale := NewProofBundle([]byte{1}, big.NewInt(9700), f.clock.Now().Add(-11*time.Minute))
	_, err := f.registry.ExecutePickup(f.ctx, PickupParams{
		PackageID: "307", Caller: testStore, Bundle: stale, ShippingPayment: 10,
	})
	require.ErrorIs(t, err, ErrInvalidProof)

	future := NewProofBundle([]byte{1}, big.NewInt(9701), f.clock.Now().Add(11*time.Minute))
	_, err = f.registry.ExecutePickup(f.ctx, PickupParams{
		PackageID: "307", Caller: testStore, Bundle: future, ShippingPayment: 10,
	})
	require.ErrorIs(t, err, ErrInvalidProof)
}

func TestExecutePickupBuyerStats(t *testing.T) {
	f := newFixture(t, StaticVerifier{Accept: true})
	f.setupRoles(t)
	f.registerPackage(t, "308", RegisterParams{ItemPrice: 100, ShippingFee: 10, Funds: 100})

	_, err := f.registry.ExecutePickup(f.ctx, PickupParams{
		PackageID: "308", Caller: testStore, Bundle: f.bundle(9800),
		ShippingPayment: 10, BuyerRef: "loyalty-42",
	})
	require.NoError(t, err)

	stats, err := f.repo.BuyerStats(f.ctx, "loyalty-42")
	require.NoError(t, err)
	require.Equal(t, uint64(1), stats.TotalPickups)
}

func TestReclaimExpired(t *testing.T) {
	f := newFixture(t, StaticVerifier{Accept: true})
	f.setupRoles(t)
	f.registerPackage(t, "400", RegisterParams{ItemPrice: 100, ShippingFee: 10, PickupDays: 7, Funds: 100})

	_, err := f.registry.ReclaimExpired(f.ctx, "400", testSeller)
	require.ErrorIs(t, err, ErrNotExpired)

	f.clock.Advance(8 * 24 * time.Hour)

	_, err = f.registry.ReclaimExpired(f.ctx, "400", "stranger")
	require.ErrorIs(t, err, ErrUnauthorizedSeller)

	refund, err := f.registry.ReclaimExpired(f.ctx, "400", testSeller)
	require.NoError(t, err)
	require.Equal(t, uint64(100), refund)

	pkg, err := f.registry.GetPackage(f.ctx, "400")
	require.NoError(t, err)
	require.Equal(t, StatusExpired, pkg.Status)

	balance, err := f.registry.GetBalance(f.ctx, testSeller)
	require.NoError(t, err)
	require.Equal(t, uint64(100), balance)

	escrow, err := f.registry.GetBalance(f.ctx, EscrowAccount)
	require.NoError(t, err)
	require.Equal(t, uint64(0), escrow)

	// The reclaim is terminal.
	_, err = f.registry.ReclaimExpired(f.ctx, "400", testSeller)
	require.ErrorIs(t, err, ErrAlreadyPickedUp)
}

func TestCanPickupUnknownPackage(t *testing.T) {
	f := newFixture(t, StaticVerifier{Accept: true})
	ok, err := f.registry.CanPickup(f.ctx, "does-not-exist")
	require.NoError(t, err)
	require.False(t, ok)
}
