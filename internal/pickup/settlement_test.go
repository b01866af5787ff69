package pickup

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

func TestComputeSplitExact(t *testing.T) {
	// 110 total at 1% platform fee and 2% commission: 1 + 2 + 107.
	split := ComputeSplit(110, 100, 200)
	require.Equal(t, uint64(110), split.Total)
	require.Equal(t, uint64(1), split.PlatformFee)
	require.Equal(t, uint64(2), split.StoreCommission)
	require.Equal(t, uint64(107), split.SellerAmount)
}

func TestComputeSplitZeroRates(t *testing.T) {
	split := ComputeSplit(500, 0, 0)
	require.Equal(t, uint64(0), split.PlatformFee)
	require.Equal(t, uint64(0), split.StoreCommission)
	require.Equal(t, uint64(500), split.SellerAmount)
}

func TestComputeSplitSmallTotals(t *testing.T) {
	// Fees truncate to zero on small totals; the remainder stays with the
	// seller, never lost.
	for total := uint64(0); total < 100; total++ {
		split := ComputeSplit(total, 100, 200)
		require.Equal(t, total, split.SellerAmount+split.StoreCommission+split.PlatformFee)
	}
}

func TestSplitConservationProperty(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 1000

	properties := gopter.NewProperties(params)
	properties.Property("parts always sum to total", prop.ForAll(
		func(total uint64, platformBps, commissionBps uint32) bool {
			split := ComputeSplit(total, platformBps, commissionBps)
			return split.SellerAmount+split.StoreCommission+split.PlatformFee == split.Total &&
				split.Total == total
		},
		gen.UInt64Range(0, 1<<40),
		gen.UInt32Range(0, MaxPlatformFeeBps),
		gen.UInt32Range(0, MaxCommissionBps),
	))
	properties.TestingRun(t)
}

func TestPlanSettlementBuyerPaysShipping(t *testing.T) {
	now := time.Now()
	pkg := &Package{
		ID: "1", Seller: "seller-1", Store: "store-1",
		ItemPrice: 100, ShippingFee: 10, Escrowed: 120,
		CreatedAt: now, ExpiresAt: now.Add(24 * time.Hour),
		Status: StatusRegistered,
	}

	// Store pays 15 against a fee of 10: 5 change. Escrow holds 20 above the
	// price: refunded to the seller alongside the split.
	plan := planSettlement(pkg, 15, 100, 200)
	require.Equal(t, uint64(110), plan.Split.Total)
	require.Equal(t, uint64(120), plan.EscrowDebit)
	require.Equal(t, uint64(20), plan.EscrowRefund)
	require.Equal(t, uint64(5), plan.Change)

	credits := creditMap(plan.Credits)
	require.Equal(t, plan.Split.SellerAmount+20, credits["seller-1"])
	require.Equal(t, plan.Split.StoreCommission+5, credits["store-1"])
	require.Equal(t, plan.Split.PlatformFee, credits[string(PlatformAccount)])
	requireConserved(t, plan, 15)
}

func TestPlanSettlementSellerPaysShipping(t *testing.T) {
	now := time.Now()
	pkg := &Package{
		ID: "2", Seller: "seller-1", Store: "store-1",
		ItemPrice: 100, ShippingFee: 20, Escrowed: 120,
		CreatedAt: now, ExpiresAt: now.Add(24 * time.Hour),
		SellerPaysShipping: true, Status: StatusRegistered,
	}

	// No payment required; anything submitted comes back as change.
	plan := planSettlement(pkg, 3, 100, 200)
	require.Equal(t, uint64(120), plan.Split.Total)
	require.Equal(t, uint64(0), plan.EscrowRefund)
	require.Equal(t, uint64(3), plan.Change)
	requireConserved(t, plan, 3)
}

func TestPlanSettlementConservationProperty(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 1000

	properties := gopter.NewProperties(params)
	properties.Property("inflow equals credits", prop.ForAll(
		func(price, surplus, overpay uint64, platformBps, commissionBps uint32, sellerPays bool) bool {
			pkg := &Package{
				ID: "p", Seller: "s", Store: "c",
				ItemPrice: price, Status: StatusRegistered,
			}
			var payment uint64
			if sellerPays {
				// Seller-funded shipping is the escrow delta above the price.
				pkg.ShippingFee = surplus + 1
				pkg.Escrowed = price + surplus + 1
				payment = overpay
			} else {
				pkg.ShippingFee = surplus
				pkg.Escrowed = price + surplus
				payment = surplus + overpay
			}
			plan := planSettlement(pkg, payment, platformBps, commissionBps)
			var out uint64
			for _, c := range plan.Credits {
				out += c.Amount
			}
			return plan.EscrowDebit+payment == out
		},
		gen.UInt64Range(0, 1<<30),
		gen.UInt64Range(0, 1<<20),
		gen.UInt64Range(0, 1<<20),
		gen.UInt32Range(0, MaxPlatformFeeBps),
		gen.UInt32Range(0, MaxCommissionBps),
		gen.Bool(),
	))
	properties.TestingRun(t)
}

func creditMap(credits []Credit) map[string]uint64 {
	m := make(map[string]uint64, len(credits))
	for _, c := range credits {
		m[string(c.Account)] += c.Amount
	}
	return m
}

func requireConserved(t *testing.T, plan settlementPlan, payment uint64) {
	t.Helper()
	var out uint64
	for _, c := range plan.Credits {
		out += c.Amount
	}
	require.Equal(t, plan.EscrowDebit+payment, out, "inflow must equal the sum of credits")
}
