// settlement.go - Fee split computation and disbursement plan.
//
// All three splits are computed from the same total snapshot; the integer
// division remainder is allotted to the seller, so the parts always sum to
// the total exactly.

package pickup

// FeeDenominator is the basis-point denominator for all fee rates.
const FeeDenominator = 10000

// Well-known internal accounts.
const (
	EscrowAccount   Address = "@escrow"
	PlatformAccount Address = "@platform"
)

// Split is the three-way division of a settlement total.
type Split struct {
	Total           uint64 `json:"total"`
	SellerAmount    uint64 `json:"seller_amount"`
	StoreCommission uint64 `json:"store_commission"`
	PlatformFee     uint64 `json:"platform_fee"`
}

// ComputeSplit divides total between seller, store, and platform.
// Requires platformBps + commissionBps < FeeDenominator, which the registry
// enforces at configuration and store-authorization time, so SellerAmount
// can never go negative.
func ComputeSplit(total uint64, platformBps, commissionBps uint32) Split {
	platformFee := total * uint64(platformBps) / FeeDenominator
	commission := total * uint64(commissionBps) / FeeDenominator
	return Split{
		Total:           total,
		SellerAmount:    total - platformFee - commission,
		StoreCommission: commission,
		PlatformFee:     platformFee,
	}
}

// Credit is a single balance credit applied during a commit.
type Credit struct {
	Account Address `json:"account"`
	Amount  uint64  `json:"amount"`
}

// settlementPlan is the full disbursement for one pickup: the fee split plus
// any escrow surplus returned to the seller and shipping change returned to
// the caller. Inflow (escrow debit + shipping payment) always equals the sum
// of the credits.
type settlementPlan struct {
	Split        Split
	EscrowDebit  uint64
	EscrowRefund uint64 // escrow beyond price+shipping, back to the seller
	Change       uint64 // shipping overpayment, back to the calling store
	Credits      []Credit
}

// planSettlement computes the disbursement for a package given the shipping
// payment submitted with the pickup call.
func planSettlement(pkg *Package, shippingPayment uint64, platformBps, commissionBps uint32) settlementPlan {
	// Shipping is either pre-escrowed by the seller at registration or paid
	// in this call; either way exactly ShippingFee enters the settled total.
	total := pkg.ItemPrice + pkg.ShippingFee
	split := ComputeSplit(total, platformBps, commissionBps)

	var escrowRefund, change uint64
	if pkg.SellerPaysShipping {
		// Escrowed == ItemPrice + ShippingFee by construction; any payment
		// submitted anyway is returned untouched.
		change = shippingPayment
	} else {
		escrowRefund = pkg.Escrowed - pkg.ItemPrice
		change = shippingPayment - pkg.ShippingFee
	}

	credits := []Credit{
		{Account: pkg.Seller, Amount: split.SellerAmount + escrowRefund},
		{Account: pkg.Store, Amount: split.StoreCommission + change},
		{Account: PlatformAccount, Amount: split.PlatformFee},
	}
	return settlementPlan{
		Split:        split,
		EscrowDebit:  pkg.Escrowed,
		EscrowRefund: escrowRefund,
		Change:       change,
		Credits:      credits,
	}
}
