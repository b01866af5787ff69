// package.go - The Package record, the unit of anonymous custody.

package pickup

import (
	"math/big"
	"time"
)

// PackageID is the content-addressed package identifier, encoded as the
// decimal string of a field element (see PackageIDFromTrackingCode).
type PackageID string

// Address identifies a principal (seller, store, platform account).
type Address string

// Nullifier is a consumed-once pickup token, encoded as the decimal string
// of a field element.
type Nullifier string

// Status is the stored package lifecycle state. Expiry is derived at read
// time from ExpiresAt; StatusExpired is only ever stored by ReclaimExpired.
type Status string

const (
	StatusRegistered Status = "registered"
	StatusPickedUp   Status = "picked_up"
	StatusExpired    Status = "expired"
)

// Package is a registered parcel awaiting anonymous retrieval.
// BuyerCommitment is the only buyer-related field; no PII is ever stored.
type Package struct {
	ID                 PackageID `json:"id"`
	BuyerCommitment    string    `json:"buyer_commitment"` // decimal field element, nonzero
	Seller             Address   `json:"seller"`
	Store              Address   `json:"store"`
	ItemPrice          uint64    `json:"item_price"`
	ShippingFee        uint64    `json:"shipping_fee"`
	Escrowed           uint64    `json:"escrowed"`
	CreatedAt          time.Time `json:"created_at"`
	ExpiresAt          time.Time `json:"expires_at"`
	MinAge             uint32    `json:"min_age"`
	SellerPaysShipping bool      `json:"seller_pays_shipping"`
	Status             Status    `json:"status"`
}

// ExpiredAt reports whether the pickup window has passed at the given time.
func (p *Package) ExpiredAt(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// PickupOpenAt reports whether the package can still be picked up at the
// given time: stored status Registered and window not yet passed.
func (p *Package) PickupOpenAt(now time.Time) bool {
	return p.Status == StatusRegistered && !p.ExpiredAt(now)
}

// CommitmentInt returns the buyer commitment as a field element.
func (p *Package) CommitmentInt() *big.Int {
	v, _ := new(big.Int).SetString(p.BuyerCommitment, 10)
	return v
}

// IDInt returns the package identifier as a field element.
func (p *Package) IDInt() *big.Int {
	v, _ := new(big.Int).SetString(string(p.ID), 10)
	return v
}

func (p *Package) clone() *Package {
	cp := *p
	return &cp
}
