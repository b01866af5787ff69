// identity.go - Buyer-side identity material.
//
// A BuyerIdentity holds the private attributes behind a commitment. It lives
// with the buyer client (the proving side); the registry only ever stores the
// commitment and can never reverse it.

package pickup

import "math/big"

// BuyerIdentity is the preimage of a buyer commitment.
type BuyerIdentity struct {
	Secret      *big.Int // random field element, never shared
	NameHash    *big.Int // hash of the buyer's name (from the scanned document)
	PhoneDigits *big.Int // partial phone digits as a small integer
}

// NewBuyerIdentity samples a fresh secret and binds it to the given public
// attributes.
func NewBuyerIdentity(name string, phoneDigits uint64) *BuyerIdentity {
	return &BuyerIdentity{
		Secret:      randomFieldElement(),
		NameHash:    HashStringToField(name),
		PhoneDigits: new(big.Int).SetUint64(phoneDigits),
	}
}

// Commitment derives the public commitment for this identity.
func (id *BuyerIdentity) Commitment() *big.Int {
	return Commitment(id.Secret, id.NameHash, id.PhoneDigits)
}

// Nullifier derives the single-use pickup token for a package/store pair.
// A fresh nonce yields a fresh nullifier for each attempt.
func (id *BuyerIdentity) Nullifier(packageID, storeID, nonce *big.Int) *big.Int {
	return NullifierValue(id.Secret, packageID, storeID, nonce)
}
