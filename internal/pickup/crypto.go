// crypto.go - Cryptographic primitives for the pickup protocol.
//
// Implements the MiMC-based commitment and nullifier PRFs over the BW6-761
// scalar field. Every input is canonicalized to one field element before
// hashing so the native digest matches the in-circuit MiMC gadget
// element-for-element.

package pickup

import (
	"crypto/rand"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bw6-761/fr"
	mimcNative "github.com/consensys/gnark-crypto/ecc/bw6-761/fr/mimc"
)

// FieldModulus is the scalar field order shared with the proving circuit.
func FieldModulus() *big.Int {
	return fr.Modulus()
}

// hashFields computes MiMC over the given values, each reduced to a single
// field element. This is the only hashing discipline the circuit can mirror.
func hashFields(vals ...*big.Int) *big.Int {
	h := mimcNative.NewMiMC()
	for _, v := range vals {
		var el fr.Element
		el.SetBigInt(v)
		b := el.Bytes()
		h.Write(b[:])
	}
	return new(big.Int).SetBytes(h.Sum(nil))
}

// fieldFromBytes maps arbitrary bytes into the scalar field.
func fieldFromBytes(data []byte) *big.Int {
	v := new(big.Int).SetBytes(data)
	return v.Mod(v, fr.Modulus())
}

// randomFieldElement samples a uniform nonzero field element.
func randomFieldElement() *big.Int {
	var el fr.Element
	el.SetRandom()
	return el.BigInt(new(big.Int))
}

// randomBytes generates n random bytes using crypto/rand.
func randomBytes(n int) []byte {
	b := make([]byte, n)
	rand.Read(b)
	return b
}

// Commitment binds private buyer attributes into a single public field
// element: cm = MiMC(secret, nameHash, phoneDigits). One-way; sellers and
// stores only ever see cm.
func Commitment(secret, nameHash, phoneDigits *big.Int) *big.Int {
	return hashFields(secret, nameHash, phoneDigits)
}

// NullifierValue derives the single-use pickup token:
// nf = MiMC(secret, packageID, storeID, nonce). Distinct per attempt via the
// nonce, underivable without the buyer secret.
func NullifierValue(secret, packageID, storeID, nonce *big.Int) *big.Int {
	return hashFields(secret, packageID, storeID, nonce)
}

// PackageIDFromTrackingCode content-addresses a human-readable tracking code.
func PackageIDFromTrackingCode(code string) PackageID {
	id := hashFields(fieldFromBytes([]byte(code)))
	return PackageID(id.String())
}

// AddressField maps a principal address into the scalar field. The proving
// circuit binds the store identity through this mapping, so prover and
// verifier must agree on it.
func AddressField(addr Address) *big.Int {
	return hashFields(fieldFromBytes([]byte(addr)))
}

// HashStringToField is the generic attribute hash used by buyer clients
// (e.g. name hash from the scanned document).
func HashStringToField(s string) *big.Int {
	return hashFields(fieldFromBytes([]byte(s)))
}
