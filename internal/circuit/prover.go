// prover.go - Buyer-side proof generation.
//
// This is the client counterpart of the registry's verification gateway: it
// derives the nullifier, builds the full witness, and produces the opaque
// Groth16 proof the buyer hands to the store inside a proof bundle.

package circuit

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"

	"anonpickup/internal/pickup"
)

// Prover holds the compiled circuit and proving key.
type Prover struct {
	ccs constraint.ConstraintSystem
	pk  groth16.ProvingKey
}

// NewProver wraps a compiled constraint system and proving key.
func NewProver(ccs constraint.ConstraintSystem, pk groth16.ProvingKey) *Prover {
	return &Prover{ccs: ccs, pk: pk}
}

// PickupClaim is everything a buyer needs to authorize one pickup attempt.
type PickupClaim struct {
	Identity  *pickup.BuyerIdentity
	BirthTime time.Time // from the client age-scan step; never leaves the witness
	PackageID *big.Int
	Store     pickup.Address
	MinAge    uint32
	Attested  time.Time // timestamp bound into the public signals
}

// Prove generates a proof bundle for the claim. The nonce is sampled fresh,
// so every call yields a distinct nullifier.
func (p *Prover) Prove(claim PickupClaim) (*pickup.ProofBundle, error) {
	nonce := new(big.Int).SetBytes(randomNonce())
	storeID := pickup.AddressField(claim.Store)
	nullifier := claim.Identity.Nullifier(claim.PackageID, storeID, nonce)

	witness := &PickupCircuit{
		PackageID:       claim.PackageID,
		BuyerCommitment: claim.Identity.Commitment(),
		StoreID:         storeID,
		CurrentTime:     big.NewInt(claim.Attested.Unix()),
		MinAge:          big.NewInt(int64(claim.MinAge)),
		Nullifier:       nullifier,
		Secret:          claim.Identity.Secret,
		NameHash:        claim.Identity.NameHash,
		PhoneDigits:     claim.Identity.PhoneDigits,
		BirthTime:       big.NewInt(claim.BirthTime.Unix()),
		Nonce:           nonce,
	}
	w, err := frontend.NewWitness(witness, ecc.BW6_761.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("witness creation failed: %w", err)
	}
	proof, err := groth16.Prove(p.ccs, p.pk, w)
	if err != nil {
		return nil, fmt.Errorf("proof generation failed: %w", err)
	}
	var buf bytes.Buffer
	if _, err := proof.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("proof marshaling failed: %w", err)
	}
	return pickup.NewProofBundle(buf.Bytes(), nullifier, claim.Attested), nil
}

// randomNonce samples 32 bytes, well inside the 377-bit scalar field.
func randomNonce() []byte {
	b := make([]byte, 32)
	rand.Read(b)
	return b
}
