// verifier.go - Groth16-backed implementation of the registry's
// ProofVerifier capability.

package circuit

import (
	"bytes"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"

	"anonpickup/internal/pickup"
)

// Groth16Verifier verifies pickup proofs against a fixed verifying key.
type Groth16Verifier struct {
	vk groth16.VerifyingKey
}

// NewGroth16Verifier wraps a verifying key.
func NewGroth16Verifier(vk groth16.VerifyingKey) *Groth16Verifier {
	return &Groth16Verifier{vk: vk}
}

// LoadGroth16Verifier reads the verifying key from disk.
func LoadGroth16Verifier(vkPath string) (*Groth16Verifier, error) {
	vk, err := LoadVerifyingKey(vkPath)
	if err != nil {
		return nil, fmt.Errorf("load verifying key: %w", err)
	}
	return &Groth16Verifier{vk: vk}, nil
}

// Verify rebuilds the public witness from the signal tuple and checks the
// proof. A malformed proof or a failed pairing check is a clean reject
// (false, nil); only witness construction problems surface as errors, and
// the registry treats those identically anyway.
func (v *Groth16Verifier) Verify(proof []byte, signals pickup.PublicSignals) (bool, error) {
	witness := &PickupCircuit{
		PackageID:       signals[pickup.SignalPackageID],
		BuyerCommitment: signals[pickup.SignalCommitment],
		StoreID:         signals[pickup.SignalStore],
		CurrentTime:     signals[pickup.SignalTimestamp],
		MinAge:          signals[pickup.SignalMinAge],
		Nullifier:       signals[pickup.SignalNullifier],
	}
	w, err := frontend.NewWitness(witness, ecc.BW6_761.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return false, fmt.Errorf("public witness creation failed: %w", err)
	}
	p := groth16.NewProof(ecc.BW6_761)
	if _, err := p.ReadFrom(bytes.NewReader(proof)); err != nil {
		return false, nil
	}
	if err := groth16.Verify(p, v.vk, w); err != nil {
		return false, nil
	}
	return true, nil
}

var _ pickup.ProofVerifier = (*Groth16Verifier)(nil)
