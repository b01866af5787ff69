// verifier.go - The proof verification capability consumed by the registry.
//
// The proving system (circuit compilation, trusted setup, witness generation)
// is external; the core treats it as an untrusted-but-deterministic oracle.
// internal/circuit provides the Groth16-backed implementation.

package pickup

import "math/big"

// Indices into the public-signal tuple. Binding every registered field into
// the signals is what prevents proof reuse across contexts: omit any one and
// the same proof replays at a different store or for a different package.
const (
	SignalPackageID = iota
	SignalCommitment
	SignalStore
	SignalTimestamp
	SignalMinAge
	SignalNullifier
	NumPublicSignals
)

// PublicSignals is the ordered tuple
// [packageID, buyerCommitment, storeID, attestedTime, minAge, nullifier].
type PublicSignals [NumPublicSignals]*big.Int

// ProofVerifier decides whether an opaque proof is valid for the given
// public signals. A returned error and a returned false are treated
// identically by the registry: reject, no state change.
type ProofVerifier interface {
	Verify(proof []byte, signals PublicSignals) (bool, error)
}

// StaticVerifier accepts or rejects every proof unconditionally. Test double
// for exercising the registry without a proving system.
type StaticVerifier struct {
	Accept bool
}

func (v StaticVerifier) Verify([]byte, PublicSignals) (bool, error) {
	return v.Accept, nil
}
