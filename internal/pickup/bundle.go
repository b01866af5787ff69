// bundle.go - The proof bundle a buyer hands to the store.
//
// The bundle is the QR payload of the client app: the opaque Groth16 proof,
// the nullifier, and the timestamp the proof attests to. Encoded as compact
// CBOR with integer keys so it fits a QR code comfortably.

package pickup

import (
	"fmt"
	"math/big"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// MaxBundleSize caps the accepted encoded bundle. Groth16 proofs on BW6-761
// are a few hundred bytes; anything far beyond that is garbage.
const MaxBundleSize = 8 << 10

// ProofBundle carries one pickup authorization attempt.
type ProofBundle struct {
	Proof      []byte `cbor:"1,keyasint"`
	Nullifier  string `cbor:"2,keyasint"` // decimal field element
	AttestedAt int64  `cbor:"3,keyasint"` // unix seconds the proof binds
}

// NewProofBundle assembles a bundle from prover output.
func NewProofBundle(proof []byte, nullifier *big.Int, attestedAt time.Time) *ProofBundle {
	return &ProofBundle{
		Proof:      proof,
		Nullifier:  nullifier.String(),
		AttestedAt: attestedAt.Unix(),
	}
}

// Encode serializes the bundle to CBOR.
func (b *ProofBundle) Encode() ([]byte, error) {
	data, err := cbor.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("encode proof bundle: %w", err)
	}
	return data, nil
}

// DecodeProofBundle parses and validates an encoded bundle.
func DecodeProofBundle(data []byte) (*ProofBundle, error) {
	if len(data) == 0 || len(data) > MaxBundleSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidBundle, len(data))
	}
	var b ProofBundle
	if err := cbor.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBundle, err)
	}
	if len(b.Proof) == 0 {
		return nil, fmt.Errorf("%w: empty proof", ErrInvalidBundle)
	}
	if _, ok := b.nullifierInt(); !ok {
		return nil, fmt.Errorf("%w: bad nullifier encoding", ErrInvalidBundle)
	}
	return &b, nil
}

// NullifierValue returns the bundle's nullifier as a field element, or nil
// if the encoding is invalid.
func (b *ProofBundle) NullifierValue() *big.Int {
	v, ok := b.nullifierInt()
	if !ok {
		return nil
	}
	return v
}

// AttestedTime returns the timestamp the proof binds.
func (b *ProofBundle) AttestedTime() time.Time {
	return time.Unix(b.AttestedAt, 0)
}

func (b *ProofBundle) nullifierInt() (*big.Int, bool) {
	v, ok := new(big.Int).SetString(b.Nullifier, 10)
	if !ok || v.Sign() < 0 {
		return nil, false
	}
	return v, true
}
