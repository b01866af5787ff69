// Package pickup implements the anonymous pickup authorization protocol.
//
// Overview:
//   - Sellers register escrowed parcels for retrieval at an authorized store
//   - Buyers are represented only by a MiMC commitment to private attributes
//   - Pickup is gated by a zero-knowledge proof bound to the stored package
//     record (package id, commitment, store, timestamp, minimum age, nullifier)
//   - A consumed-nullifier ledger blocks replay; settlement splits the escrow
//     between seller, store commission, and platform fee atomically with the
//     Registered -> PickedUp transition
//
// Security Model:
//   - Uses MiMC (BW6-761 scalar field) for commitments and nullifier PRFs,
//     matching the in-circuit gadget of internal/circuit
//   - Proofs are verified through the ProofVerifier capability (Groth16 in
//     production, static verifiers in tests); a rejected proof leaves all
//     state untouched
//   - Public signals are always rebuilt from the stored package record, never
//     from caller-supplied copies
//   - All randomness is generated using crypto/rand
//
// The authoritative state (package table, nullifier set, balances, events)
// lives behind the Repository interface; every registration, pickup, and
// reclaim commits as one indivisible unit.
package pickup
