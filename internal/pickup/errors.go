// errors.go - Stable error kinds for the pickup protocol.
//
// Every failure path surfaces exactly one of these sentinels (possibly
// wrapped with context); callers match with errors.Is. A failed call leaves
// all balances and mappings exactly as they were pre-call.

package pickup

import "errors"

// Validation errors: bad input shape or range, rejected before any state read.
var (
	ErrZeroCommitment   = errors.New("buyer commitment must be nonzero")
	ErrInvalidPackageID = errors.New("package id is not a valid field element")
	ErrInvalidWindow    = errors.New("pickup window out of range")
	ErrInvalidRate      = errors.New("fee rate exceeds cap")
	ErrInvalidBundle    = errors.New("malformed proof bundle")
)

// Authorization errors.
var (
	ErrNotOwner           = errors.New("caller is not the contract owner")
	ErrUnauthorizedSeller = errors.New("caller is not a registered seller")
	ErrUnauthorizedStore  = errors.New("store is not authorized")
	ErrWrongStore         = errors.New("caller is not the store bound to this package")
)

// State conflicts: a race or replay; prior state is always left intact.
var (
	ErrDuplicatePackage = errors.New("package id already registered")
	ErrPackageNotFound  = errors.New("package not found")
	ErrAlreadyPickedUp  = errors.New("package already picked up")
	ErrPackageExpired   = errors.New("package pickup window has expired")
	ErrNotExpired       = errors.New("package pickup window has not expired")
	ErrNullifierUsed    = errors.New("nullifier already consumed")
)

// Funds errors: rejected before any transfer.
var (
	ErrInsufficientFunds    = errors.New("escrowed funds below required amount")
	ErrInsufficientShipping = errors.New("shipping payment below shipping fee")
)

// ErrInvalidProof is non-retriable with the same proof; the presenter must
// obtain a fresh one. A verifier error and a verifier "false" are treated
// identically.
var ErrInvalidProof = errors.New("proof rejected")
