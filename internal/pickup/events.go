// events.go - Append-only protocol event log.
//
// Events carry no buyer PII: the only buyer-related value ever emitted is the
// commitment, which is already public.

package pickup

import "time"

// EventType discriminates protocol events.
type EventType string

const (
	EventSellerRegistered  EventType = "SellerRegistered"
	EventStoreAuthorized   EventType = "StoreAuthorized"
	EventStoreDeauthorized EventType = "StoreDeauthorized"
	EventPackageRegistered EventType = "PackageRegistered"
	EventPackagePickedUp   EventType = "PackagePickedUp"
	EventPaymentProcessed  EventType = "PaymentProcessed"
	EventPackageReclaimed  EventType = "PackageReclaimed"
)

// Event is one append-only log entry, indexed by package id and principals.
type Event struct {
	Type       EventType         `json:"type"`
	At         time.Time         `json:"at"`
	PackageID  PackageID         `json:"package_id,omitempty"`
	Seller     Address           `json:"seller,omitempty"`
	Store      Address           `json:"store,omitempty"`
	Commitment string            `json:"commitment,omitempty"`
	Nullifier  Nullifier         `json:"nullifier,omitempty"`
	Amounts    map[string]uint64 `json:"amounts,omitempty"`
}
