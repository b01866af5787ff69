// roles.go - Seller, store, and buyer-telemetry registry entries.
//
// Stores are authorized by the contract owner with a capped commission rate;
// sellers self-register. Buyer stats are telemetry keyed by whatever identity
// the store supplies at pickup time, never by the commitment.

package pickup

import "time"

// Fee rate caps, in basis points of FeeDenominator.
const (
	MaxCommissionBps  = 1000 // 10%
	MaxPlatformFeeBps = 500  // 5%
)

// Seller is a registered sender of packages.
type Seller struct {
	Address              Address   `json:"address"`
	Registered           bool      `json:"registered"`
	TotalPackages        uint64    `json:"total_packages"`
	SuccessfulDeliveries uint64    `json:"successful_deliveries"`
	RegisteredAt         time.Time `json:"registered_at"`
}

// StoreInfo is an authorized pickup location.
type StoreInfo struct {
	Address       Address `json:"address"`
	Authorized    bool    `json:"authorized"`
	Name          string  `json:"name"`
	Location      string  `json:"location"`
	CommissionBps uint32  `json:"commission_bps"`
	TotalPickups  uint64  `json:"total_pickups"`
}

// BuyerStats is optional pickup telemetry.
type BuyerStats struct {
	Ref          Address   `json:"ref"`
	TotalPickups uint64    `json:"total_pickups"`
	LastPickup   time.Time `json:"last_pickup"`
}
