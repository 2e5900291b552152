package models

import (
	"time"
)

// PremiumPurchase represents one time-bounded entitlement grant.
// A user may hold several concurrently valid purchases; the effective
// quota is the sum of increments over the currently valid set.
type PremiumPurchase struct {
	ID               string    `json:"id" db:"id"`
	UserID           int64     `json:"user_id" db:"user_id"`
	PurchasedAt      time.Time `json:"purchased_at" db:"purchased_at"`
	ExpiresAt        time.Time `json:"expires_at" db:"expires_at"`
	RequestIncrement int       `json:"request_increment" db:"request_increment"`
	TargetIncrement  int       `json:"target_increment" db:"target_increment"`
}

// Valid reports whether the purchase still contributes quota at the given time
func (p *PremiumPurchase) Valid(now time.Time) bool {
	return !p.ExpiresAt.Before(now)
}
