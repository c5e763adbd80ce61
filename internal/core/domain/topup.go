package domain

import (
	"time"

	"github.com/google/uuid"
)

// PendingTopUpTTL bounds how long an unpaid top-up invoice is tracked.
const PendingTopUpTTL = time.Hour

// PendingTopUp records an issued top-up invoice awaiting settlement, keyed by
// its Lightning payment hash. The durable store is authoritative; the Redis
// mirror only shortens the lookup path.
type PendingTopUp struct {
	PaymentHash string    `json:"payment_hash"`
	CardID      uuid.UUID `json:"card_id"`
	AmountSats  int64     `json:"amount_sats"` // invoices are always sat-denominated
	Currency    Currency  `json:"currency"`    // ledger currency the credit lands in
	Processed   bool      `json:"processed"`
	ExpiresAt   time.Time `json:"expires_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// IsExpired reports whether the invoice tracking window has closed.
func (p *PendingTopUp) IsExpired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}
