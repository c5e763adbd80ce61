package domain

import (
	"time"

	"github.com/google/uuid"
)

// RegistrationStatus represents the state of a pending card registration.
type RegistrationStatus string

const (
	RegistrationStatusPending   RegistrationStatus = "PENDING"
	RegistrationStatusCompleted RegistrationStatus = "COMPLETED"
	RegistrationStatusExpired   RegistrationStatus = "EXPIRED"
	RegistrationStatusCancelled RegistrationStatus = "CANCELLED"
)

// DefaultRegistrationTTL is how long a registration waits for the
// NFC-programming app to report the card UID.
const DefaultRegistrationTTL = 15 * time.Minute

// PendingRegistration bridges the intent to register a card and the actual
// UID, which is only known once the NFC app has programmed the chip. It is
// converted into a Card exactly once.
type PendingRegistration struct {
	ID          uuid.UUID          `json:"id"`
	OwnerPubkey string             `json:"owner_pubkey"`
	WalletID    string             `json:"wallet_id"`
	BtcWalletID *string            `json:"btc_wallet_id,omitempty"`
	APIKeyEnc   string             `json:"-"`
	Currency    Currency           `json:"currency"`
	MaxTxAmount *int64             `json:"max_tx_amount,omitempty"`
	DailyLimit  *int64             `json:"daily_limit,omitempty"`
	Environment string             `json:"environment"`
	Status      RegistrationStatus `json:"status"`
	CardID      *uuid.UUID         `json:"card_id,omitempty"`
	ExpiresAt   time.Time          `json:"expires_at"`
	CreatedAt   time.Time          `json:"created_at"`
}

// IsExpired reports whether the registration window has closed.
func (r *PendingRegistration) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// IsUsable reports whether the registration can still be completed.
func (r *PendingRegistration) IsUsable(now time.Time) bool {
	return r.Status == RegistrationStatusPending && !r.IsExpired(now)
}
