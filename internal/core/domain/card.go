package domain

import (
	"time"

	"github.com/google/uuid"
)

// CardStatus represents the lifecycle state of a card.
// PENDING -> ACTIVE <-> DISABLED, with WIPED terminal.
type CardStatus string

const (
	CardStatusPending  CardStatus = "PENDING"
	CardStatusActive   CardStatus = "ACTIVE"
	CardStatusDisabled CardStatus = "DISABLED"
	CardStatusWiped    CardStatus = "WIPED"
)

// Card is the aggregate root: an NFC payment card with its derived-key
// identity, anti-replay counter and spending ledger state.
//
// Invariants, enforced by conditional updates at the storage layer:
// Balance never goes negative, DailySpent never exceeds DailyLimit while one
// is set, and LastCounter only increases.
type Card struct {
	ID          uuid.UUID  `json:"id"`
	OwnerPubkey string     `json:"owner_pubkey"`
	IssuerKeyID uuid.UUID  `json:"-"`
	UID         string     `json:"-"`       // 7-byte NFC UID, lower-case hex; never exposed
	IDHash      string     `json:"id_hash"` // privacy-preserving derived identifier
	Version     int        `json:"version"` // incremented on re-programming
	LastCounter uint32     `json:"last_counter"`
	Balance     int64      `json:"balance"` // smallest unit of Currency
	Currency    Currency   `json:"currency"`
	MaxTxAmount *int64     `json:"max_tx_amount,omitempty"`
	DailyLimit  *int64     `json:"daily_limit,omitempty"`
	DailySpent  int64      `json:"daily_spent"`
	DailyResetAt time.Time `json:"daily_reset_at"`
	Status      CardStatus `json:"status"`
	WalletID    string     `json:"wallet_id"`
	BtcWalletID *string    `json:"btc_wallet_id,omitempty"` // sat-denominated side, USD cards only
	APIKeyEnc   string     `json:"-"`                       // encrypted wallet-backend key
	Environment string     `json:"environment"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// IsActive returns true if the card can spend.
func (c *Card) IsActive() bool {
	return c.Status == CardStatusActive
}

// CanTopUp returns true if the card can receive funds.
func (c *Card) CanTopUp() bool {
	return c.Status == CardStatusPending || c.Status == CardStatusActive
}

// EffectiveDailySpent returns DailySpent as of now, accounting for a daily
// reset that is due but has not been applied lazily yet.
func (c *Card) EffectiveDailySpent(now time.Time) int64 {
	if !c.DailyResetAt.After(now) {
		return 0
	}
	return c.DailySpent
}

// MaxWithdrawable computes the spendable amount in ledger units:
// min(balance, per-tx cap, remaining daily allowance).
func (c *Card) MaxWithdrawable(now time.Time) int64 {
	max := c.Balance
	if c.MaxTxAmount != nil && *c.MaxTxAmount < max {
		max = *c.MaxTxAmount
	}
	if c.DailyLimit != nil {
		remaining := *c.DailyLimit - c.EffectiveDailySpent(now)
		if remaining < 0 {
			remaining = 0
		}
		if remaining < max {
			max = remaining
		}
	}
	if max < 0 {
		return 0
	}
	return max
}

// SpendWalletID returns the wallet the card pays from and is credited to.
func (c *Card) SpendWalletID() string {
	return c.WalletID
}

// InvoiceWalletID returns the wallet invoices are created on and polled
// against. Invoices are always denominated in sats, so USD cards use their
// BTC-side wallet when one is configured.
func (c *Card) InvoiceWalletID() string {
	if c.Currency == CurrencyUSD && c.BtcWalletID != nil && *c.BtcWalletID != "" {
		return *c.BtcWalletID
	}
	return c.WalletID
}

// NextDailyReset returns the following midnight UTC after now.
func NextDailyReset(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
}
