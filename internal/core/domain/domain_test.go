package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func int64p(v int64) *int64 { return &v }

func TestCard_StatusPredicates(t *testing.T) {
	tests := []struct {
		status   CardStatus
		active   bool
		canTopUp bool
	}{
		{CardStatusPending, false, true},
		{CardStatusActive, true, true},
		{CardStatusDisabled, false, false},
		{CardStatusWiped, false, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			c := &Card{Status: tt.status}
			assert.Equal(t, tt.active, c.IsActive())
			assert.Equal(t, tt.canTopUp, c.CanTopUp())
		})
	}
}

func TestCard_MaxWithdrawable(t *testing.T) {
	now := time.Now()
	future := now.Add(6 * time.Hour)

	tests := []struct {
		name string
		card Card
		want int64
	}{
		{"balance only", Card{Balance: 1000, DailyResetAt: future}, 1000},
		{"per-tx cap", Card{Balance: 1000, MaxTxAmount: int64p(500), DailyResetAt: future}, 500},
		{"daily allowance", Card{Balance: 1000, MaxTxAmount: int64p(500), DailyLimit: int64p(800), DailySpent: 500, DailyResetAt: future}, 300},
		{"daily exhausted", Card{Balance: 1000, DailyLimit: int64p(800), DailySpent: 800, DailyResetAt: future}, 0},
		{"daily overspent clamps", Card{Balance: 1000, DailyLimit: int64p(800), DailySpent: 900, DailyResetAt: future}, 0},
		{"reset due ignores spent", Card{Balance: 1000, DailyLimit: int64p(800), DailySpent: 800, DailyResetAt: now.Add(-time.Minute)}, 800},
		{"zero balance", Card{Balance: 0, DailyResetAt: future}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.card.MaxWithdrawable(now))
		})
	}
}

func TestCard_InvoiceWalletID(t *testing.T) {
	btcSide := "btc-wallet"

	usd := Card{Currency: CurrencyUSD, WalletID: "usd-wallet", BtcWalletID: &btcSide}
	assert.Equal(t, "btc-wallet", usd.InvoiceWalletID())
	assert.Equal(t, "usd-wallet", usd.SpendWalletID())

	btc := Card{Currency: CurrencyBTC, WalletID: "sat-wallet"}
	assert.Equal(t, "sat-wallet", btc.InvoiceWalletID())
}

func TestNextDailyReset(t *testing.T) {
	now := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), NextDailyReset(now))
}

func TestCurrency_Conversions(t *testing.T) {
	rate := decimal.RequireFromString("0.075") // cents per sat

	// BTC is identity.
	assert.Equal(t, int64(1234), CurrencyBTC.FromSats(1234, rate))
	assert.Equal(t, int64(1234), CurrencyBTC.ToSats(1234, rate))

	// 1000 sats * 0.075 = 75 cents
	assert.Equal(t, int64(75), CurrencyUSD.FromSats(1000, rate))
	// 75 cents / 0.075 = 1000 sats
	assert.Equal(t, int64(1000), CurrencyUSD.ToSats(75, rate))

	// Round half-up: 10 sats * 0.075 = 0.75 -> 1 cent
	assert.Equal(t, int64(1), CurrencyUSD.FromSats(10, rate))
	// 6 sats * 0.075 = 0.45 -> 0 cents
	assert.Equal(t, int64(0), CurrencyUSD.FromSats(6, rate))

	// Zero rate guards division.
	assert.Equal(t, int64(0), CurrencyUSD.ToSats(75, decimal.Zero))
}

func TestCurrency_TopUpBounds(t *testing.T) {
	min, max := CurrencyBTC.TopUpBounds()
	assert.Equal(t, int64(100), min)
	assert.Equal(t, int64(10_000_000), max)

	min, max = CurrencyUSD.TopUpBounds()
	assert.Equal(t, int64(10), min)
	assert.Equal(t, int64(100_000), max)

	assert.True(t, CurrencyBTC.Valid())
	assert.False(t, Currency("EUR").Valid())
}

func TestPendingRegistration_Lifecycle(t *testing.T) {
	now := time.Now()
	r := &PendingRegistration{Status: RegistrationStatusPending, ExpiresAt: now.Add(time.Minute)}
	assert.True(t, r.IsUsable(now))

	r.ExpiresAt = now.Add(-time.Second)
	assert.True(t, r.IsExpired(now))
	assert.False(t, r.IsUsable(now))

	r.ExpiresAt = now.Add(time.Minute)
	r.Status = RegistrationStatusCompleted
	assert.False(t, r.IsUsable(now))
}
