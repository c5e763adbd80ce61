package domain

import "github.com/shopspring/decimal"

// Currency is the closed set of ledger denominations a card can hold.
// The ledger unit is the smallest unit of the currency: satoshis for BTC,
// cents for USD. Conversions take the exchange rate as cents-per-sat and
// round half-up.
type Currency string

const (
	CurrencyBTC Currency = "BTC"
	CurrencyUSD Currency = "USD"
)

// Static top-up bounds per currency, in ledger units.
const (
	minTopUpSats  = 100
	maxTopUpSats  = 10_000_000
	minTopUpCents = 10
	maxTopUpCents = 100_000
)

// Valid reports whether c is a supported currency.
func (c Currency) Valid() bool {
	return c == CurrencyBTC || c == CurrencyUSD
}

// TopUpBounds returns the inclusive min/max top-up amounts in ledger units.
func (c Currency) TopUpBounds() (min, max int64) {
	if c == CurrencyUSD {
		return minTopUpCents, maxTopUpCents
	}
	return minTopUpSats, maxTopUpSats
}

// FromSats converts a satoshi amount into ledger units of c.
func (c Currency) FromSats(sats int64, centsPerSat decimal.Decimal) int64 {
	if c == CurrencyBTC {
		return sats
	}
	return decimal.NewFromInt(sats).Mul(centsPerSat).Round(0).IntPart()
}

// ToSats converts a ledger-unit amount of c into satoshis.
func (c Currency) ToSats(amount int64, centsPerSat decimal.Decimal) int64 {
	if c == CurrencyBTC {
		return amount
	}
	if centsPerSat.IsZero() {
		return 0
	}
	return decimal.NewFromInt(amount).Div(centsPerSat).Round(0).IntPart()
}
