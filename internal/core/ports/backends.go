package ports

import (
	"context"

	"github.com/shopspring/decimal"
)

// InvoiceState is the wallet backend's view of an invoice.
type InvoiceState string

const (
	InvoiceStatePending InvoiceState = "PENDING"
	InvoiceStatePaid    InvoiceState = "PAID"
	InvoiceStateExpired InvoiceState = "EXPIRED"
)

// Invoice is a freshly created invoice on the wallet backend.
type Invoice struct {
	PaymentRequest string
	PaymentHash    string
}

// WalletBackend is the Lightning payment/invoice provider. All calls carry
// bounded timeouts; a timeout is treated as failure and triggers rollback
// where applicable.
type WalletBackend interface {
	// PayInvoice pays a BOLT11 invoice from the given wallet and returns the
	// payment hash.
	PayInvoice(ctx context.Context, apiKey, walletID, bolt11 string) (string, error)
	// CreateInvoice creates a sat-denominated invoice on the given wallet.
	CreateInvoice(ctx context.Context, apiKey, walletID string, amountSats int64, memo string) (*Invoice, error)
	// InvoiceStatus reports settlement state for a payment hash.
	InvoiceStatus(ctx context.Context, apiKey, walletID, paymentHash string) (InvoiceState, error)
	// Transfer moves sats between two wallets of the same account; used to
	// bridge settled sats into a USD-denominated wallet.
	Transfer(ctx context.Context, apiKey, fromWalletID, toWalletID string, amountSats int64, memo string) error
}

// RateProvider supplies the exchange rate as cents-per-sat. Sourcing the
// rate is out of scope; implementations only surface a value.
type RateProvider interface {
	CentsPerSat(ctx context.Context) (decimal.Decimal, error)
}
