package ports

import (
	"context"

	"boltcard-service/internal/core/domain"
	"boltcard-service/internal/ntag424"

	"github.com/google/uuid"
)

// EncryptionService handles at-rest encryption of opaque key material
// (issuer keys, wallet API keys).
type EncryptionService interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// --- Ledger ---

// CreateCardParams holds everything needed to mint a card.
type CreateCardParams struct {
	OwnerPubkey string
	UID         string // 7-byte hex, any case
	WalletID    string
	BtcWalletID *string
	APIKeyEnc   string // already encrypted
	Currency    domain.Currency
	MaxTxAmount *int64
	DailyLimit  *int64
	Environment string
}

// LedgerService owns card lifecycle, balance accounting and issuer keys.
// All mutations are atomic; no debit can leave a negative balance and no
// credit lands on a wiped card.
type LedgerService interface {
	CreateCard(ctx context.Context, params CreateCardParams) (*domain.Card, error)
	ReprogramCard(ctx context.Context, cardID uuid.UUID) (*domain.Card, error)
	PurgeCard(ctx context.Context, cardID uuid.UUID) error

	GetCard(ctx context.Context, cardID uuid.UUID) (*domain.Card, error)
	GetCardByIDHash(ctx context.Context, idHash string) (*domain.Card, error)
	GetCardByUID(ctx context.Context, uid string) (*domain.Card, error)

	// Debit enforces balance, per-transaction and daily limits, lazily
	// resetting the daily window first, and records a WITHDRAW transaction.
	Debit(ctx context.Context, cardID uuid.UUID, amount int64, paymentHash, description string) (int64, error)
	// Credit records a TOPUP (or ADJUST) transaction with the new balance.
	Credit(ctx context.Context, cardID uuid.UUID, amount int64, paymentHash, description string) (int64, error)
	// RollbackDebit restores a debited amount after a failed payment.
	RollbackDebit(ctx context.Context, cardID uuid.UUID, amount int64, description string) error

	UpdateLastCounter(ctx context.Context, cardID uuid.UUID, counter uint32) (bool, error)

	ActivateCard(ctx context.Context, cardID uuid.UUID) error
	DisableCard(ctx context.Context, cardID uuid.UUID) error
	EnableCard(ctx context.Context, cardID uuid.UUID) error
	WipeCard(ctx context.Context, cardID uuid.UUID) error

	ListTransactions(ctx context.Context, cardID uuid.UUID, limit int) ([]domain.Transaction, error)

	// IssuerKeyForOwner returns the owner's root key, creating it on first
	// use. The returned key is the decrypted 16-byte secret.
	IssuerKeyForOwner(ctx context.Context, ownerPubkey string) ([]byte, error)
	// CardKeys derives the card's K0..K4 from its issuer key.
	CardKeys(ctx context.Context, card *domain.Card) (*ntag424.CardKeys, error)
}

// --- Withdraw protocol (LNURL-withdraw) ---

// WithdrawRequestResult is the LUD-03 withdraw offer.
type WithdrawRequestResult struct {
	Callback           string
	K1                 string // card id hash
	MinWithdrawableMsat int64
	MaxWithdrawableMsat int64
	DefaultDescription string
}

// WithdrawService turns verified card taps into paid invoices.
type WithdrawService interface {
	// HandleRequest authenticates a tap (p/c query params, hex) and returns
	// the withdraw offer.
	HandleRequest(ctx context.Context, cardIDHash, piccHex, macHex, callbackURL string) (*WithdrawRequestResult, error)
	// HandleCallback debits the card and pays the invoice, rolling the debit
	// back if the payment fails. Returns the payment hash.
	HandleCallback(ctx context.Context, cardIDHash, invoice string) (string, error)
}

// --- Top-up protocol (LNURL-pay) ---

// PayRequestResult is the LUD-06 metadata offer.
type PayRequestResult struct {
	Callback        string
	MinSendableMsat int64
	MaxSendableMsat int64
	Metadata        string // JSON-encoded [["text/plain",...],["text/identifier",...]]
	CommentAllowed  int
}

// PayCallbackResult carries the created invoice.
type PayCallbackResult struct {
	PaymentRequest string
	PaymentHash    string
	SuccessMessage string
}

// TopUpService issues top-up invoices and reconciles settled ones into
// ledger credits.
type TopUpService interface {
	PayRequest(ctx context.Context, cardIDHash, callbackURL string) (*PayRequestResult, error)
	PayCallback(ctx context.Context, cardIDHash string, amountMsat int64, comment string) (*PayCallbackResult, error)
	// ProcessPayment credits the ledger for a settled invoice. Idempotent on
	// payment hash: the second call is a no-op.
	ProcessPayment(ctx context.Context, paymentHash string) error
	// CheckPending polls the wallet backend for all of a card's outstanding
	// top-ups, crediting PAID ones and pruning EXPIRED ones. Returns how
	// many were credited.
	CheckPending(ctx context.Context, cardIDHash string) (int, error)
}

// --- Registration ---

// CreateRegistrationParams holds input for a deferred card registration.
type CreateRegistrationParams struct {
	OwnerPubkey string
	WalletID    string
	BtcWalletID *string
	APIKey      string // plaintext; encrypted before persisting
	Currency    domain.Currency
	MaxTxAmount *int64
	DailyLimit  *int64
	Environment string
}

// CardKeysResult is the NFC-programmer payload: upper-case hex keys plus the
// lnurlw:// withdraw link to burn onto the card.
type CardKeysResult struct {
	LNURLW string
	K0     string
	K1     string
	K2     string
	K3     string
	K4     string
}

// RegistrationService manages deferred card registrations and the
// NFC-programming handshake.
type RegistrationService interface {
	// CreatePending persists the registration intent and returns it along
	// with the boltcard://program deeplink for the NFC app.
	CreatePending(ctx context.Context, params CreateRegistrationParams) (*domain.PendingRegistration, string, error)
	// Complete converts the registration into an ACTIVE card for the given
	// UID, handling wiped-UID reuse and same-owner re-programming.
	Complete(ctx context.Context, id uuid.UUID, uidHex string) (*CardKeysResult, error)
	Cancel(ctx context.Context, id uuid.UUID) error
	// ResetDeeplink builds the boltcard://reset deeplink for a card.
	ResetDeeplink(card *domain.Card) string
}
