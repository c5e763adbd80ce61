package dto

import (
	"time"

	"boltcard-service/internal/core/domain"
)

// --- LNURL payloads (LUD wire forms, no envelope) ---

// WithdrawResponse is the LUD-03 withdraw offer returned on a verified tap.
type WithdrawResponse struct {
	Tag                string `json:"tag"` // always "withdrawRequest"
	Callback           string `json:"callback"`
	K1                 string `json:"k1"`
	MinWithdrawable    int64  `json:"minWithdrawable"` // msat
	MaxWithdrawable    int64  `json:"maxWithdrawable"` // msat
	DefaultDescription string `json:"defaultDescription"`
}

// PayResponse is the LUD-06 pay offer for topping up a card.
type PayResponse struct {
	Tag            string `json:"tag"` // always "payRequest"
	Callback       string `json:"callback"`
	MinSendable    int64  `json:"minSendable"` // msat
	MaxSendable    int64  `json:"maxSendable"` // msat
	Metadata       string `json:"metadata"`
	CommentAllowed int    `json:"commentAllowed,omitempty"`
}

// SuccessAction is shown by the paying wallet after settlement.
type SuccessAction struct {
	Tag     string `json:"tag"` // "message"
	Message string `json:"message"`
}

// PayCallbackResponse carries the freshly created invoice.
type PayCallbackResponse struct {
	PR            string         `json:"pr"`
	Routes        []interface{}  `json:"routes"` // always empty, required by LUD-06
	SuccessAction *SuccessAction `json:"successAction,omitempty"`
}

// LnurlOK is the LUD success form for the withdraw callback.
type LnurlOK struct {
	Status      string `json:"status"` // always "OK"
	PaymentHash string `json:"paymentHash,omitempty"`
}

// --- Registration ---

// CreateRegistrationRequest is the request body for starting a card
// registration. The UID arrives later, from the NFC-programming app.
type CreateRegistrationRequest struct {
	OwnerPubkey string  `json:"owner_pubkey" binding:"required,min=1,max=128"`
	WalletID    string  `json:"wallet_id" binding:"required,max=64"`
	BtcWalletID *string `json:"btc_wallet_id,omitempty"`
	APIKey      string  `json:"api_key" binding:"required,max=128"`
	Currency    string  `json:"currency" binding:"required"`
	MaxTxAmount *int64  `json:"max_tx_amount,omitempty"`
	DailyLimit  *int64  `json:"daily_limit,omitempty"`
	Environment string  `json:"environment,omitempty"`
}

// RegistrationResponse is returned when a registration is created.
type RegistrationResponse struct {
	ID              string `json:"id"`
	Status          string `json:"status"`
	ExpiresAt       string `json:"expires_at"`
	ProgramDeeplink string `json:"program_deeplink"`
}

// CardKeysResponse is the NFC-programmer payload: the slot keys to burn and
// the withdraw link to write into the NDEF record.
type CardKeysResponse struct {
	LNURLW string `json:"lnurlw_base"`
	K0     string `json:"k0"`
	K1     string `json:"k1"`
	K2     string `json:"k2"`
	K3     string `json:"k3"`
	K4     string `json:"k4"`
}

// --- Card management ---

// CardResponse is the management view of a card. The UID and key material
// never appear here.
type CardResponse struct {
	ID          string `json:"id"`
	OwnerPubkey string `json:"owner_pubkey"`
	IDHash      string `json:"id_hash"`
	Version     int    `json:"version"`
	Balance     int64  `json:"balance"`
	Currency    string `json:"currency"`
	MaxTxAmount *int64 `json:"max_tx_amount,omitempty"`
	DailyLimit  *int64 `json:"daily_limit,omitempty"`
	DailySpent  int64  `json:"daily_spent"`
	Status      string `json:"status"`
	Environment string `json:"environment"`
	CreatedAt   string `json:"created_at"`
}

// CardFromDomain maps a domain card to its management view.
func CardFromDomain(card *domain.Card) CardResponse {
	return CardResponse{
		ID:          card.ID.String(),
		OwnerPubkey: card.OwnerPubkey,
		IDHash:      card.IDHash,
		Version:     card.Version,
		Balance:     card.Balance,
		Currency:    string(card.Currency),
		MaxTxAmount: card.MaxTxAmount,
		DailyLimit:  card.DailyLimit,
		DailySpent:  card.DailySpent,
		Status:      string(card.Status),
		Environment: card.Environment,
		CreatedAt:   card.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// BalanceResponse is the balance view of a card, with the daily window
// applied as of the request.
type BalanceResponse struct {
	Balance         int64  `json:"balance"`
	Currency        string `json:"currency"`
	DailySpent      int64  `json:"daily_spent"`
	MaxWithdrawable int64  `json:"max_withdrawable"`
}

// TransactionResponse is one ledger entry.
type TransactionResponse struct {
	ID           string  `json:"id"`
	Type         string  `json:"type"`
	Amount       int64   `json:"amount"`
	BalanceAfter int64   `json:"balance_after"`
	PaymentHash  *string `json:"payment_hash,omitempty"`
	Description  string  `json:"description,omitempty"`
	CreatedAt    string  `json:"created_at"`
}

// TransactionListResponse wraps a card's recent ledger entries.
type TransactionListResponse struct {
	Items []TransactionResponse `json:"items"`
	Count int                   `json:"count"`
}

// TransactionsFromDomain maps ledger entries to their management view.
func TransactionsFromDomain(txns []domain.Transaction) TransactionListResponse {
	items := make([]TransactionResponse, 0, len(txns))
	for _, tx := range txns {
		items = append(items, TransactionResponse{
			ID:           tx.ID.String(),
			Type:         string(tx.Type),
			Amount:       tx.Amount,
			BalanceAfter: tx.BalanceAfter,
			PaymentHash:  tx.PaymentHash,
			Description:  tx.Description,
			CreatedAt:    tx.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return TransactionListResponse{Items: items, Count: len(items)}
}

// WipeResponse is returned after a card wipe, with the deeplink the owner
// scans to reset the physical chip.
type WipeResponse struct {
	Status        string `json:"status"`
	ResetDeeplink string `json:"reset_deeplink"`
}

// CheckTopUpsResponse reports a reconciliation sweep.
type CheckTopUpsResponse struct {
	Credited int `json:"credited"`
}
