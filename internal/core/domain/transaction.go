package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransactionType represents the kind of balance movement.
type TransactionType string

const (
	TransactionTypeWithdraw TransactionType = "WITHDRAW"
	TransactionTypeTopUp    TransactionType = "TOPUP"
	TransactionTypeAdjust   TransactionType = "ADJUST"
)

// Transaction is an immutable, append-only ledger entry. One is written for
// every balance mutation; none are ever updated or deleted, except the full
// history purge when a wiped card's UID is reused.
type Transaction struct {
	ID           uuid.UUID       `json:"id"`
	CardID       uuid.UUID       `json:"card_id"`
	Type         TransactionType `json:"type"`
	Amount       int64           `json:"amount"` // ledger units, always positive
	BalanceAfter int64           `json:"balance_after"`
	PaymentHash  *string         `json:"payment_hash,omitempty"`
	Description  string          `json:"description,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}
