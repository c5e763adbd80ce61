package postgres

import (
	"context"
	"fmt"

	"boltcard-service/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// TransactionRepo implements ports.TransactionRepository over the
// append-only card_transactions table.
type TransactionRepo struct {
	pool Pool
}

// NewTransactionRepo creates a new TransactionRepo.
func NewTransactionRepo(pool Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

// Create inserts a ledger entry within a transaction.
func (r *TransactionRepo) Create(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error {
	query := `INSERT INTO card_transactions (id, card_id, type, amount, balance_after, payment_hash, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := tx.Exec(ctx, query,
		t.ID, t.CardID, t.Type, t.Amount, t.BalanceAfter, t.PaymentHash, t.Description, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// ListByCard returns the card's most recent entries, newest first.
func (r *TransactionRepo) ListByCard(ctx context.Context, cardID uuid.UUID, limit int) ([]domain.Transaction, error) {
	query := `SELECT id, card_id, type, amount, balance_after, payment_hash, description, created_at
		FROM card_transactions WHERE card_id = $1 ORDER BY created_at DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, cardID, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		var t domain.Transaction
		if err := rows.Scan(&t.ID, &t.CardID, &t.Type, &t.Amount, &t.BalanceAfter,
			&t.PaymentHash, &t.Description, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return out, nil
}

// DeleteByCard drops the card's full history. Only called when a wiped
// card's UID is being reused.
func (r *TransactionRepo) DeleteByCard(ctx context.Context, tx pgx.Tx, cardID uuid.UUID) error {
	if _, err := tx.Exec(ctx, `DELETE FROM card_transactions WHERE card_id = $1`, cardID); err != nil {
		return fmt.Errorf("delete transactions: %w", err)
	}
	return nil
}
