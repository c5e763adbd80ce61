package postgres

import (
	"context"
	"errors"
	"fmt"

	"boltcard-service/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const topupColumns = `payment_hash, card_id, amount_sats, currency, processed, expires_at, created_at`

// TopUpRepo implements ports.TopUpRepository. MarkProcessed is the
// settlement idempotency gate: the conditional update succeeds for exactly
// one caller per payment hash.
type TopUpRepo struct {
	pool Pool
}

// NewTopUpRepo creates a new TopUpRepo.
func NewTopUpRepo(pool Pool) *TopUpRepo {
	return &TopUpRepo{pool: pool}
}

// Create inserts a pending top-up keyed by its payment hash.
func (r *TopUpRepo) Create(ctx context.Context, p *domain.PendingTopUp) error {
	query := `INSERT INTO pending_topups (` + topupColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.pool.Exec(ctx, query,
		p.PaymentHash, p.CardID, p.AmountSats, p.Currency, p.Processed, p.ExpiresAt, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert pending topup: %w", err)
	}
	return nil
}

// GetByHash fetches a pending top-up.
func (r *TopUpRepo) GetByHash(ctx context.Context, paymentHash string) (*domain.PendingTopUp, error) {
	query := `SELECT ` + topupColumns + ` FROM pending_topups WHERE payment_hash = $1`

	p := &domain.PendingTopUp{}
	err := r.pool.QueryRow(ctx, query, paymentHash).Scan(
		&p.PaymentHash, &p.CardID, &p.AmountSats, &p.Currency, &p.Processed, &p.ExpiresAt, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get pending topup: %w", err)
	}
	return p, nil
}

// MarkProcessed flips the processed flag exactly once per hash.
func (r *TopUpRepo) MarkProcessed(ctx context.Context, paymentHash string) (bool, error) {
	query := `UPDATE pending_topups SET processed = TRUE
		WHERE payment_hash = $1 AND processed = FALSE`

	tag, err := r.pool.Exec(ctx, query, paymentHash)
	if err != nil {
		return false, fmt.Errorf("mark topup processed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Unmark releases the gate after a failed credit so settlement can retry.
func (r *TopUpRepo) Unmark(ctx context.Context, paymentHash string) error {
	query := `UPDATE pending_topups SET processed = FALSE WHERE payment_hash = $1`
	if _, err := r.pool.Exec(ctx, query, paymentHash); err != nil {
		return fmt.Errorf("unmark topup: %w", err)
	}
	return nil
}

// ListPendingByCard returns the card's tracked top-ups, oldest first.
func (r *TopUpRepo) ListPendingByCard(ctx context.Context, cardID uuid.UUID) ([]domain.PendingTopUp, error) {
	query := `SELECT ` + topupColumns + ` FROM pending_topups WHERE card_id = $1 ORDER BY created_at ASC`

	rows, err := r.pool.Query(ctx, query, cardID)
	if err != nil {
		return nil, fmt.Errorf("list pending topups: %w", err)
	}
	defer rows.Close()

	var out []domain.PendingTopUp
	for rows.Next() {
		var p domain.PendingTopUp
		if err := rows.Scan(&p.PaymentHash, &p.CardID, &p.AmountSats, &p.Currency,
			&p.Processed, &p.ExpiresAt, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan pending topup: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending topups: %w", err)
	}
	return out, nil
}

// Delete removes a tracked top-up.
func (r *TopUpRepo) Delete(ctx context.Context, paymentHash string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM pending_topups WHERE payment_hash = $1`, paymentHash); err != nil {
		return fmt.Errorf("delete pending topup: %w", err)
	}
	return nil
}
