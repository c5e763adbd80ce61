package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"boltcard-service/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const registrationColumns = `id, owner_pubkey, wallet_id, btc_wallet_id, api_key_enc, currency,
	max_tx_amount, daily_limit, environment, status, card_id, expires_at, created_at`

// RegistrationRepo implements ports.RegistrationRepository. Completion and
// cancellation are conditional updates so a registration can only be spent
// once.
type RegistrationRepo struct {
	pool Pool
}

// NewRegistrationRepo creates a new RegistrationRepo.
func NewRegistrationRepo(pool Pool) *RegistrationRepo {
	return &RegistrationRepo{pool: pool}
}

// Create inserts a pending registration.
func (r *RegistrationRepo) Create(ctx context.Context, reg *domain.PendingRegistration) error {
	query := `INSERT INTO pending_registrations (` + registrationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.pool.Exec(ctx, query,
		reg.ID, reg.OwnerPubkey, reg.WalletID, reg.BtcWalletID, reg.APIKeyEnc, reg.Currency,
		reg.MaxTxAmount, reg.DailyLimit, reg.Environment, reg.Status, reg.CardID, reg.ExpiresAt, reg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert registration: %w", err)
	}
	return nil
}

// GetByID fetches a registration.
func (r *RegistrationRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.PendingRegistration, error) {
	query := `SELECT ` + registrationColumns + ` FROM pending_registrations WHERE id = $1`

	reg := &domain.PendingRegistration{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&reg.ID, &reg.OwnerPubkey, &reg.WalletID, &reg.BtcWalletID, &reg.APIKeyEnc, &reg.Currency,
		&reg.MaxTxAmount, &reg.DailyLimit, &reg.Environment, &reg.Status, &reg.CardID, &reg.ExpiresAt, &reg.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get registration: %w", err)
	}
	return reg, nil
}

// Complete marks the registration COMPLETED, only while it is still pending
// and inside its TTL.
func (r *RegistrationRepo) Complete(ctx context.Context, id, cardID uuid.UUID, now time.Time) (bool, error) {
	query := `UPDATE pending_registrations SET status = 'COMPLETED', card_id = $2
		WHERE id = $1 AND status = 'PENDING' AND expires_at > $3`

	tag, err := r.pool.Exec(ctx, query, id, cardID, now)
	if err != nil {
		return false, fmt.Errorf("complete registration: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Cancel abandons a pending registration.
func (r *RegistrationRepo) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `UPDATE pending_registrations SET status = 'CANCELLED'
		WHERE id = $1 AND status = 'PENDING'`

	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("cancel registration: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ExpireStale flips overdue pending registrations to EXPIRED.
func (r *RegistrationRepo) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	query := `UPDATE pending_registrations SET status = 'EXPIRED'
		WHERE status = 'PENDING' AND expires_at <= $1`

	tag, err := r.pool.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("expire registrations: %w", err)
	}
	return tag.RowsAffected(), nil
}
