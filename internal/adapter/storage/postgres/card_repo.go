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

const cardColumns = `id, owner_pubkey, issuer_key_id, uid, id_hash, version, last_counter,
	balance, currency, max_tx_amount, daily_limit, daily_spent, daily_reset_at,
	status, wallet_id, btc_wallet_id, api_key_enc, environment, created_at, updated_at`

// CardRepo implements ports.CardRepository. Every balance and counter
// mutation is a single conditional UPDATE: the WHERE clause carries the
// business invariant so concurrent requests serialize on the row without
// explicit locks.
type CardRepo struct {
	pool Pool
}

// NewCardRepo creates a new CardRepo.
func NewCardRepo(pool Pool) *CardRepo {
	return &CardRepo{pool: pool}
}

// Create inserts a new card within a transaction.
func (r *CardRepo) Create(ctx context.Context, tx pgx.Tx, c *domain.Card) error {
	query := `INSERT INTO cards (` + cardColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`

	_, err := tx.Exec(ctx, query,
		c.ID, c.OwnerPubkey, c.IssuerKeyID, c.UID, c.IDHash, c.Version, c.LastCounter,
		c.Balance, c.Currency, c.MaxTxAmount, c.DailyLimit, c.DailySpent, c.DailyResetAt,
		c.Status, c.WalletID, c.BtcWalletID, c.APIKeyEnc, c.Environment, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert card: %w", err)
	}
	return nil
}

// GetByID fetches a card by its UUID.
func (r *CardRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Card, error) {
	query := `SELECT ` + cardColumns + ` FROM cards WHERE id = $1`
	return r.scanCard(r.pool.QueryRow(ctx, query, id), "get card by id")
}

// GetByIDHash fetches a card by its derived identifier.
func (r *CardRepo) GetByIDHash(ctx context.Context, idHash string) (*domain.Card, error) {
	query := `SELECT ` + cardColumns + ` FROM cards WHERE id_hash = $1`
	return r.scanCard(r.pool.QueryRow(ctx, query, idHash), "get card by id hash")
}

// GetByUID fetches a card by its chip UID.
func (r *CardRepo) GetByUID(ctx context.Context, uid string) (*domain.Card, error) {
	query := `SELECT ` + cardColumns + ` FROM cards WHERE uid = $1`
	return r.scanCard(r.pool.QueryRow(ctx, query, uid), "get card by uid")
}

// Debit decrements balance and increments the daily spend in one statement.
// The conditions make overdrafts, spending on inactive cards and daily-limit
// breaches impossible regardless of concurrency.
func (r *CardRepo) Debit(ctx context.Context, tx pgx.Tx, cardID uuid.UUID, amount int64) (int64, bool, error) {
	query := `UPDATE cards
		SET balance = balance - $2, daily_spent = daily_spent + $2, updated_at = NOW()
		WHERE id = $1
		  AND status = 'ACTIVE'
		  AND balance >= $2
		  AND (daily_limit IS NULL OR daily_spent + $2 <= daily_limit)
		RETURNING balance`

	var balance int64
	err := tx.QueryRow(ctx, query, cardID, amount).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("debit card: %w", err)
	}
	return balance, true, nil
}

// Credit increments balance on any non-wiped card.
func (r *CardRepo) Credit(ctx context.Context, tx pgx.Tx, cardID uuid.UUID, amount int64) (int64, bool, error) {
	query := `UPDATE cards
		SET balance = balance + $2, updated_at = NOW()
		WHERE id = $1 AND status <> 'WIPED'
		RETURNING balance`

	var balance int64
	err := tx.QueryRow(ctx, query, cardID, amount).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("credit card: %w", err)
	}
	return balance, true, nil
}

// RestoreDebit reverses a debit, flooring the daily spend at zero in case
// the window rolled over between debit and reversal.
func (r *CardRepo) RestoreDebit(ctx context.Context, tx pgx.Tx, cardID uuid.UUID, amount int64) (int64, error) {
	query := `UPDATE cards
		SET balance = balance + $2, daily_spent = GREATEST(daily_spent - $2, 0), updated_at = NOW()
		WHERE id = $1
		RETURNING balance`

	var balance int64
	if err := tx.QueryRow(ctx, query, cardID, amount).Scan(&balance); err != nil {
		return 0, fmt.Errorf("restore debit: %w", err)
	}
	return balance, nil
}

// UpdateLastCounter persists a tap counter only if it is strictly greater
// than the stored one; the condition is the replay gate.
func (r *CardRepo) UpdateLastCounter(ctx context.Context, cardID uuid.UUID, counter uint32) (bool, error) {
	query := `UPDATE cards SET last_counter = $2, updated_at = NOW()
		WHERE id = $1 AND last_counter < $2`

	tag, err := r.pool.Exec(ctx, query, cardID, int64(counter))
	if err != nil {
		return false, fmt.Errorf("update last counter: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ResetDailySpent opens a fresh daily window if the previous one has closed.
func (r *CardRepo) ResetDailySpent(ctx context.Context, cardID uuid.UUID, now, nextReset time.Time) error {
	query := `UPDATE cards SET daily_spent = 0, daily_reset_at = $3, updated_at = NOW()
		WHERE id = $1 AND daily_reset_at <= $2`

	if _, err := r.pool.Exec(ctx, query, cardID, now, nextReset); err != nil {
		return fmt.Errorf("reset daily spent: %w", err)
	}
	return nil
}

// UpdateStatus transitions the card only from an allowed current status.
func (r *CardRepo) UpdateStatus(ctx context.Context, cardID uuid.UUID, from []domain.CardStatus, to domain.CardStatus) (bool, error) {
	states := make([]string, len(from))
	for i, s := range from {
		states[i] = string(s)
	}
	query := `UPDATE cards SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = ANY($2)`

	tag, err := r.pool.Exec(ctx, query, cardID, states, string(to))
	if err != nil {
		return false, fmt.Errorf("update status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Reprogram rotates the card's key version for a fresh programming cycle.
func (r *CardRepo) Reprogram(ctx context.Context, cardID uuid.UUID) (*domain.Card, error) {
	query := `UPDATE cards
		SET version = version + 1, last_counter = 0, status = 'PENDING', updated_at = NOW()
		WHERE id = $1
		RETURNING ` + cardColumns

	return r.scanCard(r.pool.QueryRow(ctx, query, cardID), "reprogram card")
}

// Delete removes the card row.
func (r *CardRepo) Delete(ctx context.Context, tx pgx.Tx, cardID uuid.UUID) error {
	if _, err := tx.Exec(ctx, `DELETE FROM cards WHERE id = $1`, cardID); err != nil {
		return fmt.Errorf("delete card: %w", err)
	}
	return nil
}

func (r *CardRepo) scanCard(row pgx.Row, op string) (*domain.Card, error) {
	c := &domain.Card{}
	err := row.Scan(
		&c.ID, &c.OwnerPubkey, &c.IssuerKeyID, &c.UID, &c.IDHash, &c.Version, &c.LastCounter,
		&c.Balance, &c.Currency, &c.MaxTxAmount, &c.DailyLimit, &c.DailySpent, &c.DailyResetAt,
		&c.Status, &c.WalletID, &c.BtcWalletID, &c.APIKeyEnc, &c.Environment, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return c, nil
}
