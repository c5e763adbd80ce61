package postgres

import (
	"context"
	"errors"
	"fmt"

	"boltcard-service/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// IssuerKeyRepo implements ports.IssuerKeyRepository. One row per owner,
// enforced by a unique index on owner_pubkey.
type IssuerKeyRepo struct {
	pool Pool
}

// NewIssuerKeyRepo creates a new IssuerKeyRepo.
func NewIssuerKeyRepo(pool Pool) *IssuerKeyRepo {
	return &IssuerKeyRepo{pool: pool}
}

// Create inserts a new issuer key. The unique index makes a concurrent
// duplicate fail, which the caller resolves by re-reading.
func (r *IssuerKeyRepo) Create(ctx context.Context, key *domain.IssuerKey) error {
	query := `INSERT INTO issuer_keys (id, owner_pubkey, key_enc, created_at)
		VALUES ($1, $2, $3, $4)`

	if _, err := r.pool.Exec(ctx, query, key.ID, key.OwnerPubkey, key.KeyEnc, key.CreatedAt); err != nil {
		return fmt.Errorf("insert issuer key: %w", err)
	}
	return nil
}

// GetByOwner fetches the owner's root key.
func (r *IssuerKeyRepo) GetByOwner(ctx context.Context, ownerPubkey string) (*domain.IssuerKey, error) {
	query := `SELECT id, owner_pubkey, key_enc, created_at FROM issuer_keys WHERE owner_pubkey = $1`

	k := &domain.IssuerKey{}
	err := r.pool.QueryRow(ctx, query, ownerPubkey).Scan(&k.ID, &k.OwnerPubkey, &k.KeyEnc, &k.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get issuer key: %w", err)
	}
	return k, nil
}
