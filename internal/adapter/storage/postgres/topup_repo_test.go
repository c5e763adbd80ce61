package postgres

import (
	"context"
	"testing"
	"time"

	"boltcard-service/internal/core/domain"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTopUp() *domain.PendingTopUp {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.PendingTopUp{
		PaymentHash: "a1b2c3d4",
		CardID:      uuid.New(),
		AmountSats:  1000,
		Currency:    domain.CurrencyBTC,
		ExpiresAt:   now.Add(time.Hour),
		CreatedAt:   now,
	}
}

func TestTopUpRepo_CreateAndGet(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTopUpRepo(mock)
	p := newTestTopUp()

	mock.ExpectExec("INSERT INTO pending_topups").
		WithArgs(p.PaymentHash, p.CardID, p.AmountSats, p.Currency, p.Processed, p.ExpiresAt, p.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, repo.Create(context.Background(), p))

	mock.ExpectQuery("SELECT .+ FROM pending_topups WHERE payment_hash").
		WithArgs(p.PaymentHash).
		WillReturnRows(pgxmock.NewRows([]string{
			"payment_hash", "card_id", "amount_sats", "currency", "processed", "expires_at", "created_at",
		}).AddRow(p.PaymentHash, p.CardID, p.AmountSats, p.Currency, p.Processed, p.ExpiresAt, p.CreatedAt))

	got, err := repo.GetByHash(context.Background(), p.PaymentHash)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, p.CardID, got.CardID)
	assert.Equal(t, int64(1000), got.AmountSats)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTopUpRepo_MarkProcessed_Gate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTopUpRepo(mock)

	// First caller wins the conditional update.
	mock.ExpectExec("UPDATE pending_topups SET processed").
		WithArgs("hash-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	ok, err := repo.MarkProcessed(context.Background(), "hash-1")
	require.NoError(t, err)
	assert.True(t, ok)

	// Second caller sees zero rows.
	mock.ExpectExec("UPDATE pending_topups SET processed").
		WithArgs("hash-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	ok, err = repo.MarkProcessed(context.Background(), "hash-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTopUpRepo_GetByHash_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTopUpRepo(mock)

	mock.ExpectQuery("SELECT .+ FROM pending_topups WHERE payment_hash").
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows([]string{"payment_hash"}))

	got, err := repo.GetByHash(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}
