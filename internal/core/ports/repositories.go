package ports

import (
	"context"
	"time"

	"boltcard-service/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CardRepository defines persistence operations for cards. Every mutation is
// a single conditional statement so that concurrent taps cannot race a
// balance negative or replay a counter; methods return ErrConditionFailed
// semantics as (zero, pgx.ErrNoRows)-style misses that callers classify.
type CardRepository interface {
	Create(ctx context.Context, tx pgx.Tx, card *domain.Card) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Card, error)
	GetByIDHash(ctx context.Context, idHash string) (*domain.Card, error)
	GetByUID(ctx context.Context, uid string) (*domain.Card, error)

	// Debit atomically decrements balance and increments dailySpent, guarded
	// by status, balance and daily-limit conditions in the statement itself.
	// Returns the new balance; ok=false when no row satisfied the conditions.
	Debit(ctx context.Context, tx pgx.Tx, cardID uuid.UUID, amount int64) (balance int64, ok bool, err error)

	// Credit atomically increments balance on any non-wiped card.
	Credit(ctx context.Context, tx pgx.Tx, cardID uuid.UUID, amount int64) (balance int64, ok bool, err error)

	// RestoreDebit reverses a debit whose downstream payment failed: balance
	// is restored and dailySpent decremented, floored at zero.
	RestoreDebit(ctx context.Context, tx pgx.Tx, cardID uuid.UUID, amount int64) (balance int64, err error)

	// UpdateLastCounter persists the tap counter only if it is strictly
	// greater than the stored one. ok=false means replay or stale counter.
	UpdateLastCounter(ctx context.Context, cardID uuid.UUID, counter uint32) (ok bool, err error)

	// ResetDailySpent zeroes dailySpent if the reset timestamp has passed,
	// advancing it to nextReset. A no-op when the window is still open.
	ResetDailySpent(ctx context.Context, cardID uuid.UUID, now, nextReset time.Time) error

	// UpdateStatus transitions status only when the current status is one of
	// from. ok=false means the transition was not allowed.
	UpdateStatus(ctx context.Context, cardID uuid.UUID, from []domain.CardStatus, to domain.CardStatus) (ok bool, err error)

	// Reprogram increments the key version, resets the replay counter and
	// returns the card to PENDING.
	Reprogram(ctx context.Context, cardID uuid.UUID) (*domain.Card, error)

	// Delete removes the card row; used only when a wiped UID is reused.
	Delete(ctx context.Context, tx pgx.Tx, cardID uuid.UUID) error
}

// TransactionRepository defines persistence for the append-only ledger log.
type TransactionRepository interface {
	Create(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error
	ListByCard(ctx context.Context, cardID uuid.UUID, limit int) ([]domain.Transaction, error)
	DeleteByCard(ctx context.Context, tx pgx.Tx, cardID uuid.UUID) error
}

// IssuerKeyRepository defines persistence for per-owner root keys.
type IssuerKeyRepository interface {
	Create(ctx context.Context, key *domain.IssuerKey) error
	GetByOwner(ctx context.Context, ownerPubkey string) (*domain.IssuerKey, error)
}

// RegistrationRepository defines persistence for pending card registrations.
type RegistrationRepository interface {
	Create(ctx context.Context, reg *domain.PendingRegistration) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.PendingRegistration, error)
	// Complete marks the registration COMPLETED with the created card, only
	// if it is still PENDING and unexpired. ok=false otherwise.
	Complete(ctx context.Context, id uuid.UUID, cardID uuid.UUID, now time.Time) (ok bool, err error)
	Cancel(ctx context.Context, id uuid.UUID) (ok bool, err error)
	// ExpireStale flips PENDING registrations past their TTL to EXPIRED.
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
}

// TopUpRepository defines durable persistence for pending top-ups, keyed by
// Lightning payment hash.
type TopUpRepository interface {
	Create(ctx context.Context, p *domain.PendingTopUp) error
	GetByHash(ctx context.Context, paymentHash string) (*domain.PendingTopUp, error)
	// MarkProcessed is the idempotency gate: it succeeds exactly once per
	// payment hash. ok=false means already processed (or unknown hash).
	MarkProcessed(ctx context.Context, paymentHash string) (ok bool, err error)
	Unmark(ctx context.Context, paymentHash string) error
	ListPendingByCard(ctx context.Context, cardID uuid.UUID) ([]domain.PendingTopUp, error)
	Delete(ctx context.Context, paymentHash string) error
}

// TopUpCache is the advisory cache-aside mirror of TopUpRepository. A miss
// must always fall back to the durable store; entries carry a TTL and are
// never authoritative.
type TopUpCache interface {
	Get(ctx context.Context, paymentHash string) (*domain.PendingTopUp, error) // nil, nil on miss
	Put(ctx context.Context, p *domain.PendingTopUp, ttl time.Duration) error
	Invalidate(ctx context.Context, paymentHash string) error
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
