package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"boltcard-service/internal/core/domain"
	"boltcard-service/internal/core/ports"
	"boltcard-service/internal/ntag424"
	"boltcard-service/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// LedgerServiceImpl implements ports.LedgerService. Balance mutations are
// single conditional statements at the repository layer; this service wraps
// them with the ledger log so card row and transaction row commit together.
type LedgerServiceImpl struct {
	cardRepo   ports.CardRepository
	txRepo     ports.TransactionRepository
	keyRepo    ports.IssuerKeyRepository
	encSvc     ports.EncryptionService
	transactor ports.DBTransactor
	log        zerolog.Logger
}

// NewLedgerService creates a new LedgerServiceImpl.
func NewLedgerService(
	cardRepo ports.CardRepository,
	txRepo ports.TransactionRepository,
	keyRepo ports.IssuerKeyRepository,
	encSvc ports.EncryptionService,
	transactor ports.DBTransactor,
	log zerolog.Logger,
) *LedgerServiceImpl {
	return &LedgerServiceImpl{
		cardRepo:   cardRepo,
		txRepo:     txRepo,
		keyRepo:    keyRepo,
		encSvc:     encSvc,
		transactor: transactor,
		log:        log,
	}
}

// CreateCard mints a card for a known UID. The caller resolves UID conflicts
// (wiped-card reuse, re-programming) before calling; an existing live UID is
// rejected here as a safety net.
func (s *LedgerServiceImpl) CreateCard(ctx context.Context, params ports.CreateCardParams) (*domain.Card, error) {
	uid, err := ntag424.ParseUID(params.UID)
	if err != nil {
		return nil, apperror.ErrMalformedHex()
	}
	if !params.Currency.Valid() {
		return nil, apperror.Validation("unsupported currency")
	}

	existing, err := s.cardRepo.GetByUID(ctx, hex.EncodeToString(uid))
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("lookup uid: %w", err))
	}
	if existing != nil {
		return nil, apperror.ErrUIDOwnedByOther()
	}

	issuerKey, keyID, err := s.issuerKeyForOwner(ctx, params.OwnerPubkey)
	if err != nil {
		return nil, err
	}
	idHash, err := ntag424.DeriveCardIDHash(issuerKey, uid)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("derive id hash: %w", err))
	}

	now := time.Now().UTC()
	card := &domain.Card{
		ID:           uuid.New(),
		OwnerPubkey:  params.OwnerPubkey,
		IssuerKeyID:  keyID,
		UID:          hex.EncodeToString(uid),
		IDHash:       idHash,
		Version:      1,
		Balance:      0,
		Currency:     params.Currency,
		MaxTxAmount:  params.MaxTxAmount,
		DailyLimit:   params.DailyLimit,
		DailyResetAt: domain.NextDailyReset(now),
		Status:       domain.CardStatusPending,
		WalletID:     params.WalletID,
		BtcWalletID:  params.BtcWalletID,
		APIKeyEnc:    params.APIKeyEnc,
		Environment:  params.Environment,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if err := s.cardRepo.Create(ctx, dbTx, card); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("create card: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("commit: %w", err))
	}

	s.log.Info().Str("card_id", card.ID.String()).Str("id_hash", idHash).Msg("card created")
	return card, nil
}

// ReprogramCard bumps the key version, zeroes the replay counter and parks
// the card back in PENDING until the NFC app re-burns it.
func (s *LedgerServiceImpl) ReprogramCard(ctx context.Context, cardID uuid.UUID) (*domain.Card, error) {
	card, err := s.cardRepo.Reprogram(ctx, cardID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("reprogram card: %w", err))
	}
	if card == nil {
		return nil, apperror.ErrCardNotFound()
	}
	s.log.Info().Str("card_id", cardID.String()).Int("version", card.Version).Msg("card reprogrammed")
	return card, nil
}

// PurgeCard deletes the card row and its entire transaction history. Only
// used when a wiped card's UID is registered again.
func (s *LedgerServiceImpl) PurgeCard(ctx context.Context, cardID uuid.UUID) error {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if err := s.txRepo.DeleteByCard(ctx, dbTx, cardID); err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("delete transactions: %w", err))
	}
	if err := s.cardRepo.Delete(ctx, dbTx, cardID); err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("delete card: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("commit: %w", err))
	}
	s.log.Warn().Str("card_id", cardID.String()).Msg("card purged")
	return nil
}

func (s *LedgerServiceImpl) GetCard(ctx context.Context, cardID uuid.UUID) (*domain.Card, error) {
	card, err := s.cardRepo.GetByID(ctx, cardID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("get card: %w", err))
	}
	if card == nil {
		return nil, apperror.ErrCardNotFound()
	}
	return card, nil
}

func (s *LedgerServiceImpl) GetCardByIDHash(ctx context.Context, idHash string) (*domain.Card, error) {
	card, err := s.cardRepo.GetByIDHash(ctx, idHash)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("get card by hash: %w", err))
	}
	if card == nil {
		return nil, apperror.ErrCardNotFound()
	}
	return card, nil
}

func (s *LedgerServiceImpl) GetCardByUID(ctx context.Context, uid string) (*domain.Card, error) {
	card, err := s.cardRepo.GetByUID(ctx, uid)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("get card by uid: %w", err))
	}
	if card == nil {
		return nil, apperror.ErrCardNotFound()
	}
	return card, nil
}

// Debit atomically spends from the card, writing a WITHDRAW entry in the
// same database transaction. The conditional update guards balance, status
// and the daily limit; a miss is classified afterwards so the caller gets a
// precise rejection.
func (s *LedgerServiceImpl) Debit(ctx context.Context, cardID uuid.UUID, amount int64, paymentHash, description string) (int64, error) {
	if amount <= 0 {
		return 0, apperror.Validation("debit amount must be positive")
	}

	card, err := s.GetCard(ctx, cardID)
	if err != nil {
		return 0, err
	}
	if card.MaxTxAmount != nil && amount > *card.MaxTxAmount {
		return 0, apperror.ErrMaxTxAmountExceeded()
	}

	now := time.Now().UTC()
	if !card.DailyResetAt.After(now) {
		if err := s.cardRepo.ResetDailySpent(ctx, cardID, now, domain.NextDailyReset(now)); err != nil {
			return 0, apperror.ErrDatabaseError(fmt.Errorf("reset daily window: %w", err))
		}
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return 0, apperror.ErrDatabaseError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	balance, ok, err := s.cardRepo.Debit(ctx, dbTx, cardID, amount)
	if err != nil {
		return 0, apperror.ErrDatabaseError(fmt.Errorf("debit: %w", err))
	}
	if !ok {
		return 0, s.classifyDebitMiss(ctx, cardID, amount)
	}

	txn := &domain.Transaction{
		ID:           uuid.New(),
		CardID:       cardID,
		Type:         domain.TransactionTypeWithdraw,
		Amount:       amount,
		BalanceAfter: balance,
		Description:  description,
		CreatedAt:    now,
	}
	if paymentHash != "" {
		txn.PaymentHash = &paymentHash
	}
	if err := s.txRepo.Create(ctx, dbTx, txn); err != nil {
		return 0, apperror.ErrDatabaseError(fmt.Errorf("record withdraw: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return 0, apperror.ErrDatabaseError(fmt.Errorf("commit: %w", err))
	}

	s.log.Info().
		Str("card_id", cardID.String()).
		Int64("amount", amount).
		Int64("balance", balance).
		Msg("card debited")
	return balance, nil
}

// classifyDebitMiss reloads the card to explain a failed conditional debit.
func (s *LedgerServiceImpl) classifyDebitMiss(ctx context.Context, cardID uuid.UUID, amount int64) error {
	card, err := s.cardRepo.GetByID(ctx, cardID)
	if err != nil || card == nil {
		return apperror.ErrCardNotFound()
	}
	if !card.IsActive() {
		return apperror.ErrCardNotActive()
	}
	if card.Balance < amount {
		return apperror.ErrInsufficientBalance()
	}
	return apperror.ErrDailyLimitReached()
}

// Credit adds funds to any non-wiped card, writing a TOPUP entry in the same
// database transaction.
func (s *LedgerServiceImpl) Credit(ctx context.Context, cardID uuid.UUID, amount int64, paymentHash, description string) (int64, error) {
	if amount <= 0 {
		return 0, apperror.Validation("credit amount must be positive")
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return 0, apperror.ErrDatabaseError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	balance, ok, err := s.cardRepo.Credit(ctx, dbTx, cardID, amount)
	if err != nil {
		return 0, apperror.ErrDatabaseError(fmt.Errorf("credit: %w", err))
	}
	if !ok {
		card, err := s.cardRepo.GetByID(ctx, cardID)
		if err != nil || card == nil {
			return 0, apperror.ErrCardNotFound()
		}
		return 0, apperror.ErrCardCannotTopUp()
	}

	txn := &domain.Transaction{
		ID:           uuid.New(),
		CardID:       cardID,
		Type:         domain.TransactionTypeTopUp,
		Amount:       amount,
		BalanceAfter: balance,
		Description:  description,
		CreatedAt:    time.Now().UTC(),
	}
	if paymentHash != "" {
		txn.PaymentHash = &paymentHash
	}
	if err := s.txRepo.Create(ctx, dbTx, txn); err != nil {
		return 0, apperror.ErrDatabaseError(fmt.Errorf("record topup: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return 0, apperror.ErrDatabaseError(fmt.Errorf("commit: %w", err))
	}

	s.log.Info().
		Str("card_id", cardID.String()).
		Int64("amount", amount).
		Int64("balance", balance).
		Msg("card credited")
	return balance, nil
}

// RollbackDebit restores a debit whose downstream payment failed. It writes
// an ADJUST entry so the reversal is visible in the history.
func (s *LedgerServiceImpl) RollbackDebit(ctx context.Context, cardID uuid.UUID, amount int64, description string) error {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	balance, err := s.cardRepo.RestoreDebit(ctx, dbTx, cardID, amount)
	if err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("restore debit: %w", err))
	}

	txn := &domain.Transaction{
		ID:           uuid.New(),
		CardID:       cardID,
		Type:         domain.TransactionTypeAdjust,
		Amount:       amount,
		BalanceAfter: balance,
		Description:  description,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.txRepo.Create(ctx, dbTx, txn); err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("record adjust: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("commit: %w", err))
	}

	s.log.Warn().
		Str("card_id", cardID.String()).
		Int64("amount", amount).
		Msg("debit rolled back")
	return nil
}

// UpdateLastCounter persists a tap counter. ok=false means another tap with
// an equal or higher counter won the race.
func (s *LedgerServiceImpl) UpdateLastCounter(ctx context.Context, cardID uuid.UUID, counter uint32) (bool, error) {
	ok, err := s.cardRepo.UpdateLastCounter(ctx, cardID, counter)
	if err != nil {
		return false, apperror.ErrDatabaseError(fmt.Errorf("update counter: %w", err))
	}
	return ok, nil
}

func (s *LedgerServiceImpl) ActivateCard(ctx context.Context, cardID uuid.UUID) error {
	return s.transition(ctx, cardID, []domain.CardStatus{domain.CardStatusPending}, domain.CardStatusActive)
}

func (s *LedgerServiceImpl) DisableCard(ctx context.Context, cardID uuid.UUID) error {
	return s.transition(ctx, cardID, []domain.CardStatus{domain.CardStatusActive}, domain.CardStatusDisabled)
}

func (s *LedgerServiceImpl) EnableCard(ctx context.Context, cardID uuid.UUID) error {
	return s.transition(ctx, cardID, []domain.CardStatus{domain.CardStatusDisabled}, domain.CardStatusActive)
}

// WipeCard terminates the card. The balance is left untouched; recovering it
// is an operator action against the underlying wallet.
func (s *LedgerServiceImpl) WipeCard(ctx context.Context, cardID uuid.UUID) error {
	return s.transition(ctx, cardID,
		[]domain.CardStatus{domain.CardStatusPending, domain.CardStatusActive, domain.CardStatusDisabled},
		domain.CardStatusWiped)
}

func (s *LedgerServiceImpl) transition(ctx context.Context, cardID uuid.UUID, from []domain.CardStatus, to domain.CardStatus) error {
	ok, err := s.cardRepo.UpdateStatus(ctx, cardID, from, to)
	if err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("update status: %w", err))
	}
	if !ok {
		card, err := s.cardRepo.GetByID(ctx, cardID)
		if err != nil || card == nil {
			return apperror.ErrCardNotFound()
		}
		return apperror.Validation(fmt.Sprintf("card is %s, cannot transition to %s", card.Status, to))
	}
	s.log.Info().Str("card_id", cardID.String()).Str("status", string(to)).Msg("card status changed")
	return nil
}

func (s *LedgerServiceImpl) ListTransactions(ctx context.Context, cardID uuid.UUID, limit int) ([]domain.Transaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	txns, err := s.txRepo.ListByCard(ctx, cardID, limit)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("list transactions: %w", err))
	}
	return txns, nil
}

// IssuerKeyForOwner returns the decrypted per-owner root key, creating one on
// first use.
func (s *LedgerServiceImpl) IssuerKeyForOwner(ctx context.Context, ownerPubkey string) ([]byte, error) {
	key, _, err := s.issuerKeyForOwner(ctx, ownerPubkey)
	return key, err
}

func (s *LedgerServiceImpl) issuerKeyForOwner(ctx context.Context, ownerPubkey string) ([]byte, uuid.UUID, error) {
	existing, err := s.keyRepo.GetByOwner(ctx, ownerPubkey)
	if err != nil {
		return nil, uuid.Nil, apperror.ErrDatabaseError(fmt.Errorf("get issuer key: %w", err))
	}
	if existing != nil {
		return s.decryptIssuerKey(existing)
	}

	raw := make([]byte, ntag424.KeySize)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return nil, uuid.Nil, apperror.InternalError(fmt.Errorf("generate issuer key: %w", err))
	}
	enc, err := s.encSvc.Encrypt(hex.EncodeToString(raw))
	if err != nil {
		return nil, uuid.Nil, apperror.ErrEncryptionFailure(fmt.Errorf("encrypt issuer key: %w", err))
	}

	rec := &domain.IssuerKey{
		ID:          uuid.New(),
		OwnerPubkey: ownerPubkey,
		KeyEnc:      enc,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.keyRepo.Create(ctx, rec); err != nil {
		// Lost a concurrent first-registration race: the winner's key is
		// authoritative.
		existing, getErr := s.keyRepo.GetByOwner(ctx, ownerPubkey)
		if getErr != nil || existing == nil {
			return nil, uuid.Nil, apperror.ErrDatabaseError(fmt.Errorf("create issuer key: %w", err))
		}
		return s.decryptIssuerKey(existing)
	}
	s.log.Info().Str("owner", ownerPubkey).Msg("issuer key created")
	return raw, rec.ID, nil
}

func (s *LedgerServiceImpl) decryptIssuerKey(rec *domain.IssuerKey) ([]byte, uuid.UUID, error) {
	plain, err := s.encSvc.Decrypt(rec.KeyEnc)
	if err != nil {
		return nil, uuid.Nil, apperror.ErrEncryptionFailure(fmt.Errorf("decrypt issuer key: %w", err))
	}
	raw, err := hex.DecodeString(plain)
	if err != nil || len(raw) != ntag424.KeySize {
		return nil, uuid.Nil, apperror.InternalError(fmt.Errorf("issuer key material corrupt"))
	}
	return raw, rec.ID, nil
}

// CardKeys derives the card's full key set from its owner's issuer key and
// the card's current programming version.
func (s *LedgerServiceImpl) CardKeys(ctx context.Context, card *domain.Card) (*ntag424.CardKeys, error) {
	issuerKey, err := s.IssuerKeyForOwner(ctx, card.OwnerPubkey)
	if err != nil {
		return nil, err
	}
	uid, err := hex.DecodeString(card.UID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("stored uid corrupt: %w", err))
	}
	keys, err := ntag424.DeriveCardKeys(issuerKey, uid, uint32(card.Version))
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("derive card keys: %w", err))
	}
	return keys, nil
}
