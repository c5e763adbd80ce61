package service

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"boltcard-service/internal/core/domain"
	"boltcard-service/internal/core/ports"
	"boltcard-service/internal/ntag424"
	"boltcard-service/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// staleSweepInterval bounds how often expired registrations are swept; the
// sweep piggybacks on registration traffic rather than a background job.
const staleSweepInterval = 5 * time.Minute

// RegistrationConfig carries the public base URL deeplinks and withdraw
// links are built from.
type RegistrationConfig struct {
	BaseURL string // e.g. https://cards.example.com
}

// RegistrationServiceImpl implements ports.RegistrationService: the
// two-phase handshake between a registration request and the NFC app that
// reports the card UID and burns the keys.
type RegistrationServiceImpl struct {
	regRepo ports.RegistrationRepository
	ledger  ports.LedgerService
	encSvc  ports.EncryptionService
	cfg     RegistrationConfig
	log     zerolog.Logger

	sweepMu   sync.Mutex
	lastSweep time.Time
}

// NewRegistrationService creates a new RegistrationServiceImpl.
func NewRegistrationService(
	regRepo ports.RegistrationRepository,
	ledger ports.LedgerService,
	encSvc ports.EncryptionService,
	cfg RegistrationConfig,
	log zerolog.Logger,
) *RegistrationServiceImpl {
	return &RegistrationServiceImpl{
		regRepo: regRepo,
		ledger:  ledger,
		encSvc:  encSvc,
		cfg:     cfg,
		log:     log,
	}
}

// CreatePending records the registration intent and returns the
// boltcard://program deeplink the NFC app opens to fetch keys once it has
// read the chip UID.
func (s *RegistrationServiceImpl) CreatePending(ctx context.Context, params ports.CreateRegistrationParams) (*domain.PendingRegistration, string, error) {
	if params.OwnerPubkey == "" || params.WalletID == "" || params.APIKey == "" {
		return nil, "", apperror.Validation("owner_pubkey, wallet_id and api_key are required")
	}
	if !params.Currency.Valid() {
		return nil, "", apperror.Validation("unsupported currency")
	}
	if params.Currency == domain.CurrencyUSD && (params.BtcWalletID == nil || *params.BtcWalletID == "") {
		return nil, "", apperror.Validation("usd cards require a btc_wallet_id for invoices")
	}

	s.sweepStale(ctx)

	apiKeyEnc, err := s.encSvc.Encrypt(params.APIKey)
	if err != nil {
		return nil, "", apperror.ErrEncryptionFailure(fmt.Errorf("encrypt api key: %w", err))
	}

	now := time.Now().UTC()
	reg := &domain.PendingRegistration{
		ID:          uuid.New(),
		OwnerPubkey: params.OwnerPubkey,
		WalletID:    params.WalletID,
		BtcWalletID: params.BtcWalletID,
		APIKeyEnc:   apiKeyEnc,
		Currency:    params.Currency,
		MaxTxAmount: params.MaxTxAmount,
		DailyLimit:  params.DailyLimit,
		Environment: params.Environment,
		Status:      domain.RegistrationStatusPending,
		ExpiresAt:   now.Add(domain.DefaultRegistrationTTL),
		CreatedAt:   now,
	}
	if err := s.regRepo.Create(ctx, reg); err != nil {
		return nil, "", apperror.ErrDatabaseError(fmt.Errorf("create registration: %w", err))
	}

	s.log.Info().Str("registration_id", reg.ID.String()).Str("owner", reg.OwnerPubkey).Msg("registration created")
	return reg, s.programDeeplink(reg.ID), nil
}

// Complete converts a registration into a programmed card for the reported
// UID. A wiped card on the same UID is purged and replaced; a live card
// belonging to the same owner is re-keyed in place; anyone else's card
// blocks the UID.
func (s *RegistrationServiceImpl) Complete(ctx context.Context, id uuid.UUID, uidHex string) (*ports.CardKeysResult, error) {
	// NFC apps report the UID in whatever case the chip stack prints; cards
	// are stored lower-case, so normalize before any lookup.
	uid, err := ntag424.ParseUID(uidHex)
	if err != nil {
		return nil, apperror.ErrMalformedHex()
	}
	uidHex = hex.EncodeToString(uid)

	s.sweepStale(ctx)

	reg, err := s.regRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("get registration: %w", err))
	}
	now := time.Now().UTC()
	if reg == nil || !reg.IsUsable(now) {
		return nil, apperror.ErrRegistrationInvalid()
	}

	card, created, err := s.resolveCard(ctx, reg, uidHex)
	if err != nil {
		return nil, err
	}

	ok, err := s.regRepo.Complete(ctx, id, card.ID, now)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("complete registration: %w", err))
	}
	if !ok {
		// Raced another completion or the TTL ran out mid-flight. A card we
		// minted for this attempt must not linger.
		if created {
			if purgeErr := s.ledger.PurgeCard(ctx, card.ID); purgeErr != nil {
				s.log.Error().Err(purgeErr).Str("card_id", card.ID.String()).Msg("purging orphaned card failed")
			}
		}
		return nil, apperror.ErrRegistrationInvalid()
	}

	if err := s.ledger.ActivateCard(ctx, card.ID); err != nil {
		return nil, err
	}

	keys, err := s.ledger.CardKeys(ctx, card)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("registration_id", id.String()).
		Str("card_id", card.ID.String()).
		Int("version", card.Version).
		Msg("registration completed")

	return &ports.CardKeysResult{
		LNURLW: s.withdrawLink(card.IDHash),
		K0:     strings.ToUpper(hex.EncodeToString(keys.K0)),
		K1:     strings.ToUpper(hex.EncodeToString(keys.K1)),
		K2:     strings.ToUpper(hex.EncodeToString(keys.K2)),
		K3:     strings.ToUpper(hex.EncodeToString(keys.K3)),
		K4:     strings.ToUpper(hex.EncodeToString(keys.K4)),
	}, nil
}

// resolveCard maps the reported UID onto a card, creating one when the UID
// is free. created=true means this call minted a fresh card row.
func (s *RegistrationServiceImpl) resolveCard(ctx context.Context, reg *domain.PendingRegistration, uidHex string) (*domain.Card, bool, error) {
	existing, err := s.ledger.GetCardByUID(ctx, uidHex)
	if err != nil && !isNotFound(err) {
		return nil, false, err
	}

	if existing != nil {
		switch {
		case existing.Status == domain.CardStatusWiped:
			if err := s.ledger.PurgeCard(ctx, existing.ID); err != nil {
				return nil, false, err
			}
		case existing.OwnerPubkey == reg.OwnerPubkey:
			// Same owner re-programming the same chip: rotate keys, keep the
			// card and its balance.
			card, err := s.ledger.ReprogramCard(ctx, existing.ID)
			if err != nil {
				return nil, false, err
			}
			return card, false, nil
		default:
			return nil, false, apperror.ErrUIDOwnedByOther()
		}
	}

	card, err := s.ledger.CreateCard(ctx, ports.CreateCardParams{
		OwnerPubkey: reg.OwnerPubkey,
		UID:         uidHex,
		WalletID:    reg.WalletID,
		BtcWalletID: reg.BtcWalletID,
		APIKeyEnc:   reg.APIKeyEnc,
		Currency:    reg.Currency,
		MaxTxAmount: reg.MaxTxAmount,
		DailyLimit:  reg.DailyLimit,
		Environment: reg.Environment,
	})
	if err != nil {
		return nil, false, err
	}
	return card, true, nil
}

// Cancel abandons a pending registration.
func (s *RegistrationServiceImpl) Cancel(ctx context.Context, id uuid.UUID) error {
	ok, err := s.regRepo.Cancel(ctx, id)
	if err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("cancel registration: %w", err))
	}
	if !ok {
		return apperror.ErrRegistrationInvalid()
	}
	s.log.Info().Str("registration_id", id.String()).Msg("registration cancelled")
	return nil
}

// ResetDeeplink builds the boltcard://reset link the NFC app opens to clear
// a card's keys; the embedded URL tells the server to wipe its side.
func (s *RegistrationServiceImpl) ResetDeeplink(card *domain.Card) string {
	wipe := fmt.Sprintf("%s/api/v1/cards/%s/wipe", strings.TrimRight(s.cfg.BaseURL, "/"), card.ID)
	return "boltcard://reset?url=" + url.QueryEscape(wipe)
}

func (s *RegistrationServiceImpl) programDeeplink(id uuid.UUID) string {
	keys := fmt.Sprintf("%s/api/v1/registrations/%s/keys", strings.TrimRight(s.cfg.BaseURL, "/"), id)
	return "boltcard://program?url=" + url.QueryEscape(keys)
}

// withdrawLink is the lnurlw:// URI burnt onto the card's NDEF record; the
// chip appends the per-tap p and c query parameters itself.
func (s *RegistrationServiceImpl) withdrawLink(idHash string) string {
	host := strings.TrimRight(s.cfg.BaseURL, "/")
	host = strings.TrimPrefix(host, "https://")
	host = strings.TrimPrefix(host, "http://")
	return fmt.Sprintf("lnurlw://%s/ln/withdraw/%s", host, idHash)
}

// sweepStale expires overdue registrations, at most once per interval.
func (s *RegistrationServiceImpl) sweepStale(ctx context.Context) {
	s.sweepMu.Lock()
	due := time.Since(s.lastSweep) >= staleSweepInterval
	if due {
		s.lastSweep = time.Now()
	}
	s.sweepMu.Unlock()
	if !due {
		return
	}

	n, err := s.regRepo.ExpireStale(ctx, time.Now().UTC())
	if err != nil {
		s.log.Warn().Err(err).Msg("expiring stale registrations failed")
		return
	}
	if n > 0 {
		s.log.Info().Int64("count", n).Msg("expired stale registrations")
	}
}

// isNotFound reports whether err is the card-missing rejection.
func isNotFound(err error) bool {
	var appErr *apperror.AppError
	return errors.As(err, &appErr) && appErr.Code == "STATE_001"
}
