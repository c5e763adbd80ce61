package service

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"boltcard-service/internal/core/domain"
	"boltcard-service/internal/core/ports"
	"boltcard-service/internal/ntag424"
	"boltcard-service/pkg/apperror"
	"boltcard-service/pkg/bolt11"
	"boltcard-service/pkg/metrics"

	"github.com/rs/zerolog"
)

// WithdrawConfig carries the static parts of the withdraw offer.
type WithdrawConfig struct {
	DefaultDescription string
	MinWithdrawSats    int64
}

// WithdrawServiceImpl implements ports.WithdrawService: it turns an
// authenticated NFC tap into an LNURL-withdraw offer and the follow-up
// invoice into a ledger debit plus an outgoing Lightning payment.
type WithdrawServiceImpl struct {
	ledger ports.LedgerService
	wallet ports.WalletBackend
	rates  ports.RateProvider
	encSvc ports.EncryptionService
	cfg    WithdrawConfig
	log    zerolog.Logger
}

// NewWithdrawService creates a new WithdrawServiceImpl.
func NewWithdrawService(
	ledger ports.LedgerService,
	wallet ports.WalletBackend,
	rates ports.RateProvider,
	encSvc ports.EncryptionService,
	cfg WithdrawConfig,
	log zerolog.Logger,
) *WithdrawServiceImpl {
	if cfg.MinWithdrawSats <= 0 {
		cfg.MinWithdrawSats = 1
	}
	return &WithdrawServiceImpl{
		ledger: ledger,
		wallet: wallet,
		rates:  rates,
		encSvc: encSvc,
		cfg:    cfg,
		log:    log,
	}
}

// HandleRequest authenticates the tap and returns the withdraw offer. The
// PICC blob is decrypted before the MAC is checked so the MAC is always
// verified against authenticated UID and counter values, and the counter is
// persisted before any offer goes out so the same tap cannot be replayed
// into a second offer.
func (s *WithdrawServiceImpl) HandleRequest(ctx context.Context, cardIDHash, piccHex, macHex, callbackURL string) (*ports.WithdrawRequestResult, error) {
	picc, err := hex.DecodeString(piccHex)
	if err != nil {
		metrics.Taps.WithLabelValues(metrics.ResultRejected).Inc()
		return nil, apperror.ErrMalformedHex()
	}
	mac, err := hex.DecodeString(macHex)
	if err != nil {
		metrics.Taps.WithLabelValues(metrics.ResultRejected).Inc()
		return nil, apperror.ErrMalformedHex()
	}

	card, err := s.ledger.GetCardByIDHash(ctx, cardIDHash)
	if err != nil {
		metrics.Taps.WithLabelValues(metrics.ResultRejected).Inc()
		return nil, err
	}
	if !card.IsActive() {
		metrics.Taps.WithLabelValues(metrics.ResultRejected).Inc()
		return nil, apperror.ErrCardNotActive()
	}

	keys, err := s.ledger.CardKeys(ctx, card)
	if err != nil {
		metrics.Taps.WithLabelValues(metrics.ResultError).Inc()
		return nil, err
	}

	expectedUID, err := hex.DecodeString(card.UID)
	if err != nil {
		metrics.Taps.WithLabelValues(metrics.ResultError).Inc()
		return nil, apperror.InternalError(fmt.Errorf("stored uid corrupt: %w", err))
	}

	tap, err := ntag424.VerifyTap(ntag424.TapParams{
		PICCData:    picc,
		MAC:         mac,
		K1:          keys.K1,
		K2:          keys.K2,
		ExpectedUID: expectedUID,
		LastCounter: card.LastCounter,
	})
	if err != nil {
		metrics.Taps.WithLabelValues(metrics.ResultRejected).Inc()
		return nil, s.mapTapError(card, err)
	}

	ok, err := s.ledger.UpdateLastCounter(ctx, card.ID, tap.Counter)
	if err != nil {
		metrics.Taps.WithLabelValues(metrics.ResultError).Inc()
		return nil, err
	}
	if !ok {
		// A concurrent tap persisted an equal or higher counter first.
		metrics.Taps.WithLabelValues(metrics.ResultRejected).Inc()
		return nil, apperror.ErrCounterReplay()
	}

	maxSats, err := s.maxWithdrawableSats(ctx, card)
	if err != nil {
		metrics.Taps.WithLabelValues(metrics.ResultError).Inc()
		return nil, err
	}

	minSats := s.cfg.MinWithdrawSats
	if maxSats < minSats {
		// Nothing spendable: the tap authenticated but no valid offer can be
		// made, so the wallet gets the reason instead of an empty offer.
		metrics.Taps.WithLabelValues(metrics.ResultRejected).Inc()
		return nil, s.offerBlockedError(card)
	}

	metrics.Taps.WithLabelValues(metrics.ResultOK).Inc()
	s.log.Info().
		Str("card_id", card.ID.String()).
		Uint32("counter", tap.Counter).
		Int64("max_sats", maxSats).
		Msg("tap authenticated")

	return &ports.WithdrawRequestResult{
		Callback:            callbackURL,
		K1:                  cardIDHash,
		MinWithdrawableMsat: minSats * 1000,
		MaxWithdrawableMsat: maxSats * 1000,
		DefaultDescription:  s.cfg.DefaultDescription,
	}, nil
}

func (s *WithdrawServiceImpl) mapTapError(card *domain.Card, err error) error {
	switch {
	case errors.Is(err, ntag424.ErrReplay):
		s.log.Warn().Str("card_id", card.ID.String()).Msg("tap counter replay")
		return apperror.ErrCounterReplay()
	case errors.Is(err, ntag424.ErrUIDMismatch):
		s.log.Warn().Str("card_id", card.ID.String()).Msg("tap uid mismatch")
		return apperror.ErrUIDMismatch()
	default:
		// Bad PICC tag and MAC mismatch collapse into one rejection so the
		// response does not reveal which check failed.
		s.log.Warn().Str("card_id", card.ID.String()).Err(err).Msg("tap authentication failed")
		return apperror.ErrCardAuthFailed()
	}
}

// offerBlockedError classifies why a card has nothing spendable: the daily
// window when it is the binding cap, insufficient balance otherwise.
func (s *WithdrawServiceImpl) offerBlockedError(card *domain.Card) error {
	if card.DailyLimit != nil {
		remaining := *card.DailyLimit - card.EffectiveDailySpent(time.Now().UTC())
		if remaining < card.Balance && (card.MaxTxAmount == nil || remaining < *card.MaxTxAmount) {
			return apperror.ErrDailyLimitReached()
		}
	}
	return apperror.ErrInsufficientBalance()
}

// maxWithdrawableSats converts min(balance, per-tx cap, daily remainder)
// into satoshis.
func (s *WithdrawServiceImpl) maxWithdrawableSats(ctx context.Context, card *domain.Card) (int64, error) {
	max := card.MaxWithdrawable(time.Now().UTC())
	if card.Currency == domain.CurrencyBTC {
		return max, nil
	}
	rate, err := s.rates.CentsPerSat(ctx)
	if err != nil {
		return 0, apperror.InternalError(fmt.Errorf("exchange rate: %w", err))
	}
	return card.Currency.ToSats(max, rate), nil
}

// HandleCallback debits the ledger and pays the invoice. The debit happens
// first: paying before debiting would let two concurrent callbacks spend the
// same balance. A failed payment restores the debit.
func (s *WithdrawServiceImpl) HandleCallback(ctx context.Context, cardIDHash, invoice string) (string, error) {
	card, err := s.ledger.GetCardByIDHash(ctx, cardIDHash)
	if err != nil {
		metrics.Withdrawals.WithLabelValues(metrics.ResultRejected).Inc()
		return "", err
	}
	if !card.IsActive() {
		metrics.Withdrawals.WithLabelValues(metrics.ResultRejected).Inc()
		return "", apperror.ErrCardNotActive()
	}

	decoded, err := bolt11.Decode(invoice)
	if err != nil {
		metrics.Withdrawals.WithLabelValues(metrics.ResultRejected).Inc()
		return "", apperror.ErrInvalidInvoice(err.Error())
	}
	if !networkAllowed(card.Environment, decoded.Network) {
		metrics.Withdrawals.WithLabelValues(metrics.ResultRejected).Inc()
		return "", apperror.ErrInvalidInvoice(fmt.Sprintf("invoice network %q not allowed", decoded.Network))
	}

	amount, err := s.ledgerAmountFromSats(ctx, card, decoded.AmountSats)
	if err != nil {
		metrics.Withdrawals.WithLabelValues(metrics.ResultError).Inc()
		return "", err
	}

	apiKey, err := s.encSvc.Decrypt(card.APIKeyEnc)
	if err != nil {
		metrics.Withdrawals.WithLabelValues(metrics.ResultError).Inc()
		return "", apperror.ErrEncryptionFailure(fmt.Errorf("decrypt wallet key: %w", err))
	}

	if _, err := s.ledger.Debit(ctx, card.ID, amount, decoded.PaymentHash, "lnurl withdraw"); err != nil {
		metrics.Withdrawals.WithLabelValues(metrics.ResultRejected).Inc()
		return "", err
	}

	paymentHash, err := s.wallet.PayInvoice(ctx, apiKey, card.SpendWalletID(), invoice)
	if err != nil {
		s.log.Error().
			Str("card_id", card.ID.String()).
			Int64("amount", amount).
			Err(err).
			Msg("payment failed, restoring debit")
		if rbErr := s.ledger.RollbackDebit(ctx, card.ID, amount, "payment failed"); rbErr != nil {
			// The debit stands with no payment behind it; this needs an
			// operator. Log everything we have.
			s.log.Error().
				Str("card_id", card.ID.String()).
				Int64("amount", amount).
				Err(rbErr).
				Msg("rollback failed after payment failure")
		}
		metrics.Withdrawals.WithLabelValues(metrics.ResultError).Inc()
		return "", apperror.ErrPaymentFailed(err)
	}
	if paymentHash == "" {
		paymentHash = decoded.PaymentHash
	}

	metrics.Withdrawals.WithLabelValues(metrics.ResultOK).Inc()
	s.log.Info().
		Str("card_id", card.ID.String()).
		Int64("amount", amount).
		Str("payment_hash", paymentHash).
		Msg("withdrawal paid")
	return paymentHash, nil
}

func (s *WithdrawServiceImpl) ledgerAmountFromSats(ctx context.Context, card *domain.Card, sats int64) (int64, error) {
	if card.Currency == domain.CurrencyBTC {
		return sats, nil
	}
	rate, err := s.rates.CentsPerSat(ctx)
	if err != nil {
		return 0, apperror.InternalError(fmt.Errorf("exchange rate: %w", err))
	}
	amount := card.Currency.FromSats(sats, rate)
	if amount <= 0 {
		return 0, apperror.Validation("amount rounds to zero in card currency")
	}
	return amount, nil
}

// networkAllowed matches a card environment against a BOLT11 network prefix.
// An empty environment accepts anything.
func networkAllowed(env, network string) bool {
	switch env {
	case "", "any":
		return true
	case "mainnet":
		return network == "bc"
	case "testnet":
		return network == "tb" || network == "tbs"
	case "regtest":
		return network == "bcrt"
	default:
		return true
	}
}
