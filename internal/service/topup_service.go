package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"boltcard-service/internal/core/domain"
	"boltcard-service/internal/core/ports"
	"boltcard-service/pkg/apperror"
	"boltcard-service/pkg/metrics"

	"github.com/rs/zerolog"
)

// TopUpServiceImpl implements ports.TopUpService: LNURL-pay offers, invoice
// issuance and the settlement path that turns paid invoices into ledger
// credits. Pending invoices live in the durable store with an advisory Redis
// mirror in front; the store alone decides idempotency.
type TopUpServiceImpl struct {
	ledger     ports.LedgerService
	topupRepo  ports.TopUpRepository
	topupCache ports.TopUpCache
	wallet     ports.WalletBackend
	rates      ports.RateProvider
	encSvc     ports.EncryptionService
	log        zerolog.Logger
}

// NewTopUpService creates a new TopUpServiceImpl.
func NewTopUpService(
	ledger ports.LedgerService,
	topupRepo ports.TopUpRepository,
	topupCache ports.TopUpCache,
	wallet ports.WalletBackend,
	rates ports.RateProvider,
	encSvc ports.EncryptionService,
	log zerolog.Logger,
) *TopUpServiceImpl {
	return &TopUpServiceImpl{
		ledger:     ledger,
		topupRepo:  topupRepo,
		topupCache: topupCache,
		wallet:     wallet,
		rates:      rates,
		encSvc:     encSvc,
		log:        log,
	}
}

// PayRequest returns the LUD-06 offer with sendable bounds derived from the
// card currency's top-up limits.
func (s *TopUpServiceImpl) PayRequest(ctx context.Context, cardIDHash, callbackURL string) (*ports.PayRequestResult, error) {
	card, err := s.ledger.GetCardByIDHash(ctx, cardIDHash)
	if err != nil {
		return nil, err
	}
	if !card.CanTopUp() {
		return nil, apperror.ErrCardCannotTopUp()
	}

	minSats, maxSats, err := s.topUpBoundsSats(ctx, card)
	if err != nil {
		return nil, err
	}

	metadata, err := payMetadata(cardIDHash, callbackURL)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("encode metadata: %w", err))
	}

	return &ports.PayRequestResult{
		Callback:        callbackURL,
		MinSendableMsat: minSats * 1000,
		MaxSendableMsat: maxSats * 1000,
		Metadata:        metadata,
		CommentAllowed:  64,
	}, nil
}

// PayCallback creates the top-up invoice and records it as pending.
func (s *TopUpServiceImpl) PayCallback(ctx context.Context, cardIDHash string, amountMsat int64, comment string) (*ports.PayCallbackResult, error) {
	card, err := s.ledger.GetCardByIDHash(ctx, cardIDHash)
	if err != nil {
		return nil, err
	}
	if !card.CanTopUp() {
		return nil, apperror.ErrCardCannotTopUp()
	}

	if amountMsat <= 0 || amountMsat%1000 != 0 {
		return nil, apperror.Validation("amount must be a positive whole number of satoshis")
	}
	sats := amountMsat / 1000

	minSats, maxSats, err := s.topUpBoundsSats(ctx, card)
	if err != nil {
		return nil, err
	}
	if sats < minSats || sats > maxSats {
		return nil, apperror.Validation(fmt.Sprintf("amount out of range [%d, %d] sats", minSats, maxSats))
	}

	apiKey, err := s.encSvc.Decrypt(card.APIKeyEnc)
	if err != nil {
		return nil, apperror.ErrEncryptionFailure(fmt.Errorf("decrypt wallet key: %w", err))
	}

	memo := fmt.Sprintf("Card top-up %s", shortHash(cardIDHash))
	if comment != "" {
		memo = fmt.Sprintf("%s: %s", memo, comment)
	}
	invoice, err := s.wallet.CreateInvoice(ctx, apiKey, card.InvoiceWalletID(), sats, memo)
	if err != nil {
		return nil, apperror.ErrInvoiceCreationFailed(err)
	}

	now := time.Now().UTC()
	pending := &domain.PendingTopUp{
		PaymentHash: invoice.PaymentHash,
		CardID:      card.ID,
		AmountSats:  sats,
		Currency:    card.Currency,
		ExpiresAt:   now.Add(domain.PendingTopUpTTL),
		CreatedAt:   now,
	}
	if err := s.topupRepo.Create(ctx, pending); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("record pending topup: %w", err))
	}
	if err := s.topupCache.Put(ctx, pending, domain.PendingTopUpTTL); err != nil {
		// Cache is advisory; the durable row is already in place.
		s.log.Warn().Err(err).Str("payment_hash", invoice.PaymentHash).Msg("caching pending topup failed")
	}

	s.log.Info().
		Str("card_id", card.ID.String()).
		Int64("sats", sats).
		Str("payment_hash", invoice.PaymentHash).
		Msg("topup invoice created")

	return &ports.PayCallbackResult{
		PaymentRequest: invoice.PaymentRequest,
		PaymentHash:    invoice.PaymentHash,
		SuccessMessage: "Payment received, card will be credited shortly",
	}, nil
}

// ProcessPayment credits the ledger for a settled invoice exactly once. The
// conditional processed flag in the durable store is the gate: whichever
// caller flips it does the credit, every other caller is a no-op.
func (s *TopUpServiceImpl) ProcessPayment(ctx context.Context, paymentHash string) error {
	pending, err := s.lookupPending(ctx, paymentHash)
	if err != nil {
		return err
	}
	if pending == nil {
		return apperror.ErrTopUpNotFound()
	}
	if pending.Processed {
		return nil
	}

	ok, err := s.topupRepo.MarkProcessed(ctx, paymentHash)
	if err != nil {
		metrics.TopUps.WithLabelValues(metrics.ResultError).Inc()
		return apperror.ErrDatabaseError(fmt.Errorf("mark processed: %w", err))
	}
	if !ok {
		// Lost the race to a concurrent settlement of the same hash.
		return nil
	}

	card, err := s.ledger.GetCard(ctx, pending.CardID)
	if err != nil {
		s.unmark(ctx, paymentHash)
		metrics.TopUps.WithLabelValues(metrics.ResultError).Inc()
		return err
	}

	amount, err := s.creditAmount(ctx, card, pending.AmountSats)
	if err != nil {
		s.unmark(ctx, paymentHash)
		metrics.TopUps.WithLabelValues(metrics.ResultError).Inc()
		return err
	}

	if _, err := s.ledger.Credit(ctx, card.ID, amount, paymentHash, "lnurl topup"); err != nil {
		s.unmark(ctx, paymentHash)
		metrics.TopUps.WithLabelValues(metrics.ResultError).Inc()
		return err
	}

	s.bridgeToSpendWallet(ctx, card, pending.AmountSats)

	if err := s.topupCache.Invalidate(ctx, paymentHash); err != nil {
		s.log.Warn().Err(err).Str("payment_hash", paymentHash).Msg("cache invalidation failed")
	}

	metrics.TopUps.WithLabelValues(metrics.ResultOK).Inc()
	s.log.Info().
		Str("card_id", card.ID.String()).
		Int64("amount", amount).
		Str("payment_hash", paymentHash).
		Msg("topup credited")
	return nil
}

// CheckPending polls the wallet backend for every outstanding top-up of the
// card, crediting settled invoices and pruning expired ones.
func (s *TopUpServiceImpl) CheckPending(ctx context.Context, cardIDHash string) (int, error) {
	card, err := s.ledger.GetCardByIDHash(ctx, cardIDHash)
	if err != nil {
		return 0, err
	}

	pendings, err := s.topupRepo.ListPendingByCard(ctx, card.ID)
	if err != nil {
		return 0, apperror.ErrDatabaseError(fmt.Errorf("list pending topups: %w", err))
	}
	if len(pendings) == 0 {
		return 0, nil
	}

	apiKey, err := s.encSvc.Decrypt(card.APIKeyEnc)
	if err != nil {
		return 0, apperror.ErrEncryptionFailure(fmt.Errorf("decrypt wallet key: %w", err))
	}

	now := time.Now().UTC()
	credited := 0
	for i := range pendings {
		p := &pendings[i]
		if p.Processed {
			continue
		}

		state, err := s.wallet.InvoiceStatus(ctx, apiKey, card.InvoiceWalletID(), p.PaymentHash)
		if err != nil {
			s.log.Warn().Err(err).Str("payment_hash", p.PaymentHash).Msg("invoice status check failed")
			continue
		}

		switch {
		case state == ports.InvoiceStatePaid:
			if err := s.ProcessPayment(ctx, p.PaymentHash); err != nil {
				s.log.Error().Err(err).Str("payment_hash", p.PaymentHash).Msg("crediting settled topup failed")
				continue
			}
			credited++
		case state == ports.InvoiceStateExpired || p.IsExpired(now):
			if err := s.topupRepo.Delete(ctx, p.PaymentHash); err != nil {
				s.log.Warn().Err(err).Str("payment_hash", p.PaymentHash).Msg("pruning expired topup failed")
				continue
			}
			if err := s.topupCache.Invalidate(ctx, p.PaymentHash); err != nil {
				s.log.Warn().Err(err).Str("payment_hash", p.PaymentHash).Msg("cache invalidation failed")
			}
		}
	}
	return credited, nil
}

// lookupPending reads through the cache into the durable store.
func (s *TopUpServiceImpl) lookupPending(ctx context.Context, paymentHash string) (*domain.PendingTopUp, error) {
	cached, err := s.topupCache.Get(ctx, paymentHash)
	if err != nil {
		s.log.Warn().Err(err).Str("payment_hash", paymentHash).Msg("topup cache read failed, falling through")
	}
	if cached != nil && !cached.Processed {
		// The flag may be stale in the cache; the store decides.
		return s.getDurable(ctx, paymentHash)
	}
	if cached != nil {
		return cached, nil
	}
	return s.getDurable(ctx, paymentHash)
}

func (s *TopUpServiceImpl) getDurable(ctx context.Context, paymentHash string) (*domain.PendingTopUp, error) {
	pending, err := s.topupRepo.GetByHash(ctx, paymentHash)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("get pending topup: %w", err))
	}
	return pending, nil
}

func (s *TopUpServiceImpl) unmark(ctx context.Context, paymentHash string) {
	if err := s.topupRepo.Unmark(ctx, paymentHash); err != nil {
		s.log.Error().Err(err).Str("payment_hash", paymentHash).Msg("unmarking topup after failed credit")
	}
}

// bridgeToSpendWallet moves settled sats from a USD card's BTC-side invoice
// wallet into its spending wallet. Failure does not undo the credit: the
// sats are safe on the BTC side and the move can be retried by an operator.
func (s *TopUpServiceImpl) bridgeToSpendWallet(ctx context.Context, card *domain.Card, sats int64) {
	if card.Currency != domain.CurrencyUSD || card.BtcWalletID == nil || *card.BtcWalletID == "" {
		return
	}
	apiKey, err := s.encSvc.Decrypt(card.APIKeyEnc)
	if err != nil {
		s.log.Error().Err(err).Str("card_id", card.ID.String()).Msg("decrypt wallet key for bridge transfer")
		return
	}
	if err := s.wallet.Transfer(ctx, apiKey, *card.BtcWalletID, card.WalletID, sats, "topup bridge"); err != nil {
		s.log.Error().
			Err(err).
			Str("card_id", card.ID.String()).
			Int64("sats", sats).
			Msg("bridge transfer failed, sats remain on btc wallet")
	}
}

// creditAmount converts settled sats into the card's ledger units at the
// processing-time rate.
func (s *TopUpServiceImpl) creditAmount(ctx context.Context, card *domain.Card, sats int64) (int64, error) {
	if card.Currency == domain.CurrencyBTC {
		return sats, nil
	}
	rate, err := s.rates.CentsPerSat(ctx)
	if err != nil {
		return 0, apperror.InternalError(fmt.Errorf("exchange rate: %w", err))
	}
	amount := card.Currency.FromSats(sats, rate)
	if amount <= 0 {
		return 0, apperror.Validation("settled amount rounds to zero in card currency")
	}
	return amount, nil
}

// topUpBoundsSats converts the currency's ledger-unit bounds into sats.
func (s *TopUpServiceImpl) topUpBoundsSats(ctx context.Context, card *domain.Card) (int64, int64, error) {
	min, max := card.Currency.TopUpBounds()
	if card.Currency == domain.CurrencyBTC {
		return min, max, nil
	}
	rate, err := s.rates.CentsPerSat(ctx)
	if err != nil {
		return 0, 0, apperror.InternalError(fmt.Errorf("exchange rate: %w", err))
	}
	minSats := card.Currency.ToSats(min, rate)
	if minSats < 1 {
		minSats = 1
	}
	return minSats, card.Currency.ToSats(max, rate), nil
}

// payMetadata builds the LUD-06 metadata array: a human-readable text/plain
// entry plus the card's lightning-address style identifier derived from the
// callback host.
func payMetadata(cardIDHash, callbackURL string) (string, error) {
	meta := [][]string{
		{"text/plain", fmt.Sprintf("Top up card %s", shortHash(cardIDHash))},
	}
	if u, err := url.Parse(callbackURL); err == nil && u.Host != "" {
		meta = append(meta, []string{"text/identifier", fmt.Sprintf("%s@%s", shortHash(cardIDHash), u.Host)})
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func shortHash(h string) string {
	if len(h) <= 8 {
		return h
	}
	return h[:8]
}
