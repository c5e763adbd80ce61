package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"boltcard-service/internal/core/domain"
	"boltcard-service/internal/core/ports"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type topupTestDeps struct {
	svc    *TopUpServiceImpl
	ledger *LedgerServiceImpl
	repo   *inMemoryTopUpRepo
	cache  *inMemoryTopUpCache
	wallet *fakeWallet
	rates  *fakeRates
	encSvc *AESEncryptionService
	deps   *ledgerTestDeps
}

func setupTopUpService(t *testing.T) *topupTestDeps {
	t.Helper()
	ld := setupLedgerService(t)
	encSvc, err := NewAESEncryptionService(testEncKey)
	require.NoError(t, err)

	d := &topupTestDeps{
		ledger: ld.svc,
		repo:   newInMemoryTopUpRepo(),
		cache:  newInMemoryTopUpCache(),
		wallet: newFakeWallet(),
		rates:  &fakeRates{centsPerSat: decimal.NewFromFloat(0.1)},
		encSvc: encSvc,
		deps:   ld,
	}
	d.svc = NewTopUpService(ld.svc, d.repo, d.cache, d.wallet, d.rates, encSvc, zerolog.Nop())
	return d
}

func (d *topupTestDeps) newCard(t *testing.T, currency domain.Currency) *domain.Card {
	t.Helper()
	ctx := context.Background()
	apiKeyEnc, err := d.encSvc.Encrypt("wallet-api-key")
	require.NoError(t, err)

	var btcWallet *string
	if currency == domain.CurrencyUSD {
		w := "wallet-btc"
		btcWallet = &w
	}
	card, err := d.ledger.CreateCard(ctx, ports.CreateCardParams{
		OwnerPubkey: "owner-1",
		UID:         "04a39493cc8680",
		WalletID:    "wallet-1",
		BtcWalletID: btcWallet,
		APIKeyEnc:   apiKeyEnc,
		Currency:    currency,
	})
	require.NoError(t, err)
	require.NoError(t, d.ledger.ActivateCard(ctx, card.ID))
	got, err := d.ledger.GetCard(ctx, card.ID)
	require.NoError(t, err)
	return got
}

func TestTopUpService_PayRequest(t *testing.T) {
	d := setupTopUpService(t)
	card := d.newCard(t, domain.CurrencyBTC)

	res, err := d.svc.PayRequest(context.Background(), card.IDHash, "https://cards.example.com/cb")
	require.NoError(t, err)

	assert.Equal(t, "https://cards.example.com/cb", res.Callback)
	assert.Equal(t, int64(100_000), res.MinSendableMsat)       // 100 sats
	assert.Equal(t, int64(10_000_000_000), res.MaxSendableMsat) // 10M sats

	var meta [][]string
	require.NoError(t, json.Unmarshal([]byte(res.Metadata), &meta))
	require.Len(t, meta, 2)
	assert.Equal(t, "text/plain", meta[0][0])
	assert.Equal(t, "text/identifier", meta[1][0])
	assert.Equal(t, shortHash(card.IDHash)+"@cards.example.com", meta[1][1])
}

func TestTopUpService_PayRequest_MetadataWithoutHost(t *testing.T) {
	d := setupTopUpService(t)
	card := d.newCard(t, domain.CurrencyBTC)

	// A callback with no parseable host still yields valid metadata, just
	// without the identifier entry.
	res, err := d.svc.PayRequest(context.Background(), card.IDHash, "cb")
	require.NoError(t, err)

	var meta [][]string
	require.NoError(t, json.Unmarshal([]byte(res.Metadata), &meta))
	require.Len(t, meta, 1)
	assert.Equal(t, "text/plain", meta[0][0])
}

func TestTopUpService_PayRequest_WipedCard(t *testing.T) {
	d := setupTopUpService(t)
	ctx := context.Background()
	card := d.newCard(t, domain.CurrencyBTC)
	require.NoError(t, d.ledger.WipeCard(ctx, card.ID))

	_, err := d.svc.PayRequest(ctx, card.IDHash, "cb")
	assertCode(t, err, "STATE_003")
}

func TestTopUpService_PayCallback(t *testing.T) {
	d := setupTopUpService(t)
	ctx := context.Background()
	card := d.newCard(t, domain.CurrencyBTC)

	res, err := d.svc.PayCallback(ctx, card.IDHash, 500_000_000, "") // 500k sats
	require.NoError(t, err)
	assert.NotEmpty(t, res.PaymentRequest)
	assert.NotEmpty(t, res.PaymentHash)

	// Recorded durably and mirrored in the cache.
	pending, err := d.repo.GetByHash(ctx, res.PaymentHash)
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, card.ID, pending.CardID)
	assert.Equal(t, int64(500_000), pending.AmountSats)
	assert.False(t, pending.Processed)

	cached, err := d.cache.Get(ctx, res.PaymentHash)
	require.NoError(t, err)
	assert.NotNil(t, cached)
}

func TestTopUpService_PayCallback_Bounds(t *testing.T) {
	d := setupTopUpService(t)
	ctx := context.Background()
	card := d.newCard(t, domain.CurrencyBTC)

	// Below 100 sats.
	_, err := d.svc.PayCallback(ctx, card.IDHash, 99_000, "")
	assertCode(t, err, "SYS_004")

	// Above 10M sats.
	_, err = d.svc.PayCallback(ctx, card.IDHash, 10_000_001_000, "")
	assertCode(t, err, "SYS_004")

	// Fractional satoshis.
	_, err = d.svc.PayCallback(ctx, card.IDHash, 100_500, "")
	assertCode(t, err, "SYS_004")
}

func TestTopUpService_ProcessPayment(t *testing.T) {
	d := setupTopUpService(t)
	ctx := context.Background()
	card := d.newCard(t, domain.CurrencyBTC)

	res, err := d.svc.PayCallback(ctx, card.IDHash, 1_000_000, "") // 1000 sats
	require.NoError(t, err)

	require.NoError(t, d.svc.ProcessPayment(ctx, res.PaymentHash))

	got, err := d.ledger.GetCard(ctx, card.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), got.Balance)

	txns, err := d.ledger.ListTransactions(ctx, card.ID, 10)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, domain.TransactionTypeTopUp, txns[0].Type)
	require.NotNil(t, txns[0].PaymentHash)
	assert.Equal(t, res.PaymentHash, *txns[0].PaymentHash)
}

func TestTopUpService_ProcessPayment_Idempotent(t *testing.T) {
	d := setupTopUpService(t)
	ctx := context.Background()
	card := d.newCard(t, domain.CurrencyBTC)

	res, err := d.svc.PayCallback(ctx, card.IDHash, 1_000_000, "")
	require.NoError(t, err)

	require.NoError(t, d.svc.ProcessPayment(ctx, res.PaymentHash))
	require.NoError(t, d.svc.ProcessPayment(ctx, res.PaymentHash))
	require.NoError(t, d.svc.ProcessPayment(ctx, res.PaymentHash))

	got, err := d.ledger.GetCard(ctx, card.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), got.Balance)
}

func TestTopUpService_ProcessPayment_ConcurrentSingleCredit(t *testing.T) {
	d := setupTopUpService(t)
	ctx := context.Background()
	card := d.newCard(t, domain.CurrencyBTC)

	res, err := d.svc.PayCallback(ctx, card.IDHash, 1_000_000, "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = d.svc.ProcessPayment(ctx, res.PaymentHash)
		}()
	}
	wg.Wait()

	got, err := d.ledger.GetCard(ctx, card.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), got.Balance)
}

func TestTopUpService_ProcessPayment_UnknownHash(t *testing.T) {
	d := setupTopUpService(t)
	err := d.svc.ProcessPayment(context.Background(), "no-such-hash")
	assertCode(t, err, "STATE_006")
}

func TestTopUpService_ProcessPayment_CreditFailureUnmarks(t *testing.T) {
	d := setupTopUpService(t)
	ctx := context.Background()
	card := d.newCard(t, domain.CurrencyBTC)

	res, err := d.svc.PayCallback(ctx, card.IDHash, 1_000_000, "")
	require.NoError(t, err)

	// The card gets wiped between invoice and settlement.
	require.NoError(t, d.ledger.WipeCard(ctx, card.ID))
	err = d.svc.ProcessPayment(ctx, res.PaymentHash)
	assertCode(t, err, "STATE_003")

	// The gate is released so a later retry can run after the operator
	// resolves the card.
	pending, err := d.repo.GetByHash(ctx, res.PaymentHash)
	require.NoError(t, err)
	assert.False(t, pending.Processed)
}

func TestTopUpService_ProcessPayment_USDBridgesToSpendWallet(t *testing.T) {
	d := setupTopUpService(t)
	ctx := context.Background()
	card := d.newCard(t, domain.CurrencyUSD)

	res, err := d.svc.PayCallback(ctx, card.IDHash, 1_000_000, "") // 1000 sats
	require.NoError(t, err)
	require.NoError(t, d.svc.ProcessPayment(ctx, res.PaymentHash))

	got, err := d.ledger.GetCard(ctx, card.ID)
	require.NoError(t, err)
	// 1000 sats at 0.1 cent/sat = 100 cents
	assert.Equal(t, int64(100), got.Balance)
	assert.Equal(t, 1, d.wallet.transferCalls)
}

func TestTopUpService_ProcessPayment_BridgeFailureKeepsCredit(t *testing.T) {
	d := setupTopUpService(t)
	ctx := context.Background()
	card := d.newCard(t, domain.CurrencyUSD)
	d.wallet.transferErr = fmt.Errorf("backend down")

	res, err := d.svc.PayCallback(ctx, card.IDHash, 1_000_000, "")
	require.NoError(t, err)
	require.NoError(t, d.svc.ProcessPayment(ctx, res.PaymentHash))

	got, err := d.ledger.GetCard(ctx, card.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.Balance)
}

func TestTopUpService_CheckPending(t *testing.T) {
	d := setupTopUpService(t)
	ctx := context.Background()
	card := d.newCard(t, domain.CurrencyBTC)

	paid, err := d.svc.PayCallback(ctx, card.IDHash, 1_000_000, "")
	require.NoError(t, err)
	unpaid, err := d.svc.PayCallback(ctx, card.IDHash, 2_000_000, "")
	require.NoError(t, err)
	expired, err := d.svc.PayCallback(ctx, card.IDHash, 3_000_000, "")
	require.NoError(t, err)

	d.wallet.settle(paid.PaymentHash)
	d.wallet.mu.Lock()
	d.wallet.invoiceState[expired.PaymentHash] = ports.InvoiceStateExpired
	d.wallet.mu.Unlock()

	credited, err := d.svc.CheckPending(ctx, card.IDHash)
	require.NoError(t, err)
	assert.Equal(t, 1, credited)

	got, err := d.ledger.GetCard(ctx, card.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), got.Balance)

	// The expired invoice was pruned; the unpaid one survives.
	gone, err := d.repo.GetByHash(ctx, expired.PaymentHash)
	require.NoError(t, err)
	assert.Nil(t, gone)
	still, err := d.repo.GetByHash(ctx, unpaid.PaymentHash)
	require.NoError(t, err)
	require.NotNil(t, still)
	assert.False(t, still.Processed)
}

func TestTopUpService_CheckPending_TTLPrunes(t *testing.T) {
	d := setupTopUpService(t)
	ctx := context.Background()
	card := d.newCard(t, domain.CurrencyBTC)

	res, err := d.svc.PayCallback(ctx, card.IDHash, 1_000_000, "")
	require.NoError(t, err)

	// Age the record past its tracking window.
	d.repo.mu.Lock()
	d.repo.pending[res.PaymentHash].ExpiresAt = time.Now().UTC().Add(-time.Minute)
	d.repo.mu.Unlock()
	d.wallet.mu.Lock()
	d.wallet.invoiceState[res.PaymentHash] = ports.InvoiceStateExpired
	d.wallet.mu.Unlock()

	credited, err := d.svc.CheckPending(ctx, card.IDHash)
	require.NoError(t, err)
	assert.Equal(t, 0, credited)

	gone, err := d.repo.GetByHash(ctx, res.PaymentHash)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestTopUpService_CacheMissFallsThroughToStore(t *testing.T) {
	d := setupTopUpService(t)
	ctx := context.Background()
	card := d.newCard(t, domain.CurrencyBTC)

	res, err := d.svc.PayCallback(ctx, card.IDHash, 1_000_000, "")
	require.NoError(t, err)

	// Drop the cache entry entirely; the durable row still settles.
	require.NoError(t, d.cache.Invalidate(ctx, res.PaymentHash))
	require.NoError(t, d.svc.ProcessPayment(ctx, res.PaymentHash))

	got, err := d.ledger.GetCard(ctx, card.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), got.Balance)
}
