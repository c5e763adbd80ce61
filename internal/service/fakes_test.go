package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"boltcard-service/internal/core/domain"
	"boltcard-service/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// fakeTx satisfies pgx.Tx for tests; the fakes mutate state directly so
// commit and rollback are no-ops.
type fakeTx struct{ pgx.Tx }

func (t *fakeTx) Commit(_ context.Context) error   { return nil }
func (t *fakeTx) Rollback(_ context.Context) error { return nil }

type fakeTransactor struct{}

func (f *fakeTransactor) Begin(_ context.Context) (pgx.Tx, error) { return &fakeTx{}, nil }

// --- In-Memory Card Repo ---

// inMemoryCardRepo mirrors the conditional-update semantics of the SQL
// implementation under one mutex.
type inMemoryCardRepo struct {
	mu    sync.Mutex
	cards map[uuid.UUID]*domain.Card
}

func newInMemoryCardRepo() *inMemoryCardRepo {
	return &inMemoryCardRepo{cards: make(map[uuid.UUID]*domain.Card)}
}

func (r *inMemoryCardRepo) Create(_ context.Context, _ pgx.Tx, card *domain.Card) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.cards {
		if c.UID == card.UID {
			return fmt.Errorf("uid already exists")
		}
	}
	cp := *card
	r.cards[card.ID] = &cp
	return nil
}

func (r *inMemoryCardRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Card, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cards[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (r *inMemoryCardRepo) GetByIDHash(_ context.Context, idHash string) (*domain.Card, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.cards {
		if c.IDHash == idHash {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *inMemoryCardRepo) GetByUID(_ context.Context, uid string) (*domain.Card, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.cards {
		if c.UID == uid {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *inMemoryCardRepo) Debit(_ context.Context, _ pgx.Tx, cardID uuid.UUID, amount int64) (int64, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cards[cardID]
	if !ok || c.Status != domain.CardStatusActive || c.Balance < amount {
		return 0, false, nil
	}
	if c.DailyLimit != nil && c.DailySpent+amount > *c.DailyLimit {
		return 0, false, nil
	}
	c.Balance -= amount
	c.DailySpent += amount
	return c.Balance, true, nil
}

func (r *inMemoryCardRepo) Credit(_ context.Context, _ pgx.Tx, cardID uuid.UUID, amount int64) (int64, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cards[cardID]
	if !ok || c.Status == domain.CardStatusWiped {
		return 0, false, nil
	}
	c.Balance += amount
	return c.Balance, true, nil
}

func (r *inMemoryCardRepo) RestoreDebit(_ context.Context, _ pgx.Tx, cardID uuid.UUID, amount int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cards[cardID]
	if !ok {
		return 0, fmt.Errorf("card not found")
	}
	c.Balance += amount
	c.DailySpent -= amount
	if c.DailySpent < 0 {
		c.DailySpent = 0
	}
	return c.Balance, nil
}

func (r *inMemoryCardRepo) UpdateLastCounter(_ context.Context, cardID uuid.UUID, counter uint32) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cards[cardID]
	if !ok || counter <= c.LastCounter {
		return false, nil
	}
	c.LastCounter = counter
	return true, nil
}

func (r *inMemoryCardRepo) ResetDailySpent(_ context.Context, cardID uuid.UUID, now, nextReset time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cards[cardID]
	if !ok {
		return nil
	}
	if !c.DailyResetAt.After(now) {
		c.DailySpent = 0
		c.DailyResetAt = nextReset
	}
	return nil
}

func (r *inMemoryCardRepo) UpdateStatus(_ context.Context, cardID uuid.UUID, from []domain.CardStatus, to domain.CardStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cards[cardID]
	if !ok {
		return false, nil
	}
	for _, f := range from {
		if c.Status == f {
			c.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (r *inMemoryCardRepo) Reprogram(_ context.Context, cardID uuid.UUID) (*domain.Card, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cards[cardID]
	if !ok {
		return nil, nil
	}
	c.Version++
	c.LastCounter = 0
	c.Status = domain.CardStatusPending
	cp := *c
	return &cp, nil
}

func (r *inMemoryCardRepo) Delete(_ context.Context, _ pgx.Tx, cardID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cards, cardID)
	return nil
}

// --- In-Memory Transaction Repo ---

type inMemoryTransactionRepo struct {
	mu   sync.Mutex
	txns []domain.Transaction
}

func newInMemoryTransactionRepo() *inMemoryTransactionRepo {
	return &inMemoryTransactionRepo{}
}

func (r *inMemoryTransactionRepo) Create(_ context.Context, _ pgx.Tx, t *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txns = append(r.txns, *t)
	return nil
}

func (r *inMemoryTransactionRepo) ListByCard(_ context.Context, cardID uuid.UUID, limit int) ([]domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Transaction
	for i := len(r.txns) - 1; i >= 0 && len(out) < limit; i-- {
		if r.txns[i].CardID == cardID {
			out = append(out, r.txns[i])
		}
	}
	return out, nil
}

func (r *inMemoryTransactionRepo) DeleteByCard(_ context.Context, _ pgx.Tx, cardID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.txns[:0]
	for _, t := range r.txns {
		if t.CardID != cardID {
			kept = append(kept, t)
		}
	}
	r.txns = kept
	return nil
}

// --- In-Memory Issuer Key Repo ---

type inMemoryIssuerKeyRepo struct {
	mu   sync.Mutex
	keys map[string]*domain.IssuerKey
}

func newInMemoryIssuerKeyRepo() *inMemoryIssuerKeyRepo {
	return &inMemoryIssuerKeyRepo{keys: make(map[string]*domain.IssuerKey)}
}

func (r *inMemoryIssuerKeyRepo) Create(_ context.Context, key *domain.IssuerKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.keys[key.OwnerPubkey]; ok {
		return fmt.Errorf("owner already has a key")
	}
	cp := *key
	r.keys[key.OwnerPubkey] = &cp
	return nil
}

func (r *inMemoryIssuerKeyRepo) GetByOwner(_ context.Context, owner string) (*domain.IssuerKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.keys[owner]
	if !ok {
		return nil, nil
	}
	cp := *k
	return &cp, nil
}

// --- In-Memory Registration Repo ---

type inMemoryRegistrationRepo struct {
	mu   sync.Mutex
	regs map[uuid.UUID]*domain.PendingRegistration
}

func newInMemoryRegistrationRepo() *inMemoryRegistrationRepo {
	return &inMemoryRegistrationRepo{regs: make(map[uuid.UUID]*domain.PendingRegistration)}
}

func (r *inMemoryRegistrationRepo) Create(_ context.Context, reg *domain.PendingRegistration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *reg
	r.regs[reg.ID] = &cp
	return nil
}

func (r *inMemoryRegistrationRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.PendingRegistration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.regs[id]
	if !ok {
		return nil, nil
	}
	cp := *reg
	return &cp, nil
}

func (r *inMemoryRegistrationRepo) Complete(_ context.Context, id, cardID uuid.UUID, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.regs[id]
	if !ok || reg.Status != domain.RegistrationStatusPending || now.After(reg.ExpiresAt) {
		return false, nil
	}
	reg.Status = domain.RegistrationStatusCompleted
	reg.CardID = &cardID
	return true, nil
}

func (r *inMemoryRegistrationRepo) Cancel(_ context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.regs[id]
	if !ok || reg.Status != domain.RegistrationStatusPending {
		return false, nil
	}
	reg.Status = domain.RegistrationStatusCancelled
	return true, nil
}

func (r *inMemoryRegistrationRepo) ExpireStale(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, reg := range r.regs {
		if reg.Status == domain.RegistrationStatusPending && now.After(reg.ExpiresAt) {
			reg.Status = domain.RegistrationStatusExpired
			n++
		}
	}
	return n, nil
}

// --- In-Memory Top-Up Repo & Cache ---

type inMemoryTopUpRepo struct {
	mu      sync.Mutex
	pending map[string]*domain.PendingTopUp
}

func newInMemoryTopUpRepo() *inMemoryTopUpRepo {
	return &inMemoryTopUpRepo{pending: make(map[string]*domain.PendingTopUp)}
}

func (r *inMemoryTopUpRepo) Create(_ context.Context, p *domain.PendingTopUp) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	r.pending[p.PaymentHash] = &cp
	return nil
}

func (r *inMemoryTopUpRepo) GetByHash(_ context.Context, hash string) (*domain.PendingTopUp, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[hash]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (r *inMemoryTopUpRepo) MarkProcessed(_ context.Context, hash string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[hash]
	if !ok || p.Processed {
		return false, nil
	}
	p.Processed = true
	return true, nil
}

func (r *inMemoryTopUpRepo) Unmark(_ context.Context, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.pending[hash]; ok {
		p.Processed = false
	}
	return nil
}

func (r *inMemoryTopUpRepo) ListPendingByCard(_ context.Context, cardID uuid.UUID) ([]domain.PendingTopUp, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.PendingTopUp
	for _, p := range r.pending {
		if p.CardID == cardID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (r *inMemoryTopUpRepo) Delete(_ context.Context, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, hash)
	return nil
}

type inMemoryTopUpCache struct {
	mu      sync.Mutex
	entries map[string]*domain.PendingTopUp
}

func newInMemoryTopUpCache() *inMemoryTopUpCache {
	return &inMemoryTopUpCache{entries: make(map[string]*domain.PendingTopUp)}
}

func (c *inMemoryTopUpCache) Get(_ context.Context, hash string) (*domain.PendingTopUp, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.entries[hash]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (c *inMemoryTopUpCache) Put(_ context.Context, p *domain.PendingTopUp, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *p
	c.entries[p.PaymentHash] = &cp
	return nil
}

func (c *inMemoryTopUpCache) Invalidate(_ context.Context, hash string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, hash)
	return nil
}

// --- Fake Wallet Backend ---

// fakeWallet records calls and lets tests script failures and invoice
// states.
type fakeWallet struct {
	mu sync.Mutex

	payErr     error
	paidBolt11 []string

	createErr    error
	invoiceSeq   int
	invoiceState map[string]ports.InvoiceState

	transferErr   error
	transferCalls int
}

func newFakeWallet() *fakeWallet {
	return &fakeWallet{invoiceState: make(map[string]ports.InvoiceState)}
}

func (w *fakeWallet) PayInvoice(_ context.Context, _, _, bolt11 string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.payErr != nil {
		return "", w.payErr
	}
	w.paidBolt11 = append(w.paidBolt11, bolt11)
	return "", nil
}

func (w *fakeWallet) CreateInvoice(_ context.Context, _, _ string, amountSats int64, _ string) (*ports.Invoice, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.createErr != nil {
		return nil, w.createErr
	}
	w.invoiceSeq++
	hash := fmt.Sprintf("hash-%04d", w.invoiceSeq)
	w.invoiceState[hash] = ports.InvoiceStatePending
	return &ports.Invoice{
		PaymentRequest: fmt.Sprintf("lnbc-fake-%d-%d", w.invoiceSeq, amountSats),
		PaymentHash:    hash,
	}, nil
}

func (w *fakeWallet) InvoiceStatus(_ context.Context, _, _, hash string) (ports.InvoiceState, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	state, ok := w.invoiceState[hash]
	if !ok {
		return ports.InvoiceStateExpired, nil
	}
	return state, nil
}

func (w *fakeWallet) Transfer(_ context.Context, _, _, _ string, _ int64, _ string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.transferCalls++
	return w.transferErr
}

func (w *fakeWallet) settle(hash string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.invoiceState[hash] = ports.InvoiceStatePaid
}

// --- Fake Rate Provider ---

type fakeRates struct {
	centsPerSat decimal.Decimal
	err         error
}

func (r *fakeRates) CentsPerSat(_ context.Context) (decimal.Decimal, error) {
	if r.err != nil {
		return decimal.Zero, r.err
	}
	return r.centsPerSat, nil
}
