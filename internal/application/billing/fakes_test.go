package billing

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jobdeck/backend/internal/domain/billing"
	"github.com/jobdeck/backend/internal/domain/shared"
)

// In-memory doubles that reproduce the repositories' concurrency contracts
// (version checks, guarded increments, forward-only status) so service
// tests exercise the same interleavings the real store would.

type memSubscriptionRepo struct {
	mu    sync.Mutex
	subs  map[uuid.UUID]billing.Subscription
	order []uuid.UUID
}

func newMemSubscriptionRepo() *memSubscriptionRepo {
	return &memSubscriptionRepo{subs: make(map[uuid.UUID]billing.Subscription)}
}

func (r *memSubscriptionRepo) FindByID(ctx context.Context, id uuid.UUID) (*billing.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[id]
	if !ok {
		return nil, billing.ErrSubscriptionNotFound
	}
	return &sub, nil
}

func (r *memSubscriptionRepo) FindActiveByUser(ctx context.Context, userID uuid.UUID) (*billing.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.order) - 1; i >= 0; i-- {
		sub := r.subs[r.order[i]]
		if sub.UserID == userID && sub.Status == billing.SubscriptionStatusActive {
			return &sub, nil
		}
	}
	return nil, billing.ErrSubscriptionNotFound
}

func (r *memSubscriptionRepo) FindLatestByUser(ctx context.Context, userID uuid.UUID) (*billing.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.order) - 1; i >= 0; i-- {
		sub := r.subs[r.order[i]]
		if sub.UserID == userID {
			return &sub, nil
		}
	}
	return nil, billing.ErrSubscriptionNotFound
}

func (r *memSubscriptionRepo) FindBySubscriptionCode(ctx context.Context, code string) (*billing.Subscription, error) {
	return r.findByCode(code, func(sub billing.Subscription) string { return sub.SubscriptionCode })
}

func (r *memSubscriptionRepo) FindByCustomerCode(ctx context.Context, code string) (*billing.Subscription, error) {
	return r.findByCode(code, func(sub billing.Subscription) string { return sub.CustomerCode })
}

func (r *memSubscriptionRepo) findByCode(code string, field func(billing.Subscription) string) (*billing.Subscription, error) {
	if code == "" {
		return nil, billing.ErrSubscriptionNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.order) - 1; i >= 0; i-- {
		sub := r.subs[r.order[i]]
		if field(sub) == code && !sub.Status.IsTerminal() {
			return &sub, nil
		}
	}
	return nil, billing.ErrSubscriptionNotFound
}

func (r *memSubscriptionRepo) FindSuspendedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*billing.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*billing.Subscription
	for _, id := range r.order {
		sub := r.subs[id]
		if sub.Status == billing.SubscriptionStatusSuspended &&
			sub.SuspendedAt != nil && sub.SuspendedAt.Before(cutoff) {
			copied := sub
			out = append(out, &copied)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (r *memSubscriptionRepo) Create(ctx context.Context, sub *billing.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.order {
		existing := r.subs[id]
		if existing.UserID == sub.UserID && existing.Status == billing.SubscriptionStatusActive {
			return shared.ErrAlreadyExists
		}
	}
	r.subs[sub.ID] = *sub
	r.order = append(r.order, sub.ID)
	return nil
}

func (r *memSubscriptionRepo) Save(ctx context.Context, sub *billing.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.subs[sub.ID]
	if !ok {
		return billing.ErrSubscriptionNotFound
	}
	if stored.Version != sub.Version-1 {
		return shared.ErrConcurrencyConflict
	}
	r.subs[sub.ID] = *sub
	return nil
}

type memTransactionRepo struct {
	mu  sync.Mutex
	txs map[string]billing.PaymentTransaction
}

func newMemTransactionRepo() *memTransactionRepo {
	return &memTransactionRepo{txs: make(map[string]billing.PaymentTransaction)}
}

func (r *memTransactionRepo) CreateIfAbsent(ctx context.Context, tx *billing.PaymentTransaction) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.txs[tx.Reference]; ok {
		return false, nil
	}
	r.txs[tx.Reference] = *tx
	return true, nil
}

func (r *memTransactionRepo) FindByReference(ctx context.Context, reference string) (*billing.PaymentTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.txs[reference]
	if !ok {
		return nil, billing.ErrTransactionNotFound
	}
	return &tx, nil
}

func (r *memTransactionRepo) Save(ctx context.Context, tx *billing.PaymentTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.txs[tx.Reference]
	if !ok {
		return billing.ErrTransactionNotFound
	}
	if stored.Status != billing.TransactionStatusPending && stored.Status != tx.Status {
		return billing.ErrInvalidTransition
	}
	r.txs[tx.Reference] = *tx
	return nil
}

type counterKey struct {
	userID      uuid.UUID
	resourceKey billing.ResourceKey
	periodStart time.Time
}

type memCounterRepo struct {
	mu       sync.Mutex
	counters map[counterKey]billing.UsageCounter
}

func newMemCounterRepo() *memCounterRepo {
	return &memCounterRepo{counters: make(map[counterKey]billing.UsageCounter)}
}

func (r *memCounterRepo) EnsureCounter(ctx context.Context, counter *billing.UsageCounter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := counterKey{counter.UserID, counter.ResourceKey, counter.PeriodStart}
	if _, ok := r.counters[key]; !ok {
		r.counters[key] = *counter
	}
	return nil
}

func (r *memCounterRepo) IncrementWithinLimit(ctx context.Context, userID uuid.UUID, key billing.ResourceKey, periodStart time.Time, amount, ceiling int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := counterKey{userID, key, periodStart}
	counter, ok := r.counters[k]
	if !ok {
		return false, shared.ErrNotFound
	}
	if ceiling >= 0 && counter.Count+amount > ceiling {
		return false, nil
	}
	counter.Count += amount
	r.counters[k] = counter
	return true, nil
}

func (r *memCounterRepo) FindCurrent(ctx context.Context, userID uuid.UUID, key billing.ResourceKey, periodStart time.Time) (*billing.UsageCounter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counter, ok := r.counters[counterKey{userID, key, periodStart}]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &counter, nil
}

func (r *memCounterRepo) FindAllCurrent(ctx context.Context, userID uuid.UUID) ([]*billing.UsageCounter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	var out []*billing.UsageCounter
	for _, counter := range r.counters {
		if counter.UserID == userID && !counter.PeriodStart.After(now) && !counter.PeriodEnd.Before(now) {
			copied := counter
			out = append(out, &copied)
		}
	}
	return out, nil
}

type memCacheEntry struct {
	value     []byte
	expiresAt time.Time
}

// memCache is a shared.Cache double with error injection for outage paths
type memCache struct {
	mu               sync.Mutex
	entries          map[string]memCacheEntry
	failSetIfAbsent  error
	failDelete       error
	setIfAbsentCalls int
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string]memCacheEntry)}
}

func (c *memCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, nil
	}
	return entry.value, nil
}

func (c *memCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memCacheEntry{value: value, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (c *memCache) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setIfAbsentCalls++
	if c.failSetIfAbsent != nil {
		return false, c.failSetIfAbsent
	}
	if entry, ok := c.entries[key]; ok && time.Now().Before(entry.expiresAt) {
		return false, nil
	}
	c.entries[key] = memCacheEntry{value: value, expiresAt: time.Now().Add(ttl)}
	return true, nil
}

func (c *memCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failDelete != nil {
		return c.failDelete
	}
	delete(c.entries, key)
	return nil
}

func (c *memCache) DeleteByPrefix(ctx context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
	return nil
}

func (c *memCache) Close() error { return nil }

func (c *memCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	return ok && time.Now().Before(entry.expiresAt)
}

// fakeGateway scripts provider responses
type fakeGateway struct {
	mu          sync.Mutex
	initResp    *billing.InitializeResponse
	initErr     error
	verifyResp  *billing.VerifyResponse
	verifyErr   error
	parseEvent  *billing.WebhookEvent
	parseErr    error
	initCalls   int
	verifyCalls int
}

func (g *fakeGateway) InitializeTransaction(ctx context.Context, req billing.InitializeRequest) (*billing.InitializeResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.initCalls++
	if g.initErr != nil {
		return nil, g.initErr
	}
	if g.initResp != nil {
		return g.initResp, nil
	}
	return &billing.InitializeResponse{
		Reference:   req.Reference,
		RedirectURL: "https://checkout.example.com/" + req.Reference,
		AccessCode:  "AC_test",
	}, nil
}

func (g *fakeGateway) VerifyTransaction(ctx context.Context, reference string) (*billing.VerifyResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verifyCalls++
	if g.verifyErr != nil {
		return nil, g.verifyErr
	}
	return g.verifyResp, nil
}

func (g *fakeGateway) ParseWebhook(rawBody []byte, signatureHeader string) (*billing.WebhookEvent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.parseErr != nil {
		return nil, g.parseErr
	}
	return g.parseEvent, nil
}

// recordingBus captures published domain events
type recordingBus struct {
	mu     sync.Mutex
	events []shared.DomainEvent
}

func (b *recordingBus) Publish(ctx context.Context, events ...shared.DomainEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, events...)
	return nil
}

func (b *recordingBus) Subscribe(handler shared.EventHandler, eventTypes ...string) {}
func (b *recordingBus) Unsubscribe(handler shared.EventHandler)                    {}
func (b *recordingBus) Start(ctx context.Context) error                            { return nil }
func (b *recordingBus) Stop(ctx context.Context) error                             { return nil }

func (b *recordingBus) typesSeen() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.events))
	for _, evt := range b.events {
		out = append(out, evt.EventType())
	}
	return out
}
