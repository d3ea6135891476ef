package handler

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	appbilling "github.com/jobdeck/backend/internal/application/billing"
	"github.com/jobdeck/backend/internal/domain/billing"
	"github.com/jobdeck/backend/internal/domain/shared"
)

// stubSubscriptionRepo keeps subscriptions in a map, enough to exercise
// the HTTP layer's mapping of service results
type stubSubscriptionRepo struct {
	mu    sync.Mutex
	subs  map[uuid.UUID]billing.Subscription
	order []uuid.UUID
}

func newStubSubscriptionRepo() *stubSubscriptionRepo {
	return &stubSubscriptionRepo{subs: make(map[uuid.UUID]billing.Subscription)}
}

func (r *stubSubscriptionRepo) FindByID(ctx context.Context, id uuid.UUID) (*billing.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[id]
	if !ok {
		return nil, billing.ErrSubscriptionNotFound
	}
	return &sub, nil
}

func (r *stubSubscriptionRepo) FindActiveByUser(ctx context.Context, userID uuid.UUID) (*billing.Subscription, error) {
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

func (r *stubSubscriptionRepo) FindLatestByUser(ctx context.Context, userID uuid.UUID) (*billing.Subscription, error) {
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

func (r *stubSubscriptionRepo) FindBySubscriptionCode(ctx context.Context, code string) (*billing.Subscription, error) {
	return nil, billing.ErrSubscriptionNotFound
}

func (r *stubSubscriptionRepo) FindByCustomerCode(ctx context.Context, code string) (*billing.Subscription, error) {
	return nil, billing.ErrSubscriptionNotFound
}

func (r *stubSubscriptionRepo) FindSuspendedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*billing.Subscription, error) {
	return nil, nil
}

func (r *stubSubscriptionRepo) Create(ctx context.Context, sub *billing.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[sub.ID] = *sub
	r.order = append(r.order, sub.ID)
	return nil
}

func (r *stubSubscriptionRepo) Save(ctx context.Context, sub *billing.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[sub.ID]; !ok {
		return billing.ErrSubscriptionNotFound
	}
	r.subs[sub.ID] = *sub
	return nil
}

type stubTransactionRepo struct {
	mu  sync.Mutex
	txs map[string]billing.PaymentTransaction
}

func newStubTransactionRepo() *stubTransactionRepo {
	return &stubTransactionRepo{txs: make(map[string]billing.PaymentTransaction)}
}

func (r *stubTransactionRepo) CreateIfAbsent(ctx context.Context, tx *billing.PaymentTransaction) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.txs[tx.Reference]; ok {
		return false, nil
	}
	r.txs[tx.Reference] = *tx
	return true, nil
}

func (r *stubTransactionRepo) FindByReference(ctx context.Context, reference string) (*billing.PaymentTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.txs[reference]
	if !ok {
		return nil, billing.ErrTransactionNotFound
	}
	return &tx, nil
}

func (r *stubTransactionRepo) Save(ctx context.Context, tx *billing.PaymentTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txs[tx.Reference] = *tx
	return nil
}

type stubCounterKey struct {
	userID      uuid.UUID
	resourceKey billing.ResourceKey
	periodStart time.Time
}

type stubCounterRepo struct {
	mu       sync.Mutex
	counters map[stubCounterKey]billing.UsageCounter
}

func newStubCounterRepo() *stubCounterRepo {
	return &stubCounterRepo{counters: make(map[stubCounterKey]billing.UsageCounter)}
}

func (r *stubCounterRepo) EnsureCounter(ctx context.Context, counter *billing.UsageCounter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := stubCounterKey{counter.UserID, counter.ResourceKey, counter.PeriodStart}
	if _, ok := r.counters[key]; !ok {
		r.counters[key] = *counter
	}
	return nil
}

func (r *stubCounterRepo) IncrementWithinLimit(ctx context.Context, userID uuid.UUID, key billing.ResourceKey, periodStart time.Time, amount, ceiling int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := stubCounterKey{userID, key, periodStart}
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

func (r *stubCounterRepo) FindCurrent(ctx context.Context, userID uuid.UUID, key billing.ResourceKey, periodStart time.Time) (*billing.UsageCounter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counter, ok := r.counters[stubCounterKey{userID, key, periodStart}]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &counter, nil
}

func (r *stubCounterRepo) FindAllCurrent(ctx context.Context, userID uuid.UUID) ([]*billing.UsageCounter, error) {
	return nil, nil
}

type stubCacheEntry struct {
	value     []byte
	expiresAt time.Time
}

type stubCache struct {
	mu              sync.Mutex
	entries         map[string]stubCacheEntry
	failSetIfAbsent error
}

func newStubCache() *stubCache {
	return &stubCache{entries: make(map[string]stubCacheEntry)}
}

func (c *stubCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, nil
	}
	return entry.value, nil
}

func (c *stubCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = stubCacheEntry{value: value, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (c *stubCache) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSetIfAbsent != nil {
		return false, c.failSetIfAbsent
	}
	if entry, ok := c.entries[key]; ok && time.Now().Before(entry.expiresAt) {
		return false, nil
	}
	c.entries[key] = stubCacheEntry{value: value, expiresAt: time.Now().Add(ttl)}
	return true, nil
}

func (c *stubCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func (c *stubCache) DeleteByPrefix(ctx context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
	return nil
}

func (c *stubCache) Close() error { return nil }

type stubGateway struct {
	mu         sync.Mutex
	initResp   *billing.InitializeResponse
	initErr    error
	verifyResp *billing.VerifyResponse
	verifyErr  error
	parseEvent *billing.WebhookEvent
	parseErr   error
}

func (g *stubGateway) InitializeTransaction(ctx context.Context, req billing.InitializeRequest) (*billing.InitializeResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.initErr != nil {
		return nil, g.initErr
	}
	if g.initResp != nil {
		return g.initResp, nil
	}
	return &billing.InitializeResponse{
		Reference:   req.Reference,
		RedirectURL: "https://checkout.example.com/" + req.Reference,
	}, nil
}

func (g *stubGateway) VerifyTransaction(ctx context.Context, reference string) (*billing.VerifyResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.verifyErr != nil {
		return nil, g.verifyErr
	}
	return g.verifyResp, nil
}

func (g *stubGateway) ParseWebhook(rawBody []byte, signatureHeader string) (*billing.WebhookEvent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.parseErr != nil {
		return nil, g.parseErr
	}
	return g.parseEvent, nil
}

type testEnv struct {
	subs     *stubSubscriptionRepo
	txs      *stubTransactionRepo
	counters *stubCounterRepo
	cache    *stubCache
	gateway  *stubGateway
	engine   *gin.Engine
	catalog  *billing.PlanCatalog
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	catalog, err := billing.NewPlanCatalog([]billing.Plan{
		{
			ID:       "free",
			Name:     "Free",
			Cycle:    billing.BillingCycleMonthly,
			Price:    decimal.Zero,
			Currency: "USD",
			Ceilings: map[billing.ResourceKey]billing.Ceiling{
				billing.ResourceJobApplications: {Limit: 2, Period: billing.ResetPeriodMonthly},
			},
		},
		{
			ID:       "pro-monthly",
			Name:     "Pro",
			Cycle:    billing.BillingCycleMonthly,
			Price:    decimal.RequireFromString("19.99"),
			Currency: "USD",
			Ceilings: map[billing.ResourceKey]billing.Ceiling{
				billing.ResourceJobApplications: {Limit: -1, Period: billing.ResetPeriodMonthly},
			},
		},
	})
	require.NoError(t, err)

	env := &testEnv{
		subs:     newStubSubscriptionRepo(),
		txs:      newStubTransactionRepo(),
		counters: newStubCounterRepo(),
		cache:    newStubCache(),
		gateway:  &stubGateway{},
		catalog:  catalog,
	}

	log := zap.NewNop()
	subscriptions := appbilling.NewSubscriptionService(env.subs, env.txs, env.gateway, catalog, nil, log,
		appbilling.SubscriptionServiceConfig{
			RenewalGrace:   24 * time.Hour,
			RecoveryWindow: 72 * time.Hour,
		})
	meter := appbilling.NewUsageMeterService(env.counters, log)
	entitlements := appbilling.NewEntitlementService(env.subs, catalog, env.cache, meter, log,
		appbilling.EntitlementServiceConfig{CacheTTL: time.Minute, FreePlanID: "free"})
	processor := appbilling.NewWebhookProcessor(env.gateway, env.cache, subscriptions, log,
		appbilling.WebhookProcessorConfig{DedupTTL: 72 * time.Hour})

	engine := gin.New()
	api := engine.Group("/api/v1")
	NewBillingHandler(subscriptions, entitlements).RegisterRoutes(api)
	NewWebhookHandler(processor).RegisterRoutes(api)
	env.engine = engine
	return env
}
