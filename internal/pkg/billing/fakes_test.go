package billing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"

	"github.com/omniai/payments/app/models"
)

const testWebhookSecret = "whsec_test_secret"

// memRepo is an in-memory Repository with the same conditional-update and
// insert-or-ignore semantics as the GORM implementation.
type memRepo struct {
	mu        sync.Mutex
	validator *Validator
	nextID    uint

	plans    []models.Subscription
	txs      map[uint]*models.PaymentTransaction
	subs     map[uint]*models.UserSubscription
	events   map[string]*models.WebhookEvent
	eventIDs map[uint]string

	createTxErr    error
	createEventErr error
	saveSubErr     error
	saveSubCalls   int
}

func newMemRepo() *memRepo {
	r := &memRepo{
		validator: NewValidator(DefaultConfig()),
		txs:       map[uint]*models.PaymentTransaction{},
		subs:      map[uint]*models.UserSubscription{},
		events:    map[string]*models.WebhookEvent{},
		eventIDs:  map[uint]string{},
	}
	plans := DefaultPlans()
	for i := range plans {
		plans[i].ID = uint(i + 1)
		plans[i].IsActive = true
	}
	r.plans = plans
	return r
}

func (r *memRepo) id() uint {
	r.nextID++
	return r.nextID
}

func (r *memRepo) ListActivePlans(context.Context) ([]models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Subscription
	for _, p := range r.plans {
		if p.IsActive {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *memRepo) GetPlan(_ context.Context, id uint) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.plans {
		if r.plans[i].ID == id {
			p := r.plans[i]
			return &p, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memRepo) CountPlans(context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.plans)), nil
}

func (r *memRepo) CreatePlans(_ context.Context, plans []models.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range plans {
		p.ID = uint(len(r.plans) + 1)
		r.plans = append(r.plans, p)
	}
	return nil
}

func (r *memRepo) CreateTransaction(_ context.Context, tx *models.PaymentTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createTxErr != nil {
		return r.createTxErr
	}
	if err := r.validator.ValidateAmount(tx.Amount, tx.Currency); err != nil {
		return err
	}
	for _, existing := range r.txs {
		if existing.ProviderReference == tx.ProviderReference {
			return gorm.ErrDuplicatedKey
		}
	}
	tx.ID = r.id()
	if tx.Status == "" {
		tx.Status = models.PaymentStatusPending
	}
	tx.CreatedAt = time.Now()
	cp := *tx
	r.txs[tx.ID] = &cp
	return nil
}

func (r *memRepo) GetTransactionByProviderReference(_ context.Context, ref string) (*models.PaymentTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tx := range r.txs {
		if tx.ProviderReference == ref {
			cp := *tx
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memRepo) GetTransactionByPaymentRef(_ context.Context, ref string) (*models.PaymentTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tx := range r.txs {
		if ref != "" && tx.ProviderPaymentRef == ref {
			cp := *tx
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memRepo) TransitionTransaction(_ context.Context, id uint, from, to string, fields map[string]interface{}) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.txs[id]
	if !ok || tx.Status != from {
		return false, nil
	}
	tx.Status = to
	if v, ok := fields["provider_payment_ref"].(string); ok {
		tx.ProviderPaymentRef = v
	}
	if v, ok := fields["failure_reason"].(string); ok {
		tx.FailureReason = v
	}
	return true, nil
}

func (r *memRepo) ListTransactionsByUser(_ context.Context, userID uint, limit int) ([]models.PaymentTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.PaymentTransaction
	for id := r.nextID; id > 0 && len(out) < limit; id-- {
		if tx, ok := r.txs[id]; ok && tx.UserID == userID {
			out = append(out, *tx)
		}
	}
	return out, nil
}

func (r *memRepo) FindUserSubscription(_ context.Context, userID uint, statuses ...string) (*models.UserSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := r.nextID; id > 0; id-- {
		us, ok := r.subs[id]
		if !ok || us.UserID != userID {
			continue
		}
		if len(statuses) > 0 && !contains(statuses, us.Status) {
			continue
		}
		cp := *us
		for i := range r.plans {
			if r.plans[i].ID == cp.SubscriptionID {
				p := r.plans[i]
				cp.Subscription = &p
			}
		}
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memRepo) GetUserSubscriptionByProviderID(_ context.Context, providerSubID string) (*models.UserSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, us := range r.subs {
		if us.ProviderSubscriptionID == providerSubID {
			cp := *us
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memRepo) SaveUserSubscription(_ context.Context, us *models.UserSubscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saveSubCalls++
	if r.saveSubErr != nil {
		return r.saveSubErr
	}
	if us.ID == 0 {
		us.ID = r.id()
	}
	cp := *us
	cp.Subscription = nil
	r.subs[us.ID] = &cp
	return nil
}

func (r *memRepo) CreateWebhookEventIfNotExists(_ context.Context, ev *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createEventErr != nil {
		return false, nil, r.createEventErr
	}
	key := ev.Provider + "/" + ev.ProviderEventID
	if stored, ok := r.events[key]; ok {
		cp := *stored
		return false, &cp, nil
	}
	ev.ID = r.id()
	cp := *ev
	r.events[key] = &cp
	r.eventIDs[ev.ID] = key
	out := cp
	return true, &out, nil
}

func (r *memRepo) MarkWebhookProcessed(_ context.Context, id uint, processingError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev, ok := r.events[r.eventIDs[id]]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	now := time.Now()
	ev.ProcessedAt = &now
	ev.ProcessingError = processingError
	return nil
}

func (r *memRepo) DeleteWebhookEvent(_ context.Context, id uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.events, r.eventIDs[id])
	delete(r.eventIDs, id)
	return nil
}

func (r *memRepo) transaction(ref string) *models.PaymentTransaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tx := range r.txs {
		if tx.ProviderReference == ref {
			cp := *tx
			return &cp
		}
	}
	return nil
}

func (r *memRepo) setPaymentRef(providerRef, paymentRef string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tx := range r.txs {
		if tx.ProviderReference == providerRef {
			tx.ProviderPaymentRef = paymentRef
		}
	}
}

func (r *memRepo) addSubscription(us models.UserSubscription) *models.UserSubscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	us.ID = r.id()
	r.subs[us.ID] = &us
	return &us
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

type fakeProvider struct {
	mu      sync.Mutex
	calls   []CheckoutSessionInput
	err     error
	remote  *ProviderSubscription
	lookups []string

	// invoice id -> payment intent id
	invoicePayments map[string]string
	invoiceErr      error
}

func (p *fakeProvider) CreateCheckoutSession(_ context.Context, in CheckoutSessionInput) (*CheckoutSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, in)
	if p.err != nil {
		return nil, p.err
	}
	id := "cs_test_" + in.TransactionRef[:8]
	return &CheckoutSession{ID: id, URL: "https://checkout.stripe.com/c/pay/" + id}, nil
}

func (p *fakeProvider) GetSubscription(_ context.Context, id string) (*ProviderSubscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lookups = append(p.lookups, "sub:"+id)
	return p.remote, p.err
}

func (p *fakeProvider) FindCustomerSubscription(_ context.Context, customerID string) (*ProviderSubscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lookups = append(p.lookups, "cus:"+customerID)
	return p.remote, p.err
}

func (p *fakeProvider) InvoicePaymentIntent(_ context.Context, invoiceID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lookups = append(p.lookups, "in:"+invoiceID)
	if p.invoiceErr != nil {
		return "", p.invoiceErr
	}
	return p.invoicePayments[invoiceID], nil
}

type memStats struct {
	mu     sync.Mutex
	counts map[string]int
}

func (s *memStats) Incr(_ context.Context, field string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counts == nil {
		s.counts = map[string]int{}
	}
	s.counts[field]++
	return nil
}

func (s *memStats) get(field string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[field]
}

type memPublisher struct {
	mu     sync.Mutex
	events []PaymentEvent
	err    error
}

func (p *memPublisher) Publish(_ context.Context, ev PaymentEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *memPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.EventType)
	}
	return out
}

type testEnv struct {
	svc       *Service
	repo      *memRepo
	provider  *fakeProvider
	stats     *memStats
	publisher *memPublisher
	now       time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := DefaultConfig()
	cfg.SecretKey = "sk_test_123"
	cfg.PublishableKey = "pk_test_123"
	cfg.WebhookSecret = testWebhookSecret

	env := &testEnv{
		repo:      newMemRepo(),
		provider:  &fakeProvider{invoicePayments: map[string]string{"in_123": "pi_123"}},
		stats:     &memStats{},
		publisher: &memPublisher{},
		now:       time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
	}
	env.svc = NewService(cfg, env.repo, env.provider,
		WithStats(env.stats),
		WithPublisher(env.publisher),
		WithLogger(zaptest.NewLogger(t)),
		WithClock(func() time.Time { return env.now }),
	)
	return env
}

func signedHeader(payload []byte, secret string, ts time.Time) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: ts,
	}).Header
}

func sign(payload []byte) string {
	return signedHeader(payload, testWebhookSecret, time.Now())
}

var errDBDown = errors.New("db down")
