package billing

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/omniai/payments/app/models"
	"github.com/omniai/payments/internal/pkg/entitlements"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 100

	// statsTimeout bounds each counter update so a slow cache cannot hold
	// up webhook acknowledgement.
	statsTimeout = 250 * time.Millisecond
)

// Service runs checkout, webhook processing and subscription queries.
type Service struct {
	cfg       Config
	validator *Validator
	repo      Repository
	provider  Provider
	stats     Stats
	publisher Publisher
	log       *zap.Logger
	now       func() time.Time
}

type Option func(*Service)

func WithStats(st Stats) Option {
	return func(s *Service) {
		if st != nil {
			s.stats = st
		}
	}
}

func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates a billing service from injected dependencies.
func NewService(cfg Config, repo Repository, provider Provider, opts ...Option) *Service {
	s := &Service{
		cfg:       cfg,
		validator: NewValidator(cfg),
		repo:      repo,
		provider:  provider,
		stats:     nopStats{},
		publisher: nopPublisher{},
		log:       zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewServiceFromDB creates a billing service from a GORM DB handle.
func NewServiceFromDB(cfg Config, db *gorm.DB, provider Provider, opts ...Option) *Service {
	return NewService(cfg, NewRepository(db, NewValidator(cfg)), provider, opts...)
}

func (s *Service) Config() Config {
	return s.cfg
}

func (s *Service) Validator() *Validator {
	return s.validator
}

// Pricing lists the active tiers grouped by audience.
func (s *Service) Pricing(ctx context.Context) (*Pricing, error) {
	plans, err := s.repo.ListActivePlans(ctx)
	if err != nil {
		return nil, err
	}
	out := &Pricing{
		Currency: s.cfg.Currency,
		Plans:    make(map[string]PlanPricing, 2),
	}
	for _, userType := range []string{models.UserTypeIndividual, models.UserTypeCompany} {
		tiers := plansForUserType(plans, userType)
		pp := PlanPricing{Tiers: tiers}
		if p := cheapestPlan(tiers, models.BillingCycleMonthly); p != nil {
			pp.Monthly = p.PriceMonthly
		}
		if p := cheapestPlan(tiers, models.BillingCycleAnnual); p != nil {
			pp.Annual = p.PriceAnnual
		}
		out.Plans[userType] = pp
	}
	return out, nil
}

// SubscriptionStatus returns the user's current non-canceled subscription.
func (s *Service) SubscriptionStatus(ctx context.Context, userID uint) (*SubscriptionStatus, error) {
	if userID == 0 {
		return nil, ErrUnauthorized
	}
	us, err := s.repo.FindUserSubscription(ctx, userID,
		models.SubscriptionStatusActive,
		models.SubscriptionStatusPastDue,
		models.SubscriptionStatusIncomplete,
	)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newError(KindNotFound, "no active subscription")
	}
	if err != nil {
		return nil, err
	}
	return &SubscriptionStatus{
		Subscription: us,
		Plan:         us.Subscription,
		Features:     entitlements.ForPlan(us.Subscription),
		Entitled:     us.IsEntitling(s.now()),
	}, nil
}

// PaymentHistory returns the user's transactions, newest first.
func (s *Service) PaymentHistory(ctx context.Context, userID uint, limit int) ([]models.PaymentTransaction, error) {
	if userID == 0 {
		return nil, ErrUnauthorized
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	return s.repo.ListTransactionsByUser(ctx, userID, limit)
}

// SyncSubscription pulls the provider's view of the user's subscription and
// stores status and period data locally.
func (s *Service) SyncSubscription(ctx context.Context, userID uint) (*models.UserSubscription, error) {
	if userID == 0 {
		return nil, ErrUnauthorized
	}
	us, err := s.repo.FindUserSubscription(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newError(KindNoProviderCustomer, "no provider customer id on file for this user")
	}
	if err != nil {
		return nil, err
	}
	if us.ProviderCustomerID == "" {
		return nil, newError(KindNoProviderCustomer, "no provider customer id on file for this user")
	}

	pctx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	defer cancel()

	var remote *ProviderSubscription
	if us.ProviderSubscriptionID != "" {
		remote, err = s.provider.GetSubscription(pctx, us.ProviderSubscriptionID)
	} else {
		remote, err = s.provider.FindCustomerSubscription(pctx, us.ProviderCustomerID)
	}
	if err != nil {
		s.log.Warn("subscription sync failed",
			zap.Uint("user_id", userID),
			zap.String("customer_id", us.ProviderCustomerID),
			zap.Error(err),
		)
		return nil, err
	}
	if remote == nil {
		return us, nil
	}

	applyProviderSubscription(us, remote)
	if err := s.repo.SaveUserSubscription(ctx, us); err != nil {
		return nil, err
	}
	s.log.Info("subscription synced",
		zap.Uint("user_id", userID),
		zap.String("provider_subscription_id", us.ProviderSubscriptionID),
		zap.String("status", us.Status),
	)
	return us, nil
}

// SeedPlans installs DefaultPlans unless any plan already exists. It returns
// the number of plans created.
func (s *Service) SeedPlans(ctx context.Context) (int, error) {
	n, err := s.repo.CountPlans(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		return 0, nil
	}
	plans := DefaultPlans()
	for i := range plans {
		plans[i].Currency = s.cfg.Currency
		plans[i].IsActive = true
	}
	if err := s.repo.CreatePlans(ctx, plans); err != nil {
		return 0, err
	}
	return len(plans), nil
}

func applyProviderSubscription(us *models.UserSubscription, remote *ProviderSubscription) {
	us.Status = localSubscriptionStatus(remote.Status)
	if remote.ID != "" {
		us.ProviderSubscriptionID = remote.ID
	}
	if remote.CustomerID != "" {
		us.ProviderCustomerID = remote.CustomerID
	}
	if remote.CurrentPeriodStart != nil {
		us.CurrentPeriodStart = remote.CurrentPeriodStart
	}
	if remote.CurrentPeriodEnd != nil {
		us.CurrentPeriodEnd = remote.CurrentPeriodEnd
	}
	us.CancelAtPeriodEnd = remote.CancelAtPeriodEnd
}

func (s *Service) incr(ctx context.Context, field string) {
	ctx, cancel := context.WithTimeout(ctx, statsTimeout)
	defer cancel()
	if err := s.stats.Incr(ctx, field); err != nil {
		s.log.Debug("webhook stats increment failed", zap.String("field", field), zap.Error(err))
	}
}

func (s *Service) publish(ctx context.Context, ev PaymentEvent) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = s.now().UTC()
	}
	if ev.Currency == "" {
		ev.Currency = s.cfg.Currency
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.log.Warn("payment event publish failed",
			zap.String("event_type", ev.EventType),
			zap.String("transaction_ref", ev.TransactionRef),
			zap.Error(err),
		)
	}
}
