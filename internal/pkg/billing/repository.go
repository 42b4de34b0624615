package billing

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/omniai/payments/app/models"
)

// Repository provides DB operations used by the billing service.
type Repository interface {
	ListActivePlans(ctx context.Context) ([]models.Subscription, error)
	GetPlan(ctx context.Context, id uint) (*models.Subscription, error)
	CountPlans(ctx context.Context) (int64, error)
	CreatePlans(ctx context.Context, plans []models.Subscription) error

	CreateTransaction(ctx context.Context, tx *models.PaymentTransaction) error
	GetTransactionByProviderReference(ctx context.Context, providerRef string) (*models.PaymentTransaction, error)
	GetTransactionByPaymentRef(ctx context.Context, paymentRef string) (*models.PaymentTransaction, error)
	TransitionTransaction(ctx context.Context, id uint, from, to string, fields map[string]interface{}) (bool, error)
	ListTransactionsByUser(ctx context.Context, userID uint, limit int) ([]models.PaymentTransaction, error)

	FindUserSubscription(ctx context.Context, userID uint, statuses ...string) (*models.UserSubscription, error)
	GetUserSubscriptionByProviderID(ctx context.Context, providerSubscriptionID string) (*models.UserSubscription, error)
	SaveUserSubscription(ctx context.Context, us *models.UserSubscription) error

	CreateWebhookEventIfNotExists(ctx context.Context, event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error
	DeleteWebhookEvent(ctx context.Context, id uint) error
}

type gormRepository struct {
	db        *gorm.DB
	validator *Validator
}

// NewRepository creates a billing repository backed by GORM. Transaction
// amounts are validated again here before they reach the table.
func NewRepository(db *gorm.DB, validator *Validator) Repository {
	return &gormRepository{db: db, validator: validator}
}

func (r *gormRepository) ListActivePlans(ctx context.Context) ([]models.Subscription, error) {
	var plans []models.Subscription
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("user_type_applicable ASC, price_monthly ASC, id ASC").
		Find(&plans).Error
	return plans, err
}

func (r *gormRepository) GetPlan(ctx context.Context, id uint) (*models.Subscription, error) {
	var plan models.Subscription
	if err := r.db.WithContext(ctx).First(&plan, id).Error; err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *gormRepository) CountPlans(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Subscription{}).Count(&n).Error
	return n, err
}

func (r *gormRepository) CreatePlans(ctx context.Context, plans []models.Subscription) error {
	if len(plans) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&plans).Error
}

func (r *gormRepository) CreateTransaction(ctx context.Context, tx *models.PaymentTransaction) error {
	if err := r.validator.ValidateAmount(tx.Amount, tx.Currency); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(tx).Error
}

func (r *gormRepository) GetTransactionByProviderReference(ctx context.Context, providerRef string) (*models.PaymentTransaction, error) {
	var tx models.PaymentTransaction
	err := r.db.WithContext(ctx).Where("provider_reference = ?", providerRef).First(&tx).Error
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (r *gormRepository) GetTransactionByPaymentRef(ctx context.Context, paymentRef string) (*models.PaymentTransaction, error) {
	var tx models.PaymentTransaction
	err := r.db.WithContext(ctx).Where("provider_payment_ref = ?", paymentRef).First(&tx).Error
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// TransitionTransaction moves a transaction from one status to another with a
// conditional update. It reports false when the row was not in the expected
// status, which is how replays are kept from applying twice.
func (r *gormRepository) TransitionTransaction(ctx context.Context, id uint, from, to string, fields map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{
		"status":     to,
		"updated_at": time.Now(),
	}
	for k, v := range fields {
		updates[k] = v
	}
	res := r.db.WithContext(ctx).
		Model(&models.PaymentTransaction{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *gormRepository) ListTransactionsByUser(ctx context.Context, userID uint, limit int) ([]models.PaymentTransaction, error) {
	var txs []models.PaymentTransaction
	err := r.db.WithContext(ctx).
		Preload("Subscription").
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&txs).Error
	return txs, err
}

func (r *gormRepository) FindUserSubscription(ctx context.Context, userID uint, statuses ...string) (*models.UserSubscription, error) {
	var us models.UserSubscription
	q := r.db.WithContext(ctx).Preload("Subscription").Where("user_id = ?", userID)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	if err := q.Order("updated_at DESC, id DESC").First(&us).Error; err != nil {
		return nil, err
	}
	return &us, nil
}

func (r *gormRepository) GetUserSubscriptionByProviderID(ctx context.Context, providerSubscriptionID string) (*models.UserSubscription, error) {
	var us models.UserSubscription
	err := r.db.WithContext(ctx).
		Where("provider_subscription_id = ?", providerSubscriptionID).
		Order("id DESC").
		First(&us).Error
	if err != nil {
		return nil, err
	}
	return &us, nil
}

func (r *gormRepository) SaveUserSubscription(ctx context.Context, us *models.UserSubscription) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Save(us).Error
}

func (r *gormRepository) CreateWebhookEventIfNotExists(ctx context.Context, event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := r.db.WithContext(ctx).
		Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.WithContext(ctx).Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

// DeleteWebhookEvent releases the dedup slot so a provider retry can run the
// event again.
func (r *gormRepository) DeleteWebhookEvent(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Delete(&models.WebhookEvent{}, id).Error
}
