package billing

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/omniai/payments/app/models"
)

func (s *Service) onCheckoutCompleted(ctx context.Context, raw json.RawMessage) (bool, error) {
	var cs stripe.CheckoutSession
	if err := json.Unmarshal(raw, &cs); err != nil || cs.ID == "" {
		return false, wrapError(KindMalformedPayload, err, "checkout session object is invalid")
	}

	tx, err := s.repo.GetTransactionByProviderReference(ctx, cs.ID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		tx, err = s.transactionFromSession(ctx, &cs)
	}
	if err != nil {
		return false, err
	}

	if tx.Status != models.PaymentStatusPending {
		s.log.Info("checkout already settled", zap.String("transaction_ref", tx.Reference), zap.String("status", tx.Status))
		return true, nil
	}

	// Resolved before anything changes so a provider outage leaves the row
	// untouched and the event is retried.
	ref, err := s.sessionPaymentRef(ctx, &cs)
	if err != nil {
		return false, err
	}

	// Delayed payment methods complete the session before the money moves.
	// The reference is stored so the later failure or success can find the row.
	if cs.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
		if ref != "" && ref != tx.ProviderPaymentRef {
			if _, err := s.repo.TransitionTransaction(ctx, tx.ID, models.PaymentStatusPending, models.PaymentStatusPending,
				map[string]interface{}{"provider_payment_ref": ref}); err != nil {
				return false, err
			}
		}
		s.log.Info("checkout awaiting payment", zap.String("transaction_ref", tx.Reference), zap.String("session_id", cs.ID))
		return true, nil
	}

	// Activate before settling: if activation fails the row stays pending
	// and the provider's retry runs both steps again.
	customerID := ""
	if cs.Customer != nil {
		customerID = cs.Customer.ID
	}
	providerSubID := ""
	if cs.Subscription != nil {
		providerSubID = cs.Subscription.ID
	}
	if err := s.activateSubscription(ctx, tx, customerID, providerSubID); err != nil {
		return false, err
	}

	fields := map[string]interface{}{}
	if ref != "" {
		fields["provider_payment_ref"] = ref
	}
	moved, err := s.repo.TransitionTransaction(ctx, tx.ID, models.PaymentStatusPending, models.PaymentStatusSucceeded, fields)
	if err != nil {
		return false, err
	}
	if !moved {
		return true, nil
	}

	s.publish(ctx, PaymentEvent{
		EventType:      "payment.succeeded",
		TransactionRef: tx.Reference,
		UserID:         tx.UserID,
		SubscriptionID: tx.SubscriptionID,
		Amount:         tx.Amount.StringFixed(2),
		Currency:       tx.Currency,
		Status:         models.PaymentStatusSucceeded,
	})
	return true, nil
}

// transactionFromSession rebuilds the pending row that checkout could not
// persist, from the metadata the session was created with.
func (s *Service) transactionFromSession(ctx context.Context, cs *stripe.CheckoutSession) (*models.PaymentTransaction, error) {
	userID, err := strconv.ParseUint(cs.Metadata[MetaUserID], 10, 64)
	if err != nil || userID == 0 {
		return nil, newError(KindMalformedPayload, "checkout session %s has no user_id metadata", cs.ID)
	}
	planID, err := strconv.ParseUint(cs.Metadata[MetaSubscriptionID], 10, 64)
	if err != nil || planID == 0 {
		return nil, newError(KindMalformedPayload, "checkout session %s has no subscription_id metadata", cs.ID)
	}
	cycle := normalizeCycle(cs.Metadata[MetaBillingCycle])
	if !models.IsValidBillingCycle(cycle) {
		return nil, newError(KindMalformedPayload, "checkout session %s has no billing_cycle metadata", cs.ID)
	}

	plan, err := s.repo.GetPlan(ctx, uint(planID))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newError(KindMalformedPayload, "checkout session %s references unknown plan %d", cs.ID, planID)
	}
	if err != nil {
		return nil, err
	}
	amount, _ := plan.PriceFor(cycle)
	if cs.AmountTotal > 0 {
		amount = decimal.New(cs.AmountTotal, -2)
	}

	tx := &models.PaymentTransaction{
		Reference:         cs.Metadata[MetaTransactionRef],
		UserID:            uint(userID),
		SubscriptionID:    plan.ID,
		BillingCycle:      cycle,
		Amount:            amount,
		Currency:          models.CurrencyUSD,
		Status:            models.PaymentStatusPending,
		ProviderReference: cs.ID,
	}
	if err := s.repo.CreateTransaction(ctx, tx); err != nil {
		var be *Error
		if errors.As(err, &be) {
			return nil, wrapError(KindMalformedPayload, err, "checkout session %s does not carry a valid USD amount", cs.ID)
		}
		return nil, err
	}
	s.log.Info("pending transaction reconciled from webhook",
		zap.String("transaction_ref", tx.Reference),
		zap.String("session_id", cs.ID),
	)
	return tx, nil
}

func (s *Service) activateSubscription(ctx context.Context, tx *models.PaymentTransaction, customerID, providerSubID string) error {
	us, err := s.repo.FindUserSubscription(ctx, tx.UserID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		us = &models.UserSubscription{UserID: tx.UserID}
	} else if err != nil {
		return err
	}

	now := s.now().UTC()
	end := periodEnd(now, tx.BillingCycle)
	us.SubscriptionID = tx.SubscriptionID
	us.Subscription = nil
	us.BillingCycle = tx.BillingCycle
	us.Status = models.SubscriptionStatusActive
	us.CurrentPeriodStart = &now
	us.CurrentPeriodEnd = &end
	us.CancelAtPeriodEnd = false
	if customerID != "" {
		us.ProviderCustomerID = customerID
	}
	if providerSubID != "" {
		us.ProviderSubscriptionID = providerSubID
	}
	return s.repo.SaveUserSubscription(ctx, us)
}

func (s *Service) onCheckoutFailed(ctx context.Context, raw json.RawMessage, reason string) (bool, error) {
	var cs stripe.CheckoutSession
	if err := json.Unmarshal(raw, &cs); err != nil || cs.ID == "" {
		return false, wrapError(KindMalformedPayload, err, "checkout session object is invalid")
	}
	tx, err := s.repo.GetTransactionByProviderReference(ctx, cs.ID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return s.failTransaction(ctx, tx, reason)
}

func (s *Service) onPaymentIntentFailed(ctx context.Context, raw json.RawMessage) (bool, error) {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(raw, &pi); err != nil || pi.ID == "" {
		return false, wrapError(KindMalformedPayload, err, "payment intent object is invalid")
	}
	tx, err := s.transactionForPayment(ctx, pi.ID, invoiceRef(raw))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	reason := string(stripe.EventTypePaymentIntentPaymentFailed)
	if pi.LastPaymentError != nil && pi.LastPaymentError.Msg != "" {
		reason = pi.LastPaymentError.Msg
	}
	return s.failTransaction(ctx, tx, reason)
}

func (s *Service) failTransaction(ctx context.Context, tx *models.PaymentTransaction, reason string) (bool, error) {
	moved, err := s.repo.TransitionTransaction(ctx, tx.ID, models.PaymentStatusPending, models.PaymentStatusFailed,
		map[string]interface{}{"failure_reason": reason})
	if err != nil {
		return false, err
	}
	if moved {
		s.publish(ctx, PaymentEvent{
			EventType:      "payment.failed",
			TransactionRef: tx.Reference,
			UserID:         tx.UserID,
			SubscriptionID: tx.SubscriptionID,
			Amount:         tx.Amount.StringFixed(2),
			Currency:       tx.Currency,
			Status:         models.PaymentStatusFailed,
		})
	}
	return true, nil
}

// invoiceObject holds the invoice fields used here. The subscription id
// moved under parent.subscription_details in newer API versions, so both
// places are read.
type invoiceObject struct {
	ID           string `json:"id"`
	Subscription string `json:"subscription"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription string `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
	PeriodEnd int64 `json:"period_end"`
}

func (inv *invoiceObject) subscriptionID() string {
	if inv.Subscription != "" {
		return inv.Subscription
	}
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		return inv.Parent.SubscriptionDetails.Subscription
	}
	return ""
}

func (s *Service) onInvoice(ctx context.Context, raw json.RawMessage, status string) (bool, error) {
	var inv invoiceObject
	if err := json.Unmarshal(raw, &inv); err != nil || inv.ID == "" {
		return false, wrapError(KindMalformedPayload, err, "invoice object is invalid")
	}
	subID := inv.subscriptionID()
	if subID == "" {
		return false, nil
	}
	us, err := s.repo.GetUserSubscriptionByProviderID(ctx, subID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	us.Status = status
	if status == models.SubscriptionStatusActive {
		now := s.now().UTC()
		end := periodEnd(now, us.BillingCycle)
		us.CurrentPeriodStart = &now
		us.CurrentPeriodEnd = &end
	}
	if err := s.repo.SaveUserSubscription(ctx, us); err != nil {
		return false, err
	}
	s.publish(ctx, PaymentEvent{
		EventType:      "subscription." + status,
		UserID:         us.UserID,
		SubscriptionID: us.SubscriptionID,
		Status:         status,
	})
	return true, nil
}

func (s *Service) onSubscriptionChanged(ctx context.Context, raw json.RawMessage, deleted bool) (bool, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil || sub.ID == "" {
		return false, wrapError(KindMalformedPayload, err, "subscription object is invalid")
	}
	us, err := s.repo.GetUserSubscriptionByProviderID(ctx, sub.ID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	applyProviderSubscription(us, toProviderSubscription(&sub))
	if deleted {
		us.Status = models.SubscriptionStatusCanceled
	}
	if err := s.repo.SaveUserSubscription(ctx, us); err != nil {
		return false, err
	}
	s.publish(ctx, PaymentEvent{
		EventType:      "subscription." + us.Status,
		UserID:         us.UserID,
		SubscriptionID: us.SubscriptionID,
		Status:         us.Status,
	})
	return true, nil
}

func (s *Service) onChargeRefunded(ctx context.Context, raw json.RawMessage) (bool, error) {
	var ch stripe.Charge
	if err := json.Unmarshal(raw, &ch); err != nil || ch.ID == "" {
		return false, wrapError(KindMalformedPayload, err, "charge object is invalid")
	}
	piID := ""
	if ch.PaymentIntent != nil {
		piID = ch.PaymentIntent.ID
	}
	tx, err := s.transactionForPayment(ctx, piID, invoiceRef(raw))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	moved, err := s.repo.TransitionTransaction(ctx, tx.ID, models.PaymentStatusSucceeded, models.PaymentStatusRefunded, nil)
	if err != nil {
		return false, err
	}
	if moved {
		s.publish(ctx, PaymentEvent{
			EventType:      "payment.refunded",
			TransactionRef: tx.Reference,
			UserID:         tx.UserID,
			SubscriptionID: tx.SubscriptionID,
			Amount:         tx.Amount.StringFixed(2),
			Currency:       tx.Currency,
			Status:         models.PaymentStatusRefunded,
		})
	}
	return true, nil
}

// sessionPaymentRef returns the payment intent that charged the session.
// Subscription-mode sessions only carry the first invoice, whose payment
// intent is looked up at the provider. The invoice id is kept when the
// invoice has no payment, e.g. a zero-amount first period.
func (s *Service) sessionPaymentRef(ctx context.Context, cs *stripe.CheckoutSession) (string, error) {
	if cs.PaymentIntent != nil && cs.PaymentIntent.ID != "" {
		return cs.PaymentIntent.ID, nil
	}
	if cs.Invoice == nil || cs.Invoice.ID == "" {
		return "", nil
	}
	if s.provider == nil {
		return cs.Invoice.ID, nil
	}

	pctx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	defer cancel()
	pi, err := s.provider.InvoicePaymentIntent(pctx, cs.Invoice.ID)
	if err != nil {
		return "", err
	}
	if pi == "" {
		return cs.Invoice.ID, nil
	}
	return pi, nil
}

// transactionForPayment finds the row by payment intent, then by invoice.
func (s *Service) transactionForPayment(ctx context.Context, paymentIntentID, invoiceID string) (*models.PaymentTransaction, error) {
	for _, ref := range []string{paymentIntentID, invoiceID} {
		if ref == "" {
			continue
		}
		tx, err := s.repo.GetTransactionByPaymentRef(ctx, ref)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		return tx, err
	}
	return nil, gorm.ErrRecordNotFound
}

// invoiceRef reads the invoice id that charges and payment intents carried
// before the 2025-03-31 API version. Expanded objects are not expected here.
func invoiceRef(raw json.RawMessage) string {
	var obj struct {
		Invoice json.RawMessage `json:"invoice"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ""
	}
	var id string
	if err := json.Unmarshal(obj.Invoice, &id); err != nil {
		return ""
	}
	return id
}

func periodEnd(start time.Time, cycle string) time.Time {
	if cycle == models.BillingCycleAnnual {
		return start.AddDate(1, 0, 0)
	}
	return start.AddDate(0, 1, 0)
}
